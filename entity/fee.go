package entity

import "math/big"

// BridgeFee is amount * feeBps / 10000, rounded down.
func BridgeFee(amount *big.Int, feeBps uint64) *big.Int {
	fee := new(big.Int).Mul(amount, new(big.Int).SetUint64(feeBps))
	return fee.Quo(fee, big.NewInt(10000))
}
