package utils

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrMalformedSignature = errors.New("malformed signature")

// RecoverSigner returns the address that produced an EIP-191 personal signature of data.
// Both 0/1 and 27/28 recovery ids are accepted, sig is left untouched.
func RecoverSigner(data, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("expected %d bytes, got %d: %w", crypto.SignatureLength, len(sig), ErrMalformedSignature)
	}
	normalized := make([]byte, crypto.SignatureLength)
	copy(normalized, sig)
	if normalized[crypto.RecoveryIDOffset] >= 27 {
		normalized[crypto.RecoveryIDOffset] -= 27
	}
	pk, err := crypto.SigToPub(accounts.TextHash(data), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("can't recover ecdsa signer: %v: %w", err, ErrMalformedSignature)
	}
	return crypto.PubkeyToAddress(*pk), nil
}
