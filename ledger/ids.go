package ledger

import (
	"crypto/sha256"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	addressType = mustType("address")
	uint256Type = mustType("uint256")
	bytes32Type = mustType("bytes32")

	escrowIDArgs = abi.Arguments{
		{Name: "caller", Type: addressType},
		{Name: "asset", Type: addressType},
		{Name: "recipient", Type: addressType},
		{Name: "amount", Type: uint256Type},
		{Name: "destChainId", Type: uint256Type},
		{Name: "secretHash", Type: bytes32Type},
		{Name: "timelockDuration", Type: uint256Type},
		{Name: "timestamp", Type: uint256Type},
		{Name: "blockHeight", Type: uint256Type},
	}
	transferIDArgs = abi.Arguments{
		{Name: "sourceEscrowId", Type: bytes32Type},
		{Name: "destEscrowId", Type: bytes32Type},
		{Name: "sourceChainId", Type: uint256Type},
		{Name: "destChainId", Type: uint256Type},
	}
)

func mustType(name string) abi.Type {
	t, err := abi.NewType(name, "", nil)
	if err != nil {
		panic(err)
	}
	return t
}

// HashSecret is the digest escrows are locked under.
func HashSecret(secret [32]byte) common.Hash {
	return sha256.Sum256(secret[:])
}

func ComputeEscrowID(
	caller, asset, recipient common.Address,
	amount *big.Int,
	destChainID uint64,
	secretHash common.Hash,
	timelock time.Duration,
	timestamp time.Time,
	blockHeight uint64,
) common.Hash {
	if amount == nil {
		amount = new(big.Int)
	}
	packed, err := escrowIDArgs.Pack(
		caller, asset, recipient,
		amount,
		new(big.Int).SetUint64(destChainID),
		[32]byte(secretHash),
		big.NewInt(int64(timelock/time.Second)),
		big.NewInt(timestamp.Unix()),
		new(big.Int).SetUint64(blockHeight),
	)
	if err != nil {
		// argument types are fixed above
		panic(err)
	}
	return crypto.Keccak256Hash(packed)
}

// ComputeTransferID is stable for a given escrow pair, so lookups by it are idempotent.
func ComputeTransferID(sourceEscrowID, destEscrowID common.Hash, sourceChainID, destChainID uint64) common.Hash {
	packed, err := transferIDArgs.Pack(
		[32]byte(sourceEscrowID),
		[32]byte(destEscrowID),
		new(big.Int).SetUint64(sourceChainID),
		new(big.Int).SetUint64(destChainID),
	)
	if err != nil {
		panic(err)
	}
	return crypto.Keccak256Hash(packed)
}
