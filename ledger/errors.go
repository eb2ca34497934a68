package ledger

import "errors"

var (
	ErrEscrowExists          = errors.New("escrow already exists")
	ErrEscrowNotFound        = errors.New("escrow not found")
	ErrZeroAddress           = errors.New("zero address")
	ErrInvalidAmount         = errors.New("amount must be positive")
	ErrEmptySecretHash       = errors.New("secret hash is empty")
	ErrInvalidTimelock       = errors.New("timelock duration out of range")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrNotRecipient          = errors.New("caller is not the escrow recipient")
	ErrNotInitiator          = errors.New("caller is not the escrow initiator")
	ErrNotInitiated          = errors.New("escrow is not in initiated state")
	ErrHashMismatch          = errors.New("secret does not match secret hash")
	ErrTimelockNotExpired    = errors.New("timelock has not expired")
	ErrReentrantCall         = errors.New("reentrant call")
	ErrUnsupportedChain      = errors.New("chain is not supported")
	ErrSameChain             = errors.New("source and destination chain must differ")
	ErrTransferExists        = errors.New("transfer already exists")
	ErrTransferNotFound      = errors.New("transfer not found")
	ErrTransferNotInitiated  = errors.New("transfer is not in initiated state")
	ErrEscrowMismatch        = errors.New("escrow does not belong to transfer")
	ErrNotOwner              = errors.New("caller is not the registry owner")
	ErrNotAuthorized         = errors.New("caller is not an authorized resolver")
)
