package entity

import (
	"errors"

	"github.com/omni/htlc-bridge/ledger"
)

// Error categories. Specific errors wrap exactly one of them.
var (
	ErrValidation       = errors.New("validation failed")
	ErrNotFound         = errors.New("not found")
	ErrInvalidState     = errors.New("invalid state")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrHashMismatch     = errors.New("secret hash mismatch")
	ErrTimelock         = errors.New("timelock")
	ErrPartialExecution = errors.New("partial execution")
)

var categories = []error{
	ErrPartialExecution,
	ErrValidation,
	ErrNotFound,
	ErrInvalidState,
	ErrUnauthorized,
	ErrHashMismatch,
	ErrTimelock,
}

var ledgerCategories = map[error]error{
	ledger.ErrZeroAddress:           ErrValidation,
	ledger.ErrInvalidAmount:         ErrValidation,
	ledger.ErrEmptySecretHash:       ErrValidation,
	ledger.ErrInvalidTimelock:       ErrValidation,
	ledger.ErrUnsupportedChain:      ErrValidation,
	ledger.ErrSameChain:             ErrValidation,
	ledger.ErrInsufficientBalance:   ErrValidation,
	ledger.ErrInsufficientAllowance: ErrValidation,
	ledger.ErrEscrowNotFound:        ErrNotFound,
	ledger.ErrTransferNotFound:      ErrNotFound,
	ledger.ErrEscrowExists:          ErrInvalidState,
	ledger.ErrTransferExists:        ErrInvalidState,
	ledger.ErrNotInitiated:          ErrInvalidState,
	ledger.ErrTransferNotInitiated:  ErrInvalidState,
	ledger.ErrEscrowMismatch:        ErrInvalidState,
	ledger.ErrReentrantCall:         ErrInvalidState,
	ledger.ErrNotRecipient:          ErrUnauthorized,
	ledger.ErrNotInitiator:          ErrUnauthorized,
	ledger.ErrNotOwner:              ErrUnauthorized,
	ledger.ErrNotAuthorized:         ErrUnauthorized,
	ledger.ErrHashMismatch:          ErrHashMismatch,
	ledger.ErrTimelockNotExpired:    ErrTimelock,
}

// Classify returns the category err belongs to, or nil when it belongs to none.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	for _, category := range categories {
		if errors.Is(err, category) {
			return category
		}
	}
	for sentinel, category := range ledgerCategories {
		if errors.Is(err, sentinel) {
			return category
		}
	}
	return nil
}
