package entity_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/omni/htlc-bridge/entity"
	"github.com/omni/htlc-bridge/ledger"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	for _, test := range []struct {
		err      error
		category error
	}{
		{nil, nil},
		{errors.New("boom"), nil},
		{fmt.Errorf("reputation below minimum: %w", entity.ErrValidation), entity.ErrValidation},
		{fmt.Errorf("can't create source escrow: %w", ledger.ErrInvalidTimelock), entity.ErrValidation},
		{fmt.Errorf("can't claim: %w", ledger.ErrUnsupportedChain), entity.ErrValidation},
		{ledger.ErrEscrowNotFound, entity.ErrNotFound},
		{ledger.ErrNotInitiated, entity.ErrInvalidState},
		{ledger.ErrNotRecipient, entity.ErrUnauthorized},
		{fmt.Errorf("dest claim: %w", ledger.ErrHashMismatch), entity.ErrHashMismatch},
		{ledger.ErrTimelockNotExpired, entity.ErrTimelock},
		{fmt.Errorf("source claim failed: %w", entity.ErrPartialExecution), entity.ErrPartialExecution},
	} {
		require.Equal(t, test.category, entity.Classify(test.err), "%v", test.err)
	}
}
