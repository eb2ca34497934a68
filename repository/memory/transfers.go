package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/omni/htlc-bridge/db"
	"github.com/omni/htlc-bridge/entity"
	"github.com/omni/htlc-bridge/ledger"
)

type transfersRepo Store

func (r *transfersRepo) Ensure(_ context.Context, t *entity.Transfer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var prevCreatedAt *time.Time
	if prev, ok := r.transfers[t.ID]; ok {
		prevCreatedAt = prev.CreatedAt
		// flags set by the indexer and the expiry sweeper are never cleared by a stale write
		t.Expired = t.Expired || prev.Expired
		t.SecretRevealed = t.SecretRevealed || prev.SecretRevealed
		t.FeePaid = t.FeePaid || prev.FeePaid
		if t.Secret == nil {
			t.Secret = cloneHashPtr(prev.Secret)
		}
	}
	touch(&t.CreatedAt, &t.UpdatedAt, prevCreatedAt)
	r.transfers[t.ID] = t.Clone()
	r.transfersByEscrow[escrowKey{t.SourceChainID, t.SourceEscrowID}] = t.ID
	if t.DestEscrowID != nil {
		r.transfersByEscrow[escrowKey{t.DestChainID, *t.DestEscrowID}] = t.ID
	}
	return nil
}

func (r *transfersRepo) GetByID(_ context.Context, id common.Hash) (*entity.Transfer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transfers[id]
	if !ok {
		return nil, fmt.Errorf("can't get transfer: %w", db.ErrNotFound)
	}
	return t.Clone(), nil
}

func (r *transfersRepo) GetByEscrowID(_ context.Context, chainID uint64, escrowID common.Hash) (*entity.Transfer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.transfersByEscrow[escrowKey{chainID, escrowID}]
	if !ok {
		return nil, fmt.Errorf("can't get transfer: %w", db.ErrNotFound)
	}
	return r.transfers[id].Clone(), nil
}

func (r *transfersRepo) FindByStates(_ context.Context, states ...ledger.TransferState) ([]*entity.Transfer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	wanted := make(map[ledger.TransferState]bool, len(states))
	for _, state := range states {
		wanted[state] = true
	}
	res := make([]*entity.Transfer, 0, 10)
	for _, t := range r.transfers {
		if wanted[t.State] {
			res = append(res, t.Clone())
		}
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].InitTimestamp.Before(res[j].InitTimestamp)
	})
	return res, nil
}

func (r *transfersRepo) MarkSecretRevealed(_ context.Context, id common.Hash, secret common.Hash) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.transfers[id]
	if !ok {
		return fmt.Errorf("can't mark secret as revealed: %w", db.ErrNotFound)
	}
	t.SecretRevealed = true
	if t.Secret == nil {
		t.Secret = &secret
	}
	now := time.Now()
	t.UpdatedAt = &now
	return nil
}

func (r *transfersRepo) MarkExpired(_ context.Context, id common.Hash) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.transfers[id]
	if !ok {
		return fmt.Errorf("can't mark transfer as expired: %w", db.ErrNotFound)
	}
	t.Expired = true
	now := time.Now()
	t.UpdatedAt = &now
	return nil
}

func (r *transfersRepo) MarkFeePaid(_ context.Context, id common.Hash) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.transfers[id]
	if !ok {
		return fmt.Errorf("can't mark bridge fee as paid: %w", db.ErrNotFound)
	}
	t.FeePaid = true
	now := time.Now()
	t.UpdatedAt = &now
	return nil
}

func cloneHashPtr(h *common.Hash) *common.Hash {
	if h == nil {
		return nil
	}
	res := *h
	return &res
}
