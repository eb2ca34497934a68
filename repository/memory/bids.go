package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/omni/htlc-bridge/db"
	"github.com/omni/htlc-bridge/entity"
)

type bidsRepo Store

func (r *bidsRepo) Ensure(_ context.Context, bid *entity.Bid) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var prevCreatedAt *time.Time
	if prev, ok := r.bids[bid.ID]; ok {
		prevCreatedAt = prev.CreatedAt
	}
	touch(&bid.CreatedAt, &bid.UpdatedAt, prevCreatedAt)
	r.bids[bid.ID] = bid.Clone()
	appendUnique(r.bidsByTransfer, bid.TransferID, bid.ID)
	appendUnique(r.bidsByResolver, bid.Resolver, bid.ID)
	return nil
}

func (r *bidsRepo) GetByID(_ context.Context, id uuid.UUID) (*entity.Bid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bid, ok := r.bids[id]
	if !ok {
		return nil, fmt.Errorf("can't get bid by id: %w", db.ErrNotFound)
	}
	return bid.Clone(), nil
}

func (r *bidsRepo) FindByTransferID(_ context.Context, transferID common.Hash) ([]*entity.Bid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(r.bidsByTransfer[transferID]), nil
}

func (r *bidsRepo) FindByResolver(_ context.Context, resolver common.Address) ([]*entity.Bid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(r.bidsByResolver[resolver]), nil
}

// collect keeps insertion order among bids submitted at the same instant.
func (r *bidsRepo) collect(ids []uuid.UUID) []*entity.Bid {
	res := make([]*entity.Bid, 0, len(ids))
	for _, id := range ids {
		res = append(res, r.bids[id].Clone())
	}
	sort.SliceStable(res, func(i, j int) bool {
		return res[i].SubmittedAt.Before(res[j].SubmittedAt)
	})
	return res
}
