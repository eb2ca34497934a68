package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/omni/htlc-bridge/db"
	"github.com/omni/htlc-bridge/entity"
)

type auctionsRepo Store

func (r *auctionsRepo) Ensure(_ context.Context, auction *entity.Auction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var prevCreatedAt *time.Time
	if prev, ok := r.auctions[auction.TransferID]; ok {
		prevCreatedAt = prev.CreatedAt
	}
	touch(&auction.CreatedAt, &auction.UpdatedAt, prevCreatedAt)
	r.auctions[auction.TransferID] = auction.Clone()
	return nil
}

func (r *auctionsRepo) GetByTransferID(_ context.Context, transferID common.Hash) (*entity.Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	auction, ok := r.auctions[transferID]
	if !ok {
		return nil, fmt.Errorf("can't get auction by transfer id: %w", db.ErrNotFound)
	}
	return auction.Clone(), nil
}

func (r *auctionsRepo) FindOpenEndedBefore(_ context.Context, ts time.Time) ([]*entity.Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]*entity.Auction, 0, 10)
	for _, auction := range r.auctions {
		if auction.Status == entity.AuctionStatusOpen && !auction.EndsAt.After(ts) {
			res = append(res, auction.Clone())
		}
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].EndsAt.Before(res[j].EndsAt)
	})
	return res, nil
}
