package memory

import (
	"context"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/omni/htlc-bridge/entity"
)

type escrowEventsRepo Store

func (r *escrowEventsRepo) Ensure(_ context.Context, ev *entity.EscrowEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var prevCreatedAt *time.Time
	if prev, ok := r.events[ev.LogID]; ok {
		prevCreatedAt = prev.CreatedAt
	}
	touch(&ev.CreatedAt, &ev.UpdatedAt, prevCreatedAt)
	stored := *ev
	r.events[ev.LogID] = &stored
	for _, id := range []*common.Hash{ev.EscrowID, ev.TransferID} {
		if id != nil {
			appendUnique(r.eventsByID, *id, ev.LogID)
		}
	}
	return nil
}

func (r *escrowEventsRepo) FindByIDs(_ context.Context, ids []common.Hash) ([]*entity.EscrowEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[uint]bool)
	res := make([]*entity.EscrowEvent, 0, 8)
	for _, id := range ids {
		for _, logID := range r.eventsByID[id] {
			if seen[logID] {
				continue
			}
			seen[logID] = true
			ev := *r.events[logID]
			res = append(res, &ev)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].BlockNumber != res[j].BlockNumber {
			return res[i].BlockNumber < res[j].BlockNumber
		}
		return res[i].LogID < res[j].LogID
	})
	return res, nil
}
