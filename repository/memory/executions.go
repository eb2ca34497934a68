package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/omni/htlc-bridge/db"
	"github.com/omni/htlc-bridge/entity"
)

type executionsRepo Store

func (r *executionsRepo) Ensure(_ context.Context, e *entity.Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var prevCreatedAt *time.Time
	if prev, ok := r.executions[e.ID]; ok {
		prevCreatedAt = prev.CreatedAt
	}
	touch(&e.CreatedAt, &e.UpdatedAt, prevCreatedAt)
	r.executions[e.ID] = e.Clone()
	appendUnique(r.executionsByTransfer, e.TransferID, e.ID)
	return nil
}

func (r *executionsRepo) GetByID(_ context.Context, id uuid.UUID) (*entity.Execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executions[id]
	if !ok {
		return nil, fmt.Errorf("can't get execution by id: %w", db.ErrNotFound)
	}
	return e.Clone(), nil
}

func (r *executionsRepo) FindByTransferID(_ context.Context, transferID common.Hash) ([]*entity.Execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.executionsByTransfer[transferID]
	res := make([]*entity.Execution, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		res = append(res, r.executions[ids[i]].Clone())
	}
	return res, nil
}
