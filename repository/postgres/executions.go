package postgres

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/omni/htlc-bridge/db"
	"github.com/omni/htlc-bridge/entity"
)

type executionsRepo basePostgresRepo

func NewExecutionsRepo(table string, db *db.DB) entity.ExecutionsRepo {
	return (*executionsRepo)(newBasePostgresRepo(table, db))
}

func (r *executionsRepo) Ensure(ctx context.Context, e *entity.Execution) error {
	q, args, err := sq.Insert(r.table).
		Columns("id", "transfer_id", "resolver", "dest_tx_hash", "source_tx_hash", "gas_used", "bridge_fee", "status", "error").
		Values(e.ID, e.TransferID, e.Resolver, e.DestTxHash, e.SourceTxHash, e.GasUsed, e.BridgeFee, e.Status, e.Error).
		Suffix("ON CONFLICT (id) DO UPDATE SET updated_at = NOW(), dest_tx_hash = EXCLUDED.dest_tx_hash, source_tx_hash = EXCLUDED.source_tx_hash, " +
			"gas_used = EXCLUDED.gas_used, bridge_fee = EXCLUDED.bridge_fee, status = EXCLUDED.status, error = EXCLUDED.error").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("can't build query: %w", err)
	}
	_, err = r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("can't insert execution: %w", err)
	}
	return nil
}

func (r *executionsRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.Execution, error) {
	q, args, err := sq.Select("*").
		From(r.table).
		Where(sq.Eq{"id": id}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("can't build query: %w", err)
	}
	execution := new(entity.Execution)
	err = r.db.GetContext(ctx, execution, q, args...)
	if err != nil {
		return nil, fmt.Errorf("can't get execution by id: %w", err)
	}
	return execution, nil
}

func (r *executionsRepo) FindByTransferID(ctx context.Context, transferID common.Hash) ([]*entity.Execution, error) {
	q, args, err := sq.Select("*").
		From(r.table).
		Where(sq.Eq{"transfer_id": transferID}).
		OrderBy("created_at DESC").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("can't build query: %w", err)
	}
	executions := make([]*entity.Execution, 0, 4)
	err = r.db.SelectContext(ctx, &executions, q, args...)
	if err != nil {
		return nil, fmt.Errorf("can't find executions by transfer id: %w", err)
	}
	return executions, nil
}
