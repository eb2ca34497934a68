package postgres

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/ethereum/go-ethereum/common"

	"github.com/omni/htlc-bridge/db"
	"github.com/omni/htlc-bridge/entity"
)

type escrowEventsRepo basePostgresRepo

func NewEscrowEventsRepo(table string, db *db.DB) entity.EscrowEventsRepo {
	return (*escrowEventsRepo)(newBasePostgresRepo(table, db))
}

func (r *escrowEventsRepo) Ensure(ctx context.Context, ev *entity.EscrowEvent) error {
	q, args, err := sq.Insert(r.table).
		Columns("log_id", "chain_id", "event", "escrow_id", "transfer_id", "subject", "secret", "tx_hash", "block_number").
		Values(ev.LogID, ev.ChainID, ev.Kind, ev.EscrowID, ev.TransferID, ev.Subject, ev.Secret, ev.TxHash, ev.BlockNumber).
		Suffix("ON CONFLICT (log_id) DO UPDATE SET updated_at = NOW()").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("can't build query: %w", err)
	}
	_, err = r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("can't insert escrow event: %w", err)
	}
	return nil
}

func (r *escrowEventsRepo) FindByIDs(ctx context.Context, ids []common.Hash) ([]*entity.EscrowEvent, error) {
	q, args, err := sq.Select("*").
		From(r.table).
		Where(sq.Or{sq.Eq{"escrow_id": ids}, sq.Eq{"transfer_id": ids}}).
		OrderBy("block_number", "log_id").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("can't build query: %w", err)
	}
	events := make([]*entity.EscrowEvent, 0, 8)
	err = r.db.SelectContext(ctx, &events, q, args...)
	if err != nil {
		return nil, fmt.Errorf("can't find escrow events: %w", err)
	}
	return events, nil
}
