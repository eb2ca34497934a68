package postgres

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/ethereum/go-ethereum/common"

	"github.com/omni/htlc-bridge/db"
	"github.com/omni/htlc-bridge/entity"
	"github.com/omni/htlc-bridge/ledger"
)

type transfersRepo basePostgresRepo

func NewTransfersRepo(table string, db *db.DB) entity.TransfersRepo {
	return (*transfersRepo)(newBasePostgresRepo(table, db))
}

func (r *transfersRepo) Ensure(ctx context.Context, t *entity.Transfer) error {
	q, args, err := sq.Insert(r.table).
		Columns("id", "source_chain_id", "dest_chain_id", "source_escrow_id", "dest_escrow_id", "source_asset", "dest_asset",
			"initiator", "recipient", "amount", "dest_amount", "secret_hash", "secret", "secret_revealed",
			"timelock_seconds", "init_timestamp", "state", "winner", "expired", "fee_paid").
		Values(t.ID, t.SourceChainID, t.DestChainID, t.SourceEscrowID, t.DestEscrowID, t.SourceAsset, t.DestAsset,
			t.Initiator, t.Recipient, t.Amount, t.DestAmount, t.SecretHash, t.Secret, t.SecretRevealed,
			t.TimelockSeconds, t.InitTimestamp, t.State, t.Winner, t.Expired, t.FeePaid).
		Suffix(fmt.Sprintf("ON CONFLICT (id) DO UPDATE SET updated_at = NOW(), dest_escrow_id = EXCLUDED.dest_escrow_id, "+
			"secret = COALESCE(EXCLUDED.secret, %[1]s.secret), secret_revealed = %[1]s.secret_revealed OR EXCLUDED.secret_revealed, "+
			"state = EXCLUDED.state, winner = EXCLUDED.winner, expired = %[1]s.expired OR EXCLUDED.expired, "+
			"fee_paid = %[1]s.fee_paid OR EXCLUDED.fee_paid", r.table)).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("can't build query: %w", err)
	}
	_, err = r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("can't insert transfer: %w", err)
	}
	return nil
}

func (r *transfersRepo) GetByID(ctx context.Context, id common.Hash) (*entity.Transfer, error) {
	return r.get(ctx, sq.Eq{"id": id})
}

func (r *transfersRepo) GetByEscrowID(ctx context.Context, chainID uint64, escrowID common.Hash) (*entity.Transfer, error) {
	return r.get(ctx, sq.Or{
		sq.Eq{"source_chain_id": chainID, "source_escrow_id": escrowID},
		sq.Eq{"dest_chain_id": chainID, "dest_escrow_id": escrowID},
	})
}

func (r *transfersRepo) get(ctx context.Context, cond sq.Sqlizer) (*entity.Transfer, error) {
	q, args, err := sq.Select("*").
		From(r.table).
		Where(cond).
		Limit(1).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("can't build query: %w", err)
	}
	transfer := new(entity.Transfer)
	err = r.db.GetContext(ctx, transfer, q, args...)
	if err != nil {
		return nil, fmt.Errorf("can't get transfer: %w", err)
	}
	return transfer, nil
}

func (r *transfersRepo) FindByStates(ctx context.Context, states ...ledger.TransferState) ([]*entity.Transfer, error) {
	names := make([]string, len(states))
	for i, state := range states {
		names[i] = state.String()
	}
	q, args, err := sq.Select("*").
		From(r.table).
		Where(sq.Eq{"state": names}).
		OrderBy("init_timestamp").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("can't build query: %w", err)
	}
	transfers := make([]*entity.Transfer, 0, 10)
	err = r.db.SelectContext(ctx, &transfers, q, args...)
	if err != nil {
		return nil, fmt.Errorf("can't find transfers by state: %w", err)
	}
	return transfers, nil
}

// MarkSecretRevealed only touches the secret columns, so it never races with state transitions.
func (r *transfersRepo) MarkSecretRevealed(ctx context.Context, id common.Hash, secret common.Hash) error {
	q, args, err := sq.Update(r.table).
		Set("secret_revealed", true).
		Set("secret", sq.Expr("COALESCE(secret, ?)", secret)).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": id}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("can't build query: %w", err)
	}
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("can't mark secret as revealed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("can't get affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("can't mark secret as revealed: %w", db.ErrNotFound)
	}
	return nil
}

func (r *transfersRepo) MarkExpired(ctx context.Context, id common.Hash) error {
	return r.setFlag(ctx, id, "expired", "can't mark transfer as expired")
}

func (r *transfersRepo) MarkFeePaid(ctx context.Context, id common.Hash) error {
	return r.setFlag(ctx, id, "fee_paid", "can't mark bridge fee as paid")
}

func (r *transfersRepo) setFlag(ctx context.Context, id common.Hash, column, errMsg string) error {
	q, args, err := sq.Update(r.table).
		Set(column, true).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": id}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("can't build query: %w", err)
	}
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", errMsg, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("can't get affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", errMsg, db.ErrNotFound)
	}
	return nil
}
