package postgres

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/ethereum/go-ethereum/common"

	"github.com/omni/htlc-bridge/db"
	"github.com/omni/htlc-bridge/entity"
)

type resolversRepo basePostgresRepo

func NewResolversRepo(table string, db *db.DB) entity.ResolversRepo {
	return (*resolversRepo)(newBasePostgresRepo(table, db))
}

func (r *resolversRepo) GetByAddress(ctx context.Context, address common.Address) (*entity.Resolver, error) {
	q, args, err := sq.Select("*").
		From(r.table).
		Where(sq.Eq{"address": address}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("can't build query: %w", err)
	}
	resolver := new(entity.Resolver)
	err = r.db.GetContext(ctx, resolver, q, args...)
	if err != nil {
		return nil, fmt.Errorf("can't get resolver by address: %w", err)
	}
	return resolver, nil
}

func (r *resolversRepo) ApplyOutcome(ctx context.Context, outcome *entity.ResolverOutcome) (*entity.Resolver, error) {
	var executions, failures uint64
	if outcome.Succeeded {
		executions = 1
	} else {
		failures = 1
	}
	fee := outcome.Fee
	if fee == nil {
		fee = entity.NewBigInt(nil)
	}
	q, args, err := sq.Insert(r.table).
		Columns("address", "reputation", "executions", "failures", "total_fees").
		Values(outcome.Address, entity.ClampReputation(outcome.InitialReputation+outcome.Delta), executions, failures, fee).
		Suffix(fmt.Sprintf("ON CONFLICT (address) DO UPDATE SET updated_at = NOW(), "+
			"reputation = LEAST(1, GREATEST(0, %[1]s.reputation + ?)), "+
			"executions = %[1]s.executions + EXCLUDED.executions, "+
			"failures = %[1]s.failures + EXCLUDED.failures, "+
			"total_fees = %[1]s.total_fees + EXCLUDED.total_fees", r.table), outcome.Delta).
		Suffix("RETURNING *").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("can't build query: %w", err)
	}
	resolver := new(entity.Resolver)
	err = r.db.GetContext(ctx, resolver, q, args...)
	if err != nil {
		return nil, fmt.Errorf("can't apply resolver outcome: %w", err)
	}
	return resolver, nil
}
