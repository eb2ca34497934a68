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

type bidsRepo basePostgresRepo

func NewBidsRepo(table string, db *db.DB) entity.BidsRepo {
	return (*bidsRepo)(newBasePostgresRepo(table, db))
}

func (r *bidsRepo) Ensure(ctx context.Context, bid *entity.Bid) error {
	q, args, err := sq.Insert(r.table).
		Columns("id", "transfer_id", "resolver", "bid_price", "execution_time", "gas_estimate", "reputation_score",
			"stake_amount", "score", "competitive", "status", "reason", "submitted_at").
		Values(bid.ID, bid.TransferID, bid.Resolver, bid.BidPrice, bid.ExecutionTime, bid.GasEstimate, bid.ReputationScore,
			bid.StakeAmount, bid.Score, bid.Competitive, bid.Status, bid.Reason, bid.SubmittedAt).
		Suffix("ON CONFLICT (id) DO UPDATE SET updated_at = NOW(), status = EXCLUDED.status, reason = EXCLUDED.reason").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("can't build query: %w", err)
	}
	_, err = r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("can't insert bid: %w", err)
	}
	return nil
}

func (r *bidsRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.Bid, error) {
	q, args, err := sq.Select("*").
		From(r.table).
		Where(sq.Eq{"id": id}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("can't build query: %w", err)
	}
	bid := new(entity.Bid)
	err = r.db.GetContext(ctx, bid, q, args...)
	if err != nil {
		return nil, fmt.Errorf("can't get bid by id: %w", err)
	}
	return bid, nil
}

func (r *bidsRepo) FindByTransferID(ctx context.Context, transferID common.Hash) ([]*entity.Bid, error) {
	return r.find(ctx, sq.Eq{"transfer_id": transferID})
}

func (r *bidsRepo) FindByResolver(ctx context.Context, resolver common.Address) ([]*entity.Bid, error) {
	return r.find(ctx, sq.Eq{"resolver": resolver})
}

func (r *bidsRepo) find(ctx context.Context, cond sq.Sqlizer) ([]*entity.Bid, error) {
	q, args, err := sq.Select("*").
		From(r.table).
		Where(cond).
		OrderBy("submitted_at", "created_at").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("can't build query: %w", err)
	}
	bids := make([]*entity.Bid, 0, 10)
	err = r.db.SelectContext(ctx, &bids, q, args...)
	if err != nil {
		return nil, fmt.Errorf("can't find bids: %w", err)
	}
	return bids, nil
}
