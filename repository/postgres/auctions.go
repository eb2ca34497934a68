package postgres

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/ethereum/go-ethereum/common"

	"github.com/omni/htlc-bridge/db"
	"github.com/omni/htlc-bridge/entity"
)

type auctionsRepo basePostgresRepo

func NewAuctionsRepo(table string, db *db.DB) entity.AuctionsRepo {
	return (*auctionsRepo)(newBasePostgresRepo(table, db))
}

func (r *auctionsRepo) Ensure(ctx context.Context, auction *entity.Auction) error {
	q, args, err := sq.Insert(r.table).
		Columns("transfer_id", "started_at", "ends_at", "status", "winner_bid_id", "outcome").
		Values(auction.TransferID, auction.StartedAt, auction.EndsAt, auction.Status, auction.WinnerBidID, auction.Outcome).
		Suffix("ON CONFLICT (transfer_id) DO UPDATE SET updated_at = NOW(), status = EXCLUDED.status, winner_bid_id = EXCLUDED.winner_bid_id, outcome = EXCLUDED.outcome").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("can't build query: %w", err)
	}
	_, err = r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("can't insert auction: %w", err)
	}
	return nil
}

func (r *auctionsRepo) GetByTransferID(ctx context.Context, transferID common.Hash) (*entity.Auction, error) {
	q, args, err := sq.Select("*").
		From(r.table).
		Where(sq.Eq{"transfer_id": transferID}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("can't build query: %w", err)
	}
	auction := new(entity.Auction)
	err = r.db.GetContext(ctx, auction, q, args...)
	if err != nil {
		return nil, fmt.Errorf("can't get auction by transfer id: %w", err)
	}
	return auction, nil
}

func (r *auctionsRepo) FindOpenEndedBefore(ctx context.Context, ts time.Time) ([]*entity.Auction, error) {
	q, args, err := sq.Select("*").
		From(r.table).
		Where(sq.Eq{"status": entity.AuctionStatusOpen}).
		Where(sq.LtOrEq{"ends_at": ts}).
		OrderBy("ends_at").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("can't build query: %w", err)
	}
	auctions := make([]*entity.Auction, 0, 10)
	err = r.db.SelectContext(ctx, &auctions, q, args...)
	if err != nil {
		return nil, fmt.Errorf("can't find open auctions: %w", err)
	}
	return auctions, nil
}
