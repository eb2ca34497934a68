package entity

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

type AuctionStatus string

const (
	AuctionStatusOpen   AuctionStatus = "open"
	AuctionStatusClosed AuctionStatus = "closed"
)

type AuctionOutcome string

const (
	AuctionOutcomeNone   AuctionOutcome = ""
	AuctionOutcomeWinner AuctionOutcome = "winner_selected"
	AuctionOutcomeNoBids AuctionOutcome = "no_bids"
)

type Auction struct {
	TransferID  common.Hash    `db:"transfer_id"`
	StartedAt   time.Time      `db:"started_at"`
	EndsAt      time.Time      `db:"ends_at"`
	Status      AuctionStatus  `db:"status"`
	WinnerBidID *uuid.UUID     `db:"winner_bid_id"`
	Outcome     AuctionOutcome `db:"outcome"`
	CreatedAt   *time.Time     `db:"created_at"`
	UpdatedAt   *time.Time     `db:"updated_at"`
}

func (a *Auction) Clone() *Auction {
	res := *a
	if a.WinnerBidID != nil {
		id := *a.WinnerBidID
		res.WinnerBidID = &id
	}
	return &res
}

type AuctionsRepo interface {
	Ensure(ctx context.Context, auction *Auction) error
	GetByTransferID(ctx context.Context, transferID common.Hash) (*Auction, error)
	FindOpenEndedBefore(ctx context.Context, ts time.Time) ([]*Auction, error)
}
