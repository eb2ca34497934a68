package entity

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

type BidStatus string

const (
	BidStatusPending  BidStatus = "pending"
	BidStatusSelected BidStatus = "selected"
	BidStatusRejected BidStatus = "rejected"
	BidStatusExpired  BidStatus = "expired"
)

type Bid struct {
	ID              uuid.UUID      `db:"id"`
	TransferID      common.Hash    `db:"transfer_id"`
	Resolver        common.Address `db:"resolver"`
	BidPrice        *BigInt        `db:"bid_price"`
	ExecutionTime   int64          `db:"execution_time"`
	GasEstimate     int64          `db:"gas_estimate"`
	ReputationScore float64        `db:"reputation_score"`
	StakeAmount     *BigInt        `db:"stake_amount"`
	Score           float64        `db:"score"`
	Competitive     bool           `db:"competitive"`
	Status          BidStatus      `db:"status"`
	Reason          *string        `db:"reason"`
	SubmittedAt     time.Time      `db:"submitted_at"`
	CreatedAt       *time.Time     `db:"created_at"`
	UpdatedAt       *time.Time     `db:"updated_at"`
}

func (b *Bid) Clone() *Bid {
	res := *b
	res.BidPrice = b.BidPrice.Clone()
	res.StakeAmount = b.StakeAmount.Clone()
	if b.Reason != nil {
		reason := *b.Reason
		res.Reason = &reason
	}
	return &res
}

type BidsRepo interface {
	Ensure(ctx context.Context, bid *Bid) error
	GetByID(ctx context.Context, id uuid.UUID) (*Bid, error)
	// FindByTransferID returns bids ordered by submission time.
	FindByTransferID(ctx context.Context, transferID common.Hash) ([]*Bid, error)
	FindByResolver(ctx context.Context, resolver common.Address) ([]*Bid, error)
}
