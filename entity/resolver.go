package entity

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type Resolver struct {
	Address    common.Address `db:"address"`
	Reputation float64        `db:"reputation"`
	Executions uint64         `db:"executions"`
	Failures   uint64         `db:"failures"`
	TotalFees  *BigInt        `db:"total_fees"`
	CreatedAt  *time.Time     `db:"created_at"`
	UpdatedAt  *time.Time     `db:"updated_at"`
}

// ResolverOutcome is one execution result folded into a resolver's track record.
type ResolverOutcome struct {
	Address common.Address
	// InitialReputation seeds a resolver seen for the first time.
	InitialReputation float64
	Delta             float64
	Succeeded         bool
	Fee               *BigInt
}

type ResolversRepo interface {
	GetByAddress(ctx context.Context, address common.Address) (*Resolver, error)
	// ApplyOutcome adds delta to the reputation, clamped to [0, 1].
	ApplyOutcome(ctx context.Context, outcome *ResolverOutcome) (*Resolver, error)
}

func ClampReputation(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
