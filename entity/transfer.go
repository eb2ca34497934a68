package entity

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/omni/htlc-bridge/ledger"
)

// Transfer is the off-chain record of one cross-chain value movement, keyed by the on-chain transfer id.
type Transfer struct {
	ID              common.Hash          `db:"id"`
	SourceChainID   uint64               `db:"source_chain_id"`
	DestChainID     uint64               `db:"dest_chain_id"`
	SourceEscrowID  common.Hash          `db:"source_escrow_id"`
	DestEscrowID    *common.Hash         `db:"dest_escrow_id"`
	SourceAsset     common.Address       `db:"source_asset"`
	DestAsset       common.Address       `db:"dest_asset"`
	Initiator       common.Address       `db:"initiator"`
	Recipient       common.Address       `db:"recipient"`
	Amount          *BigInt              `db:"amount"`
	DestAmount      *BigInt              `db:"dest_amount"`
	SecretHash      common.Hash          `db:"secret_hash"`
	Secret          *common.Hash         `db:"secret"`
	SecretRevealed  bool                 `db:"secret_revealed"`
	TimelockSeconds uint64               `db:"timelock_seconds"`
	InitTimestamp   time.Time            `db:"init_timestamp"`
	State           ledger.TransferState `db:"state"`
	Winner          *common.Address      `db:"winner"`
	Expired         bool                 `db:"expired"`
	FeePaid         bool                 `db:"fee_paid"`
	CreatedAt       *time.Time           `db:"created_at"`
	UpdatedAt       *time.Time           `db:"updated_at"`
}

func (t *Transfer) Timelock() time.Duration {
	return time.Duration(t.TimelockSeconds) * time.Second
}

func (t *Transfer) ExpiresAt() time.Time {
	return t.InitTimestamp.Add(t.Timelock())
}

// Clone is used by in-memory stores to hand out records callers may mutate.
func (t *Transfer) Clone() *Transfer {
	res := *t
	res.Amount = t.Amount.Clone()
	res.DestAmount = t.DestAmount.Clone()
	res.DestEscrowID = cloneHash(t.DestEscrowID)
	res.Secret = cloneHash(t.Secret)
	res.Winner = cloneAddress(t.Winner)
	return &res
}

type TransfersRepo interface {
	Ensure(ctx context.Context, transfer *Transfer) error
	GetByID(ctx context.Context, id common.Hash) (*Transfer, error)
	GetByEscrowID(ctx context.Context, chainID uint64, escrowID common.Hash) (*Transfer, error)
	FindByStates(ctx context.Context, states ...ledger.TransferState) ([]*Transfer, error)
	MarkSecretRevealed(ctx context.Context, id common.Hash, secret common.Hash) error
	MarkExpired(ctx context.Context, id common.Hash) error
	MarkFeePaid(ctx context.Context, id common.Hash) error
}

func cloneHash(h *common.Hash) *common.Hash {
	if h == nil {
		return nil
	}
	res := *h
	return &res
}

func cloneAddress(a *common.Address) *common.Address {
	if a == nil {
		return nil
	}
	res := *a
	return &res
}
