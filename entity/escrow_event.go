package entity

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type EscrowEventKind string

const (
	EventEscrowInitiated    EscrowEventKind = "escrow_initiated"
	EventEscrowClaimed      EscrowEventKind = "escrow_claimed"
	EventEscrowRefunded     EscrowEventKind = "escrow_refunded"
	EventEscrowCreated      EscrowEventKind = "escrow_created"
	EventTransferInitiated  EscrowEventKind = "transfer_initiated"
	EventTransferCompleted  EscrowEventKind = "transfer_completed"
	EventResolverAuthorized EscrowEventKind = "resolver_authorized"
	EventResolverRevoked    EscrowEventKind = "resolver_revoked"
	EventChainAdded         EscrowEventKind = "chain_added"
	EventChainRemoved       EscrowEventKind = "chain_removed"
)

// EscrowEvent is a decoded program log, linked to the escrow and transfer it concerns.
type EscrowEvent struct {
	LogID       uint            `db:"log_id"`
	ChainID     uint64          `db:"chain_id"`
	Kind        EscrowEventKind `db:"event"`
	EscrowID    *common.Hash    `db:"escrow_id"`
	TransferID  *common.Hash    `db:"transfer_id"`
	Subject     *common.Address `db:"subject"`
	Secret      *common.Hash    `db:"secret"`
	TxHash      common.Hash     `db:"tx_hash"`
	BlockNumber uint64          `db:"block_number"`
	CreatedAt   *time.Time      `db:"created_at"`
	UpdatedAt   *time.Time      `db:"updated_at"`
}

type EscrowEventsRepo interface {
	Ensure(ctx context.Context, event *EscrowEvent) error
	// FindByIDs returns events whose escrow id or transfer id is in ids, in chain order.
	FindByIDs(ctx context.Context, ids []common.Hash) ([]*EscrowEvent, error)
}
