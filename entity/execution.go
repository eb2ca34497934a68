package entity

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

type ExecutionStatus string

const (
	ExecutionStatusSucceeded ExecutionStatus = "succeeded"
	ExecutionStatusPartial   ExecutionStatus = "partial"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

type Execution struct {
	ID           uuid.UUID       `db:"id"`
	TransferID   common.Hash     `db:"transfer_id"`
	Resolver     common.Address  `db:"resolver"`
	DestTxHash   *common.Hash    `db:"dest_tx_hash"`
	SourceTxHash *common.Hash    `db:"source_tx_hash"`
	GasUsed      uint64          `db:"gas_used"`
	BridgeFee    *BigInt         `db:"bridge_fee"`
	Status       ExecutionStatus `db:"status"`
	Error        *string         `db:"error"`
	CreatedAt    *time.Time      `db:"created_at"`
	UpdatedAt    *time.Time      `db:"updated_at"`
}

func (e *Execution) Clone() *Execution {
	res := *e
	res.DestTxHash = cloneHash(e.DestTxHash)
	res.SourceTxHash = cloneHash(e.SourceTxHash)
	res.BridgeFee = e.BridgeFee.Clone()
	if e.Error != nil {
		msg := *e.Error
		res.Error = &msg
	}
	return &res
}

type ExecutionsRepo interface {
	Ensure(ctx context.Context, execution *Execution) error
	GetByID(ctx context.Context, id uuid.UUID) (*Execution, error)
	// FindByTransferID returns executions newest first.
	FindByTransferID(ctx context.Context, transferID common.Hash) ([]*Execution, error)
}
