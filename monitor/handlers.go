package monitor

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/omni/htlc-bridge/db"
	"github.com/omni/htlc-bridge/entity"
	"github.com/omni/htlc-bridge/repository"
)

type EventHandler func(ctx context.Context, log *entity.Log, data map[string]interface{}) error

// EscrowEventHandler turns decoded program logs of one chain into escrow events.
type EscrowEventHandler struct {
	repo    *repository.Repo
	chainID uint64
}

func NewEscrowEventHandler(repo *repository.Repo, chainID uint64) *EscrowEventHandler {
	return &EscrowEventHandler{
		repo:    repo,
		chainID: chainID,
	}
}

func (p *EscrowEventHandler) ensure(ctx context.Context, log *entity.Log, event *entity.EscrowEvent) error {
	event.LogID = log.ID
	event.ChainID = p.chainID
	event.TxHash = log.TransactionHash
	event.BlockNumber = log.BlockNumber
	if err := p.repo.EscrowEvents.Ensure(ctx, event); err != nil {
		return fmt.Errorf("can't save %s event: %w", event.Kind, err)
	}
	IndexedEvents.WithLabelValues(strconv.FormatUint(p.chainID, 10), string(event.Kind)).Inc()
	return nil
}

func (p *EscrowEventHandler) HandleEscrowInitiated(ctx context.Context, log *entity.Log, data map[string]interface{}) error {
	escrowID := common.Hash(data["escrowId"].([32]byte))
	initiator := data["initiator"].(common.Address)

	return p.ensure(ctx, log, &entity.EscrowEvent{
		Kind:     entity.EventEscrowInitiated,
		EscrowID: &escrowID,
		Subject:  &initiator,
	})
}

// HandleEscrowClaimed also marks the secret of the matching transfer as revealed, so records catch
// up with claims made outside of this service.
func (p *EscrowEventHandler) HandleEscrowClaimed(ctx context.Context, log *entity.Log, data map[string]interface{}) error {
	escrowID := common.Hash(data["escrowId"].([32]byte))
	recipient := data["recipient"].(common.Address)
	secret := common.Hash(data["secret"].([32]byte))

	transfer, err := p.repo.Transfers.GetByEscrowID(ctx, p.chainID, escrowID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("can't get transfer by escrow id: %w", err)
	}
	if transfer != nil && !transfer.SecretRevealed {
		if err = p.repo.Transfers.MarkSecretRevealed(ctx, transfer.ID, secret); err != nil {
			return fmt.Errorf("can't mark transfer secret as revealed: %w", err)
		}
	}

	return p.ensure(ctx, log, &entity.EscrowEvent{
		Kind:     entity.EventEscrowClaimed,
		EscrowID: &escrowID,
		Subject:  &recipient,
		Secret:   &secret,
	})
}

func (p *EscrowEventHandler) HandleEscrowRefunded(ctx context.Context, log *entity.Log, data map[string]interface{}) error {
	escrowID := common.Hash(data["escrowId"].([32]byte))
	initiator := data["initiator"].(common.Address)

	return p.ensure(ctx, log, &entity.EscrowEvent{
		Kind:     entity.EventEscrowRefunded,
		EscrowID: &escrowID,
		Subject:  &initiator,
	})
}

func (p *EscrowEventHandler) HandleEscrowCreated(ctx context.Context, log *entity.Log, data map[string]interface{}) error {
	escrowID := common.Hash(data["escrowId"].([32]byte))
	creator := data["creator"].(common.Address)

	return p.ensure(ctx, log, &entity.EscrowEvent{
		Kind:     entity.EventEscrowCreated,
		EscrowID: &escrowID,
		Subject:  &creator,
	})
}

func (p *EscrowEventHandler) HandleCrossChainTransferInitiated(ctx context.Context, log *entity.Log, data map[string]interface{}) error {
	transferID := common.Hash(data["transferId"].([32]byte))
	sourceEscrowID := common.Hash(data["sourceEscrowId"].([32]byte))
	recipient := data["recipient"].(common.Address)

	return p.ensure(ctx, log, &entity.EscrowEvent{
		Kind:       entity.EventTransferInitiated,
		EscrowID:   &sourceEscrowID,
		TransferID: &transferID,
		Subject:    &recipient,
	})
}

func (p *EscrowEventHandler) HandleCrossChainTransferCompleted(ctx context.Context, log *entity.Log, data map[string]interface{}) error {
	transferID := common.Hash(data["transferId"].([32]byte))
	destEscrowID := common.Hash(data["destEscrowId"].([32]byte))
	completedBy := data["completedBy"].(common.Address)

	return p.ensure(ctx, log, &entity.EscrowEvent{
		Kind:       entity.EventTransferCompleted,
		EscrowID:   &destEscrowID,
		TransferID: &transferID,
		Subject:    &completedBy,
	})
}

func (p *EscrowEventHandler) HandleResolverAuthorized(ctx context.Context, log *entity.Log, data map[string]interface{}) error {
	resolver := data["resolver"].(common.Address)

	return p.ensure(ctx, log, &entity.EscrowEvent{
		Kind:    entity.EventResolverAuthorized,
		Subject: &resolver,
	})
}

func (p *EscrowEventHandler) HandleResolverRevoked(ctx context.Context, log *entity.Log, data map[string]interface{}) error {
	resolver := data["resolver"].(common.Address)

	return p.ensure(ctx, log, &entity.EscrowEvent{
		Kind:    entity.EventResolverRevoked,
		Subject: &resolver,
	})
}

func (p *EscrowEventHandler) HandleChainSupportAdded(ctx context.Context, log *entity.Log, data map[string]interface{}) error {
	factory := data["bridgeFactory"].(common.Address)

	return p.ensure(ctx, log, &entity.EscrowEvent{
		Kind:    entity.EventChainAdded,
		Subject: &factory,
	})
}

func (p *EscrowEventHandler) HandleChainSupportRemoved(ctx context.Context, log *entity.Log, _ map[string]interface{}) error {
	return p.ensure(ctx, log, &entity.EscrowEvent{
		Kind: entity.EventChainRemoved,
	})
}
