package status

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/omni/htlc-bridge/chainclient"
	"github.com/omni/htlc-bridge/db"
	"github.com/omni/htlc-bridge/entity"
	"github.com/omni/htlc-bridge/ledger"
	"github.com/omni/htlc-bridge/logging"
	"github.com/omni/htlc-bridge/repository"
)

type Status string

const (
	StatusPending        Status = "pending"
	StatusSecretRevealed Status = "secret_revealed"
	StatusCompleted      Status = "completed"
	StatusRefunded       Status = "refunded"
	StatusExpired        Status = "expired"
	StatusUnknown        Status = "unknown"
)

// IsFinal reports whether no later observation can change the status.
func (s Status) IsFinal() bool {
	return s == StatusCompleted || s == StatusRefunded || s == StatusExpired
}

// Derive folds both escrow states and the reveal flag into a single status. The deadline wins
// over everything else, then settlement, then refund.
func Derive(now, expiresAt time.Time, src, dst ledger.EscrowState, revealed bool) Status {
	switch {
	case src == ledger.EscrowStateNone:
		return StatusUnknown
	case !now.Before(expiresAt):
		return StatusExpired
	case src == ledger.EscrowStateClaimed && dst == ledger.EscrowStateClaimed:
		return StatusCompleted
	case src == ledger.EscrowStateRefunded || dst == ledger.EscrowStateRefunded:
		return StatusRefunded
	case revealed:
		return StatusSecretRevealed
	case src == ledger.EscrowStateInitiated && dst != ledger.EscrowStateClaimed:
		return StatusPending
	default:
		return StatusUnknown
	}
}

type AuctionView struct {
	Status  entity.AuctionStatus  `json:"status"`
	Outcome entity.AuctionOutcome `json:"outcome,omitempty"`
	EndsAt  time.Time             `json:"endsAt"`
	Bids    int                   `json:"bids"`
}

type ResolverView struct {
	Address    common.Address `json:"address"`
	Reputation *float64       `json:"reputation,omitempty"`
}

type ExecutionView struct {
	Status       entity.ExecutionStatus `json:"status"`
	Resolver     common.Address         `json:"resolver"`
	DestTxHash   *common.Hash           `json:"destTxHash,omitempty"`
	SourceTxHash *common.Hash           `json:"sourceTxHash,omitempty"`
	Error        *string                `json:"error,omitempty"`
}

type EventView struct {
	ChainID     uint64                 `json:"chainId"`
	Kind        entity.EscrowEventKind `json:"event"`
	BlockNumber uint64                 `json:"blockNumber"`
	TxHash      common.Hash            `json:"txHash"`
}

// View is the merged read model of one transfer.
type View struct {
	TransferID        common.Hash          `json:"transferId"`
	Status            Status               `json:"status"`
	State             ledger.TransferState `json:"state"`
	SourceEscrowState ledger.EscrowState   `json:"sourceEscrowState"`
	DestEscrowState   ledger.EscrowState   `json:"destEscrowState"`
	SecretRevealed    bool                 `json:"secretRevealed"`
	ExpiresAt         time.Time            `json:"expiresAt"`
	Auction           *AuctionView         `json:"auction,omitempty"`
	Resolver          *ResolverView        `json:"resolver,omitempty"`
	Execution         *ExecutionView       `json:"execution,omitempty"`
	Events            []*EventView         `json:"events"`
}

type Aggregator struct {
	logger  logging.Logger
	clients chainclient.Clients
	repo    *repository.Repo
	cache   Cache
}

func NewAggregator(logger logging.Logger, clients chainclient.Clients, repo *repository.Repo, cache Cache) *Aggregator {
	if cache == nil {
		cache = NewNoopCache()
	}
	return &Aggregator{
		logger:  logger,
		clients: clients,
		repo:    repo,
		cache:   cache,
	}
}

// Status never mutates anything besides the cache. Only final views are cached.
func (a *Aggregator) Status(ctx context.Context, transferID common.Hash) (*View, error) {
	logger := a.logger.WithField("transfer_id", transferID)

	cached, err := a.cache.Get(ctx, transferID)
	if err != nil {
		logger.WithError(err).Warn("can't read status cache")
	} else if cached != nil {
		return cached, nil
	}

	transfer, err := a.loadTransfer(ctx, transferID)
	if err != nil {
		return nil, err
	}
	view, err := a.compute(ctx, transfer)
	if err != nil {
		return nil, err
	}

	if view.Status.IsFinal() {
		if err = a.cache.Set(ctx, view); err != nil {
			logger.WithError(err).Warn("can't write status cache")
		}
	}
	return view, nil
}

// loadTransfer falls back to the source registries for transfers this instance never recorded.
func (a *Aggregator) loadTransfer(ctx context.Context, transferID common.Hash) (*entity.Transfer, error) {
	transfer, err := a.repo.Transfers.GetByID(ctx, transferID)
	if err == nil {
		return transfer, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("can't get transfer: %w", err)
	}

	for _, client := range a.clients {
		tr, err2 := client.GetTransfer(ctx, transferID)
		if errors.Is(err2, ledger.ErrTransferNotFound) {
			continue
		}
		if err2 != nil {
			return nil, fmt.Errorf("can't get transfer from chain %d: %w", client.ChainID(), err2)
		}
		destEscrowID := tr.DestEscrowID
		return &entity.Transfer{
			ID:              tr.TransferID,
			SourceChainID:   tr.SourceChainID,
			DestChainID:     tr.DestChainID,
			SourceEscrowID:  tr.SourceEscrowID,
			DestEscrowID:    &destEscrowID,
			SourceAsset:     tr.Asset,
			Initiator:       tr.Initiator,
			Recipient:       tr.Recipient,
			Amount:          entity.NewBigInt(tr.Amount),
			SecretHash:      tr.SecretHash,
			TimelockSeconds: uint64(tr.TimelockDuration / time.Second),
			InitTimestamp:   tr.InitTimestamp,
			State:           tr.State,
		}, nil
	}
	return nil, err
}

func (a *Aggregator) compute(ctx context.Context, transfer *entity.Transfer) (*View, error) {
	src, err := a.clients.Get(transfer.SourceChainID)
	if err != nil {
		return nil, err
	}
	dst, err := a.clients.Get(transfer.DestChainID)
	if err != nil {
		return nil, err
	}

	view := &View{
		TransferID:     transfer.ID,
		State:          transfer.State,
		SecretRevealed: transfer.SecretRevealed,
		ExpiresAt:      transfer.ExpiresAt(),
		Events:         []*EventView{},
	}

	srcEscrow, err := readEscrow(ctx, src, &transfer.SourceEscrowID)
	if err != nil {
		return nil, err
	}
	dstEscrow, err := readEscrow(ctx, dst, transfer.DestEscrowID)
	if err != nil {
		return nil, err
	}
	for _, escrow := range []*ledger.Escrow{srcEscrow, dstEscrow} {
		if escrow == nil {
			continue
		}
		if escrow.Secret != nil {
			view.SecretRevealed = true
		}
	}
	if srcEscrow != nil {
		view.SourceEscrowState = srcEscrow.State
	}
	if dstEscrow != nil {
		view.DestEscrowState = dstEscrow.State
	}

	if err = a.fillEvents(ctx, transfer, view); err != nil {
		return nil, err
	}
	if err = a.fillOffChain(ctx, transfer, view); err != nil {
		return nil, err
	}

	now, err := src.Now(ctx)
	if err != nil {
		return nil, fmt.Errorf("can't get source chain time: %w", err)
	}
	view.Status = Derive(now, view.ExpiresAt, view.SourceEscrowState, view.DestEscrowState, view.SecretRevealed)
	return view, nil
}

func readEscrow(ctx context.Context, client chainclient.Client, escrowID *common.Hash) (*ledger.Escrow, error) {
	if escrowID == nil {
		return nil, nil
	}
	escrow, err := client.GetEscrow(ctx, *escrowID)
	if errors.Is(err, ledger.ErrEscrowNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("can't get escrow %s on chain %d: %w", escrowID, client.ChainID(), err)
	}
	return escrow, nil
}

func (a *Aggregator) fillEvents(ctx context.Context, transfer *entity.Transfer, view *View) error {
	ids := []common.Hash{transfer.ID, transfer.SourceEscrowID}
	if transfer.DestEscrowID != nil {
		ids = append(ids, *transfer.DestEscrowID)
	}
	events, err := a.repo.EscrowEvents.FindByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("can't find escrow events: %w", err)
	}
	for _, event := range events {
		if event.Kind == entity.EventEscrowClaimed && event.Secret != nil {
			view.SecretRevealed = true
		}
		view.Events = append(view.Events, &EventView{
			ChainID:     event.ChainID,
			Kind:        event.Kind,
			BlockNumber: event.BlockNumber,
			TxHash:      event.TxHash,
		})
	}
	return nil
}

func (a *Aggregator) fillOffChain(ctx context.Context, transfer *entity.Transfer, view *View) error {
	auction, err := a.repo.Auctions.GetByTransferID(ctx, transfer.ID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("can't get auction: %w", err)
	}
	if auction != nil {
		bids, err2 := a.repo.Bids.FindByTransferID(ctx, transfer.ID)
		if err2 != nil {
			return fmt.Errorf("can't find bids: %w", err2)
		}
		view.Auction = &AuctionView{
			Status:  auction.Status,
			Outcome: auction.Outcome,
			EndsAt:  auction.EndsAt,
			Bids:    len(bids),
		}
	}

	if transfer.Winner != nil {
		view.Resolver = &ResolverView{Address: *transfer.Winner}
		resolver, err2 := a.repo.Resolvers.GetByAddress(ctx, *transfer.Winner)
		switch {
		case err2 == nil:
			view.Resolver.Reputation = &resolver.Reputation
		case !errors.Is(err2, db.ErrNotFound):
			return fmt.Errorf("can't get resolver: %w", err2)
		}
	}

	executions, err := a.repo.Executions.FindByTransferID(ctx, transfer.ID)
	if err != nil {
		return fmt.Errorf("can't find executions: %w", err)
	}
	if len(executions) > 0 {
		last := executions[0]
		view.Execution = &ExecutionView{
			Status:       last.Status,
			Resolver:     last.Resolver,
			DestTxHash:   last.DestTxHash,
			SourceTxHash: last.SourceTxHash,
			Error:        last.Error,
		}
	}

	a.logger.WithFields(logrus.Fields{
		"transfer_id": transfer.ID,
		"events":      len(view.Events),
	}).Debug("merged transfer status")
	return nil
}
