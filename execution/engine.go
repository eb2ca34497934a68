package execution

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/omni/htlc-bridge/chainclient"
	"github.com/omni/htlc-bridge/config"
	"github.com/omni/htlc-bridge/entity"
	"github.com/omni/htlc-bridge/ledger"
	"github.com/omni/htlc-bridge/logging"
	"github.com/omni/htlc-bridge/repository"
	"github.com/omni/htlc-bridge/utils"
)

var (
	ErrInvalidSignature = fmt.Errorf("signature does not belong to resolver: %w", entity.ErrUnauthorized)
	ErrNotWinner        = fmt.Errorf("caller is not the auction winner: %w", entity.ErrUnauthorized)
	ErrNoWinner         = fmt.Errorf("auction has not selected a winner: %w", entity.ErrInvalidState)
	ErrAlreadyCompleted = fmt.Errorf("transfer is already completed: %w", entity.ErrInvalidState)
	ErrExpired          = fmt.Errorf("transfer timelock has expired: %w", entity.ErrTimelock)
)

type Engine struct {
	logger  logging.Logger
	cfg     *config.Config
	clients chainclient.Clients
	repo    *repository.Repo

	locks utils.KeyedMutex[common.Hash]
}

func NewEngine(logger logging.Logger, cfg *config.Config, clients chainclient.Clients, repo *repository.Repo) *Engine {
	return &Engine{
		logger:  logger,
		cfg:     cfg,
		clients: clients,
		repo:    repo,
	}
}

type Request struct {
	TransferID common.Hash
	Secret     common.Hash
	Resolver   common.Address
	// Signature is an EIP-191 signature of SignedMessage(TransferID), optional unless required by config.
	Signature []byte
}

// SignedMessage is what a resolver signs to authenticate an execute request.
func SignedMessage(transferID common.Hash) []byte {
	return []byte("execute:" + transferID.Hex())
}

type legs struct {
	src, dst chainclient.Client
	// submitter signs the source chain calls: the winner on the first attempt, the source
	// operator on a retry.
	submitter common.Address
}

// Execute claims the destination escrow for the recipient and then the source escrow for the
// operator, pays the auction winner its fee and records settlement on the source registry.
// A transfer left DestLocked by a failed source claim can be retried by anyone, the secret being
// public by then; the retry is submitted by the source operator and still pays the winner.
func (e *Engine) Execute(ctx context.Context, req *Request) (*entity.Execution, error) {
	if len(req.Signature) > 0 || e.cfg.Execution.RequireSignature {
		signer, err := utils.RecoverSigner(SignedMessage(req.TransferID), req.Signature)
		if err != nil || signer != req.Resolver {
			e.logger.WithFields(logrus.Fields{
				"transfer_id": req.TransferID,
				"resolver":    req.Resolver,
			}).Warn("execute request with invalid signature")
			return nil, ErrInvalidSignature
		}
	}

	unlock := e.locks.Lock(req.TransferID)
	defer unlock()

	transfer, err := e.repo.Transfers.GetByID(ctx, req.TransferID)
	if err != nil {
		return nil, fmt.Errorf("can't get transfer: %w", err)
	}
	if ledger.HashSecret(req.Secret) != transfer.SecretHash {
		return nil, fmt.Errorf("can't execute transfer %s: %w", transfer.ID, entity.ErrHashMismatch)
	}
	l := legs{}
	if l.src, err = e.clients.Get(transfer.SourceChainID); err != nil {
		return nil, err
	}
	if l.dst, err = e.clients.Get(transfer.DestChainID); err != nil {
		return nil, err
	}
	srcChain, ok := e.cfg.ChainByID(transfer.SourceChainID)
	if !ok {
		return nil, fmt.Errorf("source chain %d is not configured: %w", transfer.SourceChainID, entity.ErrInvalidState)
	}
	logger := e.logger.WithFields(logrus.Fields{
		"transfer_id": transfer.ID,
		"resolver":    req.Resolver,
		"state":       transfer.State,
	})

	execution := &entity.Execution{
		ID:         uuid.New(),
		TransferID: transfer.ID,
		Resolver:   req.Resolver,
	}
	switch transfer.State {
	case ledger.TransferStateInitiated:
		if err = e.checkWinner(ctx, l, transfer, req.Resolver); err != nil {
			logger.WithError(err).Warn("rejected execute request")
			return nil, err
		}
		if err = e.claimDest(ctx, l, transfer, execution, req); err != nil {
			return execution, e.fail(ctx, logger, transfer, execution, err)
		}
		l.submitter = req.Resolver
	case ledger.TransferStateDestLocked:
		if transfer.Winner == nil {
			return nil, ErrNoWinner
		}
		l.submitter = srcChain.Owner
		logger.Info("settling source leg left by a previous attempt")
	case ledger.TransferStateCompleted:
		return nil, ErrAlreadyCompleted
	case ledger.TransferStateNone, ledger.TransferStateSourceLocked, ledger.TransferStateRefunded:
		return nil, fmt.Errorf("transfer is %s: %w", transfer.State, entity.ErrInvalidState)
	default:
		return nil, fmt.Errorf("transfer is %s: %w", transfer.State, entity.ErrInvalidState)
	}

	if err = e.settleSource(ctx, l, transfer, execution, req); err != nil {
		execution.Status = entity.ExecutionStatusPartial
		msg := err.Error()
		execution.Error = &msg
		if saveErr := e.repo.Executions.Ensure(ctx, execution); saveErr != nil {
			return nil, fmt.Errorf("can't save execution: %w", saveErr)
		}
		ResultsTotal.WithLabelValues(string(entity.ExecutionStatusPartial)).Inc()
		logger.WithError(err).Error("source leg failed, transfer is left for retry")
		return execution, fmt.Errorf("transfer %s is left %s: %v: %w", transfer.ID, transfer.State, err, entity.ErrPartialExecution)
	}

	execution.Status = entity.ExecutionStatusSucceeded
	if err = e.repo.Executions.Ensure(ctx, execution); err != nil {
		return nil, fmt.Errorf("can't save execution: %w", err)
	}
	winner := *transfer.Winner
	if _, err = e.repo.Resolvers.ApplyOutcome(ctx, &entity.ResolverOutcome{
		Address:           winner,
		InitialReputation: e.initialReputation(ctx, transfer.ID, winner),
		Delta:             e.cfg.Execution.ReputationReward,
		Succeeded:         true,
		Fee:               execution.BridgeFee,
	}); err != nil {
		logger.WithError(err).Error("can't update resolver reputation")
	}
	ResultsTotal.WithLabelValues(string(entity.ExecutionStatusSucceeded)).Inc()
	logger.WithFields(logrus.Fields{
		"execution_id": execution.ID,
		"gas_used":     execution.GasUsed,
		"bridge_fee":   execution.BridgeFee,
	}).Info("completed transfer")
	return execution, nil
}

func (e *Engine) checkWinner(ctx context.Context, l legs, transfer *entity.Transfer, caller common.Address) error {
	if transfer.Winner == nil {
		return ErrNoWinner
	}
	if *transfer.Winner != caller {
		return ErrNotWinner
	}
	now, err := l.dst.Now(ctx)
	if err != nil {
		return fmt.Errorf("can't read destination chain time: %w", err)
	}
	if !now.Before(transfer.ExpiresAt()) {
		return ErrExpired
	}
	return nil
}

// claimDest reveals the secret on the destination chain, paying the recipient. An escrow that is
// already claimed is taken as done.
func (e *Engine) claimDest(ctx context.Context, l legs, transfer *entity.Transfer, execution *entity.Execution, req *Request) error {
	escrow, err := l.dst.GetEscrow(ctx, *transfer.DestEscrowID)
	if err != nil {
		return fmt.Errorf("can't get destination escrow: %w", err)
	}
	if escrow.State != ledger.EscrowStateClaimed {
		receipt, err := l.dst.RelayClaim(ctx, req.Resolver, escrow.ID, req.Secret)
		if err != nil {
			return fmt.Errorf("can't claim destination escrow: %w", err)
		}
		execution.DestTxHash = &receipt.TxHash
		execution.GasUsed += receipt.GasUsed
	}

	transfer.State = ledger.TransferStateDestLocked
	transfer.SecretRevealed = true
	if err = e.repo.Transfers.Ensure(ctx, transfer); err != nil {
		return fmt.Errorf("can't save transfer: %w", err)
	}
	return nil
}

// settleSource claims the source escrow for the operator, records completion on the source
// registry and pays the winner. Every step is skipped when a previous attempt already did it.
func (e *Engine) settleSource(ctx context.Context, l legs, transfer *entity.Transfer, execution *entity.Execution, req *Request) error {
	escrow, err := l.src.GetEscrow(ctx, transfer.SourceEscrowID)
	if err != nil {
		return fmt.Errorf("can't get source escrow: %w", err)
	}
	if escrow.State != ledger.EscrowStateClaimed {
		receipt, err := l.src.RelayClaim(ctx, l.submitter, escrow.ID, req.Secret)
		if err != nil {
			return fmt.Errorf("can't claim source escrow: %w", err)
		}
		execution.SourceTxHash = &receipt.TxHash
		execution.GasUsed += receipt.GasUsed
	}

	onChain, err := l.src.GetTransfer(ctx, transfer.ID)
	if err != nil {
		return fmt.Errorf("can't get on-chain transfer: %w", err)
	}
	if onChain.State == ledger.TransferStateInitiated {
		receipt, err := l.src.CompleteCrossChainTransfer(ctx, l.submitter, transfer.ID, *transfer.DestEscrowID)
		if err != nil {
			return fmt.Errorf("can't complete transfer on source registry: %w", err)
		}
		execution.GasUsed += receipt.GasUsed
	}

	fee := entity.BridgeFee(transfer.Amount.Big(), e.cfg.Execution.FeeBps)
	execution.BridgeFee = entity.NewBigInt(fee)
	if fee.Sign() > 0 && !transfer.FeePaid {
		operator := escrow.Recipient
		receipt, err := l.src.Transfer(ctx, operator, transfer.SourceAsset, *transfer.Winner, fee)
		if err != nil {
			return fmt.Errorf("can't pay bridge fee: %w", err)
		}
		execution.GasUsed += receipt.GasUsed
		transfer.FeePaid = true
		if err = e.repo.Transfers.MarkFeePaid(ctx, transfer.ID); err != nil {
			return fmt.Errorf("can't record bridge fee payment: %w", err)
		}
	}

	transfer.State = ledger.TransferStateCompleted
	if err = e.repo.Transfers.Ensure(ctx, transfer); err != nil {
		transfer.State = ledger.TransferStateDestLocked
		return fmt.Errorf("can't save transfer: %w", err)
	}
	return nil
}

// fail records a failed destination claim. Rejections by the program count against the resolver;
// transport errors do not.
func (e *Engine) fail(ctx context.Context, logger logging.Logger, transfer *entity.Transfer, execution *entity.Execution, cause error) error {
	execution.Status = entity.ExecutionStatusFailed
	msg := cause.Error()
	execution.Error = &msg
	if err := e.repo.Executions.Ensure(ctx, execution); err != nil {
		return fmt.Errorf("can't save execution: %w", err)
	}
	ResultsTotal.WithLabelValues(string(entity.ExecutionStatusFailed)).Inc()
	logger.WithError(cause).Error("destination claim failed")

	if chainclient.IsReverted(cause) {
		if _, err := e.repo.Resolvers.ApplyOutcome(ctx, &entity.ResolverOutcome{
			Address:           execution.Resolver,
			InitialReputation: e.initialReputation(ctx, transfer.ID, execution.Resolver),
			Delta:             -e.cfg.Execution.ReputationPenalty,
		}); err != nil {
			logger.WithError(err).Error("can't update resolver reputation")
		}
	}
	return fmt.Errorf("can't execute transfer %s: %w", transfer.ID, cause)
}

// initialReputation seeds a resolver's track record with the score it declared in its winning bid.
func (e *Engine) initialReputation(ctx context.Context, transferID common.Hash, resolver common.Address) float64 {
	bids, err := e.repo.Bids.FindByTransferID(ctx, transferID)
	if err != nil {
		return e.cfg.Auction.MinReputation
	}
	for _, bid := range bids {
		if bid.Resolver == resolver && bid.Status == entity.BidStatusSelected {
			return bid.ReputationScore
		}
	}
	return e.cfg.Auction.MinReputation
}
