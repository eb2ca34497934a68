package auction

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/omni/htlc-bridge/chainclient"
	"github.com/omni/htlc-bridge/config"
	"github.com/omni/htlc-bridge/db"
	"github.com/omni/htlc-bridge/entity"
	"github.com/omni/htlc-bridge/ledger"
	"github.com/omni/htlc-bridge/logging"
	"github.com/omni/htlc-bridge/repository"
	"github.com/omni/htlc-bridge/utils"
)

var (
	ErrTransferNotPending = fmt.Errorf("transfer is not pending: %w", entity.ErrInvalidState)
	ErrWindowElapsed      = fmt.Errorf("auction window has elapsed: %w", entity.ErrInvalidState)
	ErrWindowOpen         = fmt.Errorf("auction window is still open: %w", entity.ErrInvalidState)
	ErrReputationTooLow   = fmt.Errorf("reputation below minimum: %w", entity.ErrValidation)
	ErrStakeTooLow        = fmt.Errorf("stake below minimum: %w", entity.ErrValidation)
	ErrBlacklisted        = fmt.Errorf("resolver is blacklisted: %w", entity.ErrUnauthorized)
	ErrInvalidExecTime    = fmt.Errorf("execution time must be within [%d, %d] seconds: %w", MinExecutionTime, MaxExecutionTime, entity.ErrValidation)
	ErrInvalidGasEstimate = fmt.Errorf("gas estimate must be positive: %w", entity.ErrValidation)
	ErrNotAuthorized      = fmt.Errorf("resolver is not authorized on both chains: %w", entity.ErrUnauthorized)
)

type Engine struct {
	logger    logging.Logger
	cfg       *config.AuctionConfig
	clock     ledger.Clock
	clients   chainclient.Clients
	repo      *repository.Repo
	blacklist map[common.Address]bool

	// submissions and closing of one auction are serialized
	locks utils.KeyedMutex[common.Hash]
}

func NewEngine(logger logging.Logger, cfg *config.AuctionConfig, clock ledger.Clock, clients chainclient.Clients, repo *repository.Repo) *Engine {
	blacklist := make(map[common.Address]bool, len(cfg.Blacklist))
	for _, addr := range cfg.Blacklist {
		blacklist[addr] = true
	}
	return &Engine{
		logger:    logger,
		cfg:       cfg,
		clock:     clock,
		clients:   clients,
		repo:      repo,
		blacklist: blacklist,
	}
}

// Open starts the bidding window at the moment the transfer was created.
func (e *Engine) Open(ctx context.Context, transfer *entity.Transfer) (*entity.Auction, error) {
	auction := &entity.Auction{
		TransferID: transfer.ID,
		StartedAt:  transfer.InitTimestamp,
		EndsAt:     transfer.InitTimestamp.Add(e.cfg.Duration),
		Status:     entity.AuctionStatusOpen,
	}
	if err := e.repo.Auctions.Ensure(ctx, auction); err != nil {
		return nil, fmt.Errorf("can't save auction: %w", err)
	}
	return auction, nil
}

type BidRequest struct {
	TransferID      common.Hash
	Resolver        string
	BidPrice        string
	ExecutionTime   int64
	GasEstimate     int64
	ReputationScore float64
	StakeAmount     string
}

type Progress struct {
	Status    entity.AuctionStatus
	StartedAt time.Time
	EndsAt    time.Time
	Elapsed   time.Duration
	Remaining time.Duration
	// Percent of the window that has elapsed, within [0, 100].
	Percent float64
}

type BidResult struct {
	Bid      *entity.Bid
	Progress *Progress
	// Leading is set when the bid would win if the auction closed now.
	Leading bool
	// CompetingBids counts the other pending bids of the auction, the new bid excluded.
	CompetingBids int
}

func parseUint(name, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("%s %q is not a non-negative integer: %w", name, s, entity.ErrValidation)
	}
	return v, nil
}

func (e *Engine) progress(auction *entity.Auction) *Progress {
	now := e.clock.Now()
	window := auction.EndsAt.Sub(auction.StartedAt)
	elapsed := now.Sub(auction.StartedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > window {
		elapsed = window
	}
	p := &Progress{
		Status:    auction.Status,
		StartedAt: auction.StartedAt,
		EndsAt:    auction.EndsAt,
		Elapsed:   elapsed,
		Remaining: window - elapsed,
		Percent:   100,
	}
	if window > 0 {
		p.Percent = float64(elapsed) / float64(window) * 100
	}
	return p
}

// SubmitBid validates, scores and records a bid. Bids failing validation against an existing
// transfer are stored as rejected with the reason, and the error is returned.
func (e *Engine) SubmitBid(ctx context.Context, req *BidRequest) (*BidResult, error) {
	if !common.IsHexAddress(req.Resolver) {
		return nil, fmt.Errorf("resolver %q is not a valid address: %w", req.Resolver, entity.ErrValidation)
	}
	resolver := common.HexToAddress(req.Resolver)
	price, err := parseUint("bid price", req.BidPrice)
	if err != nil {
		return nil, err
	}
	stake, err := parseUint("stake amount", req.StakeAmount)
	if err != nil {
		return nil, err
	}
	if req.ReputationScore < 0 || req.ReputationScore > 1 {
		return nil, fmt.Errorf("reputation score must be within [0, 1]: %w", entity.ErrValidation)
	}

	unlock := e.locks.Lock(req.TransferID)
	defer unlock()

	transfer, err := e.repo.Transfers.GetByID(ctx, req.TransferID)
	if err != nil {
		return nil, fmt.Errorf("can't get transfer: %w", err)
	}
	auction, err := e.repo.Auctions.GetByTransferID(ctx, req.TransferID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrTransferNotPending
		}
		return nil, fmt.Errorf("can't get auction: %w", err)
	}
	logger := e.logger.WithFields(logrus.Fields{
		"transfer_id": transfer.ID,
		"resolver":    resolver,
	})

	bid := &entity.Bid{
		ID:              uuid.New(),
		TransferID:      transfer.ID,
		Resolver:        resolver,
		BidPrice:        entity.NewBigInt(price),
		ExecutionTime:   req.ExecutionTime,
		GasEstimate:     req.GasEstimate,
		ReputationScore: req.ReputationScore,
		StakeAmount:     entity.NewBigInt(stake),
		Status:          entity.BidStatusPending,
		SubmittedAt:     e.clock.Now(),
	}
	reputation, err := e.reputation(ctx, resolver, req.ReputationScore)
	if err != nil {
		return nil, err
	}

	if rejectErr := e.check(ctx, transfer, auction, bid, reputation); rejectErr != nil {
		reason := rejectErr.Error()
		bid.Status = entity.BidStatusRejected
		bid.Reason = &reason
		if err = e.repo.Bids.Ensure(ctx, bid); err != nil {
			return nil, fmt.Errorf("can't save rejected bid: %w", err)
		}
		BidsTotal.WithLabelValues("rejected").Inc()
		logger.WithError(rejectErr).Warn("rejected bid")
		return nil, rejectErr
	}

	others, err := e.repo.Bids.FindByTransferID(ctx, transfer.ID)
	if err != nil {
		return nil, fmt.Errorf("can't get competing bids: %w", err)
	}
	maxFee := MaxFee(transfer.Amount.Big(), e.cfg.MaxFeeBps)
	bid.Score = Score(PriceScore(price, maxFee), reputation, ExecutionScore(req.ExecutionTime))
	bid.Competitive = isCompetitive(bid.Score, others)
	if err = e.repo.Bids.Ensure(ctx, bid); err != nil {
		return nil, fmt.Errorf("can't save bid: %w", err)
	}
	BidsTotal.WithLabelValues("accepted").Inc()

	competing := 0
	for _, other := range others {
		if other.Status == entity.BidStatusPending {
			competing++
		}
	}
	logger.WithFields(logrus.Fields{
		"bid_id":      bid.ID,
		"score":       bid.Score,
		"competitive": bid.Competitive,
	}).Info("accepted bid")
	return &BidResult{
		Bid:           bid,
		Progress:      e.progress(auction),
		Leading:       isLeading(bid.Score, others),
		CompetingBids: competing,
	}, nil
}

// reputation prefers the track record kept from execution outcomes over the declared score.
func (e *Engine) reputation(ctx context.Context, resolver common.Address, declared float64) (float64, error) {
	tracked, err := e.repo.Resolvers.GetByAddress(ctx, resolver)
	if errors.Is(err, db.ErrNotFound) {
		return declared, nil
	}
	if err != nil {
		return 0, fmt.Errorf("can't get resolver record: %w", err)
	}
	return tracked.Reputation, nil
}

func (e *Engine) check(ctx context.Context, transfer *entity.Transfer, auction *entity.Auction, bid *entity.Bid, reputation float64) error {
	if transfer.State != ledger.TransferStateInitiated || auction.Status != entity.AuctionStatusOpen {
		return ErrTransferNotPending
	}
	if !bid.SubmittedAt.Before(auction.EndsAt) {
		return ErrWindowElapsed
	}
	if reputation < e.cfg.MinReputation {
		return ErrReputationTooLow
	}
	if bid.StakeAmount.Big().Cmp(e.cfg.MinStake) < 0 {
		return ErrStakeTooLow
	}
	if e.blacklist[bid.Resolver] {
		return ErrBlacklisted
	}
	if bid.ExecutionTime < MinExecutionTime || bid.ExecutionTime > MaxExecutionTime {
		return ErrInvalidExecTime
	}
	if bid.GasEstimate <= 0 {
		return ErrInvalidGasEstimate
	}
	for _, chainID := range []uint64{transfer.SourceChainID, transfer.DestChainID} {
		client, err := e.clients.Get(chainID)
		if err != nil {
			return err
		}
		ok, err := client.IsAuthorizedResolver(ctx, bid.Resolver)
		if err != nil {
			return fmt.Errorf("can't check resolver authorization: %w", err)
		}
		if !ok {
			return ErrNotAuthorized
		}
	}
	return nil
}

// Close selects the winner of an auction whose window has elapsed. Closing a closed auction
// returns it unchanged.
func (e *Engine) Close(ctx context.Context, transferID common.Hash) (*entity.Auction, error) {
	unlock := e.locks.Lock(transferID)
	defer unlock()

	auction, err := e.repo.Auctions.GetByTransferID(ctx, transferID)
	if err != nil {
		return nil, fmt.Errorf("can't get auction: %w", err)
	}
	if auction.Status == entity.AuctionStatusClosed {
		return auction, nil
	}
	if e.clock.Now().Before(auction.EndsAt) {
		return nil, ErrWindowOpen
	}

	bids, err := e.repo.Bids.FindByTransferID(ctx, transferID)
	if err != nil {
		return nil, fmt.Errorf("can't get bids: %w", err)
	}
	winner := selectWinner(bids)
	for _, bid := range bids {
		if bid.Status != entity.BidStatusPending {
			continue
		}
		if bid == winner {
			bid.Status = entity.BidStatusSelected
		} else {
			bid.Status = entity.BidStatusExpired
		}
		if err = e.repo.Bids.Ensure(ctx, bid); err != nil {
			return nil, fmt.Errorf("can't update bid: %w", err)
		}
	}

	auction.Status = entity.AuctionStatusClosed
	auction.Outcome = entity.AuctionOutcomeNoBids
	if winner != nil {
		auction.Outcome = entity.AuctionOutcomeWinner
		auction.WinnerBidID = &winner.ID

		transfer, err := e.repo.Transfers.GetByID(ctx, transferID)
		if err != nil {
			return nil, fmt.Errorf("can't get transfer: %w", err)
		}
		transfer.Winner = &winner.Resolver
		if err = e.repo.Transfers.Ensure(ctx, transfer); err != nil {
			return nil, fmt.Errorf("can't record auction winner: %w", err)
		}
	}
	if err = e.repo.Auctions.Ensure(ctx, auction); err != nil {
		return nil, fmt.Errorf("can't save auction: %w", err)
	}
	ClosedTotal.WithLabelValues(string(auction.Outcome)).Inc()

	logger := e.logger.WithFields(logrus.Fields{
		"transfer_id": transferID,
		"bids":        len(bids),
		"outcome":     auction.Outcome,
	})
	if winner != nil {
		logger = logger.WithFields(logrus.Fields{
			"winner": winner.Resolver,
			"score":  winner.Score,
		})
	}
	logger.Info("closed auction")
	return auction, nil
}

// CloseExpired closes every open auction whose window has elapsed and reports how many were closed.
func (e *Engine) CloseExpired(ctx context.Context) (int, error) {
	auctions, err := e.repo.Auctions.FindOpenEndedBefore(ctx, e.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("can't find expired auctions: %w", err)
	}
	closed := 0
	for _, auction := range auctions {
		if _, err = e.Close(ctx, auction.TransferID); err != nil {
			return closed, fmt.Errorf("can't close auction %s: %w", auction.TransferID, err)
		}
		closed++
	}
	return closed, nil
}

func (e *Engine) Progress(ctx context.Context, transferID common.Hash) (*Progress, error) {
	auction, err := e.repo.Auctions.GetByTransferID(ctx, transferID)
	if err != nil {
		return nil, fmt.Errorf("can't get auction: %w", err)
	}
	return e.progress(auction), nil
}

// Winner returns the selected bid, or entity.ErrNotFound while there is none.
func (e *Engine) Winner(ctx context.Context, transferID common.Hash) (*entity.Bid, error) {
	auction, err := e.repo.Auctions.GetByTransferID(ctx, transferID)
	if err != nil {
		return nil, fmt.Errorf("can't get auction: %w", err)
	}
	if auction.WinnerBidID == nil {
		return nil, fmt.Errorf("auction of %s has no winner: %w", transferID, entity.ErrNotFound)
	}
	return e.repo.Bids.GetByID(ctx, *auction.WinnerBidID)
}
