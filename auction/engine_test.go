package auction_test

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/omni/htlc-bridge/auction"
	"github.com/omni/htlc-bridge/bridgetest"
	"github.com/omni/htlc-bridge/entity"
	"github.com/omni/htlc-bridge/ledger"
)

var transferID = common.HexToHash("0x77")

func newEngine(t *testing.T) (*auction.Engine, *bridgetest.Env) {
	t.Helper()

	env := bridgetest.NewEnv(t)
	engine := auction.NewEngine(env.Logger, env.Cfg.Auction, env.Clock, env.Clients, env.Repo)
	transfer := &entity.Transfer{
		ID:              transferID,
		SourceChainID:   bridgetest.SourceChainID,
		DestChainID:     bridgetest.DestChainID,
		Amount:          entity.NewBigInt(bridgetest.Units(1)),
		DestAmount:      entity.NewBigInt(bridgetest.Units(1)),
		TimelockSeconds: 3600,
		InitTimestamp:   env.Clock.Now(),
		State:           ledger.TransferStateInitiated,
	}
	require.NoError(t, env.Repo.Transfers.Ensure(context.Background(), transfer))
	_, err := engine.Open(context.Background(), transfer)
	require.NoError(t, err)
	return engine, env
}

// bid prices are in base units of a 1.0 token transfer, whose max fee is 1e16.
func bid(resolver common.Address, price string, executionTime int64, reputation float64) *auction.BidRequest {
	return &auction.BidRequest{
		TransferID:      transferID,
		Resolver:        resolver.Hex(),
		BidPrice:        price,
		ExecutionTime:   executionTime,
		GasEstimate:     150_000,
		ReputationScore: reputation,
		StakeAmount:     "1000",
	}
}

func TestEngine_SubmitBid_Rejections(t *testing.T) {
	t.Parallel()

	for _, test := range []struct {
		Name    string
		Request func() *auction.BidRequest
		Err     error
	}{
		{"Unknown transfer", func() *auction.BidRequest {
			req := bid(bridgetest.ResolverA, "1", 30, 0.9)
			req.TransferID = common.HexToHash("0x99")
			return req
		}, entity.ErrNotFound},
		{"Low reputation", func() *auction.BidRequest {
			return bid(bridgetest.ResolverA, "1", 30, 0.5)
		}, auction.ErrReputationTooLow},
		{"Low stake", func() *auction.BidRequest {
			req := bid(bridgetest.ResolverA, "1", 30, 0.9)
			req.StakeAmount = "999"
			return req
		}, auction.ErrStakeTooLow},
		{"Blacklisted", func() *auction.BidRequest {
			return bid(bridgetest.Blacklisted, "1", 30, 0.9)
		}, auction.ErrBlacklisted},
		{"Zero execution time", func() *auction.BidRequest {
			return bid(bridgetest.ResolverA, "1", 0, 0.9)
		}, auction.ErrInvalidExecTime},
		{"Too long execution time", func() *auction.BidRequest {
			return bid(bridgetest.ResolverA, "1", 301, 0.9)
		}, auction.ErrInvalidExecTime},
		{"Zero gas estimate", func() *auction.BidRequest {
			req := bid(bridgetest.ResolverA, "1", 30, 0.9)
			req.GasEstimate = 0
			return req
		}, auction.ErrInvalidGasEstimate},
		{"Unauthorized resolver", func() *auction.BidRequest {
			return bid(bridgetest.Stranger, "1", 30, 0.9)
		}, auction.ErrNotAuthorized},
		{"Malformed address", func() *auction.BidRequest {
			req := bid(bridgetest.ResolverA, "1", 30, 0.9)
			req.Resolver = "0x1234"
			return req
		}, entity.ErrValidation},
		{"Negative price", func() *auction.BidRequest {
			return bid(bridgetest.ResolverA, "-1", 30, 0.9)
		}, entity.ErrValidation},
	} {
		test := test
		t.Run(test.Name, func(t *testing.T) {
			t.Parallel()

			engine, _ := newEngine(t)
			_, err := engine.SubmitBid(context.Background(), test.Request())
			require.ErrorIs(t, err, test.Err)
		})
	}
}

func TestEngine_SubmitBid_LowReputationIsRecorded(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine, env := newEngine(t)
	_, err := engine.SubmitBid(ctx, bid(bridgetest.ResolverA, "1", 30, 0.5))
	require.ErrorContains(t, err, "reputation below minimum")
	require.ErrorIs(t, err, entity.ErrValidation)

	bids, err := env.Repo.Bids.FindByTransferID(ctx, transferID)
	require.NoError(t, err)
	require.Len(t, bids, 1)
	require.Equal(t, entity.BidStatusRejected, bids[0].Status)
	require.Contains(t, *bids[0].Reason, "reputation below minimum")
}

func TestEngine_SubmitBid_Window(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine, env := newEngine(t)

	env.Clock.Advance(299 * time.Second)
	res, err := engine.SubmitBid(ctx, bid(bridgetest.ResolverA, "1", 30, 0.9))
	require.NoError(t, err)
	require.Equal(t, time.Second, res.Progress.Remaining)

	env.Clock.Advance(time.Second)
	_, err = engine.SubmitBid(ctx, bid(bridgetest.ResolverB, "1", 30, 0.9))
	require.ErrorIs(t, err, auction.ErrWindowElapsed)
}

func TestEngine_SubmitBid_NotPending(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine, env := newEngine(t)
	transfer, err := env.Repo.Transfers.GetByID(ctx, transferID)
	require.NoError(t, err)
	transfer.State = ledger.TransferStateDestLocked
	require.NoError(t, env.Repo.Transfers.Ensure(ctx, transfer))

	_, err = engine.SubmitBid(ctx, bid(bridgetest.ResolverA, "1", 30, 0.9))
	require.ErrorIs(t, err, auction.ErrTransferNotPending)
}

func TestEngine_SubmitBid_TrackedReputation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine, env := newEngine(t)
	_, err := env.Repo.Resolvers.ApplyOutcome(ctx, &entity.ResolverOutcome{
		Address:           bridgetest.ResolverA,
		InitialReputation: 0.65,
	})
	require.NoError(t, err)

	_, err = engine.SubmitBid(ctx, bid(bridgetest.ResolverA, "1", 30, 0.95))
	require.ErrorIs(t, err, auction.ErrReputationTooLow)
}

func TestEngine_SubmitBid_Competitive(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine, _ := newEngine(t)

	first, err := engine.SubmitBid(ctx, bid(bridgetest.ResolverA, "5000000000000000", 150, 0.8))
	require.NoError(t, err)
	require.True(t, first.Bid.Competitive)
	require.True(t, first.Leading)
	require.Zero(t, first.CompetingBids)

	worse, err := engine.SubmitBid(ctx, bid(bridgetest.ResolverB, "8000000000000000", 250, 0.75))
	require.NoError(t, err)
	require.False(t, worse.Bid.Competitive)
	require.False(t, worse.Leading)
	require.Equal(t, 1, worse.CompetingBids)

	// cheaper, more reputable and faster than every bid so far
	best, err := engine.SubmitBid(ctx, bid(bridgetest.ResolverB, "1000000000000000", 30, 0.95))
	require.NoError(t, err)
	require.True(t, best.Bid.Competitive)
	require.True(t, best.Leading)
	require.Equal(t, 2, best.CompetingBids)
	require.Greater(t, best.Bid.Score, first.Bid.Score)
}

func TestEngine_Close(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine, env := newEngine(t)

	low, err := engine.SubmitBid(ctx, bid(bridgetest.ResolverA, "5000000000000000", 150, 0.8))
	require.NoError(t, err)
	high, err := engine.SubmitBid(ctx, bid(bridgetest.ResolverB, "1000000000000000", 30, 0.95))
	require.NoError(t, err)

	_, err = engine.Close(ctx, transferID)
	require.ErrorIs(t, err, auction.ErrWindowOpen)

	env.Clock.Advance(5 * time.Minute)
	closed, err := engine.Close(ctx, transferID)
	require.NoError(t, err)
	require.Equal(t, entity.AuctionStatusClosed, closed.Status)
	require.Equal(t, entity.AuctionOutcomeWinner, closed.Outcome)
	require.Equal(t, high.Bid.ID, *closed.WinnerBidID)

	winner, err := engine.Winner(ctx, transferID)
	require.NoError(t, err)
	require.Equal(t, entity.BidStatusSelected, winner.Status)
	require.Equal(t, bridgetest.ResolverB, winner.Resolver)
	loser, err := env.Repo.Bids.GetByID(ctx, low.Bid.ID)
	require.NoError(t, err)
	require.Equal(t, entity.BidStatusExpired, loser.Status)

	transfer, err := env.Repo.Transfers.GetByID(ctx, transferID)
	require.NoError(t, err)
	require.Equal(t, bridgetest.ResolverB, *transfer.Winner)

	again, err := engine.Close(ctx, transferID)
	require.NoError(t, err)
	require.Equal(t, closed.WinnerBidID, again.WinnerBidID)

	_, err = engine.SubmitBid(ctx, bid(bridgetest.ResolverA, "1", 30, 0.9))
	require.ErrorIs(t, err, auction.ErrTransferNotPending)
}

func TestEngine_Close_TieGoesToEarliest(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine, env := newEngine(t)

	_, err := engine.SubmitBid(ctx, bid(bridgetest.ResolverA, "1000000000000000", 60, 0.9))
	require.NoError(t, err)
	_, err = engine.SubmitBid(ctx, bid(bridgetest.ResolverB, "1000000000000000", 60, 0.9))
	require.NoError(t, err)

	env.Clock.Advance(5 * time.Minute)
	_, err = engine.Close(ctx, transferID)
	require.NoError(t, err)
	winner, err := engine.Winner(ctx, transferID)
	require.NoError(t, err)
	require.Equal(t, bridgetest.ResolverA, winner.Resolver)
}

func TestEngine_CloseExpired_NoBids(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine, env := newEngine(t)

	closed, err := engine.CloseExpired(ctx)
	require.NoError(t, err)
	require.Zero(t, closed)

	env.Clock.Advance(10 * time.Minute)
	closed, err = engine.CloseExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, closed)

	progress, err := engine.Progress(ctx, transferID)
	require.NoError(t, err)
	require.Equal(t, entity.AuctionStatusClosed, progress.Status)
	require.InDelta(t, 100, progress.Percent, 1e-9)
	_, err = engine.Winner(ctx, transferID)
	require.ErrorIs(t, err, entity.ErrNotFound)
}
