package coordinator_test

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/omni/htlc-bridge/auction"
	"github.com/omni/htlc-bridge/bridgetest"
	"github.com/omni/htlc-bridge/chainclient"
	"github.com/omni/htlc-bridge/coordinator"
	"github.com/omni/htlc-bridge/entity"
	"github.com/omni/htlc-bridge/ledger"
)

func TestCoordinator_InitiateTransfer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	env := bridgetest.NewEnv(t)
	svc := env.Services()
	secret := bytes.Repeat([]byte{0x42}, 32)
	c := svc.Coordinator.WithRandom(bytes.NewReader(secret))

	res, err := c.InitiateTransfer(ctx, bridgetest.TransferRequest())
	require.NoError(t, err)
	require.Equal(t, ledger.TransferStateInitiated, res.State)
	require.Equal(t, ledger.HashSecret(common.BytesToHash(secret)), res.SecretHash)
	require.Equal(t, bridgetest.Units(1), res.Amount)
	require.Equal(t, bridgetest.Start.Add(time.Hour), res.ExpiresAt)
	require.NotNil(t, res.AuctionEndsAt)
	require.Equal(t, bridgetest.Start.Add(300*time.Second), *res.AuctionEndsAt)

	// 10 bps fee is kept on the source chain
	require.Equal(t, new(big.Int).Sub(bridgetest.Units(1), big.NewInt(1e15)), res.DestAmount)

	src, err := env.Source().GetEscrow(res.SourceEscrowID)
	require.NoError(t, err)
	require.Equal(t, ledger.EscrowStateInitiated, src.State)
	require.Equal(t, bridgetest.Initiator, src.Initiator)
	require.Equal(t, bridgetest.SourceOperator, src.Recipient)
	require.Equal(t, time.Hour, src.TimelockDuration)

	require.NotNil(t, res.DestEscrowID)
	dst, err := env.Dest().GetEscrow(*res.DestEscrowID)
	require.NoError(t, err)
	require.Equal(t, ledger.EscrowStateInitiated, dst.State)
	require.Equal(t, bridgetest.DestOperator, dst.Initiator)
	require.Equal(t, bridgetest.Recipient, dst.Recipient)
	require.Equal(t, src.SecretHash, dst.SecretHash)

	require.Equal(t,
		ledger.ComputeTransferID(res.SourceEscrowID, *res.DestEscrowID, bridgetest.SourceChainID, bridgetest.DestChainID),
		res.TransferID,
	)
	onChain, err := env.Source().GetTransfer(res.TransferID)
	require.NoError(t, err)
	require.Equal(t, ledger.TransferStateInitiated, onChain.State)
	require.Equal(t, bridgetest.Recipient, onChain.Recipient)

	stored, err := env.Repo.Transfers.GetByID(ctx, res.TransferID)
	require.NoError(t, err)
	require.Equal(t, ledger.TransferStateInitiated, stored.State)
	require.False(t, stored.SecretRevealed)
	require.Equal(t, bridgetest.Units(9), env.Source().BalanceOf(bridgetest.SourceToken, bridgetest.Initiator))

	progress, err := svc.Auctions.Progress(ctx, res.TransferID)
	require.NoError(t, err)
	require.Equal(t, entity.AuctionStatusOpen, progress.Status)
}

func TestCoordinator_InitiateTransfer_Validation(t *testing.T) {
	t.Parallel()

	for _, test := range []struct {
		Name   string
		Modify func(req *coordinator.Request)
	}{
		{"Unknown source chain", func(req *coordinator.Request) { req.SourceChainID = 1 }},
		{"Unknown destination chain", func(req *coordinator.Request) { req.DestChainID = 1 }},
		{"Same chain", func(req *coordinator.Request) { req.DestChainID = req.SourceChainID }},
		{"Bad initiator", func(req *coordinator.Request) { req.Initiator = "0x1234" }},
		{"Zero recipient", func(req *coordinator.Request) { req.Recipient = common.Address{}.Hex() }},
		{"Unknown token", func(req *coordinator.Request) { req.Token = "Y" }},
		{"Unknown token address", func(req *coordinator.Request) { req.Token = bridgetest.DestToken.Hex() }},
		{"Zero amount", func(req *coordinator.Request) { req.Amount = "0" }},
		{"Negative amount", func(req *coordinator.Request) { req.Amount = "-1" }},
		{"Malformed amount", func(req *coordinator.Request) { req.Amount = "one" }},
		{"Too many decimals", func(req *coordinator.Request) { req.Amount = "0.0000000000000000001" }},
		{"Short timeout", func(req *coordinator.Request) { req.Timeout = 59 * time.Minute }},
		{"Long timeout", func(req *coordinator.Request) { req.Timeout = 31 * 24 * time.Hour }},
	} {
		test := test
		t.Run(test.Name, func(t *testing.T) {
			t.Parallel()

			env := bridgetest.NewEnv(t)
			req := bridgetest.TransferRequest()
			test.Modify(req)
			_, err := env.Services().Coordinator.InitiateTransfer(context.Background(), req)
			require.ErrorIs(t, err, entity.ErrValidation)
			require.Equal(t, bridgetest.Units(10), env.Source().BalanceOf(bridgetest.SourceToken, bridgetest.Initiator))
		})
	}
}

func TestCoordinator_InitiateTransfer_TokenAddress(t *testing.T) {
	t.Parallel()

	env := bridgetest.NewEnv(t)
	req := bridgetest.TransferRequest()
	req.Token = bridgetest.SourceToken.Hex()
	req.Timeout = 0
	bridgetest.SignTransferRequest(req)
	res, err := env.Services().Coordinator.InitiateTransfer(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, bridgetest.Start.Add(env.Cfg.Coordinator.DefaultTimeout), res.ExpiresAt)
}

func TestCoordinator_InitiateTransfer_ExceedsApproval(t *testing.T) {
	t.Parallel()

	env := bridgetest.NewEnv(t)
	req := bridgetest.TransferRequest()
	req.Amount = "11"
	bridgetest.SignTransferRequest(req)
	_, err := env.Services().Coordinator.InitiateTransfer(context.Background(), req)
	require.ErrorIs(t, err, ledger.ErrInsufficientAllowance)
	require.Equal(t, entity.ErrValidation, entity.Classify(err))
}

func TestCoordinator_InitiateTransfer_Authorization(t *testing.T) {
	t.Parallel()

	for _, test := range []struct {
		Name   string
		Modify func(req *coordinator.Request)
	}{
		{"Unsigned", func(req *coordinator.Request) { req.Signature = nil }},
		{"Malformed signature", func(req *coordinator.Request) { req.Signature = []byte{1, 2, 3} }},
		{"Signed by another account", func(req *coordinator.Request) {
			req.Recipient = bridgetest.Stranger.Hex()
			req.Signature = bridgetest.Sign(bridgetest.ResolverKeyA, coordinator.SignedMessage(req))
		}},
		{"Recipient changed after signing", func(req *coordinator.Request) { req.Recipient = bridgetest.Stranger.Hex() }},
		{"Amount changed after signing", func(req *coordinator.Request) { req.Amount = "2" }},
		{"Nonce changed after signing", func(req *coordinator.Request) { req.Nonce++ }},
	} {
		test := test
		t.Run(test.Name, func(t *testing.T) {
			t.Parallel()

			env := bridgetest.NewEnv(t)
			req := bridgetest.TransferRequest()
			test.Modify(req)
			_, err := env.Services().Coordinator.InitiateTransfer(context.Background(), req)
			require.ErrorIs(t, err, coordinator.ErrInvalidSignature)
			require.Equal(t, entity.ErrUnauthorized, entity.Classify(err))
			require.Equal(t, bridgetest.Units(10), env.Source().BalanceOf(bridgetest.SourceToken, bridgetest.Initiator))
			require.Zero(t, env.Dest().BalanceOf(bridgetest.DestToken, bridgetest.Stranger).Sign())
		})
	}
}

func TestCoordinator_InitiateTransfer_Nonce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	env := bridgetest.NewEnv(t)
	c := env.Services().Coordinator

	// nothing gets locked, so the nonce stays usable
	req := bridgetest.TransferRequest()
	req.Amount = "11"
	bridgetest.SignTransferRequest(req)
	_, err := c.InitiateTransfer(ctx, req)
	require.ErrorIs(t, err, ledger.ErrInsufficientAllowance)

	req.Amount = "1"
	bridgetest.SignTransferRequest(req)
	_, err = c.InitiateTransfer(ctx, req)
	require.NoError(t, err)

	_, err = c.InitiateTransfer(ctx, req)
	require.ErrorIs(t, err, coordinator.ErrNonceUsed)
	require.Equal(t, bridgetest.Units(9), env.Source().BalanceOf(bridgetest.SourceToken, bridgetest.Initiator))

	_, err = c.InitiateTransfer(ctx, bridgetest.TransferRequest())
	require.NoError(t, err)
	require.Equal(t, bridgetest.Units(8), env.Source().BalanceOf(bridgetest.SourceToken, bridgetest.Initiator))
}

func TestCoordinator_InitiateTransfer_PartialFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	env := bridgetest.NewEnv(t)
	svc := env.Services()
	// the destination operator has no liquidity left
	_, err := env.Dest().Transfer(bridgetest.DestOperator, bridgetest.DestToken, bridgetest.Stranger, bridgetest.Units(1000))
	require.NoError(t, err)

	res, err := svc.Coordinator.InitiateTransfer(ctx, bridgetest.TransferRequest())
	require.ErrorIs(t, err, entity.ErrPartialExecution)
	require.NotNil(t, res)
	require.Equal(t, ledger.TransferStateSourceLocked, res.State)
	require.Nil(t, res.DestEscrowID)
	require.Nil(t, res.AuctionEndsAt)

	src, err := env.Source().GetEscrow(res.SourceEscrowID)
	require.NoError(t, err)
	require.Equal(t, ledger.EscrowStateInitiated, src.State)

	stored, err := env.Repo.Transfers.GetByID(ctx, res.TransferID)
	require.NoError(t, err)
	require.Equal(t, ledger.TransferStateSourceLocked, stored.State)

	_, err = env.Source().GetTransfer(res.TransferID)
	require.ErrorIs(t, err, ledger.ErrTransferNotFound)

	_, err = svc.Auctions.SubmitBid(ctx, &auction.BidRequest{
		TransferID:      res.TransferID,
		Resolver:        bridgetest.ResolverA.Hex(),
		BidPrice:        "1",
		ExecutionTime:   30,
		GasEstimate:     1,
		ReputationScore: 0.9,
		StakeAmount:     "1000",
	})
	require.ErrorIs(t, err, auction.ErrTransferNotPending)

	env.Clock.Advance(time.Hour)
	refund, err := svc.Coordinator.Refund(ctx, res.TransferID)
	require.NoError(t, err)
	require.NotNil(t, refund.SourceTxHash)
	require.Nil(t, refund.DestTxHash)
	require.Equal(t, bridgetest.Units(10), env.Source().BalanceOf(bridgetest.SourceToken, bridgetest.Initiator))
}

func TestCoordinator_RevealSecret(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	env := bridgetest.NewEnv(t)
	svc := env.Services()
	res, err := svc.Coordinator.InitiateTransfer(ctx, bridgetest.TransferRequest())
	require.NoError(t, err)

	_, err = svc.Coordinator.RevealSecret(ctx, res.TransferID, bridgetest.ResolverA, bridgetest.SignReveal(bridgetest.ResolverA, res.TransferID))
	require.ErrorIs(t, err, entity.ErrInvalidState)
	unknown := common.HexToHash("0x99")
	_, err = svc.Coordinator.RevealSecret(ctx, unknown, bridgetest.ResolverA, bridgetest.SignReveal(bridgetest.ResolverA, unknown))
	require.ErrorIs(t, err, entity.ErrNotFound)

	_, err = svc.Auctions.SubmitBid(ctx, &auction.BidRequest{
		TransferID:      res.TransferID,
		Resolver:        bridgetest.ResolverA.Hex(),
		BidPrice:        "1000",
		ExecutionTime:   30,
		GasEstimate:     150_000,
		ReputationScore: 0.9,
		StakeAmount:     "1000",
	})
	require.NoError(t, err)
	env.Clock.Advance(env.Cfg.Auction.Duration)
	_, err = svc.Auctions.Close(ctx, res.TransferID)
	require.NoError(t, err)

	_, err = svc.Coordinator.RevealSecret(ctx, res.TransferID, bridgetest.ResolverB, bridgetest.SignReveal(bridgetest.ResolverB, res.TransferID))
	require.ErrorIs(t, err, entity.ErrUnauthorized)

	// naming the public winner address is not enough
	for _, sig := range [][]byte{
		nil,
		{1, 2, 3},
		bridgetest.SignReveal(bridgetest.ResolverB, res.TransferID),
		bridgetest.SignReveal(bridgetest.ResolverA, common.HexToHash("0x99")),
	} {
		_, err = svc.Coordinator.RevealSecret(ctx, res.TransferID, bridgetest.ResolverA, sig)
		require.ErrorIs(t, err, coordinator.ErrInvalidSignature)
	}

	secret, err := svc.Coordinator.RevealSecret(ctx, res.TransferID, bridgetest.ResolverA, bridgetest.SignReveal(bridgetest.ResolverA, res.TransferID))
	require.NoError(t, err)
	require.Equal(t, res.SecretHash, ledger.HashSecret(secret))
}

func TestCoordinator_Refund(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	env := bridgetest.NewEnv(t)
	svc := env.Services()
	res, err := svc.Coordinator.InitiateTransfer(ctx, bridgetest.TransferRequest())
	require.NoError(t, err)
	operatorBalance := env.Dest().BalanceOf(bridgetest.DestToken, bridgetest.DestOperator)

	env.Clock.Set(res.ExpiresAt.Add(-time.Second))
	_, err = svc.Coordinator.Refund(ctx, res.TransferID)
	require.ErrorIs(t, err, ledger.ErrTimelockNotExpired)
	require.Equal(t, entity.ErrTimelock, entity.Classify(err))
	stored, err := env.Repo.Transfers.GetByID(ctx, res.TransferID)
	require.NoError(t, err)
	require.Equal(t, ledger.TransferStateInitiated, stored.State)

	env.Clock.Set(res.ExpiresAt.Add(time.Second))
	refund, err := svc.Coordinator.Refund(ctx, res.TransferID)
	require.NoError(t, err)
	require.NotNil(t, refund.SourceTxHash)
	require.NotNil(t, refund.DestTxHash)

	require.Equal(t, bridgetest.Units(10), env.Source().BalanceOf(bridgetest.SourceToken, bridgetest.Initiator))
	require.Equal(t,
		new(big.Int).Add(operatorBalance, res.DestAmount),
		env.Dest().BalanceOf(bridgetest.DestToken, bridgetest.DestOperator),
	)
	require.Equal(t, ledger.EscrowStateRefunded, env.Source().GetState(res.SourceEscrowID))
	require.Equal(t, ledger.EscrowStateRefunded, env.Dest().GetState(*res.DestEscrowID))

	_, err = svc.Coordinator.Refund(ctx, res.TransferID)
	require.True(t, errors.Is(err, entity.ErrInvalidState))
}

// slowDestination lets a minute pass before the destination escrow is created.
type slowDestination struct {
	chainclient.Client
	clock *ledger.ManualClock
}

func (c *slowDestination) CreateEscrow(ctx context.Context, req *chainclient.CreateEscrowRequest) (common.Hash, *ledger.Receipt, error) {
	c.clock.Advance(time.Minute)
	return c.Client.CreateEscrow(ctx, req)
}

func TestCoordinator_Refund_DestinationExpiresLater(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	env := bridgetest.NewEnv(t)
	env.Clients[bridgetest.DestChainID] = &slowDestination{Client: env.Clients[bridgetest.DestChainID], clock: env.Clock}
	svc := env.Services()
	res, err := svc.Coordinator.InitiateTransfer(ctx, bridgetest.TransferRequest())
	require.NoError(t, err)
	operatorBalance := env.Dest().BalanceOf(bridgetest.DestToken, bridgetest.DestOperator)

	// only the source leg has expired
	env.Clock.Set(res.ExpiresAt.Add(time.Second))
	refund, err := svc.Coordinator.Refund(ctx, res.TransferID)
	require.ErrorIs(t, err, ledger.ErrTimelockNotExpired)
	require.NotNil(t, refund)
	require.NotNil(t, refund.SourceTxHash)
	require.Nil(t, refund.DestTxHash)
	require.Equal(t, bridgetest.Units(10), env.Source().BalanceOf(bridgetest.SourceToken, bridgetest.Initiator))
	require.Equal(t, ledger.EscrowStateInitiated, env.Dest().GetState(*res.DestEscrowID))

	stored, err := env.Repo.Transfers.GetByID(ctx, res.TransferID)
	require.NoError(t, err)
	require.Equal(t, ledger.TransferStateInitiated, stored.State)

	env.Clock.Set(res.ExpiresAt.Add(2 * time.Minute))
	refund, err = svc.Coordinator.Refund(ctx, res.TransferID)
	require.NoError(t, err)
	require.Nil(t, refund.SourceTxHash)
	require.NotNil(t, refund.DestTxHash)
	require.Equal(t,
		new(big.Int).Add(operatorBalance, res.DestAmount),
		env.Dest().BalanceOf(bridgetest.DestToken, bridgetest.DestOperator),
	)

	stored, err = env.Repo.Transfers.GetByID(ctx, res.TransferID)
	require.NoError(t, err)
	require.Equal(t, ledger.TransferStateRefunded, stored.State)
}

func TestParseTransferID(t *testing.T) {
	t.Parallel()

	id := common.HexToHash("0xabcdef")
	parsed, err := coordinator.ParseTransferID(id.Hex())
	require.NoError(t, err)
	require.Equal(t, id, parsed)

	for _, bad := range []string{"", "0x", "abcdef", "0x1234", id.Hex() + "00"} {
		_, err = coordinator.ParseTransferID(bad)
		require.ErrorIs(t, err, entity.ErrValidation, bad)
	}
}
