package status_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/omni/htlc-bridge/bridgetest"
	"github.com/omni/htlc-bridge/entity"
	"github.com/omni/htlc-bridge/execution"
	"github.com/omni/htlc-bridge/ledger"
	"github.com/omni/htlc-bridge/repository"
	"github.com/omni/htlc-bridge/status"
)

func TestDerive(t *testing.T) {
	t.Parallel()

	now := bridgetest.Start
	later := now.Add(time.Hour)
	for _, test := range []struct {
		Name      string
		ExpiresAt time.Time
		Src, Dst  ledger.EscrowState
		Revealed  bool
		Expected  status.Status
	}{
		{"Both initiated", later, ledger.EscrowStateInitiated, ledger.EscrowStateInitiated, false, status.StatusPending},
		{"Destination missing", later, ledger.EscrowStateInitiated, ledger.EscrowStateNone, false, status.StatusPending},
		{"Destination claimed", later, ledger.EscrowStateInitiated, ledger.EscrowStateClaimed, true, status.StatusSecretRevealed},
		{"Revealed off-chain", later, ledger.EscrowStateInitiated, ledger.EscrowStateInitiated, true, status.StatusSecretRevealed},
		{"Both claimed", later, ledger.EscrowStateClaimed, ledger.EscrowStateClaimed, true, status.StatusCompleted},
		{"Source refunded", later, ledger.EscrowStateRefunded, ledger.EscrowStateInitiated, false, status.StatusRefunded},
		{"Destination refunded", later, ledger.EscrowStateInitiated, ledger.EscrowStateRefunded, true, status.StatusRefunded},
		{"Expired while pending", now, ledger.EscrowStateInitiated, ledger.EscrowStateInitiated, false, status.StatusExpired},
		{"Expired after completion", now.Add(-time.Second), ledger.EscrowStateClaimed, ledger.EscrowStateClaimed, true, status.StatusExpired},
		{"Expired after refund", now, ledger.EscrowStateRefunded, ledger.EscrowStateRefunded, false, status.StatusExpired},
		{"Source claimed alone", later, ledger.EscrowStateClaimed, ledger.EscrowStateInitiated, false, status.StatusUnknown},
		{"No source escrow", later, ledger.EscrowStateNone, ledger.EscrowStateNone, false, status.StatusUnknown},
	} {
		require.Equal(t, test.Expected, status.Derive(now, test.ExpiresAt, test.Src, test.Dst, test.Revealed), test.Name)
	}
}

type mapCache struct {
	mu    sync.Mutex
	views map[common.Hash]*status.View
	fail  bool
}

func (c *mapCache) Get(_ context.Context, id common.Hash) (*status.View, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return nil, errors.New("connection refused")
	}
	return c.views[id], nil
}

func (c *mapCache) Set(_ context.Context, view *status.View) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("connection refused")
	}
	c.views[view.TransferID] = view
	return nil
}

func TestAggregator_Status(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	env := bridgetest.NewEnv(t)
	svc := env.Services()
	res, err := svc.Coordinator.InitiateTransfer(ctx, bridgetest.TransferRequest())
	require.NoError(t, err)

	first, err := svc.Status.Status(ctx, res.TransferID)
	require.NoError(t, err)
	require.Equal(t, res.TransferID, first.TransferID)
	require.Equal(t, status.StatusPending, first.Status)
	require.Equal(t, ledger.TransferStateInitiated, first.State)
	require.Equal(t, ledger.EscrowStateInitiated, first.SourceEscrowState)
	require.Equal(t, ledger.EscrowStateInitiated, first.DestEscrowState)
	require.False(t, first.SecretRevealed)
	require.Equal(t, res.ExpiresAt, first.ExpiresAt)
	require.NotNil(t, first.Auction)
	require.Equal(t, entity.AuctionStatusOpen, first.Auction.Status)
	require.Nil(t, first.Resolver)
	require.Nil(t, first.Execution)

	second, err := svc.Status.Status(ctx, res.TransferID)
	require.NoError(t, err)
	require.Equal(t, first, second)

	_, err = svc.Status.Status(ctx, common.HexToHash("0x99"))
	require.ErrorIs(t, err, entity.ErrNotFound)

	env.Clock.Set(res.ExpiresAt)
	view, err := svc.Status.Status(ctx, res.TransferID)
	require.NoError(t, err)
	require.Equal(t, status.StatusExpired, view.Status)
}

func TestAggregator_Status_WinnerAndExecution(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	env := bridgetest.NewEnv(t)
	svc := env.Services()
	transferID, secret := env.StartTransfer(t, svc, bridgetest.ResolverA)

	view, err := svc.Status.Status(ctx, transferID)
	require.NoError(t, err)
	require.Equal(t, status.StatusPending, view.Status)
	require.Equal(t, entity.AuctionOutcomeWinner, view.Auction.Outcome)
	require.Equal(t, 1, view.Auction.Bids)
	require.NotNil(t, view.Resolver)
	require.Equal(t, bridgetest.ResolverA, view.Resolver.Address)
	require.Nil(t, view.Resolver.Reputation)

	_, err = svc.Executor.Execute(ctx, &execution.Request{
		TransferID: transferID,
		Secret:     secret,
		Resolver:   bridgetest.ResolverA,
	})
	require.NoError(t, err)

	view, err = svc.Status.Status(ctx, transferID)
	require.NoError(t, err)
	require.Equal(t, status.StatusCompleted, view.Status)
	require.True(t, view.SecretRevealed)
	require.NotNil(t, view.Resolver.Reputation)
	require.Equal(t, entity.ExecutionStatusSucceeded, view.Execution.Status)
}

func TestAggregator_Status_Cache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	env := bridgetest.NewEnv(t)
	svc := env.Services()
	cache := &mapCache{views: make(map[common.Hash]*status.View)}
	agg := status.NewAggregator(env.Logger, env.Clients, env.Repo, cache)
	res, err := svc.Coordinator.InitiateTransfer(ctx, bridgetest.TransferRequest())
	require.NoError(t, err)

	_, err = agg.Status(ctx, res.TransferID)
	require.NoError(t, err)
	require.Empty(t, cache.views)

	env.Clock.Set(res.ExpiresAt.Add(time.Second))
	_, err = svc.Coordinator.Refund(ctx, res.TransferID)
	require.NoError(t, err)
	view, err := agg.Status(ctx, res.TransferID)
	require.NoError(t, err)
	require.Equal(t, status.StatusExpired, view.Status)
	require.Equal(t, ledger.EscrowStateRefunded, view.SourceEscrowState)
	require.Contains(t, cache.views, res.TransferID)

	cached, err := agg.Status(ctx, res.TransferID)
	require.NoError(t, err)
	require.Same(t, cache.views[res.TransferID], cached)

	cache.fail = true
	view, err = agg.Status(ctx, res.TransferID)
	require.NoError(t, err)
	require.Equal(t, status.StatusExpired, view.Status)
}

func TestAggregator_Status_FromChain(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	env := bridgetest.NewEnv(t)
	res, err := env.Services().Coordinator.InitiateTransfer(ctx, bridgetest.TransferRequest())
	require.NoError(t, err)

	// a fresh instance without the off-chain record
	agg := status.NewAggregator(env.Logger, env.Clients, repository.NewMemoryRepo(), nil)
	view, err := agg.Status(ctx, res.TransferID)
	require.NoError(t, err)
	require.Equal(t, status.StatusPending, view.Status)
	require.Equal(t, ledger.EscrowStateInitiated, view.DestEscrowState)
	require.Nil(t, view.Auction)
}

func TestView_JSON(t *testing.T) {
	t.Parallel()

	reputation := 0.9
	view := &status.View{
		TransferID:        common.HexToHash("0x01"),
		Status:            status.StatusSecretRevealed,
		State:             ledger.TransferStateDestLocked,
		SourceEscrowState: ledger.EscrowStateInitiated,
		DestEscrowState:   ledger.EscrowStateClaimed,
		SecretRevealed:    true,
		ExpiresAt:         bridgetest.Start,
		Resolver:          &status.ResolverView{Address: bridgetest.ResolverA, Reputation: &reputation},
		Events:            []*status.EventView{},
	}
	blob, err := json.Marshal(view)
	require.NoError(t, err)
	require.Contains(t, string(blob), `"status":"secret_revealed"`)
	require.Contains(t, string(blob), `"destEscrowState":"Claimed"`)

	decoded := new(status.View)
	require.NoError(t, json.Unmarshal(blob, decoded))
	require.Equal(t, view, decoded)
}
