package bridgetest

import (
	"context"
	"crypto/ecdsa"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/omni/htlc-bridge/auction"
	"github.com/omni/htlc-bridge/coordinator"
	"github.com/omni/htlc-bridge/execution"
	"github.com/omni/htlc-bridge/status"
)

type Services struct {
	Auctions    *auction.Engine
	Coordinator *coordinator.Coordinator
	Executor    *execution.Engine
	Status      *status.Aggregator
}

func (e *Env) Services() *Services {
	auctions := auction.NewEngine(e.Logger, e.Cfg.Auction, e.Clock, e.Clients, e.Repo)
	return &Services{
		Auctions:    auctions,
		Coordinator: coordinator.New(e.Logger, e.Cfg, e.Clients, e.Repo, auctions),
		Executor:    execution.NewEngine(e.Logger, e.Cfg, e.Clients, e.Repo),
		Status:      status.NewAggregator(e.Logger, e.Clients, e.Repo, nil),
	}
}

var lastNonce uint64

// NextNonce is unique across every Env of the test binary.
func NextNonce() uint64 {
	return atomic.AddUint64(&lastNonce, 1)
}

// TransferRequest moves 1.0 X from the source chain to the destination chain with a one hour
// timeout. It is signed by the initiator under a fresh nonce.
func TransferRequest() *coordinator.Request {
	return SignTransferRequest(&coordinator.Request{
		SourceChainID: SourceChainID,
		DestChainID:   DestChainID,
		Token:         "X",
		Amount:        "1",
		Initiator:     Initiator.Hex(),
		Recipient:     Recipient.Hex(),
		Timeout:       time.Hour,
		Nonce:         NextNonce(),
	})
}

// SignTransferRequest signs req as the initiator, after its fields were changed.
func SignTransferRequest(req *coordinator.Request) *coordinator.Request {
	req.Signature = Sign(InitiatorKey, coordinator.SignedMessage(req))
	return req
}

// ResolverKey returns the key of ResolverA or ResolverB.
func ResolverKey(resolver common.Address) *ecdsa.PrivateKey {
	if resolver == ResolverB {
		return ResolverKeyB
	}
	return ResolverKeyA
}

// SignReveal signs the secret request of resolver for transferID.
func SignReveal(resolver common.Address, transferID common.Hash) []byte {
	return Sign(ResolverKey(resolver), coordinator.RevealMessage(transferID))
}

// StartTransfer initiates a transfer and lets resolver win its auction.
// It returns the transfer id together with the secret the winner receives.
func (e *Env) StartTransfer(t *testing.T, svc *Services, resolver common.Address) (common.Hash, common.Hash) {
	t.Helper()
	ctx := context.Background()

	res, err := svc.Coordinator.InitiateTransfer(ctx, TransferRequest())
	require.NoError(t, err)
	_, err = svc.Auctions.SubmitBid(ctx, &auction.BidRequest{
		TransferID:      res.TransferID,
		Resolver:        resolver.Hex(),
		BidPrice:        "1000000000000000",
		ExecutionTime:   30,
		GasEstimate:     150_000,
		ReputationScore: 0.9,
		StakeAmount:     "1000",
	})
	require.NoError(t, err)

	e.Clock.Advance(e.Cfg.Auction.Duration)
	_, err = svc.Auctions.Close(ctx, res.TransferID)
	require.NoError(t, err)
	secret, err := svc.Coordinator.RevealSecret(ctx, res.TransferID, resolver, SignReveal(resolver, res.TransferID))
	require.NoError(t, err)
	return res.TransferID, secret
}
