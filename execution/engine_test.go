package execution_test

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/omni/htlc-bridge/bridgetest"
	"github.com/omni/htlc-bridge/entity"
	"github.com/omni/htlc-bridge/execution"
	"github.com/omni/htlc-bridge/ledger"
	"github.com/omni/htlc-bridge/status"
)

var fee = big.NewInt(1e15)

func sign(t *testing.T, transferID common.Hash, resolver common.Address) []byte {
	t.Helper()

	key := bridgetest.ResolverKeyA
	if resolver == bridgetest.ResolverB {
		key = bridgetest.ResolverKeyB
	}
	sig, err := crypto.Sign(accounts.TextHash(execution.SignedMessage(transferID)), key)
	require.NoError(t, err)
	sig[64] += 27
	return sig
}

func TestEngine_Execute(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	env := bridgetest.NewEnv(t)
	svc := env.Services()
	transferID, secret := env.StartTransfer(t, svc, bridgetest.ResolverA)
	operatorBalance := env.Source().BalanceOf(bridgetest.SourceToken, bridgetest.SourceOperator)

	exec, err := svc.Executor.Execute(ctx, &execution.Request{
		TransferID: transferID,
		Secret:     secret,
		Resolver:   bridgetest.ResolverA,
		Signature:  sign(t, transferID, bridgetest.ResolverA),
	})
	require.NoError(t, err)
	require.Equal(t, entity.ExecutionStatusSucceeded, exec.Status)
	require.NotNil(t, exec.DestTxHash)
	require.NotNil(t, exec.SourceTxHash)
	require.NotZero(t, exec.GasUsed)
	require.Equal(t, fee, exec.BridgeFee.Big())

	transfer, err := env.Repo.Transfers.GetByID(ctx, transferID)
	require.NoError(t, err)
	require.Equal(t, ledger.TransferStateCompleted, transfer.State)
	require.True(t, transfer.SecretRevealed)

	onChain, err := env.Source().GetTransfer(transferID)
	require.NoError(t, err)
	require.Equal(t, ledger.TransferStateCompleted, onChain.State)
	require.Equal(t, ledger.EscrowStateClaimed, env.Source().GetState(transfer.SourceEscrowID))
	require.Equal(t, ledger.EscrowStateClaimed, env.Dest().GetState(*transfer.DestEscrowID))

	require.Equal(t, transfer.DestAmount.Big(), env.Dest().BalanceOf(bridgetest.DestToken, bridgetest.Recipient))
	require.Equal(t, fee, env.Source().BalanceOf(bridgetest.SourceToken, bridgetest.ResolverA))
	expected := new(big.Int).Add(operatorBalance, bridgetest.Units(1))
	require.Equal(t, expected.Sub(expected, fee), env.Source().BalanceOf(bridgetest.SourceToken, bridgetest.SourceOperator))

	resolver, err := env.Repo.Resolvers.GetByAddress(ctx, bridgetest.ResolverA)
	require.NoError(t, err)
	require.InDelta(t, 0.91, resolver.Reputation, 1e-9)
	require.Equal(t, uint64(1), resolver.Executions)
	require.Equal(t, fee, resolver.TotalFees.Big())

	_, err = svc.Executor.Execute(ctx, &execution.Request{
		TransferID: transferID,
		Secret:     secret,
		Resolver:   bridgetest.ResolverA,
	})
	require.ErrorIs(t, err, execution.ErrAlreadyCompleted)
	require.Equal(t, fee, env.Source().BalanceOf(bridgetest.SourceToken, bridgetest.ResolverA))
}

func TestEngine_Execute_Rejections(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	env := bridgetest.NewEnv(t)
	svc := env.Services()
	transferID, secret := env.StartTransfer(t, svc, bridgetest.ResolverA)

	for _, test := range []struct {
		Name    string
		Request *execution.Request
		Err     error
	}{
		{"Unknown transfer", &execution.Request{
			TransferID: common.HexToHash("0x99"),
			Secret:     secret,
			Resolver:   bridgetest.ResolverA,
		}, entity.ErrNotFound},
		{"Wrong secret", &execution.Request{
			TransferID: transferID,
			Secret:     common.HexToHash("0x01"),
			Resolver:   bridgetest.ResolverA,
		}, entity.ErrHashMismatch},
		{"Not the winner", &execution.Request{
			TransferID: transferID,
			Secret:     secret,
			Resolver:   bridgetest.ResolverB,
		}, execution.ErrNotWinner},
		{"Signature of another resolver", &execution.Request{
			TransferID: transferID,
			Secret:     secret,
			Resolver:   bridgetest.ResolverA,
			Signature:  sign(t, transferID, bridgetest.ResolverB),
		}, execution.ErrInvalidSignature},
		{"Malformed signature", &execution.Request{
			TransferID: transferID,
			Secret:     secret,
			Resolver:   bridgetest.ResolverA,
			Signature:  []byte{1, 2, 3},
		}, execution.ErrInvalidSignature},
	} {
		_, err := svc.Executor.Execute(ctx, test.Request)
		require.ErrorIs(t, err, test.Err, test.Name)
	}

	transfer, err := env.Repo.Transfers.GetByID(ctx, transferID)
	require.NoError(t, err)
	require.Equal(t, ledger.TransferStateInitiated, transfer.State)
	require.Equal(t, ledger.EscrowStateInitiated, env.Dest().GetState(*transfer.DestEscrowID))

	executions, err := env.Repo.Executions.FindByTransferID(ctx, transferID)
	require.NoError(t, err)
	require.Empty(t, executions)
}

func TestEngine_Execute_AfterExpiry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	env := bridgetest.NewEnv(t)
	svc := env.Services()
	transferID, secret := env.StartTransfer(t, svc, bridgetest.ResolverA)

	env.Clock.Set(bridgetest.Start.Add(time.Hour))
	_, err := svc.Executor.Execute(ctx, &execution.Request{
		TransferID: transferID,
		Secret:     secret,
		Resolver:   bridgetest.ResolverA,
	})
	require.ErrorIs(t, err, execution.ErrExpired)
	require.Equal(t, entity.ErrTimelock, entity.Classify(err))
}

func TestEngine_Execute_DestinationClaimFails(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	env := bridgetest.NewEnv(t)
	svc := env.Services()
	transferID, secret := env.StartTransfer(t, svc, bridgetest.ResolverA)
	_, err := env.Dest().RemoveAuthorizedResolver(bridgetest.DestOperator, bridgetest.ResolverA)
	require.NoError(t, err)

	exec, err := svc.Executor.Execute(ctx, &execution.Request{
		TransferID: transferID,
		Secret:     secret,
		Resolver:   bridgetest.ResolverA,
	})
	require.ErrorIs(t, err, ledger.ErrNotAuthorized)
	require.NotErrorIs(t, err, entity.ErrPartialExecution)
	require.Equal(t, entity.ExecutionStatusFailed, exec.Status)
	require.NotNil(t, exec.Error)

	transfer, err := env.Repo.Transfers.GetByID(ctx, transferID)
	require.NoError(t, err)
	require.Equal(t, ledger.TransferStateInitiated, transfer.State)
	require.False(t, transfer.SecretRevealed)

	resolver, err := env.Repo.Resolvers.GetByAddress(ctx, bridgetest.ResolverA)
	require.NoError(t, err)
	require.InDelta(t, 0.85, resolver.Reputation, 1e-9)
	require.Equal(t, uint64(1), resolver.Failures)
}

func TestEngine_Execute_RetryAfterSourceFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	env := bridgetest.NewEnv(t)
	svc := env.Services()
	transferID, secret := env.StartTransfer(t, svc, bridgetest.ResolverA)
	// the winner loses its source chain authorization, so only the destination leg goes through
	_, err := env.Source().RemoveAuthorizedResolver(bridgetest.SourceOperator, bridgetest.ResolverA)
	require.NoError(t, err)

	exec, err := svc.Executor.Execute(ctx, &execution.Request{
		TransferID: transferID,
		Secret:     secret,
		Resolver:   bridgetest.ResolverA,
	})
	require.ErrorIs(t, err, entity.ErrPartialExecution)
	require.Equal(t, entity.ExecutionStatusPartial, exec.Status)
	require.NotNil(t, exec.DestTxHash)
	require.Nil(t, exec.SourceTxHash)

	transfer, err := env.Repo.Transfers.GetByID(ctx, transferID)
	require.NoError(t, err)
	require.Equal(t, ledger.TransferStateDestLocked, transfer.State)
	require.Equal(t, transfer.DestAmount.Big(), env.Dest().BalanceOf(bridgetest.DestToken, bridgetest.Recipient))

	view, err := svc.Status.Status(ctx, transferID)
	require.NoError(t, err)
	require.Equal(t, status.StatusSecretRevealed, view.Status)
	require.True(t, view.SecretRevealed)
	require.Equal(t, ledger.EscrowStateInitiated, view.SourceEscrowState)
	require.Equal(t, ledger.EscrowStateClaimed, view.DestEscrowState)

	// the secret is public now, so anyone may finish the source leg and the winner is still paid
	exec, err = svc.Executor.Execute(ctx, &execution.Request{
		TransferID: transferID,
		Secret:     secret,
		Resolver:   bridgetest.Stranger,
	})
	require.NoError(t, err)
	require.Equal(t, entity.ExecutionStatusSucceeded, exec.Status)
	require.Nil(t, exec.DestTxHash)
	require.NotNil(t, exec.SourceTxHash)
	require.Equal(t, fee, env.Source().BalanceOf(bridgetest.SourceToken, bridgetest.ResolverA))
	require.Zero(t, env.Source().BalanceOf(bridgetest.SourceToken, bridgetest.Stranger).Sign())
	require.Equal(t, transfer.DestAmount.Big(), env.Dest().BalanceOf(bridgetest.DestToken, bridgetest.Recipient))

	onChain, err := env.Source().GetTransfer(transferID)
	require.NoError(t, err)
	require.Equal(t, ledger.TransferStateCompleted, onChain.State)

	resolver, err := env.Repo.Resolvers.GetByAddress(ctx, bridgetest.ResolverA)
	require.NoError(t, err)
	require.InDelta(t, 0.91, resolver.Reputation, 1e-9)
	require.Equal(t, fee, resolver.TotalFees.Big())

	view, err = svc.Status.Status(ctx, transferID)
	require.NoError(t, err)
	require.Equal(t, status.StatusCompleted, view.Status)
	require.NotNil(t, view.Execution)
	require.Equal(t, bridgetest.Stranger, view.Execution.Resolver)
}

type failingCompletion struct {
	entity.TransfersRepo
	failed bool
}

func (r *failingCompletion) Ensure(ctx context.Context, t *entity.Transfer) error {
	if t.State == ledger.TransferStateCompleted && !r.failed {
		r.failed = true
		return errors.New("connection reset")
	}
	return r.TransfersRepo.Ensure(ctx, t)
}

func TestEngine_Execute_FeePaidOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	env := bridgetest.NewEnv(t)
	svc := env.Services()
	transferID, secret := env.StartTransfer(t, svc, bridgetest.ResolverA)
	env.Repo.Transfers = &failingCompletion{TransfersRepo: env.Repo.Transfers}

	exec, err := svc.Executor.Execute(ctx, &execution.Request{
		TransferID: transferID,
		Secret:     secret,
		Resolver:   bridgetest.ResolverA,
	})
	require.ErrorIs(t, err, entity.ErrPartialExecution)
	require.Equal(t, entity.ExecutionStatusPartial, exec.Status)
	require.Equal(t, fee, env.Source().BalanceOf(bridgetest.SourceToken, bridgetest.ResolverA))

	transfer, err := env.Repo.Transfers.GetByID(ctx, transferID)
	require.NoError(t, err)
	require.Equal(t, ledger.TransferStateDestLocked, transfer.State)
	require.True(t, transfer.FeePaid)

	exec, err = svc.Executor.Execute(ctx, &execution.Request{
		TransferID: transferID,
		Secret:     secret,
		Resolver:   bridgetest.ResolverA,
	})
	require.NoError(t, err)
	require.Equal(t, entity.ExecutionStatusSucceeded, exec.Status)
	require.Equal(t, fee, env.Source().BalanceOf(bridgetest.SourceToken, bridgetest.ResolverA))

	transfer, err = env.Repo.Transfers.GetByID(ctx, transferID)
	require.NoError(t, err)
	require.Equal(t, ledger.TransferStateCompleted, transfer.State)
}
