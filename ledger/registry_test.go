package ledger_test

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/omni/htlc-bridge/ledger"
)

var resolver = common.HexToAddress("0x00000000000000000000000000000000000000ee")

func TestRegistry_AdminOps(t *testing.T) {
	t.Parallel()

	l, _ := newLedger(t)

	_, err := l.AddSupportedChain(alice, 5, factory)
	require.ErrorIs(t, err, ledger.ErrNotOwner)
	_, err = l.AddSupportedChain(owner, sourceChainID, factory)
	require.ErrorIs(t, err, ledger.ErrSameChain)
	_, err = l.AddSupportedChain(owner, 5, common.Address{})
	require.ErrorIs(t, err, ledger.ErrZeroAddress)

	_, err = l.AddSupportedChain(owner, 5, factory)
	require.NoError(t, err)
	require.Equal(t, []uint64{5, destChainID}, l.SupportedChains())

	_, err = l.RemoveSupportedChain(alice, 5)
	require.ErrorIs(t, err, ledger.ErrNotOwner)
	_, err = l.RemoveSupportedChain(owner, 5)
	require.NoError(t, err)
	require.False(t, l.IsSupportedChain(5))
	reg, ok := l.GetChainRegistration(5)
	require.True(t, ok)
	require.False(t, reg.Supported)
	require.Equal(t, factory, reg.BridgeFactoryAddress)
	_, err = l.RemoveSupportedChain(owner, 5)
	require.ErrorIs(t, err, ledger.ErrUnsupportedChain)

	_, err = l.AddAuthorizedResolver(alice, resolver)
	require.ErrorIs(t, err, ledger.ErrNotOwner)
	_, err = l.AddAuthorizedResolver(owner, resolver)
	require.NoError(t, err)
	require.True(t, l.IsAuthorizedResolver(resolver))
	_, err = l.RemoveAuthorizedResolver(owner, resolver)
	require.NoError(t, err)
	require.False(t, l.IsAuthorizedResolver(resolver))
	_, err = l.RemoveAuthorizedResolver(owner, resolver)
	require.ErrorIs(t, err, ledger.ErrNotAuthorized)
}

func TestRegistry_CrossChainTransfer(t *testing.T) {
	t.Parallel()

	l, _ := newLedger(t)
	_, err := l.AddAuthorizedResolver(owner, resolver)
	require.NoError(t, err)
	sourceEscrowID, _, err := l.CreateEscrow(alice, asset, owner, big.NewInt(500), destChainID, secretHash, time.Hour)
	require.NoError(t, err)
	destEscrowID := common.HexToHash("0xd0")

	_, _, err = l.InitiateCrossChainTransfer(alice, sourceEscrowID, destEscrowID, sourceChainID, sourceChainID, carol)
	require.ErrorIs(t, err, ledger.ErrSameChain)
	_, _, err = l.InitiateCrossChainTransfer(alice, sourceEscrowID, destEscrowID, sourceChainID, 77, carol)
	require.ErrorIs(t, err, ledger.ErrUnsupportedChain)
	_, _, err = l.InitiateCrossChainTransfer(alice, common.HexToHash("0xff"), destEscrowID, sourceChainID, destChainID, carol)
	require.ErrorIs(t, err, ledger.ErrEscrowNotFound)

	transferID, _, err := l.InitiateCrossChainTransfer(alice, sourceEscrowID, destEscrowID, sourceChainID, destChainID, carol)
	require.NoError(t, err)
	require.Equal(t, ledger.ComputeTransferID(sourceEscrowID, destEscrowID, sourceChainID, destChainID), transferID)

	_, _, err = l.InitiateCrossChainTransfer(alice, sourceEscrowID, destEscrowID, sourceChainID, destChainID, carol)
	require.ErrorIs(t, err, ledger.ErrTransferExists)

	tr, err := l.GetTransfer(transferID)
	require.NoError(t, err)
	require.Equal(t, ledger.TransferStateInitiated, tr.State)
	require.Equal(t, carol, tr.Recipient)
	require.Equal(t, alice, tr.Initiator)
	require.Equal(t, big.NewInt(500), tr.Amount)
	require.Equal(t, secretHash, tr.SecretHash)

	_, err = l.CompleteCrossChainTransfer(bob, transferID, destEscrowID)
	require.ErrorIs(t, err, ledger.ErrNotAuthorized)
	_, err = l.CompleteCrossChainTransfer(resolver, transferID, sourceEscrowID)
	require.ErrorIs(t, err, ledger.ErrEscrowMismatch)
	_, err = l.CompleteCrossChainTransfer(resolver, common.HexToHash("0xff"), destEscrowID)
	require.ErrorIs(t, err, ledger.ErrTransferNotFound)
	_, err = l.CompleteCrossChainTransfer(resolver, transferID, destEscrowID)
	require.NoError(t, err)
	_, err = l.CompleteCrossChainTransfer(owner, transferID, destEscrowID)
	require.ErrorIs(t, err, ledger.ErrTransferNotInitiated)

	tr, err = l.GetTransfer(transferID)
	require.NoError(t, err)
	require.Equal(t, ledger.TransferStateCompleted, tr.State)
}

func TestRegistry_RelayClaim(t *testing.T) {
	t.Parallel()

	l, _ := newLedger(t)
	_, err := l.AddAuthorizedResolver(owner, resolver)
	require.NoError(t, err)
	id, _, err := l.CreateEscrow(alice, asset, bob, big.NewInt(300), destChainID, secretHash, time.Hour)
	require.NoError(t, err)

	_, err = l.RelayClaim(carol, id, secret)
	require.ErrorIs(t, err, ledger.ErrNotAuthorized)
	_, err = l.RelayClaim(resolver, id, [32]byte{7})
	require.ErrorIs(t, err, ledger.ErrHashMismatch)

	_, err = l.RelayClaim(resolver, id, secret)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(300), l.BalanceOf(asset, bob))
	require.Zero(t, l.BalanceOf(asset, resolver).Sign())

	_, err = l.RelayClaim(resolver, id, secret)
	require.ErrorIs(t, err, ledger.ErrNotInitiated)
}

func TestTransferState_Transitions(t *testing.T) {
	t.Parallel()

	for _, test := range []struct {
		from, to ledger.TransferState
		ok       bool
	}{
		{ledger.TransferStateNone, ledger.TransferStateInitiated, true},
		{ledger.TransferStateNone, ledger.TransferStateSourceLocked, true},
		{ledger.TransferStateNone, ledger.TransferStateCompleted, false},
		{ledger.TransferStateSourceLocked, ledger.TransferStateRefunded, true},
		{ledger.TransferStateSourceLocked, ledger.TransferStateDestLocked, false},
		{ledger.TransferStateInitiated, ledger.TransferStateDestLocked, true},
		{ledger.TransferStateDestLocked, ledger.TransferStateCompleted, true},
		{ledger.TransferStateDestLocked, ledger.TransferStateInitiated, false},
		{ledger.TransferStateCompleted, ledger.TransferStateRefunded, false},
		{ledger.TransferStateRefunded, ledger.TransferStateCompleted, false},
	} {
		require.Equal(t, test.ok, test.from.CanTransition(test.to), "%s -> %s", test.from, test.to)
	}

	state, err := ledger.ParseTransferState("DestLocked")
	require.NoError(t, err)
	require.Equal(t, ledger.TransferStateDestLocked, state)
	_, err = ledger.ParseTransferState("Bogus")
	require.Error(t, err)
	require.True(t, ledger.TransferStateCompleted.IsTerminal())
	require.False(t, ledger.EscrowStateInitiated.IsTerminal())
}
