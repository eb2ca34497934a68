package ledger

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type ChainRegistration struct {
	ChainID              uint64
	BridgeFactoryAddress common.Address
	Supported            bool
}

type CrossChainTransfer struct {
	TransferID       common.Hash
	SourceEscrowID   common.Hash
	DestEscrowID     common.Hash
	SourceChainID    uint64
	DestChainID      uint64
	Asset            common.Address
	Initiator        common.Address
	Recipient        common.Address
	Amount           *big.Int
	SecretHash       common.Hash
	TimelockDuration time.Duration
	InitTimestamp    time.Time
	State            TransferState
}

func (c *CrossChainTransfer) clone() *CrossChainTransfer {
	res := *c
	res.Amount = new(big.Int).Set(c.Amount)
	return &res
}

func (l *Ledger) isPrivileged(caller common.Address) bool {
	return caller == l.owner || l.resolvers[caller]
}

func (l *Ledger) isSupported(chainID uint64) bool {
	reg, ok := l.chains[chainID]
	return ok && reg.Supported
}

// CreateEscrow initiates an escrow under an id derived from the caller, the escrow parameters and
// the current block, so concurrent callers never collide. An identical call within the same block
// fails with ErrEscrowExists instead of overwriting.
func (l *Ledger) CreateEscrow(
	caller, asset, recipient common.Address,
	amount *big.Int,
	destChainID uint64,
	secretHash common.Hash,
	timelock time.Duration,
) (common.Hash, *Receipt, error) {
	var escrowID common.Hash
	receipt, err := l.transact("createEscrow", gasCreateEscrow, func(t *tx) error {
		if !l.isSupported(destChainID) {
			return fmt.Errorf("destination chain %d: %w", destChainID, ErrUnsupportedChain)
		}
		if !validTimelock(timelock) {
			return ErrInvalidTimelock
		}
		if !isPositive(amount) {
			return ErrInvalidAmount
		}
		escrowID = ComputeEscrowID(caller, asset, recipient, amount, destChainID, secretHash, timelock, t.now, t.block)
		if err := t.initiate(caller, escrowID, asset, recipient, amount, secretHash, timelock); err != nil {
			return err
		}
		return t.emit(l.registryAddress, "EscrowCreated",
			[32]byte(escrowID), caller, new(big.Int).SetUint64(destChainID),
		)
	})
	if err != nil {
		return common.Hash{}, nil, err
	}
	return escrowID, receipt, nil
}

// InitiateCrossChainTransfer links a local source escrow to its counterpart on destChainID.
// recipient is the end recipient on the destination chain.
func (l *Ledger) InitiateCrossChainTransfer(
	caller common.Address,
	sourceEscrowID, destEscrowID common.Hash,
	sourceChainID, destChainID uint64,
	recipient common.Address,
) (common.Hash, *Receipt, error) {
	transferID := ComputeTransferID(sourceEscrowID, destEscrowID, sourceChainID, destChainID)
	receipt, err := l.transact("initiateCrossChainTransfer", gasInitiateTransfer, func(t *tx) error {
		if sourceChainID == destChainID {
			return ErrSameChain
		}
		if sourceChainID != l.chainID {
			return fmt.Errorf("source chain %d is not chain %d: %w", sourceChainID, l.chainID, ErrUnsupportedChain)
		}
		if !l.isSupported(destChainID) {
			return fmt.Errorf("destination chain %d: %w", destChainID, ErrUnsupportedChain)
		}
		if recipient == (common.Address{}) {
			return ErrZeroAddress
		}
		source, ok := l.escrows[sourceEscrowID]
		if !ok {
			return ErrEscrowNotFound
		}
		if source.State != EscrowStateInitiated {
			return ErrNotInitiated
		}
		if _, ok := l.transfers[transferID]; ok {
			return ErrTransferExists
		}

		l.transfers[transferID] = &CrossChainTransfer{
			TransferID:       transferID,
			SourceEscrowID:   sourceEscrowID,
			DestEscrowID:     destEscrowID,
			SourceChainID:    sourceChainID,
			DestChainID:      destChainID,
			Asset:            source.Asset,
			Initiator:        source.Initiator,
			Recipient:        recipient,
			Amount:           new(big.Int).Set(source.Amount),
			SecretHash:       source.SecretHash,
			TimelockDuration: source.TimelockDuration,
			InitTimestamp:    t.now,
			State:            TransferStateInitiated,
		}
		return t.emit(l.registryAddress, "CrossChainTransferInitiated",
			[32]byte(transferID), [32]byte(sourceEscrowID), [32]byte(destEscrowID),
			new(big.Int).SetUint64(sourceChainID), new(big.Int).SetUint64(destChainID),
			source.Initiator, recipient, new(big.Int).Set(source.Amount), [32]byte(source.SecretHash),
		)
	})
	if err != nil {
		return common.Hash{}, nil, err
	}
	return transferID, receipt, nil
}

// CompleteCrossChainTransfer records settlement; value moves only through escrow claims.
func (l *Ledger) CompleteCrossChainTransfer(caller common.Address, transferID, destEscrowID common.Hash) (*Receipt, error) {
	return l.transact("completeCrossChainTransfer", gasCompleteTransfer, func(t *tx) error {
		if !l.isPrivileged(caller) {
			return ErrNotAuthorized
		}
		tr, ok := l.transfers[transferID]
		if !ok {
			return ErrTransferNotFound
		}
		if tr.State != TransferStateInitiated {
			return ErrTransferNotInitiated
		}
		if tr.DestEscrowID != destEscrowID {
			return ErrEscrowMismatch
		}
		tr.State = TransferStateCompleted
		return t.emit(l.registryAddress, "CrossChainTransferCompleted",
			[32]byte(transferID), [32]byte(destEscrowID), caller,
		)
	})
}

// RelayClaim lets the owner or an authorized resolver submit a claim on behalf of the escrow
// recipient. Funds are released to the recipient only.
func (l *Ledger) RelayClaim(caller common.Address, escrowID common.Hash, secret [32]byte) (*Receipt, error) {
	return l.transact("relayClaim", gasRelayClaim, func(t *tx) error {
		if !l.isPrivileged(caller) {
			return ErrNotAuthorized
		}
		e, ok := l.escrows[escrowID]
		if !ok {
			return ErrEscrowNotFound
		}
		return t.claim(e.Recipient, escrowID, secret)
	})
}

func (l *Ledger) AddSupportedChain(caller common.Address, chainID uint64, bridgeFactory common.Address) (*Receipt, error) {
	return l.transact("addSupportedChain", gasAdmin, func(t *tx) error {
		if caller != l.owner {
			return ErrNotOwner
		}
		if chainID == l.chainID {
			return ErrSameChain
		}
		if bridgeFactory == (common.Address{}) {
			return ErrZeroAddress
		}
		l.chains[chainID] = &ChainRegistration{
			ChainID:              chainID,
			BridgeFactoryAddress: bridgeFactory,
			Supported:            true,
		}
		return t.emit(l.registryAddress, "ChainSupportAdded", new(big.Int).SetUint64(chainID), bridgeFactory)
	})
}

// RemoveSupportedChain keeps the registration for history and marks it unsupported.
func (l *Ledger) RemoveSupportedChain(caller common.Address, chainID uint64) (*Receipt, error) {
	return l.transact("removeSupportedChain", gasAdmin, func(t *tx) error {
		if caller != l.owner {
			return ErrNotOwner
		}
		if !l.isSupported(chainID) {
			return fmt.Errorf("chain %d: %w", chainID, ErrUnsupportedChain)
		}
		l.chains[chainID].Supported = false
		return t.emit(l.registryAddress, "ChainSupportRemoved", new(big.Int).SetUint64(chainID))
	})
}

func (l *Ledger) AddAuthorizedResolver(caller, resolver common.Address) (*Receipt, error) {
	return l.transact("addAuthorizedResolver", gasAdmin, func(t *tx) error {
		if caller != l.owner {
			return ErrNotOwner
		}
		if resolver == (common.Address{}) {
			return ErrZeroAddress
		}
		l.resolvers[resolver] = true
		return t.emit(l.registryAddress, "ResolverAuthorized", resolver)
	})
}

func (l *Ledger) RemoveAuthorizedResolver(caller, resolver common.Address) (*Receipt, error) {
	return l.transact("removeAuthorizedResolver", gasAdmin, func(t *tx) error {
		if caller != l.owner {
			return ErrNotOwner
		}
		if !l.resolvers[resolver] {
			return ErrNotAuthorized
		}
		delete(l.resolvers, resolver)
		return t.emit(l.registryAddress, "ResolverRevoked", resolver)
	})
}

func (l *Ledger) GetTransfer(transferID common.Hash) (*CrossChainTransfer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tr, ok := l.transfers[transferID]
	if !ok {
		return nil, ErrTransferNotFound
	}
	return tr.clone(), nil
}

func (l *Ledger) IsSupportedChain(chainID uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.isSupported(chainID)
}

func (l *Ledger) GetChainRegistration(chainID uint64) (*ChainRegistration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	reg, ok := l.chains[chainID]
	if !ok {
		return nil, false
	}
	res := *reg
	return &res, true
}

func (l *Ledger) SupportedChains() []uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return sortedChainIDs(l.chains)
}

func (l *Ledger) IsAuthorizedResolver(resolver common.Address) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.resolvers[resolver]
}
