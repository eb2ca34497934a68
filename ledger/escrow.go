package ledger

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type Escrow struct {
	ID               common.Hash
	Asset            common.Address
	Initiator        common.Address
	Recipient        common.Address
	Amount           *big.Int
	SecretHash       common.Hash
	TimelockDuration time.Duration
	InitTimestamp    time.Time
	State            EscrowState
	// Secret is set once the escrow is claimed.
	Secret *common.Hash
}

func (e *Escrow) ExpiresAt() time.Time {
	return e.InitTimestamp.Add(e.TimelockDuration)
}

func (e *Escrow) clone() *Escrow {
	res := *e
	res.Amount = new(big.Int).Set(e.Amount)
	if e.Secret != nil {
		secret := *e.Secret
		res.Secret = &secret
	}
	return &res
}

func validTimelock(d time.Duration) bool {
	return d >= MinTimelock && d <= MaxTimelock
}

// Initiate locks amount of asset from the caller under secretHash. The caller must have approved
// EscrowAddress for at least amount.
func (l *Ledger) Initiate(
	caller common.Address,
	escrowID common.Hash,
	asset, recipient common.Address,
	amount *big.Int,
	secretHash common.Hash,
	timelock time.Duration,
) (*Receipt, error) {
	return l.transact("initiate", gasInitiate, func(t *tx) error {
		return t.initiate(caller, escrowID, asset, recipient, amount, secretHash, timelock)
	})
}

func (t *tx) initiate(
	caller common.Address,
	escrowID common.Hash,
	asset, recipient common.Address,
	amount *big.Int,
	secretHash common.Hash,
	timelock time.Duration,
) error {
	l := t.l
	if _, ok := l.escrows[escrowID]; ok {
		return ErrEscrowExists
	}
	if asset == (common.Address{}) || recipient == (common.Address{}) {
		return ErrZeroAddress
	}
	if !isPositive(amount) {
		return ErrInvalidAmount
	}
	if secretHash == (common.Hash{}) {
		return ErrEmptySecretHash
	}
	if !validTimelock(timelock) {
		return ErrInvalidTimelock
	}
	if err := l.assets.moveFrom(asset, caller, l.escrowAddress, l.escrowAddress, amount); err != nil {
		return err
	}

	e := &Escrow{
		ID:               escrowID,
		Asset:            asset,
		Initiator:        caller,
		Recipient:        recipient,
		Amount:           new(big.Int).Set(amount),
		SecretHash:       secretHash,
		TimelockDuration: timelock,
		InitTimestamp:    t.now,
		State:            EscrowStateInitiated,
	}
	l.escrows[escrowID] = e
	return t.emit(l.escrowAddress, "EscrowInitiated",
		[32]byte(escrowID), caller, recipient, asset, new(big.Int).Set(amount), [32]byte(secretHash),
		big.NewInt(int64(timelock/time.Second)), big.NewInt(t.now.Unix()),
	)
}

// Claim releases the escrow to its recipient when secret hashes to the stored secretHash.
func (l *Ledger) Claim(caller common.Address, escrowID common.Hash, secret [32]byte) (*Receipt, error) {
	return l.transact("claim", gasClaim, func(t *tx) error {
		return t.claim(caller, escrowID, secret)
	})
}

func (t *tx) claim(caller common.Address, escrowID common.Hash, secret [32]byte) error {
	e, ok := t.l.escrows[escrowID]
	if !ok {
		return ErrEscrowNotFound
	}
	if caller != e.Recipient {
		return ErrNotRecipient
	}
	if e.State != EscrowStateInitiated {
		return ErrNotInitiated
	}
	if HashSecret(secret) != e.SecretHash {
		return ErrHashMismatch
	}

	revealed := common.Hash(secret)
	e.State = EscrowStateClaimed
	e.Secret = &revealed
	if err := t.emit(t.l.escrowAddress, "EscrowClaimed",
		[32]byte(escrowID), e.Recipient, secret, new(big.Int).Set(e.Amount),
	); err != nil {
		return err
	}
	return t.pay(e.Asset, e.Recipient, e.Amount)
}

// Refund returns the escrow to its initiator once the timelock has elapsed.
func (l *Ledger) Refund(caller common.Address, escrowID common.Hash) (*Receipt, error) {
	return l.transact("refund", gasRefund, func(t *tx) error {
		e, ok := l.escrows[escrowID]
		if !ok {
			return ErrEscrowNotFound
		}
		if caller != e.Initiator {
			return ErrNotInitiator
		}
		if e.State != EscrowStateInitiated {
			return ErrNotInitiated
		}
		if t.now.Before(e.ExpiresAt()) {
			return ErrTimelockNotExpired
		}

		e.State = EscrowStateRefunded
		if err := t.emit(l.escrowAddress, "EscrowRefunded",
			[32]byte(escrowID), e.Initiator, new(big.Int).Set(e.Amount),
		); err != nil {
			return err
		}
		return t.pay(e.Asset, e.Initiator, e.Amount)
	})
}

func (l *Ledger) GetEscrow(escrowID common.Hash) (*Escrow, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.escrows[escrowID]
	if !ok {
		return nil, ErrEscrowNotFound
	}
	return e.clone(), nil
}

// GetState reports EscrowStateNone for unknown ids.
func (l *Ledger) GetState(escrowID common.Hash) EscrowState {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.escrows[escrowID]; ok {
		return e.State
	}
	return EscrowStateNone
}

func (l *Ledger) IsExpired(escrowID common.Hash) (bool, error) {
	e, err := l.GetEscrow(escrowID)
	if err != nil {
		return false, err
	}
	return !l.Now().Before(e.ExpiresAt()), nil
}

func (l *Ledger) CanRefund(escrowID common.Hash) bool {
	e, err := l.GetEscrow(escrowID)
	if err != nil {
		return false
	}
	return e.State == EscrowStateInitiated && !l.Now().Before(e.ExpiresAt())
}

// TimeRemaining is zero once the escrow has expired.
func (l *Ledger) TimeRemaining(escrowID common.Hash) (time.Duration, error) {
	e, err := l.GetEscrow(escrowID)
	if err != nil {
		return 0, err
	}
	left := e.ExpiresAt().Sub(l.Now())
	if left < 0 {
		return 0, nil
	}
	return left, nil
}
