package ledger

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

type allowanceKey struct {
	owner   common.Address
	spender common.Address
}

type assetBook struct {
	balances   map[common.Address]map[common.Address]*big.Int
	allowances map[common.Address]map[allowanceKey]*big.Int
}

func newAssetBook() *assetBook {
	return &assetBook{
		balances:   make(map[common.Address]map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[allowanceKey]*big.Int),
	}
}

func (b *assetBook) balance(asset, holder common.Address) *big.Int {
	if v, ok := b.balances[asset][holder]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

func (b *assetBook) setBalance(asset, holder common.Address, value *big.Int) {
	if b.balances[asset] == nil {
		b.balances[asset] = make(map[common.Address]*big.Int)
	}
	b.balances[asset][holder] = value
}

func (b *assetBook) allowance(asset, owner, spender common.Address) *big.Int {
	if v, ok := b.allowances[asset][allowanceKey{owner, spender}]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

func (b *assetBook) setAllowance(asset, owner, spender common.Address, value *big.Int) {
	if b.allowances[asset] == nil {
		b.allowances[asset] = make(map[allowanceKey]*big.Int)
	}
	b.allowances[asset][allowanceKey{owner, spender}] = value
}

// move has no side effects on failure.
func (b *assetBook) move(asset, from, to common.Address, amount *big.Int) error {
	fromBalance := b.balance(asset, from)
	if fromBalance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	b.setBalance(asset, from, fromBalance.Sub(fromBalance, amount))
	toBalance := b.balance(asset, to)
	b.setBalance(asset, to, toBalance.Add(toBalance, amount))
	return nil
}

// moveFrom spends the spender's allowance; both allowance and balance are checked before either changes.
func (b *assetBook) moveFrom(asset, owner, spender, to common.Address, amount *big.Int) error {
	allowed := b.allowance(asset, owner, spender)
	if allowed.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}
	if b.balance(asset, owner).Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	b.setAllowance(asset, owner, spender, allowed.Sub(allowed, amount))
	return b.move(asset, owner, to, amount)
}

func (l *Ledger) BalanceOf(asset, holder common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.assets.balance(asset, holder)
}

func (l *Ledger) Allowance(asset, owner, spender common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.assets.allowance(asset, owner, spender)
}

// Mint credits genesis liquidity; only the chain owner may mint.
func (l *Ledger) Mint(caller, asset, to common.Address, amount *big.Int) (*Receipt, error) {
	return l.transact("mint", gasTransfer, func(t *tx) error {
		if caller != l.owner {
			return ErrNotOwner
		}
		if asset == (common.Address{}) || to == (common.Address{}) {
			return ErrZeroAddress
		}
		if !isPositive(amount) {
			return ErrInvalidAmount
		}
		balance := l.assets.balance(asset, to)
		l.assets.setBalance(asset, to, balance.Add(balance, amount))
		return t.emit(asset, "Transfer", common.Address{}, to, asset, new(big.Int).Set(amount))
	})
}

func (l *Ledger) Approve(caller, asset, spender common.Address, amount *big.Int) (*Receipt, error) {
	return l.transact("approve", gasApprove, func(t *tx) error {
		if asset == (common.Address{}) || spender == (common.Address{}) {
			return ErrZeroAddress
		}
		if amount == nil || amount.Sign() < 0 {
			return ErrInvalidAmount
		}
		l.assets.setAllowance(asset, caller, spender, new(big.Int).Set(amount))
		return nil
	})
}

func (l *Ledger) Transfer(caller, asset, to common.Address, amount *big.Int) (*Receipt, error) {
	return l.transact("transfer", gasTransfer, func(t *tx) error {
		if asset == (common.Address{}) || to == (common.Address{}) {
			return ErrZeroAddress
		}
		if !isPositive(amount) {
			return ErrInvalidAmount
		}
		if err := l.assets.move(asset, caller, to, amount); err != nil {
			return err
		}
		return t.emit(asset, "Transfer", caller, to, asset, new(big.Int).Set(amount))
	})
}

// pay releases custody to a payee and then runs the payee's receive hook, if any.
func (t *tx) pay(asset, to common.Address, amount *big.Int) error {
	if err := t.l.assets.move(asset, t.l.escrowAddress, to, amount); err != nil {
		return err
	}
	if err := t.emit(asset, "Transfer", t.l.escrowAddress, to, asset, new(big.Int).Set(amount)); err != nil {
		return err
	}
	if hook := t.l.receivers[to]; hook != nil {
		hook(Reentry{l: t.l}, asset, new(big.Int).Set(amount))
	}
	return nil
}

// Reentry is what a receive hook can call back into while a payout is still in flight.
type Reentry struct {
	l *Ledger
}

func (r Reentry) Claim(caller common.Address, escrowID common.Hash, secret [32]byte) error {
	if r.l.entered {
		return ErrReentrantCall
	}
	_, err := r.l.Claim(caller, escrowID, secret)
	return err
}

func (r Reentry) Refund(caller common.Address, escrowID common.Hash) error {
	if r.l.entered {
		return ErrReentrantCall
	}
	_, err := r.l.Refund(caller, escrowID)
	return err
}

func isPositive(v *big.Int) bool {
	return v != nil && v.Sign() > 0
}
