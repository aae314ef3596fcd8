package bank

import (
	"sync"

	"github.com/shopspring/decimal"
)

// MemoryLedger implements ShareLedger with in-memory balances.
type MemoryLedger struct {
	mu       sync.RWMutex
	balances map[string]decimal.Decimal
	supply   decimal.Decimal
}

// NewMemoryLedger creates an empty share ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{balances: make(map[string]decimal.Decimal)}
}

func (l *MemoryLedger) Mint(account string, amount decimal.Decimal) error {
	if account == "" {
		return ErrInvalidAccount
	}
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[account] = l.balances[account].Add(amount)
	l.supply = l.supply.Add(amount)
	return nil
}

func (l *MemoryLedger) Burn(account string, amount decimal.Decimal) error {
	if account == "" {
		return ErrInvalidAccount
	}
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[account].LessThan(amount) {
		return ErrInsufficientFunds
	}
	l.balances[account] = l.balances[account].Sub(amount)
	l.supply = l.supply.Sub(amount)
	return nil
}

func (l *MemoryLedger) BalanceOf(account string) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[account]
}

func (l *MemoryLedger) TotalSupply() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.supply
}

// MemoryBank implements AssetBank with in-memory holdings. External
// accounts are assumed funded: TransferIn only credits the vault, while
// TransferOut is checked against the vault's holding.
type MemoryBank struct {
	mu      sync.RWMutex
	holding decimal.Decimal
	// external tracks what has been paid out per account, for inspection
	// in tests and the dev API.
	external map[string]decimal.Decimal
}

// NewMemoryBank creates an empty asset bank.
func NewMemoryBank() *MemoryBank {
	return &MemoryBank{external: make(map[string]decimal.Decimal)}
}

func (b *MemoryBank) TransferIn(from string, amount decimal.Decimal) error {
	if from == "" {
		return ErrInvalidAccount
	}
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.holding = b.holding.Add(amount)
	b.external[from] = b.external[from].Sub(amount)
	return nil
}

func (b *MemoryBank) TransferOut(to string, amount decimal.Decimal) error {
	if to == "" {
		return ErrInvalidAccount
	}
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.holding.LessThan(amount) {
		return ErrInsufficientFunds
	}
	b.holding = b.holding.Sub(amount)
	b.external[to] = b.external[to].Add(amount)
	return nil
}

func (b *MemoryBank) Balance() decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.holding
}

// ExternalBalance returns the net amount paid out to (positive) or
// received from (negative) an external account.
func (b *MemoryBank) ExternalBalance(account string) decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.external[account]
}
