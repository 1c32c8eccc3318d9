// Package botledger holds the process-wide balance used to stake bots.
package botledger

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientBalance = errors.New("bot ledger balance too low")
	ErrInvalidAmount       = errors.New("amount must be positive")
)

// Ledger is a single mutable balance. All operations are atomic relative to each other
// and the balance never goes negative.
type Ledger struct {
	mu      sync.Mutex
	balance decimal.Decimal
	minimum decimal.Decimal
}

// New creates a ledger with an opening balance and the minimum it is topped up to from rake.
func New(initial, minimum decimal.Decimal) *Ledger {
	if initial.IsNegative() {
		initial = decimal.Zero
	}
	return &Ledger{balance: initial, minimum: minimum}
}

// Balance returns the current balance.
func (l *Ledger) Balance() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance
}

// Minimum returns the configured floor the ledger is topped up to.
func (l *Ledger) Minimum() decimal.Decimal {
	return l.minimum
}

// Debit removes amount, all or nothing.
func (l *Ledger) Debit(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balance.LessThan(amount) {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, l.balance, amount)
	}
	l.balance = l.balance.Sub(amount)
	return nil
}

// Credit adds amount.
func (l *Ledger) Credit(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balance = l.balance.Add(amount)
	return nil
}

// TopUp credits up to available, stopping at the minimum. It returns the amount used.
func (l *Ledger) TopUp(available decimal.Decimal) decimal.Decimal {
	if !available.IsPositive() {
		return decimal.Zero
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	gap := l.minimum.Sub(l.balance)
	if !gap.IsPositive() {
		return decimal.Zero
	}
	used := decimal.Min(gap, available)
	l.balance = l.balance.Add(used)
	return used
}
