package botledger

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestDebitAllOrNothing(t *testing.T) {
	l := New(d("0.25"), d("1"))
	require.NoError(t, l.Debit(d("0.2")))
	err := l.Debit(d("0.1"))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.True(t, l.Balance().Equal(d("0.05")), "failed debit must not change the balance")
}

func TestRejectsNonPositive(t *testing.T) {
	l := New(d("1"), d("1"))
	assert.ErrorIs(t, l.Debit(decimal.Zero), ErrInvalidAmount)
	assert.ErrorIs(t, l.Credit(d("-1")), ErrInvalidAmount)
	assert.True(t, l.Balance().Equal(d("1")))
}

func TestTopUp(t *testing.T) {
	l := New(d("2"), d("5"))
	used := l.TopUp(d("1"))
	assert.True(t, used.Equal(d("1")))
	used = l.TopUp(d("10"))
	assert.True(t, used.Equal(d("2")))
	assert.True(t, l.Balance().Equal(d("5")))
	assert.True(t, l.TopUp(d("10")).IsZero(), "at minimum nothing is used")
}

func TestNeverNegativeUnderContention(t *testing.T) {
	l := New(d("10"), d("0"))
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%4 == 0 {
				_ = l.Credit(d("0.1"))
				return
			}
			if l.Debit(d("0.3")) == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
			assert.False(t, l.Balance().IsNegative())
		}(i)
	}
	wg.Wait()
	expected := d("10").Add(d("0.1").Mul(decimal.NewFromInt(50))).Sub(d("0.3").Mul(decimal.NewFromInt(int64(succeeded))))
	assert.True(t, l.Balance().Equal(expected), "balance %s, expected %s", l.Balance(), expected)
	assert.False(t, l.Balance().IsNegative())
}
