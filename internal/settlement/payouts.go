// Package settlement divides a match pot, moves the funds and records every
// movement exactly once per match.
package settlement

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jason-s-yu/stakeroyale/internal/models"
	"github.com/shopspring/decimal"
)

// places is the number of decimal places shares are truncated to.
const places = 9

var ErrEmptyOrder = errors.New("finish order is empty")

// Share is what one ranked participant is owed.
type Share struct {
	Participant uuid.UUID
	Rank        int
	Amount      decimal.Decimal
}

// Division is the complete split of a pot. Sum of shares plus House equals the pot.
type Division struct {
	Pot    decimal.Decimal
	Rake   decimal.Decimal
	House  decimal.Decimal // rake plus any unfilled places
	Shares []Share
}

// Total sums every share and the house cut.
func (d Division) Total() decimal.Decimal {
	sum := d.House
	for _, s := range d.Shares {
		sum = sum.Add(s.Amount)
	}
	return sum
}

// ComputePayouts splits pot by shape over order (best first). Truncation dust goes to rank 1.
func ComputePayouts(pot, rake decimal.Decimal, shape models.PayoutShape, split [3]decimal.Decimal, order []uuid.UUID) (Division, error) {
	if len(order) == 0 {
		return Division{}, ErrEmptyOrder
	}
	if pot.IsNegative() {
		return Division{}, fmt.Errorf("negative pot %s", pot)
	}
	rakeAmt := pot.Mul(rake).Truncate(places)
	d := Division{Pot: pot, Rake: rakeAmt, House: rakeAmt}

	switch shape {
	case models.PayoutWinnerTakesMost:
		d.Shares = []Share{{Participant: order[0], Rank: 1, Amount: pot.Sub(rakeAmt)}}
	case models.PayoutTop3:
		paid := decimal.Zero
		for i, frac := range split {
			amt := pot.Mul(frac).Truncate(places)
			if i >= len(order) {
				d.House = d.House.Add(amt)
				paid = paid.Add(amt)
				continue
			}
			d.Shares = append(d.Shares, Share{Participant: order[i], Rank: i + 1, Amount: amt})
			paid = paid.Add(amt)
		}
		dust := pot.Sub(rakeAmt).Sub(paid)
		if dust.IsNegative() {
			return Division{}, fmt.Errorf("split plus rake exceeds pot by %s", dust.Neg())
		}
		d.Shares[0].Amount = d.Shares[0].Amount.Add(dust)
	default:
		return Division{}, fmt.Errorf("unknown payout shape %q", shape)
	}
	return d, nil
}
