package settlement

import (
	"testing"

	"github.com/google/uuid"
	"github.com/jason-s-yu/stakeroyale/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var defaultSplit = [3]decimal.Decimal{dec("0.75"), dec("0.10"), dec("0.05")}

func ids(n int) []uuid.UUID {
	out := make([]uuid.UUID, n)
	for i := range out {
		out[i] = uuid.New()
	}
	return out
}

func TestTop3Payout(t *testing.T) {
	order := ids(5)
	d, err := ComputePayouts(dec("100"), dec("0.10"), models.PayoutTop3, defaultSplit, order)
	require.NoError(t, err)

	require.Len(t, d.Shares, 3)
	assert.True(t, d.Shares[0].Amount.Equal(dec("75")), d.Shares[0].Amount.String())
	assert.True(t, d.Shares[1].Amount.Equal(dec("10")))
	assert.True(t, d.Shares[2].Amount.Equal(dec("5")))
	assert.True(t, d.House.Equal(dec("10")))
	assert.Equal(t, order[0], d.Shares[0].Participant)
	assert.Equal(t, 3, d.Shares[2].Rank)
	assert.True(t, d.Total().Equal(dec("100")))
}

func TestWinnerTakesMost(t *testing.T) {
	order := ids(4)
	d, err := ComputePayouts(dec("4"), dec("0.1"), models.PayoutWinnerTakesMost, defaultSplit, order)
	require.NoError(t, err)
	require.Len(t, d.Shares, 1)
	assert.Equal(t, order[0], d.Shares[0].Participant)
	assert.True(t, d.Shares[0].Amount.Equal(dec("3.6")))
	assert.True(t, d.House.Equal(dec("0.4")))
	assert.True(t, d.Total().Equal(dec("4")))
}

func TestUnfilledPlacesGoToHouse(t *testing.T) {
	order := ids(2)
	d, err := ComputePayouts(dec("2"), dec("0.10"), models.PayoutTop3, defaultSplit, order)
	require.NoError(t, err)
	require.Len(t, d.Shares, 2)
	assert.True(t, d.Shares[0].Amount.Equal(dec("1.5")))
	assert.True(t, d.Shares[1].Amount.Equal(dec("0.2")))
	assert.True(t, d.Rake.Equal(dec("0.2")))
	assert.True(t, d.House.Equal(dec("0.3")))
	assert.True(t, d.Total().Equal(dec("2")))
}

func TestTruncationDustGoesToWinner(t *testing.T) {
	split := [3]decimal.Decimal{dec("0.3333333333"), dec("0.3333333333"), dec("0.2333333334")}
	d, err := ComputePayouts(dec("1"), dec("0.1"), models.PayoutTop3, split, ids(3))
	require.NoError(t, err)
	assert.True(t, d.Shares[0].Amount.Equal(dec("0.333333334")), d.Shares[0].Amount.String())
	assert.True(t, d.Shares[1].Amount.Equal(dec("0.333333333")))
	assert.True(t, d.Shares[2].Amount.Equal(dec("0.233333333")))
	assert.True(t, d.Total().Equal(dec("1")))
}

func TestPayoutSumsToPot(t *testing.T) {
	pots := []string{"0.25", "1", "3.75", "7", "123.456789123", "1000"}
	for _, pot := range pots {
		for n := 1; n <= 8; n++ {
			for _, shape := range []models.PayoutShape{models.PayoutTop3, models.PayoutWinnerTakesMost} {
				d, err := ComputePayouts(dec(pot), dec("0.1"), shape, defaultSplit, ids(n))
				require.NoError(t, err)
				assert.True(t, d.Total().Equal(dec(pot)), "pot %s n %d shape %s", pot, n, shape)
			}
		}
	}
}

func TestComputePayoutsRejects(t *testing.T) {
	_, err := ComputePayouts(dec("1"), dec("0.1"), models.PayoutTop3, defaultSplit, nil)
	assert.ErrorIs(t, err, ErrEmptyOrder)

	_, err = ComputePayouts(dec("1"), dec("0.1"), "lottery", defaultSplit, ids(2))
	assert.Error(t, err)

	over := [3]decimal.Decimal{dec("0.9"), dec("0.1"), dec("0.1")}
	_, err = ComputePayouts(dec("1"), dec("0.1"), models.PayoutTop3, over, ids(3))
	assert.Error(t, err)
}

func TestNoBiasKeepsOrder(t *testing.T) {
	order := ids(4)
	assert.Equal(t, order, NoBias{}.Apply(order, map[uuid.UUID]bool{order[3]: true}, "seed"))
	assert.IsType(t, NoBias{}, NewBiasPolicy(nil))
}

func TestSizeBiasPromotesBot(t *testing.T) {
	order := ids(6)
	bot := order[5]
	policy := NewBiasPolicy(map[int]float64{6: 1})

	out := policy.Apply(order, map[uuid.UUID]bool{bot: true}, "seed-a")
	require.Len(t, out, 6)
	assert.ElementsMatch(t, order, out)
	assert.Contains(t, out[:3], bot)

	again := policy.Apply(order, map[uuid.UUID]bool{bot: true}, "seed-a")
	assert.Equal(t, out, again)
}

func TestSizeBiasLeavesOrderWhenNotApplicable(t *testing.T) {
	order := ids(4)
	policy := SizeBias{Table: map[int]float64{4: 1, 5: 0}}

	// bot already places
	assert.Equal(t, order, policy.Apply(order, map[uuid.UUID]bool{order[1]: true}, "s"))
	// no bots
	assert.Equal(t, order, policy.Apply(order, map[uuid.UUID]bool{}, "s"))
	// no entry for this size
	five := ids(5)
	assert.Equal(t, five, policy.Apply(five, map[uuid.UUID]bool{five[4]: true}, "s"))
}
