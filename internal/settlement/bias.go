package settlement

import (
	"github.com/google/uuid"
	"github.com/jason-s-yu/stakeroyale/internal/fairness"
)

// BiasPolicy may reorder a final ranking before payouts are computed. It must be
// deterministic for a given seed so the adjustment can be audited after the reveal.
//
// Promoting bots changes who gets paid. Any policy other than NoBias is a house
// edge that needs product and legal sign-off before it is enabled.
type BiasPolicy interface {
	Apply(order []uuid.UUID, bots map[uuid.UUID]bool, seed string) []uuid.UUID
}

// NoBias leaves the ranking alone.
type NoBias struct{}

func (NoBias) Apply(order []uuid.UUID, _ map[uuid.UUID]bool, _ string) []uuid.UUID {
	return order
}

// SizeBias promotes a bot into the top three with a probability keyed by lobby size.
type SizeBias struct {
	Table map[int]float64
}

// NewBiasPolicy returns NoBias for an empty table.
func NewBiasPolicy(table map[int]float64) BiasPolicy {
	if len(table) == 0 {
		return NoBias{}
	}
	return SizeBias{Table: table}
}

func (b SizeBias) Apply(order []uuid.UUID, bots map[uuid.UUID]bool, seed string) []uuid.UUID {
	p := b.Table[len(order)]
	if p <= 0 || len(order) < 2 {
		return order
	}
	top := min(3, len(order))
	var candidates []int
	for i, id := range order {
		if !bots[id] {
			continue
		}
		if i < top {
			// a bot already places
			return order
		}
		candidates = append(candidates, i)
	}
	if len(candidates) == 0 {
		return order
	}

	stream := fairness.NewStream(fairness.CombineClientSeed(seed, "bot-bias"))
	if !stream.Chance(p) {
		return order
	}
	from := fairness.Choice(stream, candidates)
	to := stream.Int(0, top-1)

	out := make([]uuid.UUID, 0, len(order))
	out = append(out, order[:to]...)
	out = append(out, order[from])
	for i := to; i < len(order); i++ {
		if i != from {
			out = append(out, order[i])
		}
	}
	return out
}
