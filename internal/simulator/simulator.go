// Package simulator plays out a match deterministically from a seed and a roster.
package simulator

import (
	"errors"
	"fmt"
	"math"

	"github.com/jason-s-yu/stakeroyale/internal/fairness"
)

// EventKind labels an entry in the simulation event log.
type EventKind string

const (
	EventHazard      EventKind = "hazard"
	EventHit         EventKind = "hit"
	EventPowerup     EventKind = "powerup"
	EventElimination EventKind = "elimination"
)

// Elimination causes.
const (
	CauseHealth   = "health"
	CauseCritical = "critical"
)

// Config tunes the simulation. The zero value is not useful; start from DefaultConfig.
type Config struct {
	MaxTicks    int
	StartHealth int

	HazardBase     float64 // hazard probability per tick at difficulty 1
	DifficultyRamp float64 // added to difficulty every tick
	MaxDifficulty  float64
	HitChance      float64
	HitDamage      int

	PowerupChance float64
	PowerupBonus  int
	ScorePerTick  int

	CriticalHealth     int
	CriticalElimChance float64
}

// DefaultConfig covers roughly 2.5 minutes at 20 ticks per second.
func DefaultConfig() Config {
	return Config{
		MaxTicks:           3000,
		StartHealth:        100,
		HazardBase:         0.02,
		DifficultyRamp:     0.002,
		MaxDifficulty:      8,
		HitChance:          0.6,
		HitDamage:          25,
		PowerupChance:      0.004,
		PowerupBonus:       2,
		ScorePerTick:       1,
		CriticalHealth:     25,
		CriticalElimChance: 0.05,
	}
}

// Event is one entry in the deterministic event log.
type Event struct {
	Tick        int       `json:"tick"`
	Kind        EventKind `json:"kind"`
	Participant string    `json:"participant"`
	Damage      int       `json:"damage,omitempty"`
	Health      int       `json:"health"`
	Cause       string    `json:"cause,omitempty"`
}

// Elimination records when and why a participant dropped out.
type Elimination struct {
	Participant string `json:"participant"`
	Tick        int    `json:"tick"`
	Cause       string `json:"cause"`
	Score       int    `json:"score"`
}

// Result is the full outcome of a simulation.
type Result struct {
	Winner        string         `json:"winner"`
	Ranking       map[string]int `json:"ranking"`
	Order         []string       `json:"order"`
	Events        []Event        `json:"events"`
	Eliminations  []Elimination  `json:"eliminations"`
	FinalScores   map[string]int `json:"finalScores"`
	DurationTicks int            `json:"durationTicks"`
}

// ErrMismatch is returned by Validate when a replay disagrees with a claimed result.
var ErrMismatch = errors.New("simulation result mismatch")

type runner struct {
	id       string
	seat     int
	health   int
	score    int
	powerups int
	alive    bool
	elimTick int
}

// Simulate runs the match. It is a pure function of its inputs.
func Simulate(players []string, seed string, cfg Config) Result {
	res := Result{
		Ranking:     make(map[string]int, len(players)),
		FinalScores: make(map[string]int, len(players)),
		Events:      []Event{},
	}
	if len(players) == 0 {
		return res
	}
	if len(players) == 1 {
		res.Winner = players[0]
		res.Ranking[players[0]] = 1
		res.Order = []string{players[0]}
		res.FinalScores[players[0]] = 0
		return res
	}

	stream := fairness.NewStream(seed)
	order := fairness.Shuffle(stream, players)

	runners := make([]*runner, len(order))
	for i, id := range order {
		runners[i] = &runner{id: id, seat: i, health: cfg.StartHealth, alive: true}
	}

	for tick := 1; tick <= cfg.MaxTicks; tick++ {
		alive := aliveRunners(runners)
		if len(alive) <= 1 {
			break
		}
		res.DurationTicks = tick

		difficulty := math.Min(1+cfg.DifficultyRamp*float64(tick), cfg.MaxDifficulty)
		if stream.Chance(math.Min(cfg.HazardBase*difficulty, 1)) {
			target := fairness.Choice(stream, alive)
			res.Events = append(res.Events, Event{Tick: tick, Kind: EventHazard, Participant: target.id, Health: target.health})
			if stream.Chance(cfg.HitChance) {
				target.health -= cfg.HitDamage
				res.Events = append(res.Events, Event{Tick: tick, Kind: EventHit, Participant: target.id, Damage: cfg.HitDamage, Health: target.health})
			}
		}
		if stream.Chance(cfg.PowerupChance) {
			target := fairness.Choice(stream, alive)
			target.powerups++
			res.Events = append(res.Events, Event{Tick: tick, Kind: EventPowerup, Participant: target.id, Health: target.health})
		}

		for _, r := range alive {
			r.score += cfg.ScorePerTick + r.powerups*cfg.PowerupBonus
		}

		for _, r := range alive {
			cause := ""
			switch {
			case r.health <= 0:
				cause = CauseHealth
			case r.health <= cfg.CriticalHealth && stream.Chance(cfg.CriticalElimChance):
				cause = CauseCritical
			}
			if cause == "" {
				continue
			}
			r.alive = false
			r.elimTick = tick
			res.Events = append(res.Events, Event{Tick: tick, Kind: EventElimination, Participant: r.id, Health: r.health, Cause: cause})
			res.Eliminations = append(res.Eliminations, Elimination{Participant: r.id, Tick: tick, Cause: cause, Score: r.score})
		}
	}

	standings := make([]Standing, len(runners))
	for i, r := range runners {
		standings[i] = Standing{ID: r.id, Score: r.score, Eliminated: !r.alive, EliminatedAt: r.elimTick, Seat: r.seat}
		res.FinalScores[r.id] = r.score
	}
	res.Order = Rank(standings)
	for i, id := range res.Order {
		res.Ranking[id] = i + 1
	}
	res.Winner = res.Order[0]
	return res
}

func aliveRunners(rs []*runner) []*runner {
	out := make([]*runner, 0, len(rs))
	for _, r := range rs {
		if r.alive {
			out = append(out, r)
		}
	}
	return out
}

// Validate replays the simulation and compares it structurally against a claimed result.
func Validate(players []string, claimed Result, seed string, cfg Config) error {
	replay := Simulate(players, seed, cfg)
	if replay.Winner != claimed.Winner {
		return fmt.Errorf("%w: winner %q, replay says %q", ErrMismatch, claimed.Winner, replay.Winner)
	}
	if len(replay.Ranking) != len(claimed.Ranking) {
		return fmt.Errorf("%w: ranking has %d entries, replay has %d", ErrMismatch, len(claimed.Ranking), len(replay.Ranking))
	}
	for id, rank := range replay.Ranking {
		if claimed.Ranking[id] != rank {
			return fmt.Errorf("%w: %s ranked %d, replay says %d", ErrMismatch, id, claimed.Ranking[id], rank)
		}
	}
	if len(replay.Events) != len(claimed.Events) {
		return fmt.Errorf("%w: %d events, replay has %d", ErrMismatch, len(claimed.Events), len(replay.Events))
	}
	return nil
}
