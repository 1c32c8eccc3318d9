// internal/session/session.go
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/stakeroyale/internal/events"
	"github.com/jason-s-yu/stakeroyale/internal/fairness"
	"github.com/jason-s-yu/stakeroyale/internal/models"
	"github.com/jason-s-yu/stakeroyale/internal/simulator"
	"github.com/shopspring/decimal"
)

var (
	ErrSessionNotFound = errors.New("match session not found")
	ErrSessionEnded    = errors.New("match session has ended")
	ErrNotParticipant  = errors.New("not a participant in this match")
	ErrNotHost         = errors.New("only the host may submit the match result")
	ErrWrongMode       = errors.New("operation not supported in this game mode")
	ErrBadFinishOrder  = errors.New("finish order is invalid")
)

// State is the lifecycle of a session. Once ended nothing changes.
type State string

const (
	StateRunning State = "running"
	StateEnded   State = "ended"
)

// End reasons.
const (
	ReasonLastAlive     = "last_alive"
	ReasonAllEliminated = "all_eliminated"
	ReasonFinishOrder   = "finish_order"
	ReasonDeadline      = "deadline"
	ReasonSimulated     = "simulated"
	ReasonShutdown      = "shutdown"
)

// Elimination causes reported alongside PlayerEliminated.
const (
	CauseDeath      = "death"
	CauseDisconnect = "disconnect"
	CauseBot        = "bot"
)

// TerminalKind is a per-participant event the server treats as authoritative.
type TerminalKind string

const (
	TerminalDeath TerminalKind = "death"
	TerminalCoin  TerminalKind = "coin"
)

// PlayerState is the server's view of one participant during a match.
type PlayerState struct {
	Participant  models.Participant `json:"participant"`
	Seat         int                `json:"seat"`
	X            float64            `json:"x"`
	Y            float64            `json:"y"`
	Alive        bool               `json:"alive"`
	Score        int                `json:"score"`
	Cause        string             `json:"cause,omitempty"`
	EliminatedAt int                `json:"eliminatedAt,omitempty"` // elimination sequence or simulator tick
	LastSeen     time.Time          `json:"lastSeen"`
	Connected    bool               `json:"connected"`
}

// Outcome is handed to settlement once a session ends.
type Outcome struct {
	MatchKey     uuid.UUID
	LobbyID      uuid.UUID
	GameType     models.GameType
	Tier         decimal.Decimal
	Participants []models.Participant
	Order        []uuid.UUID // best first, every participant exactly once
	Scores       map[uuid.UUID]int
	Reason       string
	Seed         string
}

// View is a read-only copy of a session for late reconnects and the HTTP API.
type View struct {
	MatchKey      uuid.UUID        `json:"matchKey"`
	LobbyID       uuid.UUID        `json:"lobbyId"`
	GameType      string           `json:"gameType"`
	Mode          models.Mode      `json:"mode"`
	State         State            `json:"state"`
	Players       []PlayerState    `json:"players"`
	StartedAt     time.Time        `json:"startedAt"`
	Deadline      time.Time        `json:"deadline"`
	EndedAt       time.Time        `json:"endedAt,omitempty"`
	Commitment    string           `json:"commitment"`
	SeedTimestamp int64            `json:"seedTimestamp"`
	End           *events.MatchEnd `json:"end,omitempty"`
}

// Session is one running match. All fields below Mu are guarded by it.
type Session struct {
	MatchKey     uuid.UUID
	LobbyID      uuid.UUID
	GameType     models.GameType
	Tier         decimal.Decimal
	Participants []models.Participant
	StartedAt    time.Time
	Deadline     time.Time

	roomSecret    string
	commitment    string
	seed          string
	seedTimestamp int64

	Mu       sync.Mutex
	state    State
	players  map[uuid.UUID]*PlayerState
	elimSeq  int
	dirty    bool
	endedAt  time.Time
	matchEnd *events.MatchEnd
	sim      *simulator.Result

	timers   []*time.Timer
	stop     chan struct{}
	finished chan struct{}
}

func newSession(snap models.LobbySnapshot, matchKey uuid.UUID, serverSecret string, deadline time.Duration) *Session {
	now := time.Now()
	roomID := matchKey.String()
	roomSecret := fairness.DeriveRoomSecret(serverSecret, roomID)
	ts := now.UnixMilli()

	ps := make([]models.Participant, len(snap.Participants))
	copy(ps, snap.Participants)

	s := &Session{
		MatchKey:      matchKey,
		LobbyID:       snap.ID,
		Tier:          snap.EntryTier,
		Participants:  ps,
		StartedAt:     now,
		Deadline:      now.Add(deadline),
		roomSecret:    roomSecret,
		commitment:    fairness.Commitment(roomSecret),
		seed:          fairness.MakeSeed(roomSecret, roomID, ts),
		seedTimestamp: ts,
		state:         StateRunning,
		players:       make(map[uuid.UUID]*PlayerState, len(ps)),
		stop:          make(chan struct{}),
		finished:      make(chan struct{}),
	}
	for i, p := range ps {
		s.players[p.ID] = &PlayerState{Participant: p, Seat: i, Alive: true, LastSeen: now, Connected: !p.IsBot}
	}
	return s
}

// Finished is closed once the session has ended, been settled and broadcast its result.
func (s *Session) Finished() <-chan struct{} {
	return s.finished
}

// Seed returns the match seed. It is only published after the match ends.
func (s *Session) Seed() string {
	return s.seed
}

// Reveal returns what a third party needs to audit the seed.
func (s *Session) Reveal() fairness.Reveal {
	return fairness.Reveal{
		Commitment: s.commitment,
		RoomSecret: s.roomSecret,
		RoomID:     s.MatchKey.String(),
		Timestamp:  s.seedTimestamp,
		Seed:       s.seed,
	}
}

// Host is the first real participant in roster order. It alone may declare a race result.
func (s *Session) Host() uuid.UUID {
	for _, p := range s.Participants {
		if !p.IsBot {
			return p.ID
		}
	}
	return uuid.Nil
}

// GameStartEvent rebuilds the opening message, used to resync a reconnecting client.
func (s *Session) GameStartEvent() events.GameStart {
	return events.GameStart{
		MatchKey:      s.MatchKey,
		LobbyID:       s.LobbyID,
		GameType:      s.GameType.Name,
		Mode:          s.GameType.Mode,
		Participants:  s.Participants,
		RoundDeadline: s.Deadline,
		Commitment:    s.commitment,
		SeedTimestamp: s.seedTimestamp,
	}
}

// View copies the current state.
func (s *Session) View() View {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	v := View{
		MatchKey:      s.MatchKey,
		LobbyID:       s.LobbyID,
		GameType:      s.GameType.Name,
		Mode:          s.GameType.Mode,
		State:         s.state,
		Players:       make([]PlayerState, 0, len(s.Participants)),
		StartedAt:     s.StartedAt,
		Deadline:      s.Deadline,
		EndedAt:       s.endedAt,
		Commitment:    s.commitment,
		SeedTimestamp: s.seedTimestamp,
	}
	for _, p := range s.Participants {
		v.Players = append(v.Players, *s.players[p.ID])
	}
	if s.matchEnd != nil {
		end := *s.matchEnd
		v.End = &end
	}
	return v
}

// aliveCountUnsafe counts participants still in the match.
func (s *Session) aliveCountUnsafe() int {
	n := 0
	for _, ps := range s.players {
		if ps.Alive {
			n++
		}
	}
	return n
}

// eliminateUnsafe marks a participant out. It returns false when they were already out.
func (s *Session) eliminateUnsafe(id uuid.UUID, cause string, score int, at int) (events.PlayerEliminated, bool) {
	ps, ok := s.players[id]
	if !ok || !ps.Alive {
		return events.PlayerEliminated{}, false
	}
	ps.Alive = false
	ps.Cause = cause
	if score > ps.Score {
		ps.Score = score
	}
	if at == 0 {
		s.elimSeq++
		at = s.elimSeq
	}
	ps.EliminatedAt = at
	s.dirty = true
	return events.PlayerEliminated{MatchKey: s.MatchKey, Participant: id, Score: ps.Score, Cause: cause}, true
}

// liveEndReasonUnsafe reports whether a live match has reached its natural end.
func (s *Session) liveEndReasonUnsafe() (string, bool) {
	alive := s.aliveCountUnsafe()
	switch s.GameType.Mode {
	case models.ModeRoyale:
		if alive <= 1 {
			return ReasonLastAlive, true
		}
	case models.ModeRace:
		if alive == 0 {
			return ReasonAllEliminated, true
		}
	}
	return "", false
}

// endUnsafe freezes the session and computes the final order. A finish order, when given,
// ranks ahead of everyone it omits.
func (s *Session) endUnsafe(reason string, finishOrder []uuid.UUID) (Outcome, bool) {
	if s.state == StateEnded {
		return Outcome{}, false
	}
	s.state = StateEnded
	s.endedAt = time.Now()
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
	close(s.stop)

	scores := make(map[uuid.UUID]int, len(s.players))
	for id, ps := range s.players {
		scores[id] = ps.Score
	}

	// a simulated match always settles on the simulator's ranking, even when cut short
	var order []uuid.UUID
	if s.sim != nil {
		for _, id := range s.sim.Order {
			order = append(order, uuid.MustParse(id))
		}
		for id, score := range s.sim.FinalScores {
			scores[uuid.MustParse(id)] = score
		}
	} else {
		order = s.rankUnsafe(finishOrder)
	}

	return Outcome{
		MatchKey:     s.MatchKey,
		LobbyID:      s.LobbyID,
		GameType:     s.GameType,
		Tier:         s.Tier,
		Participants: s.Participants,
		Order:        order,
		Scores:       scores,
		Reason:       reason,
		Seed:         s.seed,
	}, true
}

func (s *Session) rankUnsafe(finishOrder []uuid.UUID) []uuid.UUID {
	placed := make(map[uuid.UUID]bool, len(finishOrder))
	order := make([]uuid.UUID, 0, len(s.Participants))
	for _, id := range finishOrder {
		placed[id] = true
		order = append(order, id)
	}

	standings := make([]simulator.Standing, 0, len(s.Participants))
	for _, p := range s.Participants {
		if placed[p.ID] {
			continue
		}
		ps := s.players[p.ID]
		standings = append(standings, simulator.Standing{
			ID:           p.ID.String(),
			Score:        ps.Score,
			Eliminated:   !ps.Alive,
			EliminatedAt: ps.EliminatedAt,
			Seat:         ps.Seat,
		})
	}
	for _, id := range simulator.Rank(standings) {
		order = append(order, uuid.MustParse(id))
	}
	return order
}

// validateFinishOrderUnsafe requires known, distinct participants.
func (s *Session) validateFinishOrderUnsafe(order []uuid.UUID) error {
	if len(order) == 0 {
		return ErrBadFinishOrder
	}
	seen := make(map[uuid.UUID]bool, len(order))
	for _, id := range order {
		if _, ok := s.players[id]; !ok {
			return ErrBadFinishOrder
		}
		if seen[id] {
			return ErrBadFinishOrder
		}
		seen[id] = true
	}
	return nil
}

// positionsUnsafe returns the buffered positions and clears the dirty flag.
func (s *Session) positionsUnsafe() (events.PlayerPositions, bool) {
	if !s.dirty {
		return events.PlayerPositions{}, false
	}
	s.dirty = false
	out := events.PlayerPositions{MatchKey: s.MatchKey, Positions: make(map[uuid.UUID]events.Position, len(s.players))}
	for id, ps := range s.players {
		out.Positions[id] = events.Position{X: ps.X, Y: ps.Y, Alive: ps.Alive, Score: ps.Score}
	}
	return out, true
}
