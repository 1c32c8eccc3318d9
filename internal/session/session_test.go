// internal/session/session_test.go
package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/stakeroyale/internal/config"
	"github.com/jason-s-yu/stakeroyale/internal/events"
	"github.com/jason-s-yu/stakeroyale/internal/fairness"
	"github.com/jason-s-yu/stakeroyale/internal/models"
	"github.com/jason-s-yu/stakeroyale/internal/simulator"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockBroadcaster collects events instead of sending them over WS.
type mockBroadcaster struct {
	mu     sync.Mutex
	events map[uuid.UUID][]events.Event
}

func newMockBroadcaster() *mockBroadcaster {
	return &mockBroadcaster{events: make(map[uuid.UUID][]events.Event)}
}

func (mb *mockBroadcaster) Send(to uuid.UUID, ev events.Event) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.events[to] = append(mb.events[to], ev)
}

func (mb *mockBroadcaster) last(to uuid.UUID, kind events.Kind) events.Event {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	evs := mb.events[to]
	for i := len(evs) - 1; i >= 0; i-- {
		if evs[i].Kind() == kind {
			return evs[i]
		}
	}
	return nil
}

func (mb *mockBroadcaster) count(to uuid.UUID, kind events.Kind) int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	n := 0
	for _, ev := range mb.events[to] {
		if ev.Kind() == kind {
			n++
		}
	}
	return n
}

type recordingLog struct {
	mu    sync.Mutex
	kinds []events.Kind
}

func (r *recordingLog) Publish(_ context.Context, _ uuid.UUID, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, ev.Kind())
	return nil
}

func (r *recordingLog) has(kind events.Kind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range r.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func testConfig() Config {
	cfg := ConfigFrom(config.Default())
	cfg.RoundDeadline = time.Minute
	cfg.BroadcastInterval = 5 * time.Millisecond
	cfg.Retention = time.Minute
	cfg.PlaybackTick = 0
	return cfg
}

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.WarnLevel)
	return l
}

func lobbyWith(gameType string, ps ...models.Participant) models.LobbySnapshot {
	return models.LobbySnapshot{
		ID:           uuid.New(),
		GameType:     gameType,
		EntryTier:    decimal.RequireFromString("0.1"),
		Status:       models.LobbyReady,
		Participants: ps,
	}
}

func players(n int) []models.Participant {
	out := make([]models.Participant, n)
	for i := range out {
		out[i] = models.Participant{ID: uuid.New(), DisplayName: "p", Wallet: uuid.NewString()}
	}
	return out
}

type harness struct {
	m        *Manager
	mb       *mockBroadcaster
	mu       sync.Mutex
	outcomes []Outcome
	closed   int
}

func newHarness(t *testing.T, cfg Config, log EventLog) *harness {
	h := &harness{mb: newMockBroadcaster()}
	h.m = NewManager(cfg, h.mb, log, testLogger())
	h.m.OnEnd = func(_ context.Context, out Outcome) (*models.SettlementRecord, error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.outcomes = append(h.outcomes, out)
		return &models.SettlementRecord{
			Key: out.MatchKey.String(),
			Transfers: []models.Transfer{
				{Kind: models.KindPayout, Participant: out.Order[0], Amount: decimal.RequireFromString("0.27")},
				{Kind: models.KindRake, Recipient: "house", Amount: decimal.RequireFromString("0.03")},
			},
		}, nil
	}
	h.m.OnClosed = func(Outcome) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.closed++
	}
	t.Cleanup(h.m.Close)
	return h
}

func (h *harness) outcome(t *testing.T) Outcome {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	require.Len(t, h.outcomes, 1)
	return h.outcomes[0]
}

func waitFinished(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Finished():
	case <-time.After(3 * time.Second):
		t.Fatal("session never finished")
	}
}

func TestRoyaleEndsWithLastAlive(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	ps := players(3)
	key, err := h.m.Start(lobbyWith("flappy_royale", ps...))
	require.NoError(t, err)
	s, ok := h.m.Get(key)
	require.True(t, ok)

	for _, p := range ps {
		start, ok := h.mb.last(p.ID, events.KindGameStart).(events.GameStart)
		require.True(t, ok)
		assert.Equal(t, key, start.MatchKey)
		assert.NotEmpty(t, start.Commitment)
	}

	require.NoError(t, h.m.UpdateState(key, ps[0].ID, events.StateUpdate{MatchKey: key, X: 1, Y: 2, Alive: true, Score: 3}))
	require.Eventually(t, func() bool {
		pos, ok := h.mb.last(ps[1].ID, events.KindPlayerPositions).(events.PlayerPositions)
		return ok && pos.Positions[ps[0].ID].Score == 3
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, h.m.Terminal(key, ps[0].ID, TerminalDeath, 3))
	require.NoError(t, h.m.Terminal(key, ps[1].ID, TerminalCoin, 5))
	require.NoError(t, h.m.Terminal(key, ps[1].ID, TerminalDeath, 4))
	waitFinished(t, s)

	out := h.outcome(t)
	assert.Equal(t, ReasonLastAlive, out.Reason)
	assert.Equal(t, []uuid.UUID{ps[2].ID, ps[1].ID, ps[0].ID}, out.Order)
	assert.Equal(t, 5, out.Scores[ps[1].ID])

	end, ok := h.mb.last(ps[0].ID, events.KindMatchEnd).(events.MatchEnd)
	require.True(t, ok)
	assert.Equal(t, ps[2].ID, end.Winner)
	assert.Len(t, end.Payouts, 1, "rake is not a payout")
	require.NotNil(t, end.Reveal)
	assert.True(t, fairness.VerifyReveal(*end.Reveal))
	assert.Equal(t, s.Seed(), end.Reveal.Seed)

	// ended sessions are immutable
	assert.ErrorIs(t, h.m.Terminal(key, ps[2].ID, TerminalDeath, 0), ErrSessionEnded)
	assert.ErrorIs(t, h.m.UpdateState(key, ps[2].ID, events.StateUpdate{}), ErrSessionEnded)
	assert.Equal(t, StateEnded, s.View().State)
	assert.Equal(t, 1, h.mb.count(ps[0].ID, events.KindMatchEnd))
}

func TestRaceResultFromHostOnly(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	ps := players(3)
	key, err := h.m.Start(lobbyWith("coin_race", ps...))
	require.NoError(t, err)
	s, _ := h.m.Get(key)

	assert.ErrorIs(t, h.m.SubmitResult(key, ps[1].ID, []uuid.UUID{ps[1].ID}), ErrNotHost)
	assert.ErrorIs(t, h.m.SubmitResult(key, ps[0].ID, []uuid.UUID{ps[1].ID, ps[1].ID}), ErrBadFinishOrder)
	assert.ErrorIs(t, h.m.SubmitResult(key, ps[0].ID, []uuid.UUID{uuid.New()}), ErrBadFinishOrder)
	assert.ErrorIs(t, h.m.SubmitResult(uuid.New(), ps[0].ID, nil), ErrSessionNotFound)

	require.NoError(t, h.m.Terminal(key, ps[0].ID, TerminalCoin, 10))
	require.NoError(t, h.m.SubmitResult(key, ps[0].ID, []uuid.UUID{ps[2].ID}))
	waitFinished(t, s)

	out := h.outcome(t)
	assert.Equal(t, ReasonFinishOrder, out.Reason)
	// the declared finisher leads; the rest fall back to score
	assert.Equal(t, []uuid.UUID{ps[2].ID, ps[0].ID, ps[1].ID}, out.Order)
}

func TestDeadlineForcesEnd(t *testing.T) {
	cfg := testConfig()
	cfg.RoundDeadline = 30 * time.Millisecond
	h := newHarness(t, cfg, nil)
	ps := players(3)
	key, err := h.m.Start(lobbyWith("flappy_royale", ps...))
	require.NoError(t, err)
	s, _ := h.m.Get(key)

	require.NoError(t, h.m.Terminal(key, ps[2].ID, TerminalCoin, 7))
	waitFinished(t, s)

	out := h.outcome(t)
	assert.Equal(t, ReasonDeadline, out.Reason)
	assert.Equal(t, ps[2].ID, out.Order[0])
}

func TestDisconnectEliminates(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	ps := players(2)
	key, err := h.m.Start(lobbyWith("flappy_royale", ps...))
	require.NoError(t, err)
	s, _ := h.m.Get(key)

	h.m.Heartbeat(ps[0].ID)
	assert.Equal(t, StateRunning, s.View().State)

	h.m.Disconnect(ps[0].ID)
	waitFinished(t, s)

	elim, ok := h.mb.last(ps[1].ID, events.KindPlayerEliminated).(events.PlayerEliminated)
	require.True(t, ok)
	assert.Equal(t, CauseDisconnect, elim.Cause)

	v := s.View()
	require.Len(t, v.Players, 2, "disconnected participants stay on the roster")
	assert.False(t, v.Players[0].Alive)
	assert.Equal(t, []uuid.UUID{ps[1].ID, ps[0].ID}, h.outcome(t).Order)
}

func TestSimulatedMatchFollowsSimulator(t *testing.T) {
	log := &recordingLog{}
	h := newHarness(t, testConfig(), log)
	ps := players(5)
	key, err := h.m.Start(lobbyWith("auto_arena", ps...))
	require.NoError(t, err)
	s, _ := h.m.Get(key)
	waitFinished(t, s)

	ids := make([]string, len(ps))
	for i, p := range ps {
		ids[i] = p.ID.String()
	}
	want := simulator.Simulate(ids, s.Seed(), simulator.DefaultConfig())
	out := h.outcome(t)
	assert.Equal(t, ReasonSimulated, out.Reason)
	require.Len(t, out.Order, len(ps))
	for i, id := range out.Order {
		assert.Equal(t, want.Order[i], id.String())
	}
	assert.Equal(t, len(want.Eliminations), h.mb.count(ps[0].ID, events.KindPlayerEliminated))

	assert.ErrorIs(t, h.m.Terminal(key, ps[0].ID, TerminalDeath, 0), ErrSessionEnded)
	require.Eventually(t, func() bool { return log.has(events.KindMatchEnd) }, time.Second, 5*time.Millisecond)
	assert.True(t, log.has(events.KindGameStart))
}

func TestSimulatedMatchCutByDeadlineKeepsSimulatorRanking(t *testing.T) {
	cfg := testConfig()
	cfg.PlaybackTick = time.Second
	cfg.RoundDeadline = 30 * time.Millisecond
	h := newHarness(t, cfg, nil)
	ps := players(5)
	key, err := h.m.Start(lobbyWith("auto_arena", ps...))
	require.NoError(t, err)
	s, _ := h.m.Get(key)
	waitFinished(t, s)

	ids := make([]string, len(ps))
	for i, p := range ps {
		ids[i] = p.ID.String()
	}
	want := simulator.Simulate(ids, s.Seed(), simulator.DefaultConfig())
	out := h.outcome(t)
	assert.Equal(t, ReasonDeadline, out.Reason)
	require.Len(t, out.Order, len(ps))
	assert.Equal(t, want.Winner, out.Order[0].String())
	for i, id := range out.Order {
		assert.Equal(t, want.Order[i], id.String())
	}
	for id, score := range want.FinalScores {
		assert.Equal(t, score, out.Scores[uuid.MustParse(id)])
	}
}

func TestSimulatedRejectsLiveInput(t *testing.T) {
	cfg := testConfig()
	cfg.PlaybackTick = time.Second
	h := newHarness(t, cfg, nil)
	ps := players(3)
	key, err := h.m.Start(lobbyWith("auto_arena", ps...))
	require.NoError(t, err)

	assert.ErrorIs(t, h.m.UpdateState(key, ps[0].ID, events.StateUpdate{}), ErrWrongMode)
	assert.ErrorIs(t, h.m.Terminal(key, ps[0].ID, TerminalDeath, 0), ErrWrongMode)
	assert.ErrorIs(t, h.m.SubmitResult(key, ps[0].ID, []uuid.UUID{ps[0].ID}), ErrWrongMode)
}

func TestBotsEliminatedOnSchedule(t *testing.T) {
	cfg := testConfig()
	cfg.RoundDeadline = time.Second
	h := newHarness(t, cfg, nil)
	human := players(1)[0]
	bots := []models.Participant{
		{ID: uuid.New(), DisplayName: "Bot-1", IsBot: true},
		{ID: uuid.New(), DisplayName: "Bot-2", IsBot: true},
	}
	key, err := h.m.Start(lobbyWith("flappy_royale", human, bots[0], bots[1]))
	require.NoError(t, err)
	s, _ := h.m.Get(key)
	waitFinished(t, s)

	out := h.outcome(t)
	assert.Equal(t, ReasonLastAlive, out.Reason)
	assert.Equal(t, human.ID, out.Order[0])

	end, ok := h.mb.last(human.ID, events.KindMatchEnd).(events.MatchEnd)
	require.True(t, ok)
	assert.True(t, end.Rankings[1].IsBot)
	assert.True(t, end.Rankings[2].IsBot)
}

func TestBotEliminationKeepsAccumulatedScore(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for a bot elimination past the one second mark")
	}
	// bots are eliminated no earlier than a fifth of the deadline
	cfg := testConfig()
	cfg.RoundDeadline = 5 * time.Second
	h := newHarness(t, cfg, nil)
	human := players(1)[0]
	bot := models.Participant{ID: uuid.New(), DisplayName: "Bot-1", IsBot: true}
	key, err := h.m.Start(lobbyWith("flappy_royale", human, bot))
	require.NoError(t, err)
	s, _ := h.m.Get(key)

	select {
	case <-s.Finished():
	case <-time.After(6 * time.Second):
		t.Fatal("session never finished")
	}

	elim, ok := h.mb.last(human.ID, events.KindPlayerEliminated).(events.PlayerEliminated)
	require.True(t, ok)
	assert.Equal(t, bot.ID, elim.Participant)
	assert.Equal(t, CauseBot, elim.Cause)
	assert.Equal(t, 0, elim.Score)

	out := h.outcome(t)
	assert.Equal(t, []uuid.UUID{human.ID, bot.ID}, out.Order)
	assert.Equal(t, 0, out.Scores[bot.ID])
}

func TestRetentionRemovesSession(t *testing.T) {
	cfg := testConfig()
	cfg.Retention = 20 * time.Millisecond
	h := newHarness(t, cfg, nil)
	ps := players(2)
	key, err := h.m.Start(lobbyWith("flappy_royale", ps...))
	require.NoError(t, err)
	s, _ := h.m.Get(key)

	require.NoError(t, h.m.Terminal(key, ps[0].ID, TerminalDeath, 0))
	waitFinished(t, s)

	h.mu.Lock()
	assert.Equal(t, 1, h.closed)
	h.mu.Unlock()

	require.Eventually(t, func() bool {
		_, ok := h.m.Get(key)
		return !ok
	}, time.Second, 5*time.Millisecond)
	_, ok := h.m.ForParticipant(ps[0].ID)
	assert.False(t, ok)
}

func TestStartRejectsUnknownGameType(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	_, err := h.m.Start(lobbyWith("chess", players(2)...))
	assert.Error(t, err)
}
