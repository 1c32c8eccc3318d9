// internal/session/manager.go
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/stakeroyale/internal/config"
	"github.com/jason-s-yu/stakeroyale/internal/events"
	"github.com/jason-s-yu/stakeroyale/internal/fairness"
	"github.com/jason-s-yu/stakeroyale/internal/models"
	"github.com/jason-s-yu/stakeroyale/internal/simulator"
	"github.com/sirupsen/logrus"
)

// Config holds the session timings.
type Config struct {
	RoundDeadline     time.Duration
	BroadcastInterval time.Duration
	Retention         time.Duration
	PlaybackTick      time.Duration // per simulated tick; 0 replays immediately
	ServerSecret      string
	GameTypes         map[string]models.GameType
	Sim               simulator.Config
}

// ConfigFrom picks the session settings out of the runtime configuration.
func ConfigFrom(c *config.Config) Config {
	return Config{
		RoundDeadline:     c.RoundDeadline,
		BroadcastInterval: c.BroadcastInterval,
		Retention:         c.SessionRetention,
		PlaybackTick:      c.SimPlaybackTick,
		ServerSecret:      c.ServerSecret,
		GameTypes:         c.GameTypes,
		Sim:               simulator.DefaultConfig(),
	}
}

// EventLog receives a copy of every event a session emits.
type EventLog interface {
	Publish(ctx context.Context, matchKey uuid.UUID, ev events.Event) error
}

type logEntry struct {
	matchKey uuid.UUID
	ev       events.Event
}

// Manager owns every running and recently ended session.
type Manager struct {
	mu            sync.Mutex
	sessions      map[uuid.UUID]*Session
	byParticipant map[uuid.UUID]uuid.UUID // real participant -> match key

	cfg         Config
	broadcaster events.Broadcaster
	eventLog    EventLog
	logger      logrus.FieldLogger

	logCh     chan logEntry
	cancelLog context.CancelFunc

	// OnEnd settles a finished match. The returned record's payouts are included in MatchEnd.
	OnEnd func(ctx context.Context, out Outcome) (*models.SettlementRecord, error)
	// OnClosed fires after MatchEnd has been broadcast.
	OnClosed func(out Outcome)
}

// NewManager creates a manager. eventLog may be nil.
func NewManager(cfg Config, b events.Broadcaster, eventLog EventLog, logger logrus.FieldLogger) *Manager {
	m := &Manager{
		sessions:      make(map[uuid.UUID]*Session),
		byParticipant: make(map[uuid.UUID]uuid.UUID),
		cfg:           cfg,
		broadcaster:   b,
		eventLog:      eventLog,
		logger:        logger.WithField("component", "sessions"),
	}
	if eventLog != nil {
		ctx, cancel := context.WithCancel(context.Background())
		m.logCh = make(chan logEntry, 1024)
		m.cancelLog = cancel
		go m.publishLoop(ctx)
	}
	return m
}

// Start turns a handed-off lobby into a running match and returns its key.
func (m *Manager) Start(snap models.LobbySnapshot) (uuid.UUID, error) {
	gt, ok := m.cfg.GameTypes[snap.GameType]
	if !ok {
		return uuid.Nil, fmt.Errorf("unknown game type %q", snap.GameType)
	}
	if len(snap.Participants) == 0 {
		return uuid.Nil, fmt.Errorf("lobby %s has no participants", snap.ID)
	}

	s := newSession(snap, uuid.New(), m.cfg.ServerSecret, m.cfg.RoundDeadline)
	s.GameType = gt
	logger := m.logger.WithFields(logrus.Fields{"match": s.MatchKey, "lobby": s.LobbyID})

	m.mu.Lock()
	m.sessions[s.MatchKey] = s
	for _, p := range s.Participants {
		if !p.IsBot {
			m.byParticipant[p.ID] = s.MatchKey
		}
	}
	m.mu.Unlock()

	s.Mu.Lock()
	m.emit(s, s.GameStartEvent())
	s.timers = append(s.timers, time.AfterFunc(m.cfg.RoundDeadline, func() {
		m.end(s, ReasonDeadline, nil)
	}))
	if gt.Mode == models.ModeSimulated {
		ids := make([]string, len(s.Participants))
		for i, p := range s.Participants {
			ids[i] = p.ID.String()
		}
		res := simulator.Simulate(ids, s.seed, m.cfg.Sim)
		s.sim = &res
	} else {
		m.scheduleBotsUnsafe(s)
	}
	s.Mu.Unlock()

	if gt.Mode == models.ModeSimulated {
		go m.playback(s)
	} else {
		go m.broadcastLoop(s)
	}
	logger.WithField("mode", gt.Mode).Infof("match started with %d participants", len(s.Participants))
	return s.MatchKey, nil
}

// scheduleBotsUnsafe gives every bot in a live match an elimination time drawn from the match seed.
func (m *Manager) scheduleBotsUnsafe(s *Session) {
	stream := fairness.NewStream(s.seed)
	window := m.cfg.RoundDeadline.Milliseconds()
	for _, p := range s.Participants {
		if !p.IsBot {
			continue
		}
		at := time.Duration(stream.Int(int(window/5), int(window*19/20))) * time.Millisecond
		id := p.ID
		s.timers = append(s.timers, time.AfterFunc(at, func() {
			m.eliminate(s, id, CauseBot, 0)
		}))
	}
}

// Get returns the session for a match key, including ended sessions still in retention.
func (m *Manager) Get(matchKey uuid.UUID) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[matchKey]
	return s, ok
}

// ForParticipant finds the most recent match a real participant was seated in.
func (m *Manager) ForParticipant(id uuid.UUID) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key, ok := m.byParticipant[id]
	if !ok {
		return nil, false
	}
	s, ok := m.sessions[key]
	return s, ok
}

func (m *Manager) running(matchKey, participant uuid.UUID) (*Session, error) {
	s, ok := m.Get(matchKey)
	if !ok {
		return nil, ErrSessionNotFound
	}
	if _, ok := s.players[participant]; !ok {
		return nil, ErrNotParticipant
	}
	return s, nil
}

// UpdateState buffers a participant's reported position. It is broadcast on the next flush.
func (m *Manager) UpdateState(matchKey, participant uuid.UUID, upd events.StateUpdate) error {
	s, err := m.running(matchKey, participant)
	if err != nil {
		return err
	}
	s.Mu.Lock()
	defer s.Mu.Unlock()
	if s.state == StateEnded {
		return ErrSessionEnded
	}
	if s.GameType.Mode == models.ModeSimulated {
		return ErrWrongMode
	}
	ps := s.players[participant]
	ps.LastSeen = time.Now()
	if !ps.Alive {
		// eliminated participants keep spectating; their final state is fixed
		return nil
	}
	ps.X, ps.Y = upd.X, upd.Y
	if upd.Score > ps.Score {
		ps.Score = upd.Score
	}
	s.dirty = true
	return nil
}

// Terminal applies an authoritative per-participant event.
func (m *Manager) Terminal(matchKey, participant uuid.UUID, kind TerminalKind, value int) error {
	s, err := m.running(matchKey, participant)
	if err != nil {
		return err
	}

	s.Mu.Lock()
	if s.state == StateEnded {
		s.Mu.Unlock()
		return ErrSessionEnded
	}
	if s.GameType.Mode == models.ModeSimulated {
		s.Mu.Unlock()
		return ErrWrongMode
	}
	ps := s.players[participant]
	ps.LastSeen = time.Now()

	switch kind {
	case TerminalCoin:
		if ps.Alive && value > 0 {
			ps.Score += value
			s.dirty = true
		}
		s.Mu.Unlock()
		return nil
	case TerminalDeath:
		s.Mu.Unlock()
		m.eliminate(s, participant, CauseDeath, value)
		return nil
	default:
		s.Mu.Unlock()
		return fmt.Errorf("unknown terminal event %q", kind)
	}
}

// SubmitResult ends a race with the host's declared finish order.
func (m *Manager) SubmitResult(matchKey, participant uuid.UUID, finishOrder []uuid.UUID) error {
	s, err := m.running(matchKey, participant)
	if err != nil {
		return err
	}
	if s.GameType.Mode != models.ModeRace {
		return ErrWrongMode
	}
	if participant != s.Host() {
		return ErrNotHost
	}
	s.Mu.Lock()
	if s.state == StateEnded {
		s.Mu.Unlock()
		return ErrSessionEnded
	}
	if err := s.validateFinishOrderUnsafe(finishOrder); err != nil {
		s.Mu.Unlock()
		return err
	}
	out, ended := s.endUnsafe(ReasonFinishOrder, finishOrder)
	s.Mu.Unlock()
	if ended {
		m.finish(s, out)
	}
	return nil
}

// Disconnect treats a dropped participant as eliminated. They stay on the roster and in the ranking.
func (m *Manager) Disconnect(participant uuid.UUID) {
	s, ok := m.ForParticipant(participant)
	if !ok {
		return
	}
	s.Mu.Lock()
	ps := s.players[participant]
	ps.Connected = false
	skip := s.state == StateEnded || s.GameType.Mode == models.ModeSimulated
	s.Mu.Unlock()
	if skip {
		return
	}
	m.logger.WithFields(logrus.Fields{"match": s.MatchKey, "participant": participant}).Info("participant disconnected mid-match")
	m.eliminate(s, participant, CauseDisconnect, 0)
}

// Heartbeat refreshes a participant's last-seen time and nothing else.
func (m *Manager) Heartbeat(participant uuid.UUID) {
	s, ok := m.ForParticipant(participant)
	if !ok {
		return
	}
	s.Mu.Lock()
	defer s.Mu.Unlock()
	ps := s.players[participant]
	ps.LastSeen = time.Now()
	ps.Connected = true
}

func (m *Manager) eliminate(s *Session, id uuid.UUID, cause string, score int) {
	s.Mu.Lock()
	if s.state == StateEnded {
		s.Mu.Unlock()
		return
	}
	ev, ok := s.eliminateUnsafe(id, cause, score, 0)
	if !ok {
		s.Mu.Unlock()
		return
	}
	m.emit(s, ev)
	reason, done := s.liveEndReasonUnsafe()
	var out Outcome
	var ended bool
	if done {
		out, ended = s.endUnsafe(reason, nil)
	}
	s.Mu.Unlock()
	if ended {
		m.finish(s, out)
	}
}

func (m *Manager) end(s *Session, reason string, finishOrder []uuid.UUID) {
	s.Mu.Lock()
	out, ended := s.endUnsafe(reason, finishOrder)
	s.Mu.Unlock()
	if ended {
		m.finish(s, out)
	}
}

// finish settles, broadcasts MatchEnd and schedules removal. Called exactly once per session.
func (m *Manager) finish(s *Session, out Outcome) {
	logger := m.logger.WithFields(logrus.Fields{"match": s.MatchKey, "reason": out.Reason})

	var record *models.SettlementRecord
	if m.OnEnd != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		rec, err := m.OnEnd(ctx, out)
		cancel()
		if err != nil {
			logger.Errorf("settlement failed: %v", err)
		}
		record = rec
	}

	reveal := s.Reveal()
	ev := events.MatchEnd{
		MatchKey: s.MatchKey,
		Winner:   out.Order[0],
		Rankings: make([]events.RankEntry, len(out.Order)),
		Reason:   out.Reason,
		Reveal:   &reveal,
	}
	bots := make(map[uuid.UUID]bool)
	for _, p := range s.Participants {
		bots[p.ID] = p.IsBot
	}
	for i, id := range out.Order {
		ev.Rankings[i] = events.RankEntry{Participant: id, Rank: i + 1, Score: out.Scores[id], IsBot: bots[id]}
	}
	if record != nil {
		ev.Payouts = record.Payouts()
	}

	s.Mu.Lock()
	s.matchEnd = &ev
	m.emit(s, ev)
	s.Mu.Unlock()
	logger.WithField("winner", ev.Winner).Info("match ended")

	if m.OnClosed != nil {
		m.OnClosed(out)
	}
	close(s.finished)
	time.AfterFunc(m.cfg.Retention, func() { m.remove(s) })
}

func (m *Manager) remove(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, s.MatchKey)
	for _, p := range s.Participants {
		if m.byParticipant[p.ID] == s.MatchKey {
			delete(m.byParticipant, p.ID)
		}
	}
}

// broadcastLoop flushes buffered positions at a fixed rate until the session ends.
func (m *Manager) broadcastLoop(s *Session) {
	ticker := time.NewTicker(m.cfg.BroadcastInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.Mu.Lock()
			if ev, ok := s.positionsUnsafe(); ok {
				m.emit(s, ev)
			}
			s.Mu.Unlock()
		}
	}
}

// emit sends ev to every real participant and queues it for the event log.
// Callers hold s.Mu so events leave in the order they were produced.
func (m *Manager) emit(s *Session, ev events.Event) {
	events.SendAll(m.broadcaster, s.Participants, ev)
	if m.logCh == nil {
		return
	}
	select {
	case m.logCh <- logEntry{matchKey: s.MatchKey, ev: ev}:
	default:
		m.logger.WithField("match", s.MatchKey).Warnf("event log backlog full, dropping %s", ev.Kind())
	}
}

func (m *Manager) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-m.logCh:
			pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := m.eventLog.Publish(pctx, e.matchKey, e.ev); err != nil {
				m.logger.WithField("match", e.matchKey).Warnf("publish %s: %v", e.ev.Kind(), err)
			}
			cancel()
		}
	}
}

// Close force-ends running sessions and stops the event log publisher.
func (m *Manager) Close() {
	m.mu.Lock()
	ss := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		ss = append(ss, s)
	}
	m.mu.Unlock()

	for _, s := range ss {
		m.end(s, ReasonShutdown, nil)
	}
	if m.cancelLog != nil {
		m.cancelLog()
	}
}
