// internal/session/playback.go
package session

import (
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/stakeroyale/internal/simulator"
)

// playback replays a simulated match's eliminations in tick time, then ends it with the
// simulator's ranking. The result is already fixed; playback only paces the broadcasts.
func (m *Manager) playback(s *Session) {
	s.Mu.Lock()
	res := s.sim
	s.Mu.Unlock()

	scores := make(map[string]int, len(res.Eliminations))
	for _, e := range res.Eliminations {
		scores[e.Participant] = e.Score
	}

	tick := 0
	for _, ev := range res.Events {
		if ev.Kind != simulator.EventElimination {
			continue
		}
		if !m.waitTicks(s, ev.Tick-tick) {
			return
		}
		tick = ev.Tick

		s.Mu.Lock()
		if s.state == StateEnded {
			s.Mu.Unlock()
			return
		}
		if pe, ok := s.eliminateUnsafe(uuid.MustParse(ev.Participant), ev.Cause, scores[ev.Participant], ev.Tick); ok {
			m.emit(s, pe)
		}
		s.Mu.Unlock()
	}
	if !m.waitTicks(s, res.DurationTicks-tick) {
		return
	}

	s.Mu.Lock()
	for id, score := range res.FinalScores {
		if ps, ok := s.players[uuid.MustParse(id)]; ok {
			ps.Score = score
		}
	}
	out, ended := s.endUnsafe(ReasonSimulated, nil)
	s.Mu.Unlock()
	if ended {
		m.finish(s, out)
	}
}

// waitTicks sleeps n simulated ticks. It returns false if the session ended meanwhile.
func (m *Manager) waitTicks(s *Session, n int) bool {
	if m.cfg.PlaybackTick <= 0 || n <= 0 {
		select {
		case <-s.stop:
			return false
		default:
			return true
		}
	}
	t := time.NewTimer(time.Duration(n) * m.cfg.PlaybackTick)
	defer t.Stop()
	select {
	case <-s.stop:
		return false
	case <-t.C:
		return true
	}
}
