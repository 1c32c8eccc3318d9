package simulator

import "sort"

// Standing is a participant's end-of-match position used for ranking.
type Standing struct {
	ID           string
	Score        int
	Eliminated   bool
	EliminatedAt int // tick or sequence number; later is better
	Seat         int // final tie-break, lower first
}

// Rank orders standings best first. Survivors beat everyone eliminated and are
// ordered by score. Eliminated participants are ordered by how late they went
// out, then by score.
func Rank(standings []Standing) []string {
	s := make([]Standing, len(standings))
	copy(s, standings)
	sort.SliceStable(s, func(i, j int) bool {
		a, b := s[i], s[j]
		if a.Eliminated != b.Eliminated {
			return !a.Eliminated
		}
		if a.Eliminated && a.EliminatedAt != b.EliminatedAt {
			return a.EliminatedAt > b.EliminatedAt
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.Seat < b.Seat
	})
	out := make([]string, len(s))
	for i, st := range s {
		out[i] = st.ID
	}
	return out
}
