package fairness

import (
	"crypto/sha256"
	"encoding/binary"
)

const mantissaBits = 52

// Stream is a repeatable generator of floats in [0,1). It is not safe for concurrent use.
type Stream struct {
	state [32]byte
	draws uint64
}

// NewStream seeds a stream. Any string is accepted; malformed seeds just yield a different stream.
func NewStream(seed string) *Stream {
	return &Stream{state: sha256.Sum256([]byte(seed))}
}

// Next re-hashes the running state and maps its low 52 bits into [0,1).
func (s *Stream) Next() float64 {
	s.state = sha256.Sum256(s.state[:])
	s.draws++
	low := binary.BigEndian.Uint64(s.state[24:]) & (1<<mantissaBits - 1)
	return float64(low) / float64(uint64(1)<<mantissaBits)
}

// Draws is the number of values consumed so far.
func (s *Stream) Draws() uint64 {
	return s.draws
}

// Int returns an integer in [lo, hi]. If hi < lo the bounds are swapped.
func (s *Stream) Int(lo, hi int) int {
	if hi < lo {
		lo, hi = hi, lo
	}
	return lo + int(s.Next()*float64(hi-lo+1))
}

// Chance reports true with probability p.
func (s *Stream) Chance(p float64) bool {
	return s.Next() < p
}

// Choice picks one element of list. It panics on an empty list.
func Choice[T any](s *Stream, list []T) T {
	return list[s.Int(0, len(list)-1)]
}

// Shuffle returns a shuffled copy of list (Fisher-Yates driven by the stream).
func Shuffle[T any](s *Stream, list []T) []T {
	out := make([]T, len(list))
	copy(out, list)
	for i := len(out) - 1; i > 0; i-- {
		j := s.Int(0, i)
		out[i], out[j] = out[j], out[i]
	}
	return out
}
