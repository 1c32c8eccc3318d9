package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Participant is a seat in a lobby, held by either a real player or a bot.
type Participant struct {
	ID          uuid.UUID       `json:"id"`
	DisplayName string          `json:"displayName"`
	Wallet      string          `json:"wallet,omitempty"`
	IsBot       bool            `json:"isBot"`
	Stake       decimal.Decimal `json:"stake"`
	JoinedAt    time.Time       `json:"joinedAt"`
}

// RealParticipants filters out bots, preserving order.
func RealParticipants(ps []Participant) []Participant {
	out := make([]Participant, 0, len(ps))
	for _, p := range ps {
		if !p.IsBot {
			out = append(out, p)
		}
	}
	return out
}

// ParticipantIDs returns the ids in roster order.
func ParticipantIDs(ps []Participant) []uuid.UUID {
	ids := make([]uuid.UUID, len(ps))
	for i, p := range ps {
		ids[i] = p.ID
	}
	return ids
}
