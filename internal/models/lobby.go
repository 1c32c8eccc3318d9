// internal/models/lobby.go
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LobbyStatus is the lifecycle state of a lobby.
type LobbyStatus string

const (
	LobbyWaiting    LobbyStatus = "waiting"
	LobbyReady      LobbyStatus = "ready"
	LobbyInProgress LobbyStatus = "in-progress"
	LobbyCompleted  LobbyStatus = "completed"
	LobbyCancelled  LobbyStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s LobbyStatus) Terminal() bool {
	return s == LobbyCompleted || s == LobbyCancelled
}

// Accepting reports whether joins are allowed in this state.
func (s LobbyStatus) Accepting() bool {
	return s == LobbyWaiting || s == LobbyReady
}

// LobbySnapshot is an immutable copy of a lobby's state, safe to hand to other goroutines.
type LobbySnapshot struct {
	ID           uuid.UUID       `json:"id"`
	GameType     string          `json:"gameType"`
	EntryTier    decimal.Decimal `json:"entryTier"`
	MinPlayers   int             `json:"minPlayers"`
	MaxPlayers   int             `json:"maxPlayers"`
	Status       LobbyStatus     `json:"status"`
	Participants []Participant   `json:"participants"`
	CreatedAt    time.Time       `json:"createdAt"`
	ReadyAt      time.Time       `json:"readyAt,omitempty"`
	BotCount     int             `json:"botCount"`
	MatchKey     uuid.UUID       `json:"matchKey,omitempty"`
}

// Total is the number of occupied seats.
func (s LobbySnapshot) Total() int {
	return len(s.Participants)
}

// Pot is the sum of all stakes in the lobby.
func (s LobbySnapshot) Pot() decimal.Decimal {
	pot := decimal.Zero
	for _, p := range s.Participants {
		pot = pot.Add(p.Stake)
	}
	return pot
}
