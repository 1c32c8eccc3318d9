// Package events defines every message kind exchanged with clients as its own type.
package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/stakeroyale/internal/fairness"
	"github.com/jason-s-yu/stakeroyale/internal/models"
	"github.com/shopspring/decimal"
)

// Kind is the wire discriminator carried in the "type" field.
type Kind string

// Inbound kinds.
const (
	KindJoin        Kind = "join"
	KindLeave       Kind = "leave"
	KindStateUpdate Kind = "state_update"
	KindPlayerDeath Kind = "player_death"
	KindCoin        Kind = "coin"
	KindMatchResult Kind = "match_result"
	KindHeartbeat   Kind = "heartbeat"
)

// Outbound kinds.
const (
	KindLobbyUpdated     Kind = "lobby_updated"
	KindLobbyReady       Kind = "lobby_ready"
	KindGameStart        Kind = "game_start"
	KindPlayerPositions  Kind = "player_positions"
	KindPlayerEliminated Kind = "player_eliminated"
	KindMatchEnd         Kind = "match_end"
	KindLobbyCancelled   Kind = "lobby_cancelled"
	KindError            Kind = "error"
)

// Event is implemented by every message type.
type Event interface {
	Kind() Kind
}

// Broadcaster delivers events to a single connected participant. Bots and
// disconnected participants are silently skipped by implementations.
type Broadcaster interface {
	Send(to uuid.UUID, ev Event)
}

// SendAll delivers ev to every real participant in ps.
func SendAll(b Broadcaster, ps []models.Participant, ev Event) {
	if b == nil {
		return
	}
	for _, p := range ps {
		if !p.IsBot {
			b.Send(p.ID, ev)
		}
	}
}

// ---- outbound ----

type LobbyUpdated struct {
	Lobby models.LobbySnapshot `json:"lobby"`
}

type LobbyReady struct {
	LobbyID   uuid.UUID `json:"lobbyId"`
	Countdown int64     `json:"countdownMs"`
	StartsAt  time.Time `json:"startsAt"`
}

type GameStart struct {
	MatchKey      uuid.UUID            `json:"matchKey"`
	LobbyID       uuid.UUID            `json:"lobbyId"`
	GameType      string               `json:"gameType"`
	Mode          models.Mode          `json:"mode"`
	Participants  []models.Participant `json:"participants"`
	RoundDeadline time.Time            `json:"roundDeadline"`
	Commitment    string               `json:"commitment"`
	SeedTimestamp int64                `json:"seedTimestamp"`
}

// Position is the last reported state for one participant.
type Position struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Alive bool    `json:"alive"`
	Score int     `json:"score"`
}

type PlayerPositions struct {
	MatchKey  uuid.UUID              `json:"matchKey"`
	Positions map[uuid.UUID]Position `json:"positions"`
}

type PlayerEliminated struct {
	MatchKey    uuid.UUID `json:"matchKey"`
	Participant uuid.UUID `json:"participant"`
	Score       int       `json:"score"`
	Cause       string    `json:"cause"`
}

// RankEntry is one line of the final standings.
type RankEntry struct {
	Participant uuid.UUID `json:"participant"`
	Rank        int       `json:"rank"`
	Score       int       `json:"score"`
	IsBot       bool      `json:"isBot"`
}

type MatchEnd struct {
	MatchKey uuid.UUID         `json:"matchKey"`
	Winner   uuid.UUID         `json:"winner"`
	Rankings []RankEntry       `json:"rankings"`
	Payouts  []models.Transfer `json:"payouts"`
	Reason   string            `json:"reason"`
	Reveal   *fairness.Reveal  `json:"reveal,omitempty"`
}

type LobbyCancelled struct {
	LobbyID      uuid.UUID       `json:"lobbyId"`
	Reason       string          `json:"reason"`
	RefundAmount decimal.Decimal `json:"refundAmount"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (LobbyUpdated) Kind() Kind     { return KindLobbyUpdated }
func (LobbyReady) Kind() Kind       { return KindLobbyReady }
func (GameStart) Kind() Kind        { return KindGameStart }
func (PlayerPositions) Kind() Kind  { return KindPlayerPositions }
func (PlayerEliminated) Kind() Kind { return KindPlayerEliminated }
func (MatchEnd) Kind() Kind         { return KindMatchEnd }
func (LobbyCancelled) Kind() Kind   { return KindLobbyCancelled }
func (Error) Kind() Kind            { return KindError }

// ---- inbound ----

// Join asks for a seat, either in a specific lobby or via matchmaking criteria.
type Join struct {
	LobbyID  uuid.UUID       `json:"lobbyId,omitempty"`
	GameType string          `json:"gameType,omitempty"`
	Tier     decimal.Decimal `json:"tier"`
}

type Leave struct {
	LobbyID uuid.UUID `json:"lobbyId"`
}

type StateUpdate struct {
	MatchKey uuid.UUID `json:"matchKey"`
	X        float64   `json:"x"`
	Y        float64   `json:"y"`
	Alive    bool      `json:"alive"`
	Score    int       `json:"score"`
}

type PlayerDeath struct {
	MatchKey uuid.UUID `json:"matchKey"`
	Score    int       `json:"score"`
}

type Coin struct {
	MatchKey uuid.UUID `json:"matchKey"`
	Value    int       `json:"value"`
}

type MatchResult struct {
	MatchKey    uuid.UUID   `json:"matchKey"`
	FinishOrder []uuid.UUID `json:"finishOrder"`
}

type Heartbeat struct {
	MatchKey uuid.UUID `json:"matchKey,omitempty"`
}

func (Join) Kind() Kind        { return KindJoin }
func (Leave) Kind() Kind       { return KindLeave }
func (StateUpdate) Kind() Kind { return KindStateUpdate }
func (PlayerDeath) Kind() Kind { return KindPlayerDeath }
func (Coin) Kind() Kind        { return KindCoin }
func (MatchResult) Kind() Kind { return KindMatchResult }
func (Heartbeat) Kind() Kind   { return KindHeartbeat }
