package models

// Mode selects how a match is played out once a lobby hands off.
type Mode string

const (
	// ModeRoyale is a live battle royale; the session ends when at most one participant is alive.
	ModeRoyale Mode = "royale"
	// ModeRace is a live race; the host declares the finish order with a match result.
	ModeRace Mode = "race"
	// ModeSimulated runs the deterministic simulator instead of a live game.
	ModeSimulated Mode = "simulated"
)

// PayoutShape selects how the pot is divided.
type PayoutShape string

const (
	PayoutWinnerTakesMost PayoutShape = "winner_takes_most"
	PayoutTop3            PayoutShape = "top3"
)

// GameType holds per-game capacity and payout rules.
type GameType struct {
	Name       string      `json:"name"`
	MinPlayers int         `json:"minPlayers"`
	MaxPlayers int         `json:"maxPlayers"`
	Mode       Mode        `json:"mode"`
	Payout     PayoutShape `json:"payout"`
}
