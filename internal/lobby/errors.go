package lobby

import (
	"errors"

	"github.com/jason-s-yu/stakeroyale/internal/botledger"
)

// Capacity and race errors.
var (
	ErrLobbyFull     = errors.New("lobby is full")
	ErrNotAccepting  = errors.New("lobby is not accepting players")
	ErrLobbyClosed   = errors.New("lobby is closed")
	ErrLobbyNotFound = errors.New("lobby not found")
)

// Validation errors.
var (
	ErrAlreadyJoined   = errors.New("participant already in lobby")
	ErrDuplicateWallet = errors.New("wallet already seated in another lobby")
	ErrInvalidTier     = errors.New("entry tier not offered")
	ErrUnknownGameType = errors.New("unknown game type")
	ErrStakeLocked     = errors.New("stake is locked once the lobby is ready")
	ErrNotInLobby      = errors.New("participant not in lobby")
)

// Economic errors.
var (
	ErrInsufficientFunds = errors.New("insufficient balance for entry")
)

// Code maps an error to the stable code sent to clients.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrLobbyFull):
		return "lobby_full"
	case errors.Is(err, ErrNotAccepting), errors.Is(err, ErrLobbyClosed):
		return "not_accepting"
	case errors.Is(err, ErrLobbyNotFound):
		return "lobby_not_found"
	case errors.Is(err, ErrAlreadyJoined):
		return "already_joined"
	case errors.Is(err, ErrDuplicateWallet):
		return "duplicate_wallet"
	case errors.Is(err, ErrInvalidTier):
		return "invalid_tier"
	case errors.Is(err, ErrUnknownGameType):
		return "unknown_game_type"
	case errors.Is(err, ErrStakeLocked):
		return "stake_locked"
	case errors.Is(err, ErrNotInLobby):
		return "not_in_lobby"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, botledger.ErrInsufficientBalance):
		return "bot_ledger_underfunded"
	default:
		return "internal"
	}
}
