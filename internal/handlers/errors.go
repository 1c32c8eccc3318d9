package handlers

import (
	"errors"
	"net/http"

	"github.com/jason-s-yu/stakeroyale/internal/events"
	"github.com/jason-s-yu/stakeroyale/internal/lobby"
	"github.com/jason-s-yu/stakeroyale/internal/session"
)

// errorCode maps any error surfaced to a client to a stable code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, events.ErrMalformed):
		return "malformed"
	case errors.Is(err, events.ErrUnknownKind):
		return "unknown_type"
	case errors.Is(err, session.ErrSessionNotFound):
		return "match_not_found"
	case errors.Is(err, session.ErrSessionEnded):
		return "match_ended"
	case errors.Is(err, session.ErrNotParticipant):
		return "not_participant"
	case errors.Is(err, session.ErrNotHost):
		return "not_host"
	case errors.Is(err, session.ErrWrongMode):
		return "wrong_mode"
	case errors.Is(err, session.ErrBadFinishOrder):
		return "bad_finish_order"
	}
	return lobby.Code(err)
}

// httpStatus picks the response status for an error code.
func httpStatus(code string) int {
	switch code {
	case "lobby_not_found", "match_not_found":
		return http.StatusNotFound
	case "lobby_full", "not_accepting", "already_joined", "duplicate_wallet", "stake_locked", "match_ended":
		return http.StatusConflict
	case "insufficient_funds":
		return http.StatusPaymentRequired
	case "not_participant", "not_host":
		return http.StatusForbidden
	case "internal":
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func errorEvent(err error) events.Error {
	return events.Error{Code: errorCode(err), Message: err.Error()}
}
