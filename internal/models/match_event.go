package models

import (
	"encoding/json"

	"github.com/google/uuid"
)

// MatchEvent is one entry of a match's event log as queued for the historian.
type MatchEvent struct {
	MatchKey  uuid.UUID       `json:"match_key"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"` // epoch millis
}
