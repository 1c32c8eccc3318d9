package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrMalformed   = errors.New("malformed event")
	ErrUnknownKind = errors.New("unknown event type")
)

// Encode renders ev as a flat JSON object with a "type" field.
func Encode(ev Event) ([]byte, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", ev.Kind(), err)
	}
	var buf bytes.Buffer
	buf.WriteString(`{"type":`)
	kind, _ := json.Marshal(ev.Kind())
	buf.Write(kind)
	if len(body) > 2 {
		buf.WriteByte(',')
		buf.Write(body[1:])
	} else {
		buf.WriteByte('}')
	}
	return buf.Bytes(), nil
}

// Decode parses and validates an inbound message. Outbound kinds are rejected.
func Decode(data []byte) (Event, error) {
	var head struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var ev Event
	var err error
	switch head.Type {
	case KindJoin:
		var v Join
		err = json.Unmarshal(data, &v)
		if err == nil {
			err = v.validate()
		}
		ev = v
	case KindLeave:
		var v Leave
		err = json.Unmarshal(data, &v)
		if err == nil && v.LobbyID == uuid.Nil {
			err = errors.New("lobbyId is required")
		}
		ev = v
	case KindStateUpdate:
		var v StateUpdate
		err = json.Unmarshal(data, &v)
		if err == nil {
			err = requireMatch(v.MatchKey)
		}
		ev = v
	case KindPlayerDeath:
		var v PlayerDeath
		err = json.Unmarshal(data, &v)
		if err == nil {
			err = requireMatch(v.MatchKey)
		}
		ev = v
	case KindCoin:
		var v Coin
		err = json.Unmarshal(data, &v)
		if err == nil {
			err = requireMatch(v.MatchKey)
		}
		if err == nil && v.Value <= 0 {
			err = errors.New("coin value must be positive")
		}
		ev = v
	case KindMatchResult:
		var v MatchResult
		err = json.Unmarshal(data, &v)
		if err == nil {
			err = requireMatch(v.MatchKey)
		}
		if err == nil && len(v.FinishOrder) == 0 {
			err = errors.New("finishOrder is required")
		}
		ev = v
	case KindHeartbeat:
		var v Heartbeat
		err = json.Unmarshal(data, &v)
		ev = v
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, head.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, head.Type, err)
	}
	return ev, nil
}

func (j Join) validate() error {
	if j.LobbyID == uuid.Nil && j.GameType == "" {
		return errors.New("either lobbyId or gameType is required")
	}
	if !j.Tier.IsPositive() {
		return errors.New("tier must be positive")
	}
	return nil
}

func requireMatch(key uuid.UUID) error {
	if key == uuid.Nil {
		return errors.New("matchKey is required")
	}
	return nil
}
