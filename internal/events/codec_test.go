package events

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeAddsType(t *testing.T) {
	id := uuid.New()
	data, err := Encode(PlayerEliminated{MatchKey: id, Participant: id, Score: 7, Cause: "disconnect"})
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "player_eliminated", m["type"])
	assert.Equal(t, float64(7), m["score"])
	assert.Equal(t, "disconnect", m["cause"])
}

func TestEncodeEmptyBody(t *testing.T) {
	data, err := Encode(Heartbeat{})
	require.NoError(t, err)
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "heartbeat", m["type"])
}

func TestDecodeJoin(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"join","gameType":"flappy_royale","tier":"0.1"}`))
	require.NoError(t, err)
	join, ok := ev.(Join)
	require.True(t, ok)
	assert.Equal(t, "flappy_royale", join.GameType)
	assert.True(t, join.Tier.Equal(decimal.RequireFromString("0.1")))
}

func TestDecodeRejects(t *testing.T) {
	cases := map[string]string{
		"not json":          `{`,
		"missing type":      `{"tier":"1"}`,
		"join without tier": `{"type":"join","gameType":"x"}`,
		"join no target":    `{"type":"join","tier":"1"}`,
		"death no match":    `{"type":"player_death","score":3}`,
		"coin zero":         `{"type":"coin","matchKey":"` + uuid.NewString() + `","value":0}`,
		"empty result":      `{"type":"match_result","matchKey":"` + uuid.NewString() + `"}`,
		"leave no lobby":    `{"type":"leave"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(raw))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestDecodeUnknownAndOutbound(t *testing.T) {
	_, err := Decode([]byte(`{"type":"teleport"}`))
	assert.ErrorIs(t, err, ErrUnknownKind)
	_, err = Decode([]byte(`{"type":"match_end"}`))
	assert.ErrorIs(t, err, ErrUnknownKind, "clients may not send server events")
}

func TestDecodeMatchResult(t *testing.T) {
	key, a, b := uuid.New(), uuid.New(), uuid.New()
	raw, _ := json.Marshal(map[string]interface{}{
		"type":        "match_result",
		"matchKey":    key,
		"finishOrder": []uuid.UUID{a, b},
	})
	ev, err := Decode(raw)
	require.NoError(t, err)
	mr := ev.(MatchResult)
	assert.Equal(t, key, mr.MatchKey)
	assert.Equal(t, []uuid.UUID{a, b}, mr.FinishOrder)
}
