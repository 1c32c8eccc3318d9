package cache

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jason-s-yu/stakeroyale/internal/events"
	"github.com/jason-s-yu/stakeroyale/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnect(t *testing.T) {
	s := miniredis.RunT(t)
	rdb, err := Connect(context.Background(), s.Addr(), 0)
	require.NoError(t, err)
	defer rdb.Close()

	s.Close()
	_, err = Connect(context.Background(), s.Addr(), 0)
	assert.Error(t, err)
}

func TestPublishPushesRecord(t *testing.T) {
	s := miniredis.RunT(t)
	rdb, err := Connect(context.Background(), s.Addr(), 0)
	require.NoError(t, err)
	defer rdb.Close()

	log := NewEventLog(rdb, "")
	assert.Equal(t, DefaultQueueName, log.Queue())

	key := uuid.New()
	who := uuid.New()
	require.NoError(t, log.Publish(context.Background(), key, events.PlayerEliminated{MatchKey: key, Participant: who, Score: 7, Cause: "death"}))

	items, err := s.List(DefaultQueueName)
	require.NoError(t, err)
	require.Len(t, items, 1)

	var rec models.MatchEvent
	require.NoError(t, json.Unmarshal([]byte(items[0]), &rec))
	assert.Equal(t, key, rec.MatchKey)
	assert.Equal(t, string(events.KindPlayerEliminated), rec.Kind)
	assert.NotZero(t, rec.Timestamp)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Payload, &payload))
	assert.Equal(t, "player_eliminated", payload["type"])
	assert.Equal(t, who.String(), payload["participant"])
}

func TestPublishCustomQueue(t *testing.T) {
	s := miniredis.RunT(t)
	rdb, err := Connect(context.Background(), s.Addr(), 0)
	require.NoError(t, err)
	defer rdb.Close()

	log := NewEventLog(rdb, "other")
	key := uuid.New()
	require.NoError(t, log.Publish(context.Background(), key, events.GameStart{MatchKey: key}))
	require.NoError(t, log.Publish(context.Background(), key, events.MatchEnd{MatchKey: key}))

	items, err := s.List("other")
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.False(t, s.Exists(DefaultQueueName))
}
