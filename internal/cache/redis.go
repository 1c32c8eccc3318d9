// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/stakeroyale/internal/events"
	"github.com/jason-s-yu/stakeroyale/internal/models"
	"github.com/redis/go-redis/v9"
)

// DefaultQueueName is the Redis list the match event log is pushed to.
const DefaultQueueName = "stakeroyale_events"

// Connect opens a client and pings it.
func Connect(ctx context.Context, addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// EventLog pushes every match event onto a Redis list for the historian.
type EventLog struct {
	rdb   *redis.Client
	queue string
	now   func() time.Time
}

func NewEventLog(rdb *redis.Client, queue string) *EventLog {
	if queue == "" {
		queue = DefaultQueueName
	}
	return &EventLog{rdb: rdb, queue: queue, now: time.Now}
}

// Queue is the name of the list records are pushed to.
func (l *EventLog) Queue() string {
	return l.queue
}

// Publish serializes ev and RPushes it. This only costs one round trip.
func (l *EventLog) Publish(ctx context.Context, matchKey uuid.UUID, ev events.Event) error {
	payload, err := events.Encode(ev)
	if err != nil {
		return err
	}
	rec := models.MatchEvent{
		MatchKey:  matchKey,
		Kind:      string(ev.Kind()),
		Payload:   payload,
		Timestamp: l.now().UnixMilli(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal match event: %w", err)
	}
	if err := l.rdb.RPush(ctx, l.queue, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", l.queue, err)
	}
	return nil
}
