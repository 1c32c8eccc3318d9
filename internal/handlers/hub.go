// internal/handlers/hub.go
package handlers

import (
	"sync"

	"github.com/google/uuid"
	"github.com/jason-s-yu/stakeroyale/internal/events"
	"github.com/sirupsen/logrus"
)

// outboxSize bounds how far a client may fall behind before events are dropped.
const outboxSize = 64

// client is one live connection's outbound queue.
type client struct {
	playerID uuid.UUID
	out      chan events.Event
	done     chan struct{}
	once     sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// Hub routes events to connected players. It implements events.Broadcaster.
type Hub struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]*client
	logger  logrus.FieldLogger
}

func NewHub(logger logrus.FieldLogger) *Hub {
	return &Hub{
		clients: make(map[uuid.UUID]*client),
		logger:  logger.WithField("component", "hub"),
	}
}

// Register attaches a new connection for playerID. An older connection for the same
// player is told to shut down.
func (h *Hub) Register(playerID uuid.UUID) *client {
	c := &client{playerID: playerID, out: make(chan events.Event, outboxSize), done: make(chan struct{})}
	h.mu.Lock()
	old := h.clients[playerID]
	h.clients[playerID] = c
	h.mu.Unlock()
	if old != nil {
		old.close()
	}
	return c
}

// Unregister removes c. It reports false when c had already been replaced by a newer connection.
func (h *Hub) Unregister(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	c.close()
	if h.clients[c.playerID] != c {
		return false
	}
	delete(h.clients, c.playerID)
	return true
}

// Connected reports whether playerID has a live connection.
func (h *Hub) Connected(playerID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[playerID]
	return ok
}

// Send never blocks. Events for absent players are discarded, and a full outbox drops the event.
func (h *Hub) Send(to uuid.UUID, ev events.Event) {
	h.mu.RLock()
	c := h.clients[to]
	h.mu.RUnlock()
	if c == nil {
		return
	}
	select {
	case c.out <- ev:
	case <-c.done:
	default:
		h.logger.WithFields(logrus.Fields{"player": to, "type": ev.Kind()}).Warn("outbox full, dropping event")
	}
}
