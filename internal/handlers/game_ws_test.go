package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/jason-s-yu/stakeroyale/internal/events"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (e *testEnv) dial(t *testing.T, ctx context.Context, token string, protocols ...string) *websocket.Conn {
	t.Helper()
	if protocols == nil {
		protocols = []string{subprotocol}
	}
	u := "ws" + strings.TrimPrefix(e.http.URL, "http") + "/ws"
	opts := &websocket.DialOptions{Subprotocols: protocols}
	if token != "" {
		opts.HTTPHeader = http.Header{"Authorization": {"Bearer " + token}}
	}
	c, _, err := websocket.Dial(ctx, u, opts)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close(websocket.StatusNormalClosure, "") })
	return c
}

// readUntil returns the first message of the given type.
func readUntil(t *testing.T, ctx context.Context, c *websocket.Conn, kind events.Kind) map[string]any {
	t.Helper()
	for {
		_, data, err := c.Read(ctx)
		require.NoError(t, err)
		var msg map[string]any
		require.NoError(t, json.Unmarshal(data, &msg))
		if msg["type"] == string(kind) {
			return msg
		}
	}
}

func TestWSJoinBroadcastsLobby(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tok, id := env.token(t, "ada")
	c := env.dial(t, ctx, tok)
	require.Eventually(t, func() bool { return env.server.hub.Connected(id) }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte(`{"type":"join","gameType":"flappy_royale","tier":"0.5"}`)))
	msg := readUntil(t, ctx, c, events.KindLobbyUpdated)
	lobby, ok := msg["lobby"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "flappy_royale", lobby["gameType"])
	parts, ok := lobby["participants"].([]any)
	require.True(t, ok)
	require.Len(t, parts, 1)
	assert.Equal(t, id.String(), parts[0].(map[string]any)["id"])
	assert.Equal(t, "wallet-ada", parts[0].(map[string]any)["wallet"])

	// a second join for the same wallet is refused
	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte(`{"type":"join","gameType":"flappy_royale","tier":"0.5"}`)))
	errMsg := readUntil(t, ctx, c, events.KindError)
	assert.Equal(t, "already_joined", errMsg["code"])
}

func TestWSJoinByLobbyChecksTier(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	l, err := env.server.registry.FindOrCreate(ctx, "flappy_royale", decimal.RequireFromString("0.1"))
	require.NoError(t, err)

	tok, id := env.token(t, "ada")
	c := env.dial(t, ctx, tok)
	require.Eventually(t, func() bool { return env.server.hub.Connected(id) }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte(`{"type":"join","lobbyId":"`+l.ID.String()+`","tier":"0.5"}`)))
	assert.Equal(t, "invalid_tier", readUntil(t, ctx, c, events.KindError)["code"])
	assert.Equal(t, 0, l.Snapshot().Total())

	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte(`{"type":"join","lobbyId":"`+l.ID.String()+`","tier":"0.1"}`)))
	msg := readUntil(t, ctx, c, events.KindLobbyUpdated)
	lobby, ok := msg["lobby"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, l.ID.String(), lobby["id"])
}

func TestWSRejectsBadMessages(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tok, _ := env.token(t, "ada")
	c := env.dial(t, ctx, tok)

	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte(`not json`)))
	assert.Equal(t, "malformed", readUntil(t, ctx, c, events.KindError)["code"])

	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte(`{"type":"game_start"}`)))
	assert.Equal(t, "unknown_type", readUntil(t, ctx, c, events.KindError)["code"])

	mk := uuid.NewString()
	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte(`{"type":"player_death","matchKey":"`+mk+`"}`)))
	assert.Equal(t, "match_not_found", readUntil(t, ctx, c, events.KindError)["code"])
}

func TestWSRequiresTokenAndSubprotocol(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := env.dial(t, ctx, "")
	_, _, err := c.Read(ctx)
	assert.Equal(t, websocket.StatusCode(InvalidAuthTokenError), websocket.CloseStatus(err))

	tok, _ := env.token(t, "ada")
	c = env.dial(t, ctx, tok, "lobby")
	_, _, err = c.Read(ctx)
	assert.Equal(t, websocket.StatusCode(BadSubprotocolError), websocket.CloseStatus(err))
}

func TestWSNewConnectionReplacesOld(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tok, id := env.token(t, "ada")
	first := env.dial(t, ctx, tok)
	require.Eventually(t, func() bool { return env.server.hub.Connected(id) }, time.Second, 5*time.Millisecond)
	second := env.dial(t, ctx, tok)

	_, _, err := first.Read(ctx)
	assert.Equal(t, websocket.StatusCode(ReplacedError), websocket.CloseStatus(err))

	// the replacement still receives events
	env.server.hub.Send(id, events.Error{Code: "ping", Message: "hello"})
	assert.Equal(t, "ping", readUntil(t, ctx, second, events.KindError)["code"])
	assert.True(t, env.server.hub.Connected(id))
}

func TestHubDropsWhenOutboxFull(t *testing.T) {
	hub := NewHub(testLogger())
	id := uuid.New()
	c := hub.Register(id)
	for i := 0; i < outboxSize+10; i++ {
		hub.Send(id, events.Error{Code: "x"})
	}
	assert.Len(t, c.out, outboxSize)

	// sends to unknown players are ignored
	hub.Send(uuid.New(), events.Error{Code: "x"})

	replacement := hub.Register(id)
	select {
	case <-c.done:
	default:
		t.Fatal("replaced client not closed")
	}
	assert.False(t, hub.Unregister(c))
	assert.True(t, hub.Connected(id))
	assert.True(t, hub.Unregister(replacement))
	assert.False(t, hub.Connected(id))
}
