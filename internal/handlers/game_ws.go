// internal/handlers/game_ws.go
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/jason-s-yu/stakeroyale/internal/auth"
	"github.com/jason-s-yu/stakeroyale/internal/events"
	"github.com/jason-s-yu/stakeroyale/internal/middleware"
	"github.com/jason-s-yu/stakeroyale/internal/models"
	"github.com/jason-s-yu/stakeroyale/internal/session"
	"github.com/sirupsen/logrus"
)

// subprotocol every client must negotiate.
const subprotocol = "stake"

const (
	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
)

// WSHandler upgrades an authenticated player to the event stream. A player holds at most
// one connection; a newer one replaces the older.
func (s *Server) WSHandler(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{subprotocol},
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Warnf("websocket accept error: %v", err)
		return
	}
	defer c.Close(websocket.StatusInternalError, "handler finished")

	if c.Subprotocol() != subprotocol {
		c.Close(BadSubprotocolError, "client must speak the stake subprotocol")
		return
	}

	claims, err := s.authenticate(r)
	if err != nil {
		c.Close(InvalidAuthTokenError, "invalid auth token")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	cl := s.hub.Register(claims.PlayerID)
	middleware.LogWebSocketConnect(s.logger, r.RemoteAddr, claims.PlayerID)

	// resync a player reconnecting into a running match
	if sess, ok := s.sessions.ForParticipant(claims.PlayerID); ok {
		s.sessions.Heartbeat(claims.PlayerID)
		s.hub.Send(claims.PlayerID, sess.GameStartEvent())
	}

	go s.writePump(ctx, cancel, c, cl)
	readErr := s.readPump(ctx, c, claims)

	if s.hub.Unregister(cl) {
		s.sessions.Disconnect(claims.PlayerID)
	}
	middleware.LogWebSocketDisconnect(s.logger, r.RemoteAddr, claims.PlayerID, readErr)
	c.Close(websocket.StatusNormalClosure, "")
}

// writePump drains the client's outbox and keeps the connection alive with pings. It
// closes the socket when the client is replaced.
func (s *Server) writePump(ctx context.Context, cancel context.CancelFunc, c *websocket.Conn, cl *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case <-cl.done:
			c.Close(ReplacedError, "connection replaced")
			return
		case ev := <-cl.out:
			data, err := events.Encode(ev)
			if err != nil {
				s.logger.WithError(err).WithField("type", ev.Kind()).Warn("encode outbound event")
				continue
			}
			writeCtx, wcancel := context.WithTimeout(ctx, writeTimeout)
			err = c.Write(writeCtx, websocket.MessageText, data)
			wcancel()
			if err != nil {
				s.logger.Warnf("failed to write to websocket for player %v: %v", cl.playerID, err)
				return
			}
		case <-ticker.C:
			pingCtx, pcancel := context.WithTimeout(ctx, writeTimeout)
			err := c.Ping(pingCtx)
			pcancel()
			if err != nil {
				s.logger.Debugf("ping failed for player %v: %v", cl.playerID, err)
				return
			}
		}
	}
}

// readPump decodes inbound events until the connection closes. A normal close returns nil.
func (s *Server) readPump(ctx context.Context, c *websocket.Conn, claims auth.Claims) error {
	for {
		typ, msg, err := c.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if typ != websocket.MessageText {
			s.logger.Warnf("ignoring non-text message type %d from player %v", typ, claims.PlayerID)
			continue
		}

		ev, err := events.Decode(msg)
		if err != nil {
			s.hub.Send(claims.PlayerID, errorEvent(err))
			continue
		}
		if err := s.dispatch(ctx, claims, ev); err != nil {
			s.logger.WithFields(logrus.Fields{"player": claims.PlayerID, "type": ev.Kind()}).WithError(err).Debug("rejected client event")
			s.hub.Send(claims.PlayerID, errorEvent(err))
		}
	}
}

func (s *Server) dispatch(ctx context.Context, claims auth.Claims, ev events.Event) error {
	switch e := ev.(type) {
	case events.Join:
		p := models.Participant{ID: claims.PlayerID, DisplayName: claims.DisplayName, Wallet: claims.Wallet}
		var err error
		if e.LobbyID != uuid.Nil {
			p.Stake = e.Tier
			_, err = s.registry.Join(ctx, e.LobbyID, p)
		} else {
			_, err = s.registry.FindAndJoin(ctx, e.GameType, e.Tier, p)
		}
		return err
	case events.Leave:
		_, err := s.registry.Leave(ctx, e.LobbyID, claims.PlayerID)
		return err
	case events.StateUpdate:
		return s.sessions.UpdateState(e.MatchKey, claims.PlayerID, e)
	case events.PlayerDeath:
		return s.sessions.Terminal(e.MatchKey, claims.PlayerID, session.TerminalDeath, e.Score)
	case events.Coin:
		return s.sessions.Terminal(e.MatchKey, claims.PlayerID, session.TerminalCoin, e.Value)
	case events.MatchResult:
		return s.sessions.SubmitResult(e.MatchKey, claims.PlayerID, e.FinishOrder)
	case events.Heartbeat:
		s.sessions.Heartbeat(claims.PlayerID)
		return nil
	}
	return errors.New("event not accepted from clients")
}
