// internal/handlers/api_server.go
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/stakeroyale/internal/auth"
	"github.com/jason-s-yu/stakeroyale/internal/config"
	"github.com/jason-s-yu/stakeroyale/internal/database"
	"github.com/jason-s-yu/stakeroyale/internal/fairness"
	"github.com/jason-s-yu/stakeroyale/internal/lobby"
	"github.com/jason-s-yu/stakeroyale/internal/middleware"
	"github.com/jason-s-yu/stakeroyale/internal/models"
	"github.com/jason-s-yu/stakeroyale/internal/session"
	"github.com/jason-s-yu/stakeroyale/internal/settlement"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Server exposes the HTTP API and the websocket gateway.
type Server struct {
	cfg      *config.Config
	registry *lobby.Registry
	sessions *session.Manager
	store    database.Store
	issuer   *auth.Issuer
	hub      *Hub
	logger   logrus.FieldLogger
}

func NewServer(cfg *config.Config, registry *lobby.Registry, sessions *session.Manager, store database.Store, issuer *auth.Issuer, hub *Hub, logger logrus.FieldLogger) *Server {
	return &Server{
		cfg:      cfg,
		registry: registry,
		sessions: sessions,
		store:    store,
		issuer:   issuer,
		hub:      hub,
		logger:   logger,
	}
}

// Routes builds the mux with every endpoint behind the logging middleware.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ping", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("POST /player/session", s.CreateSessionHandler)
	mux.HandleFunc("POST /lobby/find", s.FindLobbyHandler)
	mux.HandleFunc("GET /lobby/list", s.ListLobbiesHandler)
	mux.HandleFunc("GET /match/{matchKey}", s.MatchHandler)
	mux.HandleFunc("POST /payments/confirm", s.ConfirmPaymentHandler)
	mux.HandleFunc("GET /fairness/verify", s.VerifyHandler)
	mux.HandleFunc("GET /ws", s.WSHandler)
	return middleware.LogMiddleware(s.logger)(mux)
}

func (s *Server) authenticate(r *http.Request) (auth.Claims, error) {
	token := tokenFromRequest(r)
	if token == "" {
		return auth.Claims{}, auth.ErrInvalidToken
	}
	return s.issuer.Authenticate(token)
}

type sessionRequest struct {
	DisplayName string `json:"displayName"`
	Wallet      string `json:"wallet"`
}

type sessionResponse struct {
	PlayerID    uuid.UUID `json:"playerId"`
	DisplayName string    `json:"displayName"`
	Wallet      string    `json:"wallet,omitempty"`
	Token       string    `json:"token"`
}

// CreateSessionHandler issues an anonymous player token. A caller that already holds a
// valid token keeps its player id, which is how a wallet gets attached later.
func (s *Server) CreateSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "malformed", "invalid session payload")
		return
	}

	claims, err := s.authenticate(r)
	if err != nil {
		claims = auth.Claims{PlayerID: uuid.New()}
	}
	if name := strings.TrimSpace(req.DisplayName); name != "" {
		claims.DisplayName = name
	}
	if claims.DisplayName == "" {
		claims.DisplayName = "Guest-" + claims.PlayerID.String()[:4]
	}
	if wallet := strings.TrimSpace(req.Wallet); wallet != "" {
		claims.Wallet = wallet
	}

	token, err := s.issuer.Create(claims)
	if err != nil {
		s.logger.WithError(err).Error("sign player token")
		writeError(w, http.StatusInternalServerError, "internal", "could not create session")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     authCookie,
		Value:    token,
		HttpOnly: true,
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, sessionResponse{
		PlayerID:    claims.PlayerID,
		DisplayName: claims.DisplayName,
		Wallet:      claims.Wallet,
		Token:       token,
	})
}

type findRequest struct {
	GameType string          `json:"gameType"`
	Tier     decimal.Decimal `json:"tier"`
}

// FindLobbyHandler returns the lobby a player should join for a game type and tier,
// creating one if none is waiting. Joining happens over the websocket.
func (s *Server) FindLobbyHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := s.authenticate(r); err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid token")
		return
	}
	var req findRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed", "invalid find payload")
		return
	}
	l, err := s.registry.FindOrCreate(r.Context(), req.GameType, req.Tier)
	if err != nil {
		code := errorCode(err)
		writeError(w, httpStatus(code), code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, l.Snapshot())
}

func (s *Server) ListLobbiesHandler(w http.ResponseWriter, r *http.Request) {
	gameType := r.URL.Query().Get("gameType")
	out := make([]models.LobbySnapshot, 0)
	for _, snap := range s.registry.List() {
		if gameType == "" || snap.GameType == gameType {
			out = append(out, snap)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type matchResponse struct {
	Session    *session.View            `json:"session,omitempty"`
	Settlement *models.SettlementRecord `json:"settlement,omitempty"`
}

// MatchHandler serves late reconnects and replays: the live view while the session is
// retained, and the settlement record whenever one exists.
func (s *Server) MatchHandler(w http.ResponseWriter, r *http.Request) {
	matchKey, err := uuid.Parse(r.PathValue("matchKey"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed", "invalid match key")
		return
	}
	var resp matchResponse
	if sess, ok := s.sessions.Get(matchKey); ok {
		v := sess.View()
		resp.Session = &v
	}
	if s.store != nil {
		rec, err := s.store.GetSettlement(r.Context(), settlement.MatchKey(matchKey))
		switch {
		case err == nil:
			resp.Settlement = rec
		case !errors.Is(err, database.ErrNotFound):
			s.logger.WithError(err).WithField("matchKey", matchKey).Error("load settlement")
		}
	}
	if resp.Session == nil && resp.Settlement == nil {
		writeError(w, http.StatusNotFound, "match_not_found", "match not found")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type paymentRequest struct {
	LobbyID uuid.UUID `json:"lobbyId"`
	Wallet  string    `json:"wallet"`
	Paid    bool      `json:"paid"`
	TxRef   string    `json:"txRef"`
}

// ConfirmPaymentHandler records an entry payment confirmation from the payment verifier.
func (s *Server) ConfirmPaymentHandler(w http.ResponseWriter, r *http.Request) {
	if !s.paymentCallerAllowed(r) {
		writeError(w, http.StatusForbidden, "forbidden", "payment webhook token required")
		return
	}
	var req paymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.LobbyID == uuid.Nil || req.Wallet == "" {
		writeError(w, http.StatusBadRequest, "malformed", "lobbyId and wallet are required")
		return
	}
	err := s.store.RecordPayment(r.Context(), models.PaymentConfirmation{
		LobbyID:   req.LobbyID,
		Wallet:    req.Wallet,
		Paid:      req.Paid,
		TxRef:     req.TxRef,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		s.logger.WithError(err).Error("record payment")
		writeError(w, http.StatusInternalServerError, "internal", "could not record payment")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"recorded": true})
}

// paymentCallerAllowed accepts the webhook token, or anyone in dev when no token is configured.
func (s *Server) paymentCallerAllowed(r *http.Request) bool {
	if s.cfg.PaymentWebhookToken == "" {
		return s.cfg.AppEnv == "dev"
	}
	return r.Header.Get("Authorization") == "Bearer "+s.cfg.PaymentWebhookToken
}

type verifyResponse struct {
	Valid  bool            `json:"valid"`
	Reveal fairness.Reveal `json:"reveal"`
}

// VerifyHandler checks a revealed room secret against its commitment and seed. With
// matchKey it verifies the reveal of a retained, finished match.
func (s *Server) VerifyHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var rev fairness.Reveal
	if mk := q.Get("matchKey"); mk != "" {
		matchKey, err := uuid.Parse(mk)
		if err != nil {
			writeError(w, http.StatusBadRequest, "malformed", "invalid match key")
			return
		}
		sess, ok := s.sessions.Get(matchKey)
		if !ok {
			writeError(w, http.StatusNotFound, "match_not_found", "match not retained")
			return
		}
		v := sess.View()
		if v.End == nil || v.End.Reveal == nil {
			writeError(w, http.StatusConflict, "match_running", "seed is revealed when the match ends")
			return
		}
		rev = *v.End.Reveal
	} else {
		ts, err := strconv.ParseInt(q.Get("timestamp"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "malformed", "timestamp must be epoch millis")
			return
		}
		rev = fairness.Reveal{
			Commitment: q.Get("commitment"),
			RoomSecret: q.Get("roomSecret"),
			RoomID:     q.Get("roomId"),
			Timestamp:  ts,
			ClientSeed: q.Get("clientSeed"),
			Seed:       q.Get("seed"),
		}
	}
	writeJSON(w, http.StatusOK, verifyResponse{Valid: fairness.VerifyReveal(rev), Reveal: rev})
}
