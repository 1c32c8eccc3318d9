// internal/lobby/registry.go
package lobby

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jason-s-yu/stakeroyale/internal/botledger"
	"github.com/jason-s-yu/stakeroyale/internal/config"
	"github.com/jason-s-yu/stakeroyale/internal/events"
	"github.com/jason-s-yu/stakeroyale/internal/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// maxFindAttempts bounds how many lobbies FindAndJoin tries before giving up.
const maxFindAttempts = 5

// FundsChecker reports whether a wallet can cover an entry stake.
type FundsChecker interface {
	HasFunds(ctx context.Context, wallet string, amount decimal.Decimal) (bool, error)
}

// Registry tracks every live lobby and enforces one seat per wallet across all of them.
// It never holds its own lock while waiting on a lobby actor.
type Registry struct {
	mu      sync.Mutex
	lobbies map[uuid.UUID]*Lobby
	seats   map[string]uuid.UUID // seat key -> lobby id

	cfg         *config.Config
	ledger      *botledger.Ledger
	broadcaster events.Broadcaster
	logger      logrus.FieldLogger

	// Payments gates hand-off on confirmed entry payments when PAYMENT_GATED is set.
	Payments PaymentChecker
	// Funds, when set, is consulted before a real player is seated.
	Funds FundsChecker

	OnHandOff   func(models.LobbySnapshot) (uuid.UUID, error)
	OnCancelled func(snap models.LobbySnapshot, reason string)
	OnLeft      func(snap models.LobbySnapshot, p models.Participant)
}

// NewRegistry initializes an empty registry. Callbacks and collaborators must be set before the first join.
func NewRegistry(cfg *config.Config, ledger *botledger.Ledger, b events.Broadcaster, logger logrus.FieldLogger) *Registry {
	return &Registry{
		lobbies:     make(map[uuid.UUID]*Lobby),
		seats:       make(map[string]uuid.UUID),
		cfg:         cfg,
		ledger:      ledger,
		broadcaster: b,
		logger:      logger.WithField("component", "registry"),
	}
}

// seatKey identifies a player across lobbies: by wallet when known, otherwise by participant id.
func seatKey(p models.Participant) string {
	if p.Wallet != "" {
		return "wallet:" + p.Wallet
	}
	return "player:" + p.ID.String()
}

// FindOrCreate returns the fullest waiting lobby for the game type and tier, oldest first on ties,
// creating a new one when none exists.
func (r *Registry) FindOrCreate(ctx context.Context, gameType string, tier decimal.Decimal) (*Lobby, error) {
	return r.findOrCreate(gameType, tier, nil)
}

func (r *Registry) findOrCreate(gameType string, tier decimal.Decimal, exclude map[uuid.UUID]bool) (*Lobby, error) {
	gt, ok := r.cfg.GameTypes[gameType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGameType, gameType)
	}
	if !r.cfg.IsTier(tier) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTier, tier)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var best *Lobby
	var bestSnap models.LobbySnapshot
	for id, l := range r.lobbies {
		if exclude[id] || l.Settings.GameType.Name != gameType || !l.Settings.Tier.Equal(tier) {
			continue
		}
		snap := l.Snapshot()
		if snap.Status != models.LobbyWaiting || snap.Total() >= snap.MaxPlayers {
			continue
		}
		if best == nil || snap.Total() > bestSnap.Total() ||
			(snap.Total() == bestSnap.Total() && snap.CreatedAt.Before(bestSnap.CreatedAt)) {
			best, bestSnap = l, snap
		}
	}
	if best != nil {
		return best, nil
	}
	return r.createUnsafe(gt, tier), nil
}

func (r *Registry) createUnsafe(gt models.GameType, tier decimal.Decimal) *Lobby {
	l := New(r.settings(gt, tier), r.ledger, r.Payments, r.broadcaster, r.logger)
	l.OnHandOff = func(snap models.LobbySnapshot) (uuid.UUID, error) {
		if r.OnHandOff == nil {
			return uuid.Nil, errors.New("no match starter configured")
		}
		return r.OnHandOff(snap)
	}
	l.OnCancelled = func(snap models.LobbySnapshot, reason string) {
		if r.OnCancelled != nil {
			r.OnCancelled(snap, reason)
		}
	}
	l.OnLeft = func(snap models.LobbySnapshot, p models.Participant) {
		if r.OnLeft != nil {
			r.OnLeft(snap, p)
		}
	}
	l.OnClosed = r.remove

	r.lobbies[l.ID] = l
	l.Start()
	r.logger.WithFields(logrus.Fields{"lobby": l.ID, "gameType": gt.Name, "tier": tier}).Info("created lobby")
	return l
}

func (r *Registry) settings(gt models.GameType, tier decimal.Decimal) Settings {
	return Settings{
		GameType:         gt,
		Tier:             tier,
		BotEligible:      r.cfg.BotEligible(tier),
		FillTimeout:      r.cfg.FillTimeout,
		BotFillDelay:     r.cfg.BotFillDelay,
		AutoStartFull:    r.cfg.AutoStartFull,
		AutoStartPartial: r.cfg.AutoStartPartial,
		PaymentGated:     r.cfg.PaymentGated,
		PaymentRecheck:   r.cfg.PaymentRecheck,
		PaymentAttempts:  r.cfg.PaymentAttempts,
	}
}

// Join seats p in the given lobby. A non-zero p.Stake must equal the lobby's tier. The
// player's balance is checked before anything is reserved.
func (r *Registry) Join(ctx context.Context, lobbyID uuid.UUID, p models.Participant) (Result, error) {
	l, ok := r.Get(lobbyID)
	if !ok {
		return Result{}, ErrLobbyNotFound
	}
	if !p.Stake.IsZero() && !p.Stake.Equal(l.Settings.Tier) {
		return Result{Snapshot: l.Snapshot()}, fmt.Errorf("%w: lobby takes %s, got %s", ErrInvalidTier, l.Settings.Tier, p.Stake)
	}
	if err := r.checkFunds(ctx, p, l.Settings.Tier); err != nil {
		return Result{Snapshot: l.Snapshot()}, err
	}

	key := seatKey(p)
	r.mu.Lock()
	if held, taken := r.seats[key]; taken {
		r.mu.Unlock()
		if held == lobbyID {
			return Result{Snapshot: l.Snapshot()}, ErrAlreadyJoined
		}
		return Result{Snapshot: l.Snapshot()}, ErrDuplicateWallet
	}
	r.seats[key] = lobbyID
	r.mu.Unlock()

	res := l.Join(p)
	if res.Err != nil {
		r.release(key, lobbyID)
		return res, res.Err
	}
	return res, nil
}

func (r *Registry) checkFunds(ctx context.Context, p models.Participant, tier decimal.Decimal) error {
	if r.Funds == nil || p.IsBot || p.Wallet == "" {
		return nil
	}
	ok, err := r.Funds.HasFunds(ctx, p.Wallet, tier)
	if err != nil {
		return fmt.Errorf("balance lookup for %s: %w", p.Wallet, err)
	}
	if !ok {
		return ErrInsufficientFunds
	}
	return nil
}

// FindAndJoin finds a lobby and joins it, moving on to another lobby when it fills or starts first.
func (r *Registry) FindAndJoin(ctx context.Context, gameType string, tier decimal.Decimal, p models.Participant) (Result, error) {
	exclude := make(map[uuid.UUID]bool)
	var lastErr error
	for attempt := 0; attempt < maxFindAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		l, err := r.findOrCreate(gameType, tier, exclude)
		if err != nil {
			return Result{}, err
		}
		res, err := r.Join(ctx, l.ID, p)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, ErrLobbyFull) && !errors.Is(err, ErrNotAccepting) &&
			!errors.Is(err, ErrLobbyClosed) && !errors.Is(err, ErrLobbyNotFound) {
			return res, err
		}
		exclude[l.ID] = true
		lastErr = err
	}
	return Result{}, fmt.Errorf("no lobby after %d attempts: %w", maxFindAttempts, lastErr)
}

// Leave removes a participant from a waiting lobby and frees their seat.
func (r *Registry) Leave(ctx context.Context, lobbyID, participantID uuid.UUID) (Result, error) {
	l, ok := r.Get(lobbyID)
	if !ok {
		return Result{}, ErrLobbyNotFound
	}
	res := l.Leave(participantID)
	if res.Err != nil {
		return res, res.Err
	}
	if res.Removed != nil {
		r.release(seatKey(*res.Removed), lobbyID)
	}
	return res, nil
}

// Get retrieves a live lobby by id.
func (r *Registry) Get(id uuid.UUID) (*Lobby, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.lobbies[id]
	return l, ok
}

// Snapshot returns the current state of a live lobby.
func (r *Registry) Snapshot(id uuid.UUID) (models.LobbySnapshot, error) {
	l, ok := r.Get(id)
	if !ok {
		return models.LobbySnapshot{}, ErrLobbyNotFound
	}
	return l.Snapshot(), nil
}

// List returns snapshots of every live lobby, oldest first.
func (r *Registry) List() []models.LobbySnapshot {
	r.mu.Lock()
	out := make([]models.LobbySnapshot, 0, len(r.lobbies))
	for _, l := range r.lobbies {
		out = append(out, l.Snapshot())
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Complete marks a lobby's match finished.
func (r *Registry) Complete(id uuid.UUID) error {
	l, ok := r.Get(id)
	if !ok {
		return ErrLobbyNotFound
	}
	l.Complete()
	return nil
}

// Close cancels every lobby that has not started. Lobbies with a match in progress are left to finish.
func (r *Registry) Close() {
	r.mu.Lock()
	ls := make([]*Lobby, 0, len(r.lobbies))
	for _, l := range r.lobbies {
		ls = append(ls, l)
	}
	r.mu.Unlock()

	for _, l := range ls {
		l.Close(ReasonShutdown)
	}
}

// remove drops a terminal lobby and frees every seat it held. Runs on the lobby's actor goroutine.
func (r *Registry) remove(snap models.LobbySnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.lobbies, snap.ID)
	for key, id := range r.seats {
		if id == snap.ID {
			delete(r.seats, key)
		}
	}
	r.logger.WithFields(logrus.Fields{"lobby": snap.ID, "status": snap.Status}).Info("removed lobby")
}

func (r *Registry) release(key string, lobbyID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seats[key] == lobbyID {
		delete(r.seats, key)
	}
}
