package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/stakeroyale/internal/botledger"
	"github.com/jason-s-yu/stakeroyale/internal/config"
	"github.com/jason-s-yu/stakeroyale/internal/database"
	"github.com/jason-s-yu/stakeroyale/internal/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// LedgerRecipient is the recipient recorded for lines credited to the bot ledger.
const LedgerRecipient = "bot-ledger"

var (
	// ErrAlreadySettled is returned when a record with the same key exists or is being written.
	ErrAlreadySettled = errors.New("already settled")
	ErrNoWallet       = errors.New("no wallet")
)

// Transferer moves funds to an external wallet. Implementations sign and submit on-chain.
type Transferer interface {
	Transfer(ctx context.Context, to string, amount decimal.Decimal, memo string) (txRef string, err error)
}

// LogTransferer pretends every transfer succeeds. Development only.
type LogTransferer struct {
	Logger logrus.FieldLogger
}

func (t LogTransferer) Transfer(_ context.Context, to string, amount decimal.Decimal, memo string) (string, error) {
	ref := "log-" + uuid.NewString()
	if t.Logger != nil {
		t.Logger.WithFields(logrus.Fields{"to": to, "amount": amount.String(), "memo": memo, "txRef": ref}).Info("transfer")
	}
	return ref, nil
}

// Store is the persistence the engine needs.
type Store interface {
	CreateSettlement(ctx context.Context, rec *models.SettlementRecord) error
	GetSettlement(ctx context.Context, key string) (*models.SettlementRecord, error)
	UpdateTransfer(ctx context.Context, t models.Transfer) error
	ListFailedTransfers(ctx context.Context, limit int) ([]models.Transfer, error)
}

// Config holds the economic settings.
type Config struct {
	Rake        decimal.Decimal
	Top3Split   [3]decimal.Decimal
	HouseWallet string
}

func ConfigFrom(cfg *config.Config) Config {
	return Config{Rake: cfg.Rake, Top3Split: cfg.Top3Split, HouseWallet: cfg.HouseWallet}
}

// Request describes a finished match.
type Request struct {
	MatchKey     uuid.UUID
	LobbyID      uuid.UUID
	GameType     models.GameType
	Tier         decimal.Decimal
	Participants []models.Participant
	Order        []uuid.UUID // best first
	Seed         string
}

// RefundRequest returns stakes for a lobby that never started, or for one
// participant who left it.
type RefundRequest struct {
	LobbyID      uuid.UUID
	Participants []models.Participant
	Reason       string
	// Departure marks a single participant leaving a lobby that stays open.
	Departure bool
}

func (r RefundRequest) key() string {
	if r.Departure && len(r.Participants) == 1 {
		p := r.Participants[0]
		return fmt.Sprintf("refund:%s:%s:%d", r.LobbyID, p.ID, p.JoinedAt.UnixNano())
	}
	return "refund:" + r.LobbyID.String()
}

// MatchKey is the idempotency key of a match settlement.
func MatchKey(matchKey uuid.UUID) string {
	return "match:" + matchKey.String()
}

// Engine settles matches and refunds. Each key is written at most once.
type Engine struct {
	cfg        Config
	store      Store
	transferer Transferer
	ledger     *botledger.Ledger
	bias       BiasPolicy
	logger     logrus.FieldLogger

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewEngine(cfg Config, store Store, transferer Transferer, ledger *botledger.Ledger, bias BiasPolicy, logger logrus.FieldLogger) *Engine {
	if bias == nil {
		bias = NoBias{}
	}
	return &Engine{
		cfg:        cfg,
		store:      store,
		transferer: transferer,
		ledger:     ledger,
		bias:       bias,
		logger:     logger.WithField("component", "settlement"),
		inflight:   make(map[string]struct{}),
	}
}

func (e *Engine) claim(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inflight[key]; busy {
		return false
	}
	e.inflight[key] = struct{}{}
	return true
}

func (e *Engine) release(key string) {
	e.mu.Lock()
	delete(e.inflight, key)
	e.mu.Unlock()
}

// create claims key and writes rec. A duplicate returns the stored record with ErrAlreadySettled.
func (e *Engine) create(ctx context.Context, rec *models.SettlementRecord) (*models.SettlementRecord, error) {
	err := e.store.CreateSettlement(ctx, rec)
	if errors.Is(err, database.ErrDuplicate) {
		existing, getErr := e.store.GetSettlement(ctx, rec.Key)
		if getErr != nil {
			return nil, ErrAlreadySettled
		}
		return existing, ErrAlreadySettled
	}
	if err != nil {
		return nil, fmt.Errorf("create settlement %s: %w", rec.Key, err)
	}
	return rec, nil
}

// Settle divides the pot and moves the funds. Rake goes out first and is never held
// back by a failed payout. Bot shares go back to the ledger instead of on-chain.
func (e *Engine) Settle(ctx context.Context, req Request) (*models.SettlementRecord, error) {
	key := MatchKey(req.MatchKey)
	if !e.claim(key) {
		return nil, ErrAlreadySettled
	}
	defer e.release(key)

	log := e.logger.WithFields(logrus.Fields{"matchKey": req.MatchKey, "lobbyId": req.LobbyID})

	bots := make(map[uuid.UUID]bool, len(req.Participants))
	byID := make(map[uuid.UUID]models.Participant, len(req.Participants))
	pot := decimal.Zero
	for _, p := range req.Participants {
		bots[p.ID] = p.IsBot
		byID[p.ID] = p
		stake := p.Stake
		if stake.IsZero() {
			stake = req.Tier
		}
		pot = pot.Add(stake)
	}

	order := e.bias.Apply(req.Order, bots, req.Seed)
	div, err := ComputePayouts(pot, e.cfg.Rake, req.GameType.Payout, e.cfg.Top3Split, order)
	if err != nil {
		return nil, fmt.Errorf("compute payouts: %w", err)
	}

	now := time.Now().UTC()
	line := func(kind models.TransferKind, participant uuid.UUID, recipient string, amount decimal.Decimal, rank int) models.Transfer {
		return models.Transfer{
			ID:            uuid.New(),
			SettlementKey: key,
			Kind:          kind,
			Participant:   participant,
			Recipient:     recipient,
			Amount:        amount,
			Rank:          rank,
			Status:        models.TransferPending,
			UpdatedAt:     now,
		}
	}
	rec := &models.SettlementRecord{
		Key:       key,
		MatchKey:  req.MatchKey,
		LobbyID:   req.LobbyID,
		Pot:       pot,
		Rake:      div.Rake,
		CreatedAt: now,
		Transfers: []models.Transfer{
			line(models.KindRake, uuid.Nil, e.cfg.HouseWallet, div.House, 0),
			line(models.KindBotTopUp, uuid.Nil, LedgerRecipient, decimal.Zero, 0),
		},
	}
	for _, s := range div.Shares {
		if !s.Amount.IsPositive() {
			continue
		}
		p := byID[s.Participant]
		if p.IsBot {
			rec.Transfers = append(rec.Transfers, line(models.KindBotReturn, p.ID, LedgerRecipient, s.Amount, s.Rank))
		} else {
			rec.Transfers = append(rec.Transfers, line(models.KindPayout, p.ID, p.Wallet, s.Amount, s.Rank))
		}
	}

	stored, err := e.create(ctx, rec)
	if err != nil {
		if errors.Is(err, ErrAlreadySettled) {
			log.Warn("duplicate settlement ignored")
		}
		return stored, err
	}

	// house lines: top up the ledger out of the house cut, then send the rest
	rakeLine, topUpLine := &rec.Transfers[0], &rec.Transfers[1]
	used := e.ledger.TopUp(div.House)
	topUpLine.Amount = used
	e.markSent(ctx, topUpLine, "ledger")
	rakeLine.Amount = div.House.Sub(used)
	if used.IsPositive() {
		log.WithFields(logrus.Fields{"kind": models.KindBotTopUp, "amount": used.String()}).Info("bot ledger topped up from rake")
	}
	if rakeLine.Amount.IsZero() {
		e.markSent(ctx, rakeLine, "")
	} else {
		e.send(ctx, rakeLine, "rake "+req.MatchKey.String())
	}

	for i := 2; i < len(rec.Transfers); i++ {
		t := &rec.Transfers[i]
		switch t.Kind {
		case models.KindBotReturn:
			if err := e.ledger.Credit(t.Amount); err != nil {
				e.markFailed(ctx, t, err)
				continue
			}
			log.WithFields(logrus.Fields{"kind": models.KindBotReturn, "rank": t.Rank, "amount": t.Amount.String()}).Info("bot winnings returned to ledger")
			e.markSent(ctx, t, "ledger")
		case models.KindPayout:
			e.send(ctx, t, fmt.Sprintf("payout %s rank %d", req.MatchKey, t.Rank))
		}
	}

	log.WithFields(logrus.Fields{"pot": pot.String(), "rake": div.Rake.String(), "lines": len(rec.Transfers)}).Info("match settled")
	return rec, nil
}

// Refund returns each real participant's stake.
func (e *Engine) Refund(ctx context.Context, req RefundRequest) (*models.SettlementRecord, error) {
	key := req.key()
	if !e.claim(key) {
		return nil, ErrAlreadySettled
	}
	defer e.release(key)

	now := time.Now().UTC()
	rec := &models.SettlementRecord{Key: key, LobbyID: req.LobbyID, Pot: decimal.Zero, Rake: decimal.Zero, CreatedAt: now}
	for _, p := range models.RealParticipants(req.Participants) {
		rec.Pot = rec.Pot.Add(p.Stake)
		rec.Transfers = append(rec.Transfers, models.Transfer{
			ID:            uuid.New(),
			SettlementKey: key,
			Kind:          models.KindRefund,
			Participant:   p.ID,
			Recipient:     p.Wallet,
			Amount:        p.Stake,
			Status:        models.TransferPending,
			UpdatedAt:     now,
		})
	}
	if len(rec.Transfers) == 0 {
		return rec, nil
	}

	stored, err := e.create(ctx, rec)
	if err != nil {
		return stored, err
	}
	for i := range rec.Transfers {
		e.send(ctx, &rec.Transfers[i], "refund "+req.Reason)
	}
	e.logger.WithFields(logrus.Fields{"lobbyId": req.LobbyID, "reason": req.Reason, "count": len(rec.Transfers)}).Info("stakes refunded")
	return rec, nil
}

// RetryFailed re-attempts failed on-chain transfers and returns how many went through.
func (e *Engine) RetryFailed(ctx context.Context, limit int) (int, error) {
	failed, err := e.store.ListFailedTransfers(ctx, limit)
	if err != nil {
		return 0, err
	}
	ok := 0
	for i := range failed {
		t := &failed[i]
		switch t.Kind {
		case models.KindPayout, models.KindRake, models.KindRefund:
		default:
			continue
		}
		if e.send(ctx, t, "retry "+t.SettlementKey) {
			ok++
		}
	}
	return ok, nil
}

// send attempts one transfer and records the outcome. It reports success.
func (e *Engine) send(ctx context.Context, t *models.Transfer, memo string) bool {
	t.Attempts++
	if t.Recipient == "" {
		e.markFailed(ctx, t, ErrNoWallet)
		return false
	}
	ref, err := e.transferer.Transfer(ctx, t.Recipient, t.Amount, memo)
	if err != nil {
		e.markFailed(ctx, t, err)
		return false
	}
	e.markSent(ctx, t, ref)
	return true
}

func (e *Engine) markSent(ctx context.Context, t *models.Transfer, ref string) {
	t.Status = models.TransferSent
	t.TxRef = ref
	t.Reason = ""
	t.UpdatedAt = time.Now().UTC()
	e.persist(ctx, t)
}

func (e *Engine) markFailed(ctx context.Context, t *models.Transfer, cause error) {
	t.Status = models.TransferFailed
	t.Reason = cause.Error()
	t.UpdatedAt = time.Now().UTC()
	e.logger.WithFields(logrus.Fields{
		"settlement": t.SettlementKey,
		"kind":       t.Kind,
		"recipient":  t.Recipient,
		"amount":     t.Amount.String(),
		"attempts":   t.Attempts,
	}).WithError(cause).Error("transfer failed")
	e.persist(ctx, t)
}

func (e *Engine) persist(ctx context.Context, t *models.Transfer) {
	if err := e.store.UpdateTransfer(ctx, *t); err != nil {
		e.logger.WithError(err).WithField("transfer", t.ID).Error("persist transfer status")
	}
}
