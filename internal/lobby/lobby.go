// internal/lobby/lobby.go
package lobby

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/stakeroyale/internal/botledger"
	"github.com/jason-s-yu/stakeroyale/internal/events"
	"github.com/jason-s-yu/stakeroyale/internal/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Settings are the fixed rules a lobby is created with.
type Settings struct {
	GameType    models.GameType
	Tier        decimal.Decimal
	BotEligible bool

	FillTimeout      time.Duration // from creation
	BotFillDelay     time.Duration // from creation, shorter than FillTimeout
	AutoStartFull    time.Duration // from ready, lobby at max players
	AutoStartPartial time.Duration // from ready, lobby below max players

	PaymentGated    bool
	PaymentRecheck  time.Duration
	PaymentAttempts int
}

// PaymentChecker reports which wallets have a confirmed entry payment for a lobby.
type PaymentChecker interface {
	PaymentConfirmations(ctx context.Context, lobbyID uuid.UUID) (map[string]bool, error)
}

// Cancellation reasons.
const (
	ReasonFillTimeout    = "fill_timeout"
	ReasonNoPlayers      = "no_players"
	ReasonPaymentMissing = "payment_missing"
	ReasonHandOffFailed  = "handoff_failed"
	ReasonInternal       = "internal_error"
	ReasonShutdown       = "shutdown"
)

type timerKind int

const (
	timerFill timerKind = iota
	timerBotFill
	timerAutoStart
	timerPayment
	numTimers
)

func (k timerKind) String() string {
	switch k {
	case timerFill:
		return "fill_timeout"
	case timerBotFill:
		return "bot_fill"
	case timerAutoStart:
		return "auto_start"
	case timerPayment:
		return "payment_recheck"
	}
	return "unknown"
}

// EventType identifies a message in a lobby's inbox.
type EventType int

const (
	EventJoin EventType = iota
	EventLeave
	EventTimer
	EventPayments
	EventComplete
	EventClose
)

// Event is a message for the lobby actor. Timers post EventTimer rather than touching state.
type Event struct {
	Type        EventType
	Participant models.Participant
	ID          uuid.UUID
	Timer       timerKind
	Gen         uint64
	Paid        map[string]bool
	PayErr      error
	Reason      string
	Response    chan Result
}

// Result answers an Event.
type Result struct {
	Snapshot models.LobbySnapshot
	Replaced *models.Participant
	Removed  *models.Participant
	Err      error
}

// Lobby is a single-writer state machine. Only the run goroutine touches the
// fields below the inbox; everything else reads the published snapshot.
type Lobby struct {
	ID        uuid.UUID
	Settings  Settings
	CreatedAt time.Time

	ledger      *botledger.Ledger
	payments    PaymentChecker
	broadcaster events.Broadcaster
	logger      logrus.FieldLogger

	// OnHandOff starts the match and returns its key. Called from the actor goroutine.
	OnHandOff func(models.LobbySnapshot) (uuid.UUID, error)
	// OnCancelled receives the final snapshot so refunds can be issued.
	OnCancelled func(snap models.LobbySnapshot, reason string)
	// OnLeft receives a participant that left a waiting lobby and is owed a refund.
	OnLeft func(snap models.LobbySnapshot, p models.Participant)
	// OnClosed fires once after the lobby reaches a terminal state.
	OnClosed func(snap models.LobbySnapshot)

	inbox chan Event
	done  chan struct{}

	snapMu sync.RWMutex
	snap   models.LobbySnapshot

	status           models.LobbyStatus
	participants     []models.Participant
	readyAt          time.Time
	autoStartAt      time.Time
	matchKey         uuid.UUID
	timers           [numTimers]*time.Timer
	timerGen         [numTimers]uint64
	botFillAttempted bool
	handingOff       bool
	paymentAttempts  int
}

// New builds a lobby. Call Start to launch its actor.
func New(settings Settings, ledger *botledger.Ledger, payments PaymentChecker, b events.Broadcaster, logger logrus.FieldLogger) *Lobby {
	id := uuid.New()
	l := &Lobby{
		ID:          id,
		Settings:    settings,
		CreatedAt:   time.Now(),
		ledger:      ledger,
		payments:    payments,
		broadcaster: b,
		logger:      logger.WithField("lobby", id),
		inbox:       make(chan Event, 64),
		done:        make(chan struct{}),
		status:      models.LobbyWaiting,
	}
	l.publishUnsafe()
	return l
}

// Start arms the creation timers and launches the actor.
func (l *Lobby) Start() {
	l.arm(timerFill, l.Settings.FillTimeout)
	if l.Settings.BotEligible {
		l.arm(timerBotFill, l.Settings.BotFillDelay)
	}
	go l.run()
}

// Done is closed once the actor has exited.
func (l *Lobby) Done() <-chan struct{} {
	return l.done
}

// Snapshot returns the last published state without a round trip through the actor.
func (l *Lobby) Snapshot() models.LobbySnapshot {
	l.snapMu.RLock()
	defer l.snapMu.RUnlock()
	return l.snap
}

// Join seats a participant, replacing a bot when one is present.
func (l *Lobby) Join(p models.Participant) Result {
	return l.submit(Event{Type: EventJoin, Participant: p})
}

// Leave removes a participant from a waiting lobby.
func (l *Lobby) Leave(id uuid.UUID) Result {
	return l.submit(Event{Type: EventLeave, ID: id})
}

// Complete marks the lobby's match as finished. It does not wait for the actor.
func (l *Lobby) Complete() {
	go l.post(Event{Type: EventComplete})
}

// Close cancels a lobby that has not started (refunding everyone) and waits for the actor to exit.
// A lobby whose match is in progress is left alone.
func (l *Lobby) Close(reason string) {
	if res := l.submit(Event{Type: EventClose, Reason: reason}); res.Err == nil {
		<-l.done
	}
}

func (l *Lobby) submit(ev Event) Result {
	ev.Response = make(chan Result, 1)
	select {
	case l.inbox <- ev:
	case <-l.done:
		return Result{Snapshot: l.Snapshot(), Err: ErrLobbyClosed}
	}
	select {
	case r := <-ev.Response:
		return r
	case <-l.done:
		// the actor replies before exiting, so a response may already be buffered
		select {
		case r := <-ev.Response:
			return r
		default:
			return Result{Snapshot: l.Snapshot(), Err: ErrLobbyClosed}
		}
	}
}

func (l *Lobby) post(ev Event) {
	select {
	case l.inbox <- ev:
	case <-l.done:
	}
}

func (l *Lobby) run() {
	defer close(l.done)
	defer func() {
		if r := recover(); r != nil {
			l.logger.Errorf("lobby actor panic: %v", r)
			l.cancelUnsafe(ReasonInternal)
		}
	}()

	for ev := range l.inbox {
		res := l.handleEvent(ev)
		if ev.Response != nil {
			ev.Response <- res
		}
		if l.status.Terminal() {
			return
		}
	}
}

func (l *Lobby) handleEvent(ev Event) Result {
	switch ev.Type {
	case EventJoin:
		return l.joinUnsafe(ev.Participant)
	case EventLeave:
		return l.leaveUnsafe(ev.ID)
	case EventTimer:
		l.handleTimerUnsafe(ev.Timer, ev.Gen)
	case EventPayments:
		l.handlePaymentsUnsafe(ev.Paid, ev.PayErr)
	case EventComplete:
		l.completeUnsafe()
	case EventClose:
		if !l.status.Terminal() && l.status != models.LobbyInProgress {
			l.cancelUnsafe(ev.Reason)
		} else if l.status == models.LobbyInProgress {
			return Result{Snapshot: l.snap, Err: fmt.Errorf("%w: match in progress", ErrNotAccepting)}
		}
	default:
		return Result{Snapshot: l.snap, Err: fmt.Errorf("unknown lobby event %d", ev.Type)}
	}
	return Result{Snapshot: l.snap}
}

func (l *Lobby) joinUnsafe(p models.Participant) Result {
	if !l.status.Accepting() || l.handingOff {
		return Result{Snapshot: l.snap, Err: fmt.Errorf("%w: lobby is %s", ErrNotAccepting, l.status)}
	}
	for _, existing := range l.participants {
		if existing.ID == p.ID {
			return Result{Snapshot: l.snap, Err: ErrAlreadyJoined}
		}
	}

	p.Stake = l.Settings.Tier
	p.JoinedAt = time.Now()

	var replaced *models.Participant
	if idx := l.firstBotUnsafe(); idx >= 0 && !p.IsBot {
		bot := l.participants[idx]
		l.participants[idx] = p
		replaced = &bot
		if err := l.ledger.Credit(bot.Stake); err != nil {
			l.logger.Warnf("crediting replaced bot %s: %v", bot.ID, err)
		}
		l.logger.WithFields(logrus.Fields{"participant": p.ID, "bot": bot.ID}).Info("real player replaced bot")
	} else if len(l.participants) < l.Settings.GameType.MaxPlayers {
		l.participants = append(l.participants, p)
		l.logger.WithField("participant", p.ID).Infof("joined (%d/%d)", len(l.participants), l.Settings.GameType.MaxPlayers)
	} else {
		return Result{Snapshot: l.snap, Err: ErrLobbyFull}
	}

	l.evaluateUnsafe()
	return Result{Snapshot: l.snap, Replaced: replaced}
}

func (l *Lobby) leaveUnsafe(id uuid.UUID) Result {
	idx := -1
	for i, p := range l.participants {
		if p.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Result{Snapshot: l.snap, Err: ErrNotInLobby}
	}
	if l.status != models.LobbyWaiting {
		return Result{Snapshot: l.snap, Err: fmt.Errorf("%w: lobby is %s", ErrStakeLocked, l.status)}
	}

	left := l.participants[idx]
	l.participants = append(l.participants[:idx], l.participants[idx+1:]...)
	l.logger.WithField("participant", id).Info("left lobby")
	l.publishUnsafe()
	if l.OnLeft != nil {
		l.OnLeft(l.snap, left)
	}

	if len(models.RealParticipants(l.participants)) == 0 {
		l.cancelUnsafe(ReasonNoPlayers)
		return Result{Snapshot: l.snap, Removed: &left}
	}
	l.broadcastUnsafe(events.LobbyUpdated{Lobby: l.snap})
	return Result{Snapshot: l.snap, Removed: &left}
}

// evaluateUnsafe applies threshold transitions after the roster changed and publishes the result.
func (l *Lobby) evaluateUnsafe() {
	total := len(l.participants)
	full := total >= l.Settings.GameType.MaxPlayers

	switch l.status {
	case models.LobbyWaiting:
		if total >= l.Settings.GameType.MinPlayers {
			l.enterReadyUnsafe(full)
			return
		}
	case models.LobbyReady:
		// whichever auto-start deadline comes first wins
		if full && l.timers[timerAutoStart] != nil && time.Until(l.autoStartAt) > l.Settings.AutoStartFull {
			l.logger.Info("lobby filled while ready, shortening auto start")
			l.armAutoStartUnsafe(l.Settings.AutoStartFull)
			return
		}
	}
	l.publishUnsafe()
	l.broadcastUnsafe(events.LobbyUpdated{Lobby: l.snap})
}

func (l *Lobby) enterReadyUnsafe(full bool) {
	l.disarm(timerFill)
	l.disarm(timerBotFill)
	l.status = models.LobbyReady
	l.readyAt = time.Now()

	delay := l.Settings.AutoStartPartial
	if full {
		delay = l.Settings.AutoStartFull
	}
	l.logger.Infof("lobby ready with %d participants, auto start in %s", len(l.participants), delay)
	l.armAutoStartUnsafe(delay)
}

func (l *Lobby) armAutoStartUnsafe(delay time.Duration) {
	l.arm(timerAutoStart, delay)
	l.autoStartAt = time.Now().Add(delay)
	l.publishUnsafe()
	l.broadcastUnsafe(events.LobbyUpdated{Lobby: l.snap})
	l.broadcastUnsafe(events.LobbyReady{LobbyID: l.ID, Countdown: delay.Milliseconds(), StartsAt: l.autoStartAt})
}

func (l *Lobby) handleTimerUnsafe(k timerKind, gen uint64) {
	if gen != l.timerGen[k] {
		l.logger.Debugf("stale %s timer ignored", k)
		return
	}
	l.timers[k] = nil

	switch k {
	case timerBotFill:
		if l.status == models.LobbyWaiting {
			l.botFillUnsafe()
		}
	case timerFill:
		if l.status != models.LobbyWaiting {
			return
		}
		// bot fill takes priority over cancellation
		if l.Settings.BotEligible && !l.botFillAttempted {
			l.disarm(timerBotFill)
			l.botFillUnsafe()
		}
		if l.status == models.LobbyWaiting {
			l.cancelUnsafe(ReasonFillTimeout)
		}
	case timerAutoStart, timerPayment:
		if l.status == models.LobbyReady {
			l.beginHandOffUnsafe()
		}
	}
}

func (l *Lobby) botFillUnsafe() {
	// an empty lobby leaves the fill for the fill timeout to retry
	if len(models.RealParticipants(l.participants)) == 0 {
		l.logger.Info("bot fill skipped: no real players")
		return
	}
	l.botFillAttempted = true
	needed := l.Settings.GameType.MinPlayers - len(l.participants)
	if needed <= 0 {
		return
	}
	cost := l.Settings.Tier.Mul(decimal.NewFromInt(int64(needed)))
	if err := l.ledger.Debit(cost); err != nil {
		l.logger.WithField("amount", cost).Warnf("bot fill skipped: %v", err)
		return
	}
	now := time.Now()
	for i := 0; i < needed; i++ {
		id := uuid.New()
		l.participants = append(l.participants, models.Participant{
			ID:          id,
			DisplayName: "Bot-" + id.String()[:4],
			IsBot:       true,
			Stake:       l.Settings.Tier,
			JoinedAt:    now,
		})
	}
	l.logger.WithField("amount", cost).Infof("bot fill added %d bots", needed)
	l.evaluateUnsafe()
}

func (l *Lobby) beginHandOffUnsafe() {
	if l.handingOff {
		return
	}
	l.handingOff = true
	if !l.Settings.PaymentGated || l.payments == nil {
		l.handOffUnsafe()
		return
	}

	// payment lookups run off the actor and report back through the inbox
	id := l.ID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		paid, err := l.payments.PaymentConfirmations(ctx, id)
		l.post(Event{Type: EventPayments, Paid: paid, PayErr: err})
	}()
}

func (l *Lobby) handlePaymentsUnsafe(paid map[string]bool, payErr error) {
	if l.status != models.LobbyReady || !l.handingOff {
		return
	}
	var missing []string
	if payErr != nil {
		l.logger.Warnf("payment lookup failed: %v", payErr)
		missing = append(missing, "lookup_failed")
	} else {
		for _, p := range models.RealParticipants(l.participants) {
			if p.Wallet != "" && !paid[p.Wallet] {
				missing = append(missing, p.Wallet)
			}
		}
	}
	if len(missing) == 0 {
		l.handOffUnsafe()
		return
	}

	l.paymentAttempts++
	l.logger.WithField("missing", missing).Infof("payments unconfirmed (attempt %d/%d)", l.paymentAttempts, l.Settings.PaymentAttempts)
	if l.paymentAttempts >= l.Settings.PaymentAttempts {
		l.cancelUnsafe(ReasonPaymentMissing)
		return
	}
	l.handingOff = false
	l.arm(timerPayment, l.Settings.PaymentRecheck)
}

func (l *Lobby) handOffUnsafe() {
	l.disarmAll()
	snap := l.buildSnapshotUnsafe()
	if l.OnHandOff == nil {
		l.cancelUnsafe(ReasonHandOffFailed)
		return
	}
	key, err := l.OnHandOff(snap)
	if err != nil {
		l.logger.Errorf("hand-off failed: %v", err)
		l.cancelUnsafe(ReasonHandOffFailed)
		return
	}
	l.matchKey = key
	l.status = models.LobbyInProgress
	l.logger.WithField("match", key).Info("lobby handed off")
	l.publishUnsafe()
	l.broadcastUnsafe(events.LobbyUpdated{Lobby: l.snap})
}

func (l *Lobby) completeUnsafe() {
	if l.status != models.LobbyInProgress {
		l.logger.Warnf("complete ignored in state %s", l.status)
		return
	}
	l.status = models.LobbyCompleted
	l.logger.Info("lobby completed")
	l.publishUnsafe()
	if l.OnClosed != nil {
		l.OnClosed(l.snap)
	}
}

// cancelUnsafe moves the lobby to cancelled, returns bot stakes to the ledger
// and hands the refund obligation for real participants to OnCancelled.
func (l *Lobby) cancelUnsafe(reason string) {
	if l.status.Terminal() {
		return
	}
	l.disarmAll()
	l.status = models.LobbyCancelled

	for _, p := range l.participants {
		if p.IsBot {
			if err := l.ledger.Credit(p.Stake); err != nil {
				l.logger.Warnf("returning bot stake %s: %v", p.ID, err)
			}
		}
	}

	refundable := models.RealParticipants(l.participants)
	l.logger.WithField("reason", reason).Infof("lobby cancelled, %d refunds owed", len(refundable))
	l.publishUnsafe()
	l.broadcastUnsafe(events.LobbyCancelled{LobbyID: l.ID, Reason: reason, RefundAmount: l.Settings.Tier})
	if l.OnCancelled != nil && len(refundable) > 0 {
		l.OnCancelled(l.snap, reason)
	}
	if l.OnClosed != nil {
		l.OnClosed(l.snap)
	}
}

func (l *Lobby) firstBotUnsafe() int {
	for i, p := range l.participants {
		if p.IsBot {
			return i
		}
	}
	return -1
}

func (l *Lobby) arm(k timerKind, d time.Duration) {
	l.disarm(k)
	gen := l.timerGen[k]
	l.timers[k] = time.AfterFunc(d, func() {
		l.post(Event{Type: EventTimer, Timer: k, Gen: gen})
	})
}

// disarm stops a timer and bumps its generation so an already-queued fire is ignored.
func (l *Lobby) disarm(k timerKind) {
	if l.timers[k] != nil {
		l.timers[k].Stop()
		l.timers[k] = nil
	}
	l.timerGen[k]++
}

func (l *Lobby) disarmAll() {
	for k := timerKind(0); k < numTimers; k++ {
		l.disarm(k)
	}
}

func (l *Lobby) buildSnapshotUnsafe() models.LobbySnapshot {
	ps := make([]models.Participant, len(l.participants))
	copy(ps, l.participants)
	bots := 0
	for _, p := range ps {
		if p.IsBot {
			bots++
		}
	}
	return models.LobbySnapshot{
		ID:           l.ID,
		GameType:     l.Settings.GameType.Name,
		EntryTier:    l.Settings.Tier,
		MinPlayers:   l.Settings.GameType.MinPlayers,
		MaxPlayers:   l.Settings.GameType.MaxPlayers,
		Status:       l.status,
		Participants: ps,
		CreatedAt:    l.CreatedAt,
		ReadyAt:      l.readyAt,
		BotCount:     bots,
		MatchKey:     l.matchKey,
	}
}

func (l *Lobby) publishUnsafe() {
	snap := l.buildSnapshotUnsafe()
	l.snapMu.Lock()
	l.snap = snap
	l.snapMu.Unlock()
}

func (l *Lobby) broadcastUnsafe(ev events.Event) {
	events.SendAll(l.broadcaster, l.participants, ev)
}
