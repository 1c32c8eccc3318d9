// Package historian drains the match event queue from Redis into the store in batches
// and reports matches whose event stream stopped without a match_end.
package historian

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/stakeroyale/internal/config"
	"github.com/jason-s-yu/stakeroyale/internal/events"
	"github.com/jason-s-yu/stakeroyale/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Sink persists a batch of events.
type Sink interface {
	InsertMatchEvents(ctx context.Context, evs []models.MatchEvent) error
}

type Config struct {
	Queue         string
	BatchSize     int
	FlushDelay    time.Duration
	Inactivity    time.Duration // a match silent this long without match_end is reported
	CheckInterval time.Duration
	PopTimeout    time.Duration
}

func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Queue:         cfg.EventQueueName,
		BatchSize:     cfg.HistorianBatch,
		FlushDelay:    cfg.HistorianFlush,
		Inactivity:    cfg.MatchInactivity,
		CheckInterval: time.Minute,
		PopTimeout:    3 * time.Second,
	}
}

// Service owns the read, flush and inactivity loops.
type Service struct {
	rdb    *redis.Client
	sink   Sink
	cfg    Config
	logger logrus.FieldLogger

	lastActivity sync.Map // uuid.UUID -> time.Time

	batchMu sync.Mutex
	batch   []models.MatchEvent

	// OnStale is called for every match reported by the inactivity sweep.
	OnStale func(matchKey uuid.UUID, last time.Time)
}

func New(rdb *redis.Client, sink Sink, cfg Config, logger logrus.FieldLogger) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.FlushDelay <= 0 {
		cfg.FlushDelay = 500 * time.Millisecond
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Minute
	}
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = 3 * time.Second
	}
	return &Service{
		rdb:    rdb,
		sink:   sink,
		cfg:    cfg,
		logger: logger.WithField("component", "historian"),
		batch:  make([]models.MatchEvent, 0, cfg.BatchSize),
	}
}

// Run blocks until ctx is cancelled, then flushes what is left.
func (s *Service) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); s.readLoop(ctx) }()
	go func() { defer wg.Done(); s.flushLoop(ctx) }()
	go func() { defer wg.Done(); s.inactivityLoop(ctx) }()

	s.logger.WithField("queue", s.cfg.Queue).Info("historian started")
	<-ctx.Done()
	wg.Wait()

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Flush(flushCtx)
	s.logger.Info("historian stopped")
}

// readLoop pops one record at a time. BLPop's timeout bounds how long a cancel waits.
func (s *Service) readLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		res, err := s.rdb.BLPop(ctx, s.cfg.PopTimeout, s.cfg.Queue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			s.logger.WithError(err).Error("BLPop")
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		// res[0] is the queue name, res[1] the payload
		if len(res) < 2 {
			continue
		}
		s.handle(ctx, res[1])
	}
}

func (s *Service) handle(ctx context.Context, payload string) {
	var rec models.MatchEvent
	if err := json.Unmarshal([]byte(payload), &rec); err != nil || rec.MatchKey == uuid.Nil {
		s.logger.WithError(err).Warn("invalid match event record")
		return
	}
	if rec.Kind == string(events.KindMatchEnd) {
		s.lastActivity.Delete(rec.MatchKey)
	} else {
		s.lastActivity.Store(rec.MatchKey, time.Now())
	}
	s.append(ctx, rec)
}

// append adds rec and flushes once the batch is full. The write happens outside batchMu.
func (s *Service) append(ctx context.Context, rec models.MatchEvent) {
	s.batchMu.Lock()
	s.batch = append(s.batch, rec)
	var full []models.MatchEvent
	if len(s.batch) >= s.cfg.BatchSize {
		full = s.takeUnsafe()
	}
	s.batchMu.Unlock()

	if full != nil {
		s.write(ctx, full)
	}
}

func (s *Service) takeUnsafe() []models.MatchEvent {
	if len(s.batch) == 0 {
		return nil
	}
	out := make([]models.MatchEvent, len(s.batch))
	copy(out, s.batch)
	s.batch = s.batch[:0]
	return out
}

// Flush writes whatever is buffered.
func (s *Service) Flush(ctx context.Context) {
	s.batchMu.Lock()
	pending := s.takeUnsafe()
	s.batchMu.Unlock()
	if pending != nil {
		s.write(ctx, pending)
	}
}

// write stores evs. On failure the records go back to the front of the buffer.
func (s *Service) write(ctx context.Context, evs []models.MatchEvent) {
	if err := s.sink.InsertMatchEvents(ctx, evs); err != nil {
		s.logger.WithError(err).WithField("count", len(evs)).Error("flush match events")
		s.batchMu.Lock()
		s.batch = append(evs, s.batch...)
		s.batchMu.Unlock()
		return
	}
	s.logger.Debugf("flushed %d match events", len(evs))
}

func (s *Service) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.FlushDelay)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Flush(ctx)
		}
	}
}

func (s *Service) inactivityLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Sweep(now)
		}
	}
}

// Sweep reports and forgets matches idle longer than the inactivity window.
func (s *Service) Sweep(now time.Time) []uuid.UUID {
	var stale []uuid.UUID
	s.lastActivity.Range(func(key, val any) bool {
		matchKey, ok1 := key.(uuid.UUID)
		last, ok2 := val.(time.Time)
		if ok1 && ok2 && now.Sub(last) > s.cfg.Inactivity {
			stale = append(stale, matchKey)
			s.lastActivity.Delete(matchKey)
			s.logger.WithFields(logrus.Fields{"matchKey": matchKey, "lastEvent": last}).Warn("match went quiet without match_end")
			if s.OnStale != nil {
				s.OnStale(matchKey, last)
			}
		}
		return true
	})
	return stale
}
