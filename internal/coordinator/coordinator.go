// Package coordinator connects lobbies, sessions and settlement: a lobby hand-off starts a
// session, a finished session is settled and its lobby completed, and a lobby that is
// cancelled or left refunds its stakes.
package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jason-s-yu/stakeroyale/internal/lobby"
	"github.com/jason-s-yu/stakeroyale/internal/models"
	"github.com/jason-s-yu/stakeroyale/internal/session"
	"github.com/jason-s-yu/stakeroyale/internal/settlement"
	"github.com/sirupsen/logrus"
)

// refundTimeout bounds one refund issued from a lobby callback.
const refundTimeout = 30 * time.Second

// retryBatch is how many failed transfers one retry pass picks up.
const retryBatch = 100

type Coordinator struct {
	registry *lobby.Registry
	sessions *session.Manager
	engine   *settlement.Engine
	logger   logrus.FieldLogger

	wg sync.WaitGroup
}

// Wire installs the callbacks on registry and sessions. payments may be nil.
func Wire(registry *lobby.Registry, sessions *session.Manager, engine *settlement.Engine, payments lobby.PaymentChecker, logger logrus.FieldLogger) *Coordinator {
	c := &Coordinator{
		registry: registry,
		sessions: sessions,
		engine:   engine,
		logger:   logger.WithField("component", "coordinator"),
	}
	if payments != nil {
		registry.Payments = payments
	}
	registry.OnHandOff = sessions.Start
	registry.OnCancelled = c.lobbyCancelled
	registry.OnLeft = c.participantLeft
	sessions.OnEnd = c.settle
	sessions.OnClosed = c.closed
	return c
}

func (c *Coordinator) settle(ctx context.Context, out session.Outcome) (*models.SettlementRecord, error) {
	rec, err := c.engine.Settle(ctx, settlement.Request{
		MatchKey:     out.MatchKey,
		LobbyID:      out.LobbyID,
		GameType:     out.GameType,
		Tier:         out.Tier,
		Participants: out.Participants,
		Order:        out.Order,
		Seed:         out.Seed,
	})
	if errors.Is(err, settlement.ErrAlreadySettled) && rec != nil {
		return rec, nil
	}
	return rec, err
}

func (c *Coordinator) closed(out session.Outcome) {
	if err := c.registry.Complete(out.LobbyID); err != nil {
		c.logger.WithError(err).WithField("lobbyId", out.LobbyID).Warn("complete lobby")
	}
}

// lobbyCancelled and participantLeft run on a lobby's actor goroutine, so the
// transfers happen in the background.
func (c *Coordinator) lobbyCancelled(snap models.LobbySnapshot, reason string) {
	c.refund(settlement.RefundRequest{LobbyID: snap.ID, Participants: snap.Participants, Reason: reason})
}

func (c *Coordinator) participantLeft(snap models.LobbySnapshot, p models.Participant) {
	c.refund(settlement.RefundRequest{
		LobbyID:      snap.ID,
		Participants: []models.Participant{p},
		Reason:       "left",
		Departure:    true,
	})
}

func (c *Coordinator) refund(req settlement.RefundRequest) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), refundTimeout)
		defer cancel()
		if _, err := c.engine.Refund(ctx, req); err != nil && !errors.Is(err, settlement.ErrAlreadySettled) {
			c.logger.WithError(err).WithFields(logrus.Fields{"lobbyId": req.LobbyID, "reason": req.Reason}).Error("refund")
		}
	}()
}

// Wait blocks until background refunds have finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// RunRetries re-attempts failed transfers every interval until ctx is cancelled.
func (c *Coordinator) RunRetries(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := c.engine.RetryFailed(ctx, retryBatch)
			if err != nil {
				c.logger.WithError(err).Error("retry failed transfers")
				continue
			}
			if n > 0 {
				c.logger.Infof("retried %d failed transfers", n)
			}
		}
	}
}
