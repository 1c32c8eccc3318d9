// Package database persists settlement records, transfer status, entry payment
// confirmations and the match event log.
package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jason-s-yu/stakeroyale/internal/config"
	"github.com/jason-s-yu/stakeroyale/internal/models"
)

var (
	// ErrDuplicate is returned when a settlement key already exists.
	ErrDuplicate = errors.New("record already exists")
	ErrNotFound  = errors.New("record not found")
)

// Store is implemented by the memory, sqlite and postgres backends.
type Store interface {
	// CreateSettlement inserts the record and all of its transfers atomically.
	CreateSettlement(ctx context.Context, rec *models.SettlementRecord) error
	GetSettlement(ctx context.Context, key string) (*models.SettlementRecord, error)
	// UpdateTransfer overwrites the mutable fields of a transfer: amount, status, tx ref, reason, attempts.
	UpdateTransfer(ctx context.Context, t models.Transfer) error
	ListFailedTransfers(ctx context.Context, limit int) ([]models.Transfer, error)

	RecordPayment(ctx context.Context, c models.PaymentConfirmation) error
	PaymentConfirmations(ctx context.Context, lobbyID uuid.UUID) (map[string]bool, error)

	InsertMatchEvents(ctx context.Context, evs []models.MatchEvent) error
	Close() error
}

// NewStoreFromConfig opens the backend selected by STORE_MODE.
func NewStoreFromConfig(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.StoreMode {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(ctx, cfg.SQLitePath)
	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, errors.New("postgres store requires POSTGRES_USER and PG_* settings")
		}
		return NewPostgresStore(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown store mode %q", cfg.StoreMode)
	}
}
