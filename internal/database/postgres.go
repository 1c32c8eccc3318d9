// internal/database/postgres.go
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/stakeroyale/internal/models"
	"github.com/shopspring/decimal"
)

// PostgresStore is the production backend.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects, pings and creates the tables if needed.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &PostgresStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		stmts := []string{
			`CREATE TABLE IF NOT EXISTS settlements (
				key        TEXT PRIMARY KEY,
				match_key  UUID NOT NULL,
				lobby_id   UUID NOT NULL,
				pot        NUMERIC NOT NULL,
				rake       NUMERIC NOT NULL,
				created_at TIMESTAMPTZ NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS transfers (
				id             UUID PRIMARY KEY,
				settlement_key TEXT NOT NULL REFERENCES settlements(key),
				kind           TEXT NOT NULL,
				participant    UUID NOT NULL,
				recipient      TEXT NOT NULL,
				amount         NUMERIC NOT NULL,
				rank           INT NOT NULL,
				status         TEXT NOT NULL,
				tx_ref         TEXT NOT NULL DEFAULT '',
				reason         TEXT NOT NULL DEFAULT '',
				attempts       INT NOT NULL DEFAULT 0,
				updated_at     TIMESTAMPTZ NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_transfers_status ON transfers(status, updated_at)`,
			`CREATE TABLE IF NOT EXISTS payment_confirmations (
				lobby_id   UUID NOT NULL,
				wallet     TEXT NOT NULL,
				paid       BOOLEAN NOT NULL,
				tx_ref     TEXT NOT NULL DEFAULT '',
				updated_at TIMESTAMPTZ NOT NULL,
				PRIMARY KEY (lobby_id, wallet)
			)`,
			`CREATE TABLE IF NOT EXISTS match_events (
				id        BIGSERIAL PRIMARY KEY,
				match_key UUID NOT NULL,
				kind      TEXT NOT NULL,
				payload   JSONB NOT NULL,
				ts_ms     BIGINT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_match_events_match ON match_events(match_key, id)`,
		}
		for _, stmt := range stmts {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("ensure postgres schema: %w", err)
			}
		}
		return nil
	})
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *PostgresStore) CreateSettlement(ctx context.Context, rec *models.SettlementRecord) error {
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		q := `
			INSERT INTO settlements (key, match_key, lobby_id, pot, rake, created_at)
			VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6)
		`
		if _, err := tx.Exec(ctx, q, rec.Key, rec.MatchKey, rec.LobbyID, rec.Pot.String(), rec.Rake.String(), rec.CreatedAt); err != nil {
			return err
		}
		for _, t := range rec.Transfers {
			q := `
				INSERT INTO transfers (id, settlement_key, kind, participant, recipient, amount, rank, status, tx_ref, reason, attempts, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10, $11, $12)
			`
			if _, err := tx.Exec(ctx, q, t.ID, rec.Key, string(t.Kind), t.Participant, t.Recipient, t.Amount.String(),
				t.Rank, string(t.Status), t.TxRef, t.Reason, t.Attempts, t.UpdatedAt); err != nil {
				return err
			}
		}
		return nil
	})
	if isPgUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("tx insert settlement %s: %w", rec.Key, err)
	}
	return nil
}

func (s *PostgresStore) GetSettlement(ctx context.Context, key string) (*models.SettlementRecord, error) {
	var rec models.SettlementRecord
	var pot, rake string
	q := `SELECT key, match_key, lobby_id, pot::text, rake::text, created_at FROM settlements WHERE key = $1`
	err := s.pool.QueryRow(ctx, q, key).Scan(&rec.Key, &rec.MatchKey, &rec.LobbyID, &pot, &rake, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if rec.Pot, err = decimal.NewFromString(pot); err != nil {
		return nil, err
	}
	if rec.Rake, err = decimal.NewFromString(rake); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, pgTransferColumns+` WHERE settlement_key = $1`, key)
	if err != nil {
		return nil, err
	}
	if rec.Transfers, err = scanPgTransfers(rows); err != nil {
		return nil, err
	}
	sortTransfers(rec.Transfers)
	return &rec, nil
}

const pgTransferColumns = `
	SELECT id, settlement_key, kind, participant, recipient, amount::text, rank, status, tx_ref, reason, attempts, updated_at
	FROM transfers`

func scanPgTransfers(rows pgx.Rows) ([]models.Transfer, error) {
	defer rows.Close()
	var out []models.Transfer
	for rows.Next() {
		var t models.Transfer
		var kind, status, amount string
		if err := rows.Scan(&t.ID, &t.SettlementKey, &kind, &t.Participant, &t.Recipient, &amount,
			&t.Rank, &status, &t.TxRef, &t.Reason, &t.Attempts, &t.UpdatedAt); err != nil {
			return nil, err
		}
		amt, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("transfer %s amount: %w", t.ID, err)
		}
		t.Amount = amt
		t.Kind = models.TransferKind(kind)
		t.Status = models.TransferStatus(status)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateTransfer(ctx context.Context, t models.Transfer) error {
	q := `
		UPDATE transfers
		SET amount = $1::numeric, status = $2, tx_ref = $3, reason = $4, attempts = $5, updated_at = $6
		WHERE id = $7
	`
	tag, err := s.pool.Exec(ctx, q, t.Amount.String(), string(t.Status), t.TxRef, t.Reason, t.Attempts, t.UpdatedAt, t.ID)
	if err != nil {
		return fmt.Errorf("update transfer %s: %w", t.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListFailedTransfers(ctx context.Context, limit int) ([]models.Transfer, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, pgTransferColumns+` WHERE status = $1 ORDER BY updated_at ASC LIMIT $2`,
		string(models.TransferFailed), limit)
	if err != nil {
		return nil, err
	}
	return scanPgTransfers(rows)
}

func (s *PostgresStore) RecordPayment(ctx context.Context, c models.PaymentConfirmation) error {
	q := `
		INSERT INTO payment_confirmations (lobby_id, wallet, paid, tx_ref, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (lobby_id, wallet)
		DO UPDATE SET paid = $3, tx_ref = $4, updated_at = $5
	`
	if _, err := s.pool.Exec(ctx, q, c.LobbyID, c.Wallet, c.Paid, c.TxRef, c.UpdatedAt); err != nil {
		return fmt.Errorf("record payment %s/%s: %w", c.LobbyID, c.Wallet, err)
	}
	return nil
}

func (s *PostgresStore) PaymentConfirmations(ctx context.Context, lobbyID uuid.UUID) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, `SELECT wallet, paid FROM payment_confirmations WHERE lobby_id = $1`, lobbyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]bool)
	for rows.Next() {
		var wallet string
		var paid bool
		if err := rows.Scan(&wallet, &paid); err != nil {
			return nil, err
		}
		out[wallet] = paid
	}
	return out, rows.Err()
}

// InsertMatchEvents queues every insert in one batch inside a transaction.
func (s *PostgresStore) InsertMatchEvents(ctx context.Context, evs []models.MatchEvent) error {
	if len(evs) == 0 {
		return nil
	}
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, ev := range evs {
			batch.Queue(`INSERT INTO match_events (match_key, kind, payload, ts_ms) VALUES ($1, $2, $3::jsonb, $4)`,
				ev.MatchKey, ev.Kind, string(ev.Payload), ev.Timestamp)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
