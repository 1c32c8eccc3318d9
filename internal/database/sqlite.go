package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/stakeroyale/internal/models"
	"github.com/shopspring/decimal"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteStore is the single-node backend.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, fmt.Errorf("empty sqlite database path")
	}
	if dbPath != ":memory:" {
		parent := filepath.Dir(dbPath)
		if parent != "" && parent != "." {
			if err := os.MkdirAll(parent, 0o755); err != nil {
				return nil, err
			}
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// one connection so ":memory:" is a single database and writes never contend
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for _, pragma := range []string{
		`PRAGMA busy_timeout = 5000;`,
		`PRAGMA journal_mode = WAL;`,
		`PRAGMA foreign_keys = ON;`,
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if err := ensureSQLiteSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func ensureSQLiteSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS settlements (
    key           TEXT PRIMARY KEY,
    match_key     TEXT NOT NULL,
    lobby_id      TEXT NOT NULL,
    pot           TEXT NOT NULL,
    rake          TEXT NOT NULL,
    created_at_ms INTEGER NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS transfers (
    id             TEXT PRIMARY KEY,
    settlement_key TEXT NOT NULL REFERENCES settlements(key),
    kind           TEXT NOT NULL,
    participant    TEXT NOT NULL,
    recipient      TEXT NOT NULL,
    amount         TEXT NOT NULL,
    rank           INTEGER NOT NULL,
    status         TEXT NOT NULL,
    tx_ref         TEXT NOT NULL DEFAULT '',
    reason         TEXT NOT NULL DEFAULT '',
    attempts       INTEGER NOT NULL DEFAULT 0,
    updated_at_ms  INTEGER NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_transfers_status ON transfers(status, updated_at_ms)`,
		`CREATE TABLE IF NOT EXISTS payment_confirmations (
    lobby_id      TEXT NOT NULL,
    wallet        TEXT NOT NULL,
    paid          INTEGER NOT NULL,
    tx_ref        TEXT NOT NULL DEFAULT '',
    updated_at_ms INTEGER NOT NULL,
    PRIMARY KEY (lobby_id, wallet)
)`,
		`CREATE TABLE IF NOT EXISTS match_events (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    match_key TEXT NOT NULL,
    kind      TEXT NOT NULL,
    payload   TEXT NOT NULL,
    ts_ms     INTEGER NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_match_events_match ON match_events(match_key, id)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure sqlite schema: %w", err)
		}
	}
	return nil
}

func isSQLiteUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}

func (s *SQLiteStore) CreateSettlement(ctx context.Context, rec *models.SettlementRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
INSERT INTO settlements (key, match_key, lobby_id, pot, rake, created_at_ms)
VALUES (?, ?, ?, ?, ?, ?)`,
		rec.Key, rec.MatchKey.String(), rec.LobbyID.String(), rec.Pot.String(), rec.Rake.String(), rec.CreatedAt.UnixMilli())
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert settlement %s: %w", rec.Key, err)
	}
	for _, t := range rec.Transfers {
		_, err := tx.ExecContext(ctx, `
INSERT INTO transfers (id, settlement_key, kind, participant, recipient, amount, rank, status, tx_ref, reason, attempts, updated_at_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID.String(), rec.Key, string(t.Kind), t.Participant.String(), t.Recipient, t.Amount.String(),
			t.Rank, string(t.Status), t.TxRef, t.Reason, t.Attempts, t.UpdatedAt.UnixMilli())
		if err != nil {
			return fmt.Errorf("insert transfer %s: %w", t.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetSettlement(ctx context.Context, key string) (*models.SettlementRecord, error) {
	var (
		rec               models.SettlementRecord
		matchKey, lobbyID string
		pot, rake         string
		createdAt         int64
	)
	err := s.db.QueryRowContext(ctx, `
SELECT key, match_key, lobby_id, pot, rake, created_at_ms FROM settlements WHERE key = ?`, key).
		Scan(&rec.Key, &matchKey, &lobbyID, &pot, &rake, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.MatchKey, _ = uuid.Parse(matchKey)
	rec.LobbyID, _ = uuid.Parse(lobbyID)
	if rec.Pot, err = decimal.NewFromString(pot); err != nil {
		return nil, fmt.Errorf("settlement %s pot: %w", key, err)
	}
	if rec.Rake, err = decimal.NewFromString(rake); err != nil {
		return nil, fmt.Errorf("settlement %s rake: %w", key, err)
	}
	rec.CreatedAt = time.UnixMilli(createdAt).UTC()

	rows, err := s.db.QueryContext(ctx, transferColumns+` WHERE settlement_key = ?`, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if rec.Transfers, err = scanSQLiteTransfers(rows); err != nil {
		return nil, err
	}
	sortTransfers(rec.Transfers)
	return &rec, nil
}

const transferColumns = `
SELECT id, settlement_key, kind, participant, recipient, amount, rank, status, tx_ref, reason, attempts, updated_at_ms
FROM transfers`

func scanSQLiteTransfers(rows *sql.Rows) ([]models.Transfer, error) {
	var out []models.Transfer
	for rows.Next() {
		var (
			t               models.Transfer
			id, participant string
			kind, status    string
			amount          string
			updatedAt       int64
		)
		if err := rows.Scan(&id, &t.SettlementKey, &kind, &participant, &t.Recipient, &amount,
			&t.Rank, &status, &t.TxRef, &t.Reason, &t.Attempts, &updatedAt); err != nil {
			return nil, err
		}
		var err error
		if t.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("transfer id %q: %w", id, err)
		}
		t.Participant, _ = uuid.Parse(participant)
		if t.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("transfer %s amount: %w", id, err)
		}
		t.Kind = models.TransferKind(kind)
		t.Status = models.TransferStatus(status)
		t.UpdatedAt = time.UnixMilli(updatedAt).UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateTransfer(ctx context.Context, t models.Transfer) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE transfers SET amount = ?, status = ?, tx_ref = ?, reason = ?, attempts = ?, updated_at_ms = ?
WHERE id = ?`,
		t.Amount.String(), string(t.Status), t.TxRef, t.Reason, t.Attempts, t.UpdatedAt.UnixMilli(), t.ID.String())
	if err != nil {
		return fmt.Errorf("update transfer %s: %w", t.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ListFailedTransfers(ctx context.Context, limit int) ([]models.Transfer, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, transferColumns+` WHERE status = ? ORDER BY updated_at_ms ASC LIMIT ?`,
		string(models.TransferFailed), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSQLiteTransfers(rows)
}

func (s *SQLiteStore) RecordPayment(ctx context.Context, c models.PaymentConfirmation) error {
	paid := 0
	if c.Paid {
		paid = 1
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO payment_confirmations (lobby_id, wallet, paid, tx_ref, updated_at_ms)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (lobby_id, wallet) DO UPDATE SET
    paid = excluded.paid,
    tx_ref = excluded.tx_ref,
    updated_at_ms = excluded.updated_at_ms`,
		c.LobbyID.String(), c.Wallet, paid, c.TxRef, c.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("record payment %s/%s: %w", c.LobbyID, c.Wallet, err)
	}
	return nil
}

func (s *SQLiteStore) PaymentConfirmations(ctx context.Context, lobbyID uuid.UUID) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT wallet, paid FROM payment_confirmations WHERE lobby_id = ?`, lobbyID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]bool)
	for rows.Next() {
		var wallet string
		var paid int
		if err := rows.Scan(&wallet, &paid); err != nil {
			return nil, err
		}
		out[wallet] = paid == 1
	}
	return out, rows.Err()
}

func (s *SQLiteStore) InsertMatchEvents(ctx context.Context, evs []models.MatchEvent) error {
	if len(evs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, ev := range evs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO match_events (match_key, kind, payload, ts_ms) VALUES (?, ?, ?, ?)`,
			ev.MatchKey.String(), ev.Kind, string(ev.Payload), ev.Timestamp); err != nil {
			return fmt.Errorf("insert match event: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
