package database

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jason-s-yu/stakeroyale/internal/models"
)

// MemoryStore keeps everything in maps. Used in dev mode and tests.
type MemoryStore struct {
	mu          sync.Mutex
	settlements map[string]*models.SettlementRecord
	transfers   map[uuid.UUID]*models.Transfer
	payments    map[uuid.UUID]map[string]models.PaymentConfirmation
	events      []models.MatchEvent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		settlements: make(map[string]*models.SettlementRecord),
		transfers:   make(map[uuid.UUID]*models.Transfer),
		payments:    make(map[uuid.UUID]map[string]models.PaymentConfirmation),
	}
}

func (s *MemoryStore) CreateSettlement(_ context.Context, rec *models.SettlementRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.settlements[rec.Key]; exists {
		return ErrDuplicate
	}
	stored := *rec
	stored.Transfers = nil
	s.settlements[rec.Key] = &stored
	for _, t := range rec.Transfers {
		t := t
		s.transfers[t.ID] = &t
	}
	return nil
}

func (s *MemoryStore) GetSettlement(_ context.Context, key string) (*models.SettlementRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.settlements[key]
	if !ok {
		return nil, ErrNotFound
	}
	rec := *stored
	rec.Transfers = nil
	for _, t := range s.transfers {
		if t.SettlementKey == key {
			rec.Transfers = append(rec.Transfers, *t)
		}
	}
	sortTransfers(rec.Transfers)
	return &rec, nil
}

func (s *MemoryStore) UpdateTransfer(_ context.Context, t models.Transfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.transfers[t.ID]
	if !ok {
		return ErrNotFound
	}
	existing.Amount = t.Amount
	existing.Status = t.Status
	existing.TxRef = t.TxRef
	existing.Reason = t.Reason
	existing.Attempts = t.Attempts
	existing.UpdatedAt = t.UpdatedAt
	return nil
}

func (s *MemoryStore) ListFailedTransfers(_ context.Context, limit int) ([]models.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Transfer
	for _, t := range s.transfers {
		if t.Status == models.TransferFailed {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) RecordPayment(_ context.Context, c models.PaymentConfirmation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byWallet, ok := s.payments[c.LobbyID]
	if !ok {
		byWallet = make(map[string]models.PaymentConfirmation)
		s.payments[c.LobbyID] = byWallet
	}
	byWallet[c.Wallet] = c
	return nil
}

func (s *MemoryStore) PaymentConfirmations(_ context.Context, lobbyID uuid.UUID) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool, len(s.payments[lobbyID]))
	for wallet, c := range s.payments[lobbyID] {
		out[wallet] = c.Paid
	}
	return out, nil
}

func (s *MemoryStore) InsertMatchEvents(_ context.Context, evs []models.MatchEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evs...)
	return nil
}

// MatchEvents returns a copy of the stored event log.
func (s *MemoryStore) MatchEvents() []models.MatchEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.MatchEvent, len(s.events))
	copy(out, s.events)
	return out
}

func (s *MemoryStore) Close() error { return nil }

// sortTransfers orders lines by rank then kind so records read back the way they were written.
func sortTransfers(ts []models.Transfer) {
	sort.SliceStable(ts, func(i, j int) bool {
		if ts[i].Rank != ts[j].Rank {
			return ts[i].Rank < ts[j].Rank
		}
		if ts[i].Kind != ts[j].Kind {
			return ts[i].Kind < ts[j].Kind
		}
		return ts[i].ID.String() < ts[j].ID.String()
	})
}
