package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransferStatus tracks a single outgoing movement of funds.
type TransferStatus string

const (
	TransferPending TransferStatus = "pending"
	TransferSent    TransferStatus = "sent"
	TransferFailed  TransferStatus = "failed"
)

// TransferKind distinguishes why funds moved.
type TransferKind string

const (
	KindPayout    TransferKind = "payout"
	KindBotReturn TransferKind = "bot_return"
	KindRake      TransferKind = "rake"
	KindRefund    TransferKind = "refund"
	// KindBotTopUp is the part of the rake kept back to refill the bot ledger.
	KindBotTopUp TransferKind = "bot_topup"
)

// Transfer is one recipient line of a settlement record.
type Transfer struct {
	ID            uuid.UUID       `json:"id"`
	SettlementKey string          `json:"settlementKey"`
	Kind          TransferKind    `json:"kind"`
	Participant   uuid.UUID       `json:"participant,omitempty"`
	Recipient     string          `json:"recipient"`
	Amount        decimal.Decimal `json:"amount"`
	Rank          int             `json:"rank,omitempty"`
	Status        TransferStatus  `json:"status"`
	TxRef         string          `json:"txRef,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	Attempts      int             `json:"attempts"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// Total sums every line of the record.
func (r *SettlementRecord) Total() decimal.Decimal {
	sum := decimal.Zero
	for _, t := range r.Transfers {
		sum = sum.Add(t.Amount)
	}
	return sum
}

// SettlementRecord is created exactly once per match key (or refund key).
type SettlementRecord struct {
	Key       string          `json:"key"`
	MatchKey  uuid.UUID       `json:"matchKey,omitempty"`
	LobbyID   uuid.UUID       `json:"lobbyId"`
	Pot       decimal.Decimal `json:"pot"`
	Rake      decimal.Decimal `json:"rake"`
	Transfers []Transfer      `json:"transfers"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Payouts returns the transfers to ranked participants, leaving out house lines.
func (r *SettlementRecord) Payouts() []Transfer {
	out := make([]Transfer, 0, len(r.Transfers))
	for _, t := range r.Transfers {
		if t.Kind == KindPayout || t.Kind == KindBotReturn {
			out = append(out, t)
		}
	}
	return out
}
