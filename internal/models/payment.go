package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentConfirmation records whether a wallet's entry stake for a lobby has landed.
type PaymentConfirmation struct {
	LobbyID   uuid.UUID `json:"lobbyId"`
	Wallet    string    `json:"wallet"`
	Paid      bool      `json:"paid"`
	TxRef     string    `json:"txRef,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}
