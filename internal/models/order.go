package models

import (
	"time"

	"github.com/google/uuid"
)

// Order payment modes
const (
	OrderModeEscrow   = "escrow"
	OrderModeTransfer = "transfer"
)

// Order is the local record of a payment initiated from this device. The
// chain stays the system of record; Status here is a cache for history
// listings and worker reconciliation, never for authorization decisions.
type Order struct {
	ID            uuid.UUID `json:"id"`
	OrderID       string    `json:"order_id"`
	Mode          string    `json:"mode"` // escrow / transfer
	Buyer         string    `json:"buyer"`
	Partner       string    `json:"partner"`
	AmountUnits   string    `json:"amount_units"` // integer base units as string
	TokenSymbol   string    `json:"token_symbol"`
	ChainID       uint64    `json:"chain_id"`
	ApproveTxHash *string   `json:"approve_tx_hash,omitempty"`
	CreateTxHash  *string   `json:"create_tx_hash,omitempty"`
	ReleaseTxHash *string   `json:"release_tx_hash,omitempty"`
	RefundTxHash  *string   `json:"refund_tx_hash,omitempty"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
