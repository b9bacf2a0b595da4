package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionStatus is the state of a payment attempt.
type TransactionStatus string

const (
	TransactionPending TransactionStatus = "pending"
	TransactionPaid    TransactionStatus = "paid"
	TransactionFailed  TransactionStatus = "failed"
)

// IsTerminal returns true once the status can no longer change.
func (s TransactionStatus) IsTerminal() bool {
	return s == TransactionPaid || s == TransactionFailed
}

// Transaction records one payment attempt and the credits it grants.
type Transaction struct {
	ID              string            `json:"id"`
	UserID          string            `json:"user_id"`
	Plan            string            `json:"plan"`
	CreditsGranted  int64             `json:"credits_granted"`
	AmountCharged   decimal.Decimal   `json:"amount_charged"`
	Currency        string            `json:"currency"`
	ExternalOrderID string            `json:"external_order_id,omitempty"`
	Status          TransactionStatus `json:"status"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// CreditEntry is an append-only record of one balance mutation.
// A non-empty Reference is unique across all entries.
type CreditEntry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Delta     int64     `json:"delta"`
	Reason    string    `json:"reason"`
	Reference string    `json:"reference,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
