package dto

import (
	"time"

	"github.com/imagify/imagify/internal/model"
)

// InitiatePaymentRequest is the body of POST /api/v1/payments.
type InitiatePaymentRequest struct {
	Plan string `json:"plan" validate:"required,max=64"`
}

// VerifyPaymentRequest is the body of POST /api/v1/payments/verify.
type VerifyPaymentRequest struct {
	OrderID string `json:"order_id" validate:"required,max=128"`
}

// PlanResponse describes a purchasable credit pack.
type PlanResponse struct {
	ID       string `json:"id"`
	Credits  int64  `json:"credits"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// PlanListResponse is the body of GET /api/v1/payments/plans.
type PlanListResponse struct {
	Data []PlanResponse `json:"data"`
}

// OrderResponse tells the client how to open the gateway checkout.
type OrderResponse struct {
	TransactionID string `json:"transaction_id"`
	OrderID       string `json:"order_id"`
	Plan          string `json:"plan"`
	Credits       int64  `json:"credits"`
	Amount        string `json:"amount"`
	AmountMinor   int64  `json:"amount_minor"`
	Currency      string `json:"currency"`
	KeyID         string `json:"key_id,omitempty"`
}

// VerificationResponse is the body of POST /api/v1/payments/verify.
type VerificationResponse struct {
	TransactionID  string    `json:"transaction_id"`
	Status         string    `json:"status"`
	CreditsGranted int64     `json:"credits_granted"`
	Credited       bool      `json:"credited"`
	Balance        int64     `json:"balance"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ToPlanListResponse converts the plan catalog.
func ToPlanListResponse(plans []model.Plan, currency string) *PlanListResponse {
	data := make([]PlanResponse, len(plans))
	for i, p := range plans {
		data[i] = PlanResponse{
			ID:       p.ID,
			Credits:  p.Credits,
			Amount:   p.Amount.StringFixed(2),
			Currency: currency,
		}
	}
	return &PlanListResponse{Data: data}
}

// ToOrderResponse converts a freshly initiated transaction.
func ToOrderResponse(tx *model.Transaction, keyID string) *OrderResponse {
	return &OrderResponse{
		TransactionID: tx.ID,
		OrderID:       tx.ExternalOrderID,
		Plan:          tx.Plan,
		Credits:       tx.CreditsGranted,
		Amount:        tx.AmountCharged.StringFixed(2),
		AmountMinor:   model.Plan{Amount: tx.AmountCharged}.MinorUnits(),
		Currency:      tx.Currency,
		KeyID:         keyID,
	}
}
