package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/imagify/imagify/internal/auth"
	"github.com/imagify/imagify/internal/handler/dto"
	"github.com/imagify/imagify/internal/model"
	"github.com/imagify/imagify/internal/payment"
)

// Journal creates payment transactions.
type Journal interface {
	Plans() []model.Plan
	Initiate(ctx context.Context, userID, planID string) (*model.Transaction, error)
	GetByOrderID(ctx context.Context, orderID string) (*model.Transaction, error)
}

// PaymentVerifier settles gateway orders.
type PaymentVerifier interface {
	Verify(ctx context.Context, orderID string) (*payment.Verification, error)
}

// BalanceReader reads credit balances.
type BalanceReader interface {
	GetBalance(ctx context.Context, userID string) (int64, error)
}

// PaymentConfig configures a PaymentHandler.
type PaymentConfig struct {
	// KeyID is the gateway's public key, handed to the checkout widget.
	KeyID    string
	Currency string
	Logger   *slog.Logger
}

// PaymentHandler handles credit purchases.
type PaymentHandler struct {
	journal  Journal
	verifier PaymentVerifier
	balances BalanceReader
	keyID    string
	currency string
	logger   *slog.Logger
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(journal Journal, verifier PaymentVerifier, balances BalanceReader, cfg PaymentConfig) *PaymentHandler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &PaymentHandler{
		journal:  journal,
		verifier: verifier,
		balances: balances,
		keyID:    cfg.KeyID,
		currency: cfg.Currency,
		logger:   cfg.Logger,
	}
}

// Plans handles GET /api/v1/payments/plans.
func (h *PaymentHandler) Plans(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, dto.ToPlanListResponse(h.journal.Plans(), h.currency))
}

// Initiate handles POST /api/v1/payments.
func (h *PaymentHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	var req dto.InitiatePaymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	tx, err := h.journal.Initiate(r.Context(), auth.UserIDFromContext(r.Context()), req.Plan)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, dto.ToOrderResponse(tx, h.keyID))
}

// Verify handles POST /api/v1/payments/verify. It is safe to call any
// number of times for one order.
func (h *PaymentHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req dto.VerifyPaymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	userID := auth.UserIDFromContext(r.Context())

	// Verifying an unpaid order closes it, so only the owner may ask.
	tx, err := h.journal.GetByOrderID(r.Context(), req.OrderID)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	if tx.UserID != userID {
		h.logger.Warn("verify for foreign order",
			"order_id", req.OrderID,
			"user_id", userID,
		)
		handleServiceError(w, h.logger, payment.ErrTransactionNotFound)
		return
	}

	v, err := h.verifier.Verify(r.Context(), req.OrderID)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	balance, err := h.balances.GetBalance(r.Context(), userID)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.VerificationResponse{
		TransactionID:  v.Transaction.ID,
		Status:         string(v.Transaction.Status),
		CreditsGranted: v.Transaction.CreditsGranted,
		Credited:       v.Credited,
		Balance:        balance,
		UpdatedAt:      v.Transaction.UpdatedAt,
	})
}
