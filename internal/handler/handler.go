// Package handler provides HTTP request handlers.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/imagify/imagify/internal/asset"
	"github.com/imagify/imagify/internal/auth"
	"github.com/imagify/imagify/internal/handler/dto"
	"github.com/imagify/imagify/internal/ledger"
	"github.com/imagify/imagify/internal/payment"
	"github.com/imagify/imagify/internal/service"
)

// NotFound handles 404 responses.
func NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "NOT_FOUND", "resource not found")
}

// MethodNotAllowed handles 405 responses.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, dto.ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// decodeJSON reads a request body into dst and validates it. It writes the
// error response itself and returns false on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body")
		return false
	}

	if err := dto.Validate(dst); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", dto.ValidationMessage(err))
		return false
	}
	return true
}

type errorMapping struct {
	err     error
	status  int
	code    string
	message string
}

// serviceErrors maps domain errors to responses, first match wins.
var serviceErrors = []errorMapping{
	{service.ErrInvalidName, http.StatusBadRequest, "INVALID_NAME", "name must be between 1 and 100 characters"},
	{service.ErrInvalidEmail, http.StatusBadRequest, "INVALID_EMAIL", "invalid email address"},
	{service.ErrWeakPassword, http.StatusBadRequest, "WEAK_PASSWORD", "password must be between 8 and 128 characters"},
	{auth.ErrPasswordTooLong, http.StatusBadRequest, "WEAK_PASSWORD", "password must be between 8 and 128 characters"},
	{service.ErrEmailTaken, http.StatusConflict, "EMAIL_EXISTS", "email already registered"},
	{service.ErrInvalidCredentials, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid email or password"},
	{service.ErrUserNotFound, http.StatusNotFound, "USER_NOT_FOUND", "user not found"},
	{ledger.ErrUserNotFound, http.StatusNotFound, "USER_NOT_FOUND", "user not found"},
	{ledger.ErrInsufficientCredit, http.StatusPaymentRequired, "INSUFFICIENT_CREDIT", "no credit balance"},
	{ledger.ErrInvalidAmount, http.StatusBadRequest, "INVALID_AMOUNT", "amount must be positive"},
	{asset.ErrInvalidPrompt, http.StatusBadRequest, "INVALID_PROMPT", "prompt must be between 1 and 1000 characters"},
	{asset.ErrGenerationFailed, http.StatusBadGateway, "GENERATION_FAILED", "image generation failed, your credit was refunded"},
	{asset.ErrNotFoundOrUnauthorized, http.StatusNotFound, "IMAGE_NOT_FOUND", "image not found"},
	{payment.ErrUnknownPlan, http.StatusBadRequest, "UNKNOWN_PLAN", "unknown plan"},
	{payment.ErrGatewayUnavailable, http.StatusServiceUnavailable, "GATEWAY_UNAVAILABLE", "payment gateway unavailable, try again"},
	{payment.ErrPaymentNotConfirmed, http.StatusPaymentRequired, "PAYMENT_NOT_CONFIRMED", "payment not confirmed"},
	{payment.ErrTransactionNotFound, http.StatusNotFound, "TRANSACTION_NOT_FOUND", "transaction not found"},
	{payment.ErrTransactionClosed, http.StatusConflict, "TRANSACTION_CLOSED", "transaction already closed"},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "TIMEOUT", "request timed out"},
}

// handleServiceError maps service errors to HTTP responses.
func handleServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	for _, m := range serviceErrors {
		if errors.Is(err, m.err) {
			writeError(w, m.status, m.code, m.message)
			return
		}
	}

	logger.Error("internal_error", "error", err)
	writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
}
