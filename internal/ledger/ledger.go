// Package ledger owns every mutation of a user's credit balance.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/imagify/imagify/internal/metrics"
	"github.com/imagify/imagify/internal/store"
)

// Ledger errors.
var (
	ErrInsufficientCredit = errors.New("insufficient credit")
	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrUserNotFound       = errors.New("user not found")
)

// Ledger applies debits and credits through a BalanceStore. The store makes
// each mutation a single atomic step; the ledger adds validation, error
// mapping and instrumentation.
type Ledger struct {
	balances store.BalanceStore
	logger   *slog.Logger
	metrics  metrics.Recorder
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithMetrics sets the metrics recorder.
func WithMetrics(m metrics.Recorder) Option {
	return func(l *Ledger) {
		if m != nil {
			l.metrics = m
		}
	}
}

// New creates a Ledger.
func New(balances store.BalanceStore, logger *slog.Logger, opts ...Option) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Ledger{
		balances: balances,
		logger:   logger.With("component", "ledger"),
		metrics:  metrics.NewNoop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// GetBalance returns the user's current balance.
func (l *Ledger) GetBalance(ctx context.Context, userID string) (int64, error) {
	balance, err := l.balances.GetBalance(ctx, userID)
	if err != nil {
		return 0, mapStoreError(err)
	}
	return balance, nil
}

// Debit removes n credits, failing with ErrInsufficientCredit and leaving
// the balance untouched when it does not cover n.
func (l *Ledger) Debit(ctx context.Context, userID string, n int64, reason string) (int64, error) {
	if n <= 0 {
		return 0, ErrInvalidAmount
	}

	balance, err := l.balances.DebitBalance(ctx, store.BalanceMutation{
		UserID: userID,
		Amount: n,
		Reason: reason,
	})
	if err != nil {
		if errors.Is(err, store.ErrInsufficientBalance) {
			l.metrics.IncCreditDebited("insufficient")
		}
		return balance, mapStoreError(err)
	}

	l.metrics.IncCreditDebited("success")
	return balance, nil
}

// Credit adds n credits.
func (l *Ledger) Credit(ctx context.Context, userID string, n int64, reason string) (int64, error) {
	balance, _, err := l.credit(ctx, store.BalanceMutation{UserID: userID, Amount: n, Reason: reason})
	return balance, err
}

// CreditOnce adds n credits unless a credit with the same reference was
// already applied. It reports whether this call applied it.
func (l *Ledger) CreditOnce(ctx context.Context, userID string, n int64, reason, reference string) (bool, error) {
	if reference == "" {
		return false, fmt.Errorf("credit once: empty reference")
	}

	_, applied, err := l.credit(ctx, store.BalanceMutation{
		UserID:    userID,
		Amount:    n,
		Reason:    reason,
		Reference: reference,
	})
	if err != nil {
		return false, err
	}

	if !applied {
		l.logger.Info("credit already applied", "user_id", userID, "reference", reference)
	}
	return applied, nil
}

// HasEntry reports whether a credit with the reference was applied.
func (l *Ledger) HasEntry(ctx context.Context, reference string) (bool, error) {
	ok, err := l.balances.HasCreditEntry(ctx, reference)
	if err != nil {
		return false, fmt.Errorf("check credit entry: %w", err)
	}
	return ok, nil
}

func (l *Ledger) credit(ctx context.Context, m store.BalanceMutation) (int64, bool, error) {
	if m.Amount <= 0 {
		return 0, false, ErrInvalidAmount
	}

	balance, applied, err := l.balances.CreditBalance(ctx, m)
	if err != nil {
		return 0, false, mapStoreError(err)
	}
	if applied {
		l.metrics.IncCreditGranted(m.Reason)
	}
	return balance, applied, nil
}

func mapStoreError(err error) error {
	switch {
	case errors.Is(err, store.ErrInsufficientBalance):
		return ErrInsufficientCredit
	case errors.Is(err, store.ErrUserNotFound):
		return ErrUserNotFound
	default:
		return fmt.Errorf("ledger: %w", err)
	}
}
