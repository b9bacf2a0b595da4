package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/imagify/imagify/internal/metrics"
	"github.com/imagify/imagify/internal/model"
	"golang.org/x/sync/singleflight"
)

const creditReason = "payment"

// CreditGranter applies at-most-once credits. *ledger.Ledger satisfies it.
type CreditGranter interface {
	CreditOnce(ctx context.Context, userID string, n int64, reason, reference string) (bool, error)
	HasEntry(ctx context.Context, reference string) (bool, error)
}

// Verification is the outcome of a successful Verify.
type Verification struct {
	Transaction *model.Transaction
	// Credited is true when this verification applied the credit grant.
	// Callers collapsed into the same in-flight verification all see it.
	Credited bool
}

// Verifier confirms gateway orders and grants credits exactly once per
// transaction. Verify may be called any number of times for one order.
type Verifier struct {
	journal *Journal
	gateway Gateway
	credits CreditGranter
	logger  *slog.Logger
	metrics metrics.Recorder
	timeout time.Duration

	group singleflight.Group
}

// VerifierConfig configures a Verifier.
type VerifierConfig struct {
	// Timeout bounds one verification, gateway call included.
	Timeout time.Duration
	Logger  *slog.Logger
	Metrics metrics.Recorder
}

// NewVerifier creates a Verifier.
func NewVerifier(journal *Journal, gateway Gateway, credits CreditGranter, cfg VerifierConfig) *Verifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoop()
	}

	return &Verifier{
		journal: journal,
		gateway: gateway,
		credits: credits,
		logger:  cfg.Logger.With("component", "payment_verifier"),
		metrics: cfg.Metrics,
		timeout: cfg.Timeout,
	}
}

// CreditReference is the ledger reference of a transaction's grant.
func CreditReference(transactionID string) string {
	return "payment:" + transactionID
}

// Verify checks the order with the gateway and settles its transaction.
// Concurrent calls for one order inside this process share a single
// execution; across processes the status compare-and-set decides.
func (v *Verifier) Verify(ctx context.Context, orderID string) (*Verification, error) {
	if orderID == "" {
		return nil, ErrTransactionNotFound
	}

	ch := v.group.DoChan(orderID, func() (any, error) {
		// Detached so one caller giving up does not fail the others.
		vctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), v.timeout)
		defer cancel()
		return v.verify(vctx, orderID)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Verification), nil
	}
}

func (v *Verifier) verify(ctx context.Context, orderID string) (*Verification, error) {
	order, err := v.gateway.FetchOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, fmt.Errorf("%w: order %s", ErrTransactionNotFound, orderID)
		}
		v.metrics.IncPaymentVerified("gateway_error")
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	tx, err := v.journal.findForOrder(ctx, order)
	if err != nil {
		return nil, err
	}

	log := v.logger.With("transaction_id", tx.ID, "order_id", orderID)

	if !order.Paid() {
		return v.settleUnpaid(ctx, log, tx, order)
	}
	return v.settlePaid(ctx, log, tx)
}

func (v *Verifier) settleUnpaid(ctx context.Context, log *slog.Logger, tx *model.Transaction, order *Order) (*Verification, error) {
	moved, err := v.journal.transition(ctx, tx.ID, model.TransactionFailed)
	if err != nil {
		return nil, err
	}
	if moved {
		log.Info("payment not confirmed", "gateway_status", order.Status)
		v.metrics.IncPaymentVerified("not_confirmed")
		return nil, ErrPaymentNotConfirmed
	}

	current, err := v.journal.Get(ctx, tx.ID)
	if err != nil {
		return nil, err
	}
	if current.Status == model.TransactionPaid {
		// A concurrent verification already settled it.
		v.metrics.IncPaymentVerified("already_paid")
		return &Verification{Transaction: current}, nil
	}

	v.metrics.IncPaymentVerified("not_confirmed")
	return nil, ErrPaymentNotConfirmed
}

func (v *Verifier) settlePaid(ctx context.Context, log *slog.Logger, tx *model.Transaction) (*Verification, error) {
	won, err := v.journal.transition(ctx, tx.ID, model.TransactionPaid)
	if err != nil {
		return nil, err
	}

	if won {
		applied, err := v.grant(ctx, tx)
		if err != nil {
			// Status is paid but the entry is missing; the next Verify repairs it.
			log.Error("credit grant failed after settlement", "error", err)
			return nil, err
		}
		tx.Status = model.TransactionPaid
		log.Info("payment settled", "user_id", tx.UserID, "credits", tx.CreditsGranted)
		v.metrics.IncPaymentVerified("credited")
		return &Verification{Transaction: tx, Credited: applied}, nil
	}

	current, err := v.journal.Get(ctx, tx.ID)
	if err != nil {
		return nil, err
	}

	switch current.Status {
	case model.TransactionPaid:
		ref := CreditReference(current.ID)
		has, err := v.credits.HasEntry(ctx, ref)
		if err != nil {
			return nil, err
		}
		applied := false
		if !has {
			log.Warn("paid transaction missing credit entry, re-applying grant")
			if applied, err = v.grant(ctx, current); err != nil {
				return nil, err
			}
		}
		v.metrics.IncPaymentVerified("already_paid")
		return &Verification{Transaction: current, Credited: applied}, nil

	case model.TransactionFailed:
		log.Warn("gateway reports paid for a failed transaction, manual review required",
			"user_id", current.UserID,
			"plan", current.Plan,
		)
		v.metrics.IncPaymentVerified("closed")
		return nil, ErrTransactionClosed

	default:
		return nil, fmt.Errorf("transaction %s still %s after settlement", current.ID, current.Status)
	}
}

func (v *Verifier) grant(ctx context.Context, tx *model.Transaction) (bool, error) {
	applied, err := v.credits.CreditOnce(ctx, tx.UserID, tx.CreditsGranted, creditReason, CreditReference(tx.ID))
	if err != nil {
		return false, fmt.Errorf("grant credits: %w", err)
	}
	return applied, nil
}
