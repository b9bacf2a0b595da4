package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/imagify/imagify/internal/metrics"
	"github.com/imagify/imagify/internal/model"
	"github.com/imagify/imagify/internal/store"
	"github.com/oklog/ulid/v2"
)

// Payment errors.
var (
	ErrUnknownPlan         = errors.New("unknown plan")
	ErrGatewayUnavailable  = errors.New("payment gateway unavailable")
	ErrPaymentNotConfirmed = errors.New("payment not confirmed")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrTransactionClosed   = errors.New("transaction already closed")
)

// Journal creates transactions and owns their state machine.
type Journal struct {
	txs      store.TransactionStore
	gateway  Gateway
	catalog  model.PlanCatalog
	currency string
	logger   *slog.Logger
	metrics  metrics.Recorder
	now      func() time.Time
}

// JournalConfig configures a Journal.
type JournalConfig struct {
	Catalog  model.PlanCatalog
	Currency string
	Logger   *slog.Logger
	Metrics  metrics.Recorder
}

// NewJournal creates a Journal.
func NewJournal(txs store.TransactionStore, gateway Gateway, cfg JournalConfig) *Journal {
	if cfg.Catalog == nil {
		cfg.Catalog = model.DefaultPlanCatalog()
	}
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoop()
	}

	return &Journal{
		txs:      txs,
		gateway:  gateway,
		catalog:  cfg.Catalog,
		currency: cfg.Currency,
		logger:   cfg.Logger.With("component", "payment_journal"),
		metrics:  cfg.Metrics,
		now:      time.Now,
	}
}

// Plans returns the purchasable plans.
func (j *Journal) Plans() []model.Plan {
	return j.catalog.List()
}

// Initiate creates a pending transaction for the plan and a matching
// gateway order. The returned transaction carries the order id.
func (j *Journal) Initiate(ctx context.Context, userID, planID string) (*model.Transaction, error) {
	plan, ok := j.catalog.Lookup(planID)
	if !ok {
		j.metrics.IncPaymentInitiated("unknown_plan")
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlan, planID)
	}

	now := j.now().UTC()
	tx := &model.Transaction{
		ID:             ulid.Make().String(),
		UserID:         userID,
		Plan:           plan.ID,
		CreditsGranted: plan.Credits,
		AmountCharged:  plan.Amount,
		Currency:       j.currency,
		Status:         model.TransactionPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := j.txs.CreateTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}

	orderID, err := j.gateway.CreateOrder(ctx, plan.MinorUnits(), j.currency, tx.ID)
	if err != nil {
		j.logger.Error("gateway order creation failed",
			"transaction_id", tx.ID,
			"plan", plan.ID,
			"error", err,
		)
		// The order never existed, so the transaction can never be paid.
		if _, terr := j.txs.TransitionTransaction(context.WithoutCancel(ctx), tx.ID, model.TransactionPending, model.TransactionFailed); terr != nil {
			j.logger.Error("failed to close transaction", "transaction_id", tx.ID, "error", terr)
		}
		j.metrics.IncPaymentInitiated("gateway_error")
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	if err := j.txs.SetTransactionOrderID(ctx, tx.ID, orderID); err != nil {
		return nil, fmt.Errorf("record order id: %w", err)
	}
	tx.ExternalOrderID = orderID

	j.logger.Info("payment initiated",
		"transaction_id", tx.ID,
		"user_id", userID,
		"plan", plan.ID,
		"order_id", orderID,
	)
	j.metrics.IncPaymentInitiated("success")
	return tx, nil
}

// Get returns a transaction by id.
func (j *Journal) Get(ctx context.Context, id string) (*model.Transaction, error) {
	tx, err := j.txs.GetTransaction(ctx, id)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return tx, nil
}

// GetByOrderID returns the transaction recorded for a gateway order.
func (j *Journal) GetByOrderID(ctx context.Context, orderID string) (*model.Transaction, error) {
	tx, err := j.txs.GetTransactionByOrderID(ctx, orderID)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return tx, nil
}

// findForOrder resolves the transaction behind a gateway order, falling back
// to the receipt when the order id was never recorded.
func (j *Journal) findForOrder(ctx context.Context, order *Order) (*model.Transaction, error) {
	tx, err := j.txs.GetTransactionByOrderID(ctx, order.ID)
	if err == nil {
		return tx, nil
	}
	if !errors.Is(err, store.ErrTransactionNotFound) || order.Receipt == "" {
		return nil, mapStoreError(err)
	}

	tx, err = j.txs.GetTransaction(ctx, order.Receipt)
	if err != nil {
		return nil, mapStoreError(err)
	}
	if tx.ExternalOrderID != "" && tx.ExternalOrderID != order.ID {
		return nil, ErrTransactionNotFound
	}
	return tx, nil
}

// transition performs the status compare-and-set.
func (j *Journal) transition(ctx context.Context, id string, to model.TransactionStatus) (bool, error) {
	ok, err := j.txs.TransitionTransaction(ctx, id, model.TransactionPending, to)
	if err != nil {
		return false, mapStoreError(err)
	}
	return ok, nil
}

func mapStoreError(err error) error {
	if errors.Is(err, store.ErrTransactionNotFound) {
		return ErrTransactionNotFound
	}
	return fmt.Errorf("transaction store: %w", err)
}
