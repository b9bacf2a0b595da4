package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/imagify/imagify/internal/model"
	"github.com/imagify/imagify/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const transactionColumns = `id, user_id, plan, credits_granted, amount_charged::text, currency,
	COALESCE(external_order_id, ''), status, created_at, updated_at`

// CreateTransaction inserts a new payment transaction.
func (r *Repository) CreateTransaction(ctx context.Context, t *model.Transaction) error {
	query := `
		INSERT INTO transactions (id, user_id, plan, credits_granted, amount_charged, currency, external_order_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10)
	`

	_, err := r.pool.Exec(ctx, query,
		t.ID,
		t.UserID,
		t.Plan,
		t.CreditsGranted,
		t.AmountCharged.String(),
		t.Currency,
		nullable(t.ExternalOrderID),
		string(t.Status),
		t.CreatedAt,
		t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}

	return nil
}

// GetTransaction retrieves a transaction by its ID.
func (r *Repository) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`

	t, err := scanTransaction(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return t, nil
}

// GetTransactionByOrderID retrieves a transaction by its gateway order id.
func (r *Repository) GetTransactionByOrderID(ctx context.Context, orderID string) (*model.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE external_order_id = $1`

	t, err := scanTransaction(r.pool.QueryRow(ctx, query, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get transaction by order: %w", err)
	}
	return t, nil
}

// SetTransactionOrderID records the gateway order created for a transaction.
func (r *Repository) SetTransactionOrderID(ctx context.Context, id, orderID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE transactions
		SET external_order_id = $2, updated_at = $3
		WHERE id = $1
	`, id, orderID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set order id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrTransactionNotFound
	}
	return nil
}

// TransitionTransaction is a compare-and-set on status.
func (r *Repository) TransitionTransaction(ctx context.Context, id string, from, to model.TransactionStatus) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE transactions
		SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
	`, id, string(from), string(to), time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to transition transaction: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	// Distinguish a lost race from a missing row.
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM transactions WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check transaction: %w", err)
	}
	if !exists {
		return false, store.ErrTransactionNotFound
	}
	return false, nil
}

func scanTransaction(row pgx.Row) (*model.Transaction, error) {
	var (
		t      model.Transaction
		amount string
		status string
	)
	err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.Plan,
		&t.CreditsGranted,
		&amount,
		&t.Currency,
		&t.ExternalOrderID,
		&status,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.AmountCharged, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	t.Status = model.TransactionStatus(status)
	return &t, nil
}
