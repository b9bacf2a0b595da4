package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/imagify/imagify/internal/model"
	"github.com/imagify/imagify/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
)

// errAlreadyApplied rolls back a credit whose reference already has an entry.
var errAlreadyApplied = errors.New("reference already applied")

// GetBalance returns the user's current credit balance.
func (r *Repository) GetBalance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := r.pool.QueryRow(ctx, `SELECT credit_balance FROM users WHERE id = $1`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, store.ErrUserNotFound
		}
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

// DebitBalance subtracts the amount with a single conditional update so the
// balance check and the write can never interleave with another mutation.
func (r *Repository) DebitBalance(ctx context.Context, m store.BalanceMutation) (int64, error) {
	var balance int64

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			UPDATE users
			SET credit_balance = credit_balance - $2
			WHERE id = $1 AND credit_balance >= $2
			RETURNING credit_balance
		`, m.UserID, m.Amount).Scan(&balance)

		if errors.Is(err, pgx.ErrNoRows) {
			// Either the user is missing or the balance does not cover it.
			if err := tx.QueryRow(ctx, `SELECT credit_balance FROM users WHERE id = $1`, m.UserID).Scan(&balance); err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return store.ErrUserNotFound
				}
				return fmt.Errorf("failed to read balance: %w", err)
			}
			return store.ErrInsufficientBalance
		}
		if err != nil {
			return fmt.Errorf("failed to debit balance: %w", err)
		}

		tag, err := insertEntry(ctx, tx, m, -m.Amount)
		if err != nil {
			return err
		}
		if tag == 0 {
			return fmt.Errorf("debit: reference %q already applied", m.Reference)
		}
		return nil
	})

	return balance, err
}

// CreditBalance adds the amount. The user row is locked by the update, so
// concurrent credits with the same reference are serialized and the second
// one finds the entry and rolls back.
func (r *Repository) CreditBalance(ctx context.Context, m store.BalanceMutation) (int64, bool, error) {
	var balance int64

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			UPDATE users
			SET credit_balance = credit_balance + $2
			WHERE id = $1
			RETURNING credit_balance
		`, m.UserID, m.Amount).Scan(&balance)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return store.ErrUserNotFound
			}
			return fmt.Errorf("failed to credit balance: %w", err)
		}

		inserted, err := insertEntry(ctx, tx, m, m.Amount)
		if err != nil {
			return err
		}
		if inserted == 0 {
			return errAlreadyApplied
		}
		return nil
	})

	if errors.Is(err, errAlreadyApplied) {
		current, err := r.GetBalance(ctx, m.UserID)
		return current, false, err
	}
	if err != nil {
		return 0, false, err
	}
	return balance, true, nil
}

// HasCreditEntry reports whether an entry with the reference exists.
func (r *Repository) HasCreditEntry(ctx context.Context, reference string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM credit_entries WHERE reference = $1)`,
		reference,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check credit entry: %w", err)
	}
	return exists, nil
}

// ListCreditEntries returns the user's most recent balance mutations.
func (r *Repository) ListCreditEntries(ctx context.Context, userID string, limit int) ([]*model.CreditEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, delta, reason, COALESCE(reference, ''), created_at
		FROM credit_entries
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list credit entries: %w", err)
	}
	defer rows.Close()

	var entries []*model.CreditEntry
	for rows.Next() {
		var e model.CreditEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Delta, &e.Reason, &e.Reference, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan credit entry: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return entries, nil
}

// insertEntry appends the audit row and returns the number of rows written.
// Zero means the reference was already taken.
func insertEntry(ctx context.Context, tx pgx.Tx, m store.BalanceMutation, delta int64) (int64, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO credit_entries (id, user_id, delta, reason, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (reference) DO NOTHING
	`, ulid.Make().String(), m.UserID, delta, m.Reason, nullable(m.Reference), time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to insert credit entry: %w", err)
	}
	return tag.RowsAffected(), nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
