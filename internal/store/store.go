// Package store defines the persistence contracts shared by every metadata
// backend (Postgres, in-memory).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/imagify/imagify/internal/model"
)

// Sentinel errors shared across all backend implementations.
var (
	ErrUserNotFound        = errors.New("user not found")
	ErrEmailExists         = errors.New("email already exists")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrAssetNotFound       = errors.New("asset not found")
)

// UserStore persists user accounts.
type UserStore interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
}

// BalanceMutation describes one change to a user's balance.
// Reference, when set, makes the mutation at-most-once.
type BalanceMutation struct {
	UserID    string
	Amount    int64
	Reason    string
	Reference string
}

// BalanceStore owns credit balances. Every method is a single atomic step:
// implementations must never expose a negative balance and must serialize
// mutations per user without blocking other users.
type BalanceStore interface {
	GetBalance(ctx context.Context, userID string) (int64, error)

	// DebitBalance subtracts m.Amount if and only if the balance covers it.
	// Returns ErrInsufficientBalance otherwise, leaving the balance unchanged.
	DebitBalance(ctx context.Context, m BalanceMutation) (int64, error)

	// CreditBalance adds m.Amount. When m.Reference was already applied the
	// balance is left unchanged and applied is false.
	CreditBalance(ctx context.Context, m BalanceMutation) (balance int64, applied bool, err error)

	// HasCreditEntry reports whether a mutation with the reference exists.
	HasCreditEntry(ctx context.Context, reference string) (bool, error)

	ListCreditEntries(ctx context.Context, userID string, limit int) ([]*model.CreditEntry, error)
}

// TransactionStore persists payment transactions.
type TransactionStore interface {
	CreateTransaction(ctx context.Context, tx *model.Transaction) error
	GetTransaction(ctx context.Context, id string) (*model.Transaction, error)
	GetTransactionByOrderID(ctx context.Context, orderID string) (*model.Transaction, error)
	SetTransactionOrderID(ctx context.Context, id, orderID string) error

	// TransitionTransaction moves a transaction from one status to another
	// as a single compare-and-set. It returns false, nil when the current
	// status is not from.
	TransitionTransaction(ctx context.Context, id string, from, to model.TransactionStatus) (bool, error)
}

// AssetStore persists asset metadata records.
type AssetStore interface {
	CreateAsset(ctx context.Context, asset *model.Asset) error
	GetAsset(ctx context.Context, id string) (*model.Asset, error)
	DeleteAsset(ctx context.Context, id string) error

	// ListAssetsByOwner returns a newest-first page and the owner's total.
	ListAssetsByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*model.Asset, int, error)

	// ListAssetsCreatedBefore returns up to limit records older than cutoff.
	ListAssetsCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*model.Asset, error)

	// ListAssetsAfter pages through all records ordered by id.
	ListAssetsAfter(ctx context.Context, afterID string, limit int) ([]*model.Asset, error)

	// ListBlobRefs returns the blob reference of every live record.
	ListBlobRefs(ctx context.Context) ([]string, error)
}
