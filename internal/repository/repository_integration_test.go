//go:build integration

package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/imagify/imagify/internal/model"
	"github.com/imagify/imagify/internal/store"
	"github.com/imagify/imagify/internal/testutil"
)

func newTestRepo(t *testing.T) (context.Context, *Repository) {
	t.Helper()
	ctx, pool := testutil.NewPostgres(t)
	return ctx, NewFromPool(pool)
}

func createUser(t *testing.T, ctx context.Context, repo *Repository, balance int64) *model.User {
	t.Helper()
	u := testutil.NewTestUser(t, balance)
	if err := repo.CreateUser(ctx, u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return u
}

func TestIntegrationUser_DuplicateEmail(t *testing.T) {
	ctx, repo := newTestRepo(t)
	u := createUser(t, ctx, repo, 0)

	dup := testutil.NewTestUser(t, 0)
	dup.Email = u.Email
	if err := repo.CreateUser(ctx, dup); !errors.Is(err, store.ErrEmailExists) {
		t.Fatalf("expected ErrEmailExists, got %v", err)
	}

	got, err := repo.GetUserByEmail(ctx, u.Email)
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	if got.ID != u.ID {
		t.Errorf("got user %s, want %s", got.ID, u.ID)
	}
}

func TestIntegrationBalance_DebitInsufficient(t *testing.T) {
	ctx, repo := newTestRepo(t)
	u := createUser(t, ctx, repo, 1)

	bal, err := repo.DebitBalance(ctx, store.BalanceMutation{UserID: u.ID, Amount: 1, Reason: "generate"})
	if err != nil || bal != 0 {
		t.Fatalf("first debit: bal=%d err=%v", bal, err)
	}

	_, err = repo.DebitBalance(ctx, store.BalanceMutation{UserID: u.ID, Amount: 1, Reason: "generate"})
	if !errors.Is(err, store.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	_, err = repo.DebitBalance(ctx, store.BalanceMutation{UserID: "missing", Amount: 1, Reason: "generate"})
	if !errors.Is(err, store.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestIntegrationBalance_CreditReferenceOnce(t *testing.T) {
	ctx, repo := newTestRepo(t)
	u := createUser(t, ctx, repo, 0)

	var wg sync.WaitGroup
	var mu sync.Mutex
	applied := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := repo.CreditBalance(ctx, store.BalanceMutation{
				UserID: u.ID, Amount: 500, Reason: "payment", Reference: "payment:tx-1",
			})
			if err != nil {
				t.Errorf("CreditBalance: %v", err)
				return
			}
			if ok {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if applied != 1 {
		t.Errorf("applied %d times, want 1", applied)
	}
	bal, _ := repo.GetBalance(ctx, u.ID)
	if bal != 500 {
		t.Errorf("balance = %d, want 500", bal)
	}
	has, err := repo.HasCreditEntry(ctx, "payment:tx-1")
	if err != nil || !has {
		t.Errorf("HasCreditEntry = %v, %v", has, err)
	}
}

func TestIntegrationBalance_ConcurrentDebitsNeverNegative(t *testing.T) {
	ctx, repo := newTestRepo(t)
	u := createUser(t, ctx, repo, 10)

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = repo.DebitBalance(ctx, store.BalanceMutation{UserID: u.ID, Amount: 1, Reason: "generate"})
		}()
	}
	wg.Wait()

	bal, err := repo.GetBalance(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if bal != 0 {
		t.Errorf("balance = %d, want 0", bal)
	}

	entries, err := repo.ListCreditEntries(ctx, u.ID, 100)
	if err != nil {
		t.Fatalf("ListCreditEntries: %v", err)
	}
	if len(entries) != 10 {
		t.Errorf("entries = %d, want 10", len(entries))
	}
}

func TestIntegrationTransaction_TransitionOnce(t *testing.T) {
	ctx, repo := newTestRepo(t)
	u := createUser(t, ctx, repo, 0)

	tx := testutil.NewTestTransaction(t, u.ID)
	if err := repo.CreateTransaction(ctx, tx); err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}
	if err := repo.SetTransactionOrderID(ctx, tx.ID, "order_1"); err != nil {
		t.Fatalf("SetTransactionOrderID: %v", err)
	}

	ok, err := repo.TransitionTransaction(ctx, tx.ID, model.TransactionPending, model.TransactionPaid)
	if err != nil || !ok {
		t.Fatalf("first transition: ok=%v err=%v", ok, err)
	}
	ok, err = repo.TransitionTransaction(ctx, tx.ID, model.TransactionPending, model.TransactionPaid)
	if err != nil || ok {
		t.Fatalf("second transition: ok=%v err=%v", ok, err)
	}

	got, err := repo.GetTransactionByOrderID(ctx, "order_1")
	if err != nil {
		t.Fatalf("GetTransactionByOrderID: %v", err)
	}
	if got.Status != model.TransactionPaid {
		t.Errorf("status = %s, want paid", got.Status)
	}
	if !got.AmountCharged.Equal(tx.AmountCharged) {
		t.Errorf("amount = %s, want %s", got.AmountCharged, tx.AmountCharged)
	}

	if _, err := repo.TransitionTransaction(ctx, "missing", model.TransactionPending, model.TransactionPaid); !errors.Is(err, store.ErrTransactionNotFound) {
		t.Errorf("expected ErrTransactionNotFound, got %v", err)
	}
}

func TestIntegrationAsset_ListAndExpire(t *testing.T) {
	ctx, repo := newTestRepo(t)
	u := createUser(t, ctx, repo, 0)

	now := time.Now().UTC()
	old := testutil.NewTestAsset(t, u.ID, now.Add(-31*24*time.Hour))
	recent := testutil.NewTestAsset(t, u.ID, now.Add(-29*24*time.Hour))
	for _, a := range []*model.Asset{old, recent} {
		if err := repo.CreateAsset(ctx, a); err != nil {
			t.Fatalf("CreateAsset: %v", err)
		}
	}

	page, total, err := repo.ListAssetsByOwner(ctx, u.ID, 10, 0)
	if err != nil {
		t.Fatalf("ListAssetsByOwner: %v", err)
	}
	if total != 2 || len(page) != 2 || page[0].ID != recent.ID {
		t.Fatalf("unexpected page: total=%d len=%d", total, len(page))
	}

	expired, err := repo.ListAssetsCreatedBefore(ctx, now.Add(-30*24*time.Hour), 100)
	if err != nil {
		t.Fatalf("ListAssetsCreatedBefore: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != old.ID {
		t.Fatalf("expired = %v, want only %s", expired, old.ID)
	}

	if err := repo.DeleteAsset(ctx, old.ID); err != nil {
		t.Fatalf("DeleteAsset: %v", err)
	}
	if err := repo.DeleteAsset(ctx, old.ID); !errors.Is(err, store.ErrAssetNotFound) {
		t.Fatalf("expected ErrAssetNotFound, got %v", err)
	}

	refs, err := repo.ListBlobRefs(ctx)
	if err != nil {
		t.Fatalf("ListBlobRefs: %v", err)
	}
	if len(refs) != 1 || refs[0] != recent.BlobRef {
		t.Errorf("refs = %v", refs)
	}
}
