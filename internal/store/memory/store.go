// Package memory is an in-process implementation of the store contracts.
// It backs unit tests of the services built on top of it.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/imagify/imagify/internal/model"
	"github.com/imagify/imagify/internal/store"
)

var (
	_ store.UserStore        = (*Store)(nil)
	_ store.BalanceStore     = (*Store)(nil)
	_ store.TransactionStore = (*Store)(nil)
	_ store.AssetStore       = (*Store)(nil)
)

// account holds one user's balance behind its own lock so that mutations
// for different users never contend.
type account struct {
	mu      sync.Mutex
	balance int64
}

type Store struct {
	mu sync.RWMutex

	users    map[string]*model.User
	emails   map[string]string
	accounts map[string]*account

	entryMu    sync.Mutex
	entries    []*model.CreditEntry
	references map[string]struct{}

	txMu         sync.Mutex
	transactions map[string]*model.Transaction
	orders       map[string]string

	assetMu sync.RWMutex
	assets  map[string]*model.Asset
}

func New() *Store {
	return &Store{
		users:        make(map[string]*model.User),
		emails:       make(map[string]string),
		accounts:     make(map[string]*account),
		references:   make(map[string]struct{}),
		transactions: make(map[string]*model.Transaction),
		orders:       make(map[string]string),
		assets:       make(map[string]*model.Asset),
	}
}

// Ping always succeeds.
func (s *Store) Ping(_ context.Context) error { return nil }

// User store

func (s *Store) CreateUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(u.Email)
	if _, exists := s.emails[email]; exists {
		return store.ErrEmailExists
	}
	if u.CreditBalance < 0 {
		return fmt.Errorf("create user: negative starting balance %d", u.CreditBalance)
	}

	cp := *u
	s.users[u.ID] = &cp
	s.emails[email] = u.ID
	s.accounts[u.ID] = &account{balance: u.CreditBalance}
	return nil
}

func (s *Store) GetUserByID(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	u, ok := s.users[id]
	acct := s.accounts[id]
	s.mu.RUnlock()

	if !ok {
		return nil, store.ErrUserNotFound
	}

	cp := *u
	acct.mu.Lock()
	cp.CreditBalance = acct.balance
	acct.mu.Unlock()
	return &cp, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	s.mu.RLock()
	id, ok := s.emails[strings.ToLower(email)]
	s.mu.RUnlock()

	if !ok {
		return nil, store.ErrUserNotFound
	}
	return s.GetUserByID(ctx, id)
}

// Balance store

func (s *Store) account(userID string) (*account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[userID]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	return acct, nil
}

func (s *Store) GetBalance(_ context.Context, userID string) (int64, error) {
	acct, err := s.account(userID)
	if err != nil {
		return 0, err
	}

	acct.mu.Lock()
	defer acct.mu.Unlock()
	return acct.balance, nil
}

func (s *Store) DebitBalance(_ context.Context, m store.BalanceMutation) (int64, error) {
	acct, err := s.account(m.UserID)
	if err != nil {
		return 0, err
	}

	acct.mu.Lock()
	defer acct.mu.Unlock()

	if acct.balance < m.Amount {
		return acct.balance, store.ErrInsufficientBalance
	}
	if m.Reference != "" && !s.reserveReference(m.Reference) {
		return acct.balance, fmt.Errorf("debit: reference %q already applied", m.Reference)
	}

	acct.balance -= m.Amount
	s.appendEntry(m, -m.Amount)
	return acct.balance, nil
}

func (s *Store) CreditBalance(_ context.Context, m store.BalanceMutation) (int64, bool, error) {
	acct, err := s.account(m.UserID)
	if err != nil {
		return 0, false, err
	}

	acct.mu.Lock()
	defer acct.mu.Unlock()

	if m.Reference != "" && !s.reserveReference(m.Reference) {
		return acct.balance, false, nil
	}

	acct.balance += m.Amount
	s.appendEntry(m, m.Amount)
	return acct.balance, true, nil
}

func (s *Store) HasCreditEntry(_ context.Context, reference string) (bool, error) {
	s.entryMu.Lock()
	defer s.entryMu.Unlock()

	_, ok := s.references[reference]
	return ok, nil
}

func (s *Store) ListCreditEntries(_ context.Context, userID string, limit int) ([]*model.CreditEntry, error) {
	s.entryMu.Lock()
	defer s.entryMu.Unlock()

	var out []*model.CreditEntry
	for i := len(s.entries) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if s.entries[i].UserID == userID {
			cp := *s.entries[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

// reserveReference claims a reference; false means it was already taken.
func (s *Store) reserveReference(ref string) bool {
	s.entryMu.Lock()
	defer s.entryMu.Unlock()

	if _, taken := s.references[ref]; taken {
		return false
	}
	s.references[ref] = struct{}{}
	return true
}

func (s *Store) appendEntry(m store.BalanceMutation, delta int64) {
	s.entryMu.Lock()
	defer s.entryMu.Unlock()

	s.entries = append(s.entries, &model.CreditEntry{
		ID:        fmt.Sprintf("entry-%d", len(s.entries)+1),
		UserID:    m.UserID,
		Delta:     delta,
		Reason:    m.Reason,
		Reference: m.Reference,
		CreatedAt: time.Now().UTC(),
	})
}

// Transaction store

func (s *Store) CreateTransaction(_ context.Context, tx *model.Transaction) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if _, exists := s.transactions[tx.ID]; exists {
		return fmt.Errorf("create transaction: duplicate id %s", tx.ID)
	}
	cp := *tx
	s.transactions[tx.ID] = &cp
	if tx.ExternalOrderID != "" {
		s.orders[tx.ExternalOrderID] = tx.ID
	}
	return nil
}

func (s *Store) GetTransaction(_ context.Context, id string) (*model.Transaction, error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx, ok := s.transactions[id]
	if !ok {
		return nil, store.ErrTransactionNotFound
	}
	cp := *tx
	return &cp, nil
}

func (s *Store) GetTransactionByOrderID(ctx context.Context, orderID string) (*model.Transaction, error) {
	s.txMu.Lock()
	id, ok := s.orders[orderID]
	s.txMu.Unlock()

	if !ok {
		return nil, store.ErrTransactionNotFound
	}
	return s.GetTransaction(ctx, id)
}

func (s *Store) SetTransactionOrderID(_ context.Context, id, orderID string) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx, ok := s.transactions[id]
	if !ok {
		return store.ErrTransactionNotFound
	}
	tx.ExternalOrderID = orderID
	tx.UpdatedAt = time.Now().UTC()
	s.orders[orderID] = id
	return nil
}

func (s *Store) TransitionTransaction(_ context.Context, id string, from, to model.TransactionStatus) (bool, error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx, ok := s.transactions[id]
	if !ok {
		return false, store.ErrTransactionNotFound
	}
	if tx.Status != from {
		return false, nil
	}
	tx.Status = to
	tx.UpdatedAt = time.Now().UTC()
	return true, nil
}

// Asset store

func (s *Store) CreateAsset(_ context.Context, a *model.Asset) error {
	s.assetMu.Lock()
	defer s.assetMu.Unlock()

	if _, exists := s.assets[a.ID]; exists {
		return fmt.Errorf("create asset: duplicate id %s", a.ID)
	}
	cp := *a
	s.assets[a.ID] = &cp
	return nil
}

func (s *Store) GetAsset(_ context.Context, id string) (*model.Asset, error) {
	s.assetMu.RLock()
	defer s.assetMu.RUnlock()

	a, ok := s.assets[id]
	if !ok {
		return nil, store.ErrAssetNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *Store) DeleteAsset(_ context.Context, id string) error {
	s.assetMu.Lock()
	defer s.assetMu.Unlock()

	if _, ok := s.assets[id]; !ok {
		return store.ErrAssetNotFound
	}
	delete(s.assets, id)
	return nil
}

func (s *Store) ListAssetsByOwner(_ context.Context, ownerID string, limit, offset int) ([]*model.Asset, int, error) {
	s.assetMu.RLock()
	var owned []*model.Asset
	for _, a := range s.assets {
		if a.OwnerID == ownerID {
			cp := *a
			owned = append(owned, &cp)
		}
	}
	s.assetMu.RUnlock()

	sort.Slice(owned, func(i, j int) bool {
		if owned[i].CreatedAt.Equal(owned[j].CreatedAt) {
			return owned[i].ID > owned[j].ID
		}
		return owned[i].CreatedAt.After(owned[j].CreatedAt)
	})

	total := len(owned)
	if offset >= total {
		return []*model.Asset{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return owned[offset:end], total, nil
}

func (s *Store) ListAssetsCreatedBefore(_ context.Context, cutoff time.Time, limit int) ([]*model.Asset, error) {
	s.assetMu.RLock()
	var old []*model.Asset
	for _, a := range s.assets {
		if a.CreatedAt.Before(cutoff) {
			cp := *a
			old = append(old, &cp)
		}
	}
	s.assetMu.RUnlock()

	sort.Slice(old, func(i, j int) bool { return old[i].CreatedAt.Before(old[j].CreatedAt) })
	if limit > 0 && len(old) > limit {
		old = old[:limit]
	}
	return old, nil
}

func (s *Store) ListAssetsAfter(_ context.Context, afterID string, limit int) ([]*model.Asset, error) {
	s.assetMu.RLock()
	var page []*model.Asset
	for _, a := range s.assets {
		if a.ID > afterID {
			cp := *a
			page = append(page, &cp)
		}
	}
	s.assetMu.RUnlock()

	sort.Slice(page, func(i, j int) bool { return page[i].ID < page[j].ID })
	if limit > 0 && len(page) > limit {
		page = page[:limit]
	}
	return page, nil
}

func (s *Store) ListBlobRefs(_ context.Context) ([]string, error) {
	s.assetMu.RLock()
	defer s.assetMu.RUnlock()

	refs := make([]string, 0, len(s.assets))
	for _, a := range s.assets {
		refs = append(refs, a.BlobRef)
	}
	return refs, nil
}
