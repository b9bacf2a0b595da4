package asset

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/imagify/imagify/internal/blob"
	"github.com/imagify/imagify/internal/generation"
	"github.com/imagify/imagify/internal/ledger"
	"github.com/imagify/imagify/internal/metrics"
	"github.com/imagify/imagify/internal/model"
	"github.com/imagify/imagify/internal/store/memory"
	"github.com/imagify/imagify/internal/testutil"
)

// scriptedProvider returns the queued results in order, then the image.
type scriptedProvider struct {
	mu      sync.Mutex
	results []error
	calls   int
	block   chan struct{}
}

func (p *scriptedProvider) Generate(ctx context.Context, prompt string) ([]byte, error) {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls++
	if len(p.results) > 0 {
		err := p.results[0]
		p.results = p.results[1:]
		if err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []byte("png:" + prompt), nil
}

// failingAssets fails record inserts.
type failingAssets struct {
	*memory.Store
	err error
}

func (f *failingAssets) CreateAsset(ctx context.Context, a *model.Asset) error {
	return f.err
}

type env struct {
	store    *memory.Store
	blobs    *blob.MemoryStore
	ledger   *ledger.Ledger
	provider *scriptedProvider
	svc      *Service
	metrics  *metrics.InMemoryRecorder
	userID   string
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noRetryDelay(int) time.Duration { return 0 }

func newEnv(t *testing.T, balance int64) *env {
	t.Helper()
	s := memory.New()
	u := testutil.NewTestUser(t, balance)
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	e := &env{
		store:    s,
		blobs:    blob.NewMemoryStore(),
		ledger:   ledger.New(s, discardLogger()),
		provider: &scriptedProvider{},
		metrics:  metrics.NewInMemory(),
		userID:   u.ID,
	}
	e.svc = NewService(s, e.blobs, e.ledger, e.provider, Config{
		Policy:  generation.RetryPolicy{MaxAttempts: 3, AttemptTimeout: time.Second, Delay: noRetryDelay},
		Logger:  discardLogger(),
		Metrics: e.metrics,
	})
	return e
}

func (e *env) balance(t *testing.T) int64 {
	t.Helper()
	b, err := e.ledger.GetBalance(context.Background(), e.userID)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	return b
}

func (e *env) assetCount(t *testing.T) int {
	t.Helper()
	_, total, err := e.store.ListAssetsByOwner(context.Background(), e.userID, 100, 0)
	if err != nil {
		t.Fatalf("ListAssetsByOwner: %v", err)
	}
	return total
}

func TestGenerate_CatThenDog(t *testing.T) {
	e := newEnv(t, 1)
	ctx := context.Background()

	a, err := e.svc.Generate(ctx, e.userID, "cat")
	if err != nil {
		t.Fatalf("Generate(cat): %v", err)
	}
	if a.Prompt != "cat" || a.OwnerID != e.userID {
		t.Errorf("unexpected asset: %+v", a)
	}
	if !strings.HasSuffix(a.BlobRef, "_"+e.userID+".png") {
		t.Errorf("blob ref %q not named after owner", a.BlobRef)
	}
	if ok, _ := e.blobs.Exists(ctx, a.BlobRef); !ok {
		t.Error("blob missing after generate")
	}
	if got := e.balance(t); got != 0 {
		t.Errorf("balance = %d, want 0", got)
	}

	if _, err := e.svc.Generate(ctx, e.userID, "dog"); !errors.Is(err, ledger.ErrInsufficientCredit) {
		t.Fatalf("Generate(dog) err = %v, want ErrInsufficientCredit", err)
	}
	if got := e.balance(t); got != 0 {
		t.Errorf("balance = %d, want 0", got)
	}
	if got := e.assetCount(t); got != 1 {
		t.Errorf("assets = %d, want 1", got)
	}
	if e.provider.calls != 1 {
		t.Errorf("provider calls = %d, want 1", e.provider.calls)
	}
}

func TestGenerate_InvalidPromptDoesNotDebit(t *testing.T) {
	e := newEnv(t, 3)

	for _, prompt := range []string{"", "   ", strings.Repeat("x", MaxPromptLength+1)} {
		if _, err := e.svc.Generate(context.Background(), e.userID, prompt); !errors.Is(err, ErrInvalidPrompt) {
			t.Errorf("Generate(%d chars) err = %v, want ErrInvalidPrompt", len(prompt), err)
		}
	}
	if got := e.balance(t); got != 3 {
		t.Errorf("balance = %d, want 3", got)
	}
}

func TestGenerate_ProviderFailureRefunds(t *testing.T) {
	tests := []struct {
		name      string
		results   []error
		wantCalls int
	}{
		{"terminal", []error{&generation.ProviderError{StatusCode: 400}}, 1},
		{"transient exhausted", []error{
			&generation.ProviderError{StatusCode: 503},
			&generation.ProviderError{StatusCode: 503},
			&generation.ProviderError{StatusCode: 429},
		}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, 2)
			e.provider.results = tt.results

			_, err := e.svc.Generate(context.Background(), e.userID, "cat")
			if !errors.Is(err, ErrGenerationFailed) {
				t.Fatalf("err = %v, want ErrGenerationFailed", err)
			}
			if e.provider.calls != tt.wantCalls {
				t.Errorf("provider calls = %d, want %d", e.provider.calls, tt.wantCalls)
			}
			if got := e.balance(t); got != 2 {
				t.Errorf("balance = %d, want 2", got)
			}
			if e.assetCount(t) != 0 || e.blobs.Len() != 0 {
				t.Errorf("expected no asset and no blob")
			}
			if e.metrics.Snapshot().Generations["failed"] != 1 {
				t.Errorf("failed generation not recorded")
			}
		})
	}
}

func TestGenerate_TransientThenSuccess(t *testing.T) {
	e := newEnv(t, 1)
	e.provider.results = []error{&generation.ProviderError{StatusCode: 502}}

	if _, err := e.svc.Generate(context.Background(), e.userID, "cat"); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if e.provider.calls != 2 {
		t.Errorf("provider calls = %d, want 2", e.provider.calls)
	}
	if got := e.balance(t); got != 0 {
		t.Errorf("balance = %d, want 0", got)
	}
}

func TestGenerate_BlobWriteFailureRefunds(t *testing.T) {
	e := newEnv(t, 1)
	e.blobs.FailPut = errors.New("disk full")

	if _, err := e.svc.Generate(context.Background(), e.userID, "cat"); !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("err = %v, want ErrGenerationFailed", err)
	}
	if got := e.balance(t); got != 1 {
		t.Errorf("balance = %d, want 1", got)
	}
	if e.assetCount(t) != 0 {
		t.Error("expected no asset")
	}
}

func TestGenerate_RecordInsertFailureRemovesBlob(t *testing.T) {
	e := newEnv(t, 1)
	failing := &failingAssets{Store: e.store, err: errors.New("db down")}
	svc := NewService(failing, e.blobs, e.ledger, e.provider, Config{
		Policy: generation.RetryPolicy{MaxAttempts: 1, AttemptTimeout: time.Second, Delay: noRetryDelay},
		Logger: discardLogger(),
	})

	if _, err := svc.Generate(context.Background(), e.userID, "cat"); !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("err = %v, want ErrGenerationFailed", err)
	}
	if e.blobs.Len() != 0 {
		t.Errorf("blobs = %d, want 0", e.blobs.Len())
	}
	if got := e.balance(t); got != 1 {
		t.Errorf("balance = %d, want 1", got)
	}
}

func TestGenerate_CallerCancelAfterDebitStillCompletes(t *testing.T) {
	e := newEnv(t, 1)
	e.provider.block = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := e.svc.Generate(ctx, e.userID, "cat")
		done <- err
	}()

	// Wait for the debit, then cancel while the provider is blocked.
	deadline := time.Now().Add(2 * time.Second)
	for e.balance(t) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("debit never happened")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	close(e.provider.block)

	if err := <-done; err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if e.assetCount(t) != 1 || e.blobs.Len() != 1 {
		t.Errorf("expected one asset with its blob")
	}
}

func TestGenerate_ConcurrentNeverOverspends(t *testing.T) {
	e := newEnv(t, 3)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = e.svc.Generate(context.Background(), e.userID, "cat")
		}()
	}
	wg.Wait()

	if got := e.balance(t); got != 0 {
		t.Errorf("balance = %d, want 0", got)
	}
	if got := e.assetCount(t); got != 3 {
		t.Errorf("assets = %d, want 3", got)
	}
	if e.blobs.Len() != 3 {
		t.Errorf("blobs = %d, want 3", e.blobs.Len())
	}
}

func TestListOpenDelete(t *testing.T) {
	e := newEnv(t, 5)
	ctx := context.Background()

	var ids []string
	for _, p := range []string{"a", "b", "c"} {
		a, err := e.svc.Generate(ctx, e.userID, p)
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		ids = append(ids, a.ID)
	}

	page, err := e.svc.List(ctx, e.userID, 1, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if page.Total != 3 || len(page.Assets) != 2 || page.Assets[0].ID != ids[2] {
		t.Errorf("unexpected first page: total=%d len=%d", page.Total, len(page.Assets))
	}

	page, _ = e.svc.List(ctx, e.userID, 0, 0)
	if page.Page != 1 || page.Limit != DefaultPageLimit {
		t.Errorf("defaults not applied: %+v", page)
	}

	_, rc, err := e.svc.Open(ctx, e.userID, ids[0])
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "png:a" {
		t.Errorf("data = %q", data)
	}

	if err := e.svc.Delete(ctx, "intruder", ids[0]); !errors.Is(err, ErrNotFoundOrUnauthorized) {
		t.Errorf("Delete by non-owner err = %v", err)
	}
	if _, _, err := e.svc.Open(ctx, "intruder", ids[0]); !errors.Is(err, ErrNotFoundOrUnauthorized) {
		t.Errorf("Open by non-owner err = %v", err)
	}

	asset, _ := e.svc.Get(ctx, e.userID, ids[0])
	if err := e.svc.Delete(ctx, e.userID, ids[0]); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ok, _ := e.blobs.Exists(ctx, asset.BlobRef); ok {
		t.Error("blob still present after delete")
	}
	if err := e.svc.Delete(ctx, e.userID, ids[0]); !errors.Is(err, ErrNotFoundOrUnauthorized) {
		t.Errorf("second Delete err = %v", err)
	}
}

func TestDelete_BlobFailureIsNotSurfaced(t *testing.T) {
	e := newEnv(t, 1)
	ctx := context.Background()

	a, err := e.svc.Generate(ctx, e.userID, "cat")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	e.blobs.FailDelete = errors.New("permission denied")
	if err := e.svc.Delete(ctx, e.userID, a.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := e.store.GetAsset(ctx, a.ID); err == nil {
		t.Error("record still present")
	}
	if ok, _ := e.blobs.Exists(ctx, a.BlobRef); !ok {
		t.Error("expected the blob to remain for the orphan sweep")
	}
}
