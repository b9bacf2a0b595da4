package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/imagify/imagify/internal/asset"
	"github.com/imagify/imagify/internal/auth"
	"github.com/imagify/imagify/internal/blob"
	"github.com/imagify/imagify/internal/generation"
	"github.com/imagify/imagify/internal/handler/dto"
	"github.com/imagify/imagify/internal/ledger"
	"github.com/imagify/imagify/internal/payment"
	"github.com/imagify/imagify/internal/service"
	"github.com/imagify/imagify/internal/store/memory"
)

const adminToken = "operator-secret"

// fakeProvider draws "png:<prompt>"; prompts containing "reject" fail
// with a terminal provider error.
type fakeProvider struct{}

func (fakeProvider) Generate(_ context.Context, prompt string) ([]byte, error) {
	if strings.Contains(prompt, "reject") {
		return nil, &generation.ProviderError{StatusCode: http.StatusBadRequest, Message: "content policy"}
	}
	return []byte("png:" + prompt), nil
}

// fakeGateway keeps orders in memory; tests mark them paid.
type fakeGateway struct {
	mu     sync.Mutex
	orders map[string]*payment.Order
	seq    int
}

func (g *fakeGateway) CreateOrder(_ context.Context, amount int64, currency, receipt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	id := fmt.Sprintf("order_%d", g.seq)
	g.orders[id] = &payment.Order{ID: id, Status: "created", Receipt: receipt, Amount: amount, Currency: currency}
	return id, nil
}

func (g *fakeGateway) FetchOrder(_ context.Context, orderID string) (*payment.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	o, ok := g.orders[orderID]
	if !ok {
		return nil, payment.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (g *fakeGateway) markPaid(orderID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orders[orderID].Status = payment.OrderPaid
}

type testAPI struct {
	router  http.Handler
	store   *memory.Store
	blobs   *blob.MemoryStore
	gateway *fakeGateway
}

func newTestAPI(t *testing.T, adminSecret string) *testAPI {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s := memory.New()
	blobs := blob.NewMemoryStore()
	gw := &fakeGateway{orders: make(map[string]*payment.Order)}
	l := ledger.New(s, logger)

	tokens, err := auth.NewTokenIssuer(strings.Repeat("k", 32), time.Hour)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	hasher := auth.NewHasher(auth.Params{Time: 1, Memory: 8 * 1024, Threads: 1})
	accounts := service.NewAccountService(s, hasher, tokens, service.AccountConfig{SignupCredits: 1, Logger: logger})

	journal := payment.NewJournal(s, gw, payment.JournalConfig{Logger: logger})
	verifier := payment.NewVerifier(journal, gw, l, payment.VerifierConfig{Logger: logger})

	images := asset.NewService(s, blobs, l, fakeProvider{}, asset.Config{
		Policy: generation.RetryPolicy{
			MaxAttempts:    2,
			AttemptTimeout: time.Second,
			Delay:          func(int) time.Duration { return 0 },
		},
		Logger: logger,
	})
	reconciler := asset.NewReconciler(s, blobs, asset.ReconcilerConfig{Logger: logger})

	router := NewRouter(RouterConfig{
		Logger:        logger,
		Health:        NewHealthHandler(Check{Name: "postgres", Checker: s}),
		Users:         NewUserHandler(accounts, logger),
		Payments:      NewPaymentHandler(journal, verifier, l, PaymentConfig{KeyID: "rzp_test", Currency: "INR", Logger: logger}),
		Images:        NewImageHandler(images, l, logger),
		Admin:         NewAdminHandler(reconciler, 0, logger),
		Tokens:        tokens,
		AdminToken:    adminSecret,
		IsDevelopment: true,
	})

	return &testAPI{router: router, store: s, blobs: blobs, gateway: gw}
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		r = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, r)
	if r != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) register(t *testing.T, email string) *dto.SessionResponse {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/v1/users/register", "", dto.RegisterRequest{
		Name:     "Test User",
		Email:    email,
		Password: "correct horse",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: status %d: %s", rec.Code, rec.Body.String())
	}
	var sess dto.SessionResponse
	decode(t, rec, &sess)
	return &sess
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dst); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status = %d, want %d: %s", rec.Code, status, rec.Body.String())
	}
	var body dto.ErrorResponse
	decode(t, rec, &body)
	if body.Code != code {
		t.Errorf("code = %q, want %q", body.Code, code)
	}
}

func TestUserEndpoints(t *testing.T) {
	api := newTestAPI(t, "")
	sess := api.register(t, "ada@example.com")

	if sess.Token == "" || sess.User.CreditBalance != 1 {
		t.Fatalf("unexpected session: %+v", sess)
	}

	rec := api.do(t, http.MethodPost, "/api/v1/users/register", "", dto.RegisterRequest{
		Name: "Ada", Email: "ADA@example.com", Password: "another password",
	})
	expectError(t, rec, http.StatusConflict, "EMAIL_EXISTS")

	rec = api.do(t, http.MethodPost, "/api/v1/users/login", "", dto.LoginRequest{Email: "ada@example.com", Password: "wrong password"})
	expectError(t, rec, http.StatusUnauthorized, "INVALID_CREDENTIALS")

	rec = api.do(t, http.MethodPost, "/api/v1/users/login", "", dto.LoginRequest{Email: "ada@example.com", Password: "correct horse"})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: status %d", rec.Code)
	}

	rec = api.do(t, http.MethodGet, "/api/v1/users/credits", sess.Token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("credits: status %d", rec.Code)
	}
	var credits dto.CreditsResponse
	decode(t, rec, &credits)
	if credits.Credits != 1 || credits.User.Name != "Test User" {
		t.Errorf("credits = %+v", credits)
	}

	rec = api.do(t, http.MethodGet, "/api/v1/users/credits", "", nil)
	expectError(t, rec, http.StatusUnauthorized, "UNAUTHORIZED")
}

func TestRegister_RejectsBadBodies(t *testing.T) {
	api := newTestAPI(t, "")

	tests := []struct {
		name string
		body any
		code string
	}{
		{"malformed", `{"name":`, "INVALID_JSON"},
		{"unknown field", `{"name":"a","email":"a@example.com","password":"password1","admin":true}`, "INVALID_JSON"},
		{"missing email", dto.RegisterRequest{Name: "a", Password: "password1"}, "VALIDATION_ERROR"},
		{"bad email", dto.RegisterRequest{Name: "a", Email: "nope", Password: "password1"}, "VALIDATION_ERROR"},
		{"short password", dto.RegisterRequest{Name: "a", Email: "a@example.com", Password: "short"}, "VALIDATION_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.do(t, http.MethodPost, "/api/v1/users/register", "", tt.body)
			expectError(t, rec, http.StatusBadRequest, tt.code)
		})
	}
}

func TestImageEndpoints(t *testing.T) {
	api := newTestAPI(t, "")
	sess := api.register(t, "ada@example.com")

	rec := api.do(t, http.MethodPost, "/api/v1/images", sess.Token, dto.GenerateImageRequest{Prompt: "cat"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("generate: status %d: %s", rec.Code, rec.Body.String())
	}
	var gen dto.GenerateImageResponse
	decode(t, rec, &gen)
	if gen.Image.Prompt != "cat" || gen.Balance == nil || *gen.Balance != 0 {
		t.Fatalf("generate response = %+v", gen)
	}

	rec = api.do(t, http.MethodPost, "/api/v1/images", sess.Token, dto.GenerateImageRequest{Prompt: "dog"})
	expectError(t, rec, http.StatusPaymentRequired, "INSUFFICIENT_CREDIT")

	rec = api.do(t, http.MethodGet, "/api/v1/images?page=1&limit=5", sess.Token, nil)
	var list dto.ImageListResponse
	decode(t, rec, &list)
	if len(list.Data) != 1 || list.Pagination.Total != 1 || list.Pagination.HasMore {
		t.Fatalf("list = %+v", list)
	}

	rec = api.do(t, http.MethodGet, gen.Image.ContentURL, sess.Token, nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "png:cat" {
		t.Fatalf("content: status %d body %q", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q", ct)
	}

	other := api.register(t, "bob@example.com")
	rec = api.do(t, http.MethodGet, gen.Image.ContentURL, other.Token, nil)
	expectError(t, rec, http.StatusNotFound, "IMAGE_NOT_FOUND")
	rec = api.do(t, http.MethodDelete, "/api/v1/images/"+gen.Image.ID, other.Token, nil)
	expectError(t, rec, http.StatusNotFound, "IMAGE_NOT_FOUND")

	rec = api.do(t, http.MethodDelete, "/api/v1/images/"+gen.Image.ID, sess.Token, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: status %d", rec.Code)
	}
	if api.blobs.Len() != 0 {
		t.Errorf("blobs left after delete: %d", api.blobs.Len())
	}

	rec = api.do(t, http.MethodGet, gen.Image.ContentURL, sess.Token, nil)
	expectError(t, rec, http.StatusNotFound, "IMAGE_NOT_FOUND")
}

func TestGenerate_Failures(t *testing.T) {
	api := newTestAPI(t, "")
	sess := api.register(t, "ada@example.com")

	rec := api.do(t, http.MethodPost, "/api/v1/images", sess.Token, dto.GenerateImageRequest{Prompt: "   "})
	expectError(t, rec, http.StatusBadRequest, "INVALID_PROMPT")

	rec = api.do(t, http.MethodPost, "/api/v1/images", sess.Token, dto.GenerateImageRequest{Prompt: "please reject me"})
	expectError(t, rec, http.StatusBadGateway, "GENERATION_FAILED")

	rec = api.do(t, http.MethodGet, "/api/v1/users/credits", sess.Token, nil)
	var credits dto.CreditsResponse
	decode(t, rec, &credits)
	if credits.Credits != 1 {
		t.Errorf("credits after failed generation = %d, want 1", credits.Credits)
	}
	if api.blobs.Len() != 0 {
		t.Errorf("blobs after failed generation = %d", api.blobs.Len())
	}
}

func TestPaymentEndpoints(t *testing.T) {
	api := newTestAPI(t, "")
	sess := api.register(t, "ada@example.com")

	rec := api.do(t, http.MethodGet, "/api/v1/payments/plans", "", nil)
	var plans dto.PlanListResponse
	decode(t, rec, &plans)
	if len(plans.Data) != 3 || plans.Data[0].ID != "Basic" || plans.Data[0].Amount != "10.00" {
		t.Fatalf("plans = %+v", plans)
	}

	rec = api.do(t, http.MethodPost, "/api/v1/payments", sess.Token, dto.InitiatePaymentRequest{Plan: "Platinum"})
	expectError(t, rec, http.StatusBadRequest, "UNKNOWN_PLAN")

	rec = api.do(t, http.MethodPost, "/api/v1/payments", sess.Token, dto.InitiatePaymentRequest{Plan: "Advanced"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("initiate: status %d: %s", rec.Code, rec.Body.String())
	}
	var order dto.OrderResponse
	decode(t, rec, &order)
	if order.OrderID == "" || order.AmountMinor != 5000 || order.KeyID != "rzp_test" {
		t.Fatalf("order = %+v", order)
	}

	other := api.register(t, "bob@example.com")
	rec = api.do(t, http.MethodPost, "/api/v1/payments/verify", other.Token, dto.VerifyPaymentRequest{OrderID: order.OrderID})
	expectError(t, rec, http.StatusNotFound, "TRANSACTION_NOT_FOUND")

	api.gateway.markPaid(order.OrderID)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		credited int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := api.do(t, http.MethodPost, "/api/v1/payments/verify", sess.Token, dto.VerifyPaymentRequest{OrderID: order.OrderID})
			if rec.Code != http.StatusOK {
				t.Errorf("verify: status %d: %s", rec.Code, rec.Body.String())
				return
			}
			var v dto.VerificationResponse
			if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
				t.Errorf("decode: %v", err)
				return
			}
			if v.Status != "paid" {
				t.Errorf("status = %q", v.Status)
			}
			if v.Credited {
				mu.Lock()
				credited++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// Collapsed callers may all see Credited; the balance is what counts.
	if credited == 0 {
		t.Error("no verification reported the credit")
	}
	balance, _ := api.store.GetBalance(context.Background(), sess.User.ID)
	if balance != 501 {
		t.Errorf("balance = %d, want 501", balance)
	}
	entries, _ := api.store.ListCreditEntries(context.Background(), sess.User.ID, 0)
	payments := 0
	for _, e := range entries {
		if e.Reason == "payment" {
			payments++
		}
	}
	if payments != 1 {
		t.Errorf("payment entries = %d, want 1", payments)
	}
}

func TestVerify_UnpaidOrder(t *testing.T) {
	api := newTestAPI(t, "")
	sess := api.register(t, "ada@example.com")

	rec := api.do(t, http.MethodPost, "/api/v1/payments", sess.Token, dto.InitiatePaymentRequest{Plan: "Basic"})
	var order dto.OrderResponse
	decode(t, rec, &order)

	rec = api.do(t, http.MethodPost, "/api/v1/payments/verify", sess.Token, dto.VerifyPaymentRequest{OrderID: order.OrderID})
	expectError(t, rec, http.StatusPaymentRequired, "PAYMENT_NOT_CONFIRMED")

	rec = api.do(t, http.MethodPost, "/api/v1/payments/verify", sess.Token, dto.VerifyPaymentRequest{OrderID: "order_missing"})
	expectError(t, rec, http.StatusNotFound, "TRANSACTION_NOT_FOUND")
}

func TestAdminSweeps(t *testing.T) {
	api := newTestAPI(t, adminToken)

	do := func(path, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		if token != "" {
			req.Header.Set("X-Admin-Token", token)
		}
		rec := httptest.NewRecorder()
		api.router.ServeHTTP(rec, req)
		return rec
	}

	expectError(t, do("/api/v1/admin/sweeps/orphans", ""), http.StatusForbidden, "FORBIDDEN")

	api.blobs.PutAt("01ARZ3NDEKTSV4RRFFQ69G5FAV_ghost.png", []byte("x"), time.Now().Add(-48*time.Hour))
	rec := do("/api/v1/admin/sweeps/orphans", adminToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("orphan sweep: status %d: %s", rec.Code, rec.Body.String())
	}
	var res asset.SweepResult
	decode(t, rec, &res)
	if res.Kind != asset.SweepOrphan || res.Deleted != 1 {
		t.Errorf("orphan sweep = %+v", res)
	}

	rec = do("/api/v1/admin/sweeps/retention?max_age=720h", adminToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("retention sweep: status %d", rec.Code)
	}
	expectError(t, do("/api/v1/admin/sweeps/retention?max_age=-1h", adminToken), http.StatusBadRequest, "INVALID_MAX_AGE")

	disabled := newTestAPI(t, "")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/sweeps/orphans", nil)
	req.Header.Set("X-Admin-Token", "anything")
	rec = httptest.NewRecorder()
	disabled.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("disabled admin status = %d, want 404", rec.Code)
	}
}

func TestRouter_FallbackHandlers(t *testing.T) {
	api := newTestAPI(t, "")

	expectError(t, api.do(t, http.MethodGet, "/nope", "", nil), http.StatusNotFound, "NOT_FOUND")
	expectError(t, api.do(t, http.MethodPut, "/healthz", "", nil), http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED")

	rec := api.do(t, http.MethodGet, "/readyz", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("readyz status = %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing request id header")
	}
}
