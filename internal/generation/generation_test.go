package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func noDelay(int) time.Duration { return 0 }

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", &ProviderError{StatusCode: 429}, true},
		{"server error", &ProviderError{StatusCode: 503}, true},
		{"bad request", &ProviderError{StatusCode: 400}, false},
		{"unauthorized", &ProviderError{StatusCode: 401}, false},
		{"attempt timeout", fmt.Errorf("call: %w", context.DeadlineExceeded), true},
		{"empty image", ErrEmptyImage, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestNextRetryDelay_WithinJitter(t *testing.T) {
	for i, base := range retryDelays {
		for n := 0; n < 20; n++ {
			d := NextRetryDelay(i)
			lo := time.Duration(float64(base) * (1 - JitterFactor))
			hi := time.Duration(float64(base) * (1 + JitterFactor))
			if d < lo || d > hi {
				t.Fatalf("NextRetryDelay(%d) = %v, want within [%v, %v]", i, d, lo, hi)
			}
		}
	}
}

func TestRetryPolicy_RetriesTransient(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, AttemptTimeout: time.Second, Delay: noDelay}

	var calls int
	data, attempts, err := p.Call(context.Background(), func(ctx context.Context) ([]byte, error) {
		calls++
		if calls < 3 {
			return nil, &ProviderError{StatusCode: 502}
		}
		return []byte("img"), nil
	})
	if err != nil || string(data) != "img" || attempts != 3 {
		t.Fatalf("Call = %q, %d, %v", data, attempts, err)
	}
}

func TestRetryPolicy_StopsOnTerminal(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, AttemptTimeout: time.Second, Delay: noDelay}

	_, attempts, err := p.Call(context.Background(), func(ctx context.Context) ([]byte, error) {
		return nil, &ProviderError{StatusCode: 400}
	})
	if attempts != 1 || err == nil {
		t.Fatalf("attempts = %d, err = %v; want 1 attempt and an error", attempts, err)
	}
}

func TestRetryPolicy_ExhaustsAttempts(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 2, AttemptTimeout: 10 * time.Millisecond, Delay: noDelay}

	_, attempts, err := p.Call(context.Background(), func(ctx context.Context) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if attempts != 2 || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("attempts = %d, err = %v", attempts, err)
	}
}

func TestClipDropClient(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("x-api-key") != "k" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		switch r.FormValue("prompt") {
		case "cat":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte("\x89PNG-cat"))
		case "busy":
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte("bad prompt"))
		}
	}))
	defer srv.Close()

	c := NewClipDropClient(srv.URL, "k")
	ctx := context.Background()

	data, err := c.Generate(ctx, "cat")
	if err != nil || string(data) != "\x89PNG-cat" {
		t.Fatalf("Generate(cat) = %q, %v", data, err)
	}

	_, err = c.Generate(ctx, "busy")
	if !IsTransient(err) {
		t.Errorf("429 should be transient, got %v", err)
	}

	_, err = c.Generate(ctx, "???")
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.StatusCode != 400 || pe.Message != "bad prompt" {
		t.Errorf("unexpected error: %v", err)
	}
	if IsTransient(err) {
		t.Error("400 should be terminal")
	}
}
