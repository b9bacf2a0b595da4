// Package generation calls the external text-to-image provider.
package generation

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrEmptyImage is returned when the provider answers 2xx without a body.
var ErrEmptyImage = errors.New("provider returned an empty image")

// Provider turns a prompt into image bytes.
type Provider interface {
	Generate(ctx context.Context, prompt string) ([]byte, error)
}

// ProviderError is a non-2xx provider response.
type ProviderError struct {
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider: status %d: %s", e.StatusCode, e.Message)
}

// IsTransient reports whether a failed attempt is worth retrying:
// network errors, attempt timeouts, 429 and 5xx responses.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.StatusCode == http.StatusTooManyRequests || pe.StatusCode >= 500
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
