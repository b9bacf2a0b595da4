package generation

import (
	"context"
	"math/rand"
	"time"
)

// Delays between provider attempts. Attempt n waits retryDelays[n-1].
var retryDelays = []time.Duration{
	250 * time.Millisecond,
	1 * time.Second,
	3 * time.Second,
}

const (
	// DefaultMaxAttempts is the default number of provider attempts.
	DefaultMaxAttempts = 3

	// DefaultAttemptTimeout bounds a single provider call.
	DefaultAttemptTimeout = 30 * time.Second

	// JitterFactor is the ±percentage of jitter applied to delays.
	JitterFactor = 0.2
)

// RetryPolicy bounds provider calls.
type RetryPolicy struct {
	MaxAttempts    int
	AttemptTimeout time.Duration

	// Delay overrides the backoff schedule. Tests set it to zero.
	Delay func(attempt int) time.Duration
}

// DefaultRetryPolicy returns the production policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    DefaultMaxAttempts,
		AttemptTimeout: DefaultAttemptTimeout,
		Delay:          NextRetryDelay,
	}
}

// NextRetryDelay returns the jittered delay before attempt+1.
// attempt is 0-indexed (after the first failed attempt, attempt = 0).
func NextRetryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(retryDelays) {
		attempt = len(retryDelays) - 1
	}

	base := retryDelays[attempt]
	jitterRange := float64(base) * JitterFactor
	jitter := (rand.Float64()*2 - 1) * jitterRange

	return time.Duration(float64(base) + jitter)
}

// Call runs fn until it succeeds, fails terminally, or attempts run out.
// It returns the number of attempts made.
func (p RetryPolicy) Call(ctx context.Context, fn func(ctx context.Context) ([]byte, error)) ([]byte, int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	timeout := p.AttemptTimeout
	if timeout <= 0 {
		timeout = DefaultAttemptTimeout
	}
	delay := p.Delay
	if delay == nil {
		delay = NextRetryDelay
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		actx, cancel := context.WithTimeout(ctx, timeout)
		data, err := fn(actx)
		cancel()

		if err == nil {
			return data, attempt, nil
		}
		lastErr = err

		if !IsTransient(err) || ctx.Err() != nil || attempt == maxAttempts {
			return nil, attempt, lastErr
		}

		wait := delay(attempt - 1)
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, attempt, lastErr
			case <-timer.C:
			}
		}
	}
	return nil, maxAttempts, lastErr
}
