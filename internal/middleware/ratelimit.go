package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/imagify/imagify/internal/auth"
	"github.com/imagify/imagify/internal/cache"
)

// RateLimiter consumes rate limit tokens.
type RateLimiter interface {
	CheckUserRateLimit(ctx context.Context, userID string, limit cache.Limit) (*cache.RateLimitResult, error)
	CheckIPRateLimit(ctx context.Context, ip string, limit cache.Limit) (*cache.RateLimitResult, error)
}

// RateLimitConfig holds configuration for rate limiting middleware.
type RateLimitConfig struct {
	Logger  *slog.Logger
	Limiter RateLimiter
	Limit   cache.Limit
}

// RateLimitUser limits requests per authenticated user. Must be applied
// after Auth.
func RateLimitUser(cfg RateLimitConfig) func(http.Handler) http.Handler {
	if cfg.Limiter == nil {
		return passthrough
	}
	return rateLimit(cfg, "user", func(r *http.Request) string {
		return auth.UserIDFromContext(r.Context())
	}, cfg.Limiter.CheckUserRateLimit)
}

// RateLimitIP limits requests per client IP.
func RateLimitIP(cfg RateLimitConfig) func(http.Handler) http.Handler {
	if cfg.Limiter == nil {
		return passthrough
	}
	return rateLimit(cfg, "ip", getClientIP, cfg.Limiter.CheckIPRateLimit)
}

func passthrough(next http.Handler) http.Handler { return next }

type checkFunc func(ctx context.Context, key string, limit cache.Limit) (*cache.RateLimitResult, error)

func rateLimit(cfg RateLimitConfig, kind string, keyOf func(*http.Request) string, check checkFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Limit.PerMinute <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			key := keyOf(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			result, err := check(r.Context(), key, cfg.Limit)
			if err != nil {
				cfg.Logger.Error("rate limit check failed",
					slog.String("type", kind),
					slog.String("error", err.Error()),
				)
				// Fail open - allow request
				next.ServeHTTP(w, r)
				return
			}

			setRateLimitHeaders(w, cfg.Limit.Burst, result.Remaining, result.ResetAt)

			if !result.Allowed {
				retryAfter := int(result.RetryAfter.Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				cfg.Logger.Warn("rate limit exceeded",
					slog.String("type", kind),
					slog.String("endpoint", r.Method+" "+r.URL.Path),
					slog.Int("retry_after_seconds", retryAfter),
					slog.String("request_id", GetRequestID(r.Context())),
				)

				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				writeError(w, http.StatusTooManyRequests, "RATE_LIMITED",
					"rate limit exceeded, retry after "+strconv.Itoa(retryAfter)+" seconds")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// setRateLimitHeaders sets standard rate limit response headers.
func setRateLimitHeaders(w http.ResponseWriter, limit int, remaining int64, resetAt time.Time) {
	if limit > 0 {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
	}
}

// getClientIP returns the request's IP without the port. Proxy headers are
// resolved earlier by chi's RealIP middleware.
func getClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
