package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/imagify/imagify/internal/cache"
	"github.com/imagify/imagify/internal/middleware"
)

// RouterConfig wires handlers and middleware into the HTTP surface.
type RouterConfig struct {
	Logger *slog.Logger

	Health   *HealthHandler
	Users    *UserHandler
	Payments *PaymentHandler
	Images   *ImageHandler
	Admin    *AdminHandler
	Metrics  http.Handler

	Tokens        middleware.TokenParser
	Limiter       middleware.RateLimiter
	GenerateLimit cache.Limit
	AuthLimit     cache.Limit
	AdminToken    string
	CORS          middleware.CORSConfig
	IsDevelopment bool
}

// NewRouter configures the chi router with all routes and middleware.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recoverer(cfg.Logger))
	r.Use(middleware.Security(cfg.IsDevelopment))
	r.Use(middleware.CORS(cfg.CORS))

	// Health endpoints (no auth required)
	r.Get("/healthz", cfg.Health.Healthz)
	r.Get("/readyz", cfg.Health.Readyz)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	authMW := middleware.Auth(middleware.AuthConfig{
		Logger: cfg.Logger,
		Tokens: cfg.Tokens,
	})
	ipLimit := middleware.RateLimitIP(middleware.RateLimitConfig{
		Logger:  cfg.Logger,
		Limiter: cfg.Limiter,
		Limit:   cfg.AuthLimit,
	})
	generateLimit := middleware.RateLimitUser(middleware.RateLimitConfig{
		Logger:  cfg.Logger,
		Limiter: cfg.Limiter,
		Limit:   cfg.GenerateLimit,
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.MaxBodySize(middleware.DefaultMaxBodySize))

		r.Route("/users", func(r chi.Router) {
			r.With(ipLimit).Post("/register", cfg.Users.Register)
			r.With(ipLimit).Post("/login", cfg.Users.Login)
			r.With(authMW).Get("/credits", cfg.Users.Credits)
		})

		r.Route("/payments", func(r chi.Router) {
			r.Get("/plans", cfg.Payments.Plans)
			r.With(authMW).Post("/", cfg.Payments.Initiate)
			r.With(authMW).Post("/verify", cfg.Payments.Verify)
		})

		r.Route("/images", func(r chi.Router) {
			r.Use(authMW)
			r.With(generateLimit).Post("/", cfg.Images.Generate)
			r.Get("/", cfg.Images.List)
			r.Get("/{id}/content", cfg.Images.Content)
			r.Delete("/{id}", cfg.Images.Delete)
		})

		r.Route("/admin/sweeps", func(r chi.Router) {
			r.Use(middleware.AdminToken(cfg.AdminToken, cfg.Logger))
			r.Post("/orphans", cfg.Admin.OrphanSweep)
			r.Post("/retention", cfg.Admin.RetentionSweep)
			r.Post("/dangling", cfg.Admin.DanglingSweep)
		})
	})

	// 404 and 405 handlers
	r.NotFound(NotFound)
	r.MethodNotAllowed(MethodNotAllowed)

	return r
}
