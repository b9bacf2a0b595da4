// Package main is the entrypoint for the Imagify API server.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/imagify/imagify/internal/asset"
	"github.com/imagify/imagify/internal/auth"
	"github.com/imagify/imagify/internal/blob"
	"github.com/imagify/imagify/internal/cache"
	"github.com/imagify/imagify/internal/config"
	"github.com/imagify/imagify/internal/generation"
	"github.com/imagify/imagify/internal/handler"
	"github.com/imagify/imagify/internal/ledger"
	"github.com/imagify/imagify/internal/metrics"
	"github.com/imagify/imagify/internal/middleware"
	"github.com/imagify/imagify/internal/notify"
	"github.com/imagify/imagify/internal/payment"
	"github.com/imagify/imagify/internal/repository"
	"github.com/imagify/imagify/internal/server"
	"github.com/imagify/imagify/internal/service"
)

func main() {
	ctx := context.Background()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := initLogger(cfg)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", "error", sanitizeError(err, cfg.DatabaseURL, cfg.RedisURL))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	catalog, err := cfg.PlanCatalog()
	if err != nil {
		return err
	}

	// Initialize database
	repo, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error(
			"failed to connect to database",
			slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
			slog.String("database_url", redactURL(cfg.DatabaseURL)),
		)
		return err
	}
	logger.Info("connected to database")

	// Initialize cache
	cacheClient, err := cache.New(ctx, cfg.RedisURL)
	if err != nil {
		repo.Close()
		logger.Error(
			"failed to connect to Redis",
			slog.String("error", sanitizeError(err, cfg.RedisURL)),
			slog.String("redis_url", redactURL(cfg.RedisURL)),
		)
		return err
	}
	logger.Info("connected to Redis")

	blobs, err := blob.NewLocalStore(cfg.BlobDir)
	if err != nil {
		repo.Close()
		_ = cacheClient.Close()
		return err
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewPrometheus(registry)

	// Accounts and credits
	credits := ledger.New(repo, logger, ledger.WithMetrics(recorder))
	hasher := auth.NewHasher(auth.DefaultParams)
	tokens, err := auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL)
	if err != nil {
		repo.Close()
		_ = cacheClient.Close()
		return err
	}

	// Notifications share the database through database/sql.
	var (
		welcomer     service.Welcomer
		notifyWorker *notify.Worker
		outboxDB     *sql.DB
	)
	if cfg.NotifyEnabled {
		outboxDB, err = notify.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			repo.Close()
			_ = cacheClient.Close()
			logger.Error("failed to open notification outbox", slog.String("error", sanitizeError(err, cfg.DatabaseURL)))
			return err
		}
		outbox := notify.NewRepository(outboxDB)
		welcomer = notify.NewNotifier(outbox, logger, recorder)
		notifyWorker = notify.NewWorker(outbox, newSender(cfg, logger), logger, recorder)
		metrics.RegisterQueueDepth(registry, "imagify_notification_queue_depth",
			"Notifications waiting for delivery", outbox.QueueDepth)
	}

	accounts := service.NewAccountService(repo, hasher, tokens, service.AccountConfig{
		SignupCredits: cfg.DefaultCredits,
		Welcomer:      welcomer,
		Logger:        logger,
		Metrics:       recorder,
	})

	// Payments
	gateway := payment.NewRazorpayClient(payment.RazorpayConfig{
		BaseURL:   cfg.RazorpayAPIURL,
		KeyID:     cfg.RazorpayKeyID,
		KeySecret: cfg.RazorpayKeySecret,
		Timeout:   cfg.GatewayTimeout,
	})
	journal := payment.NewJournal(repo, gateway, payment.JournalConfig{
		Catalog:  catalog,
		Currency: cfg.Currency,
		Logger:   logger,
		Metrics:  recorder,
	})
	verifier := payment.NewVerifier(journal, gateway, credits, payment.VerifierConfig{
		Timeout: cfg.GatewayTimeout,
		Logger:  logger,
		Metrics: recorder,
	})

	// Generation and assets
	policy := generation.DefaultRetryPolicy()
	policy.MaxAttempts = cfg.GenerationMaxAttempts
	policy.AttemptTimeout = cfg.GenerationTimeout
	images := asset.NewService(repo, blobs, credits,
		generation.NewClipDropClient(cfg.ClipDropAPIURL, cfg.ClipDropAPIKey),
		asset.Config{Policy: policy, Logger: logger, Metrics: recorder})
	reconciler := asset.NewReconciler(repo, blobs, asset.ReconcilerConfig{
		GracePeriod: cfg.OrphanGracePeriod,
		Logger:      logger,
		Metrics:     recorder,
	})

	// Router
	r := handler.NewRouter(handler.RouterConfig{
		Logger: logger,
		Health: handler.NewHealthHandler(
			handler.Check{Name: "database", Checker: repo},
			handler.Check{Name: "redis", Checker: cacheClient},
			handler.Check{Name: "blob_store", Checker: blobs},
		),
		Users: handler.NewUserHandler(accounts, logger),
		Payments: handler.NewPaymentHandler(journal, verifier, credits, handler.PaymentConfig{
			KeyID:    cfg.RazorpayKeyID,
			Currency: cfg.Currency,
			Logger:   logger,
		}),
		Images:  handler.NewImageHandler(images, credits, logger),
		Admin:   handler.NewAdminHandler(reconciler, cfg.RetentionMaxAge, logger),
		Metrics: promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),

		Tokens:        tokens,
		Limiter:       cacheClient,
		GenerateLimit: cache.Limit{PerMinute: cfg.GenerateRatePerMinute, Burst: cfg.GenerateBurst},
		AuthLimit:     cache.Limit{PerMinute: cfg.AuthRatePerMinute, Burst: cfg.AuthBurst},
		AdminToken:    cfg.AdminToken,
		CORS: middleware.CORSConfig{
			AllowedOrigins: cfg.GetCORSAllowedOrigins(),
			MaxAge:         600,
		},
		IsDevelopment: cfg.IsDevelopment(),
	})

	srv := server.New(r, server.Config{
		Port:            cfg.AppPort,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, logger)

	// Hooks run in reverse: redis, then the outbox, then the pool.
	srv.OnShutdown("postgres", func(context.Context) error {
		repo.Close()
		return nil
	})
	if outboxDB != nil {
		srv.OnShutdown("outbox-db", func(context.Context) error {
			return outboxDB.Close()
		})
	}
	srv.OnShutdown("redis", func(context.Context) error {
		return cacheClient.Close()
	})

	if cfg.SweepEnabled {
		sweeper := asset.NewWorker(reconciler, cacheClient, cfg.SweepInterval, cfg.RetentionMaxAge, logger)
		srv.Go("sweep-worker", sweeper.Run)
	}
	if notifyWorker != nil {
		srv.Go("notify-worker", notifyWorker.Run)
	}

	logger.Info("starting server",
		"port", cfg.AppPort,
		"env", cfg.AppEnv,
		"blob_dir", cfg.BlobDir,
		"plans", len(catalog),
	)

	return srv.Run(ctx)
}

// newSender delivers over SMTP when a host is configured and logs otherwise.
func newSender(cfg *config.Config, logger *slog.Logger) notify.Sender {
	if cfg.SMTPHost == "" {
		logger.Warn("SMTP_HOST not set, notifications will be logged")
		return notify.LogSender{Logger: logger}
	}
	return notify.NewSMTPSender(notify.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.MailFrom,
	})
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	var h slog.Handler

	level := parseLogLevel(cfg.LogLevel)

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s]+`)

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		username := parsed.User.Username()
		if username == "" {
			parsed.User = url.User("redacted")
		} else {
			parsed.User = url.User(username)
		}
	}

	return parsed.String()
}

func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}
