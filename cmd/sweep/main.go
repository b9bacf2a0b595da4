// Package main runs reconciler sweeps once and exits. It is meant for cron
// jobs and manual cleanup when the API's background sweeper is disabled.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/imagify/imagify/internal/asset"
	"github.com/imagify/imagify/internal/blob"
	"github.com/imagify/imagify/internal/config"
	"github.com/imagify/imagify/internal/repository"
)

func main() {
	kind := flag.String("kind", "all", "sweep to run: orphan, retention, dangling or all")
	maxAge := flag.Duration("max-age", 0, "retention cutoff (defaults to RETENTION_MAX_AGE)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if *maxAge <= 0 {
		*maxAge = cfg.RetentionMaxAge
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *kind, *maxAge); err != nil {
		logger.Error("sweep failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, kind string, maxAge time.Duration) error {
	sweeps, err := selectSweeps(kind, maxAge)
	if err != nil {
		return err
	}

	repo, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer repo.Close()

	blobs, err := blob.NewLocalStore(cfg.BlobDir)
	if err != nil {
		return err
	}

	reconciler := asset.NewReconciler(repo, blobs, asset.ReconcilerConfig{
		GracePeriod: cfg.OrphanGracePeriod,
		Logger:      logger,
	})

	enc := json.NewEncoder(os.Stdout)
	for _, sweep := range sweeps {
		res, err := sweep(ctx, reconciler)
		if err != nil {
			return err
		}
		if err := enc.Encode(res); err != nil {
			return err
		}
	}
	return nil
}

type sweepFunc func(ctx context.Context, r *asset.Reconciler) (asset.SweepResult, error)

// selectSweeps maps the -kind flag to sweeps in run order. Retention goes
// first so its leftovers are picked up by the orphan pass.
func selectSweeps(kind string, maxAge time.Duration) ([]sweepFunc, error) {
	orphan := func(ctx context.Context, r *asset.Reconciler) (asset.SweepResult, error) {
		return r.OrphanSweep(ctx)
	}
	retention := func(ctx context.Context, r *asset.Reconciler) (asset.SweepResult, error) {
		return r.RetentionSweep(ctx, maxAge)
	}
	dangling := func(ctx context.Context, r *asset.Reconciler) (asset.SweepResult, error) {
		return r.DanglingSweep(ctx)
	}

	switch kind {
	case asset.SweepOrphan:
		return []sweepFunc{orphan}, nil
	case asset.SweepRetention:
		return []sweepFunc{retention}, nil
	case asset.SweepDangling:
		return []sweepFunc{dangling}, nil
	case "all":
		return []sweepFunc{retention, orphan, dangling}, nil
	default:
		return nil, fmt.Errorf("unknown sweep kind %q", kind)
	}
}
