package asset

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const (
	// DefaultSweepInterval is the time between reconciler passes.
	DefaultSweepInterval = time.Hour

	sweepLockKey = "imagify:sweep:lock"
)

// Locker grants a fleet-wide lease. Release is safe to call after expiry.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), acquired bool, err error)
}

// Worker runs the reconciler periodically.
type Worker struct {
	reconciler *Reconciler
	locker     Locker
	logger     *slog.Logger
	interval   time.Duration
	retention  time.Duration
	started    bool
}

// NewWorker creates a sweep worker. locker may be nil for single-instance
// deployments.
func NewWorker(reconciler *Reconciler, locker Locker, interval, retention time.Duration, logger *slog.Logger) *Worker {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		reconciler: reconciler,
		locker:     locker,
		logger:     logger.With("component", "asset.worker"),
		interval:   interval,
		retention:  retention,
	}
}

// Run starts the worker loop. Blocks until context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if w.started {
		return errors.New("worker already started")
	}
	w.started = true

	w.logger.Info("sweep worker started", "interval", w.interval, "retention", w.retention)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("sweep worker stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := w.RunOnce(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				w.logger.Error("sweep error", "error", err)
			}
		}
	}
}

// RunOnce performs retention, orphan and dangling sweeps under the lease.
// It returns nil without sweeping when another instance holds the lease.
func (w *Worker) RunOnce(ctx context.Context) error {
	if w.locker != nil {
		// The lease outlives a slow pass but not a crashed holder.
		release, ok, err := w.locker.TryLock(ctx, sweepLockKey, w.interval)
		if err != nil {
			return err
		}
		if !ok {
			w.logger.Debug("sweep lease held elsewhere, skipping")
			return nil
		}
		defer release()
	}

	var errs []error
	if _, err := w.reconciler.RetentionSweep(ctx, w.retention); err != nil {
		errs = append(errs, err)
	}
	if _, err := w.reconciler.OrphanSweep(ctx); err != nil {
		errs = append(errs, err)
	}
	if _, err := w.reconciler.DanglingSweep(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
