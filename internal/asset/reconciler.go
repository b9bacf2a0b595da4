package asset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/imagify/imagify/internal/blob"
	"github.com/imagify/imagify/internal/metrics"
	"github.com/imagify/imagify/internal/model"
	"github.com/imagify/imagify/internal/store"
	"github.com/oklog/ulid/v2"
)

const (
	// DefaultGracePeriod is how old an unreferenced blob must be before the
	// orphan sweep removes it. It covers an in-flight generation.
	DefaultGracePeriod = 15 * time.Minute

	// DefaultRetention is the default maximum asset age.
	DefaultRetention = 30 * 24 * time.Hour

	// DefaultSweepBatchSize is the number of records read per query.
	DefaultSweepBatchSize = 100
)

// Sweep kinds, used in logs and metrics.
const (
	SweepOrphan    = "orphan"
	SweepRetention = "retention"
	SweepDangling  = "dangling"
)

// SweepResult reports one sweep. Failed items are logged and skipped.
type SweepResult struct {
	Kind    string `json:"kind"`
	Scanned int    `json:"scanned"`
	Deleted int    `json:"deleted"`
	Failed  int    `json:"failed"`
}

// Reconciler restores the blob/record pairing after partial failures and
// enforces retention. All sweeps are idempotent and safe to run
// concurrently with generation, deletion and each other.
type Reconciler struct {
	assets    store.AssetStore
	blobs     blob.Store
	grace     time.Duration
	batchSize int
	logger    *slog.Logger
	metrics   metrics.Recorder
	now       func() time.Time
}

// ReconcilerConfig configures a Reconciler.
type ReconcilerConfig struct {
	GracePeriod time.Duration
	BatchSize   int
	Logger      *slog.Logger
	Metrics     metrics.Recorder
}

// NewReconciler creates a Reconciler.
func NewReconciler(assets store.AssetStore, blobs blob.Store, cfg ReconcilerConfig) *Reconciler {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultSweepBatchSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoop()
	}

	return &Reconciler{
		assets:    assets,
		blobs:     blobs,
		grace:     cfg.GracePeriod,
		batchSize: cfg.BatchSize,
		logger:    cfg.Logger.With("component", "reconciler"),
		metrics:   cfg.Metrics,
		now:       time.Now,
	}
}

// blobCreatedAt reads the creation time from the ULID prefix of a blob
// name, falling back to the modification time for foreign names.
func blobCreatedAt(obj blob.Object) time.Time {
	prefix, _, found := strings.Cut(obj.Name, "_")
	if found {
		if id, err := ulid.ParseStrict(prefix); err == nil {
			return ulid.Time(id.Time())
		}
	}
	return obj.ModTime
}

// OrphanSweep deletes blobs that no record references. Blobs are listed
// before references are read, and blobs younger than the grace period are
// skipped, so a blob whose record is about to be inserted survives.
func (r *Reconciler) OrphanSweep(ctx context.Context) (SweepResult, error) {
	start := r.now()
	res := SweepResult{Kind: SweepOrphan}

	objects, err := r.blobs.List(ctx)
	if err != nil {
		return res, fmt.Errorf("list blobs: %w", err)
	}

	refs, err := r.assets.ListBlobRefs(ctx)
	if err != nil {
		return res, fmt.Errorf("list blob refs: %w", err)
	}
	referenced := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		referenced[ref] = struct{}{}
	}

	cutoff := start.Add(-r.grace)
	for _, obj := range objects {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Scanned++

		if _, ok := referenced[obj.Name]; ok {
			continue
		}
		if blobCreatedAt(obj).After(cutoff) {
			continue
		}

		if err := r.blobs.Delete(ctx, obj.Name); err != nil {
			res.Failed++
			r.logger.Warn("orphan removal failed", "blob", obj.Name, "error", err)
			continue
		}
		res.Deleted++
		r.logger.Info("orphan blob removed", "blob", obj.Name)
	}

	r.finish(res, start)
	return res, nil
}

// RetentionSweep deletes every asset older than maxAge: blob first, then
// the record. A failing item is counted and skipped.
func (r *Reconciler) RetentionSweep(ctx context.Context, maxAge time.Duration) (SweepResult, error) {
	start := r.now()
	res := SweepResult{Kind: SweepRetention}
	if maxAge <= 0 {
		return res, fmt.Errorf("retention: max age must be positive, got %s", maxAge)
	}
	cutoff := start.Add(-maxAge)

	failed := make(map[string]struct{})
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		// Failed items stay in the table, so widen the window past them.
		limit := r.batchSize + len(failed)
		batch, err := r.assets.ListAssetsCreatedBefore(ctx, cutoff, limit)
		if err != nil {
			return res, fmt.Errorf("list expired assets: %w", err)
		}

		progressed := false
		for _, a := range batch {
			if _, skip := failed[a.ID]; skip {
				continue
			}
			progressed = true
			res.Scanned++

			if err := r.expire(ctx, a); err != nil {
				failed[a.ID] = struct{}{}
				res.Failed++
				r.logger.Warn("retention removal failed", "asset_id", a.ID, "blob", a.BlobRef, "error", err)
				continue
			}
			res.Deleted++
		}

		if len(batch) < limit || !progressed {
			break
		}
	}

	r.finish(res, start)
	return res, nil
}

func (r *Reconciler) expire(ctx context.Context, a *model.Asset) error {
	if err := r.blobs.Delete(ctx, a.BlobRef); err != nil {
		return fmt.Errorf("delete blob: %w", err)
	}
	if err := r.assets.DeleteAsset(ctx, a.ID); err != nil && !errors.Is(err, store.ErrAssetNotFound) {
		// The blob is gone; the dangling sweep removes the record later.
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

// DanglingSweep deletes records whose blob no longer exists, repairing a
// delete that removed the blob but not the record.
func (r *Reconciler) DanglingSweep(ctx context.Context) (SweepResult, error) {
	start := r.now()
	res := SweepResult{Kind: SweepDangling}

	after := ""
	for {
		batch, err := r.assets.ListAssetsAfter(ctx, after, r.batchSize)
		if err != nil {
			return res, fmt.Errorf("page assets: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		for _, a := range batch {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			res.Scanned++

			exists, err := r.blobs.Exists(ctx, a.BlobRef)
			if err != nil {
				res.Failed++
				r.logger.Warn("blob check failed", "asset_id", a.ID, "error", err)
				continue
			}
			if exists {
				continue
			}

			if err := r.assets.DeleteAsset(ctx, a.ID); err != nil && !errors.Is(err, store.ErrAssetNotFound) {
				res.Failed++
				r.logger.Warn("dangling record removal failed", "asset_id", a.ID, "error", err)
				continue
			}
			res.Deleted++
			r.logger.Info("dangling record removed", "asset_id", a.ID, "blob", a.BlobRef)
		}

		after = batch[len(batch)-1].ID
		if len(batch) < r.batchSize {
			break
		}
	}

	r.finish(res, start)
	return res, nil
}

func (r *Reconciler) finish(res SweepResult, start time.Time) {
	r.metrics.ObserveSweep(res.Kind, res.Deleted, res.Failed, r.now().Sub(start))
	r.logger.Info("sweep finished",
		"kind", res.Kind,
		"scanned", res.Scanned,
		"deleted", res.Deleted,
		"failed", res.Failed,
	)
}
