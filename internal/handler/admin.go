package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/imagify/imagify/internal/asset"
)

// Sweeper runs the reconciliation sweeps.
type Sweeper interface {
	OrphanSweep(ctx context.Context) (asset.SweepResult, error)
	RetentionSweep(ctx context.Context, maxAge time.Duration) (asset.SweepResult, error)
	DanglingSweep(ctx context.Context) (asset.SweepResult, error)
}

// AdminHandler provides operator endpoints that trigger sweeps on demand.
type AdminHandler struct {
	sweeper   Sweeper
	retention time.Duration
	logger    *slog.Logger
}

// NewAdminHandler creates a new AdminHandler. retention is the default
// maximum asset age of a retention sweep.
func NewAdminHandler(sweeper Sweeper, retention time.Duration, logger *slog.Logger) *AdminHandler {
	if retention <= 0 {
		retention = asset.DefaultRetention
	}
	return &AdminHandler{
		sweeper:   sweeper,
		retention: retention,
		logger:    logger,
	}
}

// OrphanSweep handles POST /api/v1/admin/sweeps/orphans.
func (h *AdminHandler) OrphanSweep(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, h.sweeper.OrphanSweep)
}

// DanglingSweep handles POST /api/v1/admin/sweeps/dangling.
func (h *AdminHandler) DanglingSweep(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, h.sweeper.DanglingSweep)
}

// RetentionSweep handles POST /api/v1/admin/sweeps/retention?max_age=720h.
func (h *AdminHandler) RetentionSweep(w http.ResponseWriter, r *http.Request) {
	maxAge := h.retention
	if raw := r.URL.Query().Get("max_age"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "INVALID_MAX_AGE", "max_age must be a positive duration such as 720h")
			return
		}
		maxAge = parsed
	}

	h.run(w, r, func(ctx context.Context) (asset.SweepResult, error) {
		return h.sweeper.RetentionSweep(ctx, maxAge)
	})
}

func (h *AdminHandler) run(w http.ResponseWriter, r *http.Request, sweep func(context.Context) (asset.SweepResult, error)) {
	start := time.Now()
	res, err := sweep(r.Context())
	if err != nil {
		h.logger.Error("manual sweep failed", "error", err, "partial", res)
		writeError(w, http.StatusInternalServerError, "SWEEP_FAILED", "sweep failed")
		return
	}

	h.logger.Info("manual sweep finished",
		"kind", res.Kind,
		"scanned", res.Scanned,
		"deleted", res.Deleted,
		"failed", res.Failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	writeJSON(w, http.StatusOK, res)
}
