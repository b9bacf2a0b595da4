package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/imagify/imagify/internal/asset"
	"github.com/imagify/imagify/internal/auth"
	"github.com/imagify/imagify/internal/handler/dto"
	"github.com/imagify/imagify/internal/model"
)

// Images is the asset service as used by ImageHandler.
type Images interface {
	Generate(ctx context.Context, userID, prompt string) (*model.Asset, error)
	List(ctx context.Context, ownerID string, page, limit int) (*asset.Page, error)
	Open(ctx context.Context, ownerID, assetID string) (*model.Asset, io.ReadCloser, error)
	Delete(ctx context.Context, ownerID, assetID string) error
}

// ImageHandler handles image generation and the user's gallery.
type ImageHandler struct {
	images   Images
	balances BalanceReader
	logger   *slog.Logger
}

// NewImageHandler creates a new ImageHandler.
func NewImageHandler(images Images, balances BalanceReader, logger *slog.Logger) *ImageHandler {
	return &ImageHandler{
		images:   images,
		balances: balances,
		logger:   logger,
	}
}

// Generate handles POST /api/v1/images.
func (h *ImageHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req dto.GenerateImageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	userID := auth.UserIDFromContext(r.Context())
	a, err := h.images.Generate(r.Context(), userID, req.Prompt)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	resp := dto.GenerateImageResponse{Image: dto.ToImageResponse(a)}

	// The image is already paid for; a failed read only drops the balance.
	balance, err := h.balances.GetBalance(context.WithoutCancel(r.Context()), userID)
	if err != nil {
		h.logger.Warn("balance lookup after generation failed", "user_id", userID, "error", err)
	} else {
		resp.Balance = &balance
	}

	writeJSON(w, http.StatusCreated, resp)
}

// List handles GET /api/v1/images.
func (h *ImageHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	page := 1
	if p := query.Get("page"); p != "" {
		if parsed, err := strconv.Atoi(p); err == nil && parsed > 0 {
			page = parsed
		}
	}
	limit := asset.DefaultPageLimit
	if l := query.Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= asset.MaxPageLimit {
			limit = parsed
		}
	}

	result, err := h.images.List(r.Context(), auth.UserIDFromContext(r.Context()), page, limit)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToImageListResponse(result.Assets, result.Page, result.Limit, result.Total))
}

// Content handles GET /api/v1/images/{id}/content.
func (h *ImageHandler) Content(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "MISSING_ID", "image id is required")
		return
	}

	_, rc, err := h.images.Open(r.Context(), auth.UserIDFromContext(r.Context()), id)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("image stream interrupted", "asset_id", id, "error", err)
	}
}

// Delete handles DELETE /api/v1/images/{id}.
func (h *ImageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "MISSING_ID", "image id is required")
		return
	}

	if err := h.images.Delete(r.Context(), auth.UserIDFromContext(r.Context()), id); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
