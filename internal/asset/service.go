// Package asset manages the lifecycle of generated images: generation,
// listing, streaming, deletion and reconciliation of blobs and records.
package asset

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/imagify/imagify/internal/blob"
	"github.com/imagify/imagify/internal/generation"
	"github.com/imagify/imagify/internal/metrics"
	"github.com/imagify/imagify/internal/model"
	"github.com/imagify/imagify/internal/store"
	"github.com/oklog/ulid/v2"
)

// Asset errors.
var (
	ErrInvalidPrompt          = errors.New("prompt must be between 1 and 1000 characters")
	ErrGenerationFailed       = errors.New("image generation failed")
	ErrNotFoundOrUnauthorized = errors.New("asset not found")
)

const (
	// MaxPromptLength is the longest accepted prompt, in characters.
	MaxPromptLength = 1000

	// GenerationCost is the number of credits one image costs.
	GenerationCost = 1

	DefaultPageLimit = 10
	MaxPageLimit     = 100

	debitReason  = "generate"
	refundReason = "refund"

	refundAttempts = 3
	refundBackoff  = 100 * time.Millisecond
)

// Credits is the part of the ledger the asset service needs.
type Credits interface {
	Debit(ctx context.Context, userID string, n int64, reason string) (int64, error)
	CreditOnce(ctx context.Context, userID string, n int64, reason, reference string) (bool, error)
}

// Service orchestrates generation and owns asset records and blobs.
type Service struct {
	assets   store.AssetStore
	blobs    blob.Store
	credits  Credits
	provider generation.Provider
	policy   generation.RetryPolicy
	logger   *slog.Logger
	metrics  metrics.Recorder
	now      func() time.Time

	idMu    sync.Mutex
	entropy io.Reader
}

// Config configures a Service.
type Config struct {
	Policy  generation.RetryPolicy
	Logger  *slog.Logger
	Metrics metrics.Recorder
}

// NewService creates a Service.
func NewService(assets store.AssetStore, blobs blob.Store, credits Credits, provider generation.Provider, cfg Config) *Service {
	if cfg.Policy.MaxAttempts == 0 {
		cfg.Policy = generation.DefaultRetryPolicy()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoop()
	}

	return &Service{
		assets:   assets,
		blobs:    blobs,
		credits:  credits,
		provider: provider,
		policy:   cfg.Policy,
		logger:   cfg.Logger.With("component", "asset"),
		metrics:  cfg.Metrics,
		now:      time.Now,
		entropy:  ulid.Monotonic(rand.Reader, 0),
	}
}

// newID draws a ULID from the monotonic source; ids minted in the same
// millisecond still sort and never collide.
func (s *Service) newID() ulid.ULID {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(s.now()), s.entropy)
}

// BlobName returns the storage name of an asset's image.
func BlobName(assetID, ownerID string) string {
	return assetID + "_" + ownerID + ".png"
}

// RefundReference is the ledger reference of a generation refund.
func RefundReference(assetID string) string {
	return "refund:" + assetID
}

// ValidatePrompt trims and checks a prompt.
func ValidatePrompt(prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" || utf8.RuneCountInString(prompt) > MaxPromptLength {
		return "", ErrInvalidPrompt
	}
	return prompt, nil
}

// Generate spends one credit and produces an asset. On any failure after
// the debit the credit is refunded and no asset remains.
func (s *Service) Generate(ctx context.Context, userID, prompt string) (*model.Asset, error) {
	prompt, err := ValidatePrompt(prompt)
	if err != nil {
		return nil, err
	}

	start := s.now()
	if _, err := s.credits.Debit(ctx, userID, GenerationCost, debitReason); err != nil {
		s.metrics.IncGeneration("insufficient")
		return nil, err
	}

	// From here on the request either completes or compensates, even if
	// the caller goes away.
	ctx = context.WithoutCancel(ctx)

	id := s.newID()
	asset := &model.Asset{
		ID:      id.String(),
		OwnerID: userID,
		Prompt:  prompt,
		BlobRef: BlobName(id.String(), userID),
	}
	log := s.logger.With("asset_id", asset.ID, "user_id", userID)

	data, attempts, err := s.policy.Call(ctx, func(actx context.Context) ([]byte, error) {
		data, err := s.provider.Generate(actx, prompt)
		if err != nil {
			s.metrics.IncProviderAttempt("failed")
		} else {
			s.metrics.IncProviderAttempt("success")
		}
		return data, err
	})
	if err != nil {
		log.Warn("provider failed", "attempts", attempts, "error", err)
		return nil, s.compensate(ctx, log, asset, false, err)
	}

	if err := s.blobs.Put(ctx, asset.BlobRef, bytes.NewReader(data)); err != nil {
		log.Error("blob write failed", "error", err)
		return nil, s.compensate(ctx, log, asset, true, err)
	}

	asset.CreatedAt = s.now().UTC()
	if err := s.assets.CreateAsset(ctx, asset); err != nil {
		log.Error("asset record insert failed", "error", err)
		return nil, s.compensate(ctx, log, asset, true, err)
	}

	s.metrics.IncGeneration("success")
	s.metrics.ObserveGenerationDuration(s.now().Sub(start))
	log.Info("asset generated", "attempts", attempts, "bytes", len(data))
	return asset, nil
}

// compensate undoes a failed generation: removes the blob if one may have
// been written and refunds the debit.
func (s *Service) compensate(ctx context.Context, log *slog.Logger, asset *model.Asset, removeBlob bool, cause error) error {
	s.metrics.IncGeneration("failed")

	if removeBlob {
		if err := s.blobs.Delete(ctx, asset.BlobRef); err != nil {
			// Left for the orphan sweep.
			log.Warn("failed to remove blob of failed generation", "blob", asset.BlobRef, "error", err)
		}
	}

	ref := RefundReference(asset.ID)
	var err error
	for attempt := 1; attempt <= refundAttempts; attempt++ {
		if _, err = s.credits.CreditOnce(ctx, asset.OwnerID, GenerationCost, refundReason, ref); err == nil {
			break
		}
		time.Sleep(time.Duration(attempt) * refundBackoff)
	}
	if err != nil {
		log.Error("refund failed, credit lost", "reference", ref, "error", err)
	}

	return fmt.Errorf("%w: %v", ErrGenerationFailed, cause)
}

// Page is one page of an owner's assets.
type Page struct {
	Assets []*model.Asset `json:"assets"`
	Total  int            `json:"total"`
	Page   int            `json:"page"`
	Limit  int            `json:"limit"`
}

// List returns the owner's assets newest first. page is 1-based.
func (s *Service) List(ctx context.Context, ownerID string, page, limit int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}

	assets, total, err := s.assets.ListAssetsByOwner(ctx, ownerID, limit, (page-1)*limit)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	return &Page{Assets: assets, Total: total, Page: page, Limit: limit}, nil
}

// Get returns an asset owned by ownerID.
func (s *Service) Get(ctx context.Context, ownerID, assetID string) (*model.Asset, error) {
	asset, err := s.assets.GetAsset(ctx, assetID)
	if err != nil {
		if errors.Is(err, store.ErrAssetNotFound) {
			return nil, ErrNotFoundOrUnauthorized
		}
		return nil, fmt.Errorf("get asset: %w", err)
	}
	if asset.OwnerID != ownerID {
		return nil, ErrNotFoundOrUnauthorized
	}
	return asset, nil
}

// Open returns the asset and a reader over its image.
func (s *Service) Open(ctx context.Context, ownerID, assetID string) (*model.Asset, io.ReadCloser, error) {
	asset, err := s.Get(ctx, ownerID, assetID)
	if err != nil {
		return nil, nil, err
	}

	rc, err := s.blobs.Get(ctx, asset.BlobRef)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			s.logger.Warn("asset record without blob", "asset_id", asset.ID, "blob", asset.BlobRef)
			return nil, nil, ErrNotFoundOrUnauthorized
		}
		return nil, nil, fmt.Errorf("open blob: %w", err)
	}
	return asset, rc, nil
}

// Delete removes the record and then the blob. A failed blob removal is
// logged and left to the reconciler.
func (s *Service) Delete(ctx context.Context, ownerID, assetID string) error {
	asset, err := s.Get(ctx, ownerID, assetID)
	if err != nil {
		return err
	}

	if err := s.assets.DeleteAsset(ctx, asset.ID); err != nil {
		if errors.Is(err, store.ErrAssetNotFound) {
			return ErrNotFoundOrUnauthorized
		}
		return fmt.Errorf("delete asset: %w", err)
	}

	if err := s.blobs.Delete(context.WithoutCancel(ctx), asset.BlobRef); err != nil {
		s.logger.Warn("blob removal failed, leaving it for the orphan sweep",
			"asset_id", asset.ID,
			"blob", asset.BlobRef,
			"error", err,
		)
	}

	s.metrics.IncAssetDeleted()
	s.logger.Info("asset deleted", "asset_id", asset.ID, "user_id", ownerID)
	return nil
}
