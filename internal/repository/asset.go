package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/imagify/imagify/internal/model"
	"github.com/imagify/imagify/internal/store"
	"github.com/jackc/pgx/v5"
)

// CreateAsset inserts an asset record.
func (r *Repository) CreateAsset(ctx context.Context, a *model.Asset) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO assets (id, owner_id, prompt, blob_ref, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, a.ID, a.OwnerID, a.Prompt, a.BlobRef, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create asset: %w", err)
	}
	return nil
}

// GetAsset retrieves an asset by its ID.
func (r *Repository) GetAsset(ctx context.Context, id string) (*model.Asset, error) {
	var a model.Asset
	err := r.pool.QueryRow(ctx, `
		SELECT id, owner_id, prompt, blob_ref, created_at
		FROM assets
		WHERE id = $1
	`, id).Scan(&a.ID, &a.OwnerID, &a.Prompt, &a.BlobRef, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrAssetNotFound
		}
		return nil, fmt.Errorf("failed to get asset: %w", err)
	}
	return &a, nil
}

// DeleteAsset removes an asset record.
func (r *Repository) DeleteAsset(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM assets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete asset: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrAssetNotFound
	}
	return nil
}

// ListAssetsByOwner returns one newest-first page and the owner's total.
func (r *Repository) ListAssetsByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*model.Asset, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM assets WHERE owner_id = $1`, ownerID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count assets: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, owner_id, prompt, blob_ref, created_at
		FROM assets
		WHERE owner_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, ownerID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list assets: %w", err)
	}

	assets, err := collectAssets(rows)
	if err != nil {
		return nil, 0, err
	}
	return assets, total, nil
}

// ListAssetsCreatedBefore returns the oldest records created before cutoff.
func (r *Repository) ListAssetsCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*model.Asset, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, owner_id, prompt, blob_ref, created_at
		FROM assets
		WHERE created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired assets: %w", err)
	}
	return collectAssets(rows)
}

// ListAssetsAfter pages through all records by id.
func (r *Repository) ListAssetsAfter(ctx context.Context, afterID string, limit int) ([]*model.Asset, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, owner_id, prompt, blob_ref, created_at
		FROM assets
		WHERE id > $1
		ORDER BY id ASC
		LIMIT $2
	`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to page assets: %w", err)
	}
	return collectAssets(rows)
}

// ListBlobRefs returns every referenced blob name.
func (r *Repository) ListBlobRefs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT blob_ref FROM assets`)
	if err != nil {
		return nil, fmt.Errorf("failed to list blob refs: %w", err)
	}
	defer rows.Close()

	var refs []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, fmt.Errorf("failed to scan blob ref: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return refs, nil
}

func collectAssets(rows pgx.Rows) ([]*model.Asset, error) {
	defer rows.Close()

	assets := []*model.Asset{}
	for rows.Next() {
		var a model.Asset
		if err := rows.Scan(&a.ID, &a.OwnerID, &a.Prompt, &a.BlobRef, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		assets = append(assets, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return assets, nil
}
