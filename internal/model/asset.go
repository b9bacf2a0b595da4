package model

import "time"

// Asset is the metadata half of a generated image. BlobRef names the
// binary half in blob storage.
type Asset struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Prompt    string    `json:"prompt"`
	BlobRef   string    `json:"blob_ref"`
	CreatedAt time.Time `json:"created_at"`
}

// Age returns how long ago the asset was created relative to now.
func (a *Asset) Age(now time.Time) time.Duration {
	return now.Sub(a.CreatedAt)
}
