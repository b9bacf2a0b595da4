// Package blob stores the binary half of generated assets.
package blob

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned by Get when the named blob does not exist.
var ErrNotFound = errors.New("blob not found")

// Object describes one stored blob.
type Object struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// Store defines the blob operations used by the asset lifecycle.
type Store interface {
	// Put writes the blob under name, replacing nothing: names are unique.
	Put(ctx context.Context, name string, r io.Reader) error

	// Get opens the named blob for reading.
	Get(ctx context.Context, name string) (io.ReadCloser, error)

	// Delete removes the named blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error

	Exists(ctx context.Context, name string) (bool, error)

	// List returns every stored blob.
	List(ctx context.Context) ([]Object, error)
}
