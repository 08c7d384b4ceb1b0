// Package blob defines the Store interface for snapshot payload storage.
// Snapshot documents stay small in the document store; serialized file maps
// can be offloaded to a blob backend (S3 or local disk).
package blob

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("blob: not found")

// Store is the interface for blob storage backends.
type Store interface {
	// Put uploads data under the given key.
	Put(ctx context.Context, key string, data []byte) error

	// Get retrieves data by key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes a key; missing keys are not an error.
	Delete(ctx context.Context, key string) error

	// Type returns the backend type identifier ("s3", "local").
	Type() string

	// Close releases any resources held by the backend.
	Close() error
}
