// Package local provides a local filesystem blob backend.
package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/draftbench/draftbench/internal/blob"
	"github.com/draftbench/draftbench/internal/metrics"
)

// Backend implements blob.Store using the local filesystem.
type Backend struct {
	rootPath string
}

// New creates a new local blob backend rooted at rootPath.
func New(rootPath string) (*Backend, error) {
	if rootPath == "" {
		return nil, fmt.Errorf("root path is required")
	}
	if err := os.MkdirAll(rootPath, 0755); err != nil {
		return nil, fmt.Errorf("create root path %s: %w", rootPath, err)
	}
	return &Backend{rootPath: rootPath}, nil
}

func (b *Backend) fullPath(key string) string {
	return filepath.Join(b.rootPath, filepath.FromSlash(key))
}

// Put writes data atomically (temp file then rename).
func (b *Backend) Put(_ context.Context, key string, data []byte) error {
	start := time.Now()
	path := b.fullPath(key)
	dir := filepath.Dir(path)

	if err := os.MkdirAll(dir, 0755); err != nil {
		metrics.RecordBlobOperation("put", time.Since(start), false)
		return fmt.Errorf("create dirs for %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(dir, ".draftbench-*.tmp")
	if err != nil {
		metrics.RecordBlobOperation("put", time.Since(start), false)
		return fmt.Errorf("create temp for %s: %w", key, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		metrics.RecordBlobOperation("put", time.Since(start), false)
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		metrics.RecordBlobOperation("put", time.Since(start), false)
		return fmt.Errorf("close temp for %s: %w", key, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		metrics.RecordBlobOperation("put", time.Since(start), false)
		return fmt.Errorf("rename temp to %s: %w", key, err)
	}

	metrics.RecordBlobOperation("put", time.Since(start), true)
	return nil
}

// Get reads data by key.
func (b *Backend) Get(_ context.Context, key string) ([]byte, error) {
	start := time.Now()
	data, err := os.ReadFile(b.fullPath(key))
	if err != nil {
		metrics.RecordBlobOperation("get", time.Since(start), false)
		if os.IsNotExist(err) {
			return nil, blob.ErrNotFound
		}
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	metrics.RecordBlobOperation("get", time.Since(start), true)
	return data, nil
}

// Delete removes a key; missing keys are not an error.
func (b *Backend) Delete(_ context.Context, key string) error {
	start := time.Now()
	err := os.Remove(b.fullPath(key))
	if err != nil && !os.IsNotExist(err) {
		metrics.RecordBlobOperation("delete", time.Since(start), false)
		return fmt.Errorf("delete %s: %w", key, err)
	}
	metrics.RecordBlobOperation("delete", time.Since(start), true)
	return nil
}

// Type returns "local".
func (b *Backend) Type() string { return "local" }

// Close is a no-op for local backends.
func (b *Backend) Close() error { return nil }
