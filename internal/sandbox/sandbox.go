// Package sandbox defines the filesystem capability exposed by the sandboxed
// runtime that executes user projects. The workspace store mirrors this
// filesystem; implementations live in subpackages.
package sandbox

import (
	"context"
	"errors"
	"fmt"
)

// EventType identifies a watch event.
type EventType string

const (
	EventAddFile         EventType = "add_file"
	EventAddDir          EventType = "add_dir"
	EventChange          EventType = "change"
	EventRemoveFile      EventType = "remove_file"
	EventRemoveDir       EventType = "remove_dir"
	EventUpdateDirectory EventType = "update_directory"
)

// Event is a single path change reported by a sandbox watcher.
// Data carries file content when the watcher was started with content
// inclusion enabled; it is nil otherwise.
type Event struct {
	Type EventType
	Path string
	Data []byte
}

// DirEntry describes one child of a directory.
type DirEntry struct {
	Name  string
	IsDir bool
}

// WatchOptions controls watcher behavior.
type WatchOptions struct {
	// IncludeContent asks the watcher to attach file content to add/change
	// events (up to MaxContentSize per file).
	IncludeContent bool
	// MaxContentSize caps per-file content attached to events (0 = 1 MiB).
	MaxContentSize int64
	// Exclude lists path prefixes that are not watched (e.g. "/node_modules").
	Exclude []string
}

// FS is the sandbox filesystem capability. Paths are workspace paths:
// slash-separated and relative to the sandbox root ("/src/app.ts").
type FS interface {
	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteFile(ctx context.Context, path string, data []byte) error
	// Mkdir creates a directory and any missing parents; it is idempotent.
	Mkdir(ctx context.Context, path string) error
	// Remove deletes a path. Deleting a non-empty directory requires
	// recursive=true. Removing a missing path is not an error.
	Remove(ctx context.Context, path string, recursive bool) error
	ReadDir(ctx context.Context, path string) ([]DirEntry, error)
}

// Watcher delivers filesystem change events until closed.
type Watcher interface {
	Events() <-chan Event
	Close() error
}

// ErrNotFound is returned when a path does not exist in the sandbox.
var ErrNotFound = errors.New("sandbox: not found")

// Error wraps a failed sandbox filesystem operation.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("sandbox %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
