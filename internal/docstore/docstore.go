// Package docstore defines the remote document store capability backing
// lock rows and chat snapshots. Backends live in subpackages.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a queried document does not exist.
var ErrNotFound = errors.New("docstore: not found")

// Error wraps a failed remote store operation.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("docstore %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// LockRecord is one directly-locked path, scoped to a chat document.
type LockRecord struct {
	RemoteID  string
	ChatID    string
	Path      string
	IsFolder  bool
	CreatedAt time.Time
}

// SnapshotRecord is one point-in-time capture of the workspace file map,
// attached to a chat message. Payload holds the serialized file map inline;
// when a blob store offloads it, Payload is nil and PayloadKey names the
// blob object instead.
type SnapshotRecord struct {
	RemoteID   string
	ChatID     string
	MessageID  string
	Summary    string
	Payload    []byte
	PayloadKey string
	CreatedAt  time.Time
}

// LockBackend stores lock rows. Uniqueness of (ChatID, Path) is enforced by
// the lockstore layer; backends only provide primitive CRUD.
type LockBackend interface {
	ListLocks(ctx context.Context, chatID string) ([]LockRecord, error)
	// GetLock returns ErrNotFound when no row exists for (chatID, path).
	GetLock(ctx context.Context, chatID, path string) (*LockRecord, error)
	InsertLock(ctx context.Context, rec LockRecord) (remoteID string, err error)
	UpdateLockFolder(ctx context.Context, remoteID string, isFolder bool) error
	// DeleteLock removes the row for (chatID, path); missing rows are not an
	// error.
	DeleteLock(ctx context.Context, chatID, path string) error
	DeleteChatLocks(ctx context.Context, chatID string) error
}

// SnapshotBackend stores snapshot rows append-only.
type SnapshotBackend interface {
	InsertSnapshot(ctx context.Context, rec SnapshotRecord) (remoteID string, err error)
	// LatestSnapshot returns the most recently created row for the chat, or
	// ErrNotFound when none exists.
	LatestSnapshot(ctx context.Context, chatID string) (*SnapshotRecord, error)
	// DeleteChatSnapshots removes all rows for the chat and returns the
	// payload keys of offloaded payloads so callers can clean up blobs.
	DeleteChatSnapshots(ctx context.Context, chatID string) ([]string, error)
}
