// Package lockstore implements cooperative path locking over a remote
// document store. Lock rows are the source of truth; the workspace store's
// in-memory flags are a cache reconciled against this package.
package lockstore

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/draftbench/draftbench/internal/docstore"
	"github.com/draftbench/draftbench/internal/logging"
	"github.com/draftbench/draftbench/internal/metrics"
	"github.com/draftbench/draftbench/pkg/pathutil"
)

// ErrNoActiveChat is returned when a lock mutation is attempted without a
// chat document id.
var ErrNoActiveChat = errors.New("lockstore: no active chat")

// LockedItem is one directly-locked path scoped to a chat document.
type LockedItem struct {
	RemoteID string
	ChatID   string
	Path     string
	IsFolder bool
}

// LockState is the effective lock state of a path. LockedBy names the
// ancestor folder when the lock is inherited; it is empty for direct locks.
type LockState struct {
	Locked   bool
	LockedBy string
}

// Store provides lock semantics over a LockBackend.
type Store struct {
	backend docstore.LockBackend
}

// New creates a lock store over the given backend.
func New(backend docstore.LockBackend) *Store {
	return &Store{backend: backend}
}

// LockedItems lists all lock rows for the chat. It never fails: with no
// active chat or on a backend error it returns an empty list so callers
// degrade gracefully.
func (s *Store) LockedItems(ctx context.Context, chatID string) []LockedItem {
	if chatID == "" {
		return nil
	}
	records, err := s.backend.ListLocks(ctx, chatID)
	if err != nil {
		logging.Warn("listing locked items failed",
			zap.String("chat_id", chatID), zap.Error(err))
		return nil
	}
	items := make([]LockedItem, 0, len(records))
	for _, rec := range records {
		items = append(items, LockedItem{
			RemoteID: rec.RemoteID,
			ChatID:   rec.ChatID,
			Path:     rec.Path,
			IsFolder: rec.IsFolder,
		})
	}
	return items
}

// AddLockedItem records a direct lock on a path. The operation is
// idempotent: an existing row is left alone, except that a mismatched
// IsFolder flag is corrected.
func (s *Store) AddLockedItem(ctx context.Context, chatID, path string, isFolder bool) error {
	if chatID == "" {
		return ErrNoActiveChat
	}
	path = pathutil.Clean(path)

	existing, err := s.backend.GetLock(ctx, chatID, path)
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return fmt.Errorf("check existing lock for %s: %w", path, err)
	}
	if existing != nil {
		if existing.IsFolder == isFolder {
			return nil
		}
		if err := s.backend.UpdateLockFolder(ctx, existing.RemoteID, isFolder); err != nil {
			return fmt.Errorf("correct lock kind for %s: %w", path, err)
		}
		return nil
	}

	if _, err := s.backend.InsertLock(ctx, docstore.LockRecord{
		ChatID:   chatID,
		Path:     path,
		IsFolder: isFolder,
	}); err != nil {
		return fmt.Errorf("insert lock for %s: %w", path, err)
	}
	return nil
}

// RemoveLockedItem removes the direct lock row for a path. Removing a path
// with no row is not an error.
func (s *Store) RemoveLockedItem(ctx context.Context, chatID, path string) error {
	if chatID == "" {
		return ErrNoActiveChat
	}
	path = pathutil.Clean(path)
	if err := s.backend.DeleteLock(ctx, chatID, path); err != nil {
		return fmt.Errorf("delete lock for %s: %w", path, err)
	}
	return nil
}

// RemoveChatLocks removes every lock row for a chat (bulk chat deletion).
func (s *Store) RemoveChatLocks(ctx context.Context, chatID string) error {
	if chatID == "" {
		return ErrNoActiveChat
	}
	if err := s.backend.DeleteChatLocks(ctx, chatID); err != nil {
		return fmt.Errorf("delete chat locks: %w", err)
	}
	return nil
}

// IsFileLocked returns the effective lock state of a file path: a direct
// row, or inheritance from any folder-locked ancestor.
func (s *Store) IsFileLocked(ctx context.Context, chatID, path string) LockState {
	items := s.LockedItems(ctx, chatID)
	metrics.SetLockRows(len(items))
	return Effective(items, pathutil.Clean(path))
}

// IsFolderLocked returns the effective lock state of a folder path.
func (s *Store) IsFolderLocked(ctx context.Context, chatID, path string) LockState {
	return s.IsFileLocked(ctx, chatID, path)
}

// Effective computes the lock state of a path against a set of lock rows:
// a direct row wins first, then the ancestor walk from the root down to the
// immediate parent looks for any folder lock.
func Effective(items []LockedItem, path string) LockState {
	for _, item := range items {
		if item.Path == path {
			return LockState{Locked: true}
		}
	}
	for _, ancestor := range pathutil.Ancestors(path) {
		for _, item := range items {
			if item.IsFolder && item.Path == ancestor {
				return LockState{Locked: true, LockedBy: ancestor}
			}
		}
	}
	return LockState{}
}

// HasDirect reports whether the path has its own direct lock row.
func HasDirect(items []LockedItem, path string) bool {
	for _, item := range items {
		if item.Path == path {
			return true
		}
	}
	return false
}
