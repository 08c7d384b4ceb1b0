// Package memory provides an in-memory document store backend for tests and
// single-node use.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/draftbench/draftbench/internal/docstore"
)

// Store implements docstore.LockBackend and docstore.SnapshotBackend using
// in-process maps.
type Store struct {
	mu        sync.RWMutex
	nextID    int
	locks     map[string]docstore.LockRecord       // remoteID -> record
	snapshots map[string][]docstore.SnapshotRecord // chatID -> append-only history
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		locks:     make(map[string]docstore.LockRecord),
		snapshots: make(map[string][]docstore.SnapshotRecord),
	}
}

func (s *Store) newID() string {
	s.nextID++
	return fmt.Sprintf("mem-%d", s.nextID)
}

func (s *Store) ListLocks(_ context.Context, chatID string) ([]docstore.LockRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []docstore.LockRecord
	for _, rec := range s.locks {
		if rec.ChatID == chatID {
			result = append(result, rec)
		}
	}
	return result, nil
}

func (s *Store) GetLock(_ context.Context, chatID, path string) (*docstore.LockRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.locks {
		if rec.ChatID == chatID && rec.Path == path {
			out := rec
			return &out, nil
		}
	}
	return nil, docstore.ErrNotFound
}

func (s *Store) InsertLock(_ context.Context, rec docstore.LockRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.RemoteID = s.newID()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	s.locks[rec.RemoteID] = rec
	return rec.RemoteID, nil
}

func (s *Store) UpdateLockFolder(_ context.Context, remoteID string, isFolder bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.locks[remoteID]
	if !ok {
		return docstore.ErrNotFound
	}
	rec.IsFolder = isFolder
	s.locks[remoteID] = rec
	return nil
}

func (s *Store) DeleteLock(_ context.Context, chatID, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, rec := range s.locks {
		if rec.ChatID == chatID && rec.Path == path {
			delete(s.locks, id)
			return nil
		}
	}
	return nil
}

func (s *Store) DeleteChatLocks(_ context.Context, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, rec := range s.locks {
		if rec.ChatID == chatID {
			delete(s.locks, id)
		}
	}
	return nil
}

func (s *Store) InsertSnapshot(_ context.Context, rec docstore.SnapshotRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.RemoteID = s.newID()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	s.snapshots[rec.ChatID] = append(s.snapshots[rec.ChatID], rec)
	return rec.RemoteID, nil
}

func (s *Store) LatestSnapshot(_ context.Context, chatID string) (*docstore.SnapshotRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.snapshots[chatID]
	if len(history) == 0 {
		return nil, docstore.ErrNotFound
	}
	// History is append-only; on equal timestamps the later insert wins.
	latest := history[0]
	for _, rec := range history[1:] {
		if !rec.CreatedAt.Before(latest.CreatedAt) {
			latest = rec
		}
	}
	out := latest
	return &out, nil
}

func (s *Store) DeleteChatSnapshots(_ context.Context, chatID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	for _, rec := range s.snapshots[chatID] {
		if rec.PayloadKey != "" {
			keys = append(keys, rec.PayloadKey)
		}
	}
	delete(s.snapshots, chatID)
	return keys, nil
}
