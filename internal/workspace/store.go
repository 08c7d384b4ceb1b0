// Package workspace implements the virtual file store: an in-memory map of
// the sandbox filesystem kept current by watch events, with cooperative
// per-path locking reconciled against the remote document store.
package workspace

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/draftbench/draftbench/internal/events"
	"github.com/draftbench/draftbench/internal/localstate"
	"github.com/draftbench/draftbench/internal/lockstore"
	"github.com/draftbench/draftbench/internal/logging"
	"github.com/draftbench/draftbench/internal/metrics"
	"github.com/draftbench/draftbench/internal/sandbox"
	"github.com/draftbench/draftbench/pkg/pathutil"
)

// ErrInvalidPath is returned when a path cannot be expressed relative to the
// sandbox root.
var ErrInvalidPath = errors.New("workspace: invalid path")

// Options configures a Store.
type Options struct {
	// Root is the sandbox mount prefix incoming paths may carry
	// (e.g. "/home/project"). Paths are stored without it.
	Root string
	// BatchWindow is how long watch events are buffered before being folded
	// into one map update.
	BatchWindow time.Duration
	// ReconcileInterval is the period of the background lock reconciliation.
	ReconcileInterval time.Duration
	// InitialReconcileDelay is the one-shot delay after startup before the
	// second reconciliation pass (the sandbox may mount late).
	InitialReconcileDelay time.Duration
}

func (o *Options) defaults() {
	if o.Root == "" {
		o.Root = "/"
	}
	if o.BatchWindow <= 0 {
		o.BatchWindow = 100 * time.Millisecond
	}
	if o.ReconcileInterval <= 0 {
		o.ReconcileInterval = 30 * time.Second
	}
	if o.InitialReconcileDelay <= 0 {
		o.InitialReconcileDelay = 2 * time.Second
	}
}

// Store is the virtual file store. All exported methods are safe for
// concurrent use; readers receive copies, never live map references.
type Store struct {
	fs      sandbox.FS
	watcher sandbox.Watcher
	locks   *lockstore.Store
	state   *localstate.State
	bus     *events.Broadcaster
	opts    Options

	mu       sync.RWMutex
	files    FileMap
	modified map[string]string
	chatID   string

	reconcileCh chan string
	closeCh     chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup
}

// New creates a store over the sandbox filesystem and starts its background
// loops. watcher, state and bus may be nil; locks and fs may not.
func New(fs sandbox.FS, watcher sandbox.Watcher, locks *lockstore.Store, state *localstate.State, bus *events.Broadcaster, opts Options) *Store {
	opts.defaults()
	s := &Store{
		fs:          fs,
		watcher:     watcher,
		locks:       locks,
		state:       state,
		bus:         bus,
		opts:        opts,
		files:       make(FileMap),
		modified:    make(map[string]string),
		reconcileCh: make(chan string, 8),
		closeCh:     make(chan struct{}),
	}
	if watcher != nil {
		s.wg.Add(1)
		go s.watchLoop()
	}
	s.wg.Add(1)
	go s.reconcileLoop()
	return s
}

// Close stops the background loops and the watcher.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closeCh)
		if s.watcher != nil {
			err = s.watcher.Close()
		}
		s.wg.Wait()
	})
	return err
}

func (s *Store) normalize(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", ErrInvalidPath
	}
	rel, ok := pathutil.Rel(s.opts.Root, p)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrInvalidPath, p)
	}
	c := pathutil.Clean(rel)
	if c == "/" {
		return "", fmt.Errorf("%w: %s", ErrInvalidPath, p)
	}
	return c, nil
}

func (s *Store) activeChat() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chatID
}

// SetActiveChat switches the chat identity that scopes locks and triggers a
// reconciliation pass against the new chat's lock rows.
func (s *Store) SetActiveChat(chatID string) {
	s.mu.Lock()
	s.chatID = chatID
	s.mu.Unlock()
	s.kickReconcile("chat_change")
}

// encodeContent stores non-UTF-8 payloads as base64 text.
func encodeContent(data []byte) (string, bool) {
	if utf8.Valid(data) {
		return string(data), false
	}
	return base64.StdEncoding.EncodeToString(data), true
}

// DecodeContent reverses encodeContent.
func DecodeContent(content string, isBinary bool) ([]byte, error) {
	if !isBinary {
		return []byte(content), nil
	}
	return base64.StdEncoding.DecodeString(content)
}

// CreateFile writes a file through to the sandbox and tracks it in the map.
// A file created inside an already locked folder starts locked.
func (s *Store) CreateFile(ctx context.Context, path string, content []byte) error {
	p, err := s.normalize(path)
	if err != nil {
		return err
	}
	if dir := pathutil.Dir(p); dir != "/" {
		if err := s.fs.Mkdir(ctx, dir); err != nil {
			return fmt.Errorf("create file %s: %w", p, err)
		}
	}
	if err := s.fs.WriteFile(ctx, p, content); err != nil {
		return fmt.Errorf("create file %s: %w", p, err)
	}

	st := s.locks.IsFileLocked(ctx, s.activeChat(), p)

	body, binary := encodeContent(content)
	s.mu.Lock()
	s.files[p] = &Entry{
		Path:           p,
		Kind:           KindFile,
		Content:        body,
		IsBinary:       binary,
		IsLocked:       st.Locked,
		LockedByFolder: st.LockedBy,
	}
	count := len(s.files)
	s.mu.Unlock()

	metrics.SetEntriesTracked(count)
	s.clearDeleted(p)
	s.publish(events.Event{Type: events.EventCreate, Path: p})
	return nil
}

// CreateFolder creates a directory in the sandbox and tracks it in the map.
func (s *Store) CreateFolder(ctx context.Context, path string) error {
	p, err := s.normalize(path)
	if err != nil {
		return err
	}
	if err := s.fs.Mkdir(ctx, p); err != nil {
		return fmt.Errorf("create folder %s: %w", p, err)
	}

	st := s.locks.IsFolderLocked(ctx, s.activeChat(), p)

	s.mu.Lock()
	s.files[p] = &Entry{
		Path:           p,
		Kind:           KindFolder,
		IsLocked:       st.Locked,
		LockedByFolder: st.LockedBy,
	}
	count := len(s.files)
	s.mu.Unlock()

	metrics.SetEntriesTracked(count)
	s.clearDeleted(p)
	s.publish(events.Event{Type: events.EventCreate, Path: p, Folder: true})
	return nil
}

// SaveFile writes new content through to the sandbox and updates the entry.
// Lock flags are preserved as-is; reconciliation owns them. The first save of
// a path records its previous content (empty when untracked) as the pre-image
// for modification diffs.
func (s *Store) SaveFile(ctx context.Context, path string, content []byte) error {
	p, err := s.normalize(path)
	if err != nil {
		return err
	}
	if err := s.fs.WriteFile(ctx, p, content); err != nil {
		return fmt.Errorf("save file %s: %w", p, err)
	}

	body, binary := encodeContent(content)
	s.mu.Lock()
	prev := s.files[p]
	if _, dirty := s.modified[p]; !dirty {
		if prev != nil {
			s.modified[p] = prev.Content
		} else {
			s.modified[p] = ""
		}
	}
	e := &Entry{Path: p, Kind: KindFile, Content: body, IsBinary: binary}
	if prev != nil {
		e.IsLocked = prev.IsLocked
		e.LockedByFolder = prev.LockedByFolder
	}
	s.files[p] = e
	count := len(s.files)
	s.mu.Unlock()

	metrics.SetEntriesTracked(count)
	s.publish(events.Event{Type: events.EventModify, Path: p})
	return nil
}

// DeleteFile removes a file from the sandbox and the map, records it in the
// persisted deleted set, and best-effort drops its lock row.
func (s *Store) DeleteFile(ctx context.Context, path string) error {
	p, err := s.normalize(path)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(ctx, p, false); err != nil {
		return fmt.Errorf("delete file %s: %w", p, err)
	}

	s.mu.Lock()
	delete(s.files, p)
	delete(s.modified, p)
	count := len(s.files)
	s.mu.Unlock()

	metrics.SetEntriesTracked(count)
	s.markDeleted(p)
	s.dropLockRow(ctx, p)
	s.publish(events.Event{Type: events.EventDelete, Path: p})
	return nil
}

// DeleteFolder removes a directory tree from the sandbox and every tracked
// descendant from the map. Lock rows under the folder are removed best-effort.
func (s *Store) DeleteFolder(ctx context.Context, path string) error {
	p, err := s.normalize(path)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(ctx, p, true); err != nil {
		return fmt.Errorf("delete folder %s: %w", p, err)
	}

	s.mu.Lock()
	removed := make([]string, 0, 8)
	for q := range s.files {
		if q == p || pathutil.IsDescendant(p, q) {
			removed = append(removed, q)
		}
	}
	for _, q := range removed {
		delete(s.files, q)
		delete(s.modified, q)
	}
	count := len(s.files)
	s.mu.Unlock()

	metrics.SetEntriesTracked(count)
	s.markDeleted(removed...)

	// Lock rows can exist for paths no longer tracked in memory; sweep the
	// remote list instead of the removed slice.
	chatID := s.activeChat()
	if chatID != "" {
		for _, item := range s.locks.LockedItems(ctx, chatID) {
			if item.Path != p && !pathutil.IsDescendant(p, item.Path) {
				continue
			}
			if err := s.locks.RemoveLockedItem(ctx, chatID, item.Path); err != nil {
				logging.Warn("lock row cleanup failed",
					logging.String("path", item.Path), logging.Err(err))
			}
		}
	}

	s.publish(events.Event{Type: events.EventDelete, Path: p, Folder: true})
	return nil
}

// LockFile optimistically flags the file locked, then writes the lock row.
// On remote failure the in-memory flag is rolled back and the error returned.
func (s *Store) LockFile(ctx context.Context, path string) error {
	p, err := s.normalize(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	var prev *Entry
	if e, ok := s.files[p]; ok {
		prev = e.Clone()
		e.IsLocked = true
		e.LockedByFolder = ""
	}
	s.mu.Unlock()

	if err := s.locks.AddLockedItem(ctx, s.activeChat(), p, false); err != nil {
		s.mu.Lock()
		if e, ok := s.files[p]; ok && prev != nil {
			e.IsLocked = prev.IsLocked
			e.LockedByFolder = prev.LockedByFolder
		}
		s.mu.Unlock()
		metrics.RecordLockOp("lock_file", false)
		return fmt.Errorf("lock file %s: %w", p, err)
	}

	metrics.RecordLockOp("lock_file", true)
	s.publish(events.Event{Type: events.EventLock, Path: p})
	return nil
}

// LockFolder optimistically flags the folder and its tracked descendants,
// then writes the lock row. On remote failure a reconciliation pass repairs
// the many touched entries instead of a hand-computed rollback.
func (s *Store) LockFolder(ctx context.Context, path string) error {
	p, err := s.normalize(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if e, ok := s.files[p]; ok {
		e.IsLocked = true
		e.LockedByFolder = ""
	}
	for q, e := range s.files {
		if !pathutil.IsDescendant(p, q) {
			continue
		}
		if e.IsLocked && e.LockedByFolder == "" {
			// Direct lock on the descendant stays authoritative.
			continue
		}
		e.IsLocked = true
		e.LockedByFolder = p
	}
	s.mu.Unlock()

	if err := s.locks.AddLockedItem(ctx, s.activeChat(), p, true); err != nil {
		metrics.RecordLockOp("lock_folder", false)
		s.kickReconcile("lock_rollback")
		return fmt.Errorf("lock folder %s: %w", p, err)
	}

	metrics.RecordLockOp("lock_folder", true)
	s.publish(events.Event{Type: events.EventLock, Path: p, Folder: true})
	return nil
}

// UnlockFile removes the file's direct lock row and re-derives its effective
// state, which may still be locked by an ancestor folder.
func (s *Store) UnlockFile(ctx context.Context, path string) error {
	p, err := s.normalize(path)
	if err != nil {
		return err
	}
	chatID := s.activeChat()

	if err := s.locks.RemoveLockedItem(ctx, chatID, p); err != nil {
		metrics.RecordLockOp("unlock_file", false)
		s.kickReconcile("unlock_rollback")
		return fmt.Errorf("unlock file %s: %w", p, err)
	}

	st := s.locks.IsFileLocked(ctx, chatID, p)
	s.mu.Lock()
	if e, ok := s.files[p]; ok {
		e.IsLocked = st.Locked
		e.LockedByFolder = st.LockedBy
	}
	s.mu.Unlock()

	metrics.RecordLockOp("unlock_file", true)
	s.publish(events.Event{Type: events.EventUnlock, Path: p})
	return nil
}

// UnlockFolder removes the folder's lock row and triggers a reconciliation
// pass to re-derive descendant state.
func (s *Store) UnlockFolder(ctx context.Context, path string) error {
	p, err := s.normalize(path)
	if err != nil {
		return err
	}
	chatID := s.activeChat()

	if err := s.locks.RemoveLockedItem(ctx, chatID, p); err != nil {
		metrics.RecordLockOp("unlock_folder", false)
		s.kickReconcile("unlock_rollback")
		return fmt.Errorf("unlock folder %s: %w", p, err)
	}

	st := s.locks.IsFolderLocked(ctx, chatID, p)
	s.mu.Lock()
	if e, ok := s.files[p]; ok {
		e.IsLocked = st.Locked
		e.LockedByFolder = st.LockedBy
	}
	s.mu.Unlock()

	metrics.RecordLockOp("unlock_folder", true)
	s.kickReconcile("unlock_folder")
	s.publish(events.Event{Type: events.EventUnlock, Path: p, Folder: true})
	return nil
}

// IsFileLocked reports the effective lock state of a file against the remote
// lock rows of the active chat.
func (s *Store) IsFileLocked(ctx context.Context, path string) lockstore.LockState {
	p, err := s.normalize(path)
	if err != nil {
		return lockstore.LockState{}
	}
	return s.locks.IsFileLocked(ctx, s.activeChat(), p)
}

// IsFolderLocked reports the effective lock state of a folder.
func (s *Store) IsFolderLocked(ctx context.Context, path string) lockstore.LockState {
	p, err := s.normalize(path)
	if err != nil {
		return lockstore.LockState{}
	}
	return s.locks.IsFolderLocked(ctx, s.activeChat(), p)
}

// Files returns a deep copy of the tracked file map.
func (s *Store) Files() FileMap {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.files.Clone()
}

// GetFile returns a copy of the entry at path, if tracked.
func (s *Store) GetFile(path string) (*Entry, bool) {
	p, err := s.normalize(path)
	if err != nil {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.files[p]
	if !ok {
		return nil, false
	}
	return e.Clone(), true
}

// GetFileContent returns the stored content of a file entry.
func (s *Store) GetFileContent(path string) (string, bool) {
	e, ok := s.GetFile(path)
	if !ok || e.IsFolder() {
		return "", false
	}
	return e.Content, true
}

// FileCount returns the number of tracked entries.
func (s *Store) FileCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.files)
}

func (s *Store) publish(e events.Event) {
	if s.bus == nil {
		return
	}
	e.Timestamp = time.Now().UnixMilli()
	s.bus.Publish(e)
}

func (s *Store) markDeleted(paths ...string) {
	if s.state == nil || len(paths) == 0 {
		return
	}
	if err := s.state.MarkDeleted(paths...); err != nil {
		logging.Warn("persist deleted paths failed", logging.Err(err))
	}
}

func (s *Store) clearDeleted(path string) {
	if s.state == nil {
		return
	}
	if err := s.state.ClearDeleted(path); err != nil {
		logging.Warn("clear deleted path failed",
			logging.String("path", path), logging.Err(err))
	}
}

func (s *Store) dropLockRow(ctx context.Context, path string) {
	chatID := s.activeChat()
	if chatID == "" {
		return
	}
	if err := s.locks.RemoveLockedItem(ctx, chatID, path); err != nil {
		logging.Warn("lock row cleanup failed",
			logging.String("path", path), logging.Err(err))
	}
}

func (s *Store) kickReconcile(trigger string) {
	select {
	case s.reconcileCh <- trigger:
	default:
	}
}
