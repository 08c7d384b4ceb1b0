// Package localstate persists small pieces of workspace state on the client
// side, so they survive process restarts. Today that is the set of paths the
// user deleted: after a reload, the initial sandbox scan must not resurface
// entries that were already removed before reconciliation catches up.
package localstate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/draftbench/draftbench/pkg/pathutil"
)

const deletedFile = "deleted-paths.json"

// State is a durable local key-value store backed by JSON files in a
// directory.
type State struct {
	dir string

	mu      sync.RWMutex
	deleted map[string]struct{}
}

// Open loads (or creates) local state in dir.
func Open(dir string) (*State, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	s := &State{
		dir:     dir,
		deleted: make(map[string]struct{}),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *State) load() error {
	data, err := os.ReadFile(filepath.Join(s.dir, deletedFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read deleted paths: %w", err)
	}
	var paths []string
	if err := json.Unmarshal(data, &paths); err != nil {
		return fmt.Errorf("parse deleted paths: %w", err)
	}
	for _, p := range paths {
		s.deleted[pathutil.Clean(p)] = struct{}{}
	}
	return nil
}

// save persists the deleted set atomically. Must be called with lock held.
func (s *State) save() error {
	paths := make([]string, 0, len(s.deleted))
	for p := range s.deleted {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	data, err := json.Marshal(paths)
	if err != nil {
		return err
	}

	path := filepath.Join(s.dir, deletedFile)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write deleted paths: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename deleted paths: %w", err)
	}
	return nil
}

// MarkDeleted records paths as deleted and persists the set.
func (s *State) MarkDeleted(paths ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range paths {
		s.deleted[pathutil.Clean(p)] = struct{}{}
	}
	return s.save()
}

// ClearDeleted removes a path from the deleted set (the path exists again).
func (s *State) ClearDeleted(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	path = pathutil.Clean(path)
	if _, ok := s.deleted[path]; !ok {
		return nil
	}
	delete(s.deleted, path)
	return s.save()
}

// IsDeleted reports whether a path (or any of its ancestors) is in the
// deleted set.
func (s *State) IsDeleted(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	path = pathutil.Clean(path)
	if _, ok := s.deleted[path]; ok {
		return true
	}
	for _, ancestor := range pathutil.Ancestors(path) {
		if _, ok := s.deleted[ancestor]; ok {
			return true
		}
	}
	return false
}

// DeletedPaths returns the deleted set as a sorted list.
func (s *State) DeletedPaths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	paths := make([]string, 0, len(s.deleted))
	for p := range s.deleted {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
