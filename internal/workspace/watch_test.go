package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/draftbench/draftbench/internal/docstore/memory"
	"github.com/draftbench/draftbench/internal/lockstore"
	"github.com/draftbench/draftbench/internal/sandbox"
	"github.com/draftbench/draftbench/internal/sandbox/local"
)

func TestApplyBatchFoldsEvents(t *testing.T) {
	s, _ := newTestStore(t)

	s.applyBatch([]sandbox.Event{
		{Type: sandbox.EventAddDir, Path: "/src"},
		{Type: sandbox.EventAddFile, Path: "/src/a.ts", Data: []byte("v1")},
		{Type: sandbox.EventChange, Path: "/src/a.ts", Data: []byte("v2")},
	})

	if got := s.FileCount(); got != 2 {
		t.Fatalf("FileCount = %d, want 2", got)
	}
	if got, _ := s.GetFileContent("/src/a.ts"); got != "v2" {
		t.Fatalf("content = %q, want last write in batch", got)
	}
	if e, _ := s.GetFile("/src/a.ts"); e.IsLocked {
		t.Fatal("watch-created entries must default to unlocked")
	}
}

func TestApplyBatchRemoveDirCascades(t *testing.T) {
	s, _ := newTestStore(t)

	s.applyBatch([]sandbox.Event{
		{Type: sandbox.EventAddDir, Path: "/src"},
		{Type: sandbox.EventAddFile, Path: "/src/a.ts", Data: []byte("x")},
		{Type: sandbox.EventAddFile, Path: "/src/sub/b.ts", Data: []byte("x")},
		{Type: sandbox.EventAddFile, Path: "/other.txt", Data: []byte("x")},
	})
	s.applyBatch([]sandbox.Event{
		{Type: sandbox.EventRemoveDir, Path: "/src"},
	})

	if got := s.FileCount(); got != 1 {
		t.Fatalf("FileCount = %d, want only /other.txt", got)
	}
	if _, ok := s.GetFile("/other.txt"); !ok {
		t.Fatal("/other.txt should survive")
	}
}

func TestApplyBatchPreservesLockFlags(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	if err := s.CreateFile(ctx, "/a.txt", []byte("v1")); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if err := s.LockFile(ctx, "/a.txt"); err != nil {
		t.Fatalf("LockFile: %v", err)
	}

	s.applyBatch([]sandbox.Event{
		{Type: sandbox.EventChange, Path: "/a.txt", Data: []byte("v2")},
	})

	e, _ := s.GetFile("/a.txt")
	if !e.IsLocked {
		t.Fatal("change event must not clear lock flags")
	}
	if e.Content != "v2" {
		t.Fatalf("content = %q, want v2", e.Content)
	}
}

func TestApplyBatchKeepsContentWithoutData(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	if err := s.CreateFile(ctx, "/a.txt", []byte("body")); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	s.applyBatch([]sandbox.Event{
		{Type: sandbox.EventChange, Path: "/a.txt"},
	})
	if got, _ := s.GetFileContent("/a.txt"); got != "body" {
		t.Fatalf("content = %q, want previous content kept when event carries none", got)
	}
}

// End-to-end: an external write to the sandbox directory surfaces in the map
// through the polling watcher and the batching pipeline.
func TestWatchPipeline(t *testing.T) {
	dir := t.TempDir()
	fs, err := local.New(dir)
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	watcher := local.NewWatcher(fs, 20*time.Millisecond, sandbox.WatchOptions{
		IncludeContent: true,
	})
	s := New(fs, watcher, lockstore.New(memory.New()), nil, nil, Options{
		BatchWindow:           30 * time.Millisecond,
		ReconcileInterval:     time.Hour,
		InitialReconcileDelay: time.Hour,
	})
	t.Cleanup(func() { s.Close() })
	s.SetActiveChat("chat-1")

	if err := os.WriteFile(filepath.Join(dir, "ext.txt"), []byte("external"), 0644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if got, ok := s.GetFileContent("/ext.txt"); ok {
			if got != "external" {
				t.Fatalf("content = %q, want %q", got, "external")
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("external write never surfaced in the file map")
}
