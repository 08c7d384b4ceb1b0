package local

import (
	"context"
	"testing"
	"time"

	"github.com/draftbench/draftbench/internal/sandbox"
)

// collect drains events until the wanted paths have been seen or the
// deadline passes. Returns events keyed by path (last event wins).
func collect(t *testing.T, w *Watcher, want int, timeout time.Duration) map[string]sandbox.Event {
	t.Helper()
	got := make(map[string]sandbox.Event)
	deadline := time.After(timeout)
	for len(got) < want {
		select {
		case e, ok := <-w.Events():
			if !ok {
				t.Fatalf("event channel closed early, have %d events", len(got))
			}
			got[e.Path] = e
		case <-deadline:
			t.Fatalf("timed out, have %d of %d events: %v", len(got), want, got)
		}
	}
	return got
}

func TestWatcher_InitialScanAndChanges(t *testing.T) {
	fs, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	fs.WriteFile(ctx, "/src/app.ts", []byte("v1"))

	w := NewWatcher(fs, 20*time.Millisecond, sandbox.WatchOptions{IncludeContent: true})
	defer w.Close()

	got := collect(t, w, 2, 2*time.Second)
	if got["/src"].Type != sandbox.EventAddDir {
		t.Errorf("expected add_dir for /src, got %v", got["/src"])
	}
	if got["/src/app.ts"].Type != sandbox.EventAddFile {
		t.Errorf("expected add_file for /src/app.ts, got %v", got["/src/app.ts"])
	}
	if string(got["/src/app.ts"].Data) != "v1" {
		t.Errorf("expected content v1, got %q", got["/src/app.ts"].Data)
	}

	// mtime granularity can hide rapid rewrites; wait before modifying
	time.Sleep(50 * time.Millisecond)
	fs.WriteFile(ctx, "/src/app.ts", []byte("v2-longer"))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-w.Events():
			if e.Path == "/src/app.ts" && e.Type == sandbox.EventChange {
				if string(e.Data) != "v2-longer" {
					t.Errorf("expected change content, got %q", e.Data)
				}
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for change event")
		}
	}
}

func TestWatcher_Removals(t *testing.T) {
	fs, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	fs.WriteFile(ctx, "/dir/a.txt", []byte("a"))

	w := NewWatcher(fs, 20*time.Millisecond, sandbox.WatchOptions{})
	defer w.Close()

	collect(t, w, 2, 2*time.Second) // /dir, /dir/a.txt

	fs.Remove(ctx, "/dir", true)

	got := collect(t, w, 2, 2*time.Second)
	if got["/dir/a.txt"].Type != sandbox.EventRemoveFile {
		t.Errorf("expected remove_file for /dir/a.txt, got %v", got["/dir/a.txt"])
	}
	if got["/dir"].Type != sandbox.EventRemoveDir {
		t.Errorf("expected remove_dir for /dir, got %v", got["/dir"])
	}
}

func TestWatcher_Exclude(t *testing.T) {
	fs, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	fs.WriteFile(ctx, "/node_modules/pkg/index.js", []byte("x"))
	fs.WriteFile(ctx, "/src/app.ts", []byte("y"))

	w := NewWatcher(fs, 20*time.Millisecond, sandbox.WatchOptions{
		Exclude: []string{"/node_modules"},
	})
	defer w.Close()

	got := collect(t, w, 2, 2*time.Second) // /src, /src/app.ts only
	for path := range got {
		if path == "/node_modules" || path == "/node_modules/pkg" {
			t.Errorf("excluded path surfaced: %s", path)
		}
	}
	if _, ok := got["/src/app.ts"]; !ok {
		t.Error("expected /src/app.ts event")
	}
}
