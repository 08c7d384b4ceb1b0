package workspace

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/draftbench/draftbench/internal/docstore"
	"github.com/draftbench/draftbench/internal/docstore/memory"
	"github.com/draftbench/draftbench/internal/events"
	"github.com/draftbench/draftbench/internal/lockstore"
	"github.com/draftbench/draftbench/internal/sandbox/local"
)

func newTestStore(t *testing.T) (*Store, *memory.Store) {
	t.Helper()
	fs, err := local.New(t.TempDir())
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	backend := memory.New()
	s := New(fs, nil, lockstore.New(backend), nil, nil, Options{
		BatchWindow:           10 * time.Millisecond,
		ReconcileInterval:     time.Hour,
		InitialReconcileDelay: time.Hour,
	})
	t.Cleanup(func() { s.Close() })
	s.SetActiveChat("chat-1")
	return s, backend
}

func TestCreateAndSaveFile(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	if err := s.CreateFile(ctx, "/a.txt", []byte("hi")); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if got, ok := s.GetFileContent("/a.txt"); !ok || got != "hi" {
		t.Fatalf("content = %q, %v; want %q", got, ok, "hi")
	}

	if err := s.SaveFile(ctx, "/a.txt", []byte("bye")); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}
	if got, _ := s.GetFileContent("/a.txt"); got != "bye" {
		t.Fatalf("content after save = %q, want %q", got, "bye")
	}

	// Write-through: the sandbox holds the new content too.
	data, err := s.fs.ReadFile(ctx, "/a.txt")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "bye" {
		t.Fatalf("sandbox content = %q, want %q", data, "bye")
	}
}

func TestCreateFileEnsuresParents(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	if err := s.CreateFile(ctx, "/deep/nested/dir/f.txt", []byte("x")); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if _, err := s.fs.ReadFile(ctx, "/deep/nested/dir/f.txt"); err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
}

func TestInvalidPaths(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	for _, p := range []string{"", "  ", "/"} {
		if err := s.CreateFile(ctx, p, nil); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("CreateFile(%q) = %v, want ErrInvalidPath", p, err)
		}
	}
	if err := s.DeleteFolder(ctx, "/"); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("DeleteFolder(/) = %v, want ErrInvalidPath", err)
	}
}

func TestRootPrefixStripped(t *testing.T) {
	ctx := context.Background()
	fs, err := local.New(t.TempDir())
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	s := New(fs, nil, lockstore.New(memory.New()), nil, nil, Options{
		Root:                  "/home/project",
		ReconcileInterval:     time.Hour,
		InitialReconcileDelay: time.Hour,
	})
	t.Cleanup(func() { s.Close() })
	s.SetActiveChat("chat-1")

	if err := s.CreateFile(ctx, "/home/project/src/a.ts", []byte("x")); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if _, ok := s.GetFile("/src/a.ts"); !ok {
		t.Fatal("expected entry tracked under stripped path /src/a.ts")
	}
}

func TestCreateFileInsideLockedFolder(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	if err := s.CreateFolder(ctx, "/src"); err != nil {
		t.Fatalf("CreateFolder: %v", err)
	}
	if err := s.LockFolder(ctx, "/src"); err != nil {
		t.Fatalf("LockFolder: %v", err)
	}
	if err := s.CreateFile(ctx, "/src/a.ts", []byte("x")); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	e, ok := s.GetFile("/src/a.ts")
	if !ok {
		t.Fatal("entry missing")
	}
	if !e.IsLocked || e.LockedByFolder != "/src" {
		t.Fatalf("entry lock state = %+v, want inherited from /src", e)
	}
	if st := s.IsFileLocked(ctx, "/src/a.ts"); !st.Locked || st.LockedBy != "/src" {
		t.Fatalf("IsFileLocked = %+v, want locked by /src", st)
	}
}

func TestDeleteFolderCascades(t *testing.T) {
	ctx := context.Background()
	s, backend := newTestStore(t)

	for _, f := range []string{"/src/a.ts", "/src/sub/b.ts", "/other.txt"} {
		if err := s.CreateFile(ctx, f, []byte("x")); err != nil {
			t.Fatalf("CreateFile %s: %v", f, err)
		}
	}
	if err := s.LockFile(ctx, "/src/a.ts"); err != nil {
		t.Fatalf("LockFile: %v", err)
	}

	if err := s.DeleteFolder(ctx, "/src"); err != nil {
		t.Fatalf("DeleteFolder: %v", err)
	}

	files := s.Files()
	for p := range files {
		if p == "/src" || len(p) > 5 && p[:5] == "/src/" {
			t.Errorf("orphaned entry %s survived folder delete", p)
		}
	}
	if _, ok := files["/other.txt"]; !ok {
		t.Error("/other.txt should be untouched")
	}

	rows, err := backend.ListLocks(ctx, "chat-1")
	if err != nil {
		t.Fatalf("ListLocks: %v", err)
	}
	for _, r := range rows {
		if r.Path == "/src/a.ts" {
			t.Error("lock row for deleted file survived")
		}
	}
}

func TestDeleteLockedFileDropsRow(t *testing.T) {
	ctx := context.Background()
	s, backend := newTestStore(t)

	if err := s.CreateFile(ctx, "/src/a.ts", []byte("x")); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if err := s.LockFile(ctx, "/src/a.ts"); err != nil {
		t.Fatalf("LockFile: %v", err)
	}
	if err := s.DeleteFile(ctx, "/src/a.ts"); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}

	rows, _ := backend.ListLocks(ctx, "chat-1")
	if len(rows) != 0 {
		t.Fatalf("lock rows after delete = %v, want none", rows)
	}
}

func TestLockUnlockRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	if err := s.CreateFile(ctx, "/a.txt", []byte("x")); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if err := s.LockFile(ctx, "/a.txt"); err != nil {
		t.Fatalf("LockFile: %v", err)
	}
	if st := s.IsFileLocked(ctx, "/a.txt"); !st.Locked {
		t.Fatal("expected locked after LockFile")
	}
	if e, _ := s.GetFile("/a.txt"); !e.IsLocked {
		t.Fatal("expected in-memory flag set optimistically")
	}

	if err := s.UnlockFile(ctx, "/a.txt"); err != nil {
		t.Fatalf("UnlockFile: %v", err)
	}
	s.ReconcileNow(ctx, "test")
	if st := s.IsFileLocked(ctx, "/a.txt"); st.Locked {
		t.Fatal("expected unlocked after round trip")
	}
	if e, _ := s.GetFile("/a.txt"); e.IsLocked {
		t.Fatal("expected in-memory flag cleared")
	}
}

func TestUnlockFileKeepsAncestorLock(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	if err := s.CreateFile(ctx, "/src/a.ts", []byte("x")); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if err := s.LockFolder(ctx, "/src"); err != nil {
		t.Fatalf("LockFolder: %v", err)
	}
	if err := s.LockFile(ctx, "/src/a.ts"); err != nil {
		t.Fatalf("LockFile: %v", err)
	}
	if err := s.UnlockFile(ctx, "/src/a.ts"); err != nil {
		t.Fatalf("UnlockFile: %v", err)
	}

	// The direct row is gone but the folder still covers the path.
	e, _ := s.GetFile("/src/a.ts")
	if !e.IsLocked || e.LockedByFolder != "/src" {
		t.Fatalf("entry = %+v, want inherited lock from /src", e)
	}
}

func TestLockFileNoActiveChat(t *testing.T) {
	ctx := context.Background()
	fs, err := local.New(t.TempDir())
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	s := New(fs, nil, lockstore.New(memory.New()), nil, nil, Options{
		ReconcileInterval:     time.Hour,
		InitialReconcileDelay: time.Hour,
	})
	t.Cleanup(func() { s.Close() })

	if err := s.CreateFile(ctx, "/a.txt", []byte("x")); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if err := s.LockFile(ctx, "/a.txt"); !errors.Is(err, lockstore.ErrNoActiveChat) {
		t.Fatalf("LockFile = %v, want ErrNoActiveChat", err)
	}
	if e, _ := s.GetFile("/a.txt"); e.IsLocked {
		t.Fatal("optimistic flag should be rolled back")
	}
}

// failingLockBackend rejects every operation.
type failingLockBackend struct{}

var errBackendDown = errors.New("backend down")

func (failingLockBackend) ListLocks(context.Context, string) ([]docstore.LockRecord, error) {
	return nil, errBackendDown
}
func (failingLockBackend) GetLock(context.Context, string, string) (*docstore.LockRecord, error) {
	return nil, errBackendDown
}
func (failingLockBackend) InsertLock(context.Context, docstore.LockRecord) (string, error) {
	return "", errBackendDown
}
func (failingLockBackend) UpdateLockFolder(context.Context, string, bool) error {
	return errBackendDown
}
func (failingLockBackend) DeleteLock(context.Context, string, string) error {
	return errBackendDown
}
func (failingLockBackend) DeleteChatLocks(context.Context, string) error {
	return errBackendDown
}

func TestLockFileRollbackOnRemoteFailure(t *testing.T) {
	ctx := context.Background()
	fs, err := local.New(t.TempDir())
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	s := New(fs, nil, lockstore.New(failingLockBackend{}), nil, nil, Options{
		ReconcileInterval:     time.Hour,
		InitialReconcileDelay: time.Hour,
	})
	t.Cleanup(func() { s.Close() })
	s.SetActiveChat("chat-1")

	if err := s.CreateFile(ctx, "/a.txt", []byte("x")); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if err := s.LockFile(ctx, "/a.txt"); err == nil {
		t.Fatal("expected error from failing backend")
	}
	if e, _ := s.GetFile("/a.txt"); e.IsLocked {
		t.Fatal("optimistic lock flag not rolled back after remote failure")
	}
}

func TestBinaryContentRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	raw := []byte{0xff, 0xfe, 0x00, 0x42}
	if err := s.CreateFile(ctx, "/blob.bin", raw); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	e, ok := s.GetFile("/blob.bin")
	if !ok || !e.IsBinary {
		t.Fatalf("entry = %+v, want binary", e)
	}
	decoded, err := DecodeContent(e.Content, e.IsBinary)
	if err != nil {
		t.Fatalf("DecodeContent: %v", err)
	}
	if string(decoded) != string(raw) {
		t.Fatalf("decoded = %v, want %v", decoded, raw)
	}
}

func TestReadersGetCopies(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	if err := s.CreateFile(ctx, "/a.txt", []byte("x")); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	e, _ := s.GetFile("/a.txt")
	e.Content = "mutated"
	if got, _ := s.GetFileContent("/a.txt"); got != "x" {
		t.Fatalf("store content = %q after mutating a returned copy", got)
	}

	m := s.Files()
	m["/a.txt"].Content = "mutated again"
	if got, _ := s.GetFileContent("/a.txt"); got != "x" {
		t.Fatalf("store content = %q after mutating a returned map", got)
	}
}

func TestEventsPublished(t *testing.T) {
	ctx := context.Background()
	fs, err := local.New(t.TempDir())
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	bus := events.NewBroadcaster()
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)

	s := New(fs, nil, lockstore.New(memory.New()), nil, bus, Options{
		ReconcileInterval:     time.Hour,
		InitialReconcileDelay: time.Hour,
	})
	t.Cleanup(func() { s.Close() })
	s.SetActiveChat("chat-1")

	if err := s.CreateFile(ctx, "/a.txt", []byte("x")); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	select {
	case ev := <-ch:
		if ev.Type != events.EventCreate || ev.Path != "/a.txt" {
			t.Fatalf("event = %+v, want create /a.txt", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no event published for CreateFile")
	}
}
