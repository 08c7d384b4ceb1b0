package snapshot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/draftbench/draftbench/internal/blob"
	bloblocal "github.com/draftbench/draftbench/internal/blob/local"
	"github.com/draftbench/draftbench/internal/docstore/memory"
	"github.com/draftbench/draftbench/internal/localstate"
	"github.com/draftbench/draftbench/internal/lockstore"
	"github.com/draftbench/draftbench/internal/sandbox/local"
	"github.com/draftbench/draftbench/internal/workspace"
)

func newWorkspace(t *testing.T) (*workspace.Store, *local.FS) {
	t.Helper()
	fs, err := local.New(t.TempDir())
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	ws := workspace.New(fs, nil, lockstore.New(memory.New()), nil, nil, workspace.Options{
		ReconcileInterval:     time.Hour,
		InitialReconcileDelay: time.Hour,
	})
	t.Cleanup(func() { ws.Close() })
	ws.SetActiveChat("chat-1")
	return ws, fs
}

func TestSetAndLatest(t *testing.T) {
	ctx := context.Background()
	store := NewStore(memory.New(), nil)

	first := Snapshot{
		MessageID: "msg-1",
		Files: workspace.FileMap{
			"/a.txt": {Path: "/a.txt", Kind: workspace.KindFile, Content: "v1"},
		},
	}
	if err := store.Set(ctx, "chat-1", first); err != nil {
		t.Fatalf("Set: %v", err)
	}
	second := Snapshot{
		MessageID: "msg-2",
		Summary:   "changed a.txt",
		Files: workspace.FileMap{
			"/a.txt": {Path: "/a.txt", Kind: workspace.KindFile, Content: "v2"},
			"/src":   {Path: "/src", Kind: workspace.KindFolder},
		},
	}
	if err := store.Set(ctx, "chat-1", second); err != nil {
		t.Fatalf("Set: %v", err)
	}

	snap, err := store.Latest(ctx, "chat-1")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if snap == nil || snap.MessageID != "msg-2" {
		t.Fatalf("Latest = %+v, want most recent snapshot msg-2", snap)
	}
	if snap.Files["/a.txt"].Content != "v2" {
		t.Fatalf("restored content = %q, want v2", snap.Files["/a.txt"].Content)
	}
	if snap.Summary != "changed a.txt" {
		t.Fatalf("summary = %q", snap.Summary)
	}
}

func TestLatestEmptyChatHistory(t *testing.T) {
	snap, err := NewStore(memory.New(), nil).Latest(context.Background(), "chat-x")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if snap != nil {
		t.Fatalf("Latest = %+v, want nil for chat without snapshots", snap)
	}
}

func TestNoChatID(t *testing.T) {
	ctx := context.Background()
	store := NewStore(memory.New(), nil)

	if err := store.Set(ctx, "", Snapshot{}); !errors.Is(err, ErrNoChat) {
		t.Errorf("Set = %v, want ErrNoChat", err)
	}
	if _, err := store.Latest(ctx, ""); !errors.Is(err, ErrNoChat) {
		t.Errorf("Latest = %v, want ErrNoChat", err)
	}
}

func TestBlobOffload(t *testing.T) {
	ctx := context.Background()
	blobs, err := bloblocal.New(t.TempDir())
	if err != nil {
		t.Fatalf("blob backend: %v", err)
	}
	backend := memory.New()
	store := NewStore(backend, blobs)

	snap := Snapshot{
		MessageID: "msg-1",
		Files: workspace.FileMap{
			"/a.txt": {Path: "/a.txt", Kind: workspace.KindFile, Content: "hello"},
		},
	}
	if err := store.Set(ctx, "chat-1", snap); err != nil {
		t.Fatalf("Set: %v", err)
	}

	rec, err := backend.LatestSnapshot(ctx, "chat-1")
	if err != nil {
		t.Fatalf("LatestSnapshot: %v", err)
	}
	if rec.PayloadKey == "" {
		t.Fatal("document row should carry a payload key, not inline payload")
	}
	if len(rec.Payload) != 0 {
		t.Fatal("payload should be offloaded to the blob store")
	}

	got, err := store.Latest(ctx, "chat-1")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if got.Files["/a.txt"].Content != "hello" {
		t.Fatalf("content = %q, want payload resolved through blob store", got.Files["/a.txt"].Content)
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	ws, _ := newWorkspace(t)

	if err := ws.CreateFile(ctx, "/src/app.ts", []byte("console.log(1)")); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if err := ws.CreateFile(ctx, "/logo.bin", []byte{0xff, 0xfe, 0x01}); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if err := ws.CreateFolder(ctx, "/empty"); err != nil {
		t.Fatalf("CreateFolder: %v", err)
	}

	store := NewStore(memory.New(), nil)
	coord := NewCoordinator(store, ws, nil, nil, nil, "/")
	if err := coord.OnMessagesSaved(ctx, "chat-1", "msg-1", ""); err != nil {
		t.Fatalf("OnMessagesSaved: %v", err)
	}

	// Replay into a fresh sandbox.
	target, err := local.New(t.TempDir())
	if err != nil {
		t.Fatalf("target sandbox: %v", err)
	}
	restorer := NewCoordinator(store, ws, target, nil, nil, "/")
	if err := restorer.RestoreLatest(ctx, "chat-1"); err != nil {
		t.Fatalf("RestoreLatest: %v", err)
	}

	data, err := target.ReadFile(ctx, "/src/app.ts")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "console.log(1)" {
		t.Fatalf("restored content = %q", data)
	}
	bin, err := target.ReadFile(ctx, "/logo.bin")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(bin) != string([]byte{0xff, 0xfe, 0x01}) {
		t.Fatalf("restored binary = %v", bin)
	}
	if _, err := target.ReadDir(ctx, "/empty"); err != nil {
		t.Fatalf("restored folder missing: %v", err)
	}
}

func TestRestoreStripsRootPrefix(t *testing.T) {
	ctx := context.Background()
	target, err := local.New(t.TempDir())
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	coord := NewCoordinator(NewStore(memory.New(), nil), nil, target, nil, nil, "/home/project")

	coord.Restore(ctx, &Snapshot{
		ChatID: "chat-1",
		Files: workspace.FileMap{
			"/home/project/src":      {Path: "/home/project/src", Kind: workspace.KindFolder},
			"/home/project/src/a.ts": {Path: "/home/project/src/a.ts", Kind: workspace.KindFile, Content: "x"},
		},
	})

	if _, err := target.ReadFile(ctx, "/src/a.ts"); err != nil {
		t.Fatalf("prefixed path not replayed at stripped location: %v", err)
	}
}

func TestRestoreSkipsDeletedPaths(t *testing.T) {
	ctx := context.Background()
	target, err := local.New(t.TempDir())
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	state, err := localstate.Open(t.TempDir())
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if err := state.MarkDeleted("/gone.txt"); err != nil {
		t.Fatalf("MarkDeleted: %v", err)
	}

	coord := NewCoordinator(NewStore(memory.New(), nil), nil, target, nil, state, "/")
	coord.Restore(ctx, &Snapshot{
		Files: workspace.FileMap{
			"/gone.txt": {Path: "/gone.txt", Kind: workspace.KindFile, Content: "zombie"},
			"/kept.txt": {Path: "/kept.txt", Kind: workspace.KindFile, Content: "ok"},
		},
	})

	if _, err := target.ReadFile(ctx, "/gone.txt"); err == nil {
		t.Fatal("deleted path resurfaced on restore")
	}
	if _, err := target.ReadFile(ctx, "/kept.txt"); err != nil {
		t.Fatalf("kept path missing: %v", err)
	}
}

func TestOnMessagesSavedSkipsNewChat(t *testing.T) {
	ctx := context.Background()
	ws, _ := newWorkspace(t)
	backend := memory.New()
	coord := NewCoordinator(NewStore(backend, nil), ws, nil, nil, nil, "/")

	if err := coord.OnMessagesSaved(ctx, "", "msg-1", ""); err != nil {
		t.Fatalf("OnMessagesSaved: %v", err)
	}
	if _, err := backend.LatestSnapshot(ctx, ""); err == nil {
		t.Fatal("no snapshot row should exist for a chat without a document id")
	}
}

func TestDeleteChatCascade(t *testing.T) {
	ctx := context.Background()
	blobs, err := bloblocal.New(t.TempDir())
	if err != nil {
		t.Fatalf("blob backend: %v", err)
	}
	backend := memory.New()
	store := NewStore(backend, blobs)
	locks := lockstore.New(backend)

	snap := Snapshot{
		MessageID: "msg-1",
		Files:     workspace.FileMap{"/a.txt": {Path: "/a.txt", Kind: workspace.KindFile, Content: "x"}},
	}
	if err := store.Set(ctx, "chat-1", snap); err != nil {
		t.Fatalf("Set: %v", err)
	}
	rec, err := backend.LatestSnapshot(ctx, "chat-1")
	if err != nil {
		t.Fatalf("LatestSnapshot: %v", err)
	}
	if err := locks.AddLockedItem(ctx, "chat-1", "/a.txt", false); err != nil {
		t.Fatalf("AddLockedItem: %v", err)
	}

	coord := NewCoordinator(store, nil, nil, locks, nil, "/")
	if err := coord.DeleteChat(ctx, "chat-1"); err != nil {
		t.Fatalf("DeleteChat: %v", err)
	}

	if got, err := store.Latest(ctx, "chat-1"); err != nil || got != nil {
		t.Fatalf("Latest after delete = %+v, %v; want nil", got, err)
	}
	if _, err := blobs.Get(ctx, rec.PayloadKey); !errors.Is(err, blob.ErrNotFound) {
		t.Fatalf("blob payload still present after cascade: %v", err)
	}
	if rows := locks.LockedItems(ctx, "chat-1"); len(rows) != 0 {
		t.Fatalf("lock rows after cascade = %v, want none", rows)
	}
}
