package snapshot

import (
	"context"
	"fmt"

	"github.com/draftbench/draftbench/internal/localstate"
	"github.com/draftbench/draftbench/internal/lockstore"
	"github.com/draftbench/draftbench/internal/logging"
	"github.com/draftbench/draftbench/internal/sandbox"
	"github.com/draftbench/draftbench/internal/workspace"
	"github.com/draftbench/draftbench/pkg/pathutil"
)

// Coordinator decides when to take snapshots and replays them into the
// sandbox on restore.
type Coordinator struct {
	snaps *Store
	ws    *workspace.Store
	fs    sandbox.FS
	locks *lockstore.Store
	state *localstate.State
	root  string
}

// NewCoordinator wires a coordinator. locks and state may be nil; root is
// the sandbox mount prefix stored snapshot paths may carry.
func NewCoordinator(snaps *Store, ws *workspace.Store, fs sandbox.FS, locks *lockstore.Store, state *localstate.State, root string) *Coordinator {
	if root == "" {
		root = "/"
	}
	return &Coordinator{snaps: snaps, ws: ws, fs: fs, locks: locks, state: state, root: root}
}

// OnMessagesSaved captures the current file map against the saved message.
// A chat whose remote document id does not exist yet is skipped; its first
// batch is snapshotted once the id round-trips.
func (c *Coordinator) OnMessagesSaved(ctx context.Context, chatID, messageID, summary string) error {
	if chatID == "" {
		logging.Debug("snapshot skipped, chat has no document id yet",
			logging.String("message_id", messageID))
		return nil
	}
	snap := Snapshot{
		MessageID: messageID,
		Summary:   summary,
		Files:     c.ws.Files(),
	}
	if err := c.snaps.Set(ctx, chatID, snap); err != nil {
		return fmt.Errorf("snapshot for message %s: %w", messageID, err)
	}
	logging.Info("snapshot saved",
		logging.String("chat_id", chatID),
		logging.String("message_id", messageID),
		logging.Int("entries", len(snap.Files)))
	return nil
}

// RestoreLatest replays the chat's most recent snapshot into the sandbox.
// Having no snapshot is not an error.
func (c *Coordinator) RestoreLatest(ctx context.Context, chatID string) error {
	snap, err := c.snaps.Latest(ctx, chatID)
	if err != nil {
		return err
	}
	if snap == nil {
		return nil
	}
	c.Restore(ctx, snap)
	return nil
}

// Restore writes a snapshot's entries into the sandbox: folders first so
// nested files have a destination, then file contents. Each entry is written
// independently; a failed entry is logged and the rest continue, so a
// mid-replay failure leaves a partial restore. Paths the user deleted after
// the snapshot was taken are skipped.
func (c *Coordinator) Restore(ctx context.Context, snap *Snapshot) {
	restored := 0
	for p, e := range snap.Files {
		if !e.IsFolder() {
			continue
		}
		path := pathutil.StripPrefix(c.root, p)
		if c.skip(path) {
			continue
		}
		if err := c.fs.Mkdir(ctx, path); err != nil {
			logging.Warn("restore mkdir failed",
				logging.String("path", path), logging.Err(err))
			continue
		}
		restored++
	}
	for p, e := range snap.Files {
		if e.IsFolder() {
			continue
		}
		path := pathutil.StripPrefix(c.root, p)
		if c.skip(path) {
			continue
		}
		data, err := workspace.DecodeContent(e.Content, e.IsBinary)
		if err != nil {
			logging.Warn("restore decode failed",
				logging.String("path", path), logging.Err(err))
			continue
		}
		if err := c.fs.WriteFile(ctx, path, data); err != nil {
			logging.Warn("restore write failed",
				logging.String("path", path), logging.Err(err))
			continue
		}
		restored++
	}
	logging.Info("snapshot restored",
		logging.String("chat_id", snap.ChatID),
		logging.String("message_id", snap.MessageID),
		logging.Int("entries", restored))
}

func (c *Coordinator) skip(path string) bool {
	return c.state != nil && c.state.IsDeleted(path)
}

// DeleteChat removes the chat's snapshot history and its lock rows.
func (c *Coordinator) DeleteChat(ctx context.Context, chatID string) error {
	if err := c.snaps.DeleteChat(ctx, chatID); err != nil {
		return err
	}
	if c.locks != nil {
		if err := c.locks.RemoveChatLocks(ctx, chatID); err != nil {
			logging.Warn("chat lock cleanup failed",
				logging.String("chat_id", chatID), logging.Err(err))
		}
	}
	return nil
}
