// Package snapshot persists point-in-time captures of the workspace file map,
// one append-only history per chat, and replays them into the sandbox on
// restore.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/draftbench/draftbench/internal/blob"
	"github.com/draftbench/draftbench/internal/docstore"
	"github.com/draftbench/draftbench/internal/logging"
	"github.com/draftbench/draftbench/internal/metrics"
	"github.com/draftbench/draftbench/internal/workspace"
	"github.com/draftbench/draftbench/pkg/retry"
)

// ErrNoChat is returned when a snapshot operation has no chat document id to
// attach to.
var ErrNoChat = errors.New("snapshot: no chat document id")

// Snapshot is one capture of the file map tied to a chat message.
type Snapshot struct {
	ChatID    string            `json:"chat_id"`
	MessageID string            `json:"message_id"`
	Summary   string            `json:"summary,omitempty"`
	Files     workspace.FileMap `json:"files"`
	CreatedAt time.Time         `json:"created_at"`
}

// Store persists snapshots through a document backend. When a blob store is
// configured the serialized file map is offloaded there and the document row
// records only the payload key.
type Store struct {
	backend docstore.SnapshotBackend
	blobs   blob.Store
	retry   retry.Config
}

// NewStore creates a snapshot store. blobs may be nil, in which case payloads
// are stored inline in the document row.
func NewStore(backend docstore.SnapshotBackend, blobs blob.Store) *Store {
	return &Store{
		backend: backend,
		blobs:   blobs,
		retry:   retry.DefaultConfig(),
	}
}

// Set appends a new snapshot row. Rows are never updated in place; the most
// recent row is the chat's current snapshot.
func (s *Store) Set(ctx context.Context, chatID string, snap Snapshot) error {
	if chatID == "" {
		return ErrNoChat
	}

	payload, err := json.Marshal(snap.Files)
	if err != nil {
		return fmt.Errorf("serialize snapshot: %w", err)
	}
	metrics.RecordSnapshotBytes(len(payload))

	now := time.Now().UTC()
	rec := docstore.SnapshotRecord{
		ChatID:    chatID,
		MessageID: snap.MessageID,
		Summary:   snap.Summary,
		CreatedAt: now,
	}
	if s.blobs != nil {
		key := fmt.Sprintf("snapshots/%s/%d", chatID, now.UnixNano())
		err := retry.Do(ctx, s.retry, func() error {
			if err := s.blobs.Put(ctx, key, payload); err != nil {
				return retry.Retryable(err)
			}
			return nil
		})
		if err != nil {
			metrics.RecordSnapshotOp("set", false)
			return fmt.Errorf("store snapshot payload: %w", err)
		}
		rec.PayloadKey = key
	} else {
		rec.Payload = payload
	}

	if _, err := s.backend.InsertSnapshot(ctx, rec); err != nil {
		metrics.RecordSnapshotOp("set", false)
		return fmt.Errorf("insert snapshot: %w", err)
	}
	metrics.RecordSnapshotOp("set", true)
	return nil
}

// Latest returns the most recent snapshot for the chat, or nil when the chat
// has none.
func (s *Store) Latest(ctx context.Context, chatID string) (*Snapshot, error) {
	if chatID == "" {
		return nil, ErrNoChat
	}
	rec, err := s.backend.LatestSnapshot(ctx, chatID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, nil
		}
		metrics.RecordSnapshotOp("get", false)
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	payload := rec.Payload
	if rec.PayloadKey != "" {
		if s.blobs == nil {
			return nil, fmt.Errorf("snapshot %s has payload key %s but no blob store is configured", rec.RemoteID, rec.PayloadKey)
		}
		payload, err = s.blobs.Get(ctx, rec.PayloadKey)
		if err != nil {
			metrics.RecordSnapshotOp("get", false)
			return nil, fmt.Errorf("load snapshot payload: %w", err)
		}
	}

	var files workspace.FileMap
	if err := json.Unmarshal(payload, &files); err != nil {
		return nil, fmt.Errorf("parse snapshot payload: %w", err)
	}
	metrics.RecordSnapshotOp("get", true)
	return &Snapshot{
		ChatID:    rec.ChatID,
		MessageID: rec.MessageID,
		Summary:   rec.Summary,
		Files:     files,
		CreatedAt: rec.CreatedAt,
	}, nil
}

// DeleteChat removes every snapshot row for a chat, and best-effort the blob
// payloads behind them.
func (s *Store) DeleteChat(ctx context.Context, chatID string) error {
	if chatID == "" {
		return ErrNoChat
	}
	keys, err := s.backend.DeleteChatSnapshots(ctx, chatID)
	if err != nil {
		metrics.RecordSnapshotOp("delete_chat", false)
		return fmt.Errorf("delete chat snapshots: %w", err)
	}
	if s.blobs != nil {
		for _, key := range keys {
			if key == "" {
				continue
			}
			if err := s.blobs.Delete(ctx, key); err != nil {
				logging.Warn("snapshot payload cleanup failed",
					logging.String("key", key), logging.Err(err))
			}
		}
	}
	metrics.RecordSnapshotOp("delete_chat", true)
	return nil
}
