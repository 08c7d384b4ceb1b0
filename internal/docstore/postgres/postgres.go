// Package postgres provides a PostgreSQL-backed document store with metrics.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/lib/pq"

	"github.com/draftbench/draftbench/internal/docstore"
	"github.com/draftbench/draftbench/internal/logging"
	"github.com/draftbench/draftbench/internal/metrics"
	"go.uber.org/zap"
)

// Store is a PostgreSQL document store. It implements both
// docstore.LockBackend and docstore.SnapshotBackend.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL document store.
func New(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for use by other packages.
func (s *Store) DB() *sql.DB {
	return s.db
}

// UpdateConnectionMetrics updates the database connection metrics.
func (s *Store) UpdateConnectionMetrics() {
	stats := s.db.Stats()
	metrics.SetDocstoreConnectionsOpen(stats.OpenConnections)
}

// Migrate runs SQL migration files.
func (s *Store) Migrate(migrationsDir string) error {
	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.up.sql"))
	if err != nil {
		return fmt.Errorf("glob migrations: %w", err)
	}

	for _, f := range files {
		logging.Info("running migration", zap.String("file", filepath.Base(f)))
		content, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
	}

	return nil
}

// ─── LockBackend ────────────────────────────────────────────────────────────

func (s *Store) ListLocks(ctx context.Context, chatID string) ([]docstore.LockRecord, error) {
	start := time.Now()
	defer func() { metrics.RecordDocstoreQuery("list_locks", time.Since(start)) }()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, path, is_folder, created_at
		 FROM file_locks WHERE chat_id = $1 ORDER BY path`, chatID)
	if err != nil {
		return nil, &docstore.Error{Op: "list_locks", Err: err}
	}
	defer rows.Close()

	var result []docstore.LockRecord
	for rows.Next() {
		var rec docstore.LockRecord
		if err := rows.Scan(&rec.RemoteID, &rec.ChatID, &rec.Path, &rec.IsFolder, &rec.CreatedAt); err != nil {
			return nil, &docstore.Error{Op: "list_locks", Err: err}
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &docstore.Error{Op: "list_locks", Err: err}
	}
	return result, nil
}

func (s *Store) GetLock(ctx context.Context, chatID, path string) (*docstore.LockRecord, error) {
	start := time.Now()
	defer func() { metrics.RecordDocstoreQuery("get_lock", time.Since(start)) }()

	var rec docstore.LockRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT id, chat_id, path, is_folder, created_at
		 FROM file_locks WHERE chat_id = $1 AND path = $2`, chatID, path).
		Scan(&rec.RemoteID, &rec.ChatID, &rec.Path, &rec.IsFolder, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, docstore.ErrNotFound
	}
	if err != nil {
		return nil, &docstore.Error{Op: "get_lock", Err: err}
	}
	return &rec, nil
}

func (s *Store) InsertLock(ctx context.Context, rec docstore.LockRecord) (string, error) {
	start := time.Now()
	defer func() { metrics.RecordDocstoreQuery("insert_lock", time.Since(start)) }()

	var id string
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO file_locks (chat_id, path, is_folder)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (chat_id, path) DO UPDATE SET is_folder = EXCLUDED.is_folder
		 RETURNING id`,
		rec.ChatID, rec.Path, rec.IsFolder).Scan(&id)
	if err != nil {
		return "", &docstore.Error{Op: "insert_lock", Err: err}
	}
	return id, nil
}

func (s *Store) UpdateLockFolder(ctx context.Context, remoteID string, isFolder bool) error {
	start := time.Now()
	defer func() { metrics.RecordDocstoreQuery("update_lock", time.Since(start)) }()

	res, err := s.db.ExecContext(ctx,
		`UPDATE file_locks SET is_folder = $2 WHERE id = $1`, remoteID, isFolder)
	if err != nil {
		return &docstore.Error{Op: "update_lock", Err: err}
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return docstore.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteLock(ctx context.Context, chatID, path string) error {
	start := time.Now()
	defer func() { metrics.RecordDocstoreQuery("delete_lock", time.Since(start)) }()

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM file_locks WHERE chat_id = $1 AND path = $2`, chatID, path)
	if err != nil {
		return &docstore.Error{Op: "delete_lock", Err: err}
	}
	return nil
}

func (s *Store) DeleteChatLocks(ctx context.Context, chatID string) error {
	start := time.Now()
	defer func() { metrics.RecordDocstoreQuery("delete_chat_locks", time.Since(start)) }()

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM file_locks WHERE chat_id = $1`, chatID)
	if err != nil {
		return &docstore.Error{Op: "delete_chat_locks", Err: err}
	}
	return nil
}

// ─── SnapshotBackend ────────────────────────────────────────────────────────

func (s *Store) InsertSnapshot(ctx context.Context, rec docstore.SnapshotRecord) (string, error) {
	start := time.Now()
	defer func() { metrics.RecordDocstoreQuery("insert_snapshot", time.Since(start)) }()

	var id string
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO chat_snapshots (chat_id, message_id, summary, payload, payload_key)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		rec.ChatID, rec.MessageID, rec.Summary, rec.Payload, nullString(rec.PayloadKey)).Scan(&id)
	if err != nil {
		return "", &docstore.Error{Op: "insert_snapshot", Err: err}
	}
	return id, nil
}

func (s *Store) LatestSnapshot(ctx context.Context, chatID string) (*docstore.SnapshotRecord, error) {
	start := time.Now()
	defer func() { metrics.RecordDocstoreQuery("latest_snapshot", time.Since(start)) }()

	var rec docstore.SnapshotRecord
	var payloadKey sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, chat_id, message_id, summary, payload, payload_key, created_at
		 FROM chat_snapshots WHERE chat_id = $1
		 ORDER BY created_at DESC, id DESC LIMIT 1`, chatID).
		Scan(&rec.RemoteID, &rec.ChatID, &rec.MessageID, &rec.Summary, &rec.Payload, &payloadKey, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, docstore.ErrNotFound
	}
	if err != nil {
		return nil, &docstore.Error{Op: "latest_snapshot", Err: err}
	}
	if payloadKey.Valid {
		rec.PayloadKey = payloadKey.String
	}
	return &rec, nil
}

func (s *Store) DeleteChatSnapshots(ctx context.Context, chatID string) ([]string, error) {
	start := time.Now()
	defer func() { metrics.RecordDocstoreQuery("delete_chat_snapshots", time.Since(start)) }()

	rows, err := s.db.QueryContext(ctx,
		`DELETE FROM chat_snapshots WHERE chat_id = $1 RETURNING payload_key`, chatID)
	if err != nil {
		return nil, &docstore.Error{Op: "delete_chat_snapshots", Err: err}
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key sql.NullString
		if err := rows.Scan(&key); err != nil {
			return nil, &docstore.Error{Op: "delete_chat_snapshots", Err: err}
		}
		if key.Valid && key.String != "" {
			keys = append(keys, key.String)
		}
	}
	return keys, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
