// workspaced mirrors a sandboxed project directory into an in-memory
// workspace map, reconciles cooperative path locks against the document
// store, and snapshots the workspace per chat message.
//
// Features:
// - Prometheus metrics & structured logging (zap)
// - Polling filesystem watcher with batched event folding
// - Postgres-backed lock rows and snapshot history
// - Snapshot payload offload to S3 or local disk
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/draftbench/draftbench/internal/api"
	"github.com/draftbench/draftbench/internal/blob"
	bloblocal "github.com/draftbench/draftbench/internal/blob/local"
	blobs3 "github.com/draftbench/draftbench/internal/blob/s3"
	"github.com/draftbench/draftbench/internal/config"
	"github.com/draftbench/draftbench/internal/docstore"
	"github.com/draftbench/draftbench/internal/docstore/memory"
	"github.com/draftbench/draftbench/internal/docstore/postgres"
	"github.com/draftbench/draftbench/internal/events"
	"github.com/draftbench/draftbench/internal/localstate"
	"github.com/draftbench/draftbench/internal/lockstore"
	"github.com/draftbench/draftbench/internal/logging"
	"github.com/draftbench/draftbench/internal/metrics"
	"github.com/draftbench/draftbench/internal/sandbox"
	sandboxlocal "github.com/draftbench/draftbench/internal/sandbox/local"
	"github.com/draftbench/draftbench/internal/snapshot"
	"github.com/draftbench/draftbench/internal/workspace"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("workspaced starting...",
		zap.String("sandbox_root", cfg.SandboxRoot),
		zap.String("metrics", cfg.MetricsAddr))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Document store
	var lockBackend docstore.LockBackend
	var snapBackend docstore.SnapshotBackend
	var pgStore *postgres.Store
	switch cfg.DocstoreBackend {
	case "postgres":
		logging.Info("connecting to PostgreSQL...")
		pgStore, err = postgres.New(cfg.DatabaseURL)
		if err != nil {
			logging.Fatal("database connection failed", zap.Error(err))
		}
		defer pgStore.Close()

		if dir := findMigrationsDir(); dir != "" {
			logging.Info("running migrations...", zap.String("dir", dir))
			if err := pgStore.Migrate(dir); err != nil {
				logging.Fatal("migration failed", zap.Error(err))
			}
		}
		lockBackend = pgStore
		snapBackend = pgStore
	case "memory":
		mem := memory.New()
		lockBackend = mem
		snapBackend = mem
		logging.Warn("using in-memory document store; locks and snapshots do not survive restarts")
	default:
		logging.Fatal("unknown docstore backend", zap.String("backend", cfg.DocstoreBackend))
	}

	// Snapshot payload storage
	var blobStore blob.Store
	switch cfg.BlobBackend {
	case "none":
		// Payloads stay inline in the document row.
	case "local":
		blobStore, err = bloblocal.New(cfg.BlobLocalPath)
		if err != nil {
			logging.Fatal("local blob backend init failed", zap.Error(err))
		}
	case "s3":
		blobStore, err = blobs3.New(ctx, blobs3.Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			logging.Fatal("s3 blob backend init failed", zap.Error(err))
		}
	default:
		logging.Fatal("unknown blob backend", zap.String("backend", cfg.BlobBackend))
	}
	if blobStore != nil {
		defer blobStore.Close()
		logging.Info("snapshot blob storage initialized", zap.String("type", blobStore.Type()))
	}

	// Sandbox filesystem + watcher
	fs, err := sandboxlocal.New(cfg.SandboxRoot)
	if err != nil {
		logging.Fatal("sandbox init failed", zap.Error(err))
	}
	watcher := sandboxlocal.NewWatcher(fs, cfg.WatchInterval, sandbox.WatchOptions{
		IncludeContent: true,
		Exclude:        []string{"/node_modules", "/.git"},
	})

	// Durable deleted-paths state
	var state *localstate.State
	if cfg.StateDir != "" {
		state, err = localstate.Open(cfg.StateDir)
		if err != nil {
			logging.Fatal("local state init failed", zap.Error(err))
		}
	}

	broadcaster := events.NewBroadcaster()
	locks := lockstore.New(lockBackend)

	ws := workspace.New(fs, watcher, locks, state, broadcaster, workspace.Options{
		BatchWindow:       cfg.BatchWindow,
		ReconcileInterval: cfg.ReconcileInterval,
	})
	defer ws.Close()
	logging.Info("workspace store initialized")

	snapStore := snapshot.NewStore(snapBackend, blobStore)
	coordinator := snapshot.NewCoordinator(snapStore, ws, fs, locks, state, "/")
	logging.Info("snapshot coordinator initialized")

	// Host-layer API
	srv := api.NewServer(ws, coordinator, broadcaster)
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}
	go func() {
		logging.Info("api server listening", zap.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("api server error", zap.Error(err))
		}
	}()

	// Metrics endpoint
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	// Periodic connection-pool gauge refresh
	if pgStore != nil {
		go func() {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					pgStore.UpdateConnectionMetrics()
				}
			}
		}()
	}

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logging.Info("shutting down...")
	cancel()
	httpServer.Close()
	metricsServer.Close()
}

func findMigrationsDir() string {
	candidates := []string{
		"migrations",
		"../migrations",
	}

	exe, _ := os.Executable()
	if exe != "" {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), "migrations"))
	}

	for _, dir := range candidates {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
	}
	return ""
}
