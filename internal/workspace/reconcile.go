package workspace

import (
	"context"
	"time"

	"github.com/draftbench/draftbench/internal/lockstore"
	"github.com/draftbench/draftbench/internal/logging"
	"github.com/draftbench/draftbench/internal/metrics"
	"github.com/draftbench/draftbench/pkg/pathutil"
)

// reconcileLoop converges in-memory lock flags against the remote lock rows.
// Passes run at startup, once more shortly after (the sandbox may mount
// late), on a fixed interval, and on explicit kicks (chat change, watch
// batches, failed lock writes). All passes are serialized through this
// goroutine so they never overlap.
func (s *Store) reconcileLoop() {
	defer s.wg.Done()
	ctx := context.Background()

	s.reconcile(ctx, "init")

	initTimer := time.NewTimer(s.opts.InitialReconcileDelay)
	defer initTimer.Stop()
	ticker := time.NewTicker(s.opts.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-initTimer.C:
			s.reconcile(ctx, "init_delayed")
		case <-ticker.C:
			s.reconcile(ctx, "interval")
		case trigger := <-s.reconcileCh:
			s.reconcile(ctx, trigger)
		case <-s.closeCh:
			return
		}
	}
}

// ReconcileNow runs a reconciliation pass synchronously.
func (s *Store) ReconcileNow(ctx context.Context, trigger string) {
	s.reconcile(ctx, trigger)
}

// reconcile pulls the chat's lock rows and rewrites every entry's lock flags:
// stale flags are cleared, direct rows flag their exact path, and folder rows
// propagate to tracked strict descendants. A descendant holding its own
// direct row keeps it and is skipped by folder propagation, so it can be
// locked and unlocked independently of its parent.
func (s *Store) reconcile(ctx context.Context, trigger string) {
	start := time.Now()
	items := s.locks.LockedItems(ctx, s.activeChat())

	s.mu.Lock()
	for p, e := range s.files {
		if !e.IsLocked && e.LockedByFolder == "" {
			continue
		}
		if st := lockstore.Effective(items, p); !st.Locked {
			e.IsLocked = false
			e.LockedByFolder = ""
		}
	}
	for _, item := range items {
		if e, ok := s.files[item.Path]; ok {
			e.IsLocked = true
			e.LockedByFolder = ""
		}
		if !item.IsFolder {
			continue
		}
		for p, e := range s.files {
			if !pathutil.IsDescendant(item.Path, p) {
				continue
			}
			if lockstore.HasDirect(items, p) {
				continue
			}
			e.IsLocked = true
			e.LockedByFolder = item.Path
		}
	}
	s.mu.Unlock()

	metrics.RecordReconcile(trigger, time.Since(start))
	logging.Debug("lock reconciliation",
		logging.String("trigger", trigger),
		logging.Int("lock_rows", len(items)),
		logging.Duration("elapsed", time.Since(start)))
}
