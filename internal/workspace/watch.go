package workspace

import (
	"time"

	"github.com/draftbench/draftbench/internal/events"
	"github.com/draftbench/draftbench/internal/metrics"
	"github.com/draftbench/draftbench/internal/sandbox"
	"github.com/draftbench/draftbench/pkg/pathutil"
)

// watchLoop buffers sandbox watch events over the batch window and folds each
// burst into a single map update. Lock flags are never derived here; a batch
// only schedules an asynchronous reconciliation pass.
func (s *Store) watchLoop() {
	defer s.wg.Done()

	var batch []sandbox.Event
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case ev, ok := <-s.watcher.Events():
			if !ok {
				if len(batch) > 0 {
					s.applyBatch(batch)
				}
				return
			}
			if ev.Type == sandbox.EventUpdateDirectory {
				continue
			}
			metrics.RecordWatchEvent(string(ev.Type))
			batch = append(batch, ev)
			if timerC == nil {
				timer = time.NewTimer(s.opts.BatchWindow)
				timerC = timer.C
			}
		case <-timerC:
			s.applyBatch(batch)
			batch = nil
			timerC = nil
		case <-s.closeCh:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

// applyBatch folds a burst of watch events into the map under one lock
// acquisition. Adds and changes default to unlocked; removals cascade for
// directories.
func (s *Store) applyBatch(batch []sandbox.Event) {
	var out []events.Event
	var resurfaced []string

	s.mu.Lock()
	for _, ev := range batch {
		p, err := s.normalize(ev.Path)
		if err != nil {
			continue
		}
		switch ev.Type {
		case sandbox.EventAddFile, sandbox.EventChange:
			prev := s.files[p]
			e := &Entry{Path: p, Kind: KindFile}
			if ev.Data != nil {
				e.Content, e.IsBinary = encodeContent(ev.Data)
			} else if prev != nil {
				e.Content = prev.Content
				e.IsBinary = prev.IsBinary
			}
			if prev != nil {
				e.IsLocked = prev.IsLocked
				e.LockedByFolder = prev.LockedByFolder
			}
			s.files[p] = e
			if prev == nil {
				resurfaced = append(resurfaced, p)
				out = append(out, events.Event{Type: events.EventCreate, Path: p})
			} else {
				out = append(out, events.Event{Type: events.EventModify, Path: p})
			}
		case sandbox.EventAddDir:
			if _, ok := s.files[p]; !ok {
				s.files[p] = &Entry{Path: p, Kind: KindFolder}
				resurfaced = append(resurfaced, p)
				out = append(out, events.Event{Type: events.EventCreate, Path: p, Folder: true})
			}
		case sandbox.EventRemoveFile:
			if _, ok := s.files[p]; ok {
				delete(s.files, p)
				delete(s.modified, p)
				out = append(out, events.Event{Type: events.EventDelete, Path: p})
			}
		case sandbox.EventRemoveDir:
			for q := range s.files {
				if q != p && !pathutil.IsDescendant(p, q) {
					continue
				}
				delete(s.files, q)
				delete(s.modified, q)
			}
			out = append(out, events.Event{Type: events.EventDelete, Path: p, Folder: true})
		}
	}
	count := len(s.files)
	s.mu.Unlock()

	metrics.RecordWatchBatch(len(batch))
	metrics.SetEntriesTracked(count)
	for _, p := range resurfaced {
		s.clearDeleted(p)
	}
	for _, e := range out {
		s.publish(e)
	}
	s.kickReconcile("watch_batch")
}
