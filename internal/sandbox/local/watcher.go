package local

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/draftbench/draftbench/internal/logging"
	"github.com/draftbench/draftbench/internal/metrics"
	"github.com/draftbench/draftbench/internal/sandbox"
	"github.com/draftbench/draftbench/pkg/pathutil"
)

const defaultMaxContentSize = 1 << 20

// pathState is the last observed state of one path.
type pathState struct {
	mtime int64
	isDir bool
}

// Watcher polls the sandbox root and emits typed path events.
type Watcher struct {
	fs       *FS
	interval time.Duration
	opts     sandbox.WatchOptions

	events chan sandbox.Event
	done   chan struct{}
	wg     sync.WaitGroup

	mu    sync.Mutex
	state map[string]pathState
}

// NewWatcher creates a watcher over the given local sandbox. The first poll
// reports every existing path as an add event so consumers can build their
// initial view from the event stream alone.
func NewWatcher(fs *FS, interval time.Duration, opts sandbox.WatchOptions) *Watcher {
	if interval == 0 {
		interval = 2 * time.Second
	}
	if opts.MaxContentSize == 0 {
		opts.MaxContentSize = defaultMaxContentSize
	}
	w := &Watcher{
		fs:       fs,
		interval: interval,
		opts:     opts,
		events:   make(chan sandbox.Event, 256),
		done:     make(chan struct{}),
		state:    make(map[string]pathState),
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

// Events returns the event channel. It is closed when the watcher stops.
func (w *Watcher) Events() <-chan sandbox.Event {
	return w.events
}

// Close stops the watcher and closes the event channel.
func (w *Watcher) Close() error {
	close(w.done)
	w.wg.Wait()
	return nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	defer close(w.events)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.poll()
	for {
		select {
		case <-ticker.C:
			w.poll()
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) excluded(path string) bool {
	for _, prefix := range w.opts.Exclude {
		if path == prefix || pathutil.IsDescendant(prefix, path) {
			return true
		}
	}
	return false
}

func (w *Watcher) poll() {
	newState := make(map[string]pathState)
	var events []sandbox.Event

	root := w.fs.Root()
	filepath.Walk(root, func(hostPath string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip unreadable entries
		}
		if hostPath == root {
			return nil
		}
		rel, _ := filepath.Rel(root, hostPath)
		path := pathutil.Clean(filepath.ToSlash(rel))
		if w.excluded(path) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		st := pathState{mtime: info.ModTime().UnixNano(), isDir: info.IsDir()}
		newState[path] = st

		w.mu.Lock()
		old, exists := w.state[path]
		w.mu.Unlock()

		switch {
		case !exists:
			events = append(events, w.addEvent(path, st))
		case !st.isDir && st.mtime != old.mtime:
			events = append(events, w.changeEvent(path))
		}
		return nil
	})

	// Deletions: deepest paths first so files are removed before their
	// directories.
	w.mu.Lock()
	var removed []string
	for path := range w.state {
		if _, exists := newState[path]; !exists {
			removed = append(removed, path)
		}
	}
	sort.Slice(removed, func(i, j int) bool {
		return strings.Count(removed[i], "/") > strings.Count(removed[j], "/")
	})
	for _, path := range removed {
		if w.state[path].isDir {
			events = append(events, sandbox.Event{Type: sandbox.EventRemoveDir, Path: path})
		} else {
			events = append(events, sandbox.Event{Type: sandbox.EventRemoveFile, Path: path})
		}
	}
	w.state = newState
	w.mu.Unlock()

	for _, event := range events {
		metrics.RecordWatchEvent(string(event.Type))
		select {
		case w.events <- event:
		case <-w.done:
			return
		}
	}
	if len(events) > 0 {
		logging.Debug("sandbox poll emitted events", logging.Int("count", len(events)))
	}
}

func (w *Watcher) addEvent(path string, st pathState) sandbox.Event {
	if st.isDir {
		return sandbox.Event{Type: sandbox.EventAddDir, Path: path}
	}
	return sandbox.Event{Type: sandbox.EventAddFile, Path: path, Data: w.content(path)}
}

func (w *Watcher) changeEvent(path string) sandbox.Event {
	return sandbox.Event{Type: sandbox.EventChange, Path: path, Data: w.content(path)}
}

// content loads file content for an event when enabled and the file is small
// enough. Failures are tolerated: the event is still delivered without data.
func (w *Watcher) content(path string) []byte {
	if !w.opts.IncludeContent {
		return nil
	}
	host, err := w.fs.hostPath(path)
	if err != nil {
		return nil
	}
	info, err := os.Stat(host)
	if err != nil || info.Size() > w.opts.MaxContentSize {
		return nil
	}
	data, err := os.ReadFile(host)
	if err != nil {
		return nil
	}
	return data
}
