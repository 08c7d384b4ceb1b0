package workspace

import (
	"github.com/sergi/go-diff/diffmatchpatch"
)

// FileModifications returns a patch per file changed since the last reset,
// keyed by path: the diff between the recorded pre-image and the current
// content. Binary files, deleted files, and files back at their pre-image
// are omitted.
func (s *Store) FileModifications() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dmp := diffmatchpatch.New()
	out := make(map[string]string)
	for p, orig := range s.modified {
		e, ok := s.files[p]
		if !ok || e.IsBinary || e.Content == orig {
			continue
		}
		diffs := dmp.DiffMain(orig, e.Content, false)
		diffs = dmp.DiffCleanupSemantic(diffs)
		out[p] = dmp.PatchToText(dmp.PatchMake(orig, diffs))
	}
	return out
}

// ResetFileModifications clears the dirty set; the next save of each path
// records a fresh pre-image.
func (s *Store) ResetFileModifications() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modified = make(map[string]string)
}
