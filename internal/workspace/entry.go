package workspace

// Kind distinguishes files from folders in the file map.
type Kind string

const (
	KindFile   Kind = "file"
	KindFolder Kind = "folder"
)

// Entry is one tracked path in the workspace. Content holds the file body;
// when IsBinary is set it is base64-encoded. LockedByFolder names the
// ancestor folder a lock is inherited from; it is empty for direct locks.
type Entry struct {
	Path           string `json:"path"`
	Kind           Kind   `json:"kind"`
	Content        string `json:"content,omitempty"`
	IsBinary       bool   `json:"is_binary,omitempty"`
	IsLocked       bool   `json:"is_locked,omitempty"`
	LockedByFolder string `json:"locked_by_folder,omitempty"`
}

// IsFolder reports whether the entry is a folder.
func (e *Entry) IsFolder() bool {
	return e.Kind == KindFolder
}

// Clone returns a copy of the entry.
func (e *Entry) Clone() *Entry {
	c := *e
	return &c
}

// FileMap maps workspace paths to entries. A missing key means the path does
// not exist; deletion removes the key.
type FileMap map[string]*Entry

// Clone returns a deep copy of the map.
func (m FileMap) Clone() FileMap {
	out := make(FileMap, len(m))
	for p, e := range m {
		out[p] = e.Clone()
	}
	return out
}
