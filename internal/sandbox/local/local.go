// Package local provides a sandbox filesystem rooted in a local directory.
// It backs workspaced in development and tests, where the real sandboxed
// runtime is replaced by a plain directory on disk.
package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/draftbench/draftbench/internal/sandbox"
	"github.com/draftbench/draftbench/pkg/pathutil"
)

// FS implements sandbox.FS over a local directory.
type FS struct {
	root string
}

// New creates a local sandbox filesystem rooted at dir.
func New(dir string) (*FS, error) {
	if dir == "" {
		return nil, fmt.Errorf("sandbox root is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve sandbox root %s: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			if mkErr := os.MkdirAll(abs, 0755); mkErr != nil {
				return nil, fmt.Errorf("create sandbox root %s: %w", abs, mkErr)
			}
		} else {
			return nil, fmt.Errorf("stat sandbox root %s: %w", abs, err)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("sandbox root %s is not a directory", abs)
	}
	return &FS{root: abs}, nil
}

// Root returns the OS path of the sandbox root.
func (f *FS) Root() string {
	return f.root
}

// hostPath maps a workspace path to an OS path under the root. Paths that
// escape the root are rejected.
func (f *FS) hostPath(p string) (string, error) {
	clean := pathutil.Clean(p)
	host := filepath.Join(f.root, filepath.FromSlash(strings.TrimPrefix(clean, "/")))
	if host != f.root && !strings.HasPrefix(host, f.root+string(filepath.Separator)) {
		return "", &sandbox.Error{Op: "resolve", Path: p, Err: fmt.Errorf("path escapes sandbox root")}
	}
	return host, nil
}

func (f *FS) ReadFile(_ context.Context, path string) ([]byte, error) {
	host, err := f.hostPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(host)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &sandbox.Error{Op: "read", Path: path, Err: sandbox.ErrNotFound}
		}
		return nil, &sandbox.Error{Op: "read", Path: path, Err: err}
	}
	return data, nil
}

// WriteFile writes content atomically (temp file then rename), creating
// parent directories as needed.
func (f *FS) WriteFile(_ context.Context, path string, data []byte) error {
	host, err := f.hostPath(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(host)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &sandbox.Error{Op: "write", Path: path, Err: err}
	}

	tmp, err := os.CreateTemp(dir, ".draftbench-*.tmp")
	if err != nil {
		return &sandbox.Error{Op: "write", Path: path, Err: err}
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &sandbox.Error{Op: "write", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &sandbox.Error{Op: "write", Path: path, Err: err}
	}
	if err := os.Rename(tmpName, host); err != nil {
		os.Remove(tmpName)
		return &sandbox.Error{Op: "write", Path: path, Err: err}
	}
	return nil
}

func (f *FS) Mkdir(_ context.Context, path string) error {
	host, err := f.hostPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(host, 0755); err != nil {
		return &sandbox.Error{Op: "mkdir", Path: path, Err: err}
	}
	return nil
}

func (f *FS) Remove(_ context.Context, path string, recursive bool) error {
	host, err := f.hostPath(path)
	if err != nil {
		return err
	}
	if host == f.root {
		return &sandbox.Error{Op: "remove", Path: path, Err: fmt.Errorf("refusing to remove sandbox root")}
	}
	if recursive {
		if err := os.RemoveAll(host); err != nil {
			return &sandbox.Error{Op: "remove", Path: path, Err: err}
		}
		return nil
	}
	if err := os.Remove(host); err != nil && !os.IsNotExist(err) {
		return &sandbox.Error{Op: "remove", Path: path, Err: err}
	}
	return nil
}

func (f *FS) ReadDir(_ context.Context, path string) ([]sandbox.DirEntry, error) {
	host, err := f.hostPath(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(host)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &sandbox.Error{Op: "readdir", Path: path, Err: sandbox.ErrNotFound}
		}
		return nil, &sandbox.Error{Op: "readdir", Path: path, Err: err}
	}
	result := make([]sandbox.DirEntry, 0, len(entries))
	for _, e := range entries {
		result = append(result, sandbox.DirEntry{Name: e.Name(), IsDir: e.IsDir()})
	}
	return result, nil
}
