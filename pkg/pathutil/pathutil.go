// Package pathutil provides helpers for workspace-rooted virtual paths.
//
// Workspace paths are slash-separated, absolute ("/src/app.ts"), and always
// relative to the sandbox root. The helpers here never touch the OS
// filesystem.
package pathutil

import (
	"path"
	"strings"
)

// Clean normalizes a workspace path: forward slashes, a single leading slash,
// no trailing slash (except the root itself).
func Clean(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	p = path.Clean(p)
	if p == "" || p == "." {
		return "/"
	}
	return p
}

// Join joins path elements into a cleaned workspace path.
func Join(parts ...string) string {
	return Clean(path.Join(parts...))
}

// Dir returns the parent directory of a workspace path ("/" for top-level
// entries and for the root itself).
func Dir(p string) string {
	d := path.Dir(Clean(p))
	if d == "" || d == "." {
		return "/"
	}
	return d
}

// Base returns the last element of a workspace path.
func Base(p string) string {
	return path.Base(Clean(p))
}

// Rel rewrites p relative to root, keeping the leading slash. It accepts
// paths already relative to root as well as paths carrying the root prefix.
// The second return value is false when p lies outside root.
func Rel(root, p string) (string, bool) {
	root = Clean(root)
	p = Clean(p)
	if root == "/" {
		return p, true
	}
	if p == root {
		return "/", true
	}
	if strings.HasPrefix(p, root+"/") {
		return p[len(root):], true
	}
	// No root prefix: treat as already root-relative.
	return p, true
}

// StripPrefix removes the given root prefix from p if present. Used when
// replaying stored paths that may have been recorded with the sandbox mount
// prefix.
func StripPrefix(root, p string) string {
	root = Clean(root)
	p = Clean(p)
	if root == "/" || root == p {
		return p
	}
	if strings.HasPrefix(p, root+"/") {
		return p[len(root):]
	}
	return p
}

// Segments returns all path prefixes from most specific to least.
// "/a/b/c" -> ["/a/b/c", "/a/b", "/a", "/"]
func Segments(p string) []string {
	p = Clean(p)
	segments := []string{p}
	for {
		idx := strings.LastIndex(p, "/")
		if idx <= 0 {
			if p != "/" {
				segments = append(segments, "/")
			}
			break
		}
		p = p[:idx]
		segments = append(segments, p)
	}
	return segments
}

// Ancestors returns the strict ancestors of p ordered from the root down to
// the immediate parent. "/a/b/c" -> ["/", "/a", "/a/b"]
func Ancestors(p string) []string {
	segs := Segments(p)
	if len(segs) < 2 {
		return nil
	}
	ancestors := make([]string, 0, len(segs)-1)
	for i := len(segs) - 1; i >= 1; i-- {
		ancestors = append(ancestors, segs[i])
	}
	return ancestors
}

// IsDescendant reports whether p is a strict descendant of dir.
func IsDescendant(dir, p string) bool {
	dir = Clean(dir)
	p = Clean(p)
	if dir == "/" {
		return p != "/"
	}
	return strings.HasPrefix(p, dir+"/")
}
