package mounttable

import (
	"fmt"
	"path/filepath"
)

// Len returns the number of entries in the table.
func (t *Table) Len() int {
	return len(t.entries)
}

// Entries returns the table entries in mount order.
func (t *Table) Entries() []*Entry {
	return t.entries
}

// ByID returns the entry with the given mount ID, or nil.
func (t *Table) ByID(id int) *Entry {
	return t.byID[id]
}

// Root returns the entry mounted at "/", or nil if the table has none.
// With stacked root mounts the topmost entry wins.
func (t *Table) Root() *Entry {
	var root *Entry

	for _, e := range t.entries {
		if e.MountPoint == "/" {
			root = e
		}
	}

	return root
}

// IsMountPoint reports whether path is the mount point of some entry in
// the table. The path is compared lexically; callers resolve symlinks
// before querying.
func (t *Table) IsMountPoint(path string) bool {
	path = filepath.Clean(path)

	for _, e := range t.entries {
		if e.MountPoint == path {
			return true
		}
	}

	return false
}

// Lookup returns the entry for the nearest enclosing mount of path, i.e.
// the entry with the longest mount point that is a path prefix of path
// on a component boundary. For stacked mounts the topmost entry wins.
// Returns nil if no entry encloses path, which for a table containing
// "/" only happens for relative paths.
func (t *Table) Lookup(path string) *Entry {
	path = filepath.Clean(path)

	var nearest *Entry

	for _, e := range t.entries {
		if !hasPathPrefix(path, e.MountPoint) {
			continue
		}

		if nearest == nil || len(e.MountPoint) >= len(nearest.MountPoint) {
			nearest = e
		}
	}

	return nearest
}

// IsUnder reports whether path resides within the mount subtree rooted at
// ancestor. It holds when path equals ancestor, or when walking the
// parent chain from path's nearest enclosing mount reaches an entry whose
// mount point is ancestor. A path that is merely a lexical child of a
// non-mount-point directory is still under the mount containing it.
func (t *Table) IsUnder(path, ancestor string) bool {
	path = filepath.Clean(path)
	ancestor = filepath.Clean(ancestor)

	if path == ancestor {
		return true
	}

	if !hasPathPrefix(path, ancestor) {
		return false
	}

	seen := make(map[int]struct{})

	for e := t.Lookup(path); e != nil; e = t.byID[e.ParentID] {
		if _, ok := seen[e.MountID]; ok {
			break
		}
		seen[e.MountID] = struct{}{}

		if e.MountPoint == ancestor {
			return true
		}
	}

	return false
}

// Canonical resolves path to an absolute path with all symlinks
// evaluated, suitable for the lexical comparisons the table queries use.
func Canonical(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path of %s: %w", path, err)
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("resolve symlinks in %s: %w", abs, err)
	}

	return resolved, nil
}

// hasPathPrefix reports whether path is prefix or a descendant of prefix
// on a path component boundary. Both arguments must be cleaned.
func hasPathPrefix(path, prefix string) bool {
	if prefix == "/" {
		return len(path) > 0 && path[0] == '/'
	}

	if len(path) < len(prefix) || path[:len(prefix)] != prefix {
		return false
	}

	return len(path) == len(prefix) || path[len(prefix)] == '/'
}
