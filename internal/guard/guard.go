// Package guard is the path and resource guardrail every mutating
// filesystem primitive in the orchestrator routes through. It exists
// to remove an entire class of catastrophic deletion bugs by
// construction: nothing outside this package calls os.RemoveAll or
// os.Remove directly on a path derived from user or catalog input.
package guard

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goombaio/namegenerator"
)

// ErrEmptyPath is returned by Resolve for an empty input.
var ErrEmptyPath = errors.New("guard: path must not be empty")

// ErrRelativePath is returned by Resolve for a path that is neither
// absolute nor home-relative ("~/...").
var ErrRelativePath = errors.New("guard: path must be absolute or home-relative")

// ErrEscapesRoot is returned by SafeRemove when the resolved path is
// not strictly under one of the configured roots, or equals a root.
var ErrEscapesRoot = errors.New("guard: path escapes whitelisted roots")

// Resolve turns path into a clean absolute path, expanding a leading
// "~" to the current user's home directory. Empty and relative
// (non-"~") paths are rejected: every caller of guard is expected to
// already be working with roots anchored under STATE_DIR, CACHE_DIR,
// or /tmp.
func Resolve(path string) (string, error) {
	if path == "" {
		return "", ErrEmptyPath
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("guard: resolving home directory: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	if !filepath.IsAbs(path) {
		return "", ErrRelativePath
	}
	return filepath.Clean(path), nil
}

// Roots is the set of directories that SafeRemove is permitted to
// delete under. Every component that constructs a Roots value owns
// its own copy; Roots carries no mutable shared state.
type Roots struct {
	paths []string
}

// NewRoots resolves and stores the given root directories. Each is
// resolved with Resolve before being recorded, so relative or empty
// entries fail loudly at construction time rather than silently
// widening the whitelist later.
func NewRoots(paths ...string) (Roots, error) {
	r := Roots{paths: make([]string, 0, len(paths))}
	for _, p := range paths {
		resolved, err := Resolve(p)
		if err != nil {
			return Roots{}, fmt.Errorf("guard: invalid root %q: %w", p, err)
		}
		r.paths = append(r.paths, resolved)
	}
	return r, nil
}

// contains reports whether target is strictly under one of the roots
// (and not equal to it).
func (r Roots) contains(target string) bool {
	for _, root := range r.paths {
		if target == root {
			continue
		}
		rel, err := filepath.Rel(root, target)
		if err != nil {
			continue
		}
		if rel == "." || strings.HasPrefix(rel, "..") {
			continue
		}
		return true
	}
	return false
}

// SafeRemove deletes path if and only if its canonical form is
// strictly under one of roots and not equal to any root itself.
// Non-existent paths succeed idempotently. Any other input — escaping
// the whitelist, or equal to a root — fails without touching the
// filesystem.
func SafeRemove(roots Roots, path string) error {
	resolved, err := Resolve(path)
	if err != nil {
		return err
	}
	if !roots.contains(resolved) {
		return fmt.Errorf("%w: %s", ErrEscapesRoot, resolved)
	}
	if err := os.RemoveAll(resolved); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("guard: removing %s: %w", resolved, err)
	}
	return nil
}

var nameGen = namegenerator.NewNameGenerator(time.Now().UTC().UnixNano())

// ScopedTempDir allocates a fresh directory under /tmp/<prefix>.<rand>
// and returns its path plus a release func the caller must invoke on
// every exit path (defer release()) to guarantee cleanup. The random
// suffix is a namegenerator word, not a numeric counter, so that
// concurrent runs' scratch dirs stay easy to tell apart in a listing.
func ScopedTempDir(prefix string) (dir string, release func() error, err error) {
	if prefix == "" {
		prefix = "releaser"
	}
	suffix := nameGen.Generate()
	dir = filepath.Join(os.TempDir(), fmt.Sprintf("%s.%s", prefix, suffix))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", nil, fmt.Errorf("guard: creating scoped tempdir %s: %w", dir, err)
	}
	roots, err := NewRoots(os.TempDir())
	if err != nil {
		return "", nil, err
	}
	release = func() error {
		return SafeRemove(roots, dir)
	}
	return dir, release, nil
}

// SafeWriteFile writes data to a temporary file in the same
// directory as name, syncs it to disk, backs up any existing file at
// name, and renames the temp file into place. This is the sole
// sanctioned way to produce an on-disk file that other processes may
// observe mid-write: readers either see the old content or the new
// content, never a partial file.
func SafeWriteFile(name string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(name)
	tmp, err := os.CreateTemp(dir, filepath.Base(name)+".*.tmp")
	if err != nil {
		return fmt.Errorf("guard: creating temp file for %s: %w", name, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("guard: writing temp file for %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("guard: syncing temp file for %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("guard: closing temp file for %s: %w", name, err)
	}

	if _, err := os.Stat(name); err == nil {
		backup := name + ".bak"
		_ = os.Remove(backup)
		if err := os.Rename(name, backup); err != nil {
			return fmt.Errorf("guard: backing up %s: %w", name, err)
		}
	}

	if err := os.Rename(tmpName, name); err != nil {
		return fmt.Errorf("guard: renaming temp file into %s: %w", name, err)
	}
	return os.Chmod(name, perm)
}
