// Package statedir defines the fixed on-disk layout under the
// orchestrator's state root (spec.md §4.2) and the resource roots
// that guard.SafeRemove is allowed to touch.
package statedir

import (
	"os"
	"path/filepath"
	"time"

	"github.com/joyshmitz/doodlestein-self-releaser/internal/guard"
)

// Layout resolves every well-known subpath under a single state root.
// It is read-only once constructed: nothing in the orchestrator
// mutates a Layout after New returns it.
type Layout struct {
	Root  string
	Cache string
}

// New resolves root and cache (via guard.Resolve) into a Layout and
// creates the root directory tree if it does not already exist.
func New(root, cache string) (Layout, error) {
	resolvedRoot, err := guard.Resolve(root)
	if err != nil {
		return Layout{}, err
	}
	resolvedCache, err := guard.Resolve(cache)
	if err != nil {
		return Layout{}, err
	}
	l := Layout{Root: resolvedRoot, Cache: resolvedCache}
	for _, dir := range []string{
		l.LogsDir(),
		l.ManifestsDir(),
		l.ArtifactsDir(),
		l.BuildsDir(),
		l.SelectorLocksDir(),
		l.HealthDir(),
		l.Cache,
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Layout{}, err
		}
	}
	return l, nil
}

// Roots returns the guard.Roots this Layout's state and cache
// directories (plus /tmp) permit deletion under.
func (l Layout) Roots() (guard.Roots, error) {
	return guard.NewRoots(l.Root, l.Cache, os.TempDir())
}

func (l Layout) LogsDir() string { return filepath.Join(l.Root, "logs") }

// LogDirForDate returns state/logs/<YYYY-MM-DD>.
func (l Layout) LogDirForDate(t time.Time) string {
	return filepath.Join(l.LogsDir(), t.UTC().Format("2006-01-02"))
}

// LogFileForDate returns state/logs/<YYYY-MM-DD>/run.log.
func (l Layout) LogFileForDate(t time.Time) string {
	return filepath.Join(l.LogDirForDate(t), "run.log")
}

// LatestLogLink returns state/logs/latest, a symlink to the most
// recent day's log directory.
func (l Layout) LatestLogLink() string { return filepath.Join(l.LogsDir(), "latest") }

func (l Layout) ManifestsDir() string { return filepath.Join(l.Root, "manifests") }

// ManifestPath returns state/manifests/<tool>-<version>.json.
func (l Layout) ManifestPath(tool, version string) string {
	return filepath.Join(l.ManifestsDir(), tool+"-"+version+".json")
}

// SignaturePath returns the detached signature path alongside a
// manifest, <tool>-<version>.json.sig.
func (l Layout) SignaturePath(tool, version string) string {
	return l.ManifestPath(tool, version) + ".sig"
}

func (l Layout) ArtifactsDir() string { return filepath.Join(l.Root, "artifacts") }

// ArtifactPath returns state/artifacts/<tool>/<version>/<binary>.
func (l Layout) ArtifactPath(tool, version, binary string) string {
	return filepath.Join(l.ArtifactsDir(), tool, version, binary)
}

func (l Layout) BuildsDir() string { return filepath.Join(l.Root, "builds") }

// BuildRunDir returns state/builds/<tool>/<version>/<run_id>.
func (l Layout) BuildRunDir(tool, version, runID string) string {
	return filepath.Join(l.BuildsDir(), tool, version, runID)
}

// BuildVersionDir returns state/builds/<tool>/<version>, the
// directory whose children are that version's run directories — the
// retention engine's keep-last unit.
func (l Layout) BuildVersionDir(tool, version string) string {
	return filepath.Join(l.BuildsDir(), tool, version)
}

func (l Layout) SelectorLocksDir() string { return filepath.Join(l.Root, "selector", "locks") }

// HostLocksDir returns state/selector/locks/<host>.
func (l Layout) HostLocksDir(host string) string {
	return filepath.Join(l.SelectorLocksDir(), host)
}

// SlotLockPath returns state/selector/locks/<host>/<run_id>.lock.
func (l Layout) SlotLockPath(host, runID string) string {
	return filepath.Join(l.HostLocksDir(host), runID+".lock")
}

// HostMutexDir returns state/selector/locks/<host>/.mx, the
// mkdir-based advisory mutex directory for that host's slot
// accounting.
func (l Layout) HostMutexDir(host string) string {
	return filepath.Join(l.HostLocksDir(host), ".mx")
}

func (l Layout) HealthDir() string { return filepath.Join(l.Root, "health") }

// HealthRecordPath returns state/health/<host>.json.
func (l Layout) HealthRecordPath(host string) string {
	return filepath.Join(l.HealthDir(), host+".json")
}

// RunIndexPath returns the SQLite run-index file under the cache
// root; it is a rebuildable convenience side table, not part of the
// state root's whitelisted-deletion surface.
func (l Layout) RunIndexPath() string { return filepath.Join(l.Cache, "runindex.db") }

// NotifyDedupPath returns the append-only notification dedup log.
func (l Layout) NotifyDedupPath() string { return filepath.Join(l.Root, "notify-dedup.log") }
