package statedir

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/joyshmitz/doodlestein-self-releaser/internal/guard"
)

func TestNewCreatesLayout(t *testing.T) {
	root := filepath.Join(t.TempDir(), "state")
	cache := filepath.Join(t.TempDir(), "cache")

	l, err := New(root, cache)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for _, dir := range []string{l.LogsDir(), l.ManifestsDir(), l.ArtifactsDir(), l.BuildsDir(), l.SelectorLocksDir(), l.HealthDir()} {
		if _, err := os.Stat(dir); err != nil {
			t.Errorf("expected %s to exist: %v", dir, err)
		}
	}
}

func TestLayoutPaths(t *testing.T) {
	root := filepath.Join(t.TempDir(), "state")
	cache := filepath.Join(t.TempDir(), "cache")
	l, err := New(root, cache)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ts := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)
	if got, want := l.LogFileForDate(ts), filepath.Join(root, "logs", "2026-03-05", "run.log"); got != want {
		t.Errorf("LogFileForDate: got %s want %s", got, want)
	}
	if got, want := l.ManifestPath("widget", "1.2.3"), filepath.Join(root, "manifests", "widget-1.2.3.json"); got != want {
		t.Errorf("ManifestPath: got %s want %s", got, want)
	}
	if got, want := l.SlotLockPath("alpha", "run-1-2"), filepath.Join(root, "selector", "locks", "alpha", "run-1-2.lock"); got != want {
		t.Errorf("SlotLockPath: got %s want %s", got, want)
	}
	if got, want := l.BuildRunDir("widget", "1.2.3", "run-1-2"), filepath.Join(root, "builds", "widget", "1.2.3", "run-1-2"); got != want {
		t.Errorf("BuildRunDir: got %s want %s", got, want)
	}
}

func TestRootsScopeBuildDirDeletion(t *testing.T) {
	root := filepath.Join(t.TempDir(), "state")
	cache := filepath.Join(t.TempDir(), "cache")
	l, err := New(root, cache)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	roots, err := l.Roots()
	if err != nil {
		t.Fatalf("Roots: %v", err)
	}

	runDir := l.BuildRunDir("widget", "1.2.3", "run-1-2")
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := guard.SafeRemove(roots, runDir); err != nil {
		t.Errorf("expected build run dir removal to succeed: %v", err)
	}
	if err := guard.SafeRemove(roots, "/etc/passwd"); err == nil {
		t.Error("expected /etc/passwd removal to fail")
	}
}
