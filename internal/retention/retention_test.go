package retention

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joyshmitz/doodlestein-self-releaser/internal/guard"
)

func setupRuns(t *testing.T, n int) (buildsDir string, roots guard.Roots, now time.Time) {
	t.Helper()
	state := t.TempDir()
	buildsDir = filepath.Join(state, "builds")
	versionDir := filepath.Join(buildsDir, "widget", "1.0.0")
	if err := os.MkdirAll(versionDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	now = time.Now()
	for i := 1; i <= n; i++ {
		runDir := filepath.Join(versionDir, runName(i))
		if err := os.MkdirAll(runDir, 0o755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
		if err := os.WriteFile(filepath.Join(runDir, "act.log"), []byte("log contents"), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		// run-1 is oldest, run-n is newest.
		age := time.Duration(n-i+1) * 40 * 24 * time.Hour
		modTime := now.Add(-age)
		if err := os.Chtimes(runDir, modTime, modTime); err != nil {
			t.Fatalf("Chtimes: %v", err)
		}
	}

	r, err := guard.NewRoots(state)
	if err != nil {
		t.Fatalf("NewRoots: %v", err)
	}
	return buildsDir, r, now
}

func runName(i int) string {
	return "run-" + string(rune('0'+i))
}

func TestPruneRespectsKeepLast(t *testing.T) {
	buildsDir, roots, now := setupRuns(t, 7)
	// Ages run from 280 days (run-1) down to 40 days (run-7), so all
	// seven are older than the 30-day max age; keep-last=3 must still
	// protect the 3 newest (run-5..run-7) regardless of age.
	report, err := Prune(buildsDir, roots, Options{MaxAge: 30 * 24 * time.Hour, KeepLast: 3, DryRun: true}, now)
	require.NoError(t, err)
	require.Equal(t, 4, report.PrunedCount, "expected run-1..run-4 pruned, got %v", report.PrunedPaths)
	for _, p := range report.PrunedPaths {
		base := filepath.Base(p)
		assert.NotContains(t, []string{"run-5", "run-6", "run-7"}, base, "keep-last=3 must protect the 3 newest runs")
	}
}

func TestPruneDryRunLeavesFilesystemUnchanged(t *testing.T) {
	buildsDir, roots, now := setupRuns(t, 5)
	report, err := Prune(buildsDir, roots, Options{MaxAge: 30 * 24 * time.Hour, KeepLast: 1, DryRun: true}, now)
	require.NoError(t, err)
	require.NotZero(t, report.PrunedCount, "expected some candidates in this fixture")
	for _, p := range report.PrunedPaths {
		_, err := os.Stat(p)
		assert.NoError(t, err, "dry-run must not delete %s", p)
	}
}

func TestPruneActuallyDeletes(t *testing.T) {
	buildsDir, roots, now := setupRuns(t, 4)
	report, err := Prune(buildsDir, roots, Options{MaxAge: 30 * 24 * time.Hour, KeepLast: 1, DryRun: false}, now)
	require.NoError(t, err)
	for _, p := range report.PrunedPaths {
		_, err := os.Stat(p)
		assert.Truef(t, os.IsNotExist(err), "expected %s to be removed, stat err = %v", p, err)
	}
	assert.NotZero(t, report.BytesFreed, "expected non-zero bytes_freed given act.log contents")
}

func TestPruneNoCandidatesWithinMaxAge(t *testing.T) {
	buildsDir, roots, now := setupRuns(t, 3)
	report, err := Prune(buildsDir, roots, Options{MaxAge: 10000 * 24 * time.Hour, KeepLast: 0, DryRun: true}, now)
	require.NoError(t, err)
	assert.Zero(t, report.PrunedCount, "expected no candidates when max-age is far in the future")
}
