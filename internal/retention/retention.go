// Package retention implements the prune engine of spec.md §4.10:
// delete build-run directories older than a max age, except that the
// K most-recently-modified runs per (tool, version) are always kept.
package retention

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/joyshmitz/doodlestein-self-releaser/internal/guard"
)

// Report is the outcome of a prune invocation.
type Report struct {
	PrunedCount int      `json:"pruned_count"`
	BytesFreed  int64    `json:"bytes_freed"`
	PrunedPaths []string `json:"pruned_paths"`
}

// Options configures one prune pass.
type Options struct {
	MaxAge   time.Duration
	KeepLast int
	DryRun   bool
}

// Prune walks buildsDir/<tool>/<version>/<run_id> directories,
// computing candidates per spec.md §4.10 and, unless DryRun, deleting
// them through guard.SafeRemove scoped to roots.
func Prune(buildsDir string, roots guard.Roots, opts Options, now time.Time) (Report, error) {
	report := Report{}

	toolDirs, err := readSubdirs(buildsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return report, nil
		}
		return report, fmt.Errorf("retention: reading %s: %w", buildsDir, err)
	}

	for _, tool := range toolDirs {
		versionDirs, err := readSubdirs(filepath.Join(buildsDir, tool))
		if err != nil {
			return report, fmt.Errorf("retention: reading versions for %s: %w", tool, err)
		}
		for _, version := range versionDirs {
			versionPath := filepath.Join(buildsDir, tool, version)
			runs, err := listRunsByModTime(versionPath)
			if err != nil {
				return report, fmt.Errorf("retention: listing runs under %s: %w", versionPath, err)
			}

			kept := opts.KeepLast
			if kept > len(runs) {
				kept = len(runs)
			}
			protected := make(map[string]bool, kept)
			for _, r := range runs[:kept] {
				protected[r.name] = true
			}

			for _, r := range runs {
				if protected[r.name] {
					continue
				}
				if now.Sub(r.modTime) <= opts.MaxAge {
					continue
				}

				size, err := dirSize(r.path)
				if err != nil {
					return report, fmt.Errorf("retention: sizing %s: %w", r.path, err)
				}

				if !opts.DryRun {
					if err := guard.SafeRemove(roots, r.path); err != nil {
						return report, fmt.Errorf("retention: removing %s: %w", r.path, err)
					}
				}

				report.PrunedCount++
				report.BytesFreed += size
				report.PrunedPaths = append(report.PrunedPaths, r.path)
			}
		}
	}

	sort.Strings(report.PrunedPaths)
	return report, nil
}

type runDir struct {
	name    string
	path    string
	modTime time.Time
}

// listRunsByModTime returns a version directory's run subdirectories
// sorted by most-recently-modified first, so callers can take a
// keep-last prefix directly.
func listRunsByModTime(versionPath string) ([]runDir, error) {
	entries, err := os.ReadDir(versionPath)
	if err != nil {
		return nil, err
	}
	var runs []runDir
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		runs = append(runs, runDir{name: e.Name(), path: filepath.Join(versionPath, e.Name()), modTime: info.ModTime()})
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].modTime.After(runs[j].modTime) })
	return runs, nil
}

func readSubdirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

func dirSize(path string) (int64, error) {
	var total int64
	err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}
