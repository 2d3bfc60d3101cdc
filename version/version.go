package version

import (
	"fmt"
	"runtime/debug"

	"github.com/google/go-cmp/cmp"
)

var (
	// These will be set via -ldflags during build
	GitRepo   string
	GitBranch string
	GitCommit string
	BuildTime string
)

// Info returns a struct containing all version information
type Info struct {
	GitRepo   string           `json:"gitRepo,omitempty"`
	GitBranch string           `json:"gitBranch,omitempty"`
	GitCommit string           `json:"gitCommit,omitempty"`
	BuildTime string           `json:"buildTime,omitempty"`
	BuildInfo *debug.BuildInfo `json:"buildInfo,omitempty"`
}

// Get returns the version information
func Get() Info {
	buildInfo, ok := debug.ReadBuildInfo()
	ret := Info{
		GitRepo:   GitRepo,
		GitBranch: GitBranch,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
	}
	if ok {
		ret.BuildInfo = buildInfo
	}
	return ret
}

// Equal checks if two version infos represent the same version
// Two versions are considered equal if they have the same git commit;
// the build time is not compared. When v carries BuildInfo, other must
// carry matching BuildInfo too.
func (v Info) Equal(other Info) bool {
	if v.BuildInfo != nil {
		if other.BuildInfo == nil {
			return false
		}
		if v.BuildInfo.Main.Path != other.BuildInfo.Main.Path ||
			!cmp.Equal(v.BuildInfo.Deps, other.BuildInfo.Deps) ||
			v.BuildInfo.GoVersion != other.BuildInfo.GoVersion {
			return false
		}
	}
	return v.GitCommit == other.GitCommit
}

// shortCommit trims a git commit down to the 7-character form used in
// log lines and notification messages.
func shortCommit(commit string) string {
	if len(commit) > 7 {
		return commit[:7]
	}
	return commit
}

// ForRun renders a version string scoped to a single orchestrator
// run, for embedding in run_completed notifications and startup logs:
// "<binary> <commit> (run <run_id>)" with the commit and run_id
// segments omitted when empty.
func (v Info) ForRun(binaryName, runID string) string {
	s := binaryName
	if v.GitCommit != "" {
		s = fmt.Sprintf("%s %s", s, shortCommit(v.GitCommit))
	}
	if runID != "" {
		s = fmt.Sprintf("%s (run %s)", s, runID)
	}
	return s
}
