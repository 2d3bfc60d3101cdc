// Package actrun invokes the local hosted-workflow emulator as an
// external process for one Act strategy dispatch (spec.md §4.7),
// mirroring the teacher's own ContainerSvc.Run: argv composed by
// reflection, a process-group SysProcAttr so cancellation can signal
// the whole tree, and combined output capture.
package actrun

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/joyshmitz/doodlestein-self-releaser/internal/guard"
	"github.com/joyshmitz/doodlestein-self-releaser/internal/optargs"
)

// ErrBuildFailed wraps a non-zero emulator exit (spec.md §7
// BuildFailed).
type ErrBuildFailed struct {
	ExitCode int
}

func (e *ErrBuildFailed) Error() string {
	return fmt.Sprintf("actrun: emulator exited %d", e.ExitCode)
}

// Request is one dispatch of the emulator for a single target.
type Request struct {
	// Binary is the emulator executable name, typically "act".
	Binary string
	// WorkflowFile is tool.workflow; the emulator is invoked with its
	// directory as the working directory bind.
	WorkflowFile string
	Job          string
	Matrix       map[string]string
	Env          map[string]string

	// LogPath is where combined stdout/stderr is captured
	// (builds/<tool>/<version>/<run_id>/act.log).
	LogPath string
	// ArtifactSourcePath is where the emulator leaves the built binary
	// inside the workflow's workspace.
	ArtifactSourcePath string
	// ArtifactDestPath is where the binary is copied on success
	// (artifacts/<tool>/<version>/<binary>[.exe]).
	ArtifactDestPath string
	// Interactive requests a pty-backed run for local debugging; build
	// dispatch from the orchestrator always leaves this false.
	Interactive bool
}

// Result is the outcome of one Run call.
type Result struct {
	ExitCode int
	Duration time.Duration
}

// Run executes the emulator, captures its combined output to
// req.LogPath, and on a zero exit copies the artifact into place.
func Run(ctx context.Context, req Request) (Result, error) {
	args := optargs.ToArgs(&optargs.ActInvocation{
		Job:     req.Job,
		Matrix:  req.Matrix,
		Workdir: filepath.Dir(req.WorkflowFile),
	})

	cmd := exec.CommandContext(ctx, req.Binary, args...)
	cmd.Env = mergedEnviron(req.Env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error { return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL) }

	if err := os.MkdirAll(filepath.Dir(req.LogPath), 0o755); err != nil {
		return Result{}, fmt.Errorf("actrun: creating log dir: %w", err)
	}
	logFile, err := os.Create(req.LogPath)
	if err != nil {
		return Result{}, fmt.Errorf("actrun: creating %s: %w", req.LogPath, err)
	}
	defer logFile.Close()

	started := time.Now()
	var runErr error
	if req.Interactive {
		runErr = runWithPTY(cmd, logFile)
	} else {
		cmd.Stdout = logFile
		cmd.Stderr = logFile
		runErr = cmd.Run()
	}
	duration := time.Since(started)

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return Result{Duration: duration}, fmt.Errorf("actrun: running emulator: %w", runErr)
		}
	}
	if exitCode != 0 {
		return Result{ExitCode: exitCode, Duration: duration}, &ErrBuildFailed{ExitCode: exitCode}
	}

	if err := copyArtifact(req.ArtifactSourcePath, req.ArtifactDestPath); err != nil {
		return Result{ExitCode: exitCode, Duration: duration}, err
	}
	return Result{ExitCode: exitCode, Duration: duration}, nil
}

func runWithPTY(cmd *exec.Cmd, logFile *os.File) error {
	f, err := pty.Start(cmd)
	if err != nil {
		return err
	}
	defer f.Close()
	reader := bufio.NewReader(f)
	_, _ = io.Copy(logFile, reader)
	return cmd.Wait()
}

func copyArtifact(src, dst string) error {
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("actrun: artifact missing at %s: %w", src, err)
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("actrun: reading artifact %s: %w", src, err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("actrun: creating artifact dir: %w", err)
	}
	if err := guard.SafeWriteFile(dst, data, 0o755); err != nil {
		return fmt.Errorf("actrun: writing artifact %s: %w", dst, err)
	}
	return nil
}

// ArtifactName appends the .exe suffix when target (not the host
// running the orchestrator) is windows, per spec.md §4.7.
func ArtifactName(binary, target string) string {
	if hasWindowsPrefix(target) {
		return binary + ".exe"
	}
	return binary
}

func hasWindowsPrefix(target string) bool {
	return len(target) >= len("windows") && target[:len("windows")] == "windows"
}

func mergedEnviron(overrides map[string]string) []string {
	base := os.Environ()
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(base)+len(keys))
	out = append(out, base...)
	for _, k := range keys {
		out = append(out, k+"="+overrides[k])
	}
	return out
}
