package actrun

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

// fakeEmulator writes a tiny shell script standing in for the act
// binary: it writes its args to stdout (captured into act.log) and
// drops an "artifact" file where ArtifactSourcePath expects one.
func fakeEmulator(t *testing.T, dir, artifactSrc string, exitCode int) string {
	t.Helper()
	script := filepath.Join(dir, "fake-act")
	body := "#!/bin/sh\necho \"$@\"\n"
	if exitCode == 0 {
		body += "mkdir -p \"$(dirname \"" + artifactSrc + "\")\"\n"
		body += "printf binary-contents > \"" + artifactSrc + "\"\n"
	}
	body += "exit " + itoa(exitCode) + "\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return script
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	if neg {
		return "-" + string(digits)
	}
	return string(digits)
}

func TestRunSuccessCopiesArtifact(t *testing.T) {
	dir := t.TempDir()
	artifactSrc := filepath.Join(dir, "workspace", "dist", "widget")
	script := fakeEmulator(t, dir, artifactSrc, 0)

	req := Request{
		Binary:             script,
		WorkflowFile:       filepath.Join(dir, "workflow.yml"),
		Job:                "build",
		Matrix:             map[string]string{"os": "ubuntu-latest"},
		LogPath:            filepath.Join(dir, "act.log"),
		ArtifactSourcePath: artifactSrc,
		ArtifactDestPath:   filepath.Join(dir, "artifacts", "widget"),
	}

	result, err := Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.ExitCode != 0 {
		t.Errorf("expected exit 0, got %d", result.ExitCode)
	}
	data, err := os.ReadFile(req.ArtifactDestPath)
	if err != nil {
		t.Fatalf("expected artifact to be copied: %v", err)
	}
	if string(data) != "binary-contents" {
		t.Errorf("unexpected artifact contents: %q", data)
	}
	log, err := os.ReadFile(req.LogPath)
	if err != nil {
		t.Fatalf("expected act.log to exist: %v", err)
	}
	if len(log) == 0 {
		t.Error("expected act.log to capture emulator output")
	}
}

func TestRunNonZeroExitIsBuildFailed(t *testing.T) {
	dir := t.TempDir()
	artifactSrc := filepath.Join(dir, "workspace", "dist", "widget")
	script := fakeEmulator(t, dir, artifactSrc, 1)

	req := Request{
		Binary:             script,
		WorkflowFile:       filepath.Join(dir, "workflow.yml"),
		Job:                "build",
		LogPath:            filepath.Join(dir, "act.log"),
		ArtifactSourcePath: artifactSrc,
		ArtifactDestPath:   filepath.Join(dir, "artifacts", "widget"),
	}

	_, err := Run(context.Background(), req)
	var buildErr *ErrBuildFailed
	if err == nil {
		t.Fatal("expected an error for a non-zero emulator exit")
	}
	if !asBuildFailed(err, &buildErr) {
		t.Fatalf("expected *ErrBuildFailed, got %T: %v", err, err)
	}
	if buildErr.ExitCode != 1 {
		t.Errorf("expected exit code 1, got %d", buildErr.ExitCode)
	}
	if _, statErr := os.Stat(req.ArtifactDestPath); statErr == nil {
		t.Error("expected no artifact to be copied on a failed build")
	}
}

func asBuildFailed(err error, target **ErrBuildFailed) bool {
	be, ok := err.(*ErrBuildFailed)
	if !ok {
		return false
	}
	*target = be
	return true
}

func TestArtifactNameWindowsSuffix(t *testing.T) {
	if got := ArtifactName("widget", "windows/amd64"); got != "widget.exe" {
		t.Errorf("expected widget.exe, got %s", got)
	}
	if got := ArtifactName("widget", "linux/amd64"); got != "widget" {
		t.Errorf("expected widget, got %s", got)
	}
}
