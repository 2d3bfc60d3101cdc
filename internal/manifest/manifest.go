// Package manifest defines the Run/TargetResult in-memory records and
// the on-disk Manifest they finalize into (spec.md §3, §4.9). Writes
// are atomic via internal/guard.SafeWriteFile: a manifest is either
// absent or fully valid, never partially observable.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/joyshmitz/doodlestein-self-releaser/internal/guard"
)

// SchemaVersion is the fixed manifest schema version (spec.md §6).
const SchemaVersion = "1.0.0"

// Status is a Run or Manifest's overall outcome.
type Status string

const (
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusFailure Status = "failure"
)

// TargetStatus is a single TargetResult's outcome.
type TargetStatus string

const (
	TargetSuccess TargetStatus = "success"
	TargetFailure TargetStatus = "failure"
	TargetSkipped TargetStatus = "skipped"
)

// Method is how a target was actually produced.
type Method string

const (
	MethodAct    Method = "act"
	MethodNative Method = "native"
)

// TargetResult is one platform's build outcome within a Run.
type TargetResult struct {
	Platform     string       `json:"platform"`
	Host         string       `json:"host,omitempty"`
	Method       Method       `json:"method,omitempty"`
	Status       TargetStatus `json:"status"`
	ArtifactPath *string      `json:"artifact_path"`
	DurationMS   int64        `json:"duration_ms"`
	LogPath      string       `json:"log_path,omitempty"`
	Error        *string      `json:"error"`
}

// Run is the mutable in-memory record the orchestrator builds up over
// a single invocation before finalizing it into a Manifest.
type Run struct {
	RunID      string         `json:"run_id"`
	Tool       string         `json:"tool"`
	Version    string         `json:"version"`
	Targets    []string       `json:"targets"`
	StartedAt  time.Time      `json:"started_at"`
	Status     Status         `json:"status"`
	PerTarget  []TargetResult `json:"per_target"`
}

// NewRun creates a Run in the running state. runID must already be in
// the run-<epoch>-<pid> format; callers build it via NewRunID.
func NewRun(runID, tool, version string, targets []string) *Run {
	return &Run{
		RunID:     runID,
		Tool:      tool,
		Version:   version,
		Targets:   targets,
		StartedAt: time.Now().UTC(),
		Status:    StatusRunning,
	}
}

// NewRunID formats a run id per spec.md §3: run-<epoch>-<pid>.
func NewRunID(now time.Time, pid int) string {
	return fmt.Sprintf("run-%d-%d", now.Unix(), pid)
}

// AddResult appends one target's outcome.
func (r *Run) AddResult(tr TargetResult) {
	r.PerTarget = append(r.PerTarget, tr)
}

// Finalize computes the Run's overall status per spec.md §4.9 step 4:
// success iff every target succeeded, failure iff none did, else
// partial. A run with no targets (all skipped, or zero targets
// configured) is success — there was nothing to fail.
func (r *Run) Finalize() {
	succeeded, failed := 0, 0
	for _, tr := range r.PerTarget {
		switch tr.Status {
		case TargetSuccess:
			succeeded++
		case TargetFailure:
			failed++
		}
	}
	switch {
	case failed == 0:
		r.Status = StatusSuccess
	case succeeded == 0:
		r.Status = StatusFailure
	default:
		r.Status = StatusPartial
	}
}

// Artifact is one manifest entry (spec.md §6: platform, host, method,
// status, artifact_path, duration_seconds).
type Artifact struct {
	Platform        string  `json:"platform"`
	Host            string  `json:"host,omitempty"`
	Method          Method  `json:"method,omitempty"`
	Status          TargetStatus `json:"status"`
	ArtifactPath    string  `json:"artifact_path,omitempty"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// Manifest is the immutable, persisted record of a finished Run.
type Manifest struct {
	SchemaVersion string     `json:"schema_version"`
	Tool          string     `json:"tool"`
	Version       string     `json:"version"`
	RunID         string     `json:"run_id"`
	Status        Status     `json:"status"`
	Artifacts     []Artifact `json:"artifacts"`
	SignedAt      *time.Time `json:"signed_at"`
}

// FromRun builds the persisted Manifest shape from a finalized Run.
func FromRun(r *Run) Manifest {
	artifacts := make([]Artifact, 0, len(r.PerTarget))
	for _, tr := range r.PerTarget {
		a := Artifact{
			Platform: tr.Platform,
			Host:     tr.Host,
			Method:   tr.Method,
			Status:   tr.Status,
			DurationSeconds: float64(tr.DurationMS) / 1000.0,
		}
		if tr.ArtifactPath != nil {
			a.ArtifactPath = *tr.ArtifactPath
		}
		artifacts = append(artifacts, a)
	}
	return Manifest{
		SchemaVersion: SchemaVersion,
		Tool:          r.Tool,
		Version:       r.Version,
		RunID:         r.RunID,
		Status:        r.Status,
		Artifacts:     artifacts,
	}
}

// Marshal renders m the same way Write does, so a caller that needs
// the exact persisted bytes (e.g. to sign them) gets a byte-identical
// copy rather than reimplementing the encoding.
func Marshal(m Manifest) ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("manifest: marshaling: %w", err)
	}
	return append(data, '\n'), nil
}

// Write atomically persists m to path.
func Write(path string, m Manifest) error {
	data, err := Marshal(m)
	if err != nil {
		return err
	}
	if err := guard.SafeWriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("manifest: writing %s: %w", path, err)
	}
	return nil
}

// Read loads and validates a manifest from path.
func Read(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("manifest: reading %s: %w", path, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("manifest: decoding %s: %w", path, err)
	}
	if m.SchemaVersion != SchemaVersion {
		return Manifest{}, fmt.Errorf("manifest: %s has unsupported schema_version %q", path, m.SchemaVersion)
	}
	return m, nil
}

// MarkSigned records the signing timestamp on an already-persisted
// manifest and rewrites it atomically.
func MarkSigned(path string, at time.Time) error {
	m, err := Read(path)
	if err != nil {
		return err
	}
	m.SignedAt = &at
	return Write(path, m)
}
