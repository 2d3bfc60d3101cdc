// Package orchestrator fans a tool's target set out across the
// strategy resolver, selector, and runners, aggregating per-target
// results into a finalized Run and Manifest (spec.md §4.9, §5).
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/joyshmitz/doodlestein-self-releaser/internal/actrun"
	"github.com/joyshmitz/doodlestein-self-releaser/internal/guard"
	"github.com/joyshmitz/doodlestein-self-releaser/internal/hostcatalog"
	"github.com/joyshmitz/doodlestein-self-releaser/internal/manifest"
	"github.com/joyshmitz/doodlestein-self-releaser/internal/metrics"
	"github.com/joyshmitz/doodlestein-self-releaser/internal/notify"
	"github.com/joyshmitz/doodlestein-self-releaser/internal/obs"
	"github.com/joyshmitz/doodlestein-self-releaser/internal/remoterun"
	"github.com/joyshmitz/doodlestein-self-releaser/internal/runindex"
	"github.com/joyshmitz/doodlestein-self-releaser/internal/selector"
	"github.com/joyshmitz/doodlestein-self-releaser/internal/signing"
	"github.com/joyshmitz/doodlestein-self-releaser/internal/statedir"
	"github.com/joyshmitz/doodlestein-self-releaser/internal/strategy"
	"github.com/joyshmitz/doodlestein-self-releaser/internal/toolcatalog"
)

// SSHConfigPath is the default location the orchestrator resolves
// remote connection details from.
var SSHConfigPath = func() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".ssh", "config")
}()

// Orchestrator ties the state layout, catalogs, selector, and act
// binary location together for one invocation. Signer, Notifier,
// RunIndex, and Obs are all optional (nil skips the corresponding
// step 5 side effect or tracing span) so callers that only need the
// build-and-collect portion of spec.md §4.9 — tests chief among them —
// can construct an Orchestrator without standing up the full stack.
type Orchestrator struct {
	Layout         statedir.Layout
	Hosts          *hostcatalog.Catalog
	Selector       *selector.Selector
	ActBinary      string
	GlobalDeadline time.Duration

	Signer   signing.Signer
	Notifier *notify.Dispatcher
	RunIndex *runindex.Index
	Obs      *obs.Provider
}

// BuildMatrix implements the full five-step build_matrix algorithm of
// spec.md §4.9: resolves a strategy per target, dispatches
// non-skipped targets concurrently through an errgroup limited to the
// sum of the catalog's host concurrency caps, classifies
// the overall run status, then writes the manifest atomically,
// optionally signs it, optionally records it in the run index, and
// emits exactly one notification event for the run.
func (o *Orchestrator) BuildMatrix(ctx context.Context, tool toolcatalog.Tool, version string, runID string, healthy strategy.HealthyHosts) (*manifest.Run, error) {
	if o.Obs != nil {
		var span trace.Span
		ctx, span = o.Obs.StartRun(ctx, runID, tool.ToolName, version)
		defer span.End()
	}

	run := manifest.NewRun(runID, tool.ToolName, version, stringTargets(tool.Targets))

	if o.GlobalDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.GlobalDeadline)
		defer cancel()
	}

	results := make([]manifest.TargetResult, len(tool.Targets))
	g, gctx := errgroup.WithContext(ctx)
	if o.Hosts != nil {
		total := 0
		for _, h := range o.Hosts.All() {
			total += h.ConcurrencyCap
		}
		if total > 0 {
			g.SetLimit(total)
		}
	}

	for i, target := range tool.Targets {
		i, target := i, target
		strat, err := strategy.Resolve(ctx, tool, target, o.Hosts, healthy)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: resolving strategy for %s: %w", target, err)
		}

		if strat.Kind == strategy.KindSkip {
			results[i] = manifest.TargetResult{
				Platform: string(target),
				Status:   manifest.TargetSkipped,
				Error:    ptr(strat.Reason),
			}
			continue
		}

		g.Go(func() error {
			results[i] = o.dispatchTarget(gctx, tool, version, runID, target, strat)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("orchestrator: build matrix: %w", err)
	}

	for _, r := range results {
		run.AddResult(r)
		metrics.RecordTarget(string(r.Status))
	}
	run.Finalize()

	if err := o.finish(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// finish is spec.md §4.9 step 5: write the manifest atomically,
// optionally sign it, optionally record it in the run index, and emit
// one notification event for the run.
func (o *Orchestrator) finish(ctx context.Context, run *manifest.Run) error {
	m := manifest.FromRun(run)
	manifestPath := o.Layout.ManifestPath(run.Tool, run.Version)

	var sig []byte
	if o.Signer != nil {
		signedAt := time.Now().UTC()
		m.SignedAt = &signedAt
		data, err := manifest.Marshal(m)
		if err != nil {
			return fmt.Errorf("orchestrator: marshaling manifest for signing: %w", err)
		}
		sig, err = o.Signer.Sign(data)
		if err != nil {
			return fmt.Errorf("orchestrator: signing manifest: %w", err)
		}
	}

	if err := manifest.Write(manifestPath, m); err != nil {
		return fmt.Errorf("orchestrator: writing manifest: %w", err)
	}

	if sig != nil {
		sigPath := o.Layout.SignaturePath(run.Tool, run.Version)
		if err := guard.SafeWriteFile(sigPath, sig, 0o644); err != nil {
			return fmt.Errorf("orchestrator: writing signature: %w", err)
		}
	}

	if o.RunIndex != nil {
		if err := o.RunIndex.Record(run, time.Now().UTC()); err != nil {
			slog.Error("orchestrator.finish: recording run index entry failed", "run_id", run.RunID, "error", err)
		}
	}

	if o.Notifier != nil {
		event := notify.Event{
			Kind:    notify.EventRunCompleted,
			Level:   notifyLevel(run.Status),
			Title:   fmt.Sprintf("%s %s", run.Tool, run.Version),
			Message: fmt.Sprintf("run %s finished %s", run.RunID, run.Status),
			RunID:   run.RunID,
		}
		if err := o.Notifier.Send(ctx, event); err != nil {
			slog.Error("orchestrator.finish: notification dispatch failed", "run_id", run.RunID, "error", err)
		}
	}

	return nil
}

func notifyLevel(status manifest.Status) string {
	switch status {
	case manifest.StatusSuccess:
		return "info"
	case manifest.StatusPartial:
		return "warn"
	default:
		return "error"
	}
}

func (o *Orchestrator) dispatchTarget(ctx context.Context, tool toolcatalog.Tool, version, runID string, target toolcatalog.Platform, strat strategy.Strategy) manifest.TargetResult {
	if o.Obs != nil {
		var span trace.Span
		ctx, span = o.Obs.StartTarget(ctx, string(target), string(strat.Kind))
		defer span.End()
	}

	logDir := o.Layout.BuildRunDir(tool.ToolName, version, runID)
	binaryName := actrun.ArtifactName(tool.BinaryName, string(target))
	artifactDest := o.Layout.ArtifactPath(tool.ToolName, version, binaryName)

	var host string
	if strat.Kind == strategy.KindNative {
		host = strat.Host
	}

	if host != "" {
		chosen, err := o.Selector.ChooseHost(ctx, target, host, runID)
		if err != nil {
			return failed(target, "", err)
		}
		host = chosen
		defer func() { _ = o.Selector.ReleaseSlot(ctx, host, runID) }()
	} else {
		chosen, err := o.Selector.ChooseHost(ctx, target, "", runID)
		if err != nil {
			return failed(target, "", err)
		}
		host = chosen
		defer func() { _ = o.Selector.ReleaseSlot(ctx, host, runID) }()
	}

	started := time.Now()
	switch strat.Kind {
	case strategy.KindAct:
		logPath := filepath.Join(logDir, "act.log")
		_, err := actrun.Run(ctx, actrun.Request{
			Binary:             o.ActBinary,
			WorkflowFile:       tool.Workflow,
			Job:                strat.Job,
			Matrix:             strat.Matrix,
			Env:                strat.Env,
			LogPath:            logPath,
			ArtifactSourcePath: filepath.Join(tool.LocalPath, "dist", binaryName),
			ArtifactDestPath:   artifactDest,
		})
		return targetResultFromError(target, host, manifest.MethodAct, artifactDest, logPath, started, err)

	case strategy.KindNative:
		hostRecord, err := o.Hosts.Get(host)
		if err != nil {
			return failed(target, host, err)
		}
		detail, err := hostcatalog.ResolveConnection(hostRecord, SSHConfigPath)
		if err != nil {
			return failed(target, host, err)
		}
		remoteBinary := filepath.Join(strat.RemotePath, actrun.ArtifactName(tool.BinaryName, string(target)))
		_, err = remoterun.Run(ctx, remoterun.Request{
			Host:         hostRecord,
			Connection:   detail,
			RemotePath:   strat.RemotePath,
			BuildCmd:     tool.BuildCmd,
			Env:          strat.Env,
			Timeout:      time.Duration(tool.TimeoutMinutes) * time.Minute,
			RemoteBinary: remoteBinary,
			LocalDest:    artifactDest,
		})
		return targetResultFromError(target, host, manifest.MethodNative, artifactDest, "", started, err)

	default:
		return manifest.TargetResult{Platform: string(target), Status: manifest.TargetSkipped}
	}
}

func targetResultFromError(target toolcatalog.Platform, host string, method manifest.Method, artifactDest, logPath string, started time.Time, err error) manifest.TargetResult {
	duration := time.Since(started)
	if err != nil {
		slog.Error("orchestrator.dispatchTarget failed", "target", target, "host", host, "error", err)
		return manifest.TargetResult{
			Platform:   string(target),
			Host:       host,
			Method:     method,
			Status:     manifest.TargetFailure,
			DurationMS: duration.Milliseconds(),
			LogPath:    logPath,
			Error:      ptr(err.Error()),
		}
	}
	return manifest.TargetResult{
		Platform:     string(target),
		Host:         host,
		Method:       method,
		Status:       manifest.TargetSuccess,
		ArtifactPath: ptr(artifactDest),
		DurationMS:   duration.Milliseconds(),
		LogPath:      logPath,
	}
}

func failed(target toolcatalog.Platform, host string, err error) manifest.TargetResult {
	return manifest.TargetResult{Platform: string(target), Host: host, Status: manifest.TargetFailure, Error: ptr(err.Error())}
}

func stringTargets(targets []toolcatalog.Platform) []string {
	out := make([]string, len(targets))
	for i, t := range targets {
		out[i] = string(t)
	}
	return out
}

func ptr(s string) *string { return &s }
