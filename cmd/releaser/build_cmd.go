package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joyshmitz/doodlestein-self-releaser/internal/health"
	"github.com/joyshmitz/doodlestein-self-releaser/internal/hostcatalog"
	"github.com/joyshmitz/doodlestein-self-releaser/internal/manifest"
	"github.com/joyshmitz/doodlestein-self-releaser/internal/notify"
	"github.com/joyshmitz/doodlestein-self-releaser/internal/obs"
	"github.com/joyshmitz/doodlestein-self-releaser/internal/orchestrator"
	"github.com/joyshmitz/doodlestein-self-releaser/internal/runindex"
	"github.com/joyshmitz/doodlestein-self-releaser/internal/selector"
	"github.com/joyshmitz/doodlestein-self-releaser/internal/signing"
	"github.com/joyshmitz/doodlestein-self-releaser/internal/toolcatalog"
	"github.com/joyshmitz/doodlestein-self-releaser/version"
)

// BuildCmd runs build_matrix for one tool end to end (spec.md §4.9):
// load catalogs, probe health, resolve strategies, dispatch targets,
// then write the manifest, sign it, record it, and notify — the only
// caller that stands up the full orchestrator stack rather than one
// of its pieces in isolation.
type BuildCmd struct {
	Tool    string `arg:"" help:"tool_name to build, as declared in tools.yaml"`
	Version string `arg:"" help:"version string for this run, e.g. v1.4.0"`
	Sign    bool   `help:"sign the resulting manifest with the configured signing key"`
	Webhook string `env:"RELEASER_WEBHOOK_URL" help:"post a run_completed notification to this Slack-compatible webhook"`
	JSON    bool   `help:"emit the stable JSON envelope on stdout instead of a text summary"`
}

func (c *BuildCmd) Run(cctx *Context) error {
	hostsPath := filepath.Join(cctx.ConfigDir, "hosts.yaml")
	toolsPath := filepath.Join(cctx.ConfigDir, "tools.yaml")

	hosts, err := hostcatalog.Load(hostsPath)
	if err != nil {
		return newExitError(3, err)
	}
	tools, err := toolcatalog.Load(toolsPath)
	if err != nil {
		return newExitError(3, err)
	}
	tool, err := tools.Get(c.Tool)
	if err != nil {
		return newExitError(4, err)
	}

	ctx := context.Background()

	obsProvider, err := obs.New(ctx, version.Get().GitCommit)
	if err != nil {
		return newExitError(1, err)
	}
	defer obsProvider.Shutdown(ctx)

	healthStore := health.NewStore(cctx.Layout.HealthRecordPath, func(h hostcatalog.Host) health.Prober {
		if h.Connection == hostcatalog.ConnectionLocal {
			return health.LocalProber{}
		}
		return health.SSHProber{SSHConfigPath: sshConfigPathOrDefault()}
	})
	healthStore.Obs = obsProvider

	sel := &selector.Selector{
		Layout:  cctx.Layout,
		Catalog: hosts,
		Health:  healthStore,
		Caps:    func(h hostcatalog.Host) []string { return capabilitiesFor(h, tools) },
		Obs:     obsProvider,
	}

	o := &orchestrator.Orchestrator{
		Layout:    cctx.Layout,
		Hosts:     hosts,
		Selector:  sel,
		ActBinary: "act",
		Obs:       obsProvider,
	}

	if c.Sign {
		signer, err := signing.LoadOrCreate(filepath.Join(cctx.Layout.Root, "signing-key"))
		if err != nil {
			return newExitError(2, err)
		}
		o.Signer = signer
	}

	idx, err := runindex.Open(cctx.Layout.RunIndexPath())
	if err != nil {
		return newExitError(1, err)
	}
	defer idx.Close()
	o.RunIndex = idx

	sinks := []notify.Sink{notify.TerminalSink{Writer: os.Stderr}}
	if c.Webhook != "" {
		sinks = append(sinks, notify.NewSlackSink(c.Webhook))
	}
	o.Notifier = &notify.Dispatcher{Sinks: sinks, DedupLog: cctx.Layout.NotifyDedupPath()}

	healthy := func(ctx context.Context) ([]string, error) {
		return healthStore.GetHealthy(ctx, hosts.All(), "", func(h hostcatalog.Host) []string { return capabilitiesFor(h, tools) }), nil
	}

	runID := manifest.NewRunID(time.Now().UTC(), os.Getpid())
	run, err := o.BuildMatrix(ctx, tool, c.Version, runID, healthy)
	if err != nil {
		return newExitError(1, err)
	}

	if c.JSON {
		exitCode := 0
		if run.Status == manifest.StatusFailure {
			exitCode = 1
		}
		return printEnvelope("build", exitCode, run)
	}

	fmt.Printf("run %s: %s %s -> %s\n", run.RunID, run.Tool, run.Version, run.Status)
	for _, r := range run.PerTarget {
		fmt.Printf("  %-16s %-8s host=%s\n", r.Platform, r.Status, r.Host)
	}
	if run.Status == manifest.StatusFailure {
		return newExitError(1, fmt.Errorf("build: run %s failed", run.RunID))
	}
	return nil
}
