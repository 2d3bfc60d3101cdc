package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/joyshmitz/doodlestein-self-releaser/internal/health"
	"github.com/joyshmitz/doodlestein-self-releaser/internal/hostcatalog"
	"github.com/joyshmitz/doodlestein-self-releaser/internal/metrics"
	"github.com/joyshmitz/doodlestein-self-releaser/internal/runindex"
	"github.com/joyshmitz/doodlestein-self-releaser/internal/signing"
	"github.com/joyshmitz/doodlestein-self-releaser/internal/toolcatalog"
)

// StatusCmd reports {last_run, config, signing, hosts} (spec.md §6).
type StatusCmd struct {
	Tool    string `arg:"" optional:"" help:"restrict last_run to a single tool"`
	Refresh bool   `help:"reprobe every configured host instead of trusting cached health"`
	JSON    bool   `help:"emit the stable JSON envelope on stdout instead of a table"`
}

type statusDetails struct {
	LastRun *runindex.RunSummary `json:"last_run"`
	Config  statusConfig         `json:"config"`
	Signing statusSigning        `json:"signing"`
	Hosts   []statusHost         `json:"hosts"`
	Metrics []metrics.Sample     `json:"metrics"`
}

type statusConfig struct {
	ConfigDir string `json:"config_dir"`
	HostsFile string `json:"hosts_file"`
	ToolsFile string `json:"tools_file"`
	ToolCount int    `json:"tool_count"`
}

type statusSigning struct {
	KeyPath       string `json:"key_path"`
	PublicKeyLine string `json:"public_key"`
}

type statusHost struct {
	Hostname     string   `json:"hostname"`
	Platform     string   `json:"platform"`
	Reachable    bool     `json:"reachable"`
	Capabilities []string `json:"capabilities"`
	CheckedAt    string   `json:"checked_at"`
	Stale        bool     `json:"stale"`
}

func (c *StatusCmd) Run(cctx *Context) error {
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

	signer, err := signing.LoadOrCreate(filepath.Join(cctx.Layout.Root, "signing-key"))
	if err != nil {
		return newExitError(2, err)
	}

	idx, err := runindex.Open(cctx.Layout.RunIndexPath())
	if err != nil {
		return newExitError(1, err)
	}
	defer idx.Close()

	var lastRun *runindex.RunSummary
	lastRun, err = idx.LastRun(c.Tool, "")
	if err != nil {
		return newExitError(1, err)
	}

	ctx := context.Background()
	store := health.NewStore(cctx.Layout.HealthRecordPath, func(h hostcatalog.Host) health.Prober {
		if h.Connection == hostcatalog.ConnectionLocal {
			return health.LocalProber{}
		}
		return health.SSHProber{SSHConfigPath: sshConfigPathOrDefault()}
	})
	if c.Refresh {
		store.TTL = 0
	}

	hostReports := make([]statusHost, 0, len(hosts.All()))
	for _, h := range hosts.All() {
		caps := capabilitiesFor(h, tools)
		rec := store.Get(ctx, h, caps)
		hostReports = append(hostReports, statusHost{
			Hostname:     h.Hostname,
			Platform:     h.Platform,
			Reachable:    rec.Reachable,
			Capabilities: rec.Capabilities,
			CheckedAt:    rec.CheckedAt.Format(time.RFC3339),
			Stale:        rec.Stale(time.Now().UTC()),
		})
		metrics.SetHostOccupancy(h.Hostname, slotCountOrZero(cctx, h.Hostname), h.ConcurrencyCap)
	}

	samples, err := metrics.Snapshot()
	if err != nil {
		return newExitError(1, err)
	}

	details := statusDetails{
		LastRun: lastRun,
		Config: statusConfig{
			ConfigDir: cctx.ConfigDir,
			HostsFile: hostsPath,
			ToolsFile: toolsPath,
			ToolCount: len(tools.All()),
		},
		Signing: statusSigning{
			KeyPath:       filepath.Join(cctx.Layout.Root, "signing-key"),
			PublicKeyLine: string(signer.PublicKeyAuthorized()),
		},
		Hosts:   hostReports,
		Metrics: samples,
	}

	if c.JSON {
		return printEnvelope("status", 0, details)
	}
	printStatusTable(details)
	return nil
}

func printStatusTable(d statusDetails) {
	if d.LastRun != nil {
		fmt.Printf("last run: %s  tool=%s version=%s status=%s\n", d.LastRun.RunID, d.LastRun.Tool, d.LastRun.Version, d.LastRun.Status)
	} else {
		fmt.Println("last run: (none indexed)")
	}
	fmt.Printf("signing key: %s\n", d.Signing.KeyPath)
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "HOST\tPLATFORM\tREACHABLE\tSTALE\tCAPABILITIES\t")
	for _, h := range d.Hosts {
		fmt.Fprintf(w, "%s\t%s\t%t\t%t\t%v\t\n", h.Hostname, h.Platform, h.Reachable, h.Stale, h.Capabilities)
	}
	w.Flush()
}

func sshConfigPathOrDefault() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".ssh", "config")
}

// capabilitiesFor derives a host's producible target platforms. A
// host can only natively produce its own platform (spec.md §4.4);
// matches the capability function every other caller in this repo
// uses (selector_test.go, orchestrator_test.go).
func capabilitiesFor(h hostcatalog.Host, tools *toolcatalog.Catalog) []string {
	return []string{h.Platform}
}

func slotCountOrZero(cctx *Context, host string) int {
	entries, err := os.ReadDir(cctx.Layout.HostLocksDir(host))
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".lock" {
			n++
		}
	}
	return n
}
