package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joyshmitz/doodlestein-self-releaser/internal/retention"
)

const (
	defaultMaxAgeDays = 30
	defaultKeepLast   = 5
)

// PruneCmd runs the retention engine (spec.md §6, §4.10).
type PruneCmd struct {
	DryRun   bool   `help:"report what would be pruned without deleting anything"`
	Force    bool   `help:"skip the confirmation prompt"`
	MaxAge   string `default:"30" placeholder:"<days>" help:"prune run directories last modified more than this many days ago"`
	KeepLast string `default:"5" placeholder:"<n>" help:"always keep the N most recently modified runs per tool/version, regardless of age"`
	JSON     bool   `help:"emit the stable JSON envelope on stdout instead of a text report"`
}

func (c *PruneCmd) Run(cctx *Context) error {
	maxAgeDays, err := parsePositiveInt("--max-age", c.MaxAge)
	if err != nil {
		return newExitError(4, err)
	}
	keepLast, err := parsePositiveInt("--keep-last", c.KeepLast)
	if err != nil {
		return newExitError(4, err)
	}

	if !c.DryRun && !c.Force && !cctx.NonInteractive {
		if !confirm(fmt.Sprintf("prune builds older than %d days (keeping the last %d per tool/version)?", maxAgeDays, keepLast)) {
			fmt.Fprintln(os.Stderr, "releaser: prune aborted by user")
			return nil
		}
	}

	roots, err := cctx.Layout.Roots()
	if err != nil {
		return newExitError(1, err)
	}

	opts := retention.Options{
		MaxAge:   time.Duration(maxAgeDays) * 24 * time.Hour,
		KeepLast: keepLast,
		DryRun:   c.DryRun,
	}
	report, err := retention.Prune(cctx.Layout.BuildsDir(), roots, opts, time.Now().UTC())
	if err != nil {
		return newExitError(1, err)
	}

	if c.JSON {
		return printEnvelope("prune", 0, report)
	}

	if report.PrunedCount == 0 {
		fmt.Println("nothing to prune")
		return nil
	}
	verb := "pruned"
	if c.DryRun {
		verb = "would prune"
	}
	fmt.Printf("%s %d run(s), freeing %d bytes:\n", verb, report.PrunedCount, report.BytesFreed)
	for _, p := range report.PrunedPaths {
		fmt.Printf("  %s\n", p)
	}
	return nil
}

// confirm mirrors cmd/sand/new_cmd.go's interactive-prompt idiom
// (bufio.NewReader(os.Stdin).ReadString('\n')). NON_INTERACTIVE/CI
// callers never reach here (see Run).
func confirm(prompt string) bool {
	fmt.Fprintf(os.Stderr, "%s [y/N] ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
