// Command releaser is the CLI surface for the distributed,
// multi-host release orchestrator (spec.md §6). Command parsing,
// config loading, shell completion, and structured logging follow
// cmd/sand/main.go's conventions exactly, generalized from the
// teacher's JSON config + apple-container domain to this repo's YAML
// catalogs and release-build domain.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	kongyaml "github.com/alecthomas/kong-yaml"
	kongcompletion "github.com/jotaen/kong-completion"
	"github.com/posener/complete"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/joyshmitz/doodlestein-self-releaser/internal/statedir"
	"github.com/joyshmitz/doodlestein-self-releaser/version"
)

// CLI is the root command tree. Flags here are global and available
// to every subcommand via Context.
type CLI struct {
	StateDir       string `env:"STATE_DIR" placeholder:"<dir>" help:"release orchestrator state root"`
	CacheDir       string `env:"CACHE_DIR" placeholder:"<dir>" help:"cache root (run index, health cache)"`
	ConfigDir      string `env:"CONFIG_DIR" placeholder:"<dir>" help:"directory containing hosts.yaml and tools.yaml"`
	LogLevel       string `env:"LOG_LEVEL" default:"info" placeholder:"<debug|info|warn|error>" help:"diagnostic log level"`
	NoColor        bool   `env:"NO_COLOR" help:"suppress ANSI colors"`
	NonInteractive bool   `env:"NON_INTERACTIVE" help:"force confirmation prompts to their default answer"`
	CI             bool   `env:"CI" help:"implies --non-interactive"`

	Status StatusCmd `cmd:"" help:"report last run, config, signing key, and host health"`
	Build  BuildCmd  `cmd:"" help:"build one tool's target matrix, write its manifest, and notify"`
	Prune  PruneCmd  `cmd:"" help:"run the retention engine against builds/<tool>/<version>/<run_id>"`
}

// Context carries the wiring every subcommand needs, built once in
// main after global flags and the state layout are resolved. Mirrors
// the teacher's cmd/sand Context, generalized from a single
// AppBaseDir to the releaser's state/cache/config root trio.
type Context struct {
	Layout         statedir.Layout
	ConfigDir      string
	NoColor        bool
	NonInteractive bool
}

// effectiveNonInteractive follows containers.go's term.IsTerminal check
// for deciding whether a PTY-shaped prompt makes sense, generalized
// from "should we allocate a PTY" to "should we ever block on stdin".
func (c *CLI) effectiveNonInteractive() bool {
	if c.NonInteractive || c.CI || os.Getenv("CI") != "" {
		return true
	}
	return !term.IsTerminal(int(os.Stdin.Fd()))
}

// initSlog opens today's rotation-capped log file under the resolved
// state directory and installs it as the default slog handler, the
// same JSON-over-a-file shape as cmd/sand's initSlog, upgraded from a
// bare *os.File to lumberjack so a long-lived daemon-style invocation
// can't grow one file unbounded within a day.
func initSlog(layout statedir.Layout, levelName string) (*lumberjack.Logger, error) {
	var level slog.Level
	switch strings.ToLower(levelName) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	now := time.Now()
	logPath := layout.LogFileForDate(now)
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	lj := &lumberjack.Logger{
		Filename: logPath,
		MaxSize:  50, // megabytes, capped within a single day's directory
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(lj, &slog.HandlerOptions{Level: level})))

	linkTarget := layout.LatestLogLink()
	os.Remove(linkTarget)
	_ = os.Symlink(filepath.Dir(logPath), linkTarget)

	return lj, nil
}

func defaultConfigPaths() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return []string{"releaser.yaml"}
	}
	return []string{filepath.Join(home, ".config", "releaser", "config.yaml")}
}

func main() {
	var cli CLI

	parser := kong.Must(&cli,
		kong.Name("releaser"),
		kong.Description("Distributed, multi-host release build orchestrator."),
		kong.Configuration(kongyaml.Loader, defaultConfigPaths()...),
	)
	kongcompletion.Register(parser,
		kongcompletion.WithPredictor("tool", complete.PredictAnything),
	)

	kctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	if cli.StateDir == "" {
		cli.StateDir = defaultStateDir()
	}
	if cli.CacheDir == "" {
		cli.CacheDir = defaultCacheDir()
	}
	if cli.ConfigDir == "" {
		cli.ConfigDir = defaultConfigDir()
	}

	layout, err := statedir.New(cli.StateDir, cli.CacheDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "releaser: resolving state directory: %v\n", err)
		os.Exit(3)
	}

	lj, err := initSlog(layout, cli.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "releaser: %v\n", err)
		os.Exit(3)
	}
	defer lj.Close()

	runCtx := &Context{
		Layout:         layout,
		ConfigDir:      cli.ConfigDir,
		NoColor:        cli.NoColor || os.Getenv("NO_COLOR") != "",
		NonInteractive: cli.effectiveNonInteractive(),
	}

	slog.InfoContext(context.Background(), "releaser starting", "command", kctx.Command(), "version", version.Get().ForRun("releaser", ""))

	err = kctx.Run(runCtx)
	if err == nil {
		return
	}

	if exitErr, ok := err.(*exitError); ok {
		fmt.Fprintf(os.Stderr, "releaser: %v\n", exitErr.err)
		os.Exit(exitErr.code)
	}
	fmt.Fprintf(os.Stderr, "releaser: %v\n", err)
	os.Exit(1)
}

// exitError lets a command Run method request a specific exit code
// (spec.md §6: 0 success, 1 generic failure, 2 dependency missing, 3
// config invalid, 4 invalid argument) without main having to inspect
// error types for every command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func newExitError(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: code, err: err}
}

func defaultStateDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "state", "releaser")
	}
	return filepath.Join(os.TempDir(), "releaser-state")
}

func defaultCacheDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "releaser")
	}
	return filepath.Join(os.TempDir(), "releaser-cache")
}

func defaultConfigDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "releaser")
	}
	return "."
}

// parsePositiveInt validates a numeric CLI flag, returning an error
// suitable for exit code 4 (invalid argument) on failure.
func parsePositiveInt(flagName, raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s: invalid integer %q", flagName, raw)
	}
	return n, nil
}
