// Package toolcatalog parses the declarative tool catalog (spec.md §3)
// into strongly-typed Tool records, the same way internal/hostcatalog
// handles the host side of the config directory.
package toolcatalog

import (
	"bytes"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Platform is a GOOS/GOARCH-shaped target string, e.g. "linux/amd64".
type Platform string

// CrossCompileMethod names how a target is produced when it isn't the
// tool's own act_job_map entry.
type CrossCompileMethod string

const (
	MethodNative CrossCompileMethod = "native"
)

// CrossCompile is one entry of a tool's cross_compile map.
type CrossCompile struct {
	Method CrossCompileMethod `yaml:"method"`
	Env    map[string]string  `yaml:"env,omitempty"`
}

// Tool is an immutable-for-a-run tool record (spec.md §3).
type Tool struct {
	ToolName   string                     `yaml:"tool_name"`
	Repo       string                     `yaml:"repo"`
	LocalPath  string                     `yaml:"local_path"`
	Language   string                     `yaml:"language"`
	BinaryName string                     `yaml:"binary_name"`
	BuildCmd   string                     `yaml:"build_cmd"`
	Targets    []Platform                 `yaml:"targets"`
	Workflow   string                     `yaml:"workflow,omitempty"`
	ActJobMap  map[Platform]*string       `yaml:"act_job_map,omitempty"`
	ActMatrix  map[Platform]map[string]string `yaml:"act_matrix,omitempty"`
	Env        map[string]string          `yaml:"env,omitempty"`
	CrossCompile map[Platform]CrossCompile `yaml:"cross_compile,omitempty"`
	HostPaths  map[string]string          `yaml:"host_paths,omitempty"`

	// TimeoutMinutes bounds a native remote build's wall clock; act
	// runs are not bounded by it (spec.md §4.7 step 3: "default 30 min;
	// configurable per tool").
	TimeoutMinutes int `yaml:"timeout_minutes,omitempty"`
}

// ConfigError marks a malformed or incomplete catalog entry.
type ConfigError struct {
	Path   string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("toolcatalog: %s: %s", e.Path, e.Reason)
}

// Catalog is the parsed, read-only set of configured tools, addressed
// by tool_name.
type Catalog struct {
	byName map[string]Tool
	order  []string
}

// Load reads and decodes the YAML tool catalog at path.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("toolcatalog: reading %s: %w", path, err)
	}
	return Parse(path, data)
}

type document struct {
	Tools []Tool `yaml:"tools"`
}

// Parse decodes raw YAML bytes into a Catalog. path is used only for
// error messages.
func Parse(path string, data []byte) (*Catalog, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc document
	if err := dec.Decode(&doc); err != nil {
		return nil, &ConfigError{Path: path, Reason: err.Error()}
	}

	c := &Catalog{byName: make(map[string]Tool, len(doc.Tools))}
	for _, t := range doc.Tools {
		if t.ToolName == "" {
			return nil, &ConfigError{Path: path, Reason: "tool entry missing tool_name"}
		}
		if t.Repo == "" {
			return nil, &ConfigError{Path: path, Reason: fmt.Sprintf("tool %q missing repo", t.ToolName)}
		}
		if t.BinaryName == "" {
			return nil, &ConfigError{Path: path, Reason: fmt.Sprintf("tool %q missing binary_name", t.ToolName)}
		}
		if len(t.Targets) == 0 {
			return nil, &ConfigError{Path: path, Reason: fmt.Sprintf("tool %q has no targets", t.ToolName)}
		}
		if _, exists := c.byName[t.ToolName]; exists {
			return nil, &ConfigError{Path: path, Reason: fmt.Sprintf("duplicate tool %q", t.ToolName)}
		}
		if t.TimeoutMinutes <= 0 {
			t.TimeoutMinutes = 30
		}
		c.byName[t.ToolName] = t
		c.order = append(c.order, t.ToolName)
	}
	sort.Strings(c.order)
	return c, nil
}

// Get returns the tool record for name.
func (c *Catalog) Get(name string) (Tool, error) {
	t, ok := c.byName[name]
	if !ok {
		return Tool{}, &ConfigError{Path: name, Reason: "unknown tool_name"}
	}
	return t, nil
}

// All returns every tool record, sorted by tool_name.
func (c *Catalog) All() []Tool {
	out := make([]Tool, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.byName[name])
	}
	return out
}

// ActJobFor returns the act job name configured for target, and
// whether one is configured at all (a nil/absent entry means the
// target is not built via the act emulator for this tool).
func (t Tool) ActJobFor(target Platform) (string, bool) {
	job, ok := t.ActJobMap[target]
	if !ok || job == nil {
		return "", false
	}
	return *job, true
}

// CrossCompileFor returns the cross_compile entry for target, if any.
func (t Tool) CrossCompileFor(target Platform) (CrossCompile, bool) {
	cc, ok := t.CrossCompile[target]
	return cc, ok
}

// HostPathFor returns the configured repo checkout path on host, if
// the tool overrides it for that host.
func (t Tool) HostPathFor(host string) (string, bool) {
	p, ok := t.HostPaths[host]
	return p, ok
}
