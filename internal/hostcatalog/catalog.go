// Package hostcatalog parses the declarative, YAML-shaped host
// catalog (spec.md §3, §6) into strongly-typed Host records. Unknown
// keys are rejected at decode time; nothing downstream ever touches
// the raw YAML.
package hostcatalog

import (
	"bytes"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Connection is how the selector and runners reach a host.
type Connection string

const (
	ConnectionLocal Connection = "local"
	ConnectionSSH   Connection = "ssh"
)

// Host is an immutable-for-a-run host record (spec.md §3).
type Host struct {
	Hostname       string     `yaml:"hostname"`
	Platform       string     `yaml:"platform"`
	Connection     Connection `yaml:"connection"`
	ConcurrencyCap int        `yaml:"concurrency_cap"`
	Description    string     `yaml:"description,omitempty"`

	// SSHAlias, when set, is the Host pattern in ~/.ssh/config (or the
	// sand-style managed config) to resolve connection details from;
	// defaults to Hostname when empty. Consumed by internal/remoterun
	// via internal/hostcatalog/sshconfig.go.
	SSHAlias string `yaml:"ssh_alias,omitempty"`
}

// ConfigError marks a malformed or incomplete catalog entry. It is
// never retried — the caller's run aborts.
type ConfigError struct {
	Path   string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("hostcatalog: %s: %s", e.Path, e.Reason)
}

// Catalog is the parsed, read-only set of configured hosts, addressed
// by hostname.
type Catalog struct {
	byName map[string]Host
	order  []string
}

// Load reads and decodes the YAML host catalog at path.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("hostcatalog: reading %s: %w", path, err)
	}
	return Parse(path, data)
}

type document struct {
	Hosts []Host `yaml:"hosts"`
}

// Parse decodes raw YAML bytes into a Catalog. path is used only for
// error messages.
func Parse(path string, data []byte) (*Catalog, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc document
	if err := dec.Decode(&doc); err != nil {
		return &Catalog{}, &ConfigError{Path: path, Reason: err.Error()}
	}

	c := &Catalog{byName: make(map[string]Host, len(doc.Hosts))}
	for _, h := range doc.Hosts {
		if h.Hostname == "" {
			return nil, &ConfigError{Path: path, Reason: "host entry missing hostname"}
		}
		if h.Platform == "" {
			return nil, &ConfigError{Path: path, Reason: fmt.Sprintf("host %q missing platform", h.Hostname)}
		}
		if h.Connection != ConnectionLocal && h.Connection != ConnectionSSH {
			return nil, &ConfigError{Path: path, Reason: fmt.Sprintf("host %q has invalid connection %q", h.Hostname, h.Connection)}
		}
		if h.ConcurrencyCap < 1 {
			return nil, &ConfigError{Path: path, Reason: fmt.Sprintf("host %q concurrency_cap must be >= 1", h.Hostname)}
		}
		if _, exists := c.byName[h.Hostname]; exists {
			return nil, &ConfigError{Path: path, Reason: fmt.Sprintf("duplicate host %q", h.Hostname)}
		}
		if h.SSHAlias == "" {
			h.SSHAlias = h.Hostname
		}
		c.byName[h.Hostname] = h
		c.order = append(c.order, h.Hostname)
	}
	sort.Strings(c.order)
	return c, nil
}

// Get returns the host record for name. Unknown hostnames requested
// by downstream components fail with ConfigError (spec.md §4.3).
func (c *Catalog) Get(name string) (Host, error) {
	h, ok := c.byName[name]
	if !ok {
		return Host{}, &ConfigError{Path: name, Reason: "unknown hostname"}
	}
	return h, nil
}

// All returns every host record, sorted by hostname for deterministic
// iteration.
func (c *Catalog) All() []Host {
	out := make([]Host, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.byName[name])
	}
	return out
}
