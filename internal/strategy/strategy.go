// Package strategy resolves, for a single (tool, target) pair, how a
// build is actually produced: through the local hosted-workflow
// emulator, over shell on a remote platform-native host, or not at
// all (spec.md §4.6).
package strategy

import (
	"context"
	"fmt"
	"sort"

	"github.com/joyshmitz/doodlestein-self-releaser/internal/hostcatalog"
	"github.com/joyshmitz/doodlestein-self-releaser/internal/toolcatalog"
)

// Kind discriminates the Strategy variants.
type Kind string

const (
	KindAct    Kind = "act"
	KindNative Kind = "native"
	KindSkip   Kind = "skip"
)

// Strategy is the resolved plan for building one target. Only the
// fields relevant to Kind are populated.
type Strategy struct {
	Kind Kind

	// Act fields.
	Job    string
	Matrix map[string]string
	Env    map[string]string

	// Native fields.
	Host       string
	RemotePath string

	// Skip field.
	Reason string
}

// HealthyHosts resolves the set of currently-healthy hostnames,
// typically health.Store.GetHealthy bound to a capability-less query
// (strategy only needs reachability, not a target capability filter —
// that filtering already happened inside the selector for the host it
// ultimately picks).
type HealthyHosts func(ctx context.Context) ([]string, error)

// Resolve implements spec.md §4.6's three-way dispatch.
func Resolve(ctx context.Context, tool toolcatalog.Tool, target toolcatalog.Platform, catalog *hostcatalog.Catalog, healthy HealthyHosts) (Strategy, error) {
	if job, ok := tool.ActJobFor(target); ok {
		matrix := tool.ActMatrix[target]
		env := mergeEnv(tool.Env, nil)
		if cc, ok := tool.CrossCompileFor(target); ok {
			env = mergeEnv(tool.Env, cc.Env)
		}
		return Strategy{Kind: KindAct, Job: job, Matrix: matrix, Env: env}, nil
	}

	if cc, ok := tool.CrossCompileFor(target); ok && cc.Method == toolcatalog.MethodNative {
		hostNames, err := healthy(ctx)
		if err != nil {
			return Strategy{}, fmt.Errorf("strategy: listing healthy hosts: %w", err)
		}
		host, found, err := firstHostForPlatform(catalog, hostNames, target)
		if err != nil {
			return Strategy{}, err
		}
		if !found {
			return Strategy{Kind: KindSkip, Reason: fmt.Sprintf("no healthy host with platform %s", target)}, nil
		}
		remotePath := tool.LocalPath
		if p, ok := tool.HostPathFor(host); ok {
			remotePath = p
		}
		return Strategy{
			Kind:       KindNative,
			Host:       host,
			Env:        mergeEnv(tool.Env, cc.Env),
			RemotePath: remotePath,
		}, nil
	}

	return Strategy{Kind: KindSkip, Reason: fmt.Sprintf("no act job or native cross-compile rule for %s", target)}, nil
}

// firstHostForPlatform returns the lexicographically first healthy
// host whose catalog platform equals target.
func firstHostForPlatform(catalog *hostcatalog.Catalog, hostNames []string, target toolcatalog.Platform) (string, bool, error) {
	var matching []string
	for _, name := range hostNames {
		h, err := catalog.Get(name)
		if err != nil {
			continue // a healthy host absent from the catalog snapshot is ignored, not fatal
		}
		if toolcatalog.Platform(h.Platform) == target {
			matching = append(matching, name)
		}
	}
	if len(matching) == 0 {
		return "", false, nil
	}
	sort.Strings(matching)
	return matching[0], true, nil
}

func mergeEnv(global, override map[string]string) map[string]string {
	out := make(map[string]string, len(global)+len(override))
	for k, v := range global {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}
