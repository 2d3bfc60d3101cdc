package strategy

import (
	"context"
	"testing"

	"github.com/joyshmitz/doodlestein-self-releaser/internal/hostcatalog"
	"github.com/joyshmitz/doodlestein-self-releaser/internal/toolcatalog"
)

func mustCatalog(t *testing.T, yamlDoc string) *hostcatalog.Catalog {
	t.Helper()
	c, err := hostcatalog.Parse("hosts.yaml", []byte(yamlDoc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return c
}

const hostsYAML = `
hosts:
  - hostname: alpha
    platform: linux/amd64
    connection: local
    concurrency_cap: 2
  - hostname: mmini
    platform: darwin/arm64
    connection: ssh
    concurrency_cap: 1
  - hostname: zmini
    platform: darwin/arm64
    connection: ssh
    concurrency_cap: 1
`

func allHealthy(names ...string) HealthyHosts {
	return func(ctx context.Context) ([]string, error) { return names, nil }
}

func TestResolveAct(t *testing.T) {
	job := "build"
	tool := toolcatalog.Tool{
		ToolName:  "widget",
		LocalPath: "/src/widget",
		Env:       map[string]string{"CGO_ENABLED": "0"},
		ActJobMap: map[toolcatalog.Platform]*string{"linux/amd64": &job},
		ActMatrix: map[toolcatalog.Platform]map[string]string{"linux/amd64": {"os": "ubuntu-latest"}},
		CrossCompile: map[toolcatalog.Platform]toolcatalog.CrossCompile{
			"linux/amd64": {Method: toolcatalog.MethodNative, Env: map[string]string{"GOARCH": "amd64"}},
		},
	}
	s, err := Resolve(context.Background(), tool, "linux/amd64", mustCatalog(t, hostsYAML), allHealthy("alpha"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if s.Kind != KindAct || s.Job != "build" {
		t.Fatalf("expected Act{job:build}, got %+v", s)
	}
	if s.Env["CGO_ENABLED"] != "0" || s.Env["GOARCH"] != "amd64" {
		t.Errorf("expected merged global+cross_compile env, got %v", s.Env)
	}
}

func TestResolveNativeDeterministicTiebreak(t *testing.T) {
	nilJob := (*string)(nil)
	tool := toolcatalog.Tool{
		ToolName:  "widget",
		LocalPath: "/src/widget",
		ActJobMap: map[toolcatalog.Platform]*string{"darwin/arm64": nilJob},
		CrossCompile: map[toolcatalog.Platform]toolcatalog.CrossCompile{
			"darwin/arm64": {Method: toolcatalog.MethodNative},
		},
		HostPaths: map[string]string{"zmini": "/Users/builder/widget"},
	}
	s, err := Resolve(context.Background(), tool, "darwin/arm64", mustCatalog(t, hostsYAML), allHealthy("zmini", "mmini"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if s.Kind != KindNative || s.Host != "mmini" {
		t.Fatalf("expected Native{host:mmini} (lexicographic tiebreak), got %+v", s)
	}
	if s.RemotePath != tool.LocalPath {
		t.Errorf("expected remote_path to fall back to local_path for mmini, got %q", s.RemotePath)
	}
}

func TestResolveNativeUsesHostPathOverride(t *testing.T) {
	tool := toolcatalog.Tool{
		ToolName:  "widget",
		LocalPath: "/src/widget",
		CrossCompile: map[toolcatalog.Platform]toolcatalog.CrossCompile{
			"darwin/arm64": {Method: toolcatalog.MethodNative},
		},
		HostPaths: map[string]string{"zmini": "/Users/builder/widget"},
	}
	s, err := Resolve(context.Background(), tool, "darwin/arm64", mustCatalog(t, hostsYAML), allHealthy("zmini"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if s.RemotePath != "/Users/builder/widget" {
		t.Errorf("expected host_paths override, got %q", s.RemotePath)
	}
}

func TestResolveSkipWhenNoProducer(t *testing.T) {
	tool := toolcatalog.Tool{ToolName: "widget", LocalPath: "/src/widget"}
	s, err := Resolve(context.Background(), tool, "windows/amd64", mustCatalog(t, hostsYAML), allHealthy())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if s.Kind != KindSkip {
		t.Fatalf("expected Skip, got %+v", s)
	}
}

func TestResolveSkipWhenNativeHostUnhealthy(t *testing.T) {
	tool := toolcatalog.Tool{
		ToolName:  "widget",
		LocalPath: "/src/widget",
		CrossCompile: map[toolcatalog.Platform]toolcatalog.CrossCompile{
			"darwin/arm64": {Method: toolcatalog.MethodNative},
		},
	}
	s, err := Resolve(context.Background(), tool, "darwin/arm64", mustCatalog(t, hostsYAML), allHealthy("alpha"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if s.Kind != KindSkip {
		t.Fatalf("expected Skip when no healthy host matches the target platform, got %+v", s)
	}
}
