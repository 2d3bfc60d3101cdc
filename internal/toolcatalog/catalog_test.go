package toolcatalog

import "testing"

const validYAML = `
tools:
  - tool_name: widget
    repo: https://example.com/widget.git
    local_path: /srv/repos/widget
    language: go
    binary_name: widget
    build_cmd: go build -o dist/widget ./cmd/widget
    targets: [linux/amd64, darwin/arm64, windows/amd64]
    workflow: .github/workflows/release.yml
    act_job_map:
      linux/amd64: build
      darwin/arm64: null
      windows/amd64: null
    act_matrix:
      linux/amd64:
        os: ubuntu-latest
        arch: amd64
    cross_compile:
      darwin/arm64:
        method: native
    host_paths:
      mmini: /Users/builder/repos/widget
`

func TestParseValid(t *testing.T) {
	c, err := Parse("tools.yaml", []byte(validYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	tool, err := c.Get("widget")
	if err != nil {
		t.Fatalf("Get(widget): %v", err)
	}
	if tool.TimeoutMinutes != 30 {
		t.Errorf("expected default timeout of 30, got %d", tool.TimeoutMinutes)
	}

	job, ok := tool.ActJobFor("linux/amd64")
	if !ok || job != "build" {
		t.Errorf("ActJobFor(linux/amd64): got (%q, %v) want (build, true)", job, ok)
	}
	if _, ok := tool.ActJobFor("darwin/arm64"); ok {
		t.Error("expected darwin/arm64 to have no act job (explicit null)")
	}

	cc, ok := tool.CrossCompileFor("darwin/arm64")
	if !ok || cc.Method != MethodNative {
		t.Errorf("CrossCompileFor(darwin/arm64): got (%+v, %v)", cc, ok)
	}

	if p, ok := tool.HostPathFor("mmini"); !ok || p != "/Users/builder/repos/widget" {
		t.Errorf("HostPathFor(mmini): got (%q, %v)", p, ok)
	}
	if _, ok := tool.HostPathFor("ghost"); ok {
		t.Error("expected no host path override for an unconfigured host")
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	bad := validYAML + "    made_up: true\n"
	if _, err := Parse("tools.yaml", []byte(bad)); err == nil {
		t.Fatal("expected an error for an unknown field")
	}
}

func TestParseRejectsMissingRequiredFields(t *testing.T) {
	cases := []string{
		`tools: [{repo: r, binary_name: b, targets: [linux/amd64]}]`,
		`tools: [{tool_name: widget, binary_name: b, targets: [linux/amd64]}]`,
		`tools: [{tool_name: widget, repo: r, targets: [linux/amd64]}]`,
		`tools: [{tool_name: widget, repo: r, binary_name: b, targets: []}]`,
		`tools: [{tool_name: widget, repo: r, binary_name: b, targets: [linux/amd64]}, {tool_name: widget, repo: r2, binary_name: b2, targets: [darwin/arm64]}]`,
	}
	for _, doc := range cases {
		if _, err := Parse("tools.yaml", []byte(doc)); err == nil {
			t.Errorf("expected a ConfigError for %q", doc)
		}
	}
}

func TestGetUnknownTool(t *testing.T) {
	c, err := Parse("tools.yaml", []byte(validYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := c.Get("ghost"); err == nil {
		t.Fatal("expected ConfigError for unknown tool_name")
	}
}
