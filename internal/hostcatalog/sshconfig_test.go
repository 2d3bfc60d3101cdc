package hostcatalog

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveConnectionMissingFile(t *testing.T) {
	h := Host{Hostname: "alpha", SSHAlias: "alpha"}
	detail, err := ResolveConnection(h, filepath.Join(t.TempDir(), "does-not-exist"))
	if err != nil {
		t.Fatalf("ResolveConnection: %v", err)
	}
	if detail.HostName != "alpha" {
		t.Errorf("expected fallback HostName to equal the alias, got %q", detail.HostName)
	}
	if detail.Port != "22" {
		t.Errorf("expected default port 22 when no config file exists, got %q", detail.Port)
	}
}

func TestResolveConnectionMatchedBlock(t *testing.T) {
	const cfg = `
Host mmini
  HostName mmini.local
  Port 2222
  User builder
  IdentityFile ~/.ssh/id_builder
`
	path := filepath.Join(t.TempDir(), "config")
	if err := os.WriteFile(path, []byte(cfg), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	h := Host{Hostname: "mac-mini", SSHAlias: "mmini"}
	detail, err := ResolveConnection(h, path)
	if err != nil {
		t.Fatalf("ResolveConnection: %v", err)
	}
	if detail.HostName != "mmini.local" {
		t.Errorf("HostName: got %q want mmini.local", detail.HostName)
	}
	if detail.Port != "2222" {
		t.Errorf("Port: got %q want 2222", detail.Port)
	}
	if detail.User != "builder" {
		t.Errorf("User: got %q want builder", detail.User)
	}
	home, _ := os.UserHomeDir()
	if want := filepath.Join(home, ".ssh", "id_builder"); detail.IdentityFile != want {
		t.Errorf("IdentityFile: got %q want %q", detail.IdentityFile, want)
	}
}

func TestResolveConnectionUnmatchedAliasDefaultsPort(t *testing.T) {
	const cfg = `
Host other
  HostName other.example.com
`
	path := filepath.Join(t.TempDir(), "config")
	if err := os.WriteFile(path, []byte(cfg), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	h := Host{Hostname: "alpha", SSHAlias: "alpha"}
	detail, err := ResolveConnection(h, path)
	if err != nil {
		t.Fatalf("ResolveConnection: %v", err)
	}
	if detail.Port != "22" {
		t.Errorf("expected default port 22, got %q", detail.Port)
	}
}

func TestExpandHome(t *testing.T) {
	home, _ := os.UserHomeDir()
	cases := map[string]string{
		"~":                 home,
		"~/.ssh/id_ed25519": filepath.Join(home, ".ssh", "id_ed25519"),
		"/abs/path":         "/abs/path",
	}
	for in, want := range cases {
		if got := expandHome(in); got != want {
			t.Errorf("expandHome(%q): got %q want %q", in, got, want)
		}
	}
}
