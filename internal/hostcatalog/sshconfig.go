package hostcatalog

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kevinburke/ssh_config"
)

// ConnectionDetail is the resolved SSH endpoint for a Host, after
// merging its catalog entry with any matching Host block in the
// user's ~/.ssh/config. This mirrors sshimmer's own use of
// ssh_config.Decode to read connection details rather than
// hardcoding them.
type ConnectionDetail struct {
	HostName     string
	Port         string
	User         string
	IdentityFile string
}

// ResolveConnection looks up h.SSHAlias in the SSH client config file
// at sshConfigPath (typically ~/.ssh/config) and returns the
// effective connection details. A missing config file or missing
// Host block is not an error: the port defaults to 22 and the alias
// itself is used as the hostname.
func ResolveConnection(h Host, sshConfigPath string) (ConnectionDetail, error) {
	detail := ConnectionDetail{HostName: h.SSHAlias}

	data, err := os.ReadFile(sshConfigPath)
	if err != nil {
		if os.IsNotExist(err) {
			detail.Port = "22"
			return detail, nil
		}
		return ConnectionDetail{}, fmt.Errorf("hostcatalog: reading ssh config %s: %w", sshConfigPath, err)
	}

	cfg, err := ssh_config.Decode(bytes.NewReader(data))
	if err != nil {
		return ConnectionDetail{}, fmt.Errorf("hostcatalog: decoding ssh config %s: %w", sshConfigPath, err)
	}

	if v, err := cfg.Get(h.SSHAlias, "HostName"); err == nil && v != "" {
		detail.HostName = v
	}
	if v, err := cfg.Get(h.SSHAlias, "Port"); err == nil && v != "" {
		detail.Port = v
	} else {
		detail.Port = "22"
	}
	if v, err := cfg.Get(h.SSHAlias, "User"); err == nil && v != "" {
		detail.User = v
	}
	if v, err := cfg.Get(h.SSHAlias, "IdentityFile"); err == nil && v != "" {
		detail.IdentityFile = expandHome(v)
	}
	return detail, nil
}

func expandHome(p string) string {
	if p == "~" || len(p) > 1 && p[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err != nil {
			return p
		}
		if p == "~" {
			return home
		}
		return filepath.Join(home, p[2:])
	}
	return p
}
