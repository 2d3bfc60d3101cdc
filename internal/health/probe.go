// Package health implements per-host reachability probing and the
// freshness-windowed cache described in spec.md §4.4: a probe result
// is trusted for ttl, reprobed on read once stale, and a failed probe
// poisons the cache for the same window so a flapping host doesn't
// get hammered every selection attempt.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sort"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/joyshmitz/doodlestein-self-releaser/internal/guard"
	"github.com/joyshmitz/doodlestein-self-releaser/internal/hostcatalog"
)

// DefaultTTL is the freshness window spec.md §4.4 fixes at 5 minutes
// in the absence of a documented value from the source.
const DefaultTTL = 5 * time.Minute

// ProbeTimeout bounds a single probe's wall clock (spec.md §5:
// "Health probes use a hard per-probe timeout").
const ProbeTimeout = 10 * time.Second

// Record is a host's last-known reachability and capability set.
type Record struct {
	Hostname     string    `json:"hostname"`
	Reachable    bool      `json:"reachable"`
	Capabilities []string  `json:"capabilities"`
	CheckedAt    time.Time `json:"checked_at"`
	TTLSeconds   int       `json:"ttl_seconds"`
}

// Stale reports whether the record is older than its TTL as of now.
func (r Record) Stale(now time.Time) bool {
	return now.Sub(r.CheckedAt) > time.Duration(r.TTLSeconds)*time.Second
}

// HasCapability reports whether r advertises capability.
func (r Record) HasCapability(capability string) bool {
	for _, c := range r.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// Prober evaluates a single host's current reachability and
// capability set. capabilities is the candidate platform set the
// caller wants confirmed (every caller in this repo passes the host's
// own platform); both probers echo back the whole set, sorted, when
// the host is reachable, and no capabilities when it is not.
type Prober interface {
	Probe(ctx context.Context, host hostcatalog.Host, capabilities []string) Record
}

// LocalProber probes hosts reached via ConnectionLocal: the
// orchestrator's own machine. Self-probe succeeds iff the process can
// create a scratch directory under its own temp directory; the
// directory is removed afterwards and a failed removal is ignored.
type LocalProber struct{}

func (LocalProber) Probe(ctx context.Context, host hostcatalog.Host, capabilities []string) Record {
	rec := Record{Hostname: host.Hostname, CheckedAt: time.Now().UTC(), TTLSeconds: int(DefaultTTL.Seconds())}

	_, release, err := guard.ScopedTempDir("health-self-probe")
	if err != nil {
		return rec
	}
	defer release()

	rec.Reachable = true
	rec.Capabilities = sortedCopy(capabilities)
	return rec
}

// SSHProber probes hosts reached via ConnectionSSH by opening a
// non-interactive client connection and running a trivial remote
// command, mirroring sshimmer's BatchMode ssh invocations but over
// golang.org/x/crypto/ssh instead of shelling out.
type SSHProber struct {
	SSHConfigPath string
}

func (p SSHProber) Probe(ctx context.Context, host hostcatalog.Host, capabilities []string) Record {
	rec := Record{Hostname: host.Hostname, CheckedAt: time.Now().UTC(), TTLSeconds: int(DefaultTTL.Seconds())}

	detail, err := hostcatalog.ResolveConnection(host, p.SSHConfigPath)
	if err != nil {
		return rec
	}

	auth, err := authMethod(detail)
	if err != nil {
		return rec
	}

	addr := detail.HostName + ":" + detail.Port
	cfg := &ssh.ClientConfig{
		User:            detail.User,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // probe-only, never carries build traffic
		Timeout:         ProbeTimeout,
	}

	probeCtx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()

	dialer := net.Dialer{}
	conn, err := dialer.DialContext(probeCtx, "tcp", addr)
	if err != nil {
		return rec
	}
	defer conn.Close()

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		return rec
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return rec
	}
	defer session.Close()

	if err := session.Run("true"); err != nil {
		return rec
	}

	rec.Reachable = true
	rec.Capabilities = sortedCopy(capabilities)
	return rec
}

func authMethod(detail hostcatalog.ConnectionDetail) (ssh.AuthMethod, error) {
	if detail.IdentityFile == "" {
		return nil, fmt.Errorf("health: no identity file resolved for ssh probe")
	}
	keyBytes, err := os.ReadFile(detail.IdentityFile)
	if err != nil {
		return nil, fmt.Errorf("health: reading identity file %s: %w", detail.IdentityFile, err)
	}
	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("health: parsing identity file %s: %w", detail.IdentityFile, err)
	}
	return ssh.PublicKeys(signer), nil
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}

// marshalRecord and unmarshalRecord are the on-disk JSON encoding used
// by Store.
func marshalRecord(r Record) ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

func unmarshalRecord(data []byte) (Record, error) {
	var r Record
	err := json.Unmarshal(data, &r)
	return r, err
}
