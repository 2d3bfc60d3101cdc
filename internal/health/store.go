package health

import (
	"context"
	"os"
	"sort"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/joyshmitz/doodlestein-self-releaser/internal/guard"
	"github.com/joyshmitz/doodlestein-self-releaser/internal/hostcatalog"
	"github.com/joyshmitz/doodlestein-self-releaser/internal/obs"
)

// Store persists Records under state/health/<host>.json and implements
// the reprobe-on-stale-read, poison-on-failure contract of spec.md
// §4.4.
type Store struct {
	Dir    func(host string) string
	Prober func(hostcatalog.Host) Prober
	TTL    time.Duration
	Obs    *obs.Provider
}

// NewStore builds a Store given a function mapping a hostname to its
// record path (typically statedir.Layout.HealthRecordPath) and a
// function selecting the right Prober for a host's connection kind.
func NewStore(recordPath func(host string) string, proberFor func(hostcatalog.Host) Prober) *Store {
	return &Store{Dir: recordPath, Prober: proberFor, TTL: DefaultTTL}
}

// Get returns the current health record for host, reprobing if the
// cached record is missing or stale. A Store whose TTL is zero never
// consults the cache and always reprobes. capabilities is passed
// through to the Prober when a fresh probe is actually performed; it
// is ignored when the cached record is still fresh.
func (s *Store) Get(ctx context.Context, host hostcatalog.Host, capabilities []string) Record {
	path := s.Dir(host.Hostname)
	if s.TTL > 0 {
		if data, err := os.ReadFile(path); err == nil {
			if rec, err := unmarshalRecord(data); err == nil && !rec.Stale(time.Now().UTC()) {
				return rec
			}
		}
	}

	if s.Obs != nil {
		var span trace.Span
		ctx, span = s.Obs.StartHealthProbe(ctx, host.Hostname)
		defer span.End()
	}
	rec := s.Prober(host).Probe(ctx, host, capabilities)
	if rec.TTLSeconds == 0 {
		rec.TTLSeconds = int(s.TTL.Seconds())
	}
	if data, err := marshalRecord(rec); err == nil {
		_ = guard.SafeWriteFile(path, data, 0o644)
	}
	return rec
}

// GetHealthy returns the hostnames from hosts whose cached health is
// fresh (or freshly reprobed) and reachable, filtered by capability
// when non-empty. Results are sorted for deterministic candidate
// ordering downstream.
func (s *Store) GetHealthy(ctx context.Context, hosts []hostcatalog.Host, capability string, capsFor func(hostcatalog.Host) []string) []string {
	var out []string
	for _, h := range hosts {
		rec := s.Get(ctx, h, capsFor(h))
		if !rec.Reachable {
			continue
		}
		if capability != "" && !rec.HasCapability(capability) {
			continue
		}
		out = append(out, h.Hostname)
	}
	sort.Strings(out)
	return out
}
