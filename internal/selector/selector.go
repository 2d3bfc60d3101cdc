// Package selector is the host selector and concurrency arbiter of
// spec.md §4.5: it ranks healthy hosts for a target platform and
// enforces per-host concurrency caps through a filesystem lock
// protocol that stays correct under concurrent invocations sharing a
// state directory. The design keeps the acquire/release vocabulary of
// the teacher's in-memory ContainerPool (pool/containerpool.go) but
// reimplements the critical section as a cross-process mkdir mutex,
// since a channel-backed pool only ever arbitrates goroutines within
// one process.
package selector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/joyshmitz/doodlestein-self-releaser/internal/health"
	"github.com/joyshmitz/doodlestein-self-releaser/internal/hostcatalog"
	"github.com/joyshmitz/doodlestein-self-releaser/internal/obs"
	"github.com/joyshmitz/doodlestein-self-releaser/internal/statedir"
	"github.com/joyshmitz/doodlestein-self-releaser/internal/toolcatalog"
)

// ErrAtCapacity is returned by AcquireSlot when the host's concurrency
// cap is already in use.
var ErrAtCapacity = errors.New("selector: host is at capacity")

// ErrNoHost is returned by ChooseHost when every candidate was either
// unhealthy or at capacity.
var ErrNoHost = errors.New("selector: no candidate host available")

// Candidate is one scored, capacity-eligible host returned by
// Candidates.
type Candidate struct {
	Hostname string
	Score    int
	Usage    int
	Limit    int
}

// CapabilitySet maps a host to the platform set it can be probed for;
// every caller in this repo returns just the host's own platform.
// Selector takes it as a function rather than owning tool
// configuration itself.
type CapabilitySet func(hostcatalog.Host) []string

// Selector ranks and reserves hosts. It holds no mutable state beyond
// what's already durable on disk: every Selector built over the same
// Layout sees the same world.
type Selector struct {
	Layout  statedir.Layout
	Catalog *hostcatalog.Catalog
	Health  *health.Store
	Caps    CapabilitySet
	Obs     *obs.Provider
}

// New builds a Selector.
func New(layout statedir.Layout, catalog *hostcatalog.Catalog, healthStore *health.Store, caps CapabilitySet) *Selector {
	return &Selector{Layout: layout, Catalog: catalog, Health: healthStore, Caps: caps}
}

// Candidates implements spec.md §4.5's four-step pipeline: health +
// capacity filter, scoring, then a deterministic descending sort.
func (s *Selector) Candidates(ctx context.Context, target toolcatalog.Platform, prefer string) ([]Candidate, error) {
	hosts := s.Catalog.All()
	healthy := s.Health.GetHealthy(ctx, hosts, string(target), s.Caps)
	healthySet := make(map[string]bool, len(healthy))
	for _, h := range healthy {
		healthySet[h] = true
	}

	var out []Candidate
	for _, h := range hosts {
		if !healthySet[h.Hostname] {
			continue
		}
		usage, err := countSlots(s.Layout.HostLocksDir(h.Hostname))
		if err != nil {
			return nil, fmt.Errorf("selector: counting slots for %s: %w", h.Hostname, err)
		}
		if usage >= h.ConcurrencyCap {
			continue
		}

		score := 0
		if h.Connection == hostcatalog.ConnectionLocal {
			score += 100
		}
		if prefer != "" && prefer == h.Hostname {
			score += 50
		}
		score -= 10 * usage
		if target != "" && toolcatalog.Platform(h.Platform) == target {
			score += 5
		}

		out = append(out, Candidate{Hostname: h.Hostname, Score: score, Usage: usage, Limit: h.ConcurrencyCap})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Hostname < out[j].Hostname
	})
	return out, nil
}

// AcquireSlot implements spec.md §4.5's acquire_slot: under the
// per-host mutex directory, re-check usage against cap and, if room
// remains, create the slot lock file.
func (s *Selector) AcquireSlot(ctx context.Context, host, runID string) error {
	if s.Obs != nil {
		var span trace.Span
		ctx, span = s.Obs.StartSlotAcquisition(ctx, host)
		defer span.End()
	}

	h, err := s.Catalog.Get(host)
	if err != nil {
		return err
	}

	locksDir := s.Layout.HostLocksDir(host)
	if err := os.MkdirAll(locksDir, 0o755); err != nil {
		return fmt.Errorf("selector: creating lock dir for %s: %w", host, err)
	}

	// requestToken tags this acquisition attempt for log correlation
	// only; it plays no part in the mutex or capacity check itself.
	requestToken := uuid.NewString()
	slog.DebugContext(ctx, "selector.AcquireSlot requesting mutex", "host", host, "run_id", runID, "request_token", requestToken)

	unlock, err := lockMutex(ctx, s.Layout.HostMutexDir(host))
	if err != nil {
		return fmt.Errorf("selector: acquiring mutex for %s: %w", host, err)
	}
	defer unlock()

	usage, err := countSlots(locksDir)
	if err != nil {
		return fmt.Errorf("selector: counting slots for %s: %w", host, err)
	}
	if usage >= h.ConcurrencyCap {
		return ErrAtCapacity
	}

	lockPath := s.Layout.SlotLockPath(host, runID)
	if err := os.WriteFile(lockPath, []byte(runID), 0o644); err != nil {
		return fmt.Errorf("selector: writing slot lock %s: %w", lockPath, err)
	}
	slog.InfoContext(ctx, "selector.AcquireSlot", "host", host, "run_id", runID, "usage", usage+1, "cap", h.ConcurrencyCap)
	return nil
}

// ReleaseSlot unconditionally removes the slot lock file. It is safe
// to call on a slot that was never acquired or already released.
func (s *Selector) ReleaseSlot(ctx context.Context, host, runID string) error {
	lockPath := s.Layout.SlotLockPath(host, runID)
	if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("selector: releasing slot lock %s: %w", lockPath, err)
	}
	slog.InfoContext(ctx, "selector.ReleaseSlot", "host", host, "run_id", runID)
	return nil
}

// ChooseHost picks the highest-scoring candidate for target and
// acquires its slot, retrying the next candidate on ErrAtCapacity.
func (s *Selector) ChooseHost(ctx context.Context, target toolcatalog.Platform, prefer, runID string) (string, error) {
	candidates, err := s.Candidates(ctx, target, prefer)
	if err != nil {
		return "", err
	}
	for _, c := range candidates {
		err := s.AcquireSlot(ctx, c.Hostname, runID)
		if err == nil {
			return c.Hostname, nil
		}
		if errors.Is(err, ErrAtCapacity) {
			continue
		}
		return "", err
	}
	return "", ErrNoHost
}

func countSlots(locksDir string) (int, error) {
	entries, err := os.ReadDir(locksDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() {
			continue // skips .mx, the mutex directory
		}
		n++
	}
	return n, nil
}

// mutexPollInterval and mutexAcquireTimeout bound how long AcquireSlot
// will spin waiting for another process's brief read-then-write
// critical section to finish before giving up on this host entirely.
const (
	mutexPollInterval  = 20 * time.Millisecond
	mutexAcquireTimeout = 2 * time.Second
)

// lockMutex acquires the mkdir-based advisory mutex at dir, spinning
// until acquired, ctx is cancelled, or mutexAcquireTimeout elapses. It
// returns a function that releases the mutex.
func lockMutex(ctx context.Context, dir string) (func(), error) {
	deadline := time.Now().Add(mutexAcquireTimeout)
	for {
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			return func() { _ = os.Remove(dir) }, nil
		}
		if !os.IsExist(err) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timed out waiting for mutex %s", dir)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(mutexPollInterval):
		}
	}
}
