// Package metrics gathers in-process Prometheus collectors for the
// orchestrator's selector and build matrix. There is no HTTP exposition
// endpoint here — a scrape-able control plane is an explicit non-goal
// (spec.md §1) — so values are read back via Snapshot and surfaced
// through `status --json`'s details.metrics field instead. Naming and
// registration style follow the cuemby-warren sibling example's
// pkg/metrics package.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	registry = prometheus.NewRegistry()

	SelectorSlotsInUse = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "releaser_selector_slots_in_use",
			Help: "Number of build slots currently held on a host.",
		},
		[]string{"host"},
	)

	SelectorCap = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "releaser_selector_cap",
			Help: "Configured concurrency cap for a host.",
		},
		[]string{"host"},
	)

	TargetsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "releaser_targets_total",
			Help: "Total number of build targets dispatched, by final status.",
		},
		[]string{"status"},
	)
)

func init() {
	registry.MustRegister(SelectorSlotsInUse, SelectorCap, TargetsTotal)
}

// Registry returns the process-local Prometheus registry these
// collectors are registered against.
func Registry() *prometheus.Registry { return registry }

// RecordTarget increments TargetsTotal for a finished target's status.
func RecordTarget(status string) {
	TargetsTotal.WithLabelValues(status).Inc()
}

// SetHostOccupancy records a host's current slot usage and cap,
// intended to be called once per host right before a status snapshot.
func SetHostOccupancy(host string, inUse, cap int) {
	SelectorSlotsInUse.WithLabelValues(host).Set(float64(inUse))
	SelectorCap.WithLabelValues(host).Set(float64(cap))
}

// Sample is one collected metric family's value for a single label
// combination, flattened for JSON embedding.
type Sample struct {
	Name   string            `json:"name"`
	Labels map[string]string `json:"labels,omitempty"`
	Value  float64           `json:"value"`
}

// Snapshot gathers every registered metric into a flat, JSON-friendly
// slice for embedding in the status command's details.metrics field.
func Snapshot() ([]Sample, error) {
	families, err := registry.Gather()
	if err != nil {
		return nil, err
	}
	var out []Sample
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := make(map[string]string, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			var value float64
			switch {
			case m.GetGauge() != nil:
				value = m.GetGauge().GetValue()
			case m.GetCounter() != nil:
				value = m.GetCounter().GetValue()
			}
			out = append(out, Sample{Name: mf.GetName(), Labels: labels, Value: value})
		}
	}
	return out, nil
}
