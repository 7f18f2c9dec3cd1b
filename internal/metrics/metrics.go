// Package metrics holds the Prometheus collectors of the detection pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the pipeline collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Observations  *prometheus.CounterVec
	Resolutions   *prometheus.CounterVec
	ResolveTime   prometheus.Histogram
	Published     *prometheus.CounterVec
	DebounceEvict prometheus.Counter
}

// New creates the collectors and registers them on reg (skipped when reg is nil).
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Observations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "attendance",
			Name:      "observations_total",
			Help:      "Beacon observations by pipeline outcome.",
		}, []string{"outcome"}),
		Resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "attendance",
			Name:      "profile_resolutions_total",
			Help:      "Profile lookups by source (cache, network, not_found, error).",
		}, []string{"source"}),
		ResolveTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "attendance",
			Name:      "profile_resolve_seconds",
			Help:      "Time spent resolving a matricule.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "attendance",
			Name:      "observations_published_total",
			Help:      "Observations accepted by the API and handed to the queue.",
		}, []string{"result"}),
		DebounceEvict: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "attendance",
			Name:      "debounce_evicted_total",
			Help:      "Debounce entries dropped by periodic eviction.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Observations, m.Resolutions, m.ResolveTime, m.Published, m.DebounceEvict)
	}
	return m
}

// Outcome counts one observation outcome.
func (m *Metrics) Outcome(outcome string) {
	if m == nil {
		return
	}
	m.Observations.WithLabelValues(outcome).Inc()
}

// Resolved counts one resolution and its latency.
func (m *Metrics) Resolved(source string, took time.Duration) {
	if m == nil {
		return
	}
	m.Resolutions.WithLabelValues(source).Inc()
	m.ResolveTime.Observe(took.Seconds())
}

// Publish counts one publish attempt ("ok" or "error").
func (m *Metrics) Publish(result string) {
	if m == nil {
		return
	}
	m.Published.WithLabelValues(result).Inc()
}

// Evicted counts debounce entries removed by a sweep.
func (m *Metrics) Evicted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.DebounceEvict.Add(float64(n))
}
