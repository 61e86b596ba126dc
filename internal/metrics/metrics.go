// Package metrics exposes Prometheus collectors for mirror probing,
// activation and identifier rewriting. A nil *Metrics is valid and records
// nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mirrorswitch"

// Rewrite lookup outcomes.
const (
	RewriteBypass = "bypass"
	RewriteHit    = "hit"
	RewriteMiss   = "miss"
)

// Metrics holds the collectors registered for one service instance.
type Metrics struct {
	probes        *prometheus.CounterVec
	probeDuration prometheus.Histogram
	selections    *prometheus.CounterVec
	raceRounds    prometheus.Histogram
	activations   *prometheus.CounterVec
	rewrites      *prometheus.CounterVec
	cacheResets   prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_total",
			Help:      "Endpoint probes by outcome.",
		}, []string{"result"}),
		probeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_duration_seconds",
			Help:      "Elapsed time of endpoint probes.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		selections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "selections_total",
			Help:      "Fastest-endpoint selections by outcome.",
		}, []string{"result"}),
		raceRounds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "race_rounds",
			Help:      "Rounds needed per selection.",
			Buckets:   prometheus.LinearBuckets(1, 1, 5),
		}),
		activations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activations_total",
			Help:      "Mirror activations by outcome.",
		}, []string{"result"}),
		rewrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rewrite_lookups_total",
			Help:      "Identifier rewrite lookups by outcome.",
		}, []string{"result"}),
		cacheResets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rewrite_cache_resets_total",
			Help:      "Bulk invalidations of the rewrite cache.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.probes, m.probeDuration, m.selections, m.raceRounds,
			m.activations, m.rewrites, m.cacheResets,
		)
	}
	return m
}

// ObserveProbe records one probe outcome.
func (m *Metrics) ObserveProbe(success bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.probes.WithLabelValues(outcome(success)).Inc()
	m.probeDuration.Observe(elapsed.Seconds())
}

// ObserveSelection records the outcome of one race.
func (m *Metrics) ObserveSelection(success bool, rounds int) {
	if m == nil {
		return
	}
	m.selections.WithLabelValues(outcome(success)).Inc()
	if rounds > 0 {
		m.raceRounds.Observe(float64(rounds))
	}
}

// ObserveActivation records an activation outcome ("success", "noop", "failure").
func (m *Metrics) ObserveActivation(result string) {
	if m == nil {
		return
	}
	m.activations.WithLabelValues(result).Inc()
}

// ObserveRewrite records a rewrite lookup outcome.
func (m *Metrics) ObserveRewrite(result string) {
	if m == nil {
		return
	}
	m.rewrites.WithLabelValues(result).Inc()
}

// ObserveCacheReset records a bulk cache invalidation.
func (m *Metrics) ObserveCacheReset() {
	if m == nil {
		return
	}
	m.cacheResets.Inc()
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
