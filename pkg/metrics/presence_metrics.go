// Package metrics exposes Prometheus collectors for the presence service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "presence"

// Metrics groups the service collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	cacheOps       *prometheus.CounterVec
	cacheLatency   *prometheus.HistogramVec
	casConflicts   prometheus.Counter
	decodeFailures *prometheus.CounterVec
	reaped         prometheus.Counter
	reaperSweeps   *prometheus.CounterVec
	eventFailures  prometheus.Counter
	breakerState   *prometheus.GaugeVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cacheOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_operations_total",
			Help:      "Key-value cache operations by operation and result.",
		}, []string{"op", "result"}),
		cacheLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cache_operation_duration_seconds",
			Help:      "Latency of key-value cache operations.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"op"}),
		casConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cas_conflicts_total",
			Help:      "Optimistic updates aborted because a concurrent writer changed the key.",
		}),
		decodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_failures_total",
			Help:      "Cached values that failed to decode and were treated as empty.",
		}, []string{"kind"}),
		reaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reaped_users_total",
			Help:      "Users disconnected by the liveness reaper.",
		}),
		reaperSweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reaper_sweeps_total",
			Help:      "Reaper ticks by outcome.",
		}, []string{"outcome"}),
		eventFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_failures_total",
			Help:      "Presence events that could not be published.",
		}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open).",
		}, []string{"name"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.cacheOps,
			m.cacheLatency,
			m.casConflicts,
			m.decodeFailures,
			m.reaped,
			m.reaperSweeps,
			m.eventFailures,
			m.breakerState,
		)
	}
	return m
}

// ObserveCacheOp records the outcome and latency of one cache round-trip.
func (m *Metrics) ObserveCacheOp(op, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.cacheOps.WithLabelValues(op, result).Inc()
	m.cacheLatency.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Metrics) CASConflict() {
	if m == nil {
		return
	}
	m.casConflicts.Inc()
}

func (m *Metrics) DecodeFailure(kind string) {
	if m == nil {
		return
	}
	m.decodeFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) Reaped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.reaped.Add(float64(n))
}

func (m *Metrics) ReaperSweep(outcome string) {
	if m == nil {
		return
	}
	m.reaperSweeps.WithLabelValues(outcome).Inc()
}

func (m *Metrics) EventPublishFailure() {
	if m == nil {
		return
	}
	m.eventFailures.Inc()
}

func (m *Metrics) BreakerState(name string, state float64) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(name).Set(state)
}
