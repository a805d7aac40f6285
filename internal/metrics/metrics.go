package metrics

import (
	"net/http"
	"time"

	"github.com/flexprice/lifecycle/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	MachinePhase   = "phase"
	MachineInvoice = "invoice"

	OutcomeSuccess = "success"
	OutcomeRefused = "refused"
	OutcomeError   = "error"
)

// Metrics records lifecycle engine activity. A nil *Metrics is a valid no-op.
type Metrics struct {
	registry        *prometheus.Registry
	transitions     *prometheus.CounterVec
	processDuration prometheus.Histogram
	lockContention  prometheus.Counter
}

// NewMetrics registers the lifecycle collectors on a dedicated registry
func NewMetrics(cfg *config.Configuration) *Metrics {
	ns := cfg.Metrics.Namespace
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "transitions_total",
			Help:      "Total number of state machine transitions by outcome.",
		}, []string{"machine", "event", "outcome"}),
		processDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "process_duration_seconds",
			Help:      "Duration of a full subscription processing run.",
			Buckets:   prometheus.DefBuckets,
		}),
		lockContention: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "lock_contention_total",
			Help:      "Subscription locks that were already held by another worker.",
		}),
	}
	reg.MustRegister(m.transitions, m.processDuration, m.lockContention)
	return m
}

// Transition counts one machine transition attempt
func (m *Metrics) Transition(machine, event, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(machine, event, outcome).Inc()
}

// ObserveProcess records the duration of one processing run
func (m *Metrics) ObserveProcess(d time.Duration) {
	if m == nil {
		return
	}
	m.processDuration.Observe(d.Seconds())
}

// LockContended counts a lock that could not be acquired
func (m *Metrics) LockContended() {
	if m == nil {
		return
	}
	m.lockContention.Inc()
}

// Registry exposes the registry for tests and custom exporters
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registered metrics in the prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
