// ABOUTME: Prometheus instrumentation for gated operations
// ABOUTME: Counts outcomes, times operations and tracks admitted work per kind

package gate

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels recorded on gatedb_operations_total.
const (
	OutcomeOK           = "ok"
	OutcomeWorkFailed   = "work_failed"
	OutcomeCommitFailed = "commit_failed"
	OutcomeDestroyed    = "destroyed"
	OutcomeUnavailable  = "unavailable"
)

// Metrics holds the gate's collectors. A nil *Metrics records nothing.
type Metrics struct {
	Operations *prometheus.CounterVec
	Duration   *prometheus.HistogramVec
	InFlight   *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gatedb",
			Name:      "operations_total",
			Help:      "Operations completed, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gatedb",
			Name:      "operation_duration_seconds",
			Help:      "Time from submission to completion, including time spent waiting for access.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"kind"}),
		InFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gatedb",
			Name:      "operations_in_flight",
			Help:      "Operations currently admitted by the gate.",
		}, []string{"kind"}),
	}

	if reg != nil {
		reg.MustRegister(m.Operations, m.Duration, m.InFlight)
	}
	return m
}

func (m *Metrics) admitted(kind Kind, delta float64) {
	if m == nil {
		return
	}
	m.InFlight.WithLabelValues(kind.String()).Add(delta)
}

func (m *Metrics) observe(kind Kind, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(kind.String(), outcome(err)).Inc()
	m.Duration.WithLabelValues(kind.String()).Observe(elapsed.Seconds())
}

func outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrDatabaseDestroyed):
		return OutcomeDestroyed
	case errors.Is(err, ErrCommitFailed):
		return OutcomeCommitFailed
	case errors.Is(err, ErrWorkFailed):
		return OutcomeWorkFailed
	default:
		return OutcomeUnavailable
	}
}
