package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricEventsAppended       = "ledger_events_appended_total"
	MetricAppendConflicts      = "ledger_append_conflicts_total"
	MetricVerifications        = "ledger_chain_verifications_total"
	MetricVerificationFailures = "ledger_chain_verification_failures_total"
)

// Metrics contains Prometheus metrics for the audit ledger.
// All operations are thread-safe.
type Metrics struct {
	eventsAppended       prometheus.Counter
	appendConflicts      prometheus.Counter
	verifications        prometheus.Counter
	verificationFailures prometheus.Counter
}

// NewMetrics creates a Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them.
func NewMetrics() *Metrics {
	return &Metrics{
		eventsAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricEventsAppended,
			Help: "Total number of audit events appended to job chains",
		}),
		appendConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricAppendConflicts,
			Help: "Total number of append retries caused by chain-head races",
		}),
		verifications: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricVerifications,
			Help: "Total number of chain verification runs",
		}),
		verificationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricVerificationFailures,
			Help: "Total number of chain verifications that found a broken chain",
		}),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.eventsAppended,
		m.appendConflicts,
		m.verifications,
		m.verificationFailures,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncEventsAppended increments the appended events counter.
func (m *Metrics) IncEventsAppended() { m.eventsAppended.Inc() }

// IncAppendConflicts increments the chain-head race counter.
func (m *Metrics) IncAppendConflicts() { m.appendConflicts.Inc() }

// IncVerifications increments the verification runs counter.
func (m *Metrics) IncVerifications() { m.verifications.Inc() }

// IncVerificationFailures increments the broken-chain counter.
func (m *Metrics) IncVerificationFailures() { m.verificationFailures.Inc() }
