package seal

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricSealsCreated  = "seal_created_total"
	MetricSealConflicts = "seal_conflicts_total"
	MetricSealRollbacks = "seal_rollbacks_total"
)

// Metrics contains Prometheus metrics for the sealing coordinator.
// All operations are thread-safe.
type Metrics struct {
	sealsCreated  prometheus.Counter
	sealConflicts prometheus.Counter
	sealRollbacks prometheus.Counter
}

// NewMetrics creates a Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them.
func NewMetrics() *Metrics {
	return &Metrics{
		sealsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricSealsCreated,
			Help: "Total number of jobs successfully sealed",
		}),
		sealConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricSealConflicts,
			Help: "Total number of seal attempts refused because the job was already sealed",
		}),
		sealRollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricSealRollbacks,
			Help: "Total number of seal rows deleted by rollback after a failed job transition",
		}),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.sealsCreated,
		m.sealConflicts,
		m.sealRollbacks,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncSealsCreated increments the sealed jobs counter.
func (m *Metrics) IncSealsCreated() { m.sealsCreated.Inc() }

// IncSealConflicts increments the already-sealed conflict counter.
func (m *Metrics) IncSealConflicts() { m.sealConflicts.Inc() }

// IncSealRollbacks increments the rollback counter.
func (m *Metrics) IncSealRollbacks() { m.sealRollbacks.Inc() }
