package monarch

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports engine activity to Prometheus. All series are labelled by
// application name.
type Metrics struct {
	applied  *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
	version  *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		applied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "monarch",
			Name:      "migrations_applied_total",
			Help:      "Migrations committed.",
		}, []string{"app"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "monarch",
			Name:      "migration_failures_total",
			Help:      "Apply calls that returned an error, by error kind.",
		}, []string{"app", "kind"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "monarch",
			Name:      "migration_duration_seconds",
			Help:      "Time spent applying a single migration, commit included.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"app"}),
		version: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "monarch",
			Name:      "schema_version",
			Help:      "Schema version after the last Apply call.",
		}, []string{"app"}),
	}
	for _, c := range []prometheus.Collector{m.applied, m.failures, m.duration, m.version} {
		if err := reg.Register(c); err != nil {
			return nil, errors.Wrap(err, "register collector")
		}
	}
	return m, nil
}

func (m *Metrics) observeApplied(app string, took time.Duration) {
	if m == nil {
		return
	}
	m.applied.WithLabelValues(app).Inc()
	m.duration.WithLabelValues(app).Observe(took.Seconds())
}

func (m *Metrics) observeVersion(app string, v uint) {
	if m == nil {
		return
	}
	m.version.WithLabelValues(app).Set(float64(v))
}

func (m *Metrics) observeFailure(app string, err *EngineError) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(app, kindLabel(err.Kind)).Inc()
}

func kindLabel(kind error) string {
	switch kind {
	case ErrMigrationFailed:
		return "migration_failed"
	case ErrVersionAhead:
		return "version_ahead"
	case ErrLocked:
		return "locked"
	}
	return "other"
}
