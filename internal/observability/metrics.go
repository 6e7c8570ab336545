package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports context store and config evolution telemetry to Prometheus.
type Metrics struct {
	operationDuration *prometheus.HistogramVec
	operationErrors   *prometheus.CounterVec
	snapshotBytes     prometheus.Counter
	contexts          prometheus.Gauge
	evolutions        *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg (the default registerer when nil).
func NewMetrics(namespace string, reg prometheus.Registerer) (*Metrics, error) {
	if namespace == "" {
		namespace = "playground"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "contexts",
			Name:      "operation_duration_seconds",
			Help:      "Latency of context store operations including snapshot writes.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		operationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "contexts",
			Name:      "operation_errors_total",
			Help:      "Count of failed context store operations.",
		}, []string{"operation"}),
		snapshotBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "contexts",
			Name:      "snapshot_bytes_total",
			Help:      "Cumulative size of context snapshots written to disk.",
		}),
		contexts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "contexts",
			Name:      "records",
			Help:      "Number of context records currently held.",
		}),
		evolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "config",
			Name:      "evolutions_total",
			Help:      "Config evolution requests by outcome.",
		}, []string{"outcome"}),
	}
	collectors := []prometheus.Collector{m.operationDuration, m.operationErrors, m.snapshotBytes, m.contexts, m.evolutions}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}
	return m, nil
}

// RecordOperation tracks the duration and failure of a store operation.
func (m *Metrics) RecordOperation(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.operationErrors.WithLabelValues(operation).Inc()
	}
}

// RecordSnapshot tracks a successful snapshot write.
func (m *Metrics) RecordSnapshot(sizeBytes int, records int) {
	if m == nil {
		return
	}
	m.snapshotBytes.Add(float64(sizeBytes))
	m.contexts.Set(float64(records))
}

// RecordEvolution counts an evolution request by outcome ("success" or an error kind).
func (m *Metrics) RecordEvolution(outcome string) {
	if m == nil {
		return
	}
	m.evolutions.WithLabelValues(outcome).Inc()
}
