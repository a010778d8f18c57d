package scheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks scheduled task runs.
type Metrics struct {
	registry *prometheus.Registry

	runsTotal   *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
}

// NewMetrics creates scheduler metrics registered on their own registry.
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "task_runs_total",
				Help:      "Total scheduled task runs by task and status",
			},
			[]string{"task", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "task_duration_seconds",
				Help:      "Scheduled task run duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"task"},
		),
	}

	registry.MustRegister(m.runsTotal, m.runDuration)

	return m
}

// Registry returns the underlying registry for exposition.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRun records one task run.
func (m *Metrics) RecordRun(task, status string, elapsed time.Duration) {
	m.runsTotal.WithLabelValues(task, status).Inc()
	m.runDuration.WithLabelValues(task).Observe(elapsed.Seconds())
}
