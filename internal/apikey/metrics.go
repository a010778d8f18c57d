package apikey

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for API key operations.
type Metrics struct {
	rotationsTotal     *prometheus.CounterVec
	validationTotal    *prometheus.CounterVec
	validationDuration *prometheus.HistogramVec
	keysDeletedTotal   *prometheus.CounterVec
	registry           *prometheus.Registry
}

// NewMetrics creates a new Metrics instance with its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "pressgate"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.rotationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "apikey",
			Name:      "rotations_total",
			Help:      "Total number of API key rotations",
		},
		[]string{"status"},
	)

	m.validationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "apikey",
			Name:      "validation_total",
			Help:      "Total number of API key validation attempts",
		},
		[]string{"status", "reason"},
	)

	m.validationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "apikey",
			Name:      "validation_duration_seconds",
			Help:      "API key validation duration in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"status", "reason"},
	)

	m.keysDeletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "apikey",
			Name:      "keys_deleted_total",
			Help:      "Total number of API key records deleted by sweeps",
		},
		[]string{"sweep"},
	)

	m.registry.MustRegister(
		m.rotationsTotal,
		m.validationTotal,
		m.validationDuration,
		m.keysDeletedTotal,
	)

	return m
}

// Registry returns the metrics registry for scraping.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRotation records a rotation attempt.
func (m *Metrics) RecordRotation(status string) {
	m.rotationsTotal.WithLabelValues(status).Inc()
}

// RecordValidation records an API key validation attempt.
func (m *Metrics) RecordValidation(status, reason string, duration time.Duration) {
	m.validationTotal.WithLabelValues(status, reason).Inc()
	m.validationDuration.WithLabelValues(status, reason).Observe(duration.Seconds())
}

// RecordDeleted records records removed by a cleanup sweep.
func (m *Metrics) RecordDeleted(sweep string, count int64) {
	m.keysDeletedTotal.WithLabelValues(sweep).Add(float64(count))
}
