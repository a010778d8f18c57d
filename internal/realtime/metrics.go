package realtime

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the realtime channel.
type Metrics struct {
	connectionsActive prometheus.Gauge
	broadcastsTotal   prometheus.Counter
	deliveriesTotal   *prometheus.CounterVec
	framesTotal       *prometheus.CounterVec
	registry          *prometheus.Registry
}

// NewMetrics creates a new Metrics instance with its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "pressgate"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.connectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "connections_active",
			Help:      "Number of currently registered WebSocket connections",
		},
	)

	m.broadcastsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "broadcasts_total",
			Help:      "Total number of broadcast operations",
		},
	)

	m.deliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "deliveries_total",
			Help:      "Total number of per-connection broadcast deliveries",
		},
		[]string{"status"},
	)

	m.framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "client_frames_total",
			Help:      "Total number of frames received from clients",
		},
		[]string{"type"},
	)

	m.registry.MustRegister(
		m.connectionsActive,
		m.broadcastsTotal,
		m.deliveriesTotal,
		m.framesTotal,
	)

	return m
}

// Registry returns the metrics registry for scraping.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetConnections records the current connection count.
func (m *Metrics) SetConnections(count int) {
	m.connectionsActive.Set(float64(count))
}

// RecordBroadcast records one broadcast with its delivery outcomes.
func (m *Metrics) RecordBroadcast(delivered, failed int) {
	m.broadcastsTotal.Inc()
	m.deliveriesTotal.WithLabelValues("delivered").Add(float64(delivered))
	m.deliveriesTotal.WithLabelValues("failed").Add(float64(failed))
}

// RecordClientFrame records one inbound client frame by type.
func (m *Metrics) RecordClientFrame(frameType string) {
	m.framesTotal.WithLabelValues(frameType).Inc()
}
