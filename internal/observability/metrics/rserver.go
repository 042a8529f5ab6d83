package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// RServerMetrics contains Prometheus metrics for the R model server client.
// The operation of the Recorder methods is one of OpPing, OpTrain, OpPredict.
type RServerMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestErrors   *prometheus.CounterVec
	up              prometheus.Gauge

	collectors []prometheus.Collector
}

// NewRServerMetrics creates and registers R server metrics.
func NewRServerMetrics(registry prometheus.Registerer) (*RServerMetrics, error) {
	m := &RServerMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register R server metrics: %w", err)
	}
	return m, nil
}

func (m *RServerMetrics) initMetrics() {
	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rserver_requests_total",
			Help: "Total number of requests to the R model server",
		},
		[]string{"operation", "status"},
	)

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rserver_request_duration_seconds",
			Help:    "Latency of R model server requests",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount15), // 1ms to ~16s
		},
		[]string{"operation"},
	)

	m.requestErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rserver_request_errors_total",
			Help: "Total number of failed R model server requests by error kind",
		},
		[]string{"operation", "error_kind"},
	)

	m.up = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rserver_up",
		Help: "Result of the last R model server ping (1 for healthy, 0 otherwise)",
	})

	m.collectors = []prometheus.Collector{m.requestsTotal, m.requestDuration, m.requestErrors, m.up}
}

func (m *RServerMetrics) RecordOperation(operation, status string) {
	m.requestsTotal.WithLabelValues(operation, status).Inc()
}

func (m *RServerMetrics) RecordDuration(operation string, seconds float64) {
	m.requestDuration.WithLabelValues(operation).Observe(seconds)
}

func (m *RServerMetrics) RecordError(operation, errorKind string) {
	m.requestErrors.WithLabelValues(operation, errorKind).Inc()
}

// SetUp records the outcome of the last health check.
func (m *RServerMetrics) SetUp(healthy bool) {
	if healthy {
		m.up.Set(1)
		return
	}
	m.up.Set(0)
}

// Describe implements the prometheus.Collector interface.
func (m *RServerMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors {
		c.Describe(ch)
	}
}

// Collect implements the prometheus.Collector interface.
func (m *RServerMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors {
		c.Collect(ch)
	}
}
