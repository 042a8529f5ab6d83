package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MQTTMetrics contains Prometheus metrics for the MQTT job event sink.
type MQTTMetrics struct {
	connected       prometheus.Gauge
	lastConnectTime prometheus.Gauge
	published       *prometheus.CounterVec
	errors          prometheus.Counter
	messageSize     prometheus.Histogram
	publishLatency  prometheus.Histogram

	collectors []prometheus.Collector
}

// NewMQTTMetrics creates and registers MQTT sink metrics.
func NewMQTTMetrics(registry prometheus.Registerer) (*MQTTMetrics, error) {
	m := &MQTTMetrics{}
	m.connected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mqtt_connection_status",
		Help: "Current MQTT connection status (1 for connected, 0 for disconnected)",
	})
	m.lastConnectTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mqtt_last_connect_time_seconds",
		Help: "Timestamp of the last successful MQTT connection",
	})
	m.published = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mqtt_job_events_published_total",
		Help: "Total number of job events published to MQTT",
	}, []string{"kind"})
	m.errors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mqtt_errors_total",
		Help: "Total number of MQTT errors encountered",
	})
	m.messageSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mqtt_message_size_bytes",
		Help:    "Size of MQTT messages in bytes",
		Buckets: prometheus.ExponentialBuckets(BucketStart64B, BucketFactor2, BucketCount10),
	})
	m.publishLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mqtt_publish_latency_seconds",
		Help:    "Latency of MQTT publish operations in seconds",
		Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount10),
	})
	m.collectors = []prometheus.Collector{
		m.connected, m.lastConnectTime, m.published, m.errors, m.messageSize, m.publishLatency,
	}

	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register MQTT metrics: %w", err)
	}
	return m, nil
}

// UpdateConnectionStatus updates the connection gauge and, on connect, the
// last connect time.
func (m *MQTTMetrics) UpdateConnectionStatus(connected bool) {
	if connected {
		m.connected.Set(1)
		m.lastConnectTime.SetToCurrentTime()
		return
	}
	m.connected.Set(0)
}

// ObservePublish records a successful publish of a job event.
func (m *MQTTMetrics) ObservePublish(kind string, sizeBytes int, latency time.Duration) {
	m.published.WithLabelValues(kind).Inc()
	m.messageSize.Observe(float64(sizeBytes))
	m.publishLatency.Observe(latency.Seconds())
}

// IncrementErrors counts a failed connect or publish.
func (m *MQTTMetrics) IncrementErrors() {
	m.errors.Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *MQTTMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors {
		c.Describe(ch)
	}
}

// Collect implements the prometheus.Collector interface.
func (m *MQTTMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors {
		c.Collect(ch)
	}
}
