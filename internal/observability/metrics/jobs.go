package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// JobMetrics contains Prometheus metrics for background jobs.
// The operation of the Recorder methods is the job kind.
type JobMetrics struct {
	jobsTotal       *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	jobErrors       *prometheus.CounterVec
	jobsRunning     *prometheus.GaugeVec
	queueDepth      prometheus.Gauge
	queuedRuns      prometheus.Gauge
	panicsRecovered prometheus.Counter

	collectors []prometheus.Collector
}

// NewJobMetrics creates and registers job metrics.
func NewJobMetrics(registry prometheus.Registerer) (*JobMetrics, error) {
	m := &JobMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register job metrics: %w", err)
	}
	return m, nil
}

func (m *JobMetrics) initMetrics() {
	m.jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_total",
			Help: "Total number of jobs that reached a terminal state",
		},
		[]string{"kind", "status"}, // status: completed, failed, cancelled
	)

	m.jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "job_duration_seconds",
			Help:    "Wall time of job execution",
			Buckets: prometheus.ExponentialBuckets(BucketStart100ms, BucketFactor2, BucketCount15), // 100ms to ~55min
		},
		[]string{"kind"},
	)

	m.jobErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_errors_total",
			Help: "Total number of job failures by error kind",
		},
		[]string{"kind", "error_kind"},
	)

	m.jobsRunning = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jobs_running",
			Help: "Number of jobs currently executing",
		},
		[]string{"kind"},
	)

	m.queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "job_queue_depth",
		Help: "Number of jobs submitted to the worker pool but not yet started",
	})

	m.queuedRuns = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "classification_runs_queued",
		Help: "Number of classification runs waiting in the serialized queue",
	})

	m.panicsRecovered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "job_panics_total",
		Help: "Total number of panics recovered from job execution",
	})

	m.collectors = []prometheus.Collector{
		m.jobsTotal, m.jobDuration, m.jobErrors, m.jobsRunning,
		m.queueDepth, m.queuedRuns, m.panicsRecovered,
	}
}

// RecordOperation counts a terminal job transition.
func (m *JobMetrics) RecordOperation(kind, status string) {
	m.jobsTotal.WithLabelValues(kind, status).Inc()
}

// RecordDuration observes a job's execution time.
func (m *JobMetrics) RecordDuration(kind string, seconds float64) {
	m.jobDuration.WithLabelValues(kind).Observe(seconds)
}

// RecordError counts a job failure.
func (m *JobMetrics) RecordError(kind, errorKind string) {
	m.jobErrors.WithLabelValues(kind, errorKind).Inc()
}

// JobStarted increments the running gauge for kind.
func (m *JobMetrics) JobStarted(kind string) {
	m.jobsRunning.WithLabelValues(kind).Inc()
}

// JobFinished decrements the running gauge for kind.
func (m *JobMetrics) JobFinished(kind string) {
	m.jobsRunning.WithLabelValues(kind).Dec()
}

// SetQueueDepth sets the worker pool backlog.
func (m *JobMetrics) SetQueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}

// SetQueuedRuns sets the classification backlog.
func (m *JobMetrics) SetQueuedRuns(n int64) {
	m.queuedRuns.Set(float64(n))
}

// PanicRecovered counts a recovered panic.
func (m *JobMetrics) PanicRecovered() {
	m.panicsRecovered.Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *JobMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors {
		c.Describe(ch)
	}
}

// Collect implements the prometheus.Collector interface.
func (m *JobMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors {
		c.Collect(ch)
	}
}
