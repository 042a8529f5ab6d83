package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ Recorder = (*JobMetrics)(nil)
	_ Recorder = (*RServerMetrics)(nil)
	_ Recorder = (*NotificationMetrics)(nil)
	_ Recorder = (*MemoryRecorder)(nil)
	_ Recorder = NoOpRecorder{}
)

func TestMemoryRecorder(t *testing.T) {
	r := NewMemoryRecorder()
	r.RecordOperation("clustering", StatusCompleted)
	r.RecordOperation("clustering", StatusCompleted)
	r.RecordOperation("clustering", StatusFailed)
	r.RecordDuration("clustering", 1.5)
	r.RecordError("training", "InsufficientTrainingData")

	assert.Equal(t, 2, r.OperationCount("clustering", StatusCompleted))
	assert.Equal(t, 1, r.OperationCount("clustering", StatusFailed))
	assert.Equal(t, 0, r.OperationCount("segmentation", StatusCompleted))
	assert.Equal(t, []float64{1.5}, r.Durations("clustering"))
	assert.Equal(t, 1, r.ErrorCount("training", "InsufficientTrainingData"))

	d := r.Durations("clustering")
	d[0] = 99
	assert.Equal(t, []float64{1.5}, r.Durations("clustering"), "Durations must return a copy")
}

func TestJobMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewJobMetrics(registry)
	require.NoError(t, err)

	m.RecordOperation("segmentation", StatusCompleted)
	m.RecordOperation("segmentation", StatusFailed)
	m.RecordError("segmentation", "InvalidAudio")
	m.JobStarted("classification")
	m.SetQueueDepth(3)

	assert.InDelta(t, 1, testutil.ToFloat64(m.jobsTotal.WithLabelValues("segmentation", StatusCompleted)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.jobsRunning.WithLabelValues("classification")), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(m.queueDepth), 0)

	m.JobFinished("classification")
	assert.InDelta(t, 0, testutil.ToFloat64(m.jobsRunning.WithLabelValues("classification")), 0)

	expected := `
# HELP job_errors_total Total number of job failures by error kind
# TYPE job_errors_total counter
job_errors_total{error_kind="InvalidAudio",kind="segmentation"} 1
`
	require.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected), "job_errors_total"))
}

func TestRegisterTwiceFails(t *testing.T) {
	registry := prometheus.NewRegistry()
	_, err := NewRServerMetrics(registry)
	require.NoError(t, err)
	_, err = NewRServerMetrics(registry)
	assert.Error(t, err)
}

func TestRServerMetrics_SetUp(t *testing.T) {
	m, err := NewRServerMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.SetUp(true)
	assert.InDelta(t, 1, testutil.ToFloat64(m.up), 0)
	m.SetUp(false)
	assert.InDelta(t, 0, testutil.ToFloat64(m.up), 0)
}
