package logger_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/battycoda/battycoda/internal/logger"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var records []map[string]any
	scanner := bufio.NewScanner(buf)
	for scanner.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		records = append(records, rec)
	}
	return records
}

func TestSlogLoggerLevelFiltering(t *testing.T) {
	tests := []struct {
		level logger.LogLevel
		want  int
	}{
		{logger.LogLevelTrace, 5},
		{logger.LogLevelDebug, 4},
		{logger.LogLevelInfo, 3},
		{logger.LogLevelWarn, 2},
		{logger.LogLevelError, 1},
	}
	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			var buf bytes.Buffer
			log := logger.NewSlogLogger(&buf, tt.level, time.UTC)
			log.Trace("t")
			log.Debug("d")
			log.Info("i")
			log.Warn("w")
			log.Error("e")
			assert.Len(t, decodeLines(t, &buf), tt.want)
		})
	}
}

func TestFieldsAndModules(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewSlogLogger(&buf, logger.LogLevelInfo, time.UTC).
		Module("jobs").
		Module("runner").
		With(logger.String("kind", "segmentation"))

	log.Info("job completed",
		logger.Uint64("job_id", 42),
		logger.Float64("progress", 33.33333),
		logger.Duration("elapsed", 1500*time.Millisecond),
		logger.Error(nil))

	records := decodeLines(t, &buf)
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, "jobs.runner", rec["module"])
	assert.Equal(t, "segmentation", rec["kind"])
	assert.InDelta(t, 42, rec["job_id"], 0)
	assert.InDelta(t, 33.333, rec["progress"], 1e-9)
	assert.Equal(t, "1.5s", rec["elapsed"])
}

func TestWithContextAddsTraceID(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewSlogLogger(&buf, logger.LogLevelInfo, time.UTC)

	ctx := logger.WithTraceID(context.Background(), "segmentation-7")
	log.WithContext(ctx).Info("started")
	log.WithContext(context.Background()).Info("no trace")

	records := decodeLines(t, &buf)
	require.Len(t, records, 2)
	assert.Equal(t, "segmentation-7", records[0]["trace_id"])
	assert.NotContains(t, records[1], "trace_id")
}

func TestCentralLoggerFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "battycoda.log")
	cl, err := logger.NewCentralLogger(&logger.LoggingConfig{
		DefaultLevel: "debug",
		Timezone:     "UTC",
		Console:      &logger.ConsoleOutput{Enabled: false},
		FileOutput:   &logger.FileOutput{Enabled: true, Path: path, Level: "debug"},
		ModuleLevels: map[string]string{"clustering": "error"},
	})
	require.NoError(t, err)

	cl.Module("segmentation").Debug("detected", logger.Int("segments", 12))
	cl.Module("clustering").Warn("suppressed")
	require.NoError(t, cl.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	records := decodeLines(t, bytes.NewBuffer(data))
	require.Len(t, records, 1)
	assert.Equal(t, "segmentation", records[0]["module"])
	assert.InDelta(t, 12, records[0]["segments"], 0)
}

func TestCentralLoggerRejectsBadTimezone(t *testing.T) {
	_, err := logger.NewCentralLogger(&logger.LoggingConfig{Timezone: "Mars/Olympus"})
	require.Error(t, err)

	_, err = logger.NewCentralLogger(nil)
	require.Error(t, err)
}

func TestGormAdapterTrace(t *testing.T) {
	var buf bytes.Buffer
	adapter := logger.NewGormLoggerAdapter(logger.NewSlogLogger(&buf, logger.LogLevelInfo, time.UTC), 10*time.Millisecond)

	// Fast query at TRACE is filtered at info level.
	adapter.Trace(context.Background(), time.Now(), func() (string, int64) { return "SELECT 1", 1 }, nil)
	adapter.Trace(context.Background(), time.Now().Add(-time.Second), func() (string, int64) { return "SELECT 2", 1 }, nil)

	records := decodeLines(t, &buf)
	require.Len(t, records, 1)
	assert.Equal(t, "slow query", records[0]["msg"])
	assert.Equal(t, "SELECT 2", records[0]["sql"])
}
