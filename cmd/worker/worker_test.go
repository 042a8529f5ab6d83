package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/battycoda/battycoda/internal/app"
	"github.com/battycoda/battycoda/internal/conf"
	"github.com/battycoda/battycoda/internal/datastore"
	"github.com/battycoda/battycoda/internal/datastore/entities"
	"github.com/battycoda/battycoda/internal/datastore/testutil"
	"github.com/battycoda/battycoda/internal/segmentation"
	"github.com/battycoda/battycoda/internal/spectrogram"
)

const testRate = 22050

func TestRun_ExecutesPendingJobs(t *testing.T) {
	settings := &conf.Settings{
		Main: conf.MainSettings{Name: "test", MediaRoot: t.TempDir()},
		Segmentation: conf.SegmentationSettings{
			Defaults: conf.SegmentationDefaults{MinDurationMs: 10, SmoothWindow: 3, ThresholdFactor: 0.5},
		},
		Jobs: conf.JobSettings{Workers: 2, PollInterval: 10 * time.Millisecond, ShutdownTimeout: 5 * time.Second},
	}
	store := testutil.NewStore(t)
	a, err := app.New(t.Context(), settings, app.WithStore(store))
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, a.Close()) })

	fx := testutil.SeedFixture(t, store, testutil.Seed{SampleRate: testRate, Duration: 2})
	testutil.WriteBurstWAV(t, a.Media, fx.Recording.AudioPath, testRate, 2, []testutil.Burst{
		{Interval: datastore.Interval{Onset: 0.5, Offset: 0.8}, Freq: 3000},
		{Interval: datastore.Interval{Onset: 1.2, Offset: 1.4}, Freq: 4000},
	})

	seg, err := a.Segmentation.CreateJob(t.Context(), segmentation.CreateJobRequest{
		RecordingID:   fx.Recording.ID,
		AlgorithmName: "threshold",
		UserID:        7,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- run(ctx, a) }()

	require.Eventually(t, func() bool {
		rec, err := store.JobState(t.Context(), datastore.KindSegmentation, seg.ID)
		return err == nil && rec.Status == entities.StatusCompleted
	}, 10*time.Second, 20*time.Millisecond, "pending segmentation was never executed")

	// Jobs created while the worker runs are picked up too.
	job, err := a.Spectrograms.CreateJob(t.Context(), spectrogram.CreateJobRequest{
		RecordingID: fx.Recording.ID,
		UserID:      7,
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		rec, err := store.JobState(t.Context(), datastore.KindSpectrogram, job.ID)
		return err == nil && rec.Status.IsTerminal()
	}, 10*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("worker did not stop")
	}

	segments, err := store.ListSegments(t.Context(), seg.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, segments)
}
