package spectrogram

import (
	"bytes"
	"fmt"
	"image/png"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/battycoda/battycoda/internal/audio"
	"github.com/battycoda/battycoda/internal/conf"
	"github.com/battycoda/battycoda/internal/datastore"
	"github.com/battycoda/battycoda/internal/datastore/entities"
	"github.com/battycoda/battycoda/internal/datastore/testutil"
	"github.com/battycoda/battycoda/internal/errors"
	"github.com/battycoda/battycoda/internal/jobs"
	"github.com/battycoda/battycoda/internal/securefs"
)

const testRate = 22050

func newMedia(t *testing.T) *securefs.SecureFS {
	t.Helper()
	media, err := securefs.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = media.Close() })
	return media
}

func TestRender_ProducesPNG(t *testing.T) {
	g := NewGenerator(nil, &conf.SpectrogramSettings{Width: 400, Height: 200})
	samples := make([]float64, testRate/2)
	for i := range samples {
		samples[i] = 0.5 * math.Sin(2*math.Pi*3000*float64(i)/testRate)
	}

	data, err := g.Render(audio.Clip{Samples: samples, SampleRate: testRate})
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Positive(t, img.Bounds().Dx())
	assert.Positive(t, img.Bounds().Dy())
}

func TestRender_RejectsEmptyClip(t *testing.T) {
	g := NewGenerator(nil, nil)
	_, err := g.Render(audio.Clip{SampleRate: testRate})
	require.Error(t, err)
	assert.Equal(t, errors.KindValidationFailure, errors.KindOf(err))
}

func TestGenerate_CachesOutput(t *testing.T) {
	media := newMedia(t)
	testutil.WriteBurstWAV(t, media, "recordings/a.wav", testRate, 2,
		[]testutil.Burst{{Interval: datastore.Interval{Onset: 0.5, Offset: 1.0}, Freq: 4000}})
	g := NewGenerator(media, nil)

	cached, err := g.Generate(t.Context(), "recordings/a.wav", "spectrograms/1_0_2000.png", 0, 2)
	require.NoError(t, err)
	assert.False(t, cached)

	info, err := media.Stat("spectrograms/1_0_2000.png")
	require.NoError(t, err)
	first := info.ModTime()

	cached, err = g.Generate(t.Context(), "recordings/a.wav", "spectrograms/1_0_2000.png", 0, 2)
	require.NoError(t, err)
	assert.True(t, cached)
	info, err = media.Stat("spectrograms/1_0_2000.png")
	require.NoError(t, err)
	assert.Equal(t, first, info.ModTime())
}

func TestGenerate_ConcurrentCallsWriteOnce(t *testing.T) {
	media := newMedia(t)
	testutil.WriteBurstWAV(t, media, "recordings/a.wav", testRate, 1, nil)
	g := NewGenerator(media, nil)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Go(func() {
			_, errs[i] = g.Generate(t.Context(), "recordings/a.wav", "spectrograms/x.png", 0, 1)
		})
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	ok, err := media.Exists("spectrograms/x.png")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGenerate_MissingAudio(t *testing.T) {
	g := NewGenerator(newMedia(t), nil)
	_, err := g.Generate(t.Context(), "recordings/none.wav", "spectrograms/none.png", 0, 1)
	require.ErrorIs(t, err, errors.ErrInvalidAudio)
}

func TestSpectrogramJob(t *testing.T) {
	store := testutil.NewStore(t)
	media := newMedia(t)
	fx := testutil.SeedFixture(t, store, testutil.Seed{SampleRate: testRate, Duration: 3})
	testutil.WriteBurstWAV(t, media, fx.Recording.AudioPath, testRate, 3,
		[]testutil.Burst{{Interval: datastore.Interval{Onset: 1, Offset: 1.5}, Freq: 5000}})

	svc := NewService(store, NewGenerator(media, nil))
	runner := jobs.NewRunner(store, nil, nil, jobs.Config{})

	t.Run("range", func(t *testing.T) {
		onset, offset := 0.75, 1.75
		job, err := svc.CreateJob(t.Context(), CreateJobRequest{RecordingID: fx.Recording.ID, Onset: &onset, Offset: &offset})
		require.NoError(t, err)
		require.NoError(t, runner.Execute(t.Context(), svc.Job(job.ID)))

		got, err := store.GetSpectrogramJob(t.Context(), job.ID)
		require.NoError(t, err)
		assert.Equal(t, entities.StatusCompleted, got.Status)
		want, err := BuildOutputPath(fx.Recording.ID, onset, offset)
		require.NoError(t, err)
		assert.Equal(t, want, got.OutputPath)

		ok, err := media.Exists(got.OutputPath)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("whole recording", func(t *testing.T) {
		job, err := svc.CreateJob(t.Context(), CreateJobRequest{RecordingID: fx.Recording.ID})
		require.NoError(t, err)
		require.NoError(t, runner.Execute(t.Context(), svc.Job(job.ID)))

		got, err := store.GetSpectrogramJob(t.Context(), job.ID)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("spectrograms/%d_0_3000.png", fx.Recording.ID), got.OutputPath)
	})

	t.Run("range past the end", func(t *testing.T) {
		onset, offset := 2.0, 4.0
		_, err := svc.CreateJob(t.Context(), CreateJobRequest{RecordingID: fx.Recording.ID, Onset: &onset, Offset: &offset})
		require.ErrorIs(t, err, errors.ErrValidation)
	})
}
