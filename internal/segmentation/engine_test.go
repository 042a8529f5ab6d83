package segmentation

import (
	"bytes"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gorm.io/datatypes"

	"github.com/battycoda/battycoda/internal/conf"
	"github.com/battycoda/battycoda/internal/datastore"
	"github.com/battycoda/battycoda/internal/datastore/entities"
	"github.com/battycoda/battycoda/internal/datastore/testutil"
	"github.com/battycoda/battycoda/internal/errors"
	"github.com/battycoda/battycoda/internal/httpclient"
	"github.com/battycoda/battycoda/internal/jobs"
	"github.com/battycoda/battycoda/internal/pickle"
	"github.com/battycoda/battycoda/internal/securefs"
)

const testRate = 22050

var testBursts = []testutil.Burst{
	{Interval: datastore.Interval{Onset: 1.0, Offset: 1.2}, Freq: 2000},
	{Interval: datastore.Interval{Onset: 3.0, Offset: 3.5}, Freq: 3000},
	{Interval: datastore.Interval{Onset: 7.0, Offset: 7.05}, Freq: 4000},
}

type env struct {
	store     datastore.Store
	media     *securefs.SecureFS
	fx        *testutil.Fixture
	engine    *Engine
	runner    *jobs.Runner
	transport *httpmock.MockTransport
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := testutil.NewStore(t)
	media, err := securefs.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = media.Close() })

	fx := testutil.SeedFixture(t, store, testutil.Seed{SampleRate: testRate, Duration: 10})
	testutil.WriteBurstWAV(t, media, fx.Recording.AudioPath, testRate, 10, testBursts)

	transport := httpmock.NewMockTransport()
	client := httpclient.New(&httpclient.Config{Transport: transport})
	settings := &conf.SegmentationSettings{
		Defaults: conf.SegmentationDefaults{MinDurationMs: 10, SmoothWindow: 3, ThresholdFactor: 0.5},
	}
	return &env{
		store:     store,
		media:     media,
		fx:        fx,
		engine:    NewEngine(store, media, client, settings),
		runner:    jobs.NewRunner(store, nil, nil, jobs.Config{}),
		transport: transport,
	}
}

func (e *env) algorithm(t *testing.T, alg *entities.SegmentationAlgorithm) uint {
	t.Helper()
	require.NoError(t, e.store.CreateAlgorithm(t.Context(), alg))
	return alg.ID
}

func (e *env) pending(t *testing.T, algorithmID uint, params string) uint {
	t.Helper()
	seg := &entities.Segmentation{
		Name:        "auto",
		RecordingID: e.fx.Recording.ID,
		AlgorithmID: &algorithmID,
		CreatedBy:   7,
	}
	if params != "" {
		seg.Params = datatypes.JSON(params)
	}
	require.NoError(t, e.store.CreateSegmentation(t.Context(), seg))
	return seg.ID
}

func (e *env) state(t *testing.T, id uint) *datastore.JobRecord {
	t.Helper()
	rec, err := e.store.JobState(t.Context(), datastore.KindSegmentation, id)
	require.NoError(t, err)
	return rec
}

func TestThresholdSegmentation_EndToEnd(t *testing.T) {
	e := newEnv(t)
	algID := e.algorithm(t, &entities.SegmentationAlgorithm{Name: "threshold", Type: entities.AlgorithmThreshold})
	id := e.pending(t, algID, `{"smooth_window": 221}`)

	require.NoError(t, e.runner.Execute(t.Context(), e.engine.Job(id)))

	rec := e.state(t, id)
	assert.Equal(t, entities.StatusCompleted, rec.Status)
	assert.InDelta(t, 100.0, rec.Progress, 0)

	segs, err := e.store.ListSegments(t.Context(), id)
	require.NoError(t, err)
	require.NotEmpty(t, segs)
	for _, s := range segs {
		assert.GreaterOrEqual(t, s.Onset, 0.0)
		assert.Greater(t, s.Offset, s.Onset)
		assert.LessOrEqual(t, s.Offset, 10.0)
		assert.GreaterOrEqual(t, s.Duration(), 0.010-1e-9)
	}
}

func TestThresholdSegmentation_FindsBursts(t *testing.T) {
	e := newEnv(t)
	algID := e.algorithm(t, &entities.SegmentationAlgorithm{
		Name:          "smoothed",
		Type:          entities.AlgorithmThreshold,
		DefaultParams: datatypes.JSON(`{"smooth_window": 441}`),
	})
	id := e.pending(t, algID, `{"min_duration_ms": 20}`)

	require.NoError(t, e.runner.Execute(t.Context(), e.engine.Job(id)))

	segs, err := e.store.ListSegments(t.Context(), id)
	require.NoError(t, err)
	require.Len(t, segs, len(testBursts))
	for i, b := range testBursts {
		assert.InDelta(t, b.Onset, segs[i].Onset, 0.02)
		assert.InDelta(t, b.Offset, segs[i].Offset, 0.02)
	}
}

func TestEnergySegmentation(t *testing.T) {
	e := newEnv(t)
	algID := e.algorithm(t, &entities.SegmentationAlgorithm{Name: "energy", Type: entities.AlgorithmEnergy})
	id := e.pending(t, algID, `{"frame_ms": 5, "smooth_window": 1, "min_duration_ms": 20}`)

	require.NoError(t, e.runner.Execute(t.Context(), e.engine.Job(id)))

	segs, err := e.store.ListSegments(t.Context(), id)
	require.NoError(t, err)
	require.Len(t, segs, len(testBursts))
	assert.InDelta(t, 3.0, segs[1].Onset, 0.01)
	assert.InDelta(t, 3.5, segs[1].Offset, 0.01)
}

func TestSegmentation_InvalidParamsFailJob(t *testing.T) {
	e := newEnv(t)
	algID := e.algorithm(t, &entities.SegmentationAlgorithm{Name: "threshold", Type: entities.AlgorithmThreshold})
	id := e.pending(t, algID, `{"smooth_window": 0}`)

	err := e.runner.Execute(t.Context(), e.engine.Job(id))
	require.ErrorIs(t, err, errors.ErrValidation)

	rec := e.state(t, id)
	assert.Equal(t, entities.StatusFailed, rec.Status)
	assert.Contains(t, rec.ErrorMessage, "smooth_window")
}

func TestSegmentation_MissingAudioFailsWithoutSegments(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.media.Remove(e.fx.Recording.AudioPath))
	algID := e.algorithm(t, &entities.SegmentationAlgorithm{Name: "threshold", Type: entities.AlgorithmThreshold})
	id := e.pending(t, algID, "")

	err := e.runner.Execute(t.Context(), e.engine.Job(id))
	require.ErrorIs(t, err, errors.ErrInvalidAudio)

	rec := e.state(t, id)
	assert.Equal(t, entities.StatusFailed, rec.Status)
	assert.Contains(t, rec.ErrorMessage, "recordings/test.wav")
	segs, err := e.store.ListSegments(t.Context(), id)
	require.NoError(t, err)
	assert.Empty(t, segs)
}

func TestExternalSegmentation(t *testing.T) {
	e := newEnv(t)
	algID := e.algorithm(t, &entities.SegmentationAlgorithm{
		Name:       "remote",
		Type:       entities.AlgorithmExternal,
		ServiceURL: "http://seg.test/",
		Endpoint:   "/segment",
	})

	e.transport.RegisterResponder(http.MethodPost, "http://seg.test/segment", func(req *http.Request) (*http.Response, error) {
		var body externalRequest
		require.NoError(t, decodeJSON(req, &body))
		assert.Equal(t, e.fx.Recording.ID, body.RecordingID)
		assert.InDelta(t, 0.5, body.Params.ThresholdFactor, 0)
		return httpmock.NewJsonResponse(http.StatusOK, map[string]any{
			"onsets":  []float64{0.5, 4.0},
			"offsets": []float64{1.0, 10.0},
		})
	})

	id := e.pending(t, algID, "")
	require.NoError(t, e.runner.Execute(t.Context(), e.engine.Job(id)))

	segs, err := e.store.ListSegments(t.Context(), id)
	require.NoError(t, err)
	require.Len(t, segs, 2)
	assert.InDelta(t, 10.0, segs[1].Offset, 0, "offset may equal the recording duration")
}

func TestExternalSegmentation_Unavailable(t *testing.T) {
	e := newEnv(t)
	algID := e.algorithm(t, &entities.SegmentationAlgorithm{
		Name: "remote", Type: entities.AlgorithmExternal, ServiceURL: "http://seg.test", Endpoint: "segment",
	})
	e.transport.RegisterResponder(http.MethodPost, "http://seg.test/segment",
		httpmock.NewStringResponder(http.StatusServiceUnavailable, "overloaded"))

	id := e.pending(t, algID, "")
	err := e.runner.Execute(t.Context(), e.engine.Job(id))
	require.ErrorIs(t, err, errors.ErrAlgorithmUnavailable)
	assert.Equal(t, errors.KindAlgorithmUnavailable, errors.KindOf(err))
	assert.Contains(t, e.state(t, id).ErrorMessage, "overloaded")
}

func TestMLSegmentationIsUnavailable(t *testing.T) {
	e := newEnv(t)
	algID := e.algorithm(t, &entities.SegmentationAlgorithm{Name: "ml", Type: entities.AlgorithmML, TaskIdentifier: "ml.detect"})
	id := e.pending(t, algID, "")

	err := e.runner.Execute(t.Context(), e.engine.Job(id))
	require.ErrorIs(t, err, errors.ErrAlgorithmUnavailable)
	assert.Equal(t, entities.StatusFailed, e.state(t, id).Status)
}

func TestIngest(t *testing.T) {
	dump := func(t *testing.T) *bytes.Buffer {
		t.Helper()
		var buf bytes.Buffer
		require.NoError(t, pickle.Dump(&buf, []datastore.Interval{{Onset: 0, Offset: 0.5}, {Onset: 1.0, Offset: 2.0}}))
		return &buf
	}

	t.Run("within max duration", func(t *testing.T) {
		e := newEnv(t)
		seg, err := e.engine.Ingest(t.Context(), IngestRequest{RecordingID: e.fx.Recording.ID, UserID: 7, MaxDuration: 2.0}, dump(t))
		require.NoError(t, err)
		assert.Equal(t, entities.StatusCompleted, seg.Status)
		assert.InDelta(t, 100.0, seg.Progress, 0)

		segs, err := e.store.ListSegments(t.Context(), seg.ID)
		require.NoError(t, err)
		require.Len(t, segs, 2)
		assert.InDelta(t, 1.0, segs[1].Onset, 1e-9)
		assert.InDelta(t, 2.0, segs[1].Offset, 1e-9)
	})

	t.Run("beyond max duration", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.engine.Ingest(t.Context(), IngestRequest{RecordingID: e.fx.Recording.ID, UserID: 7, MaxDuration: 1.5}, dump(t))
		require.ErrorIs(t, err, errors.ErrInvalidSegmentData)
		assert.Equal(t, errors.KindInvalidSegmentData, errors.KindOf(err))
	})
}

func TestPreview(t *testing.T) {
	e := newEnv(t)
	algID := e.algorithm(t, &entities.SegmentationAlgorithm{Name: "threshold", Type: entities.AlgorithmThreshold})
	pv := NewPreviews(e.engine, e.runner, &conf.SegmentationSettings{PreviewMaxSeconds: 120, PreviewTTL: time.Hour})
	t.Cleanup(pv.Close)

	res, err := pv.Create(t.Context(), PreviewRequest{
		RecordingID: e.fx.Recording.ID,
		Start:       2.5,
		Duration:    300,
		AlgorithmID: algID,
		Params:      datatypes.JSON(`{"smooth_window": 441, "min_duration_ms": 20}`),
		UserID:      7,
	})
	require.NoError(t, err)
	assert.InDelta(t, 7.5, res.Duration, 1e-3, "clamped to the end of the recording")
	assert.Equal(t, 1, pv.Active())

	hidden, err := e.store.GetRecording(t.Context(), res.RecordingID)
	require.NoError(t, err)
	assert.True(t, hidden.Hidden)
	visible, err := e.store.ListRecordings(t.Context(), e.fx.Recording.GroupID)
	require.NoError(t, err)
	assert.Len(t, visible, 1)

	segs, err := e.store.ListSegments(t.Context(), res.SegmentationID)
	require.NoError(t, err)
	require.Len(t, segs, 2, "bursts at 3.0s and 7.0s fall into the slice")
	assert.InDelta(t, 0.5, segs[0].Onset, 0.02)

	pv.Release(res.RecordingID)
	assert.Zero(t, pv.Active())
	_, err = e.store.GetRecording(t.Context(), res.RecordingID)
	require.ErrorIs(t, err, datastore.ErrNotFound)
	exists, err := e.media.Exists(hidden.AudioPath)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestPreview_ExpiresAndCloseStopsSweeper(t *testing.T) {
	e := newEnv(t)
	algID := e.algorithm(t, &entities.SegmentationAlgorithm{Name: "threshold", Type: entities.AlgorithmThreshold})
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	pv := NewPreviews(e.engine, e.runner, &conf.SegmentationSettings{PreviewTTL: 200 * time.Millisecond})
	res, err := pv.Create(t.Context(), PreviewRequest{
		RecordingID: e.fx.Recording.ID,
		Start:       2.5,
		Duration:    2,
		AlgorithmID: algID,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return pv.Active() == 0 }, 3*time.Second, 10*time.Millisecond)
	_, err = e.store.GetRecording(t.Context(), res.RecordingID)
	require.ErrorIs(t, err, datastore.ErrNotFound)

	pv.Close()
	pv.Close()
}

func TestPreview_RejectsStartOutsideRecording(t *testing.T) {
	e := newEnv(t)
	pv := NewPreviews(e.engine, e.runner, &conf.SegmentationSettings{})
	t.Cleanup(pv.Close)

	_, err := pv.Create(t.Context(), PreviewRequest{RecordingID: e.fx.Recording.ID, Start: 10})
	require.ErrorIs(t, err, errors.ErrValidation)
	assert.Equal(t, DefaultPreviewMaxSeconds, int(pv.maxSeconds))
}
