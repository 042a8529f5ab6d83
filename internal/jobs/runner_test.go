package jobs

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/battycoda/battycoda/internal/datastore"
	"github.com/battycoda/battycoda/internal/datastore/entities"
	"github.com/battycoda/battycoda/internal/errors"
	"github.com/battycoda/battycoda/internal/logger"
	"github.com/battycoda/battycoda/internal/notification"
	"github.com/battycoda/battycoda/internal/observability/metrics"
)

type recordingSink struct {
	mu   sync.Mutex
	sent []*entities.Notification
}

func (s *recordingSink) Deliver(_ context.Context, n *entities.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, n)
	return nil
}

func (s *recordingSink) all() []*entities.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*entities.Notification(nil), s.sent...)
}

type testMetrics struct {
	*metrics.MemoryRecorder
	started, finished, panics atomic.Int32
}

func newTestMetrics() *testMetrics {
	return &testMetrics{MemoryRecorder: metrics.NewMemoryRecorder()}
}

func (m *testMetrics) JobStarted(string)  { m.started.Add(1) }
func (m *testMetrics) JobFinished(string) { m.finished.Add(1) }
func (m *testMetrics) SetQueueDepth(int)  {}
func (m *testMetrics) PanicRecovered()    { m.panics.Add(1) }

func TestExecute_Completes(t *testing.T) {
	e := newEnv(t)
	sink := &recordingSink{}
	m := newTestMetrics()
	r := NewRunner(e.store, sink, m, Config{})
	id := e.pendingSegmentation(t)

	var seenStatus entities.JobStatus
	job := &funcJob{kind: datastore.KindSegmentation, id: id, run: func(ctx context.Context, p *Progress) (Outcome, error) {
		seenStatus = e.status(t, datastore.KindSegmentation, id).Status
		require.NoError(t, p.Report(ctx, 50, "mid-scan"))
		return Outcome{}, nil
	}}

	require.NoError(t, r.Execute(t.Context(), job))

	rec := e.status(t, datastore.KindSegmentation, id)
	assert.Equal(t, entities.StatusInProgress, seenStatus)
	assert.Equal(t, entities.StatusCompleted, rec.Status)
	assert.InDelta(t, 100.0, rec.Progress, 0)
	assert.Empty(t, rec.ErrorMessage)

	sent := sink.all()
	require.Len(t, sent, 1)
	assert.Equal(t, notification.TypeJobCompleted, sent[0].Type)
	assert.Equal(t, uint(7), sent[0].UserID)
	assert.Equal(t, notification.Link(datastore.KindSegmentation, id), sent[0].Link)

	assert.Equal(t, 1, m.OperationCount("segmentation", metrics.StatusCompleted))
	assert.Equal(t, int32(1), m.started.Load())
	assert.Equal(t, int32(1), m.finished.Load())
}

func TestExecute_CarriesTraceID(t *testing.T) {
	e := newEnv(t)
	r := NewRunner(e.store, nil, nil, Config{})
	id := e.pendingSegmentation(t)

	var traceID any
	job := &funcJob{kind: datastore.KindSegmentation, id: id, run: func(ctx context.Context, _ *Progress) (Outcome, error) {
		traceID = ctx.Value(logger.TraceIDKey)
		return Outcome{}, nil
	}}
	require.NoError(t, r.Execute(t.Context(), job))
	assert.Equal(t, TraceID(datastore.KindSegmentation, id), traceID)
	assert.Equal(t, "clustering-12", TraceID(datastore.KindClustering, 12))
}

func TestExecute_FailureKeepsProgressAndSetsMessage(t *testing.T) {
	e := newEnv(t)
	sink := &recordingSink{}
	m := newTestMetrics()
	r := NewRunner(e.store, sink, m, Config{})
	id := e.pendingSegmentation(t)

	cause := errors.New(stderrors.New("recordings/test.wav: no data chunk")).
		Category(errors.CategoryInvalidAudio).
		Build()
	job := &funcJob{kind: datastore.KindSegmentation, id: id, run: func(ctx context.Context, p *Progress) (Outcome, error) {
		require.NoError(t, p.Report(ctx, 30, ""))
		return Outcome{}, cause
	}}

	err := r.Execute(t.Context(), job)
	require.ErrorIs(t, err, cause)

	rec := e.status(t, datastore.KindSegmentation, id)
	assert.Equal(t, entities.StatusFailed, rec.Status)
	assert.InDelta(t, 30.0, rec.Progress, 0, "failed jobs keep their last progress")
	assert.Equal(t, "recordings/test.wav: no data chunk", rec.ErrorMessage)

	sent := sink.all()
	require.Len(t, sent, 1)
	assert.Equal(t, notification.TypeJobFailed, sent[0].Type)
	assert.Equal(t, 1, m.ErrorCount("segmentation", string(errors.KindInvalidAudio)))
}

func TestExecute_PanicBecomesFailure(t *testing.T) {
	e := newEnv(t)
	m := newTestMetrics()
	r := NewRunner(e.store, nil, m, Config{})
	id := e.pendingSegmentation(t)

	job := &funcJob{kind: datastore.KindSegmentation, id: id, run: func(context.Context, *Progress) (Outcome, error) {
		var segments []float64
		_ = segments[3]
		return Outcome{}, nil
	}}

	err := r.Execute(t.Context(), job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")

	rec := e.status(t, datastore.KindSegmentation, id)
	assert.Equal(t, entities.StatusFailed, rec.Status)
	assert.Equal(t, int32(1), m.panics.Load())
}

func TestExecute_NotPending(t *testing.T) {
	e := newEnv(t)
	r := NewRunner(e.store, nil, nil, Config{})

	// The fixture segmentation is already completed.
	ran := false
	job := &funcJob{kind: datastore.KindSegmentation, id: e.fx.Segmentation.ID, run: func(context.Context, *Progress) (Outcome, error) {
		ran = true
		return Outcome{}, nil
	}}

	err := r.Execute(t.Context(), job)
	require.ErrorIs(t, err, ErrNotPending)
	assert.False(t, ran)
}

func TestCancel_RunningJobStopsAtNextReport(t *testing.T) {
	e := newEnv(t)
	sink := &recordingSink{}
	r := NewRunner(e.store, sink, nil, Config{})
	id := e.pendingSegmentation(t)

	started := make(chan struct{})
	proceed := make(chan struct{})
	job := &funcJob{kind: datastore.KindSegmentation, id: id, run: func(ctx context.Context, p *Progress) (Outcome, error) {
		if err := p.Report(ctx, 40, ""); err != nil {
			return Outcome{}, err
		}
		close(started)
		<-proceed
		return Outcome{}, p.Report(ctx, 80, "")
	}}

	done := make(chan error, 1)
	go func() { done <- r.Execute(context.Background(), job) }()

	waitForChannel(t, started, "job did not start")
	ok, err := r.Cancel(t.Context(), datastore.KindSegmentation, id)
	require.NoError(t, err)
	assert.True(t, ok)
	close(proceed)

	require.NoError(t, <-done)

	rec := e.status(t, datastore.KindSegmentation, id)
	assert.Equal(t, entities.StatusCancelled, rec.Status)
	assert.InDelta(t, 40.0, rec.Progress, 0, "cancelled jobs keep their progress")

	sent := sink.all()
	require.Len(t, sent, 1, "only the cancel transition notifies")
	assert.Equal(t, notification.TypeJobCancelled, sent[0].Type)
}

func TestCancel_TerminalJobIsNoOp(t *testing.T) {
	e := newEnv(t)
	sink := &recordingSink{}
	r := NewRunner(e.store, sink, nil, Config{})

	ok, err := r.Cancel(t.Context(), datastore.KindSegmentation, e.fx.Segmentation.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, entities.StatusCompleted, e.status(t, datastore.KindSegmentation, e.fx.Segmentation.ID).Status)
	assert.Empty(t, sink.all())

	_, err = r.Cancel(t.Context(), datastore.KindSegmentation, 9999)
	require.ErrorIs(t, err, datastore.ErrNotFound)
}

func TestStatus_ReportsProducedEntity(t *testing.T) {
	e := newEnv(t)
	r := NewRunner(e.store, nil, nil, Config{})

	folder := "bats"
	tj := &entities.TrainingJob{DataFolder: folder, AlgorithmType: "knn", ResponseFormat: entities.ResponseFullProbability, CreatedBy: 7}
	require.NoError(t, e.store.CreateTrainingJob(t.Context(), tj))

	job := &funcJob{kind: datastore.KindTraining, id: tj.ID, run: func(ctx context.Context, _ *Progress) (Outcome, error) {
		acc := 0.9
		c := &entities.Classifier{Name: "knn", ResponseFormat: entities.ResponseFullProbability}
		return Outcome{}, e.store.CompleteTraining(ctx, tj.ID, c, &acc, []string{"a", "b"})
	}}
	require.NoError(t, r.Execute(t.Context(), job))

	st, err := r.Status(t.Context(), datastore.KindTraining, tj.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.StatusCompleted, st.Status)
	assert.InDelta(t, 100.0, st.Progress, 0)
	require.NotNil(t, st.ProducedID)
}

func TestRunner_SubmitRunsConcurrently(t *testing.T) {
	e := newEnv(t)
	r := NewRunner(e.store, nil, nil, Config{Workers: 2, QueueSize: 4})
	r.Start(t.Context())

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	release := make(chan struct{})
	ids := make([]uint, 3)
	for i := range ids {
		ids[i] = e.pendingSegmentation(t)
		wg.Add(1)
		require.NoError(t, r.Submit(&funcJob{kind: datastore.KindSegmentation, id: ids[i], run: func(context.Context, *Progress) (Outcome, error) {
			defer wg.Done()
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-release
			running.Add(-1)
			return Outcome{}, nil
		}}))
	}

	require.Eventually(t, func() bool { return running.Load() == 2 }, defaultTestTimeout, 10*time.Millisecond)
	close(release)
	wg.Wait()

	require.NoError(t, r.StopWithTimeout(defaultTestTimeout))
	assert.LessOrEqual(t, peak.Load(), int32(2), "worker pool bound exceeded")
	for _, id := range ids {
		assert.Equal(t, entities.StatusCompleted, e.status(t, datastore.KindSegmentation, id).Status)
	}
}

func TestRunner_SubmitErrors(t *testing.T) {
	e := newEnv(t)
	r := NewRunner(e.store, nil, nil, Config{Workers: 1, QueueSize: 1})

	noop := func(context.Context, *Progress) (Outcome, error) { return Outcome{}, nil }
	require.NoError(t, r.Submit(&funcJob{kind: datastore.KindSegmentation, id: 1, run: noop}))
	assert.ErrorIs(t, r.Submit(&funcJob{kind: datastore.KindSegmentation, id: 2, run: noop}), ErrQueueFull)

	require.NoError(t, r.StopWithTimeout(time.Second))
	assert.ErrorIs(t, r.Submit(&funcJob{kind: datastore.KindSegmentation, id: 3, run: noop}), ErrQueueStopped)
}

func TestRunner_StopTimeoutCancelsJobs(t *testing.T) {
	e := newEnv(t)
	r := NewRunner(e.store, nil, nil, Config{Workers: 1})
	r.Start(context.Background())
	id := e.pendingSegmentation(t)

	started := make(chan struct{})
	require.NoError(t, r.Submit(&funcJob{kind: datastore.KindSegmentation, id: id, run: func(ctx context.Context, _ *Progress) (Outcome, error) {
		close(started)
		<-ctx.Done()
		return Outcome{}, ctx.Err()
	}}))
	waitForChannel(t, started, "job did not start")

	err := r.StopWithTimeout(50 * time.Millisecond)
	require.Error(t, err)

	rec := e.status(t, datastore.KindSegmentation, id)
	assert.Equal(t, entities.StatusFailed, rec.Status)
	assert.Contains(t, rec.ErrorMessage, "context canceled")
}

func TestProgress_ClampsAndDetectsCancel(t *testing.T) {
	e := newEnv(t)
	id := e.pendingSegmentation(t)
	p := NewProgress(e.store, datastore.KindSegmentation, id)

	require.NoError(t, p.Report(t.Context(), 150, ""))
	assert.InDelta(t, 100.0, e.status(t, datastore.KindSegmentation, id).Progress, 0)
	require.NoError(t, p.Fraction(t.Context(), 1, 4, ""))
	assert.InDelta(t, 25.0, e.status(t, datastore.KindSegmentation, id).Progress, 0)
	require.NoError(t, p.Check(t.Context()))

	r := NewRunner(e.store, nil, nil, Config{})
	ok, err := r.Cancel(t.Context(), datastore.KindSegmentation, id)
	require.NoError(t, err)
	require.True(t, ok)

	assert.ErrorIs(t, p.Report(t.Context(), 60, ""), ErrCancelled)
	assert.ErrorIs(t, p.Check(t.Context()), ErrCancelled)
	assert.Equal(t, errors.KindCancelled, errors.KindOf(p.Check(t.Context())))
}
