package jobs

import (
	"context"
	"maps"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/battycoda/battycoda/internal/datastore"
	"github.com/battycoda/battycoda/internal/datastore/entities"
	"github.com/battycoda/battycoda/internal/errors"
	"github.com/battycoda/battycoda/internal/logger"
	"github.com/battycoda/battycoda/internal/notification"
	"github.com/battycoda/battycoda/internal/observability/metrics"
)

// Store is the persistence the runner needs.
type Store interface {
	datastore.JobStateStore
	GetSpectrogramJob(ctx context.Context, id uint) (*entities.SpectrogramJob, error)
}

// Metrics receives runner events. *metrics.JobMetrics implements it.
type Metrics interface {
	metrics.Recorder
	JobStarted(kind string)
	JobFinished(kind string)
	SetQueueDepth(n int)
	PanicRecovered()
}

type noopMetrics struct{ metrics.NoOpRecorder }

func (noopMetrics) JobStarted(string)  {}
func (noopMetrics) JobFinished(string) {}
func (noopMetrics) SetQueueDepth(int)  {}
func (noopMetrics) PanicRecovered()    {}

// Runner executes jobs on a bounded worker pool.
type Runner struct {
	store   Store
	sink    notification.Sink
	metrics Metrics
	sem     *semaphore.Weighted
	queue   chan Job

	mu           sync.Mutex
	running      bool
	stopped      bool
	stopDispatch context.CancelFunc
	cancelJobs   context.CancelFunc
	done         chan struct{}
}

// NewRunner creates a runner. sink and m may be nil.
func NewRunner(store Store, sink notification.Sink, m Metrics, cfg Config) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if m == nil {
		m = noopMetrics{}
	}
	return &Runner{
		store:   store,
		sink:    sink,
		metrics: m,
		sem:     semaphore.NewWeighted(int64(cfg.Workers)),
		queue:   make(chan Job, cfg.QueueSize),
	}
}

// Start launches the dispatcher. Jobs submitted before Start wait in the
// queue. Cancelling ctx stops dispatching and cancels running jobs.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running || r.stopped {
		return
	}

	jobCtx, cancelJobs := context.WithCancel(ctx)
	dispatchCtx, stopDispatch := context.WithCancel(jobCtx)
	r.cancelJobs = cancelJobs
	r.stopDispatch = stopDispatch
	r.done = make(chan struct{})
	r.running = true

	go r.dispatch(dispatchCtx, jobCtx)
}

func (r *Runner) dispatch(dispatchCtx, jobCtx context.Context) {
	defer close(r.done)

	var g errgroup.Group
	defer func() { _ = g.Wait() }()

	for {
		select {
		case <-dispatchCtx.Done():
			if n := len(r.queue); n > 0 {
				GetLogger().Info("runner stopped with queued jobs; they remain pending", logger.Int("queued", n))
			}
			return
		case job := <-r.queue:
			r.metrics.SetQueueDepth(len(r.queue))
			if err := r.sem.Acquire(dispatchCtx, 1); err != nil {
				GetLogger().Info("runner stopped before job could start; it remains pending",
					logger.String("job_kind", string(job.Kind())),
					logger.Uint64("job_id", uint64(job.ID())))
				return
			}
			g.Go(func() error {
				defer r.sem.Release(1)
				if err := r.Execute(jobCtx, job); err != nil && !errors.Is(err, ErrNotPending) {
					GetLogger().Debug("job returned error", logger.Error(err))
				}
				return nil
			})
		}
	}
}

// Submit queues job for asynchronous execution.
func (r *Runner) Submit(job Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return ErrQueueStopped
	}
	select {
	case r.queue <- job:
		r.metrics.SetQueueDepth(len(r.queue))
		return nil
	default:
		return ErrQueueFull
	}
}

// TraceID is the log trace id of a job, "<kind>-<id>".
func TraceID(kind datastore.JobKind, id uint) string {
	return string(kind) + "-" + strconv.FormatUint(uint64(id), 10)
}

// Execute runs job synchronously in the caller's goroutine. The job must be
// pending; otherwise ErrNotPending is returned and nothing runs. The job's
// own failure is returned after it has been recorded.
func (r *Runner) Execute(ctx context.Context, job Job) error {
	kind, id := job.Kind(), job.ID()
	ctx = logger.WithTraceID(ctx, TraceID(kind, id))
	log := GetLogger().WithContext(ctx).With(
		logger.String("job_kind", string(kind)),
		logger.Uint64("job_id", uint64(id)))

	ok, err := r.store.TransitionJob(ctx, kind, id,
		[]entities.JobStatus{entities.StatusPending}, entities.StatusInProgress,
		map[string]any{"error_message": ""})
	if err != nil {
		return err
	}
	if !ok {
		log.Debug("job is not pending, skipping")
		return errors.New(ErrNotPending).
			Component("jobs").
			Category(errors.CategoryState).
			Context("job_kind", string(kind)).
			Context("job_id", id).
			Build()
	}

	r.metrics.JobStarted(string(kind))
	defer r.metrics.JobFinished(string(kind))

	log.Info("job started")
	start := time.Now()
	outcome, runErr := r.run(ctx, job)
	elapsed := time.Since(start)
	r.metrics.RecordDuration(string(kind), elapsed.Seconds())

	// Terminal bookkeeping must survive a shutdown-cancelled ctx.
	return r.finish(context.WithoutCancel(ctx), kind, id, outcome, runErr, elapsed, log)
}

func (r *Runner) run(ctx context.Context, job Job) (out Outcome, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.metrics.PanicRecovered()
			err = errors.Newf("job execution panicked: %v", rec).
				Component("jobs").
				Category(errors.CategoryProcessing).
				Context("stack", string(debug.Stack())).
				Build()
		}
	}()
	return job.Run(ctx, NewProgress(r.store, job.Kind(), job.ID()))
}

func (r *Runner) finish(ctx context.Context, kind datastore.JobKind, id uint, outcome Outcome, runErr error, elapsed time.Duration, log logger.Logger) error {
	switch {
	case runErr == nil:
		fields := make(map[string]any, len(outcome.Fields)+2)
		maps.Copy(fields, outcome.Fields)
		fields["progress"] = 100.0
		fields["error_message"] = ""
		ok, err := r.store.TransitionJob(ctx, kind, id,
			[]entities.JobStatus{entities.StatusInProgress}, entities.StatusCompleted, fields)
		if err != nil {
			return err
		}
		if !ok {
			log.Info("job finished after it was cancelled")
			return nil
		}
		r.metrics.RecordOperation(string(kind), metrics.StatusCompleted)
		log.Info("job completed", logger.Duration("elapsed", elapsed))
		r.notify(ctx, kind, id)
		return nil

	case errors.Is(runErr, ErrCancelled):
		log.Info("job observed cancellation", logger.Duration("elapsed", elapsed))
		return nil

	default:
		ok, err := r.store.TransitionJob(ctx, kind, id,
			[]entities.JobStatus{entities.StatusPending, entities.StatusInProgress}, entities.StatusFailed,
			map[string]any{"error_message": runErr.Error()})
		if err != nil {
			return errors.Join(runErr, err)
		}
		if !ok {
			log.Info("job failed after it was cancelled", logger.Error(runErr))
			return runErr
		}
		errKind := string(errors.KindOf(runErr))
		r.metrics.RecordOperation(string(kind), metrics.StatusFailed)
		r.metrics.RecordError(string(kind), errKind)
		log.Error("job failed", logger.String("error_kind", errKind), logger.Error(runErr))
		r.notify(ctx, kind, id)
		return runErr
	}
}

// Fail marks a job failed without running it, for precondition failures
// detected by a caller before Execute, such as an unhealthy model server.
func (r *Runner) Fail(ctx context.Context, kind datastore.JobKind, id uint, cause error) error {
	ok, err := r.store.TransitionJob(ctx, kind, id, entities.ActiveStatuses, entities.StatusFailed,
		map[string]any{"error_message": cause.Error()})
	if err != nil || !ok {
		return err
	}
	r.metrics.RecordOperation(string(kind), metrics.StatusFailed)
	r.metrics.RecordError(string(kind), string(errors.KindOf(cause)))
	r.notify(ctx, kind, id)
	return nil
}

// Cancel moves an active job to cancelled. It reports false without error
// when the job had already reached a terminal state. A running job stops at
// its next progress report.
func (r *Runner) Cancel(ctx context.Context, kind datastore.JobKind, id uint) (bool, error) {
	ok, err := r.store.TransitionJob(ctx, kind, id, entities.ActiveStatuses, entities.StatusCancelled, nil)
	if err != nil {
		return false, err
	}
	if !ok {
		GetLogger().Info("cancel requested for finished job",
			logger.String("job_kind", string(kind)), logger.Uint64("job_id", uint64(id)))
		return false, nil
	}
	r.metrics.RecordOperation(string(kind), metrics.StatusCancelled)
	r.notify(ctx, kind, id)
	return true, nil
}

// Status returns the lifecycle view of a job.
func (r *Runner) Status(ctx context.Context, kind datastore.JobKind, id uint) (*StatusReport, error) {
	rec, err := r.store.JobState(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	return &StatusReport{
		Kind:            rec.Kind,
		ID:              rec.ID,
		Status:          rec.Status,
		Progress:        rec.Progress,
		ProgressMessage: rec.ProgressMessage,
		Error:           rec.ErrorMessage,
		ProducedID:      rec.ProducedID,
		UpdatedAt:       rec.UpdatedAt,
	}, nil
}

func (r *Runner) notify(ctx context.Context, kind datastore.JobKind, id uint) {
	if r.sink == nil {
		return
	}
	rec, err := r.store.JobState(ctx, kind, id)
	if err != nil {
		GetLogger().Warn("cannot load job for notification", logger.Error(err))
		return
	}

	linkID := id
	if kind == datastore.KindSpectrogram {
		if sj, err := r.store.GetSpectrogramJob(ctx, id); err == nil {
			linkID = sj.RecordingID
		}
	}

	n := notification.ForJob(rec, linkID)
	if n == nil {
		return
	}
	if err := r.sink.Deliver(ctx, n); err != nil {
		GetLogger().Warn("job notification not delivered",
			logger.String("job_kind", string(kind)),
			logger.Uint64("job_id", uint64(id)),
			logger.Error(err))
	}
}

// StopWithTimeout stops dispatching and waits for running jobs. When the
// timeout expires running jobs are cancelled, awaited, and an error is
// returned. Queued jobs that never started stay pending.
func (r *Runner) StopWithTimeout(timeout time.Duration) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	running := r.running
	stopDispatch, cancelJobs, done := r.stopDispatch, r.cancelJobs, r.done
	r.mu.Unlock()

	if !running {
		return nil
	}

	stopDispatch()
	defer cancelJobs()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		cancelJobs()
		<-done
		return errors.Newf("timed out waiting for jobs to complete after %v", timeout).
			Component("jobs").
			Category(errors.CategoryTimeout).
			Build()
	}
}
