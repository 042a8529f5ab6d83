package classification

import (
	"context"
	"time"

	"github.com/battycoda/battycoda/internal/datastore"
	"github.com/battycoda/battycoda/internal/datastore/entities"
	"github.com/battycoda/battycoda/internal/errors"
	"github.com/battycoda/battycoda/internal/jobs"
	"github.com/battycoda/battycoda/internal/logger"
)

// Executor runs a job synchronously. *jobs.Runner implements it.
type Executor interface {
	Execute(ctx context.Context, job jobs.Job) error
}

// Dispatch drains the queue until ctx is done. Runs execute in FIFO order
// of creation, one at a time, each while the lease is held.
func (s *Service) Dispatch(ctx context.Context, exec Executor) error {
	log := GetLogger()
	log.Info("classification dispatcher started", logger.Duration("poll_interval", s.pollInterval))
	defer log.Info("classification dispatcher stopped")

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		ran, err := s.DispatchNext(ctx, exec)
		if err != nil && ctx.Err() == nil {
			log.Error("classification dispatch failed", logger.Error(err))
		}
		if ran {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-s.wake:
		case <-ticker.C:
		}
	}
}

// DispatchNext executes the oldest queued run, if any. It reports whether
// a run was taken off the queue. The run's own failure is recorded on the
// run and not returned.
func (s *Service) DispatchNext(ctx context.Context, exec Executor) (bool, error) {
	release, err := s.lease.Acquire(ctx)
	if err != nil {
		return false, err
	}
	defer release()

	run, err := s.store.NextQueuedRun(ctx)
	if errors.Is(err, datastore.ErrNotFound) {
		s.updateBacklog(ctx)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	ok, err := s.store.TransitionJob(ctx, datastore.KindClassification, run.ID,
		[]entities.JobStatus{entities.StatusQueued}, entities.StatusPending,
		map[string]any{"started_at": time.Now()})
	if err != nil {
		return false, err
	}
	s.updateBacklog(ctx)
	if !ok {
		// Cancelled or taken by another worker in the meantime.
		return true, nil
	}

	if err := exec.Execute(ctx, s.Job(run.ID)); err != nil && !errors.Is(err, jobs.ErrNotPending) {
		GetLogger().Info("classification run ended with error",
			logger.Uint64("run_id", uint64(run.ID)), logger.Error(err))
	}
	return true, nil
}

func (s *Service) updateBacklog(ctx context.Context) {
	n, err := s.store.CountRunsInStatus(ctx, entities.StatusQueued)
	if err != nil {
		GetLogger().Debug("failed to count queued runs", logger.Error(err))
		return
	}
	s.metrics.SetQueuedRuns(n)
}
