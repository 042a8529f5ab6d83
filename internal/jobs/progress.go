package jobs

import (
	"context"
	"math"

	"github.com/battycoda/battycoda/internal/datastore"
	"github.com/battycoda/battycoda/internal/datastore/entities"
	"github.com/battycoda/battycoda/internal/errors"
)

// Progress writes progress for one running job and polls for cancellation.
type Progress struct {
	store datastore.JobStateStore
	kind  datastore.JobKind
	id    uint
}

// NewProgress returns a reporter for the job (kind, id). The runner creates
// one per execution; tests and synchronous callers may create their own.
func NewProgress(store datastore.JobStateStore, kind datastore.JobKind, id uint) *Progress {
	return &Progress{store: store, kind: kind, id: id}
}

// Report stores percent (clamped to [0,100]) and message. It returns
// ErrCancelled when the job is no longer running.
func (p *Progress) Report(ctx context.Context, percent float64, message string) error {
	if math.IsNaN(percent) {
		percent = 0
	}
	percent = math.Max(0, math.Min(100, percent))

	status, err := p.store.UpdateJobProgress(ctx, p.kind, p.id, percent, message)
	if err != nil {
		return err
	}
	return cancelledIfTerminal(p.kind, p.id, status)
}

// Fraction reports done/total as a percentage.
func (p *Progress) Fraction(ctx context.Context, done, total int, message string) error {
	if total <= 0 {
		return p.Report(ctx, 0, message)
	}
	return p.Report(ctx, float64(done)*100/float64(total), message)
}

// Check returns ErrCancelled when the job is no longer running without
// writing progress.
func (p *Progress) Check(ctx context.Context) error {
	rec, err := p.store.JobState(ctx, p.kind, p.id)
	if err != nil {
		return err
	}
	return cancelledIfTerminal(p.kind, p.id, rec.Status)
}

func cancelledIfTerminal(kind datastore.JobKind, id uint, status entities.JobStatus) error {
	if !status.IsTerminal() {
		return nil
	}
	return errors.New(ErrCancelled).
		Component("jobs").
		Category(errors.CategoryCancellation).
		Context("job_kind", string(kind)).
		Context("job_id", id).
		Context("status", string(status)).
		Build()
}
