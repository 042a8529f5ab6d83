// Package jobs runs the pipeline's long-running operations under one
// lifecycle: pending, in_progress, then completed, failed or cancelled.
//
// Every job variant (segmentation, classification, training, clustering,
// spectrogram) implements Job. The Runner owns the shared machinery: status
// transitions, progress, cancellation polling, notifications and metrics.
package jobs

import (
	"context"
	"time"

	"github.com/battycoda/battycoda/internal/datastore"
	"github.com/battycoda/battycoda/internal/datastore/entities"
	"github.com/battycoda/battycoda/internal/errors"
)

// Job is one unit of background work bound to a row of a job table.
type Job interface {
	Kind() datastore.JobKind
	ID() uint
	// Run does the work. It reports progress through p and must return
	// ErrCancelled, usually straight from p.Report, when cancellation is
	// observed.
	Run(ctx context.Context, p *Progress) (Outcome, error)
}

// Outcome carries extra columns written with the completed transition.
type Outcome struct {
	Fields map[string]any
}

// StatusReport is the result of Runner.Status.
type StatusReport struct {
	Kind            datastore.JobKind  `json:"kind"`
	ID              uint               `json:"id"`
	Status          entities.JobStatus `json:"status"`
	Progress        float64            `json:"progress"`
	ProgressMessage string             `json:"progress_message,omitempty"`
	Error           string             `json:"error,omitempty"`
	ProducedID      *uint              `json:"produced_entity_id,omitempty"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// Config configures a Runner.
type Config struct {
	Workers   int
	QueueSize int
}

const (
	defaultWorkers   = 4
	defaultQueueSize = 100
)

var (
	// ErrCancelled is returned by Progress.Report once the job was cancelled.
	ErrCancelled = errors.ErrCancelled

	// ErrQueueFull is returned by Submit when the backlog is at capacity.
	ErrQueueFull = errors.NewStd("job queue is full")

	// ErrQueueStopped is returned by Submit after the runner stopped.
	ErrQueueStopped = errors.NewStd("job runner is stopped")

	// ErrNotPending is returned by Execute when the job is not pending,
	// for example because it was cancelled while waiting.
	ErrNotPending = errors.NewStd("job is not pending")
)
