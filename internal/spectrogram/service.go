package spectrogram

import (
	"context"

	"github.com/battycoda/battycoda/internal/datastore"
	"github.com/battycoda/battycoda/internal/datastore/entities"
	"github.com/battycoda/battycoda/internal/errors"
	"github.com/battycoda/battycoda/internal/jobs"
	"github.com/battycoda/battycoda/internal/logger"
)

// Store is the persistence the service needs.
type Store interface {
	datastore.JobStateStore
	datastore.SpectrogramStore
	GetRecording(ctx context.Context, id uint) (*entities.Recording, error)
}

// Service creates and executes spectrogram jobs.
type Service struct {
	store     Store
	generator *Generator
}

// NewService creates a service.
func NewService(store Store, generator *Generator) *Service {
	return &Service{store: store, generator: generator}
}

// CreateJobRequest asks for a spectrogram of a recording. Onset and Offset
// are both nil for the whole recording.
type CreateJobRequest struct {
	RecordingID uint
	Onset       *float64
	Offset      *float64
	UserID      uint
}

// CreateJob validates the range against the recording and stores a pending
// job.
func (s *Service) CreateJob(ctx context.Context, req CreateJobRequest) (*entities.SpectrogramJob, error) {
	rec, err := s.store.GetRecording(ctx, req.RecordingID)
	if err != nil {
		return nil, err
	}
	if req.Offset != nil && *req.Offset > rec.Duration {
		return nil, errors.ValidationError("spectrogram range ends after the recording")
	}
	job := &entities.SpectrogramJob{
		RecordingID: rec.ID,
		Onset:       req.Onset,
		Offset:      req.Offset,
		CreatedBy:   req.UserID,
	}
	if err := s.store.CreateSpectrogramJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Job returns the job for a pending spectrogram row.
func (s *Service) Job(id uint) jobs.Job {
	return &spectrogramJob{service: s, id: id}
}

type spectrogramJob struct {
	service *Service
	id      uint
}

func (j *spectrogramJob) Kind() datastore.JobKind { return datastore.KindSpectrogram }
func (j *spectrogramJob) ID() uint                { return j.id }

func (j *spectrogramJob) Run(ctx context.Context, p *jobs.Progress) (jobs.Outcome, error) {
	s := j.service
	job, err := s.store.GetSpectrogramJob(ctx, j.id)
	if err != nil {
		return jobs.Outcome{}, err
	}
	rec, err := s.store.GetRecording(ctx, job.RecordingID)
	if err != nil {
		return jobs.Outcome{}, err
	}

	onset, offset := 0.0, rec.Duration
	if job.Onset != nil && job.Offset != nil {
		onset, offset = *job.Onset, *job.Offset
	}
	out, err := BuildOutputPath(rec.ID, onset, offset)
	if err != nil {
		return jobs.Outcome{}, err
	}
	if err := p.Report(ctx, 10, "rendering"); err != nil {
		return jobs.Outcome{}, err
	}

	cached, err := s.generator.Generate(ctx, rec.AudioPath, out, onset, offset)
	if err != nil {
		return jobs.Outcome{}, err
	}
	GetLogger().Info("spectrogram ready",
		logger.Uint64("recording_id", uint64(rec.ID)),
		logger.String("output_path", out),
		logger.Bool("cached", cached))
	return jobs.Outcome{Fields: map[string]any{"output_path": out}}, nil
}
