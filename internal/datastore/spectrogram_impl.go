package datastore

import (
	"context"

	"github.com/battycoda/battycoda/internal/datastore/entities"
)

func (s *gormStore) CreateSpectrogramJob(ctx context.Context, job *entities.SpectrogramJob) error {
	if (job.Onset == nil) != (job.Offset == nil) {
		return validationFailure("spectrogram range needs both onset and offset")
	}
	if job.Onset != nil && *job.Offset <= *job.Onset {
		return validationFailure("spectrogram offset %.6f must be greater than onset %.6f", *job.Offset, *job.Onset)
	}
	if job.Status == "" {
		job.Status = entities.StatusPending
	}
	return dbError(s.db.WithContext(ctx).Create(job).Error, "create spectrogram job")
}

func (s *gormStore) GetSpectrogramJob(ctx context.Context, id uint) (*entities.SpectrogramJob, error) {
	var job entities.SpectrogramJob
	if err := s.db.WithContext(ctx).First(&job, id).Error; err != nil {
		return nil, notFound(err, "spectrogram job", id)
	}
	return &job, nil
}
