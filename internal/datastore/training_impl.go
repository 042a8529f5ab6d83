package datastore

import (
	"context"
	"encoding/json"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/battycoda/battycoda/internal/datastore/entities"
)

func (s *gormStore) CreateTrainingJob(ctx context.Context, job *entities.TrainingJob) error {
	if (job.TaskBatchID == nil) == (job.DataFolder == "") {
		return validationFailure("training job needs exactly one of task batch or data folder")
	}
	if job.Status == "" {
		job.Status = entities.StatusPending
	}
	return dbError(s.db.WithContext(ctx).Create(job).Error, "create training job")
}

func (s *gormStore) GetTrainingJob(ctx context.Context, id uint) (*entities.TrainingJob, error) {
	var job entities.TrainingJob
	if err := s.db.WithContext(ctx).First(&job, id).Error; err != nil {
		return nil, notFound(err, "training job", id)
	}
	return &job, nil
}

func (s *gormStore) CompleteTraining(ctx context.Context, jobID uint, classifier *entities.Classifier, accuracy *float64, classes []string) error {
	encoded, err := json.Marshal(classes)
	if err != nil {
		return dbError(err, "encode training classes")
	}
	return dbError(s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job entities.TrainingJob
		if err := tx.Select("id").First(&job, jobID).Error; err != nil {
			return notFound(err, "training job", jobID)
		}
		if err := tx.Omit("Species").Create(classifier).Error; err != nil {
			return err
		}
		return tx.Model(&entities.TrainingJob{}).Where("id = ?", jobID).Updates(map[string]any{
			"classifier_id": classifier.ID,
			"accuracy":      accuracy,
			"classes":       datatypes.JSON(encoded),
		}).Error
	}), "complete training")
}
