package datastore

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/battycoda/battycoda/internal/datastore/entities"
)

func (s *gormStore) CreateTaskBatch(ctx context.Context, batch *entities.TaskBatch, tasks []entities.Task) error {
	return dbError(s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		batch.Tasks = nil
		if err := tx.Create(batch).Error; err != nil {
			return err
		}
		if len(tasks) == 0 {
			return nil
		}
		for i := range tasks {
			tasks[i].BatchID = batch.ID
			if tasks[i].SpeciesID == 0 {
				tasks[i].SpeciesID = batch.SpeciesID
			}
		}
		if err := tx.Omit("Recording").CreateInBatches(&tasks, segmentInsertBatch).Error; err != nil {
			return err
		}
		batch.Tasks = tasks
		return nil
	}), "create task batch")
}

func (s *gormStore) GetTaskBatch(ctx context.Context, id uint) (*entities.TaskBatch, error) {
	var b entities.TaskBatch
	if err := s.db.WithContext(ctx).First(&b, id).Error; err != nil {
		return nil, notFound(err, "task batch", id)
	}
	return &b, nil
}

// ListTasks returns the tasks of a batch in creation order.
func (s *gormStore) ListTasks(ctx context.Context, batchID uint) ([]entities.Task, error) {
	var out []entities.Task
	err := s.db.WithContext(ctx).
		Preload("Recording").
		Where("batch_id = ?", batchID).
		Order("id ASC").
		Find(&out).Error
	return out, dbError(err, "list tasks")
}

// AnnotateTask sets the human label and marks the task done.
func (s *gormStore) AnnotateTask(ctx context.Context, taskID uint, label string, userID uint) error {
	label = strings.TrimSpace(label)
	if label == "" {
		return validationFailure("label must not be empty")
	}
	now := time.Now()
	res := s.db.WithContext(ctx).Model(&entities.Task{}).
		Where("id = ?", taskID).
		Updates(map[string]any{
			"label":        label,
			"is_done":      true,
			"annotated_by": userID,
			"annotated_at": now,
		})
	if res.Error != nil {
		return dbError(res.Error, "annotate task")
	}
	if res.RowsAffected == 0 {
		return notFound(gorm.ErrRecordNotFound, "task", taskID)
	}
	return nil
}
