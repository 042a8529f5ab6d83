package datastore

import (
	"context"
	"sort"

	"gorm.io/gorm"

	"github.com/battycoda/battycoda/internal/datastore/entities"
)

func (s *gormStore) CreateClassificationRun(ctx context.Context, run *entities.ClassificationRun) error {
	if run.Status == "" {
		run.Status = entities.StatusQueued
	}
	return dbError(s.db.WithContext(ctx).Omit("Segmentation", "Classifier").Create(run).Error, "create classification run")
}

func (s *gormStore) GetClassificationRun(ctx context.Context, id uint) (*entities.ClassificationRun, error) {
	var run entities.ClassificationRun
	err := s.db.WithContext(ctx).
		Preload("Segmentation").
		Preload("Segmentation.Recording").
		Preload("Classifier").
		First(&run, id).Error
	if err != nil {
		return nil, notFound(err, "classification run", id)
	}
	return &run, nil
}

func (s *gormStore) NextQueuedRun(ctx context.Context) (*entities.ClassificationRun, error) {
	var run entities.ClassificationRun
	err := s.db.WithContext(ctx).
		Where("status = ?", entities.StatusQueued).
		Order("created_at ASC, id ASC").
		First(&run).Error
	if err != nil {
		return nil, notFound(err, "queued classification run", "next")
	}
	return &run, nil
}

func (s *gormStore) CountRunsInStatus(ctx context.Context, status entities.JobStatus) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&entities.ClassificationRun{}).Where("status = ?", status).Count(&n).Error
	return n, dbError(err, "count classification runs")
}

func (s *gormStore) SaveClassificationResult(ctx context.Context, runID, segmentID uint, probabilities map[uint]float64, note string) error {
	callIDs := make([]uint, 0, len(probabilities))
	for id := range probabilities {
		callIDs = append(callIDs, id)
	}
	sort.Slice(callIDs, func(i, j int) bool { return callIDs[i] < callIDs[j] })

	return dbError(s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := entities.ClassificationResult{RunID: runID, SegmentID: segmentID, Note: note}
		if err := tx.Create(&result).Error; err != nil {
			return err
		}
		if len(callIDs) == 0 {
			return nil
		}
		rows := make([]entities.CallProbability, 0, len(callIDs))
		for _, id := range callIDs {
			rows = append(rows, entities.CallProbability{
				ResultID:    result.ID,
				CallID:      id,
				Probability: probabilities[id],
			})
		}
		return tx.Create(&rows).Error
	}), "save classification result")
}

// ListResults returns the results of a run with probabilities and their calls.
func (s *gormStore) ListResults(ctx context.Context, runID uint) ([]entities.ClassificationResult, error) {
	var out []entities.ClassificationResult
	err := s.db.WithContext(ctx).
		Preload("Probabilities", func(db *gorm.DB) *gorm.DB { return db.Order("call_id ASC") }).
		Preload("Probabilities.Call").
		Where("run_id = ?", runID).
		Order("segment_id ASC").
		Find(&out).Error
	return out, dbError(err, "list classification results")
}

// UnclassifiedSegments returns segments on visible recordings of the species
// that have no classification result from any run.
func (s *gormStore) UnclassifiedSegments(ctx context.Context, speciesID uint, projectID *uint) ([]entities.Segment, error) {
	q := s.db.WithContext(ctx).
		Model(&entities.Segment{}).
		Joins("JOIN recordings ON recordings.id = segments.recording_id").
		Where("recordings.hidden = ? AND recordings.species_id = ?", false, speciesID).
		Where("NOT EXISTS (SELECT 1 FROM classification_results cr WHERE cr.segment_id = segments.id)")
	if projectID != nil {
		q = q.Where("recordings.project_id = ?", *projectID)
	}
	var out []entities.Segment
	err := q.Order("segments.recording_id ASC, segments.onset ASC").Find(&out).Error
	return out, dbError(err, "list unclassified segments")
}

func (s *gormStore) DeleteClassificationRun(ctx context.Context, id uint) error {
	return dbError(s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return deleteClassificationRunTx(tx, id)
	}), "delete classification run")
}

func deleteClassificationRunTx(tx *gorm.DB, runID uint) error {
	resultIDs := tx.Model(&entities.ClassificationResult{}).Select("id").Where("run_id = ?", runID)
	if err := tx.Where("result_id IN (?)", resultIDs).Delete(&entities.CallProbability{}).Error; err != nil {
		return err
	}
	if err := tx.Where("run_id = ?", runID).Delete(&entities.ClassificationResult{}).Error; err != nil {
		return err
	}
	// Batches seeded from the run keep their tasks but lose the link.
	if err := tx.Model(&entities.TaskBatch{}).Where("classification_run_id = ?", runID).
		Update("classification_run_id", nil).Error; err != nil {
		return err
	}
	res := tx.Delete(&entities.ClassificationRun{}, runID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
