package datastore

import (
	"context"
	"fmt"
	"maps"
	"time"

	"gorm.io/gorm"

	"github.com/battycoda/battycoda/internal/datastore/entities"
)

type jobTable struct {
	model              func() any
	hasProgressMessage bool
	producedColumn     string
	// pendingScope narrows PendingJobs to rows a background worker may pick up.
	pendingScope func(*gorm.DB) *gorm.DB
}

// Preview segmentations run inside the request that created them.
func visibleSegmentations(db *gorm.DB) *gorm.DB {
	return db.Where("recording_id IN (?)",
		db.Session(&gorm.Session{NewDB: true}).Model(&entities.Recording{}).Select("id").Where("hidden = ?", false))
}

var jobTables = map[JobKind]jobTable{
	KindSegmentation:   {model: func() any { return &entities.Segmentation{} }, pendingScope: visibleSegmentations},
	KindClassification: {model: func() any { return &entities.ClassificationRun{} }},
	KindTraining:       {model: func() any { return &entities.TrainingJob{} }, producedColumn: "classifier_id"},
	KindClustering:     {model: func() any { return &entities.ClusteringRun{} }, hasProgressMessage: true},
	KindSpectrogram:    {model: func() any { return &entities.SpectrogramJob{} }},
}

func lookupJobTable(kind JobKind) (jobTable, error) {
	t, ok := jobTables[kind]
	if !ok {
		return jobTable{}, fmt.Errorf("%w: %s", ErrUnknownJobKind, kind)
	}
	return t, nil
}

type jobRow struct {
	ID              uint
	Status          entities.JobStatus
	Progress        float64
	ProgressMessage string
	ErrorMessage    string
	CreatedBy       uint
	Produced        *uint
}

func (s *gormStore) JobState(ctx context.Context, kind JobKind, id uint) (*JobRecord, error) {
	t, err := lookupJobTable(kind)
	if err != nil {
		return nil, err
	}

	columns := []string{"id", "status", "progress", "error_message", "created_by", "updated_at"}
	if t.hasProgressMessage {
		columns = append(columns, "progress_message")
	}
	if t.producedColumn != "" {
		columns = append(columns, t.producedColumn+" AS produced")
	}

	var row struct {
		jobRow
		UpdatedAt time.Time
	}
	res := s.db.WithContext(ctx).Model(t.model()).Select(columns).Where("id = ?", id).Limit(1).Scan(&row)
	if res.Error == nil && res.RowsAffected == 0 {
		res.Error = gorm.ErrRecordNotFound
	}
	if res.Error != nil {
		return nil, notFound(res.Error, string(kind)+" job", id)
	}

	return &JobRecord{
		Kind:            kind,
		ID:              row.ID,
		Status:          row.Status,
		Progress:        row.Progress,
		ProgressMessage: row.ProgressMessage,
		ErrorMessage:    row.ErrorMessage,
		CreatedBy:       row.CreatedBy,
		ProducedID:      row.Produced,
		UpdatedAt:       row.UpdatedAt,
	}, nil
}

func (s *gormStore) TransitionJob(ctx context.Context, kind JobKind, id uint, from []entities.JobStatus, to entities.JobStatus, fields map[string]any) (bool, error) {
	t, err := lookupJobTable(kind)
	if err != nil {
		return false, err
	}

	updates := make(map[string]any, len(fields)+1)
	maps.Copy(updates, fields)
	updates["status"] = to
	if !t.hasProgressMessage {
		delete(updates, "progress_message")
	}

	res := s.db.WithContext(ctx).Model(t.model()).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, dbError(res.Error, "transition "+string(kind))
	}
	if res.RowsAffected == 0 {
		// Distinguish a missing row from a status mismatch.
		if _, err := s.JobState(ctx, kind, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (s *gormStore) UpdateJobProgress(ctx context.Context, kind JobKind, id uint, progress float64, message string) (entities.JobStatus, error) {
	t, err := lookupJobTable(kind)
	if err != nil {
		return "", err
	}

	updates := map[string]any{"progress": progress}
	if t.hasProgressMessage {
		updates["progress_message"] = message
	}

	var statuses []string
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(t.model()).
			Where("id = ? AND status IN ?", id, []entities.JobStatus{entities.StatusPending, entities.StatusInProgress}).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		return tx.Model(t.model()).Where("id = ?", id).Pluck("status", &statuses).Error
	})
	if err != nil {
		return "", dbError(err, "update progress "+string(kind))
	}
	if len(statuses) == 0 {
		return "", notFound(gorm.ErrRecordNotFound, string(kind)+" job", id)
	}
	return entities.JobStatus(statuses[0]), nil
}

func (s *gormStore) PendingJobs(ctx context.Context, kind JobKind, limit int) ([]uint, error) {
	t, err := lookupJobTable(kind)
	if err != nil {
		return nil, err
	}
	q := s.db.WithContext(ctx).Model(t.model()).
		Where("status = ?", entities.StatusPending).
		Order("created_at ASC, id ASC")
	if t.pendingScope != nil {
		q = t.pendingScope(q)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var ids []uint
	if err := q.Pluck("id", &ids).Error; err != nil {
		return nil, dbError(err, "list pending "+string(kind))
	}
	return ids, nil
}
