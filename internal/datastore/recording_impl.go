package datastore

import (
	"context"

	"gorm.io/gorm"

	"github.com/battycoda/battycoda/internal/datastore/entities"
)

func (s *gormStore) CreateProject(ctx context.Context, p *entities.Project) error {
	return dbError(s.db.WithContext(ctx).Create(p).Error, "create project")
}

func (s *gormStore) GetProject(ctx context.Context, id uint) (*entities.Project, error) {
	var p entities.Project
	if err := s.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, notFound(err, "project", id)
	}
	return &p, nil
}

func (s *gormStore) CreateRecording(ctx context.Context, r *entities.Recording) error {
	if r.Duration <= 0 {
		return validationFailure("recording %q has no duration", r.Name)
	}
	return dbError(s.db.WithContext(ctx).Create(r).Error, "create recording")
}

func (s *gormStore) GetRecording(ctx context.Context, id uint) (*entities.Recording, error) {
	var r entities.Recording
	if err := s.db.WithContext(ctx).First(&r, id).Error; err != nil {
		return nil, notFound(err, "recording", id)
	}
	return &r, nil
}

// ListRecordings returns the visible recordings of a group. Hidden preview
// recordings are never listed.
func (s *gormStore) ListRecordings(ctx context.Context, groupID uint) ([]entities.Recording, error) {
	var out []entities.Recording
	err := s.db.WithContext(ctx).
		Where("group_id = ? AND hidden = ?", groupID, false).
		Order("created_at DESC, id DESC").
		Find(&out).Error
	return out, dbError(err, "list recordings")
}

func (s *gormStore) DeleteRecording(ctx context.Context, id uint) error {
	return dbError(s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var segmentationIDs []uint
		if err := tx.Model(&entities.Segmentation{}).Where("recording_id = ?", id).Pluck("id", &segmentationIDs).Error; err != nil {
			return err
		}
		for _, sid := range segmentationIDs {
			if err := deleteSegmentationTx(tx, sid); err != nil {
				return err
			}
		}
		if err := tx.Where("recording_id = ?", id).Delete(&entities.SpectrogramJob{}).Error; err != nil {
			return err
		}
		if err := tx.Where("recording_id = ?", id).Delete(&entities.Task{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&entities.Recording{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	}), "delete recording")
}
