package datastore

import (
	"context"
	"math"

	"gorm.io/gorm"

	"github.com/battycoda/battycoda/internal/datastore/entities"
)

// boundsEpsilon absorbs float rounding of offsets computed from sample counts.
const boundsEpsilon = 1e-9

const segmentInsertBatch = 500

func (s *gormStore) CreateAlgorithm(ctx context.Context, a *entities.SegmentationAlgorithm) error {
	return dbError(s.db.WithContext(ctx).Create(a).Error, "create algorithm")
}

func (s *gormStore) GetAlgorithm(ctx context.Context, id uint) (*entities.SegmentationAlgorithm, error) {
	var a entities.SegmentationAlgorithm
	if err := s.db.WithContext(ctx).First(&a, id).Error; err != nil {
		return nil, notFound(err, "segmentation algorithm", id)
	}
	return &a, nil
}

func (s *gormStore) GetAlgorithmByName(ctx context.Context, name string) (*entities.SegmentationAlgorithm, error) {
	var a entities.SegmentationAlgorithm
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&a).Error; err != nil {
		return nil, notFound(err, "segmentation algorithm", name)
	}
	return &a, nil
}

func (s *gormStore) CreateSegmentation(ctx context.Context, seg *entities.Segmentation) error {
	if seg.Status == "" {
		seg.Status = entities.StatusPending
	}
	return dbError(s.db.WithContext(ctx).Create(seg).Error, "create segmentation")
}

func (s *gormStore) GetSegmentation(ctx context.Context, id uint) (*entities.Segmentation, error) {
	var seg entities.Segmentation
	if err := s.db.WithContext(ctx).Preload("Recording").Preload("Algorithm").First(&seg, id).Error; err != nil {
		return nil, notFound(err, "segmentation", id)
	}
	return &seg, nil
}

// ListSegments returns the segments of a segmentation ordered by onset.
func (s *gormStore) ListSegments(ctx context.Context, segmentationID uint) ([]entities.Segment, error) {
	var out []entities.Segment
	err := s.db.WithContext(ctx).
		Where("segmentation_id = ?", segmentationID).
		Order("onset ASC, id ASC").
		Find(&out).Error
	return out, dbError(err, "list segments")
}

func (s *gormStore) GetSegment(ctx context.Context, id uint) (*entities.Segment, error) {
	var seg entities.Segment
	if err := s.db.WithContext(ctx).First(&seg, id).Error; err != nil {
		return nil, notFound(err, "segment", id)
	}
	return &seg, nil
}

func checkBounds(iv Interval, duration float64) error {
	switch {
	case math.IsNaN(iv.Onset) || math.IsNaN(iv.Offset):
		return validationFailure("segment bounds must be numbers")
	case iv.Onset < 0:
		return validationFailure("segment onset %.6f is negative", iv.Onset)
	case iv.Offset <= iv.Onset:
		return validationFailure("segment offset %.6f must be greater than onset %.6f", iv.Offset, iv.Onset)
	case iv.Offset > duration+boundsEpsilon:
		return validationFailure("segment offset %.6f exceeds recording duration %.6f", iv.Offset, duration)
	}
	return nil
}

func overlaps(a, b Interval) bool {
	return a.Onset < b.Offset && b.Onset < a.Offset
}

func loadSegmentationRecording(tx *gorm.DB, segmentationID uint) (*entities.Segmentation, *entities.Recording, error) {
	var seg entities.Segmentation
	if err := tx.First(&seg, segmentationID).Error; err != nil {
		return nil, nil, notFound(err, "segmentation", segmentationID)
	}
	var rec entities.Recording
	if err := tx.First(&rec, seg.RecordingID).Error; err != nil {
		return nil, nil, notFound(err, "recording", seg.RecordingID)
	}
	return &seg, &rec, nil
}

func (s *gormStore) ReplaceSegments(ctx context.Context, segmentationID uint, intervals []Interval) (int, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seg, rec, err := loadSegmentationRecording(tx, segmentationID)
		if err != nil {
			return err
		}

		rows := make([]entities.Segment, 0, len(intervals))
		for _, iv := range intervals {
			if err := checkBounds(iv, rec.Duration); err != nil {
				return err
			}
			rows = append(rows, entities.Segment{
				SegmentationID: seg.ID,
				RecordingID:    rec.ID,
				Onset:          iv.Onset,
				Offset:         math.Min(iv.Offset, rec.Duration),
				CreatedBy:      seg.CreatedBy,
			})
		}

		if err := deleteSegmentsTx(tx, "segmentation_id = ?", segmentationID); err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.CreateInBatches(rows, segmentInsertBatch).Error
	})
	if err != nil {
		return 0, dbError(err, "replace segments")
	}
	return len(intervals), nil
}

// markEdited flags the segmentation as manually edited.
func markEdited(tx *gorm.DB, segmentationID uint) error {
	return tx.Model(&entities.Segmentation{}).
		Where("id = ?", segmentationID).
		Update("manually_edited", true).Error
}

func checkNoOverlap(tx *gorm.DB, segmentationID, excludeID uint, iv Interval) error {
	var count int64
	q := tx.Model(&entities.Segment{}).
		Where("segmentation_id = ? AND onset < ? AND ? < `offset`", segmentationID, iv.Offset, iv.Onset)
	if excludeID != 0 {
		q = q.Where("id <> ?", excludeID)
	}
	if err := q.Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return validationFailure("segment [%.6f, %.6f) overlaps an existing segment", iv.Onset, iv.Offset)
	}
	return nil
}

func (s *gormStore) AddSegment(ctx context.Context, segmentationID uint, iv Interval, name string, userID uint) (*entities.Segment, error) {
	var created entities.Segment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seg, rec, err := loadSegmentationRecording(tx, segmentationID)
		if err != nil {
			return err
		}
		if err := checkBounds(iv, rec.Duration); err != nil {
			return err
		}
		if err := checkNoOverlap(tx, seg.ID, 0, iv); err != nil {
			return err
		}
		created = entities.Segment{
			SegmentationID: seg.ID,
			RecordingID:    rec.ID,
			Onset:          iv.Onset,
			Offset:         iv.Offset,
			Name:           name,
			CreatedBy:      userID,
		}
		if err := tx.Create(&created).Error; err != nil {
			return err
		}
		return markEdited(tx, seg.ID)
	})
	if err != nil {
		return nil, dbError(err, "add segment")
	}
	return &created, nil
}

func (s *gormStore) UpdateSegment(ctx context.Context, segmentID uint, iv Interval) (*entities.Segment, error) {
	var updated entities.Segment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&updated, segmentID).Error; err != nil {
			return notFound(err, "segment", segmentID)
		}
		_, rec, err := loadSegmentationRecording(tx, updated.SegmentationID)
		if err != nil {
			return err
		}
		if err := checkBounds(iv, rec.Duration); err != nil {
			return err
		}
		if err := checkNoOverlap(tx, updated.SegmentationID, updated.ID, iv); err != nil {
			return err
		}
		updated.Onset, updated.Offset = iv.Onset, iv.Offset
		if err := tx.Model(&updated).Updates(map[string]any{"onset": iv.Onset, "offset": iv.Offset}).Error; err != nil {
			return err
		}
		return markEdited(tx, updated.SegmentationID)
	})
	if err != nil {
		return nil, dbError(err, "update segment")
	}
	return &updated, nil
}

func (s *gormStore) DeleteSegment(ctx context.Context, segmentID uint) error {
	return dbError(s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var seg entities.Segment
		if err := tx.First(&seg, segmentID).Error; err != nil {
			return notFound(err, "segment", segmentID)
		}
		if err := deleteSegmentsTx(tx, "id = ?", segmentID); err != nil {
			return err
		}
		return markEdited(tx, seg.SegmentationID)
	}), "delete segment")
}

func (s *gormStore) DeleteSegmentation(ctx context.Context, id uint) error {
	return dbError(s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return deleteSegmentationTx(tx, id)
	}), "delete segmentation")
}

// deleteSegmentsTx removes segments matching the condition together with
// their classification results and cluster memberships.
func deleteSegmentsTx(tx *gorm.DB, query string, args ...any) error {
	segmentIDs := tx.Model(&entities.Segment{}).Select("id").Where(query, args...)
	resultIDs := tx.Model(&entities.ClassificationResult{}).Select("id").Where("segment_id IN (?)", segmentIDs)

	if err := tx.Where("result_id IN (?)", resultIDs).Delete(&entities.CallProbability{}).Error; err != nil {
		return err
	}
	if err := tx.Where("segment_id IN (?)", segmentIDs).Delete(&entities.ClassificationResult{}).Error; err != nil {
		return err
	}
	if err := tx.Where("segment_id IN (?)", segmentIDs).Delete(&entities.SegmentCluster{}).Error; err != nil {
		return err
	}
	return tx.Where(query, args...).Delete(&entities.Segment{}).Error
}

func deleteSegmentationTx(tx *gorm.DB, id uint) error {
	var runIDs []uint
	if err := tx.Model(&entities.ClassificationRun{}).Where("segmentation_id = ?", id).Pluck("id", &runIDs).Error; err != nil {
		return err
	}
	for _, runID := range runIDs {
		if err := deleteClassificationRunTx(tx, runID); err != nil {
			return err
		}
	}

	var clusteringIDs []uint
	if err := tx.Model(&entities.ClusteringRun{}).Where("segmentation_id = ?", id).Pluck("id", &clusteringIDs).Error; err != nil {
		return err
	}
	for _, runID := range clusteringIDs {
		if err := deleteClusteringRunTx(tx, runID); err != nil {
			return err
		}
	}

	if err := deleteSegmentsTx(tx, "segmentation_id = ?", id); err != nil {
		return err
	}
	res := tx.Delete(&entities.Segmentation{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
