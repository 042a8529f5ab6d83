package datastore

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/battycoda/battycoda/internal/datastore/entities"
	"github.com/battycoda/battycoda/internal/errors"
)

func (s *gormStore) CreateClusteringRun(ctx context.Context, run *entities.ClusteringRun) error {
	switch run.Scope {
	case entities.ScopeSegmentation:
		if run.SegmentationID == nil {
			return validationFailure("segmentation scope requires a segmentation")
		}
	case entities.ScopeProject:
		if run.ProjectID == nil {
			return validationFailure("project scope requires a project")
		}
	default:
		return validationFailure("unknown clustering scope %q", run.Scope)
	}
	if run.Status == "" {
		run.Status = entities.StatusPending
	}
	return dbError(s.db.WithContext(ctx).Create(run).Error, "create clustering run")
}

func (s *gormStore) GetClusteringRun(ctx context.Context, id uint) (*entities.ClusteringRun, error) {
	var run entities.ClusteringRun
	if err := s.db.WithContext(ctx).First(&run, id).Error; err != nil {
		return nil, notFound(err, "clustering run", id)
	}
	return &run, nil
}

func (s *gormStore) UpdateClusteringRun(ctx context.Context, id uint, fields map[string]any) error {
	res := s.db.WithContext(ctx).Model(&entities.ClusteringRun{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return dbError(res.Error, "update clustering run")
	}
	if res.RowsAffected == 0 {
		return notFound(gorm.ErrRecordNotFound, "clustering run", id)
	}
	return nil
}

func (s *gormStore) ProjectSegmentations(ctx context.Context, projectID uint, speciesID *uint) ([]ProjectSegmentation, error) {
	type row struct {
		SegmentationID uint
		RecordingID    uint
		RecordingName  string
		Segments       int
	}
	q := s.db.WithContext(ctx).
		Table("segmentations").
		Select(`segmentations.id AS segmentation_id, recordings.id AS recording_id,
			recordings.name AS recording_name,
			(SELECT COUNT(*) FROM segments WHERE segments.segmentation_id = segmentations.id) AS segments`).
		Joins("JOIN recordings ON recordings.id = segmentations.recording_id").
		Where("recordings.project_id = ? AND recordings.hidden = ?", projectID, false).
		Where("segmentations.status = ?", entities.StatusCompleted)
	if speciesID != nil {
		q = q.Where("recordings.species_id = ?", *speciesID)
	}

	var rows []row
	if err := q.Order("recordings.id ASC, segmentations.created_at DESC, segmentations.id DESC").Scan(&rows).Error; err != nil {
		return nil, dbError(err, "list project segmentations")
	}

	out := make([]ProjectSegmentation, 0, len(rows))
	seen := make(map[uint]bool, len(rows))
	for _, r := range rows {
		ps := ProjectSegmentation{
			SegmentationID: r.SegmentationID,
			RecordingID:    r.RecordingID,
			RecordingName:  r.RecordingName,
			Segments:       r.Segments,
		}
		if seen[r.RecordingID] {
			ps.Reason = "superseded by newer segmentation"
		}
		seen[r.RecordingID] = true
		out = append(out, ps)
	}
	return out, nil
}

func (s *gormStore) SegmentsWithRecordings(ctx context.Context, segmentationIDs []uint) ([]entities.Segment, map[uint]*entities.Recording, error) {
	if len(segmentationIDs) == 0 {
		return nil, map[uint]*entities.Recording{}, nil
	}
	var segs []entities.Segment
	err := s.db.WithContext(ctx).
		Where("segmentation_id IN ?", segmentationIDs).
		Order("recording_id ASC, onset ASC, id ASC").
		Find(&segs).Error
	if err != nil {
		return nil, nil, dbError(err, "list segments for clustering")
	}

	ids := make([]uint, 0)
	seen := make(map[uint]bool)
	for _, sg := range segs {
		if !seen[sg.RecordingID] {
			seen[sg.RecordingID] = true
			ids = append(ids, sg.RecordingID)
		}
	}
	recs := make(map[uint]*entities.Recording, len(ids))
	if len(ids) > 0 {
		var rows []entities.Recording
		if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
			return nil, nil, dbError(err, "list recordings for clustering")
		}
		for i := range rows {
			recs[rows[i].ID] = &rows[i]
		}
	}
	return segs, recs, nil
}

func (s *gormStore) SaveClusteringOutput(ctx context.Context, runID uint, clusters []entities.Cluster, memberships []entities.SegmentCluster) error {
	return dbError(s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := deleteClusterOutputTx(tx, runID); err != nil {
			return err
		}
		byNumber := make(map[int]uint, len(clusters))
		for i := range clusters {
			clusters[i].ID = 0
			clusters[i].RunID = runID
			if err := tx.Create(&clusters[i]).Error; err != nil {
				return err
			}
			byNumber[clusters[i].ClusterID] = clusters[i].ID
		}
		if len(memberships) == 0 {
			return nil
		}
		rows := make([]entities.SegmentCluster, 0, len(memberships))
		for _, m := range memberships {
			id, ok := byNumber[int(m.ClusterID)]
			if !ok {
				return fmt.Errorf("membership references unknown cluster %d", m.ClusterID)
			}
			rows = append(rows, entities.SegmentCluster{
				SegmentID:        m.SegmentID,
				ClusterID:        id,
				Confidence:       m.Confidence,
				DistanceToCenter: m.DistanceToCenter,
			})
		}
		return tx.Omit("Segment").CreateInBatches(&rows, segmentInsertBatch).Error
	}), "save clustering output")
}

// ListClusters returns the clusters of a run ordered by cluster number.
func (s *gormStore) ListClusters(ctx context.Context, runID uint) ([]entities.Cluster, error) {
	var out []entities.Cluster
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("cluster_id ASC").Find(&out).Error
	return out, dbError(err, "list clusters")
}

func (s *gormStore) ListClusterMembers(ctx context.Context, runID uint) ([]ClusterMember, error) {
	var out []ClusterMember
	err := s.db.WithContext(ctx).
		Table("segment_clusters").
		Select("segments.id AS segment_id, segments.onset AS onset, segments.`offset` AS `offset`, "+
			"recordings.id AS recording_id, recordings.name AS recording_name, "+
			"clusters.cluster_id AS cluster_id, clusters.label AS cluster_label, "+
			"segment_clusters.confidence AS confidence, "+
			"segment_clusters.distance_to_center AS distance_to_center").
		Joins("JOIN clusters ON clusters.id = segment_clusters.cluster_id").
		Joins("JOIN segments ON segments.id = segment_clusters.segment_id").
		Joins("JOIN recordings ON recordings.id = segments.recording_id").
		Where("clusters.run_id = ?", runID).
		Order("clusters.cluster_id ASC, recordings.id ASC, segments.onset ASC").
		Scan(&out).Error
	return out, dbError(err, "list cluster members")
}

func (s *gormStore) MapClusterToCall(ctx context.Context, clusterID, callID uint, confidence float64, notes string) error {
	if confidence < 0 || confidence > 1 {
		return validationFailure("mapping confidence %.3f outside [0,1]", confidence)
	}
	return dbError(s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c entities.Cluster
		if err := tx.Select("id").First(&c, clusterID).Error; err != nil {
			return notFound(err, "cluster", clusterID)
		}
		var call entities.Call
		if err := tx.Select("id").First(&call, callID).Error; err != nil {
			return notFound(err, "call", callID)
		}
		var existing entities.ClusterCallMapping
		err := tx.Where("cluster_id = ? AND call_id = ?", clusterID, callID).First(&existing).Error
		switch {
		case err == nil:
			return tx.Model(&existing).Updates(map[string]any{"confidence": confidence, "notes": notes}).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(&entities.ClusterCallMapping{
				ClusterID: clusterID, CallID: callID, Confidence: confidence, Notes: notes,
			}).Error
		default:
			return err
		}
	}), "map cluster to call")
}

func (s *gormStore) DeleteClusteringRun(ctx context.Context, id uint) error {
	return dbError(s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return deleteClusteringRunTx(tx, id)
	}), "delete clustering run")
}

func deleteClusterOutputTx(tx *gorm.DB, runID uint) error {
	clusterIDs := tx.Model(&entities.Cluster{}).Select("id").Where("run_id = ?", runID)
	if err := tx.Where("cluster_id IN (?)", clusterIDs).Delete(&entities.SegmentCluster{}).Error; err != nil {
		return err
	}
	if err := tx.Where("cluster_id IN (?)", clusterIDs).Delete(&entities.ClusterCallMapping{}).Error; err != nil {
		return err
	}
	return tx.Where("run_id = ?", runID).Delete(&entities.Cluster{}).Error
}

func deleteClusteringRunTx(tx *gorm.DB, runID uint) error {
	if err := deleteClusterOutputTx(tx, runID); err != nil {
		return err
	}
	res := tx.Delete(&entities.ClusteringRun{}, runID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
