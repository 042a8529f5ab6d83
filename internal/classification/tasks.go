package classification

import (
	"context"
	"fmt"

	"github.com/battycoda/battycoda/internal/datastore/entities"
	"github.com/battycoda/battycoda/internal/errors"
	"github.com/battycoda/battycoda/internal/logger"
)

// TaskBatchRequest seeds an annotation batch from a completed run.
type TaskBatchRequest struct {
	RunID     uint
	Name      string
	Threshold float64 // minimum best probability for a segment to become a task
	UserID    uint
}

// TaskBatchResult reports the created batch.
type TaskBatchResult struct {
	Batch   *entities.TaskBatch
	Created int
	Skipped int
}

// CreateTaskBatchFromRun turns each classified segment into a task whose
// proposed label is the segment's best call. Segments whose best
// probability is below the threshold are skipped.
func (s *Service) CreateTaskBatchFromRun(ctx context.Context, req TaskBatchRequest) (*TaskBatchResult, error) {
	if req.Threshold < 0 || req.Threshold > 1 {
		return nil, errors.ValidationError(fmt.Sprintf("threshold %.3f outside [0,1]", req.Threshold))
	}
	run, err := s.store.GetClassificationRun(ctx, req.RunID)
	if err != nil {
		return nil, err
	}
	if run.Status != entities.StatusCompleted {
		return nil, errors.ValidationError(fmt.Sprintf("classification run %d is %s, not completed", run.ID, run.Status))
	}
	rec := run.Segmentation.Recording
	speciesID := run.Classifier.SpeciesID
	if speciesID == nil {
		speciesID = rec.SpeciesID
	}
	if speciesID == nil {
		return nil, errors.ValidationError(fmt.Sprintf("recording %q has no species", rec.Name))
	}

	segments, err := s.store.ListSegments(ctx, run.SegmentationID)
	if err != nil {
		return nil, err
	}
	byID := make(map[uint]*entities.Segment, len(segments))
	for i := range segments {
		byID[segments[i].ID] = &segments[i]
	}

	results, err := s.store.ListResults(ctx, run.ID)
	if err != nil {
		return nil, err
	}

	out := &TaskBatchResult{}
	tasks := make([]entities.Task, 0, len(results))
	for _, r := range results {
		seg, found := byID[r.SegmentID]
		if !found {
			continue
		}
		label, p, ok := BestLabel(r.Probabilities, req.Threshold)
		if !ok {
			out.Skipped++
			continue
		}
		segID := seg.ID
		tasks = append(tasks, entities.Task{
			SegmentID:     &segID,
			RecordingID:   seg.RecordingID,
			Onset:         seg.Onset,
			Offset:        seg.Offset,
			SpeciesID:     *speciesID,
			ProposedLabel: label,
			Confidence:    p,
		})
	}

	name := req.Name
	if name == "" {
		name = fmt.Sprintf("%s review", run.Name)
	}
	runID := run.ID
	batch := &entities.TaskBatch{
		Name:                name,
		SpeciesID:           *speciesID,
		ProjectID:           rec.ProjectID,
		ClassificationRunID: &runID,
		CreatedBy:           req.UserID,
		GroupID:             rec.GroupID,
	}
	if err := s.store.CreateTaskBatch(ctx, batch, tasks); err != nil {
		return nil, err
	}
	out.Batch = batch
	out.Created = len(tasks)

	GetLogger().Info("task batch created from classification run",
		logger.Uint64("run_id", uint64(run.ID)),
		logger.Uint64("batch_id", uint64(batch.ID)),
		logger.Int("tasks", out.Created),
		logger.Int("skipped", out.Skipped))
	return out, nil
}
