package clustering

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"

	"github.com/battycoda/battycoda/internal/datastore/entities"
	"github.com/battycoda/battycoda/internal/errors"
)

var (
	segmentationColumns = []string{"segment_id", "onset", "offset", "cluster_id", "cluster_label", "confidence", "distance_to_center"}
	projectColumns      = []string{"segment_id", "recording_id", "recording_name", "onset", "offset", "cluster_id", "cluster_label", "confidence", "distance_to_center"}
)

// ExportCSV writes the memberships of a completed run. Project-scope runs
// add recording_id and recording_name columns.
func (e *Engine) ExportCSV(ctx context.Context, runID uint, w io.Writer) error {
	run, err := e.store.GetClusteringRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status != entities.StatusCompleted {
		return invalid("clustering run %d is %s, not completed", run.ID, run.Status)
	}
	members, err := e.store.ListClusterMembers(ctx, runID)
	if err != nil {
		return err
	}

	project := run.Scope == entities.ScopeProject
	cw := csv.NewWriter(w)
	header := segmentationColumns
	if project {
		header = projectColumns
	}
	if err := cw.Write(header); err != nil {
		return exportError(err, runID)
	}

	ff := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	for _, m := range members {
		row := []string{strconv.FormatUint(uint64(m.SegmentID), 10)}
		if project {
			row = append(row, strconv.FormatUint(uint64(m.RecordingID), 10), m.RecordingName)
		}
		row = append(row,
			ff(m.Onset), ff(m.Offset),
			strconv.Itoa(m.ClusterID), m.ClusterLabel,
			ff(m.Confidence), ff(m.DistanceToCenter))
		if err := cw.Write(row); err != nil {
			return exportError(err, runID)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return exportError(err, runID)
	}
	return nil
}

func exportError(err error, runID uint) error {
	return errors.New(err).
		Component("clustering").
		Category(errors.CategoryFileIO).
		Context("run_id", runID).
		Build()
}
