package notification

import (
	"fmt"

	"github.com/battycoda/battycoda/internal/datastore"
	"github.com/battycoda/battycoda/internal/datastore/entities"
)

// Notification types written for job events.
const (
	TypeJobCompleted = "job_completed"
	TypeJobFailed    = "job_failed"
	TypeJobCancelled = "job_cancelled"
)

type jobTemplate struct {
	noun     string
	linkFmt  string
	icon     string
	produced string // describes JobRecord.ProducedID on completion
}

var jobTemplates = map[datastore.JobKind]jobTemplate{
	datastore.KindSegmentation:   {noun: "Segmentation", linkFmt: "/segmentations/%d/", icon: "fa-cut"},
	datastore.KindClassification: {noun: "Classification run", linkFmt: "/classification/runs/%d/", icon: "fa-tags"},
	datastore.KindTraining:       {noun: "Classifier training", linkFmt: "/classifiers/training/%d/", icon: "fa-graduation-cap", produced: "Classifier #%d is ready to use."},
	datastore.KindClustering:     {noun: "Clustering run", linkFmt: "/clustering/runs/%d/", icon: "fa-project-diagram"},
	datastore.KindSpectrogram:    {noun: "Spectrogram", linkFmt: "/recordings/%d/spectrogram/", icon: "fa-image"},
}

// Link returns the detail view path for a job. For spectrograms id is the
// recording id.
func Link(kind datastore.JobKind, id uint) string {
	t, ok := jobTemplates[kind]
	if !ok {
		return "/"
	}
	return fmt.Sprintf(t.linkFmt, id)
}

// ForJob renders the notification for a job that reached a terminal state.
// linkID is the id used in the deep link; it equals rec.ID for every kind
// except spectrograms, which link to their recording.
func ForJob(rec *datastore.JobRecord, linkID uint) *entities.Notification {
	t, ok := jobTemplates[rec.Kind]
	if !ok {
		t = jobTemplate{noun: string(rec.Kind) + " job", linkFmt: "/", icon: "fa-bell"}
	}

	n := &entities.Notification{
		UserID: rec.CreatedBy,
		Link:   Link(rec.Kind, linkID),
		Icon:   t.icon,
	}

	switch rec.Status {
	case entities.StatusCompleted:
		n.Type = TypeJobCompleted
		n.Title = t.noun + " completed"
		n.Message = fmt.Sprintf("%s #%d finished successfully.", t.noun, rec.ID)
		if t.produced != "" && rec.ProducedID != nil {
			n.Message += " " + fmt.Sprintf(t.produced, *rec.ProducedID)
		}
	case entities.StatusFailed:
		n.Type = TypeJobFailed
		n.Title = t.noun + " failed"
		n.Message = fmt.Sprintf("%s #%d failed: %s", t.noun, rec.ID, rec.ErrorMessage)
		n.Icon = "fa-exclamation-triangle"
	case entities.StatusCancelled:
		n.Type = TypeJobCancelled
		n.Title = t.noun + " cancelled"
		n.Message = fmt.Sprintf("%s #%d was cancelled.", t.noun, rec.ID)
	default:
		return nil
	}
	return n
}
