// Package datastore is the persistence layer of the processing pipeline.
//
// Consumers depend on the narrow interfaces below; Store bundles them for
// wiring. The gorm implementation works against SQLite and MySQL.
package datastore

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/battycoda/battycoda/internal/datastore/entities"
)

// JobKind names a job variant.
type JobKind string

const (
	KindSegmentation   JobKind = "segmentation"
	KindClassification JobKind = "classification"
	KindTraining       JobKind = "training"
	KindClustering     JobKind = "clustering"
	KindSpectrogram    JobKind = "spectrogram"
)

// JobRecord is the lifecycle view of any job row.
type JobRecord struct {
	Kind            JobKind
	ID              uint
	Status          entities.JobStatus
	Progress        float64
	ProgressMessage string
	ErrorMessage    string
	CreatedBy       uint
	ProducedID      *uint // classifier id for training jobs
	UpdatedAt       time.Time
}

// Interval is a half-open [Onset, Offset) range in seconds.
type Interval struct {
	Onset  float64
	Offset float64
}

// JobStateStore exposes the shared lifecycle columns of every job table.
type JobStateStore interface {
	// JobState returns the lifecycle columns of a job.
	JobState(ctx context.Context, kind JobKind, id uint) (*JobRecord, error)
	// TransitionJob moves a job to `to` only if its current status is one of
	// `from`. It reports whether the transition happened. Extra columns in
	// fields are written in the same statement.
	TransitionJob(ctx context.Context, kind JobKind, id uint, from []entities.JobStatus, to entities.JobStatus, fields map[string]any) (bool, error)
	// UpdateJobProgress writes progress on a non-terminal job and returns the
	// job's status after the write.
	UpdateJobProgress(ctx context.Context, kind JobKind, id uint, progress float64, message string) (entities.JobStatus, error)
	// PendingJobs returns up to limit ids of pending jobs, oldest first.
	PendingJobs(ctx context.Context, kind JobKind, limit int) ([]uint, error)
}

// RecordingStore manages projects and recordings.
type RecordingStore interface {
	CreateProject(ctx context.Context, p *entities.Project) error
	GetProject(ctx context.Context, id uint) (*entities.Project, error)
	CreateRecording(ctx context.Context, r *entities.Recording) error
	GetRecording(ctx context.Context, id uint) (*entities.Recording, error)
	ListRecordings(ctx context.Context, groupID uint) ([]entities.Recording, error)
	// DeleteRecording removes a recording and everything derived from it.
	DeleteRecording(ctx context.Context, id uint) error
}

// SegmentationStore manages segmentations and their segments.
type SegmentationStore interface {
	CreateAlgorithm(ctx context.Context, a *entities.SegmentationAlgorithm) error
	GetAlgorithm(ctx context.Context, id uint) (*entities.SegmentationAlgorithm, error)
	GetAlgorithmByName(ctx context.Context, name string) (*entities.SegmentationAlgorithm, error)
	CreateSegmentation(ctx context.Context, s *entities.Segmentation) error
	GetSegmentation(ctx context.Context, id uint) (*entities.Segmentation, error)
	ListSegments(ctx context.Context, segmentationID uint) ([]entities.Segment, error)
	GetSegment(ctx context.Context, id uint) (*entities.Segment, error)
	// ReplaceSegments swaps all segments of a segmentation in one transaction.
	ReplaceSegments(ctx context.Context, segmentationID uint, intervals []Interval) (int, error)
	AddSegment(ctx context.Context, segmentationID uint, iv Interval, name string, userID uint) (*entities.Segment, error)
	UpdateSegment(ctx context.Context, segmentID uint, iv Interval) (*entities.Segment, error)
	DeleteSegment(ctx context.Context, segmentID uint) error
	DeleteSegmentation(ctx context.Context, id uint) error
}

// SpeciesStore manages species, calls and classifiers.
type SpeciesStore interface {
	CreateSpecies(ctx context.Context, sp *entities.Species, callNames []string) error
	GetSpecies(ctx context.Context, id uint) (*entities.Species, error)
	ListCalls(ctx context.Context, speciesID uint) ([]entities.Call, error)
	CanModifySpecies(ctx context.Context, speciesID uint) (bool, error)
	AddCall(ctx context.Context, speciesID uint, shortName, longName string) (*entities.Call, error)
	DeleteCall(ctx context.Context, callID uint) error
	CreateClassifier(ctx context.Context, c *entities.Classifier) error
	GetClassifier(ctx context.Context, id uint) (*entities.Classifier, error)
	UpdateClassifier(ctx context.Context, c *entities.Classifier) error
}

// ClassificationStore manages classification runs and their results.
type ClassificationStore interface {
	CreateClassificationRun(ctx context.Context, run *entities.ClassificationRun) error
	GetClassificationRun(ctx context.Context, id uint) (*entities.ClassificationRun, error)
	// NextQueuedRun returns the oldest queued run or ErrNotFound.
	NextQueuedRun(ctx context.Context) (*entities.ClassificationRun, error)
	CountRunsInStatus(ctx context.Context, status entities.JobStatus) (int64, error)
	// SaveClassificationResult writes one result and all its probabilities atomically.
	SaveClassificationResult(ctx context.Context, runID, segmentID uint, probabilities map[uint]float64, note string) error
	ListResults(ctx context.Context, runID uint) ([]entities.ClassificationResult, error)
	UnclassifiedSegments(ctx context.Context, speciesID uint, projectID *uint) ([]entities.Segment, error)
	DeleteClassificationRun(ctx context.Context, id uint) error
}

// TaskStore manages annotation batches.
type TaskStore interface {
	CreateTaskBatch(ctx context.Context, batch *entities.TaskBatch, tasks []entities.Task) error
	GetTaskBatch(ctx context.Context, id uint) (*entities.TaskBatch, error)
	ListTasks(ctx context.Context, batchID uint) ([]entities.Task, error)
	AnnotateTask(ctx context.Context, taskID uint, label string, userID uint) error
}

// TrainingStore manages training jobs.
type TrainingStore interface {
	CreateTrainingJob(ctx context.Context, job *entities.TrainingJob) error
	GetTrainingJob(ctx context.Context, id uint) (*entities.TrainingJob, error)
	// CompleteTraining stores the classifier and links it to the job atomically.
	CompleteTraining(ctx context.Context, jobID uint, classifier *entities.Classifier, accuracy *float64, classes []string) error
}

// ProjectSegmentation is a segmentation considered by a project-scope run.
type ProjectSegmentation struct {
	SegmentationID uint   `json:"segmentation_id"`
	RecordingID    uint   `json:"recording_id"`
	RecordingName  string `json:"recording_name"`
	Segments       int    `json:"segments"`
	Reason         string `json:"reason,omitempty"`
}

// ClusterMember is one exported row of a clustering run.
type ClusterMember struct {
	SegmentID        uint
	Onset            float64
	Offset           float64
	RecordingID      uint
	RecordingName    string
	ClusterID        int
	ClusterLabel     string
	Confidence       float64
	DistanceToCenter float64
}

// ClusteringStore manages clustering runs and their output.
type ClusteringStore interface {
	CreateClusteringRun(ctx context.Context, run *entities.ClusteringRun) error
	GetClusteringRun(ctx context.Context, id uint) (*entities.ClusteringRun, error)
	UpdateClusteringRun(ctx context.Context, id uint, fields map[string]any) error
	// ProjectSegmentations lists the completed segmentations of a project,
	// newest first per recording, optionally filtered by species.
	ProjectSegmentations(ctx context.Context, projectID uint, speciesID *uint) ([]ProjectSegmentation, error)
	SegmentsWithRecordings(ctx context.Context, segmentationIDs []uint) ([]entities.Segment, map[uint]*entities.Recording, error)
	// SaveClusteringOutput writes clusters and memberships in one transaction.
	// Memberships are keyed by the zero-based cluster number.
	SaveClusteringOutput(ctx context.Context, runID uint, clusters []entities.Cluster, memberships []entities.SegmentCluster) error
	ListClusters(ctx context.Context, runID uint) ([]entities.Cluster, error)
	ListClusterMembers(ctx context.Context, runID uint) ([]ClusterMember, error)
	MapClusterToCall(ctx context.Context, clusterID, callID uint, confidence float64, notes string) error
	DeleteClusteringRun(ctx context.Context, id uint) error
}

// SpectrogramStore manages spectrogram jobs.
type SpectrogramStore interface {
	CreateSpectrogramJob(ctx context.Context, job *entities.SpectrogramJob) error
	GetSpectrogramJob(ctx context.Context, id uint) (*entities.SpectrogramJob, error)
}

// NotificationStore persists user notifications.
type NotificationStore interface {
	SaveNotification(ctx context.Context, n *entities.Notification) error
	ListNotifications(ctx context.Context, userID uint, unreadOnly bool) ([]entities.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
}

// Store bundles every store interface.
type Store interface {
	JobStateStore
	RecordingStore
	SegmentationStore
	SpeciesStore
	ClassificationStore
	TaskStore
	TrainingStore
	ClusteringStore
	SpectrogramStore
	NotificationStore

	DB() *gorm.DB
	Close() error
}
