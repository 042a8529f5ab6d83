package entities

import "time"

// ClassificationRun is one execution of a classifier over one segmentation.
// Runs start queued and are executed one at a time.
type ClassificationRun struct {
	ID             uint           `gorm:"primaryKey"`
	Name           string         `gorm:"type:varchar(255)"`
	SegmentationID uint           `gorm:"not null;index"`
	ClassifierID   uint           `gorm:"not null;index"`
	Status         JobStatus      `gorm:"type:varchar(20);not null;index:idx_run_status_created"`
	Progress       float64        `gorm:"not null;default:0"`
	ErrorMessage   string         `gorm:"type:text"`
	AlgorithmType  ResponseFormat `gorm:"type:varchar(30)"` // copied from the classifier at creation
	CreatedBy      uint           `gorm:"not null;default:0"`
	GroupID        uint           `gorm:"not null;default:0;index"`
	CreatedAt      time.Time      `gorm:"autoCreateTime;index:idx_run_status_created"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime"`
	StartedAt      *time.Time
	CompletedAt    *time.Time

	Segmentation *Segmentation `gorm:"foreignKey:SegmentationID;constraint:false"`
	Classifier   *Classifier   `gorm:"foreignKey:ClassifierID;constraint:false"`
}

// TableName returns the table name for GORM.
func (ClassificationRun) TableName() string {
	return "classification_runs"
}

// ClassificationResult is the outcome for one (run, segment) pair.
type ClassificationResult struct {
	ID        uint      `gorm:"primaryKey"`
	RunID     uint      `gorm:"not null;uniqueIndex:idx_result_run_segment"`
	SegmentID uint      `gorm:"not null;uniqueIndex:idx_result_run_segment;index"`
	Note      string    `gorm:"type:varchar(500)"`
	CreatedAt time.Time `gorm:"autoCreateTime"`

	Probabilities []CallProbability `gorm:"foreignKey:ResultID;constraint:false"`
}

// TableName returns the table name for GORM.
func (ClassificationResult) TableName() string {
	return "classification_results"
}

// CallProbability is the probability of one call for one result.
type CallProbability struct {
	ID          uint    `gorm:"primaryKey"`
	ResultID    uint    `gorm:"not null;uniqueIndex:idx_prob_result_call"`
	CallID      uint    `gorm:"not null;uniqueIndex:idx_prob_result_call"`
	Probability float64 `gorm:"not null"`

	Call *Call `gorm:"foreignKey:CallID;constraint:false"`
}

// TableName returns the table name for GORM.
func (CallProbability) TableName() string {
	return "call_probabilities"
}

// TaskBatch groups annotation tasks, optionally seeded from a classification run.
type TaskBatch struct {
	ID                  uint      `gorm:"primaryKey"`
	Name                string    `gorm:"type:varchar(255);not null"`
	SpeciesID           uint      `gorm:"not null;index"`
	ProjectID           *uint     `gorm:"index"`
	ClassificationRunID *uint     `gorm:"index"`
	CreatedBy           uint      `gorm:"not null;default:0"`
	GroupID             uint      `gorm:"not null;default:0"`
	CreatedAt           time.Time `gorm:"autoCreateTime"`

	Tasks []Task `gorm:"foreignKey:BatchID;constraint:false"`
}

// TableName returns the table name for GORM.
func (TaskBatch) TableName() string {
	return "task_batches"
}

// Task is one segment awaiting or carrying a human label.
type Task struct {
	ID            uint       `gorm:"primaryKey"`
	BatchID       uint       `gorm:"not null;index"`
	SegmentID     *uint      `gorm:"index"`
	RecordingID   uint       `gorm:"not null"`
	Onset         float64    `gorm:"not null"`
	Offset        float64    `gorm:"not null"`
	SpeciesID     uint       `gorm:"not null"`
	ProposedLabel string     `gorm:"type:varchar(50)"`
	Confidence    float64    `gorm:"not null;default:0"`
	Label         *string    `gorm:"type:varchar(50)"`
	IsDone        bool       `gorm:"not null;default:false"`
	AnnotatedBy   *uint
	AnnotatedAt   *time.Time

	Recording *Recording `gorm:"foreignKey:RecordingID;constraint:false"`
}

// TableName returns the table name for GORM.
func (Task) TableName() string {
	return "tasks"
}
