package entities

import (
	"time"

	"gorm.io/datatypes"
)

// TrainingJob trains a classifier from a task batch or a labeled folder.
// Exactly one of TaskBatchID and DataFolder is set.
type TrainingJob struct {
	ID             uint           `gorm:"primaryKey"`
	Name           string         `gorm:"type:varchar(255)"`
	TaskBatchID    *uint          `gorm:"index"`
	DataFolder     string         `gorm:"type:varchar(255)"`
	SpeciesID      *uint          `gorm:"index"`
	AlgorithmType  string         `gorm:"type:varchar(10);not null"` // knn or lda
	ResponseFormat ResponseFormat `gorm:"type:varchar(30);not null"`
	Parameters     datatypes.JSON `gorm:"type:json"`
	Status         JobStatus      `gorm:"type:varchar(20);not null;index"`
	Progress       float64        `gorm:"not null;default:0"`
	ErrorMessage   string         `gorm:"type:text"`
	ClassifierID   *uint
	Accuracy       *float64
	Classes        datatypes.JSON `gorm:"type:json"`
	CreatedBy      uint           `gorm:"not null;default:0"`
	GroupID        uint           `gorm:"not null;default:0"`
	CreatedAt      time.Time      `gorm:"autoCreateTime"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime"`
}

// TableName returns the table name for GORM.
func (TrainingJob) TableName() string {
	return "training_jobs"
}

// SpectrogramJob renders a spectrogram image of a recording or a slice of it.
type SpectrogramJob struct {
	ID           uint      `gorm:"primaryKey"`
	RecordingID  uint      `gorm:"not null;index"`
	Onset        *float64  // nil renders the whole recording
	Offset       *float64
	Status       JobStatus `gorm:"type:varchar(20);not null"`
	Progress     float64   `gorm:"not null;default:0"`
	ErrorMessage string    `gorm:"type:text"`
	OutputPath   string    `gorm:"type:varchar(500)"`
	CreatedBy    uint      `gorm:"not null;default:0"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

// TableName returns the table name for GORM.
func (SpectrogramJob) TableName() string {
	return "spectrogram_jobs"
}
