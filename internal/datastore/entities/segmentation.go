package entities

import (
	"time"

	"gorm.io/datatypes"
)

// AlgorithmType selects the segmentation strategy.
type AlgorithmType string

const (
	AlgorithmThreshold AlgorithmType = "threshold"
	AlgorithmEnergy    AlgorithmType = "energy"
	AlgorithmML        AlgorithmType = "ml"
	AlgorithmExternal  AlgorithmType = "external"
)

// SegmentationAlgorithm describes one configured segmentation strategy.
// A nil GroupID makes the algorithm visible to every group.
type SegmentationAlgorithm struct {
	ID             uint           `gorm:"primaryKey"`
	Name           string         `gorm:"type:varchar(255);not null;uniqueIndex"`
	Type           AlgorithmType  `gorm:"type:varchar(20);not null"`
	TaskIdentifier string         `gorm:"type:varchar(255)"`
	ServiceURL     string         `gorm:"type:varchar(500)"`
	Endpoint       string         `gorm:"type:varchar(255)"`
	DefaultParams  datatypes.JSON `gorm:"type:json"`
	GroupID        *uint          `gorm:"index"`
	IsActive       bool           `gorm:"not null;default:true"`
}

// TableName returns the table name for GORM.
func (SegmentationAlgorithm) TableName() string {
	return "segmentation_algorithms"
}

// Segmentation is one attempt at dividing a recording into segments.
type Segmentation struct {
	ID             uint           `gorm:"primaryKey"`
	Name           string         `gorm:"type:varchar(255)"`
	RecordingID    uint           `gorm:"not null;index"`
	AlgorithmID    *uint          `gorm:"index"` // nil for manual and imported segmentations
	Status         JobStatus      `gorm:"type:varchar(20);not null;index"`
	Progress       float64        `gorm:"not null;default:0"`
	ErrorMessage   string         `gorm:"type:text"`
	Params         datatypes.JSON `gorm:"type:json"`
	ManuallyEdited bool           `gorm:"not null;default:false"`
	CreatedBy      uint           `gorm:"not null;default:0"`
	CreatedAt      time.Time      `gorm:"autoCreateTime"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime"`

	Recording *Recording             `gorm:"foreignKey:RecordingID;constraint:false"`
	Algorithm *SegmentationAlgorithm `gorm:"foreignKey:AlgorithmID;constraint:false"`
}

// TableName returns the table name for GORM.
func (Segmentation) TableName() string {
	return "segmentations"
}

// Segment is the half-open interval [Onset, Offset) in seconds.
type Segment struct {
	ID             uint      `gorm:"primaryKey"`
	SegmentationID uint      `gorm:"not null;index:idx_segment_segmentation_onset"`
	RecordingID    uint      `gorm:"not null;index"`
	Onset          float64   `gorm:"not null;index:idx_segment_segmentation_onset"`
	Offset         float64   `gorm:"not null"`
	Name           string    `gorm:"type:varchar(255)"`
	Notes          string    `gorm:"type:text"`
	CreatedBy      uint      `gorm:"not null;default:0"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
}

// TableName returns the table name for GORM.
func (Segment) TableName() string {
	return "segments"
}

// Duration returns the segment length in seconds.
func (s Segment) Duration() float64 {
	return s.Offset - s.Onset
}
