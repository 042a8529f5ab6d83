package entities

import (
	"time"

	"gorm.io/datatypes"
)

// ClusteringScope selects which segments a clustering run covers.
type ClusteringScope string

const (
	ScopeSegmentation ClusteringScope = "segmentation"
	ScopeProject      ClusteringScope = "project"
)

// ClusteringRun is an unsupervised grouping of segments.
type ClusteringRun struct {
	ID                    uint            `gorm:"primaryKey"`
	Name                  string          `gorm:"type:varchar(255)"`
	Scope                 ClusteringScope `gorm:"type:varchar(20);not null"`
	SegmentationID        *uint           `gorm:"index"`
	ProjectID             *uint           `gorm:"index"`
	SpeciesID             *uint
	Algorithm             string         `gorm:"type:varchar(30);not null"`
	Parameters            datatypes.JSON `gorm:"type:json"`
	FeatureMethod         string         `gorm:"type:varchar(30);not null;default:mfcc"`
	FeatureParams         datatypes.JSON `gorm:"type:json"`
	BatchSize             int            `gorm:"not null;default:500"`
	Status                JobStatus      `gorm:"type:varchar(20);not null;index"`
	Progress              float64        `gorm:"not null;default:0"`
	ProgressMessage       string         `gorm:"type:varchar(255)"`
	ErrorMessage          string         `gorm:"type:text"`
	NClustersCreated      int            `gorm:"not null;default:0"`
	NumSegmentsProcessed  int            `gorm:"not null;default:0"`
	SilhouetteScore       *float64
	IncludedSegmentations datatypes.JSON `gorm:"type:json"` // project scope: [{segmentation_id, segments}]
	SkippedSegmentations  datatypes.JSON `gorm:"type:json"`
	CreatedBy             uint           `gorm:"not null;default:0"`
	GroupID               uint           `gorm:"not null;default:0"`
	CreatedAt             time.Time      `gorm:"autoCreateTime"`
	UpdatedAt             time.Time      `gorm:"autoUpdateTime"`
}

// TableName returns the table name for GORM.
func (ClusteringRun) TableName() string {
	return "clustering_runs"
}

// Cluster is one group discovered by a run. ClusterID is zero-based within the run.
type Cluster struct {
	ID                      uint     `gorm:"primaryKey"`
	RunID                   uint     `gorm:"not null;uniqueIndex:idx_cluster_run_number"`
	ClusterID               int      `gorm:"not null;uniqueIndex:idx_cluster_run_number"`
	Label                   string   `gorm:"type:varchar(255)"`
	Description             string   `gorm:"type:text"`
	Size                    int      `gorm:"not null;default:0"`
	VisX                    *float64
	VisY                    *float64
	RepresentativeSegmentID *uint
}

// TableName returns the table name for GORM.
func (Cluster) TableName() string {
	return "clusters"
}

// SegmentCluster assigns a segment to a cluster.
type SegmentCluster struct {
	ID               uint    `gorm:"primaryKey"`
	SegmentID        uint    `gorm:"not null;uniqueIndex:idx_segment_cluster"`
	ClusterID        uint    `gorm:"not null;uniqueIndex:idx_segment_cluster;index"` // Cluster.ID
	Confidence       float64 `gorm:"not null;default:1"`
	DistanceToCenter float64 `gorm:"not null;default:0"`

	Segment *Segment `gorm:"foreignKey:SegmentID;constraint:false"`
}

// TableName returns the table name for GORM.
func (SegmentCluster) TableName() string {
	return "segment_clusters"
}

// ClusterCallMapping attaches a call type to a cluster.
type ClusterCallMapping struct {
	ID         uint    `gorm:"primaryKey"`
	ClusterID  uint    `gorm:"not null;uniqueIndex:idx_cluster_call"`
	CallID     uint    `gorm:"not null;uniqueIndex:idx_cluster_call"`
	Confidence float64 `gorm:"not null;default:0"`
	Notes      string  `gorm:"type:text"`
}

// TableName returns the table name for GORM.
func (ClusterCallMapping) TableName() string {
	return "cluster_call_mappings"
}
