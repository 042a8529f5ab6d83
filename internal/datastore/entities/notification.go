package entities

import "time"

// Notification is a persisted message for one user.
type Notification struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)"`
	UserID    uint      `gorm:"not null;index:idx_notification_user_read"`
	Title     string    `gorm:"type:varchar(255);not null"`
	Message   string    `gorm:"type:text"`
	Type      string    `gorm:"type:varchar(30);not null"`
	Icon      string    `gorm:"type:varchar(50)"`
	Link      string    `gorm:"type:varchar(500)"`
	IsRead    bool      `gorm:"not null;default:false;index:idx_notification_user_read"`
	CreatedAt time.Time `gorm:"not null;index"`
}

// TableName returns the table name for GORM.
func (Notification) TableName() string {
	return "notifications"
}

// All returns every entity for auto-migration.
func All() []any {
	return []any{
		&Project{},
		&Recording{},
		&SegmentationAlgorithm{},
		&Segmentation{},
		&Segment{},
		&Species{},
		&Call{},
		&Classifier{},
		&ClassificationRun{},
		&ClassificationResult{},
		&CallProbability{},
		&TaskBatch{},
		&Task{},
		&TrainingJob{},
		&SpectrogramJob{},
		&ClusteringRun{},
		&Cluster{},
		&SegmentCluster{},
		&ClusterCallMapping{},
		&Notification{},
	}
}
