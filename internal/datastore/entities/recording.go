package entities

import "time"

// Project groups recordings for project-scope clustering.
type Project struct {
	ID        uint      `gorm:"primaryKey"`
	Name      string    `gorm:"type:varchar(255);not null"`
	GroupID   uint      `gorm:"not null;index"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// TableName returns the table name for GORM.
func (Project) TableName() string {
	return "projects"
}

// Recording is an uploaded audio file. Hidden recordings are transient
// preview slices and are excluded from user listings.
type Recording struct {
	ID         uint      `gorm:"primaryKey"`
	Name       string    `gorm:"type:varchar(255);not null"`
	AudioPath  string    `gorm:"type:varchar(500);not null"` // relative to the media root
	SampleRate int       `gorm:"not null"`
	Duration   float64   `gorm:"not null"` // seconds
	Channels   int       `gorm:"not null;default:1"`
	GroupID    uint      `gorm:"not null;index"`
	SpeciesID  *uint     `gorm:"index"`
	ProjectID  *uint     `gorm:"index"`
	CreatedBy  uint      `gorm:"not null"`
	Hidden     bool      `gorm:"not null;default:false;index"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`

	Species *Species `gorm:"foreignKey:SpeciesID;constraint:false"`
	Project *Project `gorm:"foreignKey:ProjectID;constraint:false"`
}

// TableName returns the table name for GORM.
func (Recording) TableName() string {
	return "recordings"
}
