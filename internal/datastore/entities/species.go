package entities

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// ErrClassifierSpeciesImmutable is returned when an update would change the
// species of a classifier that already has one.
var ErrClassifierSpeciesImmutable = errors.New("classifier species cannot be changed once set")

// Species owns a vocabulary of calls. A nil GroupID marks a system-global species.
type Species struct {
	ID        uint      `gorm:"primaryKey"`
	Name      string    `gorm:"type:varchar(255);not null"`
	GroupID   *uint     `gorm:"index"`
	IsSystem  bool      `gorm:"not null;default:false"`
	CreatedAt time.Time `gorm:"autoCreateTime"`

	Calls []Call `gorm:"foreignKey:SpeciesID;constraint:false"`
}

// TableName returns the table name for GORM.
func (Species) TableName() string {
	return "species"
}

// Call is a named vocalization type, unique by short name within its species.
type Call struct {
	ID          uint   `gorm:"primaryKey"`
	SpeciesID   uint   `gorm:"not null;uniqueIndex:idx_call_species_short"`
	ShortName   string `gorm:"type:varchar(50);not null;uniqueIndex:idx_call_species_short"`
	LongName    string `gorm:"type:varchar(255)"`
	Description string `gorm:"type:text"`
}

// TableName returns the table name for GORM.
func (Call) TableName() string {
	return "calls"
}

// ResponseFormat is the output shape of a classifier endpoint.
type ResponseFormat string

const (
	ResponseHighestOnly     ResponseFormat = "highest_only"
	ResponseFullProbability ResponseFormat = "full_probability"
)

// Classifier is a trained model reachable over HTTP.
type Classifier struct {
	ID                uint           `gorm:"primaryKey"`
	Name              string         `gorm:"type:varchar(255);not null"`
	SpeciesID         *uint          `gorm:"index"`
	ResponseFormat    ResponseFormat `gorm:"type:varchar(30);not null"`
	ServiceURL        string         `gorm:"type:varchar(500)"`
	Endpoint          string         `gorm:"type:varchar(255)"`
	ModelPath         string         `gorm:"type:varchar(500)"` // relative to the media root
	SourceTaskBatchID *uint
	IsActive          bool      `gorm:"not null;default:true"`
	GroupID           *uint     `gorm:"index"`
	CreatedBy         uint      `gorm:"not null;default:0"`
	CreatedAt         time.Time `gorm:"autoCreateTime"`

	Species *Species `gorm:"foreignKey:SpeciesID;constraint:false"`
}

// TableName returns the table name for GORM.
func (Classifier) TableName() string {
	return "classifiers"
}

// BeforeUpdate rejects changing a species that is already set.
func (c *Classifier) BeforeUpdate(tx *gorm.DB) error {
	if c.ID == 0 {
		return nil
	}
	var current Classifier
	err := tx.Session(&gorm.Session{NewDB: true}).
		Model(&Classifier{}).
		Select("id", "species_id").
		Where("id = ?", c.ID).
		Take(&current).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if current.SpeciesID == nil {
		return nil
	}
	if c.SpeciesID == nil || *c.SpeciesID != *current.SpeciesID {
		return ErrClassifierSpeciesImmutable
	}
	return nil
}
