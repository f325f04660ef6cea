package models

import (
	"time"

	"gorm.io/datatypes"
)

// BuildProfile is a user's last-used build configuration.
// There is at most one per user and saving overwrites it.
type BuildProfile struct {
	UserID    string         `json:"userId" gorm:"type:uuid;primaryKey"`
	Payload   datatypes.JSON `json:"payload" gorm:"type:jsonb"`
	UpdatedAt time.Time      `json:"updatedAt" gorm:"not null"`
}

// TableName pins the table name used by the store and migrations.
func (BuildProfile) TableName() string { return "build_profiles" }
