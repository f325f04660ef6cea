package models

import "time"

// User is an account that can request builds.
type User struct {
	ID            string    `json:"id" gorm:"type:uuid;primaryKey"`
	Email         string    `json:"email" gorm:"type:text;not null;uniqueIndex"`
	PasswordHash  string    `json:"-" gorm:"type:text;not null"`
	IsAdmin       bool      `json:"isAdmin" gorm:"not null;default:false"`
	LastBuildDate string    `json:"lastBuildDate,omitempty" gorm:"type:text"`
	DailyUsed     int       `json:"dailyUsed" gorm:"not null;default:0"`
	CreatedAt     time.Time `json:"createdAt" gorm:"not null"`
}

// TableName pins the table name used by the store and migrations.
func (User) TableName() string { return "users" }
