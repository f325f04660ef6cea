// Package migrations holds the goose migrations for the sitekiln schema.
package migrations

import (
	"context"
	"database/sql"
	"time"

	"github.com/pressly/goose/v3"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func init() {
	goose.AddMigrationContext(upInit, downInit)
}

// Schema snapshots. These are frozen at this migration and must not follow
// later changes to internal/models.

type user struct {
	ID            string    `gorm:"type:uuid;primaryKey"`
	Email         string    `gorm:"type:text;not null;uniqueIndex"`
	PasswordHash  string    `gorm:"type:text;not null"`
	IsAdmin       bool      `gorm:"not null;default:false"`
	LastBuildDate *string   `gorm:"type:text"`
	DailyUsed     int       `gorm:"not null;default:0"`
	CreatedAt     time.Time `gorm:"type:timestamptz;not null;default:now()"`
}

func (user) TableName() string { return "users" }

type buildArtifact struct {
	ID           string    `gorm:"type:uuid;primaryKey"`
	UserID       string    `gorm:"type:uuid;not null;index"`
	TemplateName string    `gorm:"type:text;not null"`
	OutputPath   string    `gorm:"type:text;not null"`
	Filename     string    `gorm:"type:text"`
	CreatedAt    time.Time `gorm:"type:timestamptz;not null;default:now();index"`
	User         user      `gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func (buildArtifact) TableName() string { return "build_artifacts" }

type buildJob struct {
	ID           string         `gorm:"type:uuid;primaryKey"`
	UserID       string         `gorm:"type:uuid;not null;index"`
	TemplateName string         `gorm:"type:text;not null"`
	EnvPayload   string         `gorm:"type:text"`
	Channel      string         `gorm:"type:text;not null;default:'local'"`
	Status       string         `gorm:"type:text;not null;index:idx_build_jobs_claim,priority:1"`
	Message      string         `gorm:"type:text"`
	ArtifactID   *string        `gorm:"type:uuid"`
	CreatedAt    time.Time      `gorm:"type:timestamptz;not null;default:now();index:idx_build_jobs_claim,priority:2"`
	StartedAt    *time.Time     `gorm:"type:timestamptz"`
	FinishedAt   *time.Time     `gorm:"type:timestamptz"`
	User         user           `gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Artifact     *buildArtifact `gorm:"foreignKey:ArtifactID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:SET NULL"`
}

func (buildJob) TableName() string { return "build_jobs" }

type buildProfile struct {
	UserID    string         `gorm:"type:uuid;primaryKey"`
	Payload   datatypes.JSON `gorm:"type:jsonb"`
	UpdatedAt time.Time      `gorm:"type:timestamptz;not null;default:now()"`
	User      user           `gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func (buildProfile) TableName() string { return "build_profiles" }

func openTx(tx *sql.Tx) (*gorm.DB, error) {
	return gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
}

func upInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := openTx(tx)
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).AutoMigrate(
		&user{},
		&buildArtifact{},
		&buildJob{},
		&buildProfile{},
	)
}

func downInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := openTx(tx)
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Migrator().DropTable(
		&buildProfile{},
		&buildJob{},
		&buildArtifact{},
		&user{},
	)
}
