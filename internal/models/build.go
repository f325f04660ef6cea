package models

import "time"

// BuildStatus represents the current state of a build job.
type BuildStatus string

const (
	BuildStatusPending BuildStatus = "pending"
	BuildStatusRunning BuildStatus = "running"
	BuildStatusSuccess BuildStatus = "success"
	BuildStatusFailed  BuildStatus = "failed"
)

// IsValid reports whether s is one of the known job statuses.
func (s BuildStatus) IsValid() bool {
	switch s {
	case BuildStatusPending, BuildStatusRunning, BuildStatusSuccess, BuildStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed from s.
func (s BuildStatus) IsTerminal() bool {
	return s == BuildStatusSuccess || s == BuildStatusFailed
}

// BuildChannel identifies who executes a job.
type BuildChannel string

const (
	// BuildChannelLocal jobs are claimed and run by the worker loop.
	BuildChannelLocal BuildChannel = "local"
	// BuildChannelRemote jobs run on GitHub Actions and are reconciled by webhook.
	BuildChannelRemote BuildChannel = "remote"
)

// BuildSuccessMessage is stored on jobs the worker completes.
const BuildSuccessMessage = "Build completed successfully"

// BuildJob is one request to materialize a template into an artifact.
type BuildJob struct {
	ID           string       `json:"id" gorm:"type:uuid;primaryKey"`
	UserID       string       `json:"userId" gorm:"type:uuid;not null;index"`
	TemplateName string       `json:"templateName" gorm:"type:text;not null"`
	EnvPayload   string       `json:"-" gorm:"type:text"`
	Channel      BuildChannel `json:"channel" gorm:"type:text;not null"`
	Status       BuildStatus  `json:"status" gorm:"type:text;not null;index"`
	Message      string       `json:"message" gorm:"type:text"`
	ArtifactID   *string      `json:"artifactId" gorm:"type:uuid"`
	CreatedAt    time.Time    `json:"createdAt" gorm:"not null;index"`
	StartedAt    *time.Time   `json:"startedAt,omitempty"`
	FinishedAt   *time.Time   `json:"finishedAt,omitempty"`
}

// TableName pins the table name used by the store and migrations.
func (BuildJob) TableName() string { return "build_jobs" }

// BuildArtifact is the packaged output of a successful build.
// OutputPath is a local file for worker builds and an https URL for remote builds.
type BuildArtifact struct {
	ID           string    `json:"id" gorm:"type:uuid;primaryKey"`
	UserID       string    `json:"userId" gorm:"type:uuid;not null;index"`
	TemplateName string    `json:"templateName" gorm:"type:text;not null"`
	OutputPath   string    `json:"-" gorm:"type:text;not null"`
	Filename     string    `json:"filename" gorm:"type:text"`
	CreatedAt    time.Time `json:"createdAt" gorm:"not null;index"`
}

// TableName pins the table name used by the store and migrations.
func (BuildArtifact) TableName() string { return "build_artifacts" }

// IsRemote reports whether the artifact lives at an external URL.
func (a *BuildArtifact) IsRemote() bool {
	return IsURL(a.OutputPath)
}
