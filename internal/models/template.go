package models

import "time"

// TemplateKind distinguishes uploaded archives from GitHub-backed templates.
type TemplateKind string

const (
	TemplateKindArchive TemplateKind = "archive"
	TemplateKindGitHub  TemplateKind = "github"
)

// Template is source material a build can be produced from.
type Template struct {
	Name        string       `json:"name" yaml:"-"`
	Kind        TemplateKind `json:"kind" yaml:"kind"`
	Description string       `json:"description,omitempty" yaml:"description,omitempty"`

	// GitHub-backed templates only.
	Repo   string `json:"repo,omitempty" yaml:"repo,omitempty"`
	Ref    string `json:"ref,omitempty" yaml:"ref,omitempty"`
	Subdir string `json:"subdir,omitempty" yaml:"subdir,omitempty"`

	// Read live from disk for archives; never persisted.
	Size       int64      `json:"size,omitempty" yaml:"-"`
	ModifiedAt *time.Time `json:"modifiedAt,omitempty" yaml:"-"`
}

// IsRemote reports whether builds of this template run on GitHub Actions.
func (t *Template) IsRemote() bool {
	return t.Kind == TemplateKindGitHub
}
