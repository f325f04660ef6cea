package executor

import "errors"

// Executor errors. Each failed build is reported with exactly one of these.
var (
	// ErrTemplateNotFound is returned when the template has no archive on disk.
	ErrTemplateNotFound = errors.New("template not found")

	// ErrInvalidArchive is returned when the archive cannot be read or escapes the scratch directory.
	ErrInvalidArchive = errors.New("invalid archive")

	// ErrMissingProjectRoot is returned when no package.json is found near the archive root.
	ErrMissingProjectRoot = errors.New("missing project root")

	// ErrInvalidManifest is returned when package.json cannot be parsed or has no build script.
	ErrInvalidManifest = errors.New("invalid package.json")

	// ErrInstallFailed is returned when dependency installation exits non-zero or times out.
	ErrInstallFailed = errors.New("install failed")

	// ErrBuildFailed is returned when the build script exits non-zero or times out.
	ErrBuildFailed = errors.New("build failed")

	// ErrNoOutputDirectory is returned when the build produced none of the known output directories.
	ErrNoOutputDirectory = errors.New("no output directory")

	// ErrPackageFailed is returned when the output cannot be compressed into the builds directory.
	ErrPackageFailed = errors.New("packaging failed")
)
