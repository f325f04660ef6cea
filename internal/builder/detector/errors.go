package detector

import "errors"

// Detection errors.
var (
	// ErrNoProjectRoot is returned when no package.json is found within the search depth.
	ErrNoProjectRoot = errors.New("no package.json found")

	// ErrInvalidPackageJSON is returned when package.json cannot be parsed.
	ErrInvalidPackageJSON = errors.New("failed to parse package.json")
)
