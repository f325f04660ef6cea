// Package validation checks user-supplied build inputs before a job is stored.
package validation

import (
	"fmt"
	"regexp"

	"github.com/joho/godotenv"
)

// envKeyRegex matches POSIX-style variable names.
var envKeyRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

const (
	// MaxEnvKeyLength is the maximum length of a variable name.
	MaxEnvKeyLength = 256
	// MaxEnvValueLength is the maximum length of a single value (32KB).
	MaxEnvValueLength = 32 * 1024
	// MaxEnvPayloadLength bounds the whole dotenv payload (256KB).
	MaxEnvPayloadLength = 256 * 1024
)

// ValidationError reports which part of an env payload was rejected.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateEnvKey checks a variable name: non-empty, at most 256 characters,
// starting with a letter or underscore and containing only letters, digits
// and underscores.
func ValidateEnvKey(key string) error {
	if key == "" {
		return &ValidationError{Field: "key", Message: "environment variable key is required"}
	}
	if len(key) > MaxEnvKeyLength {
		return &ValidationError{Field: "key", Message: "environment variable key must be 256 characters or less"}
	}
	if !envKeyRegex.MatchString(key) {
		return &ValidationError{
			Field:   key,
			Message: "environment variable key must start with a letter or underscore and contain only letters, numbers, and underscores",
		}
	}
	return nil
}

// ValidateEnvValue checks that a value fits in 32KB.
func ValidateEnvValue(key, value string) error {
	if len(value) > MaxEnvValueLength {
		return &ValidationError{Field: key, Message: "environment variable value must be 32KB or less"}
	}
	return nil
}

// ValidateEnvPayload parses a dotenv payload and checks every entry. An empty
// payload is valid.
func ValidateEnvPayload(payload string) error {
	if len(payload) > MaxEnvPayloadLength {
		return &ValidationError{Field: "env", Message: "environment payload must be 256KB or less"}
	}
	vars, err := godotenv.Unmarshal(payload)
	if err != nil {
		return &ValidationError{Field: "env", Message: fmt.Sprintf("malformed dotenv payload: %v", err)}
	}
	for key, value := range vars {
		if err := ValidateEnvKey(key); err != nil {
			return err
		}
		if err := ValidateEnvValue(key, value); err != nil {
			return err
		}
	}
	return nil
}
