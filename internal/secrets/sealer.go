// Package secrets seals environment payloads at rest using age encryption.
package secrets

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"filippo.io/age"
)

var (
	// ErrNoPrivateKey is returned when a sealed payload is read without a private key.
	ErrNoPrivateKey = errors.New("no private key configured for decryption")
	// ErrDecryptionFailed is returned when decryption fails.
	ErrDecryptionFailed = errors.New("decryption failed")
	// ErrEncryptionFailed is returned when encryption fails.
	ErrEncryptionFailed = errors.New("encryption failed")
	// ErrInvalidKey is returned when a key is invalid.
	ErrInvalidKey = errors.New("invalid key format")
)

// sealedPrefix marks payloads stored as base64 age ciphertext.
const sealedPrefix = "age:"

// Config holds the age keys used for env payloads.
type Config struct {
	// AgePublicKey enables sealing. Format: age1...
	AgePublicKey string
	// AgePrivateKey enables opening. Format: AGE-SECRET-KEY-1...
	AgePrivateKey string
}

// Sealer encrypts env payloads before they are stored on a job row and
// decrypts them when the worker needs them. Without a public key payloads are
// stored in plain text, and unsealed payloads are always returned unchanged.
type Sealer struct {
	recipient *age.X25519Recipient
	identity  *age.X25519Identity
	logger    *slog.Logger
}

// NewSealer parses the configured keys. Both are optional.
func NewSealer(cfg Config, logger *slog.Logger) (*Sealer, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Sealer{logger: logger}

	if cfg.AgePublicKey != "" {
		recipient, err := age.ParseX25519Recipient(cfg.AgePublicKey)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid public key: %v", ErrInvalidKey, err)
		}
		s.recipient = recipient
	}

	if cfg.AgePrivateKey != "" {
		identity, err := age.ParseX25519Identity(cfg.AgePrivateKey)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid private key: %v", ErrInvalidKey, err)
		}
		s.identity = identity
	}

	return s, nil
}

// Seal returns the stored form of payload.
func (s *Sealer) Seal(ctx context.Context, payload string) (string, error) {
	if s == nil || s.recipient == nil || payload == "" {
		return payload, nil
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, s.recipient)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	if _, err := io.WriteString(w, payload); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	return sealedPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Open returns the plain payload for a stored value.
func (s *Sealer) Open(ctx context.Context, stored string) (string, error) {
	if !IsSealed(stored) {
		return stored, nil
	}
	if s == nil || s.identity == nil {
		return "", ErrNoPrivateKey
	}

	ciphertext, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	r, err := age.Decrypt(bytes.NewReader(ciphertext), s.identity)
	if err != nil {
		s.logger.Error("failed to create age decryptor", "error", err)
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return string(plaintext), nil
}

// IsSealed reports whether stored was produced by Seal.
func IsSealed(stored string) bool {
	return strings.HasPrefix(stored, sealedPrefix)
}

// CanSeal returns true if a public key is configured.
func (s *Sealer) CanSeal() bool {
	return s != nil && s.recipient != nil
}
