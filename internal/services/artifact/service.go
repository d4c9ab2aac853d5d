// Package artifact finalises a downloaded image: optional age encryption and a BLAKE3 sidecar.
package artifact

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"filippo.io/age"
	"github.com/fgeck/lndbackup/internal/models"
	"github.com/rs/zerolog"
	"github.com/zeebo/blake3"
)

const (
	// EncryptedSuffix is appended to an image encrypted with age.
	EncryptedSuffix = ".age"
	// ChecksumSuffix is appended to the artifact name to form its checksum sidecar.
	ChecksumSuffix = ".b3"
)

// Service defines the interface for artifact finalisation.
type Service interface {
	Finalize(path string) (*models.ArtifactResult, error)
}

// Impl implements the Service interface.
type Impl struct {
	recipient age.Recipient // nil disables encryption
	checksum  bool
	logger    zerolog.Logger
}

// New creates a new finaliser. An empty recipient disables encryption.
func New(logger zerolog.Logger, recipient string, checksum bool) (*Impl, error) {
	s := &Impl{checksum: checksum, logger: logger}
	if recipient != "" {
		r, err := age.ParseX25519Recipient(recipient)
		if err != nil {
			return nil, fmt.Errorf("invalid age recipient: %w", err)
		}
		s.recipient = r
	}
	return s, nil
}

// NewWithRecipient creates a new finaliser with an already parsed recipient.
func NewWithRecipient(logger zerolog.Logger, recipient age.Recipient, checksum bool) *Impl {
	return &Impl{recipient: recipient, checksum: checksum, logger: logger}
}

// Enabled reports whether Finalize changes anything.
func (s *Impl) Enabled() bool {
	return s.recipient != nil || s.checksum
}

// Finalize encrypts path (removing the plaintext) and writes the checksum sidecar.
// On failure, files it created are removed and the downloaded image is left untouched.
func (s *Impl) Finalize(path string) (*models.ArtifactResult, error) {
	result := &models.ArtifactResult{Path: path}

	if s.recipient != nil {
		encrypted := path + EncryptedSuffix
		if err := Encrypt(path, encrypted, s.recipient); err != nil {
			_ = os.Remove(encrypted)
			return nil, fmt.Errorf("age encryption failed: %w", err)
		}
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("failed to remove plaintext image: %w", err)
		}
		result.Path = encrypted
		result.Encrypted = true
		s.logger.Info().Str("path", encrypted).Msg("image encrypted")
	}

	if s.checksum {
		sum, err := BLAKE3File(result.Path)
		if err != nil {
			return nil, fmt.Errorf("BLAKE3 hash failed: %w", err)
		}
		sidecar := result.Path + ChecksumSuffix
		line := fmt.Sprintf("%s  %s\n", sum, filepath.Base(result.Path))
		if err := os.WriteFile(sidecar, []byte(line), 0o644); err != nil { //nolint:gosec // checksum is not secret
			return nil, fmt.Errorf("failed to write checksum file: %w", err)
		}
		result.Checksum = sum
		result.SidecarPaths = append(result.SidecarPaths, sidecar)
		s.logger.Info().Str("blake3", sum).Str("path", sidecar).Msg("checksum written")
	}

	return result, nil
}

// Encrypt writes inputFile encrypted to recipient into outputFile.
func Encrypt(inputFile, outputFile string, recipient age.Recipient) error {
	in, err := os.Open(inputFile) //nolint:gosec // path is built from a sanitized image name
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(outputFile) //nolint:gosec // path is built from a sanitized image name
	if err != nil {
		return err
	}

	w, err := age.Encrypt(out, recipient)
	if err != nil {
		return errors.Join(err, out.Close())
	}
	if _, err := io.Copy(w, in); err != nil {
		return errors.Join(err, out.Close())
	}
	if err := w.Close(); err != nil {
		return errors.Join(err, out.Close())
	}
	return out.Close()
}

// BLAKE3File returns the hex BLAKE3 digest of a file.
func BLAKE3File(filename string) (string, error) {
	f, err := os.Open(filename) //nolint:gosec // path is built from a sanitized image name
	if err != nil {
		return "", err
	}
	defer f.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", hasher.Sum(nil)), nil
}
