// Package offsite copies finished backups to an S3 bucket and prunes older copies there.
package offsite

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"

	"github.com/fgeck/lndbackup/internal/models"
	"github.com/fgeck/lndbackup/internal/naming"
	"github.com/rs/zerolog"
)

// ObjectStore is a flat key/value object store.
type ObjectStore interface {
	Upload(ctx context.Context, localPath, key string, metadata map[string]string) error
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
	VerifyAccess(ctx context.Context) error
}

// Service defines the interface for offsite copies.
type Service interface {
	VerifyAccess(ctx context.Context) error
	Sync(ctx context.Context, vmPrefix string, artifact models.ArtifactResult) (*models.OffsiteResult, error)
}

// Impl implements the Service interface.
type Impl struct {
	store     ObjectStore
	keyPrefix string
	logger    zerolog.Logger
}

// New creates a new offsite service backed by S3.
func New(ctx context.Context, logger zerolog.Logger, cfg models.OffsiteConfig) (*Impl, error) {
	store, err := NewS3Store(ctx, logger, cfg)
	if err != nil {
		return nil, err
	}
	return NewWithStore(logger, store, cfg.Prefix), nil
}

// NewWithStore creates a new offsite service with a custom store (for testing).
func NewWithStore(logger zerolog.Logger, store ObjectStore, keyPrefix string) *Impl {
	return &Impl{store: store, keyPrefix: keyPrefix, logger: logger}
}

// VerifyAccess checks that the bucket is reachable.
func (s *Impl) VerifyAccess(ctx context.Context) error {
	return s.store.VerifyAccess(ctx)
}

// Sync uploads the artifact and its sidecars, then deletes objects of the same VM lineage that
// are not part of this upload. Nothing is pruned when an upload fails.
func (s *Impl) Sync(ctx context.Context, vmPrefix string, artifact models.ArtifactResult) (*models.OffsiteResult, error) {
	result := &models.OffsiteResult{}
	current := make(map[string]bool)

	metadata := map[string]string{}
	if artifact.Checksum != "" {
		metadata["blake3"] = artifact.Checksum
	}

	for _, p := range artifact.AllPaths() {
		key := s.key(filepath.Base(p))
		s.logger.Info().Str("key", key).Msg("uploading offsite copy")
		if err := s.store.Upload(ctx, p, key, metadata); err != nil {
			return result, fmt.Errorf("failed to upload %s: %w", key, err)
		}
		result.Uploaded = append(result.Uploaded, key)
		current[key] = true
	}

	lineage := naming.Sanitize(vmPrefix)
	keys, err := s.store.List(ctx, s.key(lineage))
	if err != nil {
		return result, fmt.Errorf("failed to list offsite copies: %w", err)
	}

	var errs []error
	for _, key := range keys {
		if current[key] || !naming.MatchesPrefix(path.Base(key), lineage) {
			continue
		}
		if err := s.store.Delete(ctx, key); err != nil {
			errs = append(errs, err)
			continue
		}
		result.Pruned = append(result.Pruned, key)
	}

	s.logger.Info().
		Strs("uploaded", result.Uploaded).
		Strs("pruned", result.Pruned).
		Msg("offsite copy synced")

	return result, errors.Join(errs...)
}

func (s *Impl) key(name string) string {
	if s.keyPrefix == "" {
		return name
	}
	return path.Join(s.keyPrefix, name)
}
