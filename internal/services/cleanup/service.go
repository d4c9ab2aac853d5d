// Package cleanup prunes stale backup artifacts of a VM, remote and local.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fgeck/lndbackup/internal/models"
	"github.com/fgeck/lndbackup/internal/naming"
	"github.com/rs/zerolog"
)

// ChecksumSuffix is the extension of the checksum sidecar written next to an artifact.
const ChecksumSuffix = ".b3"

// Service defines the interface for pruning old backups.
type Service interface {
	Prune(ctx context.Context, req models.CleanupRequest) (*models.CleanupResult, error)
}

// ImageAPI is the part of the compute API cleanup needs.
type ImageAPI interface {
	ListImages(ctx context.Context) ([]models.Image, error)
	DeleteImage(ctx context.Context, imageID int) error
}

// Impl implements the Service interface.
type Impl struct {
	api    ImageAPI
	dir    string
	logger zerolog.Logger
}

// New creates a new cleanup manager for the local destination directory dir.
func New(logger zerolog.Logger, api ImageAPI, dir string) *Impl {
	return &Impl{api: api, dir: dir, logger: logger}
}

// Prune deletes every remote image and local file sharing req.Prefix except the current ones.
// A failed deletion does not stop the others; all failures are returned joined.
func (s *Impl) Prune(ctx context.Context, req models.CleanupRequest) (*models.CleanupResult, error) {
	if req.Prefix == "" {
		return nil, errors.New("cleanup prefix must not be empty")
	}

	result := &models.CleanupResult{}
	var errs []error

	if err := s.pruneRemote(ctx, req, result); err != nil {
		errs = append(errs, err)
	}
	if err := s.pruneLocal(req, result); err != nil {
		errs = append(errs, err)
	}

	s.logger.Info().
		Str("prefix", req.Prefix).
		Ints("remote_deleted", result.RemoteImagesDeleted).
		Strs("local_deleted", result.LocalFilesDeleted).
		Msg("old backups pruned")

	return result, errors.Join(errs...)
}

func (s *Impl) pruneRemote(ctx context.Context, req models.CleanupRequest, result *models.CleanupResult) error {
	images, err := s.api.ListImages(ctx)
	if err != nil {
		return fmt.Errorf("failed to list images: %w", err)
	}

	var errs []error
	for _, img := range images {
		if img.ID == req.CurrentImageID || !naming.MatchesPrefix(img.Name, req.Prefix) {
			continue
		}
		s.logger.Debug().Int("image_id", img.ID).Str("name", img.Name).Msg("deleting old image")
		if err := s.api.DeleteImage(ctx, img.ID); err != nil {
			errs = append(errs, fmt.Errorf("failed to delete image %d: %w", img.ID, err))
			continue
		}
		result.RemoteImagesDeleted = append(result.RemoteImagesDeleted, img.ID)
	}
	return errors.Join(errs...)
}

func (s *Impl) pruneLocal(req models.CleanupRequest, result *models.CleanupResult) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to read directory %s: %w", s.dir, err)
	}

	current := filepath.Base(req.CurrentPath)
	prefix := naming.Sanitize(req.Prefix)

	var errs []error
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !naming.MatchesPrefix(name, prefix) {
			continue
		}
		if req.CurrentPath != "" && (name == current || name == current+ChecksumSuffix) {
			continue
		}

		path := filepath.Join(s.dir, name)
		s.logger.Debug().Str("path", path).Msg("deleting old local backup")
		if err := os.Remove(path); err != nil {
			errs = append(errs, fmt.Errorf("failed to delete %s: %w", path, err))
			continue
		}
		result.LocalFilesDeleted = append(result.LocalFilesDeleted, path)
	}
	return errors.Join(errs...)
}
