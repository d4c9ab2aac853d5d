// Package download streams remote images to local files.
package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fgeck/lndbackup/internal/models"
	"github.com/rs/zerolog"
)

// DefaultProgressThreshold is the minimum fractional advance (0.01 %) between progress updates.
const DefaultProgressThreshold = 0.0001

// PartialSuffix marks a download in progress. The file is renamed onto the target once complete.
const PartialSuffix = ".part"

// Error is a failed download. The partial file has already been removed and any existing
// file at Path is left untouched.
type Error struct {
	ImageID int
	Path    string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("download of image %d to %s failed: %v", e.ImageID, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Service defines the interface for image downloads.
type Service interface {
	Download(ctx context.Context, imageID int, localPath string, onProgress models.ProgressFunc) (int64, error)
}

// Retriever is the part of the compute API the downloader needs.
type Retriever interface {
	RetrieveImage(ctx context.Context, imageID int, localPath string, onProgress models.ProgressFunc) error
}

// Impl implements the Service interface.
type Impl struct {
	api       Retriever
	threshold float64
	logger    zerolog.Logger
}

// New creates a new downloader. A threshold <= 0 disables throttling.
func New(logger zerolog.Logger, api Retriever, threshold float64) *Impl {
	return &Impl{api: api, threshold: threshold, logger: logger}
}

// Download streams an image to localPath and returns the number of bytes received.
// The image is written to localPath+PartialSuffix and only replaces localPath when complete.
// Resuming is not supported: on failure the partial file is deleted.
func (s *Impl) Download(ctx context.Context, imageID int, localPath string, onProgress models.ProgressFunc) (int64, error) {
	s.logger.Info().
		Int("image_id", imageID).
		Str("path", localPath).
		Msg("downloading image")

	start := time.Now()
	throttle := NewThrottle(s.threshold, onProgress)
	partPath := localPath + PartialSuffix

	fail := func(err error) (int64, error) {
		if rmErr := os.Remove(partPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			s.logger.Warn().Err(rmErr).Str("path", partPath).Msg("failed to remove partial download")
		}
		return 0, &Error{ImageID: imageID, Path: localPath, Err: err}
	}

	if err := s.api.RetrieveImage(ctx, imageID, partPath, throttle.Update); err != nil {
		return fail(err)
	}
	throttle.Flush()

	received := throttle.Received()
	if received == 0 {
		if info, statErr := os.Stat(partPath); statErr == nil {
			received = info.Size()
		}
	}

	if err := os.Rename(partPath, localPath); err != nil {
		return fail(fmt.Errorf("failed to move download into place: %w", err))
	}

	s.logger.Info().
		Int("image_id", imageID).
		Int64("bytes", received).
		Dur("duration", time.Since(start)).
		Msg("image downloaded")

	return received, nil
}

// Throttle forwards progress only when it advanced by more than a threshold fraction.
type Throttle struct {
	threshold    float64
	next         models.ProgressFunc
	lastFraction float64
	emitted      bool
	received     int64
	total        int64
	lastSent     int64
}

// NewThrottle wraps next. A nil next makes the throttle a byte counter only.
func NewThrottle(threshold float64, next models.ProgressFunc) *Throttle {
	return &Throttle{threshold: threshold, next: next, lastFraction: -1}
}

// Update records progress and forwards it when due.
func (t *Throttle) Update(received, total int64) {
	t.received, t.total = received, total
	if t.next == nil {
		return
	}

	if total <= 0 || t.threshold <= 0 {
		t.send()
		return
	}

	fraction := float64(received) / float64(total)
	if !t.emitted || fraction-t.lastFraction > t.threshold || received >= total {
		t.lastFraction = fraction
		t.send()
	}
}

// Flush forwards the last recorded progress if it was held back.
func (t *Throttle) Flush() {
	if t.next != nil && t.emitted && t.lastSent != t.received {
		t.send()
	}
}

// Received returns the last byte count seen.
func (t *Throttle) Received() int64 {
	return t.received
}

func (t *Throttle) send() {
	if t.emitted && t.lastSent == t.received {
		return
	}
	t.emitted = true
	t.lastSent = t.received
	t.next(t.received, t.total)
}
