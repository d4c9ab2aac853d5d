// Package lifecycle drives remote images from a creation request to the active status.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fgeck/lndbackup/internal/models"
	"github.com/rs/zerolog"
)

var (
	// ErrImageKilled means the remote system marked the image as killed.
	ErrImageKilled = errors.New("image status is killed")
	// ErrStatusTimeout means the image stayed in a non-terminal status for too long.
	ErrStatusTimeout = errors.New("image did not reach a terminal status in time")
)

// ExhaustedError is returned once every allowed attempt ended with a killed image.
type ExhaustedError struct {
	Operation   models.LifecycleOperation
	Attempts    int
	LastImageID int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s): image %d killed", e.Operation, e.Attempts, e.LastImageID)
}

func (e *ExhaustedError) Unwrap() error {
	return ErrImageKilled
}

// Service defines the interface for image lifecycle operations.
type Service interface {
	Snapshot(ctx context.Context, vmID int, name string, onEvent models.LifecycleEventFunc) (int, error)
	Replicate(ctx context.Context, imageID int, region string, onEvent models.LifecycleEventFunc) (int, error)
}

// ImageAPI is the part of the compute API the controller needs.
type ImageAPI interface {
	CreateSnapshot(ctx context.Context, vmID int, name string) (int, error)
	ReplicateImage(ctx context.Context, imageID int, region string) (int, error)
	GetImageStatus(ctx context.Context, imageID int) (string, error)
	DeleteImage(ctx context.Context, imageID int) error
}

// WaitFunc blocks for d or until ctx is done.
type WaitFunc func(ctx context.Context, d time.Duration) error

// Impl implements the Service interface.
type Impl struct {
	api    ImageAPI
	policy models.RetryPolicy
	logger zerolog.Logger
	wait   WaitFunc
	now    func() time.Time
}

// New creates a new lifecycle controller.
func New(logger zerolog.Logger, api ImageAPI, policy models.RetryPolicy) *Impl {
	return NewWithClock(logger, api, policy, sleep, time.Now)
}

// NewWithClock creates a new lifecycle controller with a custom wait and clock (for testing).
func NewWithClock(logger zerolog.Logger, api ImageAPI, policy models.RetryPolicy, wait WaitFunc, now func() time.Time) *Impl {
	return &Impl{
		api:    api,
		policy: policy,
		logger: logger,
		wait:   wait,
		now:    now,
	}
}

// Snapshot creates a snapshot image of a VM and waits for it to become active.
func (s *Impl) Snapshot(ctx context.Context, vmID int, name string, onEvent models.LifecycleEventFunc) (int, error) {
	create := func(ctx context.Context) (int, error) {
		return s.api.CreateSnapshot(ctx, vmID, name)
	}
	return s.drive(ctx, models.OperationSnapshot, create, onEvent)
}

// Replicate copies an image into region and waits for the copy to become active.
// The source image is left in place.
func (s *Impl) Replicate(ctx context.Context, imageID int, region string, onEvent models.LifecycleEventFunc) (int, error) {
	create := func(ctx context.Context) (int, error) {
		return s.api.ReplicateImage(ctx, imageID, region)
	}
	return s.drive(ctx, models.OperationReplicate, create, onEvent)
}

// drive runs the state machine for one logical operation. At most MaxRetries+1 creation
// calls are issued.
func (s *Impl) drive(
	ctx context.Context,
	op models.LifecycleOperation,
	create func(ctx context.Context) (int, error),
	onEvent models.LifecycleEventFunc,
) (int, error) {
	var (
		state    = models.StateRequested
		attempt  int
		imageID  int
		status   string
		deadline time.Time
	)

	emit := func(wait time.Duration) {
		ev := models.LifecycleEvent{
			Operation:  op,
			State:      state,
			ImageID:    imageID,
			Status:     status,
			Attempt:    attempt,
			MaxRetries: s.policy.MaxRetries,
			Wait:       wait,
		}
		s.logger.Debug().
			Str("operation", string(op)).
			Stringer("state", state).
			Int("image_id", imageID).
			Str("status", status).
			Int("attempt", attempt).
			Msg("image lifecycle transition")
		if onEvent != nil {
			onEvent(ev)
		}
	}

	for {
		switch state {
		case models.StateRequested:
			id, err := create(ctx)
			if err != nil {
				return 0, fmt.Errorf("%s request failed: %w", op, err)
			}
			imageID, status = id, ""
			if s.policy.StatusTimeout > 0 {
				deadline = s.now().Add(s.policy.StatusTimeout)
			}
			emit(0)
			state = models.StatePolling

		case models.StatePolling:
			st, err := s.api.GetImageStatus(ctx, imageID)
			if err != nil {
				return 0, fmt.Errorf("failed to get status of image %d: %w", imageID, err)
			}
			status = st

			switch status {
			case models.ImageStatusActive:
				state = models.StateActive
				continue
			case models.ImageStatusKilled:
				state = models.StateKilled
				continue
			}

			// Any other status is still in progress.
			if !deadline.IsZero() && s.now().After(deadline) {
				return 0, s.abandon(ctx, op, imageID, status)
			}
			emit(s.policy.PollInterval)
			if err := s.wait(ctx, s.policy.PollInterval); err != nil {
				return 0, fmt.Errorf("waiting for image %d: %w", imageID, err)
			}

		case models.StateActive:
			emit(0)
			return imageID, nil

		case models.StateKilled:
			if err := s.api.DeleteImage(ctx, imageID); err != nil {
				return 0, fmt.Errorf("failed to delete killed image %d: %w", imageID, err)
			}
			if attempt >= s.policy.MaxRetries {
				state = models.StateExhausted
				continue
			}
			attempt++
			emit(s.policy.PollInterval)
			if err := s.wait(ctx, s.policy.PollInterval); err != nil {
				return 0, fmt.Errorf("waiting to retry %s: %w", op, err)
			}
			state = models.StateRequested

		case models.StateExhausted:
			emit(0)
			return 0, &ExhaustedError{Operation: op, Attempts: attempt + 1, LastImageID: imageID}

		default:
			return 0, fmt.Errorf("invalid lifecycle state %d", state)
		}
	}
}

// abandon deletes an image stuck in a non-terminal status.
func (s *Impl) abandon(ctx context.Context, op models.LifecycleOperation, imageID int, status string) error {
	s.logger.Warn().
		Str("operation", string(op)).
		Int("image_id", imageID).
		Str("status", status).
		Dur("timeout", s.policy.StatusTimeout).
		Msg("image stuck in non-terminal status, deleting it")

	err := fmt.Errorf("%s image %d still %q after %s: %w", op, imageID, status, s.policy.StatusTimeout, ErrStatusTimeout)
	if delErr := s.api.DeleteImage(ctx, imageID); delErr != nil {
		return errors.Join(err, fmt.Errorf("failed to delete image %d: %w", imageID, delErr))
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
