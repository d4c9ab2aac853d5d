// Package runner orchestrates a backup run over the selected VMs.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fgeck/lndbackup/internal/lock"
	"github.com/fgeck/lndbackup/internal/models"
	"github.com/fgeck/lndbackup/internal/naming"
	"github.com/fgeck/lndbackup/internal/services/artifact"
	"github.com/fgeck/lndbackup/internal/services/cleanup"
	"github.com/fgeck/lndbackup/internal/services/download"
	"github.com/fgeck/lndbackup/internal/services/lifecycle"
	"github.com/fgeck/lndbackup/internal/services/lunanode"
	"github.com/fgeck/lndbackup/internal/services/offsite"
	"github.com/fgeck/lndbackup/internal/services/selector"
	"github.com/fgeck/lndbackup/internal/services/ssh"
	"github.com/fgeck/lndbackup/internal/services/telegram"
	"github.com/fgeck/lndbackup/internal/services/wol"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Service defines the interface for the backup runner.
type Service interface {
	Run(ctx context.Context, cfg models.BackupConfig) (*models.RunSummary, error)
}

// ComputeAPI is the part of the compute API the runner calls directly.
type ComputeAPI interface {
	GetVMInfo(ctx context.Context, vmID int) (*models.VirtualMachine, error)
	DeleteImage(ctx context.Context, imageID int) error
}

// Backend holds the services that back up VMs. Artifact and Offsite are nil when disabled.
type Backend struct {
	API       ComputeAPI
	Selector  selector.Service
	Lifecycle lifecycle.Service
	Download  download.Service
	Artifact  artifact.Service
	Offsite   offsite.Service
	Cleanup   cleanup.Service
}

// BackendFactory builds the backend for a run. Its failure is fatal to the run.
type BackendFactory func(ctx context.Context, logger zerolog.Logger, cfg models.BackupConfig) (*Backend, error)

// Hooks receive progress of a run. Any of them may be nil.
type Hooks struct {
	VMStarted  func(job models.BackupJob)
	Lifecycle  func(vmID int, ev models.LifecycleEvent)
	Progress   func(vmID int, received, total int64)
	VMFinished func(result models.VMResult)
}

// Impl implements the runner Service interface.
type Impl struct {
	newBackend  BackendFactory
	wolSvc      wol.Service
	sshSvc      ssh.Service
	telegramSvc telegram.Service
	hooks       Hooks
	logger      zerolog.Logger
	now         func() time.Time
}

// New creates a new runner service.
func New(logger zerolog.Logger) *Impl {
	return NewWithServices(logger, NewBackend, wol.New(logger), ssh.New(logger), telegram.New(logger))
}

// NewWithServices creates a new runner service with custom services (for testing).
func NewWithServices(
	logger zerolog.Logger,
	newBackend BackendFactory,
	wolSvc wol.Service,
	sshSvc ssh.Service,
	telegramSvc telegram.Service,
) *Impl {
	return &Impl{
		newBackend:  newBackend,
		wolSvc:      wolSvc,
		sshSvc:      sshSvc,
		telegramSvc: telegramSvc,
		logger:      logger,
		now:         time.Now,
	}
}

// SetHooks installs progress hooks for subsequent runs.
func (s *Impl) SetHooks(h Hooks) {
	s.hooks = h
}

// NewBackend builds the LunaNode-backed services for cfg.
func NewBackend(ctx context.Context, logger zerolog.Logger, cfg models.BackupConfig) (*Backend, error) {
	api, err := lunanode.New(logger, cfg.API)
	if err != nil {
		return nil, err
	}

	b := &Backend{
		API:       api,
		Selector:  selector.New(logger, api),
		Lifecycle: lifecycle.New(logger, api, cfg.Retry),
		Download:  download.New(logger, api, cfg.Download.ProgressThreshold),
		Cleanup:   cleanup.New(logger, api, cfg.Destination.Directory),
	}

	if cfg.Encryption != nil || cfg.Checksum.Enabled {
		recipient := ""
		if cfg.Encryption != nil {
			recipient = cfg.Encryption.Recipient
		}
		art, err := artifact.New(logger, recipient, cfg.Checksum.Enabled)
		if err != nil {
			return nil, err
		}
		b.Artifact = art
	}

	if cfg.Offsite != nil {
		off, err := offsite.New(ctx, logger, *cfg.Offsite)
		if err != nil {
			return nil, err
		}
		b.Offsite = off
	}

	return b, nil
}

// Run executes a backup run. The summary is always returned; the error is set only when the
// run was aborted before or between VMs. Per-VM failures are reported in the summary.
//
//nolint:gocognit,gocyclo // backup workflow has multiple steps by design
func (s *Impl) Run(ctx context.Context, cfg models.BackupConfig) (*models.RunSummary, error) {
	start := time.Now()
	summary := &models.RunSummary{
		RunID:     uuid.NewString(),
		Source:    cfg.Source,
		StartTime: s.now(),
	}
	logger := s.logger.With().Str("run_id", summary.RunID).Logger()

	logger.Info().
		Str("source", cfg.Source).
		Str("destination_region", cfg.Destination.Region).
		Str("destination_dir", cfg.Destination.Directory).
		Msg("starting backup run")

	hostAwake := false
	abort := func(step string, err error) (*models.RunSummary, error) {
		summary.FailedStep = step
		summary.Error = err
		return summary, err
	}

	defer func() {
		summary.Duration = time.Since(start)
		// Shutdown and notification still run after an interrupt.
		ctx := context.WithoutCancel(ctx)

		if cfg.SSHShutdown != nil && hostAwake {
			if cfg.SSHShutdown.OnlyOnSuccess && !summary.Success() {
				logger.Info().Msg("run had failures, leaving storage host running")
			} else {
				s.runSSHShutdown(ctx, logger, cfg.SSHShutdown)
			}
		}

		if cfg.Telegram != nil {
			s.sendNotification(ctx, logger, *cfg.Telegram, *summary)
		}
	}()

	backend, err := s.newBackend(ctx, logger, cfg)
	if err != nil {
		return abort(models.StepPrepare, fmt.Errorf("failed to set up remote API: %w", err))
	}

	if cfg.WOL != nil {
		if err := s.runWOL(ctx, logger, cfg.WOL); err != nil {
			return abort(models.StepWake, err)
		}
	}
	hostAwake = true

	if err := os.MkdirAll(cfg.Destination.Directory, 0o755); err != nil { //nolint:gosec // backups are read by other tools
		return abort(models.StepPrepare, fmt.Errorf("failed to create destination directory: %w", err))
	}

	if cfg.Lock.Enabled {
		release, err := lock.Acquire(cfg.Destination.Directory, summary.RunID, cfg.Source)
		if err != nil {
			return abort(models.StepLock, err)
		}
		defer func() {
			if err := release(); err != nil {
				logger.Warn().Err(err).Msg("failed to release lock")
			}
		}()
	}

	if backend.Offsite != nil {
		if err := backend.Offsite.VerifyAccess(ctx); err != nil {
			return abort(models.StepPrepare, err)
		}
	}

	vmIDs, err := backend.Selector.Select(ctx, cfg.Source)
	if err != nil {
		return abort(models.StepSelect, fmt.Errorf("failed to select VMs: %w", err))
	}
	logger.Info().Ints("vm_ids", vmIDs).Msg("VMs selected")

	for _, vmID := range vmIDs {
		if err := ctx.Err(); err != nil {
			return abort(models.StepInterrupted, fmt.Errorf("run interrupted: %w", err))
		}

		result := s.backupVM(ctx, logger, cfg, backend, vmID)
		summary.Results = append(summary.Results, result)
		if s.hooks.VMFinished != nil {
			s.hooks.VMFinished(result)
		}
	}

	logger.Info().
		Int("succeeded", summary.Succeeded()).
		Int("failed", summary.Failed()).
		Dur("duration", time.Since(start)).
		Msg("backup run completed")

	return summary, nil
}

// backupVM runs snapshot, replicate, download, finalise, offsite and cleanup for one VM.
// Errors stay inside the returned result.
func (s *Impl) backupVM(
	ctx context.Context,
	logger zerolog.Logger,
	cfg models.BackupConfig,
	backend *Backend,
	vmID int,
) (out models.VMResult) {
	start := time.Now()
	result := models.VMResult{VMID: vmID}
	step := models.StepInfo
	logger = logger.With().Int("vm_id", vmID).Logger()
	job := models.BackupJob{VMID: vmID}

	fail := func(step string, err error) models.VMResult {
		result.FailedStep = step
		result.Error = err
		result.Duration = time.Since(start)
		logger.Error().Str("step", step).Err(err).Msg("VM backup failed")
		logger.Debug().
			Str("step", step).
			Str("detail", fmt.Sprintf("%+v", err)).
			Int("image_id", job.ImageID).
			Str("image_name", job.ImageName).
			Str("local_path", job.LocalPath).
			Str("source_region", job.SourceRegion).
			Str("destination_region", job.DestinationRegion).
			Msg("VM backup failure detail")
		return result
	}

	defer func() {
		if r := recover(); r != nil {
			out = fail(step, fmt.Errorf("panic: %v", r))
		}
	}()

	vm, err := backend.API.GetVMInfo(ctx, vmID)
	if err != nil {
		return fail(models.StepInfo, err)
	}
	result.Hostname = vm.Hostname

	tool := cfg.Naming.Tool
	if tool == "" {
		tool = naming.DefaultTool
	}
	name := naming.ImageName(tool, vmID, s.now(), vm.Hostname)
	job = models.BackupJob{
		VMID:              vmID,
		Hostname:          vm.Hostname,
		SourceRegion:      vm.Region,
		DestinationRegion: cfg.Destination.Region,
		ImageName:         name,
		Prefix:            naming.Prefix(tool, vmID),
		LocalPath:         filepath.Join(cfg.Destination.Directory, naming.FileName(name)),
	}

	logger.Info().
		Str("hostname", job.Hostname).
		Str("region", job.SourceRegion).
		Str("image_name", job.ImageName).
		Msg("backing up VM")
	if s.hooks.VMStarted != nil {
		s.hooks.VMStarted(job)
	}

	onEvent := func(ev models.LifecycleEvent) {
		if s.hooks.Lifecycle != nil {
			s.hooks.Lifecycle(vmID, ev)
		}
	}

	step = models.StepSnapshot
	job.ImageID, err = backend.Lifecycle.Snapshot(ctx, vmID, job.ImageName, onEvent)
	if err != nil {
		return fail(models.StepSnapshot, err)
	}

	if job.NeedsReplication() {
		snapshotID := job.ImageID
		step = models.StepReplicate
		job.ImageID, err = backend.Lifecycle.Replicate(ctx, snapshotID, job.DestinationRegion, onEvent)
		if err != nil {
			return fail(models.StepReplicate, err)
		}
		result.Replicated = true

		// The snapshot is superseded by its copy. Leftovers are pruned by cleanup on the next run.
		if err := backend.API.DeleteImage(ctx, snapshotID); err != nil {
			logger.Warn().Err(err).Int("image_id", snapshotID).Msg("failed to delete source snapshot")
		}
	}
	result.ImageID = job.ImageID

	var onProgress models.ProgressFunc
	if s.hooks.Progress != nil {
		onProgress = func(received, total int64) { s.hooks.Progress(vmID, received, total) }
	}
	step = models.StepDownload
	result.BytesTotal, err = backend.Download.Download(ctx, job.ImageID, job.LocalPath, onProgress)
	if err != nil {
		return fail(models.StepDownload, err)
	}
	result.LocalPath = job.LocalPath

	art := models.ArtifactResult{Path: job.LocalPath}
	if backend.Artifact != nil {
		step = models.StepArtifact
		finalized, err := backend.Artifact.Finalize(job.LocalPath)
		if err != nil {
			return fail(models.StepArtifact, err)
		}
		art = *finalized
		result.LocalPath = art.Path
		result.Checksum = art.Checksum
	}

	if backend.Offsite != nil {
		step = models.StepOffsite
		synced, err := backend.Offsite.Sync(ctx, job.Prefix, art)
		if err != nil {
			return fail(models.StepOffsite, err)
		}
		result.Removed += len(synced.Pruned)
	}

	step = models.StepCleanup
	pruned, err := backend.Cleanup.Prune(ctx, models.CleanupRequest{
		Prefix:         job.Prefix,
		CurrentImageID: job.ImageID,
		CurrentPath:    art.Path,
	})
	if pruned != nil {
		result.Removed += pruned.Removed()
	}
	if err != nil {
		return fail(models.StepCleanup, err)
	}

	result.Duration = time.Since(start)
	logger.Info().
		Int("image_id", result.ImageID).
		Str("path", result.LocalPath).
		Int64("bytes", result.BytesTotal).
		Int("removed", result.Removed).
		Dur("duration", result.Duration).
		Msg("VM backup completed")

	return result
}

func (s *Impl) runWOL(ctx context.Context, logger zerolog.Logger, cfg *models.WOLConfig) error {
	result, err := s.wolSvc.Wake(ctx, *cfg)
	if err != nil {
		return fmt.Errorf("WOL failed: %w", err)
	}
	if result.Error != nil {
		return fmt.Errorf("WOL failed: %w", result.Error)
	}
	if !result.HostReady {
		return errors.New("storage host did not become ready after WOL")
	}

	logger.Info().
		Bool("packet_sent", result.PacketSent).
		Dur("wait_duration", result.WaitDuration).
		Msg("storage host awake")

	return nil
}

// runSSHShutdown powers the storage host off. Failures are logged only: the backups are done.
func (s *Impl) runSSHShutdown(ctx context.Context, logger zerolog.Logger, cfg *models.SSHShutdownConfig) {
	result, err := s.sshSvc.Shutdown(ctx, *cfg)
	if err != nil {
		logger.Error().Str("step", models.StepShutdown).Err(err).Msg("failed to shut down storage host")
		return
	}
	if result.Error != nil && !result.CommandRun {
		logger.Error().Str("step", models.StepShutdown).Err(result.Error).Msg("failed to shut down storage host")
		return
	}

	logger.Info().
		Str("host", cfg.Host).
		Str("output", result.Output).
		Msg("storage host shutdown command sent")
}

func (s *Impl) sendNotification(ctx context.Context, logger zerolog.Logger, cfg models.TelegramConfig, summary models.RunSummary) {
	result, err := s.telegramSvc.SendNotification(ctx, cfg, summary)
	if err != nil {
		logger.Error().Err(err).Msg("failed to send Telegram notification")
		return
	}
	if result.Error != nil {
		logger.Error().Err(result.Error).Msg("failed to send Telegram notification")
		return
	}
	logger.Debug().Msg("Telegram notification sent")
}
