package models

import "time"

// Backup steps, used to report where a VM backup failed.
const (
	StepInfo      = "info"
	StepSnapshot  = "snapshot"
	StepReplicate = "replicate"
	StepDownload  = "download"
	StepArtifact  = "artifact"
	StepOffsite   = "offsite"
	StepCleanup   = "cleanup"
)

// Run-level steps. A failure in one of them aborts the whole run.
const (
	StepLock        = "lock"
	StepWake        = "wake"
	StepPrepare     = "prepare"
	StepSelect      = "select"
	StepShutdown    = "shutdown"
	StepInterrupted = "interrupted" // stopped by a signal between two VMs
)

// VMResult holds the outcome of one VM backup attempt.
type VMResult struct {
	VMID       int
	Hostname   string
	ImageID    int
	LocalPath  string
	Replicated bool
	BytesTotal int64
	Checksum   string
	Removed    int // stale artifacts pruned (remote + local + offsite)
	Duration   time.Duration
	FailedStep string
	Error      error
}

// Success reports whether the VM was backed up.
func (r VMResult) Success() bool {
	return r.Error == nil
}

// RunSummary holds the outcome of a whole run.
type RunSummary struct {
	RunID     string
	Source    string
	StartTime time.Time
	Duration  time.Duration
	Results   []VMResult

	FailedStep string // run-level step that aborted the run
	Error      error
}

// Success reports whether the run completed and every VM was backed up.
func (s RunSummary) Success() bool {
	return s.Error == nil && s.Failed() == 0
}

// Succeeded returns the number of VMs backed up successfully.
func (s RunSummary) Succeeded() int {
	n := 0
	for _, r := range s.Results {
		if r.Success() {
			n++
		}
	}
	return n
}

// Failed returns the number of VMs whose backup failed.
func (s RunSummary) Failed() int {
	return len(s.Results) - s.Succeeded()
}

// CleanupRequest identifies the current artifacts of one VM.
type CleanupRequest struct {
	Prefix         string
	CurrentImageID int
	CurrentPath    string
}

// CleanupResult holds what the cleanup manager removed.
type CleanupResult struct {
	RemoteImagesDeleted []int
	LocalFilesDeleted   []string
}

// Removed returns the total number of deleted artifacts.
func (r CleanupResult) Removed() int {
	return len(r.RemoteImagesDeleted) + len(r.LocalFilesDeleted)
}

// ArtifactResult describes a downloaded image after finalisation.
type ArtifactResult struct {
	Path         string   // final artifact path (may differ from the download path)
	Encrypted    bool
	Checksum     string   // hex BLAKE3 digest, empty when disabled
	SidecarPaths []string // files written next to Path
}

// AllPaths returns the artifact and its sidecars.
func (r ArtifactResult) AllPaths() []string {
	return append([]string{r.Path}, r.SidecarPaths...)
}
