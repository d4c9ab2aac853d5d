package models

// Image statuses reported by the remote API. Any other value is transient.
const (
	ImageStatusQueued = "queued"
	ImageStatusSaving = "saving"
	ImageStatusActive = "active"
	ImageStatusKilled = "killed"
)

// VirtualMachine is a remote VM as returned by the compute API.
type VirtualMachine struct {
	ID       int
	Hostname string
	Region   string
}

// Image is a remote image as returned by the compute API.
type Image struct {
	ID     int
	Name   string
	Status string
	Region string
}

// ProgressFunc receives download progress in bytes. total is 0 when unknown.
type ProgressFunc func(received, total int64)

// BackupJob is the working state for one VM backup attempt.
type BackupJob struct {
	VMID              int
	Hostname          string
	SourceRegion      string
	DestinationRegion string
	ImageName         string
	Prefix            string
	LocalPath         string
	ImageID           int
}

// NeedsReplication reports whether the snapshot must be copied to another region.
func (j BackupJob) NeedsReplication() bool {
	return j.SourceRegion != j.DestinationRegion
}
