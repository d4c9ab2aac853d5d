// Package models contains the data structures used throughout lndbackup.
package models

import "time"

// BackupConfig holds the complete configuration for a backup run.
type BackupConfig struct {
	API         APIConfig
	Source      string // numeric VM id or region name
	Destination DestinationConfig
	Naming      NamingSettings
	Retry       RetryPolicy
	Download    DownloadSettings
	Checksum    ChecksumSettings
	Lock        LockSettings
	Encryption  *EncryptionConfig  // nil if not configured
	Offsite     *OffsiteConfig     // nil if not configured
	WOL         *WOLConfig         // nil if not configured
	SSHShutdown *SSHShutdownConfig // nil if not configured
	Telegram    *TelegramConfig    // nil if not configured
}

// APIConfig holds LunaNode Dynamic API credentials.
type APIConfig struct {
	ID      string
	Key     string
	BaseURL string // optional, defaults to the public endpoint
}

// DestinationConfig describes where backups end up.
type DestinationConfig struct {
	Region    string // region snapshots are replicated to
	Directory string // local directory images are downloaded to
}

// NamingSettings controls the backup name template.
type NamingSettings struct {
	Tool string // first word of every backup name, e.g. "lndbackup"
}

// RetryPolicy bounds the image lifecycle retries.
type RetryPolicy struct {
	MaxRetries    int           // re-issued creation calls after the first one is killed
	PollInterval  time.Duration // wait between status polls and before a retry
	StatusTimeout time.Duration // max time a single image may stay non-terminal; 0 disables
}

// DownloadSettings controls the image downloader.
type DownloadSettings struct {
	ProgressThreshold float64 // minimum fractional advance between progress updates
}

// ChecksumSettings controls the BLAKE3 sidecar written next to each image.
type ChecksumSettings struct {
	Enabled bool
}

// LockSettings controls the single-instance lock in the destination directory.
type LockSettings struct {
	Enabled bool
}

// EncryptionConfig enables age encryption of downloaded images.
type EncryptionConfig struct {
	Recipient string // age1... public key
}
