// Package config provides configuration file parsing.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fgeck/lndbackup/internal/models"
	"github.com/fgeck/lndbackup/internal/naming"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables overriding config keys, e.g. LNDBACKUP_API_KEY.
const EnvPrefix = "LNDBACKUP"

// ImagesDir is the directory next to the executable used by the four-argument form.
const ImagesDir = "Images"

// Defaults.
const (
	DefaultMaxRetries        = 3
	DefaultPollInterval      = 30 * time.Second
	DefaultStatusTimeout     = 6 * time.Hour
	DefaultProgressThreshold = 0.0001
)

// executableDir returns the directory of the running binary.
var executableDir = func() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Dir(exe), nil
}

// Parser handles configuration file parsing.
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new configuration parser.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("naming.tool", naming.DefaultTool)
	v.SetDefault("retry.max_retries", DefaultMaxRetries)
	v.SetDefault("retry.poll_interval", DefaultPollInterval)
	v.SetDefault("retry.status_timeout", DefaultStatusTimeout)
	v.SetDefault("download.progress_threshold", DefaultProgressThreshold)
	v.SetDefault("lock.enabled", true)

	return &Parser{v: v}
}

// LoadFile loads configuration from a file path.
func (p *Parser) LoadFile(path string) (*models.BackupConfig, error) {
	p.v.SetConfigFile(path)

	if err := p.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return p.parse()
}

// LoadReader loads configuration from a reader (useful for testing).
func (p *Parser) LoadReader(content string) (*models.BackupConfig, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return p.parse()
}

// LoadDefaults returns a configuration built from defaults and environment variables only.
func (p *Parser) LoadDefaults() (*models.BackupConfig, error) {
	return p.parse()
}

//nolint:gocognit,gocyclo // parsing config requires checking many fields
func (p *Parser) parse() (*models.BackupConfig, error) {
	cfg := &models.BackupConfig{
		API: models.APIConfig{
			ID:      p.expandEnv(p.v.GetString("api.id")),
			Key:     p.expandEnv(p.v.GetString("api.key")),
			BaseURL: p.v.GetString("api.base_url"),
		},
		Source: p.v.GetString("source"),
		Destination: models.DestinationConfig{
			Region:    p.v.GetString("destination.region"),
			Directory: p.expandEnv(p.v.GetString("destination.directory")),
		},
		Naming: models.NamingSettings{Tool: p.v.GetString("naming.tool")},
		Retry: models.RetryPolicy{
			MaxRetries:    p.v.GetInt("retry.max_retries"),
			PollInterval:  p.v.GetDuration("retry.poll_interval"),
			StatusTimeout: p.v.GetDuration("retry.status_timeout"),
		},
		Download: models.DownloadSettings{ProgressThreshold: p.v.GetFloat64("download.progress_threshold")},
		Checksum: models.ChecksumSettings{Enabled: p.v.GetBool("checksum.enabled")},
		Lock:     models.LockSettings{Enabled: p.v.GetBool("lock.enabled")},
	}

	if p.v.IsSet("encryption") {
		cfg.Encryption = &models.EncryptionConfig{
			Recipient: p.expandEnv(p.v.GetString("encryption.age_recipient")),
		}
		if !strings.HasPrefix(cfg.Encryption.Recipient, "age1") {
			return nil, fmt.Errorf("encryption.age_recipient must be an age public key (age1...)")
		}
	}

	// Parse optional offsite (S3) config.
	if p.v.IsSet("offsite") {
		cfg.Offsite = &models.OffsiteConfig{
			Bucket:       p.v.GetString("offsite.bucket"),
			Region:       p.v.GetString("offsite.region"),
			Prefix:       strings.Trim(p.v.GetString("offsite.prefix"), "/"),
			Endpoint:     p.v.GetString("offsite.endpoint"),
			StorageClass: p.v.GetString("offsite.storage_class"),
			MaxAttempts:  p.v.GetInt("offsite.max_attempts"),
		}

		if cfg.Offsite.Bucket == "" {
			return nil, fmt.Errorf("offsite.bucket is required when offsite is configured")
		}
		if cfg.Offsite.Region == "" {
			cfg.Offsite.Region = "us-east-1"
		}
		if cfg.Offsite.StorageClass == "" {
			cfg.Offsite.StorageClass = "STANDARD"
		}
		if cfg.Offsite.MaxAttempts == 0 {
			cfg.Offsite.MaxAttempts = 5
		}
	}

	// Parse optional WOL config.
	if p.v.IsSet("wol") { //nolint:nestif // config parsing with defaults
		cfg.WOL = &models.WOLConfig{
			MACAddress:    p.v.GetString("wol.mac_address"),
			BroadcastIP:   p.v.GetString("wol.broadcast_ip"),
			ReadyPath:     p.expandEnv(p.v.GetString("wol.ready_path")),
			Timeout:       p.v.GetDuration("wol.timeout"),
			PollInterval:  p.v.GetDuration("wol.poll_interval"),
			StabilizeWait: p.v.GetDuration("wol.stabilize_wait"),
		}

		if cfg.WOL.MACAddress == "" {
			return nil, fmt.Errorf("wol.mac_address is required when wol is configured")
		}
		if cfg.WOL.BroadcastIP == "" {
			cfg.WOL.BroadcastIP = "255.255.255.255"
		}
		if cfg.WOL.Timeout == 0 {
			cfg.WOL.Timeout = 5 * time.Minute
		}
		if cfg.WOL.PollInterval == 0 {
			cfg.WOL.PollInterval = 10 * time.Second
		}
	}

	// Parse optional SSH shutdown config.
	if p.v.IsSet("ssh_shutdown") { //nolint:nestif // config parsing with defaults
		cfg.SSHShutdown = &models.SSHShutdownConfig{
			Host:           p.v.GetString("ssh_shutdown.host"),
			Port:           p.v.GetInt("ssh_shutdown.port"),
			Username:       p.v.GetString("ssh_shutdown.username"),
			KeyPath:        p.expandEnv(p.v.GetString("ssh_shutdown.key_path")),
			KnownHostsPath: p.expandEnv(p.v.GetString("ssh_shutdown.known_hosts_path")),
			ShutdownDelay:  p.v.GetInt("ssh_shutdown.shutdown_delay"),
			OnlyOnSuccess:  p.v.GetBool("ssh_shutdown.only_on_success"),
		}

		if cfg.SSHShutdown.Host == "" {
			return nil, fmt.Errorf("ssh_shutdown.host is required when ssh_shutdown is configured")
		}
		if cfg.SSHShutdown.Port == 0 {
			cfg.SSHShutdown.Port = 22
		}
		if cfg.SSHShutdown.Username == "" {
			cfg.SSHShutdown.Username = "root"
		}
		if cfg.SSHShutdown.KeyPath == "" {
			return nil, fmt.Errorf("ssh_shutdown.key_path is required when ssh_shutdown is configured")
		}
		if cfg.SSHShutdown.ShutdownDelay == 0 {
			cfg.SSHShutdown.ShutdownDelay = 1
		}
	}

	// Parse optional Telegram config.
	if p.v.IsSet("telegram") {
		cfg.Telegram = &models.TelegramConfig{
			BotToken: p.expandEnv(p.v.GetString("telegram.bot_token")),
			ChatID:   p.expandEnv(p.v.GetString("telegram.chat_id")),
		}

		if cfg.Telegram.BotToken == "" {
			return nil, fmt.Errorf("telegram.bot_token is required when telegram is configured")
		}
		if cfg.Telegram.ChatID == "" {
			return nil, fmt.Errorf("telegram.chat_id is required when telegram is configured")
		}
	}

	return cfg, nil
}

// expandEnv expands environment variables in the format ${VAR} or $VAR.
func (p *Parser) expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// ApplyArgs applies positional command line arguments on top of cfg. Two forms are accepted:
//
//	<api_id> <api_key> <source> <destination_region>
//	<source> <destination_region> <destination_directory> <api_id> <api_key>
//
// The four-argument form downloads to Images/ next to the executable unless the config file
// names a directory.
func ApplyArgs(cfg *models.BackupConfig, args []string) error {
	switch len(args) {
	case 0:
		return nil
	case 4:
		cfg.API.ID, cfg.API.Key = args[0], args[1]
		cfg.Source, cfg.Destination.Region = args[2], args[3]
		if cfg.Destination.Directory == "" {
			dir, err := executableDir()
			if err != nil {
				return fmt.Errorf("locating executable: %w", err)
			}
			cfg.Destination.Directory = filepath.Join(dir, ImagesDir)
		}
	case 5:
		cfg.Source, cfg.Destination.Region, cfg.Destination.Directory = args[0], args[1], args[2]
		cfg.API.ID, cfg.API.Key = args[3], args[4]
	default:
		return fmt.Errorf("expected 4 or 5 arguments, got %d", len(args))
	}
	return nil
}

// Validate performs validation on the loaded configuration.
func Validate(cfg *models.BackupConfig) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	var errs []error
	if cfg.API.ID == "" {
		errs = append(errs, errors.New("api.id is required"))
	}
	if cfg.API.Key == "" {
		errs = append(errs, errors.New("api.key is required"))
	}
	if cfg.Source == "" {
		errs = append(errs, errors.New("source is required"))
	}
	if cfg.Destination.Region == "" {
		errs = append(errs, errors.New("destination.region is required"))
	}
	if cfg.Destination.Directory == "" {
		errs = append(errs, errors.New("destination.directory is required"))
	}
	if cfg.Naming.Tool == "" || naming.Sanitize(cfg.Naming.Tool) != cfg.Naming.Tool {
		errs = append(errs, fmt.Errorf("naming.tool %q must be a valid filename", cfg.Naming.Tool))
	}
	if cfg.Retry.MaxRetries < 0 {
		errs = append(errs, errors.New("retry.max_retries must not be negative"))
	}
	if cfg.Retry.PollInterval <= 0 {
		errs = append(errs, errors.New("retry.poll_interval must be positive"))
	}
	if cfg.Retry.StatusTimeout < 0 {
		errs = append(errs, errors.New("retry.status_timeout must not be negative"))
	}
	if cfg.Download.ProgressThreshold < 0 || cfg.Download.ProgressThreshold >= 1 {
		errs = append(errs, errors.New("download.progress_threshold must be in [0, 1)"))
	}

	return errors.Join(errs...)
}
