package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fgeck/lndbackup/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParser_LoadReader_MinimalConfig(t *testing.T) {
	yaml := `
api:
  id: "abc"
  key: "secret"
source: "toronto"
destination:
  region: "roubaix"
  directory: "/backups"
`
	parser := NewParser()
	cfg, err := parser.LoadReader(yaml)

	require.NoError(t, err)
	assert.Equal(t, "abc", cfg.API.ID)
	assert.Equal(t, "secret", cfg.API.Key)
	assert.Equal(t, "toronto", cfg.Source)
	assert.Equal(t, "roubaix", cfg.Destination.Region)
	assert.Equal(t, "/backups", cfg.Destination.Directory)
	// Check defaults
	assert.Equal(t, "lndbackup", cfg.Naming.Tool)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.Retry.PollInterval)
	assert.Equal(t, 6*time.Hour, cfg.Retry.StatusTimeout)
	assert.InDelta(t, 0.0001, cfg.Download.ProgressThreshold, 1e-12)
	assert.True(t, cfg.Lock.Enabled)
	assert.False(t, cfg.Checksum.Enabled)
	assert.Nil(t, cfg.Encryption)
	assert.Nil(t, cfg.Offsite)
	assert.Nil(t, cfg.WOL)
	assert.Nil(t, cfg.SSHShutdown)
	assert.Nil(t, cfg.Telegram)
	require.NoError(t, Validate(cfg))
}

func TestParser_LoadReader_FullConfig(t *testing.T) {
	yaml := `
api:
  id: "abc"
  key: "secret"
  base_url: "https://dynamic.example.com/api/"
source: "12345"
destination:
  region: "toronto"
  directory: "/mnt/nas/lunanode"

naming:
  tool: "nightly"

retry:
  max_retries: 5
  poll_interval: 1m
  status_timeout: 2h

download:
  progress_threshold: 0.01

checksum:
  enabled: true

lock:
  enabled: false

encryption:
  age_recipient: "age1ql3z7hjy54pw3hyww5ayyfg7zqgvc7w3j2elw8zmrj2kg5sfn9aqmcac8p"

offsite:
  bucket: "vm-images"
  region: "eu-central-1"
  prefix: "/lunanode/"
  endpoint: "http://minio:9000"
  storage_class: "STANDARD_IA"
  max_attempts: 3

wol:
  mac_address: "aa:bb:cc:dd:ee:ff"
  broadcast_ip: "192.168.1.255"
  ready_path: "/mnt/nas/lunanode"
  timeout: 10m
  poll_interval: 15s
  stabilize_wait: 30s

ssh_shutdown:
  host: "192.168.1.50"
  port: 2222
  username: "admin"
  key_path: "/home/user/.ssh/id_rsa"
  known_hosts_path: "/home/user/.ssh/known_hosts"
  shutdown_delay: 5
  only_on_success: true

telegram:
  bot_token: "123456:ABC-DEF"
  chat_id: "-1001234567890"
`
	parser := NewParser()
	cfg, err := parser.LoadReader(yaml)

	require.NoError(t, err)
	assert.Equal(t, "https://dynamic.example.com/api/", cfg.API.BaseURL)
	assert.Equal(t, "12345", cfg.Source)
	assert.Equal(t, "nightly", cfg.Naming.Tool)
	assert.Equal(t, models.RetryPolicy{
		MaxRetries:    5,
		PollInterval:  time.Minute,
		StatusTimeout: 2 * time.Hour,
	}, cfg.Retry)
	assert.InDelta(t, 0.01, cfg.Download.ProgressThreshold, 1e-12)
	assert.True(t, cfg.Checksum.Enabled)
	assert.False(t, cfg.Lock.Enabled)

	require.NotNil(t, cfg.Encryption)
	assert.Equal(t, "age1ql3z7hjy54pw3hyww5ayyfg7zqgvc7w3j2elw8zmrj2kg5sfn9aqmcac8p", cfg.Encryption.Recipient)

	require.NotNil(t, cfg.Offsite)
	assert.Equal(t, models.OffsiteConfig{
		Bucket:       "vm-images",
		Region:       "eu-central-1",
		Prefix:       "lunanode",
		Endpoint:     "http://minio:9000",
		StorageClass: "STANDARD_IA",
		MaxAttempts:  3,
	}, *cfg.Offsite)

	require.NotNil(t, cfg.WOL)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", cfg.WOL.MACAddress)
	assert.Equal(t, "192.168.1.255", cfg.WOL.BroadcastIP)
	assert.Equal(t, "/mnt/nas/lunanode", cfg.WOL.ReadyPath)
	assert.Equal(t, 10*time.Minute, cfg.WOL.Timeout)
	assert.Equal(t, 15*time.Second, cfg.WOL.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.WOL.StabilizeWait)

	require.NotNil(t, cfg.SSHShutdown)
	assert.Equal(t, "192.168.1.50", cfg.SSHShutdown.Host)
	assert.Equal(t, 2222, cfg.SSHShutdown.Port)
	assert.Equal(t, "admin", cfg.SSHShutdown.Username)
	assert.Equal(t, "/home/user/.ssh/id_rsa", cfg.SSHShutdown.KeyPath)
	assert.Equal(t, "/home/user/.ssh/known_hosts", cfg.SSHShutdown.KnownHostsPath)
	assert.Equal(t, 5, cfg.SSHShutdown.ShutdownDelay)
	assert.True(t, cfg.SSHShutdown.OnlyOnSuccess)

	require.NotNil(t, cfg.Telegram)
	assert.Equal(t, "123456:ABC-DEF", cfg.Telegram.BotToken)
	assert.Equal(t, "-1001234567890", cfg.Telegram.ChatID)

	require.NoError(t, Validate(cfg))
}

func TestParser_LoadReader_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_LUNANODE_KEY", "expanded-key")
	t.Setenv("TEST_BOT_TOKEN", "expanded-token")

	yaml := `
api:
  id: "abc"
  key: "${TEST_LUNANODE_KEY}"
telegram:
  bot_token: "${TEST_BOT_TOKEN}"
  chat_id: "42"
`
	parser := NewParser()
	cfg, err := parser.LoadReader(yaml)

	require.NoError(t, err)
	assert.Equal(t, "expanded-key", cfg.API.Key)
	assert.Equal(t, "expanded-token", cfg.Telegram.BotToken)
}

func TestParser_EnvOverride(t *testing.T) {
	t.Setenv("LNDBACKUP_API_KEY", "from-env")
	t.Setenv("LNDBACKUP_RETRY_MAX_RETRIES", "7")

	parser := NewParser()
	cfg, err := parser.LoadReader(`
api:
  id: "abc"
  key: "from-file"
`)

	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.API.Key)
	assert.Equal(t, 7, cfg.Retry.MaxRetries)
}

func TestParser_LoadDefaults(t *testing.T) {
	parser := NewParser()
	cfg, err := parser.LoadDefaults()

	require.NoError(t, err)
	assert.Empty(t, cfg.API.ID)
	assert.Equal(t, "lndbackup", cfg.Naming.Tool)
	assert.True(t, cfg.Lock.Enabled)
	assert.Nil(t, cfg.WOL)
}

func TestParser_SectionDefaults(t *testing.T) {
	yaml := `
offsite:
  bucket: "vm-images"
wol:
  mac_address: "aa:bb:cc:dd:ee:ff"
ssh_shutdown:
  host: "nas"
  key_path: "/key"
`
	parser := NewParser()
	cfg, err := parser.LoadReader(yaml)

	require.NoError(t, err)
	assert.Equal(t, "us-east-1", cfg.Offsite.Region)
	assert.Equal(t, "STANDARD", cfg.Offsite.StorageClass)
	assert.Equal(t, 5, cfg.Offsite.MaxAttempts)
	assert.Equal(t, "255.255.255.255", cfg.WOL.BroadcastIP)
	assert.Equal(t, 5*time.Minute, cfg.WOL.Timeout)
	assert.Equal(t, 10*time.Second, cfg.WOL.PollInterval)
	assert.Equal(t, 22, cfg.SSHShutdown.Port)
	assert.Equal(t, "root", cfg.SSHShutdown.Username)
	assert.Equal(t, 1, cfg.SSHShutdown.ShutdownDelay)
}

func TestParser_LoadReader_SectionErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "offsite without bucket",
			yaml:    "offsite:\n  region: eu-west-1\n",
			wantErr: "offsite.bucket is required",
		},
		{
			name:    "wol without mac",
			yaml:    "wol:\n  broadcast_ip: 192.168.1.255\n",
			wantErr: "wol.mac_address is required",
		},
		{
			name:    "ssh without host",
			yaml:    "ssh_shutdown:\n  key_path: /key\n",
			wantErr: "ssh_shutdown.host is required",
		},
		{
			name:    "ssh without key",
			yaml:    "ssh_shutdown:\n  host: nas\n",
			wantErr: "ssh_shutdown.key_path is required",
		},
		{
			name:    "telegram without token",
			yaml:    "telegram:\n  chat_id: \"1\"\n",
			wantErr: "telegram.bot_token is required",
		},
		{
			name:    "telegram without chat",
			yaml:    "telegram:\n  bot_token: t\n",
			wantErr: "telegram.chat_id is required",
		},
		{
			name:    "bad age recipient",
			yaml:    "encryption:\n  age_recipient: ssh-ed25519 AAAA\n",
			wantErr: "encryption.age_recipient",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parser := NewParser()
			_, err := parser.LoadReader(tt.yaml)

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParser_LoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lndbackup.yaml")
	content := `
api:
  id: "abc"
  key: "secret"
source: "toronto"
destination:
  region: "toronto"
  directory: "/backups"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	parser := NewParser()
	cfg, err := parser.LoadFile(path)

	require.NoError(t, err)
	assert.Equal(t, "toronto", cfg.Source)
}

func TestParser_LoadFile_NotFound(t *testing.T) {
	parser := NewParser()
	_, err := parser.LoadFile("/nonexistent/lndbackup.yaml")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestApplyArgs(t *testing.T) {
	orig := executableDir
	t.Cleanup(func() { executableDir = orig })
	executableDir = func() (string, error) { return "/opt/lndbackup", nil }

	t.Run("four arguments", func(t *testing.T) {
		cfg := &models.BackupConfig{}
		require.NoError(t, ApplyArgs(cfg, []string{"id", "key", "123", "toronto"}))

		assert.Equal(t, "id", cfg.API.ID)
		assert.Equal(t, "key", cfg.API.Key)
		assert.Equal(t, "123", cfg.Source)
		assert.Equal(t, "toronto", cfg.Destination.Region)
		assert.Equal(t, filepath.Join("/opt/lndbackup", "Images"), cfg.Destination.Directory)
	})

	t.Run("four arguments keep configured directory", func(t *testing.T) {
		cfg := &models.BackupConfig{Destination: models.DestinationConfig{Directory: "/backups"}}
		require.NoError(t, ApplyArgs(cfg, []string{"id", "key", "123", "toronto"}))

		assert.Equal(t, "/backups", cfg.Destination.Directory)
	})

	t.Run("five arguments", func(t *testing.T) {
		cfg := &models.BackupConfig{}
		require.NoError(t, ApplyArgs(cfg, []string{"roubaix", "toronto", "/data", "id", "key"}))

		assert.Equal(t, "roubaix", cfg.Source)
		assert.Equal(t, "toronto", cfg.Destination.Region)
		assert.Equal(t, "/data", cfg.Destination.Directory)
		assert.Equal(t, "id", cfg.API.ID)
		assert.Equal(t, "key", cfg.API.Key)
	})

	t.Run("no arguments", func(t *testing.T) {
		cfg := &models.BackupConfig{Source: "toronto"}
		require.NoError(t, ApplyArgs(cfg, nil))
		assert.Equal(t, "toronto", cfg.Source)
	})

	t.Run("wrong count", func(t *testing.T) {
		err := ApplyArgs(&models.BackupConfig{}, []string{"a", "b", "c"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "got 3")
	})
}

func TestValidate(t *testing.T) {
	valid := func() *models.BackupConfig {
		return &models.BackupConfig{
			API:         models.APIConfig{ID: "id", Key: "key"},
			Source:      "toronto",
			Destination: models.DestinationConfig{Region: "toronto", Directory: "/backups"},
			Naming:      models.NamingSettings{Tool: "lndbackup"},
			Retry:       models.RetryPolicy{MaxRetries: 3, PollInterval: 30 * time.Second},
			Download:    models.DownloadSettings{ProgressThreshold: 0.0001},
		}
	}

	tests := []struct {
		name    string
		mutate  func(cfg *models.BackupConfig)
		wantErr string
	}{
		{name: "valid", mutate: func(cfg *models.BackupConfig) {}},
		{name: "missing api id", mutate: func(cfg *models.BackupConfig) { cfg.API.ID = "" }, wantErr: "api.id is required"},
		{name: "missing api key", mutate: func(cfg *models.BackupConfig) { cfg.API.Key = "" }, wantErr: "api.key is required"},
		{name: "missing source", mutate: func(cfg *models.BackupConfig) { cfg.Source = "" }, wantErr: "source is required"},
		{name: "missing region", mutate: func(cfg *models.BackupConfig) { cfg.Destination.Region = "" }, wantErr: "destination.region is required"},
		{name: "missing directory", mutate: func(cfg *models.BackupConfig) { cfg.Destination.Directory = "" }, wantErr: "destination.directory is required"},
		{name: "bad tool", mutate: func(cfg *models.BackupConfig) { cfg.Naming.Tool = "a/b" }, wantErr: "naming.tool"},
		{name: "negative retries", mutate: func(cfg *models.BackupConfig) { cfg.Retry.MaxRetries = -1 }, wantErr: "retry.max_retries"},
		{name: "zero poll interval", mutate: func(cfg *models.BackupConfig) { cfg.Retry.PollInterval = 0 }, wantErr: "retry.poll_interval"},
		{name: "threshold too large", mutate: func(cfg *models.BackupConfig) { cfg.Download.ProgressThreshold = 1 }, wantErr: "download.progress_threshold"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	require.Error(t, Validate(nil))
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	err := Validate(&models.BackupConfig{Retry: models.RetryPolicy{PollInterval: time.Second}, Naming: models.NamingSettings{Tool: "x"}})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "api.id is required")
	assert.Contains(t, err.Error(), "source is required")
	assert.Contains(t, err.Error(), "destination.directory is required")
}
