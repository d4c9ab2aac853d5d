//go:build e2e

package e2e

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/fgeck/lndbackup/internal/models"
	"github.com/fgeck/lndbackup/internal/services/telegram"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getTelegramConfig(t *testing.T) models.TelegramConfig {
	t.Helper()

	botToken := os.Getenv("TEST_TELEGRAM_BOT_TOKEN")
	if botToken == "" {
		t.Skip("TEST_TELEGRAM_BOT_TOKEN not set")
	}

	chatID := os.Getenv("TEST_TELEGRAM_CHAT_ID")
	if chatID == "" {
		t.Skip("TEST_TELEGRAM_CHAT_ID not set")
	}

	return models.TelegramConfig{
		BotToken: botToken,
		ChatID:   chatID,
	}
}

func TestTelegramSendSuccessNotification_E2E(t *testing.T) {
	cfg := getTelegramConfig(t)

	svc := telegram.New(testLogger())

	summary := models.RunSummary{
		RunID:     "e2e-success",
		Source:    "toronto",
		StartTime: time.Now().Add(-40 * time.Minute),
		Duration:  40 * time.Minute,
		Results: []models.VMResult{
			{
				VMID:       101,
				Hostname:   "e2e-web",
				LocalPath:  "/backups/lndbackup 101 2026-01-01 e2e-web.img",
				BytesTotal: 1024 * 1024 * 1024 * 10, // 10 GB
				Replicated: true,
				Removed:    2,
				Duration:   25 * time.Minute,
			},
			{
				VMID:       102,
				Hostname:   "e2e-db",
				BytesTotal: 1024 * 1024 * 1024 * 4,
				Duration:   15 * time.Minute,
			},
		},
	}

	result, err := svc.SendNotification(context.Background(), cfg, summary)

	require.NoError(t, err)
	assert.True(t, result.MessageSent)
	assert.Nil(t, result.Error)
}

func TestTelegramSendFailureNotification_E2E(t *testing.T) {
	cfg := getTelegramConfig(t)

	svc := telegram.New(testLogger())

	summary := models.RunSummary{
		RunID:     "e2e-failure",
		Source:    "12345",
		StartTime: time.Now().Add(-2 * time.Minute),
		Duration:  2 * time.Minute,
		Results: []models.VMResult{
			{
				VMID:       12345,
				Hostname:   "e2e-host",
				FailedStep: models.StepSnapshot,
				Error:      errors.New("snapshot failed after 4 attempt(s): image 999 killed"),
			},
		},
	}

	result, err := svc.SendNotification(context.Background(), cfg, summary)

	require.NoError(t, err)
	assert.True(t, result.MessageSent)
	assert.Nil(t, result.Error)
}

func TestTelegramSendAbortedNotification_E2E(t *testing.T) {
	cfg := getTelegramConfig(t)

	svc := telegram.New(testLogger())

	summary := models.RunSummary{
		RunID:      "e2e-aborted",
		Source:     "toronto",
		StartTime:  time.Now(),
		FailedStep: models.StepLock,
		Error:      errors.New("another backup is running"),
	}

	result, err := svc.SendNotification(context.Background(), cfg, summary)

	require.NoError(t, err)
	assert.True(t, result.MessageSent)
}

func TestTelegramInvalidToken_E2E(t *testing.T) {
	cfg := models.TelegramConfig{
		BotToken: "invalid:token",
		ChatID:   "-100123456789",
	}

	svc := telegram.New(testLogger())

	result, err := svc.SendNotification(context.Background(), cfg, models.RunSummary{Source: "test"})

	require.NoError(t, err)
	assert.False(t, result.MessageSent)
	assert.NotNil(t, result.Error)
}

func TestTelegramInvalidChatID_E2E(t *testing.T) {
	botToken := os.Getenv("TEST_TELEGRAM_BOT_TOKEN")
	if botToken == "" {
		t.Skip("TEST_TELEGRAM_BOT_TOKEN not set")
	}

	cfg := models.TelegramConfig{
		BotToken: botToken,
		ChatID:   "invalid-chat-id",
	}

	svc := telegram.New(testLogger())

	result, err := svc.SendNotification(context.Background(), cfg, models.RunSummary{Source: "test"})

	require.NoError(t, err)
	assert.False(t, result.MessageSent)
	assert.NotNil(t, result.Error)
}
