// Package telegram sends the run summary to a Telegram chat.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fgeck/lndbackup/internal/models"
	"github.com/rs/zerolog"
)

// DefaultBaseURL is the Telegram Bot API endpoint.
const DefaultBaseURL = "https://api.telegram.org"

// maxMessageLength is the Telegram limit for one message.
const maxMessageLength = 4096

// Service defines the interface for Telegram notification operations.
type Service interface {
	SendNotification(ctx context.Context, cfg models.TelegramConfig, summary models.RunSummary) (*models.TelegramResult, error)
}

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Impl implements the Service interface.
type Impl struct {
	httpClient HTTPClient
	logger     zerolog.Logger
	baseURL    string
}

// New creates a new Telegram service.
func New(logger zerolog.Logger) *Impl {
	return NewWithClient(logger, &http.Client{Timeout: 30 * time.Second}, DefaultBaseURL)
}

// NewWithClient creates a new Telegram service with a custom HTTP client (for testing).
func NewWithClient(logger zerolog.Logger, httpClient HTTPClient, baseURL string) *Impl {
	return &Impl{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    baseURL,
	}
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// SendNotification sends the run summary.
func (s *Impl) SendNotification(ctx context.Context, cfg models.TelegramConfig, summary models.RunSummary) (*models.TelegramResult, error) {
	result := &models.TelegramResult{}

	s.logger.Info().
		Str("chat_id", cfg.ChatID).
		Bool("success", summary.Success()).
		Msg("sending Telegram notification")

	body, err := json.Marshal(sendMessageRequest{
		ChatID:    cfg.ChatID,
		Text:      FormatMessage(summary),
		ParseMode: "HTML",
	})
	if err != nil {
		result.Error = fmt.Errorf("failed to marshal request: %w", err)
		return result, nil
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, cfg.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		result.Error = fmt.Errorf("failed to create request: %w", err)
		return result, nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		result.Error = fmt.Errorf("failed to send request: %w", err)
		return result, nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		var apiResp apiResponse
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&apiResp)
		if apiResp.Description != "" {
			result.Error = fmt.Errorf("telegram API returned status %d: %s", resp.StatusCode, apiResp.Description)
		} else {
			result.Error = fmt.Errorf("telegram API returned status %d", resp.StatusCode)
		}
		return result, nil
	}

	result.MessageSent = true
	s.logger.Info().Msg("Telegram notification sent successfully")

	return result, nil
}

// FormatMessage renders a run summary as Telegram HTML.
func FormatMessage(summary models.RunSummary) string {
	var b strings.Builder

	switch {
	case summary.Error != nil:
		b.WriteString("❌ <b>Backup Run Aborted</b>\n\n")
	case summary.Failed() > 0:
		b.WriteString("⚠️ <b>Backup Finished With Errors</b>\n\n")
	default:
		b.WriteString("✅ <b>Backup Successful</b>\n\n")
	}

	fmt.Fprintf(&b, "🖥 <b>Source:</b> %s\n", escapeHTML(summary.Source))
	fmt.Fprintf(&b, "⏰ <b>Started:</b> %s\n", summary.StartTime.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "⏱ <b>Duration:</b> %s\n", summary.Duration.Round(time.Second))
	if summary.RunID != "" {
		fmt.Fprintf(&b, "🆔 <b>Run:</b> <code>%s</code>\n", summary.RunID)
	}

	if summary.Error != nil {
		b.WriteString("\n<b>Error Details:</b>\n")
		fmt.Fprintf(&b, "  • Failed step: %s\n", escapeHTML(summary.FailedStep))
		fmt.Fprintf(&b, "  • Error: <code>%s</code>\n", escapeHTML(summary.Error.Error()))
	}

	if len(summary.Results) > 0 {
		fmt.Fprintf(&b, "\n<b>📊 VMs:</b> %d ok, %d failed\n", summary.Succeeded(), summary.Failed())
		for _, r := range summary.Results {
			b.WriteString(formatVM(r))
		}
	}

	text := []rune(b.String())
	if len(text) > maxMessageLength {
		return string(text[:maxMessageLength-4]) + "\n..."
	}
	return string(text)
}

func formatVM(r models.VMResult) string {
	name := fmt.Sprintf("%d", r.VMID)
	if r.Hostname != "" {
		name = fmt.Sprintf("%d (%s)", r.VMID, escapeHTML(r.Hostname))
	}

	if !r.Success() {
		return fmt.Sprintf("  ❌ %s: %s failed: <code>%s</code>\n",
			name, escapeHTML(r.FailedStep), escapeHTML(r.Error.Error()))
	}

	line := fmt.Sprintf("  ✅ %s: %s in %s", name, formatBytes(r.BytesTotal), r.Duration.Round(time.Second))
	if r.Replicated {
		line += ", replicated"
	}
	if r.Removed > 0 {
		line += fmt.Sprintf(", %d old removed", r.Removed)
	}
	return line + "\n"
}

func escapeHTML(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '&':
			b.WriteString("&amp;")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
