// Package wol wakes the storage host that receives downloaded images.
package wol

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"time"

	"github.com/fgeck/lndbackup/internal/models"
	"github.com/mdlayher/wol"
	"github.com/rs/zerolog"
)

const (
	defaultPollInterval = 5 * time.Second
	magicPacketPort     = "9"
)

// Service defines the interface for waking the storage host.
type Service interface {
	Wake(ctx context.Context, cfg models.WOLConfig) (*models.WOLResult, error)
}

// Client sends magic packets.
type Client interface {
	Wake(broadcastIP string, mac net.HardwareAddr) error
}

// StatFunc reports whether a path is reachable. It matches os.Stat.
type StatFunc func(path string) (os.FileInfo, error)

// DefaultClient sends magic packets with mdlayher/wol.
type DefaultClient struct{}

// Wake sends a magic packet to mac via the broadcast address.
func (c *DefaultClient) Wake(broadcastIP string, mac net.HardwareAddr) error {
	ip := net.ParseIP(broadcastIP)
	if ip == nil {
		return fmt.Errorf("invalid broadcast IP: %s", broadcastIP)
	}

	client, err := wol.NewClient()
	if err != nil {
		return fmt.Errorf("failed to create WOL client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if err := client.Wake(net.JoinHostPort(ip.String(), magicPacketPort), mac); err != nil {
		return fmt.Errorf("failed to send WOL packet: %w", err)
	}
	return nil
}

// Impl implements the Service interface.
type Impl struct {
	client Client
	stat   StatFunc
	logger zerolog.Logger
}

// New creates a new WOL service.
func New(logger zerolog.Logger) *Impl {
	return NewWithClients(logger, &DefaultClient{}, os.Stat)
}

// NewWithClients creates a new WOL service with custom clients (for testing).
func NewWithClients(logger zerolog.Logger, client Client, stat StatFunc) *Impl {
	return &Impl{client: client, stat: stat, logger: logger}
}

// Wake sends a magic packet and, when ReadyPath is set, waits until that path is reachable.
// Failures are reported in the result; the error return is reserved for programming errors.
func (s *Impl) Wake(ctx context.Context, cfg models.WOLConfig) (*models.WOLResult, error) {
	result := &models.WOLResult{}
	start := time.Now()

	if cfg.ReadyPath != "" {
		if _, err := s.stat(cfg.ReadyPath); err == nil {
			s.logger.Info().Str("path", cfg.ReadyPath).Msg("storage host already up, skipping WOL")
			result.HostReady = true
			return result, nil
		}
	}

	mac, err := net.ParseMAC(cfg.MACAddress)
	if err != nil {
		result.Error = fmt.Errorf("invalid MAC address %q: %w", cfg.MACAddress, err)
		return result, nil
	}

	s.logger.Info().
		Str("mac", cfg.MACAddress).
		Str("broadcast", cfg.BroadcastIP).
		Msg("sending WOL packet to storage host")

	if err := s.client.Wake(cfg.BroadcastIP, mac); err != nil {
		result.Error = err
		return result, nil //nolint:nilerr // error is stored in result struct
	}
	result.PacketSent = true

	if cfg.ReadyPath == "" {
		result.HostReady = true
		result.WaitDuration = time.Since(start)
		return result, nil
	}

	s.logger.Info().
		Str("path", cfg.ReadyPath).
		Dur("timeout", cfg.Timeout).
		Msg("waiting for storage host")

	if err := s.waitForPath(ctx, cfg); err != nil {
		result.WaitDuration = time.Since(start)
		result.Error = err
		return result, nil //nolint:nilerr // error is stored in result struct
	}

	if cfg.StabilizeWait > 0 {
		s.logger.Debug().Dur("wait", cfg.StabilizeWait).Msg("waiting for storage host to settle")
		select {
		case <-ctx.Done():
			result.WaitDuration = time.Since(start)
			result.Error = ctx.Err()
			return result, nil
		case <-time.After(cfg.StabilizeWait):
		}
	}

	result.HostReady = true
	result.WaitDuration = time.Since(start)
	s.logger.Info().Dur("duration", result.WaitDuration).Msg("storage host is ready")

	return result, nil
}

func (s *Impl) waitForPath(ctx context.Context, cfg models.WOLConfig) error {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	deadline := time.Now().Add(cfg.Timeout)

	for {
		_, err := s.stat(cfg.ReadyPath)
		if err == nil {
			return nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Debug().Err(err).Msg("storage host not ready yet")
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("timeout waiting for %s", cfg.ReadyPath)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}
