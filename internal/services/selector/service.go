// Package selector resolves a backup source into the VMs to process.
package selector

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/fgeck/lndbackup/internal/models"
	"github.com/rs/zerolog"
)

// Service defines the interface for VM selection.
type Service interface {
	Select(ctx context.Context, source string) ([]int, error)
}

// VMLister is the part of the compute API the selector needs.
type VMLister interface {
	ListVMs(ctx context.Context) ([]models.VirtualMachine, error)
}

// Impl implements the Service interface.
type Impl struct {
	api    VMLister
	logger zerolog.Logger
}

// New creates a new selector service.
func New(logger zerolog.Logger, api VMLister) *Impl {
	return &Impl{api: api, logger: logger}
}

// Select returns the VM ids to back up. A source made only of digits is a literal VM id;
// anything else is a region name, resolved to its VMs in ascending id order.
func (s *Impl) Select(ctx context.Context, source string) ([]int, error) {
	if isDigits(source) {
		id, err := strconv.Atoi(source)
		if err != nil {
			return nil, fmt.Errorf("invalid VM id %q: %w", source, err)
		}
		s.logger.Debug().Int("vm_id", id).Msg("source is a single VM")
		return []int{id}, nil
	}

	vms, err := s.api.ListVMs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list VMs: %w", err)
	}

	ids := make([]int, 0, len(vms))
	for _, vm := range vms {
		if vm.Region == source {
			ids = append(ids, vm.ID)
		}
	}
	sort.Ints(ids)

	s.logger.Debug().
		Str("region", source).
		Int("total", len(vms)).
		Int("selected", len(ids)).
		Msg("source is a region")

	return ids, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
