package selector

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/fgeck/lndbackup/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLister struct {
	vms   []models.VirtualMachine
	err   error
	calls int
}

func (m *mockLister) ListVMs(ctx context.Context) ([]models.VirtualMachine, error) {
	m.calls++
	return m.vms, m.err
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func fleet() []models.VirtualMachine {
	return []models.VirtualMachine{
		{ID: 30, Region: "toronto"},
		{ID: 5, Region: "roubaix"},
		{ID: 10, Region: "toronto"},
		{ID: 20, Region: "toronto"},
		{ID: 1, Region: "montreal"},
	}
}

func TestSelect_NumericSource(t *testing.T) {
	tests := []struct {
		source string
		want   []int
	}{
		{source: "12345", want: []int{12345}},
		{source: "5", want: []int{5}},
		{source: "0007", want: []int{7}},
	}

	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			lister := &mockLister{vms: fleet()}
			svc := New(testLogger(), lister)

			ids, err := svc.Select(context.Background(), tt.source)

			require.NoError(t, err)
			assert.Equal(t, tt.want, ids)
			assert.Zero(t, lister.calls, "numeric source must not list VMs")
		})
	}
}

func TestSelect_RegionSortedAscending(t *testing.T) {
	svc := New(testLogger(), &mockLister{vms: fleet()})

	ids, err := svc.Select(context.Background(), "toronto")

	require.NoError(t, err)
	assert.Equal(t, []int{10, 20, 30}, ids)
}

func TestSelect_RegionNoMatches(t *testing.T) {
	svc := New(testLogger(), &mockLister{vms: fleet()})

	ids, err := svc.Select(context.Background(), "frankfurt")

	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSelect_RegionIsCaseSensitive(t *testing.T) {
	svc := New(testLogger(), &mockLister{vms: fleet()})

	ids, err := svc.Select(context.Background(), "Toronto")

	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSelect_ListError(t *testing.T) {
	svc := New(testLogger(), &mockLister{err: errors.New("auth failed")})

	_, err := svc.Select(context.Background(), "toronto")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list VMs")
}

func TestSelect_HugeNumericSource(t *testing.T) {
	svc := New(testLogger(), &mockLister{})

	_, err := svc.Select(context.Background(), "99999999999999999999999")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid VM id")
}
