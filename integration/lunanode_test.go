//go:build integration

package integration

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/fgeck/lndbackup/internal/models"
	"github.com/fgeck/lndbackup/internal/naming"
	"github.com/fgeck/lndbackup/internal/services/cleanup"
	"github.com/fgeck/lndbackup/internal/services/download"
	"github.com/fgeck/lndbackup/internal/services/lifecycle"
	"github.com/fgeck/lndbackup/internal/services/lunanode"
	"github.com/fgeck/lndbackup/internal/services/selector"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func getAPIConfig(t *testing.T) models.APIConfig {
	t.Helper()

	id := os.Getenv("TEST_LUNANODE_API_ID")
	if id == "" {
		t.Skip("TEST_LUNANODE_API_ID not set")
	}

	key := os.Getenv("TEST_LUNANODE_API_KEY")
	if key == "" {
		t.Skip("TEST_LUNANODE_API_KEY not set")
	}

	return models.APIConfig{ID: id, Key: key}
}

func newAPI(t *testing.T) *lunanode.Impl {
	t.Helper()

	api, err := lunanode.New(testLogger(), getAPIConfig(t))
	require.NoError(t, err)
	return api
}

func TestLunaNodeListVMs_Integration(t *testing.T) {
	api := newAPI(t)

	vms, err := api.ListVMs(context.Background())

	require.NoError(t, err)
	for _, vm := range vms {
		assert.Positive(t, vm.ID)
		assert.NotEmpty(t, vm.Region)
	}
}

func TestLunaNodeSelectRegion_Integration(t *testing.T) {
	region := os.Getenv("TEST_LUNANODE_REGION")
	if region == "" {
		t.Skip("TEST_LUNANODE_REGION not set")
	}

	api := newAPI(t)
	svc := selector.New(testLogger(), api)

	ids, err := svc.Select(context.Background(), region)

	require.NoError(t, err)
	for i := 1; i < len(ids); i++ {
		assert.Less(t, ids[i-1], ids[i])
	}
}

func TestLunaNodeListImages_Integration(t *testing.T) {
	api := newAPI(t)

	images, err := api.ListImages(context.Background())

	require.NoError(t, err)
	for _, img := range images {
		assert.Positive(t, img.ID)
	}
}

func TestLunaNodeInvalidCredentials_Integration(t *testing.T) {
	if os.Getenv("TEST_LUNANODE_API_ID") == "" {
		t.Skip("TEST_LUNANODE_API_ID not set")
	}

	api, err := lunanode.New(testLogger(), models.APIConfig{
		ID:  os.Getenv("TEST_LUNANODE_API_ID"),
		Key: "0000000000000000000000000000000000000000000000000000000000000000deadbeef",
	})
	require.NoError(t, err)

	_, err = api.ListVMs(context.Background())

	require.Error(t, err)
	var apiErr *lunanode.APIError
	assert.ErrorAs(t, err, &apiErr)
}

// WARNING: This test snapshots a real VM and downloads the image.
// It is billed by LunaNode and can take a long time.
func TestLunaNodeSnapshotDownloadCleanup_Integration(t *testing.T) {
	vmIDStr := os.Getenv("TEST_LUNANODE_VM_ID")
	if vmIDStr == "" {
		t.Skip("TEST_LUNANODE_VM_ID not set - skipping real snapshot test")
	}
	vmID, err := strconv.Atoi(vmIDStr)
	require.NoError(t, err)

	api := newAPI(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Hour)
	defer cancel()

	vm, err := api.GetVMInfo(ctx, vmID)
	require.NoError(t, err)

	tool := "lndbackup-it"
	name := naming.ImageName(tool, vm.ID, time.Now(), vm.Hostname)

	ctrl := lifecycle.New(testLogger(), api, models.RetryPolicy{
		MaxRetries:    1,
		PollInterval:  30 * time.Second,
		StatusTimeout: 2 * time.Hour,
	})
	imageID, err := ctrl.Snapshot(ctx, vm.ID, name, nil)
	require.NoError(t, err)

	dir := t.TempDir()
	localPath := filepath.Join(dir, naming.FileName(name))

	dl := download.New(testLogger(), api, download.DefaultProgressThreshold)
	n, err := dl.Download(ctx, imageID, localPath, nil)
	require.NoError(t, err)
	assert.Positive(t, n)

	// A different prefix than production backups, so only test images are pruned.
	cl := cleanup.New(testLogger(), api, dir)
	result, err := cl.Prune(ctx, models.CleanupRequest{
		Prefix:         naming.Prefix(tool, vm.ID),
		CurrentImageID: 0, // remove the test image as well
		CurrentPath:    "",
	})
	require.NoError(t, err)
	assert.Contains(t, result.RemoteImagesDeleted, imageID)
	assert.Contains(t, result.LocalFilesDeleted, localPath)
}
