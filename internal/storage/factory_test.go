package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/eodscan/internal/common"
	"github.com/bobmcallan/eodscan/internal/models"
	"github.com/bobmcallan/eodscan/internal/storage/resultfs"
	"github.com/bobmcallan/eodscan/internal/storage/sqlite"
)

func TestNewRunStore_Backends(t *testing.T) {
	ctx := context.Background()
	logger := common.NewSilentLogger()

	store, err := NewRunStore(ctx, logger, common.StorageConfig{Path: sqlite.MemoryPath})
	require.NoError(t, err)
	assert.IsType(t, &sqlite.Store{}, store)
	store.Close()

	store, err = NewRunStore(ctx, logger, common.StorageConfig{Backend: BackendFile, Path: filepath.Join(t.TempDir(), "runs")})
	require.NoError(t, err)
	assert.IsType(t, &resultfs.Store{}, store)

	_, err = NewRunStore(ctx, logger, common.StorageConfig{Backend: "badger"})
	assert.ErrorContains(t, err, "unknown storage backend: badger")
}

func TestSink_SavesRun(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.New(sqlite.MemoryPath, nil)
	require.NoError(t, err)
	defer store.Close()

	sink := NewSink(store, "")
	assert.Equal(t, "store:sqlite", sink.Name())

	run := &models.ScanRun{ID: "run-1", Market: "Japan", StartedAt: time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)}
	require.NoError(t, sink.Publish(ctx, run))

	got, err := store.LatestRun(ctx, "Japan")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "run-1", got.ID)
}
