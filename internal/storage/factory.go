// Package storage selects the configured run store backend.
package storage

import (
	"context"
	"fmt"

	"github.com/bobmcallan/eodscan/internal/common"
	"github.com/bobmcallan/eodscan/internal/interfaces"
	"github.com/bobmcallan/eodscan/internal/models"
	"github.com/bobmcallan/eodscan/internal/storage/resultfs"
	"github.com/bobmcallan/eodscan/internal/storage/sqlite"
	"github.com/bobmcallan/eodscan/internal/storage/surrealdb"
)

// Backend type constants.
const (
	BackendSQLite    = "sqlite"
	BackendSurrealDB = "surrealdb"
	BackendFile      = "file"
)

// NewRunStore opens the run store named by config.Backend.
// Supported backends: "sqlite" (default), "surrealdb", "file".
func NewRunStore(ctx context.Context, logger *common.Logger, config common.StorageConfig) (interfaces.RunStore, error) {
	backend := config.Backend
	if backend == "" {
		backend = BackendSQLite
	}

	switch backend {
	case BackendSQLite:
		return sqlite.New(config.Path, logger)

	case BackendSurrealDB:
		return surrealdb.Connect(ctx, config, logger)

	case BackendFile:
		return resultfs.New(config.Path, logger)

	default:
		return nil, fmt.Errorf("unknown storage backend: %s (supported: sqlite, surrealdb, file)", backend)
	}
}

// Sink publishes runs by saving them to a RunStore.
type Sink struct {
	store interfaces.RunStore
	name  string
}

// NewSink wraps store as a result sink.
func NewSink(store interfaces.RunStore, backend string) *Sink {
	if backend == "" {
		backend = BackendSQLite
	}
	return &Sink{store: store, name: "store:" + backend}
}

// Name identifies the sink.
func (s *Sink) Name() string {
	return s.name
}

// Publish saves the run.
func (s *Sink) Publish(ctx context.Context, run *models.ScanRun) error {
	return s.store.SaveRun(ctx, run)
}

var _ interfaces.ResultSink = (*Sink)(nil)
