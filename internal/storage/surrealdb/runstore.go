// Package surrealdb persists scan runs in SurrealDB.
package surrealdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/bobmcallan/eodscan/internal/common"
	"github.com/bobmcallan/eodscan/internal/interfaces"
	"github.com/bobmcallan/eodscan/internal/models"
)

const runTable = "scan_run"

// runRecord is the stored shape of a run. The run itself travels as JSON so
// undefined indicator values keep their null encoding through CBOR.
type runRecord struct {
	RunID     string `json:"run_id"`
	Market    string `json:"market"`
	AsOf      string `json:"as_of"`
	StartedAt int64  `json:"started_at"`
	Matches   int    `json:"matches"`
	Payload   string `json:"payload"`
}

// RunStore implements interfaces.RunStore on SurrealDB.
type RunStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// Connect signs in, selects the namespace and database, and makes sure the
// run table exists.
func Connect(ctx context.Context, cfg common.StorageConfig, logger *common.Logger) (*RunStore, error) {
	if logger == nil {
		logger = common.NewSilentLogger()
	}

	db, err := surrealdb.New(cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SurrealDB: %w", err)
	}

	if _, err := db.SignIn(ctx, map[string]interface{}{
		"user": cfg.Username,
		"pass": cfg.Password,
	}); err != nil {
		db.Close(ctx)
		return nil, fmt.Errorf("failed to sign in to SurrealDB: %w", err)
	}

	if err := db.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
		db.Close(ctx)
		return nil, fmt.Errorf("failed to select namespace/database: %w", err)
	}

	s, err := NewRunStore(ctx, db, logger)
	if err != nil {
		db.Close(ctx)
		return nil, err
	}

	logger.Info().
		Str("address", cfg.Address).
		Str("namespace", cfg.Namespace).
		Str("database", cfg.Database).
		Msg("SurrealDB run store connected")

	return s, nil
}

// NewRunStore wraps an open connection that already has a namespace and
// database selected.
func NewRunStore(ctx context.Context, db *surrealdb.DB, logger *common.Logger) (*RunStore, error) {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	// SurrealDB v3 errors on querying a table that was never defined
	sql := fmt.Sprintf("DEFINE TABLE IF NOT EXISTS %s SCHEMALESS", runTable)
	if _, err := surrealdb.Query[any](ctx, db, sql, nil); err != nil {
		return nil, fmt.Errorf("failed to define table %s: %w", runTable, err)
	}
	return &RunStore{db: db, logger: logger}, nil
}

// SaveRun upserts run under its ID.
func (s *RunStore) SaveRun(ctx context.Context, run *models.ScanRun) error {
	if run == nil || run.ID == "" {
		return errors.New("run has no ID")
	}
	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to encode run %s: %w", run.ID, err)
	}

	rec := runRecord{
		RunID:     run.ID,
		Market:    run.Market,
		AsOf:      run.AsOf.Format("2006-01-02"),
		StartedAt: run.StartedAt.UnixNano(),
		Matches:   run.Matches(),
		Payload:   string(payload),
	}
	sql := "UPSERT $rid CONTENT $run"
	vars := map[string]any{"rid": surrealmodels.NewRecordID(runTable, run.ID), "run": rec}

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		_, err := surrealdb.Query[[]runRecord](ctx, s.db, sql, vars)
		if err == nil {
			return nil
		}
		lastErr = err
		s.logger.Debug().Str("run_id", run.ID).Int("attempt", attempt).Err(err).Msg("Run save failed")
	}
	return fmt.Errorf("failed to save run %s after retries: %w", run.ID, lastErr)
}

// GetRun returns the run with the given ID, or nil if there is none.
func (s *RunStore) GetRun(ctx context.Context, id string) (*models.ScanRun, error) {
	rec, err := surrealdb.Select[runRecord](ctx, s.db, surrealmodels.NewRecordID(runTable, id))
	if err != nil {
		return nil, fmt.Errorf("failed to select run %s: %w", id, err)
	}
	if rec == nil || rec.Payload == "" {
		return nil, nil
	}
	return decode(rec)
}

// LatestRun returns the most recently started run for market, or nil.
func (s *RunStore) LatestRun(ctx context.Context, market string) (*models.ScanRun, error) {
	sql := fmt.Sprintf("SELECT * FROM %s WHERE market = $market ORDER BY started_at DESC LIMIT 1", runTable)
	vars := map[string]any{"market": market}

	results, err := surrealdb.Query[[]runRecord](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest run for %s: %w", market, err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	return decode(&(*results)[0].Result[0])
}

// Close closes the connection.
func (s *RunStore) Close() error {
	return s.db.Close(context.Background())
}

func decode(rec *runRecord) (*models.ScanRun, error) {
	var run models.ScanRun
	if err := json.Unmarshal([]byte(rec.Payload), &run); err != nil {
		return nil, fmt.Errorf("failed to decode run %s: %w", rec.RunID, err)
	}
	return &run, nil
}

var _ interfaces.RunStore = (*RunStore)(nil)
