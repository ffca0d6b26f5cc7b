// Package sqlite persists scan runs in an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/bobmcallan/eodscan/internal/common"
	"github.com/bobmcallan/eodscan/internal/interfaces"
	"github.com/bobmcallan/eodscan/internal/models"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Store keeps each run as a JSON document plus one summary row per scan
// result, so match counts can be queried without decoding runs.
type Store struct {
	db     *sql.DB
	logger *common.Logger
}

// New opens or creates the database at path.
func New(path string, logger *common.Logger) (*Store, error) {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	if path == "" {
		path = filepath.Join("data", "eodscan.db")
	}
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// single writer; also keeps :memory: on one connection
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{`PRAGMA journal_mode=WAL`, `PRAGMA foreign_keys=ON`} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	s := &Store{db: db, logger: logger}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("SQLite run store opened")
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS scan_runs (
			id          TEXT PRIMARY KEY,
			market      TEXT NOT NULL,
			as_of       INTEGER NOT NULL,
			started_at  INTEGER NOT NULL,
			finished_at INTEGER NOT NULL,
			universe    INTEGER NOT NULL,
			processed   INTEGER NOT NULL,
			payload     TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS scan_results (
			run_id        TEXT NOT NULL REFERENCES scan_runs(id) ON DELETE CASCADE,
			slug          TEXT NOT NULL,
			group_name    TEXT NOT NULL,
			scan          TEXT NOT NULL,
			total_matched INTEGER NOT NULL,
			returned      INTEGER NOT NULL,
			PRIMARY KEY (run_id, slug)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scan_runs_market_started ON scan_runs(market, started_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveRun stores run, replacing any earlier copy with the same ID.
func (s *Store) SaveRun(ctx context.Context, run *models.ScanRun) error {
	if run == nil || run.ID == "" {
		return errors.New("run has no ID")
	}
	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to encode run %s: %w", run.ID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM scan_runs WHERE id = ?`, run.ID); err != nil {
		return fmt.Errorf("failed to replace run %s: %w", run.ID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO scan_runs (id, market, as_of, started_at, finished_at, universe, processed, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Market, run.AsOf.Unix(), run.StartedAt.UnixNano(), run.FinishedAt.UnixNano(),
		run.Universe, run.Processed, string(payload),
	); err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO scan_results (run_id, slug, group_name, scan, total_matched, returned) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare result insert: %w", err)
	}
	defer stmt.Close()
	for _, res := range run.Results {
		if _, err := stmt.ExecContext(ctx, run.ID, res.Slug, res.Group, res.Scan, res.TotalMatched, len(res.Rows)); err != nil {
			return fmt.Errorf("failed to insert result %s: %w", res.Slug, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun returns the run with the given ID, or nil if there is none.
func (s *Store) GetRun(ctx context.Context, id string) (*models.ScanRun, error) {
	row := s.db.QueryRowContext(ctx, `SELECT payload FROM scan_runs WHERE id = ?`, id)
	return decodeRun(row)
}

// LatestRun returns the most recently started run for market, or nil.
func (s *Store) LatestRun(ctx context.Context, market string) (*models.ScanRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT payload FROM scan_runs WHERE market = ? ORDER BY started_at DESC LIMIT 1`, market)
	return decodeRun(row)
}

// MatchHistory is one scan's match count in one run.
type MatchHistory struct {
	RunID        string `json:"run_id"`
	AsOf         int64  `json:"as_of"`
	TotalMatched int    `json:"total_matched"`
	Returned     int    `json:"returned"`
}

// History returns a scan's match counts for market, newest first.
func (s *Store) History(ctx context.Context, market, slug string, limit int) ([]MatchHistory, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.as_of, s.total_matched, s.returned
		   FROM scan_results s JOIN scan_runs r ON r.id = s.run_id
		  WHERE r.market = ? AND s.slug = ?
		  ORDER BY r.started_at DESC
		  LIMIT ?`, market, slug, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history for %s: %w", slug, err)
	}
	defer rows.Close()

	var out []MatchHistory
	for rows.Next() {
		var h MatchHistory
		if err := rows.Scan(&h.RunID, &h.AsOf, &h.TotalMatched, &h.Returned); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func decodeRun(row *sql.Row) (*models.ScanRun, error) {
	var payload string
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read run: %w", err)
	}
	var run models.ScanRun
	if err := json.Unmarshal([]byte(payload), &run); err != nil {
		return nil, fmt.Errorf("failed to decode run: %w", err)
	}
	return &run, nil
}

var _ interfaces.RunStore = (*Store)(nil)
