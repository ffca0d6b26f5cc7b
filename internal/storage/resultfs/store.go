// Package resultfs writes scan runs to a directory tree: one run.json and
// one CSV per scan under <dir>/<market>/<date>/.
package resultfs

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bobmcallan/eodscan/internal/common"
	"github.com/bobmcallan/eodscan/internal/interfaces"
	"github.com/bobmcallan/eodscan/internal/models"
)

const runFile = "run.json"

// csvColumns lead every exported CSV; the scan's sort key follows unless it
// is already one of them.
var csvColumns = []string{"close", "volume", "daily_change", "roc", "volume_ratio"}

// Store is both a RunStore and a ResultSink over a base directory.
type Store struct {
	basePath string
	logger   *common.Logger
}

// New creates the base directory if needed.
func New(path string, logger *common.Logger) (*Store, error) {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create result path %s: %w", path, err)
	}
	logger.Info().Str("path", path).Msg("Result directory opened")
	return &Store{basePath: path, logger: logger}, nil
}

// DataPath returns the base directory.
func (s *Store) DataPath() string {
	return s.basePath
}

// Name identifies the store as a sink.
func (s *Store) Name() string {
	return "file"
}

// RunDir is the directory a run's files are written to.
func (s *Store) RunDir(run *models.ScanRun) string {
	return filepath.Join(s.basePath, RunSubdir(run))
}

// RunSubdir is RunDir relative to the base directory: <market>/<date>.
func RunSubdir(run *models.ScanRun) string {
	day := run.AsOf
	if day.IsZero() {
		day = run.StartedAt
	}
	return filepath.Join(MarketSlug(run.Market), day.Format("2006-01-02"))
}

// Publish writes run.json and every scan's CSV.
func (s *Store) Publish(ctx context.Context, run *models.ScanRun) error {
	if err := s.SaveRun(ctx, run); err != nil {
		return err
	}

	dir := s.RunDir(run)
	var errs []error
	for _, res := range run.Results {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := EncodeCSV(res)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.Slug, err))
			continue
		}
		if err := writeAtomic(dir, res.Slug+".csv", data); err != nil {
			errs = append(errs, err)
		}
	}

	s.logger.Info().Str("dir", dir).Int("scans", len(run.Results)).Msg("Run exported")
	return errors.Join(errs...)
}

// SaveRun writes run.json for run, replacing the day's earlier run.
func (s *Store) SaveRun(ctx context.Context, run *models.ScanRun) error {
	if run == nil || run.ID == "" {
		return errors.New("run has no ID")
	}
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode run %s: %w", run.ID, err)
	}
	return writeAtomic(s.RunDir(run), runFile, data)
}

// GetRun finds a run by ID across every market and day, or returns nil.
func (s *Store) GetRun(ctx context.Context, id string) (*models.ScanRun, error) {
	paths, err := filepath.Glob(filepath.Join(s.basePath, "*", "*", runFile))
	if err != nil {
		return nil, err
	}
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		run, err := readRun(p)
		if err != nil {
			s.logger.Warn().Str("path", p).Err(err).Msg("Skipping unreadable run")
			continue
		}
		if run.ID == id {
			return run, nil
		}
	}
	return nil, nil
}

// LatestRun returns the most recently started run for market, or nil.
func (s *Store) LatestRun(ctx context.Context, market string) (*models.ScanRun, error) {
	paths, err := filepath.Glob(filepath.Join(s.basePath, MarketSlug(market), "*", runFile))
	if err != nil {
		return nil, err
	}
	var latest *models.ScanRun
	for _, p := range paths {
		run, err := readRun(p)
		if err != nil {
			s.logger.Warn().Str("path", p).Err(err).Msg("Skipping unreadable run")
			continue
		}
		if latest == nil || run.StartedAt.After(latest.StartedAt) {
			latest = run
		}
	}
	return latest, nil
}

// WriteRaw writes data to subdir/key under the base directory atomically.
func (s *Store) WriteRaw(subdir, key string, data []byte) error {
	return writeAtomic(filepath.Join(s.basePath, subdir), sanitizeKey(key), data)
}

// Close is a no-op for file-based storage.
func (s *Store) Close() error {
	return nil
}

// EncodeCSV renders one scan result: ticker, name, the fixed columns and the
// sort key. Undefined values are left blank.
func EncodeCSV(res models.ScanResult) ([]byte, error) {
	columns := csvColumns
	if res.SortKey != "" && !contains(columns, res.SortKey) {
		columns = append(append([]string{}, csvColumns...), res.SortKey)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(append([]string{"ticker", "name"}, columns...)); err != nil {
		return nil, err
	}
	for _, row := range res.Rows {
		record := make([]string, 0, len(columns)+2)
		record = append(record, row.Ticker, row.Name)
		for _, c := range columns {
			v, ok := row.Get(c).Float()
			if !ok {
				record = append(record, "")
				continue
			}
			record = append(record, strconv.FormatFloat(v, 'f', -1, 64))
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// MarketSlug turns a market name into a directory name.
func MarketSlug(market string) string {
	slug := strings.ToLower(strings.TrimSpace(market))
	slug = strings.ReplaceAll(slug, " ", "_")
	if slug == "" {
		return "default"
	}
	return sanitizeKey(slug)
}

func contains(xs []string, x string) bool {
	for _, s := range xs {
		if s == x {
			return true
		}
	}
	return false
}

func readRun(path string) (*models.ScanRun, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var run models.ScanRun
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return &run, nil
}

func sanitizeKey(key string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "..", "_")
	return r.Replace(key)
}

func writeAtomic(dir, name string, data []byte) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	target := filepath.Join(dir, sanitizeKey(name))

	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

var (
	_ interfaces.RunStore   = (*Store)(nil)
	_ interfaces.ResultSink = (*Store)(nil)
)
