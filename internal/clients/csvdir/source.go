// Package csvdir reads bars from a directory of per-ticker CSV files.
//
// Layout:
//
//	<dir>/<EXCHANGE>/symbols.csv   optional: Code,Name[,Type]
//	<dir>/<EXCHANGE>/<CODE>.csv    Date,Open,High,Low,Close[,Adjusted_close],Volume
//
// Column names are matched case-insensitively and columns may be in any
// order. Dates are YYYY-MM-DD.
package csvdir

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bobmcallan/eodscan/internal/common"
	"github.com/bobmcallan/eodscan/internal/interfaces"
	"github.com/bobmcallan/eodscan/internal/models"
)

const symbolsFile = "symbols.csv"

// Source implements interfaces.BarSource over a local directory
type Source struct {
	dir    string
	logger *common.Logger
}

// NewSource creates a source rooted at dir
func NewSource(dir string, logger *common.Logger) *Source {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	return &Source{dir: dir, logger: logger}
}

// Symbols reads symbols.csv for the exchange, or lists its CSV files when
// there is none.
func (s *Source) Symbols(ctx context.Context, exchange string) ([]*models.Symbol, error) {
	exDir := filepath.Join(s.dir, exchange)

	f, err := os.Open(filepath.Join(exDir, symbolsFile))
	if err == nil {
		defer f.Close()
		return readSymbols(f, exchange)
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to open symbols for %s: %w", exchange, err)
	}

	entries, err := os.ReadDir(exDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", exDir, err)
	}
	var out []*models.Symbol
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.EqualFold(filepath.Ext(name), ".csv") {
			continue
		}
		out = append(out, &models.Symbol{
			Code:     strings.TrimSuffix(name, filepath.Ext(name)),
			Exchange: exchange,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func readSymbols(r io.Reader, exchange string) ([]*models.Symbol, error) {
	records, cols, err := readAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read symbols for %s: %w", exchange, err)
	}
	code, ok := cols["code"]
	if !ok {
		return nil, fmt.Errorf("symbols for %s: missing Code column", exchange)
	}

	out := make([]*models.Symbol, 0, len(records))
	for _, rec := range records {
		sym := &models.Symbol{Code: strings.TrimSpace(rec[code]), Exchange: exchange}
		if sym.Code == "" {
			continue
		}
		if i, ok := cols["name"]; ok {
			sym.Name = strings.TrimSpace(rec[i])
		}
		if i, ok := cols["type"]; ok {
			sym.Type = strings.TrimSpace(rec[i])
		}
		out = append(out, sym)
	}
	return out, nil
}

// Series reads a symbol's bars dated on or after from, oldest first.
func (s *Source) Series(ctx context.Context, symbol models.Symbol, from time.Time) (*models.Series, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := filepath.Join(s.dir, symbol.Exchange, symbol.Code+".csv")
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open bars for %s: %w", symbol.Ticker(), err)
	}
	defer f.Close()

	bars, err := ReadBars(f, from)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	return &models.Series{
		Ticker:   symbol.Ticker(),
		Name:     symbol.Name,
		Exchange: symbol.Exchange,
		Bars:     bars,
	}, nil
}

// ReadBars parses a bar CSV, keeping rows dated on or after from.
func ReadBars(r io.Reader, from time.Time) ([]models.EODBar, error) {
	records, cols, err := readAll(r)
	if err != nil {
		return nil, err
	}
	for _, name := range []string{"date", "open", "high", "low", "close", "volume"} {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("missing %s column", name)
		}
	}

	bars := make([]models.EODBar, 0, len(records))
	for n, rec := range records {
		line := n + 2
		date, err := time.Parse("2006-01-02", strings.TrimSpace(rec[cols["date"]]))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if date.Before(from) {
			continue
		}

		var bar models.EODBar
		bar.Date = date
		for _, field := range []struct {
			name string
			dst  *float64
		}{
			{"open", &bar.Open}, {"high", &bar.High}, {"low", &bar.Low}, {"close", &bar.Close},
		} {
			v, err := parseFinite(rec[cols[field.name]])
			if err != nil {
				return nil, fmt.Errorf("line %d %s: %w", line, field.name, err)
			}
			*field.dst = v
		}
		vol, err := parseFinite(rec[cols["volume"]])
		if err != nil {
			return nil, fmt.Errorf("line %d volume: %w", line, err)
		}
		bar.Volume = int64(vol)
		bars = append(bars, bar)
	}

	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars, nil
}

// parseFinite parses a number, rejecting NaN and infinities.
func parseFinite(field string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%q is not a finite number", field)
	}
	return v, nil
}

// readAll returns the data records and a lowercase header index.
func readAll(r io.Reader) ([][]string, map[string]int, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, map[string]int{}, nil
	}
	if err != nil {
		return nil, nil, err
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}

	records, err := cr.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	return records, cols, nil
}

var _ interfaces.BarSource = (*Source)(nil)
