// Package snapshot fetches a market universe and reduces it to one
// indicator row per ticker.
package snapshot

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/bobmcallan/eodscan/internal/common"
	"github.com/bobmcallan/eodscan/internal/indicators"
	"github.com/bobmcallan/eodscan/internal/interfaces"
	"github.com/bobmcallan/eodscan/internal/metrics"
	"github.com/bobmcallan/eodscan/internal/models"
)

const (
	DefaultConcurrency  = 8
	DefaultUniverseCap  = 2000
	DefaultLookbackDays = 400
)

// Snapshot is the latest row for every scannable ticker in a universe.
type Snapshot struct {
	Rows     []models.SnapshotRow
	Universe int
	Skipped  []models.SkippedTicker
	Failed   []models.FailedTicker
	// AsOf is the most recent bar date across the kept rows.
	AsOf time.Time

	series map[string]*models.Series
}

// Series returns the sanitised bars behind a kept row.
func (s *Snapshot) Series(ticker string) (*models.Series, bool) {
	series, ok := s.series[ticker]
	return series, ok
}

// Builder fans a universe out over a bar source with bounded concurrency.
type Builder struct {
	source       interfaces.BarSource
	logger       *common.Logger
	metrics      *metrics.Metrics
	market       string
	concurrency  int
	minHistory   int
	universeCap  int
	lookbackDays int
	now          func() time.Time
}

// Option configures a Builder
type Option func(*Builder)

// WithConcurrency bounds the number of in-flight fetches.
func WithConcurrency(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// WithMinHistory sets the fewest sanitised bars a ticker needs.
func WithMinHistory(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.minHistory = n
		}
	}
}

// WithUniverseCap keeps only the n most traded tickers. Zero disables the cap.
func WithUniverseCap(n int) Option {
	return func(b *Builder) {
		if n >= 0 {
			b.universeCap = n
		}
	}
}

// WithLookbackDays sets how many calendar days of history are requested.
func WithLookbackDays(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.lookbackDays = n
		}
	}
}

// WithMetrics records ticker outcomes under the given market label.
func WithMetrics(m *metrics.Metrics, market string) Option {
	return func(b *Builder) {
		b.metrics = m
		b.market = market
	}
}

// NewBuilder creates a snapshot builder over source.
func NewBuilder(source interfaces.BarSource, logger *common.Logger, opts ...Option) *Builder {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	b := &Builder{
		source:       source,
		logger:       logger,
		concurrency:  DefaultConcurrency,
		minHistory:   indicators.MinHistory,
		universeCap:  DefaultUniverseCap,
		lookbackDays: DefaultLookbackDays,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// outcome is one ticker's slot in the fan-in.
type outcome struct {
	row     models.SnapshotRow
	series  *models.Series
	kept    bool
	skipped *models.SkippedTicker
	failed  *models.FailedTicker
}

// Build fetches every symbol and computes its latest indicator row. Fetch
// failures and short histories are recorded, never returned as errors. The
// only error is a cancelled context, in which case the partial snapshot is
// discarded.
func (b *Builder) Build(ctx context.Context, symbols []*models.Symbol) (*Snapshot, error) {
	from := b.now().AddDate(0, 0, -b.lookbackDays)
	slots := make([]outcome, len(symbols))

	sem := make(chan struct{}, b.concurrency)
	var wg sync.WaitGroup

launch:
	for i, sym := range symbols {
		if sym == nil {
			continue
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			break launch
		}

		wg.Add(1)
		go func(i int, sym models.Symbol) {
			defer wg.Done()
			defer func() { <-sem }()
			slots[i] = b.process(ctx, sym, from)
		}(i, *sym)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Universe: len(symbols),
		series:   make(map[string]*models.Series),
	}
	for _, o := range slots {
		switch {
		case o.kept:
			snap.Rows = append(snap.Rows, o.row)
			snap.series[o.row.Ticker] = o.series
		case o.skipped != nil:
			snap.Skipped = append(snap.Skipped, *o.skipped)
		case o.failed != nil:
			snap.Failed = append(snap.Failed, *o.failed)
		}
	}

	if b.universeCap > 0 && len(snap.Rows) > b.universeCap {
		dropped := len(snap.Rows) - b.universeCap
		snap.Rows = TopByVolume(snap.Rows, b.universeCap)
		kept := make(map[string]*models.Series, len(snap.Rows))
		for _, r := range snap.Rows {
			kept[r.Ticker] = snap.series[r.Ticker]
		}
		snap.series = kept
		b.logger.Info().Int("dropped", dropped).Int("universe_cap", b.universeCap).Msg("Universe truncated by volume")
	}

	for _, r := range snap.Rows {
		if r.Date.After(snap.AsOf) {
			snap.AsOf = r.Date
		}
	}

	b.logger.Info().
		Int("universe", snap.Universe).
		Int("processed", len(snap.Rows)).
		Int("skipped", len(snap.Skipped)).
		Int("failed", len(snap.Failed)).
		Msg("Snapshot built")

	return snap, nil
}

func (b *Builder) process(ctx context.Context, sym models.Symbol, from time.Time) outcome {
	ticker := sym.Ticker()

	if ctx.Err() != nil {
		return outcome{}
	}

	series, err := b.source.Series(ctx, sym, from)
	if err != nil {
		if ctx.Err() != nil {
			return outcome{}
		}
		b.logger.Warn().Str("ticker", ticker).Err(err).Msg("Failed to fetch series")
		b.metrics.RecordTicker(b.market, metrics.OutcomeFailed)
		return outcome{failed: &models.FailedTicker{Ticker: ticker, Error: err.Error()}}
	}

	clean := Sanitize(series)
	if clean.Ticker == "" {
		clean.Ticker, clean.Name, clean.Exchange = ticker, sym.Name, sym.Exchange
	}
	if len(clean.Bars) < b.minHistory {
		b.logger.Debug().Str("ticker", ticker).Int("bars", len(clean.Bars)).Msg("Insufficient history")
		b.metrics.RecordTicker(b.market, metrics.OutcomeSkipped)
		return outcome{skipped: &models.SkippedTicker{Ticker: ticker, Bars: len(clean.Bars)}}
	}

	row, ok := indicators.Latest(*clean)
	if !ok {
		b.metrics.RecordTicker(b.market, metrics.OutcomeSkipped)
		return outcome{skipped: &models.SkippedTicker{Ticker: ticker}}
	}
	b.metrics.RecordTicker(b.market, metrics.OutcomeProcessed)
	return outcome{row: row, series: clean, kept: true}
}

// Sanitize returns a copy of series without bars that cannot feed the
// indicators: a non-finite price, a non-positive close or a negative volume.
func Sanitize(series *models.Series) *models.Series {
	out := &models.Series{
		Ticker:   series.Ticker,
		Name:     series.Name,
		Exchange: series.Exchange,
		Bars:     make([]models.EODBar, 0, len(series.Bars)),
	}
	for _, bar := range series.Bars {
		if !finite(bar.Open, bar.High, bar.Low, bar.Close) || bar.Close <= 0 || bar.Volume < 0 {
			continue
		}
		out.Bars = append(out.Bars, bar)
	}
	return out
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// TopByVolume keeps the n rows with the highest last-bar volume. Survivors
// keep their input order, and ties go to the earlier row.
func TopByVolume(rows []models.SnapshotRow, n int) []models.SnapshotRow {
	if n >= len(rows) {
		return rows
	}
	idx := make([]int, len(rows))
	for i := range idx {
		idx[i] = i
	}
	volume := func(i int) float64 {
		v, _ := rows[i].Get(indicators.ColVolume).Float()
		return v
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return volume(idx[a]) > volume(idx[b])
	})
	keep := idx[:n]
	sort.Ints(keep)

	out := make([]models.SnapshotRow, 0, n)
	for _, i := range keep {
		out = append(out, rows[i])
	}
	return out
}
