// Package runner drives one scan run over a market: universe, snapshot,
// scans, sinks.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/eodscan/internal/common"
	"github.com/bobmcallan/eodscan/internal/indicators"
	"github.com/bobmcallan/eodscan/internal/interfaces"
	"github.com/bobmcallan/eodscan/internal/metrics"
	"github.com/bobmcallan/eodscan/internal/models"
	"github.com/bobmcallan/eodscan/internal/services/scan"
	"github.com/bobmcallan/eodscan/internal/services/snapshot"
)

// Runner runs the catalog against a market's universe and publishes the
// results. It holds no per-run state and is safe for concurrent use.
type Runner struct {
	source       interfaces.BarSource
	catalog      *scan.Catalog
	logger       *common.Logger
	metrics      *metrics.Metrics
	sinks        []interfaces.ResultSink
	snapshotOpts []snapshot.Option
	registryOpts []scan.RegistryOption
	now          func() time.Time
}

// Option configures a Runner
type Option func(*Runner)

// WithSinks adds result sinks, published to in order.
func WithSinks(sinks ...interfaces.ResultSink) Option {
	return func(r *Runner) {
		r.sinks = append(r.sinks, sinks...)
	}
}

// WithMetrics records run and ticker metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) {
		r.metrics = m
	}
}

// WithSnapshotOptions passes options through to the snapshot builder.
func WithSnapshotOptions(opts ...snapshot.Option) Option {
	return func(r *Runner) {
		r.snapshotOpts = append(r.snapshotOpts, opts...)
	}
}

// WithRegistryOptions passes options through to the registry built per run.
func WithRegistryOptions(opts ...scan.RegistryOption) Option {
	return func(r *Runner) {
		r.registryOpts = append(r.registryOpts, opts...)
	}
}

// NewRunner creates a runner. A nil catalog uses the embedded default.
func NewRunner(source interfaces.BarSource, catalog *scan.Catalog, logger *common.Logger, opts ...Option) *Runner {
	if catalog == nil {
		catalog = scan.DefaultCatalog()
	}
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	r := &Runner{
		source:  source,
		catalog: catalog,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Registry compiles the catalog for a market.
func (r *Runner) Registry(market models.Market) *scan.Registry {
	opts := append([]scan.RegistryOption{scan.WithMarket(market)}, r.registryOpts...)
	return scan.NewRegistry(r.catalog, opts...)
}

// Run performs one complete pass over market. The run is returned whenever
// scanning finished, even if publishing to a sink failed; the error then
// joins every sink failure.
func (r *Runner) Run(ctx context.Context, market models.Market) (*models.ScanRun, error) {
	run := &models.ScanRun{
		ID:        uuid.New().String(),
		Market:    market.Name,
		StartedAt: r.now().UTC(),
		Results:   []models.ScanResult{},
	}
	logger := r.logger.With().Str("run_id", run.ID).Str("market", market.Name).Logger()

	reg := r.Registry(market)
	for _, e := range reg.Errors() {
		logger.Warn().Str("group", e.Group).Str("scan", e.Scan).Err(e.Err).Msg("Scan definition excluded")
		run.ConfigErrors = append(run.ConfigErrors, e.Error())
	}

	universe, err := r.universe(ctx, market)
	if err != nil {
		r.metrics.RecordRun(market.Name, r.now().Sub(run.StartedAt), nil, len(run.ConfigErrors), err)
		return nil, err
	}

	opts := append([]snapshot.Option{snapshot.WithMetrics(r.metrics, market.Name)}, r.snapshotOpts...)
	snap, err := snapshot.NewBuilder(r.source, &common.Logger{Logger: logger}, opts...).Build(ctx, universe)
	if err != nil {
		err = fmt.Errorf("snapshot for %s: %w", market.Name, err)
		r.metrics.RecordRun(market.Name, r.now().Sub(run.StartedAt), nil, len(run.ConfigErrors), err)
		return nil, err
	}

	run.AsOf = snap.AsOf
	run.Universe = snap.Universe
	run.Processed = len(snap.Rows)
	run.Skipped = snap.Skipped
	run.Failed = snap.Failed

	rows := indicators.DeriveSnapshot(snap.Rows, reg.RatioWindows())
	matches := make(map[string]int, len(reg.Definitions()))
	for _, def := range reg.Definitions() {
		res := scan.Run(rows, def)
		matches[def.Slug] = res.TotalMatched
		run.Results = append(run.Results, res)
		logger.Debug().
			Str("scan", def.Slug).
			Int("matched", res.TotalMatched).
			Int("returned", len(res.Rows)).
			Msg("Scan evaluated")
	}
	run.FinishedAt = r.now().UTC()

	logger.Info().
		Int("universe", run.Universe).
		Int("processed", run.Processed).
		Int("scans", len(run.Results)).
		Int("matches", run.Matches()).
		Dur("elapsed", run.FinishedAt.Sub(run.StartedAt)).
		Msg("Scan run complete")

	publishErr := r.publish(ctx, run, snap)
	r.metrics.RecordRun(market.Name, run.FinishedAt.Sub(run.StartedAt), matches, len(run.ConfigErrors), publishErr)
	return run, publishErr
}

// universe lists every exchange in the market, dropping repeated tickers.
// A failing exchange is skipped unless every exchange fails.
func (r *Runner) universe(ctx context.Context, market models.Market) ([]*models.Symbol, error) {
	if len(market.Exchanges) == 0 {
		return nil, fmt.Errorf("market %q has no exchanges", market.Name)
	}

	seen := make(map[string]bool)
	var symbols []*models.Symbol
	var errs []error
	for _, ex := range market.Exchanges {
		list, err := r.source.Symbols(ctx, ex)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.logger.Warn().Str("exchange", ex).Err(err).Msg("Failed to list exchange")
			errs = append(errs, err)
			continue
		}
		for _, s := range list {
			if s == nil || seen[s.Ticker()] {
				continue
			}
			seen[s.Ticker()] = true
			symbols = append(symbols, s)
		}
	}

	if len(errs) == len(market.Exchanges) {
		return nil, fmt.Errorf("no exchange in %s could be listed: %w", market.Name, errors.Join(errs...))
	}
	return symbols, nil
}

func (r *Runner) publish(ctx context.Context, run *models.ScanRun, series interfaces.SeriesLookup) error {
	var errs []error
	for _, sink := range r.sinks {
		var err error
		if ss, ok := sink.(interfaces.SeriesSink); ok {
			err = ss.PublishWithSeries(ctx, run, series)
		} else {
			err = sink.Publish(ctx, run)
		}
		if err != nil {
			r.logger.Error().Str("sink", sink.Name()).Str("run_id", run.ID).Err(err).Msg("Failed to publish run")
			r.metrics.RecordSinkError(sink.Name())
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
			continue
		}
		r.logger.Debug().Str("sink", sink.Name()).Str("run_id", run.ID).Msg("Run published")
	}
	return errors.Join(errs...)
}
