// Package app wires configuration, data sources, stores and sinks into a
// runnable scanner shared by every eodscan command.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bobmcallan/eodscan/internal/charts"
	"github.com/bobmcallan/eodscan/internal/clients/barcache"
	"github.com/bobmcallan/eodscan/internal/clients/csvdir"
	"github.com/bobmcallan/eodscan/internal/clients/eodhd"
	"github.com/bobmcallan/eodscan/internal/common"
	"github.com/bobmcallan/eodscan/internal/interfaces"
	"github.com/bobmcallan/eodscan/internal/metrics"
	"github.com/bobmcallan/eodscan/internal/models"
	"github.com/bobmcallan/eodscan/internal/notify/telegram"
	"github.com/bobmcallan/eodscan/internal/services/runner"
	"github.com/bobmcallan/eodscan/internal/services/scan"
	"github.com/bobmcallan/eodscan/internal/services/snapshot"
	"github.com/bobmcallan/eodscan/internal/storage"
	"github.com/bobmcallan/eodscan/internal/storage/resultfs"
)

// Source providers.
const (
	ProviderEODHD = "eodhd"
	ProviderCSV   = "csv"
)

// App holds the initialised scanner and everything it publishes to.
type App struct {
	Config      *common.Config
	Logger      *common.Logger
	Catalog     *scan.Catalog
	Source      interfaces.BarSource
	Store       interfaces.RunStore
	Sinks       []interfaces.ResultSink
	Runner      *runner.Runner
	Metrics     *metrics.Metrics
	StartupTime time.Time

	// runMu is held for the duration of any run.
	runMu   sync.Mutex
	closers []func() error
}

// ErrRunInProgress is returned by RunMarket while another run holds the app.
var ErrRunInProgress = errors.New("a run is already in progress")

// getBinaryDir returns the directory containing the executable.
func getBinaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// ResolveConfigPath picks the config file: the given path, EODSCAN_CONFIG,
// eodscan.toml beside the binary, then config/eodscan.toml.
func ResolveConfigPath(configPath string) string {
	if configPath == "" {
		configPath = os.Getenv("EODSCAN_CONFIG")
	}
	if configPath == "" {
		configPath = filepath.Join(getBinaryDir(), "eodscan.toml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = "config/eodscan.toml" // fallback for development
		}
	}
	return configPath
}

// NewApp loads configuration from configPath (resolved as above) and
// initialises the app. catalogPath overrides scan.catalog_path when set.
func NewApp(ctx context.Context, configPath, catalogPath string) (*App, error) {
	common.LoadVersionFromFile()

	config, err := common.LoadConfig(ResolveConfigPath(configPath))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if catalogPath != "" {
		config.Scan.CatalogPath = catalogPath
	}

	logger := common.NewLoggerFromConfig(config.Logging)
	return NewAppWithConfig(ctx, config, logger)
}

// NewAppWithConfig initialises the app from a loaded config.
func NewAppWithConfig(ctx context.Context, config *common.Config, logger *common.Logger) (*App, error) {
	startupStart := time.Now()
	if logger == nil {
		logger = common.NewSilentLogger()
	}

	a := &App{
		Config:  config,
		Logger:  logger,
		Metrics: metrics.New(),
	}

	catalog, err := scan.LoadCatalog(config.Scan.CatalogPath)
	if err != nil {
		return nil, err
	}
	a.Catalog = catalog

	if err := a.initSource(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initSinks(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.Runner = runner.NewRunner(a.Source, a.Catalog, logger.WithComponent("runner"),
		runner.WithSinks(a.Sinks...),
		runner.WithMetrics(a.Metrics),
		runner.WithSnapshotOptions(
			snapshot.WithConcurrency(config.Scan.Concurrency),
			snapshot.WithMinHistory(config.Scan.MinHistory),
			snapshot.WithUniverseCap(config.Scan.UniverseCap),
			snapshot.WithLookbackDays(config.Scan.LookbackDays),
		),
	)

	a.StartupTime = time.Now()
	logger.Info().
		Str("source", config.Source.Provider).
		Str("storage", config.Storage.Backend).
		Int("catalog_scans", catalog.Len()).
		Int("sinks", len(a.Sinks)).
		Dur("elapsed", a.StartupTime.Sub(startupStart)).
		Msg("App initialised")

	return a, nil
}

func (a *App) initSource(ctx context.Context) error {
	cfg := a.Config
	switch strings.ToLower(cfg.Source.Provider) {
	case "", ProviderEODHD:
		if cfg.Clients.EODHD.APIKey == "" {
			a.Logger.Warn().Msg("EODHD API key not configured - requests will be rejected")
		}
		a.Source = eodhd.NewClient(cfg.Clients.EODHD.APIKey,
			eodhd.WithBaseURL(cfg.Clients.EODHD.BaseURL),
			eodhd.WithLogger(a.Logger.WithComponent("eodhd")),
			eodhd.WithRateLimit(cfg.Clients.EODHD.RateLimit),
			eodhd.WithTimeout(cfg.Clients.EODHD.GetTimeout()),
			eodhd.WithCircuitBreaker(cfg.Clients.EODHD.BreakerFailures, cfg.Clients.EODHD.GetBreakerTimeout()),
		)
	case ProviderCSV:
		a.Source = csvdir.NewSource(cfg.Source.CSVDir, a.Logger.WithComponent("csvdir"))
	default:
		return fmt.Errorf("unknown source provider: %s (supported: eodhd, csv)", cfg.Source.Provider)
	}

	if !cfg.Cache.Enabled {
		return nil
	}
	client, err := barcache.NewRedisClient(ctx, cfg.Cache)
	if err != nil {
		// a cold cache only costs API calls
		a.Logger.Warn().Str("address", cfg.Cache.Address).Err(err).Msg("Bar cache unavailable, fetching directly")
		return nil
	}
	a.closers = append(a.closers, client.Close)
	a.Source = barcache.New(a.Source, client, cfg.Cache.GetTTL(), a.Logger.WithComponent("barcache"))
	return nil
}

func (a *App) initSinks(ctx context.Context) error {
	cfg := a.Config

	store, err := storage.NewRunStore(ctx, a.Logger.WithComponent("storage"), cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.Store = store
	a.closers = append(a.closers, store.Close)
	a.Sinks = append(a.Sinks, storage.NewSink(store, cfg.Storage.Backend))

	var output *resultfs.Store
	if cfg.Output.Export || cfg.Output.Charts {
		output, err = resultfs.New(cfg.Output.Dir, a.Logger.WithComponent("resultfs"))
		if err != nil {
			return err
		}
	}
	if cfg.Output.Export {
		a.Sinks = append(a.Sinks, output)
	}
	if cfg.Output.Charts {
		a.Sinks = append(a.Sinks, charts.NewSink(output, a.Source, a.Logger.WithComponent("charts"),
			cfg.Output.ChartWidth, cfg.Output.ChartHeight, cfg.Scan.LookbackDays))
	}

	if cfg.Notify.Telegram.Enabled {
		notifier, err := telegram.NewNotifier(cfg.Notify.Telegram, a.Logger.WithComponent("telegram"))
		if err != nil {
			return err
		}
		a.Sinks = append(a.Sinks, notifier)
	}
	return nil
}

// Market resolves a configured market by name, or the default scan market
// when name is empty.
func (a *App) Market(name string) (models.Market, error) {
	if name == "" {
		name = a.Config.Scan.Market
	}
	m, ok := a.Config.Market(name)
	if !ok {
		return models.Market{}, fmt.Errorf("unknown market %q", name)
	}
	return m, nil
}

// RunMarket performs one scan run over the named market. It does not wait
// for a run already in flight and returns ErrRunInProgress instead.
func (a *App) RunMarket(ctx context.Context, name string) (*models.ScanRun, error) {
	market, err := a.Market(name)
	if err != nil {
		return nil, err
	}
	if !a.runMu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer a.runMu.Unlock()
	return a.Runner.Run(ctx, market)
}

// Close releases stores and connections.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
