// Package common provides shared utilities for eodscan
package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/bobmcallan/eodscan/internal/models"
)

// Config holds all configuration for eodscan
type Config struct {
	Environment string          `toml:"environment"`
	Server      ServerConfig    `toml:"server"`
	Logging     LoggingConfig   `toml:"logging"`
	Scan        ScanConfig      `toml:"scan"`
	Markets     []models.Market `toml:"markets"`
	Source      SourceConfig    `toml:"source"`
	Clients     ClientsConfig   `toml:"clients"`
	Cache       CacheConfig     `toml:"cache"`
	Storage     StorageConfig   `toml:"storage"`
	Output      OutputConfig    `toml:"output"`
	Notify      NotifyConfig    `toml:"notify"`
	Schedule    ScheduleConfig  `toml:"schedule"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "console" or "json"
}

// ScanConfig controls a scan run
type ScanConfig struct {
	CatalogPath  string `toml:"catalog_path"` // empty uses the built-in catalog
	MinHistory   int    `toml:"min_history"`
	UniverseCap  int    `toml:"universe_cap"`
	Concurrency  int    `toml:"concurrency"`
	LookbackDays int    `toml:"lookback_days"`
	Market       string `toml:"market"`
}

// SourceConfig selects where bars come from
type SourceConfig struct {
	Provider string `toml:"provider"` // "eodhd" or "csv"
	CSVDir   string `toml:"csv_dir"`
}

// ClientsConfig holds API client configurations
type ClientsConfig struct {
	EODHD EODHDConfig `toml:"eodhd"`
}

// EODHDConfig holds EODHD API configuration
type EODHDConfig struct {
	BaseURL         string `toml:"base_url"`
	APIKey          string `toml:"api_key"`
	RateLimit       int    `toml:"rate_limit"`
	Timeout         string `toml:"timeout"`
	BreakerFailures int    `toml:"breaker_failures"`
	BreakerTimeout  string `toml:"breaker_timeout"`
}

// GetTimeout parses and returns the timeout duration
func (c *EODHDConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetBreakerTimeout returns how long the breaker stays open
func (c *EODHDConfig) GetBreakerTimeout() time.Duration {
	d, err := time.ParseDuration(c.BreakerTimeout)
	if err != nil {
		return time.Minute
	}
	return d
}

// CacheConfig holds the Redis bar cache configuration
type CacheConfig struct {
	Enabled  bool   `toml:"enabled"`
	Address  string `toml:"address"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	TTL      string `toml:"ttl"`
}

// GetTTL parses and returns the cache entry lifetime
func (c *CacheConfig) GetTTL() time.Duration {
	d, err := time.ParseDuration(c.TTL)
	if err != nil {
		return 12 * time.Hour
	}
	return d
}

// StorageConfig selects and configures the run store
type StorageConfig struct {
	Backend   string `toml:"backend"` // "sqlite", "surrealdb" or "file"
	Path      string `toml:"path"`
	Address   string `toml:"address"`
	Namespace string `toml:"namespace"`
	Database  string `toml:"database"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
}

// OutputConfig controls file exports and charts
type OutputConfig struct {
	Dir         string `toml:"dir"`
	Export      bool   `toml:"export"`
	Charts      bool   `toml:"charts"`
	ChartWidth  int    `toml:"chart_width"`
	ChartHeight int    `toml:"chart_height"`
}

// NotifyConfig holds notifier configurations
type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

// TelegramConfig holds Telegram bot configuration
type TelegramConfig struct {
	Enabled    bool   `toml:"enabled"`
	BotToken   string `toml:"bot_token"`
	ChatID     int64  `toml:"chat_id"`
	MaxRetries int    `toml:"max_retries"`
	TopN       int    `toml:"top_n"`
}

// ScheduleConfig holds the serve-mode run schedule
type ScheduleConfig struct {
	Cron     string `toml:"cron"` // six fields, seconds first
	Timezone string `toml:"timezone"`
}

// GetLocation returns the schedule timezone, UTC when unset or unknown
func (c *ScheduleConfig) GetLocation() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DefaultMarkets mirrors the exchange groupings and scale factors the
// catalog thresholds were calibrated against.
func DefaultMarkets() []models.Market {
	return []models.Market{
		{Name: "United States", Exchanges: []string{"US"}, VolumeScale: 1, PriceScale: 1},
		{Name: "Australia", Exchanges: []string{"AU"}, VolumeScale: 0.5, PriceScale: 1},
		{Name: "Hong Kong", Exchanges: []string{"HK"}, VolumeScale: 1, PriceScale: 5},
		{Name: "Japan", Exchanges: []string{"TSE"}, VolumeScale: 0.5, PriceScale: 100},
		{Name: "Singapore", Exchanges: []string{"SG"}, VolumeScale: 0.2, PriceScale: 1},
		{Name: "Indonesia", Exchanges: []string{"JK"}, VolumeScale: 0.2, PriceScale: 100},
		{Name: "Nordic Markets", Exchanges: []string{"ST", "OL", "CO", "HE"}, VolumeScale: 0.2, PriceScale: 4},
		{Name: "Poland", Exchanges: []string{"WAR"}, VolumeScale: 0.1, PriceScale: 4},
		{Name: "Germany", Exchanges: []string{"XETRA"}, VolumeScale: 0.1, PriceScale: 1},
		{Name: "France", Exchanges: []string{"PA"}, VolumeScale: 0.1, PriceScale: 1},
		{Name: "Belgium", Exchanges: []string{"BR"}, VolumeScale: 0.1, PriceScale: 1},
		{Name: "Netherlands", Exchanges: []string{"AS"}, VolumeScale: 0.1, PriceScale: 1},
		{Name: "Italy", Exchanges: []string{"MI"}, VolumeScale: 0.1, PriceScale: 1},
		{Name: "United Kingdom", Exchanges: []string{"LSE"}, VolumeScale: 0.5, PriceScale: 1},
		{Name: "Canada", Exchanges: []string{"TO", "V"}, VolumeScale: 0.5, PriceScale: 1},
	}
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Scan: ScanConfig{
			MinHistory:   50,
			UniverseCap:  2000,
			Concurrency:  8,
			LookbackDays: 400,
			Market:       "United States",
		},
		Markets: DefaultMarkets(),
		Source: SourceConfig{
			Provider: "eodhd",
			CSVDir:   "data/bars",
		},
		Clients: ClientsConfig{
			EODHD: EODHDConfig{
				BaseURL:         "https://eodhd.com/api",
				RateLimit:       10,
				Timeout:         "30s",
				BreakerFailures: 5,
				BreakerTimeout:  "1m",
			},
		},
		Cache: CacheConfig{
			Address: "localhost:6379",
			TTL:     "12h",
		},
		Storage: StorageConfig{
			Backend:   "sqlite",
			Path:      "data/eodscan.db",
			Address:   "ws://localhost:8000/rpc",
			Namespace: "eodscan",
			Database:  "eodscan",
			Username:  "root",
			Password:  "root",
		},
		Output: OutputConfig{
			Dir:         "data/results",
			Export:      true,
			Charts:      false,
			ChartWidth:  1200,
			ChartHeight: 600,
		},
		Notify: NotifyConfig{
			Telegram: TelegramConfig{
				MaxRetries: 3,
				TopN:       5,
			},
		},
		Schedule: ScheduleConfig{
			Cron:     "0 30 22 * * 1-5",
			Timezone: "UTC",
		},
	}
}

// LoadConfig loads configuration from files with environment overrides
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	// Load and merge each config file in order (later files override earlier)
	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue // Skip missing files
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		// a file that lists markets replaces the table rather than merging
		// into the default entries by index
		var probe struct {
			Markets []models.Market `toml:"markets"`
		}
		if err := toml.Unmarshal(data, &probe); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		if len(probe.Markets) > 0 {
			config.Markets = nil
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	// Apply environment overrides
	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("EODSCAN_ENV"); env != "" {
		config.Environment = env
	}

	if host := os.Getenv("EODSCAN_HOST"); host != "" {
		config.Server.Host = host
	}

	if port := os.Getenv("EODSCAN_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if level := os.Getenv("EODSCAN_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if market := os.Getenv("EODSCAN_MARKET"); market != "" {
		config.Scan.Market = market
	}

	if v := os.Getenv("EODSCAN_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Scan.Concurrency = n
		}
	}

	if key := os.Getenv("EODHD_API_KEY"); key != "" {
		config.Clients.EODHD.APIKey = key
	}
	if key := os.Getenv("EODSCAN_EODHD_API_KEY"); key != "" {
		config.Clients.EODHD.APIKey = key
	}

	if addr := os.Getenv("EODSCAN_REDIS_ADDRESS"); addr != "" {
		config.Cache.Address = addr
		config.Cache.Enabled = true
	}

	if backend := os.Getenv("EODSCAN_STORAGE_BACKEND"); backend != "" {
		config.Storage.Backend = backend
	}
	if path := os.Getenv("EODSCAN_STORAGE_PATH"); path != "" {
		config.Storage.Path = path
	}
	if addr := os.Getenv("EODSCAN_SURREALDB_ADDRESS"); addr != "" {
		config.Storage.Address = addr
	}

	if dir := os.Getenv("EODSCAN_OUTPUT_DIR"); dir != "" {
		config.Output.Dir = dir
	}

	if token := os.Getenv("EODSCAN_TELEGRAM_BOT_TOKEN"); token != "" {
		config.Notify.Telegram.BotToken = token
	}
	if chat := os.Getenv("EODSCAN_TELEGRAM_CHAT_ID"); chat != "" {
		if id, err := strconv.ParseInt(chat, 10, 64); err == nil {
			config.Notify.Telegram.ChatID = id
		}
	}
}

// Validate rejects settings no run could work with
func (c *Config) Validate() error {
	var problems []string

	if c.Scan.Concurrency < 1 {
		problems = append(problems, "scan.concurrency must be at least 1")
	}
	if c.Scan.MinHistory < 1 {
		problems = append(problems, "scan.min_history must be at least 1")
	}
	if c.Scan.UniverseCap < 0 {
		problems = append(problems, "scan.universe_cap must not be negative")
	}
	if _, ok := c.Market(c.Scan.Market); !ok {
		problems = append(problems, fmt.Sprintf("scan.market %q is not in [[markets]]", c.Scan.Market))
	}

	switch strings.ToLower(c.Source.Provider) {
	case "eodhd", "csv":
	default:
		problems = append(problems, fmt.Sprintf("source.provider %q must be eodhd or csv", c.Source.Provider))
	}

	switch strings.ToLower(c.Storage.Backend) {
	case "sqlite", "surrealdb", "file", "":
	default:
		problems = append(problems, fmt.Sprintf("storage.backend %q must be sqlite, surrealdb or file", c.Storage.Backend))
	}

	if c.Notify.Telegram.Enabled && (c.Notify.Telegram.BotToken == "" || c.Notify.Telegram.ChatID == 0) {
		problems = append(problems, "notify.telegram needs bot_token and chat_id when enabled")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Market returns the configured market with the given name, case-insensitive
func (c *Config) Market(name string) (models.Market, bool) {
	for _, m := range c.Markets {
		if strings.EqualFold(m.Name, name) {
			return m, true
		}
	}
	return models.Market{}, false
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
