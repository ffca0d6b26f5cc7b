// Package barcache is a Redis read-through cache in front of a bar source
package barcache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/bobmcallan/eodscan/internal/common"
	"github.com/bobmcallan/eodscan/internal/interfaces"
	"github.com/bobmcallan/eodscan/internal/models"
)

const keyPrefix = "eodscan:"

// Cache wraps a BarSource, serving repeat requests from Redis
type Cache struct {
	source interfaces.BarSource
	client *redis.Client
	ttl    time.Duration
	logger *common.Logger
	now    func() time.Time
}

// NewRedisClient connects to Redis and checks the connection
func NewRedisClient(ctx context.Context, cfg common.CacheConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return rdb, nil
}

// New wraps source with a cache whose entries live for ttl
func New(source interfaces.BarSource, client *redis.Client, ttl time.Duration, logger *common.Logger) *Cache {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	return &Cache{
		source: source,
		client: client,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// SeriesKey is keyed by fetch day so a new session never sees yesterday's bars
func (c *Cache) SeriesKey(ticker string, from time.Time) string {
	return fmt.Sprintf("%sbars:%s:%s:%s", keyPrefix, ticker, from.Format("2006-01-02"), c.now().UTC().Format("2006-01-02"))
}

// SymbolsKey is the cache key for an exchange universe
func (c *Cache) SymbolsKey(exchange string) string {
	return fmt.Sprintf("%ssymbols:%s:%s", keyPrefix, exchange, c.now().UTC().Format("2006-01-02"))
}

// Symbols returns the cached universe or loads it from the source
func (c *Cache) Symbols(ctx context.Context, exchange string) ([]*models.Symbol, error) {
	key := c.SymbolsKey(exchange)

	var symbols []*models.Symbol
	if c.load(ctx, key, &symbols) {
		return symbols, nil
	}

	symbols, err := c.source.Symbols(ctx, exchange)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, symbols)
	return symbols, nil
}

// Series returns cached bars or fetches them from the source
func (c *Cache) Series(ctx context.Context, symbol models.Symbol, from time.Time) (*models.Series, error) {
	key := c.SeriesKey(symbol.Ticker(), from)

	var series models.Series
	if c.load(ctx, key, &series) {
		return &series, nil
	}

	fetched, err := c.source.Series(ctx, symbol, from)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, fetched)
	return fetched, nil
}

// load reports a hit. Redis and decode errors count as misses.
func (c *Cache) load(ctx context.Context, key string, dst interface{}) bool {
	val, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("Bar cache read failed")
		}
		return false
	}
	if err := json.Unmarshal(val, dst); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("Bar cache entry unreadable")
		return false
	}
	return true
}

func (c *Cache) store(ctx context.Context, key string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("Bar cache encode failed")
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("Bar cache write failed")
	}
}

var _ interfaces.BarSource = (*Cache)(nil)
