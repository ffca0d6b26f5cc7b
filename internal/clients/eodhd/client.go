// Package eodhd provides a bar source backed by the EODHD API
package eodhd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/bobmcallan/eodscan/internal/common"
	"github.com/bobmcallan/eodscan/internal/interfaces"
	"github.com/bobmcallan/eodscan/internal/models"
)

// flexFloat64 handles JSON values that may be either a number or a string.
type flexFloat64 float64

func (f *flexFloat64) UnmarshalJSON(data []byte) error {
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		*f = flexFloat64(num)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s == "" || s == "N/A" {
			*f = 0
			return nil
		}
		num, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(num) || math.IsInf(num, 0) {
			*f = 0
			return nil
		}
		*f = flexFloat64(num)
		return nil
	}
	return fmt.Errorf("cannot unmarshal %s into float64", string(data))
}

const (
	DefaultBaseURL         = "https://eodhd.com/api"
	DefaultTimeout         = 30 * time.Second
	DefaultRateLimit       = 10 // requests per second
	DefaultBreakerFailures = 5
	DefaultBreakerTimeout  = time.Minute
)

// StockType is the listing type kept by Symbols unless overridden.
const StockType = "Common Stock"

// Client fetches exchange universes and daily bars from EODHD
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *common.Logger
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	types      map[string]bool

	breakerFailures uint32
	breakerTimeout  time.Duration
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithBaseURL sets the base URL
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets the rate limit
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		if requestsPerSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
		}
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithCircuitBreaker trips after the given consecutive failures and stays
// open for timeout before a trial request.
func WithCircuitBreaker(failures int, timeout time.Duration) ClientOption {
	return func(c *Client) {
		if failures > 0 {
			c.breakerFailures = uint32(failures)
		}
		if timeout > 0 {
			c.breakerTimeout = timeout
		}
	}
}

// WithSymbolTypes sets the listing types Symbols keeps. No types keeps all.
func WithSymbolTypes(types ...string) ClientOption {
	return func(c *Client) {
		c.types = make(map[string]bool, len(types))
		for _, t := range types {
			c.types[strings.ToLower(t)] = true
		}
	}
}

// NewClient creates a new EODHD client
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter:         rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:          common.NewSilentLogger(),
		types:           map[string]bool{strings.ToLower(StockType): true},
		breakerFailures: DefaultBreakerFailures,
		breakerTimeout:  DefaultBreakerTimeout,
	}

	for _, opt := range opts {
		opt(c)
	}

	failures := c.breakerFailures
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "eodhd",
		Timeout: c.breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// a missing ticker is the caller's problem, not an outage
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.StatusCode < 500 && apiErr.StatusCode != http.StatusTooManyRequests
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("EODHD circuit breaker state change")
		},
	})

	return c
}

// APIError represents an API error
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("EODHD API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// IsNotFound reports whether err is an EODHD 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// get performs a rate-limited GET request through the circuit breaker
func (c *Client) get(ctx context.Context, path string, params url.Values, result interface{}) error {
	// Wait for rate limiter
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.do(ctx, path, params, result)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("EODHD unavailable for %s: %w", path, err)
	}
	return err
}

func (c *Client) do(ctx context.Context, path string, params url.Values, result interface{}) error {
	// Add API key
	if params == nil {
		params = url.Values{}
	}
	params.Set("api_token", c.apiKey)
	params.Set("fmt", "json")

	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	c.logger.Debug().Str("url", c.baseURL+path).Msg("EODHD API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
			Endpoint:   path,
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// eodBarResponse represents the API response for EOD data
type eodBarResponse struct {
	Date   string      `json:"date"`
	Open   flexFloat64 `json:"open"`
	High   flexFloat64 `json:"high"`
	Low    flexFloat64 `json:"low"`
	Close  flexFloat64 `json:"close"`
	Volume flexFloat64 `json:"volume"`
}

// GetEOD retrieves daily bars for a ticker between from and to, oldest
// first. A zero bound is left open.
func (c *Client) GetEOD(ctx context.Context, ticker string, from, to time.Time) ([]models.EODBar, error) {
	params := url.Values{}
	params.Set("period", "d")
	params.Set("order", "a")
	if !from.IsZero() {
		params.Set("from", from.Format("2006-01-02"))
	}
	if !to.IsZero() {
		params.Set("to", to.Format("2006-01-02"))
	}

	path := fmt.Sprintf("/eod/%s", url.PathEscape(ticker))

	var raw []eodBarResponse
	if err := c.get(ctx, path, params, &raw); err != nil {
		return nil, err
	}

	bars := make([]models.EODBar, 0, len(raw))
	for _, b := range raw {
		date, err := time.Parse("2006-01-02", b.Date)
		if err != nil {
			c.logger.Debug().Str("ticker", ticker).Str("date", b.Date).Msg("Skipping bar with unparseable date")
			continue
		}
		bars = append(bars, models.EODBar{
			Date:   date,
			Open:   float64(b.Open),
			High:   float64(b.High),
			Low:    float64(b.Low),
			Close:  float64(b.Close),
			Volume: int64(b.Volume),
		})
	}

	// the API honours order=a, but a source must never hand back
	// unordered bars
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })

	return bars, nil
}

// GetExchangeSymbols retrieves all symbols for an exchange
func (c *Client) GetExchangeSymbols(ctx context.Context, exchange string) ([]*models.Symbol, error) {
	path := fmt.Sprintf("/exchange-symbol-list/%s", url.PathEscape(exchange))

	var symbols []models.Symbol
	if err := c.get(ctx, path, nil, &symbols); err != nil {
		return nil, err
	}

	result := make([]*models.Symbol, len(symbols))
	for i := range symbols {
		result[i] = &symbols[i]
	}

	return result, nil
}

// Symbols lists an exchange's symbols of the configured types. The
// exchange on each symbol is the queried code, so tickers read e.g. "AAPL.US"
// even where EODHD reports "NASDAQ".
func (c *Client) Symbols(ctx context.Context, exchange string) ([]*models.Symbol, error) {
	all, err := c.GetExchangeSymbols(ctx, exchange)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s symbols: %w", exchange, err)
	}

	out := make([]*models.Symbol, 0, len(all))
	for _, s := range all {
		if len(c.types) > 0 && !c.types[strings.ToLower(s.Type)] {
			continue
		}
		s.Exchange = exchange
		out = append(out, s)
	}

	c.logger.Debug().
		Str("exchange", exchange).
		Int("listed", len(all)).
		Int("kept", len(out)).
		Msg("EODHD symbols loaded")

	return out, nil
}

// Series fetches a symbol's daily bars from the given date.
func (c *Client) Series(ctx context.Context, symbol models.Symbol, from time.Time) (*models.Series, error) {
	bars, err := c.GetEOD(ctx, symbol.Ticker(), from, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", symbol.Ticker(), err)
	}
	return &models.Series{
		Ticker:   symbol.Ticker(),
		Name:     symbol.Name,
		Exchange: symbol.Exchange,
		Bars:     bars,
	}, nil
}

// BreakerState reports the circuit breaker state, e.g. "closed" or "open".
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

// Ensure Client implements BarSource
var _ interfaces.BarSource = (*Client)(nil)
