package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/eodscan/internal/indicators"
	"github.com/bobmcallan/eodscan/internal/metrics"
	"github.com/bobmcallan/eodscan/internal/models"
)

// fakeSource serves canned series keyed by ticker.
type fakeSource struct {
	mu       sync.Mutex
	series   map[string]*models.Series
	errs     map[string]error
	from     time.Time
	inFlight int32
	peak     int32
	delay    time.Duration
}

func (f *fakeSource) Symbols(ctx context.Context, exchange string) ([]*models.Symbol, error) {
	return nil, nil
}

func (f *fakeSource) Series(ctx context.Context, symbol models.Symbol, from time.Time) (*models.Series, error) {
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		p := atomic.LoadInt32(&f.peak)
		if n <= p || atomic.CompareAndSwapInt32(&f.peak, p, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.from = from
	if err, ok := f.errs[symbol.Ticker()]; ok {
		return nil, err
	}
	s, ok := f.series[symbol.Ticker()]
	if !ok {
		return nil, fmt.Errorf("no data for %s", symbol.Ticker())
	}
	return s, nil
}

var start = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func flatSeries(ticker string, n int, close float64, volume int64) *models.Series {
	bars := make([]models.EODBar, n)
	for i := range bars {
		bars[i] = models.EODBar{
			Date:   start.AddDate(0, 0, i),
			Open:   close,
			High:   close,
			Low:    close,
			Close:  close,
			Volume: volume,
		}
	}
	return &models.Series{Ticker: ticker, Name: ticker + " Ltd", Exchange: "US", Bars: bars}
}

func symbols(codes ...string) []*models.Symbol {
	out := make([]*models.Symbol, len(codes))
	for i, c := range codes {
		out[i] = &models.Symbol{Code: c, Name: c + " Ltd", Exchange: "US"}
	}
	return out
}

func fixedNow() time.Time { return time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC) }

func TestBuild_AccountsForEveryTicker(t *testing.T) {
	short := flatSeries("SHORT.US", 30, 5, 1000)
	dirty := flatSeries("DIRTY.US", 55, 5, 1000)
	for i := 0; i < 10; i++ {
		dirty.Bars[i].Close = 0
	}

	src := &fakeSource{
		series: map[string]*models.Series{
			"AAA.US":   flatSeries("AAA.US", 60, 10, 5000),
			"SHORT.US": short,
			"DIRTY.US": dirty,
		},
		errs: map[string]error{"BAD.US": errors.New("upstream 502")},
	}
	m := metrics.New()

	b := NewBuilder(src, nil, WithMetrics(m, "US"))
	b.now = fixedNow

	snap, err := b.Build(context.Background(), symbols("AAA", "SHORT", "BAD", "DIRTY"))
	require.NoError(t, err)

	assert.Equal(t, 4, snap.Universe)
	require.Len(t, snap.Rows, 1)
	assert.Equal(t, "AAA.US", snap.Rows[0].Ticker)
	assert.Equal(t, start.AddDate(0, 0, 59), snap.AsOf)

	assert.Equal(t, []models.SkippedTicker{
		{Ticker: "SHORT.US", Bars: 30},
		{Ticker: "DIRTY.US", Bars: 45},
	}, snap.Skipped)
	require.Len(t, snap.Failed, 1)
	assert.Equal(t, "BAD.US", snap.Failed[0].Ticker)
	assert.Equal(t, "upstream 502", snap.Failed[0].Error)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Tickers.WithLabelValues("US", metrics.OutcomeProcessed)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Tickers.WithLabelValues("US", metrics.OutcomeSkipped)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Tickers.WithLabelValues("US", metrics.OutcomeFailed)))

	series, ok := snap.Series("AAA.US")
	require.True(t, ok)
	assert.Len(t, series.Bars, 60)

	assert.Equal(t, fixedNow().AddDate(0, 0, -DefaultLookbackDays), src.from)
}

func TestBuild_MinHistoryOption(t *testing.T) {
	src := &fakeSource{series: map[string]*models.Series{"AAA.US": flatSeries("AAA.US", 30, 10, 5000)}}

	snap, err := NewBuilder(src, nil, WithMinHistory(20)).Build(context.Background(), symbols("AAA"))
	require.NoError(t, err)
	require.Len(t, snap.Rows, 1)
	assert.Empty(t, snap.Skipped)
}

func TestBuild_OutputFollowsUniverseOrder(t *testing.T) {
	codes := make([]string, 20)
	series := make(map[string]*models.Series)
	for i := range codes {
		codes[i] = fmt.Sprintf("T%02d", i)
		series[codes[i]+".US"] = flatSeries(codes[i]+".US", 60, float64(i+1), 1000)
	}
	src := &fakeSource{series: series, delay: time.Millisecond}

	snap, err := NewBuilder(src, nil, WithConcurrency(3)).Build(context.Background(), symbols(codes...))
	require.NoError(t, err)

	require.Len(t, snap.Rows, 20)
	for i, r := range snap.Rows {
		assert.Equal(t, codes[i]+".US", r.Ticker)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&src.peak), int32(3))
}

func TestBuild_UniverseCapKeepsMostTraded(t *testing.T) {
	src := &fakeSource{series: map[string]*models.Series{
		"LOW.US":  flatSeries("LOW.US", 60, 10, 100),
		"HIGH.US": flatSeries("HIGH.US", 60, 10, 9000),
		"TIE1.US": flatSeries("TIE1.US", 60, 10, 500),
		"TIE2.US": flatSeries("TIE2.US", 60, 10, 500),
	}}

	snap, err := NewBuilder(src, nil, WithUniverseCap(2)).Build(context.Background(), symbols("LOW", "TIE1", "HIGH", "TIE2"))
	require.NoError(t, err)

	require.Len(t, snap.Rows, 2)
	assert.Equal(t, "TIE1.US", snap.Rows[0].Ticker)
	assert.Equal(t, "HIGH.US", snap.Rows[1].Ticker)

	_, ok := snap.Series("TIE2.US")
	assert.False(t, ok)
}

func TestBuild_CancelledContext(t *testing.T) {
	src := &fakeSource{series: map[string]*models.Series{"AAA.US": flatSeries("AAA.US", 60, 10, 5000)}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	snap, err := NewBuilder(src, nil).Build(ctx, symbols("AAA"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, snap)
}

func TestSanitize(t *testing.T) {
	s := flatSeries("X.US", 4, 10, 100)
	s.Bars[1].Close = -1
	s.Bars[2].Volume = -5

	clean := Sanitize(s)
	require.Len(t, clean.Bars, 2)
	assert.Equal(t, s.Bars[0].Date, clean.Bars[0].Date)
	assert.Equal(t, s.Bars[3].Date, clean.Bars[1].Date)
	assert.Len(t, s.Bars, 4, "input untouched")
}

func TestSanitize_DropsNonFinitePrices(t *testing.T) {
	s := flatSeries("X.US", 6, 10, 100)
	s.Bars[1].Close = math.NaN()
	s.Bars[2].Close = math.Inf(1)
	s.Bars[3].High = math.Inf(-1)

	clean := Sanitize(s)
	require.Len(t, clean.Bars, 3)
	assert.Equal(t, s.Bars[0].Date, clean.Bars[0].Date)
	assert.Equal(t, s.Bars[4].Date, clean.Bars[1].Date)
	assert.Equal(t, s.Bars[5].Date, clean.Bars[2].Date)
}

func TestBuild_NonFiniteCloseNeverReachesIndicators(t *testing.T) {
	nan := flatSeries("NAN.US", 60, 10, 1000)
	nan.Bars[5].Close = math.NaN()
	inf := flatSeries("INF.US", 60, 10, 1000)
	inf.Bars[40].Close = math.Inf(1)
	src := &fakeSource{series: map[string]*models.Series{"NAN.US": nan, "INF.US": inf}}

	b := NewBuilder(src, nil)
	b.now = fixedNow
	snap, err := b.Build(context.Background(), symbols("NAN", "INF"))
	require.NoError(t, err)
	require.Len(t, snap.Rows, 2)

	for _, row := range snap.Rows {
		v, ok := row.Get(indicators.SMAColumn(20)).Float()
		require.True(t, ok, row.Ticker)
		assert.Equal(t, 10.0, v, row.Ticker)
		_, err := json.Marshal(row)
		assert.NoError(t, err, row.Ticker)
	}
}

func TestTopByVolume(t *testing.T) {
	row := func(ticker string, volume float64) models.SnapshotRow {
		return models.SnapshotRow{
			Ticker:       ticker,
			IndicatorRow: models.IndicatorRow{Values: map[string]models.Value{indicators.ColVolume: models.Defined(volume)}},
		}
	}
	rows := []models.SnapshotRow{row("A", 1), row("B", 5), row("C", 3), row("D", 5)}

	got := TopByVolume(rows, 2)
	assert.Equal(t, []string{"B", "D"}, []string{got[0].Ticker, got[1].Ticker})

	got = TopByVolume(rows, 3)
	assert.Equal(t, []string{"B", "C", "D"}, []string{got[0].Ticker, got[1].Ticker, got[2].Ticker})

	assert.Len(t, TopByVolume(rows, 10), 4)
}
