package indicators

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/eodscan/internal/models"
)

// generateBars creates oldest-first bars from closes with a fixed volume.
func generateBars(closes []float64, volume int64) []models.EODBar {
	bars := make([]models.EODBar, len(closes))
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		bars[i] = models.EODBar{
			Date:   start.AddDate(0, 0, i),
			Open:   c,
			High:   c * 1.02,
			Low:    c * 0.98,
			Close:  c,
			Volume: volume,
		}
	}
	return bars
}

// generateRamp creates n closes rising by one per bar from start.
func generateRamp(n int, start float64) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = start + float64(i)
	}
	return closes
}

func value(t *testing.T, row models.IndicatorRow, column string) float64 {
	t.Helper()
	v, ok := row.Get(column).Float()
	require.True(t, ok, "column %s should be defined", column)
	return v
}

func TestCompute_AlignedWithBars(t *testing.T) {
	bars := generateBars(generateRamp(60, 10), 500000)
	rows := Compute(bars)

	require.Len(t, rows, len(bars))
	for i := range bars {
		assert.Equal(t, bars[i].Date, rows[i].Date)
	}
}

func TestCompute_EmptySeries(t *testing.T) {
	assert.Nil(t, Compute(nil))

	_, ok := Latest(models.Series{Ticker: "EMPTY.US"})
	assert.False(t, ok)
}

func TestCompute_LinearRamp(t *testing.T) {
	bars := generateBars(generateRamp(60, 10), 500000)
	rows := Compute(bars)
	last := rows[len(rows)-1]

	assert.Equal(t, 69.0, value(t, last, ColClose))
	assert.Equal(t, 59.5, value(t, last, SMAColumn(20)))
	assert.InDelta(t, 69.0/59.5, value(t, last, ColTrendIntensity), 1e-12)
	assert.Greater(t, value(t, last, ColTrendIntensity), 1.0)

	assert.Equal(t, 500000.0, value(t, last, ColVolumeSMA50))
	assert.Equal(t, 1.0, value(t, last, ColVolumeRatio))

	assert.InDelta(t, (69.0/68.0-1)*100, value(t, last, ColROC), 1e-12)
	assert.Equal(t, value(t, last, ColROC), value(t, last, ColDailyChange))

	// high-low is 4% of close on every bar
	assert.InDelta(t, 4.0, value(t, last, ColADR20), 1e-9)

	assert.Equal(t, 69.0*500000, value(t, last, ColDollarVolume))
	assert.InDelta(t, 500000*(20.0+69.0)/2, value(t, last, ColAvgDollarVolume50), 1e-6)

	assert.Equal(t, 65.0, value(t, last, MinColumn(5)))
	assert.Equal(t, 69.0, value(t, last, MaxColumn(5)))
	assert.Equal(t, 49.0, value(t, last, MinColumn(21)))
}

func TestCompute_LongWindowsUndefinedForShortHistory(t *testing.T) {
	bars := generateBars(generateRamp(60, 10), 500000)
	last := Compute(bars)[59]

	for _, column := range []string{
		SMAColumn(100), SMAColumn(150), SMAColumn(200),
		EMAColumn(200),
		MinColumn(63), MaxColumn(126), MinColumn(252),
	} {
		assert.False(t, last.Get(column).IsDefined(), "column %s", column)
	}

	for _, column := range []string{SMAColumn(50), EMAColumn(50), MaxColumn(21)} {
		assert.True(t, last.Get(column).IsDefined(), "column %s", column)
	}
}

func TestCompute_FirstBar(t *testing.T) {
	bars := generateBars(generateRamp(60, 10), 500000)
	first := Compute(bars)[0]

	assert.True(t, first.Get(ColClose).IsDefined())
	assert.False(t, first.Get(ColROC).IsDefined())
	assert.False(t, first.Get(ColDailyChange).IsDefined())
	assert.False(t, first.Get(ColTrendIntensity).IsDefined())
	assert.False(t, first.Get(ColVolumeRatio).IsDefined())
}

func TestCompute_Idempotent(t *testing.T) {
	closes := make([]float64, 260)
	for i := range closes {
		closes[i] = 30 + float64((i*17)%29)*0.37
	}
	bars := generateBars(closes, 750000)

	first := Compute(bars)
	second := Compute(bars)
	assert.Equal(t, first, second)
}

func TestCompute_EveryRowHasFullSchema(t *testing.T) {
	schema := NewSchema()
	bars := generateBars(generateRamp(60, 10), 500000)
	row := DeriveRatios(Compute(bars)[59], RatioWindows)

	for _, column := range schema.Columns() {
		_, present := row.Values[column]
		assert.True(t, present, "column %s missing", column)
	}
}

func TestLatest(t *testing.T) {
	series := models.Series{
		Ticker:   "RAMP.US",
		Name:     "Ramp Inc",
		Exchange: "US",
		Bars:     generateBars(generateRamp(60, 10), 500000),
	}

	row, ok := Latest(series)
	require.True(t, ok)
	assert.Equal(t, "RAMP.US", row.Ticker)
	assert.Equal(t, "Ramp Inc", row.Name)
	assert.Equal(t, series.Bars[59].Date, row.Date)
	assert.Equal(t, Compute(series.Bars)[59].Values, row.Values)
}
