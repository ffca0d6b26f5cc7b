package indicators

import (
	"github.com/bobmcallan/eodscan/internal/models"
)

// Compute returns one indicator row per bar, aligned with bars.
// Bars must be oldest first with close > 0; the caller drops anything else.
func Compute(bars []models.EODBar) []models.IndicatorRow {
	n := len(bars)
	if n == 0 {
		return nil
	}

	opens := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	volumes := make([]float64, n)
	ranges := make([]float64, n)
	dollars := make([]float64, n)
	for i, b := range bars {
		opens[i] = b.Open
		highs[i] = b.High
		lows[i] = b.Low
		closes[i] = b.Close
		volumes[i] = float64(b.Volume)
		ranges[i] = (b.High - b.Low) / b.Close * 100
		dollars[i] = float64(b.Volume) * b.Close
	}

	cols := make(map[string][]models.Value, 40)
	cols[ColOpen] = Values(opens)
	cols[ColHigh] = Values(highs)
	cols[ColLow] = Values(lows)
	cols[ColClose] = Values(closes)
	cols[ColVolume] = Values(volumes)

	for _, w := range SMAWindows {
		cols[SMAColumn(w)] = SMA(closes, w)
	}
	for _, span := range EMASpans {
		cols[EMAColumn(span)] = EMA(closes, span)
	}

	change := PctChange(closes)
	cols[ColROC] = change
	cols[ColDailyChange] = change

	cols[ColADR20] = SMA(ranges, adrWindow)
	cols[ColTrendIntensity] = Ratio(cols[ColClose], SMA(closes, trendWindow))

	volumeSMA := SMA(volumes, volumeWindow)
	cols[ColVolumeSMA50] = volumeSMA
	cols[ColVolumeRatio] = Ratio(cols[ColVolume], volumeSMA)

	for _, w := range ExtremaWindows {
		cols[MinColumn(w)] = RollingMin(closes, w)
		cols[MaxColumn(w)] = RollingMax(closes, w)
	}

	cols[ColDollarVolume] = Values(dollars)
	cols[ColAvgDollarVolume50] = SMA(dollars, dollarVolumeWindow)

	rows := make([]models.IndicatorRow, n)
	for i := range bars {
		values := make(map[string]models.Value, len(cols))
		for name, col := range cols {
			values[name] = col[i]
		}
		rows[i] = models.IndicatorRow{Date: bars[i].Date, Values: values}
	}
	return rows
}

// Latest computes the indicators for a series and returns its most recent
// row as a snapshot row. It returns false for an empty series.
func Latest(series models.Series) (models.SnapshotRow, bool) {
	rows := Compute(series.Bars)
	if len(rows) == 0 {
		return models.SnapshotRow{}, false
	}
	return models.SnapshotRow{
		Ticker:       series.Ticker,
		Name:         series.Name,
		Exchange:     series.Exchange,
		IndicatorRow: rows[len(rows)-1],
	}, true
}
