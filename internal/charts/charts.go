// Package charts renders price charts for the tickers a run surfaced.
package charts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/bobmcallan/eodscan/internal/common"
	"github.com/bobmcallan/eodscan/internal/indicators"
	"github.com/bobmcallan/eodscan/internal/interfaces"
	"github.com/bobmcallan/eodscan/internal/models"
	"github.com/bobmcallan/eodscan/internal/storage/resultfs"
)

const (
	DefaultWidth  = 1200
	DefaultHeight = 600
)

// overlay is a moving average drawn over the close.
type overlay struct {
	column string
	label  string
	color  string
	width  float64
}

var overlays = []overlay{
	{column: indicators.EMAColumn(9), label: "EMA 9", color: "f59e0b", width: 1.2},
	{column: indicators.EMAColumn(21), label: "EMA 21", color: "10b981", width: 1.2},
	{column: indicators.SMAColumn(50), label: "SMA 50", color: "ef4444", width: 1.5},
	{column: indicators.SMAColumn(100), label: "SMA 100", color: "8b5cf6", width: 1.5},
}

// RenderPriceChart renders a PNG of the series' closes with the EMA 9,
// EMA 21, SMA 50 and SMA 100 overlays. Averages are drawn from the first
// bar they are defined on.
func RenderPriceChart(series *models.Series, width, height int) ([]byte, error) {
	if series == nil || len(series.Bars) < 2 {
		n := 0
		if series != nil {
			n = len(series.Bars)
		}
		return nil, fmt.Errorf("need at least 2 bars, got %d", n)
	}
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}

	rows := indicators.Compute(series.Bars)

	xValues := make([]time.Time, len(series.Bars))
	closes := make([]float64, len(series.Bars))
	for i, b := range series.Bars {
		xValues[i] = b.Date
		closes[i] = b.Close
	}

	plotted := []chart.Series{
		chart.TimeSeries{
			Name: "Close",
			Style: chart.Style{
				StrokeColor: drawing.ColorFromHex("2563eb"),
				StrokeWidth: 2,
			},
			XValues: xValues,
			YValues: closes,
		},
	}

	for _, o := range overlays {
		var xs []time.Time
		var ys []float64
		for i, row := range rows {
			if v, ok := row.Get(o.column).Float(); ok {
				xs = append(xs, xValues[i])
				ys = append(ys, v)
			}
		}
		if len(xs) < 2 {
			continue
		}
		plotted = append(plotted, chart.TimeSeries{
			Name: o.label,
			Style: chart.Style{
				StrokeColor: drawing.ColorFromHex(o.color),
				StrokeWidth: o.width,
			},
			XValues: xs,
			YValues: ys,
		})
	}

	title := series.Ticker
	if series.Name != "" {
		title = fmt.Sprintf("%s (%s)", series.Ticker, series.Name)
	}

	graph := chart.Chart{
		Title:  title,
		Width:  width,
		Height: height,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 10, Right: 20, Bottom: 10},
		},
		XAxis: chart.XAxis{
			TickPosition: chart.TickPositionBetweenTicks,
			ValueFormatter: func(v interface{}) string {
				if t, ok := v.(float64); ok {
					return chart.TimeFromFloat64(t).Format("Jan 06")
				}
				return ""
			},
		},
		YAxis: chart.YAxis{
			ValueFormatter: func(v interface{}) string {
				if f, ok := v.(float64); ok {
					return fmt.Sprintf("%.2f", f)
				}
				return ""
			},
		},
		Series: plotted,
	}
	graph.Elements = []chart.Renderable{
		chart.LegendLeft(&graph),
	}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("chart render failed: %w", err)
	}
	return buf.Bytes(), nil
}

// RawWriter stores rendered files under a base directory.
type RawWriter interface {
	WriteRaw(subdir, key string, data []byte) error
}

// Sink renders one chart per unique result ticker into
// <market>/<date>/charts/<ticker>.png.
type Sink struct {
	writer   RawWriter
	source   interfaces.BarSource
	logger   *common.Logger
	width    int
	height   int
	lookback int
	now      func() time.Time
}

// NewSink creates a chart sink. source is only used when a run is published
// without its bars.
func NewSink(writer RawWriter, source interfaces.BarSource, logger *common.Logger, width, height, lookbackDays int) *Sink {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	if lookbackDays <= 0 {
		lookbackDays = 400
	}
	return &Sink{
		writer:   writer,
		source:   source,
		logger:   logger,
		width:    width,
		height:   height,
		lookback: lookbackDays,
		now:      time.Now,
	}
}

// Name identifies the sink.
func (s *Sink) Name() string {
	return "charts"
}

// Publish fetches each unique result ticker's bars again and charts them.
func (s *Sink) Publish(ctx context.Context, run *models.ScanRun) error {
	if s.source == nil {
		return errors.New("no bar source to chart from")
	}
	from := s.now().AddDate(0, 0, -s.lookback)
	return s.render(ctx, run, func(ticker string) (*models.Series, error) {
		code, exchange := splitTicker(ticker)
		return s.source.Series(ctx, models.Symbol{Code: code, Exchange: exchange}, from)
	})
}

// PublishWithSeries charts each unique result ticker from the run's bars.
func (s *Sink) PublishWithSeries(ctx context.Context, run *models.ScanRun, series interfaces.SeriesLookup) error {
	return s.render(ctx, run, func(ticker string) (*models.Series, error) {
		ser, ok := series.Series(ticker)
		if !ok {
			return nil, fmt.Errorf("no bars for %s", ticker)
		}
		return ser, nil
	})
}

func (s *Sink) render(ctx context.Context, run *models.ScanRun, fetch func(string) (*models.Series, error)) error {
	subdir := filepath.Join(resultfs.RunSubdir(run), "charts")
	tickers := run.UniqueTickers()

	var errs []error
	written := 0
	for _, ticker := range tickers {
		if err := ctx.Err(); err != nil {
			return err
		}
		series, err := fetch(ticker)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		png, err := RenderPriceChart(series, s.width, s.height)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ticker, err))
			continue
		}
		if err := s.writer.WriteRaw(subdir, ticker+".png", png); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ticker, err))
			continue
		}
		written++
	}

	s.logger.Info().Int("tickers", len(tickers)).Int("written", written).Str("dir", subdir).Msg("Charts rendered")
	return errors.Join(errs...)
}

// splitTicker reverses models.Symbol.Ticker on the last dot.
func splitTicker(ticker string) (code, exchange string) {
	for i := len(ticker) - 1; i >= 0; i-- {
		if ticker[i] == '.' {
			return ticker[:i], ticker[i+1:]
		}
	}
	return ticker, ""
}

var _ interfaces.SeriesSink = (*Sink)(nil)
