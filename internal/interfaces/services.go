// Package interfaces defines service contracts for eodscan
package interfaces

import (
	"context"

	"github.com/bobmcallan/eodscan/internal/models"
)

// ResultSink receives every completed scan run
type ResultSink interface {
	// Name identifies the sink in logs and metrics
	Name() string

	// Publish delivers the run; a failure does not stop other sinks
	Publish(ctx context.Context, run *models.ScanRun) error
}

// SeriesLookup returns the bars a run's snapshot was computed from
type SeriesLookup interface {
	Series(ticker string) (*models.Series, bool)
}

// SeriesSink is a ResultSink that can use the run's bars instead of
// fetching them again
type SeriesSink interface {
	ResultSink

	// PublishWithSeries delivers the run along with its source bars
	PublishWithSeries(ctx context.Context, run *models.ScanRun, series SeriesLookup) error
}
