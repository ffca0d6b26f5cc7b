// Package interfaces defines service contracts for eodscan
package interfaces

import (
	"context"

	"github.com/bobmcallan/eodscan/internal/models"
)

// RunStore persists completed scan runs
type RunStore interface {
	// SaveRun stores a run, replacing any run with the same ID
	SaveRun(ctx context.Context, run *models.ScanRun) error

	// GetRun returns a run by ID, or nil when it does not exist
	GetRun(ctx context.Context, id string) (*models.ScanRun, error)

	// LatestRun returns the most recently started run for a market, or nil
	LatestRun(ctx context.Context, market string) (*models.ScanRun, error)

	// Close releases the underlying connection
	Close() error
}
