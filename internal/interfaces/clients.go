// Package interfaces defines service contracts for eodscan
package interfaces

import (
	"context"
	"time"

	"github.com/bobmcallan/eodscan/internal/models"
)

// BarSource supplies the tradable universe and daily bars for it
type BarSource interface {
	// Symbols lists the symbols listed on an exchange
	Symbols(ctx context.Context, exchange string) ([]*models.Symbol, error)

	// Series returns daily bars for a symbol from the given date, oldest first
	Series(ctx context.Context, symbol models.Symbol, from time.Time) (*models.Series, error)
}
