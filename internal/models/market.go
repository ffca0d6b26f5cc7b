// Package models defines data structures for eodscan
package models

import (
	"time"
)

// EODBar represents a single day's price data
type EODBar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// Series holds the daily bars for one ticker, oldest first.
type Series struct {
	Ticker   string   `json:"ticker"`
	Name     string   `json:"name"`
	Exchange string   `json:"exchange"`
	Bars     []EODBar `json:"bars"`
}

// LastBar returns the most recent bar, or false for an empty series.
func (s *Series) LastBar() (EODBar, bool) {
	if len(s.Bars) == 0 {
		return EODBar{}, false
	}
	return s.Bars[len(s.Bars)-1], true
}

// Symbol is one listing in an exchange universe.
type Symbol struct {
	Code     string `json:"Code"`
	Name     string `json:"Name"`
	Exchange string `json:"Exchange"`
	Type     string `json:"Type,omitempty"`
}

// Ticker returns the exchange-qualified ticker, e.g. "BHP.AU".
func (s Symbol) Ticker() string {
	if s.Exchange == "" {
		return s.Code
	}
	return s.Code + "." + s.Exchange
}

// Market groups exchanges that are scanned together and the scale factors
// applied to catalog price and volume thresholds.
type Market struct {
	Name        string   `toml:"name" json:"name"`
	Exchanges   []string `toml:"exchanges" json:"exchanges"`
	VolumeScale float64  `toml:"volume_scale" json:"volume_scale"`
	PriceScale  float64  `toml:"price_scale" json:"price_scale"`
}
