package models

import (
	"time"
)

// SortDirection orders scan results by their sort key.
type SortDirection string

const (
	SortDescending SortDirection = "desc"
	SortAscending  SortDirection = "asc"
)

// ScanResult is the ranked output of one scan definition, with the
// definition metadata a renderer needs.
type ScanResult struct {
	Group         string        `json:"group"`
	GroupLink     string        `json:"group_link,omitempty"`
	Scan          string        `json:"scan"`
	Slug          string        `json:"slug"`
	Description   string        `json:"description,omitempty"`
	Where         string        `json:"where"`
	SortKey       string        `json:"sort_key"`
	SortDirection SortDirection `json:"sort_direction"`
	ResultCap     int           `json:"result_cap"`
	TotalMatched  int           `json:"total_matched"`
	Rows          []SnapshotRow `json:"rows"`
}

// SkippedTicker records a ticker left out for insufficient history.
type SkippedTicker struct {
	Ticker string `json:"ticker"`
	Bars   int    `json:"bars"`
}

// FailedTicker records a ticker whose data could not be fetched.
type FailedTicker struct {
	Ticker string `json:"ticker"`
	Error  string `json:"error"`
}

// ScanRun is one complete pass over a market universe.
type ScanRun struct {
	ID           string          `json:"id"`
	Market       string          `json:"market"`
	AsOf         time.Time       `json:"as_of"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   time.Time       `json:"finished_at"`
	Universe     int             `json:"universe"`
	Processed    int             `json:"processed"`
	Skipped      []SkippedTicker `json:"skipped,omitempty"`
	Failed       []FailedTicker  `json:"failed,omitempty"`
	ConfigErrors []string        `json:"config_errors,omitempty"`
	Results      []ScanResult    `json:"results"`
}

// UniqueTickers returns every ticker appearing in any result, first-seen order.
func (r *ScanRun) UniqueTickers() []string {
	seen := make(map[string]bool)
	var out []string
	for _, res := range r.Results {
		for _, row := range res.Rows {
			if !seen[row.Ticker] {
				seen[row.Ticker] = true
				out = append(out, row.Ticker)
			}
		}
	}
	return out
}

// Matches returns the number of returned rows across all results.
func (r *ScanRun) Matches() int {
	n := 0
	for _, res := range r.Results {
		n += len(res.Rows)
	}
	return n
}
