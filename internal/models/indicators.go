package models

import (
	"time"
)

// IndicatorRow maps indicator column names to values for one bar.
type IndicatorRow struct {
	Date   time.Time        `json:"date"`
	Values map[string]Value `json:"values"`
}

// Get returns the named column. Absent columns read as undefined.
func (r IndicatorRow) Get(column string) Value {
	return r.Values[column]
}

// Clone returns a copy whose value map can be extended without touching r.
func (r IndicatorRow) Clone() IndicatorRow {
	values := make(map[string]Value, len(r.Values))
	for k, v := range r.Values {
		values[k] = v
	}
	return IndicatorRow{Date: r.Date, Values: values}
}

// SnapshotRow is the latest indicator row for one ticker.
type SnapshotRow struct {
	Ticker   string `json:"ticker"`
	Name     string `json:"name"`
	Exchange string `json:"exchange"`
	IndicatorRow
}
