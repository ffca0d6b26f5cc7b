package indicators

import (
	"github.com/bobmcallan/eodscan/internal/models"
)

// DeriveRatios returns a copy of row with close_to_min_{w} and
// close_to_max_{w} added for each requested window. Windows outside
// RatioWindows are ignored. The input row is not modified.
func DeriveRatios(row models.IndicatorRow, windows []int) models.IndicatorRow {
	out := row.Clone()
	closeVal := row.Get(ColClose)
	for _, w := range windows {
		if !isRatioWindow(w) {
			continue
		}
		out.Values[CloseToMinColumn(w)] = Divide(closeVal, row.Get(MinColumn(w)))
		out.Values[CloseToMaxColumn(w)] = Divide(closeVal, row.Get(MaxColumn(w)))
	}
	return out
}

// DeriveSnapshot applies DeriveRatios to every snapshot row.
func DeriveSnapshot(rows []models.SnapshotRow, windows []int) []models.SnapshotRow {
	out := make([]models.SnapshotRow, len(rows))
	for i, r := range rows {
		out[i] = r
		out[i].IndicatorRow = DeriveRatios(r.IndicatorRow, windows)
	}
	return out
}

func isRatioWindow(w int) bool {
	for _, rw := range RatioWindows {
		if rw == w {
			return true
		}
	}
	return false
}
