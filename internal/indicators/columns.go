package indicators

import (
	"sort"
	"strconv"
)

// Raw bar columns carried on every row.
const (
	ColOpen   = "open"
	ColHigh   = "high"
	ColLow    = "low"
	ColClose  = "close"
	ColVolume = "volume"
)

// Computed columns.
const (
	ColROC               = "roc"
	ColDailyChange       = "daily_change"
	ColADR20             = "adr_20"
	ColTrendIntensity    = "trend_intensity"
	ColVolumeSMA50       = "volume_sma_50"
	ColVolumeRatio       = "volume_ratio"
	ColDollarVolume      = "dollar_volume"
	ColAvgDollarVolume50 = "avg_dollar_volume_50"
)

// MinHistory is the fewest bars a series needs before it is scanned.
const MinHistory = 50

const (
	adrWindow          = 20
	trendWindow        = 20
	volumeWindow       = 50
	dollarVolumeWindow = 50
)

// Window sets for the fixed indicator families.
var (
	SMAWindows     = []int{20, 50, 100, 150, 200}
	EMASpans       = []int{9, 10, 21, 50, 200}
	ExtremaWindows = []int{5, 21, 63, 126, 252}
	RatioWindows   = []int{21, 63, 126, 252}
)

// aliases maps alternative spellings used by older catalogs to the
// canonical column name.
var aliases = map[string]string{
	"sma_50_volume":        ColVolumeSMA50,
	"dollar_volume_sma_50": ColAvgDollarVolume50,
}

func SMAColumn(w int) string        { return "sma_" + strconv.Itoa(w) }
func EMAColumn(span int) string     { return "ema_" + strconv.Itoa(span) }
func MinColumn(w int) string        { return "min_" + strconv.Itoa(w) }
func MaxColumn(w int) string        { return "max_" + strconv.Itoa(w) }
func CloseToMinColumn(w int) string { return "close_to_min_" + strconv.Itoa(w) }
func CloseToMaxColumn(w int) string { return "close_to_max_" + strconv.Itoa(w) }

// Schema is the set of column names a snapshot row can carry.
type Schema struct {
	columns map[string]bool
	aliases map[string]string
	// ratio columns resolve to the window they need from the ratio stage
	ratios map[string]int
}

// NewSchema returns the schema of every column Compute and DeriveRatios
// can produce.
func NewSchema() *Schema {
	s := &Schema{
		columns: make(map[string]bool),
		aliases: make(map[string]string, len(aliases)),
		ratios:  make(map[string]int),
	}

	for _, c := range []string{
		ColOpen, ColHigh, ColLow, ColClose, ColVolume,
		ColROC, ColDailyChange, ColADR20, ColTrendIntensity,
		ColVolumeSMA50, ColVolumeRatio, ColDollarVolume, ColAvgDollarVolume50,
	} {
		s.columns[c] = true
	}
	for _, w := range SMAWindows {
		s.columns[SMAColumn(w)] = true
	}
	for _, span := range EMASpans {
		s.columns[EMAColumn(span)] = true
	}
	for _, w := range ExtremaWindows {
		s.columns[MinColumn(w)] = true
		s.columns[MaxColumn(w)] = true
	}
	for _, w := range RatioWindows {
		s.columns[CloseToMinColumn(w)] = true
		s.columns[CloseToMaxColumn(w)] = true
		s.ratios[CloseToMinColumn(w)] = w
		s.ratios[CloseToMaxColumn(w)] = w
	}
	for alias, canonical := range aliases {
		s.aliases[alias] = canonical
	}
	return s
}

// Resolve returns the canonical name for a column and whether it is known.
func (s *Schema) Resolve(name string) (string, bool) {
	if s.columns[name] {
		return name, true
	}
	if canonical, ok := s.aliases[name]; ok {
		return canonical, true
	}
	return "", false
}

// RatioWindow returns the extrema window a derived ratio column needs.
func (s *Schema) RatioWindow(column string) (int, bool) {
	w, ok := s.ratios[column]
	return w, ok
}

// Columns returns every canonical column name, sorted.
func (s *Schema) Columns() []string {
	out := make([]string, 0, len(s.columns))
	for c := range s.columns {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
