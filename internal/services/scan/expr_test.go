package scan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/eodscan/internal/indicators"
	"github.com/bobmcallan/eodscan/internal/models"
)

// testRow builds an indicator row from plain floats.
func testRow(values map[string]float64) models.IndicatorRow {
	row := models.IndicatorRow{Values: make(map[string]models.Value, len(values))}
	for k, v := range values {
		row.Values[k] = models.Defined(v)
	}
	return row
}

func compile(t *testing.T, text string, params map[string]float64) *Predicate {
	t.Helper()
	bound, err := Bind(MustParse(text), indicators.NewSchema(), params)
	require.NoError(t, err)
	p, err := NewPredicate(bound)
	require.NoError(t, err)
	return p
}

func TestPredicate_Match(t *testing.T) {
	row := testRow(map[string]float64{
		"close":           12,
		"volume_sma_50":   300000,
		"trend_intensity": 1.1,
		"daily_change":    0.5,
	})

	tests := []struct {
		text string
		want bool
	}{
		{"close > 4", true},
		{"close > 12", false},
		{"close >= 12", true},
		{"close == 12", true},
		{"close != 12", false},
		{"close < 4 * 3.5", true},
		{"close > 4 AND volume_sma_50 > 200000 AND trend_intensity > 1.05", true},
		{"close > 40 OR trend_intensity > 1.05", true},
		{"close > 40 OR trend_intensity > 1.5", false},
		{"daily_change >= -1.01 AND daily_change <= 1.01", true},
		{"(close - 2) / 5 == 2", true},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, compile(t, tt.text, nil).Match(row))
		})
	}
}

func TestPredicate_UndefinedColumnNeverMatches(t *testing.T) {
	row := testRow(map[string]float64{"close": 12})
	row.Values["sma_200"] = models.Undefined()

	// both sides of the OR would accept, but sma_200 is referenced and undefined
	p := compile(t, "close > 4 OR sma_200 > 0", nil)
	assert.False(t, p.Match(row))

	// a column absent from the row reads as undefined too
	p = compile(t, "close > 4 AND roc > -1000", nil)
	assert.False(t, p.Match(row))
}

func TestPredicate_DivisionByZero(t *testing.T) {
	row := testRow(map[string]float64{"close": 10, "volume": 0})

	assert.False(t, compile(t, "close / volume > 0", nil).Match(row))
	assert.False(t, compile(t, "close / volume <= 0", nil).Match(row))
	assert.True(t, compile(t, "close / 2 == 5", nil).Match(row))
}

func TestBind_ParamsAndAliases(t *testing.T) {
	p := compile(t, "close > 4 * @price AND sma_50_volume > 100 * @volume", map[string]float64{"price": 100, "volume": 0.5})

	assert.Equal(t, "close > 4 * 100 AND volume_sma_50 > 100 * 0.5", p.String())
	assert.Equal(t, []string{"close", "volume_sma_50"}, p.Columns())

	row := testRow(map[string]float64{"close": 450, "volume_sma_50": 60})
	assert.True(t, p.Match(row))
	row = testRow(map[string]float64{"close": 350, "volume_sma_50": 60})
	assert.False(t, p.Match(row))
}

func TestBind_ReportsEveryUnknownName(t *testing.T) {
	_, err := Bind(MustParse("clsoe > 4 AND bogus > @nope"), indicators.NewSchema(), map[string]float64{"price": 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown column "clsoe"`)
	assert.Contains(t, err.Error(), `unknown column "bogus"`)
	assert.Contains(t, err.Error(), "unknown parameter @nope")
}

func TestNewPredicate_TypeErrors(t *testing.T) {
	tests := []struct {
		name string
		expr Expr
		msg  string
	}{
		{"numeric root", MustParse("close + 1"), "not a condition"},
		{"condition in arithmetic", Arith{Op: OpAdd, Left: MustParse("close > 1"), Right: Number{1}}, "must be numeric"},
		{"number under and", And{Terms: []Expr{Column{"close"}}}, "must be a condition"},
		{"empty or", Or{}, "at least one term"},
		{"unbound param", MustParse("close > @price"), "unbound parameters: @price"},
		{"nil", nil, "empty expression"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPredicate(tt.expr)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestColumns_Distinct(t *testing.T) {
	e := MustParse("close > sma_50 AND sma_50 > sma_200 AND close >= min_252 * 1.3")
	assert.Equal(t, []string{"close", "min_252", "sma_200", "sma_50"}, Columns(e))
}
