package scan

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/eodscan/internal/models"
)

func intPtr(v int) *int { return &v }

func TestDefaultCatalog_LoadsCleanly(t *testing.T) {
	cat := DefaultCatalog()
	reg := NewRegistry(cat)

	assert.Empty(t, reg.Errors())
	assert.Equal(t, cat.Len(), len(reg.Definitions()))
	assert.Len(t, reg.Groups(), 7)

	def, ok := reg.Lookup("Mark Minervini (@markminervini)", "Trend Template")
	require.True(t, ok)
	assert.Equal(t, "mark_minervini_trend_template", def.Slug)
	assert.Equal(t, "close_to_min_252", def.SortKey)
	assert.Equal(t, models.SortDescending, def.SortDirection)
	assert.Equal(t, 200, def.ResultCap)

	assert.Equal(t, []int{21, 63, 126, 252}, reg.RatioWindows())
}

func TestNewRegistry_ExcludesMalformedScans(t *testing.T) {
	cat := &Catalog{Groups: []GroupSpec{{
		Name: "Tester (@tester)",
		Scans: []ScanSpec{
			{Name: "Good", Where: "close > 4", SortKey: "roc"},
			{Name: "Bad Syntax", Where: "close >", SortKey: "roc"},
			{Name: "Unknown Column", Where: "clsoe > 4", SortKey: "roc"},
			{Name: "Unknown Param", Where: "close > @fx", SortKey: "roc"},
			{Name: "Not Boolean", Where: "close * 2", SortKey: "roc"},
			{Name: "Unknown Sort Key", Where: "close > 4", SortKey: "momentum"},
			{Name: "Bad Direction", Where: "close > 4", SortKey: "roc", SortDirection: "sideways"},
			{Name: "Negative Cap", Where: "close > 4", SortKey: "roc", ResultCap: intPtr(-1)},
			{Name: "Good", Where: "close > 5", SortKey: "roc"},
			{Name: "", Where: "close > 4", SortKey: "roc"},
		},
	}}}

	reg := NewRegistry(cat)

	require.Len(t, reg.Definitions(), 1)
	assert.Equal(t, "close > 4", reg.Definitions()[0].Where, "first duplicate wins")

	errs := reg.Errors()
	require.Len(t, errs, 9)
	wantScans := []string{"Bad Syntax", "Unknown Column", "Unknown Param", "Not Boolean", "Unknown Sort Key", "Bad Direction", "Negative Cap", "Good", ""}
	for i, e := range errs {
		assert.Equal(t, "Tester (@tester)", e.Group)
		assert.Equal(t, wantScans[i], e.Scan)
	}

	var perr *ParseError
	assert.True(t, errors.As(errs[0], &perr))
	assert.Contains(t, errs[7].Error(), "duplicate")
}

func TestNewRegistry_RejectsSlugCollisions(t *testing.T) {
	cat := &Catalog{Groups: []GroupSpec{
		{Name: "Vo", Scans: []ScanSpec{
			{Name: "Top Gainers", Where: "close > 4", SortKey: "roc"},
			{Name: "top gainers", Where: "close > 5", SortKey: "roc"},
			{Name: "Top (Gainers)", Where: "close > 6", SortKey: "roc"},
		}},
		{Name: "Vo (@other)", Scans: []ScanSpec{
			{Name: "Top/Gainers", Where: "close > 7", SortKey: "roc"},
			{Name: "Losers", Where: "close > 8", SortKey: "roc"},
		}},
	}}

	reg := NewRegistry(cat)

	require.Len(t, reg.Definitions(), 2)
	assert.Equal(t, "vo_top_gainers", reg.Definitions()[0].Slug)
	assert.Equal(t, "close > 4", reg.Definitions()[0].Where)
	assert.Equal(t, "vo_losers", reg.Definitions()[1].Slug)

	errs := reg.Errors()
	require.Len(t, errs, 3)
	for _, e := range errs {
		assert.Contains(t, e.Error(), `slug "vo_top_gainers" already used by scan "Top Gainers" in group "Vo"`)
	}
	assert.Equal(t, "Top/Gainers", errs[2].Scan)
	assert.Equal(t, "Vo (@other)", errs[2].Group)
}

func TestNewRegistry_DefaultsAndAliases(t *testing.T) {
	cat := &Catalog{Groups: []GroupSpec{{
		Name: "Tester",
		Scans: []ScanSpec{
			{Name: "Defaults", Where: "sma_50_volume > 1", SortKey: "Dollar_Volume_SMA_50"},
			{Name: "Ascending Zero", Where: "close > 1", SortKey: "close", SortDirection: "ASC", ResultCap: intPtr(0)},
		},
	}}}

	reg := NewRegistry(cat)
	require.Empty(t, reg.Errors())

	def, ok := reg.Lookup("Tester", "Defaults")
	require.True(t, ok)
	assert.Equal(t, DefaultResultCap, def.ResultCap)
	assert.Equal(t, models.SortDescending, def.SortDirection)
	assert.Equal(t, "avg_dollar_volume_50", def.SortKey)
	assert.Equal(t, []string{"volume_sma_50"}, def.Predicate.Columns())

	def, ok = reg.Lookup("Tester", "Ascending Zero")
	require.True(t, ok)
	assert.Equal(t, 0, def.ResultCap)
	assert.Equal(t, models.SortAscending, def.SortDirection)

	_, ok = reg.Lookup("Tester", "Missing")
	assert.False(t, ok)
}

func TestNewRegistry_MarketScale(t *testing.T) {
	cat := &Catalog{Groups: []GroupSpec{{
		Name:  "Tester",
		Scans: []ScanSpec{{Name: "Price", Where: "close > 4 * @price AND volume > 1000 * @volume", SortKey: "close"}},
	}}}

	india := models.Market{Name: "India", PriceScale: 80, VolumeScale: 0.5}
	def, ok := NewRegistry(cat, WithMarket(india)).Lookup("Tester", "Price")
	require.True(t, ok)
	assert.Equal(t, "close > 4 * 80 AND volume > 1000 * 0.5", def.Predicate.String())
	assert.Equal(t, "close > 4 * @price AND volume > 1000 * @volume", def.Where)

	def, ok = NewRegistry(cat, WithMarket(models.Market{Name: "US"})).Lookup("Tester", "Price")
	require.True(t, ok)
	assert.Equal(t, "close > 4 * 1 AND volume > 1000 * 1", def.Predicate.String())
}

func TestNewRegistry_WithParams(t *testing.T) {
	cat := &Catalog{Groups: []GroupSpec{{
		Name:  "Tester",
		Scans: []ScanSpec{{Name: "FX", Where: "close > @FX", SortKey: "close"}},
	}}}

	assert.Len(t, NewRegistry(cat).Errors(), 1)

	reg := NewRegistry(cat, WithParams(map[string]float64{"FX": 1.5}))
	require.Empty(t, reg.Errors())
	assert.Equal(t, "close > 1.5", reg.Definitions()[0].Predicate.String())
}

func TestRatioWindows_OnlyReferenced(t *testing.T) {
	cat := &Catalog{Groups: []GroupSpec{{
		Name: "Tester",
		Scans: []ScanSpec{
			{Name: "A", Where: "close_to_max_126 > 0.9", SortKey: "roc"},
			{Name: "B", Where: "close > 1", SortKey: "close_to_min_21"},
		},
	}}}

	assert.Equal(t, []int{21, 126}, NewRegistry(cat).RatioWindows())
	assert.Empty(t, NewRegistry(&Catalog{}).RatioWindows())
}

func TestLoadCatalog_TOMLAndYAML(t *testing.T) {
	dir := t.TempDir()

	tomlPath := filepath.Join(dir, "scans.toml")
	require.NoError(t, os.WriteFile(tomlPath, []byte(`
[[groups]]
name = "Tester (@tester)"
link = "https://example.com/tester"

  [[groups.scans]]
  name = "Cheap Movers"
  where = "close < 10 AND roc > 5"
  sort_key = "roc"
  result_cap = 0
`), 0644))

	yamlPath := filepath.Join(dir, "scans.yml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
groups:
  - name: Tester (@tester)
    link: https://example.com/tester
    scans:
      - name: Cheap Movers
        where: close < 10 AND roc > 5
        sort_key: roc
        result_cap: 0
`), 0644))

	fromTOML, err := LoadCatalog(tomlPath)
	require.NoError(t, err)
	fromYAML, err := LoadCatalog(yamlPath)
	require.NoError(t, err)

	assert.Equal(t, fromTOML, fromYAML)
	require.Len(t, fromTOML.Groups, 1)
	require.Len(t, fromTOML.Groups[0].Scans, 1)
	scan := fromTOML.Groups[0].Scans[0]
	require.NotNil(t, scan.ResultCap)
	assert.Equal(t, 0, *scan.ResultCap)
	assert.Equal(t, "", scan.SortDirection)
}

func TestLoadCatalog_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadCatalog(filepath.Join(dir, "scans.json"))
	assert.ErrorContains(t, err, "unsupported catalog extension")

	_, err = LoadCatalog(filepath.Join(dir, "missing.toml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("[[groups]\nname ="), 0644))
	_, err = LoadCatalog(bad)
	assert.ErrorContains(t, err, "failed to parse catalog")

	cat, err := LoadCatalog("")
	require.NoError(t, err)
	assert.Equal(t, DefaultCatalog(), cat)
}
