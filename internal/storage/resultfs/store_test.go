package resultfs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/eodscan/internal/models"
)

func row(ticker string, values map[string]float64) models.SnapshotRow {
	r := models.SnapshotRow{
		Ticker:       ticker,
		Name:         ticker + " Corp",
		Exchange:     "US",
		IndicatorRow: models.IndicatorRow{Values: map[string]models.Value{}},
	}
	for k, v := range values {
		r.Values[k] = models.Defined(v)
	}
	return r
}

func sampleRun(id string, started time.Time) *models.ScanRun {
	return &models.ScanRun{
		ID:         id,
		Market:     "United States",
		AsOf:       time.Date(started.Year(), started.Month(), started.Day(), 0, 0, 0, 0, time.UTC),
		StartedAt:  started,
		FinishedAt: started.Add(time.Minute),
		Results: []models.ScanResult{
			{
				Group:   "Vo (@LignoL23)",
				Scan:    "Volume Gainers",
				Slug:    "vo_volume_gainers",
				SortKey: "volume_ratio",
				Rows: []models.SnapshotRow{
					row("AAA.US", map[string]float64{"close": 12.5, "volume": 900000, "daily_change": 3.2, "roc": 3.2, "volume_ratio": 4}),
				},
			},
			{
				Group:   "Kristjan Kullamägi (@Qullamaggie)",
				Scan:    "Biggest Gainers 1M",
				Slug:    "kristjan_kullamägi_biggest_gainers_1m",
				SortKey: "close_to_min_21",
				Rows: []models.SnapshotRow{
					row("BBB.US", map[string]float64{"close": 40, "volume": 1000, "close_to_min_21": 1.5}),
				},
			},
		},
	}
}

func TestPublish_WritesRunAndCSVs(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, nil)
	require.NoError(t, err)

	run := sampleRun("run-1", time.Date(2025, 6, 2, 22, 30, 0, 0, time.UTC))
	require.NoError(t, s.Publish(context.Background(), run))

	day := filepath.Join(dir, "united_states", "2025-06-02")
	assert.Equal(t, day, s.RunDir(run))
	assert.FileExists(t, filepath.Join(day, "run.json"))

	data, err := os.ReadFile(filepath.Join(day, "vo_volume_gainers.csv"))
	require.NoError(t, err)
	assert.Equal(t,
		"ticker,name,close,volume,daily_change,roc,volume_ratio\n"+
			"AAA.US,AAA.US Corp,12.5,900000,3.2,3.2,4\n",
		string(data))

	data, err = os.ReadFile(filepath.Join(day, "kristjan_kullamägi_biggest_gainers_1m.csv"))
	require.NoError(t, err)
	assert.Equal(t,
		"ticker,name,close,volume,daily_change,roc,volume_ratio,close_to_min_21\n"+
			"BBB.US,BBB.US Corp,40,1000,,,,1.5\n",
		string(data))

	// no temp files left behind
	tmp, err := filepath.Glob(filepath.Join(day, ".tmp-*"))
	require.NoError(t, err)
	assert.Empty(t, tmp)
}

func TestGetAndLatestRun(t *testing.T) {
	s, err := New(t.TempDir(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	older := sampleRun("run-1", time.Date(2025, 6, 2, 22, 30, 0, 0, time.UTC))
	newer := sampleRun("run-2", time.Date(2025, 6, 3, 22, 30, 0, 0, time.UTC))
	require.NoError(t, s.SaveRun(ctx, newer))
	require.NoError(t, s.SaveRun(ctx, older))

	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, older.StartedAt, got.StartedAt)
	assert.Equal(t, 12.5, got.Results[0].Rows[0].Get("close").OrZero())

	latest, err := s.LatestRun(ctx, "United States")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "run-2", latest.ID)

	missing, err := s.GetRun(ctx, "run-9")
	require.NoError(t, err)
	assert.Nil(t, missing)

	none, err := s.LatestRun(ctx, "Japan")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestWriteRaw(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, nil)
	require.NoError(t, err)

	require.NoError(t, s.WriteRaw("charts", "../AAA.US.png", []byte("png")))
	data, err := os.ReadFile(filepath.Join(dir, "charts", "__AAA.US.png"))
	require.NoError(t, err)
	assert.Equal(t, "png", string(data))
}

func TestMarketSlug(t *testing.T) {
	assert.Equal(t, "united_states", MarketSlug("United States"))
	assert.Equal(t, "hong_kong", MarketSlug(" Hong Kong "))
	assert.Equal(t, "default", MarketSlug(""))
}

func TestSaveRun_RequiresID(t *testing.T) {
	s, err := New(t.TempDir(), nil)
	require.NoError(t, err)
	assert.Error(t, s.SaveRun(context.Background(), &models.ScanRun{}))
}
