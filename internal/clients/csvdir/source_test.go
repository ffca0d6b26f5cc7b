package csvdir

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/eodscan/internal/models"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestSymbols_FromSymbolsFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "AU", "symbols.csv"), "Code,Name,Type\nBHP,BHP Group,Common Stock\n,Blank,\nRIO,Rio Tinto,Common Stock\n")

	symbols, err := NewSource(dir, nil).Symbols(context.Background(), "AU")
	require.NoError(t, err)
	require.Len(t, symbols, 2)
	assert.Equal(t, models.Symbol{Code: "BHP", Name: "BHP Group", Exchange: "AU", Type: "Common Stock"}, *symbols[0])
	assert.Equal(t, "RIO.AU", symbols[1].Ticker())
}

func TestSymbols_FromFileNames(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "US", "MSFT.csv"), "Date,Open,High,Low,Close,Volume\n")
	writeFile(t, filepath.Join(dir, "US", "AAPL.csv"), "Date,Open,High,Low,Close,Volume\n")
	writeFile(t, filepath.Join(dir, "US", "notes.txt"), "ignored")

	symbols, err := NewSource(dir, nil).Symbols(context.Background(), "US")
	require.NoError(t, err)
	require.Len(t, symbols, 2)
	assert.Equal(t, "AAPL.US", symbols[0].Ticker())
	assert.Equal(t, "MSFT.US", symbols[1].Ticker())

	_, err = NewSource(dir, nil).Symbols(context.Background(), "XX")
	assert.Error(t, err)
}

func TestSeries_ReadsAndFilters(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "US", "AAPL.csv"), strings.Join([]string{
		"date,open,high,low,close,adjusted_close,volume",
		"2025-01-03,10,11,9,10.5,10.5,1000",
		"2025-01-02,9,10,8,9.5,9.5,900",
		"2024-12-31,8,9,7,8.5,8.5,800",
	}, "\n"))

	src := NewSource(dir, nil)
	sym := models.Symbol{Code: "AAPL", Name: "Apple", Exchange: "US"}
	series, err := src.Series(context.Background(), sym, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.Equal(t, "AAPL.US", series.Ticker)
	assert.Equal(t, "Apple", series.Name)
	require.Len(t, series.Bars, 2)
	assert.Equal(t, 9.5, series.Bars[0].Close)
	assert.Equal(t, int64(1000), series.Bars[1].Volume)
	assert.Equal(t, 11.0, series.Bars[1].High)

	_, err = src.Series(context.Background(), models.Symbol{Code: "NONE", Exchange: "US"}, time.Time{})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestReadBars_Errors(t *testing.T) {
	_, err := ReadBars(strings.NewReader("Date,Open,High,Low,Close\n2025-01-01,1,1,1,1\n"), time.Time{})
	assert.ErrorContains(t, err, "missing volume column")

	_, err = ReadBars(strings.NewReader("Date,Open,High,Low,Close,Volume\n2025-01-01,1,x,1,1,5\n"), time.Time{})
	assert.ErrorContains(t, err, "line 2 high")

	_, err = ReadBars(strings.NewReader("Date,Open,High,Low,Close,Volume\n2025-01-01,1,1,1,NaN,5\n"), time.Time{})
	assert.ErrorContains(t, err, `line 2 close: "NaN" is not a finite number`)

	_, err = ReadBars(strings.NewReader("Date,Open,High,Low,Close,Volume\n2025-01-01,1,1,1,1,+Inf\n"), time.Time{})
	assert.ErrorContains(t, err, "line 2 volume")

	bars, err := ReadBars(strings.NewReader(""), time.Time{})
	assert.ErrorContains(t, err, "missing date column")
	assert.Nil(t, bars)
}

func TestSeries_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewSource(t.TempDir(), nil).Series(ctx, models.Symbol{Code: "A", Exchange: "US"}, time.Time{})
	assert.ErrorIs(t, err, context.Canceled)
}
