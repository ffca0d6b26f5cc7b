package surrealdb

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	surreal "github.com/surrealdb/surrealdb.go"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bobmcallan/eodscan/internal/common"
	"github.com/bobmcallan/eodscan/internal/models"
)

var (
	surrealOnce    sync.Once
	surrealAddress string
	surrealErr     error
)

// startSurrealDB starts one SurrealDB container per test process.
func startSurrealDB(t *testing.T) string {
	t.Helper()

	if os.Getenv("EODSCAN_TEST_DOCKER") != "true" {
		t.Skip("Docker tests disabled (set EODSCAN_TEST_DOCKER=true to enable)")
	}

	surrealOnce.Do(func() {
		ctx := context.Background()

		req := testcontainers.ContainerRequest{
			Image:        "surrealdb/surrealdb:v3.0.0",
			ExposedPorts: []string{"8000/tcp"},
			Cmd:          []string{"start", "--user", "root", "--pass", "root"},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("8000/tcp"),
				wait.ForLog("Started web server"),
			).WithDeadline(60 * time.Second),
		}

		container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
		if err != nil {
			surrealErr = fmt.Errorf("start SurrealDB container: %w", err)
			return
		}

		host, err := container.Host(ctx)
		if err != nil {
			container.Terminate(ctx)
			surrealErr = fmt.Errorf("get SurrealDB host: %w", err)
			return
		}
		port, err := container.MappedPort(ctx, "8000/tcp")
		if err != nil {
			container.Terminate(ctx)
			surrealErr = fmt.Errorf("get SurrealDB port: %w", err)
			return
		}
		surrealAddress = fmt.Sprintf("ws://%s:%s/rpc", host, port.Port())
	})

	if surrealErr != nil {
		t.Fatalf("SurrealDB container failed: %v", surrealErr)
	}
	return surrealAddress
}

// testStore connects to a fresh database per test.
func testStore(t *testing.T) *RunStore {
	t.Helper()
	address := startSurrealDB(t)

	sanitized := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	cfg := common.StorageConfig{
		Address:   address,
		Namespace: "eodscan_test",
		Database:  fmt.Sprintf("t_%s_%d", sanitized, time.Now().UnixNano()%100000),
		Username:  "root",
		Password:  "root",
	}

	s, err := Connect(context.Background(), cfg, common.NewSilentLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRun(id, market string, started time.Time) *models.ScanRun {
	return &models.ScanRun{
		ID:         id,
		Market:     market,
		AsOf:       started.Truncate(24 * time.Hour),
		StartedAt:  started,
		FinishedAt: started.Add(time.Minute),
		Universe:   2,
		Processed:  1,
		Results: []models.ScanResult{{
			Group:        "Vo (@LignoL23)",
			Scan:         "52W High",
			Slug:         "vo_52w_high",
			SortKey:      "volume_ratio",
			TotalMatched: 1,
			Rows: []models.SnapshotRow{{
				Ticker: "AAA.US",
				IndicatorRow: models.IndicatorRow{
					Date:   started.Truncate(24 * time.Hour),
					Values: map[string]models.Value{"close": models.Defined(9), "max_252": models.Undefined()},
				},
			}},
		}},
	}
}

func TestRunStore_SaveGetLatest(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	day := time.Date(2025, 6, 2, 22, 30, 0, 0, time.UTC)

	first := sampleRun("run-1", "United States", day)
	second := sampleRun("run-2", "United States", day.AddDate(0, 0, 1))
	require.NoError(t, s.SaveRun(ctx, first))
	require.NoError(t, s.SaveRun(ctx, second))
	require.NoError(t, s.SaveRun(ctx, sampleRun("run-3", "Australia", day.AddDate(0, 0, 2))))

	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, first, got)

	latest, err := s.LatestRun(ctx, "United States")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "run-2", latest.ID)
	assert.False(t, latest.Results[0].Rows[0].Get("max_252").IsDefined())
}

func TestRunStore_Missing(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	got, err := s.GetRun(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, got)

	latest, err := s.LatestRun(ctx, "Nowhere")
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestNewRunStore_DirectConnection(t *testing.T) {
	address := startSurrealDB(t)
	ctx := context.Background()

	db, err := surreal.New(address)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close(context.Background()) })
	_, err = db.SignIn(ctx, map[string]interface{}{"user": "root", "pass": "root"})
	require.NoError(t, err)
	require.NoError(t, db.Use(ctx, "eodscan_test", "direct"))

	s, err := NewRunStore(ctx, db, nil)
	require.NoError(t, err)
	assert.Error(t, s.SaveRun(ctx, &models.ScanRun{}))
}
