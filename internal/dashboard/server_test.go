package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/leapstack-labs/fitetl/internal/fitness"
	"github.com/leapstack-labs/fitetl/internal/load"
	"github.com/leapstack-labs/fitetl/internal/metrics"
	"github.com/leapstack-labs/fitetl/internal/state"
	"github.com/leapstack-labs/fitetl/internal/table"
	"github.com/leapstack-labs/fitetl/internal/testutil"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func enrichedTable(t *testing.T) *table.Table {
	t.Helper()
	tbl, err := table.FromRows([]table.Column{
		{Name: fitness.ParticipantID, Kind: table.KindString},
		{Name: fitness.Date, Kind: table.KindDate},
		{Name: fitness.BMI, Kind: table.KindFloat},
		{Name: fitness.BMICategory, Kind: table.KindString},
		{Name: fitness.Season, Kind: table.KindString},
		{Name: fitness.ISOYear, Kind: table.KindInt},
		{Name: fitness.WeekOfYear, Kind: table.KindInt},
		{Name: fitness.DurationMinutes, Kind: table.KindInt},
		{Name: fitness.CaloriesBurned, Kind: table.KindFloat},
		{Name: fitness.FitnessLevel, Kind: table.KindFloat},
		{Name: fitness.DateFlagged, Kind: table.KindBool},
	}, []table.Row{
		{"p1", day(2023, 1, 5), 25.0, "Overweight", "winter", int64(2023), int64(1), int64(45), 400.0, 6.5, false},
		{"p1", day(2023, 1, 6), 24.0, "Normal", "winter", int64(2023), int64(1), int64(30), 300.0, 4.0, false},
		{"p1", day(2023, 7, 8), 24.0, "Normal", "summer", int64(2023), int64(27), int64(60), 500.0, 7.0, false},
		{"p2", nil, 18.0, "Underweight", "unknown", nil, nil, int64(20), nil, nil, true},
	})
	require.NoError(t, err)
	return tbl
}

func writeCSV(t *testing.T, path string, tbl *table.Table) {
	t.Helper()
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	require.NoError(t, err)
	require.NoError(t, load.WriteCSV(f, tbl))
	require.NoError(t, f.Close())
	require.NoError(t, os.Rename(tmp, path))
}

func newLoadedServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	cfg.DataPath = filepath.Join(t.TempDir(), "fitness.csv")
	cfg.Logger = testutil.NewTestLogger(t)
	writeCSV(t, cfg.DataPath, enrichedTable(t))

	s := NewServer(cfg)
	require.NoError(t, s.Load(context.Background()))
	return s
}

func get(t *testing.T, h http.Handler, path string, out any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if out != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

func TestServer_Summary(t *testing.T) {
	h := newLoadedServer(t, Config{}).Handler()

	var s Summary
	require.Equal(t, http.StatusOK, get(t, h, "/api/summary", &s))
	assert.Equal(t, 4, s.Rows)
	assert.Equal(t, 2, s.Participants)
	assert.Equal(t, "2023-01-05", s.FirstDate)
	assert.Equal(t, "2023-07-08", s.LastDate)
	assert.Equal(t, 1, s.FlaggedDates)
	require.NotNil(t, s.AvgBMI)
	assert.InDelta(t, 22.75, *s.AvgBMI, 1e-9)
	require.NotNil(t, s.TotalCalories)
	assert.InDelta(t, 1200.0, *s.TotalCalories, 1e-9)
	require.NotNil(t, s.AvgDurationMinutes)
	assert.InDelta(t, 38.75, *s.AvgDurationMinutes, 1e-9)
}

func TestServer_Seasons(t *testing.T) {
	h := newLoadedServer(t, Config{}).Handler()

	var seasons []SeasonStat
	require.Equal(t, http.StatusOK, get(t, h, "/api/seasons", &seasons))
	require.Len(t, seasons, 3)
	assert.Equal(t, "winter", seasons[0].Season)
	assert.Equal(t, 2, seasons[0].Sessions)
	assert.InDelta(t, 37.5, *seasons[0].AvgDurationMinutes, 1e-9)
	assert.Equal(t, "summer", seasons[1].Season)
	assert.Equal(t, "unknown", seasons[2].Season)
	assert.Nil(t, seasons[2].AvgCalories)
}

func TestServer_BMICategories(t *testing.T) {
	h := newLoadedServer(t, Config{}).Handler()

	var got []CategoryCount
	require.Equal(t, http.StatusOK, get(t, h, "/api/bmi-categories", &got))
	assert.Equal(t, []CategoryCount{
		{Category: "Underweight", Count: 1},
		{Category: "Normal", Count: 2},
		{Category: "Overweight", Count: 1},
	}, got)
}

func TestServer_ParticipantWeekly(t *testing.T) {
	h := newLoadedServer(t, Config{}).Handler()

	tests := []struct {
		name   string
		id     string
		status int
		weeks  int
	}{
		{"two weeks", "p1", http.StatusOK, 2},
		{"no dated sessions", "p2", http.StatusOK, 0},
		{"unknown participant", "p9", http.StatusNotFound, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/participants/"+tt.id+"/weekly", nil))
			require.Equal(t, tt.status, rec.Code)
			if tt.status != http.StatusOK {
				assert.Contains(t, rec.Body.String(), tt.id)
				return
			}
			var weeks []WeekStat
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &weeks))
			assert.Len(t, weeks, tt.weeks)
		})
	}

	var weeks []WeekStat
	get(t, h, "/api/participants/p1/weekly", &weeks)
	assert.Equal(t, 1, weeks[0].Week)
	assert.Equal(t, 2, weeks[0].Sessions)
	assert.InDelta(t, 75.0, *weeks[0].DurationMinutes, 1e-9)
	assert.InDelta(t, 700.0, *weeks[0].Calories, 1e-9)
	assert.Nil(t, weeks[0].Steps)
	assert.Equal(t, 27, weeks[1].Week)
}

func TestServer_NotLoaded(t *testing.T) {
	s := NewServer(Config{DataPath: filepath.Join(t.TempDir(), "missing.csv")})
	require.Error(t, s.Load(context.Background()))
	h := s.Handler()

	var health map[string]any
	require.Equal(t, http.StatusOK, get(t, h, "/healthz", &health))
	assert.Equal(t, false, health["loaded"])
	assert.Contains(t, health["error"], "missing.csv")

	for _, path := range []string{"/api/summary", "/api/seasons", "/api/bmi-categories", "/api/participants/p1/weekly"} {
		var body errorResponse
		assert.Equal(t, http.StatusServiceUnavailable, get(t, h, path, &body), path)
		assert.Equal(t, http.StatusServiceUnavailable, body.Status)
	}
}

func TestServer_FailedReloadKeepsDataset(t *testing.T) {
	s := newLoadedServer(t, Config{})
	require.NoError(t, os.WriteFile(s.cfg.DataPath, nil, 0o600))

	require.Error(t, s.Load(context.Background()))

	var sum Summary
	require.Equal(t, http.StatusOK, get(t, s.Handler(), "/api/summary", &sum))
	assert.Equal(t, 4, sum.Rows)
}

func TestServer_Runs(t *testing.T) {
	ctx := context.Background()
	store, err := state.OpenSQLite(ctx, ":memory:", nil)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	for _, env := range []string{"test", "test", "dev"} {
		_, err := store.CreateRun(ctx, env)
		require.NoError(t, err)
	}

	h := newLoadedServer(t, Config{Store: store, Environment: "test"}).Handler()

	var runs []state.Run
	require.Equal(t, http.StatusOK, get(t, h, "/api/runs", &runs))
	assert.Len(t, runs, 2)

	require.Equal(t, http.StatusOK, get(t, h, "/api/runs?env=dev", &runs))
	assert.Len(t, runs, 1)

	require.Equal(t, http.StatusOK, get(t, h, "/api/runs?limit=1", &runs))
	assert.Len(t, runs, 1)

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/runs?limit=zero", nil))

	noStore := newLoadedServer(t, Config{}).Handler()
	require.Equal(t, http.StatusOK, get(t, noStore, "/api/runs", &runs))
	assert.Empty(t, runs)
}

func TestServer_Metrics(t *testing.T) {
	m := metrics.New(false)
	m.Rows("load", metrics.OutcomeKept, 4)
	h := newLoadedServer(t, Config{Metrics: m}).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `fitetl_stage_rows_total{outcome="kept",stage="load"} 4`)

	withoutMetrics := newLoadedServer(t, Config{}).Handler()
	assert.Equal(t, http.StatusNotFound, get(t, withoutMetrics, "/metrics", nil))
}

func TestServer_ServeAndReload(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s := newLoadedServer(t, Config{Watch: true, Debounce: 20 * time.Millisecond})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ServeListener(ctx, ln) }()

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}, Timeout: 5 * time.Second}
	base := "http://" + ln.Addr().String()

	summaryRows := func() int {
		resp, err := client.Get(base + "/api/summary")
		if err != nil {
			return -1
		}
		defer func() { _ = resp.Body.Close() }()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return -1
		}
		var sum Summary
		if json.Unmarshal(body, &sum) != nil {
			return -1
		}
		return sum.Rows
	}

	require.Eventually(t, func() bool { return summaryRows() == 4 }, 5*time.Second, 20*time.Millisecond)

	smaller := enrichedTable(t).Filter(func(i int, _ table.Row) bool { return i == 0 })
	writeCSV(t, s.cfg.DataPath, smaller)

	require.Eventually(t, func() bool { return summaryRows() == 1 }, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
	client.CloseIdleConnections()
}
