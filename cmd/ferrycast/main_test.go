package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"

	"github.com/rajasatyajit/ferrycast/config"
	"github.com/rajasatyajit/ferrycast/internal/logger"
	"github.com/rajasatyajit/ferrycast/internal/pipeline"
	"github.com/rajasatyajit/ferrycast/internal/schedule"
)

// getFreePort returns an available TCP port
func getFreePort(t *testing.T) int {
	l, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestStartMetricsServer_Smoke(t *testing.T) {
	// Initialize logger to avoid nil logger panics
	logger.Init("error", "text")
	port := getFreePort(t)
	go startMetricsServer(port, "/metrics")
	url := fmt.Sprintf("http://localhost:%d/metrics", port)

	deadline := time.Now().Add(3 * time.Second)
	var lastErr error
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			// NoOp handler returns 404 Not Found
			if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusOK {
				return
			}
		}
		lastErr = err
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("metrics server not reachable: %v", lastErr)
}

// testEnv points configuration at the in-memory store and silences
// logging and metrics.
func testEnv(t *testing.T) {
	t.Helper()
	t.Setenv("FERRYCAST_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("METRICS_ENABLED", "false")
	t.Setenv("WEATHER_PROVIDER", "store")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("FORECAST_TIMEZONE", "UTC")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	clk := fakeclock.NewFakeClock(time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC))
	cmd := newRootCommand(clk)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestTimetableCoverage_EmptyStore(t *testing.T) {
	testEnv(t)

	out, err := run(t, "timetable", "coverage", "--days", "3")
	if err != nil {
		t.Fatalf("coverage: %v", err)
	}
	var cov schedule.Coverage
	if err := json.Unmarshal([]byte(out), &cov); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if cov.HasCoverage || len(cov.MissingDates) != 3 || !cov.NeedsUpdate {
		t.Errorf("unexpected coverage %+v", cov)
	}
}

func TestForecast_SeedsTimetable(t *testing.T) {
	testEnv(t)

	out, err := run(t, "forecast", "--days", "1")
	if err != nil {
		t.Fatalf("forecast: %v", err)
	}
	var sum pipeline.ForecastSummary
	if err := json.Unmarshal([]byte(out), &sum); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if sum.Days != 1 || sum.Sailings == 0 {
		t.Errorf("expected sailings for 2026-10-17, got %+v", sum)
	}
}

func TestScore(t *testing.T) {
	testEnv(t)

	out, err := run(t, "score", "--route", "wakkanai_oshidomari", "--date", "2026-10-18", "--departure", "06:45")
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if !strings.Contains(out, `"route_id": "wakkanai_oshidomari"`) {
		t.Errorf("unexpected output %s", out)
	}

	if _, err := run(t, "score", "--route", "atlantis", "--departure", "06:45"); err == nil {
		t.Error("expected error for unknown route")
	}
	if _, err := run(t, "score", "--route", "wakkanai_oshidomari"); err == nil {
		t.Error("expected error for missing --departure")
	}
}

func TestStage(t *testing.T) {
	testEnv(t)

	out, err := run(t, "stage", "--observe")
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	if !strings.Contains(out, `"observations": 0`) {
		t.Errorf("unexpected output %s", out)
	}
}

func TestReportFormat(t *testing.T) {
	testEnv(t)

	out, err := run(t, "report")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if !strings.Contains(out, "No matched predictions") {
		t.Errorf("unexpected text report %q", out)
	}
	if _, err := run(t, "report", "--format", "xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestOutcomesImport(t *testing.T) {
	testEnv(t)
	dir := t.TempDir()

	good := filepath.Join(dir, "good.json")
	if err := os.WriteFile(good, []byte(`[{"date":"2026-10-16","route_id":"wakkanai_kafuka","status":"CANCELLED"}]`), 0o600); err != nil {
		t.Fatal(err)
	}
	out, err := run(t, "outcomes", "import", good)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if !strings.Contains(out, `"stored": 1`) {
		t.Errorf("unexpected output %s", out)
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte(`[{"date":"2026-10-16","route_id":"wakkanai_kafuka","status":"CANCELLED"},{"date":"x","route_id":"atlantis","status":"?"}]`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, "outcomes", "import", bad); err == nil {
		t.Error("expected error for invalid record")
	}
}

func TestWeatherImport(t *testing.T) {
	testEnv(t)
	path := filepath.Join(t.TempDir(), "weather.json")
	if err := os.WriteFile(path, []byte(`[{"location":"wakkanai","date":"2026-10-17","hour":6,"wind_speed":12.0}]`), 0o600); err != nil {
		t.Fatal(err)
	}
	out, err := run(t, "weather", "import", path)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if !strings.Contains(out, `"stored": 1`) {
		t.Errorf("unexpected output %s", out)
	}
}

func TestMigrateRequiresDatabase(t *testing.T) {
	testEnv(t)
	if _, err := run(t, "migrate"); err == nil {
		t.Error("expected error without DATABASE_URL")
	}
}

func TestNewRouter(t *testing.T) {
	testEnv(t)
	t.Setenv("ADMIN_SECRET", "s3cret")
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	logger.Init("error", "text")

	ctx := context.Background()
	a, err := newApp(ctx, cfg, fakeclock.NewFakeClock(time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.Close()
	if err := a.ensureTimetable(ctx); err != nil {
		t.Fatalf("ensureTimetable: %v", err)
	}
	// second call must not try to repopulate
	if err := a.ensureTimetable(ctx); err != nil {
		t.Fatalf("ensureTimetable again: %v", err)
	}

	srv := httptest.NewServer(newRouter(a))
	defer srv.Close()

	tests := []struct {
		method, path, secret string
		want                 int
	}{
		{"GET", "/v1/health", "", http.StatusOK},
		{"GET", "/v1/sailings?date=2026-10-18", "", http.StatusOK},
		{"GET", "/v1/stage", "", http.StatusOK},
		{"GET", "/v1/admin/jobs", "", http.StatusForbidden},
		{"GET", "/v1/admin/jobs", "s3cret", http.StatusOK},
		{"POST", "/v1/admin/jobs/stage", "s3cret", http.StatusOK},
	}
	for _, tt := range tests {
		req, _ := http.NewRequest(tt.method, srv.URL+tt.path, nil)
		if tt.secret != "" {
			req.Header.Set("X-Admin-Secret", tt.secret)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s %s: %v", tt.method, tt.path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tt.want {
			t.Errorf("%s %s = %d, want %d", tt.method, tt.path, resp.StatusCode, tt.want)
		}
	}
}
