package weather

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"

	"github.com/rajasatyajit/ferrycast/config"
	"github.com/rajasatyajit/ferrycast/internal/models"
	"github.com/rajasatyajit/ferrycast/internal/routes"
	"github.com/rajasatyajit/ferrycast/internal/store"
)

var testDate = time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)

func newTestHTTPSource(url string, attempts int) *HTTPSource {
	h := NewHTTPSource(config.WeatherConfig{
		BaseURL:       url,
		APIKey:        "secret",
		Timeout:       time.Second,
		RetryAttempts: attempts,
	}, routes.Default())
	h.initialInterval = time.Millisecond
	return h
}

func TestHTTPSource_GetWeather(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/samples" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("location") != "wakkanai" || q.Get("date") != "2026-10-17" || q.Get("hour") != "7" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		if q.Get("lat") == "" || q.Get("lon") == "" {
			t.Errorf("known location should carry coordinates: %s", r.URL.RawQuery)
		}
		if r.Header.Get("X-API-Key") != "secret" {
			t.Errorf("missing api key header")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"samples":[{"source":"jma","wind_speed":12.5,"wave_height":2.1},{"source":"empty"}]}`))
	}))
	defer srv.Close()

	samples, err := newTestHTTPSource(srv.URL, 1).GetWeather(context.Background(), "wakkanai", testDate, 7)
	if err != nil {
		t.Fatalf("GetWeather: %v", err)
	}
	if len(samples) != 1 {
		t.Fatalf("empty samples must be dropped, got %d", len(samples))
	}
	s := samples[0]
	if s.Source != "jma" || *s.WindSpeed != 12.5 || *s.WaveHeight != 2.1 || s.Visibility != nil || s.Hour != 7 {
		t.Errorf("unexpected sample %+v", s)
	}
}

func TestHTTPSource_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"samples":[{"wind_speed":8}]}`))
	}))
	defer srv.Close()

	samples, err := newTestHTTPSource(srv.URL, 3).GetWeather(context.Background(), "oshidomari", testDate, 9)
	if err != nil {
		t.Fatalf("GetWeather: %v", err)
	}
	if atomic.LoadInt32(&calls) != 3 || len(samples) != 1 || samples[0].Source != "http" {
		t.Errorf("calls=%d samples=%+v", calls, samples)
	}
}

func TestHTTPSource_DoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestHTTPSource(srv.URL, 5).GetWeather(context.Background(), "wakkanai", testDate, 7)
	if err == nil {
		t.Fatal("expected error")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("client error retried %d times", calls)
	}
}

func TestHTTPSource_NotFoundIsNoData(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	samples, err := newTestHTTPSource(srv.URL, 3).GetWeather(context.Background(), "kafuka", testDate, 7)
	if err != nil || len(samples) != 0 {
		t.Errorf("got %v, %v", samples, err)
	}
}

func TestHTTPSource_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	h := newTestHTTPSource(srv.URL, 1)
	h.timeout = 20 * time.Millisecond
	start := time.Now()
	if _, err := h.GetWeather(context.Background(), "wakkanai", testDate, 7); err == nil {
		t.Fatal("expected timeout error")
	}
	if time.Since(start) > time.Second {
		t.Errorf("timeout not enforced")
	}
}

func TestStoreSource(t *testing.T) {
	s := store.NewInMemoryStore()
	_ = s.UpsertWeatherSamples(context.Background(), []models.WeatherSample{
		{Location: "wakkanai", Date: testDate, Hour: 7, WindSpeed: models.Float(11), Source: "jma"},
		{Location: "wakkanai", Date: testDate, Hour: 7, Source: "blank"},
	})

	src := NewStoreSource(s)
	got, err := src.GetWeather(context.Background(), "wakkanai", testDate, 7)
	if err != nil || len(got) != 1 || got[0].Source != "jma" {
		t.Errorf("got %+v, %v", got, err)
	}
	got, _ = src.GetWeather(context.Background(), "wakkanai", testDate, 8)
	if len(got) != 0 {
		t.Errorf("expected no data, got %+v", got)
	}
}

type stubSource struct {
	calls   int
	samples []models.WeatherSample
	err     error
}

func (s *stubSource) Name() string { return "stub" }
func (s *stubSource) GetWeather(ctx context.Context, location string, date time.Time, hour int) ([]models.WeatherSample, error) {
	s.calls++
	return s.samples, s.err
}

func TestCachingSource(t *testing.T) {
	s := store.NewInMemoryStore()
	clk := fakeclock.NewFakeClock(time.Date(2026, 10, 17, 6, 0, 0, 0, time.UTC))
	up := &stubSource{samples: []models.WeatherSample{
		{Location: "kafuka", Date: testDate, Hour: 10, WaveHeight: models.Float(2.5), Source: "marine"},
	}}
	c := NewCachingSource(s, up, clk, 3*time.Hour)

	for i := 0; i < 3; i++ {
		got, err := c.GetWeather(context.Background(), "kafuka", testDate, 10)
		if err != nil || len(got) != 1 {
			t.Fatalf("call %d: %+v, %v", i, got, err)
		}
	}
	if up.calls != 1 {
		t.Errorf("upstream called %d times, want 1", up.calls)
	}

	up.err = errors.New("down")
	if _, err := c.GetWeather(context.Background(), "kafuka", testDate, 11); err == nil {
		t.Error("expected upstream error on cache miss")
	}
}

func TestCachingSource_RefreshesAfterTTL(t *testing.T) {
	s := store.NewInMemoryStore()
	clk := fakeclock.NewFakeClock(time.Date(2026, 10, 17, 6, 0, 0, 0, time.UTC))
	up := &stubSource{samples: []models.WeatherSample{
		{Location: "wakkanai", Date: testDate, Hour: 7, WindSpeed: models.Float(8.0), Source: "marine"},
	}}
	c := NewCachingSource(s, up, clk, 3*time.Hour)
	ctx := context.Background()

	got, err := c.GetWeather(ctx, "wakkanai", testDate, 7)
	if err != nil || len(got) != 1 || *got[0].WindSpeed != 8.0 {
		t.Fatalf("first fetch: %+v, %v", got, err)
	}

	up.samples = []models.WeatherSample{
		{Location: "wakkanai", Date: testDate, Hour: 7, WindSpeed: models.Float(32.0), Source: "marine"},
	}
	clk.Increment(time.Hour)
	got, _ = c.GetWeather(ctx, "wakkanai", testDate, 7)
	if up.calls != 1 || *got[0].WindSpeed != 8.0 {
		t.Fatalf("within TTL must serve cache: calls=%d wind=%v", up.calls, *got[0].WindSpeed)
	}

	clk.Increment(3 * time.Hour)
	got, err = c.GetWeather(ctx, "wakkanai", testDate, 7)
	if err != nil || len(got) != 1 || *got[0].WindSpeed != 32.0 {
		t.Fatalf("expired cache must refetch: %+v, %v", got, err)
	}
	if up.calls != 2 {
		t.Errorf("upstream called %d times, want 2", up.calls)
	}
	stored, _ := s.WeatherSamples(ctx, "wakkanai", testDate, 7)
	if len(stored) != 1 || *stored[0].WindSpeed != 32.0 || !stored[0].CollectedAt.Equal(clk.Now().UTC()) {
		t.Errorf("refresh not written back: %+v", stored)
	}

	up.err = errors.New("down")
	clk.Increment(4 * time.Hour)
	got, err = c.GetWeather(ctx, "wakkanai", testDate, 7)
	if err != nil || len(got) != 1 || *got[0].WindSpeed != 32.0 {
		t.Errorf("failed refresh must fall back to stale cache: %+v, %v", got, err)
	}
}

func TestNewSource(t *testing.T) {
	s := store.NewInMemoryStore()
	tests := []struct {
		provider string
		want     string
		wantErr  bool
	}{
		{"", "store", false},
		{"store", "store", false},
		{"HTTP", "cached_http", false},
		{"carrier-pigeon", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			src, err := NewSource(config.WeatherConfig{Provider: tt.provider}, s, routes.Default(), fakeclock.NewFakeClock(testDate))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v", err)
			}
			if err == nil && src.Name() != tt.want {
				t.Errorf("Name = %s, want %s", src.Name(), tt.want)
			}
		})
	}
}
