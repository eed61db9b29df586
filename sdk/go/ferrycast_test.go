package sdk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestForecasts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/forecasts" || r.URL.Query().Get("route") != "wakkanai_kafuka" {
			t.Errorf("unexpected request %s", r.URL)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"route_id":"wakkanai_kafuka","risk_level":"HIGH","risk_score":72.5,"thresholds":{"high":70,"medium":40,"low":20}}],"count":1}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	got, err := c.Forecasts(context.Background(), map[string]string{"route": "wakkanai_kafuka"})
	if err != nil {
		t.Fatalf("Forecasts: %v", err)
	}
	if len(got) != 1 || got[0].RiskLevel != "HIGH" || got[0].Thresholds.Medium != 40 {
		t.Errorf("unexpected forecasts %+v", got)
	}
}

func TestScoreSendsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected request %s %v", r.Method, r.Header)
		}
		_, _ = w.Write([]byte(`{"route_id":"wakkanai_oshidomari","risk_level":"LOW","confidence":0.6}`))
	}))
	defer srv.Close()

	fc, err := New(srv.URL, "").Score(context.Background(), ScoreRequest{RouteID: "wakkanai_oshidomari", Date: "2026-10-18", DepartureTime: "06:55"})
	if err != nil || fc.Confidence != 0.6 {
		t.Errorf("Score = %+v, %v", fc, err)
	}
}

func TestAdminHeaderAndErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Admin-Secret") != "s3cret" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":"forbidden"}`))
			return
		}
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"proposal is stale"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "").Adopt(context.Background(), "p1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 APIError, got %v", err)
	}

	_, err = New(srv.URL, "s3cret").Adopt(context.Background(), "p1")
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusConflict || apiErr.Message != "proposal is stale" {
		t.Fatalf("expected 409 APIError, got %v", err)
	}
}

func TestStage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":{"current":{"stage":1,"name":"learning","confidence_ceiling":0.7},"observations":120,"progress":0.47}}`))
	}))
	defer srv.Close()

	st, err := New(srv.URL, "").Stage(context.Background())
	if err != nil || st.Current.Number != 1 || st.Observations != 120 {
		t.Errorf("Stage = %+v, %v", st, err)
	}
}
