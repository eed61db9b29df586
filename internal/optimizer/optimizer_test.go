package optimizer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/google/go-cmp/cmp"

	"github.com/rajasatyajit/ferrycast/internal/adaptive"
	apperrors "github.com/rajasatyajit/ferrycast/internal/errors"
	"github.com/rajasatyajit/ferrycast/internal/models"
	"github.com/rajasatyajit/ferrycast/internal/store"
)

var now = time.Date(2026, 10, 17, 6, 0, 0, 0, time.UTC)

func points(n int, score float64, actual bool) []Point {
	out := make([]Point, n)
	for i := range out {
		out[i] = Point{Score: score, Actual: actual}
	}
	return out
}

func concat(sets ...[]Point) []Point {
	var out []Point
	for _, s := range sets {
		out = append(out, s...)
	}
	return out
}

func TestFindOptimalThreshold(t *testing.T) {
	tests := []struct {
		name      string
		points    []Point
		metric    models.Metric
		threshold float64
		value     float64
	}{
		{
			name:      "lowest separating candidate wins",
			points:    concat(points(10, 60, true), points(10, 30, false)),
			metric:    models.MetricF1,
			threshold: 35,
			value:     1,
		},
		{
			name:      "all candidates tie",
			points:    concat(points(10, 100, true), points(10, 0, false)),
			metric:    models.MetricF1,
			threshold: 10,
			value:     1,
		},
		{
			name:      "accuracy metric",
			points:    concat(points(10, 60, true), points(10, 30, false)),
			metric:    models.MetricAccuracy,
			threshold: 35,
			value:     1,
		},
		{
			name:      "empty metric defaults to f1",
			points:    concat(points(15, 50, true), points(5, 50, false), points(5, 20, false)),
			threshold: 25,
			value:     2 * 0.75 / 1.75,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := FindOptimalThreshold(tt.points, tt.metric)
			if err != nil {
				t.Fatalf("FindOptimalThreshold: %v", err)
			}
			if res.Insufficient || res.Threshold != tt.threshold || math.Abs(res.Value-tt.value) > 1e-9 {
				t.Errorf("got %+v, want threshold %v value %v", res, tt.threshold, tt.value)
			}
			if res.DataPoints != len(tt.points) {
				t.Errorf("data points = %d", res.DataPoints)
			}
		})
	}
}

func TestFindOptimalThreshold_Insufficient(t *testing.T) {
	tests := []struct {
		name   string
		points []Point
	}{
		{"too few points", concat(points(10, 60, true), points(9, 30, false))},
		{"single class", points(30, 60, true)},
		{"no points", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := FindOptimalThreshold(tt.points, models.MetricF1)
			if err != nil {
				t.Fatalf("insufficient data is not an error: %v", err)
			}
			if !res.Insufficient || res.Reason == "" {
				t.Errorf("expected insufficient result, got %+v", res)
			}
		})
	}
}

func TestFindOptimalThreshold_InvalidMetric(t *testing.T) {
	_, err := FindOptimalThreshold(points(20, 50, true), "auc")
	if !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("expected validation error, got %v", err)
	}
}

type stageStub struct{ stage adaptive.Stage }

func (s stageStub) Current(context.Context) (adaptive.Stage, error) { return s.stage, nil }

// seedMatches stores n matches per class: cancellations scored hi and
// operations scored lo.
func seedMatches(t *testing.T, s *store.InMemoryStore, n int, hi, lo float64) {
	t.Helper()
	var ms []models.MatchedPrediction
	for i := 0; i < n; i++ {
		d := now.AddDate(0, 0, -1-i%10)
		ms = append(ms,
			models.MatchedPrediction{ForecastDate: d, RouteID: "wakkanai_oshidomari", DepartureTime: fmt.Sprintf("%02d:00", i), Granularity: models.GranularitySailing,
				RiskScore: hi, ActualStatus: models.StatusCancelled, ActualCancellation: true},
			models.MatchedPrediction{ForecastDate: d, RouteID: "oshidomari_wakkanai", DepartureTime: fmt.Sprintf("%02d:00", i), Granularity: models.GranularitySailing,
				RiskScore: lo, ActualStatus: models.StatusOperating},
		)
	}
	if err := s.UpsertMatches(context.Background(), ms); err != nil {
		t.Fatal(err)
	}
}

func newOptimizer(s *store.InMemoryStore, stage adaptive.Stage) *Optimizer {
	return New(s, stageStub{stage}, fakeclock.NewFakeClock(now), time.UTC, DefaultConfig())
}

func TestPropose(t *testing.T) {
	s := store.NewInMemoryStore()
	seedMatches(t, s, 10, 35, 15)
	ctx := context.Background()

	p, err := newOptimizer(s, adaptive.Stages[0]).Propose(ctx, 30, models.MetricF1)
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if !p.Recorded() {
		t.Fatalf("expected a recorded proposal, got %+v", p)
	}
	if p.Result.Threshold != 20 {
		t.Errorf("grid best = %v, want 20", p.Result.Threshold)
	}
	want := models.ThresholdSet{High: 35, Medium: 20, Low: 10}
	if diff := cmp.Diff(want, p.Proposed); diff != "" {
		t.Errorf("proposed thresholds mismatch (-want +got):\n%s", diff)
	}
	if p.OldMetrics.F1 != 0 || p.ExpectedMetrics.F1 != 1 || p.Delta != 1 {
		t.Errorf("unexpected metrics old %+v new %+v delta %v", p.OldMetrics, p.ExpectedMetrics, p.Delta)
	}

	cur, _ := s.CurrentThresholds(ctx)
	if cur != models.DefaultThresholds() {
		t.Errorf("propose must not change thresholds, got %+v", cur)
	}
	stored, _ := s.GetAdjustment(ctx, p.Adjustment.ID)
	if stored == nil || stored.Kind != models.AdjustmentProposal || stored.DataPoints != 20 {
		t.Errorf("proposal not logged: %+v", stored)
	}
}

func TestPropose_StageTightening(t *testing.T) {
	s := store.NewInMemoryStore()
	seedMatches(t, s, 10, 35, 15)

	p, err := newOptimizer(s, adaptive.Stages[2]).Propose(context.Background(), 30, "")
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(p.Proposed.Medium-18) > 1e-9 || p.Adjustment.Stage != 2 {
		t.Errorf("expected tightened medium 18 at stage 2, got %+v", p.Proposed)
	}
	if err := p.Proposed.Validate(); err != nil {
		t.Errorf("proposed set out of order: %v", err)
	}
}

func TestPropose_NoImprovement(t *testing.T) {
	s := store.NewInMemoryStore()
	seedMatches(t, s, 10, 60, 20)

	p, err := newOptimizer(s, adaptive.Stages[0]).Propose(context.Background(), 30, models.MetricF1)
	if err != nil {
		t.Fatal(err)
	}
	if p.Recorded() || p.Delta >= 0.02 {
		t.Errorf("no proposal expected when current thresholds already separate, got %+v", p)
	}
	if log, _ := s.ListAdjustments(context.Background(), 0); len(log) != 0 {
		t.Errorf("nothing should be logged, got %d entries", len(log))
	}
}

func TestPropose_Insufficient(t *testing.T) {
	s := store.NewInMemoryStore()
	seedMatches(t, s, 5, 35, 15)

	p, err := newOptimizer(s, adaptive.Stages[0]).Propose(context.Background(), 30, models.MetricF1)
	if err != nil {
		t.Fatal(err)
	}
	if !p.Result.Insufficient || p.Recorded() {
		t.Errorf("expected insufficient result, got %+v", p)
	}
}

func TestAdopt(t *testing.T) {
	s := store.NewInMemoryStore()
	seedMatches(t, s, 10, 35, 15)
	ctx := context.Background()
	o := newOptimizer(s, adaptive.Stages[0])

	p, err := o.Propose(ctx, 30, models.MetricF1)
	if err != nil || !p.Recorded() {
		t.Fatalf("Propose: %v %+v", err, p)
	}
	// a second proposal made against the same thresholds
	second := *p.Adjustment
	second.ID = "second"
	if err := s.AppendAdjustment(ctx, second); err != nil {
		t.Fatal(err)
	}

	got, err := o.Adopt(ctx, p.Adjustment.ID)
	if err != nil {
		t.Fatalf("Adopt: %v", err)
	}
	if diff := cmp.Diff(p.Proposed, got); diff != "" {
		t.Errorf("adopted thresholds mismatch (-want +got):\n%s", diff)
	}
	if cur, _ := s.CurrentThresholds(ctx); cur != got {
		t.Errorf("current thresholds = %+v", cur)
	}
	log, _ := s.ListAdjustments(ctx, 1)
	if len(log) != 1 || log[0].Kind != models.AdjustmentAdoption || log[0].ProposalID != p.Adjustment.ID {
		t.Errorf("adoption not logged: %+v", log)
	}

	if _, err := o.Adopt(ctx, "second"); !errors.Is(err, apperrors.ErrStaleProposal) {
		t.Errorf("expected stale proposal, got %v", err)
	}
	if _, err := o.Adopt(ctx, "missing"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
	if _, err := o.Adopt(ctx, log[0].ID); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("adopting an adoption entry should be invalid, got %v", err)
	}
}

func TestPoints_AttachConditions(t *testing.T) {
	s := store.NewInMemoryStore()
	ctx := context.Background()
	d := now.AddDate(0, 0, -2)
	wind1, wind2, wave := 18.0, 12.0, 3.5
	_ = s.UpsertForecasts(ctx, []models.SailingForecast{
		{ForecastDate: d, RouteID: "wakkanai_kafuka", DepartureTime: "07:15", RiskScore: 60, WindSpeed: &wind1, WaveHeight: &wave},
		{ForecastDate: d, RouteID: "wakkanai_kafuka", DepartureTime: "12:00", RiskScore: 40, WindSpeed: &wind2},
		{ForecastDate: d, RouteID: "wakkanai_oshidomari", DepartureTime: "06:55", RiskScore: 30, WindSpeed: &wind2},
	})
	_ = s.UpsertMatches(ctx, []models.MatchedPrediction{
		{ForecastDate: d, RouteID: "wakkanai_kafuka", Granularity: models.GranularityRoute, RiskScore: 60, ActualCancellation: true},
		{ForecastDate: d, RouteID: "wakkanai_oshidomari", DepartureTime: "06:55", Granularity: models.GranularitySailing, RiskScore: 30},
	})

	pts, err := newOptimizer(s, adaptive.Stages[0]).Points(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if len(pts) != 2 {
		t.Fatalf("got %d points", len(pts))
	}
	for _, p := range pts {
		switch p.RouteID {
		case "wakkanai_kafuka":
			if p.WindSpeed == nil || *p.WindSpeed != 18 || p.WaveHeight == nil {
				t.Errorf("route-level point should use the representative forecast: %+v", p)
			}
		case "wakkanai_oshidomari":
			if p.WindSpeed == nil || *p.WindSpeed != 12 || p.WaveHeight != nil {
				t.Errorf("sailing point conditions wrong: %+v", p)
			}
		}
	}

	if _, err := newOptimizer(s, adaptive.Stages[0]).Points(ctx, 0); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("expected validation error, got %v", err)
	}
}
