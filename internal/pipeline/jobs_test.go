package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/rajasatyajit/ferrycast/config"
	"github.com/rajasatyajit/ferrycast/internal/adaptive"
	"github.com/rajasatyajit/ferrycast/internal/models"
	"github.com/rajasatyajit/ferrycast/internal/optimizer"
)

type mockEvaluator struct {
	MatchFn    func(ctx context.Context, lookbackDays int) (int, error)
	EvaluateFn func(ctx context.Context, windowDays int) (models.AccuracySnapshot, error)
}

func (m *mockEvaluator) Match(ctx context.Context, lookbackDays int) (int, error) {
	return m.MatchFn(ctx, lookbackDays)
}

func (m *mockEvaluator) Evaluate(ctx context.Context, windowDays int) (models.AccuracySnapshot, error) {
	return m.EvaluateFn(ctx, windowDays)
}

type mockObserver struct{ calls int }

func (m *mockObserver) Observe(context.Context) (adaptive.Stage, *models.StageTransition, error) {
	m.calls++
	return adaptive.Stages[0], nil, nil
}

type mockOptimizer struct {
	ProposeFn func(ctx context.Context, windowDays int, metric models.Metric) (optimizer.Proposal, error)
	adopted   []string
}

func (m *mockOptimizer) Propose(ctx context.Context, windowDays int, metric models.Metric) (optimizer.Proposal, error) {
	return m.ProposeFn(ctx, windowDays, metric)
}

func (m *mockOptimizer) Adopt(_ context.Context, id string) (models.ThresholdSet, error) {
	m.adopted = append(m.adopted, id)
	return models.DefaultThresholds(), nil
}

type mockDeprecator struct{ cutoff *time.Time }

func (m *mockDeprecator) Deprecate(_ context.Context, cutoff time.Time) (int, error) {
	m.cutoff = &cutoff
	return 0, nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Forecast.HorizonDays = 7
	cfg.Accuracy.LookbackDays = 7
	cfg.Accuracy.WindowDays = 30
	cfg.Optimizer.Metric = "f1"
	cfg.Jobs.MatchInterval = time.Hour
	return cfg
}

func TestStandardJobs(t *testing.T) {
	var lookback, window int
	eval := &mockEvaluator{
		MatchFn: func(_ context.Context, n int) (int, error) { lookback = n; return 0, nil },
		EvaluateFn: func(_ context.Context, n int) (models.AccuracySnapshot, error) {
			window = n
			return models.AccuracySnapshot{}, nil
		},
	}
	obs := &mockObserver{}
	dep := &mockDeprecator{}
	opt := &mockOptimizer{ProposeFn: func(context.Context, int, models.Metric) (optimizer.Proposal, error) {
		return optimizer.Proposal{}, nil
	}}
	forecaster := NewForecaster(&mockSchedule{ActiveSailingsFn: twoSailings}, &mockScorer{}, nil, nil, nil)
	jobs := StandardJobs(Components{Forecaster: forecaster, Evaluator: eval, Stages: obs, Optimizer: opt, Timetable: dep}, testConfig())

	r := NewRunner(Config{}, nil, jobs...)
	want := []string{JobDeprecate, JobEvaluate, JobForecast, JobMatch, JobOptimize, JobStage}
	got := r.Jobs()
	if len(got) != len(want) {
		t.Fatalf("jobs = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("jobs = %v, want %v", got, want)
		}
	}

	ctx := context.Background()
	for _, name := range []string{JobMatch, JobEvaluate, JobStage, JobDeprecate, JobOptimize} {
		if _, err := r.RunJob(ctx, name); err != nil {
			t.Errorf("%s: %v", name, err)
		}
	}
	if lookback != 7 || window != 30 || obs.calls != 1 || dep.cutoff == nil || !dep.cutoff.IsZero() {
		t.Errorf("jobs not wired: lookback %d window %d stage calls %d cutoff %v", lookback, window, obs.calls, dep.cutoff)
	}
	if len(opt.adopted) != 0 {
		t.Errorf("nothing to adopt")
	}
}

func TestOptimizeJob_AutoAdopt(t *testing.T) {
	proposal := optimizer.Proposal{Adjustment: &models.ThresholdAdjustment{ID: "p1", Kind: models.AdjustmentProposal}}
	tests := []struct {
		name      string
		autoAdopt bool
		want      int
	}{
		{"manual adoption", false, 0},
		{"auto adoption", true, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opt := &mockOptimizer{ProposeFn: func(_ context.Context, window int, metric models.Metric) (optimizer.Proposal, error) {
				if window != 30 || metric != models.MetricF1 {
					t.Errorf("propose called with %d %s", window, metric)
				}
				return proposal, nil
			}}
			cfg := testConfig()
			cfg.Optimizer.AutoAdopt = tt.autoAdopt
			if err := optimize(context.Background(), opt, cfg); err != nil {
				t.Fatal(err)
			}
			if len(opt.adopted) != tt.want {
				t.Errorf("adopted %v", opt.adopted)
			}
		})
	}
}
