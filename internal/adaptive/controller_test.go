package adaptive

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"

	"github.com/rajasatyajit/ferrycast/internal/models"
	"github.com/rajasatyajit/ferrycast/internal/store"
)

func TestStageFor(t *testing.T) {
	tests := []struct {
		count   int
		stage   int
		ceiling float64
	}{
		{-3, 0, 0.60},
		{0, 0, 0.60},
		{49, 0, 0.60},
		{50, 1, 0.70},
		{199, 1, 0.70},
		{200, 2, 0.85},
		{499, 2, 0.85},
		{500, 3, 0.90},
		{100000, 3, 0.90},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.count), func(t *testing.T) {
			s := StageFor(tt.count)
			if s.Number != tt.stage || s.ConfidenceCeiling != tt.ceiling {
				t.Errorf("StageFor(%d) = %+v", tt.count, s)
			}
			if again := StageFor(tt.count); again != s {
				t.Errorf("StageFor is not stable")
			}
		})
	}
}

func TestProgress(t *testing.T) {
	tests := []struct {
		count int
		want  float64
	}{
		{0, 0},
		{49, 1},
		{50, 0},
		{125, 75.0 / 149.0},
		{350, 150.0 / 299.0},
		{500, 1},
		{9000, 1},
	}
	for _, tt := range tests {
		if got := Progress(tt.count); got < tt.want-1e-9 || got > tt.want+1e-9 {
			t.Errorf("Progress(%d) = %v, want %v", tt.count, got, tt.want)
		}
	}
}

func addMatches(t *testing.T, s *store.InMemoryStore, from, n int) {
	t.Helper()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ms := make([]models.MatchedPrediction, 0, n)
	for i := from; i < from+n; i++ {
		ms = append(ms, models.MatchedPrediction{
			ForecastDate: base.AddDate(0, 0, i),
			RouteID:      "wakkanai_oshidomari",
			Granularity:  models.GranularityRoute,
			ActualStatus: models.StatusOperating,
		})
	}
	if err := s.UpsertMatches(context.Background(), ms); err != nil {
		t.Fatal(err)
	}
}

func TestObserve_TransitionLoggedOnce(t *testing.T) {
	s := store.NewInMemoryStore()
	clk := fakeclock.NewFakeClock(time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC))
	c := New(s, clk)
	ctx := context.Background()

	addMatches(t, s, 0, 49)
	stage, tr, err := c.Observe(ctx)
	if err != nil || stage.Number != 0 || tr != nil {
		t.Fatalf("at 49: stage %d transition %v err %v", stage.Number, tr, err)
	}

	addMatches(t, s, 49, 1)
	stage, tr, err = c.Observe(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stage.Number != 1 || tr == nil {
		t.Fatalf("at 50: stage %d transition %v", stage.Number, tr)
	}
	if tr.PreviousStage != 0 || tr.NewStage != 1 || tr.ObservationCount != 50 || !tr.TransitionedAt.Equal(clk.Now()) {
		t.Errorf("unexpected transition %+v", tr)
	}

	clk.Increment(time.Hour)
	if _, again, _ := c.Observe(ctx); again != nil {
		t.Errorf("second observation at 50 must not log a transition")
	}

	all, _ := s.ListStageTransitions(ctx, 0)
	if len(all) != 1 {
		t.Fatalf("expected exactly one transition, got %d", len(all))
	}
}

func TestStatus(t *testing.T) {
	s := store.NewInMemoryStore()
	addMatches(t, s, 0, 125)
	st, err := New(s, nil).Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.Stage.Number != 1 || st.Observations != 125 || st.Next == nil || st.Next.Number != 2 {
		t.Errorf("unexpected status %+v", st)
	}
	if want := 75.0 / 149.0; st.Progress < want-1e-9 || st.Progress > want+1e-9 {
		t.Errorf("progress = %v", st.Progress)
	}
}

type failingStore struct{ store.InMemoryStore }

func (f *failingStore) CountMatches(context.Context) (int, error) {
	return 0, errors.New("db down")
}

func TestCurrent_Error(t *testing.T) {
	c := New(&failingStore{}, nil)
	stage, err := c.Current(context.Background())
	if err == nil || stage.Number != 0 {
		t.Errorf("expected error and stage 0, got %v %v", stage, err)
	}
}
