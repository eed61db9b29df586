package store

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/rajasatyajit/ferrycast/internal/errors"
	"github.com/rajasatyajit/ferrycast/internal/models"
)

type mockDB struct {
	ExecFn         func(ctx context.Context, sql string, args ...any) error
	QueryFn        func(ctx context.Context, sql string, args ...any) (interface{}, error)
	QueryRowFn     func(ctx context.Context, sql string, args ...any) interface{}
	HealthFn       func(ctx context.Context) error
	IsConfiguredFn func() bool
}

func (m *mockDB) Exec(ctx context.Context, sql string, args ...any) error {
	if m.ExecFn != nil {
		return m.ExecFn(ctx, sql, args...)
	}
	return nil
}

func (m *mockDB) Query(ctx context.Context, sql string, args ...any) (interface{}, error) {
	if m.QueryFn != nil {
		return m.QueryFn(ctx, sql, args...)
	}
	return nil, nil
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, args ...any) interface{} {
	if m.QueryRowFn != nil {
		return m.QueryRowFn(ctx, sql, args...)
	}
	return nil
}

func (m *mockDB) Health(ctx context.Context) error {
	if m.HealthFn != nil {
		return m.HealthFn(ctx)
	}
	return nil
}

func (m *mockDB) IsConfigured() bool {
	if m.IsConfiguredFn != nil {
		return m.IsConfiguredFn()
	}
	return true
}

// fakeRow scans vals into dest positionally, or fails with err.
type fakeRow struct {
	vals []any
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		if i >= len(r.vals) {
			break
		}
		switch p := d.(type) {
		case *int:
			*p = r.vals[i].(int)
		case *int64:
			*p = r.vals[i].(int64)
		case *bool:
			*p = r.vals[i].(bool)
		case *float64:
			*p = r.vals[i].(float64)
		case *string:
			*p = r.vals[i].(string)
		}
	}
	return nil
}

func TestPostgresStore_UpsertForecasts_Empty(t *testing.T) {
	called := false
	s := NewPostgresStore(&mockDB{QueryRowFn: func(ctx context.Context, sql string, args ...any) interface{} {
		called = true
		return fakeRow{}
	}})
	if err := s.UpsertForecasts(context.Background(), nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if called {
		t.Error("no statement expected for empty batch")
	}
}

func TestPostgresStore_UpsertForecasts_BuildsQueryAndPropagatesError(t *testing.T) {
	var gotSQL string
	var gotArgs []any
	db := &mockDB{QueryRowFn: func(ctx context.Context, sql string, args ...any) interface{} {
		gotSQL, gotArgs = sql, args
		return fakeRow{err: errors.New("exec failure")}
	}}
	s := NewPostgresStore(db)
	f := models.SailingForecast{ForecastDate: day(2026, 10, 17), RouteID: "wakkanai_kafuka", DepartureTime: "07:15",
		RiskLevel: models.RiskLow, Thresholds: models.DefaultThresholds()}
	err := s.UpsertForecasts(context.Background(), []models.SailingForecast{f})
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if !strings.Contains(gotSQL, "INSERT INTO sailing_forecasts") || !strings.Contains(gotSQL, "ON CONFLICT") {
		t.Errorf("unexpected SQL: %s", gotSQL)
	}
	if !strings.Contains(gotSQL, "$19") || len(gotArgs) != 19 {
		t.Errorf("expected 19 dollar placeholders, got %d args: %s", len(gotArgs), gotSQL)
	}
	// nil factor slices are written as empty arrays
	if factors, ok := gotArgs[6].([]string); !ok || factors == nil {
		t.Errorf("contributing_factors arg = %#v", gotArgs[6])
	}
}

func TestPostgresStore_QueryForecasts_Filters(t *testing.T) {
	var gotSQL string
	var gotArgs []any
	db := &mockDB{QueryFn: func(ctx context.Context, sql string, args ...any) (interface{}, error) {
		gotSQL, gotArgs = sql, args
		return nil, errors.New("db error")
	}}
	s := NewPostgresStore(db)
	_, err := s.QueryForecasts(context.Background(), models.ForecastQuery{
		From:     day(2026, 10, 1),
		RouteIDs: []string{"wakkanai_kafuka", "kafuka_wakkanai"},
		Levels:   []models.RiskLevel{models.RiskHigh},
		Limit:    10,
	})
	if err == nil || !strings.Contains(err.Error(), "query forecasts") {
		t.Fatalf("wrap missing: %v", err)
	}
	for _, want := range []string{"forecast_date >= $1", "route_id IN ($2,$3)", "risk_level IN ($4)", "LIMIT 10", "ORDER BY forecast_date"} {
		if !strings.Contains(gotSQL, want) {
			t.Errorf("SQL missing %q: %s", want, gotSQL)
		}
	}
	if len(gotArgs) != 4 {
		t.Errorf("expected 4 args, got %v", gotArgs)
	}
}

func TestPostgresStore_QueryForecasts_InvalidRowsType(t *testing.T) {
	db := &mockDB{QueryFn: func(ctx context.Context, sql string, args ...any) (interface{}, error) { return 123, nil }}
	s := NewPostgresStore(db)
	_, err := s.QueryForecasts(context.Background(), models.ForecastQuery{})
	if err == nil || !strings.Contains(err.Error(), "invalid rows type") {
		t.Errorf("got %v", err)
	}
}

func TestPostgresStore_GetForecast_InvalidRowType(t *testing.T) {
	db := &mockDB{QueryRowFn: func(ctx context.Context, sql string, args ...any) interface{} { return 123 }}
	s := NewPostgresStore(db)
	_, err := s.GetForecast(context.Background(), models.SailingKey{})
	if err == nil || !strings.Contains(err.Error(), "invalid row type") {
		t.Errorf("got %v", err)
	}
}

func TestPostgresStore_GetForecast_NoRows(t *testing.T) {
	db := &mockDB{QueryRowFn: func(ctx context.Context, sql string, args ...any) interface{} { return fakeRow{err: pgx.ErrNoRows} }}
	s := NewPostgresStore(db)
	res, err := s.GetForecast(context.Background(), models.SailingKey{RouteID: "missing"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res != nil {
		t.Fatalf("expected nil, got %+v", res)
	}
}

func TestPostgresStore_UpsertTimetableEntries_CountsInserted(t *testing.T) {
	calls := 0
	db := &mockDB{QueryRowFn: func(ctx context.Context, sql string, args ...any) interface{} {
		calls++
		if !strings.Contains(sql, "DO NOTHING RETURNING id") {
			t.Errorf("unexpected SQL: %s", sql)
		}
		if calls == 2 {
			return fakeRow{err: pgx.ErrNoRows}
		}
		return fakeRow{vals: []any{int64(calls)}}
	}}
	s := NewPostgresStore(db)
	entries := make([]models.TimetableEntry, 3)
	n, err := s.UpsertTimetableEntries(context.Background(), entries)
	if err != nil || n != 2 {
		t.Errorf("inserted = %d, %v; want 2", n, err)
	}
}

func TestPostgresStore_CurrentThresholds_DefaultsWhenAbsent(t *testing.T) {
	db := &mockDB{QueryRowFn: func(ctx context.Context, sql string, args ...any) interface{} { return fakeRow{err: pgx.ErrNoRows} }}
	got, err := NewPostgresStore(db).CurrentThresholds(context.Background())
	if err != nil || got != models.DefaultThresholds() {
		t.Errorf("got %+v, %v", got, err)
	}
}

func TestPostgresStore_AdoptThresholds(t *testing.T) {
	old := models.DefaultThresholds()
	next, _ := old.Rescale(45)
	entry := models.ThresholdAdjustment{ID: "a1", Kind: models.AdjustmentAdoption, ProposalID: "p1", Old: old, New: next}

	tests := []struct {
		name    string
		logged  int
		wantErr error
	}{
		{"swapped", 1, nil},
		{"stale", 0, apperrors.ErrStaleProposal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotSQL string
			var gotArgs []any
			db := &mockDB{QueryRowFn: func(ctx context.Context, sql string, args ...any) interface{} {
				gotSQL, gotArgs = sql, args
				return fakeRow{vals: []any{tt.logged}}
			}}
			err := NewPostgresStore(db).AdoptThresholds(context.Background(), next, entry)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if !strings.Contains(gotSQL, "INSERT INTO current_thresholds") || !strings.Contains(gotSQL, "INSERT INTO threshold_adjustments") {
				t.Errorf("adoption must be a single statement: %s", gotSQL)
			}
			if len(gotArgs) != 7+len(adjustmentColumns) {
				t.Errorf("arg count = %d", len(gotArgs))
			}
			if isDefault, _ := gotArgs[3].(bool); !isDefault {
				t.Errorf("expected default guard flag for default old set")
			}
		})
	}
}

func TestPostgresStore_AdoptThresholds_RejectsInvalidSet(t *testing.T) {
	db := &mockDB{QueryRowFn: func(ctx context.Context, sql string, args ...any) interface{} {
		t.Fatal("no statement expected for invalid thresholds")
		return nil
	}}
	err := NewPostgresStore(db).AdoptThresholds(context.Background(), models.ThresholdSet{High: 10, Medium: 20, Low: 5}, models.ThresholdAdjustment{})
	if !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestPostgresStore_CountMatches(t *testing.T) {
	db := &mockDB{QueryRowFn: func(ctx context.Context, sql string, args ...any) interface{} {
		if !strings.Contains(sql, "COUNT(*)") {
			t.Errorf("unexpected SQL: %s", sql)
		}
		return fakeRow{vals: []any{42}}
	}}
	n, err := NewPostgresStore(db).CountMatches(context.Background())
	if err != nil || n != 42 {
		t.Errorf("CountMatches = %d, %v", n, err)
	}
}

func TestPostgresStore_DeleteMatches(t *testing.T) {
	db := &mockDB{ExecFn: func(ctx context.Context, sql string, args ...any) error {
		if !strings.HasPrefix(sql, "DELETE FROM matched_predictions") || !strings.Contains(sql, "granularity = ") {
			t.Errorf("unexpected SQL: %s", sql)
		}
		if len(args) != 3 {
			t.Errorf("args = %v", args)
		}
		return nil
	}}
	if err := NewPostgresStore(db).DeleteMatches(context.Background(), day(2026, 10, 15), "wakkanai_oshidomari", models.GranularityRoute); err != nil {
		t.Errorf("DeleteMatches: %v", err)
	}
}

func TestPostgresStore_UpsertOutcomes_PropagatesError(t *testing.T) {
	db := &mockDB{ExecFn: func(ctx context.Context, sql string, args ...any) error {
		if !strings.Contains(sql, "INSERT INTO outcome_records") {
			t.Errorf("unexpected SQL: %s", sql)
		}
		return errors.New("exec failure")
	}}
	err := NewPostgresStore(db).UpsertOutcomes(context.Background(), []models.OutcomeRecord{{Date: day(2026, 10, 1), RouteID: "r"}})
	if err == nil || !strings.Contains(err.Error(), "upsert outcome") {
		t.Errorf("got %v", err)
	}
}

func TestPostgresStore_Health(t *testing.T) {
	want := errors.New("down")
	s := NewPostgresStore(&mockDB{HealthFn: func(ctx context.Context) error { return want }})
	if err := s.Health(context.Background()); !errors.Is(err, want) {
		t.Errorf("got %v", err)
	}
}
