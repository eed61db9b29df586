package store

import (
	"context"
	"time"

	"github.com/rajasatyajit/ferrycast/internal/models"
)

// TimetableStore persists seasonal timetable rows.
type TimetableStore interface {
	// UpsertTimetableEntries inserts entries, ignoring ones whose
	// (route, departure_time, season_label) already exists, and returns
	// how many were new.
	UpsertTimetableEntries(ctx context.Context, entries []models.TimetableEntry) (int, error)
	// ListTimetable returns matching entries ordered by departure time then route.
	ListTimetable(ctx context.Context, q models.TimetableQuery) ([]models.TimetableEntry, error)
	// DeactivateTimetableBefore marks active entries whose season ended
	// before cutoff inactive and returns how many changed.
	DeactivateTimetableBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// WeatherStore persists weather samples.
type WeatherStore interface {
	UpsertWeatherSamples(ctx context.Context, samples []models.WeatherSample) error
	WeatherSamples(ctx context.Context, location string, date time.Time, hour int) ([]models.WeatherSample, error)
}

// ForecastStore persists sailing forecasts keyed by (date, route, departure).
type ForecastStore interface {
	UpsertForecasts(ctx context.Context, forecasts []models.SailingForecast) error
	QueryForecasts(ctx context.Context, q models.ForecastQuery) ([]models.SailingForecast, error)
	GetForecast(ctx context.Context, key models.SailingKey) (*models.SailingForecast, error)
}

// OutcomeStore persists externally reported operational outcomes.
type OutcomeStore interface {
	UpsertOutcomes(ctx context.Context, outcomes []models.OutcomeRecord) error
	// QueryOutcomes returns outcomes with from <= date <= until, optionally for one route.
	QueryOutcomes(ctx context.Context, from, until time.Time, routeID string) ([]models.OutcomeRecord, error)
}

// MatchStore persists matched predictions.
type MatchStore interface {
	UpsertMatches(ctx context.Context, matches []models.MatchedPrediction) error
	QueryMatches(ctx context.Context, from, until time.Time) ([]models.MatchedPrediction, error)
	CountMatches(ctx context.Context) (int, error)
	// DeleteMatches removes the matches of one route day stored under
	// granularity g.
	DeleteMatches(ctx context.Context, date time.Time, routeID string, g models.Granularity) error
}

// SnapshotStore persists dated accuracy snapshots.
type SnapshotStore interface {
	UpsertSnapshot(ctx context.Context, s models.AccuracySnapshot) error
	// ListSnapshots returns the most recent snapshots first.
	ListSnapshots(ctx context.Context, limit int) ([]models.AccuracySnapshot, error)
}

// ThresholdStore holds the current ThresholdSet and the append-only
// adjustment log.
type ThresholdStore interface {
	// CurrentThresholds returns the adopted set, or the defaults if none was adopted.
	CurrentThresholds(ctx context.Context) (models.ThresholdSet, error)
	AppendAdjustment(ctx context.Context, a models.ThresholdAdjustment) error
	// AdoptThresholds makes next current and appends the adoption entry in one step.
	AdoptThresholds(ctx context.Context, next models.ThresholdSet, entry models.ThresholdAdjustment) error
	GetAdjustment(ctx context.Context, id string) (*models.ThresholdAdjustment, error)
	// ListAdjustments returns the most recent entries first.
	ListAdjustments(ctx context.Context, limit int) ([]models.ThresholdAdjustment, error)
}

// StageStore logs adaptive stage transitions.
type StageStore interface {
	LastStageTransition(ctx context.Context) (*models.StageTransition, error)
	AppendStageTransition(ctx context.Context, t models.StageTransition) error
	// ListStageTransitions returns the most recent transitions first.
	ListStageTransitions(ctx context.Context, limit int) ([]models.StageTransition, error)
}

// Store is the full persistence surface.
type Store interface {
	TimetableStore
	WeatherStore
	ForecastStore
	OutcomeStore
	MatchStore
	SnapshotStore
	ThresholdStore
	StageStore
	Health(ctx context.Context) error
}

// Database interface for dependency injection
type Database interface {
	Exec(ctx context.Context, sql string, args ...any) error
	Query(ctx context.Context, sql string, args ...any) (interface{}, error)
	QueryRow(ctx context.Context, sql string, args ...any) interface{}
	Health(ctx context.Context) error
	IsConfigured() bool
}

// New creates a new store instance
func New(db Database) Store {
	if db.IsConfigured() {
		return NewPostgresStore(db)
	}
	// Fallback to in-memory store if no database
	return NewInMemoryStore()
}
