package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	apperrors "github.com/rajasatyajit/ferrycast/internal/errors"
	"github.com/rajasatyajit/ferrycast/internal/logger"
	"github.com/rajasatyajit/ferrycast/internal/models"
	"github.com/rajasatyajit/ferrycast/pkg/utils"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var (
	timetableColumns = []string{
		"id", "route_id", "departure_time", "arrival_time", "season_label",
		"season_start_date", "season_end_date", "active", "created_at",
	}
	forecastColumns = []string{
		"forecast_date", "route_id", "departure_time", "arrival_time", "risk_level",
		"risk_score", "contributing_factors", "wind_speed", "wave_height", "visibility",
		"temperature", "defaults_applied", "sample_count", "confidence", "recommended_action",
		"threshold_high", "threshold_medium", "threshold_low", "generated_at",
	}
	matchColumns = []string{
		"forecast_date", "route_id", "departure_time", "granularity", "risk_level",
		"risk_score", "actual_status", "predicted_cancellation", "actual_cancellation",
		"correct", "false_positive", "false_negative", "error", "matched_at",
	}
	snapshotColumns = []string{
		"evaluation_date", "window_days", "tp", "fp", "fn", "tn", "total", "accuracy",
		"precision", "recall", "f1", "mae", "rmse", "calibration", "insufficient", "created_at",
	}
	adjustmentColumns = []string{
		"id", "kind", "proposal_id", "old_high", "old_medium", "old_low",
		"new_high", "new_medium", "new_low", "metric", "old_metrics", "expected_metrics",
		"expected_delta", "data_points", "stage", "reason", "created_at",
	}
	// adjustmentTypes casts the INSERT ... SELECT parameters of adoptSQL,
	// which Postgres cannot infer from the target table.
	adjustmentTypes = []string{
		"text", "text", "text", "float8", "float8", "float8",
		"float8", "float8", "float8", "text", "jsonb", "jsonb",
		"float8", "integer", "integer", "text", "timestamptz",
	}
	transitionColumns = []string{
		"id", "previous_stage", "new_stage", "observation_count", "transitioned_at",
	}
)

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db Database
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(db Database) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) query(ctx context.Context, b sq.Sqlizer) (pgx.Rows, error) {
	sql, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rowsInterface, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	rows, ok := rowsInterface.(pgx.Rows)
	if !ok {
		return nil, fmt.Errorf("invalid rows type")
	}
	return rows, nil
}

func (s *PostgresStore) queryRow(ctx context.Context, b sq.Sqlizer) (pgx.Row, error) {
	sql, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	row, ok := s.db.QueryRow(ctx, sql, args...).(pgx.Row)
	if !ok {
		return nil, fmt.Errorf("invalid row type")
	}
	return row, nil
}

func (s *PostgresStore) exec(ctx context.Context, b sq.Sqlizer) error {
	sql, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	return s.db.Exec(ctx, sql, args...)
}

// UpsertTimetableEntries inserts entries, skipping existing
// (route, departure, season) rows.
func (s *PostgresStore) UpsertTimetableEntries(ctx context.Context, entries []models.TimetableEntry) (int, error) {
	inserted := 0
	for _, e := range entries {
		row, err := s.queryRow(ctx, psql.Insert("timetable_entries").
			Columns("route_id", "departure_time", "arrival_time", "season_label", "season_start_date", "season_end_date", "active").
			Values(e.RouteID, e.DepartureTime, e.ArrivalTime, e.SeasonLabel, utils.DateOnly(e.SeasonStart), utils.DateOnly(e.SeasonEnd), e.Active).
			Suffix("ON CONFLICT (route_id, departure_time, season_label) DO NOTHING RETURNING id"))
		if err != nil {
			return inserted, err
		}
		var id int64
		if err := row.Scan(&id); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				continue
			}
			return inserted, fmt.Errorf("insert timetable entry %s %s %s: %w", e.RouteID, e.DepartureTime, e.SeasonLabel, err)
		}
		inserted++
	}
	return inserted, nil
}

// ListTimetable returns entries matching q ordered by departure time.
func (s *PostgresStore) ListTimetable(ctx context.Context, q models.TimetableQuery) ([]models.TimetableEntry, error) {
	b := psql.Select(timetableColumns...).From("timetable_entries")
	if q.ActiveOnly {
		b = b.Where(sq.Eq{"active": true})
	}
	if q.RouteID != "" {
		b = b.Where(sq.Eq{"route_id": q.RouteID})
	}
	if q.Date != nil {
		d := utils.DateOnly(*q.Date)
		b = b.Where(sq.LtOrEq{"season_start_date": d}).Where(sq.GtOrEq{"season_end_date": d})
	}
	b = b.OrderBy("departure_time", "route_id", "season_label")

	rows, err := s.query(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("query timetable: %w", err)
	}
	defer rows.Close()

	var entries []models.TimetableEntry
	for rows.Next() {
		var e models.TimetableEntry
		if err := rows.Scan(&e.ID, &e.RouteID, &e.DepartureTime, &e.ArrivalTime, &e.SeasonLabel,
			&e.SeasonStart, &e.SeasonEnd, &e.Active, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan timetable entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DeactivateTimetableBefore flags entries whose season ended before cutoff.
func (s *PostgresStore) DeactivateTimetableBefore(ctx context.Context, cutoff time.Time) (int, error) {
	row, err := s.queryRow(ctx, sq.Expr(
		"WITH updated AS (UPDATE timetable_entries SET active = FALSE WHERE active AND season_end_date < $1 RETURNING 1) SELECT COUNT(*) FROM updated",
		utils.DateOnly(cutoff)))
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("deactivate timetable: %w", err)
	}
	return n, nil
}

// UpsertWeatherSamples stores samples, replacing any with the same key.
func (s *PostgresStore) UpsertWeatherSamples(ctx context.Context, samples []models.WeatherSample) error {
	for _, w := range samples {
		collected := w.CollectedAt
		if collected.IsZero() {
			collected = time.Now().UTC()
		}
		err := s.exec(ctx, psql.Insert("weather_samples").
			Columns("location", "date", "hour", "source", "wind_speed", "wave_height", "visibility", "temperature", "collected_at").
			Values(w.Location, utils.DateOnly(w.Date), w.Hour, w.Source, w.WindSpeed, w.WaveHeight, w.Visibility, w.Temperature, collected).
			Suffix(`ON CONFLICT (location, date, hour, source) DO UPDATE SET
				wind_speed = EXCLUDED.wind_speed,
				wave_height = EXCLUDED.wave_height,
				visibility = EXCLUDED.visibility,
				temperature = EXCLUDED.temperature,
				collected_at = EXCLUDED.collected_at`))
		if err != nil {
			return fmt.Errorf("upsert weather sample %s %s %02d: %w", w.Location, utils.FormatDate(w.Date), w.Hour, err)
		}
	}
	return nil
}

// WeatherSamples returns every source's sample for one location hour.
func (s *PostgresStore) WeatherSamples(ctx context.Context, location string, date time.Time, hour int) ([]models.WeatherSample, error) {
	rows, err := s.query(ctx, psql.
		Select("location", "date", "hour", "source", "wind_speed", "wave_height", "visibility", "temperature", "collected_at").
		From("weather_samples").
		Where(sq.Eq{"location": location, "date": utils.DateOnly(date), "hour": hour}).
		OrderBy("source"))
	if err != nil {
		return nil, fmt.Errorf("query weather: %w", err)
	}
	defer rows.Close()

	var samples []models.WeatherSample
	for rows.Next() {
		var w models.WeatherSample
		if err := rows.Scan(&w.Location, &w.Date, &w.Hour, &w.Source, &w.WindSpeed, &w.WaveHeight,
			&w.Visibility, &w.Temperature, &w.CollectedAt); err != nil {
			return nil, fmt.Errorf("scan weather sample: %w", err)
		}
		samples = append(samples, w)
	}
	return samples, rows.Err()
}

// UpsertForecasts inserts or replaces forecasts by (date, route, departure).
func (s *PostgresStore) UpsertForecasts(ctx context.Context, forecasts []models.SailingForecast) error {
	log := logger.WithComponent("store")
	for _, f := range forecasts {
		factors := f.ContributingFactors
		if factors == nil {
			factors = []string{}
		}
		defaults := f.DefaultsApplied
		if defaults == nil {
			defaults = []string{}
		}
		row, err := s.queryRow(ctx, psql.Insert("sailing_forecasts").
			Columns(forecastColumns...).
			Values(utils.DateOnly(f.ForecastDate), f.RouteID, f.DepartureTime, f.ArrivalTime, string(f.RiskLevel),
				f.RiskScore, factors, f.WindSpeed, f.WaveHeight, f.Visibility,
				f.Temperature, defaults, f.SampleCount, f.Confidence, f.RecommendedAction,
				f.Thresholds.High, f.Thresholds.Medium, f.Thresholds.Low, f.GeneratedAt).
			Suffix(`ON CONFLICT (forecast_date, route_id, departure_time) DO UPDATE SET
				arrival_time = EXCLUDED.arrival_time,
				risk_level = EXCLUDED.risk_level,
				risk_score = EXCLUDED.risk_score,
				contributing_factors = EXCLUDED.contributing_factors,
				wind_speed = EXCLUDED.wind_speed,
				wave_height = EXCLUDED.wave_height,
				visibility = EXCLUDED.visibility,
				temperature = EXCLUDED.temperature,
				defaults_applied = EXCLUDED.defaults_applied,
				sample_count = EXCLUDED.sample_count,
				confidence = EXCLUDED.confidence,
				recommended_action = EXCLUDED.recommended_action,
				threshold_high = EXCLUDED.threshold_high,
				threshold_medium = EXCLUDED.threshold_medium,
				threshold_low = EXCLUDED.threshold_low,
				generated_at = EXCLUDED.generated_at
			RETURNING (xmax = 0)`))
		if err != nil {
			return err
		}
		var inserted bool
		if err := row.Scan(&inserted); err != nil {
			return fmt.Errorf("upsert forecast %s: %w", f.Key(), err)
		}
		if !inserted {
			log.Debug("Replaced existing forecast", "key", f.Key().String(), "risk_level", f.RiskLevel)
		}
	}
	return nil
}

func scanForecast(row pgx.Row) (models.SailingForecast, error) {
	var f models.SailingForecast
	var level string
	err := row.Scan(&f.ForecastDate, &f.RouteID, &f.DepartureTime, &f.ArrivalTime, &level,
		&f.RiskScore, &f.ContributingFactors, &f.WindSpeed, &f.WaveHeight, &f.Visibility,
		&f.Temperature, &f.DefaultsApplied, &f.SampleCount, &f.Confidence, &f.RecommendedAction,
		&f.Thresholds.High, &f.Thresholds.Medium, &f.Thresholds.Low, &f.GeneratedAt)
	f.RiskLevel = models.RiskLevel(level)
	return f, err
}

// QueryForecasts retrieves forecasts ordered by date, departure and route.
func (s *PostgresStore) QueryForecasts(ctx context.Context, q models.ForecastQuery) ([]models.SailingForecast, error) {
	b := psql.Select(forecastColumns...).From("sailing_forecasts")
	if !q.From.IsZero() {
		b = b.Where(sq.GtOrEq{"forecast_date": utils.DateOnly(q.From)})
	}
	if !q.Until.IsZero() {
		b = b.Where(sq.LtOrEq{"forecast_date": utils.DateOnly(q.Until)})
	}
	if len(q.RouteIDs) > 0 {
		b = b.Where(sq.Eq{"route_id": q.RouteIDs})
	}
	if len(q.Levels) > 0 {
		levels := make([]string, len(q.Levels))
		for i, l := range q.Levels {
			levels[i] = string(l)
		}
		b = b.Where(sq.Eq{"risk_level": levels})
	}
	b = b.OrderBy("forecast_date", "departure_time", "route_id")
	if q.Limit > 0 {
		b = b.Limit(uint64(q.Limit))
	}
	if q.Offset > 0 {
		b = b.Offset(uint64(q.Offset))
	}

	rows, err := s.query(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("query forecasts: %w", err)
	}
	defer rows.Close()

	var forecasts []models.SailingForecast
	for rows.Next() {
		f, err := scanForecast(rows)
		if err != nil {
			return nil, fmt.Errorf("scan forecast: %w", err)
		}
		forecasts = append(forecasts, f)
	}
	return forecasts, rows.Err()
}

// GetForecast returns the forecast for key, or nil when absent.
func (s *PostgresStore) GetForecast(ctx context.Context, key models.SailingKey) (*models.SailingForecast, error) {
	row, err := s.queryRow(ctx, psql.Select(forecastColumns...).From("sailing_forecasts").
		Where(sq.Eq{"forecast_date": utils.DateOnly(key.Date), "route_id": key.RouteID, "departure_time": key.DepartureTime}))
	if err != nil {
		return nil, err
	}
	f, err := scanForecast(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan forecast: %w", err)
	}
	return &f, nil
}

// UpsertOutcomes stores outcomes, replacing any with the same key.
func (s *PostgresStore) UpsertOutcomes(ctx context.Context, outcomes []models.OutcomeRecord) error {
	for _, o := range outcomes {
		recorded := o.RecordedAt
		if recorded.IsZero() {
			recorded = time.Now().UTC()
		}
		err := s.exec(ctx, psql.Insert("outcome_records").
			Columns("date", "route_id", "departure_time", "status", "source", "recorded_at").
			Values(utils.DateOnly(o.Date), o.RouteID, o.DepartureTime, string(o.Status), o.Source, recorded).
			Suffix(`ON CONFLICT (date, route_id, departure_time) DO UPDATE SET
				status = EXCLUDED.status,
				source = EXCLUDED.source,
				recorded_at = EXCLUDED.recorded_at`))
		if err != nil {
			return fmt.Errorf("upsert outcome %s %s %s: %w", utils.FormatDate(o.Date), o.RouteID, o.DepartureTime, err)
		}
	}
	return nil
}

// QueryOutcomes returns outcomes within [from, until].
func (s *PostgresStore) QueryOutcomes(ctx context.Context, from, until time.Time, routeID string) ([]models.OutcomeRecord, error) {
	b := psql.Select("date", "route_id", "departure_time", "status", "source", "recorded_at").From("outcome_records")
	if !from.IsZero() {
		b = b.Where(sq.GtOrEq{"date": utils.DateOnly(from)})
	}
	if !until.IsZero() {
		b = b.Where(sq.LtOrEq{"date": utils.DateOnly(until)})
	}
	if routeID != "" {
		b = b.Where(sq.Eq{"route_id": routeID})
	}
	rows, err := s.query(ctx, b.OrderBy("date", "route_id", "departure_time"))
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []models.OutcomeRecord
	for rows.Next() {
		var o models.OutcomeRecord
		var status string
		if err := rows.Scan(&o.Date, &o.RouteID, &o.DepartureTime, &status, &o.Source, &o.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		o.Status = models.OperationStatus(status)
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

// UpsertMatches stores matches, replacing any with the same key.
func (s *PostgresStore) UpsertMatches(ctx context.Context, matches []models.MatchedPrediction) error {
	for _, m := range matches {
		err := s.exec(ctx, psql.Insert("matched_predictions").
			Columns(matchColumns...).
			Values(utils.DateOnly(m.ForecastDate), m.RouteID, m.DepartureTime, string(m.Granularity), string(m.RiskLevel),
				m.RiskScore, string(m.ActualStatus), m.PredictedCancellation, m.ActualCancellation,
				m.Correct, m.FalsePositive, m.FalseNegative, m.Error, m.MatchedAt).
			Suffix(`ON CONFLICT (forecast_date, route_id, departure_time) DO UPDATE SET
				granularity = EXCLUDED.granularity,
				risk_level = EXCLUDED.risk_level,
				risk_score = EXCLUDED.risk_score,
				actual_status = EXCLUDED.actual_status,
				predicted_cancellation = EXCLUDED.predicted_cancellation,
				actual_cancellation = EXCLUDED.actual_cancellation,
				correct = EXCLUDED.correct,
				false_positive = EXCLUDED.false_positive,
				false_negative = EXCLUDED.false_negative,
				error = EXCLUDED.error,
				matched_at = EXCLUDED.matched_at`))
		if err != nil {
			return fmt.Errorf("upsert match %s: %w", m.Key(), err)
		}
	}
	return nil
}

// QueryMatches returns matches whose forecast date is within [from, until].
func (s *PostgresStore) QueryMatches(ctx context.Context, from, until time.Time) ([]models.MatchedPrediction, error) {
	b := psql.Select(matchColumns...).From("matched_predictions")
	if !from.IsZero() {
		b = b.Where(sq.GtOrEq{"forecast_date": utils.DateOnly(from)})
	}
	if !until.IsZero() {
		b = b.Where(sq.LtOrEq{"forecast_date": utils.DateOnly(until)})
	}
	rows, err := s.query(ctx, b.OrderBy("forecast_date", "route_id", "departure_time"))
	if err != nil {
		return nil, fmt.Errorf("query matches: %w", err)
	}
	defer rows.Close()

	var matches []models.MatchedPrediction
	for rows.Next() {
		var m models.MatchedPrediction
		var granularity, level, status string
		if err := rows.Scan(&m.ForecastDate, &m.RouteID, &m.DepartureTime, &granularity, &level,
			&m.RiskScore, &status, &m.PredictedCancellation, &m.ActualCancellation,
			&m.Correct, &m.FalsePositive, &m.FalseNegative, &m.Error, &m.MatchedAt); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		m.Granularity = models.Granularity(granularity)
		m.RiskLevel = models.RiskLevel(level)
		m.ActualStatus = models.OperationStatus(status)
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// DeleteMatches removes the matches of one route day stored under g.
func (s *PostgresStore) DeleteMatches(ctx context.Context, date time.Time, routeID string, g models.Granularity) error {
	err := s.exec(ctx, psql.Delete("matched_predictions").Where(sq.Eq{
		"forecast_date": utils.DateOnly(date),
		"route_id":      routeID,
		"granularity":   string(g),
	}))
	if err != nil {
		return fmt.Errorf("delete %s matches for %s %s: %w", g, routeID, utils.FormatDate(date), err)
	}
	return nil
}

// CountMatches returns the number of stored matches.
func (s *PostgresStore) CountMatches(ctx context.Context) (int, error) {
	row, err := s.queryRow(ctx, psql.Select("COUNT(*)").From("matched_predictions"))
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count matches: %w", err)
	}
	return n, nil
}

// UpsertSnapshot stores a snapshot keyed by evaluation date.
func (s *PostgresStore) UpsertSnapshot(ctx context.Context, snap models.AccuracySnapshot) error {
	created := snap.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	c := snap.Confusion
	err := s.exec(ctx, psql.Insert("accuracy_snapshots").
		Columns(snapshotColumns...).
		Values(utils.DateOnly(snap.EvaluationDate), snap.WindowDays, c.TP, c.FP, c.FN, c.TN, snap.Total, snap.Accuracy,
			snap.Precision, snap.Recall, snap.F1, snap.MAE, snap.RMSE, snap.Calibration, snap.Insufficient, created).
		Suffix(`ON CONFLICT (evaluation_date) DO UPDATE SET
			window_days = EXCLUDED.window_days,
			tp = EXCLUDED.tp, fp = EXCLUDED.fp, fn = EXCLUDED.fn, tn = EXCLUDED.tn,
			total = EXCLUDED.total,
			accuracy = EXCLUDED.accuracy,
			precision = EXCLUDED.precision,
			recall = EXCLUDED.recall,
			f1 = EXCLUDED.f1,
			mae = EXCLUDED.mae,
			rmse = EXCLUDED.rmse,
			calibration = EXCLUDED.calibration,
			insufficient = EXCLUDED.insufficient,
			created_at = EXCLUDED.created_at`))
	if err != nil {
		return fmt.Errorf("upsert snapshot %s: %w", utils.FormatDate(snap.EvaluationDate), err)
	}
	return nil
}

// ListSnapshots returns snapshots newest first.
func (s *PostgresStore) ListSnapshots(ctx context.Context, limit int) ([]models.AccuracySnapshot, error) {
	b := psql.Select(snapshotColumns...).From("accuracy_snapshots").OrderBy("evaluation_date DESC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	rows, err := s.query(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []models.AccuracySnapshot
	for rows.Next() {
		var a models.AccuracySnapshot
		c := &a.Confusion
		if err := rows.Scan(&a.EvaluationDate, &a.WindowDays, &c.TP, &c.FP, &c.FN, &c.TN, &a.Total, &a.Accuracy,
			&a.Precision, &a.Recall, &a.F1, &a.MAE, &a.RMSE, &a.Calibration, &a.Insufficient, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snaps = append(snaps, a)
	}
	return snaps, rows.Err()
}

// CurrentThresholds returns the adopted set or the defaults.
func (s *PostgresStore) CurrentThresholds(ctx context.Context) (models.ThresholdSet, error) {
	row, err := s.queryRow(ctx, psql.Select("high", "medium", "low").From("current_thresholds").Where(sq.Eq{"id": 1}))
	if err != nil {
		return models.ThresholdSet{}, err
	}
	var t models.ThresholdSet
	if err := row.Scan(&t.High, &t.Medium, &t.Low); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.DefaultThresholds(), nil
		}
		return models.ThresholdSet{}, fmt.Errorf("scan thresholds: %w", err)
	}
	return t, nil
}

func adjustmentValues(a models.ThresholdAdjustment) ([]any, error) {
	oldMetrics, err := json.Marshal(a.OldMetrics)
	if err != nil {
		return nil, err
	}
	expected, err := json.Marshal(a.ExpectedMetrics)
	if err != nil {
		return nil, err
	}
	created := a.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	return []any{
		a.ID, string(a.Kind), a.ProposalID, a.Old.High, a.Old.Medium, a.Old.Low,
		a.New.High, a.New.Medium, a.New.Low, string(a.Metric), oldMetrics, expected,
		a.ExpectedDelta, a.DataPoints, a.Stage, a.Reason, created,
	}, nil
}

// AppendAdjustment appends a log entry.
func (s *PostgresStore) AppendAdjustment(ctx context.Context, a models.ThresholdAdjustment) error {
	values, err := adjustmentValues(a)
	if err != nil {
		return fmt.Errorf("encode adjustment %s: %w", a.ID, err)
	}
	if err := s.exec(ctx, psql.Insert("threshold_adjustments").Columns(adjustmentColumns...).Values(values...)); err != nil {
		return fmt.Errorf("append adjustment %s: %w", a.ID, err)
	}
	return nil
}

// adoptSQL swaps the singleton row only while it still holds the expected
// old set (or is absent and the expected set is the default) and logs the
// adoption in the same statement.
const adoptSQL = `
WITH cur AS (
	SELECT high, medium, low FROM current_thresholds WHERE id = 1
), guard AS (
	SELECT COALESCE((SELECT high = $1::float8 AND medium = $2::float8 AND low = $3::float8 FROM cur), $4::boolean) AS ok
), swapped AS (
	INSERT INTO current_thresholds (id, high, medium, low, updated_at)
	SELECT 1, $5::float8, $6::float8, $7::float8, NOW() FROM guard WHERE ok
	ON CONFLICT (id) DO UPDATE SET
		high = EXCLUDED.high,
		medium = EXCLUDED.medium,
		low = EXCLUDED.low,
		updated_at = EXCLUDED.updated_at
	RETURNING 1
), logged AS (
	INSERT INTO threshold_adjustments (%s)
	SELECT %s FROM swapped
	RETURNING id
)
SELECT COUNT(*) FROM logged`

// AdoptThresholds swaps the current set and appends the adoption entry
// atomically. It returns ErrStaleProposal when the current set no longer
// equals entry.Old.
func (s *PostgresStore) AdoptThresholds(ctx context.Context, next models.ThresholdSet, entry models.ThresholdAdjustment) error {
	if err := next.Validate(); err != nil {
		return err
	}
	values, err := adjustmentValues(entry)
	if err != nil {
		return fmt.Errorf("encode adjustment %s: %w", entry.ID, err)
	}

	args := []any{entry.Old.High, entry.Old.Medium, entry.Old.Low, entry.Old == models.DefaultThresholds(),
		next.High, next.Medium, next.Low}
	placeholders := make([]string, len(values))
	for i := range values {
		placeholders[i] = fmt.Sprintf("$%d::%s", len(args)+i+1, adjustmentTypes[i])
	}
	args = append(args, values...)
	sql := fmt.Sprintf(adoptSQL, strings.Join(adjustmentColumns, ", "), strings.Join(placeholders, ", "))

	row, ok := s.db.QueryRow(ctx, sql, args...).(pgx.Row)
	if !ok {
		return fmt.Errorf("invalid row type")
	}
	var logged int
	if err := row.Scan(&logged); err != nil {
		return fmt.Errorf("adopt thresholds: %w", err)
	}
	if logged == 0 {
		return apperrors.ErrStaleProposal
	}
	return nil
}

func scanAdjustment(row pgx.Row) (models.ThresholdAdjustment, error) {
	var a models.ThresholdAdjustment
	var kind, metric string
	var oldMetrics, expected []byte
	if err := row.Scan(&a.ID, &kind, &a.ProposalID, &a.Old.High, &a.Old.Medium, &a.Old.Low,
		&a.New.High, &a.New.Medium, &a.New.Low, &metric, &oldMetrics, &expected,
		&a.ExpectedDelta, &a.DataPoints, &a.Stage, &a.Reason, &a.CreatedAt); err != nil {
		return a, err
	}
	a.Kind = models.AdjustmentKind(kind)
	a.Metric = models.Metric(metric)
	if err := json.Unmarshal(oldMetrics, &a.OldMetrics); err != nil {
		return a, fmt.Errorf("decode old_metrics: %w", err)
	}
	if err := json.Unmarshal(expected, &a.ExpectedMetrics); err != nil {
		return a, fmt.Errorf("decode expected_metrics: %w", err)
	}
	return a, nil
}

// GetAdjustment returns the entry with id, or nil when absent.
func (s *PostgresStore) GetAdjustment(ctx context.Context, id string) (*models.ThresholdAdjustment, error) {
	row, err := s.queryRow(ctx, psql.Select(adjustmentColumns...).From("threshold_adjustments").Where(sq.Eq{"id": id}))
	if err != nil {
		return nil, err
	}
	a, err := scanAdjustment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan adjustment: %w", err)
	}
	return &a, nil
}

// ListAdjustments returns entries newest first.
func (s *PostgresStore) ListAdjustments(ctx context.Context, limit int) ([]models.ThresholdAdjustment, error) {
	b := psql.Select(adjustmentColumns...).From("threshold_adjustments").OrderBy("created_at DESC", "id DESC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	rows, err := s.query(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("query adjustments: %w", err)
	}
	defer rows.Close()

	var out []models.ThresholdAdjustment
	for rows.Next() {
		a, err := scanAdjustment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan adjustment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanTransition(row pgx.Row) (models.StageTransition, error) {
	var t models.StageTransition
	err := row.Scan(&t.ID, &t.PreviousStage, &t.NewStage, &t.ObservationCount, &t.TransitionedAt)
	return t, err
}

// LastStageTransition returns the latest transition, or nil when none.
func (s *PostgresStore) LastStageTransition(ctx context.Context) (*models.StageTransition, error) {
	row, err := s.queryRow(ctx, psql.Select(transitionColumns...).From("stage_transitions").
		OrderBy("transitioned_at DESC").Limit(1))
	if err != nil {
		return nil, err
	}
	t, err := scanTransition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan stage transition: %w", err)
	}
	return &t, nil
}

// AppendStageTransition appends a transition.
func (s *PostgresStore) AppendStageTransition(ctx context.Context, t models.StageTransition) error {
	err := s.exec(ctx, psql.Insert("stage_transitions").Columns(transitionColumns...).
		Values(t.ID, t.PreviousStage, t.NewStage, t.ObservationCount, t.TransitionedAt))
	if err != nil {
		return fmt.Errorf("append stage transition: %w", err)
	}
	return nil
}

// ListStageTransitions returns transitions newest first.
func (s *PostgresStore) ListStageTransitions(ctx context.Context, limit int) ([]models.StageTransition, error) {
	b := psql.Select(transitionColumns...).From("stage_transitions").OrderBy("transitioned_at DESC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	rows, err := s.query(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("query stage transitions: %w", err)
	}
	defer rows.Close()

	var out []models.StageTransition
	for rows.Next() {
		t, err := scanTransition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stage transition: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Health checks the database connection
func (s *PostgresStore) Health(ctx context.Context) error {
	return s.db.Health(ctx)
}
