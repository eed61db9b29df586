// Package accuracy joins forecasts with observed outcomes and scores how
// well the forecasts predicted cancellations.
package accuracy

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"code.cloudfoundry.org/clock"
	"gonum.org/v1/gonum/stat"

	apperrors "github.com/rajasatyajit/ferrycast/internal/errors"
	"github.com/rajasatyajit/ferrycast/internal/logger"
	"github.com/rajasatyajit/ferrycast/internal/metrics"
	"github.com/rajasatyajit/ferrycast/internal/models"
	"github.com/rajasatyajit/ferrycast/pkg/utils"
)

// Store is the persistence the evaluator needs.
type Store interface {
	QueryForecasts(ctx context.Context, q models.ForecastQuery) ([]models.SailingForecast, error)
	QueryOutcomes(ctx context.Context, from, until time.Time, routeID string) ([]models.OutcomeRecord, error)
	UpsertMatches(ctx context.Context, matches []models.MatchedPrediction) error
	QueryMatches(ctx context.Context, from, until time.Time) ([]models.MatchedPrediction, error)
	DeleteMatches(ctx context.Context, date time.Time, routeID string, g models.Granularity) error
	UpsertSnapshot(ctx context.Context, s models.AccuracySnapshot) error
}

// Evaluator matches forecasts to outcomes and computes accuracy metrics.
type Evaluator struct {
	store Store
	clock clock.Clock
	loc   *time.Location
	log   *slog.Logger
}

// New creates an evaluator. loc is the zone "today" is evaluated in.
func New(s Store, clk clock.Clock, loc *time.Location) *Evaluator {
	if clk == nil {
		clk = clock.NewClock()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Evaluator{store: s, clock: clk, loc: loc, log: logger.WithComponent("accuracy")}
}

func (e *Evaluator) today() time.Time {
	return utils.DateIn(e.clock.Now(), e.loc)
}

type groupKey struct {
	date    string
	routeID string
}

type outcomeGroup struct {
	perSailing map[string]models.OperationStatus
	routeLevel *models.OperationStatus
}

// Match joins forecasts dated within the last lookbackDays (inclusive of
// today) with outcomes and upserts the matches. It returns how many
// matches were written.
//
// Within one (date, route) group, forecasts whose sailing has its own
// outcome are matched per sailing. When none does, a route status is
// derived from a route-level record or, failing that, by majority over
// the per-sailing records, and matched against the highest-scoring
// forecast of the group under an empty departure time.
func (e *Evaluator) Match(ctx context.Context, lookbackDays int) (int, error) {
	if lookbackDays < 0 {
		return 0, apperrors.ValidationError{Field: "lookback_days", Message: "must not be negative"}
	}
	until := e.today()
	from := until.AddDate(0, 0, -lookbackDays)

	forecasts, err := e.store.QueryForecasts(ctx, models.ForecastQuery{From: from, Until: until})
	if err != nil {
		return 0, fmt.Errorf("load forecasts: %w", err)
	}
	outcomes, err := e.store.QueryOutcomes(ctx, from, until, "")
	if err != nil {
		return 0, fmt.Errorf("load outcomes: %w", err)
	}

	outcomeIdx := make(map[groupKey]*outcomeGroup)
	for _, o := range outcomes {
		k := groupKey{utils.FormatDate(o.Date), o.RouteID}
		g := outcomeIdx[k]
		if g == nil {
			g = &outcomeGroup{perSailing: make(map[string]models.OperationStatus)}
			outcomeIdx[k] = g
		}
		if o.RouteLevel() {
			st := o.Status
			g.routeLevel = &st
		} else {
			g.perSailing[o.DepartureTime] = o.Status
		}
	}

	groups := make(map[groupKey][]models.SailingForecast)
	var order []groupKey
	for _, f := range forecasts {
		if f.RiskLevel == models.RiskUnknown {
			continue
		}
		k := groupKey{utils.FormatDate(f.ForecastDate), f.RouteID}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], f)
	}

	now := e.clock.Now().UTC()
	var matches []models.MatchedPrediction
	granularity := make(map[groupKey]models.Granularity)
	for _, k := range order {
		og := outcomeIdx[k]
		if og == nil {
			continue
		}
		group := groups[k]

		var exact []models.MatchedPrediction
		for _, f := range group {
			if st, ok := og.perSailing[f.DepartureTime]; ok {
				exact = append(exact, newMatch(f, f.DepartureTime, models.GranularitySailing, st, now))
			}
		}
		if len(exact) > 0 {
			matches = append(matches, exact...)
			granularity[k] = models.GranularitySailing
			continue
		}

		st, ok := routeStatus(og)
		if !ok {
			continue
		}
		matches = append(matches, newMatch(representative(group), "", models.GranularityRoute, st, now))
		granularity[k] = models.GranularityRoute
	}

	if err := e.replaceMixedGranularity(ctx, from, until, granularity); err != nil {
		return 0, err
	}

	if len(matches) == 0 {
		e.log.Info("No forecasts matched outcomes", "from", utils.FormatDate(from), "until", utils.FormatDate(until),
			"forecasts", len(forecasts), "outcomes", len(outcomes))
		return 0, nil
	}
	if err := e.store.UpsertMatches(ctx, matches); err != nil {
		return 0, fmt.Errorf("store matches: %w", err)
	}

	counts := map[models.Granularity]int{}
	for _, m := range matches {
		counts[m.Granularity]++
	}
	for g, n := range counts {
		metrics.RecordMatches(string(g), n)
	}
	e.log.Info("Matched forecasts to outcomes", "from", utils.FormatDate(from), "until", utils.FormatDate(until),
		"sailing", counts[models.GranularitySailing], "route", counts[models.GranularityRoute])
	return len(matches), nil
}

// replaceMixedGranularity deletes stored matches of a route day whose
// granularity differs from the one this run produced, so each route day
// is counted under one granularity only.
func (e *Evaluator) replaceMixedGranularity(ctx context.Context, from, until time.Time, now map[groupKey]models.Granularity) error {
	existing, err := e.store.QueryMatches(ctx, from, until)
	if err != nil {
		return fmt.Errorf("load existing matches: %w", err)
	}
	type stale struct {
		key groupKey
		g   models.Granularity
	}
	seen := make(map[stale]bool)
	for _, m := range existing {
		k := groupKey{utils.FormatDate(m.ForecastDate), m.RouteID}
		g, ok := now[k]
		if !ok || g == m.Granularity || seen[stale{k, m.Granularity}] {
			continue
		}
		seen[stale{k, m.Granularity}] = true
		e.log.Warn("Replacing matches of a different granularity",
			"date", k.date, "route", k.routeID, "stored", m.Granularity, "current", g,
			"error", apperrors.ErrInconsistentGranularity)
		if err := e.store.DeleteMatches(ctx, m.ForecastDate, m.RouteID, m.Granularity); err != nil {
			return err
		}
	}
	return nil
}

// routeStatus derives one status for a route day.
func routeStatus(g *outcomeGroup) (models.OperationStatus, bool) {
	if g.routeLevel != nil {
		return *g.routeLevel, true
	}
	if len(g.perSailing) == 0 {
		return "", false
	}
	cancelled := 0
	for _, st := range g.perSailing {
		if st == models.StatusCancelled {
			cancelled++
		}
	}
	if cancelled*2 > len(g.perSailing) {
		return models.StatusCancelled, true
	}
	return models.StatusOperating, true
}

// representative picks the highest-scoring forecast, earliest departure
// on ties.
func representative(group []models.SailingForecast) models.SailingForecast {
	best := group[0]
	for _, f := range group[1:] {
		if f.RiskScore > best.RiskScore || (f.RiskScore == best.RiskScore && f.DepartureTime < best.DepartureTime) {
			best = f
		}
	}
	return best
}

func newMatch(f models.SailingForecast, departure string, g models.Granularity, st models.OperationStatus, now time.Time) models.MatchedPrediction {
	predicted := f.RiskLevel.PredictsCancellation()
	actual := st.Disrupted()
	return models.MatchedPrediction{
		ForecastDate:          utils.DateOnly(f.ForecastDate),
		RouteID:               f.RouteID,
		DepartureTime:         departure,
		Granularity:           g,
		RiskLevel:             f.RiskLevel,
		RiskScore:             f.RiskScore,
		ActualStatus:          st,
		PredictedCancellation: predicted,
		ActualCancellation:    actual,
		Correct:               predicted == actual,
		FalsePositive:         predicted && !actual,
		FalseNegative:         !predicted && actual,
		Error:                 math.Abs(Probability(f.RiskScore) - boolToFloat(actual)),
		MatchedAt:             now,
	}
}

// Probability maps a risk score onto [0, 1].
func Probability(score float64) float64 {
	return math.Max(0, math.Min(score, 100)) / 100
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Evaluate computes metrics over matches dated within the last windowDays
// and upserts the snapshot for today. With no matches the snapshot is
// flagged insufficient.
func (e *Evaluator) Evaluate(ctx context.Context, windowDays int) (models.AccuracySnapshot, error) {
	if windowDays <= 0 {
		return models.AccuracySnapshot{}, apperrors.ValidationError{Field: "window_days", Message: "must be positive"}
	}
	until := e.today()
	matches, err := e.store.QueryMatches(ctx, until.AddDate(0, 0, -windowDays), until)
	if err != nil {
		return models.AccuracySnapshot{}, fmt.Errorf("load matches: %w", err)
	}

	snap := Compute(matches)
	snap.EvaluationDate = until
	snap.WindowDays = windowDays
	snap.CreatedAt = e.clock.Now().UTC()

	if snap.Insufficient {
		e.log.Warn("No matched predictions to evaluate", "window_days", windowDays,
			"error", apperrors.InsufficientDataError{Operation: "evaluate", Have: 0, Need: 1})
	} else {
		metrics.SetAccuracy(snap.Accuracy, snap.Precision, snap.Recall, snap.F1, snap.Calibration)
		e.log.Info("Evaluated accuracy", "window_days", windowDays, "total", snap.Total,
			"accuracy", snap.Accuracy, "precision", snap.Precision, "recall", snap.Recall, "f1", snap.F1)
	}

	if err := e.store.UpsertSnapshot(ctx, snap); err != nil {
		return snap, fmt.Errorf("store snapshot: %w", err)
	}
	return snap, nil
}

// Compute derives the snapshot metrics of matches. Dates are left unset.
func Compute(matches []models.MatchedPrediction) models.AccuracySnapshot {
	var snap models.AccuracySnapshot
	if len(matches) == 0 {
		snap.Insufficient = true
		return snap
	}

	errs := make([]float64, len(matches))
	sq := make([]float64, len(matches))
	for i, m := range matches {
		snap.Confusion.Add(m.PredictedCancellation, m.ActualCancellation)
		errs[i] = m.Error
		sq[i] = m.Error * m.Error
	}
	s := snap.Confusion.Summary()
	snap.Total = snap.Confusion.Total()
	snap.Accuracy, snap.Precision, snap.Recall, snap.F1 = s.Accuracy, s.Precision, s.Recall, s.F1
	snap.MAE = stat.Mean(errs, nil)
	snap.RMSE = math.Sqrt(stat.Mean(sq, nil))
	snap.Calibration = Calibration(matches)
	return snap
}

// Calibration scores agreement between predicted probability and observed
// cancellation frequency over ten equal-width bins, the last one closed at
// 1.0. It is 1.0 when every non-empty bin agrees exactly.
func Calibration(matches []models.MatchedPrediction) float64 {
	if len(matches) == 0 {
		return 0
	}
	var probs, actual [10][]float64
	for _, m := range matches {
		p := Probability(m.RiskScore)
		bin := int(p * 10)
		if bin > 9 {
			bin = 9
		}
		probs[bin] = append(probs[bin], p)
		actual[bin] = append(actual[bin], boolToFloat(m.ActualCancellation))
	}
	n := float64(len(matches))
	gap := 0.0
	for b := range probs {
		if len(probs[b]) == 0 {
			continue
		}
		weight := float64(len(probs[b])) / n
		gap += math.Abs(stat.Mean(probs[b], nil)-stat.Mean(actual[b], nil)) * weight
	}
	return 1 - gap
}
