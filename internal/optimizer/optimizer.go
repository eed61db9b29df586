// Package optimizer searches for a better medium cut-point over matched
// predictions and manages the proposal/adoption log.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/google/uuid"

	"github.com/rajasatyajit/ferrycast/config"
	"github.com/rajasatyajit/ferrycast/internal/adaptive"
	apperrors "github.com/rajasatyajit/ferrycast/internal/errors"
	"github.com/rajasatyajit/ferrycast/internal/logger"
	"github.com/rajasatyajit/ferrycast/internal/metrics"
	"github.com/rajasatyajit/ferrycast/internal/models"
	"github.com/rajasatyajit/ferrycast/pkg/utils"
)

// Point is one matched prediction with the conditions it was scored on.
type Point struct {
	Date          time.Time `json:"date"`
	RouteID       string    `json:"route_id"`
	DepartureTime string    `json:"departure_time"`
	Score         float64   `json:"score"`
	Predicted     bool      `json:"predicted"`
	Actual        bool      `json:"actual"`
	WindSpeed     *float64  `json:"wind_speed,omitempty"`
	WaveHeight    *float64  `json:"wave_height,omitempty"`
}

// Config tunes the search.
type Config struct {
	Metric         models.Metric
	MinDataPoints  int
	MinImprovement float64
	GridMin        float64
	GridMax        float64
	GridStep       float64
}

// DefaultConfig searches 10..90 in steps of 5 and needs 20 points.
func DefaultConfig() Config {
	return Config{
		Metric:         models.MetricF1,
		MinDataPoints:  20,
		MinImprovement: 0.02,
		GridMin:        10,
		GridMax:        90,
		GridStep:       5,
	}
}

// ConfigFrom maps application configuration onto the search config.
func ConfigFrom(cfg config.OptimizerConfig) (Config, error) {
	m, err := models.ParseMetric(cfg.Metric)
	if err != nil {
		return Config{}, apperrors.ValidationError{Field: "metric", Message: err.Error()}
	}
	return Config{
		Metric:         m,
		MinDataPoints:  cfg.MinDataPoints,
		MinImprovement: cfg.MinImprovement,
		GridMin:        cfg.GridMin,
		GridMax:        cfg.GridMax,
		GridStep:       cfg.GridStep,
	}, nil
}

// Result is the outcome of a grid search. When Insufficient is set the
// remaining fields are zero and Reason explains why.
type Result struct {
	Metric       models.Metric          `json:"metric"`
	Threshold    float64                `json:"threshold"`
	Value        float64                `json:"value"`
	Metrics      models.MetricSummary   `json:"metrics"`
	Confusion    models.ConfusionMatrix `json:"confusion"`
	DataPoints   int                    `json:"data_points"`
	Insufficient bool                   `json:"insufficient"`
	Reason       string                 `json:"reason,omitempty"`
}

// FindOptimalThreshold runs the search with the default grid.
func FindOptimalThreshold(points []Point, metric models.Metric) (Result, error) {
	return DefaultConfig().FindOptimalThreshold(points, metric)
}

// FindOptimalThreshold tries every grid candidate as the medium cut-point,
// predicting a cancellation when score >= candidate, and keeps the first
// candidate with the best value of metric.
func (c Config) FindOptimalThreshold(points []Point, metric models.Metric) (Result, error) {
	if metric == "" {
		metric = c.Metric
	}
	metric, err := models.ParseMetric(string(metric))
	if err != nil {
		return Result{}, apperrors.ValidationError{Field: "metric", Message: err.Error()}
	}
	if c.GridStep <= 0 || c.GridMax < c.GridMin {
		return Result{}, apperrors.ValidationError{Field: "grid", Message: fmt.Sprintf("invalid grid %g..%g step %g", c.GridMin, c.GridMax, c.GridStep)}
	}

	res := Result{Metric: metric, DataPoints: len(points)}
	if len(points) < c.MinDataPoints {
		res.Insufficient = true
		res.Reason = apperrors.InsufficientDataError{Operation: "threshold search", Have: len(points), Need: c.MinDataPoints}.Error()
		return res, nil
	}
	if singleClass(points) {
		res.Insufficient = true
		res.Reason = "all points share one outcome class"
		return res, nil
	}

	best := -1.0
	for i := 0; ; i++ {
		candidate := c.GridMin + float64(i)*c.GridStep
		if candidate > c.GridMax+1e-9 {
			break
		}
		cm := confusionAt(points, candidate)
		if v := cm.Metric(metric); v > best {
			best = v
			res.Threshold = candidate
			res.Value = v
			res.Confusion = cm
			res.Metrics = cm.Summary()
		}
	}
	return res, nil
}

func singleClass(points []Point) bool {
	for _, p := range points[1:] {
		if p.Actual != points[0].Actual {
			return false
		}
	}
	return true
}

// confusionAt classifies points with medium as the cut-point.
func confusionAt(points []Point, medium float64) models.ConfusionMatrix {
	var cm models.ConfusionMatrix
	for _, p := range points {
		cm.Add(math.Min(p.Score, 100) >= medium, p.Actual)
	}
	return cm
}

// Store is the persistence the optimizer needs.
type Store interface {
	QueryForecasts(ctx context.Context, q models.ForecastQuery) ([]models.SailingForecast, error)
	QueryMatches(ctx context.Context, from, until time.Time) ([]models.MatchedPrediction, error)
	CurrentThresholds(ctx context.Context) (models.ThresholdSet, error)
	AppendAdjustment(ctx context.Context, a models.ThresholdAdjustment) error
	AdoptThresholds(ctx context.Context, next models.ThresholdSet, entry models.ThresholdAdjustment) error
	GetAdjustment(ctx context.Context, id string) (*models.ThresholdAdjustment, error)
}

// StageSource reports the current maturity stage.
type StageSource interface {
	Current(ctx context.Context) (adaptive.Stage, error)
}

// Optimizer proposes and adopts threshold changes.
type Optimizer struct {
	store  Store
	stages StageSource
	clock  clock.Clock
	loc    *time.Location
	cfg    Config
	log    *slog.Logger
}

// New creates an optimizer. A nil stages source is treated as stage 0.
func New(s Store, stages StageSource, clk clock.Clock, loc *time.Location, cfg Config) *Optimizer {
	if clk == nil {
		clk = clock.NewClock()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Optimizer{store: s, stages: stages, clock: clk, loc: loc, cfg: cfg, log: logger.WithComponent("optimizer")}
}

// Points loads matched predictions dated within the last windowDays and
// attaches the worst-case conditions of the forecast each one came from.
func (o *Optimizer) Points(ctx context.Context, windowDays int) ([]Point, error) {
	if windowDays <= 0 {
		return nil, apperrors.ValidationError{Field: "window_days", Message: "must be positive"}
	}
	until := utils.DateIn(o.clock.Now(), o.loc)
	from := until.AddDate(0, 0, -windowDays)

	matches, err := o.store.QueryMatches(ctx, from, until)
	if err != nil {
		return nil, fmt.Errorf("load matches: %w", err)
	}
	forecasts, err := o.store.QueryForecasts(ctx, models.ForecastQuery{From: from, Until: until})
	if err != nil {
		return nil, fmt.Errorf("load forecasts: %w", err)
	}

	bySailing := make(map[string]models.SailingForecast, len(forecasts))
	byRouteDay := make(map[string]models.SailingForecast)
	for _, f := range forecasts {
		bySailing[f.Key().String()] = f
		rk := models.SailingKey{Date: utils.DateOnly(f.ForecastDate), RouteID: f.RouteID}.String()
		if cur, ok := byRouteDay[rk]; !ok || f.RiskScore > cur.RiskScore ||
			(f.RiskScore == cur.RiskScore && f.DepartureTime < cur.DepartureTime) {
			byRouteDay[rk] = f
		}
	}

	points := make([]Point, 0, len(matches))
	for _, m := range matches {
		p := Point{
			Date:          m.ForecastDate,
			RouteID:       m.RouteID,
			DepartureTime: m.DepartureTime,
			Score:         m.RiskScore,
			Predicted:     m.PredictedCancellation,
			Actual:        m.ActualCancellation,
		}
		idx := bySailing
		if m.Granularity == models.GranularityRoute {
			idx = byRouteDay
		}
		if f, ok := idx[m.Key().String()]; ok {
			p.WindSpeed, p.WaveHeight = f.WindSpeed, f.WaveHeight
		}
		points = append(points, p)
	}
	return points, nil
}

// Proposal is the result of Propose. Adjustment is set only when a
// proposal was recorded.
type Proposal struct {
	Result          Result                      `json:"result"`
	Stage           adaptive.Stage              `json:"stage"`
	Current         models.ThresholdSet         `json:"current"`
	Proposed        models.ThresholdSet         `json:"proposed"`
	OldMetrics      models.MetricSummary        `json:"old_metrics"`
	ExpectedMetrics models.MetricSummary        `json:"expected_metrics"`
	Delta           float64                     `json:"delta"`
	Adjustment      *models.ThresholdAdjustment `json:"adjustment,omitempty"`
}

// Recorded reports whether a proposal entry was appended.
func (p Proposal) Recorded() bool {
	return p.Adjustment != nil
}

// Propose searches for a better medium cut-point, applies the stage
// tightening factor, and records a proposal when the metric improves by
// at least MinImprovement. The current thresholds are never changed.
func (o *Optimizer) Propose(ctx context.Context, windowDays int, metric models.Metric) (Proposal, error) {
	if metric == "" {
		metric = o.cfg.Metric
	}
	points, err := o.Points(ctx, windowDays)
	if err != nil {
		return Proposal{}, err
	}
	current, err := o.store.CurrentThresholds(ctx)
	if err != nil {
		return Proposal{}, fmt.Errorf("load thresholds: %w", err)
	}
	stage := adaptive.Stages[0]
	if o.stages != nil {
		if stage, err = o.stages.Current(ctx); err != nil {
			return Proposal{}, fmt.Errorf("load stage: %w", err)
		}
	}

	res, err := o.cfg.FindOptimalThreshold(points, metric)
	if err != nil {
		return Proposal{}, err
	}
	p := Proposal{Result: res, Stage: stage, Current: current, Proposed: current}
	if res.Insufficient {
		o.log.Info("Skipping threshold proposal", "reason", res.Reason, "points", len(points), "window_days", windowDays)
		return p, nil
	}

	candidate := res.Threshold * stage.TighteningFactor
	proposed, err := current.Rescale(candidate)
	if err != nil {
		return p, fmt.Errorf("rescale thresholds: %w", err)
	}
	oldCM := confusionAt(points, current.Medium)
	newCM := confusionAt(points, candidate)
	p.Proposed = proposed
	p.OldMetrics = oldCM.Summary()
	p.ExpectedMetrics = newCM.Summary()
	p.Delta = p.ExpectedMetrics.Get(res.Metric) - p.OldMetrics.Get(res.Metric)

	if p.Delta < o.cfg.MinImprovement {
		o.log.Info("Threshold improvement below minimum", "metric", res.Metric, "current_medium", current.Medium,
			"candidate_medium", candidate, "delta", p.Delta, "min_improvement", o.cfg.MinImprovement)
		return p, nil
	}

	adj := models.ThresholdAdjustment{
		ID:              uuid.NewString(),
		Kind:            models.AdjustmentProposal,
		Old:             current,
		New:             proposed,
		Metric:          res.Metric,
		OldMetrics:      p.OldMetrics,
		ExpectedMetrics: p.ExpectedMetrics,
		ExpectedDelta:   p.Delta,
		DataPoints:      len(points),
		Stage:           stage.Number,
		Reason: fmt.Sprintf("%s %.3f -> %.3f at medium %.1f (grid best %.0f, stage %d factor %.2f)",
			res.Metric, p.OldMetrics.Get(res.Metric), p.ExpectedMetrics.Get(res.Metric), candidate,
			res.Threshold, stage.Number, stage.TighteningFactor),
		CreatedAt: o.clock.Now().UTC(),
	}
	if err := o.store.AppendAdjustment(ctx, adj); err != nil {
		return p, fmt.Errorf("record proposal: %w", err)
	}
	p.Adjustment = &adj
	o.log.Info("Threshold proposal recorded", "id", adj.ID, "metric", adj.Metric, "delta", adj.ExpectedDelta,
		"old_medium", current.Medium, "new_medium", proposed.Medium, "points", len(points), "stage", stage.Number)
	return p, nil
}

// Adopt makes the proposal with proposalID the current ThresholdSet. It
// fails with ErrStaleProposal when the thresholds changed after the
// proposal was made.
func (o *Optimizer) Adopt(ctx context.Context, proposalID string) (models.ThresholdSet, error) {
	prop, err := o.store.GetAdjustment(ctx, proposalID)
	if err != nil {
		return models.ThresholdSet{}, fmt.Errorf("load proposal: %w", err)
	}
	if prop == nil {
		return models.ThresholdSet{}, fmt.Errorf("proposal %s: %w", proposalID, apperrors.ErrNotFound)
	}
	if prop.Kind != models.AdjustmentProposal {
		return models.ThresholdSet{}, apperrors.ValidationError{Field: "id", Message: fmt.Sprintf("%s is an %s entry, not a proposal", proposalID, prop.Kind)}
	}

	next, err := prop.Old.Rescale(prop.New.Medium)
	if err != nil {
		return models.ThresholdSet{}, fmt.Errorf("rescale thresholds: %w", err)
	}
	entry := models.ThresholdAdjustment{
		ID:              uuid.NewString(),
		Kind:            models.AdjustmentAdoption,
		ProposalID:      prop.ID,
		Old:             prop.Old,
		New:             next,
		Metric:          prop.Metric,
		OldMetrics:      prop.OldMetrics,
		ExpectedMetrics: prop.ExpectedMetrics,
		ExpectedDelta:   prop.ExpectedDelta,
		DataPoints:      prop.DataPoints,
		Stage:           prop.Stage,
		Reason:          "adopted proposal " + prop.ID,
		CreatedAt:       o.clock.Now().UTC(),
	}
	if err := o.store.AdoptThresholds(ctx, next, entry); err != nil {
		if errors.Is(err, apperrors.ErrStaleProposal) {
			o.log.Warn("Rejected stale proposal", "id", prop.ID, "proposal_old_medium", prop.Old.Medium)
		}
		return models.ThresholdSet{}, fmt.Errorf("adopt proposal %s: %w", prop.ID, err)
	}

	metrics.SetThresholds(next.High, next.Medium, next.Low)
	o.log.Info("Thresholds adopted", "proposal", prop.ID, "high", next.High, "medium", next.Medium, "low", next.Low)
	return next, nil
}
