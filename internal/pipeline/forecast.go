package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rajasatyajit/ferrycast/internal/adaptive"
	apperrors "github.com/rajasatyajit/ferrycast/internal/errors"
	"github.com/rajasatyajit/ferrycast/internal/logger"
	"github.com/rajasatyajit/ferrycast/internal/metrics"
	"github.com/rajasatyajit/ferrycast/internal/models"
	"github.com/rajasatyajit/ferrycast/internal/publisher"
	"github.com/rajasatyajit/ferrycast/pkg/utils"
)

// Schedule resolves the sailings of a date.
type Schedule interface {
	ActiveSailings(ctx context.Context, date time.Time) ([]models.SailingInstance, error)
	Today() time.Time
}

// Scorer scores one sailing against explicit thresholds.
type Scorer interface {
	Score(ctx context.Context, s models.SailingInstance, th models.ThresholdSet, ceiling float64) (models.SailingForecast, error)
}

// ForecastStore persists forecasts and provides the current thresholds.
type ForecastStore interface {
	CurrentThresholds(ctx context.Context) (models.ThresholdSet, error)
	UpsertForecasts(ctx context.Context, forecasts []models.SailingForecast) error
}

// StageSource reports the current maturity stage.
type StageSource interface {
	Current(ctx context.Context) (adaptive.Stage, error)
}

// ForecastSummary counts what one generation run did.
type ForecastSummary struct {
	From     time.Time                `json:"from"`
	Days     int                      `json:"days"`
	Sailings int                      `json:"sailings"`
	Stored   int                      `json:"stored"`
	Unknown  int                      `json:"unknown"`
	Failed   int                      `json:"failed"`
	Levels   map[models.RiskLevel]int `json:"levels"`
}

// Forecaster scores every scheduled sailing over a horizon.
type Forecaster struct {
	schedule  Schedule
	scorer    Scorer
	store     ForecastStore
	stages    StageSource
	publisher publisher.Publisher
	log       *slog.Logger
}

// NewForecaster creates a forecaster. stages and pub may be nil.
func NewForecaster(sched Schedule, scorer Scorer, s ForecastStore, stages StageSource, pub publisher.Publisher) *Forecaster {
	if pub == nil {
		pub = publisher.NoOp{}
	}
	return &Forecaster{schedule: sched, scorer: scorer, store: s, stages: stages, publisher: pub, log: logger.WithComponent("forecast")}
}

// Generate scores the sailings of days consecutive dates starting at from
// (today when zero) with the current thresholds and stage ceiling.
// UNKNOWN results are counted but not stored.
func (f *Forecaster) Generate(ctx context.Context, from time.Time, days int) (ForecastSummary, error) {
	if days <= 0 {
		return ForecastSummary{}, apperrors.ValidationError{Field: "days", Message: "must be positive"}
	}
	if from.IsZero() {
		from = f.schedule.Today()
	}
	from = utils.DateOnly(from)
	sum := ForecastSummary{From: from, Days: days, Levels: map[models.RiskLevel]int{}}

	th, err := f.store.CurrentThresholds(ctx)
	if err != nil {
		return sum, fmt.Errorf("load thresholds: %w", err)
	}
	stage := adaptive.Stages[0]
	if f.stages != nil {
		if stage, err = f.stages.Current(ctx); err != nil {
			return sum, fmt.Errorf("load stage: %w", err)
		}
	}

	var (
		out  []models.SailingForecast
		errs apperrors.MultiError
	)
	for i := 0; i < days; i++ {
		date := from.AddDate(0, 0, i)
		sailings, err := f.schedule.ActiveSailings(ctx, date)
		if err != nil {
			return sum, err
		}
		if len(sailings) == 0 {
			f.log.Warn("No sailings scheduled", "date", utils.FormatDate(date))
		}
		for _, s := range sailings {
			sum.Sailings++
			fc, err := f.scorer.Score(ctx, s, th, stage.ConfidenceCeiling)
			if err != nil {
				sum.Failed++
				errs.Add(fmt.Errorf("score %s: %w", s.Key(), err))
				continue
			}
			sum.Levels[fc.RiskLevel]++
			metrics.RecordForecast(string(fc.RiskLevel))
			if fc.RiskLevel == models.RiskUnknown {
				sum.Unknown++
				continue
			}
			out = append(out, fc)
		}
		if err := ctx.Err(); err != nil {
			return sum, err
		}
	}

	if len(out) > 0 {
		if err := f.store.UpsertForecasts(ctx, out); err != nil {
			return sum, fmt.Errorf("store forecasts: %w", err)
		}
		sum.Stored = len(out)
		if err := f.publisher.Publish(ctx, out); err != nil {
			f.log.Warn("Publishing forecasts failed", "count", len(out), "error", err)
		}
	}

	if errs.HasErrors() {
		f.log.Warn("Some sailings could not be scored", "failed", sum.Failed, "error", errs.ErrorOrNil())
		if sum.Stored == 0 && sum.Unknown == 0 {
			return sum, errs.ErrorOrNil()
		}
	}
	f.log.Info("Forecasts generated", "from", utils.FormatDate(from), "days", days, "sailings", sum.Sailings,
		"stored", sum.Stored, "unknown", sum.Unknown, "stage", stage.Number, "medium", th.Medium)
	return sum, nil
}
