package pipeline

import (
	"context"
	"time"

	"github.com/rajasatyajit/ferrycast/config"
	"github.com/rajasatyajit/ferrycast/internal/adaptive"
	"github.com/rajasatyajit/ferrycast/internal/logger"
	"github.com/rajasatyajit/ferrycast/internal/models"
	"github.com/rajasatyajit/ferrycast/internal/optimizer"
)

// Job names.
const (
	JobForecast  = "forecast"
	JobMatch     = "match"
	JobEvaluate  = "evaluate"
	JobStage     = "stage"
	JobOptimize  = "optimize"
	JobDeprecate = "deprecate"
)

// Evaluator matches forecasts to outcomes and records snapshots.
type Evaluator interface {
	Match(ctx context.Context, lookbackDays int) (int, error)
	Evaluate(ctx context.Context, windowDays int) (models.AccuracySnapshot, error)
}

// StageObserver records stage transitions.
type StageObserver interface {
	Observe(ctx context.Context) (adaptive.Stage, *models.StageTransition, error)
}

// Optimizer proposes and adopts thresholds.
type Optimizer interface {
	Propose(ctx context.Context, windowDays int, metric models.Metric) (optimizer.Proposal, error)
	Adopt(ctx context.Context, proposalID string) (models.ThresholdSet, error)
}

// Deprecator retires ended timetable seasons.
type Deprecator interface {
	Deprecate(ctx context.Context, cutoff time.Time) (int, error)
}

// Components are the services the standard jobs drive.
type Components struct {
	Forecaster *Forecaster
	Evaluator  Evaluator
	Stages     StageObserver
	Optimizer  Optimizer
	Timetable  Deprecator
}

// StandardJobs builds the six batch jobs from cfg. Components left nil
// get no job.
func StandardJobs(c Components, cfg *config.Config) []Job {
	var jobs []Job
	if c.Forecaster != nil {
		jobs = append(jobs, NewJob(JobForecast, cfg.Jobs.ForecastInterval, func(ctx context.Context) error {
			_, err := c.Forecaster.Generate(ctx, time.Time{}, cfg.Forecast.HorizonDays)
			return err
		}))
	}
	if c.Evaluator != nil {
		jobs = append(jobs,
			NewJob(JobMatch, cfg.Jobs.MatchInterval, func(ctx context.Context) error {
				_, err := c.Evaluator.Match(ctx, cfg.Accuracy.LookbackDays)
				return err
			}),
			NewJob(JobEvaluate, cfg.Jobs.EvaluateInterval, func(ctx context.Context) error {
				_, err := c.Evaluator.Evaluate(ctx, cfg.Accuracy.WindowDays)
				return err
			}),
		)
	}
	if c.Stages != nil {
		jobs = append(jobs, NewJob(JobStage, cfg.Jobs.StageInterval, func(ctx context.Context) error {
			_, _, err := c.Stages.Observe(ctx)
			return err
		}))
	}
	if c.Optimizer != nil {
		jobs = append(jobs, NewJob(JobOptimize, cfg.Jobs.OptimizeInterval, func(ctx context.Context) error {
			return optimize(ctx, c.Optimizer, cfg)
		}))
	}
	if c.Timetable != nil {
		jobs = append(jobs, NewJob(JobDeprecate, cfg.Jobs.DeprecateInterval, func(ctx context.Context) error {
			_, err := c.Timetable.Deprecate(ctx, time.Time{})
			return err
		}))
	}
	return jobs
}

func optimize(ctx context.Context, o Optimizer, cfg *config.Config) error {
	p, err := o.Propose(ctx, cfg.Accuracy.WindowDays, models.Metric(cfg.Optimizer.Metric))
	if err != nil {
		return err
	}
	if !p.Recorded() || !cfg.Optimizer.AutoAdopt {
		return nil
	}
	th, err := o.Adopt(ctx, p.Adjustment.ID)
	if err != nil {
		return err
	}
	logger.WithContext(ctx).Info("Auto-adopted threshold proposal", "id", p.Adjustment.ID, "medium", th.Medium)
	return nil
}
