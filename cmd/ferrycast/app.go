package main

import (
	"context"
	"fmt"
	"time"

	"code.cloudfoundry.org/clock"

	"github.com/rajasatyajit/ferrycast/config"
	"github.com/rajasatyajit/ferrycast/internal/accuracy"
	"github.com/rajasatyajit/ferrycast/internal/adaptive"
	"github.com/rajasatyajit/ferrycast/internal/database"
	"github.com/rajasatyajit/ferrycast/internal/logger"
	"github.com/rajasatyajit/ferrycast/internal/optimizer"
	"github.com/rajasatyajit/ferrycast/internal/pipeline"
	"github.com/rajasatyajit/ferrycast/internal/publisher"
	"github.com/rajasatyajit/ferrycast/internal/risk"
	"github.com/rajasatyajit/ferrycast/internal/routes"
	"github.com/rajasatyajit/ferrycast/internal/schedule"
	"github.com/rajasatyajit/ferrycast/internal/store"
	"github.com/rajasatyajit/ferrycast/internal/weather"
)

// app holds the wired services shared by every command.
type app struct {
	cfg        *config.Config
	clock      clock.Clock
	db         *database.DB
	store      store.Store
	routes     *routes.Table
	schedule   *schedule.Model
	engine     *risk.Engine
	evaluator  *accuracy.Evaluator
	stages     *adaptive.Controller
	optimizer  *optimizer.Optimizer
	publisher  publisher.Publisher
	forecaster *pipeline.Forecaster
	runner     *pipeline.Runner
}

func newApp(ctx context.Context, cfg *config.Config, clk clock.Clock) (*app, error) {
	a := &app{cfg: cfg, clock: clk, routes: routes.Default()}
	loc := cfg.Forecast.Location()

	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	a.db = db
	if cfg.Database.AutoMigrate {
		if err := db.Migrate(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}
	a.store = store.New(db)

	opts := []schedule.Option{schedule.WithClock(clk), schedule.WithLocation(loc)}
	if cfg.Timetable.PatternFile != "" {
		patterns, err := schedule.LoadPatterns(cfg.Timetable.PatternFile)
		if err != nil {
			a.Close()
			return nil, err
		}
		opts = append(opts, schedule.WithPatterns(patterns))
	}
	if a.schedule, err = schedule.New(a.store, a.routes, opts...); err != nil {
		a.Close()
		return nil, fmt.Errorf("initialize schedule: %w", err)
	}

	src, err := weather.NewSource(cfg.Weather, a.store, a.routes, clk)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.engine = risk.NewEngine(src, a.routes, clk, risk.ConfigFrom(cfg))
	a.evaluator = accuracy.New(a.store, clk, loc)
	a.stages = adaptive.New(a.store, clk)

	optCfg, err := optimizer.ConfigFrom(cfg.Optimizer)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.optimizer = optimizer.New(a.store, a.stages, clk, loc, optCfg)

	if a.publisher, err = publisher.New(cfg.Redis); err != nil {
		a.Close()
		return nil, fmt.Errorf("initialize publisher: %w", err)
	}
	a.forecaster = pipeline.NewForecaster(a.schedule, a.engine, a.store, a.stages, a.publisher)
	a.runner = pipeline.NewRunner(pipeline.ConfigFrom(cfg.Jobs), clk, pipeline.StandardJobs(pipeline.Components{
		Forecaster: a.forecaster,
		Evaluator:  a.evaluator,
		Stages:     a.stages,
		Optimizer:  a.optimizer,
		Timetable:  a.schedule,
	}, cfg)...)
	return a, nil
}

// ensureTimetable seeds the timetable from the seasonal patterns when the
// store holds no entries at all, which is always the case for the
// in-memory store.
func (a *app) ensureTimetable(ctx context.Context) error {
	cov, err := a.schedule.Coverage(ctx, time.Time{}, 1)
	if err != nil {
		return err
	}
	if cov.CoveredUntil != nil {
		return nil
	}
	year := a.schedule.Today().Year()
	years := a.cfg.Timetable.PopulateYears
	if years < 1 {
		years = 1
	}
	n, err := a.schedule.Populate(ctx, year, year+years-1)
	if err != nil {
		return fmt.Errorf("seed timetable: %w", err)
	}
	logger.Info("Seeded empty timetable", "from_year", year, "years", years, "entries", n)
	return nil
}

func (a *app) Close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			logger.Warn("Failed to close publisher", "error", err)
		}
	}
	if a.db != nil {
		a.db.Close(context.Background())
	}
}
