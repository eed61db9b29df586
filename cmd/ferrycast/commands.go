package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	apperrors "github.com/rajasatyajit/ferrycast/internal/errors"
	"github.com/rajasatyajit/ferrycast/internal/models"
	"github.com/rajasatyajit/ferrycast/internal/optimizer"
	"github.com/rajasatyajit/ferrycast/pkg/utils"
)

// dateFlag parses an optional YYYY-MM-DD flag value.
func dateFlag(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	d, err := utils.ParseDate(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s: %w", name, err)
	}
	return d, nil
}

func newForecastCmd(opts *rootOptions) *cobra.Command {
	var from string
	var days int

	cmd := &cobra.Command{
		Use:   "forecast",
		Short: "Score every scheduled sailing over the horizon and store the forecasts",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := dateFlag("from", from)
			if err != nil {
				return err
			}
			if days == 0 {
				days = opts.cfg.Forecast.HorizonDays
			}
			return opts.withApp(cmd.Context(), func(a *app) error {
				if err := a.ensureTimetable(cmd.Context()); err != nil {
					return err
				}
				sum, err := a.forecaster.Generate(cmd.Context(), start, days)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), sum)
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first date (YYYY-MM-DD, default today)")
	cmd.Flags().IntVar(&days, "days", 0, "number of days (default FORECAST_HORIZON_DAYS)")
	return cmd
}

func newScoreCmd(opts *rootOptions) *cobra.Command {
	var in models.SailingInstance
	var date string

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score a single sailing without storing the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := dateFlag("date", date)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			return opts.withApp(ctx, func(a *app) error {
				if d.IsZero() {
					d = a.schedule.Today()
				}
				in.Date = d
				th, err := a.store.CurrentThresholds(ctx)
				if err != nil {
					return err
				}
				stage, err := a.stages.Current(ctx)
				if err != nil {
					return err
				}
				fc, err := a.engine.Score(ctx, in, th, stage.ConfidenceCeiling)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), fc)
			})
		},
	}
	cmd.Flags().StringVar(&in.RouteID, "route", "", "route id, e.g. wakkanai_oshidomari")
	cmd.Flags().StringVar(&date, "date", "", "sailing date (YYYY-MM-DD, default today)")
	cmd.Flags().StringVar(&in.DepartureTime, "departure", "", "departure time HH:MM")
	cmd.Flags().StringVar(&in.ArrivalTime, "arrival", "", "arrival time HH:MM")
	_ = cmd.MarkFlagRequired("route")
	_ = cmd.MarkFlagRequired("departure")
	return cmd
}

func newMatchCmd(opts *rootOptions) *cobra.Command {
	var lookback int

	cmd := &cobra.Command{
		Use:   "match",
		Short: "Join recent forecasts with recorded outcomes",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("lookback") {
				lookback = opts.cfg.Accuracy.LookbackDays
			}
			return opts.withApp(cmd.Context(), func(a *app) error {
				n, err := a.evaluator.Match(cmd.Context(), lookback)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]int{"matched": n, "lookback_days": lookback})
			})
		},
	}
	cmd.Flags().IntVar(&lookback, "lookback", 0, "days to look back (default ACCURACY_LOOKBACK_DAYS)")
	return cmd
}

func newEvaluateCmd(opts *rootOptions) *cobra.Command {
	var window int

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Compute and store an accuracy snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			if window == 0 {
				window = opts.cfg.Accuracy.WindowDays
			}
			return opts.withApp(cmd.Context(), func(a *app) error {
				snap, err := a.evaluator.Evaluate(cmd.Context(), window)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), snap)
			})
		},
	}
	cmd.Flags().IntVar(&window, "window", 0, "window in days (default ACCURACY_WINDOW_DAYS)")
	return cmd
}

func newReportCmd(opts *rootOptions) *cobra.Command {
	var days int
	var format string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print an accuracy report",
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "text" && format != "json" {
				return fmt.Errorf("--format must be text or json")
			}
			if days == 0 {
				days = opts.cfg.Accuracy.WindowDays
			}
			return opts.withApp(cmd.Context(), func(a *app) error {
				r, err := a.evaluator.Report(cmd.Context(), days)
				if err != nil {
					return err
				}
				if format == "json" {
					return printJSON(cmd.OutOrStdout(), r)
				}
				return r.WriteText(cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "window in days (default ACCURACY_WINDOW_DAYS)")
	cmd.Flags().StringVar(&format, "format", "text", "text or json")
	return cmd
}

func newOptimizeCmd(opts *rootOptions) *cobra.Command {
	var window int
	var metric string
	var adopt, heuristics bool

	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Search for a better medium threshold and record a proposal",
		RunE: func(cmd *cobra.Command, args []string) error {
			var m models.Metric
			if metric != "" {
				var err error
				if m, err = models.ParseMetric(metric); err != nil {
					return err
				}
			}
			if window == 0 {
				window = opts.cfg.Accuracy.WindowDays
			}
			ctx := cmd.Context()
			return opts.withApp(ctx, func(a *app) error {
				if heuristics {
					return printHeuristics(cmd, a, window)
				}
				p, err := a.optimizer.Propose(ctx, window, m)
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), p); err != nil {
					return err
				}
				if adopt && p.Recorded() {
					th, err := a.optimizer.Adopt(ctx, p.Adjustment.ID)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), map[string]interface{}{"adopted": p.Adjustment.ID, "thresholds": th})
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&window, "window", 0, "window in days (default ACCURACY_WINDOW_DAYS)")
	cmd.Flags().StringVar(&metric, "metric", "", "f1, accuracy, precision or recall (default OPTIMIZER_METRIC)")
	cmd.Flags().BoolVar(&adopt, "adopt", false, "adopt the proposal immediately when one is recorded")
	cmd.Flags().BoolVar(&heuristics, "heuristics", false, "print the error-averaging suggestion and wind/wave correlation instead")
	return cmd
}

func printHeuristics(cmd *cobra.Command, a *app, window int) error {
	points, err := a.optimizer.Points(cmd.Context(), window)
	if err != nil {
		return err
	}
	out := map[string]interface{}{
		"data_points": len(points),
		"suggestion":  optimizer.SuggestByErrorAveraging(points),
	}
	corr, err := optimizer.WindWaveCorrelation(points)
	switch {
	case err == nil:
		out["correlation"] = corr
	case errors.Is(err, apperrors.ErrInsufficientData):
		out["correlation_error"] = err.Error()
	default:
		return err
	}
	return printJSON(cmd.OutOrStdout(), out)
}

func newAdoptCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "adopt <proposal-id>",
		Short: "Adopt a recorded threshold proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), func(a *app) error {
				th, err := a.optimizer.Adopt(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), th)
			})
		},
	}
}

func newStageCmd(opts *rootOptions) *cobra.Command {
	var observe bool

	cmd := &cobra.Command{
		Use:   "stage",
		Short: "Show the adaptive stage, optionally recording a transition",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return opts.withApp(ctx, func(a *app) error {
				if observe {
					if _, _, err := a.stages.Observe(ctx); err != nil {
						return err
					}
				}
				st, err := a.stages.Status(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), st)
			})
		},
	}
	cmd.Flags().BoolVar(&observe, "observe", false, "record a transition if the observation count crossed a boundary")
	return cmd
}

func newTimetableCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "timetable",
		Short: "Manage seasonal timetable entries",
	}

	var fromYear, years int
	populate := &cobra.Command{
		Use:   "populate",
		Short: "Expand the seasonal patterns into timetable entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), func(a *app) error {
				if fromYear == 0 {
					fromYear = a.schedule.Today().Year()
				}
				if years == 0 {
					years = opts.cfg.Timetable.PopulateYears
				}
				n, err := a.schedule.Populate(cmd.Context(), fromYear, fromYear+years-1)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]int{"inserted": n})
			})
		},
	}
	populate.Flags().IntVar(&fromYear, "from-year", 0, "first year (default current year)")
	populate.Flags().IntVar(&years, "years", 0, "number of years (default TIMETABLE_POPULATE_YEARS)")

	var cutoff string
	deprecate := &cobra.Command{
		Use:   "deprecate",
		Short: "Mark seasons that ended before the cutoff inactive",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dateFlag("cutoff", cutoff)
			if err != nil {
				return err
			}
			return opts.withApp(cmd.Context(), func(a *app) error {
				n, err := a.schedule.Deprecate(cmd.Context(), c)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]int{"deactivated": n})
			})
		},
	}
	deprecate.Flags().StringVar(&cutoff, "cutoff", "", "cutoff date (YYYY-MM-DD, default yesterday)")

	var from string
	var days int
	coverage := &cobra.Command{
		Use:   "coverage",
		Short: "Check how far ahead the timetable reaches",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := dateFlag("from", from)
			if err != nil {
				return err
			}
			return opts.withApp(cmd.Context(), func(a *app) error {
				cov, err := a.schedule.Coverage(cmd.Context(), start, days)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), cov)
			})
		},
	}
	coverage.Flags().StringVar(&from, "from", "", "first date (YYYY-MM-DD, default today)")
	coverage.Flags().IntVar(&days, "days", 30, "number of days to check")

	cmd.AddCommand(populate, deprecate, coverage)
	return cmd
}

func readJSONFile(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func newOutcomesCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outcomes",
		Short: "Record observed sailing outcomes",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import <file.json>",
		Short: "Import a JSON array of outcomes; the file is rejected as a whole if any record is invalid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var inputs []models.OutcomeInput
			if err := readJSONFile(args[0], &inputs); err != nil {
				return err
			}
			return opts.withApp(cmd.Context(), func(a *app) error {
				now := a.clock.Now()
				records := make([]models.OutcomeRecord, 0, len(inputs))
				var errs apperrors.MultiError
				for i, in := range inputs {
					o, err := in.Record(now)
					if err == nil {
						if _, ok := a.routes.Lookup(o.RouteID); !ok {
							err = apperrors.ValidationError{Field: "route_id", Message: "unknown route " + o.RouteID}
						}
					}
					if err != nil {
						errs.Add(fmt.Errorf("outcome %d: %w", i, err))
						continue
					}
					records = append(records, o)
				}
				if err := errs.ErrorOrNil(); err != nil {
					return err
				}
				if err := a.store.UpsertOutcomes(cmd.Context(), records); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]int{"stored": len(records)})
			})
		},
	})
	return cmd
}

func newWeatherCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "weather",
		Short: "Manage stored weather samples",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import <file.json>",
		Short: "Import a JSON array of hourly weather samples",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var inputs []models.WeatherInput
			if err := readJSONFile(args[0], &inputs); err != nil {
				return err
			}
			return opts.withApp(cmd.Context(), func(a *app) error {
				now := a.clock.Now()
				samples := make([]models.WeatherSample, 0, len(inputs))
				var errs apperrors.MultiError
				for i, in := range inputs {
					s, err := in.Sample(now)
					if err != nil {
						errs.Add(fmt.Errorf("sample %d: %w", i, err))
						continue
					}
					samples = append(samples, s)
				}
				if err := errs.ErrorOrNil(); err != nil {
					return err
				}
				if err := a.store.UpsertWeatherSamples(cmd.Context(), samples); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]int{"stored": len(samples)})
			})
		},
	})
	return cmd
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), func(a *app) error {
				if !a.db.IsConfigured() {
					return fmt.Errorf("DATABASE_URL is not set")
				}
				if err := a.db.Migrate(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
				return nil
			})
		},
	}
}
