package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"code.cloudfoundry.org/clock"
	"github.com/spf13/cobra"

	"github.com/rajasatyajit/ferrycast/config"
	"github.com/rajasatyajit/ferrycast/internal/logger"
	"github.com/rajasatyajit/ferrycast/internal/metrics"
)

type rootOptions struct {
	logLevel  string
	logFormat string
	clock     clock.Clock
	cfg       *config.Config
}

func newRootCmd() *cobra.Command {
	return newRootCommand(clock.NewClock())
}

func newRootCommand(clk clock.Clock) *cobra.Command {
	opts := &rootOptions{clock: clk}

	root := &cobra.Command{
		Use:           "ferrycast",
		Short:         "Ferry sailing cancellation-risk forecasts",
		Version:       fmt.Sprintf("%s (built %s, commit %s)", Version, BuildTime, GitCommit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if opts.logLevel != "" {
				cfg.Logging.Level = opts.logLevel
			}
			if opts.logFormat != "" {
				cfg.Logging.Format = opts.logFormat
			}
			logger.Init(cfg.Logging.Level, cfg.Logging.Format)
			if cfg.Metrics.Enabled {
				metrics.Init()
			}
			opts.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override LOG_LEVEL")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "override LOG_FORMAT (json or text)")

	root.AddCommand(
		newServeCmd(opts),
		newForecastCmd(opts),
		newScoreCmd(opts),
		newMatchCmd(opts),
		newEvaluateCmd(opts),
		newReportCmd(opts),
		newOptimizeCmd(opts),
		newAdoptCmd(opts),
		newStageCmd(opts),
		newTimetableCmd(opts),
		newOutcomesCmd(opts),
		newWeatherCmd(opts),
		newMigrateCmd(opts),
	)
	return root
}

// withApp wires the services for one command invocation and closes them
// afterwards.
func (o *rootOptions) withApp(ctx context.Context, fn func(a *app) error) error {
	a, err := newApp(ctx, o.cfg, o.clock)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
