package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rajasatyajit/ferrycast/internal/api"
	"github.com/rajasatyajit/ferrycast/internal/logger"
	"github.com/rajasatyajit/ferrycast/internal/metrics"
	middlewares "github.com/rajasatyajit/ferrycast/internal/middleware"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var port int
	var noJobs bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the scheduled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			if port != 0 {
				cfg.Server.Port = port
			}
			if noJobs {
				cfg.Jobs.Enabled = false
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return opts.withApp(ctx, func(a *app) error { return serve(ctx, a) })
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "override SERVER_PORT")
	cmd.Flags().BoolVar(&noJobs, "no-jobs", false, "do not run scheduled jobs")
	return cmd
}

func serve(ctx context.Context, a *app) error {
	cfg := a.cfg
	logger.Info("Starting ferrycast",
		"version", Version,
		"build_time", BuildTime,
		"git_commit", GitCommit,
	)

	if err := a.ensureTimetable(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      newRouter(a),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Jobs.Enabled {
		g.Go(func() error { return a.runner.Run(gctx) })
	}
	if cfg.Metrics.Enabled {
		go startMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path)
	}

	g.Go(func() error {
		logger.Info("Starting HTTP server", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server forced to shutdown", "error", err)
		}
		return nil
	})

	err := g.Wait()
	logger.Info("Server exited")
	return err
}

func newRouter(a *app) http.Handler {
	cfg := a.cfg
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewares.Logging)
	r.Use(middlewares.Metrics)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.Server.ReadTimeout))
	r.Use(middlewares.Security)
	r.Use(middlewares.CORS(cfg.Server.AllowedOrigins))
	r.Use(middlewares.RateLimit(cfg.Server.RateLimitPerMinute))

	h := api.NewHandler(api.Services{
		Store:     a.store,
		Routes:    a.routes,
		Schedule:  a.schedule,
		Scorer:    a.engine,
		Reporter:  a.evaluator,
		Stages:    a.stages,
		Optimizer: a.optimizer,
		Jobs:      a.runner,
	}, cfg.Admin.AdminSecret, Version, BuildTime, GitCommit)
	h.RegisterRoutes(r)
	return r
}

func startMetricsServer(port int, path string) {
	mux := http.NewServeMux()
	mux.Handle(path, metrics.Handler())

	addr := fmt.Sprintf(":%d", port)
	logger.Info("Starting metrics server", "address", addr, "path", path)

	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("Metrics server failed", "error", err)
	}
}
