package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/spf13/cobra"

	"github.com/sergeschumacher/hermes/internal/api"
	"github.com/sergeschumacher/hermes/internal/app"
	"github.com/sergeschumacher/hermes/internal/engine"
	"github.com/sergeschumacher/hermes/internal/infra/config"
	"github.com/sergeschumacher/hermes/internal/infra/logger"
	"github.com/sergeschumacher/hermes/internal/nntp"
	"github.com/sergeschumacher/hermes/internal/processor"
	"github.com/sergeschumacher/hermes/internal/store"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the download engine with its HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log.Path, logger.ParseLevel(cfg.Log.Level), cfg.Log.IncludeStdout)
	if err != nil {
		return err
	}

	db, err := store.New(cfg.Store.SQLitePath, cfg.Store.BlobDir)
	if err != nil {
		return err
	}
	defer db.Close()

	registry := nntp.NewRegistry(providersFromConfig(cfg), log, nntp.PoolOptions{
		AcquireTimeout: cfg.Pool.AcquireTimeout,
		CommandTimeout: cfg.Pool.CommandTimeout,
	})
	if err := registry.Init(ctx); err != nil {
		return err
	}
	defer registry.Close()

	orch := engine.New(ctx, registry, db, log, engine.Options{
		TempDir:            cfg.Download.TempDir,
		SegmentConcurrency: cfg.Download.SegmentConcurrency,
		RetryPasses:        cfg.Download.RetryPasses,
		FailureThreshold:   cfg.Download.FailureThreshold,
	})
	orch.SetPostProcessor(processor.NewMover(cfg.Download.OutDir, log))

	if err := orch.Resume(); err != nil {
		log.Warn("Could not resume unfinished jobs: %v", err)
	}

	appCtx := app.NewContext(cfg, log)
	appCtx.Engine = orch

	e := echo.New()
	api.RegisterRoutes(e, appCtx)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: e,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("HTTP shutdown: %v", err)
		}
	}

	return nil
}
