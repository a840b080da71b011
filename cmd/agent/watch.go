package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/noahflow/agent/internal/api"
	"github.com/noahflow/agent/internal/config"
	"github.com/noahflow/agent/internal/history"
	"github.com/noahflow/agent/internal/intake"
	"github.com/noahflow/agent/internal/models"
)

const shutdownTimeout = 10 * time.Second

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the export folder and submit new files",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runWatch(cmd.Context(), cfg)
	},
}

func runWatch(parent context.Context, cfg *config.AppConfig) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	store, err := history.Open(cfg.History.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	queue := intake.NewQueue(cfg.Debounce(), log.Logger)
	if err := intake.LoadHistory(cfg.History.SnapshotPath, queue); err != nil {
		log.Warn().Err(err).Msg("could not restore intake history, starting fresh")
	}

	watcher := intake.NewWatcher(cfg.Watch.Folder, cfg.Watch.Extension, cfg.PollInterval(), queue, log.Logger)
	runner := intake.NewRunner(queue,
		func(path string) (*models.AutomationRequest, error) { return buildRequest(cfg, path) },
		func(runCtx context.Context, req *models.AutomationRequest) *models.Outcome {
			return runAutomation(runCtx, cfg, req)
		},
		store, cfg.History.SnapshotPath, log.Logger)

	e := echo.New()
	api.SetupMiddleware(e)
	e.Use(middleware.Recover())
	api.RegisterRoutes(e, api.NewHandlers(&api.Dependencies{
		Queue:   queue,
		Runs:    store,
		Version: Version,
	}))

	errCh := make(chan error, 3)
	go func() {
		if err := e.Start(cfg.ServerAddr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() { errCh <- watcher.Run(ctx) }()
	go func() { errCh <- runner.Run(ctx) }()

	log.Info().
		Str("folder", cfg.Watch.Folder).
		Str("addr", cfg.ServerAddr()).
		Str("version", Version).
		Msg("agent started")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("component failed")
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("server shutdown failed")
	}
	if err := intake.SaveHistory(cfg.History.SnapshotPath, queue); err != nil {
		log.Warn().Err(err).Msg("final history snapshot failed")
	}
	log.Info().Msg("agent stopped")
	return nil
}
