package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nikitakiselev/pushbot/internal/api"
	"github.com/nikitakiselev/pushbot/internal/broadcaster"
	"github.com/nikitakiselev/pushbot/internal/config"
	"github.com/nikitakiselev/pushbot/internal/metrics"
	"github.com/nikitakiselev/pushbot/internal/registry"
	"github.com/nikitakiselev/pushbot/internal/scheduler"
	"github.com/nikitakiselev/pushbot/internal/store"
	"github.com/nikitakiselev/pushbot/internal/telemetry"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook listener and deployment engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parentCtx context.Context) error {
	ctx, stop := signal.NotifyContext(parentCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	services, err := config.LoadServices(cfg.PushbotConfig)
	if err != nil {
		return fmt.Errorf("load services: %w", err)
	}

	gw, err := store.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer gw.Close()

	metrics.Register()

	tp := telemetry.Setup()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx, tp); err != nil {
			logger.Warn("shutdown tracer provider", zap.Error(err))
		}
	}()

	reg := registry.New(gw, logger)

	reconcileCtx, cancel := context.WithTimeout(ctx, cfg.ReconcileTimeout)
	defer cancel()
	if err := reg.Reconcile(reconcileCtx, services); err != nil {
		return fmt.Errorf("reconcile services: %w", err)
	}

	sched := scheduler.New(gw, gw, logger)
	bc := broadcaster.New(gw, sched)

	server := api.NewServer(api.Config{WebhookSecret: cfg.GitHubWebhookSecret}, gw, reg, sched, bc, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run(":" + cfg.APIPort)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutting down, waiting for live deployments to stop")
		sched.StopAll()
		return nil
	}
}
