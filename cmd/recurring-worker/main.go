package main

import (
	"context"
	"os"
	"time"

	"gastos/internal/backend"
	"gastos/internal/cli"
	applog "gastos/internal/log"
	"gastos/internal/services"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.MustLoadConfig()

	logger := cli.SetupLogger(cfg, applog.ComponentReplicator)
	logger.Info("Starting recurring-worker",
		applog.FieldBackend, cfg.DataBackend,
		applog.FieldShard, cfg.ReplicationShardIndex,
		applog.FieldShardCount, cfg.ReplicationShardCount)

	backendConfig, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", applog.FieldError, err)
		os.Exit(1)
	}

	result, err := backend.NewFactory(logger).CreateBackend(context.Background(), backendConfig)
	if err != nil {
		logger.Error("Failed to create backend", applog.FieldError, err)
		os.Exit(1)
	}

	scheduler := services.NewReplicationScheduler(result.Backend.Replicator, services.SchedulerConfig{
		Interval: cfg.RecurringInterval,
	})

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(shutdownCtx context.Context) {
		if err := scheduler.Stop(shutdownCtx); err != nil {
			logger.Error("Failed to stop replication scheduler", applog.FieldError, err)
		}
		if err := result.Cleanup(); err != nil {
			logger.Error("Failed to close backend", applog.FieldError, err)
		}
	})

	ctx = applog.NewContext(ctx, logger)
	if err := scheduler.Start(ctx); err != nil {
		logger.Error("Failed to start replication scheduler", applog.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Recurring replication scheduled", "interval", cfg.RecurringInterval)

	cli.WaitForShutdown(ctx, done)
}
