package main

import (
	"context"
	"os"
	"time"

	"gastos/internal/backend"
	"gastos/internal/cli"
	applog "gastos/internal/log"
	"gastos/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.MustLoadConfig()

	logger := cli.SetupLogger(cfg, applog.ComponentWorker)
	logger.Info("Starting cache-evictor", "queue", cfg.AMQPQueue)

	backendConfig, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", applog.FieldError, err)
		os.Exit(1)
	}
	// The evictor consumes the queue, so it always needs the client even
	// when the publishers run in direct mode.
	backendConfig.Invalidation = backend.EventInvalidation
	if err := backendConfig.Validate(); err != nil {
		logger.Error("Invalid backend configuration", applog.FieldError, err)
		os.Exit(1)
	}

	result, err := backend.NewFactory(logger).CreateBackend(context.Background(), backendConfig)
	if err != nil {
		logger.Error("Failed to create backend", applog.FieldError, err)
		os.Exit(1)
	}
	b := result.Backend
	if b.Events == nil {
		result.Cleanup()
		logger.Error("AMQP broker unavailable, nothing to consume")
		os.Exit(1)
	}

	// Evictions go straight to the cache, never back onto the queue.
	evictor := worker.NewEvictionWorker(b.Events, b.Pages)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(context.Context) {
		processed, evicted := evictor.Stats()
		logger.Info("Cache evictor stopping", "processed", processed, "evicted", evicted)
		if err := result.Cleanup(); err != nil {
			logger.Error("Failed to close backend", applog.FieldError, err)
		}
	})

	// Run logs its own failures.
	go evictor.Run(applog.NewContext(ctx, logger))

	cli.WaitForShutdown(ctx, done)
}
