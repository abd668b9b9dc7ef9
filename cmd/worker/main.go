package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-lifecycle/internal/bootstrap"
	"github.com/spec-kit/ticket-lifecycle/internal/config"
	"github.com/spec-kit/ticket-lifecycle/internal/observability"
	"github.com/spec-kit/ticket-lifecycle/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := bootstrap.Build(ctx, cfg, logger, bootstrap.Options{SkipMigrations: true})
	if err != nil {
		logger.Fatal("failed to build application", zap.Error(err))
	}
	defer c.Close()

	w := worker.New(worker.Deps{
		Sweeper:   c.Sweeper,
		Reminders: c.Reminder,
		Outbox:    c.Dispatcher,
		Logger:    logger.Named("worker"),
	}, cfg.Scheduler, cfg.Outbox.BatchSize, cfg.App.Location())
	if err := w.Start(ctx); err != nil {
		logger.Fatal("failed to start worker", zap.Error(err))
	}

	<-ctx.Done()
	logger.Info("shutting down")
	w.Stop()
}
