package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/ticket-lifecycle/internal/api/http"
	"github.com/spec-kit/ticket-lifecycle/internal/api/http/handlers"
	"github.com/spec-kit/ticket-lifecycle/internal/auth"
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := bootstrap.Build(ctx, cfg, logger, bootstrap.Options{})
	if err != nil {
		logger.Fatal("failed to build application", zap.Error(err))
	}
	defer c.Close()

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, c.Metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, c.Pingers()),
		Tickets:        handlers.NewTicketsHandler(c.Tickets),
		Cron:           handlers.NewCronHandler(c.Sweeper, c.Reminder, c.Dispatcher),
		AuthMiddleware: auth.NewAuthMiddleware(tokens, c.Store.Users()),
		Scheduler:      auth.NewSchedulerGuard(cfg.Scheduler, cfg.IsProduction()),
		Metrics:        c.Metrics.Handler(),
	})

	var w *worker.Worker
	if cfg.Scheduler.InProcess {
		w = worker.New(worker.Deps{
			Sweeper:   c.Sweeper,
			Reminders: c.Reminder,
			Outbox:    c.Dispatcher,
			Logger:    logger.Named("worker"),
		}, cfg.Scheduler, cfg.Outbox.BatchSize, cfg.App.Location())
		if err := w.Start(ctx); err != nil {
			logger.Fatal("failed to start worker", zap.Error(err))
		}
	}

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
	if w != nil {
		w.Stop()
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
