// Package bootstrap assembles the object graph shared by the api, worker and
// ctl binaries.
package bootstrap

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-lifecycle/internal/api/http/handlers"
	"github.com/spec-kit/ticket-lifecycle/internal/assignment"
	"github.com/spec-kit/ticket-lifecycle/internal/config"
	"github.com/spec-kit/ticket-lifecycle/internal/escalation"
	"github.com/spec-kit/ticket-lifecycle/internal/events"
	"github.com/spec-kit/ticket-lifecycle/internal/lifecycle"
	"github.com/spec-kit/ticket-lifecycle/internal/notify"
	"github.com/spec-kit/ticket-lifecycle/internal/observability"
	"github.com/spec-kit/ticket-lifecycle/internal/outbox"
	"github.com/spec-kit/ticket-lifecycle/internal/persistence"
	"github.com/spec-kit/ticket-lifecycle/internal/repository"
	"github.com/spec-kit/ticket-lifecycle/internal/repository/memstore"
	"github.com/spec-kit/ticket-lifecycle/internal/service"
	"github.com/spec-kit/ticket-lifecycle/internal/status"
	"github.com/spec-kit/ticket-lifecycle/internal/tat"
)

// Container holds the wired components.
type Container struct {
	Config     *config.Config
	Logger     *zap.Logger
	Metrics    *observability.Metrics
	Store      repository.Store
	Statuses   *status.Registry
	TAT        *tat.Engine
	Dispatcher *outbox.Dispatcher
	Sweeper    *escalation.Sweeper
	Reminder   *escalation.Reminder
	Tickets    *service.TicketService

	postgres *persistence.Postgres
	redis    *persistence.Redis
}

// Options tweaks what Build sets up.
type Options struct {
	// SkipMigrations leaves the schema untouched even when RunMigrations is set.
	SkipMigrations bool
}

// Build connects to the configured backends and wires every component.
// Without POSTGRES_DSN an in-memory store is used.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (*Container, error) {
	c := &Container{Config: cfg, Logger: logger, Metrics: observability.NewMetrics()}

	if cfg.Postgres.DSN == "" {
		if cfg.IsProduction() {
			return nil, fmt.Errorf("POSTGRES_DSN must be set in production")
		}
		logger.Warn("POSTGRES_DSN not provided; using in-memory store")
		c.Store = memstore.New()
	} else {
		pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		c.postgres = pg
		if cfg.Postgres.RunMigrations && !opts.SkipMigrations {
			if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
				c.Close()
				return nil, fmt.Errorf("run migrations: %w", err)
			}
		}
		c.Store = repository.NewPostgresStore(pg.PoolHandle())
	}
	c.redis = persistence.NewRedis(cfg.Redis, logger)

	statuses, err := status.Load(ctx, c.Store.Reference())
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("load statuses: %w", err)
	}
	c.Statuses = statuses

	calendar, err := tat.NewCalendar(cfg.Calendar)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("business calendar: %w", err)
	}
	c.TAT = tat.NewEngine(tat.NewParser(cfg.App.Location(), calendar), cfg.Escalation)

	registry := events.NewRegistry()
	renderer := notify.NewRenderer()
	notifier := notify.NewNotifier(
		c.Store,
		notify.NewSlackClient(cfg.Notification.Chat),
		notify.NewSMTPSender(cfg.Notification.Email, renderer),
		renderer,
		cfg.Notification,
		logger.Named("notify"),
	)
	notifier.RegisterHandlers(registry)
	c.Dispatcher = outbox.NewDispatcher(c.Store, registry, cfg.Outbox, logger.Named("outbox"), c.Metrics)

	deps := escalation.Deps{
		Store:    c.Store,
		Statuses: statuses,
		TAT:      c.TAT,
		Outbox:   outbox.New(),
		Kicker:   c.Dispatcher,
		Locker:   c.redis.Locker(),
		Logger:   logger.Named("escalation"),
		Metrics:  c.Metrics,
	}
	c.Sweeper = escalation.NewSweeper(deps, cfg.Escalation, cfg.Scheduler.LockTTL())
	c.Reminder = escalation.NewReminder(deps, cfg.Escalation.BatchSize, cfg.Scheduler.LockTTL())

	c.Tickets = service.NewTicketService(service.TicketDependencies{
		Store:     c.Store,
		Machine:   lifecycle.NewMachine(statuses, c.TAT),
		TAT:       c.TAT,
		Resolver:  assignment.NewResolver(c.Store.Reference(), cfg.Escalation.SuperAdminID),
		Outbox:    deps.Outbox,
		Kicker:    c.Dispatcher,
		Escalator: c.Sweeper,
		Logger:    logger.Named("tickets"),
	})
	return c, nil
}

// Pingers lists the backends checked by the readiness probe.
func (c *Container) Pingers() map[string]handlers.Pinger {
	out := map[string]handlers.Pinger{"store": c.Store}
	if c.redis != nil && c.redis.Client != nil {
		out["redis"] = c.redis
	}
	return out
}

// Postgres returns the connection wrapper, nil for the in-memory store.
func (c *Container) Postgres() *persistence.Postgres {
	return c.postgres
}

// Close waits for in-flight deliveries and releases connections.
func (c *Container) Close() {
	if c.Dispatcher != nil {
		c.Dispatcher.Wait()
	}
	c.redis.Close()
	if c.postgres != nil {
		c.postgres.Close()
	}
}
