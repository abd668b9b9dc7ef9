package http

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/spec-kit/ticket-lifecycle/internal/api/http/handlers"
	"github.com/spec-kit/ticket-lifecycle/internal/auth"
	"github.com/spec-kit/ticket-lifecycle/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Tickets        *handlers.TicketsHandler
	Cron           *handlers.CronHandler
	AuthMiddleware *auth.AuthMiddleware
	Scheduler      *auth.SchedulerGuard
	Metrics        http.Handler
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics))
	}

	cron := app.Group("/internal/cron", cfg.Scheduler.Handle)
	cron.Post("/escalations", cfg.Cron.Escalations)
	cron.Post("/outbox/drain", cfg.Cron.DrainOutbox)
	cron.Post("/tat-reminders", cfg.Cron.TATReminders)
	cron.Get("/outbox/exhausted", cfg.Cron.Exhausted)

	tickets := app.Group("/api/v1/tickets", cfg.AuthMiddleware.Handle, auth.RequireRole())
	tickets.Post("/", cfg.Tickets.CreateTicket)
	tickets.Get("/", cfg.Tickets.ListTickets)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Get("/:id/history", cfg.Tickets.History)
	tickets.Post("/:id/status", cfg.Tickets.ChangeStatus)
	tickets.Post("/:id/comments", cfg.Tickets.AddComment)

	staff := auth.RequireRole(domain.RoleAdmin, domain.RoleSuperAdmin, domain.RoleCommittee)
	admins := auth.RequireRole(domain.RoleAdmin, domain.RoleSuperAdmin)
	tickets.Post("/:id/tat", staff, cfg.Tickets.SetTAT)
	tickets.Post("/:id/escalate", staff, cfg.Tickets.Escalate)
	tickets.Post("/:id/forward", admins, cfg.Tickets.Forward)
}
