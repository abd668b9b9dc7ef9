package handlers

import (
	"context"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-lifecycle/internal/api/dto"
	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/escalation"
	"github.com/spec-kit/ticket-lifecycle/internal/outbox"
)

// EscalationRunner runs one escalation sweep.
type EscalationRunner interface {
	Run(ctx context.Context) (escalation.Report, error)
}

// ReminderRunner runs one TAT reminder sweep.
type ReminderRunner interface {
	Run(ctx context.Context) (escalation.ReminderReport, error)
}

// OutboxDrainer delivers and inspects outbox rows.
type OutboxDrainer interface {
	Drain(ctx context.Context, limit int) (outbox.Result, error)
	ListExhausted(ctx context.Context, limit int) ([]domain.OutboxEvent, error)
}

// CronHandler exposes the scheduler trigger endpoints.
type CronHandler struct {
	sweeper   EscalationRunner
	reminders ReminderRunner
	drainer   OutboxDrainer
}

// NewCronHandler constructs handler.
func NewCronHandler(sweeper EscalationRunner, reminders ReminderRunner, drainer OutboxDrainer) *CronHandler {
	return &CronHandler{sweeper: sweeper, reminders: reminders, drainer: drainer}
}

// Escalations POST /internal/cron/escalations.
func (h *CronHandler) Escalations(c *fiber.Ctx) error {
	report, err := h.sweeper.Run(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": report})
}

// DrainOutbox POST /internal/cron/outbox/drain?limit=n.
func (h *CronHandler) DrainOutbox(c *fiber.Ctx) error {
	res, err := h.drainer.Drain(c.UserContext(), parseInt(c.Query("limit"), 0))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{
		"claimed":   res.Claimed,
		"delivered": res.Delivered,
		"failed":    res.Failed,
		"exhausted": res.Exhausted,
	}})
}

// TATReminders POST /internal/cron/tat-reminders.
func (h *CronHandler) TATReminders(c *fiber.Ctx) error {
	report, err := h.reminders.Run(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": report})
}

// Exhausted GET /internal/cron/outbox/exhausted.
func (h *CronHandler) Exhausted(c *fiber.Ctx) error {
	rows, err := h.drainer.ListExhausted(c.UserContext(), parseInt(c.Query("limit"), 50))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"data": dto.NewOutboxEventResponses(rows)})
}
