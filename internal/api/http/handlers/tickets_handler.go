package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-lifecycle/internal/api/dto"
	"github.com/spec-kit/ticket-lifecycle/internal/auth"
	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/service"
	"github.com/spec-kit/ticket-lifecycle/internal/tat"
	apperrors "github.com/spec-kit/ticket-lifecycle/pkg/util/errorutil"
)

// TicketsHandler exposes the actor ticket API.
type TicketsHandler struct {
	service *service.TicketService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(ticketService *service.TicketService) *TicketsHandler {
	return &TicketsHandler{service: ticketService}
}

// CreateTicket POST /tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	var req dto.CreateTicketRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	ticket, err := h.service.CreateTicket(c.UserContext(), actor, service.CreateTicketInput{
		CategoryID:       req.CategoryID,
		SubcategoryID:    req.SubcategoryID,
		SubSubcategoryID: req.SubSubcategoryID,
		Description:      req.Description,
		Location:         req.Location,
		Fields:           req.Fields,
		GroupID:          req.GroupID,
		ScopeTags:        req.ScopeTags,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": ticketResponse(ticket)})
}

// ListTickets GET /tickets.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	filter := service.ListFilter{}
	if statusStr := c.Query("status"); statusStr != "" {
		for _, part := range strings.Split(statusStr, ",") {
			if part = strings.TrimSpace(part); part != "" {
				filter.Statuses = append(filter.Statuses, part)
			}
		}
	}
	if id := parseInt(c.Query("category_id"), 0); id > 0 {
		categoryID := int64(id)
		filter.CategoryID = &categoryID
	}
	if assignee := strings.TrimSpace(c.Query("assigned_to")); assignee != "" {
		filter.AssignedTo = &assignee
	}
	page := parseInt(c.Query("page"), 1)
	pageSize := parseInt(c.Query("page_size"), 20)
	if pageSize > 100 {
		pageSize = 100
	}
	filter.Offset = (page - 1) * pageSize
	filter.Limit = pageSize

	tickets, err := h.service.ListTickets(c.UserContext(), actor, filter)
	if err != nil {
		return err
	}
	items := make([]dto.TicketResponse, 0, len(tickets))
	for i := range tickets {
		items = append(items, ticketResponse(&tickets[i]))
	}
	return c.JSON(fiber.Map{"data": items, "page": page, "page_size": pageSize})
}

// GetTicket GET /tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	actor, id, err := actorAndID(c)
	if err != nil {
		return err
	}
	ticket, err := h.service.GetTicket(c.UserContext(), actor, id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponse(ticket)})
}

// History GET /tickets/:id/history.
func (h *TicketsHandler) History(c *fiber.Ctx) error {
	actor, id, err := actorAndID(c)
	if err != nil {
		return err
	}
	rows, err := h.service.History(c.UserContext(), actor, id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewHistoryResponse(rows)})
}

// ChangeStatus POST /tickets/:id/status.
func (h *TicketsHandler) ChangeStatus(c *fiber.Ctx) error {
	actor, id, err := actorAndID(c)
	if err != nil {
		return err
	}
	var req dto.ChangeStatusRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	ticket, tr, err := h.service.ChangeStatus(c.UserContext(), actor, id, req.Status, req.Comment)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponse(ticket), "transition": fiber.Map{
		"from":      tr.From.Code,
		"to":        tr.To.Code,
		"rewritten": tr.Rewritten,
	}})
}

// SetTAT POST /tickets/:id/tat.
func (h *TicketsHandler) SetTAT(c *fiber.Ctx) error {
	actor, id, err := actorAndID(c)
	if err != nil {
		return err
	}
	var req dto.SetTATRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	ticket, change, err := h.service.SetTAT(c.UserContext(), actor, id, req.TAT, req.MarkInProgress)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponse(ticket), "tat": fiber.Map{
		"is_extension":            change.IsExtension,
		"extension_count":         change.ExtensionCount,
		"extension_limit_reached": change.ExtensionLimitReached,
	}})
}

// Forward POST /tickets/:id/forward.
func (h *TicketsHandler) Forward(c *fiber.Ctx) error {
	actor, id, err := actorAndID(c)
	if err != nil {
		return err
	}
	var req dto.ForwardRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	ticket, err := h.service.Forward(c.UserContext(), actor, id, req.To, req.Note)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponse(ticket)})
}

// Escalate POST /tickets/:id/escalate.
func (h *TicketsHandler) Escalate(c *fiber.Ctx) error {
	actor, id, err := actorAndID(c)
	if err != nil {
		return err
	}
	var req dto.EscalateRequest
	if len(c.Body()) > 0 {
		if err := bind(c, &req); err != nil {
			return err
		}
	}
	res, err := h.service.Escalate(c.UserContext(), actor, id, req.Note)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewEscalationResponse(res, effectiveDeadline(res.Ticket))})
}

// AddComment POST /tickets/:id/comments.
func (h *TicketsHandler) AddComment(c *fiber.Ctx) error {
	actor, id, err := actorAndID(c)
	if err != nil {
		return err
	}
	var req dto.CommentRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	ticket, comment, err := h.service.AddComment(c.UserContext(), actor, id, req.Body, req.Internal)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": ticketResponse(ticket), "comment_id": comment.ID})
}

func currentActor(c *fiber.Ctx) (domain.Actor, error) {
	actor, ok := auth.ActorFromContext(c)
	if !ok {
		return domain.Actor{}, apperrors.NewUnauthorized("authentication required")
	}
	return actor, nil
}

func actorAndID(c *fiber.Ctx) (domain.Actor, int64, error) {
	actor, err := currentActor(c)
	if err != nil {
		return domain.Actor{}, 0, err
	}
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return domain.Actor{}, 0, apperrors.NewValidationError("invalid ticket id", map[string]any{"id": c.Params("id")})
	}
	return actor, id, nil
}

func bind(c *fiber.Ctx, req any) error {
	if err := c.BodyParser(req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	return dto.Validate(req)
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func ticketResponse(t *domain.Ticket) dto.TicketResponse {
	return dto.NewTicketResponse(t, effectiveDeadline(t))
}

func effectiveDeadline(t *domain.Ticket) *time.Time {
	deadline, ok := tat.EffectiveDeadline(t, time.Now().UTC())
	if !ok {
		return nil
	}
	return &deadline
}
