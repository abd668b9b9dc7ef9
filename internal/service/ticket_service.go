package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-lifecycle/internal/assignment"
	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/escalation"
	"github.com/spec-kit/ticket-lifecycle/internal/events"
	"github.com/spec-kit/ticket-lifecycle/internal/lifecycle"
	"github.com/spec-kit/ticket-lifecycle/internal/outbox"
	"github.com/spec-kit/ticket-lifecycle/internal/repository"
	"github.com/spec-kit/ticket-lifecycle/internal/tat"
	apperrors "github.com/spec-kit/ticket-lifecycle/pkg/util/errorutil"
)

// Escalator performs manual escalations.
type Escalator interface {
	EscalateTicket(ctx context.Context, actor domain.Actor, ticketID int64, note string) (*escalation.Result, error)
}

// TicketService coordinates ticket workflows. Every mutation commits the
// ticket, its history and its outbox rows together.
type TicketService struct {
	store     repository.Store
	machine   *lifecycle.Machine
	tat       *tat.Engine
	resolver  *assignment.Resolver
	outbox    *outbox.Outbox
	kicker    outbox.Kicker
	escalator Escalator
	logger    *zap.Logger
	now       func() time.Time
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	Store     repository.Store
	Machine   *lifecycle.Machine
	TAT       *tat.Engine
	Resolver  *assignment.Resolver
	Outbox    *outbox.Outbox
	Kicker    outbox.Kicker
	Escalator Escalator
	Logger    *zap.Logger
}

// CreateTicketInput describes ticket creation payload.
type CreateTicketInput struct {
	CategoryID       int64
	SubcategoryID    *int64
	SubSubcategoryID *int64
	Description      string
	Location         string
	Fields           map[string]any
	GroupID          *int64
	ScopeTags        []string
}

// ListFilter narrows ticket listings.
type ListFilter struct {
	CategoryID *int64
	Statuses   []string
	AssignedTo *string
	Limit      int
	Offset     int
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TicketService{
		store:     deps.Store,
		machine:   deps.Machine,
		tat:       deps.TAT,
		resolver:  deps.Resolver,
		outbox:    deps.Outbox,
		kicker:    deps.Kicker,
		escalator: deps.Escalator,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateTicket validates the category tree, resolves the assignee and opens the ticket.
func (s *TicketService) CreateTicket(ctx context.Context, actor domain.Actor, input CreateTicketInput) (*domain.Ticket, error) {
	if actor.ID == "" {
		return nil, apperrors.NewUnauthorized("actor required")
	}
	description := strings.TrimSpace(input.Description)
	if description == "" {
		return nil, apperrors.NewValidationError("description is required", nil)
	}

	category, err := s.store.Reference().GetCategory(ctx, input.CategoryID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewValidationError("unknown category", map[string]any{"category_id": input.CategoryID})
		}
		return nil, err
	}
	if !category.IsActive {
		return nil, apperrors.NewValidationError("category inactive", map[string]any{"category_id": category.ID})
	}
	if input.SubcategoryID != nil {
		sub, err := s.store.Reference().GetSubcategory(ctx, *input.SubcategoryID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, apperrors.NewValidationError("unknown subcategory", map[string]any{"subcategory_id": *input.SubcategoryID})
			}
			return nil, err
		}
		if sub.CategoryID != category.ID || !sub.IsActive {
			return nil, apperrors.NewValidationError("subcategory not part of category", map[string]any{"subcategory_id": sub.ID})
		}
	}

	opening, err := s.machine.Statuses().Resolve(domain.StatusOpen)
	if err != nil {
		return nil, err
	}

	location := strings.TrimSpace(input.Location)
	resolution, err := s.resolver.Resolve(ctx, assignment.Request{
		CategoryID:    category.ID,
		SubcategoryID: input.SubcategoryID,
		Location:      location,
		Fields:        input.Fields,
	})
	if err != nil {
		return nil, err
	}

	now := s.now()
	ticket := &domain.Ticket{
		CategoryID:       category.ID,
		SubcategoryID:    input.SubcategoryID,
		SubSubcategoryID: input.SubSubcategoryID,
		Description:      description,
		Location:         location,
		CreatedBy:        actor.ID,
		StatusCode:       opening.Code,
		GroupID:          input.GroupID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	ticket.State.Fields = input.Fields
	ticket.State.ScopeTags = input.ScopeTags
	if resolution.PartyID != "" {
		party := resolution.PartyID
		ticket.AssignedTo = &party
	}
	if category.SLAHours > 0 {
		due := now.Add(time.Duration(category.SLAHours) * time.Hour)
		ticket.DueAt = &due
	}

	var pending []int64
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := tx.Tickets().Create(ctx, ticket); err != nil {
			return fmt.Errorf("create ticket: %w", err)
		}
		if err := tx.History().Create(ctx, &domain.TicketHistory{
			TicketID:    ticket.ID,
			ChangedBy:   actor.ID,
			ChangedRole: actor.Role,
			ChangeType:  domain.ChangeTypeCreated,
			NewValue:    map[string]any{"status": ticket.StatusCode, "assigned_to": resolution.PartyID, "assignment_source": string(resolution.Source)},
		}); err != nil {
			return fmt.Errorf("write history: %w", err)
		}
		ev, err := s.outbox.Enqueue(ctx, tx, events.EventTicketCreated, ticket.ID, events.TicketCreatedPayload{
			Actor:            events.ActorOf(actor),
			CategoryID:       ticket.CategoryID,
			Description:      ticket.Description,
			Location:         ticket.Location,
			AssignedTo:       resolution.PartyID,
			AssignmentSource: string(resolution.Source),
			Status:           ticket.StatusCode,
			DueAt:            ticket.DueAt,
		})
		if err != nil {
			return err
		}
		pending = append(pending, ev.ID)
		return nil
	})
	if err != nil {
		return nil, mapRepoError(err, 0)
	}
	s.kick(pending)
	s.logger.Info("ticket created", zap.Int64("ticket_id", ticket.ID), zap.String("assigned_to", resolution.PartyID), zap.String("source", string(resolution.Source)))
	return ticket, nil
}

// ChangeStatus moves a ticket through the state machine.
func (s *TicketService) ChangeStatus(ctx context.Context, actor domain.Actor, ticketID int64, requested, comment string) (*domain.Ticket, lifecycle.Transition, error) {
	var (
		ticket  *domain.Ticket
		tr      lifecycle.Transition
		pending []int64
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		t, err := tx.Tickets().GetForUpdate(ctx, ticketID)
		if err != nil {
			return err
		}
		now := s.now()
		from := t.StatusCode
		if tr, err = s.machine.Apply(t, requested, actor, now); err != nil {
			return err
		}
		comment = strings.TrimSpace(comment)
		if comment != "" {
			t.State.Comments = append(t.State.Comments, newComment(actor, comment, false, now))
		}
		if err := tx.Tickets().Update(ctx, t, repository.UpdateGuard{Status: from}); err != nil {
			return err
		}

		assignee := stringValue(t.AssignedTo)
		if err := tx.History().Create(ctx, &domain.TicketHistory{
			TicketID:    t.ID,
			ChangedBy:   actor.ID,
			ChangedRole: actor.Role,
			ChangeType:  domain.ChangeTypeStatus,
			OldValue:    map[string]any{"status": from, "assigned_to": stringValue(tr.PreviousAssignee)},
			NewValue:    map[string]any{"status": t.StatusCode, "assigned_to": assignee, "comment": comment},
		}); err != nil {
			return fmt.Errorf("write history: %w", err)
		}

		if t.GroupID != nil && tr.To.IsFinal {
			archived, err := tx.Groups().ArchiveIfComplete(ctx, *t.GroupID, s.machine.Statuses().FinalCodes(), now)
			if err != nil {
				return fmt.Errorf("archive group %d: %w", *t.GroupID, err)
			}
			if archived {
				s.logger.Info("ticket group archived", zap.Int64("group_id", *t.GroupID))
			}
		}

		ev, err := s.outbox.Enqueue(ctx, tx, events.EventTicketStatusUpdated, t.ID, events.TicketStatusUpdatedPayload{
			Actor:      events.ActorOf(actor),
			From:       from,
			To:         t.StatusCode,
			Requested:  requested,
			Rewritten:  tr.Rewritten,
			AssignedTo: assignee,
			Comment:    comment,
		})
		if err != nil {
			return err
		}
		pending = append(pending, ev.ID)
		ticket = t
		return nil
	})
	if err != nil {
		return nil, lifecycle.Transition{}, mapRepoError(err, ticketID)
	}
	s.kick(pending)
	return ticket, tr, nil
}

// SetTAT records or extends the ticket's deadline. markInProgress also
// moves the ticket to in_progress.
func (s *TicketService) SetTAT(ctx context.Context, actor domain.Actor, ticketID int64, text string, markInProgress bool) (*domain.Ticket, tat.Change, error) {
	var (
		ticket  *domain.Ticket
		change  tat.Change
		pending []int64
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		t, err := tx.Tickets().GetForUpdate(ctx, ticketID)
		if err != nil {
			return err
		}
		if !lifecycle.CanManage(actor.Role, lifecycle.RelationOf(actor, t)) {
			return apperrors.NewForbidden("not allowed to set TAT on this ticket")
		}
		if s.machine.Statuses().IsFinal(t.StatusCode) {
			return apperrors.NewValidationError("ticket is closed", map[string]any{"status": t.StatusCode})
		}

		now := s.now()
		from := t.StatusCode
		previousAssignee := stringValue(t.AssignedTo)
		if change, err = s.tat.Set(t, text, actor.ID, now); err != nil {
			return err
		}
		if markInProgress && t.StatusCode != domain.StatusInProgress {
			if _, err := s.machine.Apply(t, domain.StatusInProgress, actor, now); err != nil {
				return err
			}
		}
		if actor.Role.IsAdministrative() {
			id := actor.ID
			t.AssignedTo = &id
		}
		t.UpdatedAt = now

		if err := tx.Tickets().Update(ctx, t, repository.UpdateGuard{Status: from}); err != nil {
			return err
		}

		old := map[string]any{"tat": change.PreviousText, "status": from, "assigned_to": previousAssignee}
		if change.PreviousDate != nil {
			old["tat_date"] = change.PreviousDate.Format(time.RFC3339)
		}
		if err := tx.History().Create(ctx, &domain.TicketHistory{
			TicketID:    t.ID,
			ChangedBy:   actor.ID,
			ChangedRole: actor.Role,
			ChangeType:  domain.ChangeTypeTAT,
			OldValue:    old,
			NewValue: map[string]any{
				"tat":             change.Text,
				"tat_date":        change.Deadline.Format(time.RFC3339),
				"extension_count": change.ExtensionCount,
				"status":          t.StatusCode,
				"assigned_to":     stringValue(t.AssignedTo),
			},
		}); err != nil {
			return fmt.Errorf("write history: %w", err)
		}

		ev, err := s.outbox.Enqueue(ctx, tx, events.EventTicketTATUpdated, t.ID, events.TicketTATUpdatedPayload{
			Actor:                 events.ActorOf(actor),
			TAT:                   change.Text,
			TATDate:               change.Deadline,
			IsExtension:           change.IsExtension,
			PreviousTAT:           change.PreviousText,
			PreviousDate:          change.PreviousDate,
			ExtensionCount:        change.ExtensionCount,
			ExtensionLimitReached: change.ExtensionLimitReached,
			Status:                t.StatusCode,
		})
		if err != nil {
			return err
		}
		pending = append(pending, ev.ID)
		ticket = t
		return nil
	})
	if err != nil {
		return nil, tat.Change{}, mapRepoError(err, ticketID)
	}
	s.kick(pending)
	if change.ExtensionLimitReached {
		s.logger.Warn("tat extension cap reached", zap.Int64("ticket_id", ticketID), zap.Int("extensions", change.ExtensionCount))
	}
	return ticket, change, nil
}

// Forward hands the ticket to another responsible party.
func (s *TicketService) Forward(ctx context.Context, actor domain.Actor, ticketID int64, to, note string) (*domain.Ticket, error) {
	if !lifecycle.CanForward(actor.Role) {
		return nil, apperrors.NewForbidden("only administrators can forward tickets")
	}
	to = strings.TrimSpace(to)
	if to == "" {
		return nil, apperrors.NewValidationError("forward target is required", nil)
	}
	target, err := s.store.Users().GetByID(ctx, to)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewValidationError("unknown forward target", map[string]any{"to": to})
		}
		return nil, err
	}
	if !target.IsActive {
		return nil, apperrors.NewValidationError("forward target inactive", map[string]any{"to": to})
	}

	var (
		ticket  *domain.Ticket
		pending []int64
	)
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		t, err := tx.Tickets().GetForUpdate(ctx, ticketID)
		if err != nil {
			return err
		}
		if s.machine.Statuses().IsFinal(t.StatusCode) {
			return apperrors.NewValidationError("ticket is closed", map[string]any{"status": t.StatusCode})
		}
		previous := stringValue(t.AssignedTo)
		if previous == to {
			return apperrors.NewValidationError("ticket already assigned to target", map[string]any{"to": to})
		}

		now := s.now()
		from := t.StatusCode
		if t.StatusCode != domain.StatusForwarded {
			if _, err := s.machine.Apply(t, domain.StatusForwarded, actor, now); err != nil {
				return err
			}
		}
		party := to
		t.AssignedTo = &party
		t.UpdatedAt = now
		note = strings.TrimSpace(note)
		if note != "" {
			t.State.Comments = append(t.State.Comments, newComment(actor, note, true, now))
		}

		if err := tx.Tickets().Update(ctx, t, repository.UpdateGuard{Status: from}); err != nil {
			return err
		}
		if err := tx.History().Create(ctx, &domain.TicketHistory{
			TicketID:    t.ID,
			ChangedBy:   actor.ID,
			ChangedRole: actor.Role,
			ChangeType:  domain.ChangeTypeAssignee,
			OldValue:    map[string]any{"assigned_to": previous, "status": from},
			NewValue:    map[string]any{"assigned_to": to, "status": t.StatusCode, "note": note},
		}); err != nil {
			return fmt.Errorf("write history: %w", err)
		}
		ev, err := s.outbox.Enqueue(ctx, tx, events.EventTicketForwarded, t.ID, events.TicketForwardedPayload{
			Actor: events.ActorOf(actor),
			From:  previous,
			To:    to,
			Note:  note,
		})
		if err != nil {
			return err
		}
		pending = append(pending, ev.ID)
		ticket = t
		return nil
	})
	if err != nil {
		return nil, mapRepoError(err, ticketID)
	}
	s.kick(pending)
	return ticket, nil
}

// Escalate raises the ticket one level on behalf of the actor.
func (s *TicketService) Escalate(ctx context.Context, actor domain.Actor, ticketID int64, note string) (*escalation.Result, error) {
	t, err := s.store.Tickets().GetByID(ctx, ticketID)
	if err != nil {
		return nil, mapRepoError(err, ticketID)
	}
	if !lifecycle.CanManage(actor.Role, lifecycle.RelationOf(actor, t)) {
		return nil, apperrors.NewForbidden("not allowed to escalate this ticket")
	}
	res, err := s.escalator.EscalateTicket(ctx, actor, ticketID, strings.TrimSpace(note))
	if err != nil {
		return nil, mapRepoError(err, ticketID)
	}
	return res, nil
}

// AddComment appends a note to the ticket. A requester replying to a ticket
// that waits on them puts it back in progress.
func (s *TicketService) AddComment(ctx context.Context, actor domain.Actor, ticketID int64, body string, internal bool) (*domain.Ticket, domain.Comment, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, domain.Comment{}, apperrors.NewValidationError("comment body is required", nil)
	}
	if internal && actor.Role == domain.RoleRequester {
		return nil, domain.Comment{}, apperrors.NewForbidden("requesters cannot add internal notes")
	}

	var (
		ticket  *domain.Ticket
		comment domain.Comment
		pending []int64
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		t, err := tx.Tickets().GetForUpdate(ctx, ticketID)
		if err != nil {
			return err
		}
		if !lifecycle.CanComment(actor.Role, lifecycle.RelationOf(actor, t)) {
			return apperrors.NewForbidden("not allowed to comment on this ticket")
		}

		now := s.now()
		from := t.StatusCode
		statusChange := ""
		if actor.Role == domain.RoleRequester && t.StatusCode == domain.StatusAwaitingRequester {
			// the requester answered; resume on the system's behalf
			if _, err := s.machine.Apply(t, domain.StatusInProgress, domain.SystemActor(), now); err != nil {
				return err
			}
			statusChange = t.StatusCode
		}
		comment = newComment(actor, body, internal, now)
		t.State.Comments = append(t.State.Comments, comment)
		t.UpdatedAt = now

		if err := tx.Tickets().Update(ctx, t, repository.UpdateGuard{Status: from}); err != nil {
			return err
		}
		newValue := map[string]any{"comment_id": comment.ID, "internal": internal}
		if statusChange != "" {
			newValue["status"] = statusChange
		}
		if err := tx.History().Create(ctx, &domain.TicketHistory{
			TicketID:    t.ID,
			ChangedBy:   actor.ID,
			ChangedRole: actor.Role,
			ChangeType:  domain.ChangeTypeComment,
			OldValue:    map[string]any{"status": from},
			NewValue:    newValue,
		}); err != nil {
			return fmt.Errorf("write history: %w", err)
		}
		ev, err := s.outbox.Enqueue(ctx, tx, events.EventTicketCommentAdded, t.ID, events.TicketCommentAddedPayload{
			Actor:        events.ActorOf(actor),
			CommentID:    comment.ID,
			Body:         body,
			Internal:     internal,
			StatusChange: statusChange,
		})
		if err != nil {
			return err
		}
		pending = append(pending, ev.ID)
		ticket = t
		return nil
	})
	if err != nil {
		return nil, domain.Comment{}, mapRepoError(err, ticketID)
	}
	s.kick(pending)
	return ticket, comment, nil
}

// GetTicket fetches a ticket the actor may see. Requesters never see internal notes.
func (s *TicketService) GetTicket(ctx context.Context, actor domain.Actor, ticketID int64) (*domain.Ticket, error) {
	t, err := s.store.Tickets().GetByID(ctx, ticketID)
	if err != nil {
		return nil, mapRepoError(err, ticketID)
	}
	if !lifecycle.CanView(actor, t) {
		return nil, apperrors.NewForbidden("access denied")
	}
	if actor.Role == domain.RoleRequester {
		t.State.Comments = publicComments(t.State.Comments)
	}
	return t, nil
}

// ListTickets returns tickets visible to the actor.
func (s *TicketService) ListTickets(ctx context.Context, actor domain.Actor, filter ListFilter) ([]domain.Ticket, error) {
	repoFilter := repository.TicketFilter{
		CategoryID: filter.CategoryID,
		AssignedTo: filter.AssignedTo,
		Limit:      filter.Limit,
		Offset:     filter.Offset,
	}
	for _, code := range filter.Statuses {
		repoFilter.Statuses = append(repoFilter.Statuses, s.machine.Statuses().Canonicalize(code))
	}
	switch actor.Role {
	case domain.RoleRequester:
		id := actor.ID
		repoFilter.CreatedBy = &id
	case domain.RoleCommittee:
		if filter.AssignedTo == nil {
			id := actor.ID
			repoFilter.AssignedTo = &id
		}
	}

	tickets, err := s.store.Tickets().List(ctx, repoFilter)
	if err != nil {
		return nil, err
	}
	visible := tickets[:0]
	for i := range tickets {
		if !lifecycle.CanView(actor, &tickets[i]) {
			continue
		}
		if actor.Role == domain.RoleRequester {
			tickets[i].State.Comments = publicComments(tickets[i].State.Comments)
		}
		visible = append(visible, tickets[i])
	}
	return visible, nil
}

// History lists the audit trail of a ticket for staff.
func (s *TicketService) History(ctx context.Context, actor domain.Actor, ticketID int64) ([]domain.TicketHistory, error) {
	t, err := s.store.Tickets().GetByID(ctx, ticketID)
	if err != nil {
		return nil, mapRepoError(err, ticketID)
	}
	if actor.Role == domain.RoleRequester || !lifecycle.CanView(actor, t) {
		return nil, apperrors.NewForbidden("access denied")
	}
	return s.store.History().ListByTicket(ctx, ticketID)
}

func (s *TicketService) kick(ids []int64) {
	if s.kicker == nil {
		return
	}
	for _, id := range ids {
		s.kicker.Kick(id)
	}
}

func mapRepoError(err error, ticketID int64) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NewNotFound("ticket", map[string]any{"id": ticketID})
	case errors.Is(err, repository.ErrPreconditionFailed):
		return apperrors.NewConflict("ticket changed concurrently, retry", map[string]any{"id": ticketID})
	}
	return err
}

func newComment(actor domain.Actor, body string, internal bool, now time.Time) domain.Comment {
	return domain.Comment{
		ID:         uuid.NewString(),
		AuthorID:   actor.ID,
		AuthorRole: actor.Role,
		Body:       body,
		Internal:   internal,
		CreatedAt:  now,
	}
}

func publicComments(comments []domain.Comment) []domain.Comment {
	out := make([]domain.Comment, 0, len(comments))
	for _, c := range comments {
		if !c.Internal {
			out = append(out, c)
		}
	}
	return out
}

func stringValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
