package events

import (
	"encoding/json"
	"time"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated       EventType = "ticket.created"
	EventTicketStatusUpdated EventType = "ticket.status.updated"
	EventTicketTATUpdated    EventType = "ticket.tat.updated"
	EventTicketEscalated     EventType = "ticket.escalated"
	EventTicketForwarded     EventType = "ticket.forwarded"
	EventTicketCommentAdded  EventType = "ticket.comment.added"
	EventTicketTATReminder   EventType = "ticket.tat.reminder"
)

// Actor encapsulates actor metadata for an event.
type Actor struct {
	ID   string      `json:"id"`
	Role domain.Role `json:"role"`
}

// ActorOf converts a verified actor into event metadata.
func ActorOf(a domain.Actor) Actor {
	return Actor{ID: a.ID, Role: a.Role}
}

// Event is an outbox row as seen by handlers.
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	TicketID  int64           `json:"ticket_id"`
	Attempt   int             `json:"attempt"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	Actor            Actor      `json:"actor"`
	CategoryID       int64      `json:"category_id"`
	Description      string     `json:"description"`
	Location         string     `json:"location,omitempty"`
	AssignedTo       string     `json:"assigned_to,omitempty"`
	AssignmentSource string     `json:"assignment_source"`
	Status           string     `json:"status"`
	DueAt            *time.Time `json:"due_at,omitempty"`
}

// TicketStatusUpdatedPayload payload.
type TicketStatusUpdatedPayload struct {
	Actor      Actor  `json:"actor"`
	From       string `json:"from"`
	To         string `json:"to"`
	Requested  string `json:"requested"`
	Rewritten  bool   `json:"rewritten"`
	AssignedTo string `json:"assigned_to,omitempty"`
	Comment    string `json:"comment,omitempty"`
}

// TicketTATUpdatedPayload payload.
type TicketTATUpdatedPayload struct {
	Actor                 Actor      `json:"actor"`
	TAT                   string     `json:"tat"`
	TATDate               time.Time  `json:"tat_date"`
	IsExtension           bool       `json:"is_extension"`
	PreviousTAT           string     `json:"previous_tat,omitempty"`
	PreviousDate          *time.Time `json:"previous_date,omitempty"`
	ExtensionCount        int        `json:"extension_count"`
	ExtensionLimitReached bool       `json:"extension_limit_reached"`
	Status                string     `json:"status"`
}

// TicketEscalatedPayload payload.
type TicketEscalatedPayload struct {
	Actor            Actor  `json:"actor"`
	Level            int    `json:"level"`
	PreviousLevel    int    `json:"previous_level"`
	Reason           string `json:"reason"`
	HoursOverdue     int    `json:"hours_overdue"`
	RuleID           *int64 `json:"rule_id,omitempty"`
	Channel          string `json:"channel,omitempty"`
	AssignedTo       string `json:"assigned_to,omitempty"`
	PreviousAssignee string `json:"previous_assignee,omitempty"`
	Urgent           bool   `json:"urgent"`
	Note             string `json:"note,omitempty"`
}

// TicketForwardedPayload payload.
type TicketForwardedPayload struct {
	Actor Actor  `json:"actor"`
	From  string `json:"from,omitempty"`
	To    string `json:"to"`
	Note  string `json:"note,omitempty"`
}

// TicketCommentAddedPayload payload.
type TicketCommentAddedPayload struct {
	Actor     Actor  `json:"actor"`
	CommentID string `json:"comment_id"`
	Body      string `json:"body"`
	Internal  bool   `json:"internal"`
	// StatusChange is set when the comment moved the ticket.
	StatusChange string `json:"status_change,omitempty"`
}

// TicketTATReminderPayload payload.
type TicketTATReminderPayload struct {
	AssignedTo   string    `json:"assigned_to,omitempty"`
	Deadline     time.Time `json:"deadline"`
	Overdue      bool      `json:"overdue"`
	HoursOverdue int       `json:"hours_overdue"`
	HoursLeft    int       `json:"hours_left"`
}
