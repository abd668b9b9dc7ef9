package dto

import (
	"time"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/escalation"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	CategoryID       int64          `json:"category_id" validate:"required,gt=0"`
	SubcategoryID    *int64         `json:"subcategory_id" validate:"omitempty,gt=0"`
	SubSubcategoryID *int64         `json:"sub_subcategory_id" validate:"omitempty,gt=0"`
	Description      string         `json:"description" validate:"required,max=4000"`
	Location         string         `json:"location" validate:"max=200"`
	Fields           map[string]any `json:"fields"`
	GroupID          *int64         `json:"group_id" validate:"omitempty,gt=0"`
	ScopeTags        []string       `json:"scope_tags" validate:"max=20,dive,required,max=100"`
}

// ChangeStatusRequest payload.
type ChangeStatusRequest struct {
	Status  string `json:"status" validate:"required,max=64"`
	Comment string `json:"comment" validate:"max=2000"`
}

// SetTATRequest payload.
type SetTATRequest struct {
	TAT            string `json:"tat" validate:"required,max=64"`
	MarkInProgress bool   `json:"mark_in_progress"`
}

// ForwardRequest payload.
type ForwardRequest struct {
	To   string `json:"to" validate:"required,max=128"`
	Note string `json:"note" validate:"max=2000"`
}

// EscalateRequest payload.
type EscalateRequest struct {
	Note string `json:"note" validate:"max=2000"`
}

// CommentRequest payload.
type CommentRequest struct {
	Body     string `json:"body" validate:"required,max=4000"`
	Internal bool   `json:"internal"`
}

// TATResponse is the deadline view of a ticket.
type TATResponse struct {
	Text           string     `json:"tat,omitempty"`
	Date           *time.Time `json:"tat_date,omitempty"`
	Deadline       *time.Time `json:"effective_deadline,omitempty"`
	ExtensionCount int        `json:"extension_count"`
	Paused         bool       `json:"paused"`
}

// CommentResponse represents one note on a ticket.
type CommentResponse struct {
	ID         string      `json:"id"`
	AuthorID   string      `json:"author_id"`
	AuthorRole domain.Role `json:"author_role"`
	Body       string      `json:"body"`
	Internal   bool        `json:"internal"`
	CreatedAt  time.Time   `json:"created_at"`
}

// TicketResponse provides full ticket info.
type TicketResponse struct {
	ID              int64             `json:"id"`
	CategoryID      int64             `json:"category_id"`
	SubcategoryID   *int64            `json:"subcategory_id,omitempty"`
	Description     string            `json:"description"`
	Location        string            `json:"location,omitempty"`
	CreatedBy       string            `json:"created_by"`
	AssignedTo      *string           `json:"assigned_to"`
	Status          string            `json:"status"`
	EscalationLevel int               `json:"escalation_level"`
	ReopenCount     int               `json:"reopen_count"`
	GroupID         *int64            `json:"group_id,omitempty"`
	TAT             TATResponse       `json:"tat"`
	Fields          map[string]any    `json:"fields,omitempty"`
	Comments        []CommentResponse `json:"comments"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	DueAt           *time.Time        `json:"due_at,omitempty"`
	ResolvedAt      *time.Time        `json:"resolved_at,omitempty"`
	AcknowledgedAt  *time.Time        `json:"acknowledged_at,omitempty"`
	ReopenedAt      *time.Time        `json:"reopened_at,omitempty"`
	LastEscalatedAt *time.Time        `json:"last_escalated_at,omitempty"`
	SLABreachedAt   *time.Time        `json:"sla_breached_at,omitempty"`
}

// EscalationResponse describes a manual escalation.
type EscalationResponse struct {
	Ticket TicketResponse `json:"ticket"`
	Level  int            `json:"level"`
	Reason string         `json:"reason"`
	RuleID *int64         `json:"rule_id,omitempty"`
	Urgent bool           `json:"urgent"`
}

// HistoryResponse is one audit row.
type HistoryResponse struct {
	ChangedBy   string                  `json:"changed_by"`
	ChangedRole domain.Role             `json:"changed_role"`
	ChangeType  domain.TicketChangeType `json:"change_type"`
	OldValue    map[string]any          `json:"old_value,omitempty"`
	NewValue    map[string]any          `json:"new_value,omitempty"`
	CreatedAt   time.Time               `json:"created_at"`
}

// NewTicketResponse maps a ticket for the API. deadline is the effective TAT deadline, if any.
func NewTicketResponse(t *domain.Ticket, deadline *time.Time) TicketResponse {
	resp := TicketResponse{
		ID:              t.ID,
		CategoryID:      t.CategoryID,
		SubcategoryID:   t.SubcategoryID,
		Description:     t.Description,
		Location:        t.Location,
		CreatedBy:       t.CreatedBy,
		AssignedTo:      t.AssignedTo,
		Status:          t.StatusCode,
		EscalationLevel: t.EscalationLevel,
		ReopenCount:     t.ReopenCount,
		GroupID:         t.GroupID,
		Fields:          t.State.Fields,
		Comments:        make([]CommentResponse, 0, len(t.State.Comments)),
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
		DueAt:           t.DueAt,
		ResolvedAt:      t.ResolvedAt,
		AcknowledgedAt:  t.AcknowledgedAt,
		ReopenedAt:      t.ReopenedAt,
		LastEscalatedAt: t.LastEscalatedAt,
		SLABreachedAt:   t.SLABreachedAt,
		TAT: TATResponse{
			Text:           t.State.TAT.Text,
			Date:           t.State.TAT.Date,
			Deadline:       deadline,
			ExtensionCount: t.State.TAT.ExtensionCount,
			Paused:         t.State.TAT.IsPaused(),
		},
	}
	for _, c := range t.State.Comments {
		resp.Comments = append(resp.Comments, CommentResponse{
			ID:         c.ID,
			AuthorID:   c.AuthorID,
			AuthorRole: c.AuthorRole,
			Body:       c.Body,
			Internal:   c.Internal,
			CreatedAt:  c.CreatedAt,
		})
	}
	return resp
}

// NewEscalationResponse maps a manual escalation result.
func NewEscalationResponse(res *escalation.Result, deadline *time.Time) EscalationResponse {
	return EscalationResponse{
		Ticket: NewTicketResponse(res.Ticket, deadline),
		Level:  res.Level,
		Reason: string(res.Reason),
		RuleID: res.RuleID,
		Urgent: res.Urgent,
	}
}

// NewHistoryResponse maps audit rows.
func NewHistoryResponse(rows []domain.TicketHistory) []HistoryResponse {
	out := make([]HistoryResponse, 0, len(rows))
	for _, h := range rows {
		out = append(out, HistoryResponse{
			ChangedBy:   h.ChangedBy,
			ChangedRole: h.ChangedRole,
			ChangeType:  h.ChangeType,
			OldValue:    h.OldValue,
			NewValue:    h.NewValue,
			CreatedAt:   h.CreatedAt,
		})
	}
	return out
}
