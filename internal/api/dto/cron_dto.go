package dto

import (
	"time"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
)

// OutboxEventResponse exposes an undeliverable outbox row to operators.
type OutboxEventResponse struct {
	ID            int64     `json:"id"`
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	TicketID      *int64    `json:"ticket_id,omitempty"`
	Attempts      int       `json:"attempts"`
	LastError     *string   `json:"last_error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
}

// NewOutboxEventResponses maps outbox rows.
func NewOutboxEventResponses(rows []domain.OutboxEvent) []OutboxEventResponse {
	out := make([]OutboxEventResponse, 0, len(rows))
	for _, r := range rows {
		out = append(out, OutboxEventResponse{
			ID:            r.ID,
			EventID:       r.EventID,
			EventType:     r.EventType,
			TicketID:      r.TicketID,
			Attempts:      r.Attempts,
			LastError:     r.LastError,
			CreatedAt:     r.CreatedAt,
			NextAttemptAt: r.NextAttemptAt,
		})
	}
	return out
}
