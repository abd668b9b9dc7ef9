// Package outbox records notifications inside ticket transactions and
// delivers them afterwards with at-least-once semantics.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/events"
	"github.com/spec-kit/ticket-lifecycle/internal/repository"
)

// Kicker starts best-effort delivery of a committed row.
type Kicker interface {
	Kick(id int64)
}

// Outbox writes event rows through a transaction's repositories.
type Outbox struct {
	newID func() string
}

// New returns an Outbox that assigns random UUID event ids.
func New() *Outbox {
	return &Outbox{newID: uuid.NewString}
}

// Enqueue inserts one pending row. It performs no I/O beyond the insert, so
// a rollback of tx discards the event with the mutation.
func (o *Outbox) Enqueue(ctx context.Context, tx repository.Tx, eventType events.EventType, ticketID int64, payload any) (*domain.OutboxEvent, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	event := &domain.OutboxEvent{
		EventID:   o.newID(),
		EventType: string(eventType),
		Payload:   body,
	}
	if ticketID != 0 {
		id := ticketID
		event.TicketID = &id
	}
	if err := tx.Outbox().Insert(ctx, event); err != nil {
		return nil, fmt.Errorf("insert outbox event: %w", err)
	}
	return event, nil
}
