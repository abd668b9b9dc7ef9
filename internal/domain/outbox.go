package domain

import (
	"encoding/json"
	"time"
)

// OutboxEvent is a pending notification written in the same transaction as the change it describes.
type OutboxEvent struct {
	ID            int64
	EventID       string
	EventType     string
	TicketID      *int64
	Payload       json.RawMessage
	CreatedAt     time.Time
	ProcessedAt   *time.Time
	Attempts      int
	LastError     *string
	NextAttemptAt time.Time
	LockedBy      *string
	LockedUntil   *time.Time
}
