package repository

import (
	"context"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
)

const outboxColumns = `id, event_id, event_type, ticket_id, payload, created_at, processed_at, attempts,
        last_error, next_attempt_at, locked_by, locked_until`

type outboxRepository struct {
	q Querier
}

// NewOutboxRepository instantiates repository.
func NewOutboxRepository(q Querier) OutboxRepository {
	return &outboxRepository{q: q}
}

func (r *outboxRepository) Insert(ctx context.Context, event *domain.OutboxEvent) error {
	const query = `
        INSERT INTO outbox_events (event_id, event_type, ticket_id, payload)
        VALUES ($1,$2,$3,$4)
        RETURNING id, created_at, next_attempt_at`
	return r.q.QueryRow(ctx, query,
		event.EventID,
		event.EventType,
		event.TicketID,
		[]byte(event.Payload),
	).Scan(&event.ID, &event.CreatedAt, &event.NextAttemptAt)
}

// Claim leases due rows to req.Owner. Rows leased by someone else, already
// processed, exhausted, or backing off are skipped.
func (r *outboxRepository) Claim(ctx context.Context, req ClaimRequest) ([]domain.OutboxEvent, error) {
	const query = `
        UPDATE outbox_events SET locked_by=$1, locked_until=$2
        WHERE id IN (
            SELECT id FROM outbox_events
            WHERE processed_at IS NULL
              AND attempts < $3
              AND next_attempt_at <= $4
              AND (locked_until IS NULL OR locked_until < $4)
              AND ($5::bigint = 0 OR id = $5)
            ORDER BY created_at ASC, id ASC
            LIMIT $6
            FOR UPDATE SKIP LOCKED
        )
        RETURNING ` + outboxColumns

	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.q.Query(ctx, query,
		req.Owner,
		req.Now.Add(req.Lease),
		req.MaxAttempts,
		req.Now,
		req.ID,
		limit,
	)
	if err != nil {
		return nil, err
	}
	events, err := collectOutbox(rows)
	if err != nil {
		return nil, err
	}
	// RETURNING does not preserve the subquery order
	sort.Slice(events, func(i, j int) bool {
		if !events[i].CreatedAt.Equal(events[j].CreatedAt) {
			return events[i].CreatedAt.Before(events[j].CreatedAt)
		}
		return events[i].ID < events[j].ID
	})
	return events, nil
}

func (r *outboxRepository) MarkProcessed(ctx context.Context, id int64, owner string, at time.Time) error {
	const query = `
        UPDATE outbox_events SET processed_at=$3, locked_by=NULL, locked_until=NULL, last_error=NULL
        WHERE id=$1 AND processed_at IS NULL AND locked_by=$2`
	cmd, err := r.q.Exec(ctx, query, id, owner, at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrPreconditionFailed
	}
	return nil
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id int64, owner, reason string, nextAttempt time.Time) error {
	const query = `
        UPDATE outbox_events
        SET attempts=attempts+1, last_error=$3, next_attempt_at=$4, locked_by=NULL, locked_until=NULL
        WHERE id=$1 AND processed_at IS NULL AND locked_by=$2`
	cmd, err := r.q.Exec(ctx, query, id, owner, reason, nextAttempt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrPreconditionFailed
	}
	return nil
}

func (r *outboxRepository) ListExhausted(ctx context.Context, maxAttempts, limit int) ([]domain.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + outboxColumns + ` FROM outbox_events
        WHERE processed_at IS NULL AND attempts >= $1
        ORDER BY created_at ASC, id ASC LIMIT $2`
	rows, err := r.q.Query(ctx, query, maxAttempts, limit)
	if err != nil {
		return nil, err
	}
	return collectOutbox(rows)
}

func (r *outboxRepository) CountPending(ctx context.Context, maxAttempts int) (int64, error) {
	var count int64
	err := r.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM outbox_events WHERE processed_at IS NULL AND attempts < $1`,
		maxAttempts,
	).Scan(&count)
	return count, err
}

func collectOutbox(rows pgx.Rows) ([]domain.OutboxEvent, error) {
	defer rows.Close()
	var result []domain.OutboxEvent
	for rows.Next() {
		var (
			ev      domain.OutboxEvent
			payload []byte
		)
		if err := rows.Scan(
			&ev.ID,
			&ev.EventID,
			&ev.EventType,
			&ev.TicketID,
			&payload,
			&ev.CreatedAt,
			&ev.ProcessedAt,
			&ev.Attempts,
			&ev.LastError,
			&ev.NextAttemptAt,
			&ev.LockedBy,
			&ev.LockedUntil,
		); err != nil {
			return nil, err
		}
		ev.Payload = payload
		result = append(result, ev)
	}
	return result, rows.Err()
}
