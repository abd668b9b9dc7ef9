package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
)

const ticketColumns = `t.id, t.category_id, t.subcategory_id, t.sub_subcategory_id, t.description, t.location,
        t.created_by, t.assigned_to, t.status_code, t.escalation_level, t.reopen_count, t.tat_extension_count,
        t.group_id, COALESCE(g.scope, ''), t.metadata, t.created_at, t.updated_at, t.due_at, t.resolved_at,
        t.acknowledged_at, t.reopened_at, t.last_escalated_at, t.sla_breached_at`

const ticketFrom = `tickets t LEFT JOIN ticket_groups g ON g.id = t.group_id`

type ticketRepository struct {
	q Querier
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(q Querier) TicketRepository {
	return &ticketRepository{q: q}
}

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	metadata, err := json.Marshal(ticket.State)
	if err != nil {
		return fmt.Errorf("encode ticket metadata: %w", err)
	}
	const query = `
        INSERT INTO tickets (category_id, subcategory_id, sub_subcategory_id, description, location, created_by,
                             assigned_to, status_code, escalation_level, group_id, metadata, due_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
        RETURNING id, created_at, updated_at`
	return r.q.QueryRow(ctx, query,
		ticket.CategoryID,
		ticket.SubcategoryID,
		ticket.SubSubcategoryID,
		ticket.Description,
		ticket.Location,
		ticket.CreatedBy,
		ticket.AssignedTo,
		ticket.StatusCode,
		ticket.EscalationLevel,
		ticket.GroupID,
		metadata,
		ticket.DueAt,
	).Scan(&ticket.ID, &ticket.CreatedAt, &ticket.UpdatedAt)
}

func (r *ticketRepository) GetByID(ctx context.Context, id int64) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM ` + ticketFrom + ` WHERE t.id=$1`
	return scanTicket(r.q.QueryRow(ctx, query, id))
}

// GetForUpdate locks the ticket row until the surrounding transaction ends.
func (r *ticketRepository) GetForUpdate(ctx context.Context, id int64) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM ` + ticketFrom + ` WHERE t.id=$1 FOR UPDATE OF t`
	return scanTicket(r.q.QueryRow(ctx, query, id))
}

func (r *ticketRepository) Update(ctx context.Context, ticket *domain.Ticket, guard UpdateGuard) error {
	metadata, err := json.Marshal(ticket.State)
	if err != nil {
		return fmt.Errorf("encode ticket metadata: %w", err)
	}

	q := psql.Update("tickets").SetMap(map[string]any{
		"assigned_to":         ticket.AssignedTo,
		"status_code":         ticket.StatusCode,
		"escalation_level":    ticket.EscalationLevel,
		"reopen_count":        ticket.ReopenCount,
		"tat_extension_count": ticket.TATExtensionCount,
		"metadata":            metadata,
		"due_at":              ticket.DueAt,
		"resolved_at":         ticket.ResolvedAt,
		"acknowledged_at":     ticket.AcknowledgedAt,
		"reopened_at":         ticket.ReopenedAt,
		"last_escalated_at":   ticket.LastEscalatedAt,
		"sla_breached_at":     ticket.SLABreachedAt,
		"updated_at":          ticket.UpdatedAt,
	}).Where(sq.Eq{"id": ticket.ID})

	if guard.Status != "" {
		q = q.Where(sq.Eq{"status_code": guard.Status})
	}
	if guard.EscalationLevel != nil {
		q = q.Where(sq.Eq{"escalation_level": *guard.EscalationLevel})
	}
	if len(guard.NotStatuses) > 0 {
		q = q.Where(sq.NotEq{"status_code": guard.NotStatuses})
	}

	query, args, err := q.ToSql()
	if err != nil {
		return err
	}
	cmd, err := r.q.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return r.missOrConflict(ctx, ticket.ID)
	}
	return nil
}

func (r *ticketRepository) missOrConflict(ctx context.Context, id int64) error {
	var exists bool
	if err := r.q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM tickets WHERE id=$1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrPreconditionFailed
}

func (r *ticketRepository) List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	q := psql.Select(ticketColumns).From(ticketFrom)
	if filter.CreatedBy != nil {
		q = q.Where(sq.Eq{"t.created_by": *filter.CreatedBy})
	}
	if filter.AssignedTo != nil {
		q = q.Where(sq.Eq{"t.assigned_to": *filter.AssignedTo})
	}
	if filter.CategoryID != nil {
		q = q.Where(sq.Eq{"t.category_id": *filter.CategoryID})
	}
	if len(filter.Statuses) > 0 {
		q = q.Where(sq.Eq{"t.status_code": filter.Statuses})
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	q = q.OrderBy("t.created_at DESC", "t.id DESC").Limit(uint64(limit)).Offset(uint64(offset))
	return r.queryTickets(ctx, q)
}

// ListOpen pages by id so concurrent inserts never shift a page.
func (r *ticketRepository) ListOpen(ctx context.Context, filter OpenFilter) ([]domain.Ticket, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	q := psql.Select(ticketColumns).From(ticketFrom).
		Where(sq.Gt{"t.id": filter.AfterID}).
		OrderBy("t.id ASC").
		Limit(uint64(limit))
	if len(filter.FinalStatuses) > 0 {
		q = q.Where(sq.NotEq{"t.status_code": filter.FinalStatuses})
	}
	return r.queryTickets(ctx, q)
}

func (r *ticketRepository) SaveNotificationRefs(ctx context.Context, id int64, refs domain.NotificationRefs) error {
	payload, err := json.Marshal(refs)
	if err != nil {
		return err
	}
	const query = `
        UPDATE tickets SET metadata = jsonb_set(COALESCE(metadata, '{}'::jsonb), '{notifications}', $2::jsonb, true)
        WHERE id=$1`
	cmd, err := r.q.Exec(ctx, query, id, payload)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ticketRepository) queryTickets(ctx context.Context, q sq.SelectBuilder) ([]domain.Ticket, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var (
		t        domain.Ticket
		metadata []byte
	)
	if err := row.Scan(
		&t.ID,
		&t.CategoryID,
		&t.SubcategoryID,
		&t.SubSubcategoryID,
		&t.Description,
		&t.Location,
		&t.CreatedBy,
		&t.AssignedTo,
		&t.StatusCode,
		&t.EscalationLevel,
		&t.ReopenCount,
		&t.TATExtensionCount,
		&t.GroupID,
		&t.GroupScope,
		&metadata,
		&t.CreatedAt,
		&t.UpdatedAt,
		&t.DueAt,
		&t.ResolvedAt,
		&t.AcknowledgedAt,
		&t.ReopenedAt,
		&t.LastEscalatedAt,
		&t.SLABreachedAt,
	); err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &t.State); err != nil {
			return nil, fmt.Errorf("decode metadata for ticket %d: %w", t.ID, err)
		}
	}
	return &t, nil
}

// IsConflict reports whether err came from a failed update guard.
func IsConflict(err error) bool {
	return errors.Is(err, ErrPreconditionFailed)
}
