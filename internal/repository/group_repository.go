package repository

import (
	"context"
	"time"
)

type ticketGroupRepository struct {
	q Querier
}

// NewTicketGroupRepository builds repository.
func NewTicketGroupRepository(q Querier) TicketGroupRepository {
	return &ticketGroupRepository{q: q}
}

// ArchiveIfComplete archives the group when every member ticket is final.
// It reports whether this call archived it.
func (r *ticketGroupRepository) ArchiveIfComplete(ctx context.Context, groupID int64, finalStatuses []string, at time.Time) (bool, error) {
	const query = `
        UPDATE ticket_groups SET is_archived=TRUE, archived_at=$3
        WHERE id=$1 AND NOT is_archived
          AND NOT EXISTS (
              SELECT 1 FROM tickets WHERE group_id=$1 AND NOT (status_code = ANY($2))
          )`
	cmd, err := r.q.Exec(ctx, query, groupID, finalStatuses, at)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}
