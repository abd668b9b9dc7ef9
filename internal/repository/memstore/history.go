package memstore

import (
	"context"
	"time"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/repository"
)

type historyRepo struct {
	s    *Store
	lock bool
}

func (r *historyRepo) Create(_ context.Context, history *domain.TicketHistory) error {
	defer r.s.guard(r.lock)()
	st := r.s.state
	if _, ok := st.tickets[history.TicketID]; !ok {
		return repository.ErrNotFound
	}
	st.nextHistoryID++
	history.ID = st.nextHistoryID
	history.CreatedAt = r.s.clock()
	st.history = append(st.history, *history)
	return nil
}

func (r *historyRepo) ListByTicket(_ context.Context, ticketID int64) ([]domain.TicketHistory, error) {
	defer r.s.guard(r.lock)()
	var result []domain.TicketHistory
	for _, h := range r.s.state.history {
		if h.TicketID == ticketID {
			result = append(result, h)
		}
	}
	return result, nil
}

type groupRepo struct {
	s    *Store
	lock bool
}

func (r *groupRepo) ArchiveIfComplete(_ context.Context, groupID int64, finalStatuses []string, at time.Time) (bool, error) {
	defer r.s.guard(r.lock)()
	g, ok := r.s.state.groups[groupID]
	if !ok || g.IsArchived {
		return false, nil
	}
	for _, t := range r.s.state.tickets {
		if t.GroupID != nil && *t.GroupID == groupID && !contains(finalStatuses, t.StatusCode) {
			return false, nil
		}
	}
	archivedAt := at
	g.IsArchived = true
	g.ArchivedAt = &archivedAt
	return true, nil
}
