package memstore

import (
	"context"
	"sort"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/repository"
)

type ticketRepo struct {
	s    *Store
	lock bool
}

func (r *ticketRepo) Create(_ context.Context, ticket *domain.Ticket) error {
	defer r.s.guard(r.lock)()
	st := r.s.state
	st.nextTicketID++
	ticket.ID = st.nextTicketID
	now := r.s.clock()
	if ticket.CreatedAt.IsZero() {
		ticket.CreatedAt = now
	}
	if ticket.UpdatedAt.IsZero() {
		ticket.UpdatedAt = ticket.CreatedAt
	}
	stored := ticket.Clone()
	stored.GroupScope = ""
	st.tickets[ticket.ID] = stored
	ticket.GroupScope = r.groupScope(stored)
	return nil
}

func (r *ticketRepo) GetByID(_ context.Context, id int64) (*domain.Ticket, error) {
	defer r.s.guard(r.lock)()
	return r.get(id)
}

func (r *ticketRepo) GetForUpdate(_ context.Context, id int64) (*domain.Ticket, error) {
	defer r.s.guard(r.lock)()
	return r.get(id)
}

func (r *ticketRepo) get(id int64) (*domain.Ticket, error) {
	t, ok := r.s.state.tickets[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := t.Clone()
	out.GroupScope = r.groupScope(t)
	return out, nil
}

func (r *ticketRepo) groupScope(t *domain.Ticket) string {
	if t.GroupID == nil {
		return ""
	}
	if g, ok := r.s.state.groups[*t.GroupID]; ok {
		return g.Scope
	}
	return ""
}

func (r *ticketRepo) Update(_ context.Context, ticket *domain.Ticket, guard repository.UpdateGuard) error {
	defer r.s.guard(r.lock)()
	current, ok := r.s.state.tickets[ticket.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if guard.Status != "" && current.StatusCode != guard.Status {
		return repository.ErrPreconditionFailed
	}
	if guard.EscalationLevel != nil && current.EscalationLevel != *guard.EscalationLevel {
		return repository.ErrPreconditionFailed
	}
	for _, code := range guard.NotStatuses {
		if current.StatusCode == code {
			return repository.ErrPreconditionFailed
		}
	}

	next := ticket.Clone()
	// columns the update statement never touches
	next.CategoryID = current.CategoryID
	next.SubcategoryID = current.SubcategoryID
	next.SubSubcategoryID = current.SubSubcategoryID
	next.Description = current.Description
	next.Location = current.Location
	next.CreatedBy = current.CreatedBy
	next.GroupID = current.GroupID
	next.GroupScope = ""
	next.CreatedAt = current.CreatedAt
	r.s.state.tickets[ticket.ID] = next
	return nil
}

func (r *ticketRepo) List(_ context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	defer r.s.guard(r.lock)()
	var matched []domain.Ticket
	for _, t := range r.s.state.tickets {
		if filter.CreatedBy != nil && t.CreatedBy != *filter.CreatedBy {
			continue
		}
		if filter.AssignedTo != nil && (t.AssignedTo == nil || *t.AssignedTo != *filter.AssignedTo) {
			continue
		}
		if filter.CategoryID != nil && t.CategoryID != *filter.CategoryID {
			continue
		}
		if len(filter.Statuses) > 0 && !contains(filter.Statuses, t.StatusCode) {
			continue
		}
		out := t.Clone()
		out.GroupScope = r.groupScope(t)
		matched = append(matched, *out)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(matched) {
		return nil, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

func (r *ticketRepo) ListOpen(_ context.Context, filter repository.OpenFilter) ([]domain.Ticket, error) {
	defer r.s.guard(r.lock)()
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	ids := make([]int64, 0, len(r.s.state.tickets))
	for id, t := range r.s.state.tickets {
		if id <= filter.AfterID || contains(filter.FinalStatuses, t.StatusCode) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	result := make([]domain.Ticket, 0, len(ids))
	for _, id := range ids {
		t := r.s.state.tickets[id]
		out := t.Clone()
		out.GroupScope = r.groupScope(t)
		result = append(result, *out)
	}
	return result, nil
}

func (r *ticketRepo) SaveNotificationRefs(_ context.Context, id int64, refs domain.NotificationRefs) error {
	defer r.s.guard(r.lock)()
	t, ok := r.s.state.tickets[id]
	if !ok {
		return repository.ErrNotFound
	}
	t.State.Notifications = refs
	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
