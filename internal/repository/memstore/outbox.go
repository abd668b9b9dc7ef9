package memstore

import (
	"context"
	"fmt"
	"time"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/repository"
)

type outboxRepo struct {
	s    *Store
	lock bool
}

func (r *outboxRepo) Insert(_ context.Context, event *domain.OutboxEvent) error {
	defer r.s.guard(r.lock)()
	st := r.s.state
	for _, existing := range st.outbox {
		if existing.EventID == event.EventID {
			return fmt.Errorf("outbox event %s already exists", event.EventID)
		}
	}
	st.nextOutboxID++
	now := r.s.clock()
	event.ID = st.nextOutboxID
	event.CreatedAt = now
	event.NextAttemptAt = now
	st.outbox = append(st.outbox, cloneEvent(event))
	return nil
}

func (r *outboxRepo) Claim(_ context.Context, req repository.ClaimRequest) ([]domain.OutboxEvent, error) {
	defer r.s.guard(r.lock)()
	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	owner := req.Owner
	until := req.Now.Add(req.Lease)

	var claimed []domain.OutboxEvent
	for _, ev := range r.s.state.outbox {
		if len(claimed) >= limit {
			break
		}
		if req.ID != 0 && ev.ID != req.ID {
			continue
		}
		if ev.ProcessedAt != nil || ev.Attempts >= req.MaxAttempts || ev.NextAttemptAt.After(req.Now) {
			continue
		}
		if ev.LockedUntil != nil && !ev.LockedUntil.Before(req.Now) {
			continue
		}
		ev.LockedBy = &owner
		lockedUntil := until
		ev.LockedUntil = &lockedUntil
		claimed = append(claimed, *cloneEvent(ev))
	}
	return claimed, nil
}

func (r *outboxRepo) MarkProcessed(_ context.Context, id int64, owner string, at time.Time) error {
	defer r.s.guard(r.lock)()
	ev := r.leased(id, owner)
	if ev == nil {
		return repository.ErrPreconditionFailed
	}
	processed := at
	ev.ProcessedAt = &processed
	ev.LockedBy = nil
	ev.LockedUntil = nil
	ev.LastError = nil
	return nil
}

func (r *outboxRepo) MarkFailed(_ context.Context, id int64, owner, reason string, nextAttempt time.Time) error {
	defer r.s.guard(r.lock)()
	ev := r.leased(id, owner)
	if ev == nil {
		return repository.ErrPreconditionFailed
	}
	ev.Attempts++
	msg := reason
	ev.LastError = &msg
	ev.NextAttemptAt = nextAttempt
	ev.LockedBy = nil
	ev.LockedUntil = nil
	return nil
}

func (r *outboxRepo) leased(id int64, owner string) *domain.OutboxEvent {
	for _, ev := range r.s.state.outbox {
		if ev.ID != id {
			continue
		}
		if ev.ProcessedAt != nil || ev.LockedBy == nil || *ev.LockedBy != owner {
			return nil
		}
		return ev
	}
	return nil
}

func (r *outboxRepo) ListExhausted(_ context.Context, maxAttempts, limit int) ([]domain.OutboxEvent, error) {
	defer r.s.guard(r.lock)()
	if limit <= 0 {
		limit = 100
	}
	var result []domain.OutboxEvent
	for _, ev := range r.s.state.outbox {
		if len(result) >= limit {
			break
		}
		if ev.ProcessedAt == nil && ev.Attempts >= maxAttempts {
			result = append(result, *cloneEvent(ev))
		}
	}
	return result, nil
}

func (r *outboxRepo) CountPending(_ context.Context, maxAttempts int) (int64, error) {
	defer r.s.guard(r.lock)()
	var count int64
	for _, ev := range r.s.state.outbox {
		if ev.ProcessedAt == nil && ev.Attempts < maxAttempts {
			count++
		}
	}
	return count, nil
}

func cloneEvent(ev *domain.OutboxEvent) *domain.OutboxEvent {
	c := *ev
	c.Payload = append([]byte(nil), ev.Payload...)
	if ev.TicketID != nil {
		v := *ev.TicketID
		c.TicketID = &v
	}
	if ev.ProcessedAt != nil {
		v := *ev.ProcessedAt
		c.ProcessedAt = &v
	}
	if ev.LastError != nil {
		v := *ev.LastError
		c.LastError = &v
	}
	if ev.LockedBy != nil {
		v := *ev.LockedBy
		c.LockedBy = &v
	}
	if ev.LockedUntil != nil {
		v := *ev.LockedUntil
		c.LockedUntil = &v
	}
	return &c
}
