package lifecycle

import (
	"time"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/status"
	"github.com/spec-kit/ticket-lifecycle/internal/tat"
	apperrors "github.com/spec-kit/ticket-lifecycle/pkg/util/errorutil"
)

// Transition reports what Apply changed.
type Transition struct {
	From             domain.TicketStatus
	To               domain.TicketStatus
	Requested        string
	Rewritten        bool
	Reassigned       bool
	PreviousAssignee *string
	Reopened         bool
	Paused           bool
	Resumed          bool
	Acknowledged     bool
}

// Machine validates and applies status changes in memory. Persisting the
// result is the caller's job.
type Machine struct {
	statuses *status.Registry
	tat      *tat.Engine
}

// NewMachine builds a machine over the status table and TAT engine.
func NewMachine(statuses *status.Registry, engine *tat.Engine) *Machine {
	return &Machine{statuses: statuses, tat: engine}
}

// Apply moves t to the requested status on behalf of actor. On error t is untouched.
func (m *Machine) Apply(t *domain.Ticket, requested string, actor domain.Actor, now time.Time) (Transition, error) {
	target, err := m.statuses.Resolve(requested)
	if err != nil {
		return Transition{}, err
	}
	current, ok := m.statuses.Lookup(t.StatusCode)
	if !ok {
		current = domain.TicketStatus{Code: t.StatusCode, Label: t.StatusCode}
	}

	tr := Transition{From: current, Requested: requested}

	if current.IsFinal && target.Code == domain.StatusOpen {
		reopened, err := m.statuses.Resolve(domain.StatusReopened)
		if err != nil {
			return Transition{}, err
		}
		target = reopened
		tr.Rewritten = true
	}
	tr.To = target

	if target.Code == current.Code {
		return Transition{}, apperrors.NewValidationError("status unchanged", map[string]any{"status": current.Code})
	}
	if !CanTransition(actor.Role, RelationOf(actor, t), current, target) {
		return Transition{}, apperrors.NewForbidden("transition not permitted")
	}

	if current.Code == domain.StatusAwaitingRequester {
		tr.Resumed = m.tat.Resume(t, now)
	}
	if target.Code == domain.StatusAwaitingRequester {
		tr.Paused = m.tat.Pause(t, now)
	}

	switch {
	case target.IsFinal:
		at := now
		t.ResolvedAt = &at
	case target.Code == domain.StatusReopened:
		at := now
		t.ReopenedAt = &at
		t.ReopenCount++
		t.ResolvedAt = nil
		m.tat.ResetCycle(t)
		tr.Reopened = true
	}

	if t.AcknowledgedAt == nil && current.Code == domain.StatusOpen && actor.Role != domain.RoleRequester {
		at := now
		t.AcknowledgedAt = &at
		tr.Acknowledged = true
	}

	if actor.Role.IsAdministrative() && (t.AssignedTo == nil || *t.AssignedTo != actor.ID) {
		tr.PreviousAssignee = t.AssignedTo
		id := actor.ID
		t.AssignedTo = &id
		tr.Reassigned = true
	}

	t.StatusCode = target.Code
	t.UpdatedAt = now
	return tr, nil
}

// Statuses exposes the registry the machine validates against.
func (m *Machine) Statuses() *status.Registry {
	return m.statuses
}
