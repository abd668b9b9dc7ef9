// Package lifecycle applies status transitions to tickets.
package lifecycle

import "github.com/spec-kit/ticket-lifecycle/internal/domain"

// Relation describes how an actor relates to a particular ticket.
type Relation struct {
	IsCreator bool
	InScope   bool
}

// RelationOf computes the actor's relation to t.
func RelationOf(actor domain.Actor, t *domain.Ticket) Relation {
	return Relation{
		IsCreator: t != nil && actor.ID != "" && actor.ID == t.CreatedBy,
		InScope:   actor.InScope(t),
	}
}

// CanTransition is the single permission check for status changes.
func CanTransition(role domain.Role, rel Relation, current, target domain.TicketStatus) bool {
	switch role {
	case domain.RoleAdmin, domain.RoleSuperAdmin, domain.RoleSystem:
		return true
	case domain.RoleCommittee:
		return rel.InScope
	case domain.RoleRequester:
		if !rel.IsCreator {
			return false
		}
		if current.IsFinal {
			return target.Code == domain.StatusReopened
		}
		return target.Code == domain.StatusClosed && selfClosable[current.Code]
	}
	return false
}

// selfClosable lists the statuses a requester may close their own ticket from.
var selfClosable = map[string]bool{
	domain.StatusOpen:              true,
	domain.StatusInProgress:        true,
	domain.StatusAwaitingRequester: true,
	domain.StatusReopened:          true,
}

// CanManage covers TAT changes and manual escalation.
func CanManage(role domain.Role, rel Relation) bool {
	switch role {
	case domain.RoleAdmin, domain.RoleSuperAdmin, domain.RoleSystem:
		return true
	case domain.RoleCommittee:
		return rel.InScope
	}
	return false
}

// CanForward reports whether the role may hand a ticket to another party.
func CanForward(role domain.Role) bool {
	return role.IsAdministrative()
}

// CanComment reports whether the actor may add a note to the ticket.
func CanComment(role domain.Role, rel Relation) bool {
	if role == domain.RoleRequester {
		return rel.IsCreator
	}
	return CanManage(role, rel)
}

// CanView reports whether the actor may read the ticket.
func CanView(actor domain.Actor, t *domain.Ticket) bool {
	rel := RelationOf(actor, t)
	if CanComment(actor.Role, rel) {
		return true
	}
	return t.AssignedTo != nil && *t.AssignedTo == actor.ID
}
