package domain

// Role identifies what an actor may do to a ticket.
type Role string

const (
	RoleRequester  Role = "requester"
	RoleCommittee  Role = "committee"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
	RoleSystem     Role = "system"
)

// IsAdministrative reports whether the role may act on any ticket.
func (r Role) IsAdministrative() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleRequester, RoleCommittee, RoleAdmin, RoleSuperAdmin, RoleSystem:
		return true
	}
	return false
}

// Actor is a verified caller: either a person or the scheduler.
type Actor struct {
	ID     string
	Role   Role
	Scopes []string
}

// SystemActor is used by sweeps and other unattended work.
func SystemActor() Actor {
	return Actor{ID: "system", Role: RoleSystem}
}

// InScope reports whether any of the actor's scopes tags the ticket,
// either explicitly or through the ticket's group.
func (a Actor) InScope(t *Ticket) bool {
	if t == nil || len(a.Scopes) == 0 {
		return false
	}
	for _, scope := range a.Scopes {
		if scope == "" {
			continue
		}
		if t.GroupScope == scope {
			return true
		}
		for _, tag := range t.State.ScopeTags {
			if tag == scope {
				return true
			}
		}
	}
	return false
}
