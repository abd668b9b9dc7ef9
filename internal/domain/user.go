package domain

import "time"

// User is anyone who can raise or own tickets. Responsible parties are users
// with a domain and, for location-split domains, a scope.
type User struct {
	ID        string
	Name      string
	Email     string
	Role      Role
	Domain    string
	Scope     string
	Scopes    []string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Actor returns the user as a verified actor.
func (u *User) Actor() Actor {
	return Actor{ID: u.ID, Role: u.Role, Scopes: append([]string(nil), u.Scopes...)}
}
