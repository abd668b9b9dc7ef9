package memstore

import (
	"sort"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
)

// SetStatuses replaces the status table.
func (s *Store) SetStatuses(statuses []domain.TicketStatus) {
	s.refMu.Lock()
	defer s.refMu.Unlock()
	s.ref.statuses = append([]domain.TicketStatus(nil), statuses...)
}

// AddCategory stores or replaces a category.
func (s *Store) AddCategory(c domain.Category) {
	s.refMu.Lock()
	defer s.refMu.Unlock()
	s.ref.categories[c.ID] = c
}

// AddSubcategory stores or replaces a subcategory.
func (s *Store) AddSubcategory(sub domain.Subcategory) {
	s.refMu.Lock()
	defer s.refMu.Unlock()
	s.ref.subcategories[sub.ID] = sub
}

// AddCategoryField appends a dynamic field definition.
func (s *Store) AddCategoryField(f domain.CategoryField) {
	s.refMu.Lock()
	defer s.refMu.Unlock()
	s.ref.fields = append(s.ref.fields, f)
}

// AddCategoryAssignment links a party to a category.
func (s *Store) AddCategoryAssignment(a domain.CategoryAssignment) {
	s.refMu.Lock()
	defer s.refMu.Unlock()
	s.ref.assignments = append(s.ref.assignments, a)
}

// AddUser stores or replaces a user.
func (s *Store) AddUser(u domain.User) {
	s.refMu.Lock()
	defer s.refMu.Unlock()
	s.ref.users[u.ID] = u
}

// AddEscalationRule appends a rule and assigns it an id when missing.
func (s *Store) AddEscalationRule(rule domain.EscalationRule) {
	s.refMu.Lock()
	defer s.refMu.Unlock()
	if rule.ID == 0 {
		rule.ID = int64(len(s.ref.rules) + 1)
	}
	s.ref.rules = append(s.ref.rules, rule)
	sort.SliceStable(s.ref.rules, func(i, j int) bool {
		a, b := s.ref.rules[i], s.ref.rules[j]
		if a.Level != b.Level {
			return a.Level < b.Level
		}
		if (a.Scope == "") != (b.Scope == "") {
			return a.Scope != ""
		}
		return a.ID < b.ID
	})
}

// AddGroup stores or replaces a ticket group.
func (s *Store) AddGroup(g domain.TicketGroup) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := g
	s.state.groups[g.ID] = &cp
}

// Group returns a copy of a stored group.
func (s *Store) Group(id int64) (domain.TicketGroup, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.state.groups[id]
	if !ok {
		return domain.TicketGroup{}, false
	}
	return *g, true
}

// OutboxEvents returns copies of every outbox row in insertion order.
func (s *Store) OutboxEvents() []domain.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.OutboxEvent, 0, len(s.state.outbox))
	for _, ev := range s.state.outbox {
		out = append(out, *cloneEvent(ev))
	}
	return out
}
