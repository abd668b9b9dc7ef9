// Package memstore is an in-memory repository.Store used by tests and by the
// API when no database is configured.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/repository"
	"github.com/spec-kit/ticket-lifecycle/internal/status"
)

// Store keeps tickets, history, groups and the outbox behind one mutex.
// WithinTx holds that mutex for the whole callback and restores a snapshot
// when the callback fails, so transactions are serializable.
type Store struct {
	mu    sync.Mutex
	state *state

	refMu sync.RWMutex
	ref   reference

	clock func() time.Time
}

var _ repository.Store = (*Store)(nil)

type state struct {
	nextTicketID  int64
	nextOutboxID  int64
	nextHistoryID int64
	tickets       map[int64]*domain.Ticket
	outbox        []*domain.OutboxEvent
	history       []domain.TicketHistory
	groups        map[int64]*domain.TicketGroup
}

type reference struct {
	statuses      []domain.TicketStatus
	categories    map[int64]domain.Category
	subcategories map[int64]domain.Subcategory
	fields        []domain.CategoryField
	assignments   []domain.CategoryAssignment
	users         map[string]domain.User
	rules         []domain.EscalationRule
}

// New returns an empty store seeded with the default statuses.
func New() *Store {
	return &Store{
		state: &state{
			tickets: map[int64]*domain.Ticket{},
			groups:  map[int64]*domain.TicketGroup{},
		},
		ref: reference{
			statuses:      status.Defaults(),
			categories:    map[int64]domain.Category{},
			subcategories: map[int64]domain.Subcategory{},
			users:         map[string]domain.User{},
		},
		clock: func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source used for generated timestamps.
func (s *Store) SetClock(clock func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
}

func (s *Store) Tickets() repository.TicketRepository {
	return &ticketRepo{s: s, lock: true}
}

func (s *Store) Outbox() repository.OutboxRepository {
	return &outboxRepo{s: s, lock: true}
}

func (s *Store) History() repository.TicketHistoryRepository {
	return &historyRepo{s: s, lock: true}
}

func (s *Store) Groups() repository.TicketGroupRepository {
	return &groupRepo{s: s, lock: true}
}

func (s *Store) Reference() repository.ReferenceRepository {
	return &referenceRepo{s: s}
}

func (s *Store) Users() repository.UserRepository {
	return &userRepo{s: s}
}

func (s *Store) Ping(context.Context) error { return nil }

// WithinTx runs fn while holding the store lock. Calling the Store's own
// accessors from inside fn deadlocks; use the tx argument instead.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	defer func() {
		if p := recover(); p != nil {
			s.state = snapshot
			panic(p)
		} else if err != nil {
			s.state = snapshot
		}
	}()

	err = fn(ctx, &txView{s: s})
	return err
}

type txView struct {
	s *Store
}

func (t *txView) Tickets() repository.TicketRepository {
	return &ticketRepo{s: t.s}
}

func (t *txView) Outbox() repository.OutboxRepository {
	return &outboxRepo{s: t.s}
}

func (t *txView) History() repository.TicketHistoryRepository {
	return &historyRepo{s: t.s}
}

func (t *txView) Groups() repository.TicketGroupRepository {
	return &groupRepo{s: t.s}
}

// guard locks the store for repositories used outside a transaction.
func (s *Store) guard(lock bool) func() {
	if !lock {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (st *state) clone() *state {
	c := &state{
		nextTicketID:  st.nextTicketID,
		nextOutboxID:  st.nextOutboxID,
		nextHistoryID: st.nextHistoryID,
		tickets:       make(map[int64]*domain.Ticket, len(st.tickets)),
		outbox:        make([]*domain.OutboxEvent, 0, len(st.outbox)),
		history:       append([]domain.TicketHistory(nil), st.history...),
		groups:        make(map[int64]*domain.TicketGroup, len(st.groups)),
	}
	for id, t := range st.tickets {
		c.tickets[id] = t.Clone()
	}
	for _, ev := range st.outbox {
		c.outbox = append(c.outbox, cloneEvent(ev))
	}
	for id, g := range st.groups {
		cp := *g
		c.groups[id] = &cp
	}
	return c
}
