package repository

import (
	"context"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = pgx.ErrNoRows
	// ErrPreconditionFailed is returned when a guarded write matched no row
	// because the row changed since it was read.
	ErrPreconditionFailed = errors.New("repository: precondition failed")
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Tx groups the repositories that take part in a ticket mutation.
type Tx interface {
	Tickets() TicketRepository
	Outbox() OutboxRepository
	History() TicketHistoryRepository
	Groups() TicketGroupRepository
}

// Store is the entry point to persistence. Its embedded Tx accessors run
// outside any transaction.
type Store interface {
	Tx
	Reference() ReferenceRepository
	Users() UserRepository
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Ping(ctx context.Context) error
}

// UpdateGuard lists the conditions a ticket row must still meet for an update to apply.
type UpdateGuard struct {
	Status          string
	EscalationLevel *int
	NotStatuses     []string
}

// OpenFilter pages through tickets that are not in a final status.
type OpenFilter struct {
	FinalStatuses []string
	AfterID       int64
	Limit         int
}

// TicketFilter drives ticket listings.
type TicketFilter struct {
	CreatedBy  *string
	AssignedTo *string
	CategoryID *int64
	Statuses   []string
	Limit      int
	Offset     int
}

// ClaimRequest reserves outbox rows for one dispatcher.
type ClaimRequest struct {
	Owner       string
	Now         time.Time
	Lease       time.Duration
	Limit       int
	MaxAttempts int
	// ID restricts the claim to a single row when non-zero.
	ID int64
}

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id int64) (*domain.Ticket, error)
	GetForUpdate(ctx context.Context, id int64) (*domain.Ticket, error)
	Update(ctx context.Context, ticket *domain.Ticket, guard UpdateGuard) error
	List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
	ListOpen(ctx context.Context, filter OpenFilter) ([]domain.Ticket, error)
	SaveNotificationRefs(ctx context.Context, id int64, refs domain.NotificationRefs) error
}

// OutboxRepository stores pending notifications.
type OutboxRepository interface {
	Insert(ctx context.Context, event *domain.OutboxEvent) error
	Claim(ctx context.Context, req ClaimRequest) ([]domain.OutboxEvent, error)
	MarkProcessed(ctx context.Context, id int64, owner string, at time.Time) error
	MarkFailed(ctx context.Context, id int64, owner, reason string, nextAttempt time.Time) error
	ListExhausted(ctx context.Context, maxAttempts, limit int) ([]domain.OutboxEvent, error)
	CountPending(ctx context.Context, maxAttempts int) (int64, error)
}

// TicketHistoryRepository stores audit entries.
type TicketHistoryRepository interface {
	Create(ctx context.Context, history *domain.TicketHistory) error
	ListByTicket(ctx context.Context, ticketID int64) ([]domain.TicketHistory, error)
}

// TicketGroupRepository archives groups whose tickets are all final.
type TicketGroupRepository interface {
	ArchiveIfComplete(ctx context.Context, groupID int64, finalStatuses []string, at time.Time) (bool, error)
}

// ReferenceRepository reads the configuration tables.
type ReferenceRepository interface {
	ListStatuses(ctx context.Context) ([]domain.TicketStatus, error)
	GetCategory(ctx context.Context, id int64) (*domain.Category, error)
	GetSubcategory(ctx context.Context, id int64) (*domain.Subcategory, error)
	ListCategoryFields(ctx context.Context, subcategoryID int64) ([]domain.CategoryField, error)
	ListCategoryAssignments(ctx context.Context, categoryID int64) ([]domain.CategoryAssignment, error)
	ListActiveParties(ctx context.Context, domainName string) ([]domain.User, error)
	ListEscalationRules(ctx context.Context, domainName string) ([]domain.EscalationRule, error)
}

// UserRepository defines persistence access for requesters and responsible parties.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
}
