package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Tickets() TicketRepository { return NewTicketRepository(s.pool) }
func (s *PostgresStore) Outbox() OutboxRepository { return NewOutboxRepository(s.pool) }
func (s *PostgresStore) History() TicketHistoryRepository { return NewTicketHistoryRepository(s.pool) }
func (s *PostgresStore) Groups() TicketGroupRepository { return NewTicketGroupRepository(s.pool) }
func (s *PostgresStore) Reference() ReferenceRepository { return NewReferenceRepository(s.pool) }
func (s *PostgresStore) Users() UserRepository { return NewUserRepository(s.pool) }

// Ping verifies connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return errors.New("postgres pool not configured")
	}
	return s.pool.Ping(ctx)
}

// WithinTx runs fn in one transaction. Any error or panic rolls everything back.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) (err error) {
	pgxTx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = pgxTx.Rollback(ctx)
			panic(p)
		} else if err != nil {
			_ = pgxTx.Rollback(ctx)
		} else {
			if err = pgxTx.Commit(ctx); err != nil {
				err = fmt.Errorf("commit transaction: %w", err)
			}
		}
	}()

	err = fn(ctx, &pgTx{q: pgxTx})
	return err
}

type pgTx struct {
	q Querier
}

func (t *pgTx) Tickets() TicketRepository { return NewTicketRepository(t.q) }
func (t *pgTx) Outbox() OutboxRepository { return NewOutboxRepository(t.q) }
func (t *pgTx) History() TicketHistoryRepository { return NewTicketHistoryRepository(t.q) }
func (t *pgTx) Groups() TicketGroupRepository { return NewTicketGroupRepository(t.q) }
