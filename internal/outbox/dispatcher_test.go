package outbox

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-lifecycle/internal/config"
	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/events"
	"github.com/spec-kit/ticket-lifecycle/internal/repository"
	"github.com/spec-kit/ticket-lifecycle/internal/repository/memstore"
)

type fixture struct {
	store      *memstore.Store
	registry   *events.Registry
	dispatcher *Dispatcher
	outbox     *Outbox
	now        time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    memstore.New(),
		registry: events.NewRegistry(),
		outbox:   New(),
		now:      time.Date(2026, time.October, 19, 9, 0, 0, 0, time.UTC),
	}
	f.store.SetClock(func() time.Time { return f.now })
	cfg := config.OutboxConfig{
		BatchSize:          10,
		MaxAttempts:        3,
		LeaseSeconds:       60,
		SendTimeoutSeconds: 5,
		BackoffBaseSeconds: 30,
		BackoffMaxSeconds:  600,
		ImmediateDelivery:  true,
	}
	f.dispatcher = NewDispatcher(f.store, f.registry, cfg, zap.NewNop(), nil)
	f.dispatcher.clock = func() time.Time { return f.now }
	f.dispatcher.backoff = func(int) time.Duration { return time.Minute }
	return f
}

func (f *fixture) enqueue(t *testing.T, ticketID int64) *domain.OutboxEvent {
	t.Helper()
	var ev *domain.OutboxEvent
	err := f.store.WithinTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		var err error
		ev, err = f.outbox.Enqueue(ctx, tx, events.EventTicketCreated, ticketID, events.TicketCreatedPayload{Status: domain.StatusOpen})
		return err
	})
	require.NoError(t, err)
	return ev
}

func TestEnqueueRollsBackWithTransaction(t *testing.T) {
	f := newFixture(t)
	err := f.store.WithinTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		if _, err := f.outbox.Enqueue(ctx, tx, events.EventTicketCreated, 1, map[string]string{"a": "b"}); err != nil {
			return err
		}
		return errors.New("mutation failed")
	})
	require.Error(t, err)
	assert.Empty(t, f.store.OutboxEvents())
}

func TestDrainDeliversOnce(t *testing.T) {
	f := newFixture(t)
	var calls int32
	f.registry.Subscribe(events.EventTicketCreated, "chat", func(_ context.Context, ev events.Event) error {
		atomic.AddInt32(&calls, 1)
		assert.EqualValues(t, 42, ev.TicketID)
		assert.Equal(t, 1, ev.Attempt)
		return nil
	})
	first := f.enqueue(t, 42)
	f.enqueue(t, 42)

	res, err := f.dispatcher.Drain(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, Result{Claimed: 2, Delivered: 2}, res)

	res, err = f.dispatcher.Drain(context.Background(), 0)
	require.NoError(t, err)
	assert.Zero(t, res.Claimed)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))

	rows := f.store.OutboxEvents()
	assert.Equal(t, first.EventID, rows[0].EventID)
	assert.NotNil(t, rows[0].ProcessedAt)
	assert.Nil(t, rows[0].LockedBy)
}

func TestDrainRetriesUntilExhausted(t *testing.T) {
	f := newFixture(t)
	f.registry.Subscribe(events.EventTicketCreated, "email", func(context.Context, events.Event) error {
		return errors.New("smtp unavailable")
	})
	f.enqueue(t, 7)

	res, err := f.dispatcher.Drain(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, Result{Claimed: 1, Failed: 1}, res)

	// still backing off
	res, err = f.dispatcher.Drain(context.Background(), 0)
	require.NoError(t, err)
	assert.Zero(t, res.Claimed)

	f.now = f.now.Add(2 * time.Minute)
	res, err = f.dispatcher.Drain(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	f.now = f.now.Add(2 * time.Minute)
	res, err = f.dispatcher.Drain(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, Result{Claimed: 1, Exhausted: 1}, res)

	f.now = f.now.Add(time.Hour)
	res, err = f.dispatcher.Drain(context.Background(), 0)
	require.NoError(t, err)
	assert.Zero(t, res.Claimed, "exhausted rows are never claimed again")

	exhausted, err := f.dispatcher.ListExhausted(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, exhausted, 1)
	assert.Equal(t, 3, exhausted[0].Attempts)
	require.NotNil(t, exhausted[0].LastError)
	assert.Contains(t, *exhausted[0].LastError, "smtp unavailable")
}

func TestMissingHandlerIsAFailure(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, 1)

	res, err := f.dispatcher.Drain(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	rows := f.store.OutboxEvents()
	require.NotNil(t, rows[0].LastError)
	assert.Contains(t, *rows[0].LastError, "no handler registered")
}

func TestDeliverOneAndKick(t *testing.T) {
	f := newFixture(t)
	var calls int32
	f.registry.Subscribe(events.EventTicketCreated, "chat", func(context.Context, events.Event) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	first := f.enqueue(t, 3)
	second := f.enqueue(t, 3)

	ok, err := f.dispatcher.DeliverOne(context.Background(), first.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.dispatcher.DeliverOne(context.Background(), first.ID)
	require.NoError(t, err)
	assert.False(t, ok, "processed rows are terminal")

	f.dispatcher.Kick(second.ID)
	f.dispatcher.Wait()
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))

	require.NoError(t, f.dispatcher.RefreshBacklog(context.Background()))
}

func TestBackoffWithJitter(t *testing.T) {
	base := 30 * time.Second
	max := 10 * time.Minute

	b1 := backoffWithJitter(base, max, 1)
	assert.GreaterOrEqual(t, b1, base/2)
	assert.LessOrEqual(t, b1, base)

	b3 := backoffWithJitter(base, max, 3)
	assert.GreaterOrEqual(t, b3, 60*time.Second)
	assert.LessOrEqual(t, b3, 120*time.Second)

	assert.LessOrEqual(t, backoffWithJitter(base, max, 30), max)
}

func TestTruncateReasonKeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "short", truncateReason("short", 10))

	// "é" is two bytes; a cut at 4 would split the second one.
	cut := truncateReason("aéé", 4)
	assert.Equal(t, "aé", cut)
	assert.True(t, utf8.ValidString(cut))

	long := strings.Repeat("é", maxErrorLength)
	cut = truncateReason("x"+long, maxErrorLength)
	assert.True(t, utf8.ValidString(cut))
	assert.LessOrEqual(t, len(cut), maxErrorLength)
	assert.Equal(t, maxErrorLength-1, len(cut))
}
