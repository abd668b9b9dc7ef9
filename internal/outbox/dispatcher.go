package outbox

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-lifecycle/internal/config"
	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/events"
	"github.com/spec-kit/ticket-lifecycle/internal/observability"
	"github.com/spec-kit/ticket-lifecycle/internal/repository"
	apperrors "github.com/spec-kit/ticket-lifecycle/pkg/util/errorutil"
)

const maxErrorLength = 1000

// Result summarizes one drain pass.
type Result struct {
	Claimed   int `json:"claimed"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Exhausted int `json:"exhausted"`
}

// Dispatcher claims pending rows and hands them to the registered handlers.
type Dispatcher struct {
	store    repository.Store
	registry *events.Registry
	cfg      config.OutboxConfig
	owner    string
	logger   *zap.Logger
	metrics  *observability.Metrics

	clock   func() time.Time
	backoff func(attempt int) time.Duration

	inflight sync.WaitGroup
}

// NewDispatcher builds a dispatcher with a unique lease owner name.
func NewDispatcher(store repository.Store, registry *events.Registry, cfg config.OutboxConfig, logger *zap.Logger, metrics *observability.Metrics) *Dispatcher {
	host, _ := os.Hostname()
	if host == "" {
		host = "dispatcher"
	}
	d := &Dispatcher{
		store:    store,
		registry: registry,
		cfg:      cfg,
		owner:    fmt.Sprintf("%s-%s", host, uuid.NewString()[:8]),
		logger:   logger,
		metrics:  metrics,
		clock:    func() time.Time { return time.Now().UTC() },
	}
	d.backoff = func(attempt int) time.Duration {
		return backoffWithJitter(cfg.BackoffBase(), cfg.BackoffMax(), attempt)
	}
	return d
}

// Owner returns the lease owner this dispatcher claims rows as.
func (d *Dispatcher) Owner() string {
	return d.owner
}

// Drain claims up to limit due rows, oldest first, and delivers each one.
func (d *Dispatcher) Drain(ctx context.Context, limit int) (Result, error) {
	if limit <= 0 {
		limit = d.cfg.BatchSize
	}
	claimed, err := d.store.Outbox().Claim(ctx, d.claimRequest(limit, 0))
	if err != nil {
		return Result{}, fmt.Errorf("claim outbox events: %w", err)
	}

	res := Result{Claimed: len(claimed)}
	for i := range claimed {
		if ctx.Err() != nil {
			// unprocessed claims become visible again once the lease expires
			break
		}
		switch d.deliver(ctx, &claimed[i]) {
		case outcomeDelivered:
			res.Delivered++
		case outcomeExhausted:
			res.Exhausted++
		default:
			res.Failed++
		}
	}

	if res.Claimed > 0 {
		d.logger.Info("outbox drained",
			zap.Int("claimed", res.Claimed),
			zap.Int("delivered", res.Delivered),
			zap.Int("failed", res.Failed),
			zap.Int("exhausted", res.Exhausted),
		)
	}
	return res, nil
}

// DeliverOne claims and delivers a single row. It reports false when the
// row was not claimable: already processed, leased elsewhere or backing off.
func (d *Dispatcher) DeliverOne(ctx context.Context, id int64) (bool, error) {
	claimed, err := d.store.Outbox().Claim(ctx, d.claimRequest(1, id))
	if err != nil {
		return false, fmt.Errorf("claim outbox event %d: %w", id, err)
	}
	if len(claimed) == 0 {
		return false, nil
	}
	return d.deliver(ctx, &claimed[0]) == outcomeDelivered, nil
}

// Kick delivers id in the background once the enqueuing transaction has
// committed. A failure leaves the row for the next drain.
func (d *Dispatcher) Kick(id int64) {
	if !d.cfg.ImmediateDelivery || id == 0 {
		return
	}
	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Lease())
		defer cancel()
		if _, err := d.DeliverOne(ctx, id); err != nil {
			d.logger.Warn("immediate delivery failed", zap.Int64("outbox_id", id), zap.Error(err))
		}
	}()
}

// Wait blocks until every kicked delivery has returned.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}

// ListExhausted returns rows that reached the attempt cap.
func (d *Dispatcher) ListExhausted(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	return d.store.Outbox().ListExhausted(ctx, d.cfg.MaxAttempts, limit)
}

// RefreshBacklog updates the pending and exhausted gauges.
func (d *Dispatcher) RefreshBacklog(ctx context.Context) error {
	pending, err := d.store.Outbox().CountPending(ctx, d.cfg.MaxAttempts)
	if err != nil {
		return err
	}
	exhausted, err := d.store.Outbox().ListExhausted(ctx, d.cfg.MaxAttempts, 1000)
	if err != nil {
		return err
	}
	d.metrics.SetOutboxBacklog(int(pending), len(exhausted))
	return nil
}

func (d *Dispatcher) claimRequest(limit int, id int64) repository.ClaimRequest {
	return repository.ClaimRequest{
		Owner:       d.owner,
		Now:         d.clock(),
		Lease:       d.cfg.Lease(),
		Limit:       limit,
		MaxAttempts: d.cfg.MaxAttempts,
		ID:          id,
	}
}

type outcome int

const (
	outcomeDelivered outcome = iota
	outcomeFailed
	outcomeExhausted
)

func (d *Dispatcher) deliver(ctx context.Context, row *domain.OutboxEvent) outcome {
	event := events.Event{
		ID:        row.EventID,
		Type:      events.EventType(row.EventType),
		Attempt:   row.Attempts + 1,
		Timestamp: row.CreatedAt,
		Payload:   row.Payload,
	}
	if row.TicketID != nil {
		event.TicketID = *row.TicketID
	}
	log := d.logger.With(
		zap.Int64("outbox_id", row.ID),
		zap.String("event_id", row.EventID),
		zap.String("event_type", row.EventType),
		zap.Int64("ticket_id", event.TicketID),
		zap.Int("attempt", event.Attempt),
	)

	handleErr := d.registry.Handle(ctx, event, func(parent context.Context) (context.Context, context.CancelFunc) {
		return context.WithTimeout(parent, d.cfg.SendTimeout())
	})
	now := d.clock()

	if handleErr == nil {
		if err := d.store.Outbox().MarkProcessed(ctx, row.ID, d.owner, now); err != nil {
			if errors.Is(err, repository.ErrPreconditionFailed) {
				// another dispatcher took the lease over; it will deliver again
				log.Warn("outbox lease lost before completion")
			} else {
				log.Error("mark outbox event processed", zap.Error(err))
			}
		}
		d.metrics.OutboxDelivered()
		return outcomeDelivered
	}

	d.metrics.OutboxFailed(row.EventType)
	reason := apperrors.NewDeliveryError(row.EventType, handleErr).Error()
	reason = truncateReason(reason, maxErrorLength)
	attempts := row.Attempts + 1
	next := now.Add(d.backoff(attempts))
	if err := d.store.Outbox().MarkFailed(ctx, row.ID, d.owner, reason, next); err != nil {
		log.Error("record outbox failure", zap.Error(err), zap.NamedError("delivery_error", handleErr))
		return outcomeFailed
	}

	if attempts >= d.cfg.MaxAttempts {
		log.Error("outbox event exhausted", zap.Error(handleErr))
		return outcomeExhausted
	}
	log.Warn("outbox delivery failed", zap.Error(handleErr), zap.Time("next_attempt_at", next))
	return outcomeFailed
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max || wait <= 0 {
		wait = max
	}
	if wait < 2 {
		return wait
	}
	jitter := time.Duration(rand.Int63n(int64(wait / 2)))
	return wait/2 + jitter
}

// truncateReason cuts s to at most n bytes without splitting a rune, so the
// stored error stays valid UTF-8.
func truncateReason(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
