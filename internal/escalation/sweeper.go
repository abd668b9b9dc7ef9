package escalation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/events"
	"github.com/spec-kit/ticket-lifecycle/internal/observability"
	"github.com/spec-kit/ticket-lifecycle/internal/outbox"
	"github.com/spec-kit/ticket-lifecycle/internal/persistence"
	"github.com/spec-kit/ticket-lifecycle/internal/repository"
	"github.com/spec-kit/ticket-lifecycle/internal/status"
	"github.com/spec-kit/ticket-lifecycle/internal/tat"
	apperrors "github.com/spec-kit/ticket-lifecycle/pkg/util/errorutil"
)

const sweepLockKey = "escalation-sweep"

// Report summarizes one sweep.
type Report struct {
	Scanned   int            `json:"scanned"`
	Escalated int            `json:"escalated"`
	Skipped   int            `json:"skipped"`
	Cooldown  int            `json:"cooldown"`
	Conflicts int            `json:"conflicts"`
	Failed    int            `json:"failed"`
	ByReason  map[string]int `json:"by_reason"`
}

// Deps bundles what a Sweeper needs.
type Deps struct {
	Store    repository.Store
	Statuses *status.Registry
	TAT      *tat.Engine
	Outbox   *outbox.Outbox
	Kicker   outbox.Kicker
	Locker   persistence.Locker
	Logger   *zap.Logger
	Metrics  *observability.Metrics
}

// Sweeper escalates tickets that breached a threshold.
type Sweeper struct {
	Deps
	cfg     domain.EscalationConfig
	lockTTL time.Duration
	clock   func() time.Time
}

// NewSweeper builds a sweeper. lockTTL bounds how long one run may hold the sweep lock.
func NewSweeper(deps Deps, cfg domain.EscalationConfig, lockTTL time.Duration) *Sweeper {
	if lockTTL <= 0 {
		lockTTL = 15 * time.Minute
	}
	return &Sweeper{Deps: deps, cfg: cfg, lockTTL: lockTTL, clock: func() time.Time { return time.Now().UTC() }}
}

type outcome int

const (
	outcomeEscalated outcome = iota
	outcomeSkipped
	outcomeCooldown
	outcomeConflict
)

// Result describes a single escalation.
type Result struct {
	Ticket  *domain.Ticket
	Reason  Reason
	Level   int
	RuleID  *int64
	Urgent  bool
	EventID int64
	outcome outcome
}

// Run scans every non-final ticket once. Overlapping runs are rejected with
// a CONFLICT error. Failures on one ticket are logged and counted.
func (s *Sweeper) Run(ctx context.Context) (Report, error) {
	release, err := s.Locker.Acquire(ctx, sweepLockKey, s.lockTTL)
	if err != nil {
		if errors.Is(err, persistence.ErrLockHeld) {
			return Report{}, apperrors.NewConflict("escalation sweep already running", nil)
		}
		return Report{}, fmt.Errorf("acquire sweep lock: %w", err)
	}
	defer release()

	start := s.clock()
	defer func() { s.Metrics.ObserveSweep("escalation", time.Since(start)) }()

	report := Report{ByReason: map[string]int{}}
	final := s.Statuses.FinalCodes()
	limit := s.cfg.BatchSize
	if limit <= 0 {
		limit = 100
	}

	var afterID int64
	for {
		page, err := s.Store.Tickets().ListOpen(ctx, repository.OpenFilter{FinalStatuses: final, AfterID: afterID, Limit: limit})
		if err != nil {
			return report, fmt.Errorf("list open tickets: %w", err)
		}
		for i := range page {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			candidate := &page[i]
			afterID = candidate.ID
			report.Scanned++
			s.sweepOne(ctx, candidate, &report)
		}
		if len(page) < limit {
			break
		}
	}

	s.Logger.Info("escalation sweep finished",
		zap.Int("scanned", report.Scanned),
		zap.Int("escalated", report.Escalated),
		zap.Int("cooldown", report.Cooldown),
		zap.Int("conflicts", report.Conflicts),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

func (s *Sweeper) sweepOne(ctx context.Context, candidate *domain.Ticket, report *Report) {
	now := s.clock()
	if _, ok := Classify(candidate, now, s.cfg); !ok {
		report.Skipped++
		return
	}
	if InCooldown(candidate, now, s.cfg) {
		report.Cooldown++
		return
	}

	res, err := s.escalate(ctx, candidate.ID, domain.SystemActor(), "", false, now)
	if err != nil {
		report.Failed++
		s.Metrics.SweepFailed()
		s.Logger.Error("escalate ticket", zap.Int64("ticket_id", candidate.ID), zap.Error(err))
		return
	}
	switch res.outcome {
	case outcomeEscalated:
		report.Escalated++
		report.ByReason[string(res.Reason)]++
		s.Metrics.Escalated(string(res.Reason))
		s.Kicker.Kick(res.EventID)
	case outcomeCooldown:
		report.Cooldown++
	case outcomeConflict:
		report.Conflicts++
	default:
		report.Skipped++
	}
}

// EscalateTicket escalates one ticket on behalf of an administrator,
// ignoring thresholds and cooldown.
func (s *Sweeper) EscalateTicket(ctx context.Context, actor domain.Actor, ticketID int64, note string) (*Result, error) {
	res, err := s.escalate(ctx, ticketID, actor, note, true, s.clock())
	if err != nil {
		return nil, err
	}
	switch res.outcome {
	case outcomeConflict:
		return nil, apperrors.NewConflict("ticket changed during escalation", map[string]any{"ticket_id": ticketID})
	case outcomeSkipped:
		return nil, apperrors.NewValidationError("ticket is already final", map[string]any{"ticket_id": ticketID})
	}
	s.Metrics.Escalated(string(res.Reason))
	s.Kicker.Kick(res.EventID)
	return res, nil
}

func (s *Sweeper) escalate(ctx context.Context, ticketID int64, actor domain.Actor, note string, manual bool, now time.Time) (*Result, error) {
	res := &Result{outcome: outcomeSkipped}
	err := s.Store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		t, err := tx.Tickets().GetForUpdate(ctx, ticketID)
		if err != nil {
			return err
		}
		if s.Statuses.IsFinal(t.StatusCode) {
			return nil
		}

		class := Classification{Reason: ReasonManual, HoursOverdue: tat.HoursOverdue(t, now)}
		if !manual {
			var ok bool
			if class, ok = Classify(t, now, s.cfg); !ok {
				return nil
			}
			if InCooldown(t, now, s.cfg) {
				res.outcome = outcomeCooldown
				return nil
			}
		}

		category, err := s.Store.Reference().GetCategory(ctx, t.CategoryID)
		if err != nil {
			return fmt.Errorf("load category %d: %w", t.CategoryID, err)
		}
		rules, err := s.Store.Reference().ListEscalationRules(ctx, category.Domain)
		if err != nil {
			return fmt.Errorf("load escalation rules: %w", err)
		}

		before := t.Clone()
		previousLevel := t.EscalationLevel
		t.EscalationLevel++

		payload := events.TicketEscalatedPayload{
			Actor:         events.ActorOf(actor),
			Level:         t.EscalationLevel,
			PreviousLevel: previousLevel,
			Reason:        string(class.Reason),
			HoursOverdue:  class.HoursOverdue,
			Note:          note,
		}
		if before.AssignedTo != nil {
			payload.PreviousAssignee = *before.AssignedTo
		}

		if rule := selectRule(rules, previousLevel, ticketScopes(t, category)); rule != nil {
			party := rule.PartyID
			t.AssignedTo = &party
			ruleID := rule.ID
			payload.RuleID = &ruleID
			payload.Channel = rule.Channel
		} else {
			if s.cfg.SuperAdminID != "" {
				party := s.cfg.SuperAdminID
				t.AssignedTo = &party
			}
			payload.Urgent = s.cfg.UrgentLevel > 0 && t.EscalationLevel >= s.cfg.UrgentLevel
		}
		if t.AssignedTo != nil {
			payload.AssignedTo = *t.AssignedTo
		}

		if t.StatusCode == domain.StatusAwaitingRequester {
			s.TAT.Resume(t, now)
		}
		t.StatusCode = domain.StatusEscalated
		at := now
		t.LastEscalatedAt = &at
		t.UpdatedAt = now
		if t.SLABreachedAt == nil {
			t.SLABreachedAt = earliestBreach(t, now)
		}

		guard := repository.UpdateGuard{EscalationLevel: &previousLevel, NotStatuses: s.Statuses.FinalCodes()}
		if err := tx.Tickets().Update(ctx, t, guard); err != nil {
			if errors.Is(err, repository.ErrPreconditionFailed) {
				res.outcome = outcomeConflict
				return nil
			}
			return err
		}

		if err := tx.History().Create(ctx, &domain.TicketHistory{
			TicketID:    t.ID,
			ChangedBy:   actor.ID,
			ChangedRole: actor.Role,
			ChangeType:  domain.ChangeTypeEscalation,
			OldValue:    map[string]any{"level": previousLevel, "status": before.StatusCode, "assigned_to": payload.PreviousAssignee},
			NewValue:    map[string]any{"level": t.EscalationLevel, "status": t.StatusCode, "assigned_to": payload.AssignedTo, "reason": payload.Reason},
		}); err != nil {
			return fmt.Errorf("write history: %w", err)
		}

		ev, err := s.Outbox.Enqueue(ctx, tx, events.EventTicketEscalated, t.ID, payload)
		if err != nil {
			return err
		}

		res.Ticket = t
		res.Reason = class.Reason
		res.Level = t.EscalationLevel
		res.RuleID = payload.RuleID
		res.Urgent = payload.Urgent
		res.EventID = ev.ID
		res.outcome = outcomeEscalated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
