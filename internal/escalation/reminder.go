package escalation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/events"
	"github.com/spec-kit/ticket-lifecycle/internal/persistence"
	"github.com/spec-kit/ticket-lifecycle/internal/repository"
	"github.com/spec-kit/ticket-lifecycle/internal/tat"
	apperrors "github.com/spec-kit/ticket-lifecycle/pkg/util/errorutil"
)

const (
	reminderLockKey = "tat-reminder-sweep"
	reminderWindow  = 24 * time.Hour
	reminderGap     = 20 * time.Hour
)

// ReminderReport summarizes one reminder run.
type ReminderReport struct {
	Scanned  int `json:"scanned"`
	Reminded int `json:"reminded"`
	Failed   int `json:"failed"`
}

// Reminder nudges assignees about deadlines that are close or already passed.
type Reminder struct {
	Deps
	batchSize int
	lockTTL   time.Duration
	clock     func() time.Time
}

// NewReminder builds a reminder sweep sharing the sweeper's dependencies.
func NewReminder(deps Deps, batchSize int, lockTTL time.Duration) *Reminder {
	if batchSize <= 0 {
		batchSize = 100
	}
	if lockTTL <= 0 {
		lockTTL = 15 * time.Minute
	}
	return &Reminder{Deps: deps, batchSize: batchSize, lockTTL: lockTTL, clock: func() time.Time { return time.Now().UTC() }}
}

// due reports whether t should get a reminder now.
func due(t *domain.Ticket, now time.Time) (time.Time, bool) {
	deadline, ok := tat.EffectiveDeadline(t, now)
	if !ok || deadline.Sub(now) > reminderWindow {
		return time.Time{}, false
	}
	if last := t.State.TAT.LastReminderAt; last != nil && now.Sub(*last) < reminderGap {
		return time.Time{}, false
	}
	return deadline, true
}

// Run enqueues at most one reminder per ticket per reminder gap.
func (r *Reminder) Run(ctx context.Context) (ReminderReport, error) {
	release, err := r.Locker.Acquire(ctx, reminderLockKey, r.lockTTL)
	if err != nil {
		if errors.Is(err, persistence.ErrLockHeld) {
			return ReminderReport{}, apperrors.NewConflict("reminder sweep already running", nil)
		}
		return ReminderReport{}, fmt.Errorf("acquire reminder lock: %w", err)
	}
	defer release()

	start := r.clock()
	defer func() { r.Metrics.ObserveSweep("tat_reminder", time.Since(start)) }()

	var (
		report  ReminderReport
		afterID int64
	)
	final := r.Statuses.FinalCodes()
	for {
		page, err := r.Store.Tickets().ListOpen(ctx, repository.OpenFilter{FinalStatuses: final, AfterID: afterID, Limit: r.batchSize})
		if err != nil {
			return report, fmt.Errorf("list open tickets: %w", err)
		}
		for i := range page {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			afterID = page[i].ID
			report.Scanned++
			if _, ok := due(&page[i], r.clock()); !ok {
				continue
			}
			eventID, err := r.remind(ctx, page[i].ID)
			if err != nil {
				report.Failed++
				r.Logger.Error("enqueue tat reminder", zap.Int64("ticket_id", page[i].ID), zap.Error(err))
				continue
			}
			if eventID != 0 {
				report.Reminded++
				r.Metrics.ReminderSent()
				r.Kicker.Kick(eventID)
			}
		}
		if len(page) < r.batchSize {
			break
		}
	}

	r.Logger.Info("tat reminder sweep finished", zap.Int("scanned", report.Scanned), zap.Int("reminded", report.Reminded))
	return report, nil
}

func (r *Reminder) remind(ctx context.Context, ticketID int64) (int64, error) {
	var eventID int64
	err := r.Store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		t, err := tx.Tickets().GetForUpdate(ctx, ticketID)
		if err != nil {
			return err
		}
		now := r.clock()
		if r.Statuses.IsFinal(t.StatusCode) {
			return nil
		}
		deadline, ok := due(t, now)
		if !ok {
			return nil
		}

		at := now
		t.State.TAT.LastReminderAt = &at
		// UpdatedAt stays put: a reminder is not activity on the ticket
		if err := tx.Tickets().Update(ctx, t, repository.UpdateGuard{Status: t.StatusCode}); err != nil {
			if errors.Is(err, repository.ErrPreconditionFailed) {
				return nil
			}
			return err
		}

		payload := events.TicketTATReminderPayload{
			Deadline:     deadline,
			Overdue:      now.After(deadline),
			HoursOverdue: tat.HoursOverdue(t, now),
		}
		if t.AssignedTo != nil {
			payload.AssignedTo = *t.AssignedTo
		}
		if !payload.Overdue {
			payload.HoursLeft = int(deadline.Sub(now) / time.Hour)
		}
		ev, err := r.Outbox.Enqueue(ctx, tx, events.EventTicketTATReminder, t.ID, payload)
		if err != nil {
			return err
		}
		eventID = ev.ID
		return nil
	})
	return eventID, err
}
