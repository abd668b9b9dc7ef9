package escalation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-lifecycle/internal/config"
	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/events"
	"github.com/spec-kit/ticket-lifecycle/internal/outbox"
	"github.com/spec-kit/ticket-lifecycle/internal/persistence"
	"github.com/spec-kit/ticket-lifecycle/internal/repository/memstore"
	"github.com/spec-kit/ticket-lifecycle/internal/status"
	"github.com/spec-kit/ticket-lifecycle/internal/tat"
	apperrors "github.com/spec-kit/ticket-lifecycle/pkg/util/errorutil"
)

var now = time.Date(2026, time.October, 19, 9, 0, 0, 0, time.UTC)

type recordingKicker struct {
	ids []int64
}

func (k *recordingKicker) Kick(id int64) { k.ids = append(k.ids, id) }

type harness struct {
	store    *memstore.Store
	sweeper  *Sweeper
	reminder *Reminder
	kicker   *recordingKicker
	locker   *persistence.LocalLocker
	cfg      domain.EscalationConfig
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := memstore.New()
	store.SetClock(func() time.Time { return now })
	store.AddCategory(domain.Category{ID: 1, Name: "Plumbing", Domain: "hostel", ScopeSensitive: true, IsActive: true})
	store.AddEscalationRule(domain.EscalationRule{Domain: "hostel", Level: 1, PartyID: "warden-general", IsActive: true})
	store.AddEscalationRule(domain.EscalationRule{Domain: "hostel", Scope: "block a", Level: 1, PartyID: "warden-a", Channel: "C-block-a", IsActive: true})

	statuses, err := status.NewRegistry(status.Defaults())
	require.NoError(t, err)
	calendar, err := tat.NewCalendar(config.CalendarConfig{})
	require.NoError(t, err)

	cfg := domain.DefaultEscalationConfig()
	cfg.SuperAdminID = "root"
	kicker := &recordingKicker{}
	locker := persistence.NewLocalLocker()
	deps := Deps{
		Store:    store,
		Statuses: statuses,
		TAT:      tat.NewEngine(tat.NewParser(time.UTC, calendar), cfg),
		Outbox:   outbox.New(),
		Kicker:   kicker,
		Locker:   locker,
		Logger:   zap.NewNop(),
	}
	h := &harness{
		store:    store,
		sweeper:  NewSweeper(deps, cfg, time.Minute),
		reminder: NewReminder(deps, 2, time.Minute),
		kicker:   kicker,
		locker:   locker,
		cfg:      cfg,
	}
	h.sweeper.clock = func() time.Time { return now }
	h.reminder.clock = func() time.Time { return now }
	return h
}

func (h *harness) create(t *testing.T, mutate func(*domain.Ticket)) *domain.Ticket {
	t.Helper()
	assignee := "warden-first"
	ticket := &domain.Ticket{
		CategoryID:  1,
		CreatedBy:   "req-1",
		AssignedTo:  &assignee,
		Location:    "Block A",
		StatusCode:  domain.StatusInProgress,
		Description: "No water",
		CreatedAt:   now.Add(-48 * time.Hour),
		UpdatedAt:   now.Add(-time.Hour),
	}
	if mutate != nil {
		mutate(ticket)
	}
	require.NoError(t, h.store.Tickets().Create(context.Background(), ticket))
	return ticket
}

func withTAT(deadline time.Time) func(*domain.Ticket) {
	return func(t *domain.Ticket) {
		d := deadline
		t.State.TAT.Text = "1 day"
		t.State.TAT.Date = &d
	}
}

func TestClassifyPriority(t *testing.T) {
	cfg := domain.DefaultEscalationConfig()
	breached := now.Add(-2 * time.Hour)
	longAgo := now.Add(-48 * time.Hour)
	pausedLate := now.Add(-time.Hour)
	pausedEarly := now.Add(-3 * time.Hour)
	pausedLong := now.Add(-8 * 24 * time.Hour)

	cases := []struct {
		name   string
		ticket domain.Ticket
		want   Reason
		ok     bool
	}{
		{"fresh", domain.Ticket{CreatedAt: now, UpdatedAt: now}, "", false},
		{"inactive beats breach", domain.Ticket{CreatedAt: now.Add(-40 * 24 * time.Hour), UpdatedAt: now.Add(-8 * 24 * time.Hour), State: domain.TicketExtendedState{TAT: domain.TATState{Date: &breached}}}, ReasonInactivity, true},
		{"breach", domain.Ticket{CreatedAt: now, UpdatedAt: now, State: domain.TicketExtendedState{TAT: domain.TATState{Date: &breached}}}, ReasonTATBreach, true},
		{"extension cap", domain.Ticket{CreatedAt: now, UpdatedAt: now, TATExtensionCount: 3}, ReasonExtensionCap, true},
		{"lifecycle", domain.Ticket{CreatedAt: now.Add(-31 * 24 * time.Hour), UpdatedAt: now}, ReasonLifecycle, true},
		{"breached before pause", domain.Ticket{CreatedAt: now, UpdatedAt: now, State: domain.TicketExtendedState{TAT: domain.TATState{Date: &longAgo, PauseStart: &pausedLate}}}, ReasonTATBreach, true},
		{"pause holds deadline", domain.Ticket{CreatedAt: now, UpdatedAt: now, State: domain.TicketExtendedState{TAT: domain.TATState{Date: &breached, PauseStart: &pausedEarly}}}, "", false},
		{"awaiting and idle", domain.Ticket{CreatedAt: now, UpdatedAt: now.Add(-8 * 24 * time.Hour), State: domain.TicketExtendedState{TAT: domain.TATState{PauseStart: &pausedLong}}}, ReasonInactivity, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Classify(&tc.ticket, now, cfg)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got.Reason)
		})
	}
}

func TestSelectRulePrefersScopeWithinLevel(t *testing.T) {
	rules := []domain.EscalationRule{
		{ID: 1, Level: 1, PartyID: "general", IsActive: true},
		{ID: 2, Level: 1, Scope: "Block A", PartyID: "block-a", IsActive: true},
		{ID: 3, Level: 2, PartyID: "dean", IsActive: true},
		{ID: 4, Level: 3, Scope: "Block B", PartyID: "block-b-chief", IsActive: true},
	}
	assert.Equal(t, "block-a", selectRule(rules, 0, []string{"block a"}).PartyID)
	assert.Equal(t, "general", selectRule(rules, 0, []string{"block c"}).PartyID)
	assert.Equal(t, "dean", selectRule(rules, 1, []string{"block b"}).PartyID)
	assert.Equal(t, "block-b-chief", selectRule(rules, 2, []string{"block b"}).PartyID)
	assert.Nil(t, selectRule(rules, 2, []string{"block a"}))
}

func TestSweepEscalatesBreachedTicket(t *testing.T) {
	h := newHarness(t)
	deadline := now.Add(-3 * time.Hour)
	ticket := h.create(t, withTAT(deadline))
	h.create(t, nil) // healthy
	h.create(t, func(t *domain.Ticket) {
		t.StatusCode = domain.StatusClosed
		t.CreatedAt = now.Add(-90 * 24 * time.Hour)
	})

	report, err := h.sweeper.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Scanned, "final tickets are not scanned")
	assert.Equal(t, 1, report.Escalated)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, map[string]int{"tat_breach": 1}, report.ByReason)

	stored, err := h.store.Tickets().GetByID(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.EscalationLevel)
	assert.Equal(t, domain.StatusEscalated, stored.StatusCode)
	require.NotNil(t, stored.AssignedTo)
	assert.Equal(t, "warden-a", *stored.AssignedTo)
	require.NotNil(t, stored.SLABreachedAt)
	assert.Equal(t, deadline, *stored.SLABreachedAt)
	require.NotNil(t, stored.LastEscalatedAt)

	rows := h.store.OutboxEvents()
	require.Len(t, rows, 1)
	assert.Equal(t, string(events.EventTicketEscalated), rows[0].EventType)
	var payload events.TicketEscalatedPayload
	require.NoError(t, events.Event{Payload: rows[0].Payload}.Decode(&payload))
	assert.Equal(t, 1, payload.Level)
	assert.Equal(t, 3, payload.HoursOverdue)
	assert.Equal(t, "C-block-a", payload.Channel)
	assert.False(t, payload.Urgent)
	assert.Equal(t, []int64{rows[0].ID}, h.kicker.ids)

	history, err := h.store.History().ListByTicket(context.Background(), ticket.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.ChangeTypeEscalation, history[0].ChangeType)
}

func TestSweepHonoursCooldownAndFallsBackToSuperAdmin(t *testing.T) {
	h := newHarness(t)
	ticket := h.create(t, withTAT(now.Add(-3*time.Hour)))

	_, err := h.sweeper.Run(context.Background())
	require.NoError(t, err)

	report, err := h.sweeper.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Cooldown)
	assert.Zero(t, report.Escalated)

	h.sweeper.clock = func() time.Time { return now.Add(25 * time.Hour) }
	report, err = h.sweeper.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Escalated)

	stored, err := h.store.Tickets().GetByID(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.EscalationLevel)
	require.NotNil(t, stored.AssignedTo)
	assert.Equal(t, "root", *stored.AssignedTo)
	assert.Equal(t, now.Add(-3*time.Hour), *stored.SLABreachedAt, "first breach wins")

	rows := h.store.OutboxEvents()
	require.Len(t, rows, 2)
	var payload events.TicketEscalatedPayload
	require.NoError(t, events.Event{Payload: rows[1].Payload}.Decode(&payload))
	assert.True(t, payload.Urgent)
	assert.Nil(t, payload.RuleID)
}

func TestSweepEscalatesPausedTickets(t *testing.T) {
	h := newHarness(t)
	idle := h.create(t, func(tk *domain.Ticket) {
		pause := now.Add(-8 * 24 * time.Hour)
		tk.StatusCode = domain.StatusAwaitingRequester
		tk.UpdatedAt = pause
		tk.State.TAT.PauseStart = &pause
	})
	overdue := h.create(t, func(tk *domain.Ticket) {
		withTAT(now.Add(-48 * time.Hour))(tk)
		pause := now.Add(-time.Hour)
		tk.StatusCode = domain.StatusAwaitingRequester
		tk.State.TAT.PauseStart = &pause
	})
	h.create(t, func(tk *domain.Ticket) {
		withTAT(now.Add(-2 * time.Hour))(tk)
		pause := now.Add(-3 * time.Hour)
		tk.StatusCode = domain.StatusAwaitingRequester
		tk.UpdatedAt = pause
		tk.State.TAT.PauseStart = &pause
	})

	report, err := h.sweeper.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Scanned)
	assert.Equal(t, 2, report.Escalated)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, report.ByReason[string(ReasonInactivity)])
	assert.Equal(t, 1, report.ByReason[string(ReasonTATBreach)])

	for _, id := range []int64{idle.ID, overdue.ID} {
		stored, err := h.store.Tickets().GetByID(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusEscalated, stored.StatusCode)
		assert.Nil(t, stored.State.TAT.PauseStart, "escalation resumes the pause")
	}
	stored, err := h.store.Tickets().GetByID(context.Background(), overdue.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.SLABreachedAt)
	assert.Equal(t, now.Add(-47*time.Hour), *stored.SLABreachedAt)
}

func TestSweepIsolatesPerTicketFailures(t *testing.T) {
	h := newHarness(t)
	h.create(t, func(tk *domain.Ticket) {
		tk.CategoryID = 99
		tk.UpdatedAt = now.Add(-8 * 24 * time.Hour)
	})
	good := h.create(t, func(tk *domain.Ticket) {
		tk.UpdatedAt = now.Add(-8 * 24 * time.Hour)
	})

	report, err := h.sweeper.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Escalated)

	rows := h.store.OutboxEvents()
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].TicketID)
	assert.Equal(t, good.ID, *rows[0].TicketID)
	assert.Equal(t, string(events.EventTicketEscalated), rows[0].EventType)
}

func TestSweepRejectsOverlappingRun(t *testing.T) {
	h := newHarness(t)
	release, err := h.locker.Acquire(context.Background(), sweepLockKey, time.Minute)
	require.NoError(t, err)
	defer release()

	_, err = h.sweeper.Run(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict))
}

func TestEscalateTicketManually(t *testing.T) {
	h := newHarness(t)
	ticket := h.create(t, nil)
	admin := domain.Actor{ID: "admin-1", Role: domain.RoleAdmin}

	res, err := h.sweeper.EscalateTicket(context.Background(), admin, ticket.ID, "student called twice")
	require.NoError(t, err)
	assert.Equal(t, ReasonManual, res.Reason)
	assert.Equal(t, 1, res.Level)
	assert.Nil(t, res.Ticket.SLABreachedAt, "nothing has breached yet")

	closed := h.create(t, func(t *domain.Ticket) { t.StatusCode = domain.StatusResolved })
	_, err = h.sweeper.EscalateTicket(context.Background(), admin, closed.ID, "")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
}

func TestReminderSendsOncePerGap(t *testing.T) {
	h := newHarness(t)
	soon := h.create(t, withTAT(now.Add(5*time.Hour)))
	h.create(t, withTAT(now.Add(72*time.Hour)))
	overdue := h.create(t, withTAT(now.Add(-30*time.Hour)))

	report, err := h.reminder.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Scanned)
	assert.Equal(t, 2, report.Reminded)

	report, err = h.reminder.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Reminded)

	stored, err := h.store.Tickets().GetByID(context.Background(), soon.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.State.TAT.LastReminderAt)
	assert.Equal(t, soon.UpdatedAt, stored.UpdatedAt, "reminders are not activity")

	rows := h.store.OutboxEvents()
	require.Len(t, rows, 2)
	var payload events.TicketTATReminderPayload
	require.NoError(t, events.Event{Payload: rows[1].Payload}.Decode(&payload))
	assert.EqualValues(t, overdue.ID, *rows[1].TicketID)
	assert.True(t, payload.Overdue)
	assert.Equal(t, 30, payload.HoursOverdue)

	h.reminder.clock = func() time.Time { return now.Add(21 * time.Hour) }
	report, err = h.reminder.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Reminded)
}
