package tat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := domain.DefaultEscalationConfig()
	cfg.ExtensionCap = 2
	return NewEngine(newTestParser(t), cfg)
}

func TestSetThenExtend(t *testing.T) {
	e := newTestEngine(t)
	ticket := &domain.Ticket{ID: 1}

	change, err := e.Set(ticket, "2 days", "admin-1", friday)
	require.NoError(t, err)
	assert.False(t, change.IsExtension)
	assert.Equal(t, 0, ticket.TATExtensionCount)
	require.NotNil(t, ticket.State.TAT.Date)
	first := *ticket.State.TAT.Date

	later := friday.Add(time.Hour)
	change, err = e.Set(ticket, "5 days", "admin-2", later)
	require.NoError(t, err)
	assert.True(t, change.IsExtension)
	assert.Equal(t, 1, change.ExtensionCount)
	assert.False(t, change.ExtensionLimitReached)
	assert.Equal(t, 1, ticket.TATExtensionCount)
	require.Len(t, ticket.State.TAT.Extensions, 1)
	ext := ticket.State.TAT.Extensions[0]
	assert.Equal(t, "2 days", ext.PreviousTAT)
	assert.Equal(t, first, ext.PreviousDate)
	assert.Equal(t, "5 days", ext.NewTAT)
	assert.Equal(t, "admin-2", ext.ExtendedBy)

	change, err = e.Set(ticket, "6 days", "admin-2", later)
	require.NoError(t, err)
	assert.True(t, change.ExtensionLimitReached)
}

func TestSetFailureLeavesTicketUntouched(t *testing.T) {
	e := newTestEngine(t)
	ticket := &domain.Ticket{ID: 1}
	_, err := e.Set(ticket, "2 days", "admin-1", friday)
	require.NoError(t, err)
	before := ticket.Clone()

	_, err = e.Set(ticket, "whenever", "admin-1", friday)
	require.Error(t, err)
	assert.Equal(t, before, ticket)
}

func TestPauseResumeShiftsDeadline(t *testing.T) {
	e := newTestEngine(t)
	ticket := &domain.Ticket{ID: 1}
	_, err := e.Set(ticket, "1 day", "admin-1", friday)
	require.NoError(t, err)
	base := *ticket.State.TAT.Date

	assert.True(t, e.Pause(ticket, friday.Add(time.Hour)))
	assert.False(t, e.Pause(ticket, friday.Add(2*time.Hour)), "double pause is a no-op")

	// while paused the deadline keeps moving
	deadline, ok := EffectiveDeadline(ticket, friday.Add(3*time.Hour))
	require.True(t, ok)
	assert.Equal(t, base.Add(2*time.Hour), deadline)

	assert.True(t, e.Resume(ticket, friday.Add(4*time.Hour)))
	assert.False(t, e.Resume(ticket, friday.Add(5*time.Hour)))
	assert.Nil(t, ticket.State.TAT.PauseStart)
	assert.Equal(t, 3*time.Hour, ticket.State.TAT.PausedDuration)
	require.Len(t, ticket.State.TAT.Pauses, 1)

	deadline, ok = EffectiveDeadline(ticket, friday.Add(10*time.Hour))
	require.True(t, ok)
	assert.Equal(t, base.Add(3*time.Hour), deadline)
}

func TestPausedDurationNeverDecreases(t *testing.T) {
	e := newTestEngine(t)
	ticket := &domain.Ticket{ID: 1}
	_, err := e.Set(ticket, "3 days", "admin-1", friday)
	require.NoError(t, err)

	var last time.Duration
	at := friday
	for i := 0; i < 4; i++ {
		at = at.Add(time.Hour)
		e.Pause(ticket, at)
		at = at.Add(time.Duration(i) * time.Minute)
		e.Resume(ticket, at)
		assert.GreaterOrEqual(t, ticket.State.TAT.PausedDuration, last)
		last = ticket.State.TAT.PausedDuration
	}
}

func TestBreachAndOverdue(t *testing.T) {
	e := newTestEngine(t)
	ticket := &domain.Ticket{ID: 1}
	assert.False(t, IsBreached(ticket, friday, false), "no tat, no breach")

	_, err := e.Set(ticket, "2 hours", "admin-1", friday)
	require.NoError(t, err)

	assert.False(t, IsBreached(ticket, friday.Add(time.Hour), false))
	assert.True(t, IsBreached(ticket, friday.Add(5*time.Hour), false))
	assert.False(t, IsBreached(ticket, friday.Add(5*time.Hour), true), "final tickets never breach")
	assert.Equal(t, 3, HoursOverdue(ticket, friday.Add(5*time.Hour+30*time.Minute)))
	assert.Equal(t, 0, HoursOverdue(ticket, friday))
}

func TestResetCycle(t *testing.T) {
	e := newTestEngine(t)
	ticket := &domain.Ticket{ID: 1}
	_, _ = e.Set(ticket, "2 days", "admin-1", friday)
	_, _ = e.Set(ticket, "3 days", "admin-1", friday)
	e.Pause(ticket, friday)

	e.ResetCycle(ticket)
	assert.False(t, ticket.State.TAT.IsSet())
	assert.False(t, ticket.State.TAT.IsPaused())
	assert.Empty(t, ticket.State.TAT.Extensions)
	assert.Equal(t, 0, ticket.TATExtensionCount)
}
