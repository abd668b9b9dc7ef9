package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-lifecycle/internal/config"
	"github.com/spec-kit/ticket-lifecycle/internal/escalation"
	"github.com/spec-kit/ticket-lifecycle/internal/outbox"
	apperrors "github.com/spec-kit/ticket-lifecycle/pkg/util/errorutil"
)

type fakeSweeper struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeSweeper) Run(context.Context) (escalation.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return escalation.Report{}, f.err
}

type fakeReminders struct{ calls int }

func (f *fakeReminders) Run(context.Context) (escalation.ReminderReport, error) {
	f.calls++
	return escalation.ReminderReport{}, nil
}

type fakeDrainer struct {
	mu       sync.Mutex
	backlog  []int
	drains   int
	refresh  int
	waited   bool
	failNext bool
}

func (f *fakeDrainer) Drain(_ context.Context, limit int) (outbox.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drains++
	if f.failNext {
		f.failNext = false
		return outbox.Result{}, errors.New("db down")
	}
	if len(f.backlog) == 0 {
		return outbox.Result{}, nil
	}
	n := f.backlog[0]
	f.backlog = f.backlog[1:]
	return outbox.Result{Claimed: n, Delivered: n}, nil
}

func (f *fakeDrainer) RefreshBacklog(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh++
	return nil
}

func (f *fakeDrainer) Wait() { f.waited = true }

func (f *fakeDrainer) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.drains, f.refresh
}

func TestDrainOnceFollowsFullBatches(t *testing.T) {
	drainer := &fakeDrainer{backlog: []int{10, 10, 3}}
	w := New(Deps{Outbox: drainer, Logger: zap.NewNop()}, config.SchedulerConfig{}, 10, time.UTC)

	w.DrainOnce(context.Background())
	drains, refresh := drainer.counts()
	assert.Equal(t, 3, drains)
	assert.Equal(t, 1, refresh)

	drainer.failNext = true
	w.DrainOnce(context.Background())
	drains, refresh = drainer.counts()
	assert.Equal(t, 4, drains)
	assert.Equal(t, 1, refresh, "a failed drain skips the backlog refresh")
}

func TestStartRejectsBadSpec(t *testing.T) {
	w := New(Deps{Sweeper: &fakeSweeper{}}, config.SchedulerConfig{EscalationSpec: "every tuesday"}, 10, time.UTC)
	require.Error(t, w.Start(context.Background()))
}

func TestWorkerDrainsUntilStopped(t *testing.T) {
	drainer := &fakeDrainer{}
	w := New(Deps{Sweeper: &fakeSweeper{}, Reminders: &fakeReminders{}, Outbox: drainer},
		config.SchedulerConfig{EscalationSpec: "@hourly", ReminderSpec: "0 9 * * *"}, 10, time.UTC)
	w.interval = 10 * time.Millisecond

	require.NoError(t, w.Start(context.Background()))
	require.Eventually(t, func() bool {
		drains, _ := drainer.counts()
		return drains >= 2
	}, time.Second, 5*time.Millisecond)

	w.Stop()
	assert.True(t, drainer.waited)
	after, _ := drainer.counts()
	time.Sleep(30 * time.Millisecond)
	final, _ := drainer.counts()
	assert.Equal(t, after, final)
}

func TestRunJobsTolerateErrors(t *testing.T) {
	sweeper := &fakeSweeper{err: apperrors.NewConflict("held", nil)}
	reminders := &fakeReminders{}
	w := New(Deps{Sweeper: sweeper, Reminders: reminders}, config.SchedulerConfig{}, 10, time.UTC)

	w.RunEscalations(context.Background())
	sweeper.err = errors.New("boom")
	w.RunEscalations(context.Background())
	w.RunReminders(context.Background())

	assert.Equal(t, 2, sweeper.calls)
	assert.Equal(t, 1, reminders.calls)
}
