// Package worker runs the escalation and reminder sweeps on a cron schedule
// and keeps the outbox drained between scheduler calls.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-lifecycle/internal/config"
	"github.com/spec-kit/ticket-lifecycle/internal/escalation"
	"github.com/spec-kit/ticket-lifecycle/internal/outbox"
	apperrors "github.com/spec-kit/ticket-lifecycle/pkg/util/errorutil"
)

// EscalationRunner runs one escalation sweep.
type EscalationRunner interface {
	Run(ctx context.Context) (escalation.Report, error)
}

// ReminderRunner runs one TAT reminder sweep.
type ReminderRunner interface {
	Run(ctx context.Context) (escalation.ReminderReport, error)
}

// OutboxDrainer delivers pending outbox rows.
type OutboxDrainer interface {
	Drain(ctx context.Context, limit int) (outbox.Result, error)
	RefreshBacklog(ctx context.Context) error
	Wait()
}

// Deps bundles the jobs the worker schedules.
type Deps struct {
	Sweeper   EscalationRunner
	Reminders ReminderRunner
	Outbox    OutboxDrainer
	Logger    *zap.Logger
}

// Worker owns the cron scheduler and the drain loop.
type Worker struct {
	Deps
	cron      *cron.Cron
	cfg       config.SchedulerConfig
	batchSize int
	interval  time.Duration
	timeout   time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a worker. Cron specs use the standard five-field syntax in loc.
func New(deps Deps, cfg config.SchedulerConfig, batchSize int, loc *time.Location) *Worker {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	logger := cronLogger{deps.Logger.Sugar()}
	interval := cfg.DrainInterval()
	if interval <= 0 {
		interval = 30 * time.Second
	}
	timeout := cfg.LockTTL()
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Worker{
		Deps: deps,
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		cfg:       cfg,
		batchSize: batchSize,
		interval:  interval,
		timeout:   timeout,
	}
}

// Start registers the schedules and begins draining. It returns immediately.
func (w *Worker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	if w.cfg.EscalationSpec != "" && w.Sweeper != nil {
		if _, err := w.cron.AddFunc(w.cfg.EscalationSpec, func() { w.RunEscalations(ctx) }); err != nil {
			cancel()
			return fmt.Errorf("schedule escalation sweep %q: %w", w.cfg.EscalationSpec, err)
		}
	}
	if w.cfg.ReminderSpec != "" && w.Reminders != nil {
		if _, err := w.cron.AddFunc(w.cfg.ReminderSpec, func() { w.RunReminders(ctx) }); err != nil {
			cancel()
			return fmt.Errorf("schedule tat reminders %q: %w", w.cfg.ReminderSpec, err)
		}
	}

	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()

	w.cron.Start()
	if w.Outbox != nil {
		w.wg.Add(1)
		go w.drainLoop(ctx)
	}
	w.Logger.Info("worker started",
		zap.String("escalation_spec", w.cfg.EscalationSpec),
		zap.String("reminder_spec", w.cfg.ReminderSpec),
		zap.Duration("drain_interval", w.interval),
	)
	return nil
}

// Stop waits for running jobs and in-flight deliveries to finish.
func (w *Worker) Stop() {
	stopped := w.cron.Stop()
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
	}
	w.mu.Unlock()
	<-stopped.Done()
	w.wg.Wait()
	if w.Outbox != nil {
		w.Outbox.Wait()
	}
	w.Logger.Info("worker stopped")
}

// RunEscalations performs one sweep. A run that finds the sweep lock held is skipped.
func (w *Worker) RunEscalations(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	report, err := w.Sweeper.Run(ctx)
	if err != nil {
		if apperrors.HasCode(err, apperrors.CodeConflict) {
			w.Logger.Info("escalation sweep skipped, another run holds the lock")
			return
		}
		w.Logger.Error("escalation sweep failed", zap.Error(err))
		return
	}
	w.Logger.Debug("escalation sweep", zap.Int("escalated", report.Escalated))
}

// RunReminders performs one reminder sweep.
func (w *Worker) RunReminders(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	if _, err := w.Reminders.Run(ctx); err != nil {
		if apperrors.HasCode(err, apperrors.CodeConflict) {
			w.Logger.Info("tat reminder sweep skipped, another run holds the lock")
			return
		}
		w.Logger.Error("tat reminder sweep failed", zap.Error(err))
	}
}

// DrainOnce drains full batches until the backlog is shorter than one batch.
func (w *Worker) DrainOnce(ctx context.Context) {
	for ctx.Err() == nil {
		res, err := w.Outbox.Drain(ctx, w.batchSize)
		if err != nil {
			w.Logger.Error("outbox drain failed", zap.Error(err))
			return
		}
		if w.batchSize <= 0 || res.Claimed < w.batchSize {
			break
		}
	}
	if err := w.Outbox.RefreshBacklog(ctx); err != nil && ctx.Err() == nil {
		w.Logger.Warn("refresh outbox backlog", zap.Error(err))
	}
}

func (w *Worker) drainLoop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.DrainOnce(ctx)
		}
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}
