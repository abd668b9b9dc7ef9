package tat

import (
	"time"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
)

// Change describes what Set did to a ticket.
type Change struct {
	IsExtension           bool
	PreviousText          string
	PreviousDate          *time.Time
	Text                  string
	Deadline              time.Time
	ExtensionCount        int
	ExtensionLimitReached bool
}

// Engine owns every mutation of a ticket's TAT state.
type Engine struct {
	parser *Parser
	cfg    domain.EscalationConfig
}

// NewEngine builds an engine bound to the shared escalation thresholds.
func NewEngine(parser *Parser, cfg domain.EscalationConfig) *Engine {
	return &Engine{parser: parser, cfg: cfg}
}

// Set parses text and records it as the ticket's deadline. A ticket that
// already has a deadline gets an extension entry. On error the ticket is untouched.
func (e *Engine) Set(t *domain.Ticket, text, actorID string, now time.Time) (Change, error) {
	deadline, err := e.parser.Parse(text, now)
	if err != nil {
		return Change{}, err
	}

	st := &t.State.TAT
	change := Change{Text: text, Deadline: deadline}

	if st.IsSet() {
		change.IsExtension = true
		change.PreviousText = st.Text
		prev := *st.Date
		change.PreviousDate = &prev
		st.ExtensionCount++
		st.Extensions = append(st.Extensions, domain.TATExtension{
			PreviousTAT:  st.Text,
			PreviousDate: prev,
			NewTAT:       text,
			NewDate:      deadline,
			ExtendedAt:   now,
			ExtendedBy:   actorID,
		})
	}

	setAt := now
	st.Text = text
	st.Date = &deadline
	st.SetAt = &setAt
	st.SetBy = actorID
	st.LastReminderAt = nil
	t.TATExtensionCount = st.ExtensionCount

	change.ExtensionCount = st.ExtensionCount
	change.ExtensionLimitReached = e.cfg.ExtensionCap > 0 && st.ExtensionCount >= e.cfg.ExtensionCap
	return change, nil
}

// Pause stops the TAT clock. It reports false when the clock was already stopped.
func (e *Engine) Pause(t *domain.Ticket, now time.Time) bool {
	if t.State.TAT.IsPaused() {
		return false
	}
	start := now
	t.State.TAT.PauseStart = &start
	return true
}

// Resume folds the open pause into the paused total. It reports false when
// the clock was running.
func (e *Engine) Resume(t *domain.Ticket, now time.Time) bool {
	st := &t.State.TAT
	if !st.IsPaused() {
		return false
	}
	start := *st.PauseStart
	if d := now.Sub(start); d > 0 {
		st.PausedDuration += d
	}
	st.Pauses = append(st.Pauses, domain.TATPause{Start: start, End: now})
	st.PauseStart = nil
	return true
}

// ResetCycle clears deadline bookkeeping when a ticket is reopened.
func (e *Engine) ResetCycle(t *domain.Ticket) {
	t.State.TAT = domain.TATState{}
	t.TATExtensionCount = 0
}

// ExtensionCap returns the configured extension limit.
func (e *Engine) ExtensionCap() int {
	return e.cfg.ExtensionCap
}

// EffectiveDeadline returns the deadline shifted by all paused time up to now.
// A running pause keeps pushing the deadline out.
func EffectiveDeadline(t *domain.Ticket, now time.Time) (time.Time, bool) {
	st := t.State.TAT
	if !st.IsSet() {
		return time.Time{}, false
	}
	deadline := st.Date.Add(st.PausedDuration)
	if st.PauseStart != nil {
		if running := now.Sub(*st.PauseStart); running > 0 {
			deadline = deadline.Add(running)
		}
	}
	return deadline, true
}

// IsBreached reports whether the deadline has passed on a ticket still in play.
func IsBreached(t *domain.Ticket, now time.Time, isFinal bool) bool {
	if isFinal {
		return false
	}
	deadline, ok := EffectiveDeadline(t, now)
	return ok && now.After(deadline)
}

// HoursOverdue returns whole hours past the effective deadline, or 0.
func HoursOverdue(t *domain.Ticket, now time.Time) int {
	deadline, ok := EffectiveDeadline(t, now)
	if !ok || !now.After(deadline) {
		return 0
	}
	return int(now.Sub(deadline) / time.Hour)
}
