// Package escalation finds stalled tickets and hands them up the chain.
package escalation

import (
	"time"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/tat"
)

// Reason says why a ticket was escalated.
type Reason string

const (
	ReasonInactivity   Reason = "inactivity"
	ReasonTATBreach    Reason = "tat_breach"
	ReasonExtensionCap Reason = "extension_cap"
	ReasonLifecycle    Reason = "lifecycle"
	ReasonManual       Reason = "manual"
)

// Classification is the outcome of Classify for an eligible ticket.
type Classification struct {
	Reason       Reason
	HoursOverdue int
}

// Classify returns the highest-priority escalation reason for a non-final
// ticket: inactivity, then TAT breach, then extension cap, then lifecycle.
// A running pause only holds the deadline still from the moment it started.
func Classify(t *domain.Ticket, now time.Time, cfg domain.EscalationConfig) (Classification, bool) {
	hours := tat.HoursOverdue(t, now)

	if cfg.Inactivity() > 0 && now.Sub(t.UpdatedAt) >= cfg.Inactivity() {
		return Classification{Reason: ReasonInactivity, HoursOverdue: hours}, true
	}
	if tat.IsBreached(t, now, false) {
		return Classification{Reason: ReasonTATBreach, HoursOverdue: hours}, true
	}
	if cfg.ExtensionCap > 0 && t.TATExtensionCount >= cfg.ExtensionCap {
		return Classification{Reason: ReasonExtensionCap, HoursOverdue: hours}, true
	}
	if cfg.Lifecycle() > 0 && now.Sub(t.CreatedAt) >= cfg.Lifecycle() {
		return Classification{Reason: ReasonLifecycle, HoursOverdue: hours}, true
	}
	return Classification{}, false
}

// InCooldown reports whether t was escalated too recently to escalate again.
func InCooldown(t *domain.Ticket, now time.Time, cfg domain.EscalationConfig) bool {
	if t.LastEscalatedAt == nil || cfg.Cooldown() <= 0 {
		return false
	}
	return now.Sub(*t.LastEscalatedAt) < cfg.Cooldown()
}

// earliestBreach returns the first deadline, due date or effective TAT,
// that has already passed.
func earliestBreach(t *domain.Ticket, now time.Time) *time.Time {
	var earliest *time.Time
	consider := func(d time.Time) {
		if !now.After(d) {
			return
		}
		if earliest == nil || d.Before(*earliest) {
			v := d
			earliest = &v
		}
	}
	if t.DueAt != nil {
		consider(*t.DueAt)
	}
	if deadline, ok := tat.EffectiveDeadline(t, now); ok {
		consider(deadline)
	}
	return earliest
}
