package domain

import "time"

// EscalationRule maps (domain, scope, level) to the party who takes over.
type EscalationRule struct {
	ID       int64
	Domain   string
	Scope    string
	Level    int
	PartyID  string
	Channel  string
	IsActive bool
}

// EscalationConfig holds the thresholds shared by the TAT engine and the sweep.
type EscalationConfig struct {
	InactivityDays int
	CooldownDays   int
	LifecycleDays  int
	ExtensionCap   int
	UrgentLevel    int
	SuperAdminID   string
	BatchSize      int
}

// DefaultEscalationConfig returns production defaults.
func DefaultEscalationConfig() EscalationConfig {
	return EscalationConfig{
		InactivityDays: 7,
		CooldownDays:   1,
		LifecycleDays:  30,
		ExtensionCap:   3,
		UrgentLevel:    2,
		BatchSize:      100,
	}
}

// Inactivity returns the inactivity threshold.
func (c EscalationConfig) Inactivity() time.Duration {
	return days(c.InactivityDays)
}

// Cooldown returns the minimum gap between escalations of one ticket.
func (c EscalationConfig) Cooldown() time.Duration {
	return days(c.CooldownDays)
}

// Lifecycle returns the maximum age of an open ticket.
func (c EscalationConfig) Lifecycle() time.Duration {
	return days(c.LifecycleDays)
}

func days(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * 24 * time.Hour
}
