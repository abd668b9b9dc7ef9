package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Escalation.InactivityDays)
	assert.Equal(t, 2, cfg.Escalation.UrgentLevel)
	assert.Equal(t, 5, cfg.Outbox.MaxAttempts)
	assert.Equal(t, time.Minute, cfg.Outbox.Lease())
	assert.Equal(t, []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}, cfg.Calendar.Workdays)
	assert.False(t, cfg.IsProduction())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ESCALATION_INACTIVITY_DAYS", "3")
	t.Setenv("ESCALATION_SUPER_ADMIN_ID", "root")
	t.Setenv("CHAT_DOMAIN_CHANNELS", "hostel=C1, mess=C2")
	t.Setenv("CALENDAR_WORKDAYS", "Monday,Saturday")
	t.Setenv("CALENDAR_HOLIDAYS", "01-26:Republic Day, 08-15:Independence Day")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Escalation.InactivityDays)
	assert.Equal(t, "root", cfg.Escalation.SuperAdminID)
	assert.Equal(t, map[string]string{"hostel": "C1", "mess": "C2"}, cfg.Notification.Chat.DomainChannels)
	assert.Equal(t, []time.Weekday{time.Monday, time.Saturday}, cfg.Calendar.Workdays)
	assert.Len(t, cfg.Calendar.Holidays, 2)
}

func TestLoadRejectsBadInput(t *testing.T) {
	t.Setenv("CALENDAR_WORKDAYS", "funday")
	_, err := Load()
	require.Error(t, err)
}

func TestLoadRequiresSecretInProduction(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("AUTH_JWT_SECRET", "")
	_, err := Load()
	require.Error(t, err)
}
