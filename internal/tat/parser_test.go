package tat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-lifecycle/internal/config"
	apperrors "github.com/spec-kit/ticket-lifecycle/pkg/util/errorutil"
)

// Friday 16 October 2026, 10:00 UTC.
var friday = time.Date(2026, time.October, 16, 10, 0, 0, 0, time.UTC)

func newTestParser(t *testing.T) *Parser {
	t.Helper()
	c, err := NewCalendar(config.CalendarConfig{
		Workdays:  []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		StartHour: 9,
		EndHour:   17,
		Holidays:  []string{"10-20:Founders Day"},
	})
	require.NoError(t, err)
	return NewParser(time.UTC, c)
}

func TestParseRelative(t *testing.T) {
	p := newTestParser(t)

	cases := []struct {
		input string
		want  time.Time
	}{
		{"2", friday.Add(48 * time.Hour)},
		{"3 days", friday.AddDate(0, 0, 3)},
		{"in 4 hours", friday.Add(4 * time.Hour)},
		{"90 mins", friday.Add(90 * time.Minute)},
		{"1.5 days", friday.Add(36 * time.Hour)},
		{"2 weeks", friday.AddDate(0, 0, 14)},
		{"1 month", friday.AddDate(0, 1, 0)},
		{"48h", friday.Add(48 * time.Hour)},
		{"tomorrow", time.Date(2026, time.October, 17, 23, 59, 59, 0, time.UTC)},
		{"Today", time.Date(2026, time.October, 16, 23, 59, 59, 0, time.UTC)},
		{"next week", friday.AddDate(0, 0, 7)},
	}
	for _, tc := range cases {
		got, err := p.Parse(tc.input, friday)
		require.NoError(t, err, tc.input)
		assert.True(t, tc.want.Equal(got), "%s: want %s got %s", tc.input, tc.want, got)
	}
}

func TestParseWorkingDaysSkipsWeekendAndHolidays(t *testing.T) {
	p := newTestParser(t)

	got, err := p.Parse("1 working day", friday)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, time.October, 19, 17, 0, 0, 0, time.UTC), got)

	// Tuesday the 20th is a holiday
	got, err = p.Parse("2 business days", friday)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, time.October, 21, 17, 0, 0, 0, time.UTC), got)
}

func TestParseAbsolute(t *testing.T) {
	p := newTestParser(t)

	got, err := p.Parse("2026-10-25", friday)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, time.October, 25, 23, 59, 59, 0, time.UTC), got)

	got, err = p.Parse("2026-10-18 14:30", friday)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, time.October, 18, 14, 30, 0, 0, time.UTC), got)

	got, err = p.Parse("25 Oct 2026", friday)
	require.NoError(t, err)
	assert.Equal(t, 25, got.Day())
}

func TestParseRejects(t *testing.T) {
	p := newTestParser(t)

	for _, input := range []string{"", "   ", "soon", "0 days", "-2 days", "2026-10-01", "3 working weeks", "2 years", "500 days"} {
		_, err := p.Parse(input, friday)
		require.Error(t, err, input)
		assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation), input)
	}
}

func TestParseWithoutCalendarFallsBackToCalendarDays(t *testing.T) {
	p := NewParser(nil, nil)
	got, err := p.Parse("2 working days", friday)
	require.NoError(t, err)
	assert.Equal(t, friday.Add(48*time.Hour), got)
}

func TestNewCalendarRejectsBadHoliday(t *testing.T) {
	_, err := NewCalendar(config.CalendarConfig{Holidays: []string{"13-40:Nope"}})
	require.Error(t, err)
}
