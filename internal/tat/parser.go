// Package tat turns human turnaround-time input into deadlines and keeps the
// per-ticket TAT cycle (extensions, pauses) consistent.
package tat

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/spec-kit/ticket-lifecycle/pkg/util/errorutil"
)

const maxHorizon = 366 * 24 * time.Hour

var relativePattern = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*(working|business)?\s*([a-z]*)$`)

var absoluteLayouts = []struct {
	layout  string
	dayOnly bool
}{
	{time.RFC3339, false},
	{"2006-01-02 15:04", false},
	{"2006-01-02T15:04", false},
	{"2006-01-02", true},
	{"02 Jan 2006", true},
	{"2 Jan 2006", true},
	{"Jan 2 2006", true},
	{"Jan 2, 2006", true},
}

// Parser converts TAT text into an absolute deadline.
type Parser struct {
	loc      *time.Location
	calendar *Calendar
}

// NewParser builds a parser. calendar may be nil, in which case working-day
// input falls back to calendar days.
func NewParser(loc *time.Location, calendar *Calendar) *Parser {
	if loc == nil {
		loc = time.UTC
	}
	return &Parser{loc: loc, calendar: calendar}
}

// Parse resolves text relative to now. The result is always after now.
func (p *Parser) Parse(text string, now time.Time) (time.Time, error) {
	raw := text
	s := strings.ToLower(strings.TrimSpace(text))
	s = strings.TrimPrefix(s, "in ")
	s = strings.TrimPrefix(s, "within ")
	s = strings.TrimSuffix(s, " from now")
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, invalid(raw, "tat is required")
	}

	now = now.In(p.loc)
	deadline, ok, err := p.parseKeyword(s, now)
	if !ok && err == nil {
		deadline, ok, err = p.parseRelative(s, now)
	}
	if !ok && err == nil {
		deadline, ok = p.parseAbsolute(text)
	}
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		return time.Time{}, invalid(raw, "unrecognised tat")
	}
	if !deadline.After(now) {
		return time.Time{}, invalid(raw, "tat must be in the future")
	}
	if deadline.Sub(now) > maxHorizon {
		return time.Time{}, invalid(raw, "tat is too far in the future")
	}
	return deadline, nil
}

func (p *Parser) parseKeyword(s string, now time.Time) (time.Time, bool, error) {
	switch s {
	case "today", "eod", "end of day", "end of today":
		return endOfDay(now), true, nil
	case "tomorrow", "end of tomorrow":
		return endOfDay(now.AddDate(0, 0, 1)), true, nil
	case "next week", "a week":
		return now.AddDate(0, 0, 7), true, nil
	case "a day":
		return now.AddDate(0, 0, 1), true, nil
	}
	return time.Time{}, false, nil
}

func (p *Parser) parseRelative(s string, now time.Time) (time.Time, bool, error) {
	m := relativePattern.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false, nil
	}
	amount, err := strconv.ParseFloat(m[1], 64)
	if err != nil || amount <= 0 {
		return time.Time{}, false, invalid(s, "tat amount must be positive")
	}
	working := m[2] != ""
	whole := amount == float64(int(amount))

	switch m[3] {
	case "", "d", "day", "days":
		if working && p.calendar != nil {
			if !whole {
				return time.Time{}, false, invalid(s, "working days must be whole")
			}
			return p.calendar.AddWorkdays(now, int(amount)), true, nil
		}
		return now.Add(time.Duration(amount * float64(24*time.Hour))), true, nil
	case "h", "hr", "hrs", "hour", "hours":
		d := time.Duration(amount * float64(time.Hour))
		if working && p.calendar != nil {
			return p.calendar.AddWorkHours(now, d), true, nil
		}
		return now.Add(d), true, nil
	}

	if working {
		return time.Time{}, false, invalid(s, "working time must be given in days or hours")
	}
	switch m[3] {
	case "m", "min", "mins", "minute", "minutes":
		return now.Add(time.Duration(amount * float64(time.Minute))), true, nil
	case "w", "wk", "wks", "week", "weeks":
		return now.Add(time.Duration(amount * float64(7*24*time.Hour))), true, nil
	case "mo", "month", "months":
		if !whole {
			return time.Time{}, false, invalid(s, "months must be whole")
		}
		return now.AddDate(0, int(amount), 0), true, nil
	}
	return time.Time{}, false, nil
}

func (p *Parser) parseAbsolute(text string) (time.Time, bool) {
	s := strings.TrimSpace(text)
	for _, l := range absoluteLayouts {
		t, err := time.ParseInLocation(l.layout, s, p.loc)
		if err != nil {
			continue
		}
		if l.dayOnly {
			return endOfDay(t), true
		}
		return t, true
	}
	return time.Time{}, false
}

func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, 0, t.Location())
}

func invalid(text, msg string) error {
	return apperrors.NewValidationError(msg, map[string]any{"tat": text})
}
