package tat

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rickar/cal/v2"

	"github.com/spec-kit/ticket-lifecycle/internal/config"
)

// Calendar wraps a business calendar with the configured end of the work day.
type Calendar struct {
	bc         *cal.BusinessCalendar
	workdayEnd time.Duration
}

// NewCalendar builds the business calendar used for working-day and working-hour TATs.
func NewCalendar(cfg config.CalendarConfig) (*Calendar, error) {
	c := cal.NewBusinessCalendar()
	end := 24*time.Hour - time.Second

	if len(cfg.Workdays) > 0 {
		for d := time.Sunday; d <= time.Saturday; d++ {
			c.SetWorkday(d, false)
		}
		for _, d := range cfg.Workdays {
			c.SetWorkday(d, true)
		}
	}

	if cfg.EndHour > cfg.StartHour && cfg.StartHour >= 0 && cfg.EndHour <= 24 {
		c.SetWorkHours(time.Duration(cfg.StartHour)*time.Hour, time.Duration(cfg.EndHour)*time.Hour)
		end = time.Duration(cfg.EndHour) * time.Hour
	}

	for _, entry := range cfg.Holidays {
		holiday, err := parseHoliday(entry)
		if err != nil {
			return nil, err
		}
		c.AddHoliday(holiday)
	}
	return &Calendar{bc: c, workdayEnd: end}, nil
}

// AddWorkHours adds d of working time to from.
func (c *Calendar) AddWorkHours(from time.Time, d time.Duration) time.Time {
	return c.bc.AddWorkHours(from, d)
}

// IsWorkday reports whether day is a working, non-holiday day.
func (c *Calendar) IsWorkday(day time.Time) bool {
	return c.bc.IsWorkday(day)
}

// AddWorkdays moves forward n business days and lands on the end of that day's work hours.
func (c *Calendar) AddWorkdays(from time.Time, n int) time.Time {
	day := from
	for n > 0 {
		day = day.AddDate(0, 0, 1)
		if c.bc.IsWorkday(day) {
			n--
		}
	}
	y, m, d := day.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, day.Location()).Add(c.workdayEnd)
}

// parseHoliday reads "MM-DD:Name" or "YYYY-MM-DD:Name" (one-off).
func parseHoliday(entry string) (*cal.Holiday, error) {
	datePart, name, _ := strings.Cut(strings.TrimSpace(entry), ":")
	parts := strings.Split(datePart, "-")
	if name == "" {
		name = datePart
	}

	var year int
	switch len(parts) {
	case 2:
	case 3:
		y, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, fmt.Errorf("holiday %q: bad year", entry)
		}
		year = y
		parts = parts[1:]
	default:
		return nil, fmt.Errorf("holiday %q: expected MM-DD or YYYY-MM-DD", entry)
	}

	month, err := strconv.Atoi(parts[0])
	if err != nil || month < 1 || month > 12 {
		return nil, fmt.Errorf("holiday %q: bad month", entry)
	}
	day, err := strconv.Atoi(parts[1])
	if err != nil || day < 1 || day > 31 {
		return nil, fmt.Errorf("holiday %q: bad day", entry)
	}

	h := &cal.Holiday{
		Name:  strings.TrimSpace(name),
		Type:  cal.ObservancePublic,
		Month: time.Month(month),
		Day:   day,
		Func:  cal.CalcDayOfMonth,
	}
	if year > 0 {
		h.StartYear = year
		h.EndYear = year
	}
	return h, nil
}
