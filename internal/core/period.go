// Package core holds the breakeven domain: period bucket math, the
// snapshot/summary types, and the derived-metric formulas.
//
// All calendar buckets are Philippine-local (fixed UTC+8, no DST) and are
// expressed as half-open [start, end) intervals in UTC.
package core

import (
	"errors"
	"time"
)

// Manila is the fixed PH offset. PH has never observed DST, so a fixed
// zone is correct and avoids a timezone database dependency.
var Manila = time.FixedZone("Asia/Manila", 8*60*60)

const (
	PeriodToday PeriodKey = "today"
	PeriodWeek  PeriodKey = "week"
	PeriodMonth PeriodKey = "month"
)

// PeriodKey names a rolling reporting period, not a dated bucket.
type PeriodKey string

var ErrInvalidPeriod = errors.New("invalid period key")

func (p PeriodKey) Validate() error {
	switch p {
	case PeriodToday, PeriodWeek, PeriodMonth:
		return nil
	}
	return ErrInvalidPeriod
}

// Window is a half-open [Start, End) interval in UTC derived from a
// PH-local calendar boundary.
type Window struct {
	Start time.Time
	End   time.Time
}

const isoMillis = "2006-01-02T15:04:05.000Z07:00"

// StartISO returns the UTC start bound as an ISO-8601 string with
// millisecond precision, e.g. "2025-03-10T16:00:00.000Z".
func (w Window) StartISO() string {
	return w.Start.UTC().Format(isoMillis)
}

// EndISO returns the UTC end bound, same format as StartISO.
func (w Window) EndISO() string {
	return w.End.UTC().Format(isoMillis)
}

// Contains reports whether t falls inside the half-open interval.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// TodayWindow returns the PH calendar day containing now: PH midnight to
// the next PH midnight.
func TodayWindow(now time.Time) Window {
	y, m, d := now.In(Manila).Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, Manila)
	return Window{Start: start.UTC(), End: start.AddDate(0, 0, 1).UTC()}
}

// WeekWindow returns the ISO week containing now: Monday 00:00 PH to the
// following Monday 00:00 PH, always exactly 7 PH calendar days.
func WeekWindow(now time.Time) Window {
	ph := now.In(Manila)
	back := (int(ph.Weekday()) + 6) % 7
	y, m, d := ph.AddDate(0, 0, -back).Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, Manila)
	return Window{Start: start.UTC(), End: start.AddDate(0, 0, 7).UTC()}
}

// MonthWindow returns the PH calendar month containing now: first-of-month
// 00:00 PH to first-of-next-month 00:00 PH.
func MonthWindow(now time.Time) Window {
	ph := now.In(Manila)
	start := time.Date(ph.Year(), ph.Month(), 1, 0, 0, 0, 0, Manila)
	return Window{Start: start.UTC(), End: start.AddDate(0, 1, 0).UTC()}
}

// WindowFor maps a period key onto its bucket for the given instant.
func WindowFor(period PeriodKey, now time.Time) Window {
	switch period {
	case PeriodWeek:
		return WeekWindow(now)
	case PeriodMonth:
		return MonthWindow(now)
	default:
		return TodayWindow(now)
	}
}

// UntilNextMidnight returns how long until the next PH-local midnight.
// Never negative; used to schedule the daily cache-reset timer.
func UntilNextMidnight(now time.Time) time.Duration {
	next := TodayWindow(now).End
	d := next.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
