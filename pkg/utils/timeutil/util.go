/*
 * Copyright (C) 2025-2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package timeutil

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	MinutesPerDay = 1440

	TimeRFC3339Short = "2006-01-02T15:04:05"
)

// Window is a half-open [Start, End) interval in minutes of the local day.
// End may legally be MinutesPerDay, meaning "next midnight", and an unwrapped
// window may extend past MinutesPerDay.
type Window struct {
	Start int
	End   int
}

// ParseClock converts "HH:MM" to minutes of day.
func ParseClock(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock value %q", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour*60 + minute, nil
}

// FormatClock converts minutes of day back to "HH:MM". Values past
// MinutesPerDay are folded into the next day first.
func FormatClock(m int) string {
	m = ((m % MinutesPerDay) + MinutesPerDay) % MinutesPerDay
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

// MinutesOfDay returns the minutes elapsed since the midnight of t's own day,
// in t's location.
func MinutesOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// ParseWindow converts "HH:MM-HH:MM" to a Window.
func ParseWindow(s string) (Window, error) {
	parts := strings.SplitN(strings.TrimSpace(s), "-", 2)
	if len(parts) != 2 {
		return Window{}, fmt.Errorf("invalid window value %q", s)
	}
	start, err := ParseClock(parts[0])
	if err != nil {
		return Window{}, err
	}
	end, err := ParseClock(parts[1])
	if err != nil {
		return Window{}, err
	}
	return Window{Start: start, End: end}, nil
}

// Unwrap is the single midnight-unwrap point of the codebase: a window whose
// end lies before its start is extended past MinutesPerDay, so all interval
// math downstream works in plain "minutes since reference midnight".
func Unwrap(w Window) Window {
	if w.End < w.Start {
		return Window{Start: w.Start, End: w.End + MinutesPerDay}
	}
	return w
}

// Duration returns the length of a window in minutes, wrap-aware.
func Duration(w Window) int {
	u := Unwrap(w)
	return u.End - u.Start
}

// Overlaps reports whether two windows intersect under the midnight-unwrap
// definition. Since an unwrapped window straddles the day boundary, the other
// window is additionally tested shifted one day forward and back.
func Overlaps(a, b Window) bool {
	return OverlapMinutes(a, b) > 0
}

// OverlapMinutes returns the total number of shared minutes of two windows,
// wrap-aware.
func OverlapMinutes(a, b Window) int {
	ua, ub := Unwrap(a), Unwrap(b)
	total := 0
	for _, shift := range []int{-MinutesPerDay, 0, MinutesPerDay} {
		lo := max(ua.Start, ub.Start+shift)
		hi := min(ua.End, ub.End+shift)
		if hi > lo {
			total += hi - lo
		}
	}
	return total
}

// ContainsMinute reports whether minute m of the day falls inside the window,
// wrap-aware.
func ContainsMinute(w Window, m int) bool {
	u := Unwrap(w)
	if m >= u.Start && m < u.End {
		return true
	}
	m += MinutesPerDay
	return m >= u.Start && m < u.End
}

// FloorToHour truncates t down to the full hour.
func FloorToHour(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
}

// Midnight returns the midnight starting t's local day.
func Midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// AtClock returns the moment of day d at the given minutes-of-day.
func AtClock(d time.Time, minutes int) time.Time {
	return Midnight(d).Add(time.Duration(minutes) * time.Minute)
}

// CronSingleFire renders t as a single-fire standard cron spec
// (minute hour day month, weekday wildcarded) and validates it.
func CronSingleFire(t time.Time) (string, error) {
	spec := fmt.Sprintf("%d %d %d %d *", t.Minute(), t.Hour(), t.Day(), int(t.Month()))
	if _, err := cron.ParseStandard(spec); err != nil {
		return "", err
	}
	return spec, nil
}

// FormatRFC3339 renders t without zone suffix, empty for zero times.
func FormatRFC3339(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Format(TimeRFC3339Short)
}
