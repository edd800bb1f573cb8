// Package timeutil holds the pure time math used by slot generation and
// availability queries: zone conversion, clock parsing, and fixed-step slot
// enumeration. No state, no I/O.
package timeutil

import (
	"fmt"
	"time"
)

// Clock is a wall-clock time of day, independent of date and zone.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses "HH:MM" (24-hour) into a Clock.
func ParseClock(s string) (Clock, error) {
	var c Clock
	if _, err := fmt.Sscanf(s, "%d:%d", &c.Hour, &c.Minute); err != nil {
		return Clock{}, fmt.Errorf("parse clock %q: %w", s, err)
	}
	if c.Hour < 0 || c.Hour > 23 || c.Minute < 0 || c.Minute > 59 {
		return Clock{}, fmt.Errorf("parse clock %q: out of range", s)
	}
	return c, nil
}

// On anchors the clock on the given day in day's location.
func (c Clock) On(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), c.Hour, c.Minute, 0, 0, day.Location())
}

// Convert re-expresses t in the target zone. The instant is unchanged.
func Convert(t time.Time, toZone string) (time.Time, error) {
	loc, err := time.LoadLocation(toZone)
	if err != nil {
		return time.Time{}, fmt.Errorf("load location %q: %w", toZone, err)
	}
	return t.In(loc), nil
}

// Interval is a half-open [Start, End) time range.
type Interval struct {
	Start time.Time
	End   time.Time
}

// EnumerateSlots walks [windowStart, windowEnd) in duration-sized steps and
// returns one interval per full step. A trailing step that would overflow the
// window is dropped.
func EnumerateSlots(windowStart, windowEnd time.Time, duration time.Duration) []Interval {
	if duration <= 0 {
		return nil
	}
	var out []Interval
	for start := windowStart; !start.Add(duration).After(windowEnd); start = start.Add(duration) {
		out = append(out, Interval{Start: start, End: start.Add(duration)})
	}
	return out
}

// EachDay calls fn once per calendar day from the day containing start
// through the day containing end, inclusive, at midnight in start's location.
// DST transitions are handled by AddDate rather than 24h arithmetic.
func EachDay(start, end time.Time, fn func(day time.Time)) {
	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
	last := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, start.Location())
	for !day.After(last) {
		fn(day)
		day = day.AddDate(0, 0, 1)
	}
}
