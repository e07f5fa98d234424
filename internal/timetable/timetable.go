// Package timetable implements weekday/time-of-day matching for recurring
// broadcast schedules.
//
// A Table maps weekday names to "HH:MM" send times. Weekday keys are accepted
// in either English ("monday") or Indonesian ("senin") spelling; both refer to
// the same 7 calendar days and may be mixed freely within one table.
// Unrecognized keys are ignored, never an error.
package timetable

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Table maps a weekday name to the send times configured for that day.
// At most two times per day are expected; extra entries still match.
type Table map[string][]string

// DefaultTolerance is the ± window around a configured slot that still counts
// as a match. It must exceed half the dispatch polling interval or slots can
// be missed between ticks.
const DefaultTolerance = 2 * time.Minute

// weekdayAliases maps both naming vocabularies onto time.Weekday.
var weekdayAliases = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,

	"minggu": time.Sunday,
	"senin":  time.Monday,
	"selasa": time.Tuesday,
	"rabu":   time.Wednesday,
	"kamis":  time.Thursday,
	"jumat":  time.Friday,
	"sabtu":  time.Saturday,
}

// Weekday resolves a table key to a calendar weekday.
func Weekday(key string) (time.Weekday, bool) {
	d, ok := weekdayAliases[strings.ToLower(strings.TrimSpace(key))]
	return d, ok
}

// ParseClock parses a "HH:MM" string (24h clock).
func ParseClock(s string) (hour, minute int, err error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q (want HH:MM)", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour, minute, nil
}

// TimesFor collects the configured times for one calendar day, merging entries
// regardless of which alias spelling the table used. Unknown keys are skipped.
func (t Table) TimesFor(day time.Weekday) []string {
	var out []string
	for key, times := range t {
		d, ok := Weekday(key)
		if !ok || d != day {
			continue
		}
		out = append(out, times...)
	}
	return out
}

// Matches reports whether now falls within ±tol (inclusive) of any send time
// configured for now's weekday. Malformed time strings are skipped.
func (t Table) Matches(now time.Time, tol time.Duration) bool {
	if tol <= 0 {
		tol = DefaultTolerance
	}
	for _, raw := range t.TimesFor(now.Weekday()) {
		hh, mm, err := ParseClock(raw)
		if err != nil {
			continue
		}
		slot := time.Date(now.Year(), now.Month(), now.Day(), hh, mm, 0, 0, now.Location())
		diff := now.Sub(slot)
		if diff < 0 {
			diff = -diff
		}
		if diff <= tol {
			return true
		}
	}
	return false
}

// NextAfter computes the next instant a schedule becomes eligible again after
// firing at fired: the earliest same-day slot strictly later than fired+tol
// (so the slot just served cannot re-fire inside its own window), else the
// start of the following day. The next-day sentinel is deliberately coarse:
// the whole next day is refireable and the weekday filter in Matches gates the
// actual send.
func (t Table) NextAfter(fired time.Time, tol time.Duration) time.Time {
	if tol <= 0 {
		tol = DefaultTolerance
	}
	cutoff := fired.Add(tol)
	var next time.Time
	for _, raw := range t.TimesFor(fired.Weekday()) {
		hh, mm, err := ParseClock(raw)
		if err != nil {
			continue
		}
		slot := time.Date(fired.Year(), fired.Month(), fired.Day(), hh, mm, 0, 0, fired.Location())
		if !slot.After(cutoff) {
			continue
		}
		if next.IsZero() || slot.Before(next) {
			next = slot
		}
	}
	if !next.IsZero() {
		return next
	}
	y, m, d := fired.AddDate(0, 0, 1).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, fired.Location())
}

// Validate reports configuration problems a CRUD layer should reject early:
// malformed HH:MM values, or a non-empty table whose keys are all
// unrecognized (the schedule could never fire).
func (t Table) Validate() error {
	if len(t) == 0 {
		return fmt.Errorf("time table is empty")
	}
	recognized := 0
	for key, times := range t {
		if _, ok := Weekday(key); ok {
			recognized++
		}
		for _, raw := range times {
			if _, _, err := ParseClock(raw); err != nil {
				return fmt.Errorf("weekday %q: %w", key, err)
			}
		}
	}
	if recognized == 0 {
		return fmt.Errorf("time table has no recognized weekday keys")
	}
	return nil
}
