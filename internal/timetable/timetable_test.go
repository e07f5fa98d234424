package timetable

import (
	"testing"
	"time"
)

// Monday 2024-04-01 in a fixed zone.
func monday(hh, mm int) time.Time {
	return time.Date(2024, 4, 1, hh, mm, 0, 0, time.FixedZone("WIB", 7*3600))
}

func TestMatchesAliasEquivalence(t *testing.T) {
	now := monday(10, 1)
	tol := 2 * time.Minute

	spellings := []Table{
		{"monday": {"10:00"}},
		{"Monday": {"10:00"}},
		{"senin": {"10:00"}},
		{"SENIN": {"10:00"}},
	}
	for _, tt := range spellings {
		if !tt.Matches(now, tol) {
			t.Fatalf("table %v should match %v", tt, now)
		}
	}

	// Same clock on a different day must not match.
	other := Table{"selasa": {"10:00"}}
	if other.Matches(now, tol) {
		t.Fatalf("tuesday slot matched on monday")
	}
}

func TestMatchesInclusiveBoundary(t *testing.T) {
	tt := Table{"monday": {"10:00"}}
	tol := 2 * time.Minute

	cases := []struct {
		now  time.Time
		want bool
	}{
		{monday(10, 0), true},
		{monday(10, 2), true},  // exactly K minutes: inclusive
		{monday(9, 58), true},  // K minutes before
		{monday(10, 3), false}, // K+1 minutes: never
		{monday(9, 57), false},
	}
	for _, c := range cases {
		if got := tt.Matches(c.now, tol); got != c.want {
			t.Fatalf("Matches(%v) = %v, want %v", c.now, got, c.want)
		}
	}
}

func TestMatchesIgnoresUnknownKeysAndBadTimes(t *testing.T) {
	tt := Table{
		"someday": {"10:00"},
		"monday":  {"25:99", "10:00"},
	}
	if !tt.Matches(monday(10, 0), time.Minute) {
		t.Fatalf("valid slot should match despite junk entries")
	}
	if (Table{"someday": {"10:00"}}).Matches(monday(10, 0), time.Minute) {
		t.Fatalf("unknown-only table must never match")
	}
}

func TestMatchesTwoSlotsPerDay(t *testing.T) {
	tt := Table{"jumat": {"09:00", "18:30"}}
	friday := time.Date(2024, 4, 5, 18, 31, 0, 0, time.UTC)
	if !tt.Matches(friday, 2*time.Minute) {
		t.Fatalf("second slot of the day should match")
	}
}

func TestValidate(t *testing.T) {
	if err := (Table{"monday": {"10:00"}, "junkday": nil}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := (Table{}).Validate(); err == nil {
		t.Fatalf("empty table should be rejected")
	}
	if err := (Table{"monday": {"10:60"}}).Validate(); err == nil {
		t.Fatalf("bad minute should be rejected")
	}
	if err := (Table{"blursday": {"10:00"}}).Validate(); err == nil {
		t.Fatalf("unrecognized-only table should be rejected")
	}
}

func TestNextAfter(t *testing.T) {
	tol := 2 * time.Minute

	// Second slot later the same day.
	tt := Table{"senin": {"10:00", "18:00"}}
	next := tt.NextAfter(monday(10, 1), tol)
	if want := monday(18, 0); !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}

	// Last slot of the day: start of the following day.
	next = tt.NextAfter(monday(18, 1), tol)
	if want := monday(0, 0).AddDate(0, 0, 1); !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}

	// Firing early (09:58 for the 10:00 slot) must not leave 10:00 eligible,
	// or the same slot would fire twice.
	single := Table{"monday": {"10:00"}}
	next = single.NextAfter(monday(9, 58), tol)
	if want := monday(0, 0).AddDate(0, 0, 1); !next.Equal(want) {
		t.Fatalf("early fire: next = %v, want %v", next, want)
	}
}

func TestTimesForMergesAliases(t *testing.T) {
	tt := Table{"monday": {"08:00"}, "senin": {"20:00"}}
	got := tt.TimesFor(time.Monday)
	if len(got) != 2 {
		t.Fatalf("expected both alias spellings merged, got %v", got)
	}
}
