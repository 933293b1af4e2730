package cron

import (
	"testing"
	"time"
)

func TestParse_DailySchedule(t *testing.T) {
	p := NewParser()
	sched, err := p.Parse("0 6 * * *", "UTC")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	after := time.Date(2026, 3, 1, 5, 0, 0, 0, time.UTC)
	next := sched.Next(after)
	want := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("Next = %s, want %s", next, want)
	}

	// After the fire time, the following day.
	next = sched.Next(want)
	want = time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("Next = %s, want %s", next, want)
	}
}

func TestParse_TimezoneAware(t *testing.T) {
	p := NewParser()
	sched, err := p.Parse("0 6 * * *", "America/New_York")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	// 06:00 in New York (EST, UTC-5) is 11:00 UTC.
	after := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	next := sched.Next(after).UTC()
	want := time.Date(2026, 1, 15, 11, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("Next = %s, want %s", next, want)
	}
}

func TestParse_EmptyTimezoneDefaultsUTC(t *testing.T) {
	p := NewParser()
	if _, err := p.Parse("*/5 * * * *", ""); err != nil {
		t.Fatalf("Parse: %v", err)
	}
}

func TestParse_Invalid(t *testing.T) {
	p := NewParser()
	for _, expr := range []string{"", "not a cron", "99 99 * * *", "* * * * * *"} {
		if _, err := p.Parse(expr, "UTC"); err == nil {
			t.Errorf("Parse(%q) succeeded, want error", expr)
		}
	}
}

func TestParse_BadTimezone(t *testing.T) {
	p := NewParser()
	if _, err := p.Parse("0 6 * * *", "Mars/Olympus"); err == nil {
		t.Error("expected error for unknown timezone")
	}
}
