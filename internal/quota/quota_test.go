package quota

import (
	"testing"
	"time"

	"github.com/loykin/respawn/internal/clock"
)

func TestTracker_CountsAndExhausts(t *testing.T) {
	c := clock.NewManual(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	tr := NewTracker(3, c)

	for i := 1; i <= 3; i++ {
		if tr.Exhausted() {
			t.Fatalf("exhausted too early at attempt %d", i)
		}
		if got := tr.RecordAttempt(); got != i {
			t.Fatalf("expected count %d, got %d", i, got)
		}
	}
	if !tr.Exhausted() {
		t.Fatalf("expected exhausted after 3 attempts")
	}
}

func TestTracker_DefaultLimit(t *testing.T) {
	tr := NewTracker(0, clock.NewManual(time.Now()))
	if got := tr.Snapshot().Limit; got != DefaultMaxPerDay {
		t.Fatalf("expected default limit %d, got %d", DefaultMaxPerDay, got)
	}
}

func TestTracker_RollsOverOncePerDay(t *testing.T) {
	c := clock.NewManual(time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC))
	tr := NewTracker(50, c)
	for i := 0; i < 50; i++ {
		tr.RecordAttempt()
	}
	if !tr.Exhausted() {
		t.Fatalf("expected exhausted")
	}

	c.Advance(59 * time.Minute)
	if !tr.Exhausted() {
		t.Fatalf("must stay exhausted before midnight")
	}

	c.Advance(time.Minute)
	q := tr.Snapshot()
	if q.Count != 0 {
		t.Fatalf("expected reset at midnight, count=%d", q.Count)
	}
	if want := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC); !q.Day.Equal(want) {
		t.Fatalf("expected day marker %v, got %v", want, q.Day)
	}

	// Attempts on the new day are not wiped by further calls on the same day.
	tr.RecordAttempt()
	c.Advance(12 * time.Hour)
	if got := tr.Snapshot().Count; got != 1 {
		t.Fatalf("count must not reset within the same day, got %d", got)
	}
}

func TestTracker_RolloverSkipsDays(t *testing.T) {
	c := clock.NewManual(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	tr := NewTracker(5, c)
	tr.RecordAttempt()
	tr.RecordAttempt()
	c.Advance(72 * time.Hour)
	if got := tr.RecordAttempt(); got != 1 {
		t.Fatalf("expected fresh count after several days, got %d", got)
	}
}

func TestTracker_UntilResetMonotonic(t *testing.T) {
	c := clock.NewManual(time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC))
	tr := NewTracker(1, c)

	if got := tr.UntilReset(); got != 6*time.Hour {
		t.Fatalf("expected 6h until reset, got %v", got)
	}

	prev := tr.UntilReset()
	for i := 0; i < 12; i++ {
		c.Advance(30 * time.Minute)
		d := tr.UntilReset()
		if d < 0 {
			t.Fatalf("until reset must never be negative, got %v", d)
		}
		// Crossing midnight starts a new day, so the next boundary is a day away.
		crossed := c.Now().Day() != 10
		if !crossed && d > prev {
			t.Fatalf("until reset increased within a day: %v -> %v", prev, d)
		}
		prev = d
	}
}

func TestTracker_UntilResetHonoursLocation(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	c := clock.NewManual(time.Date(2026, 3, 10, 22, 30, 0, 0, loc))
	tr := NewTracker(1, c)
	if got := tr.UntilReset(); got != 90*time.Minute {
		t.Fatalf("expected 90m until local midnight, got %v", got)
	}
}
