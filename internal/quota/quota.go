package quota

import (
	"sync"
	"time"

	"github.com/loykin/respawn/internal/clock"
)

// DefaultMaxPerDay is the number of launch attempts allowed per calendar day.
const DefaultMaxPerDay = 50

// Quota is a point-in-time copy of the tracker state.
type Quota struct {
	Count int       `json:"count"`
	Limit int       `json:"limit"`
	Day   time.Time `json:"day"` // local midnight of the day the count belongs to
}

// Tracker counts launch attempts per calendar day of its clock's location.
// Every method rolls the counter over first when the day changed.
type Tracker struct {
	mu    sync.Mutex
	clock clock.Clock
	limit int
	count int
	day   time.Time
}

func NewTracker(limit int, c clock.Clock) *Tracker {
	if limit <= 0 {
		limit = DefaultMaxPerDay
	}
	if c == nil {
		c = clock.Real()
	}
	return &Tracker{clock: c, limit: limit, day: dayOf(c.Now())}
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// rollover must be called with mu held. It returns the current time.
func (t *Tracker) rollover() time.Time {
	now := t.clock.Now()
	if today := dayOf(now); !today.Equal(t.day) {
		t.count = 0
		t.day = today
	}
	return now
}

// RecordAttempt counts one launch and returns the new count.
func (t *Tracker) RecordAttempt() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollover()
	t.count++
	return t.count
}

func (t *Tracker) Exhausted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollover()
	return t.count >= t.limit
}

// UntilReset returns the time left until the next day boundary. It is never negative.
func (t *Tracker) UntilReset() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.rollover()
	next := time.Date(t.day.Year(), t.day.Month(), t.day.Day()+1, 0, 0, 0, 0, t.day.Location())
	d := next.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

func (t *Tracker) Snapshot() Quota {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollover()
	return Quota{Count: t.count, Limit: t.limit, Day: t.day}
}
