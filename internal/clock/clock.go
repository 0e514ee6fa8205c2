package clock

import (
	"sync"
	"time"
)

// Clock is the time source used by the quota tracker and the scheduler loop.
type Clock interface {
	Now() time.Time
	// After behaves like time.After.
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Manual is a Clock that only moves when told to. After advances the clock
// by d and fires immediately, so loops that sleep on a Manual clock run
// without real time passing.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

func NewManual(start time.Time) *Manual { return &Manual{now: start} }

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

func (m *Manual) After(d time.Duration) <-chan time.Time {
	if d > 0 {
		m.Advance(d)
	}
	ch := make(chan time.Time, 1)
	ch <- m.Now()
	return ch
}
