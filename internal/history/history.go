package history

import (
	"context"
	"time"
)

// EventType defines the kind of worker lifecycle event.
type EventType string

const (
	EventLaunch       EventType = "launch"
	EventLaunchFailed EventType = "launch_failed"
	EventExit         EventType = "exit"
	EventShutdown     EventType = "shutdown"
)

// Outcome values carried by exit records.
const (
	OutcomeClean   = "clean"
	OutcomeFaulted = "faulted"
)

// Record describes one worker generation at the time of the event.
type Record struct {
	Name      string    `json:"name"`
	PID       int       `json:"pid"`
	Attempt   int       `json:"attempt"` // attempt number within the current day
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at"`
	ExitCode  int       `json:"exit_code"`
	Outcome   string    `json:"outcome,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Event represents a lifecycle event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Reader is implemented by sinks that can return what they stored.
type Reader interface {
	Recent(ctx context.Context, limit int) ([]Event, error)
}

// NullTime maps the zero time to nil so drivers store NULL.
func NullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
