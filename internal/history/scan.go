package history

import (
	"database/sql"
	"time"
)

// Rows is the subset of *sql.Rows used by ScanEvents.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// ScanEvents reads rows with the columns occurred_at, event, name, pid,
// attempt, started_at, stopped_at, exit_code, outcome, error.
func ScanEvents(rows Rows) ([]Event, error) {
	var out []Event
	for rows.Next() {
		var (
			e                Event
			typ              string
			started, stopped sql.NullTime
			occurred         time.Time
		)
		if err := rows.Scan(&occurred, &typ, &e.Record.Name, &e.Record.PID, &e.Record.Attempt,
			&started, &stopped, &e.Record.ExitCode, &e.Record.Outcome, &e.Record.Error); err != nil {
			return nil, err
		}
		e.Type = EventType(typ)
		e.OccurredAt = occurred.UTC()
		if started.Valid {
			e.Record.StartedAt = started.Time.UTC()
		}
		if stopped.Valid {
			e.Record.StoppedAt = stopped.Time.UTC()
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
