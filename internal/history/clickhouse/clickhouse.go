package clickhouse

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/loykin/respawn/internal/history"
)

const DefaultTable = "worker_history"

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Options selects the ClickHouse server and destination table.
type Options struct {
	Addr     string
	Database string
	Username string
	Password string
	Table    string
}

// Sink sends events to ClickHouse using the official ClickHouse Go client.
type Sink struct {
	conn  driver.Conn
	table string
}

func New(opts Options) (*Sink, error) {
	if opts.Table == "" {
		opts.Table = DefaultTable
	}
	if !tableName.MatchString(opts.Table) {
		return nil, fmt.Errorf("invalid ClickHouse table name %q", opts.Table)
	}
	if opts.Database == "" {
		opts.Database = "default"
	}
	if opts.Username == "" {
		opts.Username = "default"
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{opts.Addr},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	s := &Sink{conn: conn, table: opts.Table}
	if err := s.ensureSchema(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	err := s.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+s.table+` (
			event String,
			occurred_at DateTime64(3),
			name String,
			pid Int64,
			attempt Int64,
			started_at Nullable(DateTime64(3)),
			stopped_at Nullable(DateTime64(3)),
			exit_code Int64,
			outcome String,
			error String
		) ENGINE = MergeTree()
		ORDER BY (occurred_at, name)`)
	if err != nil {
		return fmt.Errorf("failed to create ClickHouse table: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	query := fmt.Sprintf(`INSERT INTO %s (event, occurred_at, name, pid, attempt, started_at, stopped_at, exit_code, outcome, error) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table)

	rec := e.Record
	err := s.conn.Exec(ctx, query,
		string(e.Type),
		e.OccurredAt.UTC(),
		rec.Name,
		int64(rec.PID),
		int64(rec.Attempt),
		optionalTime(rec.StartedAt),
		optionalTime(rec.StoppedAt),
		int64(rec.ExitCode),
		rec.Outcome,
		rec.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event into ClickHouse: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (s *Sink) Recent(ctx context.Context, limit int) ([]history.Event, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.conn.Query(ctx, fmt.Sprintf(`SELECT event, occurred_at, name, pid, attempt, started_at, stopped_at, exit_code, outcome, error FROM %s ORDER BY occurred_at DESC LIMIT %d`, s.table, limit))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []history.Event
	for rows.Next() {
		var (
			typ                    string
			occurred               time.Time
			name, outcome, errText string
			pid, attempt, exitCode int64
			started, stopped       *time.Time
		)
		if err := rows.Scan(&typ, &occurred, &name, &pid, &attempt, &started, &stopped, &exitCode, &outcome, &errText); err != nil {
			return nil, err
		}
		e := history.Event{
			Type:       history.EventType(typ),
			OccurredAt: occurred.UTC(),
			Record: history.Record{
				Name:     name,
				PID:      int(pid),
				Attempt:  int(attempt),
				ExitCode: int(exitCode),
				Outcome:  outcome,
				Error:    errText,
			},
		}
		if started != nil {
			e.Record.StartedAt = started.UTC()
		}
		if stopped != nil {
			e.Record.StoppedAt = stopped.UTC()
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
