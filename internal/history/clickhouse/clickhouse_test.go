package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/respawn/internal/history"
)

// setupClickHouseContainer starts a ClickHouse container and returns its native address.
func setupClickHouseContainer(ctx context.Context, t *testing.T) (testcontainers.Container, string) {
	t.Helper()

	clickHouseContainer, err := clickhouse.Run(ctx,
		"clickhouse/clickhouse-server:24.3.2.23",
		clickhouse.WithUsername("default"),
		clickhouse.WithPassword(""),
		clickhouse.WithDatabase("default"),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/ping").
				WithPort("8123/tcp").
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start ClickHouse container: %v", err)
	}

	host, err := clickHouseContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := clickHouseContainer.MappedPort(ctx, "9000")
	if err != nil {
		t.Fatalf("Failed to get mapped port: %v", err)
	}
	return clickHouseContainer, host + ":" + port.Port()
}

func TestClickHouseSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	container, addr := setupClickHouseContainer(ctx, t)
	defer func() {
		if err := container.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate ClickHouse container: %v", err)
		}
	}()

	sink, err := New(Options{Addr: addr})
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	started := time.Now().Add(-time.Minute).UTC().Truncate(time.Millisecond)
	rec := history.Record{Name: "bot", PID: 777, Attempt: 1, StartedAt: started}
	if err := sink.Send(ctx, history.Event{Type: history.EventLaunch, OccurredAt: started, Record: rec}); err != nil {
		t.Fatalf("send launch: %v", err)
	}
	rec.StoppedAt = started.Add(10 * time.Second)
	rec.Outcome = history.OutcomeClean
	if err := sink.Send(ctx, history.Event{Type: history.EventExit, OccurredAt: rec.StoppedAt, Record: rec}); err != nil {
		t.Fatalf("send exit: %v", err)
	}

	events, err := sink.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != history.EventExit || !events[0].Record.StoppedAt.Equal(rec.StoppedAt) {
		t.Fatalf("unexpected newest event: %+v", events[0])
	}
	if !events[1].Record.StoppedAt.IsZero() {
		t.Fatalf("launch event must have NULL stopped_at: %+v", events[1])
	}
}

func TestNew_RejectsBadTableName(t *testing.T) {
	for _, name := range []string{"bad-name", "x; DROP TABLE y", "1abc", "a.b.c"} {
		if _, err := New(Options{Addr: "127.0.0.1:1", Table: name}); err == nil {
			t.Errorf("expected error for table %q", name)
		}
	}
}
