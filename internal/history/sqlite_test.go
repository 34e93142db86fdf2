package history

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// setupJournalTestDB creates an in-memory SQLite database with the
// volume_events table.
func setupJournalTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	schema := `
		CREATE TABLE volume_events (
			id TEXT PRIMARY KEY,
			stream TEXT NOT NULL,
			physical_stream INTEGER NOT NULL DEFAULT 0,
			volume INTEGER NOT NULL,
			source TEXT NOT NULL DEFAULT 'hardware',
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		) STRICT;
		CREATE INDEX idx_volume_events_stream ON volume_events(stream, created_at DESC);
		CREATE INDEX idx_volume_events_time ON volume_events(created_at DESC);
	`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// insertEventRow inserts a volume event row with a specific timestamp.
func insertEventRow(t *testing.T, db *sql.DB, id, stream string, physical, vol int, source string, createdAt time.Time) {
	t.Helper()

	_, err := db.Exec(
		"INSERT INTO volume_events (id, stream, physical_stream, volume, source, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		id,
		stream,
		physical,
		vol,
		source,
		createdAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		t.Fatalf("failed to insert volume event row: %v", err)
	}
}

func TestRecordGeneratesIDAndTimestamp(t *testing.T) {
	db := setupJournalTestDB(t)
	journal := NewSQLiteJournal(db)
	ctx := context.Background()

	ev := &Event{Stream: "media", PhysicalStream: 1, Volume: 12, Source: SourceAPI}
	if err := journal.Record(ctx, ev); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	if !strings.HasPrefix(ev.ID, "evt-") {
		t.Errorf("ID = %q, want evt- prefix", ev.ID)
	}
	if ev.CreatedAt.IsZero() {
		t.Error("CreatedAt is zero, want generated timestamp")
	}

	result, err := journal.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(result.Events) != 1 {
		t.Fatalf("events length = %d, want 1", len(result.Events))
	}

	got := result.Events[0]
	if got.ID != ev.ID {
		t.Errorf("ID = %q, want %q", got.ID, ev.ID)
	}
	if got.Stream != "media" || got.PhysicalStream != 1 || got.Volume != 12 || got.Source != SourceAPI {
		t.Errorf("event = %+v, want media/1/12/api", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("stored CreatedAt is zero")
	}
}

func TestRecordValidation(t *testing.T) {
	db := setupJournalTestDB(t)
	journal := NewSQLiteJournal(db)
	ctx := context.Background()

	if err := journal.Record(ctx, nil); err == nil {
		t.Error("Record(nil) succeeded, want error")
	}
	if err := journal.Record(ctx, &Event{Volume: 5}); err == nil {
		t.Error("Record without stream succeeded, want error")
	}
}

func TestRecordDefaultsSource(t *testing.T) {
	db := setupJournalTestDB(t)
	journal := NewSQLiteJournal(db)
	ctx := context.Background()

	ev := &Event{Stream: "media", Volume: 3}
	if err := journal.Record(ctx, ev); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if ev.Source != SourceHardware {
		t.Errorf("Source = %q, want %q", ev.Source, SourceHardware)
	}
}

func TestListOrderingAndLimit(t *testing.T) {
	db := setupJournalTestDB(t)
	journal := NewSQLiteJournal(db)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	insertEventRow(t, db, "evt-1", "media", 0, 10, SourceAPI, now.Add(-2*time.Hour))
	insertEventRow(t, db, "evt-2", "media", 0, 11, SourceKey, now.Add(-1*time.Hour))
	insertEventRow(t, db, "evt-3", "media", 0, 12, SourceMQTT, now)

	result, err := journal.List(ctx, Filter{Limit: 2})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if result.Total != 3 {
		t.Errorf("Total = %d, want 3", result.Total)
	}
	if len(result.Events) != 2 {
		t.Fatalf("events length = %d, want 2", len(result.Events))
	}
	if result.Events[0].ID != "evt-3" || result.Events[1].ID != "evt-2" {
		t.Errorf("order = %s, %s; want evt-3, evt-2", result.Events[0].ID, result.Events[1].ID)
	}
	if !result.Events[0].CreatedAt.Equal(now) {
		t.Errorf("event[0] CreatedAt = %s, want %s", result.Events[0].CreatedAt, now)
	}
}

func TestListFilters(t *testing.T) {
	db := setupJournalTestDB(t)
	journal := NewSQLiteJournal(db)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	insertEventRow(t, db, "evt-1", "media", 0, 10, SourceAPI, now.Add(-3*time.Hour))
	insertEventRow(t, db, "evt-2", "navigation", 0, 20, SourceKey, now.Add(-2*time.Hour))
	insertEventRow(t, db, "evt-3", "media", 0, 12, SourceKey, now.Add(-1*time.Hour))
	insertEventRow(t, db, "evt-4", "media", 0, 14, SourceHardware, now)

	byStream, err := journal.List(ctx, Filter{Stream: "navigation"})
	if err != nil {
		t.Fatalf("List(stream) error = %v", err)
	}
	if byStream.Total != 1 || len(byStream.Events) != 1 || byStream.Events[0].ID != "evt-2" {
		t.Errorf("stream filter = %+v, want only evt-2", byStream.Events)
	}

	bySource, err := journal.List(ctx, Filter{Source: SourceKey})
	if err != nil {
		t.Fatalf("List(source) error = %v", err)
	}
	if bySource.Total != 2 {
		t.Errorf("source filter Total = %d, want 2", bySource.Total)
	}

	window, err := journal.List(ctx, Filter{
		Since: now.Add(-2 * time.Hour),
		Until: now.Add(-30 * time.Minute),
	})
	if err != nil {
		t.Fatalf("List(window) error = %v", err)
	}
	if window.Total != 2 {
		t.Fatalf("window Total = %d, want 2: %+v", window.Total, window.Events)
	}
	if window.Events[0].ID != "evt-3" || window.Events[1].ID != "evt-2" {
		t.Errorf("window order = %s, %s; want evt-3, evt-2", window.Events[0].ID, window.Events[1].ID)
	}

	combined, err := journal.List(ctx, Filter{Stream: "media", Source: SourceKey})
	if err != nil {
		t.Fatalf("List(combined) error = %v", err)
	}
	if combined.Total != 1 || combined.Events[0].ID != "evt-3" {
		t.Errorf("combined filter = %+v, want only evt-3", combined.Events)
	}
}

func TestListEmpty(t *testing.T) {
	db := setupJournalTestDB(t)
	journal := NewSQLiteJournal(db)

	result, err := journal.List(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if result.Events == nil {
		t.Error("Events is nil, want empty slice")
	}
	if result.Total != 0 || len(result.Events) != 0 {
		t.Errorf("result = %+v, want empty", result)
	}
	if result.Limit != defaultListLimit {
		t.Errorf("Limit = %d, want default %d", result.Limit, defaultListLimit)
	}
}

func TestPrune(t *testing.T) {
	db := setupJournalTestDB(t)
	journal := NewSQLiteJournal(db)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	insertEventRow(t, db, "evt-old", "media", 0, 10, SourceAPI, now.Add(-40*24*time.Hour))
	insertEventRow(t, db, "evt-new", "media", 0, 12, SourceAPI, now.Add(-12*time.Hour))

	deleted, err := journal.Prune(ctx, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}

	result, err := journal.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(result.Events) != 1 || result.Events[0].ID != "evt-new" {
		t.Errorf("remaining = %+v, want only evt-new", result.Events)
	}

	if _, err := journal.Prune(ctx, 0); err == nil {
		t.Error("Prune(0) succeeded, want error")
	}
}
