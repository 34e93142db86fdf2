package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// SQLiteJournal implements Journal using SQLite.
//
// Rows live in the volume_events table created by the migrations.
type SQLiteJournal struct {
	db *sql.DB
}

// NewSQLiteJournal creates a new SQLite volume event journal.
//
// Parameters:
//   - db: Open SQLite connection used for queries
//
// Returns:
//   - *SQLiteJournal: Journal instance ready for use
func NewSQLiteJournal(db *sql.DB) *SQLiteJournal {
	return &SQLiteJournal{db: db}
}

// Record inserts a new volume event row.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - ev: Event to persist; ID and CreatedAt are generated if empty
//
// Returns:
//   - error: nil on success, otherwise the underlying database error
func (j *SQLiteJournal) Record(ctx context.Context, ev *Event) error {
	if ev == nil {
		return fmt.Errorf("event is required")
	}
	if ev.Stream == "" {
		return fmt.Errorf("stream is required")
	}
	if ev.Source == "" {
		ev.Source = SourceHardware
	}
	if ev.ID == "" {
		ev.ID = "evt-" + uuid.NewString()[:16]
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO volume_events (id, stream, physical_stream, volume, source, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID,
		ev.Stream,
		ev.PhysicalStream,
		ev.Volume,
		ev.Source,
		ev.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting volume event: %w", err)
	}

	return nil
}

// List returns volume events matching the filter, ordered newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - filter: Constraints and pagination (limit default 50, max 200)
//
// Returns:
//   - *ListResult: Matching events with pagination metadata
//   - error: nil on success, otherwise the underlying query error
func (j *SQLiteJournal) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	// Build WHERE clause dynamically.
	var conditions []string
	var args []any

	if filter.Stream != "" {
		conditions = append(conditions, "stream = ?")
		args = append(args, filter.Stream)
	}
	if filter.Source != "" {
		conditions = append(conditions, "source = ?")
		args = append(args, filter.Source)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, filter.Since.UTC().Format(time.RFC3339))
	}
	if !filter.Until.IsZero() {
		conditions = append(conditions, "created_at <= ?")
		args = append(args, filter.Until.UTC().Format(time.RFC3339))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM volume_events %s", where) //nolint:gosec // WHERE built from parameterised conditions, not user input
	var total int
	if err := j.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting volume events: %w", err)
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		"SELECT id, stream, physical_stream, volume, source, created_at FROM volume_events %s ORDER BY created_at DESC LIMIT ? OFFSET ?",
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying volume events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var createdAt string

		if err := rows.Scan(&ev.ID, &ev.Stream, &ev.PhysicalStream, &ev.Volume, &ev.Source, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning volume event: %w", err)
		}

		t, err := parseEventTimestamp(createdAt)
		if err != nil {
			return nil, err
		}
		ev.CreatedAt = t

		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating volume events: %w", err)
	}

	if events == nil {
		events = []Event{}
	}

	return &ListResult{
		Events: events,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}

// Prune deletes journal rows older than the given duration.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - olderThan: Duration to retain (rows older than now-olderThan are deleted)
//
// Returns:
//   - int64: Number of rows deleted
//   - error: nil on success, otherwise the underlying database error
func (j *SQLiteJournal) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)
	result, err := j.db.ExecContext(ctx,
		"DELETE FROM volume_events WHERE created_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting volume events: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}

	return rowsAffected, nil
}

// parseEventTimestamp parses a timestamp stored in SQLite.
func parseEventTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("created_at is empty")
	}

	t, err := time.Parse(time.RFC3339, value)
	if err == nil {
		return t, nil
	}

	fallback, fallbackErr := time.Parse("2006-01-02T15:04:05Z", value)
	if fallbackErr == nil {
		return fallback, nil
	}

	return time.Time{}, fmt.Errorf("parsing created_at: %w", err)
}
