// Package history persists the volume event journal: every committed
// volume change, who asked for it, and when. The journal backs the
// history API and gives a local audit trail even when the time-series
// database is unavailable.
package history

import (
	"context"
	"time"
)

// Event source values.
const (
	SourceAPI      = "api"
	SourceMQTT     = "mqtt"
	SourceKey      = "key"
	SourceHardware = "hardware"
)

// Event is a single recorded volume change.
type Event struct {
	// ID is the journal row identifier.
	ID string `json:"id"`

	// Stream is the logical stream's wire name.
	Stream string `json:"stream"`

	// PhysicalStream is the hardware channel the stream routed to at
	// the time of the change.
	PhysicalStream int `json:"physical_stream"`

	// Volume is the committed volume index.
	Volume int `json:"volume"`

	// Source identifies where the change originated (api, mqtt, key,
	// hardware).
	Source string `json:"source"`

	// CreatedAt is the timestamp of the change (UTC).
	CreatedAt time.Time `json:"created_at"`
}

// Filter controls which journal events to return.
type Filter struct {
	Stream string    // optional: filter by stream wire name
	Source string    // optional: filter by source (api, mqtt, key, hardware)
	Since  time.Time // optional: only events at or after this time
	Until  time.Time // optional: only events at or before this time
	Limit  int       // default 50, max 200
	Offset int       // pagination offset
}

// ListResult contains the paginated journal query results.
type ListResult struct {
	Events []Event `json:"events"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// Journal stores and retrieves volume change events.
//
// Implementations must be thread-safe and use UTC timestamps.
type Journal interface {
	// Record persists one volume change event.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - ev: Event to persist; ID and CreatedAt are generated if empty
	//
	// Returns:
	//   - error: nil on success, otherwise the underlying persistence error
	Record(ctx context.Context, ev *Event) error

	// List returns journal events matching the filter, newest first.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - filter: Stream/source/time-range constraints and pagination
	//
	// Returns:
	//   - *ListResult: Matching events with pagination metadata
	//   - error: nil on success, otherwise the underlying query error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}
