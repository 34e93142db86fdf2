package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteVolumeLevel writes a volume change measurement to InfluxDB.
//
// This is the primary method for recording cabin volume telemetry.
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - stream: Logical stream name (e.g., "media", "navigation")
//   - physical: Physical stream index the level was applied to
//   - volume: The volume index that was set
//
// Example:
//
//	client.WriteVolumeLevel("media", 0, 18)
//	client.WriteVolumeLevel("voice_call", 1, 22)
func (c *Client) WriteVolumeLevel(stream string, physical int, volume int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"volume_level",
		map[string]string{
			"stream":          stream,
			"physical_stream": strconv.Itoa(physical),
		},
		map[string]interface{}{
			"volume": volume,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteKeyEvent writes a hardware volume key press measurement.
//
// Used for tracking how often the physical keys are used compared to
// the API and bus surfaces.
//
// Parameters:
//   - code: Key code as delivered by the vehicle daemon (24 up, 25 down)
func (c *Client) WriteKeyEvent(code int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"key_events",
		map[string]string{
			"code": strconv.Itoa(code),
		},
		map[string]interface{}{
			"count": 1,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteHALLink writes a vehicle daemon link health measurement.
//
// Used for tracking connection stability to the platform audio daemon.
//
// Parameters:
//   - connected: Whether the control socket link is currently up
//   - reconnects: Cumulative reconnect count since service start
func (c *Client) WriteHALLink(connected bool, reconnects uint64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"hal_link",
		map[string]string{},
		map[string]interface{}{
			"connected":  connected,
			"reconnects": int64(reconnects),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint("system_stats",
//	    map[string]string{"host": "cabin-01"},
//	    map[string]interface{}{"cpu_percent": 45.2, "memory_mb": 512})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing
//   - fields: Key-value pairs for the data
//   - timestamp: The exact time for this data point
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
