package vehicle

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// HealthStatus represents the operational status of the vpd link.
type HealthStatus string

const (
	// HealthHealthy indicates the link is operating normally.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the link is operating with issues.
	HealthDegraded HealthStatus = "degraded"

	// HealthOffline indicates the service is not connected (from LWT).
	HealthOffline HealthStatus = "offline"

	// HealthStarting indicates the service is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the service is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports vpd link status over MQTT.
// Topic: cabinaudio/vehicle/health
// QoS: 1, Retained: Yes
type HealthMessage struct {
	// Service is the reporting service identifier ("cabinaudio").
	Service string `json:"service"`

	// Timestamp is when the health status was generated (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Status indicates the current operational status.
	Status HealthStatus `json:"status"`

	// Version is the service software version.
	Version string `json:"version"`

	// UptimeSeconds is how long the service has been running.
	UptimeSeconds int64 `json:"uptime_seconds"`

	// Connection contains vpd connection details.
	Connection *ConnectionStatus `json:"connection,omitempty"`

	// Statistics contains link metrics.
	Statistics *LinkStatistics `json:"statistics,omitempty"`

	// Reason explains the status (especially for offline/degraded).
	Reason string `json:"reason,omitempty"`
}

// ConnectionStatus describes the vpd connection state.
type ConnectionStatus struct {
	// Status is the connection status ("connected", "disconnected").
	Status string `json:"status"`

	// Address is the vpd connection address.
	Address string `json:"address"`

	// ConnectedSince is when the connection was established.
	ConnectedSince *time.Time `json:"connected_since,omitempty"`
}

// LinkStatistics contains vpd link metrics.
type LinkStatistics struct {
	// EventsReceived is the total number of property events received.
	EventsReceived uint64 `json:"events_received"`

	// CommandsSent is the total number of request frames sent.
	CommandsSent uint64 `json:"commands_sent"`

	// EventsDropped is the number of events dropped under backpressure.
	EventsDropped uint64 `json:"events_dropped"`

	// Errors is the total number of link errors.
	Errors uint64 `json:"errors"`

	// Reconnects is the number of successful reconnections.
	Reconnects uint64 `json:"reconnects"`
}

// NewHealthMessage creates a health status message from link stats.
func NewHealthMessage(version string, status HealthStatus, stats Stats, startTime time.Time) HealthMessage {
	msg := HealthMessage{
		Service:       "cabinaudio",
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       version,
		UptimeSeconds: int64(time.Since(startTime).Seconds()),
	}

	if stats.Connected {
		connectedSince := stats.LastActivity // Approximation
		msg.Connection = &ConnectionStatus{
			Status:         "connected",
			ConnectedSince: &connectedSince,
		}
	} else {
		msg.Connection = &ConnectionStatus{
			Status: "disconnected",
		}
	}

	msg.Statistics = &LinkStatistics{
		EventsReceived: stats.EventsRx,
		CommandsSent:   stats.CommandsTx,
		EventsDropped:  stats.EventsDropped,
		Errors:         stats.ErrorsTotal,
		Reconnects:     stats.ReconnectsTotal,
	}

	return msg
}

// NewLWTMessage creates the Last Will and Testament message for MQTT.
// The broker publishes it if this service disconnects unexpectedly.
func NewLWTMessage() HealthMessage {
	return HealthMessage{
		Service:   "cabinaudio",
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

// HealthTopic returns the MQTT topic for vpd link health.
func HealthTopic() string {
	return "cabinaudio/vehicle/health"
}

// HealthPublisher is the interface for publishing health messages.
// This is typically implemented by an MQTT client.
type HealthPublisher interface {
	// Publish sends a message to a topic with the specified QoS and retention.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// IsConnected returns true if the publisher is connected.
	IsConnected() bool
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	// Version is the service software version.
	Version string

	// Address is the vpd connection address, echoed in reports.
	Address string

	// Interval is how often to publish health status.
	// Default: 30 seconds.
	Interval time.Duration

	// Publisher is the MQTT client for publishing messages.
	Publisher HealthPublisher

	// Client provides vpd link statistics.
	Client Connector
}

// HealthReporter manages periodic vpd link health reporting.
// It publishes health messages to MQTT at regular intervals.
type HealthReporter struct {
	version   string
	address   string
	startTime time.Time
	interval  time.Duration
	publisher HealthPublisher
	client    Connector

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex
}

// NewHealthReporter creates a new health reporter.
//
// Parameters:
//   - cfg: Configuration for the health reporter
//
// Returns:
//   - *HealthReporter: Ready to start (call Start to begin reporting)
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval == 0 {
		interval = 30 * time.Second
	}

	return &HealthReporter{
		version:   cfg.Version,
		address:   cfg.Address,
		startTime: time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		client:    cfg.Client,
		done:      make(chan struct{}),
	}
}

// Start begins periodic health reporting.
// Must be called after creation. Call Stop to shut down.
//
// Parameters:
//   - ctx: Context for cancellation (will stop reporting when cancelled)
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop gracefully stops health reporting.
// Publishes a final "stopping" status before returning.
// Safe to call multiple times (uses sync.Once).
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		// Signal shutdown
		close(h.done)

		// Wait for report loop to finish
		h.wg.Wait()

		// Publish final stopping status (best-effort, ignore errors)
		//nolint:errcheck // Best-effort during shutdown, nothing we can do if it fails
		h.publishStatus(HealthStopping, "")
	})
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// PublishStarting publishes a "starting" status.
// Called during service initialisation.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "service starting")
}

// PublishNow publishes the current health status immediately.
// Useful for forcing an update after a significant event.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publishStatus(status, reason)
}

// GetLWTPayload returns the Last Will and Testament message payload.
// This should be set as the MQTT will message during connection.
func (h *HealthReporter) GetLWTPayload() ([]byte, error) {
	msg := NewLWTMessage()
	return json.Marshal(msg)
}

// GetLWTTopic returns the topic for the Last Will and Testament.
func (h *HealthReporter) GetLWTTopic() string {
	return HealthTopic()
}

// reportLoop runs the periodic health reporting.
func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	// Publish initial status
	if err := h.PublishNow(); err != nil {
		h.logError("failed to publish initial health", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

// determineStatus evaluates the current link status.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	// Check MQTT connection
	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}

	// Check vpd connection
	if h.client == nil || !h.client.IsConnected() {
		return HealthDegraded, "vpd disconnected"
	}

	// All good
	return HealthHealthy, ""
}

// publishStatus publishes a health status message.
func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.publisher == nil {
		return nil // No publisher configured
	}

	// Get link stats
	var stats Stats
	if h.client != nil {
		stats = h.client.Stats()
	}

	// Build message
	msg := NewHealthMessage(h.version, status, stats, h.startTime)
	if reason != "" {
		msg.Reason = reason
	}

	// Set connection address
	if msg.Connection != nil {
		msg.Connection.Address = h.address
	}

	// Serialise to JSON
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	// Publish (QoS 1, retained)
	return h.publisher.Publish(HealthTopic(), payload, 1, true)
}

// logError logs an error if logger is set.
func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
