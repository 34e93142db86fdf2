package vehicle

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

type publishedMessage struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// mockPublisher implements HealthPublisher for testing.
type mockPublisher struct {
	mu        sync.Mutex
	connected bool
	messages  []publishedMessage
}

func (m *mockPublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, publishedMessage{
		topic:    topic,
		payload:  payload,
		qos:      qos,
		retained: retained,
	})
	return nil
}

func (m *mockPublisher) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockPublisher) getMessages() []publishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]publishedMessage, len(m.messages))
	copy(result, m.messages)
	return result
}

func TestNewHealthReporter(t *testing.T) {
	publisher := &mockPublisher{connected: true}
	client := newMockConnector(true)

	reporter := NewHealthReporter(HealthReporterConfig{
		Version:   "1.0.0",
		Address:   "tcp://localhost:9270",
		Interval:  10 * time.Second,
		Publisher: publisher,
		Client:    client,
	})

	if reporter.version != "1.0.0" {
		t.Errorf("version = %s, want 1.0.0", reporter.version)
	}
	if reporter.address != "tcp://localhost:9270" {
		t.Errorf("address = %s, want tcp://localhost:9270", reporter.address)
	}
	if reporter.interval != 10*time.Second {
		t.Errorf("interval = %v, want 10s", reporter.interval)
	}
}

func TestNewHealthReporterDefaultInterval(t *testing.T) {
	reporter := NewHealthReporter(HealthReporterConfig{Version: "1.0.0"})

	if reporter.interval != 30*time.Second {
		t.Errorf("interval = %v, want default 30s", reporter.interval)
	}
}

func TestPublishNowHealthy(t *testing.T) {
	publisher := &mockPublisher{connected: true}
	client := newMockConnector(true)

	reporter := NewHealthReporter(HealthReporterConfig{
		Version:   "1.0.0",
		Address:   "tcp://localhost:9270",
		Publisher: publisher,
		Client:    client,
	})

	if err := reporter.PublishNow(); err != nil {
		t.Fatalf("PublishNow() error: %v", err)
	}

	messages := publisher.getMessages()
	if len(messages) != 1 {
		t.Fatalf("published %d messages, want 1", len(messages))
	}

	msg := messages[0]
	if msg.topic != HealthTopic() {
		t.Errorf("topic = %s, want %s", msg.topic, HealthTopic())
	}
	if msg.qos != 1 {
		t.Errorf("qos = %d, want 1", msg.qos)
	}
	if !msg.retained {
		t.Error("retained = false, want true")
	}

	var health HealthMessage
	if err := json.Unmarshal(msg.payload, &health); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}

	if health.Service != "cabinaudio" {
		t.Errorf("service = %s, want cabinaudio", health.Service)
	}
	if health.Status != HealthHealthy {
		t.Errorf("status = %s, want %s", health.Status, HealthHealthy)
	}
	if health.Version != "1.0.0" {
		t.Errorf("version = %s, want 1.0.0", health.Version)
	}
	if health.Statistics == nil {
		t.Fatal("statistics missing")
	}
	if health.Statistics.CommandsSent != 100 {
		t.Errorf("commands sent = %d, want 100", health.Statistics.CommandsSent)
	}
	if health.Statistics.EventsReceived != 500 {
		t.Errorf("events received = %d, want 500", health.Statistics.EventsReceived)
	}
	if health.Connection == nil {
		t.Fatal("connection missing")
	}
	if health.Connection.Status != "connected" {
		t.Errorf("connection status = %s, want connected", health.Connection.Status)
	}
	if health.Connection.Address != "tcp://localhost:9270" {
		t.Errorf("connection address = %s, want tcp://localhost:9270", health.Connection.Address)
	}
}

func TestPublishNowDegradedWhenLinkDown(t *testing.T) {
	publisher := &mockPublisher{connected: true}
	client := newMockConnector(false)

	reporter := NewHealthReporter(HealthReporterConfig{
		Version:   "1.0.0",
		Publisher: publisher,
		Client:    client,
	})

	if err := reporter.PublishNow(); err != nil {
		t.Fatalf("PublishNow() error: %v", err)
	}

	messages := publisher.getMessages()
	if len(messages) != 1 {
		t.Fatalf("published %d messages, want 1", len(messages))
	}

	var health HealthMessage
	if err := json.Unmarshal(messages[0].payload, &health); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}

	if health.Status != HealthDegraded {
		t.Errorf("status = %s, want %s", health.Status, HealthDegraded)
	}
	if health.Reason != "vpd disconnected" {
		t.Errorf("reason = %q, want \"vpd disconnected\"", health.Reason)
	}
	if health.Connection == nil || health.Connection.Status != "disconnected" {
		t.Error("connection status should be disconnected")
	}
}

func TestDetermineStatusDegradedWhenMQTTDown(t *testing.T) {
	publisher := &mockPublisher{connected: false}
	client := newMockConnector(true)

	reporter := NewHealthReporter(HealthReporterConfig{
		Publisher: publisher,
		Client:    client,
	})

	status, reason := reporter.determineStatus()
	if status != HealthDegraded {
		t.Errorf("status = %s, want %s", status, HealthDegraded)
	}
	if reason != "MQTT disconnected" {
		t.Errorf("reason = %q, want \"MQTT disconnected\"", reason)
	}
}

func TestPublishStarting(t *testing.T) {
	publisher := &mockPublisher{connected: true}

	reporter := NewHealthReporter(HealthReporterConfig{
		Version:   "1.0.0",
		Publisher: publisher,
	})

	if err := reporter.PublishStarting(); err != nil {
		t.Fatalf("PublishStarting() error: %v", err)
	}

	messages := publisher.getMessages()
	if len(messages) != 1 {
		t.Fatalf("published %d messages, want 1", len(messages))
	}

	var health HealthMessage
	if err := json.Unmarshal(messages[0].payload, &health); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}

	if health.Status != HealthStarting {
		t.Errorf("status = %s, want %s", health.Status, HealthStarting)
	}
	if health.Reason != "service starting" {
		t.Errorf("reason = %q, want \"service starting\"", health.Reason)
	}
}

func TestGetLWT(t *testing.T) {
	reporter := NewHealthReporter(HealthReporterConfig{Version: "1.0.0"})

	if topic := reporter.GetLWTTopic(); topic != HealthTopic() {
		t.Errorf("LWT topic = %s, want %s", topic, HealthTopic())
	}

	payload, err := reporter.GetLWTPayload()
	if err != nil {
		t.Fatalf("GetLWTPayload() error: %v", err)
	}

	var health HealthMessage
	if err := json.Unmarshal(payload, &health); err != nil {
		t.Fatalf("unmarshal LWT payload: %v", err)
	}

	if health.Status != HealthOffline {
		t.Errorf("LWT status = %s, want %s", health.Status, HealthOffline)
	}
	if health.Reason != "unexpected_disconnect" {
		t.Errorf("LWT reason = %q, want \"unexpected_disconnect\"", health.Reason)
	}
}

func TestHealthReporterStartStop(t *testing.T) {
	publisher := &mockPublisher{connected: true}
	client := newMockConnector(true)

	reporter := NewHealthReporter(HealthReporterConfig{
		Version:   "1.0.0",
		Interval:  50 * time.Millisecond,
		Publisher: publisher,
		Client:    client,
	})

	reporter.Start(context.Background())
	time.Sleep(120 * time.Millisecond)
	reporter.Stop()

	messages := publisher.getMessages()
	// Initial publish, at least two ticks, final stopping status
	if len(messages) < 3 {
		t.Fatalf("published %d messages, want at least 3", len(messages))
	}

	var last HealthMessage
	if err := json.Unmarshal(messages[len(messages)-1].payload, &last); err != nil {
		t.Fatalf("unmarshal final payload: %v", err)
	}
	if last.Status != HealthStopping {
		t.Errorf("final status = %s, want %s", last.Status, HealthStopping)
	}

	// Second Stop must be a no-op
	reporter.Stop()
}

func TestPublishWithNoPublisher(t *testing.T) {
	reporter := NewHealthReporter(HealthReporterConfig{Version: "1.0.0"})

	if err := reporter.PublishNow(); err != nil {
		t.Errorf("PublishNow() without publisher = %v, want nil", err)
	}
}

func TestUptimeCalculation(t *testing.T) {
	publisher := &mockPublisher{connected: true}

	reporter := NewHealthReporter(HealthReporterConfig{
		Version:   "1.0.0",
		Publisher: publisher,
	})
	reporter.startTime = time.Now().Add(-10 * time.Second)

	if err := reporter.PublishNow(); err != nil {
		t.Fatalf("PublishNow() error: %v", err)
	}

	messages := publisher.getMessages()
	if len(messages) != 1 {
		t.Fatalf("published %d messages, want 1", len(messages))
	}

	var health HealthMessage
	if err := json.Unmarshal(messages[0].payload, &health); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}

	if health.UptimeSeconds < 9 || health.UptimeSeconds > 11 {
		t.Errorf("uptime = %d, want about 10", health.UptimeSeconds)
	}
}
