package platform

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/cabinworks/cabin-audio-core/internal/infrastructure/mqtt"
	"github.com/cabinworks/cabin-audio-core/internal/volume"
)

type publishedCommand struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// fakeBroker implements Broker and captures the state handler so tests
// can inject daemon messages.
type fakeBroker struct {
	mu           sync.Mutex
	published    []publishedCommand
	subscribed   []string
	unsubscribed []string
	handler      mqtt.MessageHandler
	subErr       error
}

func (b *fakeBroker) Publish(topic string, payload []byte, qos byte, retained bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, publishedCommand{
		topic:    topic,
		payload:  payload,
		qos:      qos,
		retained: retained,
	})
	return nil
}

func (b *fakeBroker) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subErr != nil {
		return b.subErr
	}
	b.subscribed = append(b.subscribed, topic)
	b.handler = handler
	return nil
}

func (b *fakeBroker) Unsubscribe(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unsubscribed = append(b.unsubscribed, topic)
	return nil
}

func (b *fakeBroker) commands() []publishedCommand {
	b.mu.Lock()
	defer b.mu.Unlock()
	result := make([]publishedCommand, len(b.published))
	copy(result, b.published)
	return result
}

// injectState delivers a daemon state payload through the captured
// subscription handler.
func (b *fakeBroker) injectState(t *testing.T, payload string) error {
	t.Helper()
	b.mu.Lock()
	handler := b.handler
	b.mu.Unlock()
	if handler == nil {
		t.Fatal("no state handler captured")
	}
	return handler("mediad/volume/state/media", []byte(payload))
}

// recordingObserver captures volume change notifications.
type recordingObserver struct {
	mu      sync.Mutex
	changes []observedChange
}

type observedChange struct {
	stream volume.Stream
	vol    int
	flags  volume.Flag
}

func (o *recordingObserver) VolumeChanged(stream volume.Stream, vol int, flags volume.Flag) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.changes = append(o.changes, observedChange{stream: stream, vol: vol, flags: flags})
}

func (o *recordingObserver) snapshot() []observedChange {
	o.mu.Lock()
	defer o.mu.Unlock()
	result := make([]observedChange, len(o.changes))
	copy(result, o.changes)
	return result
}

func TestNewRequiresBroker(t *testing.T) {
	if _, err := New(nil, nil); !errors.Is(err, ErrNilBroker) {
		t.Errorf("New(nil) = %v, want ErrNilBroker", err)
	}
}

func TestNewSubscribesToDaemonStates(t *testing.T) {
	broker := &fakeBroker{}

	_, err := New(broker, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if len(broker.subscribed) != 1 || broker.subscribed[0] != "mediad/volume/state/+" {
		t.Errorf("subscribed = %v, want [mediad/volume/state/+]", broker.subscribed)
	}
}

func TestNewSubscribeFailure(t *testing.T) {
	broker := &fakeBroker{subErr: errors.New("broker gone")}

	if _, err := New(broker, nil); err == nil {
		t.Error("New() = nil error, want subscribe failure")
	}
}

func TestStreamDefaults(t *testing.T) {
	broker := &fakeBroker{}
	adapter, err := New(broker, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if got := adapter.StreamVolume(volume.StreamMedia); got != 0 {
		t.Errorf("StreamVolume() = %d, want 0 before daemon state", got)
	}
	if got := adapter.StreamMinVolume(volume.StreamMedia); got != 0 {
		t.Errorf("StreamMinVolume() = %d, want 0", got)
	}
	if got := adapter.StreamMaxVolume(volume.StreamMedia); got != defaultMaxVolume {
		t.Errorf("StreamMaxVolume() = %d, want %d", got, defaultMaxVolume)
	}
}

func TestStateMirror(t *testing.T) {
	broker := &fakeBroker{}
	adapter, err := New(broker, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	observer := &recordingObserver{}
	adapter.RegisterObserver(observer)

	payload := `{"stream":"media","volume":12,"min":0,"max":30,"flags":3}`
	if err := broker.injectState(t, payload); err != nil {
		t.Fatalf("state handler error: %v", err)
	}

	if got := adapter.StreamVolume(volume.StreamMedia); got != 12 {
		t.Errorf("StreamVolume() = %d, want 12", got)
	}
	if got := adapter.StreamMaxVolume(volume.StreamMedia); got != 30 {
		t.Errorf("StreamMaxVolume() = %d, want 30", got)
	}

	changes := observer.snapshot()
	if len(changes) != 1 {
		t.Fatalf("observer saw %d changes, want 1", len(changes))
	}
	if changes[0].stream != volume.StreamMedia || changes[0].vol != 12 {
		t.Errorf("change = %+v, want media 12", changes[0])
	}
	if changes[0].flags != volume.Flag(3) {
		t.Errorf("flags = %d, want 3", changes[0].flags)
	}

	// Same state again: cache refresh, no second notification
	if err := broker.injectState(t, payload); err != nil {
		t.Fatalf("state handler error: %v", err)
	}
	if changes := observer.snapshot(); len(changes) != 1 {
		t.Errorf("observer saw %d changes after echo, want 1", len(changes))
	}
}

func TestStateMirrorMalformed(t *testing.T) {
	broker := &fakeBroker{}
	adapter, err := New(broker, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	tests := []struct {
		name    string
		payload string
	}{
		{name: "not json", payload: `volume up please`},
		{name: "unknown stream", payload: `{"stream":"subwoofer","volume":5}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := broker.injectState(t, tt.payload); !errors.Is(err, ErrInvalidState) {
				t.Errorf("state handler = %v, want ErrInvalidState", err)
			}
		})
	}

	if got := adapter.StreamVolume(volume.StreamMedia); got != 0 {
		t.Errorf("StreamVolume() = %d after malformed payloads, want 0", got)
	}
}

func TestSetStreamVolume(t *testing.T) {
	broker := &fakeBroker{}
	adapter, err := New(broker, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	adapter.SetStreamVolume(volume.StreamMedia, 12, volume.FlagShowUI)

	commands := broker.commands()
	if len(commands) != 1 {
		t.Fatalf("published %d commands, want 1", len(commands))
	}
	if commands[0].topic != "mediad/volume/command" {
		t.Errorf("topic = %s, want mediad/volume/command", commands[0].topic)
	}
	if commands[0].retained {
		t.Error("command published retained, want not retained")
	}

	var cmd setCommand
	if err := json.Unmarshal(commands[0].payload, &cmd); err != nil {
		t.Fatalf("unmarshal command: %v", err)
	}
	if cmd.Stream != "media" || cmd.Volume != 12 {
		t.Errorf("command = %+v, want media 12", cmd)
	}
	if cmd.Flags != int(volume.FlagShowUI) {
		t.Errorf("flags = %d, want %d", cmd.Flags, int(volume.FlagShowUI))
	}

	// The daemon is authoritative: the cache moves on its echo, not ours
	if got := adapter.StreamVolume(volume.StreamMedia); got != 0 {
		t.Errorf("StreamVolume() = %d after set, want 0 until daemon echoes", got)
	}
}

func TestSetStreamVolumeClamps(t *testing.T) {
	broker := &fakeBroker{}
	adapter, err := New(broker, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if err := broker.injectState(t, `{"stream":"media","volume":10,"min":2,"max":30}`); err != nil {
		t.Fatalf("state handler error: %v", err)
	}

	adapter.SetStreamVolume(volume.StreamMedia, 50, 0)
	adapter.SetStreamVolume(volume.StreamMedia, 1, 0)

	commands := broker.commands()
	if len(commands) != 2 {
		t.Fatalf("published %d commands, want 2", len(commands))
	}

	var first, second setCommand
	if err := json.Unmarshal(commands[0].payload, &first); err != nil {
		t.Fatalf("unmarshal command: %v", err)
	}
	if err := json.Unmarshal(commands[1].payload, &second); err != nil {
		t.Fatalf("unmarshal command: %v", err)
	}

	if first.Volume != 30 {
		t.Errorf("over-limit request sent %d, want 30", first.Volume)
	}
	if second.Volume != 2 {
		t.Errorf("under-limit request sent %d, want 2", second.Volume)
	}
}

func TestAdjustSuggested(t *testing.T) {
	broker := &fakeBroker{}
	adapter, err := New(broker, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	adapter.AdjustSuggested(volume.AdjustRaise, volume.FlagFromKey)
	adapter.AdjustSuggested(volume.AdjustLower, 0)

	commands := broker.commands()
	if len(commands) != 2 {
		t.Fatalf("published %d commands, want 2", len(commands))
	}

	var raise, lower adjustCommand
	if err := json.Unmarshal(commands[0].payload, &raise); err != nil {
		t.Fatalf("unmarshal command: %v", err)
	}
	if err := json.Unmarshal(commands[1].payload, &lower); err != nil {
		t.Fatalf("unmarshal command: %v", err)
	}

	if raise.Adjust != "raise" {
		t.Errorf("adjust = %q, want raise", raise.Adjust)
	}
	if raise.Flags != int(volume.FlagFromKey) {
		t.Errorf("flags = %d, want %d", raise.Flags, int(volume.FlagFromKey))
	}
	if lower.Adjust != "lower" {
		t.Errorf("adjust = %q, want lower", lower.Adjust)
	}
}

func TestUnregisterObserver(t *testing.T) {
	broker := &fakeBroker{}
	adapter, err := New(broker, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	observer := &recordingObserver{}
	id := adapter.RegisterObserver(observer)
	adapter.UnregisterObserver(id)

	if err := broker.injectState(t, `{"stream":"media","volume":7,"min":0,"max":40}`); err != nil {
		t.Fatalf("state handler error: %v", err)
	}

	if changes := observer.snapshot(); len(changes) != 0 {
		t.Errorf("observer saw %d changes after unregister, want 0", len(changes))
	}
}

func TestObserverPanicIsolated(t *testing.T) {
	broker := &fakeBroker{}
	adapter, err := New(broker, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	adapter.RegisterObserver(volume.ObserverFunc(func(volume.Stream, int, volume.Flag) {
		panic("observer exploded")
	}))
	survivor := &recordingObserver{}
	adapter.RegisterObserver(survivor)

	if err := broker.injectState(t, `{"stream":"media","volume":9,"min":0,"max":40}`); err != nil {
		t.Fatalf("state handler error: %v", err)
	}

	if changes := survivor.snapshot(); len(changes) != 1 {
		t.Errorf("surviving observer saw %d changes, want 1", len(changes))
	}
}

func TestClose(t *testing.T) {
	broker := &fakeBroker{}
	adapter, err := New(broker, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if err := adapter.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	if len(broker.unsubscribed) != 1 || broker.unsubscribed[0] != "mediad/volume/state/+" {
		t.Errorf("unsubscribed = %v, want [mediad/volume/state/+]", broker.unsubscribed)
	}
}
