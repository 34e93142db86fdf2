// Package platform adapts the in-cabin media daemon's MQTT surface to
// the audio service interface the controller factory consumes. When the
// vehicle hardware does not control volume, the media daemon stays the
// volume owner and this adapter is how the coordinator talks to it.
package platform

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cabinworks/cabin-audio-core/internal/infrastructure/mqtt"
	"github.com/cabinworks/cabin-audio-core/internal/volume"
)

const (
	// defaultMaxVolume bounds streams the daemon has not reported yet.
	defaultMaxVolume = 40

	// commandQoS is the QoS for commands to the daemon.
	commandQoS = 1
)

// Broker is the slice of the MQTT client this adapter uses.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Logger is the logging surface this package expects.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// noopLogger discards all log output.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// streamState is the daemon's retained per-stream state payload. The
// daemon echoes command flags so UI hints survive the round trip.
type streamState struct {
	Stream string `json:"stream"`
	Volume int    `json:"volume"`
	Min    int    `json:"min"`
	Max    int    `json:"max"`
	Flags  int    `json:"flags,omitempty"`
}

// setCommand asks the daemon to set one stream's volume.
type setCommand struct {
	Stream string `json:"stream"`
	Volume int    `json:"volume"`
	Flags  int    `json:"flags,omitempty"`
}

// adjustCommand nudges whatever stream the daemon considers active.
type adjustCommand struct {
	Adjust string `json:"adjust"`
	Flags  int    `json:"flags,omitempty"`
}

// streamEntry is the cached state for one logical stream.
type streamEntry struct {
	volume int
	min    int
	max    int
}

// Adapter mirrors the media daemon's retained volume state and forwards
// volume commands to it over MQTT.
//
// Reads are cache reads: the daemon publishes retained state per
// stream, the adapter mirrors it, and commands travel the other way.
// The daemon stays authoritative, so a set does not touch the cache;
// the daemon's echoed state does, and that echo is what observers see.
type Adapter struct {
	broker Broker
	logger Logger

	mu    sync.Mutex
	state map[volume.Stream]streamEntry

	observerMu sync.RWMutex
	observers  map[int64]volume.Observer
	nextObsID  atomic.Int64
}

var _ volume.AudioService = (*Adapter)(nil)

// New builds an adapter over the given MQTT client and subscribes to
// the daemon's stream state topics.
//
// Every catalog stream starts at volume 0 with default bounds; retained
// daemon state overwrites those as it arrives.
//
// Parameters:
//   - broker: Connected MQTT client
//   - logger: Optional logger (may be nil)
//
// Returns:
//   - *Adapter: Ready for the controller factory
//   - error: ErrNilBroker, or the subscribe failure
func New(broker Broker, logger Logger) (*Adapter, error) {
	if broker == nil {
		return nil, ErrNilBroker
	}
	if logger == nil {
		logger = noopLogger{}
	}

	a := &Adapter{
		broker:    broker,
		logger:    logger,
		state:     make(map[volume.Stream]streamEntry),
		observers: make(map[int64]volume.Observer),
	}

	for _, stream := range volume.Streams() {
		a.state[stream] = streamEntry{max: defaultMaxVolume}
	}

	topic := mqtt.Topics{}.AllMediaVolumeStates()
	if err := broker.Subscribe(topic, commandQoS, a.handleState); err != nil {
		return nil, fmt.Errorf("subscribe daemon state: %w", err)
	}

	a.logger.Info("media daemon adapter attached", "state_topic", topic)
	return a, nil
}

// Close stops mirroring daemon state.
func (a *Adapter) Close() error {
	return a.broker.Unsubscribe(mqtt.Topics{}.AllMediaVolumeStates())
}

// StreamVolume returns the mirrored volume for a logical stream.
func (a *Adapter) StreamVolume(stream volume.Stream) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state[stream].volume
}

// StreamMaxVolume returns the mirrored upper bound for a stream.
func (a *Adapter) StreamMaxVolume(stream volume.Stream) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if entry, ok := a.state[stream]; ok {
		return entry.max
	}
	return defaultMaxVolume
}

// StreamMinVolume returns the mirrored lower bound for a stream.
func (a *Adapter) StreamMinVolume(stream volume.Stream) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state[stream].min
}

// SetStreamVolume publishes a set command for a logical stream.
//
// The request clamps into the mirrored bounds before it leaves. The
// local cache is not touched: the daemon applies the command and the
// echoed retained state updates the mirror.
func (a *Adapter) SetStreamVolume(stream volume.Stream, index int, flags volume.Flag) {
	a.mu.Lock()
	entry := a.state[stream]
	a.mu.Unlock()

	if index > entry.max {
		index = entry.max
	}
	if index < entry.min {
		index = entry.min
	}

	cmd := setCommand{
		Stream: stream.String(),
		Volume: index,
		Flags:  int(flags),
	}
	a.publishCommand(cmd)
}

// AdjustSuggested publishes a directional nudge; the daemon picks the
// stream it considers active.
func (a *Adapter) AdjustSuggested(dir volume.Adjustment, flags volume.Flag) {
	adjust := "lower"
	if dir == volume.AdjustRaise {
		adjust = "raise"
	}

	cmd := adjustCommand{
		Adjust: adjust,
		Flags:  int(flags),
	}
	a.publishCommand(cmd)
}

// RegisterObserver adds a volume change observer and returns its
// registration id. Observers fire when the daemon's mirrored state
// changes.
func (a *Adapter) RegisterObserver(o volume.Observer) int64 {
	id := a.nextObsID.Add(1)
	a.observerMu.Lock()
	a.observers[id] = o
	a.observerMu.Unlock()
	return id
}

// UnregisterObserver removes a previously registered observer.
func (a *Adapter) UnregisterObserver(id int64) {
	a.observerMu.Lock()
	delete(a.observers, id)
	a.observerMu.Unlock()
}

// publishCommand serialises and sends one command to the daemon.
// Publish failures are logged; the daemon state mirror will show
// whether the command landed.
func (a *Adapter) publishCommand(cmd any) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		a.logger.Error("marshal daemon command", "error", err)
		return
	}

	topic := mqtt.Topics{}.MediaVolumeCommand()
	if err := a.broker.Publish(topic, payload, commandQoS, false); err != nil {
		a.logger.Warn("publish daemon command failed", "topic", topic, "error", err)
	}
}

// handleState mirrors one retained daemon state message into the cache
// and notifies observers when the volume moved.
func (a *Adapter) handleState(topic string, payload []byte) error {
	var state streamState
	if err := json.Unmarshal(payload, &state); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidState, err)
	}

	stream, err := volume.ParseStream(state.Stream)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidState, err)
	}

	entry := streamEntry{
		volume: state.Volume,
		min:    state.Min,
		max:    state.Max,
	}

	a.mu.Lock()
	previous := a.state[stream]
	a.state[stream] = entry
	a.mu.Unlock()

	a.logger.Debug("daemon state mirrored",
		"stream", state.Stream,
		"volume", state.Volume,
	)

	if previous.volume != entry.volume {
		a.notifyObservers(stream, entry.volume, volume.Flag(state.Flags))
	}
	return nil
}

// notifyObservers fans a mirrored change out to observers, isolating
// panics.
func (a *Adapter) notifyObservers(stream volume.Stream, vol int, flags volume.Flag) {
	a.observerMu.RLock()
	observers := make([]volume.Observer, 0, len(a.observers))
	for _, o := range a.observers {
		observers = append(observers, o)
	}
	a.observerMu.RUnlock()

	for _, o := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					a.logger.Error("volume observer panic",
						"stream", stream.String(),
						"volume", vol,
						"panic", r,
					)
				}
			}()
			o.VolumeChanged(stream, vol, flags)
		}()
	}
}
