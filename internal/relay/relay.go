// Package relay mirrors cabin volume state onto the MQTT bus and
// accepts volume commands from it. Head unit surfaces that do not speak
// the REST API ride this: retained state topics for late joiners, one
// command topic inbound.
package relay

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cabinworks/cabin-audio-core/internal/infrastructure/mqtt"
	"github.com/cabinworks/cabin-audio-core/internal/volume"
)

const (
	// publishQoS is the QoS for state publications and the command
	// subscription.
	publishQoS = 1

	// publishQueueSize bounds state publications waiting on the broker.
	publishQueueSize = 64
)

// Broker is the slice of the MQTT client the relay uses.
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

// statePayload is the retained per-stream state message.
type statePayload struct {
	Stream string    `json:"stream"`
	Volume int       `json:"volume"`
	Min    int       `json:"min"`
	Max    int       `json:"max"`
	TS     time.Time `json:"ts"`
}

// commandPayload is an inbound volume command. Exactly one of Volume
// and Step must be present; Step is a single increment, ±1.
type commandPayload struct {
	Stream string `json:"stream"`
	Volume *int   `json:"volume,omitempty"`
	Step   *int   `json:"step,omitempty"`
}

// Stats exposes relay counters for metrics surfaces.
type Stats struct {
	StatesPublished uint64
	StatesDropped   uint64
	CommandsApplied uint64
	CommandsDropped uint64
}

// Relay bridges the volume controller and the MQTT bus.
//
// As a controller observer it publishes every volume broadcast to the
// stream's retained state topic. Publishing happens on a dedicated
// worker so a slow broker never blocks the controller's dispatcher;
// when the worker's queue overflows, the oldest intent loses to the
// newest state anyway, so overflow drops are logged and counted, not
// retried.
type Relay struct {
	broker Broker
	ctrl   volume.Controller
	logger Logger

	mu         sync.Mutex
	started    bool
	observerID int64

	queue chan statePayload
	done  chan struct{}
	wg    sync.WaitGroup

	statesPublished atomic.Uint64
	statesDropped   atomic.Uint64
	commandsApplied atomic.Uint64
	commandsDropped atomic.Uint64
}

// New creates a relay over the given MQTT client and volume controller.
//
// Returns:
//   - *Relay: Ready to Start
//   - error: ErrNilBroker or ErrNilController
func New(broker Broker, ctrl volume.Controller, logger Logger) (*Relay, error) {
	if broker == nil {
		return nil, ErrNilBroker
	}
	if ctrl == nil {
		return nil, ErrNilController
	}
	if logger == nil {
		logger = noopLogger{}
	}

	return &Relay{
		broker: broker,
		ctrl:   ctrl,
		logger: logger,
		queue:  make(chan statePayload, publishQueueSize),
	}, nil
}

// Start registers with the controller, subscribes to the command topic
// and publishes a full state snapshot so retained topics reflect the
// catalog immediately.
func (r *Relay) Start() error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return ErrAlreadyStarted
	}
	r.started = true
	done := make(chan struct{})
	r.done = done
	r.mu.Unlock()

	commandTopic := mqtt.Topics{}.VolumeCommand()
	if err := r.broker.Subscribe(commandTopic, publishQoS, r.handleCommand); err != nil {
		r.mu.Lock()
		r.started = false
		r.mu.Unlock()
		return fmt.Errorf("subscribe volume commands: %w", err)
	}

	r.wg.Add(1)
	go r.publishWorker(done)

	id := r.ctrl.RegisterObserver(volume.ObserverFunc(r.onVolumeChanged))
	r.mu.Lock()
	r.observerID = id
	r.mu.Unlock()

	r.publishSnapshot()

	r.logger.Info("volume relay started",
		"command_topic", commandTopic,
		"streams", len(volume.Streams()),
	)
	return nil
}

// Stop unregisters from the controller and stops publishing. Queued
// state publications are flushed best-effort before the worker exits.
func (r *Relay) Stop() error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return ErrNotStarted
	}
	r.started = false
	id := r.observerID
	done := r.done
	r.mu.Unlock()

	r.ctrl.UnregisterObserver(id)

	commandTopic := mqtt.Topics{}.VolumeCommand()
	if err := r.broker.Unsubscribe(commandTopic); err != nil {
		r.logger.Warn("unsubscribe volume commands failed", "error", err)
	}

	close(done)
	r.wg.Wait()
	return nil
}

// Stats returns a snapshot of the relay counters.
func (r *Relay) Stats() Stats {
	return Stats{
		StatesPublished: r.statesPublished.Load(),
		StatesDropped:   r.statesDropped.Load(),
		CommandsApplied: r.commandsApplied.Load(),
		CommandsDropped: r.commandsDropped.Load(),
	}
}

// onVolumeChanged is the controller observer callback. It runs on the
// dispatcher goroutine, so it only enqueues.
func (r *Relay) onVolumeChanged(stream volume.Stream, vol int, _ volume.Flag) {
	r.enqueueState(statePayload{
		Stream: stream.String(),
		Volume: vol,
		Min:    r.ctrl.StreamMinVolume(stream),
		Max:    r.ctrl.StreamMaxVolume(stream),
		TS:     time.Now().UTC(),
	})
}

// publishSnapshot enqueues current state for every catalog stream.
func (r *Relay) publishSnapshot() {
	now := time.Now().UTC()
	for _, stream := range volume.Streams() {
		r.enqueueState(statePayload{
			Stream: stream.String(),
			Volume: r.ctrl.StreamVolume(stream),
			Min:    r.ctrl.StreamMinVolume(stream),
			Max:    r.ctrl.StreamMaxVolume(stream),
			TS:     now,
		})
	}
}

// enqueueState hands a state publication to the worker without
// blocking the caller.
func (r *Relay) enqueueState(state statePayload) {
	select {
	case r.queue <- state:
	default:
		r.statesDropped.Add(1)
		r.logger.Warn("state publish queue full, dropping",
			"stream", state.Stream,
			"volume", state.Volume,
		)
	}
}

// publishWorker drains the state queue onto the broker.
func (r *Relay) publishWorker(done <-chan struct{}) {
	defer r.wg.Done()

	for {
		select {
		case <-done:
			// Flush what is already queued; retained topics should
			// hold the freshest state we know about.
			for {
				select {
				case state := <-r.queue:
					r.publishState(state)
				default:
					return
				}
			}
		case state := <-r.queue:
			r.publishState(state)
		}
	}
}

// publishState writes one retained state message.
func (r *Relay) publishState(state statePayload) {
	payload, err := json.Marshal(state)
	if err != nil {
		r.logger.Error("marshal state payload", "stream", state.Stream, "error", err)
		return
	}

	topic := mqtt.Topics{}.VolumeState(state.Stream)
	if err := r.broker.Publish(topic, payload, publishQoS, true); err != nil {
		r.logger.Warn("publish state failed", "topic", topic, "error", err)
		return
	}
	r.statesPublished.Add(1)
}

// handleCommand applies one inbound volume command. Malformed payloads
// are dropped with a warning; the bus is not a place to report errors
// back to.
func (r *Relay) handleCommand(_ string, payload []byte) error {
	stream, target, err := r.decodeCommand(payload)
	if err != nil {
		r.commandsDropped.Add(1)
		r.logger.Warn("volume command dropped", "error", err, "payload", string(payload))
		return err
	}

	r.ctrl.SetStreamVolume(stream, target, volume.FlagShowUI|volume.FlagPlaySound|volume.FlagFromBus)
	r.commandsApplied.Add(1)
	return nil
}

// decodeCommand validates a command payload and resolves the target
// volume it asks for.
func (r *Relay) decodeCommand(payload []byte) (volume.Stream, int, error) {
	var cmd commandPayload
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return 0, 0, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}

	stream, err := volume.ParseStream(cmd.Stream)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}

	switch {
	case cmd.Volume != nil && cmd.Step != nil:
		return 0, 0, fmt.Errorf("%w: volume and step are exclusive", ErrInvalidCommand)
	case cmd.Volume != nil:
		return stream, *cmd.Volume, nil
	case cmd.Step != nil:
		if *cmd.Step != 1 && *cmd.Step != -1 {
			return 0, 0, fmt.Errorf("%w: step must be 1 or -1, got %d", ErrInvalidCommand, *cmd.Step)
		}
		return stream, r.ctrl.StreamVolume(stream) + *cmd.Step, nil
	default:
		return 0, 0, fmt.Errorf("%w: volume or step required", ErrInvalidCommand)
	}
}
