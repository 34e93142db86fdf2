package history

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cabinworks/cabin-audio-core/internal/volume"
)

const (
	// recordQueueSize bounds events waiting on the journal writer.
	recordQueueSize = 256

	// writeTimeout bounds a single journal insert.
	writeTimeout = 5 * time.Second
)

// ErrNilJournal is returned when no journal is supplied to the recorder.
var ErrNilJournal = errors.New("history: journal required")

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

// Recorder journals volume broadcasts.
//
// Register it as a controller observer. The observer callback runs on
// the controller's dispatcher, so it only classifies and enqueues; a
// worker goroutine owns the actual inserts. When the queue is full the
// event is dropped and counted rather than stalling the dispatcher.
type Recorder struct {
	journal Journal
	policy  *volume.RoutingPolicy
	logger  Logger

	queue    chan Event
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	dropped atomic.Uint64
}

// Compile-time check: the recorder is a volume observer.
var _ volume.Observer = (*Recorder)(nil)

// NewRecorder creates a journal recorder and starts its writer.
//
// The routing policy resolves each stream's hardware channel for the
// row; pass the same policy the coordinator runs with. A nil policy
// falls back to the single-channel default.
//
// Returns:
//   - *Recorder: Ready to register as an observer
//   - error: ErrNilJournal when no journal is supplied
func NewRecorder(journal Journal, policy *volume.RoutingPolicy, logger Logger) (*Recorder, error) {
	if journal == nil {
		return nil, ErrNilJournal
	}
	if policy == nil {
		policy = volume.DefaultRoutingPolicy()
	}
	if logger == nil {
		logger = noopLogger{}
	}

	r := &Recorder{
		journal: journal,
		policy:  policy,
		logger:  logger,
		queue:   make(chan Event, recordQueueSize),
		done:    make(chan struct{}),
	}

	r.wg.Add(1)
	go r.run()

	return r, nil
}

// VolumeChanged implements volume.Observer.
func (r *Recorder) VolumeChanged(stream volume.Stream, vol int, flags volume.Flag) {
	ev := Event{
		Stream:         stream.String(),
		PhysicalStream: int(r.policy.PhysicalForContext(volume.ContextForStream(stream))),
		Volume:         vol,
		Source:         sourceForFlags(flags),
		CreatedAt:      time.Now().UTC(),
	}

	select {
	case r.queue <- ev:
	default:
		r.dropped.Add(1)
		r.logger.Warn("journal queue full, dropping event",
			"stream", ev.Stream,
			"volume", ev.Volume,
		)
	}
}

// Close stops the writer after flushing queued events. Unregister the
// recorder from the controller before calling Close.
func (r *Recorder) Close() {
	r.stopOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
	})
}

// Dropped returns the number of events lost to queue overflow.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// run drains the event queue into the journal.
func (r *Recorder) run() {
	defer r.wg.Done()

	for {
		select {
		case <-r.done:
			// Flush what is already queued.
			for {
				select {
				case ev := <-r.queue:
					r.write(ev)
				default:
					return
				}
			}
		case ev := <-r.queue:
			r.write(ev)
		}
	}
}

// write persists one event, logging failures.
func (r *Recorder) write(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := r.journal.Record(ctx, &ev); err != nil {
		r.logger.Warn("journal write failed",
			"stream", ev.Stream,
			"volume", ev.Volume,
			"error", err,
		)
	}
}

// sourceForFlags classifies a change's origin from its provenance bits.
func sourceForFlags(flags volume.Flag) string {
	switch {
	case flags&volume.FlagFromKey != 0:
		return SourceKey
	case flags&volume.FlagFromAPI != 0:
		return SourceAPI
	case flags&volume.FlagFromBus != 0:
		return SourceMQTT
	default:
		return SourceHardware
	}
}
