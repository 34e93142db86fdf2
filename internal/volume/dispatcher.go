package volume

import (
	"context"
	"sync"
	"sync/atomic"
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// noopLogger discards all log output. Used when no logger is configured.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// defaultQueueSize is the dispatcher queue capacity.
const defaultQueueSize = 512

// updateKind discriminates queued side effects.
type updateKind int

const (
	updateBroadcast updateKind = iota
	updateHALPush
)

// update is one queued side effect. Broadcasts carry stream/volume/
// flags, hardware pushes carry target/volume.
type update struct {
	kind   updateKind
	stream Stream
	target CarStream
	volume int
	flags  Flag
}

// DispatcherStats holds dispatcher counters.
type DispatcherStats struct {
	Enqueued  uint64
	Processed uint64
	Dropped   uint64
	Queued    int
}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	// Broadcast fans a volume change out to observers. Required.
	Broadcast func(stream Stream, vol int, flags Flag)

	// Push writes a volume to the hardware. Required. Errors are logged
	// and swallowed here: stored state keeps the intended value and the
	// next focus resync converges the hardware.
	Push func(ctx context.Context, target CarStream, vol int) error

	// QueueSize overrides the queue capacity. Default 512.
	QueueSize int

	// Logger receives dispatcher log output. Default: discard.
	Logger Logger
}

// Dispatcher serialises coordinator side effects.
//
// One background worker drains a strictly FIFO queue, so hardware
// pushes and observer broadcasts execute in exactly the order the
// coordinator enqueued them, never under the coordinator mutex.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Enqueueing never blocks: when the queue is full the update is
//     dropped and counted.
type Dispatcher struct {
	broadcast func(Stream, int, Flag)
	push      func(context.Context, CarStream, int) error
	queue     chan update
	logger    Logger

	mu      sync.Mutex
	started bool

	runCtx    context.Context
	cancelRun context.CancelFunc

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	enqueued  atomic.Uint64
	processed atomic.Uint64
	dropped   atomic.Uint64
}

// NewDispatcher creates a Dispatcher.
//
// Returns ErrNilDispatch when either callback is missing.
func NewDispatcher(opts DispatcherOptions) (*Dispatcher, error) {
	if opts.Broadcast == nil || opts.Push == nil {
		return nil, ErrNilDispatch
	}

	size := opts.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	return &Dispatcher{
		broadcast: opts.Broadcast,
		push:      opts.Push,
		queue:     make(chan update, size),
		logger:    logger,
		done:      make(chan struct{}),
	}, nil
}

// Start launches the worker goroutine.
//
// The supplied context bounds hardware writes issued by the worker; it
// does not stop the worker (call Stop for that).
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return ErrAlreadyStarted
	}
	if ctx == nil {
		ctx = context.Background()
	}

	d.runCtx, d.cancelRun = context.WithCancel(ctx)
	d.started = true

	d.wg.Add(1)
	go d.worker()

	return nil
}

// Stop halts the worker. Updates still queued are discarded and
// counted as dropped. Safe to call more than once.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return ErrNotStarted
	}
	d.mu.Unlock()

	d.stopOnce.Do(func() {
		close(d.done)
		d.cancelRun()
	})
	d.wg.Wait()

	return nil
}

// EnqueueBroadcast queues an observer broadcast.
func (d *Dispatcher) EnqueueBroadcast(stream Stream, vol int, flags Flag) {
	d.enqueue(update{kind: updateBroadcast, stream: stream, volume: vol, flags: flags})
}

// EnqueueHALPush queues a hardware volume write.
func (d *Dispatcher) EnqueueHALPush(target CarStream, vol int) {
	d.enqueue(update{kind: updateHALPush, target: target, volume: vol})
}

// Stats returns a snapshot of the dispatcher counters.
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Enqueued:  d.enqueued.Load(),
		Processed: d.processed.Load(),
		Dropped:   d.dropped.Load(),
		Queued:    len(d.queue),
	}
}

// enqueue adds an update to the queue without blocking. Updates
// arriving after Stop, or while the queue is full, are dropped.
func (d *Dispatcher) enqueue(u update) {
	select {
	case <-d.done:
		d.dropped.Add(1)
		d.logger.Warn("dispatcher stopped, dropping update", "kind", int(u.kind), "stream", u.stream.String())
		return
	default:
	}

	select {
	case d.queue <- u:
		d.enqueued.Add(1)
	default:
		d.dropped.Add(1)
		d.logger.Warn("dispatcher queue full, dropping update",
			"kind", int(u.kind),
			"stream", u.stream.String(),
			"volume", u.volume,
		)
	}
}

// worker drains the queue one update at a time.
func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for {
		select {
		case <-d.done:
			d.discardQueued()
			return
		case u := <-d.queue:
			d.execute(u)
		}
	}
}

// execute runs one side effect.
func (d *Dispatcher) execute(u update) {
	defer d.processed.Add(1)

	switch u.kind {
	case updateBroadcast:
		d.broadcast(u.stream, u.volume, u.flags)
	case updateHALPush:
		if err := d.push(d.runCtx, u.target, u.volume); err != nil {
			d.logger.Error("hardware volume push failed",
				"target", int32(u.target),
				"volume", u.volume,
				"error", err,
			)
		}
	}
}

// discardQueued empties the queue after shutdown, counting drops.
func (d *Dispatcher) discardQueued() {
	for {
		select {
		case <-d.queue:
			d.dropped.Add(1)
		default:
			if n := d.dropped.Load(); n > 0 {
				d.logger.Debug("dispatcher discarded queued updates on stop", "dropped_total", n)
			}
			return
		}
	}
}
