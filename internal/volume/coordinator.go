package volume

import (
	"context"
	"sync"
	"sync/atomic"
)

// Observer receives volume change broadcasts.
//
// Observers run on the dispatcher goroutine: keep callbacks short and
// never call back into the coordinator synchronously from a slow path.
// A panicking observer is logged and isolated; the remaining observers
// still run.
type Observer interface {
	VolumeChanged(stream Stream, vol int, flags Flag)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(stream Stream, vol int, flags Flag)

// VolumeChanged implements Observer.
func (f ObserverFunc) VolumeChanged(stream Stream, vol int, flags Flag) {
	f(stream, vol, flags)
}

// Coordinator owns cabin volume state when the vehicle audio module
// controls volume in hardware.
//
// It tracks per logical stream volume and limits, the focused audio
// context, and keeps hardware and observers consistent. All state
// lives behind one mutex; every side effect is enqueued on the
// dispatcher and executed outside the lock, in enqueue order.
type Coordinator struct {
	hal        AudioHAL
	policy     *RoutingPolicy
	dispatcher *Dispatcher
	logger     Logger

	mu        sync.Mutex
	current   map[Stream]int
	limits    map[Stream]Limit
	focused   Context
	supported ContextMask
	hasMemory bool
	started   bool

	runCtx context.Context

	observerMu sync.RWMutex
	observers  map[int64]Observer
	nextObsID  atomic.Int64
}

// Compile-time checks: the coordinator is a Controller and receives
// hardware events directly.
var (
	_ Controller     = (*Coordinator)(nil)
	_ VolumeListener = (*Coordinator)(nil)
	_ FocusListener  = (*Coordinator)(nil)
)

// NewCoordinator creates a Coordinator from Options.
//
// The dispatcher is created here, wired to the coordinator's observer
// fan-out and the HAL volume setter. Nothing touches the hardware
// until Start.
//
// Returns:
//   - *Coordinator: Ready to Start
//   - error: ErrNilHAL when no HAL is supplied
func NewCoordinator(opts Options) (*Coordinator, error) {
	if opts.HAL == nil {
		return nil, ErrNilHAL
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	policy := opts.Policy
	if policy == nil {
		policy = DefaultRoutingPolicy()
	}

	c := &Coordinator{
		hal:       opts.HAL,
		policy:    policy,
		logger:    logger,
		current:   make(map[Stream]int),
		limits:    make(map[Stream]Limit),
		focused:   DefaultContext,
		observers: make(map[int64]Observer),
	}

	dispatcher, err := NewDispatcher(DispatcherOptions{
		Broadcast: c.broadcastVolume,
		Push:      c.pushVolume,
		QueueSize: opts.QueueSize,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	c.dispatcher = dispatcher

	return c, nil
}

// Start loads hardware capabilities, limits, and initial volumes, then
// begins dispatching and listening for hardware events.
//
// Initial volumes are fetched once per car stream: logical streams
// sharing a hardware target reuse the first read. A failed read logs
// and leaves that stream at 0 until the hardware reports otherwise.
func (c *Coordinator) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.runCtx = ctx
	c.supported = c.hal.SupportedContexts()
	c.hasMemory = c.hal.HasPersistentMemory()
	c.loadLimitsLocked(ctx)
	c.loadVolumesLocked(ctx)
	c.started = true
	c.mu.Unlock()

	if err := c.dispatcher.Start(ctx); err != nil {
		return err
	}

	c.hal.SetVolumeListener(c)
	c.hal.SetFocusListener(c)

	c.logger.Info("volume coordinator started",
		"contexts_supported", int32(c.supported),
		"persistent_memory", c.hasMemory,
		"physical_streams", c.policy.PhysicalStreamCount(),
	)
	return nil
}

// Stop detaches from the hardware and halts the dispatcher. Queued
// side effects are discarded.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return ErrNotStarted
	}
	c.started = false
	c.mu.Unlock()

	c.hal.SetVolumeListener(nil)
	c.hal.SetFocusListener(nil)

	return c.dispatcher.Stop()
}

// StreamVolume returns the stored volume for a logical stream.
// Streams outside the catalog read as 0.
func (c *Coordinator) StreamVolume(stream Stream) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	vol, ok := c.current[stream]
	if !ok {
		c.logger.Debug("volume read for unknown stream", "stream", stream.String())
		return 0
	}
	return vol
}

// SetStreamVolume requests a volume for a logical stream.
//
// The request clamps into the stream's limits, no-ops when the clamped
// value equals the stored one, and otherwise records the value and
// enqueues the side effects in order: a hardware push when the stream's
// context holds focus, then an observer broadcast in every case.
func (c *Coordinator) SetStreamVolume(stream Stream, index int, flags Flag) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setStreamVolumeLocked(stream, index, flags)
}

// setStreamVolumeLocked is the core set path. Callers hold c.mu.
func (c *Coordinator) setStreamVolumeLocked(stream Stream, index int, flags Flag) {
	limit, ok := c.limits[stream]
	if !ok {
		c.logger.Error("stream not supported", "stream", stream.String())
		return
	}

	if index > limit.Max {
		c.logger.Error("volume exceeds limit",
			"stream", stream.String(),
			"index", index,
			"limit", limit.Max,
		)
		index = limit.Max
	}
	if index < limit.Min {
		index = limit.Min
	}

	if c.current[stream] == index {
		return
	}

	carStream := c.carStreamLocked(stream)
	carContext := ContextForStream(stream)

	// Single focused channel: the hardware only moves for the context
	// that holds focus. Other streams keep their value internally and
	// resync on focus change.
	if c.focused == carContext {
		c.dispatcher.EnqueueHALPush(carStream, index)
	}

	c.current[stream] = index
	c.dispatcher.EnqueueBroadcast(stream, index, flags)
}

// StreamMaxVolume returns the upper volume bound for a stream.
// Streams outside the catalog read as 0.
func (c *Coordinator) StreamMaxVolume(stream Stream) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	limit, ok := c.limits[stream]
	if !ok {
		c.logger.Error("stream not supported", "stream", stream.String())
		return 0
	}
	return limit.Max
}

// StreamMinVolume returns the lower volume bound for a stream.
// Streams outside the catalog read as 0.
func (c *Coordinator) StreamMinVolume(stream Stream) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	limit, ok := c.limits[stream]
	if !ok {
		c.logger.Error("stream not supported", "stream", stream.String())
		return 0
	}
	return limit.Min
}

// FocusedContext returns the context currently holding audio focus.
func (c *Coordinator) FocusedContext() Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.focused
}

// HandleKeyEvent applies a hardware volume key to the focused stream.
//
// Only the down action moves volume; the event is always reported
// consumed so the platform does not double-handle it.
func (c *Coordinator) HandleKeyEvent(ev KeyEvent) bool {
	if ev.Action != KeyActionDown {
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	stream := StreamForContext(c.focused)
	current := c.current[stream]

	switch ev.Code {
	case KeyVolumeUp:
		c.setStreamVolumeLocked(stream, current+1, defaultUpdateFlags()|FlagFromKey)
	case KeyVolumeDown:
		c.setStreamVolumeLocked(stream, current-1, defaultUpdateFlags()|FlagFromKey)
	}
	return true
}

// RegisterObserver adds a volume change observer and returns its
// registration id.
func (c *Coordinator) RegisterObserver(o Observer) int64 {
	id := c.nextObsID.Add(1)
	c.observerMu.Lock()
	c.observers[id] = o
	c.observerMu.Unlock()
	return id
}

// UnregisterObserver removes a previously registered observer.
func (c *Coordinator) UnregisterObserver(id int64) {
	c.observerMu.Lock()
	delete(c.observers, id)
	c.observerMu.Unlock()
}

// OnVolumeChange handles a hardware-initiated volume move.
//
// Only the focused car stream is accepted: a change reported for any
// other target is logged and ignored. The value clamps into the
// focused stream's limits before it is stored and broadcast. No push
// goes back to the hardware.
func (c *Coordinator) OnVolumeChange(target CarStream, vol int) {
	flags := defaultUpdateFlags() | FlagFromHardware

	c.mu.Lock()
	defer c.mu.Unlock()

	stream := StreamForContext(c.focused)
	focusedCar := c.carStreamLocked(stream)
	if focusedCar != target {
		c.logger.Warn("hardware volume change for unfocused car stream, ignored",
			"target", int32(target),
			"focused", int32(focusedCar),
		)
		return
	}

	if limit, ok := c.limits[stream]; ok {
		vol = clampToLimit(vol, limit)
	}
	if c.current[stream] == vol {
		return
	}

	c.current[stream] = vol
	c.dispatcher.EnqueueBroadcast(stream, vol, flags)
}

// OnVolumeLimitChange handles a hardware limit retune.
//
// All limits reload from the hardware and stored volumes re-clamp into
// the new bounds. Limit changes do not broadcast: min and max travel
// with every volume state payload instead.
func (c *Coordinator) OnVolumeLimitChange(target CarStream) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Info("hardware volume limits changed, reloading", "target", int32(target))
	c.loadLimitsLocked(c.runCtx)

	for stream, limit := range c.limits {
		if vol, ok := c.current[stream]; ok {
			if clamped := clampToLimit(vol, limit); clamped != vol {
				c.current[stream] = clamped
			}
		}
	}
}

// OnContextChange handles an audio focus move.
//
// A repeat of the current context is a no-op. Otherwise the focused
// context updates and the hardware resynchronises to the newly focused
// stream's stored volume:
//   - no context support → push addressed by physical stream
//   - context support without persistent memory → push addressed by context
//   - persistent memory → no push, the hardware remembers
func (c *Coordinator) OnContextChange(next Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if next == c.focused {
		return
	}
	c.focused = next

	current := c.current[StreamForContext(next)]
	if c.supported == 0 {
		c.dispatcher.EnqueueHALPush(CarStream(c.policy.PhysicalForContext(next)), current)
	} else if !c.hasMemory {
		c.dispatcher.EnqueueHALPush(CarStream(next), current)
	}
}

// DispatcherStats exposes dispatcher counters for metrics surfaces.
func (c *Coordinator) DispatcherStats() DispatcherStats {
	return c.dispatcher.Stats()
}

// carStreamLocked translates a logical stream into the hardware
// addressing unit. With context support it is the stream's context,
// masked against what the hardware announced (unsupported contexts
// collapse to the default); without it, the routed physical stream.
// Callers hold c.mu.
func (c *Coordinator) carStreamLocked(stream Stream) CarStream {
	carContext := ContextForStream(stream)
	if c.supported == 0 {
		return CarStream(c.policy.PhysicalForContext(carContext))
	}
	if !c.supported.Has(carContext) {
		carContext = DefaultContext
	}
	return CarStream(carContext)
}

// loadLimitsLocked reads volume bounds from the hardware for every
// catalog stream. Missing or failed reads store {0, 0}; negative
// components floor to 0. Callers hold c.mu.
func (c *Coordinator) loadLimitsLocked(ctx context.Context) {
	for _, stream := range Streams() {
		carStream := c.carStreamLocked(stream)

		limit, ok, err := c.hal.VolumeLimit(ctx, carStream)
		if err != nil {
			c.logger.Warn("volume limit read failed",
				"stream", stream.String(),
				"target", int32(carStream),
				"error", err,
			)
			ok = false
		}
		if !ok {
			limit = Limit{}
		}

		if limit.Min < 0 {
			limit.Min = 0
		}
		if limit.Max < 0 {
			limit.Max = 0
		}
		if limit.Max < limit.Min {
			limit.Max = limit.Min
		}

		c.limits[stream] = limit
	}
}

// loadVolumesLocked reads initial volumes from the hardware, one fetch
// per car stream: logical streams sharing a target reuse the first
// read. Values clamp into the already loaded limits. Callers hold c.mu.
func (c *Coordinator) loadVolumesLocked(ctx context.Context) {
	perCarStream := make(map[CarStream]int)

	for _, stream := range Streams() {
		carStream := c.carStreamLocked(stream)

		vol, ok := perCarStream[carStream]
		if !ok {
			read, err := c.hal.Volume(ctx, carStream)
			if err != nil {
				c.logger.Warn("initial volume read failed",
					"stream", stream.String(),
					"target", int32(carStream),
					"error", err,
				)
				c.current[stream] = 0
				continue
			}
			vol = read
			perCarStream[carStream] = vol
		}
		if limit, ok := c.limits[stream]; ok {
			vol = clampToLimit(vol, limit)
		}
		c.current[stream] = vol
	}
}

// broadcastVolume fans a volume change out to observers. Runs on the
// dispatcher goroutine.
func (c *Coordinator) broadcastVolume(stream Stream, vol int, flags Flag) {
	c.observerMu.RLock()
	observers := make([]Observer, 0, len(c.observers))
	for _, o := range c.observers {
		observers = append(observers, o)
	}
	c.observerMu.RUnlock()

	for _, o := range observers {
		c.notifyObserver(o, stream, vol, flags)
	}
}

// notifyObserver delivers one broadcast, isolating panics.
func (c *Coordinator) notifyObserver(o Observer, stream Stream, vol int, flags Flag) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("volume observer panic",
				"stream", stream.String(),
				"volume", vol,
				"panic", r,
			)
		}
	}()
	o.VolumeChanged(stream, vol, flags)
}

// pushVolume writes a volume to the hardware. Runs on the dispatcher
// goroutine.
func (c *Coordinator) pushVolume(ctx context.Context, target CarStream, vol int) error {
	return c.hal.SetVolume(ctx, target, vol)
}

// clampToLimit bounds a volume into a limit range.
func clampToLimit(vol int, limit Limit) int {
	if vol > limit.Max {
		return limit.Max
	}
	if vol < limit.Min {
		return limit.Min
	}
	return vol
}
