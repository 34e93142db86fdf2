package volume

import "context"

// Controller is the client-facing volume surface.
//
// Both implementations (the hardware-backed Coordinator and the
// pass-through to the platform audio service) satisfy it, so callers
// never branch on what the vehicle can do.
type Controller interface {
	// Start brings the controller into service.
	Start(ctx context.Context) error

	// Stop takes the controller out of service.
	Stop() error

	// StreamVolume returns the current volume for a logical stream.
	StreamVolume(stream Stream) int

	// SetStreamVolume requests a volume for a logical stream.
	SetStreamVolume(stream Stream, index int, flags Flag)

	// StreamMaxVolume returns the upper volume bound for a stream.
	StreamMaxVolume(stream Stream) int

	// StreamMinVolume returns the lower volume bound for a stream.
	StreamMinVolume(stream Stream) int

	// HandleKeyEvent applies a hardware volume key event. The return
	// value reports whether the event was consumed.
	HandleKeyEvent(ev KeyEvent) bool

	// RegisterObserver adds a volume change observer.
	RegisterObserver(o Observer) int64

	// UnregisterObserver removes a volume change observer.
	UnregisterObserver(id int64)
}

// AudioService is the platform media daemon's volume surface, consumed
// by the pass-through controller when the vehicle audio module does
// not control volume.
type AudioService interface {
	StreamVolume(stream Stream) int
	SetStreamVolume(stream Stream, index int, flags Flag)
	StreamMaxVolume(stream Stream) int
	StreamMinVolume(stream Stream) int

	// AdjustSuggested nudges whatever stream the platform considers
	// active in the given direction.
	AdjustSuggested(dir Adjustment, flags Flag)

	RegisterObserver(o Observer) int64
	UnregisterObserver(id int64)
}

// Options configures NewController and NewCoordinator.
type Options struct {
	// HAL is the vehicle audio module surface. May be nil when the
	// vehicle has no audio properties at all.
	HAL AudioHAL

	// AudioService is the platform media daemon surface. Required when
	// the HAL does not support hardware volume.
	AudioService AudioService

	// Policy maps contexts onto hardware channels. Default: single
	// channel policy.
	Policy *RoutingPolicy

	// QueueSize overrides the dispatcher queue capacity.
	QueueSize int

	// Logger receives log output. Default: discard.
	Logger Logger
}

// NewController builds the volume controller the vehicle calls for.
//
// When the audio module controls volume in hardware the result is a
// Coordinator attached to it; otherwise volume stays with the platform
// audio service and the result is a pass-through.
//
// Returns:
//   - Controller: Ready to Start
//   - error: ErrNoAudioService when neither surface can serve
func NewController(opts Options) (Controller, error) {
	if opts.HAL == nil || !opts.HAL.SupportsVolume() {
		if opts.AudioService == nil {
			return nil, ErrNoAudioService
		}
		logger := opts.Logger
		if logger == nil {
			logger = noopLogger{}
		}
		return &passthroughController{svc: opts.AudioService, logger: logger}, nil
	}
	return NewCoordinator(opts)
}
