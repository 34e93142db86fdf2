package volume

import "context"

// AudioHAL is the vehicle audio module surface the coordinator
// consumes. The vehicle package provides the production
// implementation; tests substitute mocks.
//
// Capability probes (SupportsVolume, SupportedContexts,
// HasPersistentMemory) must be cheap and non-blocking: implementations
// cache them at attach time. Volume operations may perform I/O and
// honour the supplied context.
type AudioHAL interface {
	// SupportsVolume reports whether the vehicle audio module controls
	// volume in hardware. When false, the factory builds the
	// pass-through controller instead of a coordinator.
	SupportsVolume() bool

	// SupportedContexts returns the context mask the hardware addresses
	// volume by. A zero mask means volume is addressed by physical
	// stream only.
	SupportedContexts() ContextMask

	// HasPersistentMemory reports whether the hardware retains per
	// context volume across focus changes and ignition cycles.
	HasPersistentMemory() bool

	// Volume reads the hardware volume for a car stream.
	Volume(ctx context.Context, target CarStream) (int, error)

	// SetVolume writes the hardware volume for a car stream.
	SetVolume(ctx context.Context, target CarStream, volume int) error

	// VolumeLimit reads the volume bounds for a car stream. ok is false
	// when the hardware announces no limit for the target.
	VolumeLimit(ctx context.Context, target CarStream) (limit Limit, ok bool, err error)

	// SetVolumeListener registers the receiver for hardware volume and
	// limit change events. Passing nil clears it.
	SetVolumeListener(l VolumeListener)

	// SetFocusListener registers the receiver for audio context (focus)
	// change events. Passing nil clears it.
	SetFocusListener(l FocusListener)
}

// VolumeListener receives hardware-initiated volume events.
type VolumeListener interface {
	// OnVolumeChange reports that the hardware moved a car stream's
	// volume (rotary encoder, steering wheel control acting directly on
	// the amplifier).
	OnVolumeChange(target CarStream, vol int)

	// OnVolumeLimitChange reports that the hardware retuned the volume
	// bounds of a car stream.
	OnVolumeLimitChange(target CarStream)
}

// FocusListener receives audio context focus changes.
type FocusListener interface {
	// OnContextChange reports that a new context now holds audio focus.
	OnContextChange(next Context)
}
