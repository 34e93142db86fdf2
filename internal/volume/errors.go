package volume

import "errors"

// Domain errors for the volume package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, volume.ErrAlreadyStarted) {
//	    // handle double start
//	}
var (
	// ErrNilHAL is returned when a coordinator is built without an audio HAL.
	ErrNilHAL = errors.New("volume: audio hal is nil")

	// ErrNoAudioService is returned when hardware volume is unsupported and
	// no platform audio service was supplied for the pass-through controller.
	ErrNoAudioService = errors.New("volume: audio service required without hardware volume")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("volume: already started")

	// ErrNotStarted is returned when Stop is called before Start.
	ErrNotStarted = errors.New("volume: not started")

	// ErrNilDispatch is returned when a dispatcher is built without its
	// broadcast or push callbacks.
	ErrNilDispatch = errors.New("volume: dispatcher callbacks are nil")

	// ErrUnknownStream is returned when a stream name cannot be parsed.
	ErrUnknownStream = errors.New("volume: unknown stream")
)
