package volume

import "fmt"

// Stream is a logical audio stream category as applications see it.
//
// Logical streams are the caller-facing addressing unit: every volume
// operation names one. The coordinator routes each stream to a car
// audio context and onwards to a hardware channel.
type Stream int

// Logical streams, in catalog order.
const (
	StreamMedia Stream = iota
	StreamNavigation
	StreamVoiceCall
	StreamRing
	StreamAlarm
	StreamNotification
	StreamSystem
	StreamSafety
)

// streamNames maps streams to their wire/API names.
var streamNames = map[Stream]string{
	StreamMedia:        "media",
	StreamNavigation:   "navigation",
	StreamVoiceCall:    "voice_call",
	StreamRing:         "ring",
	StreamAlarm:        "alarm",
	StreamNotification: "notification",
	StreamSystem:       "system",
	StreamSafety:       "safety",
}

// Streams returns the full stream catalog in stable order.
func Streams() []Stream {
	return []Stream{
		StreamMedia,
		StreamNavigation,
		StreamVoiceCall,
		StreamRing,
		StreamAlarm,
		StreamNotification,
		StreamSystem,
		StreamSafety,
	}
}

// String returns the stream's wire name, or a numeric form for values
// outside the catalog.
func (s Stream) String() string {
	if name, ok := streamNames[s]; ok {
		return name
	}
	return fmt.Sprintf("stream(%d)", int(s))
}

// ParseStream resolves a wire/API name back to a Stream.
//
// Returns ErrUnknownStream for names outside the catalog.
func ParseStream(name string) (Stream, error) {
	for s, n := range streamNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownStream, name)
}

// Context is a car audio context: the vehicle-level usage class the
// audio module understands. Contexts are single bits so the hardware
// can announce support as a mask.
type Context int32

// Car audio contexts.
const (
	ContextMusic Context = 1 << iota
	ContextNavigation
	ContextVoiceCall
	ContextRingtone
	ContextAlarm
	ContextNotification
	ContextSystemSound
	ContextSafetyAlert
)

// DefaultContext is the context assumed at boot and the fallback for
// anything the routing tables do not recognise.
const DefaultContext = ContextMusic

// contextNames maps contexts to their wire/API names.
var contextNames = map[Context]string{
	ContextMusic:        "music",
	ContextNavigation:   "navigation",
	ContextVoiceCall:    "voice_call",
	ContextRingtone:     "ringtone",
	ContextAlarm:        "alarm",
	ContextNotification: "notification",
	ContextSystemSound:  "system_sound",
	ContextSafetyAlert:  "safety_alert",
}

// String returns the context's wire name, or a numeric form for values
// outside the catalog.
func (c Context) String() string {
	if name, ok := contextNames[c]; ok {
		return name
	}
	return fmt.Sprintf("context(0x%X)", int32(c))
}

// ContextMask is a set of contexts, as announced by the vehicle audio
// module. A zero mask means the hardware does not address volume by
// context at all.
type ContextMask int32

// Has reports whether the mask contains the given context.
func (m ContextMask) Has(c Context) bool {
	return int32(m)&int32(c) != 0
}

// PhysicalStream is a hardware output channel index. Several contexts
// may share one physical stream.
type PhysicalStream int32

// CarStream is the addressing unit for hardware volume operations.
// When the audio module supports contexts it is a Context value,
// otherwise a PhysicalStream index.
type CarStream int32

// Limit holds the inclusive volume bounds for one hardware target.
type Limit struct {
	Min int
	Max int
}

// Flag carries presentation hints and provenance on a volume change.
type Flag int

// Volume change flags. The low bits are presentation hints; the From
// bits mark where a change originated so downstream consumers can
// attribute it. At most one From bit is set per change.
const (
	// FlagShowUI asks surfaces to show volume feedback.
	FlagShowUI Flag = 1 << iota

	// FlagPlaySound asks surfaces to play an adjustment blip.
	FlagPlaySound

	// FlagFromKey marks changes that originated from a hardware key.
	FlagFromKey

	// FlagFromHardware marks changes the vehicle audio module reported
	// on its own.
	FlagFromHardware

	// FlagFromAPI marks changes requested over the REST API.
	FlagFromAPI

	// FlagFromBus marks changes requested over the message bus.
	FlagFromBus
)

// defaultUpdateFlags returns the flags attached to internally
// originated volume updates.
func defaultUpdateFlags() Flag {
	return FlagShowUI | FlagPlaySound
}

// KeyAction is the press phase of a hardware key event.
type KeyAction int

// Key actions, matching the vehicle input property encoding.
const (
	KeyActionDown KeyAction = 0
	KeyActionUp   KeyAction = 1
)

// KeyCode identifies a hardware key. Values match the vehicle input
// property encoding.
type KeyCode int

// Volume keys.
const (
	KeyVolumeUp   KeyCode = 24
	KeyVolumeDown KeyCode = 25
)

// KeyEvent is a hardware volume key press or release.
type KeyEvent struct {
	Action KeyAction
	Code   KeyCode
}

// Adjustment is the direction of a suggested volume change on the
// platform audio service.
type Adjustment int

// Adjustment directions.
const (
	AdjustRaise Adjustment = iota
	AdjustLower
)
