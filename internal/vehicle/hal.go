package vehicle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cabinworks/cabin-audio-core/internal/volume"
)

// HAL is the vehicle audio HAL facade over a property client.
//
// Attach claims the audio properties from the daemon's config table,
// caches the hardware's volume capabilities and subscribes to change
// events. Property events are translated into the typed listener
// callbacks the volume coordinator consumes.
//
// Capability accessors read state fixed at attach time and never block.
type HAL struct {
	client Connector

	// Capabilities, fixed at attach
	supportsVolume bool
	contexts       volume.ContextMask
	persistent     bool
	hasLimitProp   bool
	claimed        map[uint32]struct{}
	areaLimits     map[int32]volume.Limit

	// Listener registration
	mu             sync.RWMutex
	volumeListener volume.VolumeListener
	focusListener  volume.FocusListener
	keyHandler     func(volume.KeyEvent)

	// Logger (optional)
	logger Logger
}

// Ensure HAL implements the coordinator's audio module surface.
var _ volume.AudioHAL = (*HAL)(nil)

// Attach builds a HAL over the given property client.
//
// It fetches the daemon's property config table, claims the audio
// properties and subscribes to their change events. An audio property
// announcing a value type this service cannot decode fails the attach:
// driving volume hardware through an undecodable property would corrupt
// state silently, so startup stops instead.
//
// Parameters:
//   - ctx: Context for the config fetch and subscriptions
//   - client: Connected property client
//   - logger: Optional logger (may be nil)
//
// Returns:
//   - *HAL: Attached HAL ready for listener registration
//   - error: ErrNilClient, ErrUnsupportedValueType, or transport errors
func Attach(ctx context.Context, client Connector, logger Logger) (*HAL, error) {
	if client == nil {
		return nil, ErrNilClient
	}

	configs, err := client.ListConfigs(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch property configs: %w", err)
	}

	h := &HAL{
		client:     client,
		claimed:    make(map[uint32]struct{}),
		areaLimits: make(map[int32]volume.Limit),
		logger:     logger,
	}

	if err := h.claimProperties(configs); err != nil {
		return nil, err
	}

	for prop := range h.claimed {
		if err := client.Subscribe(ctx, prop); err != nil {
			return nil, fmt.Errorf("subscribe property 0x%04X: %w", prop, err)
		}
	}

	client.SetOnEvent(h.handleEvent)

	h.logInfo("audio HAL attached",
		"supports_volume", h.supportsVolume,
		"contexts", fmt.Sprintf("0x%X", int32(h.contexts)),
		"persistent_memory", h.persistent,
		"properties", len(h.claimed))

	return h, nil
}

// claimProperties walks the daemon's config table and claims the audio
// properties. Non-audio properties are left for other services.
func (h *HAL) claimProperties(configs []PropertyConfig) error {
	for _, cfg := range configs {
		switch cfg.Prop {
		case PropAudioVolume:
			if cfg.ValueType != ValueTypeInt32 {
				return fmt.Errorf("%w: volume property 0x%04X announces type 0x%02X",
					ErrUnsupportedValueType, cfg.Prop, cfg.ValueType)
			}
			h.supportsVolume = cfg.Readable() && cfg.Writable()
			h.persistent = cfg.ConfigA&VolumeCapPersistentStorage != 0
			h.contexts = volume.ContextMask(cfg.ConfigB)
			for _, area := range cfg.Areas {
				h.areaLimits[area.Area] = volume.Limit{Min: int(area.Min), Max: int(area.Max)}
			}
			h.claimed[cfg.Prop] = struct{}{}

		case PropAudioVolumeLimit:
			if cfg.ValueType != ValueTypeInt32Vec {
				return fmt.Errorf("%w: limit property 0x%04X announces type 0x%02X",
					ErrUnsupportedValueType, cfg.Prop, cfg.ValueType)
			}
			h.hasLimitProp = true
			h.claimed[cfg.Prop] = struct{}{}

		case PropAudioContext:
			if cfg.ValueType != ValueTypeInt32 {
				return fmt.Errorf("%w: context property 0x%04X announces type 0x%02X",
					ErrUnsupportedValueType, cfg.Prop, cfg.ValueType)
			}
			h.claimed[cfg.Prop] = struct{}{}

		case PropAudioKeyInput:
			if cfg.ValueType != ValueTypeInt32Vec {
				return fmt.Errorf("%w: key input property 0x%04X announces type 0x%02X",
					ErrUnsupportedValueType, cfg.Prop, cfg.ValueType)
			}
			h.claimed[cfg.Prop] = struct{}{}

		default:
			h.logDebug("skipping non-audio property", "property", fmt.Sprintf("0x%04X", cfg.Prop))
		}
	}
	return nil
}

// SupportsVolume reports whether the hardware controls volume.
func (h *HAL) SupportsVolume() bool {
	return h.supportsVolume
}

// SupportedContexts returns the context mask the hardware addresses
// volume by. Zero means physical stream addressing.
func (h *HAL) SupportedContexts() volume.ContextMask {
	return h.contexts
}

// HasPersistentMemory reports whether the hardware retains per-context
// volume on its own.
func (h *HAL) HasPersistentMemory() bool {
	return h.persistent
}

// Volume reads the hardware volume for a car stream.
func (h *HAL) Volume(ctx context.Context, target volume.CarStream) (int, error) {
	value, err := h.client.Get(ctx, PropAudioVolume, int32(target))
	if err != nil {
		return 0, err
	}
	if value.ValueType != ValueTypeInt32 {
		return 0, fmt.Errorf("%w: volume read returned %s", ErrInvalidValue, value)
	}
	return int(value.Int32), nil
}

// SetVolume writes the hardware volume for a car stream.
func (h *HAL) SetVolume(ctx context.Context, target volume.CarStream, vol int) error {
	return h.client.Set(ctx, NewInt32Value(PropAudioVolume, int32(target), int32(vol))) //nolint:gosec // volume indexes are small
}

// VolumeLimit reads the volume bounds for a car stream.
//
// The live limit property is preferred when the daemon announces one;
// targets it does not cover fall back to the static range from the
// volume property's area config. ok is false when neither knows the
// target.
func (h *HAL) VolumeLimit(ctx context.Context, target volume.CarStream) (volume.Limit, bool, error) {
	if h.hasLimitProp {
		value, err := h.client.Get(ctx, PropAudioVolumeLimit, int32(target))
		switch {
		case errors.Is(err, ErrPropertyNotFound):
			// No live limit for this target, use the static range below
		case err != nil:
			return volume.Limit{}, false, err
		default:
			if value.ValueType != ValueTypeInt32Vec || len(value.Int32Vec) < 2 {
				return volume.Limit{}, false, fmt.Errorf("%w: limit read returned %s", ErrInvalidValue, value)
			}
			return volume.Limit{Min: int(value.Int32Vec[0]), Max: int(value.Int32Vec[1])}, true, nil
		}
	}

	limit, ok := h.areaLimits[int32(target)]
	return limit, ok, nil
}

// SetVolumeListener registers the receiver for hardware volume and
// limit change events. Passing nil clears it.
func (h *HAL) SetVolumeListener(l volume.VolumeListener) {
	h.mu.Lock()
	h.volumeListener = l
	h.mu.Unlock()
}

// SetFocusListener registers the receiver for audio context change
// events. Passing nil clears it.
func (h *HAL) SetFocusListener(l volume.FocusListener) {
	h.mu.Lock()
	h.focusListener = l
	h.mu.Unlock()
}

// SetKeyHandler registers the receiver for hardware volume key events.
// Passing nil clears it.
func (h *HAL) SetKeyHandler(fn func(volume.KeyEvent)) {
	h.mu.Lock()
	h.keyHandler = fn
	h.mu.Unlock()
}

// handleEvent translates a property event into the registered listener
// callback. Events for properties without a registered listener are
// dropped.
func (h *HAL) handleEvent(value PropertyValue) {
	switch value.Prop {
	case PropAudioVolume:
		h.mu.RLock()
		listener := h.volumeListener
		h.mu.RUnlock()
		if listener == nil {
			return
		}
		if value.ValueType != ValueTypeInt32 {
			h.logWarn("volume event with unexpected type", "value", value.String())
			return
		}
		listener.OnVolumeChange(volume.CarStream(value.Area), int(value.Int32))

	case PropAudioVolumeLimit:
		h.mu.RLock()
		listener := h.volumeListener
		h.mu.RUnlock()
		if listener == nil {
			return
		}
		listener.OnVolumeLimitChange(volume.CarStream(value.Area))

	case PropAudioContext:
		h.mu.RLock()
		listener := h.focusListener
		h.mu.RUnlock()
		if listener == nil {
			return
		}
		if value.ValueType != ValueTypeInt32 {
			h.logWarn("context event with unexpected type", "value", value.String())
			return
		}
		listener.OnContextChange(volume.Context(value.Int32))

	case PropAudioKeyInput:
		h.mu.RLock()
		handler := h.keyHandler
		h.mu.RUnlock()
		if handler == nil {
			return
		}
		if value.ValueType != ValueTypeInt32Vec || len(value.Int32Vec) < 2 {
			h.logWarn("key event with malformed payload", "value", value.String())
			return
		}
		handler(volume.KeyEvent{
			Action: volume.KeyAction(value.Int32Vec[0]),
			Code:   volume.KeyCode(value.Int32Vec[1]),
		})

	default:
		h.logDebug("event for unclaimed property", "property", fmt.Sprintf("0x%04X", value.Prop))
	}
}

// logDebug logs a debug message if logger is set.
func (h *HAL) logDebug(msg string, keysAndValues ...any) {
	if h.logger != nil {
		h.logger.Debug(msg, keysAndValues...)
	}
}

// logInfo logs an info message if logger is set.
func (h *HAL) logInfo(msg string, keysAndValues ...any) {
	if h.logger != nil {
		h.logger.Info(msg, keysAndValues...)
	}
}

// logWarn logs a warning if logger is set.
func (h *HAL) logWarn(msg string, keysAndValues ...any) {
	if h.logger != nil {
		h.logger.Warn(msg, keysAndValues...)
	}
}
