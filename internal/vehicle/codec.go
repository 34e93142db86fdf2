package vehicle

import (
	"encoding/binary"
	"fmt"
	"time"
)

// vpd protocol message types.
const (
	// MsgOpenSession opens a property session.
	// Request payload: version(1) + reserved(1)
	// Response payload: version(1) + flags(1)
	// Must be the first frame on a fresh connection; vpd drops
	// connections that send anything else first.
	MsgOpenSession uint16 = 0x0001

	// MsgConfigRequest asks vpd for the full property config table.
	// Payload: request_id(4)
	MsgConfigRequest uint16 = 0x0002

	// MsgConfigResponse carries the property config table.
	// Payload: request_id(4) + count(2) + count * config record
	MsgConfigResponse uint16 = 0x0003

	// MsgGet reads the current value of one property area.
	// Payload: request_id(4) + property(4) + area(4)
	// Answered by MsgResult carrying the value.
	MsgGet uint16 = 0x0010

	// MsgSet writes a property value.
	// Payload: request_id(4) + property value
	MsgSet uint16 = 0x0011

	// MsgSubscribe registers for change events on a property.
	// Payload: request_id(4) + property(4)
	// Subscriptions are per connection and do not survive a reconnect.
	MsgSubscribe uint16 = 0x0012

	// MsgResult answers MsgGet, MsgSet and MsgSubscribe.
	// Payload: request_id(4) + status(1) [+ property value when answering MsgGet]
	MsgResult uint16 = 0x0013

	// MsgEvent is an unsolicited property change notification.
	// Payload: property value (no request id)
	MsgEvent uint16 = 0x0020
)

// Result status codes carried in MsgResult.
const (
	// StatusOK indicates the request succeeded.
	StatusOK byte = 0x00

	// StatusNotFound indicates the property or area is unknown to vpd.
	StatusNotFound byte = 0x01

	// StatusInvalid indicates the request was malformed or out of range.
	StatusInvalid byte = 0x02

	// StatusInternal indicates a vpd-side failure.
	StatusInternal byte = 0x03
)

// Property value types.
const (
	// ValueTypeInt32 is a single big-endian int32.
	ValueTypeInt32 byte = 0x01

	// ValueTypeInt32Vec is a counted vector of big-endian int32 values.
	// Encoding: count(1) + count * int32
	ValueTypeInt32Vec byte = 0x02
)

// Property access modes (bit flags).
const (
	// AccessRead marks a property as readable.
	AccessRead byte = 0x01

	// AccessWrite marks a property as writable.
	AccessWrite byte = 0x02

	// AccessReadWrite marks a property as both readable and writable.
	AccessReadWrite byte = AccessRead | AccessWrite
)

// Audio property identifiers in the vendor property range.
const (
	// PropAudioVolume is the cabin volume property. The area identifies
	// the hardware volume target: a context bit where the hardware
	// addresses volume by context, a physical stream index otherwise.
	// Value: int32 volume index.
	PropAudioVolume uint32 = 0x0A01

	// PropAudioVolumeLimit is the per-target volume limit property.
	// Value: int32 vector [min, max]. Change events on this property
	// signal that limits must be re-read for all targets.
	PropAudioVolumeLimit uint32 = 0x0A02

	// PropAudioContext is the focused audio context property.
	// Value: int32 context bit.
	PropAudioContext uint32 = 0x0A03

	// PropAudioKeyInput carries hardware volume key events.
	// Value: int32 vector [action, key code].
	PropAudioKeyInput uint32 = 0x0A10
)

// Capability flags carried in the volume property's first config word.
const (
	// VolumeCapPersistentStorage is set when the hardware persists volume
	// levels across power cycles on its own.
	VolumeCapPersistentStorage int32 = 1 << 0
)

// Frame size constraints.
const (
	// frameHeaderSize is the size of the frame header (size + type).
	frameHeaderSize = 4

	// reqIDSize is the size of the request id field in request/response frames.
	reqIDSize = 4
)

// PropertyValue is one property sample: a property, the area it applies
// to, and a typed payload.
type PropertyValue struct {
	// Prop is the property identifier.
	Prop uint32

	// Area selects the property area (hardware volume target for audio
	// properties, zero for global properties).
	Area int32

	// ValueType declares which payload field is populated.
	ValueType byte

	// Int32 holds the scalar payload for ValueTypeInt32.
	Int32 int32

	// Int32Vec holds the vector payload for ValueTypeInt32Vec.
	Int32Vec []int32

	// Timestamp records when the value was received or created.
	Timestamp time.Time
}

// NewInt32Value builds a scalar int32 property value.
func NewInt32Value(prop uint32, area int32, value int32) PropertyValue {
	return PropertyValue{
		Prop:      prop,
		Area:      area,
		ValueType: ValueTypeInt32,
		Int32:     value,
		Timestamp: time.Now(),
	}
}

// NewInt32VecValue builds a vector int32 property value.
func NewInt32VecValue(prop uint32, area int32, values []int32) PropertyValue {
	return PropertyValue{
		Prop:      prop,
		Area:      area,
		ValueType: ValueTypeInt32Vec,
		Int32Vec:  values,
		Timestamp: time.Now(),
	}
}

// Encode encodes the property value to wire format.
//
// Layout:
//
//	Byte 0-3: Property identifier (big-endian uint32)
//	Byte 4-7: Area (big-endian int32)
//	Byte 8:   Value type
//	Byte 9+:  Typed payload
//	          int32:     value(4)
//	          int32 vec: count(1) + count * value(4)
//
// Returns:
//   - []byte: Encoded value
//   - error: ErrInvalidValue for unknown value types or oversized vectors
func (v PropertyValue) Encode() ([]byte, error) {
	switch v.ValueType {
	case ValueTypeInt32:
		buf := make([]byte, 13)
		binary.BigEndian.PutUint32(buf[0:4], v.Prop)
		binary.BigEndian.PutUint32(buf[4:8], uint32(v.Area))
		buf[8] = ValueTypeInt32
		binary.BigEndian.PutUint32(buf[9:13], uint32(v.Int32))
		return buf, nil

	case ValueTypeInt32Vec:
		if len(v.Int32Vec) > 0xFF {
			return nil, fmt.Errorf("%w: vector too long (%d elements)", ErrInvalidValue, len(v.Int32Vec))
		}
		buf := make([]byte, 10+4*len(v.Int32Vec))
		binary.BigEndian.PutUint32(buf[0:4], v.Prop)
		binary.BigEndian.PutUint32(buf[4:8], uint32(v.Area))
		buf[8] = ValueTypeInt32Vec
		buf[9] = byte(len(v.Int32Vec))
		for i, val := range v.Int32Vec {
			binary.BigEndian.PutUint32(buf[10+4*i:14+4*i], uint32(val))
		}
		return buf, nil

	default:
		return nil, fmt.Errorf("%w: unknown value type 0x%02X", ErrInvalidValue, v.ValueType)
	}
}

// ParsePropertyValue parses a wire-format property value.
//
// Parameters:
//   - data: Raw value bytes (property + area + type + payload)
//
// Returns:
//   - PropertyValue: Parsed value with timestamp set to now
//   - error: ErrInvalidValue if parsing fails
func ParsePropertyValue(data []byte) (PropertyValue, error) {
	if len(data) < 9 {
		return PropertyValue{}, fmt.Errorf("%w: too short (%d bytes, need at least 9)", ErrInvalidValue, len(data))
	}

	v := PropertyValue{
		Prop:      binary.BigEndian.Uint32(data[0:4]),
		Area:      int32(binary.BigEndian.Uint32(data[4:8])),
		ValueType: data[8],
		Timestamp: time.Now(),
	}

	switch v.ValueType {
	case ValueTypeInt32:
		if len(data) < 13 {
			return PropertyValue{}, fmt.Errorf("%w: truncated int32 payload (%d bytes)", ErrInvalidValue, len(data))
		}
		v.Int32 = int32(binary.BigEndian.Uint32(data[9:13]))
		return v, nil

	case ValueTypeInt32Vec:
		if len(data) < 10 {
			return PropertyValue{}, fmt.Errorf("%w: missing vector count", ErrInvalidValue)
		}
		count := int(data[9])
		if len(data) < 10+4*count {
			return PropertyValue{}, fmt.Errorf("%w: truncated vector (%d bytes for %d elements)",
				ErrInvalidValue, len(data), count)
		}
		vec := make([]int32, count)
		for i := range vec {
			vec[i] = int32(binary.BigEndian.Uint32(data[10+4*i : 14+4*i]))
		}
		v.Int32Vec = vec
		return v, nil

	default:
		return PropertyValue{}, fmt.Errorf("%w: unknown value type 0x%02X", ErrInvalidValue, v.ValueType)
	}
}

// String returns a human-readable representation of the value.
func (v PropertyValue) String() string {
	switch v.ValueType {
	case ValueTypeInt32:
		return fmt.Sprintf("PropertyValue{Prop:0x%04X, Area:%d, Int32:%d}", v.Prop, v.Area, v.Int32)
	case ValueTypeInt32Vec:
		return fmt.Sprintf("PropertyValue{Prop:0x%04X, Area:%d, Vec:%v}", v.Prop, v.Area, v.Int32Vec)
	default:
		return fmt.Sprintf("PropertyValue{Prop:0x%04X, Area:%d, Type:0x%02X}", v.Prop, v.Area, v.ValueType)
	}
}

// AreaConfig is the static per-area configuration of a property.
// For the volume property the pair carries the factory volume range.
type AreaConfig struct {
	// Area is the area identifier.
	Area int32

	// Min is the first config word (minimum volume index for audio).
	Min int32

	// Max is the second config word (maximum volume index for audio).
	Max int32
}

// PropertyConfig describes one property announced by vpd.
type PropertyConfig struct {
	// Prop is the property identifier.
	Prop uint32

	// ValueType is the wire type of the property's values.
	ValueType byte

	// Access is the access mode bit mask.
	Access byte

	// ConfigA is the first property-level config word.
	// For the volume property: capability flags.
	ConfigA int32

	// ConfigB is the second property-level config word.
	// For the volume property: supported context mask (zero when the
	// hardware addresses volume by physical stream).
	ConfigB int32

	// Areas lists the per-area configuration records.
	Areas []AreaConfig
}

// Readable returns true if the property can be read.
func (c PropertyConfig) Readable() bool {
	return c.Access&AccessRead != 0
}

// Writable returns true if the property can be written.
func (c PropertyConfig) Writable() bool {
	return c.Access&AccessWrite != 0
}

// Encode encodes the property config to wire format.
//
// Layout:
//
//	Byte 0-3:   Property identifier (big-endian uint32)
//	Byte 4:     Value type
//	Byte 5:     Access mode
//	Byte 6-9:   Config word A (big-endian int32)
//	Byte 10-13: Config word B (big-endian int32)
//	Byte 14-15: Area count (big-endian uint16)
//	Byte 16+:   Area records: area(4) + min(4) + max(4)
func (c PropertyConfig) Encode() []byte {
	buf := make([]byte, 16+12*len(c.Areas))
	binary.BigEndian.PutUint32(buf[0:4], c.Prop)
	buf[4] = c.ValueType
	buf[5] = c.Access
	binary.BigEndian.PutUint32(buf[6:10], uint32(c.ConfigA))
	binary.BigEndian.PutUint32(buf[10:14], uint32(c.ConfigB))
	binary.BigEndian.PutUint16(buf[14:16], uint16(len(c.Areas))) //nolint:gosec // area counts are small
	for i, area := range c.Areas {
		off := 16 + 12*i
		binary.BigEndian.PutUint32(buf[off:off+4], uint32(area.Area))
		binary.BigEndian.PutUint32(buf[off+4:off+8], uint32(area.Min))
		binary.BigEndian.PutUint32(buf[off+8:off+12], uint32(area.Max))
	}
	return buf
}

// parsePropertyConfig parses one config record from data.
// Returns the record and the number of bytes consumed.
func parsePropertyConfig(data []byte) (PropertyConfig, int, error) {
	if len(data) < 16 {
		return PropertyConfig{}, 0, fmt.Errorf("%w: truncated config record (%d bytes)", ErrInvalidFrame, len(data))
	}

	cfg := PropertyConfig{
		Prop:      binary.BigEndian.Uint32(data[0:4]),
		ValueType: data[4],
		Access:    data[5],
		ConfigA:   int32(binary.BigEndian.Uint32(data[6:10])),
		ConfigB:   int32(binary.BigEndian.Uint32(data[10:14])),
	}

	areaCount := int(binary.BigEndian.Uint16(data[14:16]))
	consumed := 16 + 12*areaCount
	if len(data) < consumed {
		return PropertyConfig{}, 0, fmt.Errorf("%w: truncated area records (%d bytes for %d areas)",
			ErrInvalidFrame, len(data), areaCount)
	}

	if areaCount > 0 {
		cfg.Areas = make([]AreaConfig, areaCount)
		for i := range cfg.Areas {
			off := 16 + 12*i
			cfg.Areas[i] = AreaConfig{
				Area: int32(binary.BigEndian.Uint32(data[off : off+4])),
				Min:  int32(binary.BigEndian.Uint32(data[off+4 : off+8])),
				Max:  int32(binary.BigEndian.Uint32(data[off+8 : off+12])),
			}
		}
	}

	return cfg, consumed, nil
}

// EncodeConfigTable encodes a config table payload (count + records).
// The request id is prepended by the frame writer.
func EncodeConfigTable(configs []PropertyConfig) []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, uint16(len(configs))) //nolint:gosec // config tables are small
	for _, cfg := range configs {
		buf = append(buf, cfg.Encode()...)
	}
	return buf
}

// ParseConfigTable parses a config table payload (count + records).
func ParseConfigTable(data []byte) ([]PropertyConfig, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: missing config count", ErrInvalidFrame)
	}

	count := int(binary.BigEndian.Uint16(data[0:2]))
	configs := make([]PropertyConfig, 0, count)
	rest := data[2:]
	for i := 0; i < count; i++ {
		cfg, consumed, err := parsePropertyConfig(rest)
		if err != nil {
			return nil, fmt.Errorf("config record %d: %w", i, err)
		}
		configs = append(configs, cfg)
		rest = rest[consumed:]
	}

	return configs, nil
}

// EncodeFrame wraps a payload in the vpd frame format.
//
// Format:
//
//	Byte 0-1: Frame size (big-endian, type + payload, excludes the size field)
//	Byte 2-3: Message type (big-endian)
//	Byte 4+:  Payload
//
// Parameters:
//   - msgType: vpd message type (e.g. MsgGet, MsgEvent)
//   - payload: Message payload (may be nil)
//
// Returns:
//   - []byte: Complete frame ready to send over the socket
func EncodeFrame(msgType uint16, payload []byte) []byte {
	buf := make([]byte, frameHeaderSize+len(payload))

	// Size field = type(2) + payload length (does NOT include size field itself)
	sizeField := 2 + len(payload)
	binary.BigEndian.PutUint16(buf[0:2], uint16(sizeField)) //nolint:gosec // bounded by small frame sizes

	binary.BigEndian.PutUint16(buf[2:4], msgType)

	if len(payload) > 0 {
		copy(buf[4:], payload)
	}

	return buf
}

// ParseFrame parses a complete raw frame from the socket.
//
// Parameters:
//   - data: Raw bytes including the size field
//
// Returns:
//   - msgType: The vpd message type
//   - payload: The frame payload (may be empty)
//   - error: If the frame is malformed
func ParseFrame(data []byte) (msgType uint16, payload []byte, err error) {
	if len(data) < frameHeaderSize {
		return 0, nil, fmt.Errorf("%w: frame too short (%d bytes)", ErrInvalidFrame, len(data))
	}

	// Size field = type(2) + payload, does NOT include the size field itself
	declaredSize := binary.BigEndian.Uint16(data[0:2])
	expectedSize := len(data) - 2
	if int(declaredSize) != expectedSize {
		return 0, nil, fmt.Errorf("%w: size mismatch (declared %d, expected %d)",
			ErrInvalidFrame, declaredSize, expectedSize)
	}

	msgType = binary.BigEndian.Uint16(data[2:4])
	if len(data) > frameHeaderSize {
		payload = data[frameHeaderSize:]
	}

	return msgType, payload, nil
}

// appendRequestID prepends the request id to a request body.
func appendRequestID(reqID uint32, body []byte) []byte {
	buf := make([]byte, reqIDSize, reqIDSize+len(body))
	binary.BigEndian.PutUint32(buf, reqID)
	return append(buf, body...)
}

// splitRequestID splits a response payload into request id and remainder.
func splitRequestID(payload []byte) (uint32, []byte, error) {
	if len(payload) < reqIDSize {
		return 0, nil, fmt.Errorf("%w: missing request id", ErrInvalidFrame)
	}
	return binary.BigEndian.Uint32(payload[:reqIDSize]), payload[reqIDSize:], nil
}
