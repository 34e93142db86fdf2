package vehicle

import "errors"

// Domain errors for the vehicle property link.
var (
	// ErrNotConnected is returned when an operation requires a connection
	// but the client is not connected to vpd.
	ErrNotConnected = errors.New("vehicle: not connected to vpd")

	// ErrConnectionFailed is returned when the connection to vpd fails.
	ErrConnectionFailed = errors.New("vehicle: connection to vpd failed")

	// ErrSessionRejected is returned when vpd refuses the session handshake,
	// usually because of a protocol version mismatch.
	ErrSessionRejected = errors.New("vehicle: session rejected by vpd")

	// ErrInvalidFrame is returned when a received frame is malformed.
	ErrInvalidFrame = errors.New("vehicle: invalid frame")

	// ErrInvalidValue is returned when a property value cannot be encoded
	// or a received value payload does not match its declared type.
	ErrInvalidValue = errors.New("vehicle: invalid property value")

	// ErrProtocolDesync is returned when the byte stream can no longer be
	// framed safely. The connection must be closed and re-established.
	ErrProtocolDesync = errors.New("vehicle: protocol desync detected")

	// ErrRequestFailed is returned when sending a request to vpd fails.
	ErrRequestFailed = errors.New("vehicle: request send failed")

	// ErrRequestTimeout is returned when vpd does not answer a request
	// within the request timeout.
	ErrRequestTimeout = errors.New("vehicle: request timed out")

	// ErrPropertyNotFound is returned when vpd reports the requested
	// property or area as unknown.
	ErrPropertyNotFound = errors.New("vehicle: property not found")

	// ErrRequestRejected is returned when vpd rejects a request as invalid.
	ErrRequestRejected = errors.New("vehicle: request rejected by vpd")

	// ErrDaemonFault is returned when vpd reports an internal failure.
	ErrDaemonFault = errors.New("vehicle: vpd internal error")

	// ErrUnsupportedValueType is returned at attach time when an audio
	// property announces a value type this service cannot handle.
	// There is no safe way to drive volume hardware through a property
	// we cannot decode, so attach fails hard.
	ErrUnsupportedValueType = errors.New("vehicle: unsupported value type for audio property")

	// ErrNilClient is returned when a HAL is attached without a property client.
	ErrNilClient = errors.New("vehicle: property client is nil")
)
