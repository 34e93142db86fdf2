package platform

import "errors"

// Domain-specific errors for the media daemon adapter.
var (
	// ErrNilBroker is returned when no MQTT client is supplied.
	ErrNilBroker = errors.New("platform: mqtt client required")

	// ErrInvalidState is returned when a daemon state payload cannot be
	// decoded.
	ErrInvalidState = errors.New("platform: invalid daemon state payload")
)
