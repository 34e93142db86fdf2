package relay

import "errors"

// Domain-specific errors for the MQTT relay.
var (
	// ErrNilBroker is returned when no MQTT client is supplied.
	ErrNilBroker = errors.New("relay: mqtt client required")

	// ErrNilController is returned when no volume controller is supplied.
	ErrNilController = errors.New("relay: volume controller required")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("relay: already started")

	// ErrNotStarted is returned when Stop is called before Start.
	ErrNotStarted = errors.New("relay: not started")

	// ErrInvalidCommand is returned when a command payload cannot be
	// decoded or fails validation.
	ErrInvalidCommand = errors.New("relay: invalid command payload")
)
