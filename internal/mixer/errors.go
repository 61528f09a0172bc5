package mixer

import "errors"

// Domain errors for the mixer package.
var (
	// ErrNotConnected is returned when a read or write is attempted
	// without an active mixer session.
	ErrNotConnected = errors.New("mixer: not connected")

	// ErrConstraintViolation is returned when a channel or bus number is
	// outside the range the mixer supports.
	ErrConstraintViolation = errors.New("mixer: constraint violation")

	// ErrMalformedMessage is returned when a datagram cannot be decoded
	// into an OSC address and argument list.
	ErrMalformedMessage = errors.New("mixer: malformed message")

	// ErrNoResponse marks a session where the mixer stayed silent for
	// longer than the grace window. It is only ever logged.
	ErrNoResponse = errors.New("mixer: no response from device")

	// ErrTransportClosed is returned by a Transport after Close.
	ErrTransportClosed = errors.New("mixer: transport closed")
)
