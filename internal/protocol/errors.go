package protocol

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Sentinel errors shared across transports.
var (
	// ErrNotConnected is returned when an operation requires an
	// established session.
	ErrNotConnected = errors.New("device not connected")

	// ErrNotImplemented is returned by transports that do not support an
	// operation (notably the gateway variant's data calls).
	ErrNotImplemented = errors.New("operation not implemented for this transport")
)

// ConfigError reports incomplete or invalid device configuration. It is
// fatal to the operation and never retried.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("device configuration invalid: %s", e.Reason)
}

// ProtocolError reports a malformed or unexpected device response.
type ProtocolError struct {
	Op     string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error during %s: %s", e.Op, e.Reason)
}

// TransportError reports a socket-level failure. Timeouts are wrapped
// here as well: a timed-out operation is treated identically to a
// transport failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether an error is a transport-level condition
// that a later retry may clear (socket failures, timeouts, lost
// sessions). Configuration and protocol errors are not transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, ErrNotConnected) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
