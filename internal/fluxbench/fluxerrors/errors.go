// Package fluxerrors contains the errors produced by the simulated agents. Each agent converts these into
// metric events at its own boundary; none of them are returned to the scheduler.
//
// Every error type wraps the underlying cause, so errors.Is/errors.As and pkg/errors.Cause keep working.
package fluxerrors

import (
	"fmt"
)

// ErrConnect is returned when a subscriber fails to dial the subscription endpoint or to send its handshake.
// It is terminal for that connection.
type ErrConnect struct {
	Endpoint     string
	SubscriberId string
	Topic        string
	Cause        error
}

func (err *ErrConnect) Error() string {
	return fmt.Sprintf("subscriber %s failed to subscribe to topic %q at %s: %s", err.SubscriberId, err.Topic, err.Endpoint, err.Cause)
}

func (err *ErrConnect) Unwrap() error {
	return err.Cause
}

// ErrTransport is returned when an established subscription fails to receive or decode a frame.
// It is terminal for that connection.
type ErrTransport struct {
	SubscriberId string
	Topic        string
	// Frame holds the raw frame that failed to decode. Nil for read failures.
	Frame []byte
	Cause error
}

func (err *ErrTransport) Error() string {
	if err.Frame != nil {
		return fmt.Sprintf("subscriber %s on topic %q received undecodable frame of %d bytes: %s", err.SubscriberId, err.Topic, len(err.Frame), err.Cause)
	}
	return fmt.Sprintf("subscriber %s on topic %q lost its connection: %s", err.SubscriberId, err.Topic, err.Cause)
}

func (err *ErrTransport) Unwrap() error {
	return err.Cause
}

// ErrPublish is returned when a single publish request fails, either in transport or with a non-success status.
// StatusCode is zero for transport failures.
type ErrPublish struct {
	Endpoint   string
	Topic      string
	StatusCode int
	Cause      error
}

func (err *ErrPublish) Error() string {
	if err.StatusCode != 0 {
		return fmt.Sprintf("publish to topic %q at %s returned status %d", err.Topic, err.Endpoint, err.StatusCode)
	}
	return fmt.Sprintf("publish to topic %q at %s failed: %s", err.Topic, err.Endpoint, err.Cause)
}

func (err *ErrPublish) Unwrap() error {
	return err.Cause
}

// ErrInvalidArgument is returned when a configuration value is invalid.
type ErrInvalidArgument struct {
	Name    string      // Name of the field referred to, e.g., "publisher.minWait"
	Value   interface{} // The invalid value that was provided
	Message string      // An optional message to include with the error message, e.g., explaining why the value is invalid
}

func (err *ErrInvalidArgument) Error() string {
	if err.Message == "" {
		return fmt.Sprintf("value %v is invalid for field %q", err.Value, err.Name)
	} else {
		return fmt.Sprintf("value %v is invalid for field %q; %s", err.Value, err.Name, err.Message)
	}
}
