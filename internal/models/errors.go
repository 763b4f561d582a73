package models

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument indicates caller input was rejected before any I/O
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrAuthenticationFailed indicates the identity provider rejected the credentials
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrTransport indicates a connection, TLS or timeout failure
	ErrTransport = errors.New("transport error")
	// ErrUnexpectedServerResponse indicates the signing service returned an unexpected HTTP status
	ErrUnexpectedServerResponse = errors.New("unexpected server response")
	// ErrInvalidServiceState indicates a well formed response carried an unknown status
	ErrInvalidServiceState = errors.New("invalid service state")
	// ErrTimeout indicates the poll loop ran out of attempts
	ErrTimeout = errors.New("timed out waiting for signing")
)

// StatusError carries the HTTP details of a rejected call.
type StatusError struct {
	Kind       error
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v: http status %d, msg: %s", e.Kind, e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error {
	return e.Kind
}

// TransportError wraps the underlying failure of an HTTP exchange.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() []error {
	return []error{ErrTransport, e.Err}
}
