// Package sdkerr collects the transport-agnostic error kinds raised by the
// core packages (channel, dispatch, correlator, client). Keeping them in one
// package lets every backend and the facade compare errors with errors.Is
// without importing each other.
package sdkerr

import (
	"errors"
	"fmt"
)

var (
	// TransportInitError roots (wrapped with details via NewTransportInitError).
	errTransportInit = errors.New("transport init error")

	// ErrNotConnected is returned when a send is attempted before the channel
	// is ready.
	ErrNotConnected = errors.New("not connected")

	// ErrConnection wraps underlying I/O failures of a managed connection.
	ErrConnection = errors.New("connection error")

	// ErrQueryTimeout is returned when a query's deadline elapses before a
	// response arrives.
	ErrQueryTimeout = errors.New("query timeout")

	// ErrQueryInFlight is returned by single-flight transports when a second
	// query is issued while one is still pending.
	ErrQueryInFlight = errors.New("query already in flight")

	// ErrMessageTooLarge is returned when an outgoing envelope would exceed
	// the configured maxMessageBytes.
	ErrMessageTooLarge = errors.New("message too large")

	// ErrDuplicateSubscription is returned by persistent-bidi backends when a
	// second handler is registered for an eventType that already has one.
	ErrDuplicateSubscription = errors.New("duplicate subscription")

	// ErrDisconnected is used to reject all pending queries on close or
	// observed disconnect.
	ErrDisconnected = errors.New("disconnected")

	// ErrInvalidResponse is returned when a QueryResponse envelope carries
	// ok==false with no err text.
	ErrInvalidResponse = errors.New("invalid query response")

	// errBatchProcessingTimeout is internal: it never escapes the dispatcher,
	// it only suppresses ACK emission. Tested via IsBatchProcessingTimeout.
	errBatchProcessingTimeout = errors.New("batch processing timeout")
)

// TransportInitError signals misconfiguration at construction time (missing
// URL, missing child channel, no I/O primitive available).
type TransportInitError struct {
	Transport string
	Reason    string
}

func (e *TransportInitError) Error() string {
	return fmt.Sprintf("transport init error (%s): %s", e.Transport, e.Reason)
}

func (e *TransportInitError) Is(target error) bool { return target == errTransportInit }

// NewTransportInitError builds a TransportInitError for the named transport.
func NewTransportInitError(transport, reason string) error {
	return &TransportInitError{Transport: transport, Reason: reason}
}

// QueryFailedError wraps a QueryResponse{ok:false} with the server-supplied
// error text.
type QueryFailedError struct {
	Msg string
}

func (e *QueryFailedError) Error() string { return "query failed: " + e.Msg }

// NewQueryFailedError builds a QueryFailedError from the response's err field.
func NewQueryFailedError(msg string) error { return &QueryFailedError{Msg: msg} }

// ServerError wraps a server-originated `action == "error"` envelope.
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server error [%s]: %s", e.Code, e.Message)
	}
	return "server error: " + e.Message
}

// NewServerError builds a ServerError from the decoded error payload.
func NewServerError(code, message string) error {
	return &ServerError{Code: code, Message: message}
}

// IsBatchProcessingTimeout reports whether err is the internal
// batch-processing-timeout sentinel used to suppress ACK emission. Never
// surfaced to a caller; only used inside core/dispatch and its tests.
func IsBatchProcessingTimeout(err error) bool { return errors.Is(err, errBatchProcessingTimeout) }

// BatchProcessingTimeout returns the internal sentinel error.
func BatchProcessingTimeout() error { return errBatchProcessingTimeout }
