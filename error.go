package stomp

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/ridge/stomp-go/frame"
)

var (
	ErrNoActiveSession       = errors.New("stomp: no active session")
	ErrSessionClosed         = errors.New("stomp: session closed")
	ErrClientClosed          = errors.New("stomp: client closed")
	ErrConnectAborted        = errors.New("stomp: connect aborted by Disconnect")
	ErrEmptyURL              = errors.New("stomp: URL is empty")
	ErrNilHandler            = errors.New("stomp: handler is nil")
	ErrInvalidConnectHeaders = errors.New("stomp: connect headers must be a struct or a map[string]string")
	ErrUnknownTransport      = errors.New("stomp: unknown transport")
	ErrHeartbeatTimeout      = errors.New("stomp: no data received within the heart-beat tolerance")
)

// ServerError is the content of an ERROR frame sent by the broker.
type ServerError struct {
	Message string
	Header  frame.Header
	Body    []byte
}

func newServerError(f *frame.Frame) *ServerError {
	return &ServerError{
		Message: f.Header.Get(frame.HeaderMessage),
		Header:  f.Header.Clone(),
		Body:    f.Body,
	}
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return "stomp: server error"
	}
	return "stomp: server error: " + e.Message
}

// DecodeError is reported when a MESSAGE body cannot be decoded into the requested type.
type DecodeError struct {
	Destination string
	Type        reflect.Type
	Body        []byte
	Err         error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("stomp: cannot decode message from %s into %s: %s", e.Destination, e.Type, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// This is a wrapper for the errors internal to stomp-go.
//
// If you see this error, the problem is neither a network error
// nor an error caused by you, but a bug in stomp-go.
type InternalError struct {
	err error
}

func (e InternalError) Error() string {
	return "stomp: internal error: " + e.err.Error()
}

func (e InternalError) Unwrap() error {
	return e.err
}

func wrapInternalError(err error) *InternalError {
	return &InternalError{err: err}
}
