package stomp

import (
	"reflect"

	"github.com/ridge/stomp-go/frame"
)

// FrameHandler receives the MESSAGE frames of a subscription, or the
// ERROR frames of a session.
type FrameHandler interface {
	// PayloadType returns the type the body is decoded into.
	// Return nil, or the []byte type, to receive the raw body.
	PayloadType(headers frame.Header) reflect.Type

	// HandleFrame is called with a value of the type returned by PayloadType.
	HandleFrame(headers frame.Header, payload any)
}

// SessionHandler receives the events of a session.
type SessionHandler interface {
	FrameHandler

	AfterConnected(session *Session, headers frame.Header)

	// HandleException is called when a frame cannot be handled,
	// usually because its body could not be decoded.
	HandleException(session *Session, command frame.Command, headers frame.Header, payload []byte, err error)

	// HandleTransportError is called when the connection fails. session is nil
	// when the failure happens before the session was established.
	HandleTransportError(session *Session, err error)
}

type NoopSessionHandler struct{}

var _ SessionHandler = NoopSessionHandler{}

func (NoopSessionHandler) PayloadType(headers frame.Header) reflect.Type { return nil }

func (NoopSessionHandler) HandleFrame(headers frame.Header, payload any) {}

func (NoopSessionHandler) AfterConnected(session *Session, headers frame.Header) {}

func (NoopSessionHandler) HandleException(session *Session, command frame.Command, headers frame.Header, payload []byte, err error) {
}

func (NoopSessionHandler) HandleTransportError(session *Session, err error) {}

// FrameHandlerFunc adapts a function to a FrameHandler that
// receives the raw body.
type FrameHandlerFunc func(headers frame.Header, body []byte)

func (f FrameHandlerFunc) PayloadType(headers frame.Header) reflect.Type { return nil }

func (f FrameHandlerFunc) HandleFrame(headers frame.Header, payload any) {
	body, _ := payload.([]byte)
	f(headers, body)
}
