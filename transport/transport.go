package transport

import (
	"context"

	"github.com/ridge/stomp-go/frame"
)

type ClientTransport interface {
	// Name of the transport in lowercase.
	Name() string

	// Dial performs the HTTP upgrade. It is called once, before Run.
	//
	// Callbacks must not be called in this method.
	Dial(ctx context.Context) error

	// Run reads from the connection until it ends. It is called once, on a new goroutine.
	// When the connection ends, OnClose is called exactly once.
	Run()

	// Send writes the frames in order. Send is safe for concurrent use.
	//
	// A write failure closes the transport.
	Send(frames ...*frame.Frame) error

	// SendHeartbeat writes a single EOL.
	SendHeartbeat() error

	// Close closes the connection and calls OnClose with a nil error.
	//
	// You must make sure that this method doesn't block for long or recursively call itself.
	Close()

	// Abort is Close without the closing handshake, for peers that stopped responding.
	Abort()
}
