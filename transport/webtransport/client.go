package webtransport

import (
	"context"
	"errors"
	"io"
	"net/url"

	"github.com/quic-go/webtransport-go"

	"github.com/ridge/stomp-go/frame"
	"github.com/ridge/stomp-go/internal/sync"
	"github.com/ridge/stomp-go/transport"
)

// Frames are written back to back on a single bidirectional stream,
// the NULL octet delimiting them.
type ClientTransport struct {
	url           *url.URL
	requestHeader *transport.RequestHeader
	maxFrameSize  int

	dialer  *webtransport.Dialer
	session *webtransport.Session
	stream  webtransport.Stream
	sendMu  sync.Mutex

	callbacks *transport.Callbacks
	once      sync.Once
}

func NewClientTransport(
	callbacks *transport.Callbacks,
	url url.URL,
	requestHeader *transport.RequestHeader,
	dialer *webtransport.Dialer,
	maxFrameSize int,
) *ClientTransport {
	if dialer == nil {
		dialer = new(webtransport.Dialer)
	}
	if requestHeader == nil {
		requestHeader = transport.NewRequestHeader(nil)
	}
	return &ClientTransport{
		url:           &url,
		requestHeader: requestHeader,
		maxFrameSize:  maxFrameSize,

		callbacks: callbacks,

		dialer: dialer,
	}
}

func (t *ClientTransport) Name() string { return "webtransport" }

func (t *ClientTransport) Dial(ctx context.Context) (err error) {
	switch t.url.Scheme {
	case "wss":
		t.url.Scheme = "https"
	case "ws":
		t.url.Scheme = "http"
	}

	_, t.session, err = t.dialer.Dial(ctx, t.url.String(), t.requestHeader.Header())
	if err != nil {
		return err
	}

	t.stream, err = t.session.OpenStreamSync(ctx)
	if err != nil {
		t.session.CloseWithError(0, "")
		return err
	}
	return nil
}

func (t *ClientTransport) Run() {
	r := frame.NewReader(t.stream)
	r.MaxFrameSize = t.maxFrameSize
	for {
		f, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = nil
			}
			t.close(err)
			return
		}
		if f == nil {
			t.callbacks.OnHeartbeat()
			continue
		}
		t.callbacks.OnFrame(f)
	}
}

func (t *ClientTransport) Send(frames ...*frame.Frame) error {
	err := t.send(frames...)
	if err != nil && !errors.Is(err, frame.ErrInvalidCommand) {
		t.close(err)
	}
	return err
}

func (t *ClientTransport) send(frames ...*frame.Frame) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	for _, f := range frames {
		err := f.Encode(t.stream)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *ClientTransport) SendHeartbeat() error {
	t.sendMu.Lock()
	_, err := t.stream.Write(frame.EOL)
	t.sendMu.Unlock()
	if err != nil {
		t.close(err)
	}
	return err
}

func (t *ClientTransport) close(err error) {
	t.once.Do(func() {
		defer t.callbacks.OnClose(t.Name(), err)

		if t.stream != nil {
			t.stream.Close()
		}
		if t.session != nil {
			t.session.CloseWithError(0, "")
		}
	})
}

func (t *ClientTransport) Close() {
	t.close(nil)
}

// Abort resets the stream instead of closing it gracefully.
func (t *ClientTransport) Abort() {
	if t.stream != nil {
		t.stream.CancelRead(0)
		t.stream.CancelWrite(0)
	}
	t.close(nil)
}
