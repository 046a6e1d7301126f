package websocket

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/url"
	"unicode/utf8"

	"github.com/ridge/stomp-go/frame"
	"github.com/ridge/stomp-go/internal/sync"
	"github.com/ridge/stomp-go/transport"
	"nhooyr.io/websocket"
)

// Subprotocols offered during the upgrade, most preferred first.
var Subprotocols = []string{"v12.stomp", "v11.stomp", "v10.stomp"}

const DefaultReadLimit = 1 << 20

var expectedCloseCodes = []websocket.StatusCode{
	websocket.StatusNormalClosure,
	websocket.StatusGoingAway,
}

type ClientTransport struct {
	url           *url.URL
	requestHeader *transport.RequestHeader
	readLimit     int64

	dialOptions *websocket.DialOptions
	conn        *websocket.Conn
	writeMu     sync.Mutex

	// Used for reads and writes after the upgrade. Cancelled on close.
	ctx    context.Context
	cancel context.CancelFunc

	callbacks *transport.Callbacks

	once sync.Once
}

func NewClientTransport(
	callbacks *transport.Callbacks,
	url url.URL,
	requestHeader *transport.RequestHeader,
	dialOptions *websocket.DialOptions,
	readLimit int64,
) *ClientTransport {
	if readLimit <= 0 {
		readLimit = DefaultReadLimit
	}
	if requestHeader == nil {
		requestHeader = transport.NewRequestHeader(nil)
	}
	return &ClientTransport{
		url:           &url,
		requestHeader: requestHeader,
		readLimit:     readLimit,

		callbacks: callbacks,

		dialOptions: dialOptions,
	}
}

func (t *ClientTransport) Name() string { return "websocket" }

func (t *ClientTransport) Dial(ctx context.Context) (err error) {
	var opts websocket.DialOptions
	if t.dialOptions != nil {
		opts = *t.dialOptions
	}
	header := t.requestHeader.Header()
	for k, v := range opts.HTTPHeader {
		header[k] = v
	}
	opts.HTTPHeader = header
	if len(opts.Subprotocols) == 0 {
		opts.Subprotocols = Subprotocols
	}

	t.conn, _, err = websocket.Dial(ctx, t.url.String(), &opts)
	if err != nil {
		return err
	}
	t.conn.SetReadLimit(t.readLimit)
	t.ctx, t.cancel = context.WithCancel(context.Background())
	return nil
}

func (t *ClientTransport) Run() {
	for {
		_, data, err := t.conn.Read(t.ctx)
		if err != nil {
			t.close(err, false)
			return
		}
		if len(data) == 0 {
			t.callbacks.OnHeartbeat()
			continue
		}

		// A message usually carries one frame, but brokers may
		// append heart-beats or batch several frames.
		r := frame.NewReader(bytes.NewReader(data))
		r.MaxFrameSize = int(t.readLimit)
		for {
			f, err := r.Read()
			if err == io.EOF {
				break
			} else if err != nil {
				t.close(err, false)
				return
			}
			if f == nil {
				t.callbacks.OnHeartbeat()
				continue
			}
			t.callbacks.OnFrame(f)
		}
	}
}

func (t *ClientTransport) Send(frames ...*frame.Frame) error {
	err := t.send(frames...)
	if err != nil && !errors.Is(err, frame.ErrInvalidCommand) {
		t.close(err, false)
	}
	return err
}

func (t *ClientTransport) send(frames ...*frame.Frame) error {
	// Write must not be called concurrently.
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	for _, f := range frames {
		data, err := f.Bytes()
		if err != nil {
			return err
		}
		mt := websocket.MessageText
		if !utf8.Valid(data) {
			mt = websocket.MessageBinary
		}
		err = t.conn.Write(t.ctx, mt, data)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *ClientTransport) SendHeartbeat() error {
	t.writeMu.Lock()
	err := t.conn.Write(t.ctx, websocket.MessageText, frame.EOL)
	t.writeMu.Unlock()
	if err != nil {
		t.close(err, false)
	}
	return err
}

// close ends the connection once. Unless now is set, the
// closing handshake is attempted, which waits for the peer.
func (t *ClientTransport) close(err error, now bool) {
	t.once.Do(func() {
		status := websocket.CloseStatus(err)
		for _, expected := range expectedCloseCodes {
			if status == expected {
				err = nil
				break
			}
		}

		defer t.callbacks.OnClose(t.Name(), err)

		if t.conn != nil {
			if now {
				t.conn.CloseNow()
			} else {
				t.conn.Close(websocket.StatusNormalClosure, "")
			}
		}
		if t.cancel != nil {
			t.cancel()
		}
	})
}

func (t *ClientTransport) Close() {
	t.close(nil, false)
}

func (t *ClientTransport) Abort() {
	t.close(nil, true)
}
