package stomptest

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/quic-go/webtransport-go"

	"github.com/ridge/stomp-go/frame"
	"github.com/ridge/stomp-go/internal/sync"
)

// Conn is a client connection of the broker.
type Conn struct {
	broker *Broker
	rw     frameReadWriter

	mu            sync.Mutex
	subs          map[string]string // subscription id -> destination
	sessionID     string
	connectHeader frame.Header

	connected atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

func (c *Conn) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// ConnectHeader returns the header of the CONNECT frame sent by the client.
func (c *Conn) ConnectHeader() frame.Header {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectHeader.Clone()
}

func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.connected.Store(false)
		c.rw.close()
		close(c.done)
	})
}

func (c *Conn) write(f *frame.Frame) error {
	return c.rw.writeFrame(f)
}

func (c *Conn) serve() {
	defer c.Close()
	c.rw.readFrames(c.handle)
}

func (c *Conn) handle(f *frame.Frame) {
	b := c.broker
	if b.OnFrame != nil {
		b.OnFrame(c, f)
	}

	switch f.Command {
	case frame.CommandConnect, frame.CommandStomp:
		c.mu.Lock()
		c.connectHeader = f.Header.Clone()
		c.mu.Unlock()

		if b.ignoreConnect.Load() {
			return
		}
		if b.rejectConnect.Load() > 0 {
			b.rejectConnect.Add(-1)
			c.write(frame.New(frame.CommandError, frame.HeaderMessage, "connection rejected"))
			c.Close()
			return
		}

		id := b.nextSessionID()
		c.mu.Lock()
		c.sessionID = id
		c.mu.Unlock()
		c.write(frame.New(frame.CommandConnected,
			frame.HeaderVersion, "1.2",
			frame.HeaderSession, id,
			frame.HeaderServer, "stomptest/1.0",
			frame.HeaderHeartBeat, b.Heartbeat,
		))
		c.connected.Store(true)
		if b.hang.Load() {
			<-c.done
		}
		return

	case frame.CommandSubscribe:
		destination := f.Header.Get(frame.HeaderDestination)
		c.mu.Lock()
		c.subs[f.Header.Get(frame.HeaderID)] = destination
		c.mu.Unlock()
		b.subscribed.Add(destination)

	case frame.CommandUnsubscribe:
		c.mu.Lock()
		delete(c.subs, f.Header.Get(frame.HeaderID))
		c.mu.Unlock()

	case frame.CommandSend:
		select {
		case b.sent <- f:
		default:
		}

	case frame.CommandDisconnect:
		if receipt, ok := f.Header.Lookup(frame.HeaderReceipt); ok {
			c.write(frame.New(frame.CommandReceipt, frame.HeaderReceiptID, receipt))
		}
		c.Close()
		return
	}

	if receipt, ok := f.Header.Lookup(frame.HeaderReceipt); ok {
		c.write(frame.New(frame.CommandReceipt, frame.HeaderReceiptID, receipt))
	}
}

type frameReadWriter interface {
	// readFrames calls handle for every frame until the connection ends.
	readFrames(handle func(f *frame.Frame)) error
	writeFrame(f *frame.Frame) error
	close() error
}

type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func acceptWebSocket(upgrader *websocket.Upgrader, w http.ResponseWriter, r *http.Request) (*wsConn, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return &wsConn{conn: conn}, nil
}

func (c *wsConn) readFrames(handle func(f *frame.Frame)) error {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		frames, _, err := frame.Parse(data)
		if err != nil {
			return err
		}
		for _, f := range frames {
			handle(f)
		}
	}
}

func (c *wsConn) writeFrame(f *frame.Frame) error {
	data, err := f.Bytes()
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) close() error {
	c.writeMu.Lock()
	c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()
	return c.conn.Close()
}

type wtConn struct {
	session *webtransport.Session
	stream  webtransport.Stream
	writeMu sync.Mutex
}

func acceptWebTransport(server *webtransport.Server, w http.ResponseWriter, r *http.Request) (*wtConn, error) {
	session, err := server.Upgrade(w, r)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stream, err := session.AcceptStream(ctx)
	if err != nil {
		session.CloseWithError(0, "")
		return nil, err
	}
	return &wtConn{session: session, stream: stream}, nil
}

func (c *wtConn) readFrames(handle func(f *frame.Frame)) error {
	r := frame.NewReader(c.stream)
	for {
		f, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		} else if err != nil {
			return err
		}
		if f != nil {
			handle(f)
		}
	}
}

func (c *wtConn) writeFrame(f *frame.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return f.Encode(c.stream)
}

func (c *wtConn) close() error {
	c.stream.Close()
	return c.session.CloseWithError(0, "")
}
