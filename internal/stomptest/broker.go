// Package stomptest provides an in-process STOMP broker for tests.
//
// The broker keeps no queues: a published message is delivered to the
// subscriptions that exist at the time of publishing.
package stomptest

import (
	"net/http"
	"strconv"
	"sync/atomic"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorilla/websocket"
	"github.com/quic-go/webtransport-go"

	"github.com/ridge/stomp-go/frame"
	"github.com/ridge/stomp-go/internal/sync"
)

type Broker struct {
	// Value of the heart-beat header of CONNECTED frames.
	// The broker never sends heart-beats itself.
	//
	// Default: "0,0"
	Heartbeat string

	// Called with every frame received from a client, before it is handled.
	OnFrame func(c *Conn, f *frame.Frame)

	upgrader websocket.Upgrader
	wtServer *webtransport.Server

	conns   map[*Conn]struct{}
	connsMu sync.Mutex

	subscribed mapset.Set[string]
	sent       chan *frame.Frame

	upgrades      atomic.Int32
	rejectUpgrade atomic.Int32
	rejectConnect atomic.Int32
	ignoreConnect atomic.Bool
	hang          atomic.Bool
	sessionID     atomic.Uint64
	messageID     atomic.Uint64
}

func NewBroker() *Broker {
	return &Broker{
		Heartbeat: "0,0",
		upgrader: websocket.Upgrader{
			Subprotocols: []string{"v12.stomp", "v11.stomp", "v10.stomp"},
			CheckOrigin:  func(r *http.Request) bool { return true },
		},
		conns:      make(map[*Conn]struct{}),
		subscribed: mapset.NewSet[string](),
		sent:       make(chan *frame.Frame, 1024),
	}
}

// ServeHTTP upgrades the request to a WebSocket connection, or to a
// WebTransport session when served over HTTP/3.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.upgrades.Add(1)
	if b.rejectUpgrade.Load() > 0 {
		b.rejectUpgrade.Add(-1)
		http.Error(w, "upgrade rejected", http.StatusServiceUnavailable)
		return
	}

	var (
		rw  frameReadWriter
		err error
	)
	if r.ProtoMajor == 3 && b.wtServer != nil {
		rw, err = acceptWebTransport(b.wtServer, w, r)
	} else {
		rw, err = acceptWebSocket(&b.upgrader, w, r)
	}
	if err != nil {
		return
	}

	c := &Conn{broker: b, rw: rw, subs: make(map[string]string), done: make(chan struct{})}
	b.connsMu.Lock()
	b.conns[c] = struct{}{}
	b.connsMu.Unlock()

	c.serve()

	b.connsMu.Lock()
	delete(b.conns, c)
	b.connsMu.Unlock()
}

// Upgrades returns the number of upgrade requests received so far, rejected ones included.
func (b *Broker) Upgrades() int {
	return int(b.upgrades.Load())
}

// RejectUpgrades makes the next n upgrade requests fail with 503.
func (b *Broker) RejectUpgrades(n int) {
	b.rejectUpgrade.Store(int32(n))
}

// RejectConnects makes the broker answer the next n CONNECT frames with ERROR.
func (b *Broker) RejectConnects(n int) {
	b.rejectConnect.Store(int32(n))
}

// IgnoreConnects makes the broker leave CONNECT frames unanswered.
func (b *Broker) IgnoreConnects(ignore bool) {
	b.ignoreConnect.Store(ignore)
}

// Hang makes the broker stop serving a connection once it sent CONNECTED.
// The connection is neither read nor written until it is closed by the broker.
func (b *Broker) Hang(hang bool) {
	b.hang.Store(hang)
}

// Sent delivers the SEND frames received from clients.
func (b *Broker) Sent() <-chan *frame.Frame {
	return b.sent
}

// Connections returns the number of connections that completed the STOMP handshake.
func (b *Broker) Connections() int {
	n := 0
	b.forEachConn(func(c *Conn) {
		if c.connected.Load() {
			n++
		}
	})
	return n
}

// Subscriptions returns the number of live subscriptions to destination.
func (b *Broker) Subscriptions(destination string) int {
	n := 0
	b.forEachConn(func(c *Conn) {
		c.mu.Lock()
		for _, d := range c.subs {
			if d == destination {
				n++
			}
		}
		c.mu.Unlock()
	})
	return n
}

// EverSubscribed reports whether any client ever subscribed to destination.
func (b *Broker) EverSubscribed(destination string) bool {
	return b.subscribed.Contains(destination)
}

// Publish sends a MESSAGE to every subscription of destination
// and returns the number of deliveries.
func (b *Broker) Publish(destination string, body []byte, headers ...string) int {
	n := 0
	b.forEachConn(func(c *Conn) {
		c.mu.Lock()
		var ids []string
		for id, d := range c.subs {
			if d == destination {
				ids = append(ids, id)
			}
		}
		c.mu.Unlock()

		for _, id := range ids {
			f := frame.New(frame.CommandMessage,
				frame.HeaderDestination, destination,
				frame.HeaderSubscription, id,
				frame.HeaderMessageID, strconv.FormatUint(b.messageID.Add(1), 10),
			)
			for i := 0; i+1 < len(headers); i += 2 {
				f.Header.Set(headers[i], headers[i+1])
			}
			f.Body = body
			if c.write(f) == nil {
				n++
			}
		}
	})
	return n
}

// SendError sends an ERROR frame to every client and closes the connections.
func (b *Broker) SendError(message string) {
	b.forEachConn(func(c *Conn) {
		c.write(frame.New(frame.CommandError, frame.HeaderMessage, message))
		c.Close()
	})
}

// CloseAll drops every connection without a STOMP goodbye.
func (b *Broker) CloseAll() {
	b.forEachConn(func(c *Conn) {
		c.Close()
	})
}

func (b *Broker) forEachConn(f func(c *Conn)) {
	b.connsMu.Lock()
	conns := make([]*Conn, 0, len(b.conns))
	for c := range b.conns {
		conns = append(conns, c)
	}
	b.connsMu.Unlock()

	for _, c := range conns {
		f(c)
	}
}

func (b *Broker) nextSessionID() string {
	return "session-" + strconv.FormatUint(b.sessionID.Add(1), 10)
}
