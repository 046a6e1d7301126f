package stomp

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/quic-go/webtransport-go"
	"github.com/ridge/stomp-go/internal/sync"
	"github.com/ridge/stomp-go/serializer"
	"github.com/ridge/stomp-go/serializer/stdjson"
	"github.com/ridge/stomp-go/transport"
	"github.com/tomruk/yeast"
	"nhooyr.io/websocket"
)

const (
	TransportWebSocket    = "websocket"
	TransportWebTransport = "webtransport"
)

type (
	ClientConfig struct {
		// TransportWebSocket or TransportWebTransport.
		//
		// Default: TransportWebSocket
		Transport string

		// Options for the WebSocket upgrade. The subprotocols
		// default to v12.stomp, v11.stomp and v10.stomp.
		WebSocketDialOptions *websocket.DialOptions

		// Dialer for the WebTransport session.
		WebTransportDialer *webtransport.Dialer

		// Sent with the HTTP upgrade request.
		RequestHeader http.Header

		// Value of the host header of the CONNECT frame.
		//
		// Default: host name of the URL
		Host string

		// Extra headers of the CONNECT frame, such as login and passcode.
		// Either a struct with `stomp` tags or a map with string keys.
		ConnectHeaders any

		// Interval at which the client sends heart-beats. 0 disables them.
		//
		// Default: 20 seconds
		HeartbeatOutgoing *time.Duration

		// Interval at which the client wants to receive heart-beats. 0 disables them.
		// The session is considered dead after three intervals without data.
		//
		// Default: 20 seconds
		HeartbeatIncoming *time.Duration

		// The fixed delay between connection attempts.
		//
		// Default: 5 seconds
		RetryDelay *time.Duration

		// How often the supervisor checks whether the session is still alive.
		// Transport closes are detected immediately regardless. 0 disables polling.
		//
		// Default: 1 second
		LivenessPollInterval *time.Duration

		// Time allowed for the upgrade and the CONNECTED frame.
		//
		// Default: 10 seconds
		ConnectTimeout *time.Duration

		// How long Disconnect waits for the broker to acknowledge DISCONNECT.
		//
		// Default: 2 seconds
		DisconnectReceiptTimeout *time.Duration

		// Maximum size of an inbound frame.
		//
		// Default: 1 MiB
		MaxFrameSize int

		// Used for decoding message bodies and SendJSON.
		//
		// Default: stdjson
		Serializer serializer.JSONSerializer

		// For debugging purposes. Leave it nil if it is of no use.
		Debugger Debugger
	}

	// Client keeps at most one STOMP session open, and opens a new one
	// after the session drops when it was connected with ConnectAsync.
	Client struct {
		ctx    context.Context
		cancel context.CancelFunc

		transportName        string
		webSocketDialOptions *websocket.DialOptions
		webTransportDialer   *webtransport.Dialer
		requestHeader        *transport.RequestHeader
		host                 string
		connectHeaders       *ConnectHeaders
		heartbeatOutgoing    time.Duration
		heartbeatIncoming    time.Duration
		livenessPollInterval time.Duration
		connectTimeout       time.Duration
		receiptTimeout       time.Duration
		maxFrameSize         int

		json    serializer.JSONSerializer
		debug   Debugger
		yeaster *yeast.Yeaster
		backoff *backoff

		// Serializes connect cycles.
		connectMu sync.Mutex

		stateMu         sync.RWMutex
		state           State
		handler         SessionHandler
		session         *Session
		async           bool
		forceDisconnect bool

		url atomic.Value

		cycles         []*connectCycle
		cyclesMu       sync.Mutex
		cyclesReady    chan struct{}
		cyclesClosed   bool
		supervisorDone chan struct{}

		watchers *stateWatchers

		connectHandlers      *handlerStore[*ConnectFunc]
		disconnectHandlers   *handlerStore[*DisconnectFunc]
		connectErrorHandlers *handlerStore[*ConnectErrorFunc]
	}
)

const (
	DefaultHeartbeatOutgoing        = 20 * time.Second
	DefaultHeartbeatIncoming        = 20 * time.Second
	DefaultRetryDelay               = 5 * time.Second
	DefaultLivenessPollInterval     = 1 * time.Second
	DefaultConnectTimeout           = 10 * time.Second
	DefaultDisconnectReceiptTimeout = 2 * time.Second
	DefaultMaxFrameSize             = 1 << 20
)

// NewClient creates a client in StateDisconnected. The client runs until ctx
// is cancelled or Close is called.
func NewClient(ctx context.Context, config *ClientConfig) *Client {
	if config == nil {
		config = new(ClientConfig)
	} else {
		// User can modify the config. We copy the config here in order to avoid problems.
		c := *config
		config = &c
	}

	ctx, cancel := context.WithCancel(ctx)
	c := &Client{
		ctx:    ctx,
		cancel: cancel,

		transportName:        config.Transport,
		webSocketDialOptions: config.WebSocketDialOptions,
		webTransportDialer:   config.WebTransportDialer,
		requestHeader:        transport.NewRequestHeader(config.RequestHeader),
		host:                 config.Host,
		connectHeaders:       newConnectHeaders(),
		maxFrameSize:         config.MaxFrameSize,

		json:    config.Serializer,
		yeaster: yeast.New(),

		cyclesReady:    make(chan struct{}, 1),
		supervisorDone: make(chan struct{}),

		watchers: newStateWatchers(),

		connectHandlers:      newHandlerStore[*ConnectFunc](),
		disconnectHandlers:   newHandlerStore[*DisconnectFunc](),
		connectErrorHandlers: newHandlerStore[*ConnectErrorFunc](),
	}
	c.url.Store("")

	if c.transportName == "" {
		c.transportName = TransportWebSocket
	}
	if c.json == nil {
		c.json = stdjson.New()
	}
	if c.maxFrameSize <= 0 {
		c.maxFrameSize = DefaultMaxFrameSize
	}

	if config.Debugger != nil {
		c.debug = config.Debugger
	} else {
		c.debug = NewNoopDebugger()
	}
	c.debug = c.debug.WithDynamicContext("[stomp] Client with URL", func() string {
		return truncateURL(c.URL())
	})

	c.heartbeatOutgoing = durationOrDefault(config.HeartbeatOutgoing, DefaultHeartbeatOutgoing)
	c.heartbeatIncoming = durationOrDefault(config.HeartbeatIncoming, DefaultHeartbeatIncoming)
	c.livenessPollInterval = durationOrDefault(config.LivenessPollInterval, DefaultLivenessPollInterval)
	c.connectTimeout = durationOrDefault(config.ConnectTimeout, DefaultConnectTimeout)
	c.receiptTimeout = durationOrDefault(config.DisconnectReceiptTimeout, DefaultDisconnectReceiptTimeout)
	c.backoff = newBackoff(durationOrDefault(config.RetryDelay, DefaultRetryDelay))

	err := c.connectHeaders.Set(config.ConnectHeaders)
	if err != nil {
		c.debug.Log("Ignoring ConnectHeaders", err)
	}

	go c.supervise()
	return c
}

func durationOrDefault(d *time.Duration, def time.Duration) time.Duration {
	if d != nil {
		return *d
	}
	return def
}

// URL of the current, or the last, connect cycle.
func (c *Client) URL() string {
	return c.url.Load().(string)
}

func (c *Client) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// Session returns the current session. It may be closed already,
// or nil if the client never connected.
func (c *Client) Session() *Session {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.session
}

func (c *Client) RequestHeader() *transport.RequestHeader {
	return c.requestHeader
}

// SetConnectHeaders replaces the extra CONNECT headers used from the next connect attempt on.
func (c *Client) SetConnectHeaders(v any) error {
	return c.connectHeaders.Set(v)
}

// WatchState returns a watcher receiving every state transition from now on.
func (c *Client) WatchState() *StateWatcher {
	return c.watchers.add()
}

// Close disconnects the session, stops every connect cycle and waits
// for the background goroutine to exit. Every later connect fails with ErrClientClosed.
func (c *Client) Close() {
	c.cancel()
	<-c.supervisorDone
}

// supervise runs the asynchronous connect cycles one after another
// and polls the liveness of the session.
func (c *Client) supervise() {
	defer close(c.supervisorDone)
	defer c.shutdown()

	var poll <-chan time.Time
	if c.livenessPollInterval > 0 {
		ticker := time.NewTicker(c.livenessPollInterval)
		defer ticker.Stop()
		poll = ticker.C
	}

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.cyclesReady:
			for _, cycle := range c.takeCycles() {
				c.runCycle(cycle)
			}
		case <-poll:
			c.pollLiveness()
		}
	}
}

func (c *Client) shutdown() {
	c.cyclesMu.Lock()
	pending := c.cycles
	c.cycles = nil
	c.cyclesClosed = true
	c.cyclesMu.Unlock()
	for _, cycle := range pending {
		if cycle.result != nil {
			close(cycle.result)
		}
	}

	c.stateMu.Lock()
	c.forceDisconnect = true
	s := c.session
	c.stateMu.Unlock()
	if s != nil {
		s.Disconnect()
	}

	c.watchers.close()
	c.debug.Log("Client closed")
}

func (c *Client) pollLiveness() {
	s := c.Session()
	if s == nil || s.closed.Load() || s.alive() {
		return
	}
	c.debug.Log("Session is no longer alive", s.ID())
	s.close(ReasonLivenessLost, ErrHeartbeatTimeout, true)
}
