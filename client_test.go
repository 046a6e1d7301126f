package stomp

import (
	"context"
	"crypto/tls"
	"errors"
	"os"
	"reflect"
	"strconv"
	"testing"
	"time"

	"github.com/quic-go/webtransport-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridge/stomp-go/frame"
	"github.com/ridge/stomp-go/internal/stomptest"
	"github.com/ridge/stomp-go/internal/sync"
	"github.com/ridge/stomp-go/internal/utils"
)

type testSettings struct {
	ID       int `json:"id"`
	SystemID int `json:"systemId"`
}

func durationPtr(d time.Duration) *time.Duration { return &d }

func newTestClient(t *testing.T, config *ClientConfig) *Client {
	if config == nil {
		config = new(ClientConfig)
	}
	if os.Getenv("STOMP_DEBUGGER_PRINT") == "1" {
		config.Debugger = NewPrintDebugger()
	}
	if config.RetryDelay == nil {
		config.RetryDelay = durationPtr(50 * time.Millisecond)
	}
	c := NewClient(context.Background(), config)
	t.Cleanup(c.Close)
	return c
}

func newTestBroker(t *testing.T) (*stomptest.Broker, string) {
	b := stomptest.NewBroker()
	url := stomptest.NewWebSocketServer(t, b)
	return b, url
}

type testSessionHandler struct {
	NoopSessionHandler

	mu              sync.Mutex
	afterConnected  []frame.Header
	frames          []frame.Header
	exceptions      []error
	transportErrors []error
}

func (h *testSessionHandler) AfterConnected(session *Session, headers frame.Header) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.afterConnected = append(h.afterConnected, headers)
}

func (h *testSessionHandler) HandleFrame(headers frame.Header, payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frames = append(h.frames, headers)
}

func (h *testSessionHandler) HandleException(session *Session, command frame.Command, headers frame.Header, payload []byte, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.exceptions = append(h.exceptions, err)
}

func (h *testSessionHandler) HandleTransportError(session *Session, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.transportErrors = append(h.transportErrors, err)
}

func (h *testSessionHandler) counts() (afterConnected, frames, exceptions, transportErrors int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.afterConnected), len(h.frames), len(h.exceptions), len(h.transportErrors)
}

func TestConnect(t *testing.T) {
	b := stomptest.NewBroker()
	connectHeaders := make(chan frame.Header, 1)
	b.OnFrame = func(c *stomptest.Conn, f *frame.Frame) {
		if f.Command == frame.CommandConnect {
			connectHeaders <- f.Header.Clone()
		}
	}
	url := stomptest.NewWebSocketServer(t, b)

	c := newTestClient(t, &ClientConfig{
		ConnectHeaders: map[string]string{"login": "guest", "passcode": "guest"},
	})
	assert.Equal(t, StateDisconnected, c.State())

	handler := new(testSessionHandler)
	s, err := c.Connect(url, handler)
	require.NoError(t, err)

	assert.Equal(t, "session-1", s.ID())
	assert.Equal(t, "1.2", s.Version())
	assert.Equal(t, "stomptest/1.0", s.Server())
	assert.True(t, s.IsConnected())
	assert.Equal(t, StateConnected, c.State())
	assert.True(t, s == c.Session())
	assert.Equal(t, url, c.URL())

	connectHeader, ok := utils.Receive(t, connectHeaders, utils.DefaultTestWaitTimeout)
	require.True(t, ok)
	assert.Equal(t, "1.1,1.2", connectHeader.Get(frame.HeaderAcceptVersion))
	assert.Equal(t, "127.0.0.1", connectHeader.Get(frame.HeaderHost))
	assert.Equal(t, "20000,20000", connectHeader.Get(frame.HeaderHeartBeat))
	assert.Equal(t, "guest", connectHeader.Get(frame.HeaderLogin))
	assert.Equal(t, "guest", connectHeader.Get(frame.HeaderPasscode))

	afterConnected, _, _, transportErrors := handler.counts()
	assert.Equal(t, 1, afterConnected)
	assert.Equal(t, 0, transportErrors)
	assert.Equal(t, "session-1", handler.afterConnected[0].Get(frame.HeaderSession))

	// Connected already: no new handshake.
	s2, err := c.Connect(url, handler)
	require.NoError(t, err)
	assert.True(t, s == s2)
	assert.Equal(t, 1, b.Upgrades())
}

func TestConnectInvalidArguments(t *testing.T) {
	c := newTestClient(t, nil)

	_, err := c.Connect("", NoopSessionHandler{})
	assert.ErrorIs(t, err, ErrEmptyURL)

	_, err = c.Connect("ws://127.0.0.1:1", nil)
	assert.ErrorIs(t, err, ErrNilHandler)

	var connectErr error
	c.OnConnectError(func(err error) { connectErr = err })
	result := c.ConnectAsync("", NoopSessionHandler{})
	s, ok := utils.Receive(t, result, utils.DefaultTestWaitTimeout)
	assert.False(t, ok)
	assert.Nil(t, s)
	assert.ErrorIs(t, connectErr, ErrEmptyURL)
}

func TestConnectRetriesUntilSuccess(t *testing.T) {
	const delay = 200 * time.Millisecond

	b, url := newTestBroker(t)
	b.RejectUpgrades(2)

	c := newTestClient(t, &ClientConfig{RetryDelay: durationPtr(delay)})
	w := c.WatchState()
	defer w.Stop()

	var (
		connectErrors   []error
		connectErrorsMu sync.Mutex
	)
	c.OnConnectError(func(err error) {
		connectErrorsMu.Lock()
		connectErrors = append(connectErrors, err)
		connectErrorsMu.Unlock()
	})

	handler := new(testSessionHandler)
	start := time.Now()
	s, err := c.Connect(url, handler)
	elapsed := time.Since(start)
	require.NoError(t, err)

	assert.True(t, s.IsConnected())
	assert.GreaterOrEqual(t, elapsed, 2*delay)
	assert.Equal(t, 3, b.Upgrades())

	connectErrorsMu.Lock()
	assert.Len(t, connectErrors, 2)
	connectErrorsMu.Unlock()
	_, _, _, transportErrors := handler.counts()
	assert.Equal(t, 2, transportErrors)

	for i := 1; i <= 3; i++ {
		e, ok := utils.Receive(t, w.C(), utils.DefaultTestWaitTimeout)
		require.True(t, ok)
		assert.Equal(t, StateConnecting, e.State)
		assert.Equal(t, i, e.Attempt)
		if i == 1 {
			assert.NoError(t, e.Err)
		} else {
			assert.Error(t, e.Err)
		}
	}
	e, ok := utils.Receive(t, w.C(), utils.DefaultTestWaitTimeout)
	require.True(t, ok)
	assert.Equal(t, StateConnected, e.State)
	assert.Equal(t, s.ID(), e.SessionID)
}

func TestConnectRejectedByServer(t *testing.T) {
	b, url := newTestBroker(t)
	b.RejectConnects(1)

	c := newTestClient(t, nil)
	var connectErr error
	c.OnceConnectError(func(err error) { connectErr = err })

	s, err := c.Connect(url, NoopSessionHandler{})
	require.NoError(t, err)
	assert.Equal(t, "session-1", s.ID())

	var serverErr *ServerError
	if assert.True(t, errors.As(connectErr, &serverErr)) {
		assert.Equal(t, "connection rejected", serverErr.Message)
	}
}

func TestConnectTimeout(t *testing.T) {
	b, url := newTestBroker(t)
	b.IgnoreConnects(true)

	c := newTestClient(t, &ClientConfig{ConnectTimeout: durationPtr(100 * time.Millisecond)})
	tw := utils.NewTestWaiter(2)
	c.OnceConnectError(func(err error) {
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		tw.Done()
	})
	c.OnceConnectError(func(err error) {
		b.IgnoreConnects(false)
		tw.Done()
	})

	s, err := c.Connect(url, NoopSessionHandler{})
	require.NoError(t, err)
	assert.True(t, s.IsConnected())
	tw.WaitTimeout(t, utils.DefaultTestWaitTimeout)
}

func TestDisconnect(t *testing.T) {
	t.Run("sync", func(t *testing.T) {
		b, url := newTestBroker(t)
		c := newTestClient(t, nil)

		_, err := c.Connect(url, NoopSessionHandler{})
		require.NoError(t, err)
		testDisconnect(t, b, c)
	})

	t.Run("async", func(t *testing.T) {
		b, url := newTestBroker(t)
		c := newTestClient(t, nil)

		_, ok := utils.Receive(t, c.ConnectAsync(url, NoopSessionHandler{}), utils.DefaultTestWaitTimeout)
		require.True(t, ok)
		testDisconnect(t, b, c)
	})
}

func testDisconnect(t *testing.T, b *stomptest.Broker, c *Client) {
	w := c.WatchState()
	defer w.Stop()

	reasons := make(chan Reason, 10)
	c.OnDisconnect(func(reason Reason, err error) {
		assert.NoError(t, err)
		reasons <- reason
	})

	s := c.Session()
	require.NoError(t, c.Disconnect())
	assert.Equal(t, StateDisconnected, c.State())
	assert.False(t, s.IsConnected())

	reason, ok := utils.Receive(t, reasons, utils.DefaultTestWaitTimeout)
	require.True(t, ok)
	assert.Equal(t, ReasonClientDisconnect, reason)

	e, _ := utils.Receive(t, w.C(), utils.DefaultTestWaitTimeout)
	assert.Equal(t, StateDisconnecting, e.State)
	e, _ = utils.Receive(t, w.C(), utils.DefaultTestWaitTimeout)
	assert.Equal(t, StateDisconnected, e.State)
	assert.Equal(t, ReasonClientDisconnect, e.Reason)

	// No reconnect follows.
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 1, b.Upgrades())
	assert.Equal(t, StateDisconnected, c.State())
	assert.Equal(t, 0, b.Connections())

	assert.ErrorIs(t, c.Disconnect(), ErrNoActiveSession)
}

func TestAsyncReconnectAfterServerClose(t *testing.T) {
	b, url := newTestBroker(t)
	c := newTestClient(t, nil)

	reasons := make(chan Reason, 10)
	c.OnDisconnect(func(reason Reason, err error) {
		reasons <- reason
	})
	sessions := make(chan *Session, 10)
	c.OnConnect(func(session *Session) {
		sessions <- session
	})

	s1, ok := utils.Receive(t, c.ConnectAsync(url, NoopSessionHandler{}), utils.DefaultTestWaitTimeout)
	require.True(t, ok)
	first, _ := utils.Receive(t, sessions, utils.DefaultTestWaitTimeout)
	assert.True(t, s1 == first)

	b.CloseAll()

	reason, ok := utils.Receive(t, reasons, time.Second)
	require.True(t, ok)
	assert.True(t, recoverableDisconnectReasons.Contains(reason), "reason: %s", reason)

	s2, ok := utils.Receive(t, sessions, utils.DefaultTestWaitTimeout)
	require.True(t, ok)
	assert.False(t, s1 == s2)
	assert.Equal(t, "session-2", s2.ID())
	assert.True(t, s2 == c.Session())
	assert.False(t, s1.IsConnected())
	assert.True(t, s2.IsConnected())

	// Exactly one new cycle.
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 2, b.Upgrades())
	assert.Equal(t, 1, b.Connections())
	assert.Equal(t, StateConnected, c.State())
}

func TestSyncNoAutoReconnect(t *testing.T) {
	b, url := newTestBroker(t)
	c := newTestClient(t, nil)

	assert.Nil(t, c.Reconnect(), "Reconnect must be a no-op before any connect")

	s1, err := c.Connect(url, NoopSessionHandler{})
	require.NoError(t, err)
	assert.Nil(t, c.Reconnect(), "Reconnect must be a no-op while connected")

	b.CloseAll()
	utils.Eventually(t, utils.DefaultTestWaitTimeout, func() bool {
		return c.State() == StateDisconnected
	})
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, b.Upgrades())

	result := c.Reconnect()
	require.NotNil(t, result)
	s2, ok := <-result
	require.True(t, ok)
	assert.False(t, s1 == s2)
	assert.True(t, s2.IsConnected())
	assert.Equal(t, 2, b.Upgrades())

	assert.Nil(t, c.Reconnect())
}

func TestAsyncReconnect(t *testing.T) {
	b, url := newTestBroker(t)
	// The automatic cycle fails once and then waits, so Reconnect finds the session dropped.
	c := newTestClient(t, &ClientConfig{RetryDelay: durationPtr(time.Second)})

	s1, ok := utils.Receive(t, c.ConnectAsync(url, NoopSessionHandler{}), utils.DefaultTestWaitTimeout)
	require.True(t, ok)
	assert.Nil(t, c.Reconnect())

	b.RejectUpgrades(1)
	b.CloseAll()
	utils.Eventually(t, utils.DefaultTestWaitTimeout, func() bool {
		return !s1.IsConnected()
	})

	result := c.Reconnect()
	require.NotNil(t, result)
	s2, ok := utils.Receive(t, result, utils.DefaultTestWaitTimeout)
	require.True(t, ok)
	assert.True(t, s2.IsConnected())
	assert.False(t, s1 == s2)
}

func TestListen(t *testing.T) {
	b, url := newTestBroker(t)
	c := newTestClient(t, nil)

	_, err := Listen[testSettings](c, "/topic/x")
	assert.ErrorIs(t, err, ErrNoActiveSession)

	_, err = c.Connect(url, NoopSessionHandler{})
	require.NoError(t, err)

	l, err := Listen[testSettings](c, "/topic/x")
	require.NoError(t, err)
	assert.Equal(t, "/topic/x", l.Destination())
	other, err := Listen[testSettings](c, "/topic/y")
	require.NoError(t, err)

	utils.Eventually(t, utils.DefaultTestWaitTimeout, func() bool {
		return b.Subscriptions("/topic/x") == 1 && b.Subscriptions("/topic/y") == 1
	})

	n := b.Publish("/topic/x", []byte(`{"id":1,"systemId":22}`), frame.HeaderContentType, "application/json")
	assert.Equal(t, 1, n)

	r, ok := utils.Receive(t, l.C(), utils.DefaultTestWaitTimeout)
	require.True(t, ok)
	require.NoError(t, r.Err)
	assert.Equal(t, testSettings{ID: 1, SystemID: 22}, r.Value)
	assert.Equal(t, "/topic/x", r.Headers.Get(frame.HeaderDestination))

	for i := 0; i < 100; i++ {
		b.Publish("/topic/x", []byte(`{"id":`+strconv.Itoa(i)+`}`))
	}
	for i := 0; i < 100; i++ {
		r, ok := utils.Receive(t, l.C(), utils.DefaultTestWaitTimeout)
		require.True(t, ok)
		require.Equal(t, i, r.Value.ID)
	}

	select {
	case r := <-other.C():
		t.Fatalf("unexpected message on /topic/y: %+v", r)
	default:
	}
}

func TestListenDecodeError(t *testing.T) {
	b, url := newTestBroker(t)
	c := newTestClient(t, nil)

	handler := new(testSessionHandler)
	_, err := c.Connect(url, handler)
	require.NoError(t, err)

	l, err := Listen[testSettings](c, "/topic/x")
	require.NoError(t, err)
	utils.Eventually(t, utils.DefaultTestWaitTimeout, func() bool {
		return b.Subscriptions("/topic/x") == 1
	})

	b.Publish("/topic/x", []byte("not json"))
	b.Publish("/topic/x", []byte(`{"id":2}`))

	r, ok := utils.Receive(t, l.C(), utils.DefaultTestWaitTimeout)
	require.True(t, ok)
	var decodeErr *DecodeError
	if assert.True(t, errors.As(r.Err, &decodeErr)) {
		assert.Equal(t, "/topic/x", decodeErr.Destination)
		assert.Equal(t, reflect.TypeOf(testSettings{}), decodeErr.Type)
		assert.Equal(t, []byte("not json"), decodeErr.Body)
	}
	assert.Equal(t, testSettings{}, r.Value)

	r, ok = utils.Receive(t, l.C(), utils.DefaultTestWaitTimeout)
	require.True(t, ok)
	assert.NoError(t, r.Err)
	assert.Equal(t, 2, r.Value.ID)

	_, _, exceptions, _ := handler.counts()
	assert.Equal(t, 1, exceptions)
}

func TestListenRawBody(t *testing.T) {
	b, url := newTestBroker(t)
	c := newTestClient(t, nil)
	_, err := c.Connect(url, NoopSessionHandler{})
	require.NoError(t, err)

	type text string
	ls, err := Listen[text](c, "/topic/text")
	require.NoError(t, err)
	lb, err := Listen[[]byte](c, "/topic/text")
	require.NoError(t, err)
	utils.Eventually(t, utils.DefaultTestWaitTimeout, func() bool {
		return b.Subscriptions("/topic/text") == 2
	})

	assert.Equal(t, 2, b.Publish("/topic/text", []byte("hello")))

	rs, ok := utils.Receive(t, ls.C(), utils.DefaultTestWaitTimeout)
	require.True(t, ok)
	assert.Equal(t, text("hello"), rs.Value)

	rb, ok := utils.Receive(t, lb.C(), utils.DefaultTestWaitTimeout)
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), rb.Value)
}

func TestListenEndsWithSession(t *testing.T) {
	b, url := newTestBroker(t)
	c := newTestClient(t, nil)
	_, err := c.Connect(url, NoopSessionHandler{})
	require.NoError(t, err)

	l, err := Listen[testSettings](c, "/topic/x")
	require.NoError(t, err)

	b.CloseAll()
	_, ok := utils.Receive(t, l.C(), utils.DefaultTestWaitTimeout)
	assert.False(t, ok)
}

func TestUnsubscribe(t *testing.T) {
	b, url := newTestBroker(t)
	c := newTestClient(t, nil)
	_, err := c.Connect(url, NoopSessionHandler{})
	require.NoError(t, err)

	l, err := Listen[testSettings](c, "/topic/x")
	require.NoError(t, err)
	utils.Eventually(t, utils.DefaultTestWaitTimeout, func() bool {
		return b.Subscriptions("/topic/x") == 1
	})

	require.NoError(t, l.Unsubscribe())
	_, ok := utils.Receive(t, l.C(), utils.DefaultTestWaitTimeout)
	assert.False(t, ok)
	utils.Eventually(t, utils.DefaultTestWaitTimeout, func() bool {
		return b.Subscriptions("/topic/x") == 0
	})
	assert.True(t, b.EverSubscribed("/topic/x"))

	// Twice is fine.
	assert.NoError(t, l.Unsubscribe())
}

func TestSessionSubscribe(t *testing.T) {
	b, url := newTestBroker(t)
	c := newTestClient(t, nil)
	s, err := c.Connect(url, NoopSessionHandler{})
	require.NoError(t, err)

	_, err = s.Subscribe("/topic/x", nil)
	assert.ErrorIs(t, err, ErrNilHandler)

	received := make(chan *testSettings, 1)
	handler := &testFrameHandler{
		payloadType: reflect.TypeOf(&testSettings{}),
		handle: func(headers frame.Header, payload any) {
			received <- payload.(*testSettings)
		},
	}
	sub, err := s.Subscribe("/topic/x", handler)
	require.NoError(t, err)
	assert.Equal(t, "/topic/x", sub.Destination())
	assert.NotEmpty(t, sub.ID())

	utils.Eventually(t, utils.DefaultTestWaitTimeout, func() bool {
		return b.Subscriptions("/topic/x") == 1
	})
	b.Publish("/topic/x", []byte(`{"id":7,"systemId":8}`))

	v, ok := utils.Receive(t, received, utils.DefaultTestWaitTimeout)
	require.True(t, ok)
	assert.Equal(t, &testSettings{ID: 7, SystemID: 8}, v)
}

type testFrameHandler struct {
	payloadType reflect.Type
	handle      func(headers frame.Header, payload any)
}

func (h *testFrameHandler) PayloadType(headers frame.Header) reflect.Type { return h.payloadType }

func (h *testFrameHandler) HandleFrame(headers frame.Header, payload any) {
	h.handle(headers, payload)
}

func TestSessionSend(t *testing.T) {
	b, url := newTestBroker(t)
	c := newTestClient(t, nil)
	s, err := c.Connect(url, NoopSessionHandler{})
	require.NoError(t, err)

	require.NoError(t, s.Send("/app/raw", []byte("hello"), "priority", "9"))
	f, ok := utils.Receive(t, b.Sent(), utils.DefaultTestWaitTimeout)
	require.True(t, ok)
	assert.Equal(t, "/app/raw", f.Header.Get(frame.HeaderDestination))
	assert.Equal(t, "9", f.Header.Get("priority"))
	assert.Equal(t, []byte("hello"), f.Body)

	require.NoError(t, s.SendJSON("/app/settings", testSettings{ID: 1, SystemID: 22}))
	f, ok = utils.Receive(t, b.Sent(), utils.DefaultTestWaitTimeout)
	require.True(t, ok)
	assert.Equal(t, "application/json", f.Header.Get(frame.HeaderContentType))
	assert.JSONEq(t, `{"id":1,"systemId":22}`, string(f.Body))
}

func TestClosedSession(t *testing.T) {
	_, url := newTestBroker(t)
	c := newTestClient(t, nil)
	s, err := c.Connect(url, NoopSessionHandler{})
	require.NoError(t, err)

	require.NoError(t, c.Disconnect())
	select {
	case <-s.Done():
	default:
		t.Fatal("session must be done after Disconnect")
	}

	_, err = s.Subscribe("/topic/x", FrameHandlerFunc(func(headers frame.Header, body []byte) {}))
	assert.ErrorIs(t, err, ErrSessionClosed)
	_, err = ListenSession[testSettings](s, "/topic/x")
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.ErrorIs(t, s.Send("/app/x", nil), ErrSessionClosed)
	assert.ErrorIs(t, s.Disconnect(), ErrSessionClosed)
}

func TestServerErrorFrame(t *testing.T) {
	b, url := newTestBroker(t)
	c := newTestClient(t, nil)

	errs := make(chan error, 1)
	reasons := make(chan Reason, 1)
	c.OnDisconnect(func(reason Reason, err error) {
		reasons <- reason
		errs <- err
	})

	handler := new(testSessionHandler)
	_, err := c.Connect(url, handler)
	require.NoError(t, err)

	b.SendError("boom")

	reason, ok := utils.Receive(t, reasons, utils.DefaultTestWaitTimeout)
	require.True(t, ok)
	assert.Equal(t, ReasonServerError, reason)

	err, _ = utils.Receive(t, errs, utils.DefaultTestWaitTimeout)
	var serverErr *ServerError
	if assert.True(t, errors.As(err, &serverErr)) {
		assert.Equal(t, "boom", serverErr.Message)
		assert.Equal(t, "stomp: server error: boom", serverErr.Error())
	}

	_, frames, _, _ := handler.counts()
	assert.Equal(t, 1, frames)
	assert.Equal(t, "boom", handler.frames[0].Get(frame.HeaderMessage))
}

func TestHeartbeatTimeout(t *testing.T) {
	b := stomptest.NewBroker()
	// The broker promises heart-beats it never sends.
	b.Heartbeat = "100,0"
	url := stomptest.NewWebSocketServer(t, b)

	c := newTestClient(t, &ClientConfig{
		HeartbeatOutgoing:    durationPtr(0),
		HeartbeatIncoming:    durationPtr(100 * time.Millisecond),
		LivenessPollInterval: durationPtr(50 * time.Millisecond),
	})
	reasons := make(chan Reason, 1)
	c.OnDisconnect(func(reason Reason, err error) {
		assert.ErrorIs(t, err, ErrHeartbeatTimeout)
		reasons <- reason
	})

	start := time.Now()
	s, err := c.Connect(url, NoopSessionHandler{})
	require.NoError(t, err)

	send, receive := s.Heartbeat()
	assert.Equal(t, time.Duration(0), send)
	assert.Equal(t, 100*time.Millisecond, receive)

	reason, ok := utils.Receive(t, reasons, utils.DefaultTestWaitTimeout)
	require.True(t, ok)
	assert.Contains(t, []Reason{ReasonHeartbeatTimeout, ReasonLivenessLost}, reason)
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
	assert.False(t, s.IsConnected())
}

func TestHeartbeatTimeoutHungPeer(t *testing.T) {
	b := stomptest.NewBroker()
	b.Heartbeat = "100,0"
	// The broker neither reads nor writes after CONNECTED,
	// so a closing handshake would never complete.
	b.Hang(true)
	url := stomptest.NewWebSocketServer(t, b)

	c := newTestClient(t, &ClientConfig{
		HeartbeatOutgoing:    durationPtr(0),
		HeartbeatIncoming:    durationPtr(100 * time.Millisecond),
		LivenessPollInterval: durationPtr(50 * time.Millisecond),
	})
	// Runs before the client is closed.
	t.Cleanup(func() {
		b.Hang(false)
		b.CloseAll()
	})
	disconnected := make(chan time.Time, 10)
	c.OnDisconnect(func(reason Reason, err error) {
		select {
		case disconnected <- time.Now():
		default:
		}
	})
	connected := make(chan time.Time, 10)
	c.OnConnect(func(session *Session) {
		select {
		case connected <- time.Now():
		default:
		}
	})

	_, ok := utils.Receive(t, c.ConnectAsync(url, NoopSessionHandler{}), utils.DefaultTestWaitTimeout)
	require.True(t, ok)
	first, ok := utils.Receive(t, connected, utils.DefaultTestWaitTimeout)
	require.True(t, ok)

	lost, ok := utils.Receive(t, disconnected, utils.DefaultTestWaitTimeout)
	require.True(t, ok)
	assert.Less(t, lost.Sub(first), 1500*time.Millisecond)

	// The next cycle starts right away.
	second, ok := utils.Receive(t, connected, utils.DefaultTestWaitTimeout)
	require.True(t, ok)
	assert.Less(t, second.Sub(lost), time.Second)
}

func TestOversizedContentLength(t *testing.T) {
	b, url := newTestBroker(t)
	c := newTestClient(t, nil)

	errs := make(chan error, 1)
	reasons := make(chan Reason, 1)
	c.OnDisconnect(func(reason Reason, err error) {
		reasons <- reason
		errs <- err
	})

	_, err := c.Connect(url, NoopSessionHandler{})
	require.NoError(t, err)
	l, err := Listen[testSettings](c, "/topic/x")
	require.NoError(t, err)
	utils.Eventually(t, utils.DefaultTestWaitTimeout, func() bool {
		return b.Subscriptions("/topic/x") == 1
	})

	b.Publish("/topic/x", []byte(`{"id":1}`), frame.HeaderContentLength, "9000000000000000000")

	reason, ok := utils.Receive(t, reasons, utils.DefaultTestWaitTimeout)
	require.True(t, ok)
	assert.Equal(t, ReasonTransportError, reason)
	err, _ = utils.Receive(t, errs, utils.DefaultTestWaitTimeout)
	assert.ErrorIs(t, err, frame.ErrFrameTooLarge)

	// No message was delivered and the listener ended with the session.
	_, ok = utils.Receive(t, l.C(), utils.DefaultTestWaitTimeout)
	assert.False(t, ok)
}

func TestWatchState(t *testing.T) {
	_, url := newTestBroker(t)
	c := newTestClient(t, nil)

	w1 := c.WatchState()
	w2 := c.WatchState()

	s, err := c.Connect(url, NoopSessionHandler{})
	require.NoError(t, err)
	require.NoError(t, c.Disconnect())

	expected := []State{StateConnecting, StateConnected, StateDisconnecting, StateDisconnected}
	for _, w := range []*StateWatcher{w1, w2} {
		for _, state := range expected {
			e, ok := utils.Receive(t, w.C(), utils.DefaultTestWaitTimeout)
			require.True(t, ok)
			assert.Equal(t, state, e.State)
			if state != StateConnecting {
				assert.Equal(t, s.ID(), e.SessionID)
			}
		}
	}

	w1.Stop()
	_, ok := utils.Receive(t, w1.C(), utils.DefaultTestWaitTimeout)
	assert.False(t, ok)

	c.Close()
	_, ok = utils.Receive(t, w2.C(), utils.DefaultTestWaitTimeout)
	assert.False(t, ok)
}

func TestClose(t *testing.T) {
	b, url := newTestBroker(t)
	c := newTestClient(t, nil)

	_, ok := utils.Receive(t, c.ConnectAsync(url, NoopSessionHandler{}), utils.DefaultTestWaitTimeout)
	require.True(t, ok)

	c.Close()
	assert.Equal(t, StateDisconnected, c.State())
	utils.Eventually(t, utils.DefaultTestWaitTimeout, func() bool {
		return b.Connections() == 0
	})

	_, err := c.Connect(url, NoopSessionHandler{})
	assert.ErrorIs(t, err, ErrClientClosed)
	_, ok = utils.Receive(t, c.ConnectAsync(url, NoopSessionHandler{}), utils.DefaultTestWaitTimeout)
	assert.False(t, ok)

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, b.Upgrades())
}

func TestCloseDuringRetry(t *testing.T) {
	b, url := newTestBroker(t)
	b.RejectUpgrades(1000)

	ctx, cancel := context.WithCancel(context.Background())
	c := NewClient(ctx, &ClientConfig{RetryDelay: durationPtr(20 * time.Millisecond)})
	defer c.Close()

	tw := utils.NewTestWaiter(1)
	c.OnceConnectError(func(err error) { tw.Done() })

	errs := make(chan error, 1)
	go func() {
		_, err := c.Connect(url, NoopSessionHandler{})
		errs <- err
	}()

	tw.WaitTimeout(t, utils.DefaultTestWaitTimeout)
	cancel()

	err, ok := utils.Receive(t, errs, utils.DefaultTestWaitTimeout)
	require.True(t, ok)
	assert.ErrorIs(t, err, ErrClientClosed)
	assert.Equal(t, StateDisconnected, c.State())
}

func TestDisconnectAbortsConnectCycle(t *testing.T) {
	b, url := newTestBroker(t)
	b.RejectUpgrades(1000)

	c := newTestClient(t, nil)
	tw := utils.NewTestWaiter(1)
	c.OnceConnectError(func(err error) { tw.Done() })

	result := c.ConnectAsync(url, NoopSessionHandler{})
	tw.WaitTimeout(t, utils.DefaultTestWaitTimeout)
	assert.Equal(t, StateConnecting, c.State())

	require.NoError(t, c.Disconnect())
	_, ok := utils.Receive(t, result, utils.DefaultTestWaitTimeout)
	assert.False(t, ok)
	assert.Equal(t, StateDisconnected, c.State())
}

func TestWebTransport(t *testing.T) {
	b := stomptest.NewBroker()
	url := stomptest.NewWebTransportServer(t, b)

	c := newTestClient(t, &ClientConfig{
		Transport: TransportWebTransport,
		WebTransportDialer: &webtransport.Dialer{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: true,
			},
		},
	})

	s, err := c.Connect(url, NoopSessionHandler{})
	require.NoError(t, err)
	assert.Equal(t, "session-1", s.ID())

	l, err := Listen[testSettings](c, "/topic/x")
	require.NoError(t, err)
	utils.Eventually(t, utils.DefaultTestWaitTimeout, func() bool {
		return b.Subscriptions("/topic/x") == 1
	})
	b.Publish("/topic/x", []byte(`{"id":1,"systemId":22}`))

	r, ok := utils.Receive(t, l.C(), utils.DefaultTestWaitTimeout)
	require.True(t, ok)
	assert.Equal(t, testSettings{ID: 1, SystemID: 22}, r.Value)

	require.NoError(t, c.Disconnect())
	assert.Equal(t, StateDisconnected, c.State())
}

func TestUnknownTransport(t *testing.T) {
	_, url := newTestBroker(t)
	c := newTestClient(t, &ClientConfig{Transport: "carrier-pigeon"})

	tw := utils.NewTestWaiter(1)
	c.OnceConnectError(func(err error) {
		assert.ErrorIs(t, err, ErrUnknownTransport)
		tw.Done()
	})
	result := c.ConnectAsync(url, NoopSessionHandler{})
	tw.WaitTimeout(t, utils.DefaultTestWaitTimeout)

	c.Close()
	_, ok := utils.Receive(t, result, utils.DefaultTestWaitTimeout)
	assert.False(t, ok)
}
