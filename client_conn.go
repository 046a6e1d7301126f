package stomp

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/ridge/stomp-go/transport"
	wttransport "github.com/ridge/stomp-go/transport/webtransport"
	wstransport "github.com/ridge/stomp-go/transport/websocket"
)

// Client methods that are directly related to
// connection, reconnection, and disconnection functionalities.

type connectCycle struct {
	url     string
	handler SessionHandler
	// Receives the session, then gets closed. May be nil.
	result chan *Session
}

func (c *Client) validate(url string, handler SessionHandler) error {
	switch {
	case c.ctx.Err() != nil:
		return ErrClientClosed
	case url == "":
		return ErrEmptyURL
	case handler == nil:
		return ErrNilHandler
	}
	return nil
}

// Connect blocks until a session is established, retrying at a fixed
// delay for as long as it takes. It only fails if the arguments are
// invalid, the client is closed, or Disconnect is called meanwhile.
//
// If a session is already connected, it is returned as is.
func (c *Client) Connect(url string, handler SessionHandler) (*Session, error) {
	err := c.validate(url, handler)
	if err != nil {
		return nil, err
	}
	c.stateMu.Lock()
	c.async = false
	c.stateMu.Unlock()
	return c.connect(url, handler)
}

// ConnectAsync runs the connect cycle in the background. The returned channel
// receives the established session and is then closed. It is closed without a
// value if the arguments are invalid or the cycle does not succeed.
//
// After this call, the client connects again each time the session drops,
// unless the drop was caused by Disconnect.
func (c *Client) ConnectAsync(url string, handler SessionHandler) <-chan *Session {
	result := make(chan *Session, 1)
	err := c.validate(url, handler)
	if err != nil {
		c.debug.Log("ConnectAsync", err)
		c.connectErrorHandlers.forEach(func(handler *ConnectErrorFunc) { (*handler)(err) })
		close(result)
		return result
	}

	c.stateMu.Lock()
	c.async = true
	c.stateMu.Unlock()
	c.enqueueCycle(&connectCycle{url: url, handler: handler, result: result})
	return result
}

// Reconnect starts a new connect cycle if the session dropped. It returns nil
// when there was never a session, or when the session is still connected.
//
// In async mode the cycle runs in the background. Otherwise Reconnect blocks,
// and the returned channel already holds the new session.
func (c *Client) Reconnect() <-chan *Session {
	c.stateMu.RLock()
	s, async, handler := c.session, c.async, c.handler
	c.stateMu.RUnlock()
	if s == nil || s.IsConnected() {
		return nil
	}

	c.debug.Log("Attempting reconnect")
	if async {
		return c.ConnectAsync(c.URL(), handler)
	}

	result := make(chan *Session, 1)
	session, err := c.Connect(c.URL(), handler)
	if err == nil {
		result <- session
	}
	close(result)
	return result
}

// Disconnect closes the session and prevents the reconnect that would follow.
// If a connect cycle is running, it is aborted before its next attempt.
func (c *Client) Disconnect() error {
	c.stateMu.Lock()
	s := c.session
	switch {
	case c.state == StateConnecting:
		c.forceDisconnect = true
		c.stateMu.Unlock()
		c.debug.Log("Connect cycle will be aborted")
		return nil
	case s == nil || s.closed.Load():
		c.stateMu.Unlock()
		return ErrNoActiveSession
	}
	c.forceDisconnect = true
	c.state = StateDisconnecting
	c.watchers.publish(StateEvent{State: StateDisconnecting, SessionID: s.ID()})
	c.stateMu.Unlock()

	c.debug.Log("Disconnecting websocket")
	err := s.Disconnect()
	if errors.Is(err, ErrSessionClosed) {
		return nil
	}
	return err
}

func (c *Client) enqueueCycle(cycle *connectCycle) {
	c.cyclesMu.Lock()
	if c.cyclesClosed {
		c.cyclesMu.Unlock()
		if cycle.result != nil {
			close(cycle.result)
		}
		return
	}
	c.cycles = append(c.cycles, cycle)
	c.cyclesMu.Unlock()

	select {
	case c.cyclesReady <- struct{}{}:
	default:
	}
}

func (c *Client) takeCycles() (cycles []*connectCycle) {
	c.cyclesMu.Lock()
	defer c.cyclesMu.Unlock()
	cycles = c.cycles
	c.cycles = nil
	return
}

func (c *Client) runCycle(cycle *connectCycle) {
	s, err := c.connect(cycle.url, cycle.handler)
	if err != nil {
		c.debug.Log("Connect cycle ended", err)
	}
	if cycle.result != nil {
		if err == nil {
			cycle.result <- s
		}
		close(cycle.result)
	}
}

func (c *Client) connect(url string, handler SessionHandler) (*Session, error) {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.stateMu.RLock()
	old := c.session
	connected := old != nil && c.state == StateConnected && old.IsConnected()
	c.stateMu.RUnlock()
	if connected {
		return old, nil
	}
	// A session that stopped receiving data is not closed yet.
	if old != nil && !old.closed.Load() {
		old.close(ReasonLivenessLost, ErrHeartbeatTimeout, true)
	}

	c.stateMu.Lock()
	c.forceDisconnect = false
	c.handler = handler
	c.state = StateConnecting
	c.stateMu.Unlock()
	c.url.Store(url)
	c.backoff.reset()

	var lastErr error
	for {
		attempt := c.backoff.attempt()
		c.watchers.publish(StateEvent{State: StateConnecting, Attempt: attempt, Err: lastErr})
		c.debug.Log("Connecting to Socket url", url)

		s, err := c.dial(url, handler)
		if err == nil {
			err = c.establish(s, handler)
			switch err {
			case nil:
				return s, nil
			case ErrConnectAborted:
				c.debug.Log("Connect cycle aborted after attempts", c.backoff.attempts())
				c.abortCycle(ReasonClientDisconnect, nil)
				return nil, err
			}
		}
		if c.ctx.Err() != nil {
			c.abortCycle(ReasonClientClose, nil)
			return nil, ErrClientClosed
		}

		lastErr = err
		delay := c.backoff.duration()
		c.debug.Log(fmt.Sprintf("Could not establish connection. Reconnecting in %s", delay), err)
		handler.HandleTransportError(nil, err)
		c.connectErrorHandlers.forEach(func(handler *ConnectErrorFunc) { (*handler)(err) })

		timer := time.NewTimer(delay)
		select {
		case <-c.ctx.Done():
			timer.Stop()
			c.abortCycle(ReasonClientClose, nil)
			return nil, ErrClientClosed
		case <-timer.C:
		}

		c.stateMu.RLock()
		force := c.forceDisconnect
		c.stateMu.RUnlock()
		if force {
			c.debug.Log("Connect cycle aborted after attempts", c.backoff.attempts())
			c.abortCycle(ReasonClientDisconnect, lastErr)
			return nil, ErrConnectAborted
		}
	}
}

func (c *Client) abortCycle(reason Reason, err error) {
	c.stateMu.Lock()
	c.state = StateDisconnected
	c.watchers.publish(StateEvent{State: StateDisconnected, Reason: reason, Err: err})
	c.stateMu.Unlock()
}

func (c *Client) establish(s *Session, handler SessionHandler) error {
	c.stateMu.Lock()
	switch {
	case s.closed.Load():
		c.stateMu.Unlock()
		return ErrSessionClosed
	case c.ctx.Err() != nil:
		c.stateMu.Unlock()
		s.close(ReasonClientClose, nil, true)
		return ErrClientClosed
	case c.forceDisconnect:
		c.stateMu.Unlock()
		s.Disconnect()
		return ErrConnectAborted
	}
	c.session = s
	c.state = StateConnected
	c.watchers.publish(StateEvent{State: StateConnected, SessionID: s.ID()})
	c.stateMu.Unlock()

	c.debug.Log("Connection established with session id", s.ID())
	handler.AfterConnected(s, s.connectedHeader)
	c.connectHandlers.forEach(func(handler *ConnectFunc) { (*handler)(s) })
	return nil
}

func (c *Client) dial(rawURL string, handler SessionHandler) (*Session, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}

	callbacks := transport.NewCallbacks()
	var t transport.ClientTransport
	switch c.transportName {
	case TransportWebSocket:
		t = wstransport.NewClientTransport(callbacks, *u, c.requestHeader, c.webSocketDialOptions, int64(c.maxFrameSize))
	case TransportWebTransport:
		t = wttransport.NewClientTransport(callbacks, *u, c.requestHeader, c.webTransportDialer, c.maxFrameSize)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownTransport, c.transportName)
	}

	host := c.host
	if host == "" {
		host = u.Hostname()
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.connectTimeout)
	defer cancel()
	return newSession(ctx, t, callbacks, handler, &sessionConfig{
		host:              host,
		heartbeatOutgoing: c.heartbeatOutgoing,
		heartbeatIncoming: c.heartbeatIncoming,
		receiptTimeout:    c.receiptTimeout,
		connectHeaders:    c.connectHeaders.header(),

		json:    c.json,
		debug:   c.debug,
		yeaster: c.yeaster,

		onClose: c.onSessionLost,
	})
}

// onSessionLost is called once for every established session, whatever ended it.
func (c *Client) onSessionLost(s *Session, reason Reason, err error) {
	c.stateMu.Lock()
	if c.session != s {
		c.stateMu.Unlock()
		return
	}
	c.state = StateDisconnected
	reconnect := c.async && !c.forceDisconnect && c.ctx.Err() == nil &&
		recoverableDisconnectReasons.Contains(reason)
	handler := c.handler
	c.watchers.publish(StateEvent{State: StateDisconnected, SessionID: s.ID(), Reason: reason, Err: err})
	c.stateMu.Unlock()

	c.debug.Log("Socket disconnected from session id", s.ID(), reason)
	c.disconnectHandlers.forEach(func(handler *DisconnectFunc) { (*handler)(reason, err) })

	if reconnect {
		c.debug.Log("Attempting reconnect")
		c.enqueueCycle(&connectCycle{url: c.URL(), handler: handler})
	}
}
