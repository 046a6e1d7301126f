package stomp

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/ridge/stomp-go/frame"
	"github.com/ridge/stomp-go/internal/sync"
	"github.com/ridge/stomp-go/serializer"
	"github.com/ridge/stomp-go/transport"
	"github.com/tomruk/yeast"
)

// Versions offered in the CONNECT frame.
const acceptVersion = "1.1,1.2"

var errReceiptTimeout = errors.New("stomp: receipt was not received in time")

type sessionConfig struct {
	host              string
	heartbeatOutgoing time.Duration
	heartbeatIncoming time.Duration
	receiptTimeout    time.Duration
	connectHeaders    frame.Header

	json    serializer.JSONSerializer
	debug   Debugger
	yeaster *yeast.Yeaster

	// Called once when an established session ends.
	onClose func(s *Session, reason Reason, err error)
}

// Session is a single STOMP connection. It is valid until it is closed;
// a reconnect creates a new Session.
type Session struct {
	id              string
	version         string
	server          string
	sendInterval    time.Duration
	receiveInterval time.Duration
	connectedHeader frame.Header

	transport      transport.ClientTransport
	handler        SessionHandler
	json           serializer.JSONSerializer
	debug          Debugger
	yeaster        *yeast.Yeaster
	receiptTimeout time.Duration
	onClose        func(s *Session, reason Reason, err error)

	// The first frame is handed to the connecting goroutine.
	// The read loop waits on ready before handling anything else.
	handshakeFrame chan *frame.Frame
	ready          chan struct{}
	established    atomic.Bool

	// Unix nanoseconds of the last inbound frame or heart-beat.
	lastRead atomic.Int64

	subs   map[string]*Subscription
	subsMu sync.Mutex
	subID  atomic.Uint64

	receipts   map[string]chan struct{}
	receiptsMu sync.Mutex

	disconnecting atomic.Bool
	closed        atomic.Bool
	done          chan struct{}
	closeDone     chan struct{}
	closeReason   Reason
	closeErr      error
}

// newSession dials the transport and performs the STOMP handshake.
func newSession(
	ctx context.Context,
	t transport.ClientTransport,
	callbacks *transport.Callbacks,
	handler SessionHandler,
	config *sessionConfig,
) (*Session, error) {
	s := &Session{
		transport:      t,
		handler:        handler,
		json:           config.json,
		debug:          config.debug,
		yeaster:        config.yeaster,
		receiptTimeout: config.receiptTimeout,
		onClose:        config.onClose,

		handshakeFrame: make(chan *frame.Frame, 1),
		ready:          make(chan struct{}),

		subs:      make(map[string]*Subscription),
		receipts:  make(map[string]chan struct{}),
		done:      make(chan struct{}),
		closeDone: make(chan struct{}),
	}
	callbacks.Set(s.onFrame, s.onHeartbeat, s.onTransportClose)

	err := t.Dial(ctx)
	if err != nil {
		close(s.ready)
		return nil, err
	}
	go t.Run()

	err = s.handshake(ctx, config)
	close(s.ready)
	if err != nil {
		s.close(ReasonTransportError, err, true)
		return nil, err
	}

	go s.heartbeat()
	return s, nil
}

func (s *Session) handshake(ctx context.Context, config *sessionConfig) error {
	connect := frame.New(frame.CommandConnect,
		frame.HeaderAcceptVersion, acceptVersion,
		frame.HeaderHost, config.host,
		frame.HeaderHeartBeat, frame.FormatHeartbeat(config.heartbeatOutgoing, config.heartbeatIncoming),
	)
	for _, field := range config.connectHeaders {
		connect.Header.Set(field.Key, field.Value)
	}

	err := s.transport.Send(connect)
	if err != nil {
		return err
	}

	var f *frame.Frame
	select {
	case f = <-s.handshakeFrame:
	case <-s.done:
		if s.closeErr != nil {
			return s.closeErr
		}
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	switch f.Command {
	case frame.CommandConnected:
	case frame.CommandError:
		return newServerError(f)
	default:
		return fmt.Errorf("stomp: expected CONNECTED, got %s", f.Command)
	}

	var connected struct {
		Version   string `stomp:"version"`
		Session   string `stomp:"session"`
		Server    string `stomp:"server"`
		HeartBeat string `stomp:"heart-beat"`
	}
	err = f.Header.Decode(&connected)
	if err != nil {
		// Every field is a string.
		return wrapInternalError(err)
	}
	serverOut, serverIn, err := frame.ParseHeartbeat(connected.HeartBeat)
	if err != nil {
		return err
	}

	s.id = connected.Session
	if s.id == "" {
		s.id = s.yeaster.Yeast()
	}
	s.version = connected.Version
	if s.version == "" {
		s.version = "1.0"
	}
	s.server = connected.Server
	s.sendInterval, s.receiveInterval = frame.NegotiateHeartbeat(
		config.heartbeatOutgoing, config.heartbeatIncoming, serverOut, serverIn,
	)
	s.connectedHeader = f.Header
	s.debug = config.debug.WithContext("[stomp] Session " + s.id)

	s.touch()
	s.established.Store(true)
	return nil
}

func (s *Session) ID() string { return s.id }

// Version is the protocol version chosen by the broker.
func (s *Session) Version() string { return s.version }

// Server is the content of the server header of the CONNECTED frame.
func (s *Session) Server() string { return s.server }

// Heartbeat returns the negotiated intervals. Zero means disabled.
func (s *Session) Heartbeat() (send, receive time.Duration) {
	return s.sendInterval, s.receiveInterval
}

// Done is closed when the session ends.
func (s *Session) Done() <-chan struct{} { return s.done }

// IsConnected reports false once the session is closed, or when nothing was
// received for three times the inbound heart-beat interval.
func (s *Session) IsConnected() bool {
	return !s.closed.Load() && s.alive()
}

func (s *Session) alive() bool {
	if s.receiveInterval <= 0 {
		return true
	}
	last := time.Unix(0, s.lastRead.Load())
	return time.Since(last) <= 3*s.receiveInterval
}

func (s *Session) touch() {
	s.lastRead.Store(time.Now().UnixNano())
}

// Send sends a SEND frame. headers are key/value pairs.
func (s *Session) Send(destination string, body []byte, headers ...string) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	f := frame.New(frame.CommandSend, frame.HeaderDestination, destination)
	for i := 0; i+1 < len(headers); i += 2 {
		f.Header.Set(headers[i], headers[i+1])
	}
	f.Body = body

	err := s.transport.Send(f)
	if err != nil && s.closed.Load() {
		return ErrSessionClosed
	}
	return err
}

func (s *Session) SendJSON(destination string, v any) error {
	body, err := s.json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Send(destination, body, frame.HeaderContentType, "application/json")
}

// Subscribe delivers the messages sent to destination until the
// subscription is cancelled or the session ends.
func (s *Session) Subscribe(destination string, handler FrameHandler) (*Subscription, error) {
	if handler == nil {
		return nil, ErrNilHandler
	}
	return s.subscribe(destination, func(f *frame.Frame) {
		t := handler.PayloadType(f.Header)
		payload, err := decodePayload(s.json, t, f.Body)
		if err != nil {
			s.handler.HandleException(s, f.Command, f.Header, f.Body, &DecodeError{
				Destination: destination,
				Type:        t,
				Body:        f.Body,
				Err:         err,
			})
			return
		}
		handler.HandleFrame(f.Header, payload)
	}, nil)
}

func (s *Session) subscribe(destination string, deliver func(f *frame.Frame), onEnd func()) (*Subscription, error) {
	sub := &Subscription{
		id:          "sub-" + strconv.FormatUint(s.subID.Add(1), 10),
		destination: destination,
		session:     s,
		deliver:     deliver,
		onEnd:       onEnd,
	}

	s.subsMu.Lock()
	if s.closed.Load() {
		s.subsMu.Unlock()
		return nil, ErrSessionClosed
	}
	s.subs[sub.id] = sub
	s.subsMu.Unlock()

	err := s.transport.Send(frame.New(frame.CommandSubscribe,
		frame.HeaderID, sub.id,
		frame.HeaderDestination, destination,
		frame.HeaderAck, "auto",
	))
	if err != nil {
		s.removeSubscription(sub.id)
		sub.end()
		if s.closed.Load() {
			return nil, ErrSessionClosed
		}
		return nil, err
	}
	s.debug.Log("Subscribed", destination, sub.id)
	return sub, nil
}

func (s *Session) removeSubscription(id string) (ok bool) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	_, ok = s.subs[id]
	delete(s.subs, id)
	return
}

// Disconnect sends DISCONNECT, waits for its receipt and closes the session.
func (s *Session) Disconnect() error {
	if s.closed.Load() || !s.disconnecting.CompareAndSwap(false, true) {
		return ErrSessionClosed
	}
	s.debug.Log("Disconnecting")

	err := s.sendWithReceipt(frame.New(frame.CommandDisconnect), s.receiptTimeout)
	if err != nil {
		s.debug.Log("DISCONNECT was not acknowledged", err)
	}
	s.close(ReasonClientDisconnect, nil, true)
	return nil
}

func (s *Session) sendWithReceipt(f *frame.Frame, timeout time.Duration) error {
	id := s.yeaster.Yeast()
	c := make(chan struct{})

	s.receiptsMu.Lock()
	s.receipts[id] = c
	s.receiptsMu.Unlock()
	defer func() {
		s.receiptsMu.Lock()
		delete(s.receipts, id)
		s.receiptsMu.Unlock()
	}()

	f.Header.Set(frame.HeaderReceipt, id)
	err := s.transport.Send(f)
	if err != nil {
		return err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-c:
		return nil
	case <-timer.C:
		return errReceiptTimeout
	case <-s.done:
		return ErrSessionClosed
	}
}

func (s *Session) onFrame(f *frame.Frame) {
	s.touch()

	if !s.established.Load() {
		select {
		case s.handshakeFrame <- f:
		default:
		}
		<-s.ready
		return
	}

	switch f.Command {
	case frame.CommandMessage:
		s.onMessage(f)
	case frame.CommandReceipt:
		s.onReceipt(f)
	case frame.CommandError:
		s.onError(f)
	default:
		s.debug.Log("Unexpected frame", f.Command)
	}
}

func (s *Session) onHeartbeat() {
	s.touch()
}

func (s *Session) onMessage(f *frame.Frame) {
	id := f.Header.Get(frame.HeaderSubscription)
	s.subsMu.Lock()
	sub, ok := s.subs[id]
	s.subsMu.Unlock()
	if !ok {
		s.debug.Log("MESSAGE for unknown subscription", id)
		return
	}
	sub.deliver(f)
}

func (s *Session) onReceipt(f *frame.Frame) {
	id := f.Header.Get(frame.HeaderReceiptID)
	s.receiptsMu.Lock()
	c, ok := s.receipts[id]
	delete(s.receipts, id)
	s.receiptsMu.Unlock()
	if ok {
		close(c)
	}
}

func (s *Session) onError(f *frame.Frame) {
	serverErr := newServerError(f)
	s.debug.Log("ERROR frame received", serverErr.Message)

	payload, err := decodePayload(s.json, s.handler.PayloadType(f.Header), f.Body)
	if err != nil {
		s.handler.HandleException(s, f.Command, f.Header, f.Body, err)
	} else {
		s.handler.HandleFrame(f.Header, payload)
	}
	s.close(ReasonServerError, serverErr, true)
}

// Called by the transport, from inside its own close. The transport must not be closed again.
func (s *Session) onTransportClose(transportName string, err error) {
	reason := ReasonTransportClose
	if err != nil {
		reason = ReasonTransportError
	}
	if s.disconnecting.Load() {
		reason = ReasonClientDisconnect
		err = nil
	}
	s.close(reason, err, false)
}

func (s *Session) heartbeat() {
	var sendC, checkC <-chan time.Time
	if s.sendInterval > 0 {
		ticker := time.NewTicker(s.sendInterval)
		defer ticker.Stop()
		sendC = ticker.C
	}
	if s.receiveInterval > 0 {
		ticker := time.NewTicker(s.receiveInterval)
		defer ticker.Stop()
		checkC = ticker.C
	}
	if sendC == nil && checkC == nil {
		return
	}

	for {
		select {
		case <-s.done:
			return
		case <-sendC:
			// A failed write closes the transport.
			s.transport.SendHeartbeat()
		case <-checkC:
			if !s.alive() {
				s.debug.Log("Heart-beat timeout")
				s.close(ReasonHeartbeatTimeout, ErrHeartbeatTimeout, true)
				return
			}
		}
	}
}

// close ends the session once. Callers that lose the race wait for the winner
// to finish, unless they come from the transport's own close.
func (s *Session) close(reason Reason, err error, closeTransport bool) {
	if !s.closed.CompareAndSwap(false, true) {
		if closeTransport {
			<-s.closeDone
		}
		return
	}
	defer close(s.closeDone)
	s.closeReason = reason
	s.closeErr = err
	close(s.done)

	if closeTransport {
		switch reason {
		case ReasonHeartbeatTimeout, ReasonLivenessLost:
			s.transport.Abort()
		default:
			s.transport.Close()
		}
	}

	s.subsMu.Lock()
	subs := s.subs
	s.subs = nil
	s.subsMu.Unlock()
	for _, sub := range subs {
		sub.end()
	}

	if !s.established.Load() {
		return
	}
	s.debug.Log("Session closed", reason)
	if reason == ReasonTransportError {
		s.handler.HandleTransportError(s, err)
	}
	if s.onClose != nil {
		s.onClose(s, reason, err)
	}
}

type Subscription struct {
	id          string
	destination string
	session     *Session
	deliver     func(f *frame.Frame)
	onEnd       func()
	endOnce     sync.Once
}

func (sub *Subscription) ID() string { return sub.id }

func (sub *Subscription) Destination() string { return sub.destination }

// Unsubscribe sends UNSUBSCRIBE and stops the delivery.
func (sub *Subscription) Unsubscribe() error {
	s := sub.session
	ok := s.removeSubscription(sub.id)
	sub.end()
	if !ok {
		if s.closed.Load() {
			return ErrSessionClosed
		}
		return nil
	}
	return s.transport.Send(frame.New(frame.CommandUnsubscribe, frame.HeaderID, sub.id))
}

func (sub *Subscription) end() {
	sub.endOnce.Do(func() {
		if sub.onEnd != nil {
			sub.onEnd()
		}
	})
}
