package stomp

type (
	ConnectFunc      func(session *Session)
	DisconnectFunc   func(reason Reason, err error)
	ConnectErrorFunc func(err error)
)

// OnConnect is called after each established session, after SessionHandler.AfterConnected.
// Listeners must be registered again on every new session; this is the place to do it.
func (c *Client) OnConnect(f ConnectFunc) {
	c.connectHandlers.on(&f)
}

func (c *Client) OnceConnect(f ConnectFunc) {
	c.connectHandlers.once(&f)
}

// OnDisconnect is called each time a session ends, whatever the reason.
func (c *Client) OnDisconnect(f DisconnectFunc) {
	c.disconnectHandlers.on(&f)
}

func (c *Client) OnceDisconnect(f DisconnectFunc) {
	c.disconnectHandlers.once(&f)
}

// OnConnectError is called for every failed connection attempt.
func (c *Client) OnConnectError(f ConnectErrorFunc) {
	c.connectErrorHandlers.on(&f)
}

func (c *Client) OnceConnectError(f ConnectErrorFunc) {
	c.connectErrorHandlers.once(&f)
}

// OffAll removes every handler. Functions are not comparable, so handlers
// cannot be removed one by one.
func (c *Client) OffAll() {
	c.connectHandlers.offAll()
	c.disconnectHandlers.offAll()
	c.connectErrorHandlers.offAll()
}
