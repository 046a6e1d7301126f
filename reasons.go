package stomp

import (
	mapset "github.com/deckarep/golang-set/v2"
)

// Reason tells why a session ended.
type Reason string

const (
	// Disconnect was called on the client or the session.
	ReasonClientDisconnect Reason = "client disconnect"
	// The client was closed.
	ReasonClientClose Reason = "client close"

	ReasonTransportClose   Reason = "transport close"
	ReasonTransportError   Reason = "transport error"
	ReasonHeartbeatTimeout Reason = "heart-beat timeout"
	ReasonLivenessLost     Reason = "liveness lost"
	ReasonServerError      Reason = "server error"
)

// A session ending for one of these reasons is followed
// by a new connect cycle when the client is in async mode.
var recoverableDisconnectReasons = mapset.NewThreadUnsafeSet(
	ReasonTransportClose,
	ReasonTransportError,
	ReasonHeartbeatTimeout,
	ReasonLivenessLost,
	ReasonServerError,
)
