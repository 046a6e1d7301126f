package stomp

import (
	"github.com/ridge/stomp-go/internal/sync"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	}
	return "unknown"
}

// StateEvent describes a state transition of a Client.
type StateEvent struct {
	State State

	// Set when connected, and when the session ends.
	SessionID string

	// Why the session ended. Only set for StateDisconnected.
	Reason Reason

	// Number of the attempt within the current connect cycle, starting from 1.
	// Only set for StateConnecting.
	Attempt int

	// For StateConnecting, the failure of the previous attempt.
	// For StateDisconnected, the error that ended the session, if any.
	Err error
}

// StateWatcher receives every state transition after its creation, in order.
// Events are buffered without bound; call Stop when no longer interested.
type StateWatcher struct {
	q      *queue[StateEvent]
	remove func()
}

// C is closed after Stop, or when the client is closed.
func (w *StateWatcher) C() <-chan StateEvent {
	return w.q.out
}

func (w *StateWatcher) Stop() {
	w.remove()
	w.q.reset()
}

type stateWatchers struct {
	mu       sync.Mutex
	watchers map[*StateWatcher]struct{}
	closed   bool
}

func newStateWatchers() *stateWatchers {
	return &stateWatchers{watchers: make(map[*StateWatcher]struct{})}
}

func (s *stateWatchers) add() *StateWatcher {
	w := &StateWatcher{q: newQueue[StateEvent]()}
	w.remove = func() {
		s.mu.Lock()
		delete(s.watchers, w)
		s.mu.Unlock()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		w.q.end()
		return w
	}
	s.watchers[w] = struct{}{}
	return w
}

func (s *stateWatchers) publish(e StateEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for w := range s.watchers {
		w.q.add(e)
	}
}

// close ends every watcher once it has drained its events.
func (s *stateWatchers) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for w := range s.watchers {
		w.q.end()
	}
	s.watchers = nil
}
