package stomp

import (
	"reflect"

	"github.com/ridge/stomp-go/frame"
)

// Received is a message of a Listener. Err is a *DecodeError when the
// body could not be decoded into T; Value is the zero value in that case.
type Received[T any] struct {
	Value   T
	Headers frame.Header
	Err     error
}

// Listener is an ordered stream of the messages sent to a destination,
// decoded into T. It ends with the session it was created on.
type Listener[T any] struct {
	sub *Subscription
	q   *queue[Received[T]]
}

// Listen subscribes to destination on the current session.
//
// []byte and string targets receive the body as is. Anything else
// is decoded with the serializer of the client.
func Listen[T any](c *Client, destination string) (*Listener[T], error) {
	s := c.Session()
	if s == nil || !s.IsConnected() {
		return nil, ErrNoActiveSession
	}
	return ListenSession[T](s, destination)
}

// ListenSession is like Listen, for a specific session.
func ListenSession[T any](s *Session, destination string) (*Listener[T], error) {
	var (
		l = &Listener[T]{q: newQueue[Received[T]]()}
		t = reflect.TypeOf((*T)(nil)).Elem()
	)

	deliver := func(f *frame.Frame) {
		r := Received[T]{Headers: f.Header}
		payload, err := decodePayload(s.json, t, f.Body)
		if err != nil {
			decodeErr := &DecodeError{
				Destination: destination,
				Type:        t,
				Body:        f.Body,
				Err:         err,
			}
			s.debug.Log("Decode failed", decodeErr)
			s.handler.HandleException(s, f.Command, f.Header, f.Body, decodeErr)
			r.Err = decodeErr
		} else {
			r.Value, _ = payload.(T)
		}
		l.q.add(r)
	}

	sub, err := s.subscribe(destination, deliver, l.q.end)
	if err != nil {
		l.q.reset()
		return nil, err
	}
	l.sub = sub
	s.debug.Log("Listening to", destination)
	return l, nil
}

// C is closed when the session ends or Unsubscribe is called.
func (l *Listener[T]) C() <-chan Received[T] {
	return l.q.out
}

func (l *Listener[T]) Destination() string {
	return l.sub.Destination()
}

// Unsubscribe stops the delivery. Messages not yet read are dropped.
func (l *Listener[T]) Unsubscribe() error {
	err := l.sub.Unsubscribe()
	l.q.reset()
	return err
}
