package stomp

import (
	"github.com/ridge/stomp-go/internal/sync"
)

// queue is an unbounded FIFO drained into a channel by its own goroutine.
// Producers never block.
type queue[T any] struct {
	items []T
	ended bool
	mu    sync.Mutex

	ready    chan struct{}
	stop     chan struct{}
	stopOnce sync.Once

	out chan T
}

func newQueue[T any]() *queue[T] {
	q := &queue[T]{
		ready: make(chan struct{}, 1),
		stop:  make(chan struct{}),
		out:   make(chan T),
	}
	go q.pump()
	return q
}

// add returns false if the queue has already ended.
func (q *queue[T]) add(items ...T) bool {
	q.mu.Lock()
	if q.ended {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, items...)
	q.mu.Unlock()

	q.signal()
	return true
}

func (q *queue[T]) get() (items []T, ended bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	items = q.items
	q.items = nil
	return items, q.ended
}

// end closes the output channel once the queued items are consumed.
func (q *queue[T]) end() {
	q.mu.Lock()
	q.ended = true
	q.mu.Unlock()
	q.signal()
}

// reset drops the queued items and closes the output channel right away.
func (q *queue[T]) reset() {
	q.mu.Lock()
	q.ended = true
	q.items = nil
	q.mu.Unlock()
	q.stopOnce.Do(func() { close(q.stop) })
}

func (q *queue[T]) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *queue[T]) poll() (items []T, ok bool) {
	for {
		items, ended := q.get()
		if len(items) != 0 {
			return items, true
		}
		if ended {
			return nil, false
		}

		select {
		case <-q.ready:
		case <-q.stop:
			return nil, false
		}
	}
}

func (q *queue[T]) pump() {
	defer close(q.out)
	for {
		items, ok := q.poll()
		if !ok {
			return
		}
		for _, item := range items {
			select {
			case q.out <- item:
			case <-q.stop:
				return
			}
		}
	}
}
