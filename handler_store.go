package stomp

import "github.com/ridge/stomp-go/internal/sync"

type handlerStore[T comparable] struct {
	mu        sync.Mutex
	funcs     []T
	funcsOnce []T
}

func newHandlerStore[T comparable]() *handlerStore[T] {
	return new(handlerStore[T])
}

func (e *handlerStore[T]) on(handler T) {
	e.mu.Lock()
	e.funcs = append(e.funcs, handler)
	e.mu.Unlock()
}

func (e *handlerStore[T]) once(handler T) {
	e.mu.Lock()
	e.funcsOnce = append(e.funcsOnce, handler)
	e.mu.Unlock()
}

func (e *handlerStore[T]) offAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.funcs = nil
	e.funcsOnce = nil
}

// getAll returns a copy of the handlers. Handlers registered with once are removed.
func (e *handlerStore[T]) getAll() (handlers []T) {
	e.mu.Lock()
	defer e.mu.Unlock()

	handlers = make([]T, 0, len(e.funcs)+len(e.funcsOnce))
	handlers = append(handlers, e.funcs...)
	handlers = append(handlers, e.funcsOnce...)
	e.funcsOnce = nil
	return
}

func (e *handlerStore[T]) forEach(f func(handler T)) {
	for _, handler := range e.getAll() {
		f(handler)
	}
}
