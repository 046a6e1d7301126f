package stomp

import (
	"time"

	"github.com/ridge/stomp-go/internal/sync"
)

// Retries happen at a fixed interval, for as long as it takes.
type backoff struct {
	delay time.Duration

	numAttempts   int
	numAttemptsMu sync.Mutex
}

func newBackoff(delay time.Duration) *backoff {
	if delay < 0 {
		delay = 0
	}
	return &backoff{delay: delay}
}

func (b *backoff) attempts() int {
	b.numAttemptsMu.Lock()
	attempts := b.numAttempts
	b.numAttemptsMu.Unlock()
	return attempts
}

// attempt records one more attempt and returns its number, starting from 1.
func (b *backoff) attempt() int {
	b.numAttemptsMu.Lock()
	defer b.numAttemptsMu.Unlock()
	b.numAttempts++
	return b.numAttempts
}

func (b *backoff) duration() time.Duration {
	return b.delay
}

func (b *backoff) reset() {
	b.numAttemptsMu.Lock()
	b.numAttempts = 0
	b.numAttemptsMu.Unlock()
}
