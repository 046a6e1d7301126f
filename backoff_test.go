package stomp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff(t *testing.T) {
	b := newBackoff(5 * time.Second)

	for i := 1; i <= 100; i++ {
		if !assert.Equal(t, i, b.attempt()) {
			return
		}
		if !assert.Equal(t, 5*time.Second, b.duration()) {
			return
		}
	}
	assert.Equal(t, 100, b.attempts())

	b.reset()
	assert.Equal(t, 0, b.attempts())
	assert.Equal(t, 1, b.attempt())
}

func TestBackoffNegativeDelay(t *testing.T) {
	b := newBackoff(-time.Second)
	assert.Equal(t, time.Duration(0), b.duration())
}
