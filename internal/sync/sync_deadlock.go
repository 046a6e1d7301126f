//go:build stomp_deadlock

package sync

import (
	"sync"

	"github.com/sasha-s/go-deadlock"
)

type (
	Mutex     = deadlock.Mutex
	RWMutex   = deadlock.RWMutex
	Once      = deadlock.Once
	WaitGroup = deadlock.WaitGroup
	Locker    = deadlock.Locker
)

var OnceFunc = sync.OnceFunc
