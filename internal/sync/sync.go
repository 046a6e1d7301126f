//go:build !stomp_deadlock

package sync

import "sync"

type (
	Mutex     = sync.Mutex
	RWMutex   = sync.RWMutex
	Once      = sync.Once
	WaitGroup = sync.WaitGroup
	Locker    = sync.Locker
)

var OnceFunc = sync.OnceFunc
