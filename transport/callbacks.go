package transport

import (
	"sync/atomic"

	"github.com/ridge/stomp-go/frame"
)

type (
	FrameCallback     func(f *frame.Frame)
	HeartbeatCallback func()
	// err is nil when the connection was closed normally.
	CloseCallback func(transportName string, err error)
)

type Callbacks struct {
	onFrame     atomic.Value
	onHeartbeat atomic.Value
	onClose     atomic.Value
}

func NewCallbacks() *Callbacks {
	c := new(Callbacks)
	c.Set(nil, nil, nil)
	return c
}

func (c *Callbacks) OnFrame(f *frame.Frame) {
	fn := c.onFrame.Load().(FrameCallback)
	fn(f)
}

func (c *Callbacks) OnHeartbeat() {
	fn := c.onHeartbeat.Load().(HeartbeatCallback)
	fn()
}

func (c *Callbacks) OnClose(transportName string, err error) {
	fn := c.onClose.Load().(CloseCallback)
	fn(transportName, err)
}

func (c *Callbacks) Set(onFrame FrameCallback, onHeartbeat HeartbeatCallback, onClose CloseCallback) {
	if onFrame != nil {
		c.onFrame.Store(onFrame)
	} else {
		var f FrameCallback = func(f *frame.Frame) {}
		c.onFrame.Store(f)
	}

	if onHeartbeat != nil {
		c.onHeartbeat.Store(onHeartbeat)
	} else {
		var f HeartbeatCallback = func() {}
		c.onHeartbeat.Store(f)
	}

	if onClose != nil {
		c.onClose.Store(onClose)
	} else {
		var f CloseCallback = func(transportName string, err error) {}
		c.onClose.Store(f)
	}
}
