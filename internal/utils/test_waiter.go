package utils

import (
	"fmt"
	"testing"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ridge/stomp-go/internal/sync"
)

const DefaultTestWaitTimeout = time.Second * 12

// This is a sync.WaitGroup with a WaitTimeout function. Use this for testing purposes.
type TestWaiter struct {
	wg *sync.WaitGroup
}

func NewTestWaiter(delta int) *TestWaiter {
	wg := new(sync.WaitGroup)
	wg.Add(delta)
	return &TestWaiter{
		wg: wg,
	}
}

func (w *TestWaiter) Add(delta int) { w.wg.Add(delta) }

func (w *TestWaiter) Done() { w.wg.Done() }

func (w *TestWaiter) Wait() { w.wg.Wait() }

func (w *TestWaiter) WaitTimeout(t testing.TB, timeout time.Duration) (timedout bool) {
	return waitTimeout(t, w.wg, timeout)
}

// TestWaiterString waits for a set of named events, each expected exactly once.
type TestWaiterString struct {
	wg      *sync.WaitGroup
	strings mapset.Set[string]
}

func NewTestWaiterString() *TestWaiterString {
	return &TestWaiterString{
		wg:      new(sync.WaitGroup),
		strings: mapset.NewSet[string](),
	}
}

func (w *TestWaiterString) Add(s string) {
	w.strings.Add(s)
	w.wg.Add(1)
}

func (w *TestWaiterString) Done(s string) {
	if !w.strings.Contains(s) {
		panic(fmt.Errorf("TestWaiterString: Done was already called on '%s'", s))
	}
	w.strings.Remove(s)
	w.wg.Done()
}

// Pending returns the events that did not happen yet.
func (w *TestWaiterString) Pending() []string {
	return w.strings.ToSlice()
}

func (w *TestWaiterString) Wait() { w.wg.Wait() }

func (w *TestWaiterString) WaitTimeout(t testing.TB, timeout time.Duration) (timedout bool) {
	timedout = waitTimeout(t, w.wg, timeout)
	if timedout {
		t.Logf("pending: %v", w.Pending())
	}
	return
}

func waitTimeout(t testing.TB, wg *sync.WaitGroup, timeout time.Duration) (timedout bool) {
	c := make(chan struct{})

	go func() {
		defer close(c)
		wg.Wait()
	}()

	select {
	case <-c:
		return false
	case <-time.After(timeout):
		t.Error("timeout exceeded")
		return true
	}
}

// Receive waits for a value on c. ok is false if c was closed or the timeout exceeded;
// the latter also fails the test.
func Receive[T any](t testing.TB, c <-chan T, timeout time.Duration) (v T, ok bool) {
	select {
	case v, ok = <-c:
		return
	case <-time.After(timeout):
		t.Error("timeout exceeded")
		return v, false
	}
}

// Eventually polls cond until it holds or the timeout exceeds.
func Eventually(t testing.TB, timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	if cond() {
		return true
	}
	t.Error("condition not met before timeout")
	return false
}
