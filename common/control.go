package common

import (
	"io"
	"sync"
)

// A control manages the lifecycle of a component.  Closing (or failing) a
// control runs its deferred functions and closes every sub control.
type Control interface {
	io.Closer
	Fail(error)
	Closed() <-chan struct{}
	IsClosed() bool
	Failure() error
	Defer(func(error))
	Sub() Control
}

type control struct {
	lock    sync.Mutex
	defers  []func(error)
	closed  chan struct{}
	closer  chan struct{}
	failure error
}

func NewControl(parent Control) *control {
	c := &control{
		closed: make(chan struct{}),
		closer: make(chan struct{}, 1),
	}

	if parent != nil {
		go func() {
			select {
			case <-parent.Closed():
				c.Fail(parent.Failure())
				return
			case <-c.closed:
				return
			}
		}()
	}

	return c
}

func (c *control) Fail(cause error) {
	select {
	case <-c.closed:
		return
	case c.closer <- struct{}{}:
	}

	c.lock.Lock()
	c.failure = cause
	defers := c.defers
	c.defers = nil
	close(c.closed)
	c.lock.Unlock()

	for i := len(defers) - 1; i >= 0; i-- {
		defers[i](cause)
	}
}

func (c *control) Close() error {
	c.Fail(nil)
	return c.Failure()
}

func (c *control) Closed() <-chan struct{} {
	return c.closed
}

func (c *control) IsClosed() bool {
	return IsCanceled(c.closed)
}

func (c *control) Failure() error {
	<-c.closed
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.failure
}

// Registers a function to run when the control is closed.  Functions run
// in reverse order of registration.  If the control is already closed, the
// function is run immediately.
func (c *control) Defer(fn func(error)) {
	c.lock.Lock()
	if !IsCanceled(c.closed) {
		c.defers = append(c.defers, fn)
		c.lock.Unlock()
		return
	}
	failure := c.failure
	c.lock.Unlock()
	fn(failure)
}

func (c *control) Sub() Control {
	return NewControl(c)
}
