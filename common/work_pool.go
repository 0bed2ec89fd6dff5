package common

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// A work pool bounds the number of concurrently running functions.
type WorkPool interface {
	Submit(context.Context, func()) error
	SubmitTimeout(time.Duration, func()) error
	Active() int
	Wait()
	Close() error
}

type workPool struct {
	ctrl   Control
	size   int
	active chan struct{}
	wait   sync.WaitGroup
}

func NewWorkPool(ctrl Control, size int) WorkPool {
	if size <= 0 {
		panic("Cannot initialize an empty work pool.")
	}

	return &workPool{
		ctrl:   ctrl.Sub(),
		size:   size,
		active: make(chan struct{}, size)}
}

func (p *workPool) push(cancel <-chan struct{}, timeout <-chan time.Time) error {
	if p.ctrl.IsClosed() {
		return errors.WithStack(ClosedError)
	}

	select {
	case <-p.ctrl.Closed():
		return errors.WithStack(ClosedError)
	case <-cancel:
		return errors.WithStack(CanceledError)
	case <-timeout:
		return errors.WithStack(TimeoutError)
	case p.active <- struct{}{}:
		p.wait.Add(1)
		return nil
	}
}

func (p *workPool) pop() {
	p.wait.Done()
	<-p.active
}

func (p *workPool) run(fn func()) {
	go func() {
		defer p.pop()
		fn()
	}()
}

func (p *workPool) Submit(ctx context.Context, fn func()) error {
	if err := p.push(ctx.Done(), nil); err != nil {
		return err
	}
	p.run(fn)
	return nil
}

func (p *workPool) SubmitTimeout(dur time.Duration, fn func()) error {
	timer := time.NewTimer(dur)
	defer timer.Stop()
	if err := p.push(nil, timer.C); err != nil {
		return err
	}
	p.run(fn)
	return nil
}

func (p *workPool) Active() int {
	return len(p.active)
}

// Blocks until every submitted function has returned.
func (p *workPool) Wait() {
	p.wait.Wait()
}

func (p *workPool) Close() error {
	return p.ctrl.Close()
}
