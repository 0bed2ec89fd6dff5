package local

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/pkopriv2/relay/jms"
	"github.com/pkopriv2/relay/jms/selector"
)

type consumer struct {
	session *session
	dest    jms.Destination
	sel     *selector.Selector
	box     *mailbox
	sub     *subscription

	lock     sync.Mutex
	listener jms.MessageListener
	stop     chan struct{}
	closed   chan struct{}
	once     sync.Once
}

func newConsumer(s *session, dest jms.Destination, sel *selector.Selector, box *mailbox, sub *subscription) *consumer {
	return &consumer{
		session: s,
		dest:    dest,
		sel:     sel,
		box:     box,
		sub:     sub,
		closed:  make(chan struct{})}
}

func (c *consumer) MessageSelector() string {
	if c.sub != nil {
		return c.sub.sel.String()
	}
	return c.sel.String()
}

func (c *consumer) MessageListener() jms.MessageListener {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.listener
}

// Installs an asynchronous listener.  A nil listener stops asynchronous
// delivery.
func (c *consumer) SetMessageListener(l jms.MessageListener) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if isClosed(c.closed) {
		return errors.Wrap(jms.IllegalStateError, "Consumer closed")
	}

	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}

	c.listener = l
	if l == nil {
		return nil
	}

	stop := make(chan struct{})
	c.stop = stop
	go c.listen(stop, l)
	return nil
}

func (c *consumer) listen(stop chan struct{}, l jms.MessageListener) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
		case <-c.closed:
		}
		cancel()
	}()

	for {
		msg, err := c.Receive(ctx)
		if err != nil || msg == nil {
			return
		}
		l(msg)
	}
}

func (c *consumer) Receive(ctx context.Context) (jms.Message, error) {
	return c.receive(ctx, nil, false)
}

func (c *consumer) ReceiveTimeout(ctx context.Context, timeout time.Duration) (jms.Message, error) {
	if timeout <= 0 {
		return c.Receive(ctx)
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	return c.receive(ctx, timer.C, false)
}

func (c *consumer) ReceiveNoWait(ctx context.Context) (jms.Message, error) {
	return c.receive(ctx, nil, true)
}

func (c *consumer) receive(ctx context.Context, timeout <-chan time.Time, noWait bool) (jms.Message, error) {
	for {
		if isClosed(c.closed) {
			return nil, nil
		}

		started := c.session.conn.startedSignal()
		if !isClosed(started) {
			if noWait {
				return nil, nil
			}
			select {
			case <-started:
				continue
			case <-c.closed:
				return nil, nil
			case <-timeout:
				return nil, nil
			case <-ctx.Done():
				return nil, errors.WithStack(ctx.Err())
			}
		}

		signal := c.box.wait()
		if env := c.box.poll(c.sel, c.session.broker.now(), c.session.broker.expired); env != nil {
			return c.deliver(env)
		}
		if c.box.isClosed() {
			return nil, errors.Wrapf(jms.InvalidDestinationError, "Destination [%v] has been deleted", c.dest)
		}
		if noWait {
			return nil, nil
		}

		select {
		case <-signal:
		case <-c.closed:
			return nil, nil
		case <-timeout:
			return nil, nil
		case <-ctx.Done():
			return nil, errors.WithStack(ctx.Err())
		}
	}
}

func (c *consumer) deliver(env *envelope) (jms.Message, error) {
	msg, err := jms.Copy(env.msg)
	if err != nil {
		c.box.requeue(env)
		return nil, err
	}

	msg.SetRedelivered(env.redelivered)
	if f, ok := msg.(jms.Freezable); ok {
		f.Freeze()
	}

	c.session.track(delivery{env, c.box}, msg)
	c.session.broker.stats.delivered.Inc(1)
	return msg, nil
}

func (c *consumer) release() {
	if c.sub == nil {
		return
	}
	if c.sub.durable {
		c.session.broker.deactivateDurable(c.sub)
	} else {
		c.session.broker.unsubscribe(c.sub)
	}
}

func (c *consumer) Close(ctx context.Context) error {
	c.once.Do(func() {
		c.lock.Lock()
		close(c.closed)
		if c.stop != nil {
			close(c.stop)
			c.stop = nil
		}
		c.lock.Unlock()

		c.release()
		c.session.removeConsumer(c)
	})
	return nil
}

func isClosed(ch <-chan struct{}) bool {
	select {
	default:
		return false
	case <-ch:
		return true
	}
}

type browser struct {
	session *session
	queue   jms.Queue
	sel     *selector.Selector
	box     *mailbox
	closed  bool
}

func (b *browser) Queue() jms.Queue {
	return b.queue
}

func (b *browser) MessageSelector() string {
	return b.sel.String()
}

func (b *browser) Enumerate(ctx context.Context) ([]jms.Message, error) {
	if b.closed {
		return nil, errors.Wrap(jms.IllegalStateError, "Browser closed")
	}

	envs := b.box.snapshot(b.sel, b.session.broker.now())
	ret := make([]jms.Message, 0, len(envs))
	for _, e := range envs {
		msg, err := jms.Copy(e.msg)
		if err != nil {
			return nil, err
		}
		msg.SetRedelivered(e.redelivered)
		if f, ok := msg.(jms.Freezable); ok {
			f.Freeze()
		}
		ret = append(ret, msg)
	}
	return ret, nil
}

func (b *browser) Close(ctx context.Context) error {
	b.closed = true
	return nil
}
