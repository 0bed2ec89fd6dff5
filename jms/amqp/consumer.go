package amqp

import (
	"context"
	"sync"
	"time"

	"github.com/Azure/go-amqp"
	"github.com/pkg/errors"
	"github.com/pkopriv2/relay/jms"
)

type consumer struct {
	session  *session
	dest     jms.Destination
	sel      string
	receiver *amqp.Receiver

	lock     sync.Mutex
	listener jms.MessageListener
	stop     chan struct{}
	closed   chan struct{}
	once     sync.Once
}

func newConsumer(s *session, dest jms.Destination, sel string, receiver *amqp.Receiver) *consumer {
	return &consumer{
		session:  s,
		dest:     dest,
		sel:      sel,
		receiver: receiver,
		closed:   make(chan struct{})}
}

func (c *consumer) MessageSelector() string {
	return c.sel
}

func (c *consumer) MessageListener() jms.MessageListener {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.listener
}

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
	return c.receive(ctx, 0, false)
}

func (c *consumer) ReceiveTimeout(ctx context.Context, timeout time.Duration) (jms.Message, error) {
	return c.receive(ctx, timeout, false)
}

func (c *consumer) ReceiveNoWait(ctx context.Context) (jms.Message, error) {
	return c.receive(ctx, 0, true)
}

func (c *consumer) receive(ctx context.Context, timeout time.Duration, noWait bool) (jms.Message, error) {
	if isClosed(c.closed) {
		return nil, nil
	}

	// Stopped connections hold deliveries back.
	if started := c.session.conn.startedSignal(); !isClosed(started) {
		if noWait {
			return nil, nil
		}

		var expired <-chan time.Time
		if timeout > 0 {
			timer := time.NewTimer(timeout)
			defer timer.Stop()
			expired = timer.C
		}

		start := time.Now()
		select {
		case <-started:
		case <-c.closed:
			return nil, nil
		case <-expired:
			return nil, nil
		case <-ctx.Done():
			return nil, errors.WithStack(ctx.Err())
		}
		if timeout > 0 {
			timeout -= time.Since(start)
			if timeout <= 0 {
				return nil, nil
			}
		}
	}

	if noWait {
		if m := c.receiver.Prefetched(); m != nil {
			return c.accept(ctx, m)
		}
		return nil, nil
	}

	var rctx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		rctx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		rctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	go func() {
		select {
		case <-c.closed:
			cancel()
		case <-rctx.Done():
		}
	}()

	m, err := c.receiver.Receive(rctx, nil)
	if err != nil {
		switch {
		case isClosed(c.closed):
			return nil, nil
		case ctx.Err() != nil:
			return nil, errors.WithStack(ctx.Err())
		case rctx.Err() == context.DeadlineExceeded:
			return nil, nil
		}
		return nil, wrap(err, "Error receiving from [%v]", c.dest)
	}
	return c.accept(ctx, m)
}

// Settles the delivery according to the session's acknowledge mode.
func (c *consumer) accept(ctx context.Context, m *amqp.Message) (jms.Message, error) {
	msg, err := fromAMQP(m)
	if err != nil {
		c.receiver.RejectMessage(ctx, m, &amqp.Error{
			Condition:   amqp.ErrCondDecodeError,
			Description: err.Error(),
		})
		return nil, err
	}

	if c.session.AcknowledgeMode() != jms.ClientAcknowledge {
		if err := c.receiver.AcceptMessage(ctx, m); err != nil {
			return nil, wrap(err, "Error acknowledging message")
		}
		return msg, nil
	}

	c.session.track(c.receiver, m)
	if a, ok := msg.(interface {
		SetAcknowledger(func(context.Context) error)
	}); ok {
		a.SetAcknowledger(c.session.acknowledge)
	}
	return msg, nil
}

func (c *consumer) Close(ctx context.Context) error {
	var err error
	c.once.Do(func() {
		c.lock.Lock()
		close(c.closed)
		if c.stop != nil {
			close(c.stop)
			c.stop = nil
		}
		c.lock.Unlock()

		err = wrap(c.receiver.Close(ctx), "Error closing consumer")
		c.session.removeConsumer(c)
	})
	return err
}

func isClosed(ch <-chan struct{}) bool {
	select {
	default:
		return false
	case <-ch:
		return true
	}
}
