package ra

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/pkopriv2/relay/jms"
)

// MessageConsumer forwards to a provider consumer, holding the session
// lock while it receives.
type MessageConsumer struct {
	session  *Session
	inner    jms.MessageConsumer
	lock     sync.Mutex
	listener jms.MessageListener
	closed   bool
}

func (c *MessageConsumer) checkOpen() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.closed {
		return errors.Wrap(jms.IllegalStateError, "The consumer is closed")
	}
	return c.session.checkOpen()
}

func (c *MessageConsumer) MessageSelector() string {
	return c.inner.MessageSelector()
}

func (c *MessageConsumer) MessageListener() jms.MessageListener {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.listener
}

func (c *MessageConsumer) SetMessageListener(l jms.MessageListener) error {
	if c.session.strict {
		return errors.Wrap(jms.IllegalStateError, "Method not allowed")
	}
	if err := c.checkOpen(); err != nil {
		return err
	}

	c.lock.Lock()
	c.listener = l
	c.lock.Unlock()

	if l == nil {
		return c.inner.SetMessageListener(nil)
	}
	return c.inner.SetMessageListener(func(msg jms.Message) {
		l(wrapMessage(c.session, msg))
	})
}

func (c *MessageConsumer) receive(ctx context.Context, fn func() (jms.Message, error)) (jms.Message, error) {
	_, release, err := c.session.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := c.checkOpen(); err != nil {
		return nil, err
	}

	msg, err := fn()
	if err != nil || msg == nil {
		return nil, err
	}
	return wrapMessage(c.session, msg), nil
}

func (c *MessageConsumer) Receive(ctx context.Context) (jms.Message, error) {
	return c.receive(ctx, func() (jms.Message, error) {
		return c.inner.Receive(ctx)
	})
}

func (c *MessageConsumer) ReceiveTimeout(ctx context.Context, timeout time.Duration) (jms.Message, error) {
	return c.receive(ctx, func() (jms.Message, error) {
		return c.inner.ReceiveTimeout(ctx, timeout)
	})
}

func (c *MessageConsumer) ReceiveNoWait(ctx context.Context) (jms.Message, error) {
	return c.receive(ctx, func() (jms.Message, error) {
		return c.inner.ReceiveNoWait(ctx)
	})
}

func (c *MessageConsumer) Close(ctx context.Context) error {
	c.session.removeConsumer(c)
	return c.closeInner(ctx)
}

func (c *MessageConsumer) closeInner(ctx context.Context) error {
	c.lock.Lock()
	if c.closed {
		c.lock.Unlock()
		return nil
	}
	c.closed = true
	c.lock.Unlock()
	return c.inner.Close(ctx)
}

// A consumer of a queue.
type QueueReceiver struct {
	*MessageConsumer
	queue jms.Queue
}

func (q *QueueReceiver) Queue() jms.Queue {
	return q.queue
}

// A consumer of a topic.
type TopicSubscriber struct {
	*MessageConsumer
	topic   jms.Topic
	noLocal bool
}

func (t *TopicSubscriber) Topic() jms.Topic {
	return t.topic
}

func (t *TopicSubscriber) NoLocal() bool {
	return t.noLocal
}

type QueueBrowser struct {
	session *Session
	inner   jms.QueueBrowser
}

func (b *QueueBrowser) Queue() jms.Queue {
	return b.inner.Queue()
}

func (b *QueueBrowser) MessageSelector() string {
	return b.inner.MessageSelector()
}

func (b *QueueBrowser) Enumerate(ctx context.Context) ([]jms.Message, error) {
	_, release, err := b.session.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	msgs, err := b.inner.Enumerate(ctx)
	if err != nil {
		return nil, err
	}

	ret := make([]jms.Message, 0, len(msgs))
	for _, m := range msgs {
		ret = append(ret, wrapMessage(b.session, m))
	}
	return ret, nil
}

func (b *QueueBrowser) Close(ctx context.Context) error {
	return b.inner.Close(ctx)
}
