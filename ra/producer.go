package ra

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/pkopriv2/relay/jms"
)

// MessageProducer forwards to a provider producer, holding the session
// lock for every send.
type MessageProducer struct {
	session *Session
	inner   jms.MessageProducer
	lock    sync.Mutex
	closed  bool
}

func (p *MessageProducer) checkOpen() error {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.closed {
		return errors.Wrap(jms.IllegalStateError, "The producer is closed")
	}
	return p.session.checkOpen()
}

func (p *MessageProducer) Destination() jms.Destination {
	return p.inner.Destination()
}

func (p *MessageProducer) DeliveryMode() jms.DeliveryMode {
	return p.inner.DeliveryMode()
}

func (p *MessageProducer) SetDeliveryMode(mode jms.DeliveryMode) error {
	if err := p.checkOpen(); err != nil {
		return err
	}
	return p.inner.SetDeliveryMode(mode)
}

func (p *MessageProducer) Priority() int {
	return p.inner.Priority()
}

func (p *MessageProducer) SetPriority(priority int) error {
	if err := p.checkOpen(); err != nil {
		return err
	}
	return p.inner.SetPriority(priority)
}

func (p *MessageProducer) TimeToLive() time.Duration {
	return p.inner.TimeToLive()
}

func (p *MessageProducer) SetTimeToLive(ttl time.Duration) error {
	if err := p.checkOpen(); err != nil {
		return err
	}
	return p.inner.SetTimeToLive(ttl)
}

func (p *MessageProducer) DisableMessageID() bool {
	return p.inner.DisableMessageID()
}

func (p *MessageProducer) SetDisableMessageID(v bool) error {
	if err := p.checkOpen(); err != nil {
		return err
	}
	return p.inner.SetDisableMessageID(v)
}

func (p *MessageProducer) DisableMessageTimestamp() bool {
	return p.inner.DisableMessageTimestamp()
}

func (p *MessageProducer) SetDisableMessageTimestamp(v bool) error {
	if err := p.checkOpen(); err != nil {
		return err
	}
	return p.inner.SetDisableMessageTimestamp(v)
}

func (p *MessageProducer) locked(ctx context.Context, fn func() error) error {
	_, release, err := p.session.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := p.checkOpen(); err != nil {
		return err
	}
	return fn()
}

func (p *MessageProducer) Send(ctx context.Context, msg jms.Message) error {
	return p.locked(ctx, func() error {
		return p.inner.Send(ctx, unwrapMessage(msg))
	})
}

func (p *MessageProducer) SendWith(ctx context.Context, msg jms.Message, mode jms.DeliveryMode, priority int, ttl time.Duration) error {
	return p.locked(ctx, func() error {
		return p.inner.SendWith(ctx, unwrapMessage(msg), mode, priority, ttl)
	})
}

func (p *MessageProducer) SendTo(ctx context.Context, dest jms.Destination, msg jms.Message) error {
	return p.locked(ctx, func() error {
		return p.inner.SendTo(ctx, dest, unwrapMessage(msg))
	})
}

func (p *MessageProducer) SendToWith(ctx context.Context, dest jms.Destination, msg jms.Message, mode jms.DeliveryMode, priority int, ttl time.Duration) error {
	return p.locked(ctx, func() error {
		return p.inner.SendToWith(ctx, dest, unwrapMessage(msg), mode, priority, ttl)
	})
}

func (p *MessageProducer) Close(ctx context.Context) error {
	p.session.removeProducer(p)
	return p.closeInner(ctx)
}

func (p *MessageProducer) closeInner(ctx context.Context) error {
	p.lock.Lock()
	if p.closed {
		p.lock.Unlock()
		return nil
	}
	p.closed = true
	p.lock.Unlock()
	return p.inner.Close(ctx)
}

// A producer bound to a queue.
type QueueSender struct {
	*MessageProducer
	queue jms.Queue
}

func (q *QueueSender) Queue() jms.Queue {
	return q.queue
}

// A producer bound to a topic.
type TopicPublisher struct {
	*MessageProducer
	topic jms.Topic
}

func (t *TopicPublisher) Topic() jms.Topic {
	return t.topic
}

func (t *TopicPublisher) Publish(ctx context.Context, msg jms.Message) error {
	return t.Send(ctx, msg)
}

func (t *TopicPublisher) PublishWith(ctx context.Context, msg jms.Message, mode jms.DeliveryMode, priority int, ttl time.Duration) error {
	return t.SendWith(ctx, msg, mode, priority, ttl)
}
