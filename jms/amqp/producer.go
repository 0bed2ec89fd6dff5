package amqp

import (
	"context"
	"sync"
	"time"

	"github.com/Azure/go-amqp"
	"github.com/pkg/errors"
	"github.com/pkopriv2/relay/common"
	"github.com/pkopriv2/relay/jms"
	uuid "github.com/satori/go.uuid"
)

type producer struct {
	session *session
	dest    jms.Destination

	lock             sync.Mutex
	senders          map[string]*amqp.Sender
	mode             jms.DeliveryMode
	priority         int
	ttl              time.Duration
	disableID        bool
	disableTimestamp bool
	closed           bool
}

func newProducer(s *session, dest jms.Destination) *producer {
	return &producer{
		session:  s,
		dest:     dest,
		senders:  make(map[string]*amqp.Sender),
		mode:     jms.DefaultDeliveryMode,
		priority: jms.DefaultPriority,
		ttl:      jms.DefaultTimeToLive}
}

func (p *producer) update(fn func()) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.closed {
		return errors.Wrap(jms.IllegalStateError, "Producer closed")
	}
	fn()
	return nil
}

func (p *producer) Destination() jms.Destination {
	return p.dest
}

func (p *producer) DeliveryMode() jms.DeliveryMode {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.mode
}

func (p *producer) SetDeliveryMode(mode jms.DeliveryMode) error {
	if mode != jms.Persistent && mode != jms.NonPersistent {
		return errors.Errorf("Invalid delivery mode [%v]", mode)
	}
	return p.update(func() { p.mode = mode })
}

func (p *producer) Priority() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.priority
}

func (p *producer) SetPriority(priority int) error {
	if priority < jms.MinPriority || priority > jms.MaxPriority {
		return errors.Errorf("Invalid priority [%v]", priority)
	}
	return p.update(func() { p.priority = priority })
}

func (p *producer) TimeToLive() time.Duration {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.ttl
}

func (p *producer) SetTimeToLive(ttl time.Duration) error {
	return p.update(func() { p.ttl = ttl })
}

func (p *producer) DisableMessageID() bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.disableID
}

func (p *producer) SetDisableMessageID(v bool) error {
	return p.update(func() { p.disableID = v })
}

func (p *producer) DisableMessageTimestamp() bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.disableTimestamp
}

func (p *producer) SetDisableMessageTimestamp(v bool) error {
	return p.update(func() { p.disableTimestamp = v })
}

func (p *producer) Send(ctx context.Context, msg jms.Message) error {
	return p.SendWith(ctx, msg, p.DeliveryMode(), p.Priority(), p.TimeToLive())
}

func (p *producer) SendWith(ctx context.Context, msg jms.Message, mode jms.DeliveryMode, priority int, ttl time.Duration) error {
	if p.dest == nil {
		return errors.Wrap(jms.InvalidDestinationError, "Producer has no destination")
	}
	return p.send(ctx, p.dest, msg, mode, priority, ttl)
}

func (p *producer) SendTo(ctx context.Context, dest jms.Destination, msg jms.Message) error {
	return p.SendToWith(ctx, dest, msg, p.DeliveryMode(), p.Priority(), p.TimeToLive())
}

func (p *producer) SendToWith(ctx context.Context, dest jms.Destination, msg jms.Message, mode jms.DeliveryMode, priority int, ttl time.Duration) error {
	if p.dest != nil {
		return errors.Wrap(jms.IllegalStateError, "Producer has a fixed destination")
	}
	if dest == nil {
		return errors.Wrap(jms.InvalidDestinationError, "Destination must not be nil")
	}
	return p.send(ctx, dest, msg, mode, priority, ttl)
}

func (p *producer) send(ctx context.Context, dest jms.Destination, msg jms.Message, mode jms.DeliveryMode, priority int, ttl time.Duration) error {
	if priority < jms.MinPriority || priority > jms.MaxPriority {
		return errors.Errorf("Invalid priority [%v]", priority)
	}

	sender, err := p.sender(ctx, dest)
	if err != nil {
		return err
	}

	now := time.Now()
	msg.SetMessageID("")
	if !p.DisableMessageID() {
		msg.SetMessageID("ID:" + uuid.NewV4().String())
	}
	msg.SetTimestamp(time.Time{})
	if !p.DisableMessageTimestamp() {
		msg.SetTimestamp(now)
	}
	msg.SetExpiration(time.Time{})
	if ttl > 0 {
		msg.SetExpiration(now.Add(ttl))
	}
	msg.SetDestination(dest)
	msg.SetDeliveryMode(mode)
	msg.SetPriority(priority)
	msg.SetRedelivered(false)

	encoded, err := toAMQP(msg)
	if err != nil {
		return err
	}
	if err := sender.Send(ctx, encoded, nil); err != nil {
		return wrap(err, "Error sending to [%v]", dest)
	}
	return nil
}

// Returns the link to the destination, attaching it on first use.
func (p *producer) sender(ctx context.Context, dest jms.Destination) (*amqp.Sender, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.closed {
		return nil, errors.Wrap(jms.IllegalStateError, "Producer closed")
	}

	if s, ok := p.senders[dest.Name()]; ok {
		return s, nil
	}

	s, err := p.session.inner.NewSender(ctx, dest.Name(), &amqp.SenderOptions{
		TargetCapabilities: []string{destCapability(dest)},
	})
	if err != nil {
		return nil, wrap(err, "Error attaching to [%v]", dest)
	}
	p.senders[dest.Name()] = s
	return s, nil
}

func (p *producer) Close(ctx context.Context) error {
	p.lock.Lock()
	if p.closed {
		p.lock.Unlock()
		return nil
	}
	p.closed = true
	senders := p.senders
	p.senders = nil
	p.lock.Unlock()

	var err error
	for _, s := range senders {
		if e := s.Close(ctx); e != nil {
			err = common.Or(err, wrap(e, "Error closing sender"))
		}
	}
	p.session.removeProducer(p)
	return err
}
