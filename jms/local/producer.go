package local

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/pkopriv2/relay/jms"
	uuid "github.com/satori/go.uuid"
)

type producer struct {
	session *session
	dest    jms.Destination

	lock             sync.Mutex
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
		mode:     jms.DefaultDeliveryMode,
		priority: jms.DefaultPriority,
		ttl:      jms.DefaultTimeToLive}
}

func (p *producer) checkOpen() error {
	if p.closed {
		return errors.Wrap(jms.IllegalStateError, "Producer closed")
	}
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

	p.lock.Lock()
	defer p.lock.Unlock()
	if err := p.checkOpen(); err != nil {
		return err
	}
	p.mode = mode
	return nil
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

	p.lock.Lock()
	defer p.lock.Unlock()
	if err := p.checkOpen(); err != nil {
		return err
	}
	p.priority = priority
	return nil
}

func (p *producer) TimeToLive() time.Duration {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.ttl
}

func (p *producer) SetTimeToLive(ttl time.Duration) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	if err := p.checkOpen(); err != nil {
		return err
	}
	p.ttl = ttl
	return nil
}

func (p *producer) DisableMessageID() bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.disableID
}

func (p *producer) SetDisableMessageID(v bool) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	if err := p.checkOpen(); err != nil {
		return err
	}
	p.disableID = v
	return nil
}

func (p *producer) DisableMessageTimestamp() bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.disableTimestamp
}

func (p *producer) SetDisableMessageTimestamp(v bool) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	if err := p.checkOpen(); err != nil {
		return err
	}
	p.disableTimestamp = v
	return nil
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
	if err := ctx.Err(); err != nil {
		return errors.WithStack(err)
	}
	if msg == nil {
		return errors.Wrap(jms.MessageFormatError, "Message must not be nil")
	}

	p.lock.Lock()
	if err := p.checkOpen(); err != nil {
		p.lock.Unlock()
		return err
	}
	disableID, disableTimestamp := p.disableID, p.disableTimestamp
	p.lock.Unlock()

	now := p.session.broker.now()
	if disableID {
		msg.SetMessageID("")
	} else {
		msg.SetMessageID("ID:" + uuid.NewV4().String())
	}
	if disableTimestamp {
		msg.SetTimestamp(time.Time{})
	} else {
		msg.SetTimestamp(now)
	}
	if ttl > 0 {
		msg.SetExpiration(now.Add(ttl))
	} else {
		msg.SetExpiration(time.Time{})
	}
	msg.SetDestination(dest)
	msg.SetDeliveryMode(mode)
	msg.SetPriority(priority)
	msg.SetRedelivered(false)

	snapshot, err := jms.Copy(msg)
	if err != nil {
		return err
	}

	return p.session.dispatch(pending{dest, &envelope{msg: snapshot, origin: p.session.conn.id}})
}

func (p *producer) Close(ctx context.Context) error {
	p.lock.Lock()
	if p.closed {
		p.lock.Unlock()
		return nil
	}
	p.closed = true
	p.lock.Unlock()

	p.session.removeProducer(p)
	return nil
}
