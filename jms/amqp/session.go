package amqp

import (
	"context"
	"sync"

	"github.com/Azure/go-amqp"
	"github.com/pkg/errors"
	"github.com/pkopriv2/relay/common"
	"github.com/pkopriv2/relay/jms"
	"github.com/pkopriv2/relay/jms/selector"
)

// A delivery awaiting client acknowledgement.
type unsettled struct {
	receiver *amqp.Receiver
	msg      *amqp.Message
}

type session struct {
	conn  *connection
	inner *amqp.Session
	mode  jms.AckMode

	lock      sync.Mutex
	closed    bool
	producers map[*producer]struct{}
	consumers map[*consumer]struct{}
	unacked   []unsettled
}

func newSession(c *connection, inner *amqp.Session, mode jms.AckMode) *session {
	return &session{
		conn:      c,
		inner:     inner,
		mode:      mode,
		producers: make(map[*producer]struct{}),
		consumers: make(map[*consumer]struct{}),
	}
}

func (s *session) checkOpen() error {
	if s.closed {
		return errors.Wrap(jms.IllegalStateError, "The session is closed")
	}
	return nil
}

func (s *session) CreateMessage() (jms.Message, error) {
	return jms.NewMessage(), nil
}

func (s *session) CreateBytesMessage() (jms.BytesMessage, error) {
	return jms.NewBytesMessage(), nil
}

func (s *session) CreateMapMessage() (jms.MapMessage, error) {
	return jms.NewMapMessage(), nil
}

func (s *session) CreateObjectMessage(obj interface{}) (jms.ObjectMessage, error) {
	return jms.NewObjectMessage(obj), nil
}

func (s *session) CreateStreamMessage() (jms.StreamMessage, error) {
	return jms.NewStreamMessage(), nil
}

func (s *session) CreateTextMessage(text string) (jms.TextMessage, error) {
	return jms.NewTextMessage(text), nil
}

func (s *session) Transacted() bool {
	return false
}

func (s *session) AcknowledgeMode() jms.AckMode {
	return s.mode
}

func (s *session) Commit(ctx context.Context) error {
	return errors.Wrap(jms.IllegalStateError, "The session is not transacted")
}

func (s *session) Rollback(ctx context.Context) error {
	return errors.Wrap(jms.IllegalStateError, "The session is not transacted")
}

func (s *session) track(r *amqp.Receiver, msg *amqp.Message) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.unacked = append(s.unacked, unsettled{r, msg})
}

func (s *session) take() []unsettled {
	s.lock.Lock()
	defer s.lock.Unlock()
	ret := s.unacked
	s.unacked = nil
	return ret
}

// Accepts every delivery received so far.
func (s *session) acknowledge(ctx context.Context) error {
	var err error
	for _, u := range s.take() {
		if e := u.receiver.AcceptMessage(ctx, u.msg); e != nil {
			err = common.Or(err, wrap(e, "Error acknowledging message"))
		}
	}
	return err
}

// Returns every unacknowledged delivery to the peer for redelivery.
func (s *session) Recover(ctx context.Context) error {
	s.lock.Lock()
	err := s.checkOpen()
	s.lock.Unlock()
	if err != nil {
		return err
	}
	return s.redeliver(ctx)
}

func (s *session) redeliver(ctx context.Context) error {
	var err error
	for _, u := range s.take() {
		if e := u.receiver.ModifyMessage(ctx, u.msg, &amqp.ModifyMessageOptions{DeliveryFailed: true}); e != nil {
			err = common.Or(err, wrap(e, "Error releasing message"))
		}
	}
	return err
}

func (s *session) MessageListener() jms.MessageListener {
	return nil
}

func (s *session) SetMessageListener(jms.MessageListener) error {
	return errors.Wrap(jms.IllegalStateError, "Session listeners are not supported")
}

func (s *session) CreateProducer(ctx context.Context, dest jms.Destination) (jms.MessageProducer, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	p := newProducer(s, dest)
	s.producers[p] = struct{}{}
	return p, nil
}

func (s *session) removeProducer(p *producer) {
	s.lock.Lock()
	defer s.lock.Unlock()
	delete(s.producers, p)
}

func (s *session) CreateConsumer(ctx context.Context, dest jms.Destination, sel string, noLocal bool) (jms.MessageConsumer, error) {
	if dest == nil {
		return nil, errors.Wrap(jms.InvalidDestinationError, "Destination must not be nil")
	}
	if _, err := selector.Parse(sel); err != nil {
		return nil, err
	}

	s.lock.Lock()
	err := s.checkOpen()
	s.lock.Unlock()
	if err != nil {
		return nil, err
	}

	opts := &amqp.ReceiverOptions{
		Credit:             int32(s.conn.factory.Credit),
		SourceCapabilities: []string{destCapability(dest)},
	}
	if sel != "" {
		opts.Filters = []amqp.LinkFilter{amqp.NewSelectorFilter(sel)}
	}

	receiver, err := s.inner.NewReceiver(ctx, dest.Name(), opts)
	if err != nil {
		return nil, wrap(err, "Error creating consumer on [%v]", dest)
	}

	c := newConsumer(s, dest, sel, receiver)

	s.lock.Lock()
	defer s.lock.Unlock()
	if err := s.checkOpen(); err != nil {
		receiver.Close(ctx)
		return nil, err
	}
	s.consumers[c] = struct{}{}
	return c, nil
}

func (s *session) removeConsumer(c *consumer) {
	s.lock.Lock()
	defer s.lock.Unlock()
	delete(s.consumers, c)
}

// Durable subscriptions need a detach that keeps the link's state, which
// the client does not offer.
func (s *session) CreateDurableSubscriber(ctx context.Context, topic jms.Topic, name string, sel string, noLocal bool) (jms.MessageConsumer, error) {
	return nil, errors.Wrap(jms.IllegalStateError, "Durable subscriptions are not supported")
}

func (s *session) Unsubscribe(ctx context.Context, name string) error {
	return errors.Wrap(jms.IllegalStateError, "Durable subscriptions are not supported")
}

func (s *session) CreateBrowser(ctx context.Context, queue jms.Queue, sel string) (jms.QueueBrowser, error) {
	return nil, errors.Wrap(jms.IllegalStateError, "Queue browsers are not supported")
}

func (s *session) CreateQueue(name string) (jms.Queue, error) {
	return jms.NewQueue(name), nil
}

func (s *session) CreateTopic(name string) (jms.Topic, error) {
	return jms.NewTopic(name), nil
}

func (s *session) CreateTemporaryQueue(ctx context.Context) (jms.TemporaryQueue, error) {
	addr, del, err := s.createTemporary(ctx, "temporary-queue")
	if err != nil {
		return nil, err
	}
	return jms.NewTemporaryQueue(addr, del), nil
}

func (s *session) CreateTemporaryTopic(ctx context.Context) (jms.TemporaryTopic, error) {
	addr, del, err := s.createTemporary(ctx, "temporary-topic")
	if err != nil {
		return nil, err
	}
	return jms.NewTemporaryTopic(addr, del), nil
}

// The peer allocates the address of a dynamic node, which lives as long
// as the link that created it.
func (s *session) createTemporary(ctx context.Context, capability string) (string, func(context.Context) error, error) {
	sender, err := s.inner.NewSender(ctx, "", &amqp.SenderOptions{
		DynamicAddress:     true,
		TargetCapabilities: []string{capability},
	})
	if err != nil {
		return "", nil, wrap(err, "Error creating temporary destination")
	}
	return sender.Address(), func(ctx context.Context) error {
		return wrap(sender.Close(ctx), "Error deleting temporary destination")
	}, nil
}

func (s *session) Close(ctx context.Context) error {
	s.lock.Lock()
	if s.closed {
		s.lock.Unlock()
		return nil
	}
	s.closed = true
	consumers := make([]*consumer, 0, len(s.consumers))
	for c := range s.consumers {
		consumers = append(consumers, c)
	}
	producers := make([]*producer, 0, len(s.producers))
	for p := range s.producers {
		producers = append(producers, p)
	}
	s.lock.Unlock()

	// Unacknowledged deliveries return to the peer.
	err := s.redeliver(ctx)
	for _, c := range consumers {
		err = common.Or(err, c.Close(ctx))
	}
	for _, p := range producers {
		err = common.Or(err, p.Close(ctx))
	}
	if e := s.inner.Close(ctx); e != nil {
		err = common.Or(err, wrap(e, "Error closing session"))
	}

	s.conn.removeSession(s)
	return err
}
