package local

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/pkopriv2/relay/common"
	"github.com/pkopriv2/relay/jms"
	"github.com/pkopriv2/relay/jms/selector"
	"github.com/pkopriv2/relay/xa"
)

// A message produced but not yet routed.
type pending struct {
	dest jms.Destination
	env  *envelope
}

// A message handed to a consumer but not yet acknowledged.
type delivery struct {
	env *envelope
	box *mailbox
}

// The sends and receives of a unit of work.
type work struct {
	sends []pending
	recvs []delivery
}

func (w *work) empty() bool {
	return len(w.sends) == 0 && len(w.recvs) == 0
}

func (w *work) commit(b *Broker) error {
	return b.routeAll(w.sends)
}

func (w *work) rollback(b *Broker) {
	redeliver(b, w.recvs)
}

func redeliver(b *Broker, all []delivery) {
	for i := len(all) - 1; i >= 0; i-- {
		b.stats.redelivered.Inc(1)
		all[i].box.requeue(all[i].env)
	}
}

type session struct {
	conn       *connection
	broker     *Broker
	transacted bool
	mode       jms.AckMode
	xa         *xaResource

	lock      sync.Mutex
	tx        work
	unacked   []delivery
	consumers map[*consumer]struct{}
	producers map[*producer]struct{}
	closed    bool
}

func newSession(c *connection, transacted bool, mode jms.AckMode, isXA bool) *session {
	if transacted {
		mode = jms.SessionTransacted
	}

	s := &session{
		conn:       c,
		broker:     c.broker,
		transacted: transacted,
		mode:       mode,
		consumers:  make(map[*consumer]struct{}),
		producers:  make(map[*producer]struct{})}
	if isXA {
		s.xa = newXaResource(s)
	}
	return s
}

func (s *session) checkOpen() error {
	if s.closed {
		return errors.Wrap(jms.IllegalStateError, "Session closed")
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
	return s.transacted
}

func (s *session) AcknowledgeMode() jms.AckMode {
	return s.mode
}

func (s *session) XAResource() xa.Resource {
	if s.xa == nil {
		return nil
	}
	return s.xa
}

func (s *session) Commit(ctx context.Context) error {
	s.lock.Lock()
	if err := s.checkOpen(); err != nil {
		s.lock.Unlock()
		return err
	}
	if !s.transacted {
		s.lock.Unlock()
		return errors.Wrap(jms.IllegalStateError, "Session is not transacted")
	}
	if s.xa != nil && s.xa.current() != nil {
		s.lock.Unlock()
		return errors.Wrap(jms.IllegalStateError, "Session is associated with a global transaction")
	}
	tx := s.tx
	s.tx = work{}
	s.lock.Unlock()

	if err := tx.commit(s.broker); err != nil {
		tx.rollback(s.broker)
		return errors.Wrap(jms.TransactionRolledBackError, err.Error())
	}
	return nil
}

func (s *session) Rollback(ctx context.Context) error {
	s.lock.Lock()
	if err := s.checkOpen(); err != nil {
		s.lock.Unlock()
		return err
	}
	if !s.transacted {
		s.lock.Unlock()
		return errors.Wrap(jms.IllegalStateError, "Session is not transacted")
	}
	if s.xa != nil && s.xa.current() != nil {
		s.lock.Unlock()
		return errors.Wrap(jms.IllegalStateError, "Session is associated with a global transaction")
	}
	tx := s.tx
	s.tx = work{}
	s.lock.Unlock()

	tx.rollback(s.broker)
	return nil
}

func (s *session) Recover(ctx context.Context) error {
	s.lock.Lock()
	if err := s.checkOpen(); err != nil {
		s.lock.Unlock()
		return err
	}
	if s.transacted {
		s.lock.Unlock()
		return errors.Wrap(jms.IllegalStateError, "Session is transacted")
	}
	unacked := s.unacked
	s.unacked = nil
	s.lock.Unlock()

	redeliver(s.broker, unacked)
	return nil
}

func (s *session) acknowledge(ctx context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.unacked = nil
	return nil
}

func (s *session) MessageListener() jms.MessageListener {
	return nil
}

func (s *session) SetMessageListener(jms.MessageListener) error {
	return errors.Wrap(jms.IllegalStateError, "Session listeners are not supported")
}

// Routes the message now, or defers it to the active unit of work.
func (s *session) dispatch(p pending) error {
	if s.xa != nil {
		if b := s.xa.current(); b != nil {
			return b.addSend(p)
		}
	}

	s.lock.Lock()
	if err := s.checkOpen(); err != nil {
		s.lock.Unlock()
		return err
	}
	if s.transacted {
		s.tx.sends = append(s.tx.sends, p)
		s.lock.Unlock()
		return nil
	}
	s.lock.Unlock()
	return s.broker.route(p)
}

// Records a delivery according to the session's acknowledge mode.
func (s *session) track(d delivery, msg jms.Message) {
	if s.xa != nil {
		if b := s.xa.current(); b != nil {
			if b.addRecv(d) == nil {
				return
			}
		}
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	switch {
	case s.transacted:
		s.tx.recvs = append(s.tx.recvs, d)
	case s.mode == jms.ClientAcknowledge:
		s.unacked = append(s.unacked, d)
		if a, ok := msg.(interface {
			SetAcknowledger(func(context.Context) error)
		}); ok {
			a.SetAcknowledger(s.acknowledge)
		}
	}
}

func (s *session) destination(d jms.Destination) (jms.Destination, error) {
	if d == nil {
		return nil, errors.Wrap(jms.InvalidDestinationError, "Destination must not be nil")
	}
	if !jms.IsQueue(d) && !jms.IsTopic(d) {
		return nil, errors.Wrapf(jms.InvalidDestinationError, "Unsupported destination [%v]", d)
	}
	return d, nil
}

func (s *session) CreateProducer(ctx context.Context, dest jms.Destination) (jms.MessageProducer, error) {
	if dest != nil {
		if _, err := s.destination(dest); err != nil {
			return nil, err
		}
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	p := newProducer(s, dest)
	s.producers[p] = struct{}{}
	return p, nil
}

func (s *session) CreateConsumer(ctx context.Context, dest jms.Destination, sel string, noLocal bool) (jms.MessageConsumer, error) {
	if _, err := s.destination(dest); err != nil {
		return nil, err
	}

	parsed, err := selector.Parse(sel)
	if err != nil {
		return nil, err
	}

	if err := s.broker.checkTemporaryOwner(s.conn, dest.Name()); err != nil {
		return nil, err
	}

	var c *consumer
	if jms.IsQueue(dest) {
		box, err := s.broker.queue(dest.Name())
		if err != nil {
			return nil, err
		}
		c = newConsumer(s, dest, parsed, box, nil)
	} else {
		sub := &subscription{
			topic:   dest.Name(),
			sel:     parsed,
			noLocal: noLocal,
			connID:  s.conn.id,
			box:     newMailbox(dest.Name(), s.broker.capacity),
		}
		if err := s.broker.subscribe(sub); err != nil {
			return nil, err
		}
		c = newConsumer(s, dest, nil, sub.box, sub)
	}
	return c, s.addConsumer(c)
}

func (s *session) CreateDurableSubscriber(ctx context.Context, topic jms.Topic, name string, sel string, noLocal bool) (jms.MessageConsumer, error) {
	if topic == nil {
		return nil, errors.Wrap(jms.InvalidDestinationError, "Topic must not be nil")
	}
	if s.conn.ClientID() == "" {
		return nil, errors.Wrap(jms.IllegalStateError, "Durable subscriptions require a client id")
	}

	parsed, err := selector.Parse(sel)
	if err != nil {
		return nil, err
	}

	sub, err := s.broker.activateDurable(s.conn, topic.Name(), name, parsed, noLocal)
	if err != nil {
		return nil, err
	}

	c := newConsumer(s, topic, nil, sub.box, sub)
	if err := s.addConsumer(c); err != nil {
		s.broker.deactivateDurable(sub)
		return nil, err
	}
	return c, nil
}

func (s *session) addConsumer(c *consumer) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if err := s.checkOpen(); err != nil {
		c.release()
		return err
	}
	s.consumers[c] = struct{}{}
	return nil
}

func (s *session) removeConsumer(c *consumer) {
	s.lock.Lock()
	defer s.lock.Unlock()
	delete(s.consumers, c)
}

func (s *session) removeProducer(p *producer) {
	s.lock.Lock()
	defer s.lock.Unlock()
	delete(s.producers, p)
}

func (s *session) CreateBrowser(ctx context.Context, queue jms.Queue, sel string) (jms.QueueBrowser, error) {
	if queue == nil {
		return nil, errors.Wrap(jms.InvalidDestinationError, "Queue must not be nil")
	}

	parsed, err := selector.Parse(sel)
	if err != nil {
		return nil, err
	}

	box, err := s.broker.queue(queue.Name())
	if err != nil {
		return nil, err
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return &browser{session: s, queue: queue, sel: parsed, box: box}, nil
}

func (s *session) Unsubscribe(ctx context.Context, name string) error {
	if err := s.checkOpenLocked(); err != nil {
		return err
	}
	return s.broker.removeDurable(s.conn, name)
}

func (s *session) checkOpenLocked() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.checkOpen()
}

func (s *session) CreateQueue(name string) (jms.Queue, error) {
	if name == "" {
		return nil, errors.Wrap(jms.InvalidDestinationError, "Queue name must not be empty")
	}
	return jms.NewQueue(name), nil
}

func (s *session) CreateTopic(name string) (jms.Topic, error) {
	if name == "" {
		return nil, errors.Wrap(jms.InvalidDestinationError, "Topic name must not be empty")
	}
	return jms.NewTopic(name), nil
}

func (s *session) CreateTemporaryQueue(ctx context.Context) (jms.TemporaryQueue, error) {
	if err := s.checkOpenLocked(); err != nil {
		return nil, err
	}
	name := s.conn.createTemporary("temp-queue", true)
	return jms.NewTemporaryQueue(name, func(context.Context) error {
		return s.conn.deleteTemporary(name)
	}), nil
}

func (s *session) CreateTemporaryTopic(ctx context.Context) (jms.TemporaryTopic, error) {
	if err := s.checkOpenLocked(); err != nil {
		return nil, err
	}
	name := s.conn.createTemporary("temp-topic", false)
	return jms.NewTemporaryTopic(name, func(context.Context) error {
		return s.conn.deleteTemporary(name)
	}), nil
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
	tx := s.tx
	unacked := s.unacked
	s.tx, s.unacked = work{}, nil
	s.lock.Unlock()

	var err error
	for _, c := range consumers {
		err = common.Or(err, c.Close(ctx))
	}
	for _, p := range producers {
		err = common.Or(err, p.Close(ctx))
	}

	tx.rollback(s.broker)
	redeliver(s.broker, unacked)
	if s.xa != nil {
		s.xa.detach()
	}

	s.conn.removeSession(s)
	return err
}
