package ra

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/pkopriv2/relay/common"
	"github.com/pkopriv2/relay/jms"
	"github.com/pkopriv2/relay/spi"
)

// Session is the handle applications use.  It forwards to the physical
// session of whichever managed connection it is currently associated
// with.
type Session struct {
	info   *RequestInfo
	strict bool

	lock      sync.Mutex
	mc        *ManagedConnection
	owner     *Connection
	closed    bool
	producers map[*MessageProducer]struct{}
	consumers map[*MessageConsumer]struct{}
}

func newSession(mc *ManagedConnection, info *RequestInfo) *Session {
	return &Session{
		info:      info,
		strict:    mc.mcf.props.Strict,
		mc:        mc,
		producers: make(map[*MessageProducer]struct{}),
		consumers: make(map[*MessageConsumer]struct{})}
}

func (s *Session) setOwner(c *Connection) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.owner = c
}

// Returns false if the handle already belongs to mc.
func (s *Session) setManagedConnection(mc *ManagedConnection) bool {
	s.lock.Lock()
	old := s.mc
	s.mc = mc
	s.lock.Unlock()

	if old == mc {
		return false
	}
	if old != nil {
		old.removeHandle(s)
	}
	return true
}

func (s *Session) managedConnection() *ManagedConnection {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.mc
}

// Returns the managed connection the handle is associated with, if any.
func (s *Session) ManagedConnection() *ManagedConnection {
	return s.managedConnection()
}

func (s *Session) dissociate(from *ManagedConnection) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.mc == from {
		s.mc = nil
	}
}

func (s *Session) checkOpen() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return errors.Wrap(jms.IllegalStateError, "The session is closed")
	}
	return nil
}

// Locks the managed connection's session, re-associating a dissociated
// handle first when the connection manager supports it.  A handle moved
// or invalidated while waiting retries on its current managed connection.
func (s *Session) acquire(ctx context.Context) (jms.Session, func(), error) {
	for {
		mc, err := s.associated(ctx)
		if err != nil {
			return nil, nil, err
		}

		release, err := mc.acquire(ctx)
		if err != nil {
			return nil, nil, err
		}

		s.lock.Lock()
		cur, closed := s.mc, s.closed
		s.lock.Unlock()

		if closed {
			release()
			return nil, nil, errors.Wrap(jms.IllegalStateError, "The session is closed")
		}
		if cur != mc {
			release()
			continue
		}

		session, err := mc.Session()
		if err != nil {
			release()
			return nil, nil, err
		}
		return session, release, nil
	}
}

// Returns the handle's managed connection, lazily associating it if needed.
func (s *Session) associated(ctx context.Context) (*ManagedConnection, error) {
	s.lock.Lock()
	mc, owner, closed := s.mc, s.owner, s.closed
	s.lock.Unlock()

	if closed {
		return nil, errors.Wrap(jms.IllegalStateError, "The session is closed")
	}
	if mc != nil {
		return mc, nil
	}

	var lazy spi.LazyAssociatableConnectionManager
	if owner != nil {
		lazy, _ = owner.cm.(spi.LazyAssociatableConnectionManager)
	}
	if lazy == nil {
		return nil, errors.Wrap(jms.IllegalStateError, "The session is not associated with a managed connection")
	}
	if err := lazy.AssociateConnection(ctx, s, owner.mcf, s.info); err != nil {
		return nil, err
	}
	if mc = s.managedConnection(); mc == nil {
		return nil, errors.Wrap(jms.IllegalStateError, "The session is not associated with a managed connection")
	}
	return mc, nil
}

// Returns the physical session without locking.
func (s *Session) physical() (jms.Session, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	mc := s.managedConnection()
	if mc == nil {
		return nil, errors.Wrap(jms.IllegalStateError, "The session is not associated with a managed connection")
	}
	return mc.Session()
}

func (s *Session) CreateMessage() (jms.Message, error) {
	session, err := s.physical()
	if err != nil {
		return nil, err
	}
	msg, err := session.CreateMessage()
	if err != nil {
		return nil, err
	}
	return wrapMessage(s, msg), nil
}

func (s *Session) CreateBytesMessage() (jms.BytesMessage, error) {
	session, err := s.physical()
	if err != nil {
		return nil, err
	}
	msg, err := session.CreateBytesMessage()
	if err != nil {
		return nil, err
	}
	return &BytesMessage{msg, s}, nil
}

func (s *Session) CreateMapMessage() (jms.MapMessage, error) {
	session, err := s.physical()
	if err != nil {
		return nil, err
	}
	msg, err := session.CreateMapMessage()
	if err != nil {
		return nil, err
	}
	return &MapMessage{msg, s}, nil
}

func (s *Session) CreateObjectMessage(obj interface{}) (jms.ObjectMessage, error) {
	session, err := s.physical()
	if err != nil {
		return nil, err
	}
	msg, err := session.CreateObjectMessage(obj)
	if err != nil {
		return nil, err
	}
	return &ObjectMessage{msg, s}, nil
}

func (s *Session) CreateStreamMessage() (jms.StreamMessage, error) {
	session, err := s.physical()
	if err != nil {
		return nil, err
	}
	msg, err := session.CreateStreamMessage()
	if err != nil {
		return nil, err
	}
	return &StreamMessage{msg, s}, nil
}

func (s *Session) CreateTextMessage(text string) (jms.TextMessage, error) {
	session, err := s.physical()
	if err != nil {
		return nil, err
	}
	msg, err := session.CreateTextMessage(text)
	if err != nil {
		return nil, err
	}
	return &TextMessage{msg, s}, nil
}

func (s *Session) Transacted() bool {
	return s.info.Transacted
}

func (s *Session) AcknowledgeMode() jms.AckMode {
	if s.info.Transacted {
		return jms.SessionTransacted
	}
	return s.info.AcknowledgeMode
}

func (s *Session) Type() SessionType {
	return s.info.Type
}

func (s *Session) Commit(ctx context.Context) error {
	session, release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	if !s.info.Transacted {
		return errors.Wrap(jms.IllegalStateError, "Session is not transacted")
	}
	return session.Commit(ctx)
}

func (s *Session) Rollback(ctx context.Context) error {
	session, release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	if !s.info.Transacted {
		return errors.Wrap(jms.IllegalStateError, "Session is not transacted")
	}
	return session.Rollback(ctx)
}

func (s *Session) Recover(ctx context.Context) error {
	session, release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	if s.info.Transacted {
		return errors.Wrap(jms.IllegalStateError, "Session is transacted")
	}
	return session.Recover(ctx)
}

func (s *Session) MessageListener() jms.MessageListener {
	return nil
}

func (s *Session) SetMessageListener(jms.MessageListener) error {
	return errors.Wrap(jms.IllegalStateError, "Method not allowed")
}

func (s *Session) checkNotTopic(op string) error {
	if s.info.Type == Topic {
		return errors.Wrapf(jms.IllegalStateError, "Cannot %v from a topic session", op)
	}
	return nil
}

func (s *Session) checkNotQueue(op string) error {
	if s.info.Type == Queue {
		return errors.Wrapf(jms.IllegalStateError, "Cannot %v from a queue session", op)
	}
	return nil
}

func (s *Session) CreateQueue(name string) (jms.Queue, error) {
	if err := s.checkNotTopic("create queue"); err != nil {
		return nil, err
	}
	session, err := s.physical()
	if err != nil {
		return nil, err
	}
	return session.CreateQueue(name)
}

func (s *Session) CreateTopic(name string) (jms.Topic, error) {
	if err := s.checkNotQueue("create topic"); err != nil {
		return nil, err
	}
	session, err := s.physical()
	if err != nil {
		return nil, err
	}
	return session.CreateTopic(name)
}

func (s *Session) CreateTemporaryQueue(ctx context.Context) (jms.TemporaryQueue, error) {
	if err := s.checkNotTopic("create temporary queue"); err != nil {
		return nil, err
	}

	session, release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	temp, err := session.CreateTemporaryQueue(ctx)
	if err != nil {
		return nil, err
	}
	s.addTemporary(temp)
	return temp, nil
}

func (s *Session) CreateTemporaryTopic(ctx context.Context) (jms.TemporaryTopic, error) {
	if err := s.checkNotQueue("create temporary topic"); err != nil {
		return nil, err
	}

	session, release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	temp, err := session.CreateTemporaryTopic(ctx)
	if err != nil {
		return nil, err
	}
	s.addTemporary(temp)
	return temp, nil
}

func (s *Session) addTemporary(temp temporary) {
	s.lock.Lock()
	owner := s.owner
	s.lock.Unlock()
	if owner != nil {
		owner.addTemporary(temp)
	}
}

func (s *Session) CreateProducer(ctx context.Context, dest jms.Destination) (jms.MessageProducer, error) {
	p, err := s.createProducer(ctx, dest)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Session) createProducer(ctx context.Context, dest jms.Destination) (*MessageProducer, error) {
	session, release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	inner, err := session.CreateProducer(ctx, dest)
	if err != nil {
		return nil, err
	}

	p := &MessageProducer{session: s, inner: inner}
	s.addProducer(p)
	return p, nil
}

// Returns a producer for the queue.
func (s *Session) CreateSender(ctx context.Context, queue jms.Queue) (*QueueSender, error) {
	if err := s.checkNotTopic("create sender"); err != nil {
		return nil, err
	}
	p, err := s.createProducer(ctx, queue)
	if err != nil {
		return nil, err
	}
	return &QueueSender{p, queue}, nil
}

// Returns a producer for the topic.
func (s *Session) CreatePublisher(ctx context.Context, topic jms.Topic) (*TopicPublisher, error) {
	if err := s.checkNotQueue("create publisher"); err != nil {
		return nil, err
	}
	p, err := s.createProducer(ctx, topic)
	if err != nil {
		return nil, err
	}
	return &TopicPublisher{p, topic}, nil
}

func (s *Session) CreateConsumer(ctx context.Context, dest jms.Destination, selector string, noLocal bool) (jms.MessageConsumer, error) {
	c, err := s.createConsumer(ctx, dest, selector, noLocal)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Session) createConsumer(ctx context.Context, dest jms.Destination, selector string, noLocal bool) (*MessageConsumer, error) {
	session, release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	inner, err := session.CreateConsumer(ctx, dest, selector, noLocal)
	if err != nil {
		return nil, err
	}

	c := &MessageConsumer{session: s, inner: inner}
	s.addConsumer(c)
	return c, nil
}

// Returns a consumer of the queue.
func (s *Session) CreateReceiver(ctx context.Context, queue jms.Queue, selector string) (*QueueReceiver, error) {
	if err := s.checkNotTopic("create receiver"); err != nil {
		return nil, err
	}
	c, err := s.createConsumer(ctx, queue, selector, false)
	if err != nil {
		return nil, err
	}
	return &QueueReceiver{c, queue}, nil
}

// Returns a non-durable subscriber of the topic.
func (s *Session) CreateSubscriber(ctx context.Context, topic jms.Topic, selector string, noLocal bool) (*TopicSubscriber, error) {
	if err := s.checkNotQueue("create subscriber"); err != nil {
		return nil, err
	}
	c, err := s.createConsumer(ctx, topic, selector, noLocal)
	if err != nil {
		return nil, err
	}
	return &TopicSubscriber{c, topic, noLocal}, nil
}

func (s *Session) CreateDurableSubscriber(ctx context.Context, topic jms.Topic, name string, selector string, noLocal bool) (jms.MessageConsumer, error) {
	if err := s.checkNotQueue("create durable subscriber"); err != nil {
		return nil, err
	}

	session, release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	inner, err := session.CreateDurableSubscriber(ctx, topic, name, selector, noLocal)
	if err != nil {
		return nil, err
	}

	c := &MessageConsumer{session: s, inner: inner}
	s.addConsumer(c)
	return &TopicSubscriber{c, topic, noLocal}, nil
}

func (s *Session) CreateBrowser(ctx context.Context, queue jms.Queue, selector string) (jms.QueueBrowser, error) {
	if err := s.checkNotTopic("create browser"); err != nil {
		return nil, err
	}

	session, release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	inner, err := session.CreateBrowser(ctx, queue, selector)
	if err != nil {
		return nil, err
	}
	return &QueueBrowser{session: s, inner: inner}, nil
}

func (s *Session) Unsubscribe(ctx context.Context, name string) error {
	if err := s.checkNotQueue("unsubscribe"); err != nil {
		return err
	}

	session, release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return session.Unsubscribe(ctx, name)
}

func (s *Session) addProducer(p *MessageProducer) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.producers[p] = struct{}{}
}

func (s *Session) removeProducer(p *MessageProducer) {
	s.lock.Lock()
	defer s.lock.Unlock()
	delete(s.producers, p)
}

func (s *Session) addConsumer(c *MessageConsumer) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.consumers[c] = struct{}{}
}

func (s *Session) removeConsumer(c *MessageConsumer) {
	s.lock.Lock()
	defer s.lock.Unlock()
	delete(s.consumers, c)
}

func (s *Session) start(ctx context.Context) error {
	if mc := s.managedConnection(); mc != nil {
		return mc.Start(ctx)
	}
	return nil
}

func (s *Session) stop(ctx context.Context) error {
	if mc := s.managedConnection(); mc != nil {
		return mc.Stop(ctx)
	}
	return nil
}

// Closes the handle.  The physical session stays with the managed
// connection, which the connection manager may reuse.
func (s *Session) Close(ctx context.Context) error {
	s.lock.Lock()
	owner := s.owner
	s.lock.Unlock()

	if owner != nil {
		owner.removeSession(s)
	}
	return s.closeSession(ctx)
}

func (s *Session) closeSession(ctx context.Context) error {
	s.lock.Lock()
	if s.closed {
		s.lock.Unlock()
		return nil
	}
	s.closed = true
	mc := s.mc
	s.lock.Unlock()

	if mc == nil {
		return nil
	}

	err := mc.Stop(ctx)
	err = common.Or(err, s.closeChildren(ctx))

	mc.removeHandle(s)
	mc.sendEvent(spi.ConnectionClosed, s, nil)

	s.lock.Lock()
	s.mc = nil
	s.lock.Unlock()
	return err
}

func (s *Session) closeChildren(ctx context.Context) error {
	s.lock.Lock()
	consumers := make([]*MessageConsumer, 0, len(s.consumers))
	for c := range s.consumers {
		consumers = append(consumers, c)
	}
	producers := make([]*MessageProducer, 0, len(s.producers))
	for p := range s.producers {
		producers = append(producers, p)
	}
	s.consumers = make(map[*MessageConsumer]struct{})
	s.producers = make(map[*MessageProducer]struct{})
	s.lock.Unlock()

	var err error
	for _, c := range consumers {
		err = common.Or(err, c.closeInner(ctx))
	}
	for _, p := range producers {
		err = common.Or(err, p.closeInner(ctx))
	}
	return err
}

// Invalidates the handle on behalf of its managed connection.
func (s *Session) destroy(ctx context.Context, from *ManagedConnection) {
	s.lock.Lock()
	if s.mc != from {
		s.lock.Unlock()
		return
	}
	s.closed = true
	s.mc = nil
	s.lock.Unlock()

	s.closeChildren(ctx)
}
