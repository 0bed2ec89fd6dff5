package ra

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/pkopriv2/relay/common"
	"github.com/pkopriv2/relay/jms"
	"github.com/pkopriv2/relay/spi"
)

// ConnectionFactory is the application's entry point to the adapter.  Its
// connections allocate sessions through a connection manager.
type ConnectionFactory struct {
	mcf *ManagedConnectionFactory
	cm  spi.ConnectionManager
}

func (f *ConnectionFactory) CreateConnection(ctx context.Context) (jms.Connection, error) {
	return f.newConnection(f.mcf.props.SessionDefaultType, "", ""), nil
}

func (f *ConnectionFactory) CreateConnectionWithCredentials(ctx context.Context, user, password string) (jms.Connection, error) {
	return f.newConnection(f.mcf.props.SessionDefaultType, user, password), nil
}

func (f *ConnectionFactory) CreateQueueConnection(ctx context.Context) (*Connection, error) {
	return f.newConnection(Queue, "", ""), nil
}

func (f *ConnectionFactory) CreateQueueConnectionWithCredentials(ctx context.Context, user, password string) (*Connection, error) {
	return f.newConnection(Queue, user, password), nil
}

func (f *ConnectionFactory) CreateTopicConnection(ctx context.Context) (*Connection, error) {
	return f.newConnection(Topic, "", ""), nil
}

func (f *ConnectionFactory) CreateTopicConnectionWithCredentials(ctx context.Context, user, password string) (*Connection, error) {
	return f.newConnection(Topic, user, password), nil
}

func (f *ConnectionFactory) newConnection(typ SessionType, user, password string) *Connection {
	return &Connection{
		mcf:      f.mcf,
		cm:       f.cm,
		typ:      typ,
		user:     user,
		password: password,
		logger:   f.mcf.logger.Fmt("Connection"),
		sessions: make(map[*Session]struct{})}
}

// Connection hands out session handles.  It owns no physical resources
// of its own.
type Connection struct {
	mcf      *ManagedConnectionFactory
	cm       spi.ConnectionManager
	typ      SessionType
	user     string
	password string
	logger   common.Logger

	// serializes Start, Stop and session registration
	state sync.Mutex

	lock     sync.Mutex
	clientID string
	listener jms.ExceptionListener
	sessions map[*Session]struct{}
	temps    []temporary
	started  bool
	closed   bool
}

type temporary interface {
	Delete(ctx context.Context) error
}

func (c *Connection) checkClosed() error {
	if c.closed {
		return errors.Wrap(jms.IllegalStateError, "The connection is closed")
	}
	return nil
}

func (c *Connection) checkStrict() error {
	if c.mcf.props.Strict {
		return errors.Wrap(jms.IllegalStateError, "Method not allowed")
	}
	return nil
}

func (c *Connection) ClientID() string {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.clientID != "" {
		return c.clientID
	}
	return c.mcf.props.ClientID
}

func (c *Connection) SetClientID(id string) error {
	if err := c.checkStrict(); err != nil {
		return err
	}

	c.lock.Lock()
	defer c.lock.Unlock()
	if err := c.checkClosed(); err != nil {
		return err
	}
	if len(c.sessions) > 0 {
		return errors.Wrap(jms.IllegalStateError, "Client id can only be set before sessions are created")
	}
	c.clientID = id
	return nil
}

func (c *Connection) MetaData() (jms.ConnectionMetaData, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if err := c.checkClosed(); err != nil {
		return jms.ConnectionMetaData{}, err
	}
	return jms.ConnectionMetaData{
		JMSVersion:      "1.1",
		JMSMajorVersion: 1,
		JMSMinorVersion: 1,
		ProviderName:    ProductName,
		ProviderVersion: ProductVersion,
	}, nil
}

func (c *Connection) ExceptionListener() jms.ExceptionListener {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.listener
}

func (c *Connection) SetExceptionListener(l jms.ExceptionListener) error {
	if err := c.checkStrict(); err != nil {
		return err
	}

	c.lock.Lock()
	defer c.lock.Unlock()
	if err := c.checkClosed(); err != nil {
		return err
	}
	c.listener = l
	return nil
}

func (c *Connection) CreateSession(ctx context.Context, transacted bool, mode jms.AckMode) (jms.Session, error) {
	return c.allocate(ctx, c.typ, transacted, mode)
}

func (c *Connection) CreateQueueSession(ctx context.Context, transacted bool, mode jms.AckMode) (*Session, error) {
	if c.typ == Topic {
		return nil, errors.Wrap(jms.IllegalStateError, "Cannot create a queue session from a topic connection")
	}
	return c.allocate(ctx, Queue, transacted, mode)
}

func (c *Connection) CreateTopicSession(ctx context.Context, transacted bool, mode jms.AckMode) (*Session, error) {
	if c.typ == Queue {
		return nil, errors.Wrap(jms.IllegalStateError, "Cannot create a topic session from a queue connection")
	}
	return c.allocate(ctx, Topic, transacted, mode)
}

// Connection consumers deliver outside the connection manager's control.
func (c *Connection) CreateConnectionConsumer(ctx context.Context, dest jms.Destination, selector string, maxMessages int) error {
	return errors.Wrap(jms.IllegalStateError, "Method not allowed")
}

func (c *Connection) allocate(ctx context.Context, typ SessionType, transacted bool, mode jms.AckMode) (*Session, error) {
	c.lock.Lock()
	if err := c.checkClosed(); err != nil {
		c.lock.Unlock()
		return nil, err
	}
	if c.mcf.props.Strict && len(c.sessions) > 0 {
		c.lock.Unlock()
		return nil, errors.Wrap(jms.IllegalStateError, "Only allowed one session per connection")
	}

	info := NewRequestInfo(typ, transacted, mode)
	info.UserName = c.user
	info.Password = c.password
	info.ClientID = c.clientID
	info.SetDefaults(c.mcf.props)
	c.lock.Unlock()

	handle, err := c.cm.AllocateConnection(ctx, c.mcf, info)
	if err != nil {
		return nil, err
	}

	session, ok := handle.(*Session)
	if !ok {
		return nil, errors.Errorf("Connection manager returned unexpected handle [%T]", handle)
	}
	session.setOwner(c)

	// Start and Stop may have run while allocating.
	c.state.Lock()
	defer c.state.Unlock()

	c.lock.Lock()
	if c.closed {
		c.lock.Unlock()
		session.closeSession(ctx)
		return nil, errors.Wrap(jms.IllegalStateError, "The connection is closed")
	}
	c.sessions[session] = struct{}{}
	started := c.started
	c.lock.Unlock()

	if started {
		if err := session.start(ctx); err != nil {
			session.Close(ctx)
			return nil, err
		}
	}
	c.logger.Debug("Allocated session [%v]", info)
	return session, nil
}

func (c *Connection) removeSession(s *Session) {
	c.lock.Lock()
	defer c.lock.Unlock()
	delete(c.sessions, s)
}

func (c *Connection) addTemporary(t temporary) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.temps = append(c.temps, t)
}

func (c *Connection) snapshot() []*Session {
	ret := make([]*Session, 0, len(c.sessions))
	for s := range c.sessions {
		ret = append(ret, s)
	}
	return ret
}

func (c *Connection) Start(ctx context.Context) error {
	c.state.Lock()
	defer c.state.Unlock()

	c.lock.Lock()
	if err := c.checkClosed(); err != nil {
		c.lock.Unlock()
		return err
	}
	c.started = true
	sessions := c.snapshot()
	c.lock.Unlock()

	var err error
	for _, s := range sessions {
		err = common.Or(err, s.start(ctx))
	}
	return err
}

func (c *Connection) Stop(ctx context.Context) error {
	if err := c.checkStrict(); err != nil {
		return err
	}

	c.state.Lock()
	defer c.state.Unlock()

	c.lock.Lock()
	if err := c.checkClosed(); err != nil {
		c.lock.Unlock()
		return err
	}
	c.started = false
	sessions := c.snapshot()
	c.lock.Unlock()

	var err error
	for _, s := range sessions {
		err = common.Or(err, s.stop(ctx))
	}
	return err
}

func (c *Connection) Close(ctx context.Context) error {
	c.lock.Lock()
	if c.closed {
		c.lock.Unlock()
		return nil
	}
	c.closed = true
	sessions := c.snapshot()
	c.sessions = make(map[*Session]struct{})
	temps := c.temps
	c.temps = nil
	c.lock.Unlock()

	var err error
	for _, s := range sessions {
		if e := s.closeSession(ctx); e != nil {
			c.logger.Error("Error closing session: %v", e)
			err = common.Or(err, e)
		}
	}
	for _, t := range temps {
		if e := t.Delete(ctx); e != nil {
			c.logger.Error("Error deleting temporary destination: %v", e)
		}
	}
	return err
}
