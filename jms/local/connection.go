package local

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/pkopriv2/relay/common"
	"github.com/pkopriv2/relay/jms"
	uuid "github.com/satori/go.uuid"
)

// ConnectionFactory creates connections to a broker.  It supports both
// plain and XA connections.
type ConnectionFactory struct {
	broker *Broker
}

func NewConnectionFactory(b *Broker) *ConnectionFactory {
	return &ConnectionFactory{b}
}

func (f *ConnectionFactory) CreateConnection(ctx context.Context) (jms.Connection, error) {
	return f.CreateConnectionWithCredentials(ctx, "", "")
}

func (f *ConnectionFactory) CreateConnectionWithCredentials(ctx context.Context, user, password string) (jms.Connection, error) {
	return f.broker.connect(user, password)
}

func (f *ConnectionFactory) CreateXAConnection(ctx context.Context) (jms.XAConnection, error) {
	return f.CreateXAConnectionWithCredentials(ctx, "", "")
}

func (f *ConnectionFactory) CreateXAConnectionWithCredentials(ctx context.Context, user, password string) (jms.XAConnection, error) {
	return f.broker.connect(user, password)
}

// Returns a factory that only offers plain connections.
func (f *ConnectionFactory) Plain() jms.ConnectionFactory {
	return &plainFactory{f}
}

type plainFactory struct {
	inner *ConnectionFactory
}

func (p *plainFactory) CreateConnection(ctx context.Context) (jms.Connection, error) {
	return p.inner.CreateConnection(ctx)
}

func (p *plainFactory) CreateConnectionWithCredentials(ctx context.Context, user, password string) (jms.Connection, error) {
	return p.inner.CreateConnectionWithCredentials(ctx, user, password)
}

type connection struct {
	broker *Broker
	id     string
	user   string
	logger common.Logger

	lock     sync.Mutex
	clientID string
	used     bool
	started  chan struct{}
	running  bool
	listener jms.ExceptionListener
	sessions map[*session]struct{}
	temps    map[string]struct{}
	closed   bool
}

func newConnection(b *Broker, user string) *connection {
	id := uuid.NewV4().String()
	return &connection{
		broker:   b,
		id:       id,
		user:     user,
		logger:   b.logger.Fmt("Connection(%v)", id[:8]),
		started:  make(chan struct{}),
		sessions: make(map[*session]struct{}),
		temps:    make(map[string]struct{})}
}

func (c *connection) checkOpen() error {
	if c.closed {
		return errors.Wrap(jms.IllegalStateError, "Connection closed")
	}
	return nil
}

func (c *connection) ClientID() string {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.clientID
}

func (c *connection) SetClientID(id string) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}
	if c.clientID != "" || c.used {
		return errors.Wrap(jms.IllegalStateError, "Client id can only be set on a new connection")
	}
	if id == "" {
		return errors.Wrap(jms.InvalidClientIDError, "Client id must not be empty")
	}
	if err := c.broker.claimClientID(c, id); err != nil {
		return err
	}
	c.clientID = id
	return nil
}

func (c *connection) MetaData() (jms.ConnectionMetaData, error) {
	return jms.ConnectionMetaData{
		JMSVersion:      "1.1",
		JMSMajorVersion: 1,
		JMSMinorVersion: 1,
		ProviderName:    ProviderName,
		ProviderVersion: ProviderVersion,
	}, nil
}

func (c *connection) ExceptionListener() jms.ExceptionListener {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.listener
}

func (c *connection) SetExceptionListener(l jms.ExceptionListener) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}
	c.used = true
	c.listener = l
	return nil
}

func (c *connection) CreateSession(ctx context.Context, transacted bool, mode jms.AckMode) (jms.Session, error) {
	return c.newSession(transacted, mode, false)
}

// XA sessions are transacted.  Outside a branch their work is committed
// locally.
func (c *connection) CreateXASession(ctx context.Context) (jms.XASession, error) {
	return c.newSession(true, jms.SessionTransacted, true)
}

func (c *connection) newSession(transacted bool, mode jms.AckMode, xa bool) (*session, error) {
	if !transacted && !xa {
		switch mode {
		default:
			return nil, errors.Errorf("Invalid acknowledge mode [%v]", mode)
		case jms.AutoAcknowledge, jms.ClientAcknowledge, jms.DupsOkAcknowledge:
		}
	}

	c.lock.Lock()
	defer c.lock.Unlock()
	if err := c.checkOpen(); err != nil {
		return nil, err
	}

	c.used = true
	s := newSession(c, transacted, mode, xa)
	c.sessions[s] = struct{}{}
	return s, nil
}

func (c *connection) removeSession(s *session) {
	c.lock.Lock()
	defer c.lock.Unlock()
	delete(c.sessions, s)
}

// Returns a channel that is closed while the connection is started.
func (c *connection) startedSignal() <-chan struct{} {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.started
}

func (c *connection) Start(ctx context.Context) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}
	c.used = true
	if !c.running {
		c.running = true
		close(c.started)
	}
	return nil
}

func (c *connection) Stop(ctx context.Context) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}
	if c.running {
		c.running = false
		c.started = make(chan struct{})
	}
	return nil
}

func (c *connection) createTemporary(prefix string, queue bool) string {
	name := c.broker.createTemporary(c, prefix, queue)

	c.lock.Lock()
	defer c.lock.Unlock()
	c.temps[name] = struct{}{}
	return name
}

func (c *connection) deleteTemporary(name string) error {
	if err := c.broker.deleteTemporary(c, name); err != nil {
		return err
	}

	c.lock.Lock()
	defer c.lock.Unlock()
	delete(c.temps, name)
	return nil
}

func (c *connection) Close(ctx context.Context) error {
	c.lock.Lock()
	if c.closed {
		c.lock.Unlock()
		return nil
	}
	c.closed = true
	if !c.running {
		close(c.started)
	}
	sessions := make([]*session, 0, len(c.sessions))
	for s := range c.sessions {
		sessions = append(sessions, s)
	}
	temps := make([]string, 0, len(c.temps))
	for t := range c.temps {
		temps = append(temps, t)
	}
	c.lock.Unlock()

	var err error
	for _, s := range sessions {
		err = common.Or(err, s.Close(ctx))
	}
	for _, t := range temps {
		c.broker.deleteTemporary(c, t)
	}

	c.broker.disconnect(c)
	c.logger.Debug("Closed")
	return err
}

// Closes the connection and reports the cause to its exception listener.
func (c *connection) fail(cause error) {
	c.lock.Lock()
	listener := c.listener
	closed := c.closed
	c.lock.Unlock()
	if closed {
		return
	}

	c.logger.Error("Failed: %v", cause)
	c.Close(context.Background())
	if listener != nil {
		go listener(cause)
	}
}
