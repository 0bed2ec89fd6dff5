// Package amqp is a JMS provider speaking AMQP 1.0.  Sessions are not
// transacted and there is no XA support.
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

var Config = struct {
	Address     string
	User        string
	Password    string
	IdleTimeout string
	Credit      string
}{
	"relay.amqp.address",
	"relay.amqp.user",
	"relay.amqp.password",
	"relay.amqp.idle.timeout",
	"relay.amqp.credit",
}

const (
	defaultAddress     = "amqp://localhost:5672"
	defaultIdleTimeout = time.Minute
	defaultCredit      = 10
)

const (
	ProviderName    = "relay AMQP 1.0 provider"
	ProviderVersion = "1.0"
)

// ConnectionFactory dials an AMQP 1.0 peer.
type ConnectionFactory struct {
	ctx         common.Context
	Address     string
	User        string
	Password    string
	IdleTimeout time.Duration
	Credit      int
}

func NewConnectionFactory(ctx common.Context, addr string) *ConnectionFactory {
	return &ConnectionFactory{
		ctx:         ctx,
		Address:     addr,
		IdleTimeout: defaultIdleTimeout,
		Credit:      defaultCredit,
	}
}

// Returns a factory configured by the relay.amqp keys.
func ConnectionFactoryFromConfig(ctx common.Context) *ConnectionFactory {
	conf := ctx.Config()
	return &ConnectionFactory{
		ctx:         ctx,
		Address:     conf.Optional(Config.Address, defaultAddress),
		User:        conf.Optional(Config.User, ""),
		Password:    conf.Optional(Config.Password, ""),
		IdleTimeout: conf.OptionalDuration(Config.IdleTimeout, defaultIdleTimeout),
		Credit:      conf.OptionalInt(Config.Credit, defaultCredit),
	}
}

func (f *ConnectionFactory) CreateConnection(ctx context.Context) (jms.Connection, error) {
	return f.CreateConnectionWithCredentials(ctx, f.User, f.Password)
}

// The peer is dialed on first use, so a client id may still be set.
func (f *ConnectionFactory) CreateConnectionWithCredentials(ctx context.Context, user, password string) (jms.Connection, error) {
	if f.Credit < 1 {
		return nil, errors.Wrapf(jms.IllegalStateError, "Credit must be positive [%v]", f.Credit)
	}

	id := uuid.NewV4().String()
	return &connection{
		factory:  f,
		id:       id,
		user:     user,
		password: password,
		logger:   f.ctx.Logger().Fmt("AmqpConnection(%v)", id),
		started:  make(chan struct{}),
		sessions: make(map[*session]struct{}),
		closed:   make(chan struct{}),
	}, nil
}

func (f *ConnectionFactory) options(clientID, user, password string) *amqp.ConnOptions {
	opts := &amqp.ConnOptions{
		ContainerID: clientID,
		IdleTimeout: f.IdleTimeout,
		SASLType:    amqp.SASLTypeAnonymous(),
	}
	if user != "" {
		opts.SASLType = amqp.SASLTypePlain(user, password)
	}
	return opts
}

type connection struct {
	factory  *ConnectionFactory
	id       string
	user     string
	password string
	logger   common.Logger

	lock     sync.Mutex
	conn     *amqp.Conn
	clientID string
	listener jms.ExceptionListener
	running  bool
	started  chan struct{}
	sessions map[*session]struct{}
	closed   chan struct{}
	closing  bool
}

func (c *connection) checkOpen() error {
	if c.closing {
		return errors.Wrap(jms.IllegalStateError, "The connection is closed")
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
	if id == "" {
		return errors.Wrap(jms.InvalidClientIDError, "Client id must not be empty")
	}
	if c.conn != nil || c.clientID != "" {
		return errors.Wrap(jms.IllegalStateError, "Client id must be set before the connection is used")
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
	c.listener = l
	return nil
}

// Dials the peer if it has not been dialed yet.
func (c *connection) dial(ctx context.Context) (*amqp.Conn, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if c.conn != nil {
		return c.conn, nil
	}

	clientID := c.clientID
	if clientID == "" {
		clientID = c.id
	}

	conn, err := amqp.Dial(ctx, c.factory.Address, c.factory.options(clientID, c.user, c.password))
	if err != nil {
		return nil, wrap(err, "Error dialing [%v]", c.factory.Address)
	}

	c.conn = conn
	go c.watch(conn)
	c.logger.Info("Connected to [%v]", c.factory.Address)
	return conn, nil
}

// Notifies the exception listener when the peer drops the connection.
func (c *connection) watch(conn *amqp.Conn) {
	select {
	case <-c.closed:
		return
	case <-conn.Done():
	}

	c.lock.Lock()
	listener, closing := c.listener, c.closing
	c.lock.Unlock()
	if closing {
		return
	}

	cause := wrap(conn.Err(), "Connection lost")
	c.logger.Error("Failed: %v", cause)
	c.Close(context.Background())
	if listener != nil {
		listener(cause)
	}
}

func (c *connection) startedSignal() <-chan struct{} {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.started
}

func (c *connection) CreateSession(ctx context.Context, transacted bool, mode jms.AckMode) (jms.Session, error) {
	if transacted || mode == jms.SessionTransacted {
		return nil, errors.Wrap(jms.IllegalStateError, "Transacted sessions are not supported")
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}

	inner, err := conn.NewSession(ctx, nil)
	if err != nil {
		return nil, wrap(err, "Error creating session")
	}

	s := newSession(c, inner, mode)

	c.lock.Lock()
	defer c.lock.Unlock()
	if err := c.checkOpen(); err != nil {
		inner.Close(ctx)
		return nil, err
	}
	c.sessions[s] = struct{}{}
	return s, nil
}

func (c *connection) removeSession(s *session) {
	c.lock.Lock()
	defer c.lock.Unlock()
	delete(c.sessions, s)
}

func (c *connection) Start(ctx context.Context) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}
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

func (c *connection) Close(ctx context.Context) error {
	c.lock.Lock()
	if c.closing {
		c.lock.Unlock()
		return nil
	}
	c.closing = true
	close(c.closed)
	conn := c.conn
	sessions := make([]*session, 0, len(c.sessions))
	for s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.lock.Unlock()

	var err error
	for _, s := range sessions {
		err = common.Or(err, s.Close(ctx))
	}
	if conn != nil {
		if e := conn.Close(); e != nil {
			err = common.Or(err, wrap(e, "Error closing connection"))
		}
	}
	return err
}
