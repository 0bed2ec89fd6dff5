package ra

import (
	"context"
	"testing"
	"time"

	"github.com/pkopriv2/relay/common"
	"github.com/pkopriv2/relay/jms"
	"github.com/pkopriv2/relay/spi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionFactory_SendReceive(t *testing.T) {
	f := newFixture(t, DefaultProperties(), false)
	defer f.Close()

	cf := f.mcf.CreateConnectionFactory(nil)
	conn, err := cf.CreateConnection(context.Background())
	require.Nil(t, err)
	defer conn.Close(context.Background())

	require.Nil(t, conn.Start(context.Background()))

	session, err := conn.CreateSession(context.Background(), false, jms.AutoAcknowledge)
	require.Nil(t, err)

	queue, err := session.CreateQueue("q")
	require.Nil(t, err)

	producer, err := session.CreateProducer(context.Background(), queue)
	require.Nil(t, err)

	msg, err := session.CreateTextMessage("hello")
	require.Nil(t, err)
	require.Nil(t, msg.SetStringProperty("k", "v"))
	require.Nil(t, producer.Send(context.Background(), msg))
	assert.NotEmpty(t, msg.MessageID())

	consumer, err := session.CreateConsumer(context.Background(), queue, "k = 'v'", false)
	require.Nil(t, err)

	received, err := consumer.ReceiveTimeout(context.Background(), time.Second)
	require.Nil(t, err)
	require.NotNil(t, received)

	text, ok := received.(*TextMessage)
	require.True(t, ok)
	body, err := text.Text()
	require.Nil(t, err)
	assert.Equal(t, "hello", body)
	assert.NotNil(t, text.Unwrap())

	require.Nil(t, session.Close(context.Background()))
	assert.True(t, jms.Is(received.Acknowledge(context.Background()), jms.IllegalStateError))
	assert.Equal(t, int64(1), f.mcf.stats.destroyed.Count())
}

func TestConnection_StrictRestrictions(t *testing.T) {
	f := newFixture(t, DefaultProperties(), false)
	defer f.Close()

	conn, err := f.mcf.CreateConnectionFactory(nil).CreateConnection(context.Background())
	require.Nil(t, err)
	defer conn.Close(context.Background())

	assert.True(t, jms.Is(conn.SetClientID("id"), jms.IllegalStateError))
	assert.True(t, jms.Is(conn.SetExceptionListener(func(error) {}), jms.IllegalStateError))
	assert.True(t, jms.Is(conn.Stop(context.Background()), jms.IllegalStateError))

	session, err := conn.CreateSession(context.Background(), false, jms.AutoAcknowledge)
	require.Nil(t, err)

	_, err = conn.CreateSession(context.Background(), false, jms.AutoAcknowledge)
	assert.True(t, jms.Is(err, jms.IllegalStateError))

	consumer, err := session.CreateConsumer(context.Background(), jms.NewQueue("q"), "", false)
	require.Nil(t, err)
	assert.True(t, jms.Is(consumer.SetMessageListener(func(jms.Message) {}), jms.IllegalStateError))
	assert.True(t, jms.Is(session.SetMessageListener(func(jms.Message) {}), jms.IllegalStateError))

	require.Nil(t, session.Close(context.Background()))
	_, err = conn.CreateSession(context.Background(), false, jms.AutoAcknowledge)
	assert.Nil(t, err)

	assert.True(t, jms.Is(conn.(*Connection).CreateConnectionConsumer(context.Background(), jms.NewQueue("q"), "", 1), jms.IllegalStateError))
}

func TestConnection_NonStrictListener(t *testing.T) {
	props := DefaultProperties()
	props.Strict = false

	f := newFixture(t, props, false)
	defer f.Close()

	conn, err := f.mcf.CreateConnectionFactory(nil).CreateConnection(context.Background())
	require.Nil(t, err)
	defer conn.Close(context.Background())

	other, err := f.mcf.CreateConnectionFactory(nil).CreateConnection(context.Background())
	require.Nil(t, err)
	defer other.Close(context.Background())
	require.Nil(t, other.SetClientID("client"))
	assert.Equal(t, "client", other.ClientID())

	s1, err := conn.CreateSession(context.Background(), false, jms.AutoAcknowledge)
	require.Nil(t, err)
	s2, err := conn.CreateSession(context.Background(), false, jms.AutoAcknowledge)
	require.Nil(t, err)
	require.Nil(t, conn.Start(context.Background()))

	consumer, err := s1.CreateConsumer(context.Background(), jms.NewQueue("q"), "", false)
	require.Nil(t, err)

	received := make(chan jms.Message, 1)
	require.Nil(t, consumer.SetMessageListener(func(m jms.Message) {
		received <- m
	}))

	producer, err := s2.CreateProducer(context.Background(), jms.NewQueue("q"))
	require.Nil(t, err)
	require.Nil(t, producer.Send(context.Background(), jms.NewTextMessage("async")))

	select {
	case m := <-received:
		_, ok := m.(*TextMessage)
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fail()
	}
}

func TestConnection_SessionTypes(t *testing.T) {
	f := newFixture(t, DefaultProperties(), false)
	defer f.Close()

	cf := f.mcf.CreateConnectionFactory(nil)

	qc, err := cf.CreateQueueConnection(context.Background())
	require.Nil(t, err)
	defer qc.Close(context.Background())

	_, err = qc.CreateTopicSession(context.Background(), false, jms.AutoAcknowledge)
	assert.True(t, jms.Is(err, jms.IllegalStateError))

	qs, err := qc.CreateQueueSession(context.Background(), false, jms.AutoAcknowledge)
	require.Nil(t, err)
	assert.Equal(t, Queue, qs.Type())

	_, err = qs.CreateTopic("t")
	assert.True(t, jms.Is(err, jms.IllegalStateError))
	_, err = qs.CreatePublisher(context.Background(), jms.NewTopic("t"))
	assert.True(t, jms.Is(err, jms.IllegalStateError))
	assert.True(t, jms.Is(qs.Unsubscribe(context.Background(), "x"), jms.IllegalStateError))

	sender, err := qs.CreateSender(context.Background(), jms.NewQueue("q"))
	require.Nil(t, err)
	assert.Equal(t, "q", sender.Queue().Name())
	require.Nil(t, sender.Send(context.Background(), jms.NewTextMessage("x")))

	browser, err := qs.CreateBrowser(context.Background(), jms.NewQueue("q"), "")
	require.Nil(t, err)
	msgs, err := browser.Enumerate(context.Background())
	require.Nil(t, err)
	assert.Equal(t, 1, len(msgs))

	tc, err := cf.CreateTopicConnection(context.Background())
	require.Nil(t, err)
	defer tc.Close(context.Background())

	ts, err := tc.CreateTopicSession(context.Background(), false, jms.AutoAcknowledge)
	require.Nil(t, err)

	_, err = ts.CreateQueue("q")
	assert.True(t, jms.Is(err, jms.IllegalStateError))
	_, err = ts.CreateTemporaryQueue(context.Background())
	assert.True(t, jms.Is(err, jms.IllegalStateError))
	_, err = ts.CreateBrowser(context.Background(), jms.NewQueue("q"), "")
	assert.True(t, jms.Is(err, jms.IllegalStateError))

	sub, err := ts.CreateSubscriber(context.Background(), jms.NewTopic("t"), "", true)
	require.Nil(t, err)
	assert.True(t, sub.NoLocal())
	assert.Equal(t, "t", sub.Topic().Name())

	publisher, err := ts.CreatePublisher(context.Background(), jms.NewTopic("t"))
	require.Nil(t, err)
	require.Nil(t, publisher.Publish(context.Background(), jms.NewTextMessage("x")))
}

func TestConnection_TransactedSession(t *testing.T) {
	f := newFixture(t, DefaultProperties(), false)
	defer f.Close()

	conn, err := f.mcf.CreateConnectionFactory(nil).CreateConnection(context.Background())
	require.Nil(t, err)
	defer conn.Close(context.Background())

	session, err := conn.CreateSession(context.Background(), true, jms.ClientAcknowledge)
	require.Nil(t, err)
	assert.Equal(t, jms.SessionTransacted, session.AcknowledgeMode())
	assert.True(t, jms.Is(session.Recover(context.Background()), jms.IllegalStateError))

	producer, err := session.CreateProducer(context.Background(), jms.NewQueue("q"))
	require.Nil(t, err)
	require.Nil(t, producer.Send(context.Background(), jms.NewTextMessage("x")))
	assert.Equal(t, 0, f.broker.QueueDepth("q"))

	require.Nil(t, session.Commit(context.Background()))
	assert.Equal(t, 1, f.broker.QueueDepth("q"))

	require.Nil(t, producer.Close(context.Background()))
	assert.True(t, jms.Is(producer.Send(context.Background(), jms.NewTextMessage("y")), jms.IllegalStateError))
}

func TestConnection_CloseDeletesTemporaries(t *testing.T) {
	f := newFixture(t, DefaultProperties(), false)
	defer f.Close()

	conn, err := f.mcf.CreateConnectionFactory(nil).CreateConnection(context.Background())
	require.Nil(t, err)

	session, err := conn.CreateSession(context.Background(), false, jms.AutoAcknowledge)
	require.Nil(t, err)

	temp, err := session.CreateTemporaryQueue(context.Background())
	require.Nil(t, err)
	assert.Equal(t, 1, len(conn.(*Connection).temps))

	require.Nil(t, conn.Close(context.Background()))
	require.Nil(t, conn.Close(context.Background()))
	assert.Equal(t, 0, f.broker.QueueDepth(temp.Name()))

	_, err = conn.CreateSession(context.Background(), false, jms.AutoAcknowledge)
	assert.True(t, jms.Is(err, jms.IllegalStateError))
	_, err = conn.MetaData()
	assert.True(t, jms.Is(err, jms.IllegalStateError))
}

type lazyManager struct {
	allocations int
	mcs         []*ManagedConnection
}

func (l *lazyManager) AllocateConnection(ctx context.Context, mcf spi.ManagedConnectionFactory, info spi.ConnectionRequestInfo) (spi.Handle, error) {
	l.allocations++
	mc, err := mcf.CreateManagedConnection(ctx, nil, info)
	if err != nil {
		return nil, err
	}
	l.mcs = append(l.mcs, mc.(*ManagedConnection))
	return mc.Connection(ctx, nil, info)
}

func (l *lazyManager) AssociateConnection(ctx context.Context, handle spi.Handle, mcf spi.ManagedConnectionFactory, info spi.ConnectionRequestInfo) error {
	return l.mcs[0].AssociateConnection(handle)
}

func TestSession_LazyAssociation(t *testing.T) {
	f := newFixture(t, DefaultProperties(), false)
	defer f.Close()

	cm := &lazyManager{}
	conn, err := f.mcf.CreateConnectionFactory(cm).CreateConnection(context.Background())
	require.Nil(t, err)
	defer conn.Close(context.Background())

	session, err := conn.CreateSession(context.Background(), false, jms.AutoAcknowledge)
	require.Nil(t, err)

	mc := cm.mcs[0]
	require.Nil(t, mc.DissociateConnections())
	assert.Nil(t, session.(*Session).ManagedConnection())

	producer, err := session.CreateProducer(context.Background(), jms.NewQueue("q"))
	require.Nil(t, err)
	assert.Equal(t, mc, session.(*Session).ManagedConnection())
	require.Nil(t, producer.Send(context.Background(), jms.NewTextMessage("x")))
	assert.Equal(t, 1, f.broker.QueueDepth("q"))
}

func TestManagedConnectionFactory_Match(t *testing.T) {
	f := newFixture(t, DefaultProperties(), false)
	defer f.Close()

	info := autoAck()
	mc := f.managed(t, info)
	defer mc.Destroy(context.Background())

	found, err := f.mcf.MatchManagedConnections([]spi.ManagedConnection{mc}, nil, autoAck())
	require.Nil(t, err)
	assert.Equal(t, mc, found)

	found, err = f.mcf.MatchManagedConnections([]spi.ManagedConnection{mc}, nil, NewRequestInfo(Agnostic, true, jms.AutoAcknowledge))
	require.Nil(t, err)
	assert.Nil(t, found)

	props := DefaultProperties()
	props.UseTryLock = 5
	other, err := NewManagedConnectionFactory(f.ctx, props, f.mcf.provider)
	require.Nil(t, err)

	found, err = other.MatchManagedConnections([]spi.ManagedConnection{mc}, nil, autoAck())
	require.Nil(t, err)
	assert.Nil(t, found)

	twin, err := NewManagedConnectionFactory(f.ctx, DefaultProperties(), f.mcf.provider)
	require.Nil(t, err)
	assert.True(t, twin.Equals(f.mcf))
	assert.False(t, other.Equals(f.mcf))
}

func TestManagedConnectionFactory_SubjectCredentials(t *testing.T) {
	f := newFixture(t, DefaultProperties(), false)
	defer f.Close()

	subject := spi.NewSubject(spi.PasswordCredential{UserName: "guest", Password: "pw", Factory: f.mcf})
	mc, err := f.mcf.CreateManagedConnection(context.Background(), subject, autoAck())
	require.Nil(t, err)
	defer mc.Destroy(context.Background())
	assert.Equal(t, "guest", mc.(*ManagedConnection).UserName())

	found, err := f.mcf.MatchManagedConnections([]spi.ManagedConnection{mc}, subject, autoAck())
	require.Nil(t, err)
	assert.Equal(t, mc, found)

	_, err = f.mcf.CreateManagedConnection(context.Background(), spi.NewSubject(), autoAck())
	assert.Equal(t, spi.SecurityError, spi.Extract(err))
}

func TestManagedConnectionFactory_ProviderFailure(t *testing.T) {
	f := newFixture(t, DefaultProperties(), false)
	defer f.Close()

	f.broker.AddUser("guest", "secret")

	info := autoAck()
	info.UserName = "guest"
	info.Password = "wrong"
	_, err := f.mcf.CreateManagedConnection(context.Background(), nil, info)
	require.NotNil(t, err)

	_, ok := err.(*spi.ResourceError)
	assert.True(t, ok)
	assert.True(t, jms.Is(err, jms.SecurityError))
}

func TestPropertiesFromConfig(t *testing.T) {
	config := common.NewConfig(map[string]interface{}{
		Config.SessionType: "queue",
		Config.UserName:    "guest",
		Config.Strict:      false,
		Config.TryLock:     3,
	})

	props, err := PropertiesFromConfig(config)
	require.Nil(t, err)
	assert.Equal(t, Queue, props.SessionDefaultType)
	assert.Equal(t, "guest", props.UserName)
	assert.False(t, props.Strict)
	assert.Equal(t, 3, props.UseTryLock)

	_, err = PropertiesFromConfig(common.NewConfig(map[string]interface{}{Config.SessionType: "bogus"}))
	assert.Equal(t, spi.InvalidPropertyError, spi.Extract(err))

	props, err = PropertiesFromConfig(common.NewEmptyConfig())
	require.Nil(t, err)
	assert.True(t, props.Strict)
}

type gatedManager struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gatedManager) AllocateConnection(ctx context.Context, mcf spi.ManagedConnectionFactory, info spi.ConnectionRequestInfo) (spi.Handle, error) {
	close(g.entered)
	<-g.release
	return (&unpooledManager{}).AllocateConnection(ctx, mcf, info)
}

func TestConnection_StartWhileAllocating(t *testing.T) {
	f := newFixture(t, DefaultProperties(), false)
	defer f.Close()

	cm := &gatedManager{make(chan struct{}), make(chan struct{})}
	conn, err := f.mcf.CreateConnectionFactory(cm).CreateConnection(context.Background())
	require.Nil(t, err)
	defer conn.Close(context.Background())

	type result struct {
		session jms.Session
		err     error
	}

	done := make(chan result, 1)
	go func() {
		s, err := conn.CreateSession(context.Background(), false, jms.AutoAcknowledge)
		done <- result{s, err}
	}()

	<-cm.entered
	require.Nil(t, conn.Start(context.Background()))
	close(cm.release)

	r := <-done
	require.Nil(t, r.err)
	session := r.session

	producer, err := session.CreateProducer(context.Background(), jms.NewQueue("q"))
	require.Nil(t, err)
	require.Nil(t, producer.Send(context.Background(), jms.NewTextMessage("x")))

	consumer, err := session.CreateConsumer(context.Background(), jms.NewQueue("q"), "", false)
	require.Nil(t, err)

	msg, err := consumer.ReceiveTimeout(context.Background(), time.Second)
	require.Nil(t, err)
	assert.NotNil(t, msg)
}
