package local

import (
	"context"
	"testing"
	"time"

	"github.com/pkopriv2/relay/common"
	"github.com/pkopriv2/relay/jms"
	"github.com/pkopriv2/relay/stash"
	"github.com/pkopriv2/relay/xa"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBroker(t *testing.T) (common.Context, *Broker) {
	ctx := common.NewEmptyContext()
	broker, err := NewBroker(ctx)
	require.Nil(t, err)
	return ctx, broker
}

func newStartedConnection(t *testing.T, b *Broker) *connection {
	conn, err := b.connect("", "")
	require.Nil(t, err)
	require.Nil(t, conn.Start(context.Background()))
	return conn
}

func sendText(t *testing.T, s jms.Session, dest jms.Destination, text string) jms.Message {
	p, err := s.CreateProducer(context.Background(), dest)
	require.Nil(t, err)
	defer p.Close(context.Background())

	msg := jms.NewTextMessage(text)
	require.Nil(t, p.Send(context.Background(), msg))
	return msg
}

func receiveText(t *testing.T, c jms.MessageConsumer) string {
	msg, err := c.ReceiveTimeout(context.Background(), time.Second)
	require.Nil(t, err)
	require.NotNil(t, msg)

	text, err := msg.(jms.TextMessage).Text()
	require.Nil(t, err)
	return text
}

func TestBroker_QueueSendReceive(t *testing.T) {
	ctx, broker := newTestBroker(t)
	defer ctx.Close()

	conn := newStartedConnection(t, broker)
	defer conn.Close(context.Background())

	session, err := conn.CreateSession(context.Background(), false, jms.AutoAcknowledge)
	require.Nil(t, err)

	queue := jms.NewQueue("orders")
	sent := sendText(t, session, queue, "hello")
	assert.NotEmpty(t, sent.MessageID())
	assert.Equal(t, 1, broker.QueueDepth("orders"))

	consumer, err := session.CreateConsumer(context.Background(), queue, "", false)
	require.Nil(t, err)
	assert.Equal(t, "hello", receiveText(t, consumer))
	assert.Equal(t, 0, broker.QueueDepth("orders"))

	msg, err := consumer.ReceiveNoWait(context.Background())
	assert.Nil(t, err)
	assert.Nil(t, msg)
}

func TestBroker_ReceivedMessageIsReadOnly(t *testing.T) {
	ctx, broker := newTestBroker(t)
	defer ctx.Close()

	conn := newStartedConnection(t, broker)
	defer conn.Close(context.Background())

	session, err := conn.CreateSession(context.Background(), false, jms.AutoAcknowledge)
	require.Nil(t, err)

	queue := jms.NewQueue("q")
	sent := sendText(t, session, queue, "a")
	require.Nil(t, sent.SetStringProperty("late", "change"))

	consumer, err := session.CreateConsumer(context.Background(), queue, "", false)
	require.Nil(t, err)

	msg, err := consumer.ReceiveTimeout(context.Background(), time.Second)
	require.Nil(t, err)
	assert.False(t, msg.PropertyExists("late"))
	assert.True(t, jms.Is(msg.SetStringProperty("x", "y"), jms.MessageNotWriteableError))
}

func TestBroker_PriorityOrdering(t *testing.T) {
	ctx, broker := newTestBroker(t)
	defer ctx.Close()

	conn := newStartedConnection(t, broker)
	defer conn.Close(context.Background())

	session, err := conn.CreateSession(context.Background(), false, jms.AutoAcknowledge)
	require.Nil(t, err)

	queue := jms.NewQueue("q")
	producer, err := session.CreateProducer(context.Background(), queue)
	require.Nil(t, err)
	require.Nil(t, producer.SendWith(context.Background(), jms.NewTextMessage("low"), jms.Persistent, 1, 0))
	require.Nil(t, producer.SendWith(context.Background(), jms.NewTextMessage("high"), jms.Persistent, 9, 0))
	require.Nil(t, producer.SendWith(context.Background(), jms.NewTextMessage("low2"), jms.Persistent, 1, 0))

	consumer, err := session.CreateConsumer(context.Background(), queue, "", false)
	require.Nil(t, err)
	assert.Equal(t, "high", receiveText(t, consumer))
	assert.Equal(t, "low", receiveText(t, consumer))
	assert.Equal(t, "low2", receiveText(t, consumer))

	assert.NotNil(t, producer.SetPriority(10))
}

func TestBroker_Expiration(t *testing.T) {
	ctx, broker := newTestBroker(t)
	defer ctx.Close()

	conn := newStartedConnection(t, broker)
	defer conn.Close(context.Background())

	session, err := conn.CreateSession(context.Background(), false, jms.AutoAcknowledge)
	require.Nil(t, err)

	queue := jms.NewQueue("q")
	producer, err := session.CreateProducer(context.Background(), queue)
	require.Nil(t, err)
	require.Nil(t, producer.SendWith(context.Background(), jms.NewTextMessage("gone"), jms.Persistent, 4, time.Millisecond))

	time.Sleep(10 * time.Millisecond)

	consumer, err := session.CreateConsumer(context.Background(), queue, "", false)
	require.Nil(t, err)
	msg, err := consumer.ReceiveNoWait(context.Background())
	assert.Nil(t, err)
	assert.Nil(t, msg)
	assert.Equal(t, int64(1), broker.stats.expired.Count())
}

func TestBroker_Selector(t *testing.T) {
	ctx, broker := newTestBroker(t)
	defer ctx.Close()

	conn := newStartedConnection(t, broker)
	defer conn.Close(context.Background())

	session, err := conn.CreateSession(context.Background(), false, jms.AutoAcknowledge)
	require.Nil(t, err)

	queue := jms.NewQueue("q")
	producer, err := session.CreateProducer(context.Background(), queue)
	require.Nil(t, err)

	for _, color := range []string{"red", "blue", "red"} {
		msg := jms.NewTextMessage(color)
		require.Nil(t, msg.SetStringProperty("color", color))
		require.Nil(t, producer.Send(context.Background(), msg))
	}

	_, err = session.CreateConsumer(context.Background(), queue, "color = ", false)
	assert.True(t, jms.Is(err, jms.InvalidSelectorError))

	blue, err := session.CreateConsumer(context.Background(), queue, "color = 'blue'", false)
	require.Nil(t, err)
	assert.Equal(t, "color = 'blue'", blue.MessageSelector())
	assert.Equal(t, "blue", receiveText(t, blue))

	msg, err := blue.ReceiveNoWait(context.Background())
	assert.Nil(t, err)
	assert.Nil(t, msg)
	assert.Equal(t, 2, broker.QueueDepth("q"))
}

func TestBroker_StoppedConnectionDoesNotDeliver(t *testing.T) {
	ctx, broker := newTestBroker(t)
	defer ctx.Close()

	conn, err := broker.connect("", "")
	require.Nil(t, err)
	defer conn.Close(context.Background())

	session, err := conn.CreateSession(context.Background(), false, jms.AutoAcknowledge)
	require.Nil(t, err)

	queue := jms.NewQueue("q")
	sendText(t, session, queue, "a")

	consumer, err := session.CreateConsumer(context.Background(), queue, "", false)
	require.Nil(t, err)

	msg, err := consumer.ReceiveTimeout(context.Background(), 20*time.Millisecond)
	assert.Nil(t, err)
	assert.Nil(t, msg)

	require.Nil(t, conn.Start(context.Background()))
	assert.Equal(t, "a", receiveText(t, consumer))
}

func TestBroker_ReceiveContextCanceled(t *testing.T) {
	ctx, broker := newTestBroker(t)
	defer ctx.Close()

	conn := newStartedConnection(t, broker)
	defer conn.Close(context.Background())

	session, err := conn.CreateSession(context.Background(), false, jms.AutoAcknowledge)
	require.Nil(t, err)

	consumer, err := session.CreateConsumer(context.Background(), jms.NewQueue("q"), "", false)
	require.Nil(t, err)

	timeout, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = consumer.Receive(timeout)
	assert.NotNil(t, err)
}

func TestBroker_ReceiveReturnsOnClose(t *testing.T) {
	ctx, broker := newTestBroker(t)
	defer ctx.Close()

	conn := newStartedConnection(t, broker)
	defer conn.Close(context.Background())

	session, err := conn.CreateSession(context.Background(), false, jms.AutoAcknowledge)
	require.Nil(t, err)

	consumer, err := session.CreateConsumer(context.Background(), jms.NewQueue("q"), "", false)
	require.Nil(t, err)

	done := make(chan jms.Message)
	go func() {
		msg, _ := consumer.Receive(context.Background())
		done <- msg
	}()

	time.Sleep(10 * time.Millisecond)
	require.Nil(t, consumer.Close(context.Background()))

	select {
	case msg := <-done:
		assert.Nil(t, msg)
	case <-time.After(time.Second):
		t.Fail()
	}
}

func TestBroker_MessageListener(t *testing.T) {
	ctx, broker := newTestBroker(t)
	defer ctx.Close()

	conn := newStartedConnection(t, broker)
	defer conn.Close(context.Background())

	session, err := conn.CreateSession(context.Background(), false, jms.AutoAcknowledge)
	require.Nil(t, err)

	queue := jms.NewQueue("q")
	consumer, err := session.CreateConsumer(context.Background(), queue, "", false)
	require.Nil(t, err)

	received := make(chan jms.Message, 2)
	require.Nil(t, consumer.SetMessageListener(func(m jms.Message) {
		received <- m
	}))

	sendText(t, session, queue, "async")
	select {
	case msg := <-received:
		text, _ := msg.(jms.TextMessage).Text()
		assert.Equal(t, "async", text)
	case <-time.After(time.Second):
		t.Fail()
	}
}

func TestBroker_ClientAcknowledgeRecover(t *testing.T) {
	ctx, broker := newTestBroker(t)
	defer ctx.Close()

	conn := newStartedConnection(t, broker)
	defer conn.Close(context.Background())

	session, err := conn.CreateSession(context.Background(), false, jms.ClientAcknowledge)
	require.Nil(t, err)

	queue := jms.NewQueue("q")
	sendText(t, session, queue, "a")

	consumer, err := session.CreateConsumer(context.Background(), queue, "", false)
	require.Nil(t, err)

	msg, err := consumer.ReceiveTimeout(context.Background(), time.Second)
	require.Nil(t, err)
	assert.False(t, msg.Redelivered())

	require.Nil(t, session.Recover(context.Background()))

	msg, err = consumer.ReceiveTimeout(context.Background(), time.Second)
	require.Nil(t, err)
	assert.True(t, msg.Redelivered())
	require.Nil(t, msg.Acknowledge(context.Background()))

	require.Nil(t, session.Recover(context.Background()))
	msg, err = consumer.ReceiveNoWait(context.Background())
	assert.Nil(t, err)
	assert.Nil(t, msg)
}

func TestBroker_UnackedRedeliveredOnClose(t *testing.T) {
	ctx, broker := newTestBroker(t)
	defer ctx.Close()

	conn := newStartedConnection(t, broker)
	defer conn.Close(context.Background())

	session, err := conn.CreateSession(context.Background(), false, jms.ClientAcknowledge)
	require.Nil(t, err)

	queue := jms.NewQueue("q")
	sendText(t, session, queue, "a")

	consumer, err := session.CreateConsumer(context.Background(), queue, "", false)
	require.Nil(t, err)
	receiveText(t, consumer)
	require.Nil(t, session.Close(context.Background()))

	assert.Equal(t, 1, broker.QueueDepth("q"))
}

func TestBroker_TransactedSession(t *testing.T) {
	ctx, broker := newTestBroker(t)
	defer ctx.Close()

	conn := newStartedConnection(t, broker)
	defer conn.Close(context.Background())

	session, err := conn.CreateSession(context.Background(), true, jms.AutoAcknowledge)
	require.Nil(t, err)
	assert.True(t, session.Transacted())
	assert.Equal(t, jms.SessionTransacted, session.AcknowledgeMode())

	queue := jms.NewQueue("q")
	sendText(t, session, queue, "a")
	assert.Equal(t, 0, broker.QueueDepth("q"))

	require.Nil(t, session.Rollback(context.Background()))
	assert.Equal(t, 0, broker.QueueDepth("q"))

	sendText(t, session, queue, "b")
	require.Nil(t, session.Commit(context.Background()))
	assert.Equal(t, 1, broker.QueueDepth("q"))

	consumer, err := session.CreateConsumer(context.Background(), queue, "", false)
	require.Nil(t, err)
	assert.Equal(t, "b", receiveText(t, consumer))

	require.Nil(t, session.Rollback(context.Background()))
	assert.Equal(t, 1, broker.QueueDepth("q"))

	assert.Equal(t, "b", receiveText(t, consumer))
	require.Nil(t, session.Commit(context.Background()))
	assert.Equal(t, 0, broker.QueueDepth("q"))

	plain, err := conn.CreateSession(context.Background(), false, jms.AutoAcknowledge)
	require.Nil(t, err)
	assert.True(t, jms.Is(plain.Commit(context.Background()), jms.IllegalStateError))
}

func TestBroker_TopicFanOut(t *testing.T) {
	ctx, broker := newTestBroker(t)
	defer ctx.Close()

	conn := newStartedConnection(t, broker)
	defer conn.Close(context.Background())

	session, err := conn.CreateSession(context.Background(), false, jms.AutoAcknowledge)
	require.Nil(t, err)

	topic := jms.NewTopic("news")
	c1, err := session.CreateConsumer(context.Background(), topic, "", false)
	require.Nil(t, err)
	c2, err := session.CreateConsumer(context.Background(), topic, "", false)
	require.Nil(t, err)
	local, err := session.CreateConsumer(context.Background(), topic, "", true)
	require.Nil(t, err)

	sendText(t, session, topic, "extra")

	assert.Equal(t, "extra", receiveText(t, c1))
	assert.Equal(t, "extra", receiveText(t, c2))

	msg, err := local.ReceiveNoWait(context.Background())
	assert.Nil(t, err)
	assert.Nil(t, msg)
}

func TestBroker_DurableSubscription(t *testing.T) {
	ctx, broker := newTestBroker(t)
	defer ctx.Close()

	conn := newStartedConnection(t, broker)
	defer conn.Close(context.Background())

	session, err := conn.CreateSession(context.Background(), false, jms.AutoAcknowledge)
	require.Nil(t, err)

	topic := jms.NewTopic("news")
	_, err = session.CreateDurableSubscriber(context.Background(), topic, "sub", "", false)
	assert.True(t, jms.Is(err, jms.IllegalStateError))

	other, err := broker.connect("", "")
	require.Nil(t, err)
	defer other.Close(context.Background())
	require.Nil(t, other.SetClientID("client"))
	require.Nil(t, other.Start(context.Background()))

	subSession, err := other.CreateSession(context.Background(), false, jms.AutoAcknowledge)
	require.Nil(t, err)

	durable, err := subSession.CreateDurableSubscriber(context.Background(), topic, "sub", "", false)
	require.Nil(t, err)

	_, err = subSession.CreateDurableSubscriber(context.Background(), topic, "sub", "", false)
	assert.True(t, jms.Is(err, jms.IllegalStateError))

	require.Nil(t, durable.Close(context.Background()))
	sendText(t, session, topic, "while away")

	durable, err = subSession.CreateDurableSubscriber(context.Background(), topic, "sub", "", false)
	require.Nil(t, err)
	assert.Equal(t, "while away", receiveText(t, durable))

	assert.True(t, jms.Is(subSession.Unsubscribe(context.Background(), "sub"), jms.IllegalStateError))
	require.Nil(t, durable.Close(context.Background()))
	require.Nil(t, subSession.Unsubscribe(context.Background(), "sub"))
	assert.True(t, jms.Is(subSession.Unsubscribe(context.Background(), "sub"), jms.InvalidDestinationError))
}

func TestBroker_ClientIDRules(t *testing.T) {
	ctx, broker := newTestBroker(t)
	defer ctx.Close()

	c1, err := broker.connect("", "")
	require.Nil(t, err)
	defer c1.Close(context.Background())
	require.Nil(t, c1.SetClientID("id"))
	assert.True(t, jms.Is(c1.SetClientID("again"), jms.IllegalStateError))

	c2, err := broker.connect("", "")
	require.Nil(t, err)
	defer c2.Close(context.Background())
	assert.True(t, jms.Is(c2.SetClientID("id"), jms.InvalidClientIDError))

	c3, err := broker.connect("", "")
	require.Nil(t, err)
	defer c3.Close(context.Background())
	_, err = c3.CreateSession(context.Background(), false, jms.AutoAcknowledge)
	require.Nil(t, err)
	assert.True(t, jms.Is(c3.SetClientID("late"), jms.IllegalStateError))
}

func TestBroker_TemporaryQueue(t *testing.T) {
	ctx, broker := newTestBroker(t)
	defer ctx.Close()

	conn := newStartedConnection(t, broker)
	defer conn.Close(context.Background())

	session, err := conn.CreateSession(context.Background(), false, jms.AutoAcknowledge)
	require.Nil(t, err)

	temp, err := session.CreateTemporaryQueue(context.Background())
	require.Nil(t, err)
	sendText(t, session, temp, "reply")

	other := newStartedConnection(t, broker)
	defer other.Close(context.Background())
	otherSession, err := other.CreateSession(context.Background(), false, jms.AutoAcknowledge)
	require.Nil(t, err)
	_, err = otherSession.CreateConsumer(context.Background(), temp, "", false)
	assert.True(t, jms.Is(err, jms.InvalidDestinationError))

	consumer, err := session.CreateConsumer(context.Background(), temp, "", false)
	require.Nil(t, err)
	assert.Equal(t, "reply", receiveText(t, consumer))

	require.Nil(t, temp.Delete(context.Background()))

	p, err := session.CreateProducer(context.Background(), temp)
	require.Nil(t, err)
	assert.True(t, jms.Is(p.Send(context.Background(), jms.NewTextMessage("late")), jms.InvalidDestinationError))
}

func TestBroker_Browser(t *testing.T) {
	ctx, broker := newTestBroker(t)
	defer ctx.Close()

	conn := newStartedConnection(t, broker)
	defer conn.Close(context.Background())

	session, err := conn.CreateSession(context.Background(), false, jms.AutoAcknowledge)
	require.Nil(t, err)

	queue := jms.NewQueue("q")
	sendText(t, session, queue, "a")
	sendText(t, session, queue, "b")

	browser, err := session.CreateBrowser(context.Background(), queue, "")
	require.Nil(t, err)

	msgs, err := browser.Enumerate(context.Background())
	require.Nil(t, err)
	require.Equal(t, 2, len(msgs))

	text, _ := msgs[0].(jms.TextMessage).Text()
	assert.Equal(t, "a", text)
	assert.Equal(t, 2, broker.QueueDepth("q"))
}

func TestBroker_Authentication(t *testing.T) {
	ctx, broker := newTestBroker(t)
	defer ctx.Close()

	broker.AddUser("guest", "secret")
	factory := NewConnectionFactory(broker)

	_, err := factory.CreateConnectionWithCredentials(context.Background(), "guest", "wrong")
	assert.True(t, jms.Is(err, jms.SecurityError))

	_, err = factory.CreateConnection(context.Background())
	assert.True(t, jms.Is(err, jms.SecurityError))

	conn, err := factory.CreateConnectionWithCredentials(context.Background(), "guest", "secret")
	require.Nil(t, err)
	assert.Nil(t, conn.Close(context.Background()))
}

func TestBroker_InterruptNotifiesListener(t *testing.T) {
	ctx, broker := newTestBroker(t)
	defer ctx.Close()

	conn := newStartedConnection(t, broker)

	failures := make(chan error, 1)
	require.Nil(t, conn.SetExceptionListener(func(err error) {
		failures <- err
	}))

	broker.Interrupt(common.ClosedError)
	select {
	case err := <-failures:
		assert.Equal(t, common.ClosedError, err)
	case <-time.After(time.Second):
		t.Fail()
	}

	_, err := conn.CreateSession(context.Background(), false, jms.AutoAcknowledge)
	assert.True(t, jms.Is(err, jms.IllegalStateError))
}

func TestXA_TwoPhaseCommit(t *testing.T) {
	ctx, broker := newTestBroker(t)
	defer ctx.Close()

	conn := newStartedConnection(t, broker)
	defer conn.Close(context.Background())

	session, err := conn.CreateXASession(context.Background())
	require.Nil(t, err)
	res := session.XAResource()

	xid := xa.NewXid()
	require.Nil(t, res.Start(context.Background(), xid, xa.TMNOFLAGS))
	sendText(t, session, jms.NewQueue("q"), "tx")
	require.Nil(t, res.End(context.Background(), xid, xa.TMSUCCESS))
	assert.Equal(t, 0, broker.QueueDepth("q"))

	vote, err := res.Prepare(context.Background(), xid)
	require.Nil(t, err)
	assert.Equal(t, xa.XA_OK, vote)

	recovered, err := res.Recover(context.Background(), xa.TMSTARTRSCAN)
	require.Nil(t, err)
	require.Equal(t, 1, len(recovered))
	assert.True(t, recovered[0].Equals(xid))

	require.Nil(t, res.Commit(context.Background(), xid, false))
	assert.Equal(t, 1, broker.QueueDepth("q"))

	recovered, err = res.Recover(context.Background(), xa.TMSTARTRSCAN)
	require.Nil(t, err)
	assert.Equal(t, 0, len(recovered))
}

func TestXA_RollbackRedeliversReceives(t *testing.T) {
	ctx, broker := newTestBroker(t)
	defer ctx.Close()

	conn := newStartedConnection(t, broker)
	defer conn.Close(context.Background())

	plain, err := conn.CreateSession(context.Background(), false, jms.AutoAcknowledge)
	require.Nil(t, err)
	queue := jms.NewQueue("q")
	sendText(t, plain, queue, "a")

	session, err := conn.CreateXASession(context.Background())
	require.Nil(t, err)
	res := session.XAResource()

	consumer, err := session.CreateConsumer(context.Background(), queue, "", false)
	require.Nil(t, err)

	xid := xa.NewXid()
	require.Nil(t, res.Start(context.Background(), xid, xa.TMNOFLAGS))
	assert.Equal(t, "a", receiveText(t, consumer))
	require.Nil(t, res.End(context.Background(), xid, xa.TMSUCCESS))
	assert.Equal(t, 0, broker.QueueDepth("q"))

	require.Nil(t, res.Rollback(context.Background(), xid))
	assert.Equal(t, 1, broker.QueueDepth("q"))

	err = res.Commit(context.Background(), xid, true)
	assert.Equal(t, xa.XAER_NOTA, xa.CodeOf(err))
}

func TestXA_ReadOnlyAndProtocolErrors(t *testing.T) {
	ctx, broker := newTestBroker(t)
	defer ctx.Close()

	conn := newStartedConnection(t, broker)
	defer conn.Close(context.Background())

	session, err := conn.CreateXASession(context.Background())
	require.Nil(t, err)
	res := session.XAResource()

	xid := xa.NewXid()
	require.Nil(t, res.Start(context.Background(), xid, xa.TMNOFLAGS))
	assert.Equal(t, xa.XAER_PROTO, xa.CodeOf(res.Start(context.Background(), xid, xa.TMNOFLAGS)))

	_, err = res.Prepare(context.Background(), xid)
	assert.Equal(t, xa.XAER_PROTO, xa.CodeOf(err))

	require.Nil(t, res.End(context.Background(), xid, xa.TMSUCCESS))
	vote, err := res.Prepare(context.Background(), xid)
	require.Nil(t, err)
	assert.Equal(t, xa.XA_RDONLY, vote)

	other, err := conn.CreateXASession(context.Background())
	require.Nil(t, err)
	same, err := res.IsSameRM(other.XAResource())
	require.Nil(t, err)
	assert.True(t, same)
}

func TestXA_JoinAndFail(t *testing.T) {
	ctx, broker := newTestBroker(t)
	defer ctx.Close()

	conn := newStartedConnection(t, broker)
	defer conn.Close(context.Background())

	s1, err := conn.CreateXASession(context.Background())
	require.Nil(t, err)
	s2, err := conn.CreateXASession(context.Background())
	require.Nil(t, err)

	xid := xa.NewXid()
	require.Nil(t, s1.XAResource().Start(context.Background(), xid, xa.TMNOFLAGS))
	sendText(t, s1, jms.NewQueue("q"), "one")
	require.Nil(t, s1.XAResource().End(context.Background(), xid, xa.TMSUCCESS))

	require.Nil(t, s2.XAResource().Start(context.Background(), xid, xa.TMJOIN))
	sendText(t, s2, jms.NewQueue("q"), "two")
	err = s2.XAResource().End(context.Background(), xid, xa.TMFAIL)
	assert.True(t, xa.CodeOf(err).IsRollback())

	_, err = s1.XAResource().Prepare(context.Background(), xid)
	assert.Equal(t, xa.XA_RBROLLBACK, xa.CodeOf(err))
	assert.Equal(t, 0, broker.QueueDepth("q"))
}

func TestXaLog_EncodeDecode(t *testing.T) {
	xid := xa.NewXid()
	dec, err := decodeXid(encodeXid(xid))
	require.Nil(t, err)
	assert.True(t, xid.Equals(dec))

	_, err = decodeXid([]byte{1, 2, 3})
	assert.NotNil(t, err)

	negative := stash.Int(xid.FormatID).ChildInt(-1).Child(xid.GlobalTransactionID).Raw()
	_, err = decodeXid(negative)
	assert.NotNil(t, err)

	oversized := stash.Int(xid.FormatID).ChildInt(1 << 20).Child(xid.GlobalTransactionID).Raw()
	_, err = decodeXid(oversized)
	assert.NotNil(t, err)
}

func TestXaLog_Closed(t *testing.T) {
	ctx := common.NewEmptyContext()
	defer ctx.Close()

	db, err := stash.OpenTransient(ctx)
	require.Nil(t, err)

	log, err := newXaLog(db)
	require.Nil(t, err)

	xid := xa.NewXid()
	require.Nil(t, log.prepare(xid))

	ok, err := log.contains(xid)
	require.Nil(t, err)
	assert.True(t, ok)

	require.Nil(t, db.Close())
	_, err = log.contains(xid)
	assert.NotNil(t, err)

	res := &xaResource{broker: &Broker{log: log, branches: make(map[string]*branch)}}
	err = res.Commit(context.Background(), xid, false)
	assert.Equal(t, xa.XAER_RMERR, xa.CodeOf(err))
	err = res.Forget(context.Background(), xid)
	assert.Equal(t, xa.XAER_RMERR, xa.CodeOf(err))
}

func TestXA_LocalWorkOutsideBranch(t *testing.T) {
	ctx, broker := newTestBroker(t)
	defer ctx.Close()

	conn := newStartedConnection(t, broker)
	defer conn.Close(context.Background())

	session, err := conn.CreateXASession(context.Background())
	require.Nil(t, err)
	assert.True(t, session.Transacted())

	sendText(t, session, jms.NewQueue("q"), "local")
	assert.Equal(t, 0, broker.QueueDepth("q"))
	require.Nil(t, session.Commit(context.Background()))
	assert.Equal(t, 1, broker.QueueDepth("q"))

	xid := xa.NewXid()
	require.Nil(t, session.XAResource().Start(context.Background(), xid, xa.TMNOFLAGS))
	assert.True(t, jms.Is(session.Commit(context.Background()), jms.IllegalStateError))
	require.Nil(t, session.XAResource().End(context.Background(), xid, xa.TMSUCCESS))
	require.Nil(t, session.XAResource().Rollback(context.Background(), xid))
}
