package amqp

import (
	"context"
	"testing"
	"time"

	"github.com/Azure/go-amqp"
	"github.com/pkg/errors"
	"github.com/pkopriv2/relay/common"
	"github.com/pkopriv2/relay/jms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvert_TextHeadersAndProperties(t *testing.T) {
	exp := time.Now().Add(time.Minute).Truncate(time.Millisecond)
	ts := time.Now().Truncate(time.Millisecond)

	msg := jms.NewTextMessage("hello")
	msg.SetMessageID("ID:1")
	msg.SetCorrelationID("corr")
	msg.SetTimestamp(ts)
	msg.SetExpiration(exp)
	msg.SetType("greeting")
	msg.SetPriority(7)
	msg.SetDeliveryMode(jms.Persistent)
	msg.SetDestination(jms.NewTopic("news"))
	msg.SetReplyTo(jms.NewQueue("replies"))
	require.Nil(t, msg.SetStringProperty("color", "red"))
	require.Nil(t, msg.SetInt32Property("size", 3))

	encoded, err := toAMQP(msg)
	require.Nil(t, err)
	assert.Equal(t, "hello", encoded.Value)
	assert.True(t, encoded.Header.Durable)
	assert.Equal(t, uint8(7), encoded.Header.Priority)
	assert.True(t, encoded.Header.TTL > 0)
	assert.Equal(t, "news", *encoded.Properties.To)
	assert.Equal(t, typeText, encoded.Annotations[annotationMsgType])

	decoded, err := fromAMQP(encoded)
	require.Nil(t, err)

	text, ok := decoded.(jms.TextMessage)
	require.True(t, ok)
	body, _ := text.Text()
	assert.Equal(t, "hello", body)
	assert.Equal(t, "ID:1", decoded.MessageID())
	assert.Equal(t, "corr", decoded.CorrelationID())
	assert.True(t, ts.Equal(decoded.Timestamp()))
	assert.True(t, exp.Equal(decoded.Expiration()))
	assert.Equal(t, "greeting", decoded.Type())
	assert.Equal(t, 7, decoded.Priority())
	assert.Equal(t, jms.Persistent, decoded.DeliveryMode())
	assert.Equal(t, jms.NewTopic("news"), decoded.Destination())
	assert.Equal(t, jms.NewQueue("replies"), decoded.ReplyTo())

	color, err := decoded.StringProperty("color")
	require.Nil(t, err)
	assert.Equal(t, "red", color)

	size, err := decoded.Int32Property("size")
	require.Nil(t, err)
	assert.Equal(t, int32(3), size)

	assert.True(t, jms.Is(text.SetText("changed"), jms.MessageNotWriteableError))
}

func TestConvert_Bodies(t *testing.T) {
	bytes := jms.NewBytesMessage()
	require.Nil(t, bytes.WriteInt32(42))
	require.Nil(t, bytes.WriteUTF("x"))

	encoded, err := toAMQP(bytes)
	require.Nil(t, err)
	decoded, err := fromAMQP(encoded)
	require.Nil(t, err)

	b := decoded.(jms.BytesMessage)
	i, err := b.ReadInt32()
	require.Nil(t, err)
	assert.Equal(t, int32(42), i)
	s, err := b.ReadUTF()
	require.Nil(t, err)
	assert.Equal(t, "x", s)

	m := jms.NewMapMessage()
	require.Nil(t, m.SetInt64("count", 10))
	require.Nil(t, m.SetString("name", "n"))

	encoded, err = toAMQP(m)
	require.Nil(t, err)
	decoded, err = fromAMQP(encoded)
	require.Nil(t, err)

	count, err := decoded.(jms.MapMessage).Int64("count")
	require.Nil(t, err)
	assert.Equal(t, int64(10), count)

	stream := jms.NewStreamMessage()
	require.Nil(t, stream.WriteBool(true))
	require.Nil(t, stream.WriteString("s"))

	encoded, err = toAMQP(stream)
	require.Nil(t, err)
	decoded, err = fromAMQP(encoded)
	require.Nil(t, err)

	st := decoded.(jms.StreamMessage)
	v, err := st.ReadBool()
	require.Nil(t, err)
	assert.True(t, v)
	str, err := st.ReadString()
	require.Nil(t, err)
	assert.Equal(t, "s", str)
}

func TestConvert_ForeignMessages(t *testing.T) {
	decoded, err := fromAMQP(amqp.NewMessage([]byte("raw")))
	require.Nil(t, err)
	_, ok := decoded.(jms.BytesMessage)
	assert.True(t, ok)
	assert.Equal(t, jms.NonPersistent, decoded.DeliveryMode())

	decoded, err = fromAMQP(&amqp.Message{
		Value:       "text",
		Header:      &amqp.MessageHeader{DeliveryCount: 2},
		Annotations: amqp.Annotations{amqp.Symbol(annotationMsgType): typeText},
		ApplicationProperties: map[string]any{
			"kind":  amqp.Symbol("sym"),
			"count": uint32(5),
		},
	})
	require.Nil(t, err)
	_, ok = decoded.(jms.TextMessage)
	assert.True(t, ok)
	assert.True(t, decoded.Redelivered())

	kind, err := decoded.StringProperty("kind")
	require.Nil(t, err)
	assert.Equal(t, "sym", kind)

	count, err := decoded.Int64Property("count")
	require.Nil(t, err)
	assert.Equal(t, int64(5), count)

	_, err = fromAMQP(&amqp.Message{
		Value:       42,
		Annotations: amqp.Annotations{annotationMsgType: typeText},
	})
	assert.True(t, jms.Is(err, jms.MessageFormatError))
}

func TestWrap_Conditions(t *testing.T) {
	notFound := &amqp.LinkError{RemoteErr: &amqp.Error{Condition: amqp.ErrCondNotFound}}
	assert.Equal(t, jms.InvalidDestinationError, errors.Cause(wrap(notFound, "attach")))

	denied := &amqp.ConnError{RemoteErr: &amqp.Error{Condition: amqp.ErrCondUnauthorizedAccess}}
	assert.Equal(t, jms.SecurityError, errors.Cause(wrap(denied, "dial")))

	assert.Equal(t, jms.IllegalStateError, errors.Cause(wrap(errors.New("eof"), "read")))
	assert.Nil(t, wrap(nil, "nothing"))
}

func TestConnection_LocalState(t *testing.T) {
	ctx := common.NewEmptyContext()
	defer ctx.Close()

	factory := NewConnectionFactory(ctx, "amqp://localhost:0")
	conn, err := factory.CreateConnection(context.Background())
	require.Nil(t, err)
	defer conn.Close(context.Background())

	_, err = conn.CreateSession(context.Background(), true, jms.SessionTransacted)
	assert.True(t, jms.Is(err, jms.IllegalStateError))

	assert.True(t, jms.Is(conn.SetClientID(""), jms.InvalidClientIDError))
	require.Nil(t, conn.SetClientID("client"))
	assert.Equal(t, "client", conn.ClientID())
	assert.True(t, jms.Is(conn.SetClientID("other"), jms.IllegalStateError))

	meta, err := conn.MetaData()
	require.Nil(t, err)
	assert.Equal(t, ProviderName, meta.ProviderName)

	require.Nil(t, conn.Start(context.Background()))
	require.Nil(t, conn.Stop(context.Background()))
	require.Nil(t, conn.Close(context.Background()))
	assert.True(t, jms.Is(conn.Start(context.Background()), jms.IllegalStateError))
}

func TestConnectionFactory_FromConfig(t *testing.T) {
	ctx := common.NewContext(common.NewConfig(map[string]interface{}{
		Config.Address:     "amqp://broker:5672",
		Config.User:        "user",
		Config.IdleTimeout: 5000,
		Config.Credit:      50,
	}))
	defer ctx.Close()

	f := ConnectionFactoryFromConfig(ctx)
	assert.Equal(t, "amqp://broker:5672", f.Address)
	assert.Equal(t, "user", f.User)
	assert.Equal(t, 5*time.Second, f.IdleTimeout)
	assert.Equal(t, 50, f.Credit)

	opts := f.options("container", "user", "pass")
	assert.Equal(t, "container", opts.ContainerID)
	assert.NotNil(t, opts.SASLType)

	f.Credit = 0
	_, err := f.CreateConnection(context.Background())
	assert.True(t, jms.Is(err, jms.IllegalStateError))
}
