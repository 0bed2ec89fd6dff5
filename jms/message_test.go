package jms

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage_Defaults(t *testing.T) {
	msg := NewMessage()
	assert.Equal(t, Persistent, msg.DeliveryMode())
	assert.Equal(t, DefaultPriority, msg.Priority())
	assert.Empty(t, msg.PropertyNames())
	assert.Nil(t, msg.Acknowledge(context.Background()))
}

func TestMessage_PropertyConversions(t *testing.T) {
	msg := NewMessage()
	require.Nil(t, msg.SetInt16Property("short", 12))
	require.Nil(t, msg.SetStringProperty("str", "42"))
	require.Nil(t, msg.SetFloat32Property("float", 1.5))
	require.Nil(t, msg.SetBoolProperty("bool", true))

	i64, err := msg.Int64Property("short")
	assert.Nil(t, err)
	assert.Equal(t, int64(12), i64)

	i32, err := msg.Int32Property("str")
	assert.Nil(t, err)
	assert.Equal(t, int32(42), i32)

	f64, err := msg.Float64Property("float")
	assert.Nil(t, err)
	assert.Equal(t, 1.5, f64)

	str, err := msg.StringProperty("bool")
	assert.Nil(t, err)
	assert.Equal(t, "true", str)

	_, err = msg.Int8Property("short")
	assert.Equal(t, MessageFormatError, Extract(err))

	_, err = msg.BoolProperty("float")
	assert.Equal(t, MessageFormatError, Extract(err))

	_, err = msg.Int32Property("missing")
	assert.Equal(t, MessageFormatError, Extract(err))

	b, err := msg.BoolProperty("missing")
	assert.Nil(t, err)
	assert.False(t, b)

	assert.Equal(t, []string{"bool", "float", "short", "str"}, msg.PropertyNames())
}

func TestMessage_PropertyNames(t *testing.T) {
	msg := NewMessage()
	assert.NotNil(t, msg.SetStringProperty("", "v"))
	assert.NotNil(t, msg.SetStringProperty("1abc", "v"))
	assert.NotNil(t, msg.SetStringProperty("and", "v"))
	assert.NotNil(t, msg.SetObjectProperty("obj", []int{1}))
	assert.Nil(t, msg.SetStringProperty("$a_1", "v"))
}

func TestMessage_FrozenProperties(t *testing.T) {
	msg := NewTextMessage("hello")
	msg.Freeze()

	assert.Equal(t, MessageNotWriteableError, Extract(msg.SetStringProperty("key", "val")))
	assert.Equal(t, MessageNotWriteableError, Extract(msg.SetText("other")))

	msg.ClearProperties()
	assert.Nil(t, msg.SetStringProperty("key", "val"))

	assert.Nil(t, msg.ClearBody())
	assert.Nil(t, msg.SetText("other"))
}

func TestBytesMessage_RoundTrip(t *testing.T) {
	msg := NewBytesMessage()
	require.Nil(t, msg.WriteBool(true))
	require.Nil(t, msg.WriteInt8(-1))
	require.Nil(t, msg.WriteInt16(-300))
	require.Nil(t, msg.WriteInt32(1<<20))
	require.Nil(t, msg.WriteInt64(-1<<40))
	require.Nil(t, msg.WriteFloat32(1.25))
	require.Nil(t, msg.WriteFloat64(-2.5))
	require.Nil(t, msg.WriteUTF("héllo"))
	require.Nil(t, msg.WriteObject([]byte{1, 2}))

	_, err := msg.ReadBool()
	assert.Equal(t, MessageNotReadableError, Extract(err))

	require.Nil(t, msg.Reset())
	assert.Equal(t, MessageNotWriteableError, Extract(msg.WriteBool(true)))

	b, _ := msg.ReadBool()
	assert.True(t, b)
	i8, _ := msg.ReadInt8()
	assert.Equal(t, int8(-1), i8)
	i16, _ := msg.ReadInt16()
	assert.Equal(t, int16(-300), i16)
	i32, _ := msg.ReadInt32()
	assert.Equal(t, int32(1<<20), i32)
	i64, _ := msg.ReadInt64()
	assert.Equal(t, int64(-1<<40), i64)
	f32, _ := msg.ReadFloat32()
	assert.Equal(t, float32(1.25), f32)
	f64, _ := msg.ReadFloat64()
	assert.Equal(t, -2.5, f64)
	str, err := msg.ReadUTF()
	assert.Nil(t, err)
	assert.Equal(t, "héllo", str)

	buf := make([]byte, 8)
	n, err := msg.ReadBytes(buf)
	assert.Nil(t, err)
	assert.Equal(t, []byte{1, 2}, buf[:n])

	_, err = msg.ReadBytes(buf)
	assert.Equal(t, io.EOF, err)

	_, err = msg.ReadInt32()
	assert.Equal(t, MessageEOFError, Extract(err))
}

func TestMapMessage(t *testing.T) {
	msg := NewMapMessage()
	require.Nil(t, msg.SetInt32("int", 7))
	require.Nil(t, msg.SetBytes("bytes", []byte("raw")))
	require.Nil(t, msg.SetString("str", "1.5"))

	assert.True(t, msg.ItemExists("int"))
	assert.Equal(t, []string{"bytes", "int", "str"}, msg.MapNames())

	i64, err := msg.Int64("int")
	assert.Nil(t, err)
	assert.Equal(t, int64(7), i64)

	f, err := msg.Float64("str")
	assert.Nil(t, err)
	assert.Equal(t, 1.5, f)

	_, err = msg.Int16("int")
	assert.Equal(t, MessageFormatError, Extract(err))

	raw, err := msg.Bytes("bytes")
	assert.Nil(t, err)
	assert.Equal(t, []byte("raw"), raw)

	msg.Freeze()
	assert.Equal(t, MessageNotWriteableError, Extract(msg.SetInt8("int8", 1)))
}

func TestStreamMessage_FailedReadDoesNotAdvance(t *testing.T) {
	msg := NewStreamMessage()
	require.Nil(t, msg.WriteString("abc"))
	require.Nil(t, msg.WriteInt16(5))
	require.Nil(t, msg.Reset())

	_, err := msg.ReadInt32()
	assert.Equal(t, MessageFormatError, Extract(err))

	str, err := msg.ReadString()
	assert.Nil(t, err)
	assert.Equal(t, "abc", str)

	i64, err := msg.ReadInt64()
	assert.Nil(t, err)
	assert.Equal(t, int64(5), i64)

	_, err = msg.ReadObject()
	assert.Equal(t, MessageEOFError, Extract(err))
}

func TestCopy(t *testing.T) {
	src := NewMapMessage()
	src.SetMessageID("ID:1")
	src.SetPriority(7)
	src.SetExpiration(time.Unix(100, 0))
	src.SetDestination(NewQueue("q"))
	require.Nil(t, src.SetStringProperty("key", "val"))
	require.Nil(t, src.SetBytes("bytes", []byte{1}))

	cp, err := Copy(src)
	require.Nil(t, err)

	dst, ok := cp.(*BaseMapMessage)
	require.True(t, ok)
	assert.Equal(t, "ID:1", dst.MessageID())
	assert.Equal(t, 7, dst.Priority())
	assert.True(t, SameDestination(NewQueue("q"), dst.Destination()))

	val, _ := dst.StringProperty("key")
	assert.Equal(t, "val", val)

	src.items["bytes"].([]byte)[0] = 2
	raw, _ := dst.Bytes("bytes")
	assert.Equal(t, []byte{1}, raw)
	assert.Equal(t, KindMap, KindOf(dst))
}

func TestExtract(t *testing.T) {
	assert.Nil(t, Extract(nil))
	assert.Equal(t, IllegalStateError, Extract(errors.Wrapf(IllegalStateError, "closed")))
	assert.Equal(t, IllegalStateError, Extract(errors.New(IllegalStateError.Error())))

	other := errors.New("other")
	assert.Equal(t, other, Extract(other))
	assert.True(t, Is(errors.WithStack(SecurityError), SecurityError))
}

func TestDestinations(t *testing.T) {
	assert.True(t, IsQueue(NewQueue("a")))
	assert.True(t, IsTopic(NewTopic("a")))
	assert.False(t, SameDestination(NewQueue("a"), NewTopic("a")))
	assert.True(t, SameDestination(NewTemporaryQueue("a", nil), NewQueue("a")))
	assert.True(t, SameDestination(nil, nil))
}
