package jms

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"
)

// BytesMessage bodies are a stream of big endian encoded primitives.
// Strings are written as a two byte length followed by their utf-8 bytes.
type BytesMessage interface {
	Message

	BodyLength() (int64, error)

	ReadBool() (bool, error)
	ReadInt8() (int8, error)
	ReadUint8() (uint8, error)
	ReadInt16() (int16, error)
	ReadUint16() (uint16, error)
	ReadInt32() (int32, error)
	ReadInt64() (int64, error)
	ReadFloat32() (float32, error)
	ReadFloat64() (float64, error)
	ReadUTF() (string, error)

	// Reads up to len(p) bytes.  Returns io.EOF once the body is exhausted.
	ReadBytes(p []byte) (int, error)

	WriteBool(bool) error
	WriteInt8(int8) error
	WriteInt16(int16) error
	WriteInt32(int32) error
	WriteInt64(int64) error
	WriteFloat32(float32) error
	WriteFloat64(float64) error
	WriteUTF(string) error
	WriteBytes([]byte) error
	WriteObject(interface{}) error

	// Puts the body in read-only mode and rewinds it.
	Reset() error
}

type BaseBytesMessage struct {
	BaseMessage
	buf []byte
	pos int
}

func NewBytesMessage() *BaseBytesMessage {
	return &BaseBytesMessage{BaseMessage: *NewMessage()}
}

// Returns a read-only bytes message over the given body.
func NewBytesMessageFrom(body []byte) *BaseBytesMessage {
	m := NewBytesMessage()
	m.buf = body
	m.bodyReadOnly = true
	return m
}

// Returns the full body, regardless of the read position.
func (m *BaseBytesMessage) Body() []byte {
	return m.buf
}

func (m *BaseBytesMessage) ClearBody() error {
	m.buf = nil
	m.pos = 0
	return m.BaseMessage.ClearBody()
}

func (m *BaseBytesMessage) Freeze() {
	m.BaseMessage.Freeze()
	m.pos = 0
}

func (m *BaseBytesMessage) Reset() error {
	m.bodyReadOnly = true
	m.pos = 0
	return nil
}

func (m *BaseBytesMessage) BodyLength() (int64, error) {
	if err := m.checkReadable(); err != nil {
		return 0, err
	}
	return int64(len(m.buf)), nil
}

func (m *BaseBytesMessage) next(n int) ([]byte, error) {
	if err := m.checkReadable(); err != nil {
		return nil, err
	}
	if m.pos+n > len(m.buf) {
		return nil, errors.Wrapf(MessageEOFError, "Unexpected end of body")
	}
	ret := m.buf[m.pos : m.pos+n]
	m.pos += n
	return ret, nil
}

func (m *BaseBytesMessage) ReadBool() (bool, error) {
	b, err := m.next(1)
	if err != nil {
		return false, err
	}
	return b[0] != 0, nil
}

func (m *BaseBytesMessage) ReadInt8() (int8, error) {
	b, err := m.next(1)
	if err != nil {
		return 0, err
	}
	return int8(b[0]), nil
}

func (m *BaseBytesMessage) ReadUint8() (uint8, error) {
	b, err := m.next(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (m *BaseBytesMessage) ReadInt16() (int16, error) {
	v, err := m.ReadUint16()
	return int16(v), err
}

func (m *BaseBytesMessage) ReadUint16() (uint16, error) {
	b, err := m.next(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (m *BaseBytesMessage) ReadInt32() (int32, error) {
	b, err := m.next(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

func (m *BaseBytesMessage) ReadInt64() (int64, error) {
	b, err := m.next(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

func (m *BaseBytesMessage) ReadFloat32() (float32, error) {
	b, err := m.next(4)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.BigEndian.Uint32(b)), nil
}

func (m *BaseBytesMessage) ReadFloat64() (float64, error) {
	b, err := m.next(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
}

func (m *BaseBytesMessage) ReadUTF() (string, error) {
	start := m.pos
	n, err := m.ReadUint16()
	if err != nil {
		return "", err
	}
	b, err := m.next(int(n))
	if err != nil {
		m.pos = start
		return "", err
	}
	return string(b), nil
}

func (m *BaseBytesMessage) ReadBytes(p []byte) (int, error) {
	if err := m.checkReadable(); err != nil {
		return 0, err
	}
	if m.pos >= len(m.buf) {
		return 0, io.EOF
	}
	n := copy(p, m.buf[m.pos:])
	m.pos += n
	return n, nil
}

func (m *BaseBytesMessage) write(b ...byte) error {
	if err := m.checkWritable(); err != nil {
		return err
	}
	m.buf = append(m.buf, b...)
	return nil
}

func (m *BaseBytesMessage) WriteBool(v bool) error {
	if v {
		return m.write(1)
	}
	return m.write(0)
}

func (m *BaseBytesMessage) WriteInt8(v int8) error {
	return m.write(byte(v))
}

func (m *BaseBytesMessage) WriteInt16(v int16) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(v))
	return m.write(b[:]...)
}

func (m *BaseBytesMessage) WriteInt32(v int32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	return m.write(b[:]...)
}

func (m *BaseBytesMessage) WriteInt64(v int64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	return m.write(b[:]...)
}

func (m *BaseBytesMessage) WriteFloat32(v float32) error {
	return m.WriteInt32(int32(math.Float32bits(v)))
}

func (m *BaseBytesMessage) WriteFloat64(v float64) error {
	return m.WriteInt64(int64(math.Float64bits(v)))
}

func (m *BaseBytesMessage) WriteUTF(v string) error {
	if len(v) > math.MaxUint16 {
		return errors.Wrapf(MessageFormatError, "String of length [%v] is too long", len(v))
	}
	if err := m.WriteInt16(int16(uint16(len(v)))); err != nil {
		return err
	}
	return m.write([]byte(v)...)
}

func (m *BaseBytesMessage) WriteBytes(v []byte) error {
	return m.write(v...)
}

func (m *BaseBytesMessage) WriteObject(v interface{}) error {
	switch t := v.(type) {
	default:
		return errors.Wrapf(MessageFormatError, "Unsupported value type [%T]", v)
	case bool:
		return m.WriteBool(t)
	case int8:
		return m.WriteInt8(t)
	case int16:
		return m.WriteInt16(t)
	case int32:
		return m.WriteInt32(t)
	case int64:
		return m.WriteInt64(t)
	case float32:
		return m.WriteFloat32(t)
	case float64:
		return m.WriteFloat64(t)
	case string:
		return m.WriteUTF(t)
	case []byte:
		return m.WriteBytes(t)
	}
}
