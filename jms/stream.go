package jms

import "github.com/pkg/errors"

// StreamMessage bodies are a sequence of typed values, read back in the
// order they were written.  A read that fails conversion does not advance
// the stream.
type StreamMessage interface {
	Message

	ReadBool() (bool, error)
	ReadInt8() (int8, error)
	ReadInt16() (int16, error)
	ReadInt32() (int32, error)
	ReadInt64() (int64, error)
	ReadFloat32() (float32, error)
	ReadFloat64() (float64, error)
	ReadString() (string, error)
	ReadBytes() ([]byte, error)
	ReadObject() (interface{}, error)

	WriteBool(bool) error
	WriteInt8(int8) error
	WriteInt16(int16) error
	WriteInt32(int32) error
	WriteInt64(int64) error
	WriteFloat32(float32) error
	WriteFloat64(float64) error
	WriteString(string) error
	WriteBytes([]byte) error
	WriteObject(interface{}) error

	Reset() error
}

type BaseStreamMessage struct {
	BaseMessage
	items []interface{}
	pos   int
}

func NewStreamMessage() *BaseStreamMessage {
	return &BaseStreamMessage{BaseMessage: *NewMessage()}
}

// Returns a copy of every value of the body.
func (m *BaseStreamMessage) Items() []interface{} {
	ret := make([]interface{}, len(m.items))
	copy(ret, m.items)
	return ret
}

func (m *BaseStreamMessage) ClearBody() error {
	m.items = nil
	m.pos = 0
	return m.BaseMessage.ClearBody()
}

func (m *BaseStreamMessage) Freeze() {
	m.BaseMessage.Freeze()
	m.pos = 0
}

func (m *BaseStreamMessage) Reset() error {
	m.bodyReadOnly = true
	m.pos = 0
	return nil
}

func (m *BaseStreamMessage) peek() (interface{}, error) {
	if err := m.checkReadable(); err != nil {
		return nil, err
	}
	if m.pos >= len(m.items) {
		return nil, errors.Wrap(MessageEOFError, "Unexpected end of stream")
	}
	return m.items[m.pos], nil
}

func (m *BaseStreamMessage) read(fn func(interface{}) error) error {
	v, err := m.peek()
	if err != nil {
		return err
	}
	if err := fn(v); err != nil {
		return err
	}
	m.pos++
	return nil
}

func (m *BaseStreamMessage) ReadBool() (ret bool, err error) {
	err = m.read(func(v interface{}) (e error) {
		ret, e = toBool(v)
		return
	})
	return
}

func (m *BaseStreamMessage) ReadInt8() (ret int8, err error) {
	err = m.read(func(v interface{}) (e error) {
		ret, e = toInt8(v)
		return
	})
	return
}

func (m *BaseStreamMessage) ReadInt16() (ret int16, err error) {
	err = m.read(func(v interface{}) (e error) {
		ret, e = toInt16(v)
		return
	})
	return
}

func (m *BaseStreamMessage) ReadInt32() (ret int32, err error) {
	err = m.read(func(v interface{}) (e error) {
		ret, e = toInt32(v)
		return
	})
	return
}

func (m *BaseStreamMessage) ReadInt64() (ret int64, err error) {
	err = m.read(func(v interface{}) (e error) {
		ret, e = toInt64(v)
		return
	})
	return
}

func (m *BaseStreamMessage) ReadFloat32() (ret float32, err error) {
	err = m.read(func(v interface{}) (e error) {
		ret, e = toFloat32(v)
		return
	})
	return
}

func (m *BaseStreamMessage) ReadFloat64() (ret float64, err error) {
	err = m.read(func(v interface{}) (e error) {
		ret, e = toFloat64(v)
		return
	})
	return
}

func (m *BaseStreamMessage) ReadString() (ret string, err error) {
	err = m.read(func(v interface{}) (e error) {
		ret, e = toString(v)
		return
	})
	return
}

func (m *BaseStreamMessage) ReadBytes() (ret []byte, err error) {
	err = m.read(func(v interface{}) (e error) {
		ret, e = toBytes(v)
		return
	})
	return
}

func (m *BaseStreamMessage) ReadObject() (ret interface{}, err error) {
	err = m.read(func(v interface{}) error {
		ret = v
		return nil
	})
	return
}

func (m *BaseStreamMessage) write(v interface{}) error {
	if err := m.checkWritable(); err != nil {
		return err
	}
	if err := checkValue(v, true); err != nil {
		return err
	}
	m.items = append(m.items, v)
	return nil
}

func (m *BaseStreamMessage) WriteBool(v bool) error {
	return m.write(v)
}

func (m *BaseStreamMessage) WriteInt8(v int8) error {
	return m.write(v)
}

func (m *BaseStreamMessage) WriteInt16(v int16) error {
	return m.write(v)
}

func (m *BaseStreamMessage) WriteInt32(v int32) error {
	return m.write(v)
}

func (m *BaseStreamMessage) WriteInt64(v int64) error {
	return m.write(v)
}

func (m *BaseStreamMessage) WriteFloat32(v float32) error {
	return m.write(v)
}

func (m *BaseStreamMessage) WriteFloat64(v float64) error {
	return m.write(v)
}

func (m *BaseStreamMessage) WriteString(v string) error {
	return m.write(v)
}

func (m *BaseStreamMessage) WriteBytes(v []byte) error {
	return m.write(append([]byte(nil), v...))
}

func (m *BaseStreamMessage) WriteObject(v interface{}) error {
	return m.write(v)
}
