package jms

import (
	"sort"

	"github.com/pkg/errors"
)

type MapMessage interface {
	Message

	MapNames() []string
	ItemExists(name string) bool

	Bool(name string) (bool, error)
	Int8(name string) (int8, error)
	Int16(name string) (int16, error)
	Int32(name string) (int32, error)
	Int64(name string) (int64, error)
	Float32(name string) (float32, error)
	Float64(name string) (float64, error)
	String(name string) (string, error)
	Bytes(name string) ([]byte, error)
	Object(name string) (interface{}, error)

	SetBool(name string, v bool) error
	SetInt8(name string, v int8) error
	SetInt16(name string, v int16) error
	SetInt32(name string, v int32) error
	SetInt64(name string, v int64) error
	SetFloat32(name string, v float32) error
	SetFloat64(name string, v float64) error
	SetString(name string, v string) error
	SetBytes(name string, v []byte) error
	SetObject(name string, v interface{}) error
}

type BaseMapMessage struct {
	BaseMessage
	items map[string]interface{}
}

func NewMapMessage() *BaseMapMessage {
	return &BaseMapMessage{BaseMessage: *NewMessage(), items: make(map[string]interface{})}
}

// Returns a copy of every entry of the body.
func (m *BaseMapMessage) Items() map[string]interface{} {
	ret := make(map[string]interface{}, len(m.items))
	for k, v := range m.items {
		ret[k] = v
	}
	return ret
}

func (m *BaseMapMessage) ClearBody() error {
	m.items = make(map[string]interface{})
	return m.BaseMessage.ClearBody()
}

func (m *BaseMapMessage) MapNames() []string {
	ret := make([]string, 0, len(m.items))
	for k := range m.items {
		ret = append(ret, k)
	}
	sort.Strings(ret)
	return ret
}

func (m *BaseMapMessage) ItemExists(name string) bool {
	_, ok := m.items[name]
	return ok
}

func (m *BaseMapMessage) item(name string) (interface{}, error) {
	v, ok := m.items[name]
	if !ok {
		return nil, errors.Wrapf(MessageFormatError, "Item [%v] does not exist", name)
	}
	return v, nil
}

func (m *BaseMapMessage) Bool(name string) (bool, error) {
	return toBool(m.items[name])
}

func (m *BaseMapMessage) Int8(name string) (int8, error) {
	v, err := m.item(name)
	if err != nil {
		return 0, err
	}
	return toInt8(v)
}

func (m *BaseMapMessage) Int16(name string) (int16, error) {
	v, err := m.item(name)
	if err != nil {
		return 0, err
	}
	return toInt16(v)
}

func (m *BaseMapMessage) Int32(name string) (int32, error) {
	v, err := m.item(name)
	if err != nil {
		return 0, err
	}
	return toInt32(v)
}

func (m *BaseMapMessage) Int64(name string) (int64, error) {
	v, err := m.item(name)
	if err != nil {
		return 0, err
	}
	return toInt64(v)
}

func (m *BaseMapMessage) Float32(name string) (float32, error) {
	v, err := m.item(name)
	if err != nil {
		return 0, err
	}
	return toFloat32(v)
}

func (m *BaseMapMessage) Float64(name string) (float64, error) {
	v, err := m.item(name)
	if err != nil {
		return 0, err
	}
	return toFloat64(v)
}

func (m *BaseMapMessage) String(name string) (string, error) {
	return toString(m.items[name])
}

func (m *BaseMapMessage) Bytes(name string) ([]byte, error) {
	return toBytes(m.items[name])
}

func (m *BaseMapMessage) Object(name string) (interface{}, error) {
	return m.items[name], nil
}

func (m *BaseMapMessage) set(name string, v interface{}) error {
	if err := m.checkWritable(); err != nil {
		return err
	}
	if name == "" {
		return errors.New("Item name must not be empty")
	}
	if err := checkValue(v, true); err != nil {
		return err
	}
	if m.items == nil {
		m.items = make(map[string]interface{})
	}
	m.items[name] = v
	return nil
}

func (m *BaseMapMessage) SetBool(name string, v bool) error {
	return m.set(name, v)
}

func (m *BaseMapMessage) SetInt8(name string, v int8) error {
	return m.set(name, v)
}

func (m *BaseMapMessage) SetInt16(name string, v int16) error {
	return m.set(name, v)
}

func (m *BaseMapMessage) SetInt32(name string, v int32) error {
	return m.set(name, v)
}

func (m *BaseMapMessage) SetInt64(name string, v int64) error {
	return m.set(name, v)
}

func (m *BaseMapMessage) SetFloat32(name string, v float32) error {
	return m.set(name, v)
}

func (m *BaseMapMessage) SetFloat64(name string, v float64) error {
	return m.set(name, v)
}

func (m *BaseMapMessage) SetString(name string, v string) error {
	return m.set(name, v)
}

func (m *BaseMapMessage) SetBytes(name string, v []byte) error {
	return m.set(name, append([]byte(nil), v...))
}

func (m *BaseMapMessage) SetObject(name string, v interface{}) error {
	return m.set(name, v)
}
