package jms

import (
	"io"

	"github.com/pkg/errors"
)

// Returns a snapshot of the message built from the base implementations
// of this package.  The copy shares no mutable state with the source.
func Copy(src Message) (Message, error) {
	switch t := src.(type) {
	case TextMessage:
		text, err := t.Text()
		if err != nil {
			return nil, err
		}
		ret := NewTextMessage(text)
		ret.CopyHeaders(src)
		return ret, nil
	case BytesMessage:
		body, err := readAllBytes(t)
		if err != nil {
			return nil, err
		}
		ret := NewBytesMessage()
		ret.CopyHeaders(src)
		ret.buf = body
		return ret, nil
	case MapMessage:
		ret := NewMapMessage()
		ret.CopyHeaders(src)
		for _, name := range t.MapNames() {
			v, err := t.Object(name)
			if err != nil {
				return nil, err
			}
			if b, ok := v.([]byte); ok {
				v = append([]byte(nil), b...)
			}
			ret.items[name] = v
		}
		return ret, nil
	case StreamMessage:
		items, err := readAllItems(t)
		if err != nil {
			return nil, err
		}
		ret := NewStreamMessage()
		ret.CopyHeaders(src)
		ret.items = items
		return ret, nil
	case ObjectMessage:
		obj, err := t.Object()
		if err != nil {
			return nil, err
		}
		ret := NewObjectMessage(obj)
		ret.CopyHeaders(src)
		return ret, nil
	default:
		ret := NewMessage()
		ret.CopyHeaders(src)
		return ret, nil
	}
}

func readAllBytes(m BytesMessage) ([]byte, error) {
	if base, ok := m.(*BaseBytesMessage); ok {
		return append([]byte(nil), base.buf...), nil
	}

	if err := m.Reset(); err != nil {
		return nil, err
	}
	defer m.Reset()

	ret := make([]byte, 0, 128)
	buf := make([]byte, 128)
	for {
		n, err := m.ReadBytes(buf)
		ret = append(ret, buf[:n]...)
		if err == io.EOF {
			return ret, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func readAllItems(m StreamMessage) ([]interface{}, error) {
	if base, ok := m.(*BaseStreamMessage); ok {
		return base.Items(), nil
	}

	if err := m.Reset(); err != nil {
		return nil, err
	}
	defer m.Reset()

	ret := make([]interface{}, 0, 8)
	for {
		v, err := m.ReadObject()
		if errors.Cause(err) == MessageEOFError {
			return ret, nil
		}
		if err != nil {
			return nil, err
		}
		ret = append(ret, v)
	}
}

// Kind names the body type of a message.
type Kind int

const (
	KindMessage Kind = iota
	KindText
	KindBytes
	KindMap
	KindStream
	KindObject
)

func (k Kind) String() string {
	switch k {
	default:
		return "Message"
	case KindText:
		return "TextMessage"
	case KindBytes:
		return "BytesMessage"
	case KindMap:
		return "MapMessage"
	case KindStream:
		return "StreamMessage"
	case KindObject:
		return "ObjectMessage"
	}
}

func KindOf(m Message) Kind {
	switch m.(type) {
	default:
		return KindMessage
	case TextMessage:
		return KindText
	case BytesMessage:
		return KindBytes
	case MapMessage:
		return KindMap
	case StreamMessage:
		return KindStream
	case ObjectMessage:
		return KindObject
	}
}
