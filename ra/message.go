package ra

import (
	"context"

	"github.com/pkopriv2/relay/jms"
)

// Implemented by every adapter message.
type Unwrapper interface {
	Unwrap() jms.Message
}

// Returns the provider message behind an adapter message.
func unwrapMessage(msg jms.Message) jms.Message {
	if u, ok := msg.(Unwrapper); ok {
		return u.Unwrap()
	}
	return msg
}

func wrapMessage(s *Session, msg jms.Message) jms.Message {
	switch m := msg.(type) {
	case nil:
		return nil
	case Unwrapper:
		return msg
	case jms.BytesMessage:
		return &BytesMessage{m, s}
	case jms.MapMessage:
		return &MapMessage{m, s}
	case jms.StreamMessage:
		return &StreamMessage{m, s}
	case jms.TextMessage:
		return &TextMessage{m, s}
	case jms.ObjectMessage:
		return &ObjectMessage{m, s}
	default:
		return &Message{m, s}
	}
}

func acknowledge(ctx context.Context, s *Session, msg jms.Message) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return msg.Acknowledge(ctx)
}

type Message struct {
	jms.Message
	session *Session
}

func (m *Message) Acknowledge(ctx context.Context) error {
	return acknowledge(ctx, m.session, m.Message)
}

func (m *Message) Unwrap() jms.Message {
	return m.Message
}

type BytesMessage struct {
	jms.BytesMessage
	session *Session
}

func (m *BytesMessage) Acknowledge(ctx context.Context) error {
	return acknowledge(ctx, m.session, m.BytesMessage)
}

func (m *BytesMessage) Unwrap() jms.Message {
	return m.BytesMessage
}

type MapMessage struct {
	jms.MapMessage
	session *Session
}

func (m *MapMessage) Acknowledge(ctx context.Context) error {
	return acknowledge(ctx, m.session, m.MapMessage)
}

func (m *MapMessage) Unwrap() jms.Message {
	return m.MapMessage
}

type StreamMessage struct {
	jms.StreamMessage
	session *Session
}

func (m *StreamMessage) Acknowledge(ctx context.Context) error {
	return acknowledge(ctx, m.session, m.StreamMessage)
}

func (m *StreamMessage) Unwrap() jms.Message {
	return m.StreamMessage
}

type TextMessage struct {
	jms.TextMessage
	session *Session
}

func (m *TextMessage) Acknowledge(ctx context.Context) error {
	return acknowledge(ctx, m.session, m.TextMessage)
}

func (m *TextMessage) Unwrap() jms.Message {
	return m.TextMessage
}

type ObjectMessage struct {
	jms.ObjectMessage
	session *Session
}

func (m *ObjectMessage) Acknowledge(ctx context.Context) error {
	return acknowledge(ctx, m.session, m.ObjectMessage)
}

func (m *ObjectMessage) Unwrap() jms.Message {
	return m.ObjectMessage
}
