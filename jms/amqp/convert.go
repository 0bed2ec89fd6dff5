package amqp

import (
	"fmt"
	"time"

	"github.com/Azure/go-amqp"
	"github.com/pkg/errors"
	"github.com/pkopriv2/relay/jms"
)

// Message annotations shared with other JMS over AMQP clients.
const (
	annotationMsgType = "x-opt-jms-msg-type"
	annotationDest    = "x-opt-jms-dest"
	annotationReplyTo = "x-opt-jms-reply-to"
)

const (
	typeMessage byte = 0
	typeObject  byte = 1
	typeMap     byte = 2
	typeBytes   byte = 3
	typeStream  byte = 4
	typeText    byte = 5
)

const (
	destQueue byte = 0
	destTopic byte = 1
)

const (
	capabilityQueue = "queue"
	capabilityTopic = "topic"
)

func destType(d jms.Destination) byte {
	if _, ok := d.(jms.Topic); ok {
		return destTopic
	}
	return destQueue
}

func destCapability(d jms.Destination) string {
	if destType(d) == destTopic {
		return capabilityTopic
	}
	return capabilityQueue
}

func destination(addr string, typ interface{}) jms.Destination {
	if b, ok := typ.(byte); ok && b == destTopic {
		return jms.NewTopic(addr)
	}
	if b, ok := typ.(int8); ok && byte(b) == destTopic {
		return jms.NewTopic(addr)
	}
	return jms.NewQueue(addr)
}

// Converts a message to its AMQP encoding.
func toAMQP(msg jms.Message) (*amqp.Message, error) {
	snapshot, err := jms.Copy(msg)
	if err != nil {
		return nil, err
	}

	ret := &amqp.Message{
		Header: &amqp.MessageHeader{
			Durable:  msg.DeliveryMode() == jms.Persistent,
			Priority: uint8(msg.Priority()),
		},
		Properties:            &amqp.MessageProperties{},
		Annotations:           amqp.Annotations{},
		ApplicationProperties: make(map[string]any),
	}

	if id := msg.MessageID(); id != "" {
		ret.Properties.MessageID = id
	}
	if corr := msg.CorrelationID(); corr != "" {
		ret.Properties.CorrelationID = corr
	}
	if ts := msg.Timestamp(); !ts.IsZero() {
		ret.Properties.CreationTime = &ts
	}
	if exp := msg.Expiration(); !exp.IsZero() {
		ret.Properties.AbsoluteExpiryTime = &exp
		if ttl := time.Until(exp); ttl > 0 {
			ret.Header.TTL = ttl
		}
	}
	if typ := msg.Type(); typ != "" {
		ret.Properties.Subject = &typ
	}
	if dest := msg.Destination(); dest != nil {
		to := dest.Name()
		ret.Properties.To = &to
		ret.Annotations[annotationDest] = destType(dest)
	}
	if reply := msg.ReplyTo(); reply != nil {
		to := reply.Name()
		ret.Properties.ReplyTo = &to
		ret.Annotations[annotationReplyTo] = destType(reply)
	}

	for _, name := range msg.PropertyNames() {
		val, err := msg.ObjectProperty(name)
		if err != nil {
			return nil, err
		}
		ret.ApplicationProperties[name] = val
	}

	switch t := snapshot.(type) {
	default:
		ret.Annotations[annotationMsgType] = typeMessage
	case *jms.BaseTextMessage:
		text, _ := t.Text()
		ret.Annotations[annotationMsgType] = typeText
		ret.Value = text
	case *jms.BaseBytesMessage:
		ret.Annotations[annotationMsgType] = typeBytes
		ret.Data = [][]byte{t.Body()}
	case *jms.BaseMapMessage:
		ret.Annotations[annotationMsgType] = typeMap
		ret.Value = t.Items()
	case *jms.BaseStreamMessage:
		ret.Annotations[annotationMsgType] = typeStream
		ret.Value = t.Items()
	case *jms.BaseObjectMessage:
		obj, _ := t.Object()
		ret.Annotations[annotationMsgType] = typeObject
		ret.Value = obj
	}
	return ret, nil
}

// Decoded annotation keys may be symbols.
func annotation(m *amqp.Message, key string) any {
	if v, ok := m.Annotations[key]; ok {
		return v
	}
	return m.Annotations[amqp.Symbol(key)]
}

func msgType(m *amqp.Message) byte {
	switch t := annotation(m, annotationMsgType).(type) {
	case byte:
		return t
	case int8:
		return byte(t)
	}

	switch m.Value.(type) {
	case string:
		return typeText
	case map[string]any, map[any]any:
		return typeMap
	case []any:
		return typeStream
	case nil:
		if len(m.Data) > 0 {
			return typeBytes
		}
		return typeMessage
	}
	return typeObject
}

// Converts an AMQP message to a read-only base message.
func fromAMQP(m *amqp.Message) (jms.Message, error) {
	var ret jms.Message

	switch msgType(m) {
	default:
		ret = jms.NewMessage()
	case typeText:
		text, ok := m.Value.(string)
		if !ok && m.Value != nil {
			return nil, errors.Wrapf(jms.MessageFormatError, "Text body of unexpected type [%T]", m.Value)
		}
		ret = jms.NewTextMessage(text)
	case typeBytes:
		ret = jms.NewBytesMessageFrom(concat(m.Data))
	case typeMap:
		msg := jms.NewMapMessage()
		items, err := mapBody(m.Value)
		if err != nil {
			return nil, err
		}
		for k, v := range items {
			if err := msg.SetObject(k, normalize(v)); err != nil {
				return nil, err
			}
		}
		ret = msg
	case typeStream:
		msg := jms.NewStreamMessage()
		items, _ := m.Value.([]any)
		for _, v := range items {
			if err := msg.WriteObject(normalize(v)); err != nil {
				return nil, err
			}
		}
		if err := msg.Reset(); err != nil {
			return nil, err
		}
		ret = msg
	case typeObject:
		ret = jms.NewObjectMessage(m.Value)
	}

	if err := copyHeaders(m, ret); err != nil {
		return nil, err
	}
	if f, ok := ret.(jms.Freezable); ok {
		f.Freeze()
	}
	return ret, nil
}

func copyHeaders(m *amqp.Message, ret jms.Message) error {
	ret.SetDeliveryMode(jms.NonPersistent)
	ret.SetPriority(jms.DefaultPriority)
	if h := m.Header; h != nil {
		if h.Durable {
			ret.SetDeliveryMode(jms.Persistent)
		}
		ret.SetPriority(int(h.Priority))
		ret.SetRedelivered(h.DeliveryCount > 0)
	}

	if p := m.Properties; p != nil {
		if p.MessageID != nil {
			ret.SetMessageID(identifier(p.MessageID))
		}
		if p.CorrelationID != nil {
			ret.SetCorrelationID(identifier(p.CorrelationID))
		}
		if p.CreationTime != nil {
			ret.SetTimestamp(*p.CreationTime)
		}
		if p.AbsoluteExpiryTime != nil {
			ret.SetExpiration(*p.AbsoluteExpiryTime)
		}
		if p.Subject != nil {
			ret.SetType(*p.Subject)
		}
		if p.To != nil {
			ret.SetDestination(destination(*p.To, annotation(m, annotationDest)))
		}
		if p.ReplyTo != nil {
			ret.SetReplyTo(destination(*p.ReplyTo, annotation(m, annotationReplyTo)))
		}
	}

	for name, val := range m.ApplicationProperties {
		if err := ret.SetObjectProperty(name, normalize(val)); err != nil {
			return errors.Wrapf(err, "Property [%v]", name)
		}
	}
	return nil
}

func identifier(id any) string {
	switch t := id.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	}
	return fmt.Sprintf("%v", id)
}

func concat(data [][]byte) []byte {
	if len(data) == 1 {
		return data[0]
	}
	ret := make([]byte, 0)
	for _, d := range data {
		ret = append(ret, d...)
	}
	return ret
}

func mapBody(v any) (map[string]any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return t, nil
	case map[any]any:
		ret := make(map[string]any, len(t))
		for k, val := range t {
			key, ok := k.(string)
			if !ok {
				return nil, errors.Wrapf(jms.MessageFormatError, "Map key of unexpected type [%T]", k)
			}
			ret[key] = val
		}
		return ret, nil
	}
	return nil, errors.Wrapf(jms.MessageFormatError, "Map body of unexpected type [%T]", v)
}

// Widens the AMQP types that have no JMS counterpart.
func normalize(v any) any {
	switch t := v.(type) {
	case amqp.Symbol:
		return string(t)
	case uint8:
		return int16(t)
	case uint16:
		return int32(t)
	case uint32:
		return int64(t)
	case uint64:
		return int64(t)
	case time.Time:
		return t.UnixNano() / int64(time.Millisecond)
	}
	return v
}
