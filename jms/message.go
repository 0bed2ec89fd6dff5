package jms

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
)

type Message interface {
	MessageID() string
	SetMessageID(string)
	Timestamp() time.Time
	SetTimestamp(time.Time)
	CorrelationID() string
	SetCorrelationID(string)
	ReplyTo() Destination
	SetReplyTo(Destination)
	Destination() Destination
	SetDestination(Destination)
	DeliveryMode() DeliveryMode
	SetDeliveryMode(DeliveryMode)
	Redelivered() bool
	SetRedelivered(bool)
	Type() string
	SetType(string)
	Expiration() time.Time
	SetExpiration(time.Time)
	Priority() int
	SetPriority(int)

	PropertyNames() []string
	PropertyExists(name string) bool
	ClearProperties()

	BoolProperty(name string) (bool, error)
	Int8Property(name string) (int8, error)
	Int16Property(name string) (int16, error)
	Int32Property(name string) (int32, error)
	Int64Property(name string) (int64, error)
	Float32Property(name string) (float32, error)
	Float64Property(name string) (float64, error)
	StringProperty(name string) (string, error)
	ObjectProperty(name string) (interface{}, error)

	SetBoolProperty(name string, val bool) error
	SetInt8Property(name string, val int8) error
	SetInt16Property(name string, val int16) error
	SetInt32Property(name string, val int32) error
	SetInt64Property(name string, val int64) error
	SetFloat32Property(name string, val float32) error
	SetFloat64Property(name string, val float64) error
	SetStringProperty(name string, val string) error
	SetObjectProperty(name string, val interface{}) error

	// Acknowledges this and every previously received message of the
	// session.  Only meaningful in client acknowledge mode.
	Acknowledge(ctx context.Context) error

	// Clears the body, leaving the message writable.
	ClearBody() error
}

// Implemented by messages whose body and properties can be made read-only
// when they are delivered to a consumer.
type Freezable interface {
	Freeze()
}

// BaseMessage is a complete message without a body.  Providers embed it
// in their own message types.
type BaseMessage struct {
	id            string
	timestamp     time.Time
	correlationID string
	replyTo       Destination
	dest          Destination
	mode          DeliveryMode
	redelivered   bool
	typ           string
	expiration    time.Time
	priority      int
	props         map[string]interface{}
	propsReadOnly bool
	bodyReadOnly  bool
	ack           func(context.Context) error
}

func NewMessage() *BaseMessage {
	return &BaseMessage{mode: DefaultDeliveryMode, priority: DefaultPriority, props: make(map[string]interface{})}
}

func (m *BaseMessage) init() {
	if m.props == nil {
		m.props = make(map[string]interface{})
	}
	if m.mode == 0 {
		m.mode = DefaultDeliveryMode
	}
}

func (m *BaseMessage) MessageID() string {
	return m.id
}

func (m *BaseMessage) SetMessageID(id string) {
	m.id = id
}

func (m *BaseMessage) Timestamp() time.Time {
	return m.timestamp
}

func (m *BaseMessage) SetTimestamp(t time.Time) {
	m.timestamp = t
}

func (m *BaseMessage) CorrelationID() string {
	return m.correlationID
}

func (m *BaseMessage) SetCorrelationID(id string) {
	m.correlationID = id
}

func (m *BaseMessage) ReplyTo() Destination {
	return m.replyTo
}

func (m *BaseMessage) SetReplyTo(d Destination) {
	m.replyTo = d
}

func (m *BaseMessage) Destination() Destination {
	return m.dest
}

func (m *BaseMessage) SetDestination(d Destination) {
	m.dest = d
}

func (m *BaseMessage) DeliveryMode() DeliveryMode {
	return m.mode
}

func (m *BaseMessage) SetDeliveryMode(mode DeliveryMode) {
	m.mode = mode
}

func (m *BaseMessage) Redelivered() bool {
	return m.redelivered
}

func (m *BaseMessage) SetRedelivered(r bool) {
	m.redelivered = r
}

func (m *BaseMessage) Type() string {
	return m.typ
}

func (m *BaseMessage) SetType(t string) {
	m.typ = t
}

func (m *BaseMessage) Expiration() time.Time {
	return m.expiration
}

func (m *BaseMessage) SetExpiration(t time.Time) {
	m.expiration = t
}

func (m *BaseMessage) Priority() int {
	return m.priority
}

func (m *BaseMessage) SetPriority(p int) {
	m.priority = p
}

// Returns true if the message carries an expiration that is before now.
func (m *BaseMessage) Expired(now time.Time) bool {
	return !m.expiration.IsZero() && m.expiration.Before(now)
}

func (m *BaseMessage) PropertyNames() []string {
	ret := make([]string, 0, len(m.props))
	for k := range m.props {
		ret = append(ret, k)
	}
	sort.Strings(ret)
	return ret
}

func (m *BaseMessage) PropertyExists(name string) bool {
	_, ok := m.props[name]
	return ok
}

func (m *BaseMessage) ClearProperties() {
	m.props = make(map[string]interface{})
	m.propsReadOnly = false
}

func (m *BaseMessage) property(name string) interface{} {
	return m.props[name]
}

func (m *BaseMessage) missing(name string) error {
	return errors.Wrapf(MessageFormatError, "Property [%v] does not exist", name)
}

func (m *BaseMessage) BoolProperty(name string) (bool, error) {
	return toBool(m.property(name))
}

func (m *BaseMessage) Int8Property(name string) (int8, error) {
	v := m.property(name)
	if v == nil {
		return 0, m.missing(name)
	}
	return toInt8(v)
}

func (m *BaseMessage) Int16Property(name string) (int16, error) {
	v := m.property(name)
	if v == nil {
		return 0, m.missing(name)
	}
	return toInt16(v)
}

func (m *BaseMessage) Int32Property(name string) (int32, error) {
	v := m.property(name)
	if v == nil {
		return 0, m.missing(name)
	}
	return toInt32(v)
}

func (m *BaseMessage) Int64Property(name string) (int64, error) {
	v := m.property(name)
	if v == nil {
		return 0, m.missing(name)
	}
	return toInt64(v)
}

func (m *BaseMessage) Float32Property(name string) (float32, error) {
	v := m.property(name)
	if v == nil {
		return 0, m.missing(name)
	}
	return toFloat32(v)
}

func (m *BaseMessage) Float64Property(name string) (float64, error) {
	v := m.property(name)
	if v == nil {
		return 0, m.missing(name)
	}
	return toFloat64(v)
}

func (m *BaseMessage) StringProperty(name string) (string, error) {
	return toString(m.property(name))
}

func (m *BaseMessage) ObjectProperty(name string) (interface{}, error) {
	return m.property(name), nil
}

func (m *BaseMessage) setProperty(name string, val interface{}) error {
	if m.propsReadOnly {
		return errors.Wrapf(MessageNotWriteableError, "Properties are read-only")
	}
	if err := checkPropertyName(name); err != nil {
		return err
	}
	if err := checkValue(val, false); err != nil {
		return err
	}

	m.init()
	m.props[name] = val
	return nil
}

func (m *BaseMessage) SetBoolProperty(name string, val bool) error {
	return m.setProperty(name, val)
}

func (m *BaseMessage) SetInt8Property(name string, val int8) error {
	return m.setProperty(name, val)
}

func (m *BaseMessage) SetInt16Property(name string, val int16) error {
	return m.setProperty(name, val)
}

func (m *BaseMessage) SetInt32Property(name string, val int32) error {
	return m.setProperty(name, val)
}

func (m *BaseMessage) SetInt64Property(name string, val int64) error {
	return m.setProperty(name, val)
}

func (m *BaseMessage) SetFloat32Property(name string, val float32) error {
	return m.setProperty(name, val)
}

func (m *BaseMessage) SetFloat64Property(name string, val float64) error {
	return m.setProperty(name, val)
}

func (m *BaseMessage) SetStringProperty(name string, val string) error {
	return m.setProperty(name, val)
}

func (m *BaseMessage) SetObjectProperty(name string, val interface{}) error {
	return m.setProperty(name, val)
}

// Sets the function invoked by Acknowledge.
func (m *BaseMessage) SetAcknowledger(fn func(context.Context) error) {
	m.ack = fn
}

func (m *BaseMessage) Acknowledge(ctx context.Context) error {
	if m.ack == nil {
		return nil
	}
	return m.ack(ctx)
}

func (m *BaseMessage) ClearBody() error {
	m.bodyReadOnly = false
	return nil
}

// Makes the properties and body read-only.
func (m *BaseMessage) Freeze() {
	m.propsReadOnly = true
	m.bodyReadOnly = true
}

func (m *BaseMessage) checkWritable() error {
	if m.bodyReadOnly {
		return errors.Wrap(MessageNotWriteableError, "Message body is read-only")
	}
	return nil
}

func (m *BaseMessage) checkReadable() error {
	if !m.bodyReadOnly {
		return errors.Wrap(MessageNotReadableError, "Message body is write-only")
	}
	return nil
}

// Copies the headers and properties of src into the message.
func (m *BaseMessage) CopyHeaders(src Message) {
	m.init()
	m.id = src.MessageID()
	m.timestamp = src.Timestamp()
	m.correlationID = src.CorrelationID()
	m.replyTo = src.ReplyTo()
	m.dest = src.Destination()
	m.mode = src.DeliveryMode()
	m.redelivered = src.Redelivered()
	m.typ = src.Type()
	m.expiration = src.Expiration()
	m.priority = src.Priority()
	for _, name := range src.PropertyNames() {
		val, _ := src.ObjectProperty(name)
		m.props[name] = val
	}
}
