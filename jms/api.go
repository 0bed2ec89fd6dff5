package jms

import (
	"context"
	"time"

	"github.com/pkopriv2/relay/xa"
)

// AckMode describes how a session acknowledges the messages it consumes.
type AckMode int

const (
	SessionTransacted AckMode = iota
	AutoAcknowledge
	ClientAcknowledge
	DupsOkAcknowledge
)

func (a AckMode) String() string {
	switch a {
	default:
		return "Unknown"
	case SessionTransacted:
		return "SessionTransacted"
	case AutoAcknowledge:
		return "AutoAcknowledge"
	case ClientAcknowledge:
		return "ClientAcknowledge"
	case DupsOkAcknowledge:
		return "DupsOkAcknowledge"
	}
}

type DeliveryMode int

const (
	NonPersistent DeliveryMode = 1
	Persistent    DeliveryMode = 2
)

func (d DeliveryMode) String() string {
	switch d {
	default:
		return "Unknown"
	case NonPersistent:
		return "NonPersistent"
	case Persistent:
		return "Persistent"
	}
}

const (
	DefaultDeliveryMode = Persistent
	DefaultPriority     = 4
	DefaultTimeToLive   = time.Duration(0)
	MinPriority         = 0
	MaxPriority         = 9
)

// Called with any asynchronous failure of a connection.
type ExceptionListener func(error)

// Called with each message delivered asynchronously to a consumer.
type MessageListener func(Message)

type ConnectionMetaData struct {
	JMSVersion      string
	JMSMajorVersion int
	JMSMinorVersion int
	ProviderName    string
	ProviderVersion string
	PropertyNames   []string
}

type ConnectionFactory interface {
	CreateConnection(ctx context.Context) (Connection, error)
	CreateConnectionWithCredentials(ctx context.Context, user, password string) (Connection, error)
}

// Implemented by factories whose connections can take part in
// distributed transactions.
type XAConnectionFactory interface {
	ConnectionFactory
	CreateXAConnection(ctx context.Context) (XAConnection, error)
	CreateXAConnectionWithCredentials(ctx context.Context, user, password string) (XAConnection, error)
}

type Connection interface {
	ClientID() string
	SetClientID(string) error
	MetaData() (ConnectionMetaData, error)
	ExceptionListener() ExceptionListener
	SetExceptionListener(ExceptionListener) error
	CreateSession(ctx context.Context, transacted bool, mode AckMode) (Session, error)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Close(ctx context.Context) error
}

type XAConnection interface {
	Connection
	CreateXASession(ctx context.Context) (XASession, error)
}

type Session interface {
	CreateMessage() (Message, error)
	CreateBytesMessage() (BytesMessage, error)
	CreateMapMessage() (MapMessage, error)
	CreateObjectMessage(interface{}) (ObjectMessage, error)
	CreateStreamMessage() (StreamMessage, error)
	CreateTextMessage(string) (TextMessage, error)

	Transacted() bool
	AcknowledgeMode() AckMode
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Recover(ctx context.Context) error
	Close(ctx context.Context) error

	MessageListener() MessageListener
	SetMessageListener(MessageListener) error

	CreateProducer(ctx context.Context, dest Destination) (MessageProducer, error)
	CreateConsumer(ctx context.Context, dest Destination, selector string, noLocal bool) (MessageConsumer, error)
	CreateDurableSubscriber(ctx context.Context, topic Topic, name string, selector string, noLocal bool) (MessageConsumer, error)
	CreateBrowser(ctx context.Context, queue Queue, selector string) (QueueBrowser, error)
	Unsubscribe(ctx context.Context, name string) error

	CreateQueue(name string) (Queue, error)
	CreateTopic(name string) (Topic, error)
	CreateTemporaryQueue(ctx context.Context) (TemporaryQueue, error)
	CreateTemporaryTopic(ctx context.Context) (TemporaryTopic, error)
}

// A session whose work is coordinated by an external transaction
// manager through its XA resource.
type XASession interface {
	Session
	XAResource() xa.Resource
}

type MessageProducer interface {
	Destination() Destination
	DeliveryMode() DeliveryMode
	SetDeliveryMode(DeliveryMode) error
	Priority() int
	SetPriority(int) error
	TimeToLive() time.Duration
	SetTimeToLive(time.Duration) error
	DisableMessageID() bool
	SetDisableMessageID(bool) error
	DisableMessageTimestamp() bool
	SetDisableMessageTimestamp(bool) error

	// Sends to the producer's destination with the producer's defaults.
	Send(ctx context.Context, msg Message) error
	SendWith(ctx context.Context, msg Message, mode DeliveryMode, priority int, ttl time.Duration) error

	// Sends to an explicit destination.  Only valid for producers created
	// without a destination.
	SendTo(ctx context.Context, dest Destination, msg Message) error
	SendToWith(ctx context.Context, dest Destination, msg Message, mode DeliveryMode, priority int, ttl time.Duration) error

	Close(ctx context.Context) error
}

type MessageConsumer interface {
	MessageSelector() string
	MessageListener() MessageListener
	SetMessageListener(MessageListener) error

	// Blocks until a message arrives, the consumer is closed (nil, nil) or
	// the context is done.
	Receive(ctx context.Context) (Message, error)

	// Returns (nil, nil) if no message arrives within the timeout.
	ReceiveTimeout(ctx context.Context, timeout time.Duration) (Message, error)

	// Returns (nil, nil) if no message is immediately available.
	ReceiveNoWait(ctx context.Context) (Message, error)

	Close(ctx context.Context) error
}

type QueueBrowser interface {
	Queue() Queue
	MessageSelector() string
	Enumerate(ctx context.Context) ([]Message, error)
	Close(ctx context.Context) error
}
