// Package inflow delivers messages from a provider to message endpoints.
// Each activation owns one provider connection and a number of sessions,
// each of which runs a delivery loop on the adapter's work manager.
package inflow

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/pkopriv2/relay/common"
	"github.com/pkopriv2/relay/jms"
	"github.com/pkopriv2/relay/jms/selector"
	"github.com/pkopriv2/relay/spi"
)

var Config = struct {
	Workers           string
	MaxSession        string
	ReconnectInterval string
	ReconnectAttempts string
	ReceiveTimeout    string
}{
	"relay.inflow.workers",
	"relay.inflow.max.session",
	"relay.inflow.reconnect.interval",
	"relay.inflow.reconnect.attempts",
	"relay.inflow.receive.timeout",
}

const (
	defaultWorkers           = 128
	defaultMaxSession        = 15
	defaultReconnectInterval = 10 * time.Second
	defaultReconnectAttempts = 5
	defaultReceiveTimeout    = time.Second
)

const (
	QueueType = "queue"
	TopicType = "topic"

	AutoAcknowledge   = "Auto-acknowledge"
	DupsOkAcknowledge = "Dups-ok-acknowledge"

	Durable    = "Durable"
	NonDurable = "NonDurable"
)

// ActivationSpec configures the delivery of one destination to one
// endpoint factory.
type ActivationSpec struct {
	Destination            string
	DestinationType        string
	MessageSelector        string
	AcknowledgeMode        string
	SubscriptionDurability string
	ClientID               string
	SubscriptionName       string
	User                   string
	Password               string

	// Number of concurrent delivery sessions.  Topics always use one.
	MaxSession int

	ReconnectInterval time.Duration

	// Negative retries forever.
	ReconnectAttempts int
}

func NewActivationSpec(dest string) *ActivationSpec {
	return &ActivationSpec{
		Destination:            dest,
		DestinationType:        QueueType,
		AcknowledgeMode:        AutoAcknowledge,
		SubscriptionDurability: NonDurable,
		MaxSession:             defaultMaxSession,
		ReconnectInterval:      defaultReconnectInterval,
		ReconnectAttempts:      defaultReconnectAttempts,
	}
}

// Returns a spec whose tunables are read from the config.
func ActivationSpecFromConfig(c common.Config, dest string) *ActivationSpec {
	spec := NewActivationSpec(dest)
	spec.MaxSession = c.OptionalInt(Config.MaxSession, defaultMaxSession)
	spec.ReconnectInterval = c.OptionalDuration(Config.ReconnectInterval, defaultReconnectInterval)
	spec.ReconnectAttempts = c.OptionalInt(Config.ReconnectAttempts, defaultReconnectAttempts)
	return spec
}

func invalid(format string, args ...interface{}) error {
	return errors.Wrapf(spi.InvalidPropertyError, format, args...)
}

func (s *ActivationSpec) Validate() error {
	if s.Destination == "" {
		return invalid("Destination is required")
	}

	switch s.DestinationType {
	default:
		return invalid("Unknown destination type [%v]", s.DestinationType)
	case QueueType, TopicType:
	}

	switch s.AcknowledgeMode {
	default:
		return invalid("Unknown acknowledge mode [%v]", s.AcknowledgeMode)
	case AutoAcknowledge, DupsOkAcknowledge:
	}

	switch s.SubscriptionDurability {
	default:
		return invalid("Unknown subscription durability [%v]", s.SubscriptionDurability)
	case NonDurable:
	case Durable:
		if s.DestinationType != TopicType {
			return invalid("Durable subscriptions require a topic")
		}
		if s.ClientID == "" || s.SubscriptionName == "" {
			return invalid("Durable subscriptions require a client id and subscription name")
		}
	}

	if _, err := selector.Parse(s.MessageSelector); err != nil {
		return errors.Wrapf(spi.InvalidPropertyError, "Invalid message selector [%v]: %v", s.MessageSelector, err)
	}
	if s.MaxSession < 1 {
		return invalid("MaxSession must be positive [%v]", s.MaxSession)
	}
	if s.ReconnectInterval <= 0 {
		return invalid("ReconnectInterval must be positive [%v]", s.ReconnectInterval)
	}
	return nil
}

func (s *ActivationSpec) durable() bool {
	return s.SubscriptionDurability == Durable
}

func (s *ActivationSpec) ackMode() jms.AckMode {
	if s.AcknowledgeMode == DupsOkAcknowledge {
		return jms.DupsOkAcknowledge
	}
	return jms.AutoAcknowledge
}

func (s *ActivationSpec) destination() jms.Destination {
	if s.DestinationType == TopicType {
		return jms.NewTopic(s.Destination)
	}
	return jms.NewQueue(s.Destination)
}

// Each topic session would receive its own copy of every message.
func (s *ActivationSpec) sessions() int {
	if s.DestinationType == TopicType {
		return 1
	}
	return s.MaxSession
}

func (s *ActivationSpec) String() string {
	return fmt.Sprintf("ActivationSpec(%v:%v)", s.DestinationType, s.Destination)
}
