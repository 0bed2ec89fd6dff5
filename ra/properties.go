// Package ra adapts a messaging provider to the connector contracts of
// package spi.  A managed connection owns one physical connection and
// session.  Applications work through session handles, which the
// connection manager may move between managed connections.
package ra

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/pkopriv2/relay/common"
	"github.com/pkopriv2/relay/spi"
)

var Config = struct {
	SessionType string
	UserName    string
	Password    string
	ClientID    string
	Strict      string
	TryLock     string
	Provider    string
}{
	"relay.mcf.session.type",
	"relay.mcf.user",
	"relay.mcf.password",
	"relay.mcf.client.id",
	"relay.mcf.strict",
	"relay.mcf.try.lock",
	"relay.mcf.provider",
}

const (
	defaultSessionType = "agnostic"
	defaultStrict      = true
	defaultTryLock     = 0
)

const (
	ProductName    = "relay JMS resource adapter"
	ProductVersion = "1.0"
)

// The messaging domain of a connection or session.
type SessionType int

const (
	Agnostic SessionType = iota
	Queue
	Topic
)

func (s SessionType) String() string {
	switch s {
	default:
		return fmt.Sprintf("SessionType(%d)", int(s))
	case Agnostic:
		return "agnostic"
	case Queue:
		return "queue"
	case Topic:
		return "topic"
	}
}

func ParseSessionType(str string) (SessionType, error) {
	switch strings.ToLower(strings.TrimSpace(str)) {
	case "", "agnostic", "javax.jms.session":
		return Agnostic, nil
	case "queue", "javax.jms.queue":
		return Queue, nil
	case "topic", "javax.jms.topic":
		return Topic, nil
	}
	return Agnostic, errors.Wrapf(spi.InvalidPropertyError, "Unknown session type [%v]", str)
}

// Properties configure a managed connection factory.
type Properties struct {
	SessionDefaultType SessionType
	UserName           string
	Password           string
	ClientID           string

	// Strict factories follow the managed environment restrictions: one
	// session per connection, no message listeners, no connection
	// reconfiguration.
	Strict bool

	// Seconds to wait for a session lock.  Zero waits forever.
	UseTryLock int

	// Descriptive name of the provider.
	Provider string
}

func DefaultProperties() Properties {
	return Properties{Strict: defaultStrict}
}

// Reads factory properties from the config.
func PropertiesFromConfig(c common.Config) (Properties, error) {
	typ, err := ParseSessionType(c.Optional(Config.SessionType, defaultSessionType))
	if err != nil {
		return Properties{}, err
	}

	props := Properties{
		SessionDefaultType: typ,
		UserName:           c.Optional(Config.UserName, ""),
		Password:           c.Optional(Config.Password, ""),
		ClientID:           c.Optional(Config.ClientID, ""),
		Strict:             c.OptionalBool(Config.Strict, defaultStrict),
		UseTryLock:         c.OptionalInt(Config.TryLock, defaultTryLock),
		Provider:           c.Optional(Config.Provider, ""),
	}
	return props, props.Validate()
}

func (p Properties) Validate() error {
	if p.UseTryLock < 0 {
		return errors.Wrapf(spi.InvalidPropertyError, "Negative try lock [%v]", p.UseTryLock)
	}
	if p.SessionDefaultType < Agnostic || p.SessionDefaultType > Topic {
		return errors.Wrapf(spi.InvalidPropertyError, "Unknown session type [%v]", p.SessionDefaultType)
	}
	return nil
}

func (p Properties) String() string {
	return fmt.Sprintf("Properties(type=%v, user=%v, client=%v, strict=%v, tryLock=%v, provider=%v)",
		p.SessionDefaultType, p.UserName, p.ClientID, p.Strict, p.UseTryLock, p.Provider)
}
