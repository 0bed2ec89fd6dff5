package spi

import "fmt"

type EventType int

const (
	ConnectionClosed EventType = iota + 1
	LocalTransactionStarted
	LocalTransactionCommitted
	LocalTransactionRolledBack
	ConnectionErrorOccurred
)

func (e EventType) String() string {
	switch e {
	default:
		return fmt.Sprintf("EventType(%d)", int(e))
	case ConnectionClosed:
		return "ConnectionClosed"
	case LocalTransactionStarted:
		return "LocalTransactionStarted"
	case LocalTransactionCommitted:
		return "LocalTransactionCommitted"
	case LocalTransactionRolledBack:
		return "LocalTransactionRolledBack"
	case ConnectionErrorOccurred:
		return "ConnectionErrorOccurred"
	}
}

type ConnectionEvent struct {
	Type   EventType
	Source ManagedConnection
	Handle Handle
	Err    error
}

func (e ConnectionEvent) String() string {
	return fmt.Sprintf("ConnectionEvent(%v)", e.Type)
}

// Listeners are tracked by identity, so implementations must be
// comparable (e.g. pointers).
type ConnectionEventListener interface {
	HandleConnectionEvent(ConnectionEvent)
}
