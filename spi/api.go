// Package spi defines the contracts between a resource adapter and the
// container that pools its connections and delivers its messages.
package spi

import (
	"context"

	"github.com/pkopriv2/relay/xa"
)

// A handle is the application level object handed out by a managed
// connection.  Its concrete type is defined by the adapter.
type Handle interface{}

// Opaque, adapter defined information that accompanies a connection
// request.  Two requests with equal infos may share a managed connection.
type ConnectionRequestInfo interface {
	Equals(ConnectionRequestInfo) bool
}

type ManagedConnectionFactory interface {
	CreateManagedConnection(ctx context.Context, subject *Subject, info ConnectionRequestInfo) (ManagedConnection, error)

	// Returns the managed connection of the set that can satisfy the
	// request, or nil if there is none.
	MatchManagedConnections(set []ManagedConnection, subject *Subject, info ConnectionRequestInfo) (ManagedConnection, error)

	Equals(ManagedConnectionFactory) bool
}

// A managed connection is a physical connection to the resource.  Handles
// are created from it and may later be moved to another managed connection.
type ManagedConnection interface {
	Connection(ctx context.Context, subject *Subject, info ConnectionRequestInfo) (Handle, error)

	// Moves the handle to this managed connection.
	AssociateConnection(handle Handle) error

	// Invalidates every handle, leaving the managed connection ready for
	// reuse by the pool.
	Cleanup(ctx context.Context) error

	// Closes the physical connection.
	Destroy(ctx context.Context) error

	AddConnectionEventListener(ConnectionEventListener)
	RemoveConnectionEventListener(ConnectionEventListener)

	XAResource() (xa.Resource, error)
	LocalTransaction() (LocalTransaction, error)
	MetaData() (ManagedConnectionMetaData, error)
}

// Implemented by managed connections whose handles may be detached and
// later re-attached lazily.
type DissociatableManagedConnection interface {
	ManagedConnection
	DissociateConnections() error
}

// The container side of connection allocation.
type ConnectionManager interface {
	AllocateConnection(ctx context.Context, mcf ManagedConnectionFactory, info ConnectionRequestInfo) (Handle, error)
}

// Implemented by connection managers that can re-attach a dissociated
// handle to a managed connection on its next use.
type LazyAssociatableConnectionManager interface {
	ConnectionManager
	AssociateConnection(ctx context.Context, handle Handle, mcf ManagedConnectionFactory, info ConnectionRequestInfo) error
}

type LocalTransaction interface {
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type ManagedConnectionMetaData struct {
	EISProductName    string
	EISProductVersion string
	MaxConnections    int
	UserName          string
}
