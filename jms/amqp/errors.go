package amqp

import (
	"fmt"

	"github.com/Azure/go-amqp"
	"github.com/pkg/errors"
	"github.com/pkopriv2/relay/jms"
)

// Returns the error condition sent by the peer, if any.
func remoteError(err error) *amqp.Error {
	var connErr *amqp.ConnError
	if errors.As(err, &connErr) {
		return connErr.RemoteErr
	}
	var sessErr *amqp.SessionError
	if errors.As(err, &sessErr) {
		return sessErr.RemoteErr
	}
	var linkErr *amqp.LinkError
	if errors.As(err, &linkErr) {
		return linkErr.RemoteErr
	}
	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) {
		return amqpErr
	}
	return nil
}

// Classifies a transport error as the matching JMS error.
func wrap(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}

	kind := jms.IllegalStateError
	if remote := remoteError(err); remote != nil {
		switch remote.Condition {
		case amqp.ErrCondNotFound:
			kind = jms.InvalidDestinationError
		case amqp.ErrCondUnauthorizedAccess:
			kind = jms.SecurityError
		case amqp.ErrCondResourceLimitExceeded:
			kind = jms.ResourceAllocationError
		}
	}
	return errors.Wrapf(kind, "%v: %v", fmt.Sprintf(format, args...), err)
}
