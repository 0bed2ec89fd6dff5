package jms

import "github.com/pkg/errors"

var (
	IllegalStateError          = errors.New("Jms:IllegalStateError")
	ResourceAllocationError    = errors.New("Jms:ResourceAllocationError")
	InvalidDestinationError    = errors.New("Jms:InvalidDestinationError")
	InvalidSelectorError       = errors.New("Jms:InvalidSelectorError")
	InvalidClientIDError       = errors.New("Jms:InvalidClientIDError")
	SecurityError              = errors.New("Jms:SecurityError")
	TransactionRolledBackError = errors.New("Jms:TransactionRolledBackError")
	MessageFormatError         = errors.New("Jms:MessageFormatError")
	MessageNotReadableError    = errors.New("Jms:MessageNotReadableError")
	MessageNotWriteableError   = errors.New("Jms:MessageNotWriteableError")
	MessageEOFError            = errors.New("Jms:MessageEOFError")
)

var all = []error{
	IllegalStateError,
	ResourceAllocationError,
	InvalidDestinationError,
	InvalidSelectorError,
	InvalidClientIDError,
	SecurityError,
	TransactionRolledBackError,
	MessageFormatError,
	MessageNotReadableError,
	MessageNotWriteableError,
	MessageEOFError,
}

// Extracts the messaging error kind from an error chain.  Errors that
// crossed a process boundary are matched by their message.  If no kind
// is found, the input is returned.
func Extract(err error) error {
	if err == nil {
		return nil
	}

	for _, e := range all {
		if err == e {
			return e
		}
	}

	for _, e := range all {
		if err.Error() == e.Error() {
			return e
		}
	}

	type causer interface {
		Cause() error
	}

	if c, ok := err.(causer); ok {
		if cause := Extract(c.Cause()); cause != nil {
			for _, e := range all {
				if cause == e {
					return cause
				}
			}
		}
	}

	return err
}

// Returns true if the error chain contains the given kind.
func Is(err error, kind error) bool {
	return Extract(err) == kind
}
