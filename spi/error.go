package spi

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	IllegalStateError       = errors.New("Spi:IllegalStateError")
	NotSupportedError       = errors.New("Spi:NotSupportedError")
	SecurityError           = errors.New("Spi:SecurityError")
	ResourceAllocationError = errors.New("Spi:ResourceAllocationError")
	InvalidPropertyError    = errors.New("Spi:InvalidPropertyError")
)

// ResourceError carries a failure of the underlying resource across the
// connector boundary.
type ResourceError struct {
	msg   string
	cause error
}

func NewResourceError(cause error, format string, args ...interface{}) *ResourceError {
	return &ResourceError{msg: fmt.Sprintf(format, args...), cause: cause}
}

func (r *ResourceError) Error() string {
	if r.cause == nil {
		return r.msg
	}
	return fmt.Sprintf("%v: %v", r.msg, r.cause)
}

func (r *ResourceError) Cause() error {
	return r.cause
}

func (r *ResourceError) Unwrap() error {
	return r.cause
}

// Extracts the connector error kind from an error chain.  If no kind is
// found, the input is returned.
func Extract(err error) error {
	for cur := err; cur != nil; {
		switch cur {
		case IllegalStateError, NotSupportedError, SecurityError, ResourceAllocationError, InvalidPropertyError:
			return cur
		}

		type causer interface {
			Cause() error
		}

		c, ok := cur.(causer)
		if !ok {
			break
		}
		cur = c.Cause()
	}
	return err
}
