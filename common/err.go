package common

import "github.com/pkg/errors"

var (
	ClosedError   = errors.New("Relay:ClosedError")
	CanceledError = errors.New("Relay:CanceledError")
	TimeoutError  = errors.New("Relay:TimeoutError")
)

func Or(l error, r error) error {
	if l != nil {
		return l
	} else {
		return r
	}
}

// Returns the first error of the chain that was created with errors.New
// in this package, or the input error if none is found.
func Extract(err error) error {
	for cur := err; cur != nil; {
		switch cur {
		case ClosedError, CanceledError, TimeoutError:
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

func IsCanceled(cancel <-chan struct{}) bool {
	select {
	default:
		return false
	case <-cancel:
		return true
	}
}
