package xa

import "fmt"

type Code int

const (
	XA_RBROLLBACK Code = 100
	XA_RBTIMEOUT  Code = 106
	XA_HEURHAZ    Code = 8
	XA_HEURCOM    Code = 7
	XA_HEURRB     Code = 6
	XA_RETRY      Code = 4
	XAER_ASYNC    Code = -2
	XAER_RMERR    Code = -3
	XAER_NOTA     Code = -4
	XAER_INVAL    Code = -5
	XAER_PROTO    Code = -6
	XAER_RMFAIL   Code = -7
	XAER_DUPID    Code = -8
	XAER_OUTSIDE  Code = -9
)

func (c Code) String() string {
	switch c {
	default:
		return fmt.Sprintf("XA(%d)", int(c))
	case XA_RBROLLBACK:
		return "XA_RBROLLBACK"
	case XA_RBTIMEOUT:
		return "XA_RBTIMEOUT"
	case XA_HEURHAZ:
		return "XA_HEURHAZ"
	case XA_HEURCOM:
		return "XA_HEURCOM"
	case XA_HEURRB:
		return "XA_HEURRB"
	case XA_RETRY:
		return "XA_RETRY"
	case XAER_ASYNC:
		return "XAER_ASYNC"
	case XAER_RMERR:
		return "XAER_RMERR"
	case XAER_NOTA:
		return "XAER_NOTA"
	case XAER_INVAL:
		return "XAER_INVAL"
	case XAER_PROTO:
		return "XAER_PROTO"
	case XAER_RMFAIL:
		return "XAER_RMFAIL"
	case XAER_DUPID:
		return "XAER_DUPID"
	case XAER_OUTSIDE:
		return "XAER_OUTSIDE"
	}
}

// Error is returned by resource operations.  The code tells the transaction
// manager how to proceed.
type Error struct {
	Code  Code
	Msg   string
	cause error
}

func NewError(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Returns an error with the given code, caused by err.
func WrapError(code Code, err error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...), cause: err}
}

func (e *Error) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("%v: %v", e.Code, e.Msg)
	}
	return fmt.Sprintf("%v: %v: %v", e.Code, e.Msg, e.cause)
}

func (e *Error) Cause() error {
	return e.cause
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Returns the xa code of the error chain, or XAER_RMERR if the chain holds
// no xa error.
func CodeOf(err error) Code {
	for cur := err; cur != nil; {
		if x, ok := cur.(*Error); ok {
			return x.Code
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
	return XAER_RMERR
}

// Rollback codes indicate the branch has been rolled back by the resource.
func (c Code) IsRollback() bool {
	return c >= XA_RBROLLBACK && c <= XA_RBROLLBACK+7
}

