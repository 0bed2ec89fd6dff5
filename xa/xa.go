package xa

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"time"

	uuid "github.com/satori/go.uuid"
)

// Flags passed to the resource operations.
type Flags int

const (
	TMNOFLAGS    Flags = 0x00000000
	TMJOIN       Flags = 0x00200000
	TMENDRSCAN   Flags = 0x00800000
	TMSTARTRSCAN Flags = 0x01000000
	TMSUSPEND    Flags = 0x02000000
	TMSUCCESS    Flags = 0x04000000
	TMRESUME     Flags = 0x08000000
	TMFAIL       Flags = 0x20000000
	TMONEPHASE   Flags = 0x40000000
)

func (f Flags) Has(o Flags) bool {
	return f&o == o && o != 0
}

// The outcome of a prepare.
type Vote int

const (
	XA_OK     Vote = 0
	XA_RDONLY Vote = 3
)

// A global transaction branch identifier.
type Xid struct {
	FormatID            int
	GlobalTransactionID []byte
	BranchQualifier     []byte
}

// Returns a new xid with a random global id and branch.
func NewXid() Xid {
	return Xid{
		FormatID:            0x52454c59,
		GlobalTransactionID: uuid.NewV4().Bytes(),
		BranchQualifier:     uuid.NewV4().Bytes(),
	}
}

// Returns a new branch of the same global transaction.
func (x Xid) Branch() Xid {
	return Xid{x.FormatID, x.GlobalTransactionID, uuid.NewV4().Bytes()}
}

func (x Xid) Equals(o Xid) bool {
	return x.FormatID == o.FormatID &&
		bytes.Equal(x.GlobalTransactionID, o.GlobalTransactionID) &&
		bytes.Equal(x.BranchQualifier, o.BranchQualifier)
}

// Returns a comparable representation of the xid, suitable as a map key.
func (x Xid) Key() string {
	return fmt.Sprintf("%x:%v:%v", x.FormatID, hex.EncodeToString(x.GlobalTransactionID), hex.EncodeToString(x.BranchQualifier))
}

func (x Xid) String() string {
	return fmt.Sprintf("Xid(%v)", x.Key())
}

// A participant in a two phase commit, coordinated by a transaction manager.
type Resource interface {
	Start(ctx context.Context, xid Xid, flags Flags) error
	End(ctx context.Context, xid Xid, flags Flags) error
	Prepare(ctx context.Context, xid Xid) (Vote, error)
	Commit(ctx context.Context, xid Xid, onePhase bool) error
	Rollback(ctx context.Context, xid Xid) error
	Forget(ctx context.Context, xid Xid) error
	Recover(ctx context.Context, flags Flags) ([]Xid, error)
	IsSameRM(other Resource) (bool, error)
	TransactionTimeout() (time.Duration, error)
	SetTransactionTimeout(time.Duration) (bool, error)
}

type xidKey struct{}

// Returns a context carrying the transaction branch.  Work performed with
// the returned context is associated with the branch.
func NewContext(ctx context.Context, xid Xid) context.Context {
	return context.WithValue(ctx, xidKey{}, xid)
}

// Returns the transaction branch carried by the context.
func FromContext(ctx context.Context) (Xid, bool) {
	if ctx == nil {
		return Xid{}, false
	}
	xid, ok := ctx.Value(xidKey{}).(Xid)
	return xid, ok
}
