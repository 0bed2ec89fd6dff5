package ra

import (
	"context"
	"sync"
	"time"

	"github.com/pkopriv2/relay/spi"
	"github.com/pkopriv2/relay/xa"
)

// XAResource holds the managed connection's lock for the duration of
// each branch association, from Start until End.  Work done for the
// branch must carry the xid in its context (see xa.NewContext).
type XAResource struct {
	mc    *ManagedConnection
	inner xa.Resource

	lock     sync.Mutex
	releases map[string][]func()
}

func newXAResource(mc *ManagedConnection, inner xa.Resource) *XAResource {
	return &XAResource{mc: mc, inner: inner, releases: make(map[string][]func())}
}

func (x *XAResource) Start(ctx context.Context, xid xa.Xid, flags xa.Flags) error {
	release, err := x.mc.acquire(xa.NewContext(ctx, xid))
	if err != nil {
		return xa.WrapError(xa.XAER_RMERR, err, "Unable to lock session for [%v]", xid)
	}

	if err := x.inner.Start(ctx, xid, flags); err != nil {
		release()
		return err
	}

	x.lock.Lock()
	defer x.lock.Unlock()
	x.releases[xid.Key()] = append(x.releases[xid.Key()], release)
	return nil
}

func (x *XAResource) End(ctx context.Context, xid xa.Xid, flags xa.Flags) error {
	defer x.unlock(xid)
	return x.inner.End(ctx, xid, flags)
}

func (x *XAResource) unlock(xid xa.Xid) {
	x.lock.Lock()
	stack := x.releases[xid.Key()]
	if len(stack) == 0 {
		x.lock.Unlock()
		return
	}
	release := stack[len(stack)-1]
	if len(stack) == 1 {
		delete(x.releases, xid.Key())
	} else {
		x.releases[xid.Key()] = stack[:len(stack)-1]
	}
	x.lock.Unlock()
	release()
}

func (x *XAResource) Prepare(ctx context.Context, xid xa.Xid) (xa.Vote, error) {
	return x.inner.Prepare(ctx, xid)
}

func (x *XAResource) Commit(ctx context.Context, xid xa.Xid, onePhase bool) error {
	return x.inner.Commit(ctx, xid, onePhase)
}

func (x *XAResource) Rollback(ctx context.Context, xid xa.Xid) error {
	return x.inner.Rollback(ctx, xid)
}

func (x *XAResource) Forget(ctx context.Context, xid xa.Xid) error {
	return x.inner.Forget(ctx, xid)
}

func (x *XAResource) Recover(ctx context.Context, flags xa.Flags) ([]xa.Xid, error) {
	return x.inner.Recover(ctx, flags)
}

func (x *XAResource) IsSameRM(other xa.Resource) (bool, error) {
	if o, ok := other.(*XAResource); ok {
		other = o.inner
	}
	return x.inner.IsSameRM(other)
}

func (x *XAResource) TransactionTimeout() (time.Duration, error) {
	return x.inner.TransactionTimeout()
}

func (x *XAResource) SetTransactionTimeout(timeout time.Duration) (bool, error) {
	return x.inner.SetTransactionTimeout(timeout)
}

// LocalTransaction commits or rolls back the work of a transacted
// physical session.
type LocalTransaction struct {
	mc *ManagedConnection
}

func (t *LocalTransaction) Begin(ctx context.Context) error {
	t.mc.sendEvent(spi.LocalTransactionStarted, nil, nil)
	return nil
}

func (t *LocalTransaction) Commit(ctx context.Context) error {
	if err := t.complete(ctx, true); err != nil {
		return spi.NewResourceError(err, "Could not commit local transaction")
	}
	t.mc.sendEvent(spi.LocalTransactionCommitted, nil, nil)
	return nil
}

func (t *LocalTransaction) Rollback(ctx context.Context) error {
	if err := t.complete(ctx, false); err != nil {
		return spi.NewResourceError(err, "Could not rollback local transaction")
	}
	t.mc.sendEvent(spi.LocalTransactionRolledBack, nil, nil)
	return nil
}

func (t *LocalTransaction) complete(ctx context.Context, commit bool) error {
	release, err := t.mc.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	session, err := t.mc.Session()
	if err != nil {
		return err
	}
	if !session.Transacted() {
		return nil
	}
	if commit {
		return session.Commit(ctx)
	}
	return session.Rollback(ctx)
}
