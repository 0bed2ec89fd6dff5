package local

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/pkopriv2/relay/stash"
	"github.com/pkopriv2/relay/xa"
	bolt "go.etcd.io/bbolt"
)

type branchState int

const (
	branchActive branchState = iota
	branchSuspended
	branchEnded
	branchPrepared
)

// A branch is the unit of work of a global transaction at this broker.
// Several sessions may join the same branch.
type branch struct {
	xid          xa.Xid
	lock         sync.Mutex
	state        branchState
	rollbackOnly bool
	work         work
}

func (b *branch) addSend(p pending) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.state != branchActive {
		return xa.NewError(xa.XAER_PROTO, "Branch [%v] is not active", b.xid)
	}
	b.work.sends = append(b.work.sends, p)
	return nil
}

func (b *branch) addRecv(d delivery) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.state != branchActive {
		return xa.NewError(xa.XAER_PROTO, "Branch [%v] is not active", b.xid)
	}
	b.work.recvs = append(b.work.recvs, d)
	return nil
}

// The xa resource of a session.  A resource is associated with at most
// one branch at a time.
type xaResource struct {
	session *session
	broker  *Broker

	lock    sync.Mutex
	assoc   *branch
	timeout time.Duration
}

func newXaResource(s *session) *xaResource {
	return &xaResource{session: s, broker: s.broker}
}

// Returns the branch the session's work currently belongs to.
func (r *xaResource) current() *branch {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.assoc
}

// Dissociates a closing session.  An unfinished branch can no longer
// succeed.
func (r *xaResource) detach() {
	r.lock.Lock()
	b := r.assoc
	r.assoc = nil
	r.lock.Unlock()
	if b == nil {
		return
	}

	b.lock.Lock()
	defer b.lock.Unlock()
	b.rollbackOnly = true
	if b.state == branchActive {
		b.state = branchEnded
	}
}

func (r *xaResource) Start(ctx context.Context, xid xa.Xid, flags xa.Flags) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.assoc != nil {
		return xa.NewError(xa.XAER_PROTO, "Resource already associated with [%v]", r.assoc.xid)
	}

	if flags.Has(xa.TMJOIN) || flags.Has(xa.TMRESUME) {
		b := r.broker.branch(xid)
		if b == nil {
			return xa.NewError(xa.XAER_NOTA, "Unknown branch [%v]", xid)
		}

		b.lock.Lock()
		defer b.lock.Unlock()
		if flags.Has(xa.TMRESUME) && b.state != branchSuspended {
			return xa.NewError(xa.XAER_PROTO, "Branch [%v] is not suspended", xid)
		}
		if b.state == branchPrepared {
			return xa.NewError(xa.XAER_PROTO, "Branch [%v] is prepared", xid)
		}
		b.state = branchActive
		r.assoc = b
		return nil
	}

	if flags != xa.TMNOFLAGS {
		return xa.NewError(xa.XAER_INVAL, "Invalid start flags [%x]", int(flags))
	}

	b := &branch{xid: xid}
	if !r.broker.addBranch(b) {
		return xa.NewError(xa.XAER_DUPID, "Duplicate branch [%v]", xid)
	}
	r.assoc = b
	return nil
}

func (r *xaResource) End(ctx context.Context, xid xa.Xid, flags xa.Flags) error {
	r.lock.Lock()
	b := r.assoc
	if b == nil || !b.xid.Equals(xid) {
		r.lock.Unlock()
		return xa.NewError(xa.XAER_PROTO, "Resource not associated with [%v]", xid)
	}
	r.assoc = nil
	r.lock.Unlock()

	b.lock.Lock()
	defer b.lock.Unlock()
	switch {
	case flags.Has(xa.TMSUSPEND):
		b.state = branchSuspended
	case flags.Has(xa.TMFAIL):
		b.state = branchEnded
		b.rollbackOnly = true
		return xa.NewError(xa.XA_RBROLLBACK, "Branch [%v] marked rollback only", xid)
	case flags.Has(xa.TMSUCCESS):
		b.state = branchEnded
	default:
		return xa.NewError(xa.XAER_INVAL, "Invalid end flags [%x]", int(flags))
	}
	return nil
}

// Returns the branch, which must be ended and not yet prepared.
func (r *xaResource) ended(xid xa.Xid) (*branch, error) {
	b := r.broker.branch(xid)
	if b == nil {
		return nil, xa.NewError(xa.XAER_NOTA, "Unknown branch [%v]", xid)
	}

	b.lock.Lock()
	defer b.lock.Unlock()
	if b.state != branchEnded {
		return nil, xa.NewError(xa.XAER_PROTO, "Branch [%v] has not ended", xid)
	}
	return b, nil
}

func (r *xaResource) Prepare(ctx context.Context, xid xa.Xid) (xa.Vote, error) {
	b, err := r.ended(xid)
	if err != nil {
		return 0, err
	}

	if b.rollbackOnly {
		r.rollback(b)
		return 0, xa.NewError(xa.XA_RBROLLBACK, "Branch [%v] rolled back", xid)
	}

	b.lock.Lock()
	readOnly := b.work.empty()
	b.lock.Unlock()
	if readOnly {
		r.broker.removeBranch(xid)
		return xa.XA_RDONLY, nil
	}

	if err := r.broker.log.prepare(xid); err != nil {
		r.rollback(b)
		return 0, xa.WrapError(xa.XA_RBROLLBACK, err, "Unable to record branch [%v]", xid)
	}

	b.lock.Lock()
	b.state = branchPrepared
	b.lock.Unlock()
	return xa.XA_OK, nil
}

func (r *xaResource) Commit(ctx context.Context, xid xa.Xid, onePhase bool) error {
	b := r.broker.branch(xid)
	if b == nil {
		return r.forgotten(xid)
	}

	b.lock.Lock()
	state, rollbackOnly := b.state, b.rollbackOnly
	b.lock.Unlock()

	switch {
	case onePhase && state != branchEnded:
		return xa.NewError(xa.XAER_PROTO, "Branch [%v] has not ended", xid)
	case !onePhase && state != branchPrepared:
		return xa.NewError(xa.XAER_PROTO, "Branch [%v] is not prepared", xid)
	case onePhase && rollbackOnly:
		r.rollback(b)
		return xa.NewError(xa.XA_RBROLLBACK, "Branch [%v] rolled back", xid)
	}

	r.broker.removeBranch(xid)
	if err := b.work.commit(r.broker); err != nil {
		if onePhase {
			b.work.rollback(r.broker)
			r.broker.log.remove(xid)
			return xa.WrapError(xa.XA_RBROLLBACK, err, "Branch [%v] rolled back", xid)
		}
		r.broker.log.remove(xid)
		return xa.WrapError(xa.XA_HEURHAZ, err, "Branch [%v] partially committed", xid)
	}

	if err := r.broker.log.remove(xid); err != nil {
		r.broker.logger.Error("Unable to clear branch [%v]: %+v", xid, err)
	}
	return nil
}

func (r *xaResource) Rollback(ctx context.Context, xid xa.Xid) error {
	b := r.broker.branch(xid)
	if b == nil {
		return r.forgotten(xid)
	}

	b.lock.Lock()
	state := b.state
	b.lock.Unlock()
	if state == branchActive {
		return xa.NewError(xa.XAER_PROTO, "Branch [%v] is still active", xid)
	}

	r.rollback(b)
	return nil
}

func (r *xaResource) rollback(b *branch) {
	r.broker.removeBranch(b.xid)
	b.work.rollback(r.broker)
	if err := r.broker.log.remove(b.xid); err != nil {
		r.broker.logger.Error("Unable to clear branch [%v]: %+v", b.xid, err)
	}
}

// Completes a branch known only to the log.  It was prepared before a
// restart and its messages did not survive.
func (r *xaResource) forgotten(xid xa.Xid) error {
	ok, err := r.broker.log.contains(xid)
	if err != nil {
		return xa.WrapError(xa.XAER_RMERR, err, "Unable to read branch [%v]", xid)
	}
	if !ok {
		return xa.NewError(xa.XAER_NOTA, "Unknown branch [%v]", xid)
	}
	return r.broker.log.remove(xid)
}

func (r *xaResource) Forget(ctx context.Context, xid xa.Xid) error {
	ok, err := r.broker.log.contains(xid)
	if err != nil {
		return xa.WrapError(xa.XAER_RMERR, err, "Unable to read branch [%v]", xid)
	}
	if !ok {
		return xa.NewError(xa.XAER_NOTA, "Unknown branch [%v]", xid)
	}
	r.broker.removeBranch(xid)
	return r.broker.log.remove(xid)
}

func (r *xaResource) Recover(ctx context.Context, flags xa.Flags) ([]xa.Xid, error) {
	if flags != xa.TMNOFLAGS && !flags.Has(xa.TMSTARTRSCAN) && !flags.Has(xa.TMENDRSCAN) {
		return nil, xa.NewError(xa.XAER_INVAL, "Invalid recover flags [%x]", int(flags))
	}
	if !flags.Has(xa.TMSTARTRSCAN) && flags != xa.TMNOFLAGS {
		return []xa.Xid{}, nil
	}

	xids, err := r.broker.log.recover()
	if err != nil {
		return nil, xa.WrapError(xa.XAER_RMERR, err, "Unable to recover branches")
	}
	return xids, nil
}

func (r *xaResource) IsSameRM(other xa.Resource) (bool, error) {
	o, ok := other.(*xaResource)
	return ok && o.broker == r.broker, nil
}

func (r *xaResource) TransactionTimeout() (time.Duration, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.timeout, nil
}

func (r *xaResource) SetTransactionTimeout(timeout time.Duration) (bool, error) {
	if timeout < 0 {
		return false, xa.NewError(xa.XAER_INVAL, "Negative timeout [%v]", timeout)
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	r.timeout = timeout
	return true, nil
}

func (b *Broker) branch(xid xa.Xid) *branch {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.branches[xid.Key()]
}

func (b *Broker) addBranch(br *branch) bool {
	b.lock.Lock()
	defer b.lock.Unlock()
	if _, ok := b.branches[br.xid.Key()]; ok {
		return false
	}
	b.branches[br.xid.Key()] = br
	return true
}

func (b *Broker) removeBranch(xid xa.Xid) {
	b.lock.Lock()
	defer b.lock.Unlock()
	delete(b.branches, xid.Key())
}

var xaBucket = []byte("relay.local.xa")

// The log of prepared branches.
type xaLog struct {
	db stash.Stash
}

func newXaLog(db stash.Stash) (*xaLog, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(xaBucket)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "Error initializing xa log")
	}
	return &xaLog{db}, nil
}

func (l *xaLog) prepare(xid xa.Xid) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(xaBucket).Put(stash.String(xid.Key()).Raw(), encodeXid(xid))
	})
}

func (l *xaLog) remove(xid xa.Xid) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(xaBucket).Delete(stash.String(xid.Key()).Raw())
	})
}

func (l *xaLog) contains(xid xa.Xid) (ok bool, err error) {
	err = l.db.View(func(tx *bolt.Tx) error {
		ok = tx.Bucket(xaBucket).Get(stash.String(xid.Key()).Raw()) != nil
		return nil
	})
	return
}

func (l *xaLog) recover() (ret []xa.Xid, err error) {
	ret = []xa.Xid{}
	err = l.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(xaBucket).ForEach(func(_, v []byte) error {
			xid, err := decodeXid(v)
			if err != nil {
				return err
			}
			ret = append(ret, xid)
			return nil
		})
	})
	return
}

func encodeXid(xid xa.Xid) []byte {
	ret := stash.Int(xid.FormatID)
	ret = ret.ChildInt(len(xid.GlobalTransactionID)).Child(xid.GlobalTransactionID)
	ret = ret.ChildInt(len(xid.BranchQualifier)).Child(xid.BranchQualifier)
	return ret.Raw()
}

func decodeXid(raw []byte) (xa.Xid, error) {
	next := func(n int) ([]byte, error) {
		if n < 0 || len(raw) < n {
			return nil, errors.Errorf("Corrupt xid entry")
		}
		ret := raw[:n]
		raw = raw[n:]
		return ret, nil
	}
	nextInt := func() (int, error) {
		buf, err := next(8)
		if err != nil {
			return 0, err
		}
		return stash.ParseInt(buf)
	}

	format, err := nextInt()
	if err != nil {
		return xa.Xid{}, err
	}
	glen, err := nextInt()
	if err != nil {
		return xa.Xid{}, err
	}
	gtid, err := next(glen)
	if err != nil {
		return xa.Xid{}, err
	}
	blen, err := nextInt()
	if err != nil {
		return xa.Xid{}, err
	}
	bqual, err := next(blen)
	if err != nil {
		return xa.Xid{}, err
	}

	return xa.Xid{
		FormatID:            format,
		GlobalTransactionID: append([]byte{}, gtid...),
		BranchQualifier:     append([]byte{}, bqual...)}, nil
}
