package ra

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/pkopriv2/relay/jms"
	"github.com/pkopriv2/relay/xa"
)

// A fair lock that is re-entrant for the owner carried by a context.
// Waiters queue on a channel, so they acquire in arrival order.  A context
// without an owner always acquires exclusively.
type sessionLock struct {
	sem   chan struct{}
	lock  sync.Mutex
	owner string
	holds int
}

func newSessionLock() *sessionLock {
	return &sessionLock{sem: make(chan struct{}, 1)}
}

func ownerOf(ctx context.Context) string {
	if xid, ok := xa.FromContext(ctx); ok {
		return xid.Key()
	}
	return ""
}

// Acquires the lock, waiting at most timeout when it is positive.  The
// returned func releases this acquisition only and may be called any
// number of times.
func (l *sessionLock) acquire(ctx context.Context, timeout time.Duration) (func(), error) {
	owner := ownerOf(ctx)
	if owner != "" {
		l.lock.Lock()
		if l.holds > 0 && l.owner == owner {
			l.holds++
			l.lock.Unlock()
			return l.releaser(), nil
		}
		l.lock.Unlock()
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case l.sem <- struct{}{}:
	case <-expired:
		return nil, errors.Wrapf(jms.ResourceAllocationError, "Unable to obtain lock in %v seconds", int(timeout/time.Second))
	case <-ctx.Done():
		return nil, errors.Wrapf(jms.ResourceAllocationError, "Interrupted attempting lock: %v", ctx.Err())
	}

	l.lock.Lock()
	l.owner = owner
	l.holds = 1
	l.lock.Unlock()
	return l.releaser(), nil
}

func (l *sessionLock) releaser() func() {
	var once sync.Once
	return func() {
		once.Do(l.release)
	}
}

func (l *sessionLock) release() {
	l.lock.Lock()
	l.holds--
	free := l.holds == 0
	if free {
		l.owner = ""
	}
	l.lock.Unlock()
	if free {
		<-l.sem
	}
}

func (l *sessionLock) held() bool {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.holds > 0
}
