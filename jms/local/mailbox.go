package local

import (
	"sort"
	"sync"
	"time"

	"github.com/emirpasic/gods/trees/binaryheap"
	"github.com/pkg/errors"
	"github.com/pkopriv2/relay/jms"
	"github.com/pkopriv2/relay/jms/selector"
)

// An envelope is a message at rest in the broker.  The message is a
// private snapshot: consumers always receive a copy.
type envelope struct {
	msg         jms.Message
	seq         uint64
	origin      string
	redelivered bool
}

// Higher priorities first, then arrival order.
func compareEnvelopes(a, b interface{}) int {
	l, r := a.(*envelope), b.(*envelope)
	if lp, rp := l.msg.Priority(), r.msg.Priority(); lp != rp {
		if lp > rp {
			return -1
		}
		return 1
	}
	switch {
	case l.seq < r.seq:
		return -1
	case l.seq > r.seq:
		return 1
	}
	return 0
}

// A mailbox holds the pending messages of a queue or a topic subscription.
type mailbox struct {
	name     string
	capacity int
	lock     sync.Mutex
	heap     *binaryheap.Heap
	signal   chan struct{}
	closed   bool
}

func newMailbox(name string, capacity int) *mailbox {
	return &mailbox{
		name:     name,
		capacity: capacity,
		heap:     binaryheap.NewWith(compareEnvelopes),
		signal:   make(chan struct{})}
}

func (m *mailbox) notifyLocked() {
	close(m.signal)
	m.signal = make(chan struct{})
}

// Returns a channel that is closed the next time the mailbox changes.
func (m *mailbox) wait() <-chan struct{} {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.signal
}

func (m *mailbox) put(e *envelope) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.closed {
		return errors.Wrapf(jms.InvalidDestinationError, "Destination [%v] has been deleted", m.name)
	}
	if m.capacity > 0 && m.heap.Size() >= m.capacity {
		return errors.Wrapf(jms.ResourceAllocationError, "Destination [%v] is full [%v]", m.name, m.capacity)
	}
	m.heap.Push(e)
	m.notifyLocked()
	return nil
}

// Returns a message to the mailbox, regardless of capacity.
func (m *mailbox) requeue(e *envelope) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.closed {
		return
	}
	e.redelivered = true
	m.heap.Push(e)
	m.notifyLocked()
}

// Removes and returns the first live message matching the selector.
// Expired messages encountered along the way are dropped.
func (m *mailbox) poll(sel *selector.Selector, now time.Time, expired func(*envelope)) *envelope {
	m.lock.Lock()
	defer m.lock.Unlock()

	var skipped []*envelope
	defer func() {
		for _, e := range skipped {
			m.heap.Push(e)
		}
	}()

	for {
		val, ok := m.heap.Pop()
		if !ok {
			return nil
		}

		e := val.(*envelope)
		if isExpired(e.msg, now) {
			expired(e)
			continue
		}
		if sel.Matches(e.msg) {
			return e
		}
		skipped = append(skipped, e)
	}
}

// Returns the live messages matching the selector in delivery order.
func (m *mailbox) snapshot(sel *selector.Selector, now time.Time) []*envelope {
	m.lock.Lock()
	defer m.lock.Unlock()

	ret := make([]*envelope, 0, m.heap.Size())
	for _, v := range m.heap.Values() {
		e := v.(*envelope)
		if !isExpired(e.msg, now) && sel.Matches(e.msg) {
			ret = append(ret, e)
		}
	}
	sort.Slice(ret, func(i, j int) bool {
		return compareEnvelopes(ret[i], ret[j]) < 0
	})
	return ret
}

func (m *mailbox) size() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.heap.Size()
}

func (m *mailbox) close() {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.heap.Clear()
	m.notifyLocked()
}

func (m *mailbox) isClosed() bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.closed
}

func isExpired(msg jms.Message, now time.Time) bool {
	exp := msg.Expiration()
	return !exp.IsZero() && exp.Before(now)
}
