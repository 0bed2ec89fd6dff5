// Package pool is a minimal connection manager.  It pools the managed
// connections of each factory, parks them when their last handle closes and
// hands them back out to matching requests.
package pool

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/pkopriv2/relay/common"
	"github.com/pkopriv2/relay/spi"
	metrics "github.com/rcrowley/go-metrics"
)

type stats struct {
	idle      metrics.Gauge
	inUse     metrics.Gauge
	created   metrics.Counter
	destroyed metrics.Counter
	wait      metrics.Timer
	timeouts  metrics.Counter
}

func newStats(registry metrics.Registry) stats {
	return stats{
		idle:      metrics.GetOrRegisterGauge("pool.idle", registry),
		inUse:     metrics.GetOrRegisterGauge("pool.inuse", registry),
		created:   metrics.GetOrRegisterCounter("pool.connections.created", registry),
		destroyed: metrics.GetOrRegisterCounter("pool.connections.destroyed", registry),
		wait:      metrics.GetOrRegisterTimer("pool.allocate.wait", registry),
		timeouts:  metrics.GetOrRegisterCounter("pool.allocate.timeouts", registry),
	}
}

// Point in time pool occupancy.
type Stats struct {
	Idle  int
	InUse int
}

type idleEntry struct {
	mc    spi.ManagedConnection
	since time.Time
}

// The managed connections of a single factory.
type subpool struct {
	mcf   spi.ManagedConnectionFactory
	idle  *list.List
	inUse map[spi.ManagedConnection]struct{}

	// includes connections being created
	total int

	// closed and replaced whenever a connection is returned or destroyed.
	signal chan struct{}
}

func newSubpool(mcf spi.ManagedConnectionFactory) *subpool {
	return &subpool{
		mcf:    mcf,
		idle:   list.New(),
		inUse:  make(map[spi.ManagedConnection]struct{}),
		signal: make(chan struct{}),
	}
}

func (p *subpool) notify() {
	close(p.signal)
	p.signal = make(chan struct{})
}

func (p *subpool) idleSet() []spi.ManagedConnection {
	ret := make([]spi.ManagedConnection, 0, p.idle.Len())
	for e := p.idle.Front(); e != nil; e = e.Next() {
		ret = append(ret, e.Value.(*idleEntry).mc)
	}
	return ret
}

func (p *subpool) removeIdle(mc spi.ManagedConnection) bool {
	for e := p.idle.Front(); e != nil; e = e.Next() {
		if e.Value.(*idleEntry).mc == mc {
			p.idle.Remove(e)
			return true
		}
	}
	return false
}

// Removes and returns the longest idle connection.
func (p *subpool) takeOldest() spi.ManagedConnection {
	e := p.idle.Front()
	if e == nil {
		return nil
	}
	p.idle.Remove(e)
	return e.Value.(*idleEntry).mc
}

// Implemented by managed connections that can report their open handles.
type handleCounter interface {
	Handles() int
}

// Manager is a connection manager with lazy association support.
type Manager struct {
	ctx    common.Context
	ctrl   common.Control
	logger common.Logger
	opts   *Options
	stats  stats

	lock  sync.Mutex
	pools []*subpool
}

func NewManager(ctx common.Context, fns ...func(*Options)) (*Manager, error) {
	opts, err := buildOptions(ctx, fns)
	if err != nil {
		return nil, err
	}

	ctx = ctx.Sub("Pool")

	m := &Manager{
		ctx:    ctx,
		ctrl:   ctx.Control(),
		logger: ctx.Logger(),
		opts:   opts,
		stats:  newStats(opts.registry),
	}
	m.ctrl.Defer(func(error) {
		m.destroyAll()
	})

	if opts.idleTimeout > 0 {
		go m.reap()
	}
	return m, nil
}

func (m *Manager) Close() error {
	return m.ctrl.Close()
}

func (m *Manager) Metrics() metrics.Registry {
	return m.opts.registry
}

func (m *Manager) Stats() Stats {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.statsLocked()
}

func (m *Manager) statsLocked() (ret Stats) {
	for _, p := range m.pools {
		ret.Idle += p.idle.Len()
		ret.InUse += len(p.inUse)
	}
	return
}

func (m *Manager) updateGauges() {
	s := m.statsLocked()
	m.stats.idle.Update(int64(s.Idle))
	m.stats.inUse.Update(int64(s.InUse))
}

func (m *Manager) subpool(mcf spi.ManagedConnectionFactory) *subpool {
	for _, p := range m.pools {
		if p.mcf.Equals(mcf) {
			return p
		}
	}
	p := newSubpool(mcf)
	m.pools = append(m.pools, p)
	return p
}

func (m *Manager) AllocateConnection(ctx context.Context, mcf spi.ManagedConnectionFactory, info spi.ConnectionRequestInfo) (spi.Handle, error) {
	p, mc, err := m.reserve(ctx, mcf, info)
	if err != nil {
		return nil, err
	}

	handle, err := mc.Connection(ctx, m.opts.subject, info)
	if err != nil {
		m.logger.Error("Error obtaining handle: %v", err)
		m.destroy(p, mc)
		return nil, err
	}
	return handle, nil
}

// Attaches a dissociated handle to a matching managed connection.
func (m *Manager) AssociateConnection(ctx context.Context, handle spi.Handle, mcf spi.ManagedConnectionFactory, info spi.ConnectionRequestInfo) error {
	p, mc, err := m.reserve(ctx, mcf, info)
	if err != nil {
		return err
	}

	if err := mc.AssociateConnection(handle); err != nil {
		m.logger.Error("Error associating handle: %v", err)
		m.release(p, mc)
		return err
	}
	return nil
}

// Detaches every handle of the managed connection and parks it.  The
// handles are re-associated through AssociateConnection on their next use.
func (m *Manager) Dissociate(ctx context.Context, mc spi.ManagedConnection) error {
	d, ok := mc.(spi.DissociatableManagedConnection)
	if !ok {
		return errors.Wrapf(spi.NotSupportedError, "Managed connection does not support dissociation [%T]", mc)
	}

	p := m.owner(mc)
	if p == nil {
		return errors.Wrap(spi.IllegalStateError, "Managed connection is not in use")
	}

	if err := d.DissociateConnections(); err != nil {
		return err
	}
	m.release(p, mc)
	return nil
}

func (m *Manager) owner(mc spi.ManagedConnection) *subpool {
	m.lock.Lock()
	defer m.lock.Unlock()
	for _, p := range m.pools {
		if _, ok := p.inUse[mc]; ok {
			return p
		}
	}
	return nil
}

// Reserves a managed connection able to satisfy the request, waiting for
// one to be returned when the pool is exhausted.
func (m *Manager) reserve(ctx context.Context, mcf spi.ManagedConnectionFactory, info spi.ConnectionRequestInfo) (*subpool, spi.ManagedConnection, error) {
	start := time.Now()
	defer m.stats.wait.UpdateSince(start)

	var timeout <-chan time.Time
	if m.opts.blockingTimeout > 0 {
		timer := time.NewTimer(m.opts.blockingTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		if m.ctrl.IsClosed() {
			return nil, nil, errors.WithStack(common.ClosedError)
		}

		m.lock.Lock()
		p := m.subpool(mcf)

		mc, err := mcf.MatchManagedConnections(p.idleSet(), m.opts.subject, info)
		if err != nil {
			m.lock.Unlock()
			return nil, nil, err
		}
		if mc != nil {
			p.removeIdle(mc)
			p.inUse[mc] = struct{}{}
			m.updateGauges()
			m.lock.Unlock()
			return p, mc, nil
		}

		// Make room by evicting an idle connection that did not match.
		var evicted spi.ManagedConnection
		if p.total >= m.opts.max {
			if evicted = p.takeOldest(); evicted != nil {
				p.total--
			}
		}

		if p.total < m.opts.max {
			p.total++
			m.updateGauges()
			m.lock.Unlock()

			if evicted != nil {
				m.destroyManaged(evicted)
			}
			mc, err := m.create(ctx, p, info)
			if err != nil {
				return nil, nil, err
			}
			return p, mc, nil
		}

		signal := p.signal
		m.lock.Unlock()

		select {
		case <-signal:
		case <-timeout:
			m.stats.timeouts.Inc(1)
			return nil, nil, errors.Wrapf(spi.ResourceAllocationError, "Unable to obtain a managed connection in %v", m.opts.blockingTimeout)
		case <-ctx.Done():
			return nil, nil, errors.Wrap(ctx.Err(), "Interrupted waiting for a managed connection")
		case <-m.ctrl.Closed():
			return nil, nil, errors.WithStack(common.ClosedError)
		}
	}
}

// Creates a managed connection for a slot already counted in the total.
func (m *Manager) create(ctx context.Context, p *subpool, info spi.ConnectionRequestInfo) (spi.ManagedConnection, error) {
	mc, err := p.mcf.CreateManagedConnection(ctx, m.opts.subject, info)
	if err != nil {
		m.lock.Lock()
		p.total--
		p.notify()
		m.lock.Unlock()
		return nil, err
	}

	mc.AddConnectionEventListener(&listener{m, p, mc})
	m.stats.created.Inc(1)

	m.lock.Lock()
	defer m.lock.Unlock()
	if m.ctrl.IsClosed() {
		p.total--
		go m.destroyManaged(mc)
		return nil, errors.WithStack(common.ClosedError)
	}
	p.inUse[mc] = struct{}{}
	m.updateGauges()
	return mc, nil
}

// Cleans up an in-use connection and parks it.
func (m *Manager) release(p *subpool, mc spi.ManagedConnection) {
	m.lock.Lock()
	if _, ok := p.inUse[mc]; !ok {
		m.lock.Unlock()
		return
	}
	delete(p.inUse, mc)
	m.lock.Unlock()

	if err := mc.Cleanup(context.Background()); err != nil {
		m.logger.Error("Error cleaning up managed connection: %v", err)
		m.forget(p)
		m.destroyManaged(mc)
		return
	}

	m.lock.Lock()
	if m.ctrl.IsClosed() {
		p.total--
		m.lock.Unlock()
		m.destroyManaged(mc)
		return
	}
	p.idle.PushBack(&idleEntry{mc, time.Now()})
	p.notify()
	m.updateGauges()
	m.lock.Unlock()
}

// Removes a connection from the pool and destroys it.
func (m *Manager) destroy(p *subpool, mc spi.ManagedConnection) {
	m.lock.Lock()
	_, inUse := p.inUse[mc]
	delete(p.inUse, mc)
	idle := p.removeIdle(mc)
	if inUse || idle {
		p.total--
		p.notify()
	}
	m.updateGauges()
	m.lock.Unlock()

	if inUse || idle {
		m.destroyManaged(mc)
	}
}

func (m *Manager) forget(p *subpool) {
	m.lock.Lock()
	defer m.lock.Unlock()
	p.total--
	p.notify()
	m.updateGauges()
}

func (m *Manager) destroyManaged(mc spi.ManagedConnection) {
	if err := mc.Destroy(context.Background()); err != nil {
		m.logger.Error("Error destroying managed connection: %v", err)
	}
	m.stats.destroyed.Inc(1)
}

func (m *Manager) destroyAll() {
	m.lock.Lock()
	all := make([]spi.ManagedConnection, 0)
	for _, p := range m.pools {
		all = append(all, p.idleSet()...)
		for mc := range p.inUse {
			all = append(all, mc)
		}
		p.idle.Init()
		p.inUse = make(map[spi.ManagedConnection]struct{})
		p.total = 0
		p.notify()
	}
	m.updateGauges()
	m.lock.Unlock()

	m.logger.Info("Destroying [%v] managed connections", len(all))
	for _, mc := range all {
		m.destroyManaged(mc)
	}
}

func (m *Manager) reap() {
	interval := m.opts.idleTimeout / 2
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctrl.Closed():
			return
		case <-ticker.C:
			for _, mc := range m.expired(time.Now()) {
				m.destroyManaged(mc)
			}
		}
	}
}

func (m *Manager) expired(now time.Time) []spi.ManagedConnection {
	m.lock.Lock()
	defer m.lock.Unlock()

	var ret []spi.ManagedConnection
	for _, p := range m.pools {
		for e := p.idle.Front(); e != nil; {
			next := e.Next()
			entry := e.Value.(*idleEntry)
			if now.Sub(entry.since) >= m.opts.idleTimeout {
				p.idle.Remove(e)
				p.total--
				ret = append(ret, entry.mc)
			}
			e = next
		}
		if len(ret) > 0 {
			p.notify()
		}
	}
	if len(ret) > 0 {
		m.logger.Debug("Reaping [%v] idle managed connections", len(ret))
		m.updateGauges()
	}
	return ret
}

type listener struct {
	pool *Manager
	sub  *subpool
	mc   spi.ManagedConnection
}

func (l *listener) HandleConnectionEvent(e spi.ConnectionEvent) {
	switch e.Type {
	case spi.ConnectionClosed:
		if c, ok := l.mc.(handleCounter); ok && c.Handles() > 0 {
			return
		}
		l.pool.release(l.sub, l.mc)
	case spi.ConnectionErrorOccurred:
		l.pool.logger.Error("Managed connection failed: %v", e.Err)
		l.pool.destroy(l.sub, l.mc)
	}
}
