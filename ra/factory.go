package ra

import (
	"context"

	"github.com/pkg/errors"
	"github.com/pkopriv2/relay/common"
	"github.com/pkopriv2/relay/jms"
	"github.com/pkopriv2/relay/spi"
	metrics "github.com/rcrowley/go-metrics"
)

type stats struct {
	created      metrics.Counter
	destroyed    metrics.Counter
	handles      metrics.Counter
	lockWait     metrics.Timer
	lockTimeouts metrics.Counter
}

func newStats(registry metrics.Registry) stats {
	return stats{
		created:      metrics.GetOrRegisterCounter("ra.connections.created", registry),
		destroyed:    metrics.GetOrRegisterCounter("ra.connections.destroyed", registry),
		handles:      metrics.GetOrRegisterCounter("ra.handles.open", registry),
		lockWait:     metrics.GetOrRegisterTimer("ra.lock.wait", registry),
		lockTimeouts: metrics.GetOrRegisterCounter("ra.lock.timeouts", registry),
	}
}

// ManagedConnectionFactory creates managed connections to a provider and
// matches pooled connections against new requests.
type ManagedConnectionFactory struct {
	ctx      common.Context
	logger   common.Logger
	props    Properties
	provider jms.ConnectionFactory
	registry metrics.Registry
	stats    stats
}

func NewManagedConnectionFactory(ctx common.Context, props Properties, provider jms.ConnectionFactory) (*ManagedConnectionFactory, error) {
	if provider == nil {
		return nil, errors.Wrap(spi.InvalidPropertyError, "Provider connection factory must not be nil")
	}
	if err := props.Validate(); err != nil {
		return nil, err
	}

	registry := metrics.NewRegistry()
	return &ManagedConnectionFactory{
		ctx:      ctx,
		logger:   ctx.Logger().Fmt("ManagedConnectionFactory"),
		props:    props,
		provider: provider,
		registry: registry,
		stats:    newStats(registry),
	}, nil
}

func (m *ManagedConnectionFactory) Properties() Properties {
	return m.props
}

func (m *ManagedConnectionFactory) Metrics() metrics.Registry {
	return m.registry
}

// Returns true if the provider supports distributed transactions.
func (m *ManagedConnectionFactory) IsXA() bool {
	_, ok := m.provider.(jms.XAConnectionFactory)
	return ok
}

// Returns a connection factory that allocates sessions through the
// connection manager.  A nil manager creates a new managed connection for
// every session.
func (m *ManagedConnectionFactory) CreateConnectionFactory(cm spi.ConnectionManager) *ConnectionFactory {
	if cm == nil {
		cm = &unpooledManager{}
	}
	return &ConnectionFactory{mcf: m, cm: cm}
}

func (m *ManagedConnectionFactory) CreateManagedConnection(ctx context.Context, subject *spi.Subject, info spi.ConnectionRequestInfo) (spi.ManagedConnection, error) {
	req, err := toRequestInfo(info)
	if err != nil {
		return nil, err
	}
	req.SetDefaults(m.props)

	cred, err := resolveCredential(m, subject, req)
	if err != nil {
		return nil, err
	}

	mc, err := newManagedConnection(ctx, m, req, cred.name, cred.password)
	if err != nil {
		return nil, err
	}
	return mc, nil
}

func (m *ManagedConnectionFactory) MatchManagedConnections(set []spi.ManagedConnection, subject *spi.Subject, info spi.ConnectionRequestInfo) (spi.ManagedConnection, error) {
	req, err := toRequestInfo(info)
	if err != nil {
		return nil, err
	}
	req.SetDefaults(m.props)

	cred, err := resolveCredential(m, subject, req)
	if err != nil {
		return nil, err
	}

	for _, c := range set {
		mc, ok := c.(*ManagedConnection)
		if !ok || !m.Equals(mc.mcf) {
			continue
		}
		if user := mc.UserName(); user != "" && user != cred.name {
			continue
		}
		if mc.info.Equals(req) {
			return mc, nil
		}
	}
	return nil, nil
}

func (m *ManagedConnectionFactory) Equals(other spi.ManagedConnectionFactory) bool {
	o, ok := other.(*ManagedConnectionFactory)
	if !ok || o == nil {
		return false
	}
	return m == o || (m.props == o.props && m.provider == o.provider)
}

// Without a pool, every allocation opens a managed connection that is
// destroyed when its handle closes.
type unpooledManager struct{}

func (u *unpooledManager) AllocateConnection(ctx context.Context, mcf spi.ManagedConnectionFactory, info spi.ConnectionRequestInfo) (spi.Handle, error) {
	mc, err := mcf.CreateManagedConnection(ctx, nil, info)
	if err != nil {
		return nil, err
	}

	mc.AddConnectionEventListener(&destroyOnClose{mc})

	handle, err := mc.Connection(ctx, nil, info)
	if err != nil {
		mc.Destroy(ctx)
		return nil, err
	}
	return handle, nil
}

type destroyOnClose struct {
	mc spi.ManagedConnection
}

func (d *destroyOnClose) HandleConnectionEvent(e spi.ConnectionEvent) {
	switch e.Type {
	case spi.ConnectionClosed, spi.ConnectionErrorOccurred:
		d.mc.Destroy(context.Background())
	}
}
