package ra

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkopriv2/relay/common"
	"github.com/pkopriv2/relay/jms"
	"github.com/pkopriv2/relay/jms/local"
	"github.com/pkopriv2/relay/spi"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	ctx    common.Context
	broker *local.Broker
	mcf    *ManagedConnectionFactory
}

func (f *fixture) Close() error {
	return f.ctx.Close()
}

func newFixture(t *testing.T, props Properties, withXA bool) *fixture {
	ctx := common.NewEmptyContext()

	broker, err := local.NewBroker(ctx)
	require.Nil(t, err)

	var provider jms.ConnectionFactory = local.NewConnectionFactory(broker)
	if !withXA {
		provider = local.NewConnectionFactory(broker).Plain()
	}

	mcf, err := NewManagedConnectionFactory(ctx, props, provider)
	require.Nil(t, err)
	return &fixture{ctx, broker, mcf}
}

func (f *fixture) managed(t *testing.T, info *RequestInfo) *ManagedConnection {
	mc, err := f.mcf.CreateManagedConnection(context.Background(), nil, info)
	require.Nil(t, err)
	return mc.(*ManagedConnection)
}

func (f *fixture) handle(t *testing.T, mc *ManagedConnection, info *RequestInfo) *Session {
	h, err := mc.Connection(context.Background(), nil, info)
	require.Nil(t, err)
	return h.(*Session)
}

type recorder struct {
	lock   sync.Mutex
	events []spi.ConnectionEvent
}

func (r *recorder) HandleConnectionEvent(e spi.ConnectionEvent) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []spi.EventType {
	r.lock.Lock()
	defer r.lock.Unlock()
	ret := make([]spi.EventType, 0, len(r.events))
	for _, e := range r.events {
		ret = append(ret, e.Type)
	}
	return ret
}

func (r *recorder) await(t *testing.T, typ spi.EventType) spi.ConnectionEvent {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		r.lock.Lock()
		for _, e := range r.events {
			if e.Type == typ {
				r.lock.Unlock()
				return e
			}
		}
		r.lock.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("No event [%v]", typ)
	return spi.ConnectionEvent{}
}

func autoAck() *RequestInfo {
	return NewRequestInfo(Agnostic, false, jms.AutoAcknowledge)
}
