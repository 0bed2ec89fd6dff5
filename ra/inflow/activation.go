package inflow

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/pkopriv2/relay/common"
	"github.com/pkopriv2/relay/jms"
	"github.com/pkopriv2/relay/spi"
	"github.com/pkopriv2/relay/xa"
	metrics "github.com/rcrowley/go-metrics"
)

// MessageListener is the delivery contract of endpoints created by an
// activation.  Transacted endpoints roll back their branch when OnMessage
// fails.
type MessageListener interface {
	OnMessage(ctx context.Context, msg jms.Message) error
}

type stats struct {
	deliveries metrics.Counter
	failures   metrics.Counter
	reconnects metrics.Counter
}

func newStats(registry metrics.Registry) stats {
	return stats{
		deliveries: metrics.GetOrRegisterCounter("inflow.deliveries", registry),
		failures:   metrics.GetOrRegisterCounter("inflow.failures", registry),
		reconnects: metrics.GetOrRegisterCounter("inflow.reconnects", registry),
	}
}

// Activation delivers the messages of one destination to the endpoints of
// one factory.
type Activation struct {
	ctx            common.Context
	ctrl           common.Control
	logger         common.Logger
	provider       jms.ConnectionFactory
	factory        spi.MessageEndpointFactory
	spec           *ActivationSpec
	workers        spi.WorkManager
	receiveTimeout time.Duration
	stats          stats

	// serializes setup and teardown
	state  sync.Mutex
	conn   jms.Connection
	cancel context.CancelFunc
	loops  sync.WaitGroup

	lock         sync.Mutex
	reconnecting bool
}

func newActivation(r *ResourceAdapter, factory spi.MessageEndpointFactory, spec *ActivationSpec, workers spi.WorkManager) *Activation {
	ctx := r.ctx.Sub("Activation(%v)", spec.Destination)

	a := &Activation{
		ctx:            ctx,
		ctrl:           ctx.Control(),
		logger:         ctx.Logger(),
		provider:       r.provider,
		factory:        factory,
		spec:           spec,
		workers:        workers,
		receiveTimeout: ctx.Config().OptionalDuration(Config.ReceiveTimeout, defaultReceiveTimeout),
		stats:          newStats(r.registry),
	}
	a.ctrl.Defer(func(error) {
		a.teardown()
	})
	return a
}

func (a *Activation) Spec() *ActivationSpec {
	return a.spec
}

func (a *Activation) Start(ctx context.Context) error {
	if err := a.setup(ctx); err != nil {
		a.ctrl.Close()
		return spi.NewResourceError(err, "Unable to activate %v", a.spec)
	}
	a.logger.Info("Started [%v] delivery sessions", a.spec.sessions())
	return nil
}

// Stops delivery and waits for in flight deliveries to complete.
func (a *Activation) Stop() {
	a.ctrl.Close()
	a.logger.Info("Stopped")
}

func (a *Activation) IsConnected() bool {
	a.state.Lock()
	defer a.state.Unlock()
	return a.conn != nil
}

func (a *Activation) transacted() bool {
	return a.factory.IsDeliveryTransacted()
}

func (a *Activation) connect(ctx context.Context) (jms.Connection, bool, error) {
	if a.transacted() {
		if f, ok := a.provider.(jms.XAConnectionFactory); ok {
			var conn jms.XAConnection
			var err error
			if a.spec.User != "" {
				conn, err = f.CreateXAConnectionWithCredentials(ctx, a.spec.User, a.spec.Password)
			} else {
				conn, err = f.CreateXAConnection(ctx)
			}
			return conn, true, err
		}
	}

	var conn jms.Connection
	var err error
	if a.spec.User != "" {
		conn, err = a.provider.CreateConnectionWithCredentials(ctx, a.spec.User, a.spec.Password)
	} else {
		conn, err = a.provider.CreateConnection(ctx)
	}
	return conn, false, err
}

func (a *Activation) setup(ctx context.Context) (err error) {
	a.state.Lock()
	defer a.state.Unlock()

	if a.ctrl.IsClosed() {
		return errors.WithStack(common.ClosedError)
	}

	conn, isXA, err := a.connect(ctx)
	if err != nil {
		return errors.Wrap(err, "Error connecting")
	}
	defer func() {
		if err != nil {
			conn.Close(context.Background())
		}
	}()

	if a.spec.ClientID != "" {
		if err = conn.SetClientID(a.spec.ClientID); err != nil {
			return err
		}
	}
	if err = conn.SetExceptionListener(a.onException); err != nil {
		return err
	}

	all := make([]*deliverer, 0, a.spec.sessions())
	for i := 0; i < a.spec.sessions(); i++ {
		d, e := a.newDeliverer(ctx, conn, isXA)
		if e != nil {
			return errors.Wrap(e, "Error creating delivery session")
		}
		all = append(all, d)
	}

	if err = conn.Start(ctx); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	for _, d := range all {
		a.loops.Add(1)
		go func(d *deliverer) {
			defer a.loops.Done()
			d.run(loopCtx)
		}(d)
	}

	a.conn, a.cancel = conn, cancel
	return nil
}

func (a *Activation) teardown() {
	a.state.Lock()
	defer a.state.Unlock()

	conn, cancel := a.conn, a.cancel
	a.conn, a.cancel = nil, nil

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.SetExceptionListener(nil)
		if err := conn.Close(context.Background()); err != nil {
			a.logger.Error("Error closing connection: %v", err)
		}
	}
	a.loops.Wait()
}

func (a *Activation) onException(cause error) {
	if a.ctrl.IsClosed() {
		return
	}

	a.lock.Lock()
	if a.reconnecting {
		a.lock.Unlock()
		return
	}
	a.reconnecting = true
	a.lock.Unlock()

	a.logger.Error("Provider failure: %v", cause)
	go a.reconnect()
}

func (a *Activation) reconnect() {
	defer func() {
		a.lock.Lock()
		a.reconnecting = false
		a.lock.Unlock()
	}()

	a.teardown()

	for attempt := 1; a.spec.ReconnectAttempts < 0 || attempt <= a.spec.ReconnectAttempts; attempt++ {
		timer := time.NewTimer(a.spec.ReconnectInterval)
		select {
		case <-a.ctrl.Closed():
			timer.Stop()
			return
		case <-timer.C:
		}

		a.stats.reconnects.Inc(1)
		if err := a.setup(context.Background()); err != nil {
			a.logger.Error("Reconnect attempt [%v] failed: %v", attempt, err)
			continue
		}

		a.logger.Info("Reconnected after [%v] attempts", attempt)
		return
	}

	a.logger.Error("Giving up after [%v] reconnect attempts", a.spec.ReconnectAttempts)
}

// A deliverer owns one session and consumer of an activation.
type deliverer struct {
	a        *Activation
	session  jms.Session
	res      xa.Resource
	consumer jms.MessageConsumer
}

func (a *Activation) newDeliverer(ctx context.Context, conn jms.Connection, isXA bool) (*deliverer, error) {
	d := &deliverer{a: a}

	switch {
	case isXA:
		s, err := conn.(jms.XAConnection).CreateXASession(ctx)
		if err != nil {
			return nil, err
		}
		d.session, d.res = s, s.XAResource()
	case a.transacted():
		s, err := conn.CreateSession(ctx, true, jms.SessionTransacted)
		if err != nil {
			return nil, err
		}
		d.session = s
	default:
		s, err := conn.CreateSession(ctx, false, a.spec.ackMode())
		if err != nil {
			return nil, err
		}
		d.session = s
	}

	var err error
	if a.spec.durable() {
		d.consumer, err = d.session.CreateDurableSubscriber(ctx, jms.NewTopic(a.spec.Destination), a.spec.SubscriptionName, a.spec.MessageSelector, false)
	} else {
		d.consumer, err = d.session.CreateConsumer(ctx, a.spec.destination(), a.spec.MessageSelector, false)
	}
	if err != nil {
		d.session.Close(ctx)
		return nil, err
	}
	return d, nil
}

// Delivery loops run outside the work manager.  Each delivery is one unit of
// work on it, and the loop waits for that unit before touching the session
// again.
func (d *deliverer) run(ctx context.Context) {
	for ctx.Err() == nil {
		var more bool
		if d.res != nil {
			if err := d.work(ctx, func() { more = d.deliverInBranch(ctx) }); err != nil {
				if ctx.Err() == nil {
					d.a.logger.Error("Unable to schedule delivery: %v", err)
				}
				return
			}
		} else {
			more = d.deliver(ctx)
		}
		if !more {
			return
		}
	}
}

// Runs fn on the work manager and waits for it to return.
func (d *deliverer) work(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	err := d.a.workers.Submit(ctx, func() {
		defer close(done)
		fn()
	})
	if err != nil {
		return err
	}
	<-done
	return nil
}

// Receives a message, then hands it to a fresh endpoint.  A received message
// waits for a worker even while the activation stops.
func (d *deliverer) deliver(ctx context.Context) bool {
	msg, err := d.consumer.Receive(ctx)
	if err != nil {
		if ctx.Err() == nil {
			d.a.onException(err)
		}
		return false
	}
	if msg == nil {
		return false
	}

	if err := d.work(context.Background(), func() { d.handle(ctx, msg) }); err != nil {
		d.a.logger.Error("Unable to schedule delivery: %v", err)
		d.a.stats.failures.Inc(1)
		d.complete(ctx, err)
		return false
	}
	return true
}

func (d *deliverer) handle(ctx context.Context, msg jms.Message) {
	ep, err := d.a.factory.CreateEndpoint(ctx, nil)
	if err != nil {
		d.a.logger.Error("Error creating endpoint: %v", err)
		d.a.stats.failures.Inc(1)
		d.complete(ctx, err)
		return
	}
	defer ep.Release()

	d.complete(ctx, d.invoke(ctx, ep, msg))
}

func (d *deliverer) complete(ctx context.Context, err error) {
	if !d.session.Transacted() {
		return
	}

	if err != nil {
		if e := d.session.Rollback(ctx); e != nil {
			d.a.logger.Error("Error rolling back delivery: %v", e)
		}
		return
	}
	if e := d.session.Commit(ctx); e != nil {
		d.a.logger.Error("Error committing delivery: %v", e)
	}
}

// The endpoint starts a branch on the session's resource in BeforeDelivery,
// so the receive happens inside it.
func (d *deliverer) deliverInBranch(ctx context.Context) bool {
	ep, err := d.a.factory.CreateEndpoint(ctx, d.res)
	if err != nil {
		d.a.logger.Error("Error creating endpoint: %v", err)
		d.a.stats.failures.Inc(1)
		return d.pause(ctx)
	}
	defer ep.Release()

	listener, ok := ep.(MessageListener)
	if !ok {
		d.a.logger.Error("Endpoint [%T] does not implement MessageListener", ep)
		d.a.stats.failures.Inc(1)
		return d.pause(ctx)
	}

	if err := ep.BeforeDelivery(ctx); err != nil {
		d.a.logger.Error("Error preparing delivery: %v", err)
		d.a.stats.failures.Inc(1)
		return d.pause(ctx)
	}

	start := time.Now()
	msg, err := d.consumer.ReceiveTimeout(ctx, d.a.receiveTimeout)
	if err == nil && msg != nil {
		err = listener.OnMessage(ctx, msg)
	}
	after := ep.AfterDelivery(context.Background())

	if err != nil {
		if ctx.Err() == nil {
			d.a.logger.Error("Error delivering message: %v", err)
			d.a.stats.failures.Inc(1)
		}
		return ctx.Err() == nil
	}
	if after != nil {
		d.a.logger.Error("Error completing delivery: %v", after)
		d.a.stats.failures.Inc(1)
		return true
	}
	if msg == nil {
		// An early empty receive means the consumer was closed.
		return time.Since(start) >= d.a.receiveTimeout
	}

	d.a.stats.deliveries.Inc(1)
	return true
}

func (d *deliverer) pause(ctx context.Context) bool {
	timer := time.NewTimer(d.a.receiveTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (d *deliverer) invoke(ctx context.Context, ep spi.MessageEndpoint, msg jms.Message) error {
	listener, ok := ep.(MessageListener)
	if !ok {
		d.a.stats.failures.Inc(1)
		return errors.Wrapf(spi.NotSupportedError, "Endpoint [%T] does not implement MessageListener", ep)
	}

	if err := ep.BeforeDelivery(ctx); err != nil {
		d.a.logger.Error("Error preparing delivery: %v", err)
		d.a.stats.failures.Inc(1)
		return err
	}

	err := listener.OnMessage(ctx, msg)
	if e := ep.AfterDelivery(ctx); e != nil {
		err = common.Or(err, e)
	}
	if err != nil {
		d.a.logger.Error("Error delivering message: %v", err)
		d.a.stats.failures.Inc(1)
		return err
	}

	d.a.stats.deliveries.Inc(1)
	return nil
}
