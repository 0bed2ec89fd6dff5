package inflow

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/pkopriv2/relay/common"
	"github.com/pkopriv2/relay/jms"
	"github.com/pkopriv2/relay/spi"
	"github.com/pkopriv2/relay/xa"
	metrics "github.com/rcrowley/go-metrics"
)

type bootstrap struct {
	workers common.WorkPool
}

// Returns a bootstrap context whose work manager is a bounded work pool
// sized by relay.inflow.workers.
func NewBootstrapContext(ctx common.Context) spi.BootstrapContext {
	size := ctx.Config().OptionalInt(Config.Workers, defaultWorkers)
	return &bootstrap{common.NewWorkPool(ctx.Control(), size)}
}

func (b *bootstrap) WorkManager() spi.WorkManager {
	return b.workers
}

type activationKey struct {
	factory spi.MessageEndpointFactory
	spec    *ActivationSpec
}

// ResourceAdapter manages the activations of message endpoints against a
// single provider.
type ResourceAdapter struct {
	ctx      common.Context
	logger   common.Logger
	provider jms.ConnectionFactory
	registry metrics.Registry

	lock        sync.Mutex
	workers     spi.WorkManager
	activations map[activationKey]*Activation
}

func NewResourceAdapter(ctx common.Context, provider jms.ConnectionFactory) *ResourceAdapter {
	ctx = ctx.Sub("ResourceAdapter")
	return &ResourceAdapter{
		ctx:         ctx,
		logger:      ctx.Logger(),
		provider:    provider,
		registry:    metrics.NewRegistry(),
		activations: make(map[activationKey]*Activation),
	}
}

func (r *ResourceAdapter) Metrics() metrics.Registry {
	return r.registry
}

// Starts the adapter.  A nil bootstrap context gets a default work pool.
func (r *ResourceAdapter) Start(bc spi.BootstrapContext) error {
	if bc == nil {
		bc = NewBootstrapContext(r.ctx)
	}

	workers := bc.WorkManager()
	if workers == nil {
		return errors.Wrap(spi.IllegalStateError, "Bootstrap context has no work manager")
	}

	r.lock.Lock()
	defer r.lock.Unlock()
	if r.workers != nil {
		return errors.Wrap(spi.IllegalStateError, "Resource adapter already started")
	}
	r.workers = workers
	r.logger.Info("Started")
	return nil
}

// Stops every activation.
func (r *ResourceAdapter) Stop() {
	r.lock.Lock()
	all := make([]*Activation, 0, len(r.activations))
	for _, a := range r.activations {
		all = append(all, a)
	}
	r.activations = make(map[activationKey]*Activation)
	r.lock.Unlock()

	for _, a := range all {
		a.Stop()
	}
	r.ctx.Control().Close()
	r.logger.Info("Stopped [%v] activations", len(all))
}

func (r *ResourceAdapter) EndpointActivation(ctx context.Context, factory spi.MessageEndpointFactory, spec spi.ActivationSpec) error {
	s, ok := spec.(*ActivationSpec)
	if !ok {
		return errors.Wrapf(spi.NotSupportedError, "Unsupported activation spec [%T]", spec)
	}
	if factory == nil {
		return errors.Wrap(spi.InvalidPropertyError, "Endpoint factory must not be nil")
	}
	if err := s.Validate(); err != nil {
		return err
	}

	key := activationKey{factory, s}

	r.lock.Lock()
	workers := r.workers
	_, exists := r.activations[key]
	r.lock.Unlock()

	if workers == nil {
		return errors.Wrap(spi.IllegalStateError, "Resource adapter not started")
	}
	if exists {
		return errors.Wrapf(spi.IllegalStateError, "Endpoint already activated for %v", s)
	}

	a := newActivation(r, factory, s, workers)
	if err := a.Start(ctx); err != nil {
		return err
	}

	r.lock.Lock()
	defer r.lock.Unlock()
	if _, exists := r.activations[key]; exists {
		go a.Stop()
		return errors.Wrapf(spi.IllegalStateError, "Endpoint already activated for %v", s)
	}
	r.activations[key] = a
	return nil
}

func (r *ResourceAdapter) EndpointDeactivation(ctx context.Context, factory spi.MessageEndpointFactory, spec spi.ActivationSpec) {
	s, ok := spec.(*ActivationSpec)
	if !ok {
		return
	}

	key := activationKey{factory, s}

	r.lock.Lock()
	a := r.activations[key]
	delete(r.activations, key)
	r.lock.Unlock()

	if a != nil {
		a.Stop()
	}
}

// Returns the activation of the endpoint, if any.
func (r *ResourceAdapter) Activation(factory spi.MessageEndpointFactory, spec *ActivationSpec) *Activation {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.activations[activationKey{factory, spec}]
}

// Recovery is left to the provider's own resources.
func (r *ResourceAdapter) XAResources(specs []spi.ActivationSpec) ([]xa.Resource, error) {
	return nil, nil
}
