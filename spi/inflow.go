package spi

import (
	"context"

	"github.com/pkopriv2/relay/xa"
)

// Runs work on behalf of a resource adapter.
type WorkManager interface {
	Submit(ctx context.Context, fn func()) error
}

type BootstrapContext interface {
	WorkManager() WorkManager
}

// Describes the configuration of one endpoint activation.
type ActivationSpec interface {
	Validate() error
}

type MessageEndpointFactory interface {
	CreateEndpoint(ctx context.Context, res xa.Resource) (MessageEndpoint, error)
	IsDeliveryTransacted() bool
}

// An endpoint receives messages from an adapter.  Adapters deliver the
// message through an adapter specific listener contract bracketed by
// BeforeDelivery and AfterDelivery.
type MessageEndpoint interface {
	BeforeDelivery(ctx context.Context) error
	AfterDelivery(ctx context.Context) error
	Release()
}

type ResourceAdapter interface {
	Start(ctx BootstrapContext) error
	Stop()
	EndpointActivation(ctx context.Context, factory MessageEndpointFactory, spec ActivationSpec) error
	EndpointDeactivation(ctx context.Context, factory MessageEndpointFactory, spec ActivationSpec)
	XAResources(specs []ActivationSpec) ([]xa.Resource, error)
}
