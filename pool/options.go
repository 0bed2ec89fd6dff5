package pool

import (
	"time"

	"github.com/pkg/errors"
	"github.com/pkopriv2/relay/common"
	"github.com/pkopriv2/relay/spi"
	metrics "github.com/rcrowley/go-metrics"
)

var Config = struct {
	Max             string
	BlockingTimeout string
	IdleTimeout     string
}{
	"relay.pool.max",
	"relay.pool.blocking.timeout",
	"relay.pool.idle.timeout",
}

const (
	defaultMax             = 20
	defaultBlockingTimeout = 30 * time.Second
	defaultIdleTimeout     = 0
)

type Options struct {
	max             int
	blockingTimeout time.Duration
	idleTimeout     time.Duration
	subject         *spi.Subject
	registry        metrics.Registry
}

// Maximum number of managed connections per factory.
func (o *Options) WithMax(max int) *Options {
	o.max = max
	return o
}

// How long an allocation waits for a managed connection when the pool is
// exhausted.  Zero waits forever.
func (o *Options) WithBlockingTimeout(dur time.Duration) *Options {
	o.blockingTimeout = dur
	return o
}

// How long a managed connection may sit idle before it is destroyed.  Zero
// keeps idle connections forever.
func (o *Options) WithIdleTimeout(dur time.Duration) *Options {
	o.idleTimeout = dur
	return o
}

// The subject passed to every factory and managed connection.
func (o *Options) WithSubject(s *spi.Subject) *Options {
	o.subject = s
	return o
}

func (o *Options) WithRegistry(r metrics.Registry) *Options {
	o.registry = r
	return o
}

func buildOptions(ctx common.Context, fns []func(*Options)) (*Options, error) {
	conf := ctx.Config()

	opts := &Options{
		max:             conf.OptionalInt(Config.Max, defaultMax),
		blockingTimeout: conf.OptionalDuration(Config.BlockingTimeout, defaultBlockingTimeout),
		idleTimeout:     conf.OptionalDuration(Config.IdleTimeout, defaultIdleTimeout),
	}

	for _, fn := range fns {
		fn(opts)
	}

	if opts.max < 1 {
		return nil, errors.Wrapf(spi.InvalidPropertyError, "Pool max must be positive [%v]", opts.max)
	}
	if opts.blockingTimeout < 0 || opts.idleTimeout < 0 {
		return nil, errors.Wrap(spi.InvalidPropertyError, "Pool timeouts must not be negative")
	}
	if opts.registry == nil {
		opts.WithRegistry(metrics.NewRegistry())
	}
	return opts, nil
}
