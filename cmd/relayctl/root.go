package main

import (
	"context"

	"github.com/pkg/errors"
	"github.com/pkopriv2/relay/common"
	"github.com/pkopriv2/relay/jms"
	"github.com/pkopriv2/relay/jms/amqp"
	"github.com/pkopriv2/relay/jms/local"
	"github.com/pkopriv2/relay/pool"
	"github.com/pkopriv2/relay/ra"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

const (
	providerAMQP  = "amqp"
	providerLocal = "local"
)

// Returns the provider connection factory named by the properties.
type providerFunc func(common.Context, ra.Properties) (jms.ConnectionFactory, error)

type rootOptions struct {
	configPath string
	fs         afero.Fs
	provider   providerFunc
}

func newRootOptions() *rootOptions {
	return &rootOptions{fs: afero.NewOsFs(), provider: newProvider}
}

func newRootCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "relayctl",
		Short:         "Send and receive messages through the relay resource adapter",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "yaml config file")

	cmd.AddCommand(newSendCommand(opts))
	cmd.AddCommand(newReceiveCommand(opts))
	cmd.AddCommand(newConfigCommand(opts))
	return cmd
}

func newProvider(ctx common.Context, props ra.Properties) (jms.ConnectionFactory, error) {
	switch props.Provider {
	case "", providerAMQP:
		return amqp.ConnectionFactoryFromConfig(ctx), nil
	case providerLocal:
		broker, err := local.NewBroker(ctx)
		if err != nil {
			return nil, err
		}
		return local.NewConnectionFactory(broker).Plain(), nil
	}
	return nil, errors.Errorf("Unknown provider [%v]", props.Provider)
}

func (o *rootOptions) loadConfig() (common.Config, error) {
	if o.configPath == "" {
		return common.NewEmptyConfig(), nil
	}
	return common.ReadConfig(o.fs, o.configPath)
}

// The adapter stack behind a single application session.
type stack struct {
	ctx     common.Context
	pool    *pool.Manager
	conn    jms.Connection
	session jms.Session
}

func (o *rootOptions) open(ctx context.Context) (s *stack, err error) {
	conf, err := o.loadConfig()
	if err != nil {
		return nil, err
	}

	props, err := ra.PropertiesFromConfig(conf)
	if err != nil {
		return nil, err
	}

	s = &stack{ctx: common.NewContext(conf)}
	defer func() {
		if err != nil {
			s.Close(ctx)
		}
	}()

	provider, err := o.provider(s.ctx, props)
	if err != nil {
		return nil, err
	}

	mcf, err := ra.NewManagedConnectionFactory(s.ctx, props, provider)
	if err != nil {
		return nil, err
	}

	s.pool, err = pool.NewManager(s.ctx)
	if err != nil {
		return nil, err
	}

	s.conn, err = mcf.CreateConnectionFactory(s.pool).CreateConnection(ctx)
	if err != nil {
		return nil, err
	}

	s.session, err = s.conn.CreateSession(ctx, false, jms.AutoAcknowledge)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *stack) destination(queue, topic string) (jms.Destination, error) {
	switch {
	case queue != "" && topic != "":
		return nil, errors.New("Only one of --queue and --topic may be given")
	case queue != "":
		return s.session.CreateQueue(queue)
	case topic != "":
		return s.session.CreateTopic(topic)
	}
	return nil, errors.New("One of --queue or --topic is required")
}

func (s *stack) Close(ctx context.Context) error {
	var err error
	if s.conn != nil {
		err = s.conn.Close(ctx)
	}
	if s.pool != nil {
		err = common.Or(err, s.pool.Close())
	}
	return common.Or(err, s.ctx.Close())
}
