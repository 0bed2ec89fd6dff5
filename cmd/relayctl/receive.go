package main

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/pkopriv2/relay/jms"
	"github.com/spf13/cobra"
)

type receiveOptions struct {
	queue    string
	topic    string
	selector string
	timeout  time.Duration
	count    int
	verbose  bool
}

func newReceiveCommand(root *rootOptions) *cobra.Command {
	opts := &receiveOptions{}

	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Receive messages and print them",
		Long: `Receive up to --count messages from a queue or topic, waiting at most
--timeout for each one.  Fails if nothing arrives.

Example:
  relayctl receive --queue orders --timeout 5s
  relayctl receive --queue orders --selector "region = 'eu'" --count 10 -v`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReceive(cmd, root, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.queue, "queue", "q", "", "source queue")
	cmd.Flags().StringVarP(&opts.topic, "topic", "t", "", "source topic")
	cmd.Flags().StringVarP(&opts.selector, "selector", "s", "", "message selector")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 5*time.Second, "time to wait for each message")
	cmd.Flags().IntVarP(&opts.count, "count", "n", 1, "maximum number of messages")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "print headers and properties")
	return cmd
}

func runReceive(cmd *cobra.Command, root *rootOptions, opts *receiveOptions) error {
	if opts.count < 1 {
		return errors.Errorf("Invalid count [%v]", opts.count)
	}

	ctx := cmd.Context()

	s, err := root.open(ctx)
	if err != nil {
		return err
	}
	defer s.Close(ctx)

	dest, err := s.destination(opts.queue, opts.topic)
	if err != nil {
		return err
	}

	consumer, err := s.session.CreateConsumer(ctx, dest, opts.selector, false)
	if err != nil {
		return err
	}
	defer consumer.Close(ctx)

	if err := s.conn.Start(ctx); err != nil {
		return err
	}

	received := 0
	for received < opts.count {
		msg, err := consumer.ReceiveTimeout(ctx, opts.timeout)
		if err != nil {
			return err
		}
		if msg == nil {
			break
		}

		received++
		if err := printMessage(cmd.OutOrStdout(), msg, opts.verbose); err != nil {
			return err
		}
	}

	s.ctx.Logger().Debug("Received [%v] messages from [%v]", received, dest)
	if received == 0 {
		return errors.Errorf("No message received from %v within %v", dest, opts.timeout)
	}
	return nil
}

func printMessage(w io.Writer, msg jms.Message, verbose bool) error {
	if verbose {
		fmt.Fprintf(w, "# %v id=%v priority=%v mode=%v redelivered=%v\n",
			jms.KindOf(msg), msg.MessageID(), msg.Priority(), msg.DeliveryMode(), msg.Redelivered())

		names := msg.PropertyNames()
		sort.Strings(names)
		for _, name := range names {
			val, err := msg.ObjectProperty(name)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "# %v=%v\n", name, val)
		}
	}

	switch t := msg.(type) {
	default:
		fmt.Fprintf(w, "<%v>\n", jms.KindOf(msg))
	case jms.TextMessage:
		text, err := t.Text()
		if err != nil {
			return err
		}
		fmt.Fprintln(w, text)
	}
	return nil
}
