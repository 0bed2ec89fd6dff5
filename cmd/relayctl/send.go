package main

import (
	"fmt"
	"time"

	"github.com/pkopriv2/relay/jms"
	"github.com/spf13/cobra"
)

type sendOptions struct {
	queue      string
	topic      string
	text       string
	priority   int
	ttl        time.Duration
	persistent bool
	properties map[string]string
}

func newSendCommand(root *rootOptions) *cobra.Command {
	opts := &sendOptions{}

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a text message",
		Long: `Send a text message to a queue or topic.

Example:
  relayctl send --queue orders --text "hello"
  relayctl send --topic news --text "hello" --property region=eu --priority 7`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd, root, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.queue, "queue", "q", "", "destination queue")
	cmd.Flags().StringVarP(&opts.topic, "topic", "t", "", "destination topic")
	cmd.Flags().StringVar(&opts.text, "text", "", "message body")
	cmd.Flags().IntVar(&opts.priority, "priority", jms.DefaultPriority, "message priority (0-9)")
	cmd.Flags().DurationVar(&opts.ttl, "ttl", jms.DefaultTimeToLive, "time to live (0 never expires)")
	cmd.Flags().BoolVar(&opts.persistent, "persistent", true, "persistent delivery")
	cmd.Flags().StringToStringVarP(&opts.properties, "property", "p", nil, "string properties (key=value)")
	return cmd
}

func runSend(cmd *cobra.Command, root *rootOptions, opts *sendOptions) error {
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

	msg, err := s.session.CreateTextMessage(opts.text)
	if err != nil {
		return err
	}
	for k, v := range opts.properties {
		if err := msg.SetStringProperty(k, v); err != nil {
			return err
		}
	}

	producer, err := s.session.CreateProducer(ctx, dest)
	if err != nil {
		return err
	}
	defer producer.Close(ctx)

	mode := jms.NonPersistent
	if opts.persistent {
		mode = jms.Persistent
	}

	if err := producer.SendWith(ctx, msg, mode, opts.priority, opts.ttl); err != nil {
		return err
	}

	s.ctx.Logger().Debug("Sent [%v] to [%v]", msg.MessageID(), dest)
	fmt.Fprintf(cmd.OutOrStdout(), "Sent %v to %v\n", msg.MessageID(), dest)
	return nil
}
