package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ppiankov/kafkaconsole/internal/manager"
	"github.com/spf13/cobra"
)

type consumeOptions struct {
	group         string
	fromBeginning bool
	limit         int
	timeout       time.Duration
}

func newConsumeCmd(c *cli) *cobra.Command {
	var opts consumeOptions

	cmd := &cobra.Command{
		Use:   "consume CLUSTER TOPIC",
		Short: "Read a bounded number of records from a topic",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.limit < 0 {
				return fmt.Errorf("limit must be positive, got %d", opts.limit)
			}
			if opts.timeout < 0 {
				return errors.New("timeout must be greater than zero")
			}
			// The manager enforces the read deadline; only connect needs the
			// query timeout.
			return c.runWithin(cmd, 0, func(ctx context.Context, s *session) error {
				records, err := s.mgr.Consume(ctx, args[0], manager.ConsumeRequest{
					Topic:         args[1],
					Group:         opts.group,
					FromBeginning: opts.fromBeginning,
					Limit:         opts.limit,
					Timeout:       opts.timeout,
				})
				if err != nil {
					return err
				}
				return s.rep.Records(ctx, records)
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.group, "group", "", "Consume as this group and commit what was read")
	flags.BoolVar(&opts.fromBeginning, "from-beginning", false, "Start at the earliest offset instead of the end")
	flags.IntVar(&opts.limit, "limit", 0, "Stop after this many records (default 100)")
	flags.DurationVar(&opts.timeout, "wait", 0, "Stop reading after this long (capped by consume_timeout)")

	return cmd
}

type produceOptions struct {
	key     string
	value   string
	headers map[string]string
}

func newProduceCmd(c *cli) *cobra.Command {
	var opts produceOptions

	cmd := &cobra.Command{
		Use:   "produce CLUSTER TOPIC",
		Short: "Send one record to a topic",
		Long:  "Send one record to a topic. Without --value the value is read from stdin.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value := []byte(opts.value)
			if !flagChanged(cmd, "value") {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read value from stdin: %w", err)
				}
				value = data
			}

			var key []byte
			if opts.key != "" {
				key = []byte(opts.key)
			}

			return c.run(cmd, func(ctx context.Context, s *session) error {
				record, err := s.mgr.Produce(ctx, args[0], manager.ProduceRequest{
					Topic:   args[1],
					Key:     key,
					Value:   value,
					Headers: opts.headers,
				})
				if err != nil {
					return err
				}
				return s.rep.Produced(ctx, record)
			})
		},
	}

	cmd.Flags().StringVar(&opts.key, "key", "", "Record key")
	cmd.Flags().StringVar(&opts.value, "value", "", "Record value")
	cmd.Flags().StringToStringVar(&opts.headers, "header", nil, "Record headers (key=value, repeatable)")

	return cmd
}
