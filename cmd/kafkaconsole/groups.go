package main

import (
	"context"
	"fmt"

	"github.com/ppiankov/kafkaconsole/internal/manager"
	"github.com/spf13/cobra"
)

type resetOptions struct {
	topic    string
	strategy string
	offset   int64
}

func newGroupsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "groups",
		Aliases: []string{"group"},
		Short:   "Inspect consumer groups, their lag and offsets",
	}

	cmd.AddCommand(newGroupsListCmd(c))
	cmd.AddCommand(newGroupsDescribeCmd(c))
	cmd.AddCommand(newGroupsDeleteCmd(c))
	cmd.AddCommand(newGroupsResetCmd(c))

	return cmd
}

func newGroupsListCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:     "list CLUSTER",
		Aliases: []string{"ls"},
		Short:   "List consumer groups",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, s *session) error {
				groups, err := s.mgr.ListConsumerGroups(ctx, args[0])
				if err != nil {
					return err
				}
				return s.rep.Groups(ctx, groups)
			})
		},
	}
}

func newGroupsDescribeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "describe CLUSTER GROUP",
		Short: "Show members and per-partition lag of a group",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, s *session) error {
				detail, err := s.mgr.GetConsumerGroupDetail(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return s.rep.GroupDetail(ctx, detail)
			})
		},
	}
}

func newGroupsDeleteCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "delete CLUSTER GROUP",
		Short: "Delete an empty consumer group",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, s *session) error {
				if err := s.mgr.DeleteConsumerGroup(ctx, args[0], args[1]); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "Group %s deleted.\n", args[1])
				return err
			})
		},
	}
}

func newGroupsResetCmd(c *cli) *cobra.Command {
	var opts resetOptions

	cmd := &cobra.Command{
		Use:   "reset-offsets CLUSTER GROUP",
		Short: "Move the committed offsets of an inactive group",
		Long: "Move the committed offsets of an inactive group to the beginning or end of each\n" +
			"partition, or to a literal offset. Without --topic every topic the group has\n" +
			"committed to is reset.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, ok := manager.ParseResetStrategy(opts.strategy); !ok {
				return fmt.Errorf("invalid reset strategy %q (expected beginning, end or offset)", opts.strategy)
			}
			return c.run(cmd, func(ctx context.Context, s *session) error {
				result, err := s.mgr.ResetConsumerGroupOffsets(ctx, args[0], manager.ResetRequest{
					Group:    args[1],
					Topic:    opts.topic,
					Strategy: opts.strategy,
					Offset:   opts.offset,
				})
				if err != nil {
					return err
				}
				return s.rep.Reset(ctx, result)
			})
		},
	}

	cmd.Flags().StringVar(&opts.topic, "topic", "", "Only reset this topic")
	cmd.Flags().StringVar(&opts.strategy, "to", "beginning", "Target (beginning|end|offset)")
	cmd.Flags().Int64Var(&opts.offset, "offset", 0, "Literal offset when --to=offset")

	return cmd
}
