package main

import (
	"context"
	"fmt"

	"github.com/ppiankov/kafkaconsole/internal/kafka"
	"github.com/ppiankov/kafkaconsole/internal/manager"
	"github.com/spf13/cobra"
)

type listTopicsOptions struct {
	includeInternal bool
	excludeTopics   []string
}

func newTopicsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "topics",
		Aliases: []string{"topic"},
		Short:   "List, describe, create and delete topics",
	}

	cmd.AddCommand(newTopicsListCmd(c))
	cmd.AddCommand(newTopicsDescribeCmd(c))
	cmd.AddCommand(newTopicsCreateCmd(c))
	cmd.AddCommand(newTopicsDeleteCmd(c))

	return cmd
}

func newTopicsListCmd(c *cli) *cobra.Command {
	var opts listTopicsOptions

	cmd := &cobra.Command{
		Use:     "list CLUSTER",
		Aliases: []string{"ls"},
		Short:   "List the topics of a cluster",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patterns, err := normalizeExcludePatterns(opts.excludeTopics)
			if err != nil {
				return err
			}
			return c.run(cmd, func(ctx context.Context, s *session) error {
				topics, err := s.mgr.ListTopics(ctx, args[0], opts.includeInternal)
				if err != nil {
					return err
				}
				return s.rep.Topics(ctx, filterTopics(topics, patterns))
			})
		},
	}

	cmd.Flags().BoolVar(&opts.includeInternal, "include-internal", false, "Include internal topics")
	cmd.Flags().StringSliceVar(&opts.excludeTopics, "exclude-topics", nil, "Exclude topics by name or glob pattern (repeatable)")

	return cmd
}

func filterTopics(topics []kafka.TopicInfo, patterns []string) []kafka.TopicInfo {
	if len(patterns) == 0 {
		return topics
	}
	kept := make([]kafka.TopicInfo, 0, len(topics))
	for _, t := range topics {
		if shouldExcludeTopic(t.Name, patterns) {
			continue
		}
		kept = append(kept, t)
	}
	return kept
}

func newTopicsDescribeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "describe CLUSTER TOPIC",
		Short: "Show partitions, watermarks and config of a topic",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, s *session) error {
				detail, err := s.mgr.GetTopicDetail(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return s.rep.TopicDetail(ctx, detail)
			})
		},
	}
}

func newTopicsCreateCmd(c *cli) *cobra.Command {
	var (
		partitions  int32
		replication int16
		configs     map[string]string
	)

	cmd := &cobra.Command{
		Use:   "create CLUSTER TOPIC",
		Short: "Create a topic",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if partitions < 0 {
				return fmt.Errorf("partitions must be positive, got %d", partitions)
			}
			if replication < 0 {
				return fmt.Errorf("replication-factor must be positive, got %d", replication)
			}
			return c.run(cmd, func(ctx context.Context, s *session) error {
				spec := manager.TopicSpec{
					Name:              args[1],
					Partitions:        partitions,
					ReplicationFactor: replication,
					Configs:           configs,
				}
				if err := s.mgr.CreateTopic(ctx, args[0], spec); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "Topic %s created.\n", args[1])
				return err
			})
		},
	}

	cmd.Flags().Int32Var(&partitions, "partitions", 1, "Number of partitions")
	cmd.Flags().Int16Var(&replication, "replication-factor", 1, "Replication factor")
	cmd.Flags().StringToStringVar(&configs, "config", nil, "Topic config entries (key=value, repeatable)")

	return cmd
}

func newTopicsDeleteCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "delete CLUSTER TOPIC",
		Short: "Delete a topic",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, s *session) error {
				if err := s.mgr.DeleteTopic(ctx, args[0], args[1]); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "Topic %s deleted.\n", args[1])
				return err
			})
		},
	}
}

func newDashboardCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard CLUSTER",
		Short: "Summarize brokers, topics and consumer groups of a cluster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, s *session) error {
				d, err := s.mgr.Dashboard(ctx, args[0])
				if err != nil {
					return err
				}
				return s.rep.Dashboard(ctx, d)
			})
		},
	}
}
