package main

import (
	"context"
	"fmt"

	"github.com/ppiankov/kafkaconsole/internal/manager"
	"github.com/spf13/cobra"
)

type aclFlags struct {
	resourceType string
	resourceName string
	patternType  string
	principal    string
	host         string
	operation    string
	permission   string
}

func (f *aclFlags) register(cmd *cobra.Command, usage string) {
	flags := cmd.Flags()
	flags.StringVar(&f.resourceType, "resource-type", "", "topic, group, cluster, transactional-id or delegation-token"+usage)
	flags.StringVar(&f.resourceName, "resource-name", "", "Resource name"+usage)
	flags.StringVar(&f.patternType, "pattern-type", "", "literal or prefixed"+usage)
	flags.StringVar(&f.principal, "principal", "", "Principal, for example User:alice"+usage)
	flags.StringVar(&f.host, "host", "", "Host the binding applies to"+usage)
	flags.StringVar(&f.operation, "operation", "", "read, write, create, delete, alter, describe, all, ..."+usage)
	flags.StringVar(&f.permission, "permission", "", "allow or deny"+usage)
}

func (f *aclFlags) acl() manager.ACL {
	return manager.ACL{
		ResourceType: manager.ResourceType(f.resourceType),
		ResourceName: f.resourceName,
		PatternType:  manager.PatternType(f.patternType),
		Principal:    f.principal,
		Host:         f.host,
		Operation:    manager.Operation(f.operation),
		Permission:   manager.Permission(f.permission),
	}
}

func (f *aclFlags) filter() manager.ACLFilter {
	return manager.ACLFilter{
		ResourceType: manager.ResourceType(f.resourceType),
		ResourceName: f.resourceName,
		PatternType:  manager.PatternType(f.patternType),
		Principal:    f.principal,
		Host:         f.host,
		Operation:    manager.Operation(f.operation),
		Permission:   manager.Permission(f.permission),
	}
}

func newACLsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "acls",
		Aliases: []string{"acl"},
		Short:   "List, create and delete ACL bindings",
	}

	cmd.AddCommand(newACLsListCmd(c))
	cmd.AddCommand(newACLsCreateCmd(c))
	cmd.AddCommand(newACLsDeleteCmd(c))

	return cmd
}

func newACLsListCmd(c *cli) *cobra.Command {
	var f aclFlags

	cmd := &cobra.Command{
		Use:     "list CLUSTER",
		Aliases: []string{"ls"},
		Short:   "List ACL bindings matching the filter flags",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, s *session) error {
				acls, err := s.mgr.ListAcls(ctx, args[0], f.filter())
				if err != nil {
					return err
				}
				return s.rep.ACLs(ctx, acls)
			})
		},
	}
	f.register(cmd, " (empty matches any)")

	return cmd
}

func newACLsCreateCmd(c *cli) *cobra.Command {
	var f aclFlags

	cmd := &cobra.Command{
		Use:   "create CLUSTER",
		Short: "Create one ACL binding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, s *session) error {
				if err := s.mgr.CreateAcl(ctx, args[0], f.acl()); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "ACL created.\n")
				return err
			})
		},
	}
	f.register(cmd, "")

	return cmd
}

func newACLsDeleteCmd(c *cli) *cobra.Command {
	var (
		f   aclFlags
		all bool
	)

	cmd := &cobra.Command{
		Use:   "delete CLUSTER",
		Short: "Delete every ACL binding matching the filter flags",
		Long: `Delete every ACL binding matching the filter flags.

At least one flag must narrow the filter; pass --all to delete every binding.
Unknown resource types, operations, permissions or pattern types are rejected.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, s *session) error {
				filter := f.filter()
				filter.All = all
				n, err := s.mgr.DeleteAcl(ctx, args[0], filter)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%d ACLs deleted.\n", n)
				return err
			})
		},
	}
	f.register(cmd, " (empty matches any)")
	cmd.Flags().BoolVar(&all, "all", false, "Allow a filter that matches every ACL in the cluster")

	return cmd
}
