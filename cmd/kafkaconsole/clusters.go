package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ppiankov/kafkaconsole/internal/cluster"
	"github.com/ppiankov/kafkaconsole/internal/errs"
	"github.com/ppiankov/kafkaconsole/internal/reporter"
	"github.com/spf13/cobra"
)

// Secrets may come from the environment so they stay out of shell history.
const (
	envPassword      = "KAFKACONSOLE_PASSWORD"
	envKeyPassphrase = "KAFKACONSOLE_KEY_PASSPHRASE"
)

type addClusterOptions struct {
	kind               string
	brokers            string
	securityProtocol   string
	mechanism          string
	username           string
	password           string
	caFile             string
	certFile           string
	keyFile            string
	keyPassphrase      string
	insecureSkipVerify bool
	region             string
	clusterARN         string
	awsProfile         string
	assumeRoleARN      string
}

func newClustersCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "clusters",
		Aliases: []string{"cluster"},
		Short:   "Register, inspect and remove clusters",
	}

	cmd.AddCommand(newClustersAddCmd(c))
	cmd.AddCommand(newClustersRemoveCmd(c))
	cmd.AddCommand(newClustersListCmd(c))
	cmd.AddCommand(newClustersTestCmd(c))
	cmd.AddCommand(newClustersDisconnectCmd(c))
	cmd.AddCommand(newClustersMSKListCmd(c))

	return cmd
}

func newClustersAddCmd(c *cli) *cobra.Command {
	var opts addClusterOptions

	cmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Register a cluster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := buildConnection(args[0], opts)
			if err != nil {
				return err
			}
			return c.run(cmd, func(ctx context.Context, s *session) error {
				if err := s.mgr.AddCluster(ctx, conn); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "Cluster %s registered.\n", conn.Name)
				return err
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.kind, "kind", "", "Cluster kind (direct|managed); inferred from --cluster-arn when empty")
	flags.StringVar(&opts.brokers, "brokers", "", "Bootstrap brokers (host:port, comma-separated)")
	flags.StringVar(&opts.securityProtocol, "security-protocol", "", "PLAINTEXT, SSL, SASL_PLAINTEXT or SASL_SSL")
	flags.StringVar(&opts.mechanism, "sasl-mechanism", "", "SASL mechanism (PLAIN, SCRAM-SHA-256, SCRAM-SHA-512, AWS_MSK_IAM)")
	flags.StringVar(&opts.username, "username", "", "SASL username")
	flags.StringVar(&opts.password, "password", "", "SASL password (or set "+envPassword+")")
	flags.StringVar(&opts.caFile, "ca-file", "", "Path to TLS CA certificate")
	flags.StringVar(&opts.certFile, "cert-file", "", "Path to TLS client certificate")
	flags.StringVar(&opts.keyFile, "key-file", "", "Path to TLS client private key")
	flags.StringVar(&opts.keyPassphrase, "key-passphrase", "", "Passphrase of an encrypted private key (or set "+envKeyPassphrase+")")
	flags.BoolVar(&opts.insecureSkipVerify, "insecure-skip-verify", false, "Do not verify the broker certificate")
	flags.StringVar(&opts.region, "region", "", "AWS region of an MSK cluster")
	flags.StringVar(&opts.clusterARN, "cluster-arn", "", "ARN of an MSK cluster")
	flags.StringVar(&opts.awsProfile, "aws-profile", "", "AWS profile used for discovery and IAM auth")
	flags.StringVar(&opts.assumeRoleARN, "assume-role-arn", "", "Role to assume on top of the profile credentials")

	return cmd
}

func buildConnection(name string, opts addClusterOptions) (cluster.Connection, error) {
	if (opts.certFile == "") != (opts.keyFile == "") {
		return cluster.Connection{}, errors.New("--cert-file and --key-file must be provided together")
	}

	mechanism, err := cluster.ParseMechanism(opts.mechanism)
	if err != nil {
		return cluster.Connection{}, &errs.ConfigError{Cluster: name, Field: "sasl_mechanism", Message: err.Error()}
	}

	conn := cluster.Connection{
		Name:             name,
		Kind:             cluster.Kind(strings.ToLower(strings.TrimSpace(opts.kind))),
		Brokers:          cluster.SplitBrokers(opts.brokers),
		SecurityProtocol: cluster.SecurityProtocol(opts.securityProtocol),
		Mechanism:        mechanism,
		Username:         opts.username,
		Password:         firstNonEmpty(opts.password, os.Getenv(envPassword)),
		CAFile:           opts.caFile,
		CertFile:         opts.certFile,
		KeyFile:          opts.keyFile,
		KeyPassphrase:    firstNonEmpty(opts.keyPassphrase, os.Getenv(envKeyPassphrase)),
		Region:           opts.region,
		ClusterARN:       opts.clusterARN,
		AWSProfile:       opts.awsProfile,
		AssumeRoleARN:    opts.assumeRoleARN,
	}
	if opts.insecureSkipVerify {
		verify := false
		conn.RejectUnauthorized = &verify
	}

	// IAM only works over TLS.
	if conn.SecurityProtocol == "" && mechanism == cluster.MechanismAWSIAM {
		conn.SecurityProtocol = cluster.ProtocolSASLSSL
	}
	if mechanism.IsScram() || mechanism == cluster.MechanismPlain {
		if conn.Username == "" || conn.Password == "" {
			return cluster.Connection{}, errors.New("sasl-mechanism requires both --username and --password")
		}
	}

	return conn, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func newClustersRemoveCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:     "remove NAME",
		Aliases: []string{"rm"},
		Short:   "Remove a cluster and its stored secrets",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, s *session) error {
				if err := s.mgr.RemoveCluster(ctx, args[0]); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "Cluster %s removed.\n", args[0])
				return err
			})
		},
	}
}

func newClustersListCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List registered clusters",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, s *session) error {
				names := s.mgr.ListClusters()
				rows := make([]reporter.ClusterRow, 0, len(names))
				for _, name := range names {
					conn, err := s.mgr.Cluster(name)
					if err != nil {
						return err
					}
					brokers := conn.Brokers
					if conn.Kind == cluster.KindManaged {
						brokers = conn.CachedBrokers
					}
					rows = append(rows, reporter.ClusterRow{
						Name:      conn.Name,
						Kind:      string(conn.Kind),
						Protocol:  string(conn.SecurityProtocol),
						Mechanism: string(conn.Mechanism),
						Brokers:   brokers,
						Region:    conn.Region,
						State:     s.mgr.State(name).String(),
					})
				}
				return s.rep.Clusters(ctx, rows)
			})
		},
	}
}

func newClustersTestCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "test NAME",
		Short: "Connect to a cluster and list its brokers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, s *session) error {
				brokers, err := s.mgr.TestConnection(ctx, args[0])
				check := reporter.ConnectionCheck{Cluster: args[0], OK: err == nil, Brokers: brokers}
				if err != nil {
					check.Reason = failureReason(err)
					check.Error = err.Error()
				}
				if reportErr := s.rep.ConnectionCheck(ctx, check); reportErr != nil {
					return reportErr
				}
				return err
			})
		},
	}
}

func newClustersDisconnectCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect NAME",
		Short: "Close the connections of a cluster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, s *session) error {
				if _, err := s.mgr.Cluster(args[0]); err != nil {
					return err
				}
				return s.mgr.Disconnect(args[0])
			})
		},
	}
}

func newClustersMSKListCmd(c *cli) *cobra.Command {
	var region, profile string

	cmd := &cobra.Command{
		Use:   "msk-list",
		Short: "List the MSK clusters of an AWS region",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, s *session) error {
				clusters, err := s.mgr.ListManagedClusters(ctx, region, profile)
				if err != nil {
					return err
				}
				return s.rep.ManagedClusters(ctx, clusters)
			})
		},
	}

	cmd.Flags().StringVar(&region, "region", "", "AWS region")
	cmd.Flags().StringVar(&profile, "aws-profile", "", "AWS profile")
	if err := cmd.MarkFlagRequired("region"); err != nil {
		panic(err)
	}

	return cmd
}
