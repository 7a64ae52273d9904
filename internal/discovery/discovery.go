// Package discovery looks up MSK bootstrap brokers for managed clusters.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	msk "github.com/aws/aws-sdk-go-v2/service/kafka"

	"github.com/ppiankov/kafkaconsole/internal/awsauth"
	"github.com/ppiankov/kafkaconsole/internal/cluster"
	"github.com/ppiankov/kafkaconsole/internal/errs"
	"github.com/ppiankov/kafkaconsole/internal/metrics"
)

// MSKAPI defines the MSK operations used, enabling mock injection for testing.
type MSKAPI interface {
	GetBootstrapBrokers(ctx context.Context, params *msk.GetBootstrapBrokersInput, optFns ...func(*msk.Options)) (*msk.GetBootstrapBrokersOutput, error)
	ListClustersV2(ctx context.Context, params *msk.ListClustersV2Input, optFns ...func(*msk.Options)) (*msk.ListClustersV2Output, error)
}

// ClientFactory builds an MSK client for a region and credentials.
type ClientFactory func(region string, creds awsauth.Credentials) MSKAPI

func newMSKClient(region string, creds awsauth.Credentials) MSKAPI {
	return msk.New(msk.Options{
		Region:      region,
		Credentials: creds.StaticProvider(),
	})
}

// ManagedCluster is one entry of a regional MSK cluster listing.
type ManagedCluster struct {
	Name      string    `json:"name"`
	ARN       string    `json:"arn"`
	State     string    `json:"state"`
	Type      string    `json:"type"`
	Version   string    `json:"version,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Discovery resolves bootstrap brokers through the MSK API.
type Discovery struct {
	creds     awsauth.Source
	newClient ClientFactory
	metrics   *metrics.Metrics
}

// Option configures a Discovery.
type Option func(*Discovery)

// WithClientFactory overrides how MSK clients are built.
func WithClientFactory(f ClientFactory) Option {
	return func(d *Discovery) { d.newClient = f }
}

// WithMetrics records lookups on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Discovery) { d.metrics = m }
}

// New returns a Discovery that authenticates with creds.
func New(creds awsauth.Source, opts ...Option) *Discovery {
	d := &Discovery{creds: creds, newClient: newMSKClient}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Discover returns the bootstrap brokers for conn's auth mode. Credentials come
// from the base profile; the role in the descriptor is only used for the data plane.
func (d *Discovery) Discover(ctx context.Context, conn cluster.Connection) ([]string, error) {
	brokers, err := d.discover(ctx, conn)
	d.metrics.ObserveDiscovery(err)
	return brokers, err
}

func (d *Discovery) discover(ctx context.Context, conn cluster.Connection) ([]string, error) {
	fail := func(reason, err error) error {
		return &errs.DiscoveryError{Cluster: conn.Name, Reason: reason, Err: err}
	}

	if conn.Region == "" || conn.ClusterARN == "" {
		return nil, fail(errs.ErrDiscoveryFailed, errors.New("region and cluster ARN are required"))
	}

	creds, err := d.creds.Resolve(ctx, awsauth.Request{Profile: conn.AWSProfile, Region: conn.Region})
	if err != nil {
		return nil, fail(reasonFor(err), err)
	}

	out, err := d.newClient(conn.Region, creds).GetBootstrapBrokers(ctx, &msk.GetBootstrapBrokersInput{
		ClusterArn: aws.String(conn.ClusterARN),
	})
	if err != nil {
		return nil, fail(reasonFor(err), fmt.Errorf("get bootstrap brokers: %w", err))
	}

	brokerString, chosen := SelectBrokerString(out, conn)
	if brokerString == "" {
		return nil, fail(errs.ErrNoBootstrapBrokers, nil)
	}

	brokers := cluster.SplitBrokers(brokerString)
	slog.Debug("discovered bootstrap brokers",
		"cluster", conn.Name,
		"variant", chosen,
		"brokers", len(brokers),
	)
	return brokers, nil
}

func reasonFor(err error) error {
	if reason := awsauth.Classify(err); reason != nil {
		return reason
	}
	return errs.ErrDiscoveryFailed
}

type variant struct {
	name string
	get  func(*msk.GetBootstrapBrokersOutput) *string
}

var (
	iamVariants = []variant{
		{"sasl-iam", func(o *msk.GetBootstrapBrokersOutput) *string { return o.BootstrapBrokerStringSaslIam }},
		{"public-sasl-iam", func(o *msk.GetBootstrapBrokersOutput) *string { return o.BootstrapBrokerStringPublicSaslIam }},
	}
	scramVariants = []variant{
		{"sasl-scram", func(o *msk.GetBootstrapBrokersOutput) *string { return o.BootstrapBrokerStringSaslScram }},
		{"public-sasl-scram", func(o *msk.GetBootstrapBrokersOutput) *string { return o.BootstrapBrokerStringPublicSaslScram }},
	}
	tlsVariants = []variant{
		{"tls", func(o *msk.GetBootstrapBrokersOutput) *string { return o.BootstrapBrokerStringTls }},
		{"public-tls", func(o *msk.GetBootstrapBrokersOutput) *string { return o.BootstrapBrokerStringPublicTls }},
	}
	plainVariants = []variant{
		{"plaintext", func(o *msk.GetBootstrapBrokersOutput) *string { return o.BootstrapBrokerString }},
	}
)

// SelectBrokerString picks the broker string variant for conn's auth mode,
// falling back to TLS and then plaintext. It returns the chosen variant name.
func SelectBrokerString(out *msk.GetBootstrapBrokersOutput, conn cluster.Connection) (string, string) {
	if out == nil {
		return "", ""
	}

	var order []variant
	switch {
	case conn.IsIAM():
		order = append(order, iamVariants...)
	case conn.Mechanism.IsScram():
		order = append(order, scramVariants...)
	case !conn.SecurityProtocol.UsesTLS():
		order = append(order, plainVariants...)
	}
	order = append(order, tlsVariants...)
	order = append(order, plainVariants...)

	for _, v := range order {
		if s := aws.ToString(v.get(out)); s != "" {
			return s, v.name
		}
	}
	return "", ""
}

// ListClusters lists the MSK clusters of a region, following pagination.
func (d *Discovery) ListClusters(ctx context.Context, region, profile string) ([]ManagedCluster, error) {
	fail := func(reason, err error) error {
		return &errs.DiscoveryError{Cluster: region, Reason: reason, Err: err}
	}

	creds, err := d.creds.Resolve(ctx, awsauth.Request{Profile: profile, Region: region})
	if err != nil {
		return nil, fail(reasonFor(err), err)
	}
	client := d.newClient(region, creds)

	var clusters []ManagedCluster
	var next *string
	for {
		out, err := client.ListClustersV2(ctx, &msk.ListClustersV2Input{NextToken: next})
		if err != nil {
			return nil, fail(reasonFor(err), fmt.Errorf("list clusters: %w", err))
		}
		for _, c := range out.ClusterInfoList {
			clusters = append(clusters, ManagedCluster{
				Name:      aws.ToString(c.ClusterName),
				ARN:       aws.ToString(c.ClusterArn),
				State:     string(c.State),
				Type:      string(c.ClusterType),
				Version:   aws.ToString(c.CurrentVersion),
				CreatedAt: aws.ToTime(c.CreationTime),
			})
		}
		if aws.ToString(out.NextToken) == "" {
			break
		}
		next = out.NextToken
	}

	sort.Slice(clusters, func(i, j int) bool { return clusters[i].Name < clusters[j].Name })
	return clusters, nil
}
