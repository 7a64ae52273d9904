package discovery

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	msk "github.com/aws/aws-sdk-go-v2/service/kafka"
	msktypes "github.com/aws/aws-sdk-go-v2/service/kafka/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/kafkaconsole/internal/awsauth"
	"github.com/ppiankov/kafkaconsole/internal/cluster"
	"github.com/ppiankov/kafkaconsole/internal/errs"
)

type fakeSource struct {
	req awsauth.Request
	err error
}

func (s *fakeSource) Resolve(_ context.Context, req awsauth.Request) (awsauth.Credentials, error) {
	s.req = req
	if s.err != nil {
		return awsauth.Credentials{}, s.err
	}
	return awsauth.Credentials{AccessKeyID: "AKIA", SecretAccessKey: "s"}, nil
}

type fakeMSK struct {
	bootstrap    *msk.GetBootstrapBrokersOutput
	bootstrapErr error
	pages        []*msk.ListClustersV2Output
	listCalls    int
	region       string
	clusterARN   string
}

func (f *fakeMSK) GetBootstrapBrokers(_ context.Context, in *msk.GetBootstrapBrokersInput, _ ...func(*msk.Options)) (*msk.GetBootstrapBrokersOutput, error) {
	f.clusterARN = aws.ToString(in.ClusterArn)
	return f.bootstrap, f.bootstrapErr
}

func (f *fakeMSK) ListClustersV2(_ context.Context, _ *msk.ListClustersV2Input, _ ...func(*msk.Options)) (*msk.ListClustersV2Output, error) {
	page := f.pages[f.listCalls]
	f.listCalls++
	return page, nil
}

func (f *fakeMSK) factory() ClientFactory {
	return func(region string, _ awsauth.Credentials) MSKAPI {
		f.region = region
		return f
	}
}

func managed(mechanism cluster.Mechanism, protocol cluster.SecurityProtocol) cluster.Connection {
	return cluster.Connection{
		Name:             "orders",
		Kind:             cluster.KindManaged,
		Region:           "us-east-1",
		ClusterARN:       "arn:aws:kafka:us-east-1:123456789012:cluster/orders/abc",
		AWSProfile:       "dev",
		AssumeRoleARN:    "arn:aws:iam::123456789012:role/data-plane",
		Mechanism:        mechanism,
		SecurityProtocol: protocol,
	}
}

func allVariants() *msk.GetBootstrapBrokersOutput {
	return &msk.GetBootstrapBrokersOutput{
		BootstrapBrokerString:                aws.String("b-1:9092,b-2:9092"),
		BootstrapBrokerStringTls:             aws.String("b-1:9094,b-2:9094"),
		BootstrapBrokerStringSaslScram:       aws.String("b-1:9096,b-2:9096"),
		BootstrapBrokerStringSaslIam:         aws.String("b-1:9098,b-2:9098"),
		BootstrapBrokerStringPublicSaslIam:   aws.String("pub-1:9198"),
		BootstrapBrokerStringPublicSaslScram: aws.String("pub-1:9196"),
		BootstrapBrokerStringPublicTls:       aws.String("pub-1:9194"),
	}
}

func TestSelectBrokerString(t *testing.T) {
	tests := []struct {
		name    string
		out     *msk.GetBootstrapBrokersOutput
		conn    cluster.Connection
		want    string
		variant string
	}{
		{"iam", allVariants(), managed(cluster.MechanismAWSIAM, cluster.ProtocolSASLSSL), "b-1:9098,b-2:9098", "sasl-iam"},
		{"scram", allVariants(), managed(cluster.MechanismScramSHA512, cluster.ProtocolSASLSSL), "b-1:9096,b-2:9096", "sasl-scram"},
		{"tls", allVariants(), managed("", cluster.ProtocolSSL), "b-1:9094,b-2:9094", "tls"},
		{"plaintext", allVariants(), managed("", cluster.ProtocolPlaintext), "b-1:9092,b-2:9092", "plaintext"},
		{
			"iam falls back to public",
			&msk.GetBootstrapBrokersOutput{BootstrapBrokerStringPublicSaslIam: aws.String("pub-1:9198"), BootstrapBrokerStringTls: aws.String("b-1:9094")},
			managed(cluster.MechanismAWSIAM, cluster.ProtocolSASLSSL), "pub-1:9198", "public-sasl-iam",
		},
		{
			"iam falls back to tls",
			&msk.GetBootstrapBrokersOutput{BootstrapBrokerStringTls: aws.String("b-1:9094"), BootstrapBrokerString: aws.String("b-1:9092")},
			managed(cluster.MechanismAWSIAM, cluster.ProtocolSASLSSL), "b-1:9094", "tls",
		},
		{
			"scram falls back to generic",
			&msk.GetBootstrapBrokersOutput{BootstrapBrokerString: aws.String("b-1:9092")},
			managed(cluster.MechanismScramSHA256, cluster.ProtocolSASLSSL), "b-1:9092", "plaintext",
		},
		{"nothing", &msk.GetBootstrapBrokersOutput{}, managed(cluster.MechanismAWSIAM, cluster.ProtocolSASLSSL), "", ""},
		{"nil output", nil, managed("", cluster.ProtocolSSL), "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, variant := SelectBrokerString(tt.out, tt.conn)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.variant, variant)
		})
	}
}

func TestDiscoverIAMBrokers(t *testing.T) {
	src := &fakeSource{}
	fake := &fakeMSK{bootstrap: allVariants()}
	d := New(src, WithClientFactory(fake.factory()))

	brokers, err := d.Discover(context.Background(), managed(cluster.MechanismAWSIAM, cluster.ProtocolSASLSSL))
	require.NoError(t, err)
	assert.Equal(t, []string{"b-1:9098", "b-2:9098"}, brokers)

	// Discovery uses the base profile, never the data-plane role.
	assert.Equal(t, "dev", src.req.Profile)
	assert.Empty(t, src.req.RoleARN)
	assert.Equal(t, "us-east-1", fake.region)
	assert.Equal(t, "arn:aws:kafka:us-east-1:123456789012:cluster/orders/abc", fake.clusterARN)
}

func TestDiscoverFailures(t *testing.T) {
	tests := []struct {
		name   string
		src    *fakeSource
		fake   *fakeMSK
		reason error
	}{
		{
			name:   "no variants",
			src:    &fakeSource{},
			fake:   &fakeMSK{bootstrap: &msk.GetBootstrapBrokersOutput{}},
			reason: errs.ErrNoBootstrapBrokers,
		},
		{
			name:   "expired token",
			src:    &fakeSource{},
			fake:   &fakeMSK{bootstrapErr: &smithy.GenericAPIError{Code: "ExpiredTokenException"}},
			reason: errs.ErrCredentialsExpired,
		},
		{
			name:   "access denied",
			src:    &fakeSource{},
			fake:   &fakeMSK{bootstrapErr: &smithy.GenericAPIError{Code: "AccessDeniedException"}},
			reason: errs.ErrAccessDenied,
		},
		{
			name:   "generic",
			src:    &fakeSource{},
			fake:   &fakeMSK{bootstrapErr: errors.New("dial tcp: i/o timeout")},
			reason: errs.ErrDiscoveryFailed,
		},
		{
			name:   "expired base credentials",
			src:    &fakeSource{err: &errs.CredentialError{Profile: "dev", Reason: errs.ErrCredentialsExpired}},
			fake:   &fakeMSK{},
			reason: errs.ErrCredentialsExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(tt.src, WithClientFactory(tt.fake.factory()))
			_, err := d.Discover(context.Background(), managed(cluster.MechanismAWSIAM, cluster.ProtocolSASLSSL))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.reason)

			var de *errs.DiscoveryError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, "orders", de.Cluster)
		})
	}
}

func TestListClustersPaginates(t *testing.T) {
	fake := &fakeMSK{pages: []*msk.ListClustersV2Output{
		{
			ClusterInfoList: []msktypes.Cluster{{
				ClusterName: aws.String("payments"),
				ClusterArn:  aws.String("arn:payments"),
				State:       msktypes.ClusterStateActive,
				ClusterType: msktypes.ClusterTypeProvisioned,
			}},
			NextToken: aws.String("page-2"),
		},
		{
			ClusterInfoList: []msktypes.Cluster{{
				ClusterName: aws.String("events"),
				ClusterArn:  aws.String("arn:events"),
				State:       msktypes.ClusterStateCreating,
				ClusterType: msktypes.ClusterTypeServerless,
			}},
		},
	}}
	d := New(&fakeSource{}, WithClientFactory(fake.factory()))

	clusters, err := d.ListClusters(context.Background(), "eu-west-1", "dev")
	require.NoError(t, err)
	require.Len(t, clusters, 2)
	assert.Equal(t, 2, fake.listCalls)
	assert.Equal(t, "events", clusters[0].Name)
	assert.Equal(t, "SERVERLESS", clusters[0].Type)
	assert.Equal(t, "payments", clusters[1].Name)
	assert.Equal(t, "ACTIVE", clusters[1].State)
}
