package manager

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	msk "github.com/aws/aws-sdk-go-v2/service/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/kafkaconsole/internal/awsauth"
	"github.com/ppiankov/kafkaconsole/internal/cluster"
	"github.com/ppiankov/kafkaconsole/internal/discovery"
	"github.com/ppiankov/kafkaconsole/internal/errs"
	"github.com/ppiankov/kafkaconsole/internal/kafka"
	"github.com/ppiankov/kafkaconsole/internal/kafka/kafkatest"
	"github.com/ppiankov/kafkaconsole/internal/pool"
)

type memRegistry struct {
	mu       sync.Mutex
	conns    map[string]cluster.Connection
	deletes  int
	brokerUp int
}

func newMemRegistry() *memRegistry {
	return &memRegistry{conns: make(map[string]cluster.Connection)}
}

func (r *memRegistry) Load(context.Context) ([]cluster.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]cluster.Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c.Clone())
	}
	return out, nil
}

func (r *memRegistry) Save(_ context.Context, conn cluster.Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[conn.Name] = conn.Clone()
	return nil
}

func (r *memRegistry) Delete(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deletes++
	delete(r.conns, name)
	return nil
}

func (r *memRegistry) UpdateCachedBrokers(_ context.Context, name string, brokers []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.brokerUp++
	c := r.conns[name]
	c.CachedBrokers = append([]string(nil), brokers...)
	r.conns[name] = c
	return nil
}

type staticSource struct{}

func (staticSource) Resolve(context.Context, awsauth.Request) (awsauth.Credentials, error) {
	return awsauth.Credentials{AccessKeyID: "AKIA", SecretAccessKey: "secret", Source: "test"}, nil
}

type fakeMSK struct {
	calls atomic.Int32
	out   *msk.GetBootstrapBrokersOutput
}

func (f *fakeMSK) GetBootstrapBrokers(context.Context, *msk.GetBootstrapBrokersInput, ...func(*msk.Options)) (*msk.GetBootstrapBrokersOutput, error) {
	f.calls.Add(1)
	return f.out, nil
}

func (f *fakeMSK) ListClustersV2(context.Context, *msk.ListClustersV2Input, ...func(*msk.Options)) (*msk.ListClustersV2Output, error) {
	return &msk.ListClustersV2Output{}, nil
}

type noAuth struct{}

func (noAuth) Build(context.Context, cluster.Connection) (*kafka.AuthConfig, error) {
	return &kafka.AuthConfig{}, nil
}

type harness struct {
	mgr      *Manager
	factory  *kafkatest.Factory
	registry *memRegistry
	msk      *fakeMSK
	disc     *discovery.Discovery
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		factory:  kafkatest.NewFactory(),
		registry: newMemRegistry(),
		msk: &fakeMSK{out: &msk.GetBootstrapBrokersOutput{
			BootstrapBrokerString:          aws.String("b-1.plain:9092"),
			BootstrapBrokerStringTls:       aws.String("b-1.tls:9094"),
			BootstrapBrokerStringSaslIam:   aws.String("b-1.iam:9098,b-2.iam:9098"),
			BootstrapBrokerStringSaslScram: aws.String("b-1.scram:9096"),
		}},
	}
	h.disc = discovery.New(staticSource{}, discovery.WithClientFactory(func(string, awsauth.Credentials) discovery.MSKAPI {
		return h.msk
	}))
	h.mgr = h.newManager(opts...)
	return h
}

func (h *harness) newManager(opts ...Option) *Manager {
	p := pool.New(h.disc, noAuth{}, h.factory, pool.WithConnectTimeout(5*time.Second))
	return New(p, append([]Option{WithRegistry(h.registry)}, opts...)...)
}

func localCluster() cluster.Connection {
	return cluster.Connection{Name: "local", Brokers: []string{"localhost:9092"}, SecurityProtocol: cluster.ProtocolPlaintext}
}

func iamCluster() cluster.Connection {
	return cluster.Connection{
		Name:             "msk",
		Kind:             cluster.KindManaged,
		Region:           "us-east-1",
		ClusterARN:       "arn:aws:kafka:us-east-1:123456789012:cluster/msk/abc",
		SecurityProtocol: cluster.ProtocolSASLSSL,
		Mechanism:        "IAM",
	}
}

func TestScenarioDirectClusterLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.mgr.AddCluster(ctx, localCluster()))
	assert.Equal(t, []string{"local"}, h.mgr.ListClusters())

	brokers, err := h.mgr.TestConnection(ctx, "local")
	require.NoError(t, err)
	assert.NotEmpty(t, brokers)
	assert.Equal(t, pool.StateReady, h.mgr.State("local"))

	require.NoError(t, h.mgr.RemoveCluster(ctx, "local"))
	assert.Empty(t, h.mgr.ListClusters())
	assert.Equal(t, int32(1), h.factory.Admin.Closed.Load())
	assert.Equal(t, int32(1), h.factory.Producer.Closed.Load())
	assert.Equal(t, 1, h.registry.deletes)

	_, err = h.mgr.TestConnection(ctx, "local")
	require.ErrorIs(t, err, errs.ErrClusterNotFound)
}

func TestScenarioManagedIAMDiscoversOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.mgr.AddCluster(ctx, iamCluster()))
	_, err := h.mgr.TestConnection(ctx, "msk")
	require.NoError(t, err)

	assert.Equal(t, int32(1), h.msk.calls.Load())
	assert.Equal(t, [][]string{{"b-1.iam:9098", "b-2.iam:9098"}}, h.factory.Seeds())

	conn, err := h.mgr.Cluster("msk")
	require.NoError(t, err)
	assert.Equal(t, []string{"b-1.iam:9098", "b-2.iam:9098"}, conn.CachedBrokers)
	assert.Equal(t, 1, h.registry.brokerUp)

	// A fresh process loads the descriptor with its cached brokers.
	h.mgr.Close()
	second := h.newManager()
	require.NoError(t, second.Load(ctx))
	_, err = second.TestConnection(ctx, "msk")
	require.NoError(t, err)
	assert.Equal(t, int32(1), h.msk.calls.Load(), "cached brokers must suppress discovery")
}

func TestScenarioStaleCommitReportsZeroLag(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.mgr.AddCluster(ctx, localCluster()))

	h.factory.Admin.AddTopic("t1", 100)
	offsets := make(kafka.CommittedOffsets)
	offsets.Set("t1", 0, 130)
	h.factory.Admin.AddGroup("g1", "Empty", offsets)

	detail, err := h.mgr.GetConsumerGroupDetail(ctx, "local", "g1")
	require.NoError(t, err)
	require.Len(t, detail.Lag.Partitions, 1)
	assert.Equal(t, int64(0), detail.Lag.Partitions[0].Lag)
	assert.Equal(t, int64(0), detail.Lag.Total)
}

func TestAddClusterValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	err := h.mgr.AddCluster(ctx, cluster.Connection{Name: "bad"})
	require.ErrorIs(t, err, errs.ErrInvalidDescriptor)

	assert.Empty(t, h.registry.conns)
}

func TestAddClusterReplacesDescriptor(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.mgr.AddCluster(ctx, localCluster()))
	_, err := h.mgr.TestConnection(ctx, "local")
	require.NoError(t, err)
	require.Equal(t, pool.StateReady, h.mgr.State("local"))

	replacement := localCluster()
	replacement.Brokers = []string{"other:9092"}
	require.NoError(t, h.mgr.AddCluster(ctx, replacement))

	conn, err := h.mgr.Cluster("local")
	require.NoError(t, err)
	assert.Equal(t, []string{"other:9092"}, conn.Brokers)
	assert.Equal(t, []string{"other:9092"}, h.registry.conns["local"].Brokers)
	assert.Equal(t, int32(1), h.factory.Admin.Closed.Load())
	assert.Equal(t, int32(1), h.factory.Producer.Closed.Load())
	assert.Equal(t, pool.StateUnresolved, h.mgr.State("local"))

	_, err = h.mgr.TestConnection(ctx, "local")
	require.NoError(t, err)
	seeds := h.factory.Seeds()
	assert.Equal(t, []string{"other:9092"}, seeds[len(seeds)-1])
}

func TestRemoveUnknownCluster(t *testing.T) {
	h := newHarness(t)
	require.ErrorIs(t, h.mgr.RemoveCluster(context.Background(), "nope"), errs.ErrClusterNotFound)
}

func TestLoadSkipsInvalidDescriptors(t *testing.T) {
	h := newHarness(t)
	h.registry.conns["ok"] = cluster.Connection{Name: "ok", Brokers: []string{"a:9092"}}
	h.registry.conns["broken"] = cluster.Connection{Name: "broken", Kind: cluster.KindManaged}

	require.NoError(t, h.mgr.Load(context.Background()))
	assert.Equal(t, []string{"ok"}, h.mgr.ListClusters())
}

func TestClusterReturnsCopy(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.mgr.AddCluster(context.Background(), localCluster()))

	conn, err := h.mgr.Cluster("local")
	require.NoError(t, err)
	conn.Brokers[0] = "mutated:1"

	again, err := h.mgr.Cluster("local")
	require.NoError(t, err)
	assert.Equal(t, []string{"localhost:9092"}, again.Brokers)
}

func TestClustersAreIndependent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.mgr.AddCluster(ctx, localCluster()))

	broken := iamCluster()
	broken.Name = "broken"
	require.NoError(t, h.mgr.AddCluster(ctx, broken))
	h.msk.out = &msk.GetBootstrapBrokersOutput{}

	_, err := h.mgr.TestConnection(ctx, "broken")
	require.ErrorIs(t, err, errs.ErrNoBootstrapBrokers)

	_, err = h.mgr.TestConnection(ctx, "local")
	require.NoError(t, err)
}

func TestListManagedClustersRequiresLister(t *testing.T) {
	h := newHarness(t)
	_, err := h.mgr.ListManagedClusters(context.Background(), "us-east-1", "")
	require.Error(t, err)

	withLister := h.newManager(WithClusterLister(h.disc))
	_, err = withLister.ListManagedClusters(context.Background(), "", "")
	require.ErrorIs(t, err, errs.ErrInvalidDescriptor)

	clusters, err := withLister.ListManagedClusters(context.Background(), "us-east-1", "")
	require.NoError(t, err)
	assert.Empty(t, clusters)
}
