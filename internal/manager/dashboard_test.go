package manager

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/kafkaconsole/internal/metrics"
)

func TestDashboardBoundsConcurrencyAndDropsFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	mt := metrics.NewWithRegistry(reg, reg)
	h := newHarness(t, WithDashboardConcurrency(4), WithMetrics(mt))
	ctx := context.Background()
	require.NoError(t, h.mgr.AddCluster(ctx, localCluster()))

	admin := h.factory.Admin
	admin.DescribeLag = 10 * time.Millisecond
	for i := 0; i < 30; i++ {
		admin.AddTopic(fmt.Sprintf("topic-%02d", i), 10, 20, 30)
	}
	admin.AddTopic("__consumer_offsets", 1)
	admin.Topics["topic-07"].DescribeErr = errors.New("leader not available")
	admin.Topics["topic-19"].DescribeErr = errors.New("leader not available")
	admin.AddGroup("g1", "Stable", nil)

	d, err := h.mgr.Dashboard(ctx, "local")
	require.NoError(t, err)

	assert.LessOrEqual(t, admin.MaxInFlight.Load(), int32(4))
	assert.Greater(t, admin.MaxInFlight.Load(), int32(1), "lookups should overlap")
	assert.Equal(t, 28, d.TopicCount)
	assert.Equal(t, 84, d.PartitionCount)
	assert.Equal(t, 1, d.GroupCount)
	assert.Len(t, d.Brokers, 1)
	assert.Equal(t, []string{"topic-07", "topic-19"}, d.DroppedTopics)
	assert.Equal(t, "topic-00", d.Topics[0].Name)
	assert.Equal(t, 2.0, testutil.ToFloat64(mt.DashboardTopicFails.WithLabelValues("local")))
}

func TestDashboardHonorsCancellation(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.mgr.AddCluster(context.Background(), localCluster()))
	_, err := h.mgr.TestConnection(context.Background(), "local")
	require.NoError(t, err)

	admin := h.factory.Admin
	admin.DescribeLag = time.Second
	admin.AddTopic("slow", 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = h.mgr.Dashboard(ctx, "local")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
