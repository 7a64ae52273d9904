package manager

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/kafkaconsole/internal/kafka"
)

// TopicSummary is one row of the dashboard.
type TopicSummary struct {
	Name              string `json:"name"`
	Partitions        int    `json:"partitions"`
	ReplicationFactor int    `json:"replication_factor"`
	UnderReplicated   int    `json:"under_replicated"`
}

// Dashboard is an overview of one cluster.
type Dashboard struct {
	Cluster        string             `json:"cluster"`
	Brokers        []kafka.BrokerInfo `json:"brokers"`
	TopicCount     int                `json:"topic_count"`
	PartitionCount int                `json:"partition_count"`
	GroupCount     int                `json:"group_count"`
	Topics         []TopicSummary     `json:"topics"`
	DroppedTopics  []string           `json:"dropped_topics,omitempty"`
}

// Dashboard gathers brokers, groups and a per-topic summary. Topic metadata
// is fetched concurrently in bounded batches; a topic whose lookup fails is
// dropped from the result rather than failing the whole call.
func (m *Manager) Dashboard(ctx context.Context, name string) (*Dashboard, error) {
	admin, err := m.admin(ctx, name)
	if err != nil {
		return nil, err
	}

	brokers, err := admin.Brokers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list brokers of %s: %w", name, err)
	}
	topics, err := admin.ListTopics(ctx)
	if err != nil {
		return nil, fmt.Errorf("list topics of %s: %w", name, err)
	}
	groups, err := admin.ListGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("list groups of %s: %w", name, err)
	}

	d := &Dashboard{Cluster: name, Brokers: brokers, GroupCount: len(groups)}

	var (
		mu      sync.Mutex
		summary = make([]TopicSummary, 0, len(topics))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.dashboardConcurrency)
	for _, t := range topics {
		if t.Internal {
			continue
		}
		topic := t.Name
		g.Go(func() error {
			info, partitions, err := admin.DescribeTopic(gctx, topic)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				slog.Debug("dashboard: dropping topic", "cluster", name, "topic", topic, "error", err)
				m.metrics.ObserveDashboardTopicFailure(name)
				d.DroppedTopics = append(d.DroppedTopics, topic)
				return nil
			}
			s := TopicSummary{Name: topic, Partitions: len(partitions), ReplicationFactor: info.ReplicationFactor}
			for _, p := range partitions {
				if len(p.ISR) < len(p.Replicas) {
					s.UnderReplicated++
				}
			}
			summary = append(summary, s)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(summary, func(i, j int) bool { return summary[i].Name < summary[j].Name })
	sort.Strings(d.DroppedTopics)
	d.Topics = summary
	d.TopicCount = len(summary)
	for _, s := range summary {
		d.PartitionCount += s.Partitions
	}
	return d, nil
}
