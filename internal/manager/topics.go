package manager

import (
	"context"
	"fmt"
	"sort"

	"github.com/ppiankov/kafkaconsole/internal/errs"
	"github.com/ppiankov/kafkaconsole/internal/kafka"
)

// TopicDetail is a topic's metadata with per-partition watermarks.
type TopicDetail struct {
	kafka.TopicInfo
	PartitionDetails []PartitionDetail `json:"partition_details"`
	MessageCount     int64             `json:"message_count"`
}

// PartitionDetail is one partition's placement and watermarks. Messages is
// high minus low. Error is set when the watermark lookup failed.
type PartitionDetail struct {
	kafka.PartitionInfo
	Low      int64  `json:"low"`
	High     int64  `json:"high"`
	Messages int64  `json:"messages"`
	Error    string `json:"error,omitempty"`
}

// TopicSpec describes a topic to create.
type TopicSpec struct {
	Name              string
	Partitions        int32
	ReplicationFactor int16
	Configs           map[string]string
}

// ListTopics returns the topics of a cluster, hiding internal topics unless
// includeInternal is set.
func (m *Manager) ListTopics(ctx context.Context, name string, includeInternal bool) ([]kafka.TopicInfo, error) {
	admin, err := m.admin(ctx, name)
	if err != nil {
		return nil, err
	}
	topics, err := admin.ListTopics(ctx)
	if err != nil {
		return nil, fmt.Errorf("list topics of %s: %w", name, err)
	}
	if includeInternal {
		return topics, nil
	}
	out := topics[:0]
	for _, t := range topics {
		if !t.Internal {
			out = append(out, t)
		}
	}
	return out, nil
}

// GetTopicDetail returns metadata, configuration and watermarks of a topic.
func (m *Manager) GetTopicDetail(ctx context.Context, name, topic string) (*TopicDetail, error) {
	admin, err := m.admin(ctx, name)
	if err != nil {
		return nil, err
	}

	info, partitions, err := admin.DescribeTopic(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("describe topic %s: %w", topic, err)
	}
	marks, err := admin.Watermarks(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("watermarks of %s: %w", topic, err)
	}
	if configs, err := admin.TopicConfigs(ctx, topic); err == nil {
		info.Config = configs[topic]
	}

	detail := &TopicDetail{TopicInfo: info}
	for _, p := range partitions {
		pd := PartitionDetail{PartitionInfo: p}
		mark, ok := marks[topic][p.Partition]
		switch {
		case !ok:
			pd.Error = "watermark unavailable"
		case mark.Err != nil:
			pd.Error = mark.Err.Error()
		default:
			pd.Low = mark.Low
			pd.High = mark.High
			pd.Messages = max(0, mark.High-mark.Low)
			detail.MessageCount += pd.Messages
		}
		detail.PartitionDetails = append(detail.PartitionDetails, pd)
	}
	sort.Slice(detail.PartitionDetails, func(i, j int) bool {
		return detail.PartitionDetails[i].Partition < detail.PartitionDetails[j].Partition
	})
	return detail, nil
}

// CreateTopic creates a topic. Zero partitions or replication use 1.
func (m *Manager) CreateTopic(ctx context.Context, name string, spec TopicSpec) error {
	if spec.Name == "" {
		return &errs.ConfigError{Cluster: name, Field: "topic", Message: "name is required"}
	}
	if spec.Partitions <= 0 {
		spec.Partitions = 1
	}
	if spec.ReplicationFactor <= 0 {
		spec.ReplicationFactor = 1
	}

	admin, err := m.admin(ctx, name)
	if err != nil {
		return err
	}
	return admin.CreateTopic(ctx, spec.Name, spec.Partitions, spec.ReplicationFactor, spec.Configs)
}

// DeleteTopic deletes a topic.
func (m *Manager) DeleteTopic(ctx context.Context, name, topic string) error {
	admin, err := m.admin(ctx, name)
	if err != nil {
		return err
	}
	return admin.DeleteTopic(ctx, topic)
}
