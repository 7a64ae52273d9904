package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/ppiankov/kafkaconsole/internal/errs"
)

// Admin is the administrative surface of one cluster.
type Admin interface {
	Brokers(ctx context.Context) ([]BrokerInfo, error)
	ListTopics(ctx context.Context) ([]TopicInfo, error)
	DescribeTopic(ctx context.Context, topic string) (TopicInfo, []PartitionInfo, error)
	TopicConfigs(ctx context.Context, topics ...string) (map[string]map[string]string, error)
	Watermarks(ctx context.Context, topics ...string) (Watermarks, error)
	CreateTopic(ctx context.Context, topic string, partitions int32, replicationFactor int16, configs map[string]string) error
	DeleteTopic(ctx context.Context, topic string) error

	ListGroups(ctx context.Context) ([]GroupSummary, error)
	DescribeGroup(ctx context.Context, group string) (GroupDescription, error)
	CommittedOffsets(ctx context.Context, group string) (CommittedOffsets, error)
	CommitOffsets(ctx context.Context, group string, offsets CommittedOffsets) error
	DeleteGroup(ctx context.Context, group string) error

	DescribeACLs(ctx context.Context, filter ACLFilter) ([]ACLEntry, error)
	CreateACLs(ctx context.Context, entries []ACLEntry) error
	DeleteACLs(ctx context.Context, filter ACLFilter) (int, error)

	Close() error
}

// kadmAdmin implements Admin on a franz-go client
type kadmAdmin struct {
	client *kgo.Client
	admin  *kadm.Client
}

func newKadmAdmin(client *kgo.Client) *kadmAdmin {
	return &kadmAdmin{client: client, admin: kadm.NewClient(client)}
}

func (a *kadmAdmin) Close() error {
	a.client.Close()
	return nil
}

func (a *kadmAdmin) Brokers(ctx context.Context) ([]BrokerInfo, error) {
	var brokerMeta kadm.Metadata
	if err := withRetry(ctx, "fetch broker metadata", func() error {
		var metaErr error
		brokerMeta, metaErr = a.admin.Metadata(ctx)
		return metaErr
	}); err != nil {
		return nil, fmt.Errorf("failed to fetch broker metadata: %w", err)
	}

	brokers := make([]BrokerInfo, 0, len(brokerMeta.Brokers))
	for _, broker := range brokerMeta.Brokers {
		rack := ""
		if broker.Rack != nil {
			rack = *broker.Rack
		}
		brokers = append(brokers, BrokerInfo{
			ID:   broker.NodeID,
			Host: broker.Host,
			Port: broker.Port,
			Rack: rack,
		})
	}
	sort.Slice(brokers, func(i, j int) bool { return brokers[i].ID < brokers[j].ID })
	return brokers, nil
}

func topicInfo(topic string, details kadm.TopicDetail) TopicInfo {
	// Calculate replication factor from first partition
	replicationFactor := 0
	if p, ok := details.Partitions[0]; ok {
		replicationFactor = len(p.Replicas)
	}

	return TopicInfo{
		Name:              topic,
		Partitions:        len(details.Partitions),
		ReplicationFactor: replicationFactor,
		Internal:          details.IsInternal || strings.HasPrefix(topic, "__"),
	}
}

func (a *kadmAdmin) ListTopics(ctx context.Context) ([]TopicInfo, error) {
	var topicDetails kadm.TopicDetails
	if err := withRetry(ctx, "list topics", func() error {
		var listErr error
		topicDetails, listErr = a.admin.ListTopicsWithInternal(ctx)
		return listErr
	}); err != nil {
		return nil, fmt.Errorf("failed to list topics: %w", err)
	}

	topics := make([]TopicInfo, 0, len(topicDetails))
	for topic, details := range topicDetails {
		if details.Err != nil {
			slog.Warn("skipping topic with metadata error", "topic", topic, "error", details.Err)
			continue
		}
		topics = append(topics, topicInfo(topic, details))
	}
	sort.Slice(topics, func(i, j int) bool { return topics[i].Name < topics[j].Name })
	return topics, nil
}

func (a *kadmAdmin) DescribeTopic(ctx context.Context, topic string) (TopicInfo, []PartitionInfo, error) {
	var topicDetails kadm.TopicDetails
	if err := withRetry(ctx, "describe topic", func() error {
		var listErr error
		topicDetails, listErr = a.admin.ListTopicsWithInternal(ctx, topic)
		return listErr
	}); err != nil {
		return TopicInfo{}, nil, fmt.Errorf("failed to describe topic %s: %w", topic, err)
	}

	details, ok := topicDetails[topic]
	if !ok {
		return TopicInfo{}, nil, fmt.Errorf("describe topic %s: %w", topic, kerr.UnknownTopicOrPartition)
	}
	if details.Err != nil {
		return TopicInfo{}, nil, fmt.Errorf("describe topic %s: %w", topic, details.Err)
	}

	partitions := make([]PartitionInfo, 0, len(details.Partitions))
	for _, p := range details.Partitions {
		partitions = append(partitions, PartitionInfo{
			Partition: p.Partition,
			Leader:    p.Leader,
			Replicas:  p.Replicas,
			ISR:       p.ISR,
		})
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i].Partition < partitions[j].Partition })

	return topicInfo(topic, details), partitions, nil
}

func (a *kadmAdmin) TopicConfigs(ctx context.Context, topics ...string) (map[string]map[string]string, error) {
	configs, err := a.admin.DescribeTopicConfigs(ctx, topics...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch topic configs: %w", err)
	}

	out := make(map[string]map[string]string, len(configs))
	for _, config := range configs {
		if config.Err != nil {
			slog.Warn("failed to fetch topic config", "topic", config.Name, "error", config.Err)
			continue
		}
		entries := make(map[string]string, len(config.Configs))
		for _, entry := range config.Configs {
			if entry.Value != nil && !entry.Sensitive {
				entries[entry.Key] = *entry.Value
			}
		}
		out[config.Name] = entries
	}
	return out, nil
}

func (a *kadmAdmin) Watermarks(ctx context.Context, topics ...string) (Watermarks, error) {
	starts, startErr := a.admin.ListStartOffsets(ctx, topics...)
	if startErr != nil && len(starts) == 0 {
		return nil, fmt.Errorf("failed to list start offsets: %w", startErr)
	}
	ends, endErr := a.admin.ListEndOffsets(ctx, topics...)
	if endErr != nil && len(ends) == 0 {
		return nil, fmt.Errorf("failed to list end offsets: %w", endErr)
	}

	marks := make(Watermarks, len(ends))
	for topic, partitions := range ends {
		marks[topic] = make(map[int32]Watermark, len(partitions))
		for partition, end := range partitions {
			w := Watermark{High: end.Offset, Err: end.Err}
			start, ok := starts[topic][partition]
			switch {
			case !ok:
				if w.Err == nil {
					w.Err = errors.New("no start offset returned")
				}
			case start.Err != nil:
				if w.Err == nil {
					w.Err = start.Err
				}
			default:
				w.Low = start.Offset
			}
			marks[topic][partition] = w
		}
	}
	return marks, nil
}

func (a *kadmAdmin) CreateTopic(ctx context.Context, topic string, partitions int32, replicationFactor int16, configs map[string]string) error {
	var cfg map[string]*string
	if len(configs) > 0 {
		cfg = make(map[string]*string, len(configs))
		for k, v := range configs {
			cfg[k] = &v
		}
	}

	resps, err := a.admin.CreateTopics(ctx, partitions, replicationFactor, cfg, topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	if resp, ok := resps[topic]; ok && resp.Err != nil {
		return fmt.Errorf("create topic %s: %w", topic, resp.Err)
	}
	return nil
}

func (a *kadmAdmin) DeleteTopic(ctx context.Context, topic string) error {
	resps, err := a.admin.DeleteTopics(ctx, topic)
	if err != nil {
		return fmt.Errorf("delete topic %s: %w", topic, err)
	}
	if resp, ok := resps[topic]; ok && resp.Err != nil {
		return fmt.Errorf("delete topic %s: %w", topic, resp.Err)
	}
	return nil
}

func (a *kadmAdmin) ListGroups(ctx context.Context) ([]GroupSummary, error) {
	var groups kadm.ListedGroups
	if err := withRetry(ctx, "list consumer groups", func() error {
		var groupErr error
		groups, groupErr = a.admin.ListGroups(ctx)
		return groupErr
	}); err != nil {
		return nil, fmt.Errorf("failed to list consumer groups: %w", err)
	}

	out := make([]GroupSummary, 0, len(groups))
	for _, g := range groups {
		out = append(out, GroupSummary{
			Group:        g.Group,
			State:        g.State,
			ProtocolType: g.ProtocolType,
			Coordinator:  g.Coordinator,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Group < out[j].Group })
	return out, nil
}

func (a *kadmAdmin) DescribeGroup(ctx context.Context, group string) (GroupDescription, error) {
	described, err := a.admin.DescribeGroups(ctx, group)
	if err != nil {
		return GroupDescription{}, ClassifyGroupError(group, err)
	}

	dg, ok := described[group]
	if !ok {
		return GroupDescription{}, &errs.GroupStateError{Group: group, Reason: errs.ErrGroupNotFound}
	}
	if dg.Err != nil {
		return GroupDescription{}, ClassifyGroupError(group, dg.Err)
	}
	if dg.State == "Dead" {
		return GroupDescription{}, &errs.GroupStateError{Group: group, Reason: errs.ErrGroupNotFound}
	}

	desc := GroupDescription{
		Group:       dg.Group,
		State:       dg.State,
		Protocol:    dg.Protocol,
		Coordinator: dg.Coordinator.NodeID,
		Members:     make([]GroupMember, 0, len(dg.Members)),
	}
	for _, m := range dg.Members {
		member := GroupMember{
			MemberID:   m.MemberID,
			ClientID:   m.ClientID,
			ClientHost: m.ClientHost,
		}
		if assigned, ok := m.Assigned.AsConsumer(); ok {
			member.Assignments = make(map[string][]int32, len(assigned.Topics))
			for _, t := range assigned.Topics {
				member.Assignments[t.Topic] = t.Partitions
			}
		}
		desc.Members = append(desc.Members, member)
	}
	sort.Slice(desc.Members, func(i, j int) bool { return desc.Members[i].MemberID < desc.Members[j].MemberID })
	return desc, nil
}

func (a *kadmAdmin) CommittedOffsets(ctx context.Context, group string) (CommittedOffsets, error) {
	resps, err := a.admin.FetchOffsets(ctx, group)
	if err != nil {
		return nil, ClassifyGroupError(group, err)
	}

	out := make(CommittedOffsets)
	for topic, partitions := range resps {
		for partition, r := range partitions {
			if r.Err != nil {
				slog.Debug("skipping committed offset with error",
					"group", group, "topic", topic, "partition", partition, "error", r.Err)
				continue
			}
			out.Set(topic, partition, r.At)
		}
	}
	return out, nil
}

func (a *kadmAdmin) CommitOffsets(ctx context.Context, group string, offsets CommittedOffsets) error {
	toCommit := make(kadm.Offsets, len(offsets))
	for topic, partitions := range offsets {
		toCommit[topic] = make(map[int32]kadm.Offset, len(partitions))
		for partition, at := range partitions {
			toCommit[topic][partition] = kadm.Offset{
				Topic:       topic,
				Partition:   partition,
				At:          at,
				LeaderEpoch: -1,
			}
		}
	}

	resps, err := a.admin.CommitOffsets(ctx, group, toCommit)
	if err != nil {
		return ClassifyGroupError(group, err)
	}
	for _, partitions := range resps {
		for _, r := range partitions {
			if r.Err != nil {
				return ClassifyGroupError(group, r.Err)
			}
		}
	}
	return nil
}

func (a *kadmAdmin) DeleteGroup(ctx context.Context, group string) error {
	resps, err := a.admin.DeleteGroups(ctx, group)
	if err != nil {
		return ClassifyGroupError(group, err)
	}
	if resp, ok := resps[group]; ok && resp.Err != nil {
		return ClassifyGroupError(group, resp.Err)
	}
	return nil
}

// ClassifyGroupError maps broker group errors to a GroupStateError. Other
// errors are returned wrapped with the group name.
func ClassifyGroupError(group string, err error) error {
	var reason error
	switch {
	case errors.Is(err, kerr.CoordinatorNotAvailable),
		errors.Is(err, kerr.NotCoordinator),
		errors.Is(err, kerr.CoordinatorLoadInProgress):
		reason = errs.ErrCoordinatorUnavailable
	case errors.Is(err, kerr.NonEmptyGroup),
		errors.Is(err, kerr.UnknownMemberID),
		errors.Is(err, kerr.RebalanceInProgress),
		errors.Is(err, kerr.IllegalGeneration),
		errors.Is(err, kerr.FencedInstanceID):
		reason = errs.ErrGroupHasActiveMembers
	case errors.Is(err, kerr.GroupIDNotFound):
		reason = errs.ErrGroupNotFound
	default:
		return fmt.Errorf("consumer group %s: %w", group, err)
	}
	return &errs.GroupStateError{Group: group, Reason: reason, Err: err}
}
