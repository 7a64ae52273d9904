package manager

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ppiankov/kafkaconsole/internal/errs"
	"github.com/ppiankov/kafkaconsole/internal/kafka"
)

// GroupDetail is a group's membership with its lag.
type GroupDetail struct {
	kafka.GroupDescription
	Lag LagReport `json:"lag"`
}

// ListConsumerGroups lists the consumer groups of a cluster.
func (m *Manager) ListConsumerGroups(ctx context.Context, name string) ([]kafka.GroupSummary, error) {
	admin, err := m.admin(ctx, name)
	if err != nil {
		return nil, err
	}
	groups, err := admin.ListGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("list groups of %s: %w", name, err)
	}
	return groups, nil
}

// GetConsumerGroupDetail describes a group and computes its lag.
func (m *Manager) GetConsumerGroupDetail(ctx context.Context, name, group string) (*GroupDetail, error) {
	admin, err := m.admin(ctx, name)
	if err != nil {
		return nil, err
	}

	desc, err := admin.DescribeGroup(ctx, group)
	if err != nil {
		return nil, err
	}
	committed, err := admin.CommittedOffsets(ctx, group)
	if err != nil {
		return nil, err
	}

	detail := &GroupDetail{GroupDescription: desc}
	topics := committed.Topics()
	if len(topics) == 0 {
		return detail, nil
	}
	marks, err := admin.Watermarks(ctx, topics...)
	if err != nil {
		return nil, fmt.Errorf("watermarks for group %s: %w", group, err)
	}

	detail.Lag = ComputeLag(committed, marks)
	if len(detail.Lag.Skipped) > 0 {
		slog.Warn("lag is incomplete", "cluster", name, "group", group, "skipped", len(detail.Lag.Skipped))
	}
	return detail, nil
}

// DeleteConsumerGroup deletes a group. A group with active members or an
// unavailable coordinator fails with a retryable GroupStateError.
func (m *Manager) DeleteConsumerGroup(ctx context.Context, name, group string) error {
	admin, err := m.admin(ctx, name)
	if err != nil {
		return err
	}
	return admin.DeleteGroup(ctx, group)
}

// ResetConsumerGroupOffsets commits new offsets for a group according to the
// request's strategy. Partitions whose watermarks cannot be read are skipped.
func (m *Manager) ResetConsumerGroupOffsets(ctx context.Context, name string, req ResetRequest) (*ResetResult, error) {
	if req.Group == "" {
		return nil, &errs.ConfigError{Cluster: name, Field: "group", Message: "is required"}
	}
	admin, err := m.admin(ctx, name)
	if err != nil {
		return nil, err
	}

	strategy := resolveStrategy(req.Group, req.Strategy)
	result := &ResetResult{Group: req.Group, Strategy: strategy, Offsets: make(kafka.CommittedOffsets)}

	var committed kafka.CommittedOffsets
	if req.Topic == "" {
		committed, err = admin.CommittedOffsets(ctx, req.Group)
		if err != nil {
			return nil, err
		}
	}
	topics := resetTargets(req, committed)
	if len(topics) == 0 {
		slog.Info("group has no committed offsets, nothing to reset", "cluster", name, "group", req.Group)
		return result, nil
	}

	marks, err := admin.Watermarks(ctx, topics...)
	if err != nil {
		return nil, fmt.Errorf("watermarks for group %s: %w", req.Group, err)
	}
	result.Offsets, result.Skipped = PlanReset(strategy, req.Offset, marks)
	if len(result.Offsets) == 0 {
		return result, nil
	}

	if err := admin.CommitOffsets(ctx, req.Group, result.Offsets); err != nil {
		return nil, err
	}
	slog.Debug("offsets reset", "cluster", name, "group", req.Group, "strategy", strategy, "topics", len(result.Offsets))
	return result, nil
}
