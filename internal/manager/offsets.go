package manager

import (
	"log/slog"
	"strings"

	"github.com/ppiankov/kafkaconsole/internal/kafka"
)

// ResetStrategy selects the target offset of a reset.
type ResetStrategy string

const (
	ResetBeginning ResetStrategy = "beginning"
	ResetEnd       ResetStrategy = "end"
	ResetSpecific  ResetStrategy = "specific"
)

// ParseResetStrategy maps a strategy name to a ResetStrategy. Unknown names
// fall back to ResetBeginning; ok reports whether s was recognised.
func ParseResetStrategy(s string) (strategy ResetStrategy, ok bool) {
	switch ResetStrategy(strings.ToLower(strings.TrimSpace(s))) {
	case ResetBeginning, "earliest":
		return ResetBeginning, true
	case ResetEnd, "latest":
		return ResetEnd, true
	case ResetSpecific, "offset":
		return ResetSpecific, true
	default:
		return ResetBeginning, false
	}
}

// ResetRequest describes an offset reset for a group. An empty Topic resets
// every topic the group has committed offsets for.
type ResetRequest struct {
	Group    string
	Topic    string
	Strategy string
	Offset   int64
}

// ResetResult reports the committed offsets and the partitions left alone.
type ResetResult struct {
	Group    string                 `json:"group"`
	Strategy ResetStrategy          `json:"strategy"`
	Offsets  kafka.CommittedOffsets `json:"offsets"`
	Skipped  []SkippedPartition     `json:"skipped_partitions,omitempty"`
}

// PlanReset computes the target offset of every partition in marks.
func PlanReset(strategy ResetStrategy, literal int64, marks kafka.Watermarks) (kafka.CommittedOffsets, []SkippedPartition) {
	offsets := make(kafka.CommittedOffsets)
	var skipped []SkippedPartition
	for topic, partitions := range marks {
		for partition, mark := range partitions {
			if mark.Err != nil {
				skipped = append(skipped, SkippedPartition{Topic: topic, Partition: partition, Reason: mark.Err.Error()})
				continue
			}
			switch strategy {
			case ResetEnd:
				offsets.Set(topic, partition, mark.High)
			case ResetSpecific:
				offsets.Set(topic, partition, literal)
			default:
				offsets.Set(topic, partition, mark.Low)
			}
		}
	}
	sortSkipped(skipped)
	return offsets, skipped
}

func resetTargets(req ResetRequest, committed kafka.CommittedOffsets) []string {
	if req.Topic != "" {
		return []string{req.Topic}
	}
	return committed.Topics()
}

func resolveStrategy(group, s string) ResetStrategy {
	strategy, ok := ParseResetStrategy(s)
	if !ok {
		slog.Warn("unknown reset strategy, using beginning", "group", group, "strategy", s)
	}
	return strategy
}
