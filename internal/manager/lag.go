package manager

import (
	"sort"

	"github.com/ppiankov/kafkaconsole/internal/kafka"
)

// PartitionLag is the lag of one partition.
type PartitionLag struct {
	Topic     string `json:"topic"`
	Partition int32  `json:"partition"`
	Committed int64  `json:"committed"`
	High      int64  `json:"high"`
	Lag       int64  `json:"lag"`
}

// SkippedPartition is a partition left out of a computation.
type SkippedPartition struct {
	Topic     string `json:"topic"`
	Partition int32  `json:"partition"`
	Reason    string `json:"reason"`
}

// LagReport is the lag of a group across its committed partitions.
// Partitions without a usable watermark are listed in Skipped and excluded
// from Total.
type LagReport struct {
	Partitions []PartitionLag     `json:"partitions"`
	Total      int64              `json:"total"`
	Skipped    []SkippedPartition `json:"skipped_partitions,omitempty"`
}

// ComputeLag computes max(0, high-committed) for every committed partition.
// A partition with no commit (negative offset) lags from its low watermark.
func ComputeLag(committed kafka.CommittedOffsets, marks kafka.Watermarks) LagReport {
	var report LagReport
	for topic, partitions := range committed {
		for partition, offset := range partitions {
			mark, ok := marks[topic][partition]
			if !ok {
				report.Skipped = append(report.Skipped, SkippedPartition{Topic: topic, Partition: partition, Reason: "watermark unavailable"})
				continue
			}
			if mark.Err != nil {
				report.Skipped = append(report.Skipped, SkippedPartition{Topic: topic, Partition: partition, Reason: mark.Err.Error()})
				continue
			}

			from := offset
			if from < 0 {
				from = mark.Low
			}
			lag := max(0, mark.High-from)
			report.Partitions = append(report.Partitions, PartitionLag{
				Topic:     topic,
				Partition: partition,
				Committed: offset,
				High:      mark.High,
				Lag:       lag,
			})
			report.Total += lag
		}
	}

	sort.Slice(report.Partitions, func(i, j int) bool {
		a, b := report.Partitions[i], report.Partitions[j]
		if a.Topic != b.Topic {
			return a.Topic < b.Topic
		}
		return a.Partition < b.Partition
	})
	sortSkipped(report.Skipped)
	return report
}

func sortSkipped(s []SkippedPartition) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].Topic != s[j].Topic {
			return s[i].Topic < s[j].Topic
		}
		return s[i].Partition < s[j].Partition
	})
}
