package reporter

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/ppiankov/kafkaconsole/internal/discovery"
	"github.com/ppiankov/kafkaconsole/internal/kafka"
	"github.com/ppiankov/kafkaconsole/internal/manager"
)

const (
	ansiRed    = "\033[31m"
	ansiYellow = "\033[33m"
	ansiReset  = "\033[0m"
)

// TextReporter generates human-readable text reports
type TextReporter struct {
	writer io.Writer
	color  bool
}

// NewTextReporter creates a new text reporter
func NewTextReporter(w io.Writer) *TextReporter {
	return &TextReporter{writer: w}
}

// WithColor highlights warnings with ANSI colors.
func (r *TextReporter) WithColor(color bool) *TextReporter {
	r.color = color
	return r
}

func (r *TextReporter) paint(code, s string) string {
	if !r.color {
		return s
	}
	return code + s + ansiReset
}

// printer returns a writef that stops writing after the first error, and a
// func reporting that error.
func (r *TextReporter) printer() (func(format string, args ...any), func() error) {
	var writeErr error
	writef := func(format string, args ...any) {
		if writeErr != nil {
			return
		}
		_, writeErr = fmt.Fprintf(r.writer, format, args...)
	}
	return writef, func() error { return writeErr }
}

func (r *TextReporter) Clusters(_ context.Context, rows []ClusterRow) error {
	writef, done := r.printer()
	if len(rows) == 0 {
		writef("No clusters registered.\n")
		return done()
	}

	writef("Clusters: %d\n\n", len(rows))
	for _, row := range rows {
		writef("%s\n", row.Name)
		writef("  Kind:      %s\n", row.Kind)
		protocol := row.Protocol
		if row.Mechanism != "" {
			protocol += " (" + row.Mechanism + ")"
		}
		writef("  Security:  %s\n", protocol)
		if row.Region != "" {
			writef("  Region:    %s\n", row.Region)
		}
		if len(row.Brokers) > 0 {
			writef("  Brokers:   %s\n", strings.Join(row.Brokers, ","))
		}
		writef("  State:     %s\n", row.State)
		writef("\n")
	}
	return done()
}

func (r *TextReporter) ConnectionCheck(_ context.Context, check ConnectionCheck) error {
	writef, done := r.printer()
	if !check.OK {
		writef("%s: %s\n", check.Cluster, r.paint(ansiRed, "connection failed"))
		if check.Reason != "" {
			writef("  Reason: %s\n", check.Reason)
		}
		if check.Error != "" {
			writef("  Error:  %s\n", check.Error)
		}
		return done()
	}

	writef("%s: connected\n", check.Cluster)
	writef("Brokers: %d\n", len(check.Brokers))
	writeBrokers(writef, check.Brokers)
	return done()
}

func writeBrokers(writef func(string, ...any), brokers []kafka.BrokerInfo) {
	for _, broker := range brokers {
		writef("  - Broker %d: %s:%d", broker.ID, broker.Host, broker.Port)
		if broker.Rack != "" {
			writef(" (rack: %s)", broker.Rack)
		}
		writef("\n")
	}
}

func (r *TextReporter) ManagedClusters(_ context.Context, clusters []discovery.ManagedCluster) error {
	writef, done := r.printer()
	if len(clusters) == 0 {
		writef("No MSK clusters found.\n")
		return done()
	}
	for _, c := range clusters {
		writef("%s (%s, %s)\n", c.Name, c.Type, c.State)
		writef("  ARN: %s\n", c.ARN)
		if c.Version != "" {
			writef("  Kafka: %s\n", c.Version)
		}
		if !c.CreatedAt.IsZero() {
			writef("  Created: %s\n", c.CreatedAt.UTC().Format(time.RFC3339))
		}
	}
	return done()
}

func (r *TextReporter) Topics(_ context.Context, topics []kafka.TopicInfo) error {
	writef, done := r.printer()

	internal := 0
	for _, topic := range topics {
		if topic.Internal {
			internal++
		}
	}
	writef("Topics: %d total (%d user, %d internal)\n\n", len(topics), len(topics)-internal, internal)

	for _, topic := range topics {
		writef("  %s: partitions=%d replication=%d", topic.Name, topic.Partitions, topic.ReplicationFactor)
		if topic.Internal {
			writef(" (internal)")
		}
		writef("\n")
	}
	return done()
}

func (r *TextReporter) TopicDetail(_ context.Context, detail *manager.TopicDetail) error {
	writef, done := r.printer()

	writef("Topic: %s\n", detail.Name)
	writef("  Partitions:         %d\n", detail.Partitions)
	writef("  Replication Factor: %d\n", detail.ReplicationFactor)
	writef("  Messages:           %d\n", detail.MessageCount)

	if len(detail.Config) > 0 {
		keys := make([]string, 0, len(detail.Config))
		for k := range detail.Config {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		writef("  Config:\n")
		for _, k := range keys {
			writef("    %s = %s\n", k, detail.Config[k])
		}
	}

	writef("\n  Partition Details:\n")
	for _, p := range detail.PartitionDetails {
		writef("    [%d] leader=%d replicas=%v isr=%v", p.Partition, p.Leader, p.Replicas, p.ISR)
		if p.Error != "" {
			writef(" %s\n", r.paint(ansiYellow, "watermarks unavailable: "+p.Error))
			continue
		}
		writef(" low=%d high=%d messages=%d\n", p.Low, p.High, p.Messages)
	}
	return done()
}

func (r *TextReporter) Groups(_ context.Context, groups []kafka.GroupSummary) error {
	writef, done := r.printer()
	writef("Consumer Groups: %d\n\n", len(groups))
	for _, g := range groups {
		writef("  %s: state=%s coordinator=%d\n", g.Group, g.State, g.Coordinator)
	}
	return done()
}

func (r *TextReporter) GroupDetail(_ context.Context, detail *manager.GroupDetail) error {
	writef, done := r.printer()

	writef("Group: %s\n", detail.Group)
	writef("  State:       %s\n", detail.State)
	writef("  Coordinator: %d\n", detail.Coordinator)
	writef("  Members:     %d\n", len(detail.Members))
	for _, m := range detail.Members {
		writef("    - %s (%s @ %s)\n", m.MemberID, m.ClientID, m.ClientHost)
	}

	writef("\n  Total Lag: %d\n", detail.Lag.Total)
	for _, p := range detail.Lag.Partitions {
		lag := fmt.Sprintf("%d", p.Lag)
		if p.Lag > 0 {
			lag = r.paint(ansiYellow, lag)
		}
		writef("    %s[%d] committed=%d high=%d lag=%s\n", p.Topic, p.Partition, p.Committed, p.High, lag)
	}
	writeSkipped(writef, detail.Lag.Skipped)
	return done()
}

func writeSkipped(writef func(string, ...any), skipped []manager.SkippedPartition) {
	if len(skipped) == 0 {
		return
	}
	writef("\n  Skipped Partitions:\n")
	for _, s := range skipped {
		writef("    %s[%d]: %s\n", s.Topic, s.Partition, s.Reason)
	}
}

func (r *TextReporter) Reset(_ context.Context, result *manager.ResetResult) error {
	writef, done := r.printer()

	count := 0
	for _, parts := range result.Offsets {
		count += len(parts)
	}
	writef("Reset group %s to %s: %d partitions\n", result.Group, result.Strategy, count)

	topics := result.Offsets.Topics()
	sort.Strings(topics)
	for _, topic := range topics {
		parts := make([]int32, 0, len(result.Offsets[topic]))
		for p := range result.Offsets[topic] {
			parts = append(parts, p)
		}
		sort.Slice(parts, func(i, j int) bool { return parts[i] < parts[j] })
		for _, p := range parts {
			writef("  %s[%d] -> %d\n", topic, p, result.Offsets[topic][p])
		}
	}
	writeSkipped(writef, result.Skipped)
	return done()
}

func (r *TextReporter) ACLs(_ context.Context, acls []manager.ACL) error {
	writef, done := r.printer()
	writef("ACLs: %d\n\n", len(acls))
	for _, a := range acls {
		writef("  %s %s %s on %s:%s (%s) from %s\n",
			a.Permission, a.Principal, a.Operation, a.ResourceType, a.ResourceName, a.PatternType, a.Host)
	}
	return done()
}

func (r *TextReporter) Dashboard(_ context.Context, d *manager.Dashboard) error {
	writef, done := r.printer()

	writef("Kafka Cluster Overview: %s\n", d.Cluster)
	writef("======================\n\n")

	writef("Brokers: %d\n", len(d.Brokers))
	writeBrokers(writef, d.Brokers)
	writef("\n")

	writef("Topics:          %d\n", d.TopicCount)
	writef("Partitions:      %d\n", d.PartitionCount)
	writef("Consumer Groups: %d\n\n", d.GroupCount)

	for _, t := range d.Topics {
		writef("  %s: partitions=%d replication=%d", t.Name, t.Partitions, t.ReplicationFactor)
		if t.UnderReplicated > 0 {
			writef(" %s", r.paint(ansiRed, fmt.Sprintf("under-replicated=%d", t.UnderReplicated)))
		}
		writef("\n")
	}

	if len(d.DroppedTopics) > 0 {
		writef("\n%s %s\n", r.paint(ansiYellow, "Topics not described:"), strings.Join(d.DroppedTopics, ", "))
	}
	return done()
}

func (r *TextReporter) Records(_ context.Context, records []kafka.Record) error {
	writef, done := r.printer()
	for _, rec := range records {
		writef("%s[%d]@%d %s", rec.Topic, rec.Partition, rec.Offset, rec.Timestamp.UTC().Format(time.RFC3339))
		if len(rec.Key) > 0 {
			writef(" key=%s", rec.Key)
		}
		writef("\n  %s\n", rec.Value)
	}
	writef("%d records\n", len(records))
	return done()
}

func (r *TextReporter) Produced(_ context.Context, record kafka.ProducedRecord) error {
	writef, done := r.printer()
	writef("Produced to %s[%d] at offset %d\n", record.Topic, record.Partition, record.Offset)
	return done()
}
