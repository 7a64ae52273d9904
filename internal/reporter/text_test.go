package reporter

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/kafkaconsole/internal/kafka"
	"github.com/ppiankov/kafkaconsole/internal/manager"
)

func assertContainsInOrder(t *testing.T, output string, want ...string) {
	t.Helper()
	pos := 0
	for _, w := range want {
		idx := strings.Index(output[pos:], w)
		if idx < 0 {
			t.Fatalf("expected %q after offset %d in output:\n%s", w, pos, output)
		}
		pos += idx + len(w)
	}
}

func TestTextReporterDashboard(t *testing.T) {
	var buf bytes.Buffer
	d := &manager.Dashboard{
		Cluster: "prod",
		Brokers: []kafka.BrokerInfo{
			{ID: 1, Host: "b-1", Port: 9092, Rack: "use1-az1"},
			{ID: 2, Host: "b-2", Port: 9092},
		},
		TopicCount:     2,
		PartitionCount: 4,
		GroupCount:     3,
		Topics: []manager.TopicSummary{
			{Name: "alpha", Partitions: 3, ReplicationFactor: 2, UnderReplicated: 1},
			{Name: "beta", Partitions: 1, ReplicationFactor: 2},
		},
		DroppedTopics: []string{"gamma"},
	}

	if err := NewTextReporter(&buf).Dashboard(context.Background(), d); err != nil {
		t.Fatalf("Dashboard() error = %v", err)
	}

	out := buf.String()
	assertContainsInOrder(t, out,
		"Kafka Cluster Overview: prod",
		"Brokers: 2",
		"Broker 1: b-1:9092 (rack: use1-az1)",
		"Broker 2: b-2:9092",
		"Topics:          2",
		"Partitions:      4",
		"Consumer Groups: 3",
		"alpha: partitions=3 replication=2 under-replicated=1",
		"beta: partitions=1 replication=2",
		"Topics not described: gamma",
	)
	if strings.Contains(out, "\033[") {
		t.Fatalf("expected no ANSI codes without color, got %q", out)
	}
}

func TestTextReporterColor(t *testing.T) {
	var buf bytes.Buffer
	d := &manager.Dashboard{
		Cluster: "prod",
		Topics:  []manager.TopicSummary{{Name: "alpha", Partitions: 1, ReplicationFactor: 3, UnderReplicated: 1}},
	}

	if err := NewTextReporter(&buf).WithColor(true).Dashboard(context.Background(), d); err != nil {
		t.Fatalf("Dashboard() error = %v", err)
	}
	if !strings.Contains(buf.String(), ansiRed+"under-replicated=1"+ansiReset) {
		t.Fatalf("expected colored under-replicated marker, got %q", buf.String())
	}
}

func TestTextReporterGroupDetail(t *testing.T) {
	var buf bytes.Buffer
	detail := &manager.GroupDetail{
		GroupDescription: kafka.GroupDescription{
			Group:       "billing",
			State:       "Stable",
			Coordinator: 2,
			Members:     []kafka.GroupMember{{MemberID: "m-1", ClientID: "svc", ClientHost: "/10.0.0.1"}},
		},
		Lag: manager.LagReport{
			Partitions: []manager.PartitionLag{
				{Topic: "orders", Partition: 0, Committed: 90, High: 100, Lag: 10},
				{Topic: "orders", Partition: 1, Committed: 50, High: 50, Lag: 0},
			},
			Total:   10,
			Skipped: []manager.SkippedPartition{{Topic: "orders", Partition: 2, Reason: "watermark unavailable"}},
		},
	}

	if err := NewTextReporter(&buf).GroupDetail(context.Background(), detail); err != nil {
		t.Fatalf("GroupDetail() error = %v", err)
	}

	assertContainsInOrder(t, buf.String(),
		"Group: billing",
		"State:       Stable",
		"Members:     1",
		"m-1 (svc @ /10.0.0.1)",
		"Total Lag: 10",
		"orders[0] committed=90 high=100 lag=10",
		"orders[1] committed=50 high=50 lag=0",
		"Skipped Partitions:",
		"orders[2]: watermark unavailable",
	)
}

func TestTextReporterTopicDetail(t *testing.T) {
	var buf bytes.Buffer
	detail := &manager.TopicDetail{
		TopicInfo: kafka.TopicInfo{
			Name:              "orders",
			Partitions:        2,
			ReplicationFactor: 3,
			Config:            map[string]string{"retention.ms": "1000", "cleanup.policy": "delete"},
		},
		PartitionDetails: []manager.PartitionDetail{
			{PartitionInfo: kafka.PartitionInfo{Partition: 0, Leader: 1, Replicas: []int32{1, 2, 3}, ISR: []int32{1, 2, 3}}, Low: 5, High: 15, Messages: 10},
			{PartitionInfo: kafka.PartitionInfo{Partition: 1, Leader: 2}, Error: "NOT_LEADER_OR_FOLLOWER"},
		},
		MessageCount: 10,
	}

	if err := NewTextReporter(&buf).TopicDetail(context.Background(), detail); err != nil {
		t.Fatalf("TopicDetail() error = %v", err)
	}

	assertContainsInOrder(t, buf.String(),
		"Topic: orders",
		"Messages:           10",
		"cleanup.policy = delete",
		"retention.ms = 1000",
		"[0] leader=1 replicas=[1 2 3] isr=[1 2 3] low=5 high=15 messages=10",
		"[1] leader=2",
		"watermarks unavailable: NOT_LEADER_OR_FOLLOWER",
	)
}

func TestTextReporterReset(t *testing.T) {
	var buf bytes.Buffer
	offsets := kafka.CommittedOffsets{}
	offsets.Set("orders", 1, 40)
	offsets.Set("orders", 0, 30)
	offsets.Set("audit", 0, 7)

	result := &manager.ResetResult{Group: "billing", Strategy: manager.ResetEnd, Offsets: offsets}
	if err := NewTextReporter(&buf).Reset(context.Background(), result); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}

	assertContainsInOrder(t, buf.String(),
		"Reset group billing to end: 3 partitions",
		"audit[0] -> 7",
		"orders[0] -> 30",
		"orders[1] -> 40",
	)
}

func TestTextReporterEmptyClusters(t *testing.T) {
	var buf bytes.Buffer
	if err := NewTextReporter(&buf).Clusters(context.Background(), nil); err != nil {
		t.Fatalf("Clusters() error = %v", err)
	}
	if got := buf.String(); got != "No clusters registered.\n" {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestTextReporterConnectionCheckFailure(t *testing.T) {
	var buf bytes.Buffer
	check := ConnectionCheck{Cluster: "prod", Reason: "auth", Error: "SASL authentication failed"}
	if err := NewTextReporter(&buf).ConnectionCheck(context.Background(), check); err != nil {
		t.Fatalf("ConnectionCheck() error = %v", err)
	}
	assertContainsInOrder(t, buf.String(), "prod: connection failed", "Reason: auth", "Error:  SASL authentication failed")
}

func TestTextReporterRecords(t *testing.T) {
	var buf bytes.Buffer
	records := []kafka.Record{
		{Topic: "orders", Partition: 0, Offset: 4, Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), Key: []byte("k1"), Value: []byte("hello")},
		{Topic: "orders", Partition: 1, Offset: 9, Timestamp: time.Date(2024, 1, 2, 3, 4, 6, 0, time.UTC), Value: []byte("world")},
	}
	if err := NewTextReporter(&buf).Records(context.Background(), records); err != nil {
		t.Fatalf("Records() error = %v", err)
	}
	assertContainsInOrder(t, buf.String(),
		"orders[0]@4 2024-01-02T03:04:05Z key=k1",
		"hello",
		"orders[1]@9 2024-01-02T03:04:06Z",
		"world",
		"2 records",
	)
}

type failingWriter struct{ calls int }

func (w *failingWriter) Write(p []byte) (int, error) {
	w.calls++
	return 0, errors.New("disk full")
}

func TestTextReporterStopsAfterWriteError(t *testing.T) {
	w := &failingWriter{}
	topics := []kafka.TopicInfo{{Name: "a"}, {Name: "b"}, {Name: "c"}}

	err := NewTextReporter(w).Topics(context.Background(), topics)
	if err == nil || err.Error() != "disk full" {
		t.Fatalf("expected disk full error, got %v", err)
	}
	if w.calls != 1 {
		t.Fatalf("expected writes to stop after first failure, got %d calls", w.calls)
	}
}
