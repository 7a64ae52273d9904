package reporter

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ppiankov/kafkaconsole/internal/discovery"
	"github.com/ppiankov/kafkaconsole/internal/kafka"
	"github.com/ppiankov/kafkaconsole/internal/manager"
)

// ClusterRow is one line of the cluster listing.
type ClusterRow struct {
	Name      string   `json:"name"`
	Kind      string   `json:"kind"`
	Protocol  string   `json:"security_protocol"`
	Mechanism string   `json:"sasl_mechanism,omitempty"`
	Brokers   []string `json:"brokers,omitempty"`
	Region    string   `json:"region,omitempty"`
	State     string   `json:"state"`
}

// ConnectionCheck is the outcome of a connection test.
type ConnectionCheck struct {
	Cluster string             `json:"cluster"`
	OK      bool               `json:"ok"`
	Reason  string             `json:"reason,omitempty"`
	Error   string             `json:"error,omitempty"`
	Brokers []kafka.BrokerInfo `json:"brokers,omitempty"`
}

// Reporter renders command results.
type Reporter interface {
	Clusters(ctx context.Context, rows []ClusterRow) error
	ConnectionCheck(ctx context.Context, check ConnectionCheck) error
	ManagedClusters(ctx context.Context, clusters []discovery.ManagedCluster) error
	Topics(ctx context.Context, topics []kafka.TopicInfo) error
	TopicDetail(ctx context.Context, detail *manager.TopicDetail) error
	Groups(ctx context.Context, groups []kafka.GroupSummary) error
	GroupDetail(ctx context.Context, detail *manager.GroupDetail) error
	Reset(ctx context.Context, result *manager.ResetResult) error
	ACLs(ctx context.Context, acls []manager.ACL) error
	Dashboard(ctx context.Context, d *manager.Dashboard) error
	Records(ctx context.Context, records []kafka.Record) error
	Produced(ctx context.Context, record kafka.ProducedRecord) error
}

// New returns the reporter for an output format.
func New(format string, w io.Writer) (Reporter, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		return NewTextReporter(w), nil
	case "json":
		return NewJSONReporter(w, true), nil
	default:
		return nil, fmt.Errorf("invalid output format %q (expected json or text)", format)
	}
}
