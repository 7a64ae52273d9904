package reporter

import (
	"context"
	"encoding/json"
	"io"

	"github.com/ppiankov/kafkaconsole/internal/discovery"
	"github.com/ppiankov/kafkaconsole/internal/kafka"
	"github.com/ppiankov/kafkaconsole/internal/manager"
)

// JSONReporter generates JSON reports
type JSONReporter struct {
	writer io.Writer
	pretty bool
}

// NewJSONReporter creates a new JSON reporter
func NewJSONReporter(w io.Writer, pretty bool) *JSONReporter {
	return &JSONReporter{
		writer: w,
		pretty: pretty,
	}
}

func (r *JSONReporter) write(v any) error {
	var output []byte
	var err error

	if r.pretty {
		output, err = json.MarshalIndent(v, "", "  ")
	} else {
		output, err = json.Marshal(v)
	}

	if err != nil {
		return err
	}

	_, err = r.writer.Write(output)
	if err != nil {
		return err
	}

	// Add newline at the end
	_, err = r.writer.Write([]byte("\n"))
	return err
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func (r *JSONReporter) Clusters(_ context.Context, rows []ClusterRow) error {
	return r.write(nonNil(rows))
}

func (r *JSONReporter) ConnectionCheck(_ context.Context, check ConnectionCheck) error {
	return r.write(check)
}

func (r *JSONReporter) ManagedClusters(_ context.Context, clusters []discovery.ManagedCluster) error {
	return r.write(nonNil(clusters))
}

func (r *JSONReporter) Topics(_ context.Context, topics []kafka.TopicInfo) error {
	return r.write(nonNil(topics))
}

func (r *JSONReporter) TopicDetail(_ context.Context, detail *manager.TopicDetail) error {
	return r.write(detail)
}

func (r *JSONReporter) Groups(_ context.Context, groups []kafka.GroupSummary) error {
	return r.write(nonNil(groups))
}

func (r *JSONReporter) GroupDetail(_ context.Context, detail *manager.GroupDetail) error {
	return r.write(detail)
}

func (r *JSONReporter) Reset(_ context.Context, result *manager.ResetResult) error {
	return r.write(result)
}

func (r *JSONReporter) ACLs(_ context.Context, acls []manager.ACL) error {
	return r.write(nonNil(acls))
}

func (r *JSONReporter) Dashboard(_ context.Context, d *manager.Dashboard) error {
	return r.write(d)
}

// jsonRecord renders key and value as text rather than base64.
type jsonRecord struct {
	Topic     string            `json:"topic"`
	Partition int32             `json:"partition"`
	Offset    int64             `json:"offset"`
	Timestamp string            `json:"timestamp"`
	Key       string            `json:"key,omitempty"`
	Value     string            `json:"value"`
	Headers   map[string]string `json:"headers,omitempty"`
}

func (r *JSONReporter) Records(_ context.Context, records []kafka.Record) error {
	out := make([]jsonRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, jsonRecord{
			Topic:     rec.Topic,
			Partition: rec.Partition,
			Offset:    rec.Offset,
			Timestamp: rec.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
			Key:       string(rec.Key),
			Value:     string(rec.Value),
			Headers:   rec.Headers,
		})
	}
	return r.write(out)
}

func (r *JSONReporter) Produced(_ context.Context, record kafka.ProducedRecord) error {
	return r.write(record)
}
