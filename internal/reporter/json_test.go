package reporter

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/kafkaconsole/internal/kafka"
	"github.com/ppiankov/kafkaconsole/internal/manager"
)

func TestJSONReporterEmptyListsAreArrays(t *testing.T) {
	var buf bytes.Buffer
	r := NewJSONReporter(&buf, false)

	if err := r.Topics(context.Background(), nil); err != nil {
		t.Fatalf("Topics() error = %v", err)
	}
	if got := buf.String(); got != "[]\n" {
		t.Fatalf("expected empty array, got %q", got)
	}
}

func TestJSONReporterACLs(t *testing.T) {
	var buf bytes.Buffer
	acls := []manager.ACL{{
		ResourceType: manager.ResourceTopic,
		ResourceName: "orders",
		PatternType:  manager.PatternLiteral,
		Principal:    "User:alice",
		Host:         "*",
		Operation:    manager.OperationRead,
		Permission:   manager.PermissionAllow,
	}}

	if err := NewJSONReporter(&buf, true).ACLs(context.Background(), acls); err != nil {
		t.Fatalf("ACLs() error = %v", err)
	}

	var decoded []map[string]string
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if len(decoded) != 1 {
		t.Fatalf("expected one ACL, got %d", len(decoded))
	}
	want := map[string]string{
		"resource_type": "topic",
		"resource_name": "orders",
		"pattern_type":  "literal",
		"principal":     "User:alice",
		"host":          "*",
		"operation":     "read",
		"permission":    "allow",
	}
	for k, v := range want {
		if decoded[0][k] != v {
			t.Fatalf("%s = %q, want %q", k, decoded[0][k], v)
		}
	}
	if !strings.Contains(buf.String(), "\n  ") {
		t.Fatalf("expected indented output, got %q", buf.String())
	}
}

func TestJSONReporterRecordsAsText(t *testing.T) {
	var buf bytes.Buffer
	records := []kafka.Record{{
		Topic:     "orders",
		Partition: 2,
		Offset:    11,
		Timestamp: time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC),
		Key:       []byte("id-1"),
		Value:     []byte(`{"total":5}`),
		Headers:   map[string]string{"trace": "abc"},
	}}

	if err := NewJSONReporter(&buf, false).Records(context.Background(), records); err != nil {
		t.Fatalf("Records() error = %v", err)
	}

	var decoded []jsonRecord
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	got := decoded[0]
	if got.Key != "id-1" || got.Value != `{"total":5}` || got.Headers["trace"] != "abc" {
		t.Fatalf("unexpected record %+v", got)
	}
	if got.Timestamp != "2024-05-06T07:08:09.000Z" {
		t.Fatalf("timestamp = %q", got.Timestamp)
	}
}

func TestJSONReporterGroupDetailFlattensDescription(t *testing.T) {
	var buf bytes.Buffer
	detail := &manager.GroupDetail{
		GroupDescription: kafka.GroupDescription{Group: "billing", State: "Empty"},
		Lag:              manager.LagReport{Total: 42},
	}
	if err := NewJSONReporter(&buf, false).GroupDetail(context.Background(), detail); err != nil {
		t.Fatalf("GroupDetail() error = %v", err)
	}

	var decoded struct {
		Group string `json:"group"`
		Lag   struct {
			Total int64 `json:"total"`
		} `json:"lag"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if decoded.Group != "billing" || decoded.Lag.Total != 42 {
		t.Fatalf("unexpected decoded detail %+v", decoded)
	}
}

func TestNewReporterFormats(t *testing.T) {
	var buf bytes.Buffer
	cases := []struct {
		format  string
		wantErr bool
	}{
		{format: "", wantErr: false},
		{format: "text", wantErr: false},
		{format: " JSON ", wantErr: false},
		{format: "sarif", wantErr: true},
	}
	for _, tc := range cases {
		_, err := New(tc.format, &buf)
		if (err != nil) != tc.wantErr {
			t.Fatalf("New(%q) error = %v, wantErr %v", tc.format, err, tc.wantErr)
		}
	}
}
