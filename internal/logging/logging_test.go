package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, false, "text")
	logger.Info("hidden")
	logger.Warn("shown", "cluster", "prod")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info logged without verbose: %q", out)
	}
	if !strings.Contains(out, "cluster=prod") {
		t.Fatalf("warn missing: %q", out)
	}

	buf.Reset()
	New(&buf, true, "text").Debug("details")
	if !strings.Contains(buf.String(), "details") {
		t.Fatalf("debug missing with verbose: %q", buf.String())
	}
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, false, "JSON").Warn("connect failed", "cluster", "prod")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if entry["msg"] != "connect failed" || entry["cluster"] != "prod" {
		t.Fatalf("entry = %v", entry)
	}
}
