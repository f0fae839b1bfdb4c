package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func newCaptureLogger(t *testing.T) (*Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	return NewLogger(LogConfig{Level: "debug", Format: "json", Output: &buf}), &buf
}

func lastRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var record map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &record); err != nil {
		t.Fatalf("parse log line %q: %v", lines[len(lines)-1], err)
	}
	return record
}

func TestRedactsSensitiveKeys(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"apiKey", "apiKey"},
		{"api_key", "api_key"},
		{"authorization", "authorization"},
		{"password", "password"},
		{"secret", "secret"},
		{"nested path", "provider.api_key"},
		{"case insensitive", "Authorization"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, buf := newCaptureLogger(t)
			logger.Info(context.Background(), "configured", tt.key, "sk-ant-abc123def456ghi789")
			record := lastRecord(t, buf)
			if record[tt.key] != "[REDACTED]" {
				t.Fatalf("key %q not redacted: %v", tt.key, record[tt.key])
			}
		})
	}
}

func TestRedactsSecretShapedStrings(t *testing.T) {
	logger, buf := newCaptureLogger(t)
	logger.Error(context.Background(), "provider call failed",
		"detail", "request with api_key=sk1234567890abcdef1234 was rejected")
	out := buf.String()
	if strings.Contains(out, "sk1234567890abcdef1234") {
		t.Fatalf("secret leaked into log output: %s", out)
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Fatalf("expected redaction marker in output: %s", out)
	}
}

func TestRedactsNestedMapValues(t *testing.T) {
	logger, buf := newCaptureLogger(t)
	logger.Info(context.Background(), "tool input", "input", map[string]any{
		"query":  "weather",
		"secret": "hunter2-hunter2",
	})
	out := buf.String()
	if strings.Contains(out, "hunter2") {
		t.Fatalf("nested secret leaked: %s", out)
	}
	record := lastRecord(t, buf)
	input, ok := record["input"].(map[string]any)
	if !ok {
		t.Fatalf("input attr lost: %v", record["input"])
	}
	if input["query"] != "weather" {
		t.Fatalf("non-secret value mangled: %v", input["query"])
	}
}

func TestContextCorrelationFields(t *testing.T) {
	logger, buf := newCaptureLogger(t)
	ctx := WithProjectID(context.Background(), "proj_a")
	ctx = WithSessionID(ctx, "sess_1")
	ctx = WithTraceID(ctx, "tr_1")
	logger.Info(ctx, "turn started")

	record := lastRecord(t, buf)
	if record["project_id"] != "proj_a" || record["session_id"] != "sess_1" || record["trace_id"] != "tr_1" {
		t.Fatalf("correlation fields missing: %v", record)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "json", Output: &buf})
	logger.Debug(context.Background(), "noise")
	logger.Info(context.Background(), "also noise")
	if buf.Len() != 0 {
		t.Fatalf("below-level records written: %s", buf.String())
	}
	logger.Warn(context.Background(), "kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Fatalf("warn record missing: %s", buf.String())
	}
}

func TestWithFieldsCarriesAttrs(t *testing.T) {
	logger, buf := newCaptureLogger(t)
	child := logger.WithFields("component", "runner")
	child.Info(context.Background(), "started")
	record := lastRecord(t, buf)
	if record["component"] != "runner" {
		t.Fatalf("WithFields attr missing: %v", record)
	}
}
