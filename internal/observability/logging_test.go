package observability

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf})

	logger.Info("hello", "conn_id", "c1")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not json: %v\n%s", err, buf.String())
	}
	if record["msg"] != "hello" || record["conn_id"] != "c1" {
		t.Errorf("record = %v", record)
	}
}

func TestNewLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Output: &buf})

	logger.Info("suppressed")
	logger.Warn("kept")

	out := buf.String()
	if strings.Contains(out, "suppressed") {
		t.Error("info record emitted at warn level")
	}
	if !strings.Contains(out, "kept") {
		t.Error("warn record missing")
	}
}

func TestNewLoggerTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Format: "text", Output: &buf})

	logger.Info("hello")
	if json.Valid(buf.Bytes()) {
		t.Error("text format produced json output")
	}
}

func TestNewLoggerBadLevelFallsBack(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "loud", Output: &buf})

	logger.Info("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Error("invalid level did not fall back to info")
	}
}
