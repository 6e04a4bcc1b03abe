package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewJSONLoggerTagsServiceAndFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLoggerTo(&buf, "caseindex-worker", "warn")

	logger.Info("retry_replayed", "case_id", "c1")
	if buf.Len() != 0 {
		t.Fatalf("info record should be filtered, got %s", buf.String())
	}

	logger.Warn("search_leg_failed", "leg", "semantic")
	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if record["service"] != "caseindex-worker" || record["msg"] != "search_leg_failed" || record["leg"] != "semantic" {
		t.Fatalf("unexpected record %v", record)
	}
}
