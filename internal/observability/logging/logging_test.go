package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
)

func TestNewHonorsLevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "warn", Writer: &buf, Format: "json"})

	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected info record to be filtered, got %q", buf.String())
	}

	logger.Warn("kept", "component", "test")
	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("expected JSON output: %v", err)
	}
	if record["msg"] != "kept" {
		t.Fatalf("unexpected record: %v", record)
	}
}

func TestWithContextAnnotatesRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf, Format: "json"})

	ctx := ContextWithRequestID(context.Background(), "req-123")
	WithContext(ctx, logger).Info("hello")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if record["request_id"] != "req-123" {
		t.Fatalf("expected request_id annotation, got %v", record)
	}
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "  ")
	if _, ok := RequestIDFromContext(ctx); ok {
		t.Fatal("blank request id should not be stored")
	}

	ctx = ContextWithRequestID(context.Background(), "abc")
	id, ok := RequestIDFromContext(ctx)
	if !ok || id != "abc" {
		t.Fatalf("expected abc, got %q (%v)", id, ok)
	}
}
