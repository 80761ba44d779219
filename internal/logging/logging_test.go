package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNewJSONLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := New(Options{Level: slog.LevelInfo, Format: "json", Output: &buf})
	logger.Debug("hidden")
	logger.Info("order created", "order_number", "ORD-20260101-ABCDEFGH")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %d: %q", len(lines), buf.String())
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &record); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if record["order_number"] != "ORD-20260101-ABCDEFGH" {
		t.Fatalf("unexpected record: %v", record)
	}
}

func TestContextLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	ctx := With(context.Background(), base, "request_id", "req-1")
	FromContext(ctx, nil).Info("hello")
	if !strings.Contains(buf.String(), `"request_id":"req-1"`) {
		t.Fatalf("expected request id attr, got %q", buf.String())
	}

	if FromContext(context.Background(), nil) == nil {
		t.Fatal("expected a discard logger")
	}
}

func TestTeeFansOutByLevel(t *testing.T) {
	t.Parallel()

	var infoBuf, errBuf bytes.Buffer
	handler := newTee(
		slog.NewTextHandler(&infoBuf, &slog.HandlerOptions{Level: slog.LevelInfo}),
		nil,
		slog.NewTextHandler(&errBuf, &slog.HandlerOptions{Level: slog.LevelError}),
	)
	logger := slog.New(handler).With("component", "test")

	logger.Info("informational")
	logger.Error("broken")

	if strings.Count(infoBuf.String(), "component=test") != 2 {
		t.Fatalf("info handler missed records: %q", infoBuf.String())
	}
	if strings.Contains(errBuf.String(), "informational") || !strings.Contains(errBuf.String(), "broken") {
		t.Fatalf("error handler got wrong records: %q", errBuf.String())
	}
}
