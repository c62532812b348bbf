package trace

import (
	"bytes"
	"context"
	"log"
	"os"
	"strings"
	"testing"
)

func TestLogCarriesTraceID(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	ctx := WithTraceID(context.Background(), "abc123")
	Info(ctx, "Ambush", "分析 %s", "600001")
	if got := buf.String(); !strings.Contains(got, "TRACE=abc123 | [INFO][Ambush] 分析 600001") {
		t.Fatalf("unexpected log line: %q", got)
	}

	buf.Reset()
	Warn(context.Background(), "Ambush", "无 trace")
	if got := buf.String(); !strings.Contains(got, "TRACE=- | [WARN][Ambush]") {
		t.Fatalf("unexpected log line: %q", got)
	}
}

func TestWithTraceIDGeneratesWhenEmpty(t *testing.T) {
	ctx := WithTraceID(context.Background(), "")
	if id := TraceID(ctx); len(id) != 12 {
		t.Fatalf("expected generated 12-char id, got %q", id)
	}
}
