// Package trace 在 context 中携带请求的 trace ID，日志行统一带 TRACE=id 前缀。
package trace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
)

type ctxKey struct{}

// Header HTTP 请求头中的 trace ID
const Header = "X-Trace-Id"

func WithTraceID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = NewTraceID()
	}
	return context.WithValue(ctx, ctxKey{}, id)
}

func TraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(ctxKey{}).(string); ok {
		return id
	}
	return ""
}

func NewTraceID() string {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "0"
	}
	return hex.EncodeToString(b)
}

// Log 输出 TRACE=id | [LEVEL][tag] msg，无 trace 时 id 为 "-"
func Log(ctx context.Context, level, tag, format string, args ...any) {
	id := TraceID(ctx)
	if id == "" {
		id = "-"
	}
	log.Printf("TRACE=%s | [%s][%s] %s", id, level, tag, fmt.Sprintf(format, args...))
}

func Info(ctx context.Context, tag, format string, args ...any) {
	Log(ctx, "INFO", tag, format, args...)
}

func Warn(ctx context.Context, tag, format string, args ...any) {
	Log(ctx, "WARN", tag, format, args...)
}

func Error(ctx context.Context, tag, format string, args ...any) {
	Log(ctx, "ERROR", tag, format, args...)
}
