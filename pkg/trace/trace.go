package trace

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey struct{}

// GenerateTraceID 生成一个新的 trace ID（32 位十六进制，无连字符）
func GenerateTraceID() string {
	id := uuid.New()
	const hex = "0123456789abcdef"
	out := make([]byte, 32)
	for i, b := range id {
		out[i*2] = hex[b>>4]
		out[i*2+1] = hex[b&0x0f]
	}
	return string(out)
}

// FromContext 从 context 中获取 trace_id
func FromContext(ctx context.Context) string {
	if traceID, ok := ctx.Value(ctxKey{}).(string); ok {
		return traceID
	}
	return ""
}

// WithContext 将 trace_id 添加到 context 中
func WithContext(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, traceID)
}

// Ensure returns ctx carrying a trace id, generating one when absent.
func Ensure(ctx context.Context) (context.Context, string) {
	if id := FromContext(ctx); id != "" {
		return ctx, id
	}
	id := GenerateTraceID()
	return WithContext(ctx, id), id
}

// HeaderName 返回 trace ID 的 HTTP header 名称
func HeaderName() string {
	return "X-Trace-ID"
}
