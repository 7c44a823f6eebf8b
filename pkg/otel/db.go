package otel

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// DBSpan 为数据库操作创建 span
func DBSpan(ctx context.Context, operation string, table string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "db."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.DBSystemPostgreSQL,
			semconv.DBOperationKey.String(operation),
			attribute.String("db.sql.table", table),
		),
	)
}

// WrapDBError 记录数据库错误到 span
func WrapDBError(span trace.Span, err error) {
	switch {
	case err == nil:
		span.SetStatus(codes.Ok, "")
	case errors.Is(err, pgx.ErrNoRows):
		span.SetStatus(codes.Ok, "no rows")
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// WithDBSpan 包装一次数据库操作，自动添加追踪
func WithDBSpan(ctx context.Context, operation, table string, fn func(context.Context) error) error {
	ctx, span := DBSpan(ctx, operation, table)
	defer span.End()

	err := fn(ctx)
	WrapDBError(span, err)
	return err
}
