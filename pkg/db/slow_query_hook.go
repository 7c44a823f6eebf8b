package db

import (
	"context"
	"strings"
	"time"

	"buildtrack/pkg/metrics"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

type queryStartKey struct{}

type queryStart struct {
	at  time.Time
	sql string
}

// SlowQueryTracer 慢查询监控 Tracer
type SlowQueryTracer struct {
	logger        *zap.Logger
	slowThreshold time.Duration // 慢查询阈值，默认 100ms
}

// NewSlowQueryTracer 创建慢查询 Tracer
func NewSlowQueryTracer(logger *zap.Logger, slowThreshold time.Duration) *SlowQueryTracer {
	if slowThreshold == 0 {
		slowThreshold = 100 * time.Millisecond
	}
	return &SlowQueryTracer{
		logger:        logger,
		slowThreshold: slowThreshold,
	}
}

// TraceQueryStart 查询开始时的钩子
func (t *SlowQueryTracer) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, queryStartKey{}, queryStart{at: time.Now(), sql: data.SQL})
}

// TraceQueryEnd 查询结束时的钩子
func (t *SlowQueryTracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	start, ok := ctx.Value(queryStartKey{}).(queryStart)
	if !ok {
		return
	}

	duration := time.Since(start.at)
	op, table := describeSQL(start.sql)
	metrics.RecordDBQueryDuration(op, table, duration)

	if duration <= t.slowThreshold {
		return
	}

	// 截断 SQL 语句（避免日志过长）
	sqlTruncated := strings.Join(strings.Fields(start.sql), " ")
	if len(sqlTruncated) > 200 {
		sqlTruncated = sqlTruncated[:200] + "..."
	}

	t.logger.Warn("slow-query",
		zap.String("sql", sqlTruncated),
		zap.Duration("took", duration),
		zap.String("command_tag", data.CommandTag.String()),
	)
	metrics.IncrementSlowQuery(op)
}

// describeSQL 提取操作类型和主表名，用作指标标签
func describeSQL(sql string) (op, table string) {
	fields := strings.Fields(strings.ToLower(sql))
	if len(fields) == 0 {
		return "unknown", "unknown"
	}
	op = fields[0]
	table = "unknown"

	var marker string
	switch op {
	case "select", "delete":
		marker = "from"
	case "insert":
		marker = "into"
	case "update":
		if len(fields) > 1 {
			return op, strings.Trim(fields[1], `"`)
		}
		return op, table
	default:
		return op, table
	}
	for i, f := range fields {
		if f == marker && i+1 < len(fields) {
			return op, strings.Trim(strings.TrimRight(fields[i+1], "(,"), `"`)
		}
	}
	return op, table
}
