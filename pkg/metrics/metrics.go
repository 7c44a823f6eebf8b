package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MQ 消费延迟（毫秒）
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"routing_key", "queue"},
	)

	// 数据库查询延迟（秒）
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation", "table"},
	)

	// 慢查询计数
	DBSlowQueryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_slow_query_count",
			Help: "Total number of queries slower than the configured threshold",
		},
		[]string{"operation"},
	)

	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)

	// 阶段创建计数
	PhaseCreatedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schedule_phase_created_count",
			Help: "Total number of phases added to project chains",
		},
		[]string{"position"}, // position: root, tail, inserted
	)

	// 链重算计数
	ChainRecomputeCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schedule_chain_recompute_count",
			Help: "Total number of chain recomputations",
		},
		[]string{"trigger", "status"}, // trigger: create, duration, start, remove, holiday, manual
	)

	// 每次重算实际变化的阶段数
	CascadeLength = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "schedule_cascade_length",
			Help:    "Number of phases whose dates changed in one recomputation",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8), // 1 to 128
		},
	)

	// 并发修改冲突
	ChainConflictCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "schedule_chain_conflict_count",
			Help: "Total number of optimistic version conflicts on save",
		},
	)

	// 项目锁等待时间（秒）
	LockWaitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "schedule_lock_wait_seconds",
			Help:    "Time spent waiting for the per-project lock",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
		},
		[]string{"status"}, // status: acquired, timeout
	)

	// Outbox 发布计数
	OutboxPublishCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_publish_count",
			Help: "Total number of outbox publish attempts",
		},
		[]string{"routing_key", "status"}, // status: sent, failed, breaker_open
	)

	// 通知消费计数
	NotificationCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_processed_count",
			Help: "Total number of schedule notifications processed",
		},
		[]string{"routing_key", "status"}, // status: success, duplicate, failed
	)
)

// RecordMQConsumeLatency 记录 MQ 消费延迟
func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

// RecordDBQueryDuration 记录数据库查询延迟
func RecordDBQueryDuration(operation, table string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

func IncrementSlowQuery(operation string) {
	DBSlowQueryCount.WithLabelValues(operation).Inc()
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

func IncrementPhaseCreated(position string) {
	PhaseCreatedCount.WithLabelValues(position).Inc()
}

// RecordChainRecompute 记录一次重算及其级联长度
func RecordChainRecompute(trigger, status string, changed int) {
	ChainRecomputeCount.WithLabelValues(trigger, status).Inc()
	if status == "success" {
		CascadeLength.Observe(float64(changed))
	}
}

func IncrementChainConflict() {
	ChainConflictCount.Inc()
}

func RecordLockWait(status string, duration time.Duration) {
	LockWaitDuration.WithLabelValues(status).Observe(duration.Seconds())
}

func IncrementOutboxPublish(routingKey, status string) {
	OutboxPublishCount.WithLabelValues(routingKey, status).Inc()
}

func IncrementNotification(routingKey, status string) {
	NotificationCount.WithLabelValues(routingKey, status).Inc()
}
