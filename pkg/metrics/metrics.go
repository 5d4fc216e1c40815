package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 投票计数（按 choice / result 分类）
	VoteCastCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_votes_cast_total",
			Help: "Total number of milestone votes recorded",
		},
		[]string{"choice"},
	)

	// 里程碑状态转换计数
	MilestoneTransitionCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_milestone_transitions_total",
			Help: "Total number of milestone status transitions",
		},
		[]string{"to_status"},
	)

	// 放款指令计数（issued / confirmed / failed / retried）
	ReleaseInstructionCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_release_instructions_total",
			Help: "Total number of fund release instructions by outcome",
		},
		[]string{"outcome"},
	)

	// 计票耗时（毫秒）
	TallyEvalLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "escrow_tally_eval_latency_ms",
			Help:    "Approval tally evaluation latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1ms to ~1s
		},
	)

	// MQ 消费延迟（毫秒）
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"routing_key", "queue"},
	)

	// Ledger sidecar 调用延迟（毫秒）
	LedgerCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledger_call_latency_ms",
			Help:    "Ledger service call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(100, 2, 10), // 100ms to ~100s
		},
		[]string{"endpoint", "status"},
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

	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)

	// 慢查询计数
	SlowQueryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_slow_query_total",
			Help: "Total number of slow database queries",
		},
		[]string{"sql"},
	)
)

// RecordVoteCast 记录一次投票
func RecordVoteCast(choice string) {
	VoteCastCount.WithLabelValues(choice).Inc()
}

// RecordMilestoneTransition 记录一次状态转换
func RecordMilestoneTransition(toStatus string) {
	MilestoneTransitionCount.WithLabelValues(toStatus).Inc()
}

// RecordReleaseInstruction 记录一次放款指令结果
func RecordReleaseInstruction(outcome string) {
	ReleaseInstructionCount.WithLabelValues(outcome).Inc()
}

// RecordTallyEvalLatency 记录计票耗时
func RecordTallyEvalLatency(duration time.Duration) {
	TallyEvalLatency.Observe(float64(duration.Milliseconds()))
}

// RecordMQConsumeLatency 记录 MQ 消费延迟
func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

// RecordLedgerCallLatency 记录 ledger sidecar 调用延迟
func RecordLedgerCallLatency(endpoint, status string, duration time.Duration) {
	LedgerCallLatency.WithLabelValues(endpoint, status).Observe(float64(duration.Milliseconds()))
}

// RecordDBQueryDuration 记录数据库查询延迟
func RecordDBQueryDuration(operation, table string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// IncrementSlowQuery 增加慢查询计数
func IncrementSlowQuery(sql string, duration time.Duration) {
	SlowQueryCount.WithLabelValues(sql).Inc()
}
