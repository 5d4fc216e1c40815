package mq

import "time"

// Routing keys for fund release events.
const (
	RoutingKeyReleaseRequested = "release.requested"
	RoutingKeyReleaseConfirmed = "release.confirmed"
	RoutingKeyReleaseFailed    = "release.failed"
)

// ReleaseRequestedPayload 放款指令事件，经 outbox 投递给 release worker。
// 每个里程碑最多产生一条（重试走人工 requeue 路径）。
type ReleaseRequestedPayload struct {
	ReleaseID       string    `json:"release_id"`
	ProjectID       string    `json:"project_id"`
	MilestoneID     string    `json:"milestone_id"`
	Amount          float64   `json:"amount"`
	DestinationAddr string    `json:"destination_addr"`
	IdempotencyKey  string    `json:"idempotency_key"`
	RequestedAt     time.Time `json:"requested_at"`
	TraceID         string    `json:"trace_id,omitempty"`
}

// ReleaseConfirmedPayload 链上确认事件（由 ledger watcher 发出）
type ReleaseConfirmedPayload struct {
	ReleaseID   string    `json:"release_id"`
	MilestoneID string    `json:"milestone_id"`
	Handle      string    `json:"handle"` // 链上交易哈希
	ConfirmedAt time.Time `json:"confirmed_at"`
	TraceID     string    `json:"trace_id,omitempty"`
}

// ReleaseFailedPayload 放款失败事件；核心只记录状态，不自动重发
type ReleaseFailedPayload struct {
	ReleaseID   string    `json:"release_id"`
	MilestoneID string    `json:"milestone_id"`
	Reason      string    `json:"reason"`
	FailedAt    time.Time `json:"failed_at"`
	TraceID     string    `json:"trace_id,omitempty"`
}
