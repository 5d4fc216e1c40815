package model

import "time"

const (
	ReleaseStatusPending   = "pending"   // 已签发，等待 worker 提交
	ReleaseStatusSubmitted = "submitted" // 已提交 ledger，等待链上确认
	ReleaseStatusConfirmed = "confirmed"
	ReleaseStatusFailed    = "failed"
)

// ReleaseInstruction is the single outbound fund-movement request for an
// approved milestone. Exactly one row exists per milestone; failed releases
// are requeued by an operator, never re-created.
type ReleaseInstruction struct {
	ID              string     `json:"id"`
	ProjectID       string     `json:"project_id"`
	MilestoneID     string     `json:"milestone_id"`
	Amount          float64    `json:"amount"`
	DestinationAddr string     `json:"destination_addr"`
	IdempotencyKey  string     `json:"idempotency_key"`
	Handle          string     `json:"handle,omitempty"` // ledger 返回的跟踪句柄
	Status          string     `json:"status"`           // pending / submitted / confirmed / failed
	FailureReason   string     `json:"failure_reason,omitempty"`
	RequestedAt     time.Time  `json:"requested_at"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
}
