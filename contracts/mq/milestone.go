package mq

import "time"

// Routing keys for milestone lifecycle events.
const (
	RoutingKeyVotingOpened      = "milestone.voting_opened"
	RoutingKeyMilestoneApproved = "milestone.approved"
	RoutingKeyMilestoneRejected = "milestone.rejected"
	RoutingKeyEvidenceSubmitted = "evidence.submitted"
)

// VotingOpenedPayload 里程碑进入投票阶段事件的 payload
type VotingOpenedPayload struct {
	ProjectID   string    `json:"project_id"`
	MilestoneID string    `json:"milestone_id"`
	TotalPower  int       `json:"total_power"`
	VoterCount  int       `json:"voter_count"`
	OpenedAt    time.Time `json:"opened_at"`
	TraceID     string    `json:"trace_id,omitempty"`
}

// MilestoneApprovedPayload 里程碑通过阈值事件的 payload
type MilestoneApprovedPayload struct {
	ProjectID       string    `json:"project_id"`
	MilestoneID     string    `json:"milestone_id"`
	SequenceIndex   int       `json:"sequence_index"`
	PercentApproved float64   `json:"percent_approved"`
	ApprovedAt      time.Time `json:"approved_at"`
	TraceID         string    `json:"trace_id,omitempty"`
}

// MilestoneRejectedPayload 里程碑被否决事件的 payload
type MilestoneRejectedPayload struct {
	ProjectID   string    `json:"project_id"`
	MilestoneID string    `json:"milestone_id"`
	RejectedAt  time.Time `json:"rejected_at"`
	TraceID     string    `json:"trace_id,omitempty"`
}

// EvidenceSubmittedPayload 证明材料提交事件的 payload
type EvidenceSubmittedPayload struct {
	EvidenceID  string    `json:"evidence_id"`
	MilestoneID string    `json:"milestone_id"`
	Type        string    `json:"type"` // image / app / link / document
	URL         string    `json:"url"`
	SubmittedAt time.Time `json:"submitted_at"`
	TraceID     string    `json:"trace_id,omitempty"`
}
