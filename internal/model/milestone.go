package model

import "time"

const (
	MilestoneStatusPending    = "pending"
	MilestoneStatusInProgress = "in_progress"
	MilestoneStatusVoting     = "voting"
	MilestoneStatusApproved   = "approved"
	MilestoneStatusRejected   = "rejected"
)

// MilestoneStage is one ordered phase of a project's funding schedule.
// FundingAmount is derived from the project's total funding and the stage
// percentage at creation time and never independently mutated.
type MilestoneStage struct {
	ID                string     `json:"id"`
	ProjectID         string     `json:"project_id"`
	SequenceIndex     int        `json:"sequence_index"`
	FundingPercentage float64    `json:"funding_percentage"`
	FundingAmount     float64    `json:"funding_amount"`
	Status            string     `json:"status"` // pending / in_progress / voting / approved / rejected
	ApprovedAt        *time.Time `json:"approved_at,omitempty"`

	// Release bookkeeping. ReleaseIssued flips once and never back;
	// ReleasePending stays true until the ledger confirms.
	ReleaseIssued  bool   `json:"release_issued"`
	ReleasePending bool   `json:"release_pending"`
	Released       bool   `json:"released"`
	ReleaseHandle  string `json:"release_handle,omitempty"` // 链上交易哈希

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsActive reports whether this stage is the project's active frontier.
func (m *MilestoneStage) IsActive() bool {
	return m.Status == MilestoneStatusInProgress || m.Status == MilestoneStatusVoting
}
