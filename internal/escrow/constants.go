package escrow

// ApprovalThresholdPercent is the minimum weighted approval percentage that
// approves a milestone and triggers a fund release. Inclusive: exactly 75.0
// approves.
const ApprovalThresholdPercent = 75.0

// PercentSumTolerance absorbs 2-decimal rounding when validating that stage
// percentages sum to 100.
const PercentSumTolerance = 0.01

// Stage count limits for organization-sponsored projects.
const (
	MinOrganizationStages = 3
	MaxOrganizationStages = 10
)

// IndividualStageSplit is the fixed percentage split for individually-applied
// projects.
var IndividualStageSplit = []float64{15, 20, 30, 20, 15}

// Voting power bounds per roster member.
const (
	MinVotingPower = 1
	MaxVotingPower = 10
)
