package model

import "time"

const (
	VoteChoiceApprove = "approve"
	VoteChoiceReject  = "reject"
)

// Voter is one roster member with an integer voting weight in [1,10].
type Voter struct {
	ID          string `json:"id"`
	VotingPower int    `json:"voting_power"`
}

// RosterSnapshot 投票开启瞬间冻结的选民名单，作为该里程碑计票的固定分母。
// 快照之后名单变动不影响本轮计票。
type RosterSnapshot struct {
	MilestoneID string    `json:"milestone_id"`
	Voters      []Voter   `json:"voters"`
	TotalPower  int       `json:"total_power"`
	TakenAt     time.Time `json:"taken_at"`
}

// Power returns the snapshot weight for a voter, or 0 if not eligible.
func (s *RosterSnapshot) Power(voterID string) int {
	for _, v := range s.Voters {
		if v.ID == voterID {
			return v.VotingPower
		}
	}
	return 0
}

// Vote is one voter's current choice for a milestone. Re-casting replaces
// the previous row (last-write-wins) until the tally closes.
type Vote struct {
	MilestoneID string    `json:"milestone_id"`
	VoterID     string    `json:"voter_id"`
	Choice      string    `json:"choice"` // approve / reject
	Signature   string    `json:"signature"`
	CastAt      time.Time `json:"cast_at"`
}
