package model

import "time"

// Funding modes. Organization-sponsored projects define their own stages;
// individually-applied projects get a fixed 5-stage split.
const (
	FundingModeOrganization = "organization"
	FundingModeIndividual   = "individual"
)

const (
	ProjectStatusActive    = "active"
	ProjectStatusCompleted = "completed"
	ProjectStatusHalted    = "halted"
)

type Project struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	FundingMode     string    `json:"funding_mode"` // organization / individual
	TotalFunding    float64   `json:"total_funding"`
	DestinationAddr string    `json:"destination_addr"` // 研究者收款钱包地址（bech32）
	Status          string    `json:"status"`           // active / completed / halted
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
