package model

import "time"

const (
	EvidenceTypeImage    = "image"
	EvidenceTypeApp      = "app"
	EvidenceTypeLink     = "link"
	EvidenceTypeDocument = "document"
)

// EvidenceItem is one append-only proof submission attached to a milestone.
type EvidenceItem struct {
	ID          string    `json:"id"`
	MilestoneID string    `json:"milestone_id"`
	Type        string    `json:"type"` // image / app / link / document
	URL         string    `json:"url"`
	SubmittedAt time.Time `json:"submitted_at"`
}
