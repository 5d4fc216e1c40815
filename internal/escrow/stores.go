package escrow

import (
	"context"
	"time"

	"grantflow/internal/model"
)

// Store interfaces kept narrow so the domain logic is testable without
// Postgres; pgx implementations live in internal/repository.

type ProjectStore interface {
	Get(ctx context.Context, id string) (*model.Project, error)
	Insert(ctx context.Context, p *model.Project) error
	UpdateStatus(ctx context.Context, id, status string) error
}

type MilestoneStore interface {
	Get(ctx context.Context, id string) (*model.MilestoneStage, error)
	ListByProject(ctx context.Context, projectID string) ([]model.MilestoneStage, error)
	InsertAll(ctx context.Context, stages []model.MilestoneStage) error
	UpdateStatus(ctx context.Context, id, status string) error
	// ApproveWithRelease flips the stage to approved, records approvedAt and the
	// release flags, persists the release instruction and enqueues the
	// release.requested event, all in one transaction. The single write path
	// for fund movement.
	ApproveWithRelease(ctx context.Context, id string, approvedAt time.Time, rel *model.ReleaseInstruction) error
	// SetReleaseOutcome records the ledger's verdict for an issued release.
	SetReleaseOutcome(ctx context.Context, id string, pending, released bool, handle string) error
}

type RosterStore interface {
	ListVoters(ctx context.Context, projectID string) ([]model.Voter, error)
	GetSnapshot(ctx context.Context, milestoneID string) (*model.RosterSnapshot, error)
	InsertSnapshot(ctx context.Context, snap *model.RosterSnapshot) error
	DeleteSnapshot(ctx context.Context, milestoneID string) error
}

type VoteStore interface {
	// Upsert replaces any prior vote by the same voter for the same milestone.
	Upsert(ctx context.Context, v *model.Vote) error
	ListByMilestone(ctx context.Context, milestoneID string) ([]model.Vote, error)
	// OpenTally records that voting opened; fails with ErrTallyAlreadyOpen on
	// a duplicate open for the same milestone.
	OpenTally(ctx context.Context, milestoneID string, totalPower int, openedAt time.Time) error
	TallyOpen(ctx context.Context, milestoneID string) (bool, error)
}

type EvidenceStore interface {
	Insert(ctx context.Context, item *model.EvidenceItem) error
	ListByMilestone(ctx context.Context, milestoneID string) ([]model.EvidenceItem, error)
}

type ReleaseStore interface {
	Get(ctx context.Context, id string) (*model.ReleaseInstruction, error)
	GetByMilestone(ctx context.Context, milestoneID string) (*model.ReleaseInstruction, error)
	// MarkSubmitted records the ledger tracking handle once the transaction
	// has been accepted for submission. The release is not yet confirmed;
	// the on-chain outcome arrives later through the watcher.
	MarkSubmitted(ctx context.Context, id, handle string) error
	// ListSubmitted returns releases awaiting an on-chain outcome.
	ListSubmitted(ctx context.Context) ([]model.ReleaseInstruction, error)
	SetOutcome(ctx context.Context, id, status, handle, reason string) error
	// Requeue resets a failed release to pending and re-enqueues its
	// release.requested event in the same transaction. Operator-only path.
	Requeue(ctx context.Context, id string) error
}
