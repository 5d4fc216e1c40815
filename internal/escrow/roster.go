package escrow

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"grantflow/internal/model"
)

// PowerLedger tracks each project's roster of eligible voters and freezes it
// into per-milestone snapshots. The live roster is fed externally; from here
// it is read-only except for the one-time freeze.
type PowerLedger struct {
	rosters RosterStore
	logger  *zap.Logger
}

func NewPowerLedger(rosters RosterStore, logger *zap.Logger) *PowerLedger {
	return &PowerLedger{
		rosters: rosters,
		logger:  logger,
	}
}

// GetRoster returns the current live roster for a project.
func (l *PowerLedger) GetRoster(ctx context.Context, projectID string) ([]model.Voter, error) {
	return l.rosters.ListVoters(ctx, projectID)
}

// SnapshotForMilestone freezes the project roster for one milestone's tally.
// Called exactly once, at the instant the milestone enters voting; a second
// call fails with ErrAlreadySnapshotted. An empty roster is an error: a
// milestone cannot enter voting without at least one eligible voter.
func (l *PowerLedger) SnapshotForMilestone(ctx context.Context, projectID, milestoneID string) (*model.RosterSnapshot, error) {
	if _, err := l.rosters.GetSnapshot(ctx, milestoneID); err == nil {
		return nil, ErrAlreadySnapshotted
	} else if err != ErrNotFound {
		return nil, fmt.Errorf("failed to check existing snapshot: %w", err)
	}

	voters, err := l.rosters.ListVoters(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load roster: %w", err)
	}
	if len(voters) == 0 {
		l.logger.Warn("Snapshot refused: empty roster",
			zap.String("project_id", projectID),
			zap.String("milestone_id", milestoneID),
		)
		return nil, ErrEmptyRoster
	}

	total := 0
	for _, v := range voters {
		if v.VotingPower < MinVotingPower || v.VotingPower > MaxVotingPower {
			return nil, fmt.Errorf("%w: voter %s has power %d", ErrInvalidVotingPower, v.ID, v.VotingPower)
		}
		total += v.VotingPower
	}

	snap := &model.RosterSnapshot{
		MilestoneID: milestoneID,
		Voters:      voters,
		TotalPower:  total,
		TakenAt:     time.Now(),
	}
	if err := l.rosters.InsertSnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("failed to persist snapshot: %w", err)
	}

	l.logger.Info("Roster snapshot taken",
		zap.String("milestone_id", milestoneID),
		zap.Int("voter_count", len(voters)),
		zap.Int("total_power", total),
	)
	return snap, nil
}

// SnapshotFor returns the frozen roster for a milestone.
func (l *PowerLedger) SnapshotFor(ctx context.Context, milestoneID string) (*model.RosterSnapshot, error) {
	return l.rosters.GetSnapshot(ctx, milestoneID)
}

// DiscardSnapshot removes a freshly-taken snapshot. Compensation path only,
// used when the paired tally open fails and the milestone must stay in_progress.
func (l *PowerLedger) DiscardSnapshot(ctx context.Context, milestoneID string) error {
	return l.rosters.DeleteSnapshot(ctx, milestoneID)
}

// TotalPower is the tally denominator for a snapshot.
func TotalPower(snap *model.RosterSnapshot) int {
	return snap.TotalPower
}
