package escrow

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"grantflow/internal/model"
	"grantflow/pkg/metrics"
)

// Approval is the weighted tally summary for one milestone. Percentages are
// computed over the snapshot's total power, so abstentions count against the
// threshold, never toward it.
type Approval struct {
	ApproveWeight   int     `json:"approve_weight"`
	RejectWeight    int     `json:"reject_weight"`
	TotalWeight     int     `json:"total_weight"`
	PercentApproved float64 `json:"percent_approved"`
}

// ThresholdReached reports whether the weighted approval crossed the release
// threshold. Inclusive comparison: exactly 75.0 approves.
func (a Approval) ThresholdReached() bool {
	return a.PercentApproved >= ApprovalThresholdPercent
}

// Tally collects weighted votes per milestone against a frozen roster
// snapshot. One vote per voter; re-casting replaces (last-write-wins) until
// the milestone leaves voting.
type Tally struct {
	votes      VoteStore
	rosters    RosterStore
	milestones MilestoneStore
	logger     *zap.Logger
}

func NewTally(votes VoteStore, rosters RosterStore, milestones MilestoneStore, logger *zap.Logger) *Tally {
	return &Tally{
		votes:      votes,
		rosters:    rosters,
		milestones: milestones,
		logger:     logger,
	}
}

// Open initializes an empty vote set bound to the frozen snapshot. A second
// open for the same milestone fails with ErrTallyAlreadyOpen.
func (t *Tally) Open(ctx context.Context, milestoneID string, snap *model.RosterSnapshot) error {
	if err := t.votes.OpenTally(ctx, milestoneID, snap.TotalPower, time.Now()); err != nil {
		return err
	}
	t.logger.Info("Tally opened",
		zap.String("milestone_id", milestoneID),
		zap.Int("total_power", snap.TotalPower),
	)
	return nil
}

// IsOpen reports whether voting ever opened for the milestone. The tally
// record outlives the voting window, so this stays true after approval or
// rejection; it distinguishes "no tally yet" from "tally exists".
func (t *Tally) IsOpen(ctx context.Context, milestoneID string) (bool, error) {
	return t.votes.TallyOpen(ctx, milestoneID)
}

// Cast records a vote. The milestone must still be voting, the voter must be
// in the frozen snapshot, and the wallet attestation must be present. The
// caller holds the per-milestone lock.
func (t *Tally) Cast(ctx context.Context, milestoneID, voterID, choice, signature string) error {
	if choice != model.VoteChoiceApprove && choice != model.VoteChoiceReject {
		return fmt.Errorf("%w: %q", ErrInvalidChoice, choice)
	}
	if signature == "" {
		return ErrEmptySignature
	}

	stage, err := t.milestones.Get(ctx, milestoneID)
	if err != nil {
		return err
	}
	if stage.Status != model.MilestoneStatusVoting {
		return ErrTallyClosed
	}

	snap, err := t.rosters.GetSnapshot(ctx, milestoneID)
	if err != nil {
		if err == ErrNotFound {
			return ErrTallyClosed
		}
		return fmt.Errorf("failed to load snapshot: %w", err)
	}
	if snap.Power(voterID) == 0 {
		return ErrUnknownVoter
	}

	vote := &model.Vote{
		MilestoneID: milestoneID,
		VoterID:     voterID,
		Choice:      choice,
		Signature:   signature,
		CastAt:      time.Now(),
	}
	if err := t.votes.Upsert(ctx, vote); err != nil {
		return fmt.Errorf("failed to record vote: %w", err)
	}

	metrics.RecordVoteCast(choice)
	t.logger.Info("Vote recorded",
		zap.String("milestone_id", milestoneID),
		zap.String("voter_id", voterID),
		zap.String("choice", choice),
	)
	return nil
}

// ComputeApproval folds the current vote set over the snapshot weights.
// Pure function of the final vote set and the frozen snapshot; no
// wall-clock dependence.
func (t *Tally) ComputeApproval(ctx context.Context, milestoneID string) (Approval, error) {
	start := time.Now()

	snap, err := t.rosters.GetSnapshot(ctx, milestoneID)
	if err != nil {
		return Approval{}, fmt.Errorf("failed to load snapshot: %w", err)
	}
	votes, err := t.votes.ListByMilestone(ctx, milestoneID)
	if err != nil {
		return Approval{}, fmt.Errorf("failed to list votes: %w", err)
	}

	result := Approval{TotalWeight: snap.TotalPower}
	for _, v := range votes {
		weight := snap.Power(v.VoterID)
		// Voters dropped from the live roster after the freeze still count;
		// voters never in the snapshot cannot appear here (Cast rejects them).
		switch v.Choice {
		case model.VoteChoiceApprove:
			result.ApproveWeight += weight
		case model.VoteChoiceReject:
			result.RejectWeight += weight
		}
	}
	if result.TotalWeight > 0 {
		result.PercentApproved = float64(result.ApproveWeight) / float64(result.TotalWeight) * 100
	}

	metrics.RecordTallyEvalLatency(time.Since(start))
	return result, nil
}
