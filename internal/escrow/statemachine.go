package escrow

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"grantflow/contracts/mq"
	"grantflow/internal/model"
	"grantflow/pkg/metrics"
	"grantflow/pkg/trace"
)

// SignatureVerifier checks a voter's wallet attestation. External
// collaborator; the result boolean is trusted as-is.
type SignatureVerifier interface {
	Verify(ctx context.Context, voterID, message, signature string) (bool, error)
}

// EventPublisher fans informational lifecycle events out to MQ. The release
// instruction itself never goes through here; it rides the outbox inside
// the approval transaction.
type EventPublisher interface {
	PublishWithContext(ctx context.Context, routingKey string, payload any) error
}

// VoteResult is returned to the caller after a cast so the UI can render
// "vote recorded, threshold not yet reached" vs "milestone approved".
type VoteResult struct {
	Approval         Approval `json:"approval"`
	MilestoneStatus  string   `json:"milestone_status"`
	ThresholdReached bool     `json:"threshold_reached"`
}

// MilestoneState is the query surface for one milestone: status, tally
// summary, and release progress, granular enough to distinguish
// approved/pending-release/released/failed-awaiting-retry.
type MilestoneState struct {
	Stage    *model.MilestoneStage     `json:"stage"`
	Approval *Approval                 `json:"approval,omitempty"`
	Release  *model.ReleaseInstruction `json:"release,omitempty"`
}

// StateMachine owns the milestone lifecycle and the at-most-once release
// guarantee. Every mutation of a milestone's tally or release flags happens
// inside the per-milestone critical section.
type StateMachine struct {
	schedule   *Schedule
	powers     *PowerLedger
	tally      *Tally
	projects   ProjectStore
	milestones MilestoneStore
	releases   ReleaseStore
	verifier   SignatureVerifier
	publisher  EventPublisher
	locks      *keyMutex
	logger     *zap.Logger
}

func NewStateMachine(
	schedule *Schedule,
	powers *PowerLedger,
	tally *Tally,
	projects ProjectStore,
	milestones MilestoneStore,
	releases ReleaseStore,
	verifier SignatureVerifier,
	publisher EventPublisher,
	logger *zap.Logger,
) *StateMachine {
	return &StateMachine{
		schedule:   schedule,
		powers:     powers,
		tally:      tally,
		projects:   projects,
		milestones: milestones,
		releases:   releases,
		verifier:   verifier,
		publisher:  publisher,
		locks:      newKeyMutex(),
		logger:     logger,
	}
}

// OpenVoting transitions the active stage from in_progress to voting.
// Snapshot and tally open execute as one logical step: if either fails the
// milestone stays in_progress with no partial state left behind.
func (sm *StateMachine) OpenVoting(ctx context.Context, milestoneID string) error {
	sm.locks.Lock(milestoneID)
	defer sm.locks.Unlock(milestoneID)

	stage, err := sm.milestones.Get(ctx, milestoneID)
	if err != nil {
		return err
	}
	if stage.Status != model.MilestoneStatusInProgress {
		return fmt.Errorf("%w: cannot open voting from %s", ErrInvalidTransition, stage.Status)
	}

	snap, err := sm.powers.SnapshotForMilestone(ctx, stage.ProjectID, milestoneID)
	if err != nil {
		return err
	}
	if err := sm.tally.Open(ctx, milestoneID, snap); err != nil {
		if derr := sm.powers.DiscardSnapshot(ctx, milestoneID); derr != nil {
			sm.logger.Error("Failed to discard snapshot after tally open failure",
				zap.String("milestone_id", milestoneID),
				zap.Error(derr),
			)
		}
		return err
	}
	if err := sm.milestones.UpdateStatus(ctx, milestoneID, model.MilestoneStatusVoting); err != nil {
		return fmt.Errorf("failed to transition to voting: %w", err)
	}

	metrics.RecordMilestoneTransition(model.MilestoneStatusVoting)
	sm.logger.Info("Voting opened",
		zap.String("milestone_id", milestoneID),
		zap.String("project_id", stage.ProjectID),
		zap.Int("total_power", snap.TotalPower),
	)

	sm.publishEvent(ctx, mq.RoutingKeyVotingOpened, mq.VotingOpenedPayload{
		ProjectID:   stage.ProjectID,
		MilestoneID: milestoneID,
		TotalPower:  snap.TotalPower,
		VoterCount:  len(snap.Voters),
		OpenedAt:    snap.TakenAt,
		TraceID:     trace.FromContext(ctx),
	})
	return nil
}

// CastVote records a weighted vote and immediately re-evaluates the tally.
// The first cast that observes the threshold performs the approved transition
// and issues exactly one release instruction; concurrent casts for the same
// milestone serialize on the milestone lock, so the releaseIssued flag can
// never be observed stale.
func (sm *StateMachine) CastVote(ctx context.Context, milestoneID, voterID, choice, signature string) (*VoteResult, error) {
	sm.locks.Lock(milestoneID)
	defer sm.locks.Unlock(milestoneID)

	stage, err := sm.milestones.Get(ctx, milestoneID)
	if err != nil {
		return nil, err
	}
	if stage.Status != model.MilestoneStatusVoting {
		return nil, ErrTallyClosed
	}

	if signature == "" {
		return nil, ErrEmptySignature
	}
	valid, err := sm.verifier.Verify(ctx, voterID, voteMessage(milestoneID, voterID, choice), signature)
	if err != nil {
		return nil, fmt.Errorf("failed to verify signature: %w", err)
	}
	if !valid {
		return nil, ErrSignatureInvalid
	}

	if err := sm.tally.Cast(ctx, milestoneID, voterID, choice, signature); err != nil {
		return nil, err
	}

	approval, err := sm.tally.ComputeApproval(ctx, milestoneID)
	if err != nil {
		return nil, err
	}

	result := &VoteResult{
		Approval:         approval,
		MilestoneStatus:  stage.Status,
		ThresholdReached: approval.ThresholdReached(),
	}

	if !approval.ThresholdReached() || stage.ReleaseIssued {
		return result, nil
	}

	if err := sm.approveAndIssueRelease(ctx, stage, approval); err != nil {
		return nil, err
	}
	result.MilestoneStatus = model.MilestoneStatusApproved
	return result, nil
}

// approveAndIssueRelease performs the voting→approved transition together
// with the single release instruction, in one transaction. Caller holds the
// milestone lock and has checked ReleaseIssued.
func (sm *StateMachine) approveAndIssueRelease(ctx context.Context, stage *model.MilestoneStage, approval Approval) error {
	project, err := sm.projects.Get(ctx, stage.ProjectID)
	if err != nil {
		return fmt.Errorf("failed to load project: %w", err)
	}

	now := time.Now()
	rel := &model.ReleaseInstruction{
		ID:              uuid.NewString(),
		ProjectID:       stage.ProjectID,
		MilestoneID:     stage.ID,
		Amount:          stage.FundingAmount,
		DestinationAddr: project.DestinationAddr,
		IdempotencyKey:  releaseIdempotencyKey(stage.ProjectID, stage.ID, stage.FundingAmount),
		Status:          model.ReleaseStatusPending,
		RequestedAt:     now,
	}

	if err := sm.milestones.ApproveWithRelease(ctx, stage.ID, now, rel); err != nil {
		return fmt.Errorf("failed to approve milestone: %w", err)
	}
	stage.ReleaseIssued = true

	metrics.RecordMilestoneTransition(model.MilestoneStatusApproved)
	metrics.RecordReleaseInstruction("issued")
	sm.logger.Info("Milestone approved, release issued",
		zap.String("milestone_id", stage.ID),
		zap.String("project_id", stage.ProjectID),
		zap.Float64("percent_approved", approval.PercentApproved),
		zap.Float64("amount", stage.FundingAmount),
		zap.String("release_id", rel.ID),
	)

	sm.publishEvent(ctx, mq.RoutingKeyMilestoneApproved, mq.MilestoneApprovedPayload{
		ProjectID:       stage.ProjectID,
		MilestoneID:     stage.ID,
		SequenceIndex:   stage.SequenceIndex,
		PercentApproved: approval.PercentApproved,
		ApprovedAt:      now,
		TraceID:         trace.FromContext(ctx),
	})
	return nil
}

// Reject halts the milestone on an explicit reject decision. No funds move,
// the schedule does not advance, and the project is flagged for manual
// intervention. Terminal for this milestone.
func (sm *StateMachine) Reject(ctx context.Context, milestoneID string) error {
	sm.locks.Lock(milestoneID)
	defer sm.locks.Unlock(milestoneID)

	stage, err := sm.milestones.Get(ctx, milestoneID)
	if err != nil {
		return err
	}
	if stage.Status != model.MilestoneStatusVoting {
		return fmt.Errorf("%w: cannot reject from %s", ErrInvalidTransition, stage.Status)
	}

	if err := sm.milestones.UpdateStatus(ctx, milestoneID, model.MilestoneStatusRejected); err != nil {
		return fmt.Errorf("failed to reject milestone: %w", err)
	}
	if err := sm.projects.UpdateStatus(ctx, stage.ProjectID, model.ProjectStatusHalted); err != nil {
		return fmt.Errorf("failed to halt project: %w", err)
	}

	metrics.RecordMilestoneTransition(model.MilestoneStatusRejected)
	sm.logger.Warn("Milestone rejected, schedule halted",
		zap.String("milestone_id", milestoneID),
		zap.String("project_id", stage.ProjectID),
	)

	sm.publishEvent(ctx, mq.RoutingKeyMilestoneRejected, mq.MilestoneRejectedPayload{
		ProjectID:   stage.ProjectID,
		MilestoneID: milestoneID,
		RejectedAt:  time.Now(),
		TraceID:     trace.FromContext(ctx),
	})
	return nil
}

// HandleReleaseConfirmed records the ledger confirmation and advances the
// schedule to the next stage (or completes the project on the last one).
func (sm *StateMachine) HandleReleaseConfirmed(ctx context.Context, milestoneID, handle string) error {
	sm.locks.Lock(milestoneID)
	defer sm.locks.Unlock(milestoneID)

	rel, err := sm.releases.GetByMilestone(ctx, milestoneID)
	if err != nil {
		return err
	}
	// watcher 可能在落库前重复发确认，只处理第一条
	if rel.Status == model.ReleaseStatusConfirmed {
		return nil
	}
	if err := sm.releases.SetOutcome(ctx, rel.ID, model.ReleaseStatusConfirmed, handle, ""); err != nil {
		return fmt.Errorf("failed to record release confirmation: %w", err)
	}
	if err := sm.milestones.SetReleaseOutcome(ctx, milestoneID, false, true, handle); err != nil {
		return fmt.Errorf("failed to update milestone release flags: %w", err)
	}

	metrics.RecordReleaseInstruction("confirmed")
	sm.logger.Info("Release confirmed",
		zap.String("milestone_id", milestoneID),
		zap.String("release_id", rel.ID),
		zap.String("handle", handle),
	)

	if _, err := sm.schedule.Advance(ctx, rel.ProjectID); err != nil {
		if errors.Is(err, ErrScheduleComplete) {
			return nil
		}
		return fmt.Errorf("failed to advance schedule: %w", err)
	}
	return nil
}

// HandleReleaseFailed records a ledger failure. The vote result is final and
// never re-litigated: the milestone stays approved with releasePending set,
// awaiting an operator-initiated retry. Deliberately no automatic reissue.
func (sm *StateMachine) HandleReleaseFailed(ctx context.Context, milestoneID, reason string) error {
	sm.locks.Lock(milestoneID)
	defer sm.locks.Unlock(milestoneID)

	rel, err := sm.releases.GetByMilestone(ctx, milestoneID)
	if err != nil {
		return err
	}
	if rel.Status == model.ReleaseStatusFailed || rel.Status == model.ReleaseStatusConfirmed {
		return nil
	}
	if err := sm.releases.SetOutcome(ctx, rel.ID, model.ReleaseStatusFailed, "", reason); err != nil {
		return fmt.Errorf("failed to record release failure: %w", err)
	}

	metrics.RecordReleaseInstruction("failed")
	sm.logger.Error("Release failed, awaiting manual retry",
		zap.String("milestone_id", milestoneID),
		zap.String("release_id", rel.ID),
		zap.String("reason", reason),
	)
	return nil
}

// RetryRelease requeues a failed release instruction. Operator path only;
// the instruction keeps its identity and idempotency key.
func (sm *StateMachine) RetryRelease(ctx context.Context, milestoneID string) error {
	sm.locks.Lock(milestoneID)
	defer sm.locks.Unlock(milestoneID)

	rel, err := sm.releases.GetByMilestone(ctx, milestoneID)
	if err != nil {
		return err
	}
	if rel.Status != model.ReleaseStatusFailed {
		return ErrReleaseNotRetryable
	}
	if err := sm.releases.Requeue(ctx, rel.ID); err != nil {
		return fmt.Errorf("failed to requeue release: %w", err)
	}

	metrics.RecordReleaseInstruction("retried")
	sm.logger.Info("Release requeued by operator",
		zap.String("milestone_id", milestoneID),
		zap.String("release_id", rel.ID),
	)
	return nil
}

// GetMilestoneState returns the milestone with its tally summary and release
// progress.
func (sm *StateMachine) GetMilestoneState(ctx context.Context, milestoneID string) (*MilestoneState, error) {
	stage, err := sm.milestones.Get(ctx, milestoneID)
	if err != nil {
		return nil, err
	}

	state := &MilestoneState{Stage: stage}

	open, err := sm.tally.IsOpen(ctx, milestoneID)
	if err != nil {
		return nil, err
	}
	if open {
		approval, err := sm.tally.ComputeApproval(ctx, milestoneID)
		if err != nil {
			return nil, err
		}
		state.Approval = &approval
	}

	if stage.ReleaseIssued {
		rel, err := sm.releases.GetByMilestone(ctx, milestoneID)
		if err != nil && err != ErrNotFound {
			return nil, err
		}
		state.Release = rel
	}

	return state, nil
}

// GetProjectSchedule returns the project with its ordered stage list.
func (sm *StateMachine) GetProjectSchedule(ctx context.Context, projectID string) (*model.Project, []model.MilestoneStage, error) {
	project, err := sm.projects.Get(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}
	stages, err := sm.schedule.ListStages(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}
	return project, stages, nil
}

func (sm *StateMachine) publishEvent(ctx context.Context, routingKey string, payload any) {
	if sm.publisher == nil {
		return
	}
	if err := sm.publisher.PublishWithContext(ctx, routingKey, payload); err != nil {
		// 信息类事件发布失败不影响状态转换，只记录
		sm.logger.Error("Failed to publish event",
			zap.String("routing_key", routingKey),
			zap.Error(err),
		)
	}
}

// voteMessage is the canonical signing payload a voter's wallet attests to.
func voteMessage(milestoneID, voterID, choice string) string {
	return fmt.Sprintf("%s|%s|%s", milestoneID, voterID, choice)
}

// releaseIdempotencyKey derives a stable key for the ledger layer so a
// redelivered instruction cannot double-spend. blake2b to match the chain's
// native hash.
func releaseIdempotencyKey(projectID, milestoneID string, amount float64) string {
	h := blake2b.Sum256(fmt.Appendf(nil, "%s|%s|%.2f", projectID, milestoneID, amount))
	return hex.EncodeToString(h[:])
}
