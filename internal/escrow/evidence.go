package escrow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"grantflow/contracts/mq"
	"grantflow/internal/model"
	"grantflow/pkg/trace"
)

var validEvidenceTypes = map[string]bool{
	model.EvidenceTypeImage:    true,
	model.EvidenceTypeApp:      true,
	model.EvidenceTypeLink:     true,
	model.EvidenceTypeDocument: true,
}

// EvidenceLog is the append-only record of proof submissions per milestone.
// Items are never edited or deleted.
type EvidenceLog struct {
	evidence   EvidenceStore
	milestones MilestoneStore
	publisher  EventPublisher
	logger     *zap.Logger
}

func NewEvidenceLog(evidence EvidenceStore, milestones MilestoneStore, publisher EventPublisher, logger *zap.Logger) *EvidenceLog {
	return &EvidenceLog{
		evidence:   evidence,
		milestones: milestones,
		publisher:  publisher,
		logger:     logger,
	}
}

// Submit appends one evidence item. Allowed only while the milestone is
// pending or in_progress; once voting opens the record is sealed.
func (e *EvidenceLog) Submit(ctx context.Context, milestoneID, evidenceType, url string) (*model.EvidenceItem, error) {
	if !validEvidenceTypes[evidenceType] {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEvidenceType, evidenceType)
	}

	stage, err := e.milestones.Get(ctx, milestoneID)
	if err != nil {
		return nil, err
	}
	if stage.Status != model.MilestoneStatusPending && stage.Status != model.MilestoneStatusInProgress {
		return nil, fmt.Errorf("%w: milestone is %s", ErrInvalidStateForEvidence, stage.Status)
	}

	item := &model.EvidenceItem{
		ID:          uuid.NewString(),
		MilestoneID: milestoneID,
		Type:        evidenceType,
		URL:         url,
		SubmittedAt: time.Now(),
	}
	if err := e.evidence.Insert(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to insert evidence: %w", err)
	}

	e.logger.Info("Evidence submitted",
		zap.String("milestone_id", milestoneID),
		zap.String("evidence_id", item.ID),
		zap.String("type", evidenceType),
	)

	if e.publisher != nil {
		if err := e.publisher.PublishWithContext(ctx, mq.RoutingKeyEvidenceSubmitted, mq.EvidenceSubmittedPayload{
			EvidenceID:  item.ID,
			MilestoneID: milestoneID,
			Type:        evidenceType,
			URL:         url,
			SubmittedAt: item.SubmittedAt,
			TraceID:     trace.FromContext(ctx),
		}); err != nil {
			// 信息类事件，发布失败不影响提交
			e.logger.Error("Failed to publish evidence event", zap.Error(err))
		}
	}
	return item, nil
}

// ListFor returns the milestone's evidence in insertion order. Restartable,
// no consumption semantics.
func (e *EvidenceLog) ListFor(ctx context.Context, milestoneID string) ([]model.EvidenceItem, error) {
	return e.evidence.ListByMilestone(ctx, milestoneID)
}
