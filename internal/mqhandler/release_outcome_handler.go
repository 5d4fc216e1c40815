package mqhandler

import (
	"context"
	"encoding/json"

	"grantflow/contracts/mq"
	"grantflow/internal/escrow"
	"grantflow/pkg/trace"

	"go.uber.org/zap"
)

// ReleaseOutcomeHandler 消费 release.confirmed / release.failed，把结果写回状态机。
type ReleaseOutcomeHandler struct {
	machine *escrow.StateMachine
	logger  *zap.Logger
}

func NewReleaseOutcomeHandler(machine *escrow.StateMachine, logger *zap.Logger) *ReleaseOutcomeHandler {
	return &ReleaseOutcomeHandler{
		machine: machine,
		logger:  logger,
	}
}

// HandleReleaseConfirmed is idempotent: confirming an already-confirmed
// release and re-advancing the schedule are both no-ops downstream.
func (h *ReleaseOutcomeHandler) HandleReleaseConfirmed(ctx context.Context, raw json.RawMessage) error {
	var p mq.ReleaseConfirmedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		h.logger.Error("Failed to unmarshal release confirmed payload", zap.Error(err))
		return err
	}
	if p.TraceID != "" {
		ctx = trace.WithContext(ctx, p.TraceID)
	}

	h.logger.Info("Processing release confirmation",
		zap.String("release_id", p.ReleaseID),
		zap.String("milestone_id", p.MilestoneID),
		zap.String("handle", p.Handle),
	)

	if err := h.machine.HandleReleaseConfirmed(ctx, p.MilestoneID, p.Handle); err != nil {
		h.logger.Error("Failed to apply release confirmation",
			zap.String("milestone_id", p.MilestoneID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (h *ReleaseOutcomeHandler) HandleReleaseFailed(ctx context.Context, raw json.RawMessage) error {
	var p mq.ReleaseFailedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		h.logger.Error("Failed to unmarshal release failed payload", zap.Error(err))
		return err
	}
	if p.TraceID != "" {
		ctx = trace.WithContext(ctx, p.TraceID)
	}

	h.logger.Warn("Processing release failure",
		zap.String("release_id", p.ReleaseID),
		zap.String("milestone_id", p.MilestoneID),
		zap.String("reason", p.Reason),
	)

	if err := h.machine.HandleReleaseFailed(ctx, p.MilestoneID, p.Reason); err != nil {
		h.logger.Error("Failed to record release failure",
			zap.String("milestone_id", p.MilestoneID),
			zap.Error(err),
		)
		return err
	}
	return nil
}
