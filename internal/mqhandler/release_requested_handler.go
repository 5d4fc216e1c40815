package mqhandler

import (
	"context"
	"encoding/json"
	"time"

	"grantflow/contracts/mq"
	"grantflow/internal/escrow"
	"grantflow/internal/ledger"
	"grantflow/internal/model"
	"grantflow/pkg/trace"
	"grantflow/pkg/util"

	"go.uber.org/zap"
)

const maxLedgerRetries = 5

// EventPublisher covers the publishing surface the handlers need; satisfied
// by pkg/mq.Publisher.
type EventPublisher interface {
	PublishWithContext(ctx context.Context, routingKey string, payload any) error
	PublishToDLQ(routingKey string, payload []byte, originalError string) error
}

// DedupGuard 幂等门，生产实现为 redis SetNX（pkg/util.Deduper）。
type DedupGuard interface {
	AcquireOnce(ctx context.Context, handler, entityID string) bool
	Release(ctx context.Context, handler, entityID string)
}

// RetryTracker counts delivery attempts per entity; satisfied by
// pkg/util.RetryCounter.
type RetryTracker interface {
	IncrementAndGet(ctx context.Context, key string) (int64, error)
}

// ReleaseRequestedHandler 消费 release.requested，调用 ledger sidecar 提交放款交易。
// Submission acceptance is not confirmation: on success the release only moves
// to submitted with its tracking handle, and the on-chain outcome arrives
// later as release.confirmed / release.failed from the ledger watcher.
// Retryable ledger failures are nacked back to the queue up to maxLedgerRetries,
// then dead-lettered; terminal failures publish release.failed immediately.
type ReleaseRequestedHandler struct {
	releases     escrow.ReleaseStore
	ledgerClient ledger.Client
	publisher    EventPublisher
	deduper      DedupGuard
	retryCounter RetryTracker
	logger       *zap.Logger
}

func NewReleaseRequestedHandler(releases escrow.ReleaseStore, ledgerClient ledger.Client, publisher EventPublisher, deduper DedupGuard, retryCounter RetryTracker, logger *zap.Logger) *ReleaseRequestedHandler {
	return &ReleaseRequestedHandler{
		releases:     releases,
		ledgerClient: ledgerClient,
		publisher:    publisher,
		deduper:      deduper,
		retryCounter: retryCounter,
		logger:       logger,
	}
}

func (h *ReleaseRequestedHandler) HandleReleaseRequested(ctx context.Context, raw json.RawMessage) error {
	var p mq.ReleaseRequestedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		h.logger.Error("Failed to unmarshal release requested payload", zap.Error(err))
		return err
	}
	if p.TraceID != "" {
		ctx = trace.WithContext(ctx, p.TraceID)
	}

	// 幂等性检查：同一条放款指令只处理一次
	if !h.deduper.AcquireOnce(ctx, "release_requested", p.ReleaseID) {
		h.logger.Debug("Release already being processed, skipping",
			zap.String("release_id", p.ReleaseID),
		)
		return nil
	}

	rel, err := h.releases.Get(ctx, p.ReleaseID)
	if err != nil {
		h.deduper.Release(ctx, "release_requested", p.ReleaseID)
		h.logger.Error("Failed to load release instruction",
			zap.String("release_id", p.ReleaseID),
			zap.Error(err),
		)
		return err
	}

	// 已提交或已到终态的指令不再提交（重投递、延迟消息）
	if rel.Status != model.ReleaseStatusPending {
		h.logger.Debug("Release no longer pending, skipping",
			zap.String("release_id", p.ReleaseID),
			zap.String("status", rel.Status),
		)
		return nil
	}

	h.logger.Info("Submitting release to ledger",
		zap.String("release_id", p.ReleaseID),
		zap.String("milestone_id", p.MilestoneID),
		zap.Float64("amount", p.Amount),
	)

	handle, err := h.ledgerClient.RequestRelease(ctx, p.ProjectID, p.MilestoneID, p.Amount, p.DestinationAddr, p.IdempotencyKey)
	if err != nil {
		return h.handleLedgerError(ctx, &p, err)
	}

	// 提交成功只代表 ledger 受理了交易，确认要等 watcher 轮询链上结果
	if err := h.releases.MarkSubmitted(ctx, p.ReleaseID, handle); err != nil {
		h.logger.Error("Failed to record submission handle",
			zap.String("release_id", p.ReleaseID),
			zap.String("handle", handle),
			zap.Error(err),
		)
		return err
	}

	h.logger.Info("Release submitted, awaiting on-chain confirmation",
		zap.String("release_id", p.ReleaseID),
		zap.String("handle", handle),
	)
	return nil
}

func (h *ReleaseRequestedHandler) handleLedgerError(ctx context.Context, p *mq.ReleaseRequestedPayload, callErr error) error {
	// 下一次投递还要重新走 deduper
	h.deduper.Release(ctx, "release_requested", p.ReleaseID)

	retryable, reason := util.IsRetryableError(callErr)
	if retryable {
		key := util.FormatRetryKey("release_requested", p.ReleaseID)
		attempts, err := h.retryCounter.IncrementAndGet(ctx, key)
		if err != nil {
			h.logger.Warn("Retry counter unavailable, requeueing anyway", zap.Error(err))
			return callErr
		}
		if attempts < maxLedgerRetries {
			h.logger.Warn("Ledger call failed, will retry",
				zap.String("release_id", p.ReleaseID),
				zap.Int64("attempt", attempts),
				zap.Error(callErr),
			)
			return callErr // nack → requeue
		}
		reason = "retries_exhausted"
		if payload, err := json.Marshal(p); err == nil {
			if err := h.publisher.PublishToDLQ(mq.RoutingKeyReleaseRequested, payload, callErr.Error()); err != nil {
				h.logger.Error("Failed to publish to DLQ", zap.Error(err))
			}
		}
	}

	h.logger.Error("Ledger call failed terminally",
		zap.String("release_id", p.ReleaseID),
		zap.String("reason", reason),
		zap.Error(callErr),
	)

	h.publishEvent(ctx, mq.RoutingKeyReleaseFailed, mq.ReleaseFailedPayload{
		ReleaseID:   p.ReleaseID,
		MilestoneID: p.MilestoneID,
		Reason:      reason,
		FailedAt:    time.Now(),
		TraceID:     trace.FromContext(ctx),
	})
	return nil // 已转入 failed 流程，消息本身 ack
}

func (h *ReleaseRequestedHandler) publishEvent(ctx context.Context, routingKey string, payload any) {
	if err := h.publisher.PublishWithContext(ctx, routingKey, payload); err != nil {
		h.logger.Error("Failed to publish event",
			zap.String("routing_key", routingKey),
			zap.Error(err),
		)
	}
}
