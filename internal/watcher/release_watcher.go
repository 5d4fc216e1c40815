package watcher

import (
	"context"
	"time"

	"grantflow/contracts/mq"
	"grantflow/internal/escrow"
	"grantflow/internal/ledger"
	"grantflow/internal/model"

	"go.uber.org/zap"
)

// EventPublisher is the outbound MQ surface; satisfied by pkg/mq.Publisher.
type EventPublisher interface {
	PublishWithContext(ctx context.Context, routingKey string, payload any) error
}

// LedgerWatcher 轮询 ledger sidecar，把已提交放款的链上结果转成
// release.confirmed / release.failed 事件。提交成功不等于确认，
// 状态机只相信 watcher 发出的结果事件。
type LedgerWatcher struct {
	releases     escrow.ReleaseStore
	ledgerClient ledger.Client
	publisher    EventPublisher
	interval     time.Duration
	logger       *zap.Logger
}

func NewLedgerWatcher(
	releases escrow.ReleaseStore,
	ledgerClient ledger.Client,
	publisher EventPublisher,
	logger *zap.Logger,
) *LedgerWatcher {
	return &LedgerWatcher{
		releases:     releases,
		ledgerClient: ledgerClient,
		publisher:    publisher,
		interval:     10 * time.Second, // 默认每 10 秒扫描一次
		logger:       logger,
	}
}

// WithInterval 设置扫描间隔
func (w *LedgerWatcher) WithInterval(interval time.Duration) *LedgerWatcher {
	w.interval = interval
	return w
}

// Start 启动 watcher（在 goroutine 中运行）
func (w *LedgerWatcher) Start(ctx context.Context) {
	w.logger.Info("Starting Ledger Watcher",
		zap.Duration("interval", w.interval),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Ledger Watcher stopped")
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

// poll 检查每条已提交的放款指令的链上结果。结果事件由 worker 的
// outcome consumer 消费并落库，落库之前指令保持 submitted，下一轮
// 重复发出的事件在状态机里幂等。
func (w *LedgerWatcher) poll(ctx context.Context) {
	releases, err := w.releases.ListSubmitted(ctx)
	if err != nil {
		w.logger.Error("Failed to list submitted releases", zap.Error(err))
		return
	}

	for i := range releases {
		w.checkRelease(ctx, &releases[i])
	}
}

func (w *LedgerWatcher) checkRelease(ctx context.Context, rel *model.ReleaseInstruction) {
	status, err := w.ledgerClient.GetReleaseStatus(ctx, rel.Handle)
	if err != nil {
		w.logger.Warn("Failed to fetch release status",
			zap.String("release_id", rel.ID),
			zap.String("handle", rel.Handle),
			zap.Error(err),
		)
		return
	}

	switch status.Status {
	case "confirmed":
		w.logger.Info("Release confirmed on chain",
			zap.String("release_id", rel.ID),
			zap.String("handle", rel.Handle),
		)
		w.publishEvent(ctx, mq.RoutingKeyReleaseConfirmed, mq.ReleaseConfirmedPayload{
			ReleaseID:   rel.ID,
			MilestoneID: rel.MilestoneID,
			Handle:      rel.Handle,
			ConfirmedAt: time.Now(),
		})
		w.reconcileDatum(ctx, rel)
	case "failed":
		reason := status.Reason
		if reason == "" {
			reason = "ledger_failed"
		}
		w.logger.Error("Release failed on chain",
			zap.String("release_id", rel.ID),
			zap.String("handle", rel.Handle),
			zap.String("reason", reason),
		)
		w.publishEvent(ctx, mq.RoutingKeyReleaseFailed, mq.ReleaseFailedPayload{
			ReleaseID:   rel.ID,
			MilestoneID: rel.MilestoneID,
			Reason:      reason,
			FailedAt:    time.Now(),
		})
	default:
		// 仍在等确认，下一轮再查
	}
}

// reconcileDatum 确认后对照链上 datum，本地记录和链上released总额
// 对不上时告警，留给运营排查。
func (w *LedgerWatcher) reconcileDatum(ctx context.Context, rel *model.ReleaseInstruction) {
	datum, err := w.ledgerClient.GetDatumState(ctx, rel.ProjectID)
	if err != nil {
		w.logger.Warn("Failed to fetch datum state for reconciliation",
			zap.String("project_id", rel.ProjectID),
			zap.Error(err),
		)
		return
	}
	if datum.ReleasedAmount+0.01 < rel.Amount {
		w.logger.Warn("On-chain released amount behind local record",
			zap.String("project_id", rel.ProjectID),
			zap.Float64("chain_released", datum.ReleasedAmount),
			zap.Float64("release_amount", rel.Amount),
			zap.Int("released_stages", datum.ReleasedStages),
		)
		return
	}
	w.logger.Info("Datum reconciled",
		zap.String("project_id", rel.ProjectID),
		zap.Float64("chain_locked", datum.LockedAmount),
		zap.Float64("chain_released", datum.ReleasedAmount),
		zap.Int("released_stages", datum.ReleasedStages),
	)
}

func (w *LedgerWatcher) publishEvent(ctx context.Context, routingKey string, payload any) {
	if err := w.publisher.PublishWithContext(ctx, routingKey, payload); err != nil {
		w.logger.Error("Failed to publish event",
			zap.String("routing_key", routingKey),
			zap.Error(err),
		)
	}
}
