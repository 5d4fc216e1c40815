package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	mqcontracts "grantflow/contracts/mq"
	"grantflow/internal/escrow"
	"grantflow/internal/model"
	"grantflow/pkg/outbox"
)

type ReleaseRepository struct {
	db     *pgxpool.Pool
	outbox *outbox.Repository
	logger *zap.Logger
}

func NewReleaseRepository(db *pgxpool.Pool, outboxRepo *outbox.Repository, logger *zap.Logger) *ReleaseRepository {
	return &ReleaseRepository{
		db:     db,
		outbox: outboxRepo,
		logger: logger,
	}
}

const releaseColumns = `
    id, project_id, milestone_id, amount, destination_addr, idempotency_key,
    handle, status, failure_reason, requested_at, resolved_at
`

func scanRelease(row pgx.Row) (*model.ReleaseInstruction, error) {
	var rel model.ReleaseInstruction
	err := row.Scan(
		&rel.ID,
		&rel.ProjectID,
		&rel.MilestoneID,
		&rel.Amount,
		&rel.DestinationAddr,
		&rel.IdempotencyKey,
		&rel.Handle,
		&rel.Status,
		&rel.FailureReason,
		&rel.RequestedAt,
		&rel.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rel, nil
}

func (r *ReleaseRepository) Get(ctx context.Context, id string) (*model.ReleaseInstruction, error) {
	query := `SELECT ` + releaseColumns + ` FROM release_instructions WHERE id = $1`
	rel, err := scanRelease(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, escrow.ErrNotFound
		}
		return nil, err
	}
	return rel, nil
}

func (r *ReleaseRepository) GetByMilestone(ctx context.Context, milestoneID string) (*model.ReleaseInstruction, error) {
	query := `SELECT ` + releaseColumns + ` FROM release_instructions WHERE milestone_id = $1`
	rel, err := scanRelease(r.db.QueryRow(ctx, query, milestoneID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, escrow.ErrNotFound
		}
		r.logger.Error("Failed to get release", zap.String("milestone_id", milestoneID), zap.Error(err))
		return nil, err
	}
	return rel, nil
}

// MarkSubmitted 记录 ledger 受理后的跟踪句柄。只有 pending 的指令可以提交，
// 重复投递在这里自然落空。
func (r *ReleaseRepository) MarkSubmitted(ctx context.Context, id, handle string) error {
	query := `
        UPDATE release_instructions
        SET status = $1, handle = $2
        WHERE id = $3 AND status = $4
    `
	tag, err := r.db.Exec(ctx, query, model.ReleaseStatusSubmitted, handle, id, model.ReleaseStatusPending)
	if err != nil {
		r.logger.Error("Failed to mark release submitted", zap.String("release_id", id), zap.Error(err))
		return err
	}
	if tag.RowsAffected() == 0 {
		return escrow.ErrNotFound
	}
	return nil
}

// ListSubmitted 列出已提交、尚未拿到链上结果的放款指令，供 watcher 轮询。
func (r *ReleaseRepository) ListSubmitted(ctx context.Context) ([]model.ReleaseInstruction, error) {
	query := `SELECT ` + releaseColumns + ` FROM release_instructions WHERE status = $1 ORDER BY requested_at`
	rows, err := r.db.Query(ctx, query, model.ReleaseStatusSubmitted)
	if err != nil {
		r.logger.Error("Failed to list submitted releases", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var releases []model.ReleaseInstruction
	for rows.Next() {
		rel, err := scanRelease(rows)
		if err != nil {
			return nil, err
		}
		releases = append(releases, *rel)
	}
	return releases, rows.Err()
}

func (r *ReleaseRepository) SetOutcome(ctx context.Context, id, status, handle, reason string) error {
	query := `
        UPDATE release_instructions
        SET status = $1, handle = $2, failure_reason = $3, resolved_at = NOW()
        WHERE id = $4
    `
	tag, err := r.db.Exec(ctx, query, status, handle, reason, id)
	if err != nil {
		r.logger.Error("Failed to set release outcome", zap.String("release_id", id), zap.Error(err))
		return err
	}
	if tag.RowsAffected() == 0 {
		return escrow.ErrNotFound
	}
	return nil
}

// Requeue 把失败的放款指令重置为 pending 并在同一事务里重新入队 outbox。
// 指令保持原 ID 和幂等键，ledger 层据此去重。
func (r *ReleaseRepository) Requeue(ctx context.Context, id string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rel, err := scanRelease(tx.QueryRow(ctx,
		`SELECT `+releaseColumns+` FROM release_instructions WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return escrow.ErrNotFound
		}
		return err
	}
	if rel.Status != model.ReleaseStatusFailed {
		return escrow.ErrReleaseNotRetryable
	}

	if _, err := tx.Exec(ctx, `
        UPDATE release_instructions
        SET status = $1, failure_reason = '', resolved_at = NULL
        WHERE id = $2
    `, model.ReleaseStatusPending, id); err != nil {
		return fmt.Errorf("failed to reset release: %w", err)
	}

	payload := mqcontracts.ReleaseRequestedPayload{
		ReleaseID:       rel.ID,
		ProjectID:       rel.ProjectID,
		MilestoneID:     rel.MilestoneID,
		Amount:          rel.Amount,
		DestinationAddr: rel.DestinationAddr,
		IdempotencyKey:  rel.IdempotencyKey,
		RequestedAt:     rel.RequestedAt,
	}
	if err := outbox.InsertEventInTx(ctx, tx, r.outbox, "release", &rel.ID, mqcontracts.RoutingKeyReleaseRequested, payload); err != nil {
		return fmt.Errorf("failed to enqueue release event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit requeue: %w", err)
	}

	r.logger.Info("Release requeued", zap.String("release_id", id))
	return nil
}
