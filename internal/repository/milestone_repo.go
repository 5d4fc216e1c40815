package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	mqcontracts "grantflow/contracts/mq"
	"grantflow/internal/escrow"
	"grantflow/internal/model"
	"grantflow/pkg/outbox"
)

type MilestoneRepository struct {
	db     *pgxpool.Pool
	outbox *outbox.Repository
	logger *zap.Logger
}

func NewMilestoneRepository(db *pgxpool.Pool, outboxRepo *outbox.Repository, logger *zap.Logger) *MilestoneRepository {
	return &MilestoneRepository{
		db:     db,
		outbox: outboxRepo,
		logger: logger,
	}
}

const milestoneColumns = `
    id, project_id, sequence_index, funding_percentage, funding_amount, status,
    approved_at, release_issued, release_pending, released, release_handle,
    created_at, updated_at
`

func scanMilestone(row pgx.Row) (*model.MilestoneStage, error) {
	var m model.MilestoneStage
	err := row.Scan(
		&m.ID,
		&m.ProjectID,
		&m.SequenceIndex,
		&m.FundingPercentage,
		&m.FundingAmount,
		&m.Status,
		&m.ApprovedAt,
		&m.ReleaseIssued,
		&m.ReleasePending,
		&m.Released,
		&m.ReleaseHandle,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *MilestoneRepository) InsertAll(ctx context.Context, stages []model.MilestoneStage) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
        INSERT INTO milestones (id, project_id, sequence_index, funding_percentage, funding_amount, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    `
	for _, m := range stages {
		if _, err := tx.Exec(ctx, query,
			m.ID,
			m.ProjectID,
			m.SequenceIndex,
			m.FundingPercentage,
			m.FundingAmount,
			m.Status,
			m.CreatedAt,
			m.UpdatedAt,
		); err != nil {
			r.logger.Error("Failed to insert milestone",
				zap.String("project_id", m.ProjectID),
				zap.Int("sequence_index", m.SequenceIndex),
				zap.Error(err),
			)
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	r.logger.Info("Milestone stages inserted",
		zap.String("project_id", stages[0].ProjectID),
		zap.Int("count", len(stages)),
	)
	return nil
}

func (r *MilestoneRepository) Get(ctx context.Context, id string) (*model.MilestoneStage, error) {
	query := `SELECT ` + milestoneColumns + ` FROM milestones WHERE id = $1`
	m, err := scanMilestone(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, escrow.ErrNotFound
		}
		r.logger.Error("Failed to get milestone", zap.String("milestone_id", id), zap.Error(err))
		return nil, err
	}
	return m, nil
}

func (r *MilestoneRepository) ListByProject(ctx context.Context, projectID string) ([]model.MilestoneStage, error) {
	query := `SELECT ` + milestoneColumns + ` FROM milestones WHERE project_id = $1 ORDER BY sequence_index ASC`

	rows, err := r.db.Query(ctx, query, projectID)
	if err != nil {
		r.logger.Error("Failed to list milestones", zap.String("project_id", projectID), zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var stages []model.MilestoneStage
	for rows.Next() {
		m, err := scanMilestone(rows)
		if err != nil {
			r.logger.Error("Failed to scan milestone", zap.Error(err))
			return nil, err
		}
		stages = append(stages, *m)
	}
	return stages, rows.Err()
}

func (r *MilestoneRepository) UpdateStatus(ctx context.Context, id, status string) error {
	query := `UPDATE milestones SET status = $1, updated_at = NOW() WHERE id = $2`
	tag, err := r.db.Exec(ctx, query, status, id)
	if err != nil {
		r.logger.Error("Failed to update milestone status",
			zap.String("milestone_id", id),
			zap.String("status", status),
			zap.Error(err),
		)
		return err
	}
	if tag.RowsAffected() == 0 {
		return escrow.ErrNotFound
	}
	return nil
}

// ApproveWithRelease 在一个事务里完成：状态翻转为 approved、记录 approved_at 和
// release 标志、写入放款指令、插入 outbox 事件。保证放款指令与审批结果的一致性。
func (r *MilestoneRepository) ApproveWithRelease(ctx context.Context, id string, approvedAt time.Time, rel *model.ReleaseInstruction) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// release_issued 单调：WHERE 条件兜底，即使调用方检查遗漏也不会双发
	tag, err := tx.Exec(ctx, `
        UPDATE milestones
        SET status = $1, approved_at = $2, release_issued = TRUE, release_pending = TRUE, updated_at = NOW()
        WHERE id = $3 AND release_issued = FALSE
    `, model.MilestoneStatusApproved, approvedAt, id)
	if err != nil {
		return fmt.Errorf("failed to approve milestone: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("milestone %s already has a release issued", id)
	}

	if _, err := tx.Exec(ctx, `
        INSERT INTO release_instructions (id, project_id, milestone_id, amount, destination_addr, idempotency_key, status, requested_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    `,
		rel.ID,
		rel.ProjectID,
		rel.MilestoneID,
		rel.Amount,
		rel.DestinationAddr,
		rel.IdempotencyKey,
		rel.Status,
		rel.RequestedAt,
	); err != nil {
		return fmt.Errorf("failed to insert release instruction: %w", err)
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
		return fmt.Errorf("failed to commit approval: %w", err)
	}

	r.logger.Info("Milestone approved with release in single tx",
		zap.String("milestone_id", id),
		zap.String("release_id", rel.ID),
	)
	return nil
}

func (r *MilestoneRepository) SetReleaseOutcome(ctx context.Context, id string, pending, released bool, handle string) error {
	query := `
        UPDATE milestones
        SET release_pending = $1, released = $2, release_handle = $3, updated_at = NOW()
        WHERE id = $4
    `
	tag, err := r.db.Exec(ctx, query, pending, released, handle, id)
	if err != nil {
		r.logger.Error("Failed to set release outcome", zap.String("milestone_id", id), zap.Error(err))
		return err
	}
	if tag.RowsAffected() == 0 {
		return escrow.ErrNotFound
	}
	return nil
}
