package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"grantflow/internal/model"
)

type EvidenceRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewEvidenceRepository(db *pgxpool.Pool, logger *zap.Logger) *EvidenceRepository {
	return &EvidenceRepository{db: db, logger: logger}
}

// Insert 追加写入；没有 update/delete 路径，记录不可变。
func (r *EvidenceRepository) Insert(ctx context.Context, item *model.EvidenceItem) error {
	query := `
        INSERT INTO evidence_items (id, milestone_id, type, url, submitted_at)
        VALUES ($1, $2, $3, $4, $5)
    `
	_, err := r.db.Exec(ctx, query, item.ID, item.MilestoneID, item.Type, item.URL, item.SubmittedAt)
	if err != nil {
		r.logger.Error("Failed to insert evidence",
			zap.String("milestone_id", item.MilestoneID),
			zap.Error(err),
		)
	}
	return err
}

func (r *EvidenceRepository) ListByMilestone(ctx context.Context, milestoneID string) ([]model.EvidenceItem, error) {
	query := `
        SELECT id, milestone_id, type, url, submitted_at
        FROM evidence_items
        WHERE milestone_id = $1
        ORDER BY submitted_at ASC, id ASC
    `
	rows, err := r.db.Query(ctx, query, milestoneID)
	if err != nil {
		r.logger.Error("Failed to list evidence", zap.String("milestone_id", milestoneID), zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var items []model.EvidenceItem
	for rows.Next() {
		var e model.EvidenceItem
		if err := rows.Scan(&e.ID, &e.MilestoneID, &e.Type, &e.URL, &e.SubmittedAt); err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}
