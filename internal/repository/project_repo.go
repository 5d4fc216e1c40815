package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"grantflow/internal/escrow"
	"grantflow/internal/model"
)

type ProjectRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewProjectRepository(db *pgxpool.Pool, logger *zap.Logger) *ProjectRepository {
	return &ProjectRepository{db: db, logger: logger}
}

func (r *ProjectRepository) Insert(ctx context.Context, p *model.Project) error {
	query := `
        INSERT INTO projects (id, title, funding_mode, total_funding, destination_addr, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    `
	_, err := r.db.Exec(ctx, query,
		p.ID,
		p.Title,
		p.FundingMode,
		p.TotalFunding,
		p.DestinationAddr,
		p.Status,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to insert project", zap.String("project_id", p.ID), zap.Error(err))
		return err
	}

	r.logger.Info("Project inserted",
		zap.String("project_id", p.ID),
		zap.String("funding_mode", p.FundingMode),
	)
	return nil
}

func (r *ProjectRepository) Get(ctx context.Context, id string) (*model.Project, error) {
	query := `
        SELECT id, title, funding_mode, total_funding, destination_addr, status, created_at, updated_at
        FROM projects
        WHERE id = $1
    `
	var p model.Project
	err := r.db.QueryRow(ctx, query, id).Scan(
		&p.ID,
		&p.Title,
		&p.FundingMode,
		&p.TotalFunding,
		&p.DestinationAddr,
		&p.Status,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, escrow.ErrNotFound
		}
		r.logger.Error("Failed to get project", zap.String("project_id", id), zap.Error(err))
		return nil, err
	}
	return &p, nil
}

func (r *ProjectRepository) UpdateStatus(ctx context.Context, id, status string) error {
	query := `
        UPDATE projects SET status = $1, updated_at = NOW() WHERE id = $2
    `
	tag, err := r.db.Exec(ctx, query, status, id)
	if err != nil {
		r.logger.Error("Failed to update project status", zap.String("project_id", id), zap.Error(err))
		return err
	}
	if tag.RowsAffected() == 0 {
		return escrow.ErrNotFound
	}
	return nil
}
