package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"grantflow/internal/escrow"
	"grantflow/internal/model"
)

type VoteRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewVoteRepository(db *pgxpool.Pool, logger *zap.Logger) *VoteRepository {
	return &VoteRepository{db: db, logger: logger}
}

// Upsert 以 (milestone_id, voter_id) 为键覆盖旧票，last-write-wins。
func (r *VoteRepository) Upsert(ctx context.Context, v *model.Vote) error {
	query := `
        INSERT INTO votes (milestone_id, voter_id, choice, signature, cast_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (milestone_id, voter_id)
        DO UPDATE SET choice = EXCLUDED.choice, signature = EXCLUDED.signature, cast_at = EXCLUDED.cast_at
    `
	_, err := r.db.Exec(ctx, query, v.MilestoneID, v.VoterID, v.Choice, v.Signature, v.CastAt)
	if err != nil {
		r.logger.Error("Failed to upsert vote",
			zap.String("milestone_id", v.MilestoneID),
			zap.String("voter_id", v.VoterID),
			zap.Error(err),
		)
	}
	return err
}

func (r *VoteRepository) ListByMilestone(ctx context.Context, milestoneID string) ([]model.Vote, error) {
	query := `
        SELECT milestone_id, voter_id, choice, signature, cast_at
        FROM votes
        WHERE milestone_id = $1
        ORDER BY cast_at ASC
    `
	rows, err := r.db.Query(ctx, query, milestoneID)
	if err != nil {
		r.logger.Error("Failed to list votes", zap.String("milestone_id", milestoneID), zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var votes []model.Vote
	for rows.Next() {
		var v model.Vote
		if err := rows.Scan(&v.MilestoneID, &v.VoterID, &v.Choice, &v.Signature, &v.CastAt); err != nil {
			return nil, err
		}
		votes = append(votes, v)
	}
	return votes, rows.Err()
}

// OpenTally 记录开票。主键冲突即重复开票。
func (r *VoteRepository) OpenTally(ctx context.Context, milestoneID string, totalPower int, openedAt time.Time) error {
	query := `
        INSERT INTO tallies (milestone_id, total_power, opened_at)
        VALUES ($1, $2, $3)
    `
	_, err := r.db.Exec(ctx, query, milestoneID, totalPower, openedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return escrow.ErrTallyAlreadyOpen
		}
		r.logger.Error("Failed to open tally", zap.String("milestone_id", milestoneID), zap.Error(err))
		return err
	}
	return nil
}

func (r *VoteRepository) TallyOpen(ctx context.Context, milestoneID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM tallies WHERE milestone_id = $1)`,
		milestoneID,
	).Scan(&exists)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return false, err
	}
	return exists, nil
}
