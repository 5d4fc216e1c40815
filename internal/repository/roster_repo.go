package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"grantflow/internal/escrow"
	"grantflow/internal/model"
)

type RosterRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewRosterRepository(db *pgxpool.Pool, logger *zap.Logger) *RosterRepository {
	return &RosterRepository{db: db, logger: logger}
}

func (r *RosterRepository) ListVoters(ctx context.Context, projectID string) ([]model.Voter, error) {
	query := `
        SELECT voter_id, voting_power
        FROM roster_members
        WHERE project_id = $1
        ORDER BY voter_id ASC
    `
	rows, err := r.db.Query(ctx, query, projectID)
	if err != nil {
		r.logger.Error("Failed to list roster", zap.String("project_id", projectID), zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var voters []model.Voter
	for rows.Next() {
		var v model.Voter
		if err := rows.Scan(&v.ID, &v.VotingPower); err != nil {
			return nil, err
		}
		voters = append(voters, v)
	}
	return voters, rows.Err()
}

// InsertSnapshot 冻结名单。milestone_id 主键保证每个里程碑只允许一份快照。
func (r *RosterRepository) InsertSnapshot(ctx context.Context, snap *model.RosterSnapshot) error {
	votersJSON, err := json.Marshal(snap.Voters)
	if err != nil {
		return fmt.Errorf("failed to marshal voters: %w", err)
	}

	query := `
        INSERT INTO roster_snapshots (milestone_id, voters, total_power, taken_at)
        VALUES ($1, $2, $3, $4)
    `
	_, err = r.db.Exec(ctx, query, snap.MilestoneID, votersJSON, snap.TotalPower, snap.TakenAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return escrow.ErrAlreadySnapshotted
		}
		r.logger.Error("Failed to insert snapshot", zap.String("milestone_id", snap.MilestoneID), zap.Error(err))
		return err
	}
	return nil
}

func (r *RosterRepository) GetSnapshot(ctx context.Context, milestoneID string) (*model.RosterSnapshot, error) {
	query := `
        SELECT milestone_id, voters, total_power, taken_at
        FROM roster_snapshots
        WHERE milestone_id = $1
    `
	var snap model.RosterSnapshot
	var votersJSON []byte
	err := r.db.QueryRow(ctx, query, milestoneID).Scan(
		&snap.MilestoneID,
		&votersJSON,
		&snap.TotalPower,
		&snap.TakenAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, escrow.ErrNotFound
		}
		r.logger.Error("Failed to get snapshot", zap.String("milestone_id", milestoneID), zap.Error(err))
		return nil, err
	}
	if err := json.Unmarshal(votersJSON, &snap.Voters); err != nil {
		return nil, fmt.Errorf("failed to unmarshal voters: %w", err)
	}
	return &snap, nil
}

func (r *RosterRepository) DeleteSnapshot(ctx context.Context, milestoneID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM roster_snapshots WHERE milestone_id = $1`, milestoneID)
	if err != nil {
		r.logger.Error("Failed to delete snapshot", zap.String("milestone_id", milestoneID), zap.Error(err))
	}
	return err
}
