package escrow

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"grantflow/internal/model"
)

// StageDef is one requested stage at project creation.
type StageDef struct {
	FundingPercentage float64 `json:"funding_percentage"`
}

// CreateProjectRequest carries everything needed to onboard a project with
// its milestone schedule, created atomically.
type CreateProjectRequest struct {
	Title           string     `json:"title"`
	FundingMode     string     `json:"funding_mode"` // organization / individual
	TotalFunding    float64    `json:"total_funding"`
	DestinationAddr string     `json:"destination_addr"`
	Stages          []StageDef `json:"stages,omitempty"` // ignored for individual mode
}

// Schedule owns the ordered, immutable-once-created milestone stage list of
// a project and its forward-only progression.
type Schedule struct {
	projects   ProjectStore
	milestones MilestoneStore
	logger     *zap.Logger
}

func NewSchedule(projects ProjectStore, milestones MilestoneStore, logger *zap.Logger) *Schedule {
	return &Schedule{
		projects:   projects,
		milestones: milestones,
		logger:     logger,
	}
}

// Create validates the stage definitions and persists the project with its
// stages. Stage 1 starts in_progress, the rest pending. Percentages must sum
// to 100 within rounding tolerance; individual-mode projects always get the
// fixed 15/20/30/20/15 split.
func (s *Schedule) Create(ctx context.Context, req CreateProjectRequest) (*model.Project, []model.MilestoneStage, error) {
	if req.TotalFunding <= 0 {
		return nil, nil, fmt.Errorf("%w: total funding must be positive", ErrInvalidSchedule)
	}

	var percentages []float64
	switch req.FundingMode {
	case model.FundingModeIndividual:
		percentages = IndividualStageSplit
	case model.FundingModeOrganization:
		if len(req.Stages) < MinOrganizationStages || len(req.Stages) > MaxOrganizationStages {
			return nil, nil, fmt.Errorf("%w: stage count %d outside [%d,%d]",
				ErrInvalidSchedule, len(req.Stages), MinOrganizationStages, MaxOrganizationStages)
		}
		for _, def := range req.Stages {
			if def.FundingPercentage <= 0 || def.FundingPercentage > 100 {
				return nil, nil, fmt.Errorf("%w: stage percentage %.2f outside (0,100]",
					ErrInvalidSchedule, def.FundingPercentage)
			}
			percentages = append(percentages, def.FundingPercentage)
		}
	default:
		return nil, nil, fmt.Errorf("%w: unknown funding mode %q", ErrInvalidSchedule, req.FundingMode)
	}

	sum := 0.0
	for _, p := range percentages {
		sum += p
	}
	if math.Abs(sum-100) > PercentSumTolerance {
		return nil, nil, fmt.Errorf("%w: percentages sum to %.2f, want 100", ErrInvalidSchedule, sum)
	}

	now := time.Now()
	project := &model.Project{
		ID:              uuid.NewString(),
		Title:           req.Title,
		FundingMode:     req.FundingMode,
		TotalFunding:    req.TotalFunding,
		DestinationAddr: req.DestinationAddr,
		Status:          model.ProjectStatusActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	stages := make([]model.MilestoneStage, 0, len(percentages))
	for i, pct := range percentages {
		status := model.MilestoneStatusPending
		if i == 0 {
			status = model.MilestoneStatusInProgress
		}
		stages = append(stages, model.MilestoneStage{
			ID:                uuid.NewString(),
			ProjectID:         project.ID,
			SequenceIndex:     i + 1,
			FundingPercentage: pct,
			FundingAmount:     req.TotalFunding * pct / 100,
			Status:            status,
			CreatedAt:         now,
			UpdatedAt:         now,
		})
	}

	if err := s.projects.Insert(ctx, project); err != nil {
		return nil, nil, fmt.Errorf("failed to insert project: %w", err)
	}
	if err := s.milestones.InsertAll(ctx, stages); err != nil {
		return nil, nil, fmt.Errorf("failed to insert stages: %w", err)
	}

	s.logger.Info("Project schedule created",
		zap.String("project_id", project.ID),
		zap.String("funding_mode", req.FundingMode),
		zap.Float64("total_funding", req.TotalFunding),
		zap.Int("stage_count", len(stages)),
	)
	return project, stages, nil
}

// Advance activates the next pending stage after the current frontier reached
// approved. Idempotent per completed stage: if a stage is already active the
// same stage is returned with no further effect. Returns ErrScheduleComplete
// once every stage is approved (the project is then fully funded) and
// ErrScheduleHalted if a rejected stage blocks progression.
func (s *Schedule) Advance(ctx context.Context, projectID string) (*model.MilestoneStage, error) {
	stages, err := s.milestones.ListByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list stages: %w", err)
	}
	if len(stages) == 0 {
		return nil, ErrNotFound
	}

	for i := range stages {
		switch stages[i].Status {
		case model.MilestoneStatusRejected:
			return nil, ErrScheduleHalted
		case model.MilestoneStatusInProgress, model.MilestoneStatusVoting:
			// Idempotent replay: the frontier is already active.
			return &stages[i], nil
		}
	}

	for i := range stages {
		if stages[i].Status == model.MilestoneStatusPending {
			if err := s.milestones.UpdateStatus(ctx, stages[i].ID, model.MilestoneStatusInProgress); err != nil {
				return nil, fmt.Errorf("failed to activate stage: %w", err)
			}
			stages[i].Status = model.MilestoneStatusInProgress
			s.logger.Info("Schedule advanced",
				zap.String("project_id", projectID),
				zap.String("milestone_id", stages[i].ID),
				zap.Int("sequence_index", stages[i].SequenceIndex),
			)
			return &stages[i], nil
		}
	}

	// All stages approved: the project is fully funded and immutable.
	if err := s.projects.UpdateStatus(ctx, projectID, model.ProjectStatusCompleted); err != nil {
		return nil, fmt.Errorf("failed to mark project completed: %w", err)
	}
	s.logger.Info("Schedule complete, project fully funded",
		zap.String("project_id", projectID),
	)
	return nil, ErrScheduleComplete
}

// ListStages returns the ordered stage list for a project.
func (s *Schedule) ListStages(ctx context.Context, projectID string) ([]model.MilestoneStage, error) {
	return s.milestones.ListByProject(ctx, projectID)
}
