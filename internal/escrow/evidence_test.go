package escrow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"grantflow/internal/model"
)

func newTestEvidenceLog(store *memStore) *EvidenceLog {
	return NewEvidenceLog(memEvidence{store}, memMilestones{store}, nil, zap.NewNop())
}

func TestSubmitEvidenceAppendOnly(t *testing.T) {
	store := newMemStore()
	log := newTestEvidenceLog(store)
	ctx := context.Background()

	store.milestones["m1"] = model.MilestoneStage{
		ID: "m1", ProjectID: "p1", Status: model.MilestoneStatusInProgress,
	}

	first, err := log.Submit(ctx, "m1", model.EvidenceTypeLink, "https://repo.example/pr/1")
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)

	second, err := log.Submit(ctx, "m1", model.EvidenceTypeDocument, "https://docs.example/report.pdf")
	require.NoError(t, err)

	items, err := log.ListFor(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, first.ID, items[0].ID)
	require.Equal(t, second.ID, items[1].ID)
}

func TestSubmitEvidenceRejectsUnknownType(t *testing.T) {
	store := newMemStore()
	log := newTestEvidenceLog(store)

	store.milestones["m1"] = model.MilestoneStage{
		ID: "m1", Status: model.MilestoneStatusInProgress,
	}

	_, err := log.Submit(context.Background(), "m1", "video", "https://x.example")
	require.ErrorIs(t, err, ErrInvalidEvidenceType)
}

func TestSubmitEvidenceSealedAfterVotingOpens(t *testing.T) {
	store := newMemStore()
	log := newTestEvidenceLog(store)
	ctx := context.Background()

	for _, status := range []string{
		model.MilestoneStatusVoting,
		model.MilestoneStatusApproved,
		model.MilestoneStatusRejected,
	} {
		store.milestones["m1"] = model.MilestoneStage{ID: "m1", Status: status}
		_, err := log.Submit(ctx, "m1", model.EvidenceTypeImage, "https://x.example/shot.png")
		require.ErrorIs(t, err, ErrInvalidStateForEvidence, "status %s", status)
	}
}
