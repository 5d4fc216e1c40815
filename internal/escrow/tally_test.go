package escrow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"grantflow/internal/model"
)

// newVotingMilestone seeds one milestone in voting with a frozen roster.
func newVotingMilestone(t *testing.T, store *memStore, voters []model.Voter) string {
	t.Helper()
	const milestoneID = "m1"

	store.milestones[milestoneID] = model.MilestoneStage{
		ID:        milestoneID,
		ProjectID: "p1",
		Status:    model.MilestoneStatusVoting,
	}
	total := 0
	for _, v := range voters {
		total += v.VotingPower
	}
	store.snapshots[milestoneID] = model.RosterSnapshot{
		MilestoneID: milestoneID,
		Voters:      voters,
		TotalPower:  total,
		TakenAt:     time.Now(),
	}
	store.tallies[milestoneID] = true
	return milestoneID
}

func newTestTally(store *memStore) *Tally {
	return NewTally(memVotes{store}, memRoster{store}, memMilestones{store}, zap.NewNop())
}

func TestThresholdIsInclusive(t *testing.T) {
	require.True(t, Approval{PercentApproved: 75.0}.ThresholdReached())
	require.True(t, Approval{PercentApproved: 80.0}.ThresholdReached())
	require.False(t, Approval{PercentApproved: 74.99}.ThresholdReached())
}

func TestComputeApprovalWeighted(t *testing.T) {
	store := newMemStore()
	tally := newTestTally(store)
	ctx := context.Background()

	id := newVotingMilestone(t, store, []model.Voter{
		{ID: "alice", VotingPower: 5},
		{ID: "bob", VotingPower: 3},
		{ID: "carol", VotingPower: 2},
	})

	require.NoError(t, tally.Cast(ctx, id, "alice", model.VoteChoiceApprove, "sig"))
	require.NoError(t, tally.Cast(ctx, id, "bob", model.VoteChoiceApprove, "sig"))
	require.NoError(t, tally.Cast(ctx, id, "carol", model.VoteChoiceReject, "sig"))

	approval, err := tally.ComputeApproval(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 8, approval.ApproveWeight)
	require.Equal(t, 2, approval.RejectWeight)
	require.Equal(t, 10, approval.TotalWeight)
	require.InDelta(t, 80.0, approval.PercentApproved, 1e-9)
	require.True(t, approval.ThresholdReached())
}

func TestAbstentionCountsAgainstThreshold(t *testing.T) {
	store := newMemStore()
	tally := newTestTally(store)
	ctx := context.Background()

	// 7 of 10 power approves, 3 abstains: 70%, below threshold
	id := newVotingMilestone(t, store, []model.Voter{
		{ID: "alice", VotingPower: 7},
		{ID: "bob", VotingPower: 3},
	})
	require.NoError(t, tally.Cast(ctx, id, "alice", model.VoteChoiceApprove, "sig"))

	approval, err := tally.ComputeApproval(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 10, approval.TotalWeight)
	require.InDelta(t, 70.0, approval.PercentApproved, 1e-9)
	require.False(t, approval.ThresholdReached())
}

func TestRecastReplacesPriorVote(t *testing.T) {
	store := newMemStore()
	tally := newTestTally(store)
	ctx := context.Background()

	id := newVotingMilestone(t, store, []model.Voter{
		{ID: "alice", VotingPower: 8},
		{ID: "bob", VotingPower: 2},
	})

	require.NoError(t, tally.Cast(ctx, id, "alice", model.VoteChoiceReject, "sig"))
	require.NoError(t, tally.Cast(ctx, id, "alice", model.VoteChoiceApprove, "sig"))

	approval, err := tally.ComputeApproval(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 8, approval.ApproveWeight)
	require.Equal(t, 0, approval.RejectWeight)
}

func TestCastValidation(t *testing.T) {
	store := newMemStore()
	tally := newTestTally(store)
	ctx := context.Background()

	id := newVotingMilestone(t, store, []model.Voter{{ID: "alice", VotingPower: 5}})

	require.ErrorIs(t, tally.Cast(ctx, id, "alice", "maybe", "sig"), ErrInvalidChoice)
	require.ErrorIs(t, tally.Cast(ctx, id, "alice", model.VoteChoiceApprove, ""), ErrEmptySignature)
	require.ErrorIs(t, tally.Cast(ctx, id, "mallory", model.VoteChoiceApprove, "sig"), ErrUnknownVoter)
}

func TestCastRefusedOutsideVoting(t *testing.T) {
	store := newMemStore()
	tally := newTestTally(store)
	ctx := context.Background()

	id := newVotingMilestone(t, store, []model.Voter{{ID: "alice", VotingPower: 5}})
	require.NoError(t, memMilestones{store}.UpdateStatus(ctx, id, model.MilestoneStatusApproved))

	err := tally.Cast(ctx, id, "alice", model.VoteChoiceApprove, "sig")
	require.ErrorIs(t, err, ErrTallyClosed)
}

func TestOpenTallyTwiceFails(t *testing.T) {
	store := newMemStore()
	tally := newTestTally(store)
	ctx := context.Background()

	snap := &model.RosterSnapshot{MilestoneID: "m1", TotalPower: 5}
	require.NoError(t, tally.Open(ctx, "m1", snap))
	require.ErrorIs(t, tally.Open(ctx, "m1", snap), ErrTallyAlreadyOpen)
}

func TestComputeApprovalDeterministic(t *testing.T) {
	store := newMemStore()
	tally := newTestTally(store)
	ctx := context.Background()

	id := newVotingMilestone(t, store, []model.Voter{
		{ID: "alice", VotingPower: 4},
		{ID: "bob", VotingPower: 3},
		{ID: "carol", VotingPower: 3},
	})
	require.NoError(t, tally.Cast(ctx, id, "carol", model.VoteChoiceReject, "sig"))
	require.NoError(t, tally.Cast(ctx, id, "alice", model.VoteChoiceApprove, "sig"))
	require.NoError(t, tally.Cast(ctx, id, "bob", model.VoteChoiceApprove, "sig"))

	first, err := tally.ComputeApproval(ctx, id)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := tally.ComputeApproval(ctx, id)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestIsOpenTracksTallyLifecycle(t *testing.T) {
	store := newMemStore()
	tally := newTestTally(store)
	ctx := context.Background()

	open, err := tally.IsOpen(ctx, "m1")
	require.NoError(t, err)
	require.False(t, open)

	id := newVotingMilestone(t, store, []model.Voter{{ID: "alice", VotingPower: 5}})

	open, err = tally.IsOpen(ctx, id)
	require.NoError(t, err)
	require.True(t, open)

	// the record outlives the voting window
	store.milestones[id] = model.MilestoneStage{
		ID:        id,
		ProjectID: "p1",
		Status:    model.MilestoneStatusApproved,
	}
	open, err = tally.IsOpen(ctx, id)
	require.NoError(t, err)
	require.True(t, open)
}
