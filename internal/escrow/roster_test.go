package escrow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"grantflow/internal/model"
)

func TestSnapshotFreezesRoster(t *testing.T) {
	store := newMemStore()
	powers := NewPowerLedger(memRoster{store}, zap.NewNop())
	ctx := context.Background()

	store.roster["p1"] = []model.Voter{
		{ID: "alice", VotingPower: 5},
		{ID: "bob", VotingPower: 3},
	}

	snap, err := powers.SnapshotForMilestone(ctx, "p1", "m1")
	require.NoError(t, err)
	require.Equal(t, 8, snap.TotalPower)
	require.Equal(t, 5, snap.Power("alice"))
	require.Equal(t, 0, snap.Power("mallory"))

	// roster changes after the freeze do not touch the snapshot
	store.mu.Lock()
	store.roster["p1"] = append(store.roster["p1"], model.Voter{ID: "carol", VotingPower: 10})
	store.mu.Unlock()

	frozen, err := powers.SnapshotFor(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, 8, frozen.TotalPower)
	require.Equal(t, 0, frozen.Power("carol"))
}

func TestSnapshotRefusesSecondFreeze(t *testing.T) {
	store := newMemStore()
	powers := NewPowerLedger(memRoster{store}, zap.NewNop())
	ctx := context.Background()

	store.roster["p1"] = []model.Voter{{ID: "alice", VotingPower: 5}}

	_, err := powers.SnapshotForMilestone(ctx, "p1", "m1")
	require.NoError(t, err)

	_, err = powers.SnapshotForMilestone(ctx, "p1", "m1")
	require.ErrorIs(t, err, ErrAlreadySnapshotted)
}

func TestSnapshotRefusesEmptyRoster(t *testing.T) {
	store := newMemStore()
	powers := NewPowerLedger(memRoster{store}, zap.NewNop())

	_, err := powers.SnapshotForMilestone(context.Background(), "p1", "m1")
	require.ErrorIs(t, err, ErrEmptyRoster)
}

func TestSnapshotRejectsOutOfRangePower(t *testing.T) {
	store := newMemStore()
	powers := NewPowerLedger(memRoster{store}, zap.NewNop())
	ctx := context.Background()

	store.roster["p1"] = []model.Voter{{ID: "alice", VotingPower: 11}}
	_, err := powers.SnapshotForMilestone(ctx, "p1", "m1")
	require.ErrorIs(t, err, ErrInvalidVotingPower)

	store.roster["p2"] = []model.Voter{{ID: "bob", VotingPower: 0}}
	_, err = powers.SnapshotForMilestone(ctx, "p2", "m2")
	require.ErrorIs(t, err, ErrInvalidVotingPower)
}

func TestDiscardSnapshotAllowsRefreeze(t *testing.T) {
	store := newMemStore()
	powers := NewPowerLedger(memRoster{store}, zap.NewNop())
	ctx := context.Background()

	store.roster["p1"] = []model.Voter{{ID: "alice", VotingPower: 5}}

	_, err := powers.SnapshotForMilestone(ctx, "p1", "m1")
	require.NoError(t, err)
	require.NoError(t, powers.DiscardSnapshot(ctx, "m1"))

	_, err = powers.SnapshotForMilestone(ctx, "p1", "m1")
	require.NoError(t, err)
}
