package boot

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/chaindexer/chaindexer/internal/election"
	"github.com/chaindexer/chaindexer/internal/models"
	"github.com/chaindexer/chaindexer/internal/repo/repotest"
)

func TestRun_SeedsRegistryAndStartsElection(t *testing.T) {
	ctx := context.Background()
	r := repotest.New()

	cfg := Config{
		Repo: r,
		StaticContracts: []models.ContractAddress{
			{ChainID: 1, ContractName: "token", Address: "0xAAA", StartBlockNumber: 100},
		},
		ElectionCfg: election.Config{Repo: r, NodeElectionRate: time.Millisecond, MaxConcurrentNodeCount: 1},
	}

	res, err := Run(ctx, cfg, logrus.NewEntry(logrus.New()))
	require.NoError(t, err)
	require.NotNil(t, res.Registry)
	require.True(t, res.Elector.IsActive())

	all, err := res.Registry.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "token", all[0].ContractName)
}

// TestApplyResetEpoch_RunsOncePerIncrementedCount exercises spec.md §8
// scenario 6: a configured reset_count higher than the last persisted one
// triggers exactly one reset; re-running boot at the same count is a no-op.
func TestApplyResetEpoch_RunsOncePerIncrementedCount(t *testing.T) {
	ctx := context.Background()
	r := repotest.New()

	cfg := Config{
		Repo:         r,
		ResetCount:   1,
		ResetQueries: []string{"DELETE FROM derived_state"},
	}

	require.NoError(t, ApplyResetEpoch(ctx, cfg))
	first, err := r.LatestResetCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, first)

	// Re-running with the same configured count is a no-op.
	require.NoError(t, ApplyResetEpoch(ctx, cfg))
	second, err := r.LatestResetCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, second)

	// A higher configured count applies a new epoch.
	cfg.ResetCount = 2
	require.NoError(t, ApplyResetEpoch(ctx, cfg))
	third, err := r.LatestResetCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, third)
}
