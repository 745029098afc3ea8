package pruning

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/chaindexer/chaindexer/internal/models"
	"github.com/chaindexer/chaindexer/internal/provider/providertest"
	"github.com/chaindexer/chaindexer/internal/repo"
	"github.com/chaindexer/chaindexer/internal/repo/repotest"
)

func newPruner(r *repotest.Repo, prov *providertest.Provider) *Pruner {
	return New(Config{
		ChainID:     1,
		Provider:    prov,
		Repo:        r,
		NBlocksAway: 100,
		Interval:    time.Second,
	}, logrus.NewEntry(logrus.New()))
}

func TestTick_DeletesEventsBelowWatermark(t *testing.T) {
	ctx := context.Background()
	r := repotest.New()
	prov := providertest.New(1_000)

	require.NoError(t, r.WithTx(ctx, func(tx repo.Tx) error {
		return tx.InsertEvents(ctx, []models.Event{
			{ID: "old", ChainID: 1, ContractAddress: "0xa", BlockNumber: 500},
			{ID: "new", ChainID: 1, ContractAddress: "0xa", BlockNumber: 950},
		})
	}))

	p := newPruner(r, prov)
	require.NoError(t, p.tick(ctx))

	remaining := r.SnapshotEvents()
	require.Len(t, remaining, 1)
	require.Equal(t, "new", remaining[0].ID)
}

func TestTick_OnlyPrunesHandledReorgedBlocks(t *testing.T) {
	ctx := context.Background()
	r := repotest.New()
	prov := providertest.New(1_000)

	require.NoError(t, r.WithTx(ctx, func(tx repo.Tx) error {
		if err := tx.InsertReorgedBlock(ctx, models.ReorgedBlock{ChainID: 1, BlockNumber: 100}); err != nil {
			return err
		}
		return tx.InsertReorgedBlock(ctx, models.ReorgedBlock{ChainID: 1, BlockNumber: 200})
	}))

	unhandled, err := r.UnhandledReorgedBlocks(ctx, 1)
	require.NoError(t, err)
	require.Len(t, unhandled, 2)

	require.NoError(t, r.WithTx(ctx, func(tx repo.Tx) error {
		return tx.MarkReorgedBlockHandled(ctx, unhandled[0].ID, time.Now())
	}))

	p := newPruner(r, prov)
	require.NoError(t, p.tick(ctx))

	// The handled reorg at block 100 falls below the 900 watermark and is
	// pruned; the unhandled one at block 200 is left alone regardless of
	// its block number.
	stillUnhandled, err := r.UnhandledReorgedBlocks(ctx, 1)
	require.NoError(t, err)
	require.Len(t, stillUnhandled, 1)
	require.Equal(t, uint64(200), stillUnhandled[0].BlockNumber)
}

func TestMinBlockNumber_ClampsAtZeroBeforeChainMatures(t *testing.T) {
	require.Equal(t, uint64(0), minBlockNumber(50, 100))
	require.Equal(t, uint64(900), minBlockNumber(1_000, 100))
}
