package handler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/chaindexer/chaindexer/internal/handlerapi"
	"github.com/chaindexer/chaindexer/internal/models"
	"github.com/chaindexer/chaindexer/internal/registry"
	"github.com/chaindexer/chaindexer/internal/repo"
	"github.com/chaindexer/chaindexer/internal/repo/repotest"
)

var errHandlerFailed = errors.New("handler failed")

type recordingPureHandler struct {
	name string
	got  []models.Event
	fail bool
}

func (h *recordingPureHandler) Name() string { return h.name }
func (h *recordingPureHandler) Handle(ctx context.Context, hctx *handlerapi.Context) error {
	if h.fail {
		return errHandlerFailed
	}
	h.got = append(h.got, hctx.Event)
	return nil
}

type recordingSideEffectHandler struct {
	name string
	got  []models.Event
}

func (h *recordingSideEffectHandler) Name() string { return h.name }
func (h *recordingSideEffectHandler) Handle(ctx context.Context, hctx *handlerapi.Context) error {
	h.got = append(h.got, hctx.Event)
	return nil
}

func seedContract(t *testing.T, r *repotest.Repo, chainID models.ChainID, name, addr string, start uint64) {
	t.Helper()
	require.NoError(t, r.UpsertContractAddresses(context.Background(), []models.ContractAddress{{
		ChainID: chainID, ContractName: name, Address: addr, StartBlockNumber: start,
	}}))
}

func insertEvents(t *testing.T, r *repotest.Repo, events []models.Event) {
	t.Helper()
	require.NoError(t, r.WithTx(context.Background(), func(tx repo.Tx) error {
		return tx.InsertEvents(context.Background(), events)
	}))
}

func mustAddr(t *testing.T, r *repotest.Repo, chainID models.ChainID, addr string) models.ContractAddress {
	t.Helper()
	all, err := r.AllContractAddresses(context.Background())
	require.NoError(t, err)
	for _, a := range all {
		if a.ChainID == chainID && a.Address == models.NormalizeAddress(addr) {
			return a
		}
	}
	t.Fatalf("address %s not found", addr)
	return models.ContractAddress{}
}

func TestHandleAddress_AppliesPureHandlersAscendingAndAdvancesCursor(t *testing.T) {
	ctx := context.Background()
	r := repotest.New()
	const chainID models.ChainID = 1
	seedContract(t, r, chainID, "token", "0xAAA", 100)

	// Inserted out of order; expect ascending (block_number, log_index) apply order.
	insertEvents(t, r, []models.Event{
		{ID: "e2", ChainID: chainID, ContractAddress: "0xaaa", ContractName: "token", BlockNumber: 101, LogIndex: 0, TransactionHash: "tx2"},
		{ID: "e1", ChainID: chainID, ContractAddress: "0xaaa", ContractName: "token", BlockNumber: 100, LogIndex: 1, TransactionHash: "tx1"},
	})

	ph := &recordingPureHandler{name: "token"}
	reg := registry.New(r)
	runner := New(Config{
		ChainID:     chainID,
		Repo:        r,
		Registry:    reg,
		HandlerRate: time.Second,
		Window:      1000,
	}, map[string][]handlerapi.PureHandler{"token": {ph}}, nil, logrus.NewEntry(logrus.New()))

	require.NoError(t, runner.handleAddress(ctx, mustAddr(t, r, chainID, "0xaaa")))

	require.Len(t, ph.got, 2)
	require.Equal(t, "e1", ph.got[0].ID)
	require.Equal(t, "e2", ph.got[1].ID)

	require.Equal(t, uint64(1102), mustAddr(t, r, chainID, "0xaaa").NextBlockNumberToHandleFrom)
}

func TestHandleAddress_PureHandlerFailureRollsBackCursor(t *testing.T) {
	ctx := context.Background()
	r := repotest.New()
	const chainID models.ChainID = 1
	seedContract(t, r, chainID, "token", "0xBBB", 100)

	insertEvents(t, r, []models.Event{
		{ID: "e1", ChainID: chainID, ContractAddress: "0xbbb", ContractName: "token", BlockNumber: 100, LogIndex: 0, TransactionHash: "tx1"},
	})

	ph := &recordingPureHandler{name: "token", fail: true}
	reg := registry.New(r)
	runner := New(Config{ChainID: chainID, Repo: r, Registry: reg, HandlerRate: time.Second, Window: 1000},
		map[string][]handlerapi.PureHandler{"token": {ph}}, nil, logrus.NewEntry(logrus.New()))

	err := runner.handleAddress(ctx, mustAddr(t, r, chainID, "0xbbb"))
	require.ErrorIs(t, err, errHandlerFailed)
	require.Equal(t, uint64(100), mustAddr(t, r, chainID, "0xbbb").NextBlockNumberToHandleFrom)
}

func TestSideEffectAddress_AdvancesCursorOnlyAfterSuccess(t *testing.T) {
	ctx := context.Background()
	r := repotest.New()
	const chainID models.ChainID = 1
	seedContract(t, r, chainID, "token", "0xCCC", 100)

	insertEvents(t, r, []models.Event{
		{ID: "e1", ChainID: chainID, ContractAddress: "0xccc", ContractName: "token", BlockNumber: 100, LogIndex: 0, TransactionHash: "tx1"},
	})

	se := &recordingSideEffectHandler{name: "token"}
	reg := registry.New(r)
	runner := New(Config{ChainID: chainID, Repo: r, Registry: reg, HandlerRate: time.Second, Window: 1000},
		nil, map[string][]handlerapi.SideEffectHandler{"token": {se}}, logrus.NewEntry(logrus.New()))

	require.NoError(t, runner.sideEffectAddress(ctx, mustAddr(t, r, chainID, "0xccc")))
	require.Len(t, se.got, 1)
	require.Equal(t, uint64(101), mustAddr(t, r, chainID, "0xccc").NextBlockNumberForSideEffects)
}

func TestRewindForReorgs_RewindsCursorAndMarksHandled(t *testing.T) {
	ctx := context.Background()
	r := repotest.New()
	const chainID models.ChainID = 1
	seedContract(t, r, chainID, "token", "0xDDD", 100)

	require.NoError(t, r.WithTx(ctx, func(tx repo.Tx) error {
		return tx.AdvanceHandleCursor(ctx, mustAddr(t, r, chainID, "0xddd").ID, 200)
	}))
	require.NoError(t, r.WithTx(ctx, func(tx repo.Tx) error {
		return tx.InsertReorgedBlock(ctx, models.ReorgedBlock{ChainID: chainID, BlockNumber: 105})
	}))

	reg := registry.New(r)
	runner := New(Config{ChainID: chainID, Repo: r, Registry: reg, HandlerRate: time.Second, Window: 1000},
		nil, nil, logrus.NewEntry(logrus.New()))

	require.NoError(t, runner.rewindForReorgs(ctx))

	require.Equal(t, uint64(105), mustAddr(t, r, chainID, "0xddd").NextBlockNumberToHandleFrom)

	reorgs, err := r.UnhandledReorgedBlocks(ctx, chainID)
	require.NoError(t, err)
	require.Empty(t, reorgs)
}
