package registry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chaindexer/chaindexer/internal/models"
	"github.com/chaindexer/chaindexer/internal/registry"
	"github.com/chaindexer/chaindexer/internal/repo/repotest"
)

func TestSeedStaticContracts_FreshUpsert(t *testing.T) {
	r := repotest.New()
	reg := registry.New(r)
	ctx := context.Background()

	err := reg.SeedStaticContracts(ctx, []models.ContractAddress{{
		ContractName:     "A",
		ChainID:          42161,
		Address:          "0x8A90CAb2B38DbA80c64b7734e58Ee1Db38B8992e",
		StartBlockNumber: 0,
	}})
	require.NoError(t, err)

	all, err := reg.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "0x8a90cab2b38dba80c64b7734e58ee1db38b8992e", all[0].Address)
	require.Equal(t, uint64(0), all[0].StartBlockNumber)
	require.Equal(t, uint64(0), all[0].NextBlockNumberToIngestFrom)
}

func TestSeedStaticContracts_OverwritesNameOnly(t *testing.T) {
	r := repotest.New()
	reg := registry.New(r)
	ctx := context.Background()
	addr := "0x8A90CAb2B38DbA80c64b7734e58Ee1Db38B8992e"

	require.NoError(t, reg.SeedStaticContracts(ctx, []models.ContractAddress{{
		ContractName: "initial", ChainID: 42161, Address: addr, StartBlockNumber: 0,
	}}))
	require.NoError(t, reg.SeedStaticContracts(ctx, []models.ContractAddress{{
		ContractName: "updated", ChainID: 42161, Address: addr, StartBlockNumber: 0,
	}}))

	all, err := reg.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "updated", all[0].ContractName)
}

func TestSeedStaticContracts_OverwritesStartPreservesCursor(t *testing.T) {
	r := repotest.New()
	reg := registry.New(r)
	ctx := context.Background()
	addr := "0x8A90CAb2B38DbA80c64b7734e58Ee1Db38B8992e"

	require.NoError(t, reg.SeedStaticContracts(ctx, []models.ContractAddress{{
		ContractName: "initial", ChainID: 42161, Address: addr, StartBlockNumber: 400,
	}}))

	// The first seed starts the ingest cursor at its start block (400); the
	// second (re-)seed must leave that cursor alone.
	all, err := reg.All(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(400), all[0].NextBlockNumberToIngestFrom)

	require.NoError(t, reg.SeedStaticContracts(ctx, []models.ContractAddress{{
		ContractName: "updated", ChainID: 42161, Address: addr, StartBlockNumber: 2000,
	}}))

	all, err = reg.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, uint64(2000), all[0].StartBlockNumber)
	require.Equal(t, uint64(400), all[0].NextBlockNumberToIngestFrom, "cursor must never regress on upsert (P2)")
}

func TestIncludeContract_NoOpOnConflict(t *testing.T) {
	r := repotest.New()
	reg := registry.New(r)
	ctx := context.Background()
	addr := "0xAbC0000000000000000000000000000000000a"

	require.NoError(t, reg.IncludeContract(ctx, 1, "Vault", addr, 100))
	require.NoError(t, reg.IncludeContract(ctx, 1, "VaultRenamed", addr, 999))

	all, err := reg.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "Vault", all[0].ContractName, "include_contract_in_indexing is a no-op on conflict")
	require.Equal(t, uint64(100), all[0].StartBlockNumber)
}
