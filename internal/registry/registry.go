// Package registry is the contract-address catalog: the boot-time upsert
// path from static config and the runtime create path driven by handlers
// calling include_contract_in_indexing, plus the reads the ingester and
// handler runner need.
package registry

import (
	"context"

	"github.com/chaindexer/chaindexer/internal/models"
	"github.com/chaindexer/chaindexer/internal/repo"
)

// Registry wraps repo.RawQuery with the two named write paths from
// spec.md §4.B so callers don't need to remember which upsert semantics
// apply where.
type Registry struct {
	repo repo.RawQuery
}

// New wraps r.
func New(r repo.RawQuery) *Registry { return &Registry{repo: r} }

// SeedStaticContracts is the boot-time write path: on (chain_id, address)
// conflict it overwrites contract_name and start_block_number, never the
// next_* cursors (P2).
func (r *Registry) SeedStaticContracts(ctx context.Context, contracts []models.ContractAddress) error {
	return r.repo.UpsertContractAddresses(ctx, contracts)
}

// IncludeContract is the runtime write path invoked from inside a handler
// via include_contract_in_indexing: a plain insert that is a no-op if the
// address is already known.
func (r *Registry) IncludeContract(ctx context.Context, chainID models.ChainID, name, address string, startBlock uint64) error {
	return r.repo.CreateContractAddress(ctx, models.ContractAddress{
		ContractName:     name,
		ChainID:          chainID,
		Address:          address,
		StartBlockNumber: startBlock,
	})
}

// All loads the full contract-address table.
func (r *Registry) All(ctx context.Context) ([]models.ContractAddress, error) {
	return r.repo.AllContractAddresses(ctx)
}
