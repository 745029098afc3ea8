// Package chaindexer is the embeddable multi-chain EVM event indexer
// described by spec.md: it pulls logs for a configured set of contracts
// from one or more JSON-RPC endpoints, persists decoded events, and drives
// user handlers over them, while cooperating with other replicas of the
// same process through a shared Postgres-backed election.
package chaindexer

import (
	"time"

	"github.com/chaindexer/chaindexer/internal/models"
	"github.com/chaindexer/chaindexer/internal/repo"
)

// ContractConfig is one statically configured contract: its ABI, the
// handlers to run against its decoded events, and where to start ingesting
// from.
type ContractConfig struct {
	Name               string
	ChainID            models.ChainID
	Address            string
	StartBlockNumber   uint64
	ABI                string
	PureHandlers       []PureHandler
	SideEffectHandlers []SideEffectHandler

	// ResetQueries run (within the handler-rewind transaction) against
	// every block number at or after a reorg's fork point, deleting this
	// contract's derived state so pure handlers can safely replay it.
	ResetQueries []string
}

// OptimizationConfig lets an embedder voluntarily give up this replica's
// place in the active set when it judges the work not worth doing, per
// spec.md §4.G step 4.
type OptimizationConfig struct {
	KeepNodeActiveRequest func() bool
	OptimizeAfter         time.Duration
}

// Config is the full set of options accepted by IndexStates, matching the
// table in spec.md §6.
type Config struct {
	Repo      repo.Repo
	Chains    map[models.ChainID]string // chain id -> JSON-RPC URL
	Contracts []ContractConfig

	MinConfirmationCount  uint64
	BlocksPerBatch        uint64
	HandlerRate           time.Duration
	IngestionRate         time.Duration
	NodeElectionRate      time.Duration
	MaxConcurrentNodeCount int

	ResetCount   int
	ResetQueries []string

	// PruneNBlocksAway and PruneInterval configure the auxiliary pruning
	// task (spec.md §4.G step 2): events and already-handled reorged
	// blocks older than head-PruneNBlocksAway are deleted every
	// PruneInterval.
	PruneNBlocksAway uint64
	PruneInterval    time.Duration

	SharedState any

	Optimization *OptimizationConfig

	// OpsListenAddr, if non-empty, starts the /healthz, /metrics and
	// /debug/active-nodes HTTP surface described in SPEC_FULL.md §6.1.
	OpsListenAddr string

	StreamPageSize int
}

// WithDefaults returns a copy of cfg with every zero-valued tunable set to
// the default from spec.md §6.
func (c Config) WithDefaults() Config {
	if c.MinConfirmationCount == 0 {
		c.MinConfirmationCount = 40
	}
	if c.BlocksPerBatch == 0 {
		c.BlocksPerBatch = 10_000
	}
	if c.HandlerRate == 0 {
		c.HandlerRate = 4 * time.Second
	}
	if c.IngestionRate == 0 {
		c.IngestionRate = 30 * time.Second
	}
	if c.NodeElectionRate == 0 {
		c.NodeElectionRate = c.IngestionRate
	}
	if c.MaxConcurrentNodeCount == 0 {
		c.MaxConcurrentNodeCount = 3
	}
	if c.StreamPageSize == 0 {
		c.StreamPageSize = 100
	}
	if c.PruneNBlocksAway == 0 {
		c.PruneNBlocksAway = 1_000
	}
	if c.PruneInterval == 0 {
		c.PruneInterval = 12 * time.Hour
	}
	return c
}

// Validate enforces the NoContract/NoChain checks from spec.md §6.
func (c Config) Validate() error {
	if len(c.Contracts) == 0 {
		return ErrNoContract
	}
	if len(c.Chains) == 0 {
		return ErrNoChain
	}
	return nil
}
