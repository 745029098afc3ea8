// Package provider defines the abstract JSON-RPC surface the ingester pulls
// from: current block number and a batch of logs for a range of addresses.
// internal/provider/ethrpc implements it against go-ethereum's ethclient;
// internal/provider/providertest provides a scriptable fake for tests.
package provider

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/chaindexer/chaindexer/internal/models"
)

// ErrTransient marks a retryable failure: timeout, connection reset, rate
// limit. The ingester tick loop swallows it and retries next tick without
// advancing any cursor.
var ErrTransient = errors.New("provider: transient error")

// ErrFatal marks a failure the operator must fix (unknown chain,
// unauthenticated endpoint). The ingester logs it and retries on its next
// tick like any other provider error; the log is not rate-limited, and the
// tick loop does not crash.
var ErrFatal = errors.New("provider: fatal error")

// Provider is the per-chain capability the ingester depends on.
// Implementations must be safe for concurrent use: a chain's ingester and
// pruner share one Provider and call it from separate goroutines.
type Provider interface {
	// GetBlockNumber returns the chain's current head.
	GetBlockNumber(ctx context.Context) (uint64, error)

	// GetLogs returns logs for addresses in [from, to], ascending by
	// (BlockNumber, Index).
	GetLogs(ctx context.Context, from, to uint64, addresses []string) ([]types.Log, error)
}

// Registry maps each configured chain to its Provider.
type Registry map[models.ChainID]Provider
