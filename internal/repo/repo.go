// Package repo defines the storage-facing capability interfaces the rest of
// the indexer is built against: a transactional capability for the
// ingester and handler runner, a raw-query capability for migrations and
// high-volume inserts, and paginated streams used for tailing tables as
// they grow. internal/repo/postgres implements this against pgx;
// internal/repo/repotest implements it in memory for unit tests.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/chaindexer/chaindexer/internal/models"
)

// ErrNotConnected is returned for transport-level failures: a dropped
// connection, a pool-wait timeout, a refused dial. Callers retry on the
// next tick rather than treating it as fatal.
var ErrNotConnected = errors.New("repo: not connected")

// Unknown wraps any other repo failure with a message, per the spec's
// NotConnected / Unknown(message) taxonomy.
type Unknown struct {
	Message string
	Cause   error
}

func (e *Unknown) Error() string {
	if e.Cause != nil {
		return "repo: " + e.Message + ": " + e.Cause.Error()
	}
	return "repo: " + e.Message
}

func (e *Unknown) Unwrap() error { return e.Cause }

// NewUnknown builds an Unknown error, used by implementations to surface
// anything that isn't a transport failure.
func NewUnknown(message string, cause error) error {
	return &Unknown{Message: message, Cause: cause}
}

// Tx is a single database transaction. Implementations commit on a nil
// return from the closure passed to Transactional.WithTx and roll back
// otherwise.
type Tx interface {
	// InsertEvents appends decoded events. Violations of the
	// (transaction_hash, log_index, chain_id) uniqueness constraint are
	// silently ignored, making replay of an already-ingested batch a no-op.
	InsertEvents(ctx context.Context, events []models.Event) error

	// AdvanceIngestCursor sets next_block_number_to_ingest_from = to for
	// every given contract address id. It never regresses the cursor.
	AdvanceIngestCursor(ctx context.Context, ids []int64, to uint64) error

	// DeleteEventsFromBlock removes all events for chainID with
	// block_number >= fromBlock, used when truncating after a reorg.
	DeleteEventsFromBlock(ctx context.Context, chainID models.ChainID, fromBlock uint64) error

	// InsertReorgedBlock records a detected reorg.
	InsertReorgedBlock(ctx context.Context, rb models.ReorgedBlock) error

	// AdvanceHandleCursor sets next_block_number_to_handle_from for a
	// single contract address id, never regressing it.
	AdvanceHandleCursor(ctx context.Context, id int64, to uint64) error

	// AdvanceSideEffectCursor sets next_block_number_for_side_effects for a
	// single contract address id, never regressing it.
	AdvanceSideEffectCursor(ctx context.Context, id int64, to uint64) error

	// RewindHandleCursor sets next_block_number_to_handle_from to
	// min(current, to) for every address on chainID.
	RewindHandleCursor(ctx context.Context, chainID models.ChainID, to uint64) error

	// MarkReorgedBlockHandled stamps handled_at = at on a reorged-block row.
	MarkReorgedBlockHandled(ctx context.Context, id int64, at time.Time) error

	// Exec runs arbitrary DDL/DML within the transaction, used for
	// user-registered reset queries and derived-state resets.
	Exec(ctx context.Context, query string, args ...any) error
}

// Transactional is the capability used by the ingester and handler runner:
// obtain a pooled connection, run a closure inside a transaction, commit on
// success and roll back on any returned error.
type Transactional interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// RawQuery is the capability used by migrations, boot, and the registry's
// upsert paths: direct statement execution and typed row loading outside of
// a caller-managed transaction.
type RawQuery interface {
	Exec(ctx context.Context, query string, args ...any) error

	UpsertContractAddresses(ctx context.Context, batch []models.ContractAddress) error
	CreateContractAddress(ctx context.Context, addr models.ContractAddress) error
	AllContractAddresses(ctx context.Context) ([]models.ContractAddress, error)

	GetEvents(ctx context.Context, chainID models.ChainID, address string, from, to uint64) ([]models.Event, error)

	UnhandledReorgedBlocks(ctx context.Context, chainID models.ChainID) ([]models.ReorgedBlock, error)

	UpsertNodeHeartbeat(ctx context.Context, nodeID int64, at time.Time) error
	CreateNode(ctx context.Context) (int64, error)
	ActiveNodes(ctx context.Context, since time.Time) ([]models.Node, error)

	LatestResetCount(ctx context.Context) (int, error)
	InsertResetCount(ctx context.Context) error

	// AcquireChainLock takes the per-chain advisory lock described in
	// spec.md's open questions (§9/§5), blocking until it is free, and
	// returns a release function. Implementations that cannot take a true
	// advisory lock (e.g. repotest) emulate it with an in-process mutex.
	AcquireChainLock(ctx context.Context, chainID models.ChainID) (release func(), err error)

	// PruneEvents deletes chainID's events with block_number < beforeBlock
	// and already-handled reorged blocks with block_number < beforeBlock,
	// used by the pruning task to bound table growth (spec.md §4.G step 2).
	// It does not archive what it deletes.
	PruneEvents(ctx context.Context, chainID models.ChainID, beforeBlock uint64) error
}

// Stream paginates a table by id > lastSeenID order by id limit page, until
// exhausted, then can be re-opened to pick up rows inserted in the
// meantime. Repo.StreamContractAddresses wires this for component A/B.
type Stream[T any] interface {
	// Next returns the next page, or an empty slice when exhausted for now.
	Next(ctx context.Context) ([]T, error)
}

// Repo is the full capability set a component may depend on. Most
// components only need a subset; accepting the full interface keeps
// construction simple while each method set above documents the narrower
// contract a given piece of code actually relies on.
type Repo interface {
	Transactional
	RawQuery

	// StreamContractAddresses opens a paginated, re-openable stream over
	// contract addresses for chainID, ordered by id, page rows at a time.
	StreamContractAddresses(chainID models.ChainID, page int) Stream[models.ContractAddress]

	Close()
}
