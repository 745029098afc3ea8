// Package handlerapi defines the handler-facing surface spec.md §6 calls
// "exposed, not specified internally": the context object passed to every
// handler invocation, and the two handler interfaces (pure and
// side-effecting) an embedder implements. It lives apart from the
// internal/handler runner so the top-level chaindexer package and
// internal/handler can both depend on it without an import cycle.
package handlerapi

import (
	"context"

	"github.com/chaindexer/chaindexer/internal/models"
	"github.com/chaindexer/chaindexer/internal/repo"
)

// ContractIncluder is the narrow registry capability IncludeContractInIndexing
// needs; internal/registry.Registry satisfies it.
type ContractIncluder interface {
	IncludeContract(ctx context.Context, chainID models.ChainID, name, address string, startBlock uint64) error
}

// Context is passed to every handler invocation. It exposes the event
// being handled, a raw-query client scoped to the handler's state tables,
// the shared state handle from Config.SharedState, and
// IncludeContractInIndexing for runtime contract discovery.
type Context struct {
	Event       models.Event
	SharedState any

	rawQuery repo.RawQuery
	tx       repo.Tx
	registry ContractIncluder
}

// NewPureContext is used by the handler runner for pure handlers, which run
// inside the transaction that also advances the cursor.
func NewPureContext(ev models.Event, shared any, reg ContractIncluder, tx repo.Tx) *Context {
	return &Context{Event: ev, SharedState: shared, registry: reg, tx: tx}
}

// NewSideEffectContext is used for side-effect handlers, which run outside
// any transaction.
func NewSideEffectContext(ev models.Event, shared any, reg ContractIncluder, rq repo.RawQuery) *Context {
	return &Context{Event: ev, SharedState: shared, registry: reg, rawQuery: rq}
}

// Exec runs a state-table DDL/DML statement. For pure handlers this
// executes inside the same transaction as the cursor advance; for
// side-effect handlers it executes directly.
func (h *Context) Exec(ctx context.Context, query string, args ...any) error {
	if h.tx != nil {
		return h.tx.Exec(ctx, query, args...)
	}
	return h.rawQuery.Exec(ctx, query, args...)
}

// IncludeContractInIndexing upserts a new contract address with
// start_block_number set to the current event's block number, so the
// ingester picks it up from exactly the point the handler discovered it.
func (h *Context) IncludeContractInIndexing(ctx context.Context, name, address string) error {
	return h.registry.IncludeContract(ctx, h.Event.ChainID, name, address, h.Event.BlockNumber)
}

// PureHandler mutates derived state from a decoded event. It must be
// idempotent with respect to the store: the handler runner guarantees it
// runs at most once per (event, cursor-advance) by wrapping it and the
// cursor update in a single transaction, but a user who also reaches
// outside that transaction (e.g. an in-memory cache) is responsible for
// that side's idempotence.
type PureHandler interface {
	Name() string
	Handle(ctx context.Context, hctx *Context) error
}

// SideEffectHandler performs an external effect (a webhook, a queue
// publish) in response to a decoded event. It runs outside the storage
// transaction and is invoked at-least-once: the handler runner advances the
// side-effect cursor only after Handle returns nil, so a crash between the
// effect and the cursor advance replays the effect on restart. Handlers
// must therefore be idempotent themselves.
type SideEffectHandler interface {
	Name() string
	Handle(ctx context.Context, hctx *Context) error
}
