// Package handler implements the per-chain handler runner (spec.md §4.E):
// reorg rewind, ordered event replay against pure handlers inside a
// transaction, and side-effect handlers invoked outside of it.
package handler

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chaindexer/chaindexer/internal/handlerapi"
	"github.com/chaindexer/chaindexer/internal/metrics"
	"github.com/chaindexer/chaindexer/internal/models"
	"github.com/chaindexer/chaindexer/internal/repo"
)

// Config parameterizes one chain's handler runner.
type Config struct {
	ChainID     models.ChainID
	Repo        repo.Repo
	Registry    handlerapi.ContractIncluder
	SharedState any
	HandlerRate time.Duration

	// Window bounds how many blocks a single tick fetches per address, via
	// get_events(address, cursor, cursor+Window).
	Window uint64

	// ResetQueriesByContract maps a contract name to the DDL/DML run against
	// its derived state during reorg rewind (ContractConfig.ResetQueries).
	ResetQueriesByContract map[string][]string
}

// Runner runs Config's tick loop until its context is cancelled.
type Runner struct {
	cfg                  Config
	log                  *logrus.Entry
	pureByContract       map[string][]handlerapi.PureHandler
	sideEffectByContract map[string][]handlerapi.SideEffectHandler
}

// New builds a Runner. pureByContract and sideEffectByContract key handlers
// by contract name, matching ContractConfig.PureHandlers/SideEffectHandlers.
func New(cfg Config, pureByContract map[string][]handlerapi.PureHandler, sideEffectByContract map[string][]handlerapi.SideEffectHandler, log *logrus.Entry) *Runner {
	if cfg.Window == 0 {
		cfg.Window = 10_000
	}
	return &Runner{
		cfg:                  cfg,
		log:                  log.WithFields(logrus.Fields{"component": "handler", "chain_id": cfg.ChainID}),
		pureByContract:       pureByContract,
		sideEffectByContract: sideEffectByContract,
	}
}

// Run ticks every cfg.HandlerRate until ctx is done.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.HandlerRate)
	defer ticker.Stop()

	for {
		if err := r.tick(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				r.log.Info("handler runner cancelled")
				return
			}
			r.log.WithError(err).Warn("handler tick failed, retrying next tick")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// tick runs one full iteration of spec.md §4.E's main loop.
func (r *Runner) tick(ctx context.Context) error {
	if err := r.rewindForReorgs(ctx); err != nil {
		return err
	}

	addrs, err := r.cfg.Repo.AllContractAddresses(ctx)
	if err != nil {
		return err
	}

	for _, a := range addrs {
		if a.ChainID != r.cfg.ChainID {
			continue
		}
		if err := r.handleAddress(ctx, a); err != nil {
			r.log.WithError(err).WithField("address", a.Address).Warn("handle failed, cursor not advanced")
			continue
		}
		if err := r.sideEffectAddress(ctx, a); err != nil {
			r.log.WithError(err).WithField("address", a.Address).Warn("side effects failed, cursor not advanced")
		}
	}
	return nil
}

// rewindForReorgs implements step 1: unhandled reorged blocks rewind the
// handle cursor for every address on the chain, run reset queries, and are
// marked handled.
func (r *Runner) rewindForReorgs(ctx context.Context) error {
	reorgs, err := r.cfg.Repo.UnhandledReorgedBlocks(ctx, r.cfg.ChainID)
	if err != nil {
		return err
	}
	if len(reorgs) == 0 {
		return nil
	}

	addrs, err := r.cfg.Repo.AllContractAddresses(ctx)
	if err != nil {
		return err
	}

	for _, rb := range reorgs {
		err := r.cfg.Repo.WithTx(ctx, func(tx repo.Tx) error {
			if err := tx.RewindHandleCursor(ctx, r.cfg.ChainID, rb.BlockNumber); err != nil {
				return err
			}
			for _, a := range addrs {
				if a.ChainID != r.cfg.ChainID {
					continue
				}
				for _, q := range r.cfg.ResetQueriesByContract[a.ContractName] {
					if err := tx.Exec(ctx, q, rb.BlockNumber); err != nil {
						return err
					}
				}
			}
			return tx.MarkReorgedBlockHandled(ctx, rb.ID, time.Now())
		})
		if err != nil {
			return err
		}
		r.log.WithField("block_number", rb.BlockNumber).Info("rewound handle cursor for reorg")
	}
	return nil
}

// handleAddress fetches [cursor, cursor+window] events for a, runs pure
// handlers for each in a single transaction that also advances the cursor,
// per step 2-3.
func (r *Runner) handleAddress(ctx context.Context, a models.ContractAddress) error {
	handlers := r.pureByContract[a.ContractName]
	from := a.NextBlockNumberToHandleFrom
	to := from + r.cfg.Window

	events, err := r.cfg.Repo.GetEvents(ctx, r.cfg.ChainID, a.Address, from, to)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}
	sortEvents(events)

	return r.cfg.Repo.WithTx(ctx, func(tx repo.Tx) error {
		for _, ev := range events {
			hctx := handlerapi.NewPureContext(ev, r.cfg.SharedState, r.cfg.Registry, tx)
			for _, h := range handlers {
				if err := h.Handle(ctx, hctx); err != nil {
					return err
				}
			}
			metrics.EventsHandled.WithLabelValues(chainLabel(r.cfg.ChainID)).Inc()
		}
		return tx.AdvanceHandleCursor(ctx, a.ID, to+1)
	})
}

// sideEffectAddress invokes side-effect handlers outside any transaction,
// per step 4, advancing the side-effect cursor only after every handler for
// an event succeeds.
func (r *Runner) sideEffectAddress(ctx context.Context, a models.ContractAddress) error {
	handlers := r.sideEffectByContract[a.ContractName]
	if len(handlers) == 0 {
		return nil
	}
	from := a.NextBlockNumberForSideEffects
	to := from + r.cfg.Window

	events, err := r.cfg.Repo.GetEvents(ctx, r.cfg.ChainID, a.Address, from, to)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}
	sortEvents(events)

	for _, ev := range events {
		hctx := handlerapi.NewSideEffectContext(ev, r.cfg.SharedState, r.cfg.Registry, r.cfg.Repo)
		for _, h := range handlers {
			if err := h.Handle(ctx, hctx); err != nil {
				return err
			}
		}
		if err := r.cfg.Repo.WithTx(ctx, func(tx repo.Tx) error {
			return tx.AdvanceSideEffectCursor(ctx, a.ID, ev.BlockNumber+1)
		}); err != nil {
			return err
		}
		metrics.SideEffectsInvoked.WithLabelValues(chainLabel(r.cfg.ChainID)).Inc()
	}
	return nil
}

func sortEvents(events []models.Event) {
	sort.Slice(events, func(i, j int) bool {
		if events[i].BlockNumber != events[j].BlockNumber {
			return events[i].BlockNumber < events[j].BlockNumber
		}
		return events[i].LogIndex < events[j].LogIndex
	})
}

func chainLabel(c models.ChainID) string {
	return c.String()
}
