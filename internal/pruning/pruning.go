// Package pruning implements the auxiliary task that bounds event and
// reorged-block table growth (spec.md §4.G step 2): on an interval much
// coarser than the ingester/handler ticks, delete rows older than a
// configurable block-depth retention window. It does not archive what it
// deletes (spec.md §1 Non-goals).
package pruning

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chaindexer/chaindexer/internal/models"
	"github.com/chaindexer/chaindexer/internal/provider"
	"github.com/chaindexer/chaindexer/internal/repo"
)

// Config parameterizes one chain's pruner.
type Config struct {
	ChainID  models.ChainID
	Provider provider.Provider
	Repo     repo.RawQuery

	// NBlocksAway is how far behind the current head the retention
	// watermark sits: rows with block_number < head-NBlocksAway are pruned.
	NBlocksAway uint64

	// Interval is how often the pruner ticks.
	Interval time.Duration
}

// Pruner runs Config's tick loop until its context is cancelled.
type Pruner struct {
	cfg Config
	log *logrus.Entry
}

// New builds a Pruner for cfg.
func New(cfg Config, log *logrus.Entry) *Pruner {
	return &Pruner{cfg: cfg, log: log.WithFields(logrus.Fields{"component": "pruning", "chain_id": cfg.ChainID})}
}

// Run ticks every cfg.Interval until ctx is done.
func (p *Pruner) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := p.tick(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				p.log.Info("pruner cancelled")
				return
			}
			p.log.WithError(err).Warn("prune tick failed, retrying next tick")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// tick deletes events and already-handled reorged blocks below the
// retention watermark, mirroring the original implementation's
// get_min_block_number (head minus NBlocksAway, or 0 if the chain hasn't
// produced NBlocksAway blocks yet).
func (p *Pruner) tick(ctx context.Context) error {
	head, err := p.cfg.Provider.GetBlockNumber(ctx)
	if err != nil {
		return err
	}
	beforeBlock := minBlockNumber(head, p.cfg.NBlocksAway)
	if err := p.cfg.Repo.PruneEvents(ctx, p.cfg.ChainID, beforeBlock); err != nil {
		return err
	}
	p.log.WithField("before_block", beforeBlock).Info("pruned events and reorged blocks")
	return nil
}

func minBlockNumber(currentBlockNumber, nBlocksAway uint64) uint64 {
	if currentBlockNumber < nBlocksAway {
		return 0
	}
	return currentBlockNumber - nBlocksAway
}
