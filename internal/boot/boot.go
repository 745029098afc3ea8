// Package boot implements the replica startup sequence from spec.md §4.H:
// migrate, apply a configured reset epoch if newer than the last one seen,
// seed the contract registry, start node heartbeating, and hand off to the
// orchestrator.
package boot

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/chaindexer/chaindexer/internal/election"
	"github.com/chaindexer/chaindexer/internal/migrate"
	"github.com/chaindexer/chaindexer/internal/models"
	"github.com/chaindexer/chaindexer/internal/registry"
	"github.com/chaindexer/chaindexer/internal/repo"
)

// Config parameterizes one replica's boot sequence.
type Config struct {
	Repo repo.Repo

	// ResetCount is the embedder-configured epoch. If it exceeds the last
	// persisted ResetCount, ResetQueries run once before the registry seeds.
	ResetCount   int
	ResetQueries []string

	StaticContracts []models.ContractAddress

	ElectionCfg election.Config
}

// Result is what a successful boot hands back to the caller for wiring the
// orchestrator.
type Result struct {
	Registry *registry.Registry
	Elector  *election.Elector
}

// Run executes the boot sequence in order, per spec.md §4.H.
func Run(ctx context.Context, cfg Config, log *logrus.Entry) (*Result, error) {
	if err := migrate.Run(ctx, cfg.Repo); err != nil {
		return nil, err
	}

	if err := ApplyResetEpoch(ctx, cfg); err != nil {
		return nil, err
	}

	reg := registry.New(cfg.Repo)
	if err := reg.SeedStaticContracts(ctx, cfg.StaticContracts); err != nil {
		return nil, err
	}

	elector := election.New(cfg.ElectionCfg, log)
	if err := elector.Start(ctx); err != nil {
		return nil, err
	}

	return &Result{Registry: reg, Elector: elector}, nil
}

// ApplyResetEpoch implements step 3: if the configured reset_count exceeds
// the last persisted one, run reset_queries in a transaction, then record
// the new epoch. Node rows are untouched, so in-flight election state
// survives a reset. It is also exposed standalone for the reset CLI
// subcommand, which applies an epoch without running the rest of boot.
func ApplyResetEpoch(ctx context.Context, cfg Config) error {
	last, err := cfg.Repo.LatestResetCount(ctx)
	if err != nil {
		return err
	}
	if cfg.ResetCount <= last {
		return nil
	}
	err = cfg.Repo.WithTx(ctx, func(tx repo.Tx) error {
		for _, q := range cfg.ResetQueries {
			if err := tx.Exec(ctx, q); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return cfg.Repo.InsertResetCount(ctx)
}
