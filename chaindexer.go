package chaindexer

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chaindexer/chaindexer/internal/boot"
	"github.com/chaindexer/chaindexer/internal/election"
	"github.com/chaindexer/chaindexer/internal/evm"
	"github.com/chaindexer/chaindexer/internal/handler"
	"github.com/chaindexer/chaindexer/internal/handlerapi"
	"github.com/chaindexer/chaindexer/internal/ingest"
	"github.com/chaindexer/chaindexer/internal/models"
	"github.com/chaindexer/chaindexer/internal/opsserver"
	"github.com/chaindexer/chaindexer/internal/orchestrator"
	"github.com/chaindexer/chaindexer/internal/provider"
	"github.com/chaindexer/chaindexer/internal/provider/ethrpc"
	"github.com/chaindexer/chaindexer/internal/pruning"
)

// IndexStates wires a Config into the full replica: it boots (migrate,
// apply any pending reset epoch, seed the registry, start election), then
// runs the task orchestrator until ctx is cancelled. It returns nil on
// clean shutdown and a non-nil error if boot or Config.Validate fails.
func IndexStates(ctx context.Context, cfg Config) error {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logrus.NewEntry(logrus.StandardLogger())

	providers, err := dialProviders(ctx, cfg.Chains)
	if err != nil {
		return err
	}

	staticAddrs := make([]models.ContractAddress, 0, len(cfg.Contracts))
	for _, c := range cfg.Contracts {
		staticAddrs = append(staticAddrs, models.ContractAddress{
			ChainID: c.ChainID, ContractName: c.Name, Address: c.Address, StartBlockNumber: c.StartBlockNumber,
		})
	}

	res, err := boot.Run(ctx, boot.Config{
		Repo:            cfg.Repo,
		ResetCount:      cfg.ResetCount,
		ResetQueries:    cfg.ResetQueries,
		StaticContracts: staticAddrs,
		ElectionCfg: election.Config{
			Repo:                   cfg.Repo,
			NodeElectionRate:       cfg.NodeElectionRate,
			MaxConcurrentNodeCount: cfg.MaxConcurrentNodeCount,
		},
	}, log)
	if err != nil {
		return fmt.Errorf("boot: %w", err)
	}

	decoder := evm.NewDecoder()
	pureByContract := map[string][]handlerapi.PureHandler{}
	sideEffectByContract := map[string][]handlerapi.SideEffectHandler{}
	resetQueriesByContract := map[string][]string{}
	for _, c := range cfg.Contracts {
		if c.ABI != "" {
			if err := decoder.RegisterABI(c.Name, c.ABI); err != nil {
				return fmt.Errorf("register abi for %s: %w", c.Name, err)
			}
		}
		pureByContract[c.Name] = c.PureHandlers
		sideEffectByContract[c.Name] = c.SideEffectHandlers
		resetQueriesByContract[c.Name] = c.ResetQueries
	}

	chainTasks := make(map[models.ChainID]orchestrator.ChainTasks, len(cfg.Chains))
	for chainID := range cfg.Chains {
		prov, ok := providers[chainID]
		if !ok {
			return fmt.Errorf("%w: chain %d", ErrNoChain, chainID)
		}

		ingester := ingest.New(ingest.Config{
			ChainID:              chainID,
			Provider:             prov,
			Repo:                 cfg.Repo,
			Decoder:              decoder,
			BlocksPerBatch:       cfg.BlocksPerBatch,
			MinConfirmationCount: cfg.MinConfirmationCount,
			IngestionRate:        cfg.IngestionRate,
			StreamPageSize:       cfg.StreamPageSize,
		}, log)

		handlerRunner := handler.New(handler.Config{
			ChainID:                chainID,
			Repo:                   cfg.Repo,
			Registry:               res.Registry,
			SharedState:            cfg.SharedState,
			HandlerRate:            cfg.HandlerRate,
			Window:                 cfg.BlocksPerBatch,
			ResetQueriesByContract: resetQueriesByContract,
		}, pureByContract, sideEffectByContract, log)

		pruner := pruning.New(pruning.Config{
			ChainID:     chainID,
			Provider:    prov,
			Repo:        cfg.Repo,
			NBlocksAway: cfg.PruneNBlocksAway,
			Interval:    cfg.PruneInterval,
		}, log)

		chainTasks[chainID] = orchestrator.ChainTasks{
			RunIngester: ingester.Run,
			RunHandler:  handlerRunner.Run,
			RunPruner:   pruner.Run,
		}
	}

	var opt *orchestrator.Optimization
	if cfg.Optimization != nil {
		opt = &orchestrator.Optimization{
			KeepNodeActiveRequest: cfg.Optimization.KeepNodeActiveRequest,
			OptimizeAfter:         cfg.Optimization.OptimizeAfter,
		}
	}

	orch := orchestrator.New(orchestrator.Config{
		Elector:      res.Elector,
		Chains:       chainTasks,
		TickRate:     cfg.IngestionRate,
		Optimization: opt,
	}, log)

	if cfg.OpsListenAddr != "" {
		srv := &http.Server{Addr: cfg.OpsListenAddr, Handler: opsserver.New(res.Elector)}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("ops server stopped")
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	orch.Run(ctx)
	return nil
}

func dialProviders(ctx context.Context, chains map[models.ChainID]string) (map[models.ChainID]provider.Provider, error) {
	out := make(map[models.ChainID]provider.Provider, len(chains))
	for chainID, url := range chains {
		client, err := ethrpc.Dial(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("dial chain %d: %w", chainID, err)
		}
		out[chainID] = client
	}
	return out, nil
}
