// Package config translates the YAML/env configuration loaded by
// pkg/config into a chaindexer.Config: dialing the Postgres pool, reading
// each contract's ABI file, and carrying over every tunable. Handlers are
// Go values, not config data, so callers attach ContractConfig.PureHandlers
// / SideEffectHandlers to the result before calling chaindexer.IndexStates.
package config

import (
	"context"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	chaindexer "github.com/chaindexer/chaindexer"
	"github.com/chaindexer/chaindexer/internal/models"
	"github.com/chaindexer/chaindexer/internal/repo/postgres"
	pkgconfig "github.com/chaindexer/chaindexer/pkg/config"
	"github.com/chaindexer/chaindexer/pkg/utils"
)

// Build opens the Postgres pool named by pcfg.Postgres.DSN and assembles a
// chaindexer.Config from the rest of pcfg. It does not dial any chain RPC
// endpoint directly; chaindexer.Config.Chains carries the URLs for the
// caller's chosen Provider construction.
func Build(ctx context.Context, pcfg pkgconfig.Config, log *logrus.Entry) (chaindexer.Config, error) {
	repo, err := postgres.Open(ctx, pcfg.Postgres.DSN, int32(pcfg.Postgres.PoolSize), log)
	if err != nil {
		return chaindexer.Config{}, err
	}

	chains := make(map[models.ChainID]string, len(pcfg.Chains))
	for _, c := range pcfg.Chains {
		chains[models.ChainID(c.ChainID)] = c.RPCURL
	}

	contracts := make([]chaindexer.ContractConfig, 0, len(pcfg.Contracts))
	for _, c := range pcfg.Contracts {
		abiJSON, err := readABI(c.ABIPath)
		if err != nil {
			return chaindexer.Config{}, err
		}
		contracts = append(contracts, chaindexer.ContractConfig{
			Name:             c.Name,
			ChainID:          models.ChainID(c.ChainID),
			Address:          c.Address,
			StartBlockNumber: c.StartBlockNumber,
			ABI:              abiJSON,
			ResetQueries:     c.ResetQueries,
		})
	}

	cfg := chaindexer.Config{
		Repo:      repo,
		Chains:    chains,
		Contracts: contracts,
		MinConfirmationCount: utils.EnvOrDefaultUint64(
			"CHAINDEXER_MIN_CONFIRMATION_COUNT", pcfg.Tunables.MinConfirmationCount),
		BlocksPerBatch: utils.EnvOrDefaultUint64(
			"CHAINDEXER_BLOCKS_PER_BATCH", pcfg.Tunables.BlocksPerBatch),
		HandlerRate:      msOrZero(pcfg.Tunables.HandlerRateMS),
		IngestionRate:    msOrZero(pcfg.Tunables.IngestionRateMS),
		NodeElectionRate: msOrZero(pcfg.Tunables.NodeElectionRateMS),
		MaxConcurrentNodeCount: utils.EnvOrDefaultInt(
			"CHAINDEXER_MAX_CONCURRENT_NODE_COUNT", pcfg.Tunables.MaxConcurrentNodeCount),
		ResetCount:       pcfg.Tunables.ResetCount,
		ResetQueries:     pcfg.ResetQueries,
		PruneNBlocksAway: utils.EnvOrDefaultUint64("CHAINDEXER_PRUNE_N_BLOCKS_AWAY", pcfg.Tunables.PruneNBlocksAway),
		PruneInterval:    msOrZero(pcfg.Tunables.PruneIntervalMS),
		OpsListenAddr:    pcfg.Ops.ListenAddr,
	}
	return cfg.WithDefaults(), nil
}

func msOrZero(ms int) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

func readABI(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
