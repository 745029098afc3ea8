// Package config provides a reusable loader for chaindexerd configuration
// files and environment variables. It is versioned so that applications can
// depend on a stable API contract.
//
// Version: v0.1.0
package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/chaindexer/chaindexer/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// ChainEntry is one configured JSON-RPC endpoint.
type ChainEntry struct {
	ChainID uint64 `mapstructure:"chain_id" json:"chain_id" yaml:"chain_id"`
	RPCURL  string `mapstructure:"rpc_url" json:"rpc_url" yaml:"rpc_url"`
}

// ContractEntry is one statically configured contract.
type ContractEntry struct {
	Name             string   `mapstructure:"name" json:"name" yaml:"name"`
	ChainID          uint64   `mapstructure:"chain_id" json:"chain_id" yaml:"chain_id"`
	Address          string   `mapstructure:"address" json:"address" yaml:"address"`
	StartBlockNumber uint64   `mapstructure:"start_block_number" json:"start_block_number" yaml:"start_block_number"`
	ABIPath          string   `mapstructure:"abi_path" json:"abi_path" yaml:"abi_path"`
	ResetQueries     []string `mapstructure:"reset_queries" json:"reset_queries" yaml:"reset_queries"`
}

// Config mirrors the structure of the YAML files under cmd/config.
type Config struct {
	Postgres struct {
		DSN      string `mapstructure:"dsn" json:"dsn" yaml:"dsn"`
		PoolSize int    `mapstructure:"pool_size" json:"pool_size" yaml:"pool_size"`
	} `mapstructure:"postgres" json:"postgres" yaml:"postgres"`

	Chains    []ChainEntry    `mapstructure:"chains" json:"chains" yaml:"chains"`
	Contracts []ContractEntry `mapstructure:"contracts" json:"contracts" yaml:"contracts"`

	Tunables struct {
		MinConfirmationCount   uint64 `mapstructure:"min_confirmation_count" json:"min_confirmation_count" yaml:"min_confirmation_count"`
		BlocksPerBatch         uint64 `mapstructure:"blocks_per_batch" json:"blocks_per_batch" yaml:"blocks_per_batch"`
		HandlerRateMS          int    `mapstructure:"handler_rate_ms" json:"handler_rate_ms" yaml:"handler_rate_ms"`
		IngestionRateMS        int    `mapstructure:"ingestion_rate_ms" json:"ingestion_rate_ms" yaml:"ingestion_rate_ms"`
		NodeElectionRateMS     int    `mapstructure:"node_election_rate_ms" json:"node_election_rate_ms" yaml:"node_election_rate_ms"`
		MaxConcurrentNodeCount int    `mapstructure:"max_concurrent_node_count" json:"max_concurrent_node_count" yaml:"max_concurrent_node_count"`
		ResetCount             int    `mapstructure:"reset_count" json:"reset_count" yaml:"reset_count"`
		PruneNBlocksAway       uint64 `mapstructure:"prune_n_blocks_away" json:"prune_n_blocks_away" yaml:"prune_n_blocks_away"`
		PruneIntervalMS        int    `mapstructure:"prune_interval_ms" json:"prune_interval_ms" yaml:"prune_interval_ms"`
	} `mapstructure:"tunables" json:"tunables" yaml:"tunables"`

	// ResetQueries are DDL/DML statements run against process-wide derived
	// state whenever the reset epoch advances, independent of any single
	// contract's own reset queries.
	ResetQueries []string `mapstructure:"reset_queries" json:"reset_queries" yaml:"reset_queries"`

	Ops struct {
		ListenAddr string `mapstructure:"listen_addr" json:"listen_addr" yaml:"listen_addr"`
	} `mapstructure:"ops" json:"ops" yaml:"ops"`

	Logging struct {
		Level string `mapstructure:"level" json:"level" yaml:"level"`
		File  string `mapstructure:"file" json:"file" yaml:"file"`
	} `mapstructure:"logging" json:"logging" yaml:"logging"`
}

// ToYAML renders the effective configuration back to YAML, for operators
// diagnosing what a layered file+env load actually produced.
func (c Config) ToYAML() (string, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and returned.
//
// The function uses the provided environment name to merge additional config
// files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	_ = godotenv.Load() // best-effort; a missing .env is not an error

	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the CHAINDEXER_ENV environment
// variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("CHAINDEXER_ENV", ""))
}
