// Package models defines the persisted row types shared by every component
// of the indexer: the repo, the registry, the ingester and the handler
// runner all read and write these shapes rather than passing around raw
// SQL rows.
package models

import (
	"strconv"
	"strings"
	"time"
)

// ChainID identifies an EVM chain. It is the chain's numeric chain ID.
type ChainID uint64

// String renders the chain ID as a plain decimal string, used as a metrics
// label value.
func (c ChainID) String() string { return strconv.FormatUint(uint64(c), 10) }

// ContractAddress is a tracked (chain, address) pair together with its three
// independent ingestion/handling cursors. Identity is (ChainID, Address).
type ContractAddress struct {
	ID                          int64
	ContractName                string
	ChainID                     ChainID
	Address                     string
	StartBlockNumber            uint64
	NextBlockNumberToIngestFrom uint64
	NextBlockNumberToHandleFrom uint64
	NextBlockNumberForSideEffects uint64
}

// NormalizeAddress case-folds an address the way every write path must
// before it reaches storage. Callers comparing addresses must do the same.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// Event is a single decoded log, append-only between reorg windows.
// Identity is ID. A secondary uniqueness constraint is
// (TransactionHash, LogIndex, ChainID).
type Event struct {
	ID               string // UUID
	ChainID          ChainID
	ContractAddress  string
	ContractName     string
	ABISignature     string
	LogParams        []byte // JSON-encoded decoded params
	Topics           []string
	BlockHash        string
	BlockNumber      uint64
	TransactionHash  string
	TransactionIndex uint64
	LogIndex         uint64
	Removed          bool
}

// ReorgedBlock records that a previously canonical block on ChainID was
// replaced, invalidating stored events at or after BlockNumber.
type ReorgedBlock struct {
	ID          int64
	BlockNumber uint64
	ChainID     ChainID
	HandledAt   *time.Time
}

// Node is a heartbeating replica. Active iff LastActiveAt is within two
// election intervals of now.
type Node struct {
	ID           int64
	LastActiveAt time.Time
}

// IsActive reports whether the node's heartbeat is still within the active
// window as of now, given the configured election interval.
func (n Node) IsActive(now time.Time, electionRate time.Duration) bool {
	return !n.LastActiveAt.Before(now.Add(-2 * electionRate))
}

// ResetCount is an append-only epoch marker; the row count is the current
// epoch number.
type ResetCount struct {
	ID        int64
	CreatedAt time.Time
}
