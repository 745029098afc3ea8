// Package ethrpc implements internal/provider.Provider against a real EVM
// JSON-RPC endpoint using go-ethereum's ethclient, the vocabulary the rest
// of the pipeline (types.Log, common.Address, common.Hash) is built around.
package ethrpc

import (
	"context"
	"errors"
	"math/big"
	"net"
	"sort"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/chaindexer/chaindexer/internal/provider"
)

// Client adapts *ethclient.Client to provider.Provider for a single chain.
type Client struct {
	eth *ethclient.Client
}

// Dial connects to an EVM JSON-RPC endpoint (http(s) or ws(s)).
func Dial(ctx context.Context, rpcURL string) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, classify(err)
	}
	return &Client{eth: eth}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() { c.eth.Close() }

// GetBlockNumber returns the chain's current head via eth_blockNumber.
func (c *Client) GetBlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, classify(err)
	}
	return n, nil
}

// GetLogs calls eth_getLogs over [from, to] for the given addresses and
// returns the result sorted ascending by (BlockNumber, Index) as a guard
// against a non-conforming RPC backend, since the ingester's batch window
// and reorg detection both depend on that ordering.
func (c *Client) GetLogs(ctx context.Context, from, to uint64, addresses []string) ([]types.Log, error) {
	addrs := make([]common.Address, len(addresses))
	for i, a := range addresses {
		addrs[i] = common.HexToAddress(a)
	}
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: addrs,
	}
	logs, err := c.eth.FilterLogs(ctx, query)
	if err != nil {
		return nil, classify(err)
	}
	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})
	return logs, nil
}

// classify maps a raw RPC error onto provider.ErrTransient/ErrFatal per
// spec.md §7: context deadlines, connection resets and DNS failures retry
// on the next tick; anything else (e.g. "method not found" for a chain the
// endpoint doesn't actually serve) is treated as fatal.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errWrap(provider.ErrTransient, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return errWrap(provider.ErrTransient, err)
	}
	return errWrap(provider.ErrFatal, err)
}

func errWrap(sentinel, cause error) error {
	return &providerError{sentinel: sentinel, cause: cause}
}

type providerError struct {
	sentinel error
	cause    error
}

func (e *providerError) Error() string { return e.sentinel.Error() + ": " + e.cause.Error() }
func (e *providerError) Unwrap() error { return e.sentinel }
