// Package providertest is a scriptable in-memory provider.Provider for
// ingester tests: the caller seeds a head height and a log set up front,
// then the test asserts on what the ingester does with them, including
// reorgs by mutating the seeded logs between ticks.
package providertest

import (
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/core/types"
)

// Provider is a fake that serves a fixed head and an editable log set.
type Provider struct {
	mu     sync.Mutex
	head   uint64
	logs   []types.Log
	err    error
	calls  int
}

// New returns a fake at the given head height with no logs.
func New(head uint64) *Provider { return &Provider{head: head} }

// SetHead updates the simulated chain head, e.g. to advance between ticks.
func (p *Provider) SetHead(head uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.head = head
}

// SetLogs replaces the full log set the provider will filter from, used to
// simulate both normal progress and reorgs (same block number, different
// hash, or Removed: true).
func (p *Provider) SetLogs(logs []types.Log) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logs = logs
}

// SetErr makes every subsequent call fail with err until cleared with nil.
func (p *Provider) SetErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Calls returns how many GetLogs calls have been made, for assertions on
// batching behavior.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *Provider) GetBlockNumber(ctx context.Context) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return 0, p.err
	}
	return p.head, nil
}

func (p *Provider) GetLogs(ctx context.Context, from, to uint64, addresses []string) ([]types.Log, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}

	want := make(map[string]bool, len(addresses))
	for _, a := range addresses {
		want[a] = true
	}

	var out []types.Log
	for _, l := range p.logs {
		if l.BlockNumber < from || l.BlockNumber > to {
			continue
		}
		if !want[l.Address.Hex()] {
			continue
		}
		out = append(out, l)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber < out[j].BlockNumber
		}
		return out[i].Index < out[j].Index
	})
	return out, nil
}
