// Package repotest provides an in-memory implementation of repo.Repo for
// unit tests, so the ingester, handler runner, election and orchestrator
// packages can be exercised without a live Postgres instance. It implements
// the same conflict/cursor-regression rules as internal/repo/postgres so
// the invariants in spec.md §8 hold identically for both.
package repotest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/chaindexer/chaindexer/internal/models"
	"github.com/chaindexer/chaindexer/internal/repo"
)

// Repo is a mutex-guarded, fully in-process repo.Repo.
type Repo struct {
	mu sync.Mutex

	nextAddrID  int64
	nextEventID int64 // unused; events use caller-supplied UUIDs
	nextRBID    int64
	nextNodeID  int64

	addrs      []models.ContractAddress
	events     []models.Event
	reorgs     []models.ReorgedBlock
	nodes      []models.Node
	resetCount int

	chainLocks map[models.ChainID]*sync.Mutex
}

// New returns an empty fake repo.
func New() *Repo {
	return &Repo{chainLocks: make(map[models.ChainID]*sync.Mutex)}
}

func (r *Repo) Close() {}

// --- Transactional -----------------------------------------------------

func (r *Repo) WithTx(ctx context.Context, fn func(repo.Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := r.snapshot()
	tx := &fakeTx{r: r}
	if err := fn(tx); err != nil {
		r.restore(snapshot)
		return err
	}
	return nil
}

type repoSnapshot struct {
	addrs  []models.ContractAddress
	events []models.Event
	reorgs []models.ReorgedBlock
}

func (r *Repo) snapshot() repoSnapshot {
	return repoSnapshot{
		addrs:  append([]models.ContractAddress(nil), r.addrs...),
		events: append([]models.Event(nil), r.events...),
		reorgs: append([]models.ReorgedBlock(nil), r.reorgs...),
	}
}

func (r *Repo) restore(s repoSnapshot) {
	r.addrs, r.events, r.reorgs = s.addrs, s.events, s.reorgs
}

// --- RawQuery ------------------------------------------------------------

func (r *Repo) Exec(ctx context.Context, query string, args ...any) error { return nil }

func (r *Repo) UpsertContractAddresses(ctx context.Context, batch []models.ContractAddress) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range batch {
		r.upsertLocked(c)
	}
	return nil
}

func (r *Repo) upsertLocked(c models.ContractAddress) {
	addr := models.NormalizeAddress(c.Address)
	for i := range r.addrs {
		if r.addrs[i].ChainID == c.ChainID && r.addrs[i].Address == addr {
			// P2: overwrite name + start block, never regress cursors.
			r.addrs[i].ContractName = c.ContractName
			r.addrs[i].StartBlockNumber = c.StartBlockNumber
			return
		}
	}
	r.nextAddrID++
	c.ID = r.nextAddrID
	c.Address = addr
	c.NextBlockNumberToIngestFrom = c.StartBlockNumber
	c.NextBlockNumberToHandleFrom = c.StartBlockNumber
	c.NextBlockNumberForSideEffects = c.StartBlockNumber
	r.addrs = append(r.addrs, c)
}

func (r *Repo) CreateContractAddress(ctx context.Context, addr models.ContractAddress) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	norm := models.NormalizeAddress(addr.Address)
	for _, existing := range r.addrs {
		if existing.ChainID == addr.ChainID && existing.Address == norm {
			return nil // no-op on conflict
		}
	}
	r.nextAddrID++
	addr.ID = r.nextAddrID
	addr.Address = norm
	addr.NextBlockNumberToIngestFrom = addr.StartBlockNumber
	addr.NextBlockNumberToHandleFrom = addr.StartBlockNumber
	addr.NextBlockNumberForSideEffects = addr.StartBlockNumber
	r.addrs = append(r.addrs, addr)
	return nil
}

func (r *Repo) AllContractAddresses(ctx context.Context) ([]models.ContractAddress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ContractAddress(nil), r.addrs...), nil
}

func (r *Repo) GetEvents(ctx context.Context, chainID models.ChainID, address string, from, to uint64) ([]models.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	norm := models.NormalizeAddress(address)
	var out []models.Event
	for _, e := range r.events {
		if e.ChainID == chainID && e.ContractAddress == norm && e.BlockNumber >= from && e.BlockNumber <= to {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber < out[j].BlockNumber
		}
		return out[i].LogIndex < out[j].LogIndex
	})
	return out, nil
}

func (r *Repo) UnhandledReorgedBlocks(ctx context.Context, chainID models.ChainID) ([]models.ReorgedBlock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ReorgedBlock
	for _, rb := range r.reorgs {
		if rb.ChainID == chainID && rb.HandledAt == nil {
			out = append(out, rb)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BlockNumber < out[j].BlockNumber })
	return out, nil
}

func (r *Repo) UpsertNodeHeartbeat(ctx context.Context, nodeID int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.nodes {
		if r.nodes[i].ID == nodeID {
			r.nodes[i].LastActiveAt = at
			return nil
		}
	}
	return nil
}

func (r *Repo) CreateNode(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextNodeID++
	r.nodes = append(r.nodes, models.Node{ID: r.nextNodeID, LastActiveAt: time.Now()})
	return r.nextNodeID, nil
}

func (r *Repo) ActiveNodes(ctx context.Context, since time.Time) ([]models.Node, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Node
	for _, n := range r.nodes {
		if !n.LastActiveAt.Before(since) {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Repo) LatestResetCount(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resetCount, nil
}

func (r *Repo) InsertResetCount(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetCount++
	return nil
}

// AcquireChainLock emulates a per-chain advisory lock using an in-process
// mutex so ingester tests can exercise the locking protocol without a
// database.
func (r *Repo) AcquireChainLock(ctx context.Context, chainID models.ChainID) (func(), error) {
	r.mu.Lock()
	m, ok := r.chainLocks[chainID]
	if !ok {
		m = &sync.Mutex{}
		r.chainLocks[chainID] = m
	}
	r.mu.Unlock()

	m.Lock()
	return m.Unlock, nil
}

// PruneEvents deletes chainID's events and already-handled reorged blocks
// with block_number < beforeBlock.
func (r *Repo) PruneEvents(ctx context.Context, chainID models.ChainID, beforeBlock uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	events := r.events[:0:0]
	for _, e := range r.events {
		if e.ChainID == chainID && e.BlockNumber < beforeBlock {
			continue
		}
		events = append(events, e)
	}
	r.events = events

	reorgs := r.reorgs[:0:0]
	for _, rb := range r.reorgs {
		if rb.ChainID == chainID && rb.BlockNumber < beforeBlock && rb.HandledAt != nil {
			continue
		}
		reorgs = append(reorgs, rb)
	}
	r.reorgs = reorgs
	return nil
}

func (r *Repo) StreamContractAddresses(chainID models.ChainID, page int) repo.Stream[models.ContractAddress] {
	return &fakeStream{r: r, chainID: chainID, page: page}
}

type fakeStream struct {
	r          *Repo
	chainID    models.ChainID
	page       int
	lastSeenID int64
}

func (s *fakeStream) Next(ctx context.Context) ([]models.ContractAddress, error) {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()

	var candidates []models.ContractAddress
	for _, a := range s.r.addrs {
		if a.ChainID == s.chainID && a.ID > s.lastSeenID {
			candidates = append(candidates, a)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })
	if len(candidates) > s.page {
		candidates = candidates[:s.page]
	}
	if len(candidates) == 0 {
		s.lastSeenID = 0
		return nil, nil
	}
	s.lastSeenID = candidates[len(candidates)-1].ID
	return candidates, nil
}

// SnapshotAddresses exposes the current contract-address table for assertions in
// tests that exercise ingest/handler loops end to end against this fake.
func (r *Repo) SnapshotAddresses() []models.ContractAddress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ContractAddress(nil), r.addrs...)
}

// SnapshotEvents exposes the current events table for assertions.
func (r *Repo) SnapshotEvents() []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Event(nil), r.events...)
}
