// Package election implements the node registry and active-set derivation
// from spec.md §4.F: every replica heartbeats a Node row, and membership in
// the active set is derived independently by each replica from the same
// table snapshot rather than by in-band consensus messaging.
package election

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chaindexer/chaindexer/internal/metrics"
	"github.com/chaindexer/chaindexer/internal/models"
	"github.com/chaindexer/chaindexer/internal/repo"
)

// Config parameterizes the election loop.
type Config struct {
	Repo                   repo.RawQuery
	NodeElectionRate       time.Duration
	MaxConcurrentNodeCount int
}

// Elector heartbeats this replica's node row and exposes the active set it
// last observed.
type Elector struct {
	cfg Config
	log *logrus.Entry

	mu        sync.RWMutex
	nodeID    int64
	active    []models.Node
	leaderID  int64
}

// New builds an Elector. Start must be called before Snapshot/IsActive
// return meaningful results.
func New(cfg Config, log *logrus.Entry) *Elector {
	return &Elector{cfg: cfg, log: log.WithField("component", "election")}
}

// Start inserts this replica's node row, sleeps one full election interval
// per spec.md §4.F ("so that previously-active nodes whose processes have
// died have time to fall out of the active window"), then begins
// heartbeating until ctx is cancelled. It blocks until the initial sleep
// and first active-set refresh complete, then returns, leaving the
// heartbeat loop running in the background.
func (e *Elector) Start(ctx context.Context) error {
	id, err := e.cfg.Repo.CreateNode(ctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.nodeID = id
	e.mu.Unlock()

	if err := e.cfg.Repo.UpsertNodeHeartbeat(ctx, id, time.Now()); err != nil {
		return err
	}

	select {
	case <-time.After(e.cfg.NodeElectionRate):
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := e.refresh(ctx); err != nil {
		return err
	}

	go e.run(ctx)
	return nil
}

func (e *Elector) run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.NodeElectionRate)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		e.mu.RLock()
		id := e.nodeID
		e.mu.RUnlock()
		if err := e.cfg.Repo.UpsertNodeHeartbeat(ctx, id, time.Now()); err != nil {
			e.log.WithError(err).Warn("heartbeat failed")
		}
		if err := e.refresh(ctx); err != nil {
			e.log.WithError(err).Warn("active-set refresh failed")
		}
	}
}

// refresh recomputes the active set: nodes whose last_active_at is within
// 2 x node_election_rate of now, the first max_concurrent_node_count of
// those ordered by id ascending.
func (e *Elector) refresh(ctx context.Context) error {
	since := time.Now().Add(-2 * e.cfg.NodeElectionRate)
	nodes, err := e.cfg.Repo.ActiveNodes(ctx, since)
	if err != nil {
		return err
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	if len(nodes) > e.cfg.MaxConcurrentNodeCount {
		nodes = nodes[:e.cfg.MaxConcurrentNodeCount]
	}

	e.mu.Lock()
	e.active = nodes
	if len(nodes) > 0 {
		e.leaderID = nodes[0].ID
	} else {
		e.leaderID = 0
	}
	e.mu.Unlock()
	metrics.ActiveNodes.Set(float64(len(nodes)))
	return nil
}

// NodeID returns this replica's own node id, valid after Start returns.
func (e *Elector) NodeID() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.nodeID
}

// IsActive reports whether this replica is currently in the active set, as
// of the last refresh.
func (e *Elector) IsActive() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, n := range e.active {
		if n.ID == e.nodeID {
			return true
		}
	}
	return false
}

// IsLeader reports whether this replica is the active set's lowest-id
// member, as of the last refresh.
func (e *Elector) IsLeader() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.leaderID != 0 && e.leaderID == e.nodeID
}

// ActiveSet returns a copy of the most recently observed active set.
func (e *Elector) ActiveSet() []models.Node {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]models.Node(nil), e.active...)
}
