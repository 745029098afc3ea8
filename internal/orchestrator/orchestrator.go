// Package orchestrator implements the per-replica task-group state machine
// from spec.md §4.G: start or stop each chain's ingester and handler tasks
// as this replica enters or leaves the active set, with cooperative
// cancellation via context.Context and an optional optimization state that
// can idle an active replica that no longer wants the work.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chaindexer/chaindexer/internal/election"
	"github.com/chaindexer/chaindexer/internal/metrics"
	"github.com/chaindexer/chaindexer/internal/models"
)

// ChainTasks are the two long-lived loops a chain contributes: they must
// return promptly once ctx is cancelled.
type ChainTasks struct {
	RunIngester func(ctx context.Context)
	RunHandler  func(ctx context.Context)

	// RunPruner is the auxiliary task that bounds event/reorged-block table
	// growth (spec.md §4.G step 2). Handler-subscription polling and reorg
	// monitoring are not separate tasks here: both concerns are already
	// covered inline, by RunHandler's fresh-per-tick address reads and by
	// the ingester/handler reorg-detect-and-rewind pair (see DESIGN.md).
	RunPruner func(ctx context.Context)
}

// Optimization lets an embedder voluntarily give up this replica's task
// groups, per spec.md §4.G step 4.
type Optimization struct {
	KeepNodeActiveRequest func() bool
	OptimizeAfter         time.Duration
}

// Config parameterizes the orchestrator.
type Config struct {
	Elector      *election.Elector
	Chains       map[models.ChainID]ChainTasks
	TickRate     time.Duration
	Optimization *Optimization
}

// state mirrors spec.md §4.G's optional optimization state.
type state int

const (
	stateActive state = iota
	stateIdle
)

// Orchestrator runs Config's tick loop, starting and stopping per-chain task
// groups as this replica's active-set membership changes.
type Orchestrator struct {
	cfg Config
	log *logrus.Entry

	bootTime time.Time

	mu          sync.Mutex
	running     bool
	cancelTasks context.CancelFunc
	wg          sync.WaitGroup

	optState           state
	keepWantsActiveSince time.Time // zero until the predicate first returns false
}

// New builds an Orchestrator.
func New(cfg Config, log *logrus.Entry) *Orchestrator {
	return &Orchestrator{cfg: cfg, log: log.WithField("component", "orchestrator")}
}

// Run ticks every cfg.TickRate until ctx is cancelled, at which point any
// running task group is stopped before returning.
func (o *Orchestrator) Run(ctx context.Context) {
	o.bootTime = time.Now()
	ticker := time.NewTicker(o.cfg.TickRate)
	defer ticker.Stop()

	for {
		o.tick()
		select {
		case <-ctx.Done():
			o.stopTasks()
			return
		case <-ticker.C:
		}
	}
}

// tick implements spec.md §4.G's four steps.
func (o *Orchestrator) tick() {
	amIActive := o.cfg.Elector.IsActive()

	if o.cfg.Optimization != nil {
		o.evaluateOptimization(amIActive)
	}

	o.mu.Lock()
	running := o.running
	optIdle := o.optState == stateIdle
	o.mu.Unlock()

	switch {
	case amIActive && !optIdle && !running:
		o.startTasks()
	case (!amIActive || optIdle) && running:
		o.stopTasks()
	}
}

// evaluateOptimization implements step 4: after optimize_after has elapsed
// since boot, if keep_node_active_request returns false continuously for a
// full tick interval, move to Idle even while still in the active set. Any
// true reading, or leaving the active set, resets the grace timer.
func (o *Orchestrator) evaluateOptimization(amIActive bool) {
	opt := o.cfg.Optimization
	if !amIActive || time.Since(o.bootTime) < opt.OptimizeAfter {
		o.mu.Lock()
		o.keepWantsActiveSince = time.Time{}
		o.optState = stateActive
		o.mu.Unlock()
		return
	}

	wantsActive := opt.KeepNodeActiveRequest == nil || opt.KeepNodeActiveRequest()

	o.mu.Lock()
	defer o.mu.Unlock()
	if wantsActive {
		o.keepWantsActiveSince = time.Time{}
		o.optState = stateActive
		return
	}
	if o.keepWantsActiveSince.IsZero() {
		o.keepWantsActiveSince = time.Now()
		return
	}
	if time.Since(o.keepWantsActiveSince) >= o.cfg.TickRate {
		o.optState = stateIdle
	}
}

// startTasks launches every chain's ingester and handler goroutines under a
// single cancellable context.
func (o *Orchestrator) startTasks() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	o.cancelTasks = cancel
	o.running = true

	for chainID, tasks := range o.cfg.Chains {
		chainID, tasks := chainID, tasks
		o.wg.Add(2)
		go func() {
			defer o.wg.Done()
			tasks.RunIngester(ctx)
		}()
		go func() {
			defer o.wg.Done()
			tasks.RunHandler(ctx)
		}()
		if tasks.RunPruner != nil {
			o.wg.Add(1)
			go func() {
				defer o.wg.Done()
				tasks.RunPruner(ctx)
			}()
		}
		o.log.WithField("chain_id", chainID).Info("started chain task group")
	}
	metrics.TasksRunning.Set(1)
}

// stopTasks cancels every running task and waits for them to drain before
// returning, per the cooperative-cancellation model in spec.md §5.
func (o *Orchestrator) stopTasks() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	cancel := o.cancelTasks
	o.running = false
	o.mu.Unlock()

	cancel()
	o.wg.Wait()
	metrics.TasksRunning.Set(0)
	o.log.Info("stopped task groups")
}
