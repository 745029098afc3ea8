package orchestrator

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/chaindexer/chaindexer/internal/election"
	"github.com/chaindexer/chaindexer/internal/models"
	"github.com/chaindexer/chaindexer/internal/repo/repotest"
)

func countingTasks(running *int32) ChainTasks {
	return ChainTasks{
		RunIngester: func(ctx context.Context) {
			atomic.AddInt32(running, 1)
			<-ctx.Done()
			atomic.AddInt32(running, -1)
		},
		RunHandler: func(ctx context.Context) {
			atomic.AddInt32(running, 1)
			<-ctx.Done()
			atomic.AddInt32(running, -1)
		},
	}
}

func TestOrchestrator_StartsTasksWhenActiveStopsWhenNot(t *testing.T) {
	ctx := context.Background()
	r := repotest.New()
	elector := election.New(election.Config{Repo: r, NodeElectionRate: time.Minute, MaxConcurrentNodeCount: 3}, logrus.NewEntry(logrus.New()))
	require.NoError(t, elector.Start(ctx))
	require.True(t, elector.IsActive())

	var running int32
	o := New(Config{
		Elector:  elector,
		Chains:   map[models.ChainID]ChainTasks{1: countingTasks(&running)},
		TickRate: 10 * time.Millisecond,
	}, logrus.NewEntry(logrus.New()))

	o.tick()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&running) == 2 }, time.Second, time.Millisecond)

	// Simulate losing active-set membership by swapping in an elector that
	// was never started, so its observed active set is empty.
	o.cfg.Elector = election.New(election.Config{Repo: r, NodeElectionRate: time.Minute, MaxConcurrentNodeCount: 0}, logrus.NewEntry(logrus.New()))
	o.tick()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&running) == 0 }, time.Second, time.Millisecond)
}

func TestOrchestrator_OptimizationIdlesAfterGraceWindowWhenPredicateFalse(t *testing.T) {
	ctx := context.Background()
	r := repotest.New()
	elector := election.New(election.Config{Repo: r, NodeElectionRate: time.Minute, MaxConcurrentNodeCount: 3}, logrus.NewEntry(logrus.New()))
	require.NoError(t, elector.Start(ctx))

	var running int32
	o := New(Config{
		Elector:  elector,
		Chains:   map[models.ChainID]ChainTasks{1: countingTasks(&running)},
		TickRate: 10 * time.Millisecond,
		Optimization: &Optimization{
			KeepNodeActiveRequest: func() bool { return false },
			OptimizeAfter:         0,
		},
	}, logrus.NewEntry(logrus.New()))
	o.bootTime = time.Now().Add(-time.Hour) // already past optimize_after

	o.tick()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&running) == 2 }, time.Second, time.Millisecond)

	// First tick after the grace window starts the idle countdown; it takes
	// a second tick at least TickRate later to actually go idle.
	o.tick()
	time.Sleep(2 * o.cfg.TickRate)
	o.tick()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&running) == 0 }, time.Second, time.Millisecond)
}
