// Package metrics holds the process-wide Prometheus collectors the
// ingester, handler runner, election and orchestrator packages publish to.
// internal/opsserver exposes them over /metrics; nothing in this package
// reaches into a database or the spec's events/contracts model, keeping it
// a pure ambient concern rather than a query API over indexed data.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// BlocksIngested counts blocks whose logs have been committed, per chain.
	BlocksIngested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chaindexer_blocks_ingested_total",
		Help: "Blocks whose logs have been fetched and committed, by chain.",
	}, []string{"chain_id"})

	// IngesterErrors counts ingester ticks whose chain-head query to the
	// provider failed (transient or fatal), per chain. Failed log fetches
	// and store errors are not counted.
	IngesterErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chaindexer_ingester_errors_total",
		Help: "Ingester ticks whose chain-head query failed, by chain.",
	}, []string{"chain_id"})

	// ReorgsDetected counts detected chain reorganizations, per chain.
	ReorgsDetected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chaindexer_reorgs_detected_total",
		Help: "Chain reorganizations detected by the ingester, by chain.",
	}, []string{"chain_id"})

	// EventsHandled counts events successfully run through pure handlers.
	EventsHandled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chaindexer_events_handled_total",
		Help: "Events successfully applied by pure handlers, by chain.",
	}, []string{"chain_id"})

	// SideEffectsInvoked counts side-effect handler invocations that
	// returned success, per chain.
	SideEffectsInvoked = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chaindexer_side_effects_invoked_total",
		Help: "Side-effect handler invocations that returned success, by chain.",
	}, []string{"chain_id"})

	// ActiveNodes reports the current size of the active set, as observed
	// by this replica's last election tick.
	ActiveNodes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chaindexer_active_nodes",
		Help: "Size of the active set as last observed by this replica.",
	})

	// TasksRunning is 1 when this replica currently has ingester/handler
	// tasks running, 0 otherwise.
	TasksRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chaindexer_tasks_running",
		Help: "1 if this replica's task groups are currently running.",
	})
)

func init() {
	prometheus.MustRegister(BlocksIngested, IngesterErrors, ReorgsDetected,
		EventsHandled, SideEffectsInvoked, ActiveNodes, TasksRunning)
}
